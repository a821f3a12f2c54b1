// Package proxy is the data plane: a single pass-through to one upstream with
// a hard deadline and captured response metrics.
package proxy

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"aegisgate/filter"
	"aegisgate/logger"
)

const DefaultTimeout = 15 * time.Second

type Options struct {
	// Name labels upstream metrics, usually the target ID.
	Name               string
	Timeout            time.Duration
	Transport          http.RoundTripper
	InsecureSkipVerify bool
}

// Outcome is the terminal result of one forwarded request.
type Outcome struct {
	Status   int
	BytesOut int64
	Latency  time.Duration
	Err      error
}

type ReverseProxy struct {
	target  *url.URL
	name    string
	timeout time.Duration
	proxy   *httputil.ReverseProxy
}

type suffixKey struct{}

func NewTransport(insecureSkipVerify bool) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: insecureSkipVerify},
	}
}

func New(target string, opts Options) (*ReverseProxy, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("proxy target must be an absolute URL")
	}

	p := &ReverseProxy{
		target:  u,
		name:    opts.Name,
		timeout: opts.Timeout,
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	if p.name == "" {
		p.name = u.Host
	}

	transport := opts.Transport
	if transport == nil {
		transport = NewTransport(opts.InsecureSkipVerify)
	}

	p.proxy = &httputil.ReverseProxy{
		Rewrite:      p.rewrite,
		Transport:    transport,
		ErrorHandler: p.handleError,
	}
	return p, nil
}

func (p *ReverseProxy) rewrite(pr *httputil.ProxyRequest) {
	suffix, _ := pr.In.Context().Value(suffixKey{}).(string)
	if suffix == "" {
		suffix = "/"
	}
	pr.Out.URL.Path = suffix
	pr.Out.URL.RawPath = ""
	pr.SetURL(p.target)

	pr.Out.Header["X-Forwarded-For"] = pr.In.Header["X-Forwarded-For"]
	pr.SetXForwarded()
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (p *ReverseProxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	logger.Error("Proxy error", "err", err, "target", p.name, "path", r.URL.Path)
	if rec, ok := w.(*responseRecorder); ok {
		rec.err = err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	json.NewEncoder(w).Encode(errorBody{Error: "Bad Gateway", Message: "Upstream service unavailable."})
}

// Forward sends r to the upstream at path suffix and blocks until the upstream
// answers, fails, or the timeout elapses. Nothing is retried.
func (p *ReverseProxy) Forward(w http.ResponseWriter, r *http.Request, suffix string) Outcome {
	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, suffixKey{}, suffix)

	rec := &responseRecorder{ResponseWriter: w}
	start := time.Now()

	filter.ActiveForwards.Inc()
	p.proxy.ServeHTTP(rec, r.WithContext(ctx))
	filter.ActiveForwards.Dec()

	latency := time.Since(start)
	filter.UpstreamLatency.WithLabelValues(p.name).Observe(latency.Seconds())

	status := rec.status
	if status == 0 {
		status = http.StatusOK
	}
	return Outcome{
		Status:   status,
		BytesOut: rec.bytes,
		Latency:  latency,
		Err:      rec.err,
	}
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
	err    error
}

func (r *responseRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach Flush and Hijack for streaming
// and websocket upgrades.
func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
