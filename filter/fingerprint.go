package filter

import (
	"crypto/md5"
	"encoding/hex"
	"net"
	"net/http"
	"strconv"
	"strings"
)

const maxHeaderValue = 64

// fingerprintHeaders are the headers that make up a client's header "DNA".
var fingerprintHeaders = []string{
	"User-Agent",
	"Accept-Language",
	"Accept-Encoding",
}

func normalizeHeaderValue(values []string) string {
	if len(values) == 0 || (len(values) == 1 && values[0] == "") {
		return "unknown"
	}
	v := strings.Join(values, ",")
	if len(v) > maxHeaderValue {
		v = v[:maxHeaderValue]
	}
	return v
}

// HeaderFingerprint hashes the normalised fingerprint headers.
func HeaderFingerprint(h http.Header) string {
	var data strings.Builder
	for i, name := range fingerprintHeaders {
		if i > 0 {
			data.WriteByte('|')
		}
		data.WriteString(normalizeHeaderValue(h.Values(name)))
	}
	hash := md5.Sum([]byte(data.String()))
	return hex.EncodeToString(hash[:])
}

// ExtractMetadata derives the per-request record fed into the traffic window.
func ExtractMetadata(r *http.Request) RequestMeta {
	var bytes int64
	if cl := r.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > 0 {
			bytes = n
		}
	} else if r.ContentLength > 0 {
		bytes = r.ContentLength
	}

	protocol := ProtocolHTTP1
	switch {
	case strings.EqualFold(r.Header.Get("Upgrade"), "websocket"):
		protocol = ProtocolWebSocket
	case r.ProtoMajor == 2:
		protocol = ProtocolHTTP2
	}

	path := r.URL.Path
	if path == "" {
		path = "/"
	}

	return RequestMeta{
		Path:              path,
		Method:            r.Method,
		Bytes:             bytes,
		HeaderFingerprint: HeaderFingerprint(r.Header),
		Protocol:          protocol,
	}
}

// ClientIP is the first X-Forwarded-For hop, falling back to the socket peer.
func ClientIP(r *http.Request) string {
	raw := r.Header.Get("X-Forwarded-For")
	if raw == "" {
		raw = r.RemoteAddr
		if host, _, err := net.SplitHostPort(raw); err == nil {
			raw = host
		}
	}
	ip := strings.TrimSpace(strings.Split(raw, ",")[0])
	if ip == "" {
		return "unknown"
	}
	return strings.ToLower(ip)
}

// Signature is the derived client identity: "ip|user-agent".
func Signature(r *http.Request) string {
	ua := r.Header.Get("User-Agent")
	if ua == "" {
		ua = "unknown"
	}
	return ClientIP(r) + "|" + ua
}
