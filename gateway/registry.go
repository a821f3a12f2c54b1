package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"aegisgate/filter"
	"aegisgate/proxy"
)

var (
	ErrInvalidTargetID  = errors.New("targetId must be alphanumeric and may include - or _")
	ErrReservedTargetID = errors.New("targetId is reserved")
	ErrInvalidURL       = errors.New("invalid URL")
	ErrInsecureURL      = errors.New("target URL must use HTTPS")
	ErrMissingHost      = errors.New("target URL must include a hostname")
	ErrCredentialsInURL = errors.New("target URL must not include credentials")
)

var targetIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// reservedIDs collide with fixed routes under /gateway.
var reservedIDs = map[string]bool{
	"decoy":  true,
	"secure": true,
}

// Target is a registered upstream. It is replaced, never mutated, on upsert;
// State and Detector carry over.
type Target struct {
	ID        string
	Label     string
	URL       string
	CreatedAt time.Time

	State    *filter.TrafficState
	Detector *filter.AnomalyDetector
	proxy    *proxy.ReverseProxy
}

type TargetInfo struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

func (t *Target) Info() TargetInfo {
	return TargetInfo{ID: t.ID, Label: t.Label, URL: t.URL, CreatedAt: t.CreatedAt}
}

func NormalizeTargetID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if !targetIDPattern.MatchString(id) {
		return "", ErrInvalidTargetID
	}
	if reservedIDs[id] {
		return "", ErrReservedTargetID
	}
	return id, nil
}

// ValidateURL accepts absolute HTTPS URLs without credentials and returns
// them with any trailing slash removed.
func ValidateURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Opaque != "" {
		return "", ErrInvalidURL
	}
	if u.Scheme != "https" {
		return "", ErrInsecureURL
	}
	if u.Hostname() == "" {
		return "", ErrMissingHost
	}
	if u.User != nil {
		return "", ErrCredentialsInURL
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}

type Registry struct {
	mu            sync.RWMutex
	targets       map[string]*Target
	windowSeconds int
	proxyOpts     proxy.Options
}

// NewRegistry builds targets with windowSeconds of traffic state and proxies
// configured from opts.
func NewRegistry(windowSeconds int, opts proxy.Options) *Registry {
	return &Registry{
		targets:       make(map[string]*Target),
		windowSeconds: windowSeconds,
		proxyOpts:     opts,
	}
}

// Register creates or updates a target. Validation failures leave the
// registry untouched.
func (r *Registry) Register(id, rawURL, label string) (*Target, error) {
	id, err := NormalizeTargetID(id)
	if err != nil {
		return nil, err
	}
	target, err := ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}
	label = strings.TrimSpace(label)
	if label == "" {
		label = id
	}

	opts := r.proxyOpts
	opts.Name = id
	p, err := proxy.New(target, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t := &Target{
		ID:        id,
		Label:     label,
		URL:       target,
		CreatedAt: time.Now(),
		proxy:     p,
	}
	if prev, ok := r.targets[id]; ok {
		t.CreatedAt = prev.CreatedAt
		t.State = prev.State
		t.Detector = prev.Detector
	} else {
		t.State = filter.NewTrafficState(r.windowSeconds)
		t.Detector = filter.NewAnomalyDetector()
	}
	r.targets[id] = t
	return t, nil
}

func (r *Registry) Get(id string) (*Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[id]
	return t, ok
}

func (r *Registry) List() []TargetInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TargetInfo, 0, len(r.targets))
	for _, t := range r.targets {
		out = append(out, t.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
