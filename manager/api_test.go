package manager

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"aegisgate/gateway"
	"aegisgate/proxy"
	"aegisgate/store"

	"github.com/go-chi/chi/v5"
)

func newTestAPI(t *testing.T) (http.Handler, *store.LocalStore) {
	t.Helper()
	blocks := store.NewLocalStore()
	gw := gateway.New(gateway.Config{}, gateway.NewRegistry(60, proxy.Options{}), blocks, nil, nil)
	r := chi.NewRouter()
	NewManagementAPI(gw, blocks).Mount(r)
	return r, blocks
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRegisterTarget(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := do(h, http.MethodPost, "/api/register-target", `{"targetId":"shop","url":"https://example.com","label":"Shop"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Status string             `json:"status"`
		Target gateway.TargetInfo `json:"target"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "registered" || resp.Target.ID != "shop" || resp.Target.Label != "Shop" {
		t.Errorf("unexpected response %+v", resp)
	}

	rec = do(h, http.MethodGet, "/api/targets", "")
	if !strings.Contains(rec.Body.String(), `"shop"`) {
		t.Errorf("targets listing missing shop: %s", rec.Body.String())
	}
}

func TestRegisterTargetRejectsInvalid(t *testing.T) {
	h, _ := newTestAPI(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"plain http", `{"targetId":"shop","url":"http://example.com"}`, "HTTPS"},
		{"bad id", `{"targetId":"sh op","url":"https://example.com"}`, "alphanumeric"},
		{"reserved id", `{"targetId":"decoy","url":"https://example.com"}`, "reserved"},
		{"garbage body", `{`, "Invalid request body."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, http.MethodPost, "/api/register-target", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			var resp map[string]string
			json.NewDecoder(rec.Body).Decode(&resp)
			if !strings.Contains(resp["error"], tt.want) {
				t.Errorf("error = %q, want it to mention %q", resp["error"], tt.want)
			}
		})
	}
}

func TestTargetMetrics(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := do(h, http.MethodGet, "/metrics/targets/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Target not registered.") {
		t.Errorf("body = %s", rec.Body.String())
	}

	do(h, http.MethodPost, "/api/register-target", `{"targetId":"shop","url":"https://example.com"}`)
	rec = do(h, http.MethodGet, "/metrics/targets/shop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]json.RawMessage
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"traffic", "mitigation", "anomaly", "explainability"} {
		if _, ok := resp[key]; !ok {
			t.Errorf("missing %q in target metrics", key)
		}
	}
}

func TestGlobalMetrics(t *testing.T) {
	h, _ := newTestAPI(t)

	for _, path := range []string{"/metrics/traffic", "/metrics/mitigation", "/metrics/anomaly", "/metrics/explainability"} {
		rec := do(h, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d", path, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s: content type = %q", path, ct)
		}
	}

	rec := do(h, http.MethodGet, "/metrics/state", "")
	var state map[string]json.RawMessage
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"traffic", "mitigation", "attackMode"} {
		if _, ok := state[key]; !ok {
			t.Errorf("missing %q in state", key)
		}
	}
}

func TestGatewayState(t *testing.T) {
	h, _ := newTestAPI(t)

	mode := func() string {
		var resp struct {
			Mode string `json:"mode"`
		}
		json.NewDecoder(do(h, http.MethodGet, "/api/gateway/state", "").Body).Decode(&resp)
		return resp.Mode
	}
	if got := mode(); got != "standby" {
		t.Errorf("mode with no targets = %q, want standby", got)
	}
	do(h, http.MethodPost, "/api/register-target", `{"targetId":"shop","url":"https://example.com"}`)
	if got := mode(); got != "learning" {
		t.Errorf("mode with idle target = %q, want learning", got)
	}
}

func TestManualBlocks(t *testing.T) {
	h, blocks := newTestAPI(t)

	rec := do(h, http.MethodPost, "/api/blocks", `{"key":"abc","duration":"10m"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	if !blocks.IsBlocked("abc") {
		t.Fatal("key not blocked")
	}

	rec = do(h, http.MethodPost, "/api/blocks", `{"key":"perm","duration":"permanent"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = do(h, http.MethodGet, "/api/blocks", "")
	var list struct {
		Blocks map[string]string `json:"blocks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Blocks) != 2 {
		t.Errorf("listed %d blocks, want 2", len(list.Blocks))
	}

	if rec := do(h, http.MethodPost, "/api/blocks", `{"key":"x","duration":"soon"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad duration status = %d", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/api/blocks", `{"duration":"1m"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing key status = %d", rec.Code)
	}

	rec = do(h, http.MethodDelete, "/api/blocks?key=abc", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if blocks.IsBlocked("abc") {
		t.Error("key still blocked after delete")
	}
	if rec := do(h, http.MethodDelete, "/api/blocks", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("delete without key status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestAPI(t)
	rec := do(h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("health = %d %s", rec.Code, rec.Body.String())
	}
}

func TestClientEndpoints(t *testing.T) {
	h, blocks := newTestAPI(t)
	sig := "192.0.2.9|curl/8.0"
	path := "/api/clients?signature=" + url.QueryEscape(sig)

	client := func() gateway.ClientInfo {
		t.Helper()
		rec := do(h, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("client status = %d", rec.Code)
		}
		var info gateway.ClientInfo
		if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
			t.Fatal(err)
		}
		return info
	}

	info := client()
	if info.Signature != sig || info.Tracked || info.Verified || info.Blocked || info.Trust != 0.7 {
		t.Errorf("unknown client = %+v", info)
	}

	blocks.Block(sig, time.Minute, "manual")
	if info := client(); !info.Blocked || info.BlockTTLSeconds != 60 {
		t.Errorf("blocked client = %+v", info)
	}

	rec := do(h, http.MethodPost, "/api/clients/verify", `{"signature":"192.0.2.9|curl/8.0"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d", rec.Code)
	}
	if info := client(); !info.Verified {
		t.Error("client should be verified")
	}

	if rec := do(h, http.MethodDelete, path, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("reset status = %d", rec.Code)
	}
	if info := client(); info.Blocked || info.Failures != 0 {
		t.Errorf("reset client = %+v", info)
	}

	for _, req := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/clients", ""},
		{http.MethodDelete, "/api/clients", ""},
		{http.MethodPost, "/api/clients/verify", `{}`},
	} {
		if rec := do(h, req.method, req.path, req.body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s %s without signature = %d, want 400", req.method, req.path, rec.Code)
		}
	}
}
