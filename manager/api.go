// Package manager is the thin management and metrics API consumed by the
// dashboard. It holds no decision logic.
package manager

import (
	"encoding/json"
	"net/http"
	"time"

	"aegisgate/filter"
	"aegisgate/gateway"
	"aegisgate/logger"
	"aegisgate/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Gateway is the slice of the gateway the API reads and registers through.
type Gateway interface {
	Register(id, url, label string) (gateway.TargetInfo, error)
	Targets() []gateway.TargetInfo
	Target(id string) (*gateway.Target, bool)
	Global() *filter.TrafficState
	AttackState() filter.AttackModeState
	Client(signature string) gateway.ClientInfo
	TrackedClients() int
	VerifyClient(signature string)
	ResetClient(signature string) error
}

type ManagementAPI struct {
	Gateway   Gateway
	Store     store.Storer
	startedAt time.Time
}

type RegisterRequest struct {
	TargetID string `json:"targetId"`
	URL      string `json:"url"`
	Label    string `json:"label"`
}

type ClientRequest struct {
	Signature string `json:"signature"`
}

type BlockRequest struct {
	Key      string `json:"key"`
	Duration string `json:"duration"` // e.g. "10m", "permanent"
}

func NewManagementAPI(gw Gateway, s store.Storer) *ManagementAPI {
	return &ManagementAPI{Gateway: gw, Store: s, startedAt: time.Now()}
}

// Mount registers /health, /api/* and /metrics/* on r.
func (api *ManagementAPI) Mount(r chi.Router) {
	r.Get("/health", api.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
		r.Post("/register-target", api.handleRegister)
		r.Get("/targets", api.handleTargets)
		r.Get("/gateway/state", api.handleGatewayState)
		r.Get("/blocks", api.handleListBlocks)
		r.Post("/blocks", api.handleBlock)
		r.Delete("/blocks", api.handleUnblock)
		r.Get("/clients", api.handleClient)
		r.Delete("/clients", api.handleResetClient)
		r.Post("/clients/verify", api.handleVerifyClient)
	})

	r.Route("/metrics", func(r chi.Router) {
		r.Use(cors.AllowAll().Handler)
		r.Get("/traffic", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, api.Gateway.Global().Traffic())
		})
		r.Get("/mitigation", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, api.Gateway.Global().Mitigation())
		})
		r.Get("/anomaly", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, api.Gateway.Global().Anomaly())
		})
		r.Get("/explainability", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, api.Gateway.Global().Explainability())
		})
		r.Get("/state", api.handleState)
		r.Get("/targets/{targetID}", api.handleTargetMetrics)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (api *ManagementAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(api.startedAt).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	})
}

func (api *ManagementAPI) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 256<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	target, err := api.Gateway.Register(req.TargetID, req.URL, req.Label)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "registered",
		"target": target,
	})
}

func (api *ManagementAPI) handleTargets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"targets": api.Gateway.Targets()})
}

// handleGatewayState reports standby with no targets, active-mitigation when
// the latest fresh decision was not an allow, and learning otherwise.
func (api *ManagementAPI) handleGatewayState(w http.ResponseWriter, r *http.Request) {
	targets := api.Gateway.Targets()
	mode := "standby"
	if len(targets) > 0 {
		mode = "learning"
		if last := api.Gateway.Global().Mitigation().LastDecision; last != nil && last.Action != filter.ActionAllowed {
			mode = "active-mitigation"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           mode,
		"attackMode":     api.Gateway.AttackState(),
		"targets":        targets,
		"trackedClients": api.Gateway.TrackedClients(),
	})
}

func (api *ManagementAPI) handleState(w http.ResponseWriter, r *http.Request) {
	global := api.Gateway.Global()
	writeJSON(w, http.StatusOK, map[string]any{
		"traffic":    global.Traffic(),
		"mitigation": global.Mitigation(),
		"attackMode": api.Gateway.AttackState(),
	})
}

func (api *ManagementAPI) handleTargetMetrics(w http.ResponseWriter, r *http.Request) {
	t, ok := api.Gateway.Target(chi.URLParam(r, "targetID"))
	if !ok {
		writeError(w, http.StatusNotFound, "Target not registered.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"target":         t.Info(),
		"traffic":        t.State.Traffic(),
		"mitigation":     t.State.Mitigation(),
		"anomaly":        t.State.Anomaly(),
		"explainability": t.State.Explainability(),
		"baseline":       t.Detector.Baseline(),
	})
}

func (api *ManagementAPI) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	blocks, err := api.Store.ListBlocks()
	if err != nil {
		logger.Error("Failed to list blocks", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to list blocks.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"blocks":    blocks,
		"timestamp": time.Now().UTC(),
	})
}

func (api *ManagementAPI) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		writeError(w, http.StatusBadRequest, "key required")
		return
	}

	dur := 24 * time.Hour
	blockType := "manual"
	if req.Duration == "permanent" {
		dur = 0
		blockType = "hard"
	} else if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid duration")
			return
		}
		dur = d
	}

	api.Store.Block(req.Key, dur, blockType)
	logger.Info("Manual block", "key", req.Key, "duration", req.Duration)
	w.WriteHeader(http.StatusCreated)
}

func (api *ManagementAPI) handleUnblock(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "key required")
		return
	}
	if err := api.Store.Unblock(key); err != nil {
		logger.Error("Failed to clear block", "key", key, "err", err)
		writeError(w, http.StatusInternalServerError, "Clear failed.")
		return
	}
	logger.Info("Manual block clearance", "key", key)
	w.WriteHeader(http.StatusNoContent)
}

// Client signatures are "ip|user-agent" and travel as a query parameter.
func (api *ManagementAPI) handleClient(w http.ResponseWriter, r *http.Request) {
	sig := r.URL.Query().Get("signature")
	if sig == "" {
		writeError(w, http.StatusBadRequest, "signature required")
		return
	}
	writeJSON(w, http.StatusOK, api.Gateway.Client(sig))
}

func (api *ManagementAPI) handleResetClient(w http.ResponseWriter, r *http.Request) {
	sig := r.URL.Query().Get("signature")
	if sig == "" {
		writeError(w, http.StatusBadRequest, "signature required")
		return
	}
	if err := api.Gateway.ResetClient(sig); err != nil {
		logger.Error("Failed to reset client", "signature", sig, "err", err)
		writeError(w, http.StatusInternalServerError, "Reset failed.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *ManagementAPI) handleVerifyClient(w http.ResponseWriter, r *http.Request) {
	var req ClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Signature == "" {
		writeError(w, http.StatusBadRequest, "signature required")
		return
	}
	api.Gateway.VerifyClient(req.Signature)
	writeJSON(w, http.StatusOK, api.Gateway.Client(req.Signature))
}
