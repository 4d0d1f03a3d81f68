// Package api wires the relay's HTTP surface.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	relaymw "github.com/samhotchkiss/otter-relay/internal/middleware"
	"github.com/samhotchkiss/otter-relay/internal/processor"
	"github.com/samhotchkiss/otter-relay/internal/relaymetrics"
	"github.com/samhotchkiss/otter-relay/internal/session"
	"github.com/samhotchkiss/otter-relay/internal/webhook"
	"github.com/samhotchkiss/otter-relay/internal/ws"
)

// Deps are the collaborators the router needs. Verifier nil disables
// signature checks; Allowlist nil admits every sender.
type Deps struct {
	Processor        *processor.Processor
	Verifier         *webhook.Verifier
	Allowlist        *relaymw.Allowlist
	Hub              *ws.Hub
	OpsFeedToken     string
	WSAllowedOrigins []string
	StoreBackend     string
	// StorePing reports store health on /health. Optional.
	StorePing func(context.Context) error
	// History serves GET /ops/history/{sender}. Optional.
	History HistoryReader
	Version string
	Logger  *slog.Logger
	Now     func() time.Time
}

// HistoryReader returns a sender's newest turns, oldest first.
type HistoryReader interface {
	History(ctx context.Context, senderID string, limit int) []session.Turn
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
	Store     string `json:"store"`
	StoreOK   bool   `json:"store_ok"`
}

func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(relaymw.RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)

	h := &handlers{deps: deps, startedAt: deps.Now()}

	r.Route("/webhook", func(r chi.Router) {
		r.Use(relaymw.RequireTwilioSignature(deps.Verifier, deps.Logger))
		r.With(deps.Allowlist.Handler).Post("/whatsapp", h.handleWhatsApp)
		r.Post("/status", h.handleStatusCallback)
	})

	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   corsOrigins(deps.WSAllowedOrigins),
			AllowedMethods:   []string{"GET", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
		r.Get("/health", h.handleHealth)
		r.Get("/metrics", h.handleMetrics)
		r.Get("/ops/history/{sender}", h.handleHistory)
		if deps.Hub != nil {
			r.Handle("/ws", &ws.Handler{
				Hub:            deps.Hub,
				Token:          deps.OpsFeedToken,
				AllowedOrigins: deps.WSAllowedOrigins,
				Logger:         deps.Logger,
			})
		}
	})

	return r
}

func corsOrigins(allowed []string) []string {
	if len(allowed) == 0 {
		return []string{"*"}
	}
	return allowed
}

type handlers struct {
	deps      Deps
	startedAt time.Time
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Uptime:    h.deps.Now().Sub(h.startedAt).Round(time.Second).String(),
		Version:   h.deps.Version,
		Timestamp: h.deps.Now().UTC().Format(time.RFC3339),
		Store:     h.deps.StoreBackend,
		StoreOK:   true,
	}
	if h.deps.StorePing != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.deps.StorePing(ctx); err != nil {
			h.deps.Logger.Warn("store health check failed", "err", err)
			resp.Status = "degraded"
			resp.StoreOK = false
		}
	}
	sendJSON(w, http.StatusOK, resp)
}

// MetricsResponse is the body of GET /metrics.
type MetricsResponse struct {
	relaymetrics.Snapshot
	OpsEventsDropped int64 `json:"ops_events_dropped"`
}

// handleMetrics serves counters to holders of the ops feed token.
func (h *handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !h.opsAuthorized(r) {
		sendJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	resp := MetricsResponse{Snapshot: relaymetrics.SnapshotNow()}
	if h.deps.Hub != nil {
		resp.OpsEventsDropped = h.deps.Hub.Dropped()
	}
	sendJSON(w, http.StatusOK, resp)
}

// opsAuthorized checks the ops feed token presented as a bearer token. An
// unset token rejects everything.
func (h *handlers) opsAuthorized(r *http.Request) bool {
	expected := strings.TrimSpace(h.deps.OpsFeedToken)
	presented := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	return expected != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

func sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
