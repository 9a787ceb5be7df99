package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/donationledger/internal/auth"
	"github.com/gyaneshwarpardhi/donationledger/internal/config"
	"github.com/gyaneshwarpardhi/donationledger/internal/engine"
	"github.com/gyaneshwarpardhi/donationledger/internal/health"
	"github.com/gyaneshwarpardhi/donationledger/internal/invalidate"
	"github.com/gyaneshwarpardhi/donationledger/internal/ledger"
	"github.com/gyaneshwarpardhi/donationledger/internal/metrics"
)

const defaultMaxBody = 65536

// Deps are the handler's collaborators. Loader, Pages and Sessions may be nil.
type Deps struct {
	Engine        *engine.Engine
	Store         ledger.Reader
	Probe         *health.Probe
	Sessions      auth.SessionLookup
	Pages         *invalidate.PageCache
	Loader        *config.Loader
	WebhookSecret string
	MaxBodyBytes  int64
	Logger        *slog.Logger
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	Deps
	mux    *http.ServeMux
	logger *slog.Logger
}

// New creates an HTTP handler and registers all routes.
func New(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = defaultMaxBody
	}
	h := &Handler{Deps: d, mux: http.NewServeMux(), logger: d.Logger.With("component", "api")}

	h.mux.HandleFunc("POST /webhooks/stripe", h.stripeWebhook)

	h.mux.HandleFunc("GET /leaderboard", h.cached(h.publicLeaderboard))
	h.mux.HandleFunc("GET /members/{ref}", h.publicMember)

	h.mux.HandleFunc("GET /admin/reports/leaderboard", h.require(auth.RoleViewer, h.adminLeaderboard))
	h.mux.HandleFunc("GET /admin/reports/monthly", h.require(auth.RoleViewer, h.adminMonthly))
	h.mux.HandleFunc("GET /admin/members/{ref}/balance", h.require(auth.RoleSupportWorker, h.adminBalance))
	h.mux.HandleFunc("GET /admin/members/{ref}/savings", h.require(auth.RoleSupportWorker, h.adminSavings))
	h.mux.HandleFunc("GET /admin/webhook-events", h.require(auth.RoleSuperAdmin, h.adminEnvelopes))
	h.mux.HandleFunc("POST /admin/config/reload", h.require(auth.RoleSuperAdmin, h.reloadConfig))

	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.logger, h.mux)
}

// POST /admin/config/reload — re-read the config file; the loader's
// callbacks swap the engine's rules.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	if h.Loader == nil {
		writeError(w, http.StatusNotFound, "no config file loaded")
		return
	}
	cfg, err := h.Loader.Reload()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := config.Validate(cfg); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	rules, err := engine.BuildRules(cfg)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.Engine.SwapRules(rules)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded":        true,
		"savings_percent": cfg.Allocation.SavingsPercent,
		"fee_percent":     cfg.Allocation.FeePercent,
		"companies":       rules.Companies.Len(),
	})
}

// GET /healthz — ok/degraded answer 200, down answers 503.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.Probe == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(health.StatusOK)})
		return
	}
	rep := h.Probe.Check(r.Context())
	status := http.StatusOK
	if rep.Status == health.StatusDown {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// GET /readyz — 503 if the invalidation queue is >80% full or the store is unreachable.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.Engine.QueueUtilization()
	metrics.InvalidationQueueUtilization.Set(util)
	if err := h.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "store_unavailable",
			"error":  err.Error(),
		})
		return
	}
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
	})
}
