// Package api is the thin HTTP wrapper around the compliance engine. The
// engine itself does not care about transport; this package is the glue the
// surrounding application mounts it with.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stigflux/backend/compliance-api/internal/aggregate"
	"stigflux/backend/compliance-api/internal/catalog"
	"stigflux/backend/compliance-api/internal/model"
	"stigflux/backend/compliance-api/internal/normalize"
	"stigflux/backend/compliance-api/internal/resolve"
	"stigflux/backend/compliance-api/internal/rollup"
	"stigflux/backend/compliance-api/internal/store"
)

// ConnChecker reports broker connectivity for the readiness probe.
type ConnChecker interface {
	IsConnected() bool
}

// ImportPublisher publishes import reports after a successful run.
type ImportPublisher interface {
	PublishImportReport(report *catalog.ImportReport)
}

// Handler routes HTTP requests to the engine components.
type Handler struct {
	router     *mux.Router
	store      store.Store
	importer   *catalog.Importer
	resolver   *resolve.Resolver
	aggregator *aggregate.Engine
	overrides  *aggregate.OverrideManager
	rollups    *rollup.Engine
	publisher  ImportPublisher
	nats       ConnChecker
	logger     *slog.Logger
}

// NewHandler wires the engine components into a router. publisher and nats
// may be nil when the service runs without a broker.
func NewHandler(st store.Store, importer *catalog.Importer, resolver *resolve.Resolver,
	aggregator *aggregate.Engine, overrides *aggregate.OverrideManager, rollups *rollup.Engine,
	publisher ImportPublisher, natsConn ConnChecker, logger *slog.Logger) *Handler {

	h := &Handler{
		store:      st,
		importer:   importer,
		resolver:   resolver,
		aggregator: aggregator,
		overrides:  overrides,
		rollups:    rollups,
		publisher:  publisher,
		nats:       natsConn,
		logger:     logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.handleHealthz).Methods("GET")
	r.HandleFunc("/readyz", h.handleReadyz).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/catalog/import", h.handleCatalogImport).Methods("POST")
	r.HandleFunc("/controls/{id}", h.handleGetControl).Methods("GET")
	r.HandleFunc("/findings/resolve", h.handleResolveFinding).Methods("POST")

	r.HandleFunc("/packages/{id}/controls/{controlID}/compliance", h.handleCompliance).Methods("GET")
	r.HandleFunc("/packages/{id}/controls/{controlID}/override", h.handleSetOverride).Methods("PUT")
	r.HandleFunc("/packages/{id}/controls/{controlID}/override", h.handleClearOverride).Methods("DELETE")
	r.HandleFunc("/packages/{id}/overrides", h.handleListOverrides).Methods("GET")

	r.HandleFunc("/rollup/systems/{id}", h.handleRollupSystem).Methods("GET")
	r.HandleFunc("/rollup/groups/{id}", h.handleRollupGroup).Methods("GET")
	r.HandleFunc("/rollup/packages/{id}", h.handleRollupPackage).Methods("GET")

	h.router = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine errors onto status codes: not-found
// sentinels are 404, everything else 500.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrControlNotFound) || errors.Is(err, store.ErrPackageNotFound) {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.logger.Error("Request failed", "error", err)
	h.writeError(w, http.StatusInternalServerError, err.Error())
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"service": "compliance-api",
		"status":  "healthy",
	})
}

func (h *Handler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Health(); err != nil {
		h.logger.Error("Readiness check failed, store not accessible", "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"service": "compliance-api",
			"status":  "not ready",
			"error":   "store not accessible",
		})
		return
	}
	if h.nats != nil && !h.nats.IsConnected() {
		h.logger.Error("Readiness check failed, NATS not connected")
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"service": "compliance-api",
			"status":  "not ready",
			"error":   "NATS not connected",
		})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"service": "compliance-api",
		"status":  "ready",
	})
}

func (h *Handler) handleCatalogImport(w http.ResponseWriter, r *http.Request) {
	var (
		src catalog.Source
		err error
	)
	if path := r.URL.Query().Get("path"); path != "" {
		// Server-side file import for catalogs too large to post inline.
		src, err = catalog.LoadSource(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				h.writeError(w, http.StatusNotFound, err.Error())
				return
			}
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		src, err = catalog.DecodeSource(r.Body)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	report, err := h.importer.Import(r.Context(), src)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	// The catalog generation changed; cached CCI links are stale.
	h.resolver.PurgeCache()

	if h.publisher != nil {
		h.publisher.PublishImportReport(report)
	}
	h.writeJSON(w, http.StatusOK, report)
}

// controlDetail is the GET /controls/{id} response shape.
type controlDetail struct {
	model.Control
	CCIs      []model.ControlCCI      `json:"ccis"`
	Relations []model.ControlRelation `json:"relations"`
}

func (h *Handler) handleGetControl(w http.ResponseWriter, r *http.Request) {
	id := normalize.ControlID(strings.TrimSpace(mux.Vars(r)["id"]))

	ctrl, err := h.store.GetControl(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if ctrl == nil {
		h.writeError(w, http.StatusNotFound, "control not found: "+id)
		return
	}

	ccis, err := h.store.CCIsForControl(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	rels, err := h.store.RelationsForControl(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, controlDetail{Control: *ctrl, CCIs: ccis, Relations: rels})
}

func (h *Handler) handleResolveFinding(w http.ResponseWriter, r *http.Request) {
	var f model.Finding
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid finding payload: "+err.Error())
		return
	}

	controls, err := h.resolver.ResolveFinding(r.Context(), f)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"controls": controls,
		"unmapped": len(controls) == 0,
	})
}

func (h *Handler) handleCompliance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	res, err := h.aggregator.ComputeControlCompliance(r.Context(), vars["id"], vars["controlID"])
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// overrideRequest is the PUT override body.
type overrideRequest struct {
	Determination model.Determination `json:"determination"`
	SetBy         string              `json:"set_by"`
}

func (h *Handler) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid override payload: "+err.Error())
		return
	}
	if !model.ValidDetermination(req.Determination) {
		h.writeError(w, http.StatusBadRequest, "invalid determination: "+string(req.Determination))
		return
	}

	ov, err := h.overrides.SetOverride(r.Context(), vars["id"], vars["controlID"], req.Determination, req.SetBy)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ov)
}

func (h *Handler) handleClearOverride(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.overrides.ClearOverride(r.Context(), vars["id"], vars["controlID"]); err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := h.overrides.ListOverrides(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"overrides": overrides})
}

func (h *Handler) handleRollupSystem(w http.ResponseWriter, r *http.Request) {
	res, err := h.rollups.RollupSystem(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleRollupGroup(w http.ResponseWriter, r *http.Request) {
	res, err := h.rollups.RollupGroup(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleRollupPackage(w http.ResponseWriter, r *http.Request) {
	res, err := h.rollups.RollupPackage(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}
