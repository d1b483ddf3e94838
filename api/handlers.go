package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/virtops/inventoryd/adapters"
	"github.com/virtops/inventoryd/config"
	"github.com/virtops/inventoryd/models"
	"github.com/virtops/inventoryd/orchestrator"
)

// Orchestrator is the engine surface the handlers need. Satisfied by
// *orchestrator.Manager; narrowed to an interface so handler tests can
// script it.
type Orchestrator interface {
	TriggerRefresh(provider models.Provider, scope models.Scope, hosts []string, level models.Level, force bool) (*models.Job, error)
	GetJob(provider models.Provider, scope models.Scope, jobID string) (*models.Job, error)
	GetSnapshot(provider models.Provider, scope models.Scope, hosts []string, level models.Level) (*models.SnapshotPayload, error)
}

// Handlers groups the inventory API handlers.
type Handlers struct {
	orch     Orchestrator
	cfg      *config.Config
	registry *adapters.Registry
}

// NewHandlers wires the handler set.
func NewHandlers(orch Orchestrator, cfg *config.Config, registry *adapters.Registry) *Handlers {
	return &Handlers{orch: orch, cfg: cfg, registry: registry}
}

// refreshRequest is the optional POST body of the refresh endpoint. Query
// parameters of the same name win when both are present.
type refreshRequest struct {
	Hosts []string `json:"hosts,omitempty"`
	Level string   `json:"level,omitempty"`
}

// powerRequest is the body of the Hyper-V power passthrough.
type powerRequest struct {
	Host   string `json:"host"`
	VMName string `json:"vm_name"`
	Action string `json:"action"`
}

// GetSnapshot serves the latest inventory snapshot.
// @Summary Get inventory snapshot
// @Description Latest snapshot for a provider/scope, optionally narrowed to a host list
// @Tags inventory
// @Produce json
// @Param provider path string true "Provider"
// @Param scope path string true "Scope (vms or hosts)"
// @Param hosts query string false "Comma-separated host list"
// @Param level query string false "summary or detail"
// @Success 200 {object} models.SnapshotPayload
// @Success 204 "No snapshot exists yet"
// @Router /api/v1/{provider}/{scope} [get]
func (h *Handlers) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	provider, scope, ok := h.pathParams(w, r)
	if !ok {
		return
	}
	hosts, level, ok := h.queryParams(w, r)
	if !ok {
		return
	}

	snap, err := h.orch.GetSnapshot(provider, scope, hosts, level)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if snap == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// TriggerRefresh requests a new collection job.
// @Summary Trigger inventory refresh
// @Description Returns the active, synthesized-cooldown, or newly created job
// @Tags inventory
// @Accept json
// @Produce json
// @Param provider path string true "Provider"
// @Param scope path string true "Scope (vms or hosts)"
// @Param force query bool false "Bypass the snapshot freshness check"
// @Success 202 {object} models.Job
// @Failure 409 "Provider disabled or not configured"
// @Router /api/v1/{provider}/{scope}/refresh [post]
func (h *Handlers) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	provider, scope, ok := h.pathParams(w, r)
	if !ok {
		return
	}

	var body refreshRequest
	if r.Body != nil {
		// A missing or empty body is fine; only malformed JSON is rejected.
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	hosts := body.Hosts
	if q := r.URL.Query().Get("hosts"); q != "" {
		hosts = strings.Split(q, ",")
	}
	levelRaw := body.Level
	if q := r.URL.Query().Get("level"); q != "" {
		levelRaw = q
	}
	level, err := models.ParseLevel(levelRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	force := r.URL.Query().Get("force") == "true"

	job, err := h.orch.TriggerRefresh(provider, scope, hosts, level, force)
	if err == orchestrator.ErrProviderNotReady {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// GetJob serves one job's status.
// @Summary Get job status
// @Tags inventory
// @Produce json
// @Param provider path string true "Provider"
// @Param scope path string true "Scope (vms or hosts)"
// @Param job_id path string true "Job ID"
// @Success 200 {object} models.Job
// @Failure 404 "Unknown job"
// @Router /api/v1/{provider}/{scope}/jobs/{job_id} [get]
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	provider, scope, ok := h.pathParams(w, r)
	if !ok {
		return
	}
	jobID := mux.Vars(r)["job_id"]

	job, err := h.orch.GetJob(provider, scope, jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListProviders reports each provider's readiness.
// @Summary List provider status
// @Tags inventory
// @Produce json
// @Success 200 {object} object
// @Router /api/v1/providers [get]
func (h *Handlers) ListProviders(w http.ResponseWriter, r *http.Request) {
	type providerStatus struct {
		Provider   string `json:"provider"`
		Enabled    bool   `json:"enabled"`
		Configured bool   `json:"configured"`
		Hosts      int    `json:"hosts"`
	}

	out := make([]providerStatus, 0, len(models.AllProviders))
	for _, p := range models.AllProviders {
		pc := h.cfg.Provider(string(p))
		out = append(out, providerStatus{
			Provider:   string(p),
			Enabled:    pc.IsEnabled(),
			Configured: pc.IsConfigured(),
			Hosts:      len(pc.Hosts),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"providers": out})
}

// PowerAction forwards a VM power command to the Hyper-V adapter.
// @Summary Hyper-V VM power action
// @Tags power
// @Accept json
// @Produce json
// @Success 200 {object} object
// @Failure 501 "Provider has no power capability"
// @Router /api/v1/hyperv/power [post]
func (h *Handlers) PowerAction(w http.ResponseWriter, r *http.Request) {
	var body powerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Host == "" || body.VMName == "" || body.Action == "" {
		writeError(w, http.StatusBadRequest, "host, vm_name, and action are required")
		return
	}

	adapter, err := h.registry.Get(models.ProviderHyperV)
	if err != nil {
		writeError(w, http.StatusNotImplemented, "hyperv adapter not available")
		return
	}
	pm, ok := adapter.(adapters.PowerManager)
	if !ok {
		writeError(w, http.StatusNotImplemented, "provider has no power capability")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()
	if err := pm.PowerAction(ctx, body.Host, body.VMName, body.Action); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"host":    body.Host,
			"vm_name": body.VMName,
			"action":  body.Action,
		}).Error("Power action failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"host":    body.Host,
		"vm_name": body.VMName,
		"action":  body.Action,
		"status":  "accepted",
	})
}

// pathParams parses and validates {provider} and {scope}.
func (h *Handlers) pathParams(w http.ResponseWriter, r *http.Request) (models.Provider, models.Scope, bool) {
	vars := mux.Vars(r)
	provider, err := models.ParseProvider(vars["provider"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", "", false
	}
	scope, err := models.ParseScope(vars["scope"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", "", false
	}
	return provider, scope, true
}

// queryParams parses the optional hosts and level query parameters.
func (h *Handlers) queryParams(w http.ResponseWriter, r *http.Request) ([]string, models.Level, bool) {
	var hosts []string
	if q := r.URL.Query().Get("hosts"); q != "" {
		hosts = strings.Split(q, ",")
	}
	level, err := models.ParseLevel(r.URL.Query().Get("level"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, "", false
	}
	return hosts, level, true
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Error("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
