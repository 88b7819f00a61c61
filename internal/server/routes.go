package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/demon-systems/demon/internal/approval"
	"github.com/demon-systems/demon/internal/graph"
	"github.com/demon-systems/demon/internal/projection"
	"github.com/demon-systems/demon/internal/ritual"
)

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/rituals/{ritual}/runs", s.handleStartRun)
	mux.HandleFunc("GET /api/v1/rituals/{ritual}/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/rituals/{ritual}/runs/{runId}", s.handleGetRun)
	mux.HandleFunc("GET /api/v1/rituals/{ritual}/runs/{runId}/envelope", s.handleGetEnvelope)

	mux.HandleFunc("POST /api/v1/rituals/{ritual}/runs/{runId}/approvals/{gateId}/grant", s.handleApprovalDecision(approvalGrant))
	mux.HandleFunc("POST /api/v1/rituals/{ritual}/runs/{runId}/approvals/{gateId}/deny", s.handleApprovalDecision(approvalDeny))
	mux.HandleFunc("POST /api/v1/rituals/{ritual}/runs/{runId}/approvals/{gateId}/override", s.handleApprovalDecision(approvalOverride))

	mux.HandleFunc("GET /api/graph/commits/{commitId}", s.handleGetCommit)
	mux.HandleFunc("GET /api/graph/tags/{name}", s.handleGetTag)
	mux.HandleFunc("GET /api/graph/commits", s.handleListCommits)
	mux.HandleFunc("GET /api/graph/commits/stream", s.handleCommitsStream)

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) tenant() string {
	if s.cfg.Tenant != "" {
		return s.cfg.Tenant
	}
	return "default"
}

// startRunRequest is the POST .../runs body (§6).
type startRunRequest struct {
	App        string          `json:"app"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

type startRunResponse struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}

// runParameters is the shape stored as ritual.started:v1's parameters field,
// carrying the caller's app label alongside their free-form parameters.
type runParameters struct {
	App        string          `json:"app,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	ritualID := r.PathValue("ritual")
	def, ok := s.rituals.Get(ritualID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "RITUAL_NOT_FOUND", "unknown ritual "+ritualID)
		return
	}

	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}

	runID := uuid.NewString()
	if err := s.engine.StartRun(r.Context(), s.tenant(), def, runID, runParameters{App: req.App, Parameters: req.Parameters}); err != nil {
		writeJSONError(w, http.StatusBadGateway, "EVENT_EMISSION_FAILED", err.Error())
		return
	}
	if err := s.engine.Advance(r.Context(), s.tenant(), def, runID); err != nil {
		s.logger.Warn("advance after start failed", zap.Error(err))
	}

	writeJSON(w, http.StatusAccepted, startRunResponse{RunID: runID, Status: "Accepted"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	ritualID := r.PathValue("ritual")
	var filter projection.ListFilter
	filter.App = r.URL.Query().Get("app")
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = ritual.Status(status)
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	runs, err := projection.ListRuns(r.Context(), s.log, s.tenant(), ritualID, filter)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "EVENT_LOG_UNAVAILABLE", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	ritualID := r.PathValue("ritual")
	runID := r.PathValue("runId")

	view, ok, err := projection.GetRun(r.Context(), s.log, s.tenant(), ritualID, runID)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "EVENT_LOG_UNAVAILABLE", err.Error())
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, "RUN_NOT_FOUND", "unknown run "+runID)
		return
	}

	resp := map[string]any{
		"runId":       view.RunID,
		"ritualId":    view.RitualID,
		"status":      view.Status,
		"currentStep": view.CurrentStep,
		"gatedOn":     view.GatedOn,
	}
	if view.Status.Terminal() {
		if env, ok := projection.RunEnvelope(view); ok {
			resp["envelope"] = env
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetEnvelope(w http.ResponseWriter, r *http.Request) {
	ritualID := r.PathValue("ritual")
	runID := r.PathValue("runId")

	view, ok, err := projection.GetRun(r.Context(), s.log, s.tenant(), ritualID, runID)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "EVENT_LOG_UNAVAILABLE", err.Error())
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, "RUN_NOT_FOUND", "unknown run "+runID)
		return
	}
	env, ok := projection.RunEnvelope(view)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "RUN_NOT_TERMINAL", "run has not reached a terminal state")
		return
	}
	writeJSON(w, http.StatusOK, env)
}

type approvalDecisionKind string

const (
	approvalGrant    approvalDecisionKind = "grant"
	approvalDeny     approvalDecisionKind = "deny"
	approvalOverride approvalDecisionKind = "override"
)

type approvalDecisionRequest struct {
	Approver string `json:"approver"`
	Note     string `json:"note,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type approvalDecisionResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleApprovalDecision(kind approvalDecisionKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ritualID := r.PathValue("ritual")
		runID := r.PathValue("runId")
		gateID := r.PathValue("gateId")

		var req approvalDecisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
			return
		}
		if req.Approver == "" {
			writeJSONError(w, http.StatusBadRequest, "INVALID_REQUEST", "approver is required")
			return
		}
		if !approval.ApproverAllowedForRole(req.Approver, "") {
			writeJSONError(w, http.StatusForbidden, "APPROVER_NOT_ALLOWED", "approver is not in the configured allowlist")
			return
		}

		var noop bool
		var err error
		switch kind {
		case approvalGrant:
			noop, err = s.approvals.Grant(r.Context(), s.tenant(), runID, ritualID, gateID, req.Approver)
		case approvalDeny:
			noop, err = s.approvals.Deny(r.Context(), s.tenant(), runID, ritualID, gateID, req.Approver, req.Reason)
		case approvalOverride:
			noop, err = s.approvals.Override(r.Context(), s.tenant(), runID, ritualID, gateID, req.Approver, req.Note)
		}

		switch {
		case err == nil && noop:
			writeJSON(w, http.StatusOK, approvalDecisionResponse{Status: "noop"})
		case err == nil:
			writeJSON(w, http.StatusOK, approvalDecisionResponse{Status: "ok"})
		case errors.Is(err, approval.ErrConflict):
			writeJSONError(w, http.StatusConflict, "GATE_ALREADY_RESOLVED", err.Error())
		case errors.Is(err, approval.ErrNotEmergencyLevel):
			writeJSONError(w, http.StatusConflict, "NO_ESCALATION_CONFIG", err.Error())
		default:
			writeJSONError(w, http.StatusBadGateway, "EVENT_EMISSION_FAILED", err.Error())
		}
	}
}

func scopeFromQuery(r *http.Request) graph.Scope {
	q := r.URL.Query()
	return graph.Scope{
		TenantID:  q.Get("tenantId"),
		ProjectID: q.Get("projectId"),
		Namespace: q.Get("namespace"),
		GraphID:   q.Get("graphId"),
	}
}

func (s *Server) handleGetCommit(w http.ResponseWriter, r *http.Request) {
	commitID := r.PathValue("commitId")
	scope := scopeFromQuery(r)

	commit, ok, err := s.graphStore.GetCommit(r.Context(), scope, commitID)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "EVENT_LOG_UNAVAILABLE", err.Error())
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, "COMMIT_NOT_FOUND", "unknown commit "+commitID)
		return
	}
	writeJSON(w, http.StatusOK, commit)
}

func (s *Server) handleGetTag(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	scope := scopeFromQuery(r)

	tags, err := s.graphStore.ListTags(r.Context(), scope)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "EVENT_LOG_UNAVAILABLE", err.Error())
		return
	}
	for _, t := range tags {
		if t.Tag == name {
			writeJSON(w, http.StatusOK, t)
			return
		}
	}
	writeJSONError(w, http.StatusNotFound, "TAG_NOT_FOUND", "unknown tag "+name)
}

func (s *Server) handleListCommits(w http.ResponseWriter, r *http.Request) {
	scope := scopeFromQuery(r)
	commits, err := s.graphStore.ListCommits(r.Context(), scope)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "EVENT_LOG_UNAVAILABLE", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, commits)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": Version, "commit": Commit, "date": Date})
}
