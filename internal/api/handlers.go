package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"scriptflow/internal/credential"
	"scriptflow/internal/deploy"
	"scriptflow/internal/gate"
	"scriptflow/internal/integration"
	"scriptflow/internal/ledger"
	"scriptflow/internal/monitor"
	"scriptflow/internal/platform"
	"scriptflow/internal/schedule"
)

type Handlers struct {
	pipeline     *gate.Pipeline
	deployments  *deploy.Service
	runs         ledger.Store
	credentials  credential.Store
	integrations *integration.Registry
	scheduler    *schedule.Scheduler
	sink         schedule.Sink
	metrics      *monitor.Metrics
}

func NewHandlers(
	pipeline *gate.Pipeline,
	deployments *deploy.Service,
	runs ledger.Store,
	credentials credential.Store,
	integrations *integration.Registry,
	scheduler *schedule.Scheduler,
	sink schedule.Sink,
	metrics *monitor.Metrics,
) *Handlers {
	return &Handlers{
		pipeline:     pipeline,
		deployments:  deployments,
		runs:         runs,
		credentials:  credentials,
		integrations: integrations,
		scheduler:    scheduler,
		sink:         sink,
		metrics:      metrics,
	}
}

// HandleValidate runs the gates without deploying. Always 200 for a script
// the pipeline could process; validity is in the body.
func (h *Handlers) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, r, "invalid JSON: "+err.Error())
		return
	}
	if req.Script == "" {
		writeBadRequest(w, r, "script is required")
		return
	}
	name := req.Name
	if name == "" {
		name = "script.star"
	}

	h.metrics.ScriptSizeBytes.Observe(float64(len(req.Script)))

	report := h.pipeline.Run(name, []byte(req.Script))
	for _, issue := range report.Issues {
		h.metrics.RecordValidationIssue(issue.Severity.String(), issue.Code)
	}

	writeJSON(w, http.StatusOK, ValidateResponse{
		Valid:    report.Valid,
		Issues:   issueResponses(report.BlockingIssues()),
		Warnings: issueResponses(report.WarningIssues()),
		Manifest: report.Manifest,
	})
}

// HandleValidateIntegrations answers which integrations exist and which are
// configured for the caller.
func (h *Handlers) HandleValidateIntegrations(w http.ResponseWriter, r *http.Request) {
	var req IntegrationsValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, r, "invalid JSON: "+err.Error())
		return
	}

	userID := UserIDFromContext(r.Context())
	resp := IntegrationsValidateResponse{
		Errors:   []ErrorDetail{},
		Warnings: []ErrorDetail{},
	}
	for _, name := range req.Integrations {
		spec, ok := h.integrations.Get(name)
		if !ok {
			resp.Errors = append(resp.Errors, ErrorDetail{
				Type:        platform.KindAgentFixable.String(),
				Code:        "UNKNOWN_INTEGRATION",
				Integration: name,
				Message:     "integration " + name + " is not supported",
			})
			continue
		}
		configured, err := h.credentials.Has(r.Context(), userID, name)
		if err != nil {
			writeError(w, r, platform.Internal(err))
			return
		}
		if !configured {
			resp.Errors = append(resp.Errors, ErrorDetail{
				Type:        platform.KindUserConfig.String(),
				Code:        "INTEGRATION_NOT_CONFIGURED",
				Integration: spec.Name,
				Message:     spec.DisplayName + " is not connected for this account",
				ActionURL:   h.integrations.SetupURL(spec.Name),
				DocsURL:     h.integrations.DocsURL(spec.Name),
			})
		}
	}
	resp.Valid = len(resp.Errors) == 0
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandleDeploy(w http.ResponseWriter, r *http.Request) {
	var req DeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, r, "invalid JSON: "+err.Error())
		return
	}
	if req.Script == "" {
		writeBadRequest(w, r, "script is required")
		return
	}

	userID := UserIDFromContext(r.Context())
	h.metrics.ScriptSizeBytes.Observe(float64(len(req.Script)))

	dep, report, err := h.deployments.Deploy(r.Context(), userID, req.Name, []byte(req.Script), req.Metadata)
	if report != nil {
		for _, issue := range report.Issues {
			h.metrics.RecordValidationIssue(issue.Severity.String(), issue.Code)
		}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := h.deploymentResponse(dep, false)
	if report != nil {
		resp.Warnings = issueResponses(report.WarningIssues())
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handlers) HandleListDeployments(w http.ResponseWriter, r *http.Request) {
	deps, err := h.deployments.List(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]DeploymentResponse, 0, len(deps))
	for i := range deps {
		resp := h.deploymentResponse(&deps[i], false)
		resp.LastRun = h.lastRun(r.Context(), deps[i].ID)
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"deployments": out})
}

func (h *Handlers) HandleGetDeployment(w http.ResponseWriter, r *http.Request) {
	dep, ok := h.ownedDeployment(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.deploymentResponse(dep, true))
}

func (h *Handlers) HandlePauseDeployment(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.deployments.Pause)
}

func (h *Handlers) HandleResumeDeployment(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.deployments.Resume)
}

func (h *Handlers) HandleDeleteDeployment(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.deployments.Delete)
}

// HandleFireDeployment queues a manual run of one trigger target.
func (h *Handlers) HandleFireDeployment(w http.ResponseWriter, r *http.Request) {
	dep, ok := h.ownedDeployment(w, r)
	if !ok {
		return
	}
	if !dep.Runnable() {
		writeError(w, r, platform.AgentFixable("DEPLOYMENT_NOT_ACTIVE",
			"deployment is %s, only active deployments can be fired", dep.Status))
		return
	}

	var req FireRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	function := req.Function
	if function == "" {
		if len(dep.Manifest.Triggers) == 0 {
			writeError(w, r, platform.AgentFixable("NO_TRIGGERS", "deployment has no triggers to fire"))
			return
		}
		function = dep.Manifest.Triggers[0].TargetFunction
	} else if !dep.Manifest.HasTarget(function) {
		writeError(w, r, platform.AgentFixable("UNKNOWN_FUNCTION",
			"function %q is not a trigger target of this deployment", function))
		return
	}

	h.sink.Dispatch(schedule.Job{
		DeploymentID: dep.ID,
		UserID:       dep.UserID,
		Function:     function,
		Trigger:      "manual",
		ScheduledFor: time.Now().UTC(),
	})
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "queued",
		"function": function,
	})
}

func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	dep, ok := h.ownedDeployment(w, r)
	if !ok {
		return
	}
	runs, err := h.runs.List(r.Context(), ledger.Filter{
		DeploymentID: dep.ID,
		Status:       r.URL.Query().Get("status"),
	})
	if err != nil {
		writeError(w, r, platform.Internal(err))
		return
	}
	out := make([]RunResponse, 0, len(runs))
	for i := range runs {
		out = append(out, runResponse(&runs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.ownedRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, runResponse(run))
}

// HandleRunLogs returns the captured output of a run as plain text, with the
// stderr stream appended under a marker when the run wrote any.
func (h *Handlers) HandleRunLogs(w http.ResponseWriter, r *http.Request) {
	run, ok := h.ownedRun(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	body := run.Output
	if run.Stderr != "" {
		body += "\n--- stderr ---\n" + run.Stderr
	}
	if _, err := w.Write([]byte(body)); err != nil {
		log.Error().Err(err).Msg("writing run logs")
	}
}

func (h *Handlers) HandleListCredentials(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.credentials.List(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, platform.Internal(err))
		return
	}
	if statuses == nil {
		statuses = []credential.Status{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": statuses})
}

func (h *Handlers) HandleSaveCredential(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("integration")
	spec, ok := h.integrations.Get(name)
	if !ok {
		writeError(w, r, platform.ConfigError("UNKNOWN_INTEGRATION", name,
			"integration %q is not supported", name))
		return
	}

	var req CredentialSaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, r, "invalid JSON: "+err.Error())
		return
	}
	for _, key := range spec.RequiredKeys() {
		if req.Fields[key] == "" {
			writeError(w, r, platform.ConfigError("MISSING_CREDENTIAL_FIELD", spec.Name,
				"field %q is required for %s", key, spec.DisplayName).
				WithAction(h.integrations.SetupURL(spec.Name), h.integrations.DocsURL(spec.Name)))
			return
		}
	}

	userID := UserIDFromContext(r.Context())
	if err := h.credentials.Save(r.Context(), userID, spec.Name, req.Fields); err != nil {
		writeError(w, r, platform.Internal(err))
		return
	}
	// Stored values are never echoed back.
	writeJSON(w, http.StatusOK, credential.Status{
		Integration: spec.Name,
		Configured:  true,
		UpdatedAt:   time.Now().UTC(),
	})
}

func (h *Handlers) HandleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("integration")
	userID := UserIDFromContext(r.Context())
	if err := h.credentials.Delete(r.Context(), userID, name); err != nil {
		writeError(w, r, platform.Internal(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, userID, id string) error) {
	userID := UserIDFromContext(r.Context())
	id := r.PathValue("id")
	if err := op(r.Context(), userID, id); err != nil {
		writeError(w, r, err)
		return
	}
	dep, err := h.deployments.Get(r.Context(), userID, id)
	if err != nil {
		// Delete leaves nothing visible to return.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, h.deploymentResponse(dep, false))
}

func (h *Handlers) ownedDeployment(w http.ResponseWriter, r *http.Request) (*deploy.Deployment, bool) {
	dep, err := h.deployments.Get(r.Context(), UserIDFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return dep, true
}

func (h *Handlers) ownedRun(w http.ResponseWriter, r *http.Request) (*ledger.Run, bool) {
	run, err := h.runs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, platform.Internal(err))
		return nil, false
	}
	if run == nil || run.UserID != UserIDFromContext(r.Context()) {
		writeNotFound(w, r, "run not found")
		return nil, false
	}
	return run, true
}

// lastRun returns the most recent run of a deployment, or nil when it has
// never fired. List items carry it so clients need not fan out per row.
func (h *Handlers) lastRun(ctx context.Context, deploymentID string) *RunSummary {
	runs, err := h.runs.List(ctx, ledger.Filter{DeploymentID: deploymentID, Limit: 1})
	if err != nil || len(runs) == 0 {
		return nil
	}
	return &RunSummary{
		ID:        runs[0].ID,
		Status:    runs[0].Status,
		Trigger:   runs[0].Trigger,
		StartedAt: runs[0].StartedAt,
	}
}

func (h *Handlers) deploymentResponse(dep *deploy.Deployment, includeScript bool) DeploymentResponse {
	resp := DeploymentResponse{
		ID:                 dep.ID,
		Name:               dep.Name,
		Status:             dep.Status,
		Error:              dep.ErrorDetail,
		ScriptVersion:      dep.ScriptVersion,
		TriggersRegistered: len(dep.Manifest.Triggers),
		Manifest:           &dep.Manifest,
		CreatedAt:          dep.CreatedAt,
		UpdatedAt:          dep.UpdatedAt,
	}
	if includeScript {
		resp.Script = dep.ScriptContent
	}
	if h.scheduler != nil && dep.Status == deploy.StatusActive {
		if next := h.scheduler.NextRun(dep.ID); !next.IsZero() {
			resp.NextRun = &next
		}
	}
	return resp
}

func runResponse(run *ledger.Run) RunResponse {
	return RunResponse{
		ID:           run.ID,
		DeploymentID: run.DeploymentID,
		Trigger:      run.Trigger,
		Function:     run.Function,
		Status:       run.Status,
		Error:        run.ErrorDetail,
		Stderr:       run.Stderr,
		ExitCode:     run.ExitCode,
		DurationMS:   run.DurationMS,
		StartedAt:    run.StartedAt,
		CompletedAt:  run.CompletedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps the error taxonomy to HTTP. Internal detail is logged with
// the request id and never sent to the caller.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := RequestIDFromContext(r.Context())

	if errors.Is(err, deploy.ErrNotFound) {
		writeNotFound(w, r, "deployment not found")
		return
	}

	perr := platform.AsError(err)
	if perr.Kind == platform.KindInternal {
		log.Error().
			Err(errors.Unwrap(perr)).
			Str("request_id", requestID).
			Str("code", perr.Code).
			Msg("internal error")
	}

	writeJSON(w, perr.HTTPStatus(), ErrorResponse{
		Error: ErrorDetail{
			Type:        perr.Kind.String(),
			Code:        perr.Code,
			Message:     perr.PublicMessage(),
			Integration: perr.Integration,
			ActionURL:   perr.ActionURL,
			DocsURL:     perr.DocsURL,
		},
		RequestID: requestID,
	})
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:     ErrorDetail{Type: platform.KindUserConfig.String(), Code: "INVALID_REQUEST", Message: msg},
		RequestID: RequestIDFromContext(r.Context()),
	})
}

func writeNotFound(w http.ResponseWriter, r *http.Request, msg string) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{
		Error:     ErrorDetail{Type: platform.KindAgentFixable.String(), Code: "NOT_FOUND", Message: msg},
		RequestID: RequestIDFromContext(r.Context()),
	})
}
