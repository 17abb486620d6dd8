package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"scriptflow/internal/credential"
	"scriptflow/internal/gate"
	"scriptflow/internal/integration"
	"scriptflow/internal/platform"
	"scriptflow/internal/script"
)

// ErrNotFound is returned when a deployment does not exist or belongs to
// another user. Callers must not distinguish the two cases.
var ErrNotFound = errors.New("deployment not found")

// TriggerRegistrar is the scheduler surface the deploy service drives.
// Register arms every trigger in the deployment's manifest; the other
// methods track lifecycle changes.
type TriggerRegistrar interface {
	Register(dep *Deployment) error
	Unregister(deploymentID string)
	Pause(deploymentID string)
	Resume(dep *Deployment) error
}

// Service owns the deployment lifecycle: validation, credential
// preconditions, persistence, and trigger registration.
type Service struct {
	store        Store
	pipeline     *gate.Pipeline
	credentials  credential.Store
	integrations *integration.Registry
	registrar    TriggerRegistrar
	events       EventSink
	log          zerolog.Logger
}

func NewService(store Store, pipeline *gate.Pipeline, creds credential.Store, integrations *integration.Registry, registrar TriggerRegistrar, logger zerolog.Logger) *Service {
	return &Service{
		store:        store,
		pipeline:     pipeline,
		credentials:  creds,
		integrations: integrations,
		registrar:    registrar,
		log:          logger.With().Str("component", "deploy").Logger(),
	}
}

// SetEventSink attaches an audit trail. Without one, lifecycle events are
// only logged.
func (s *Service) SetEventSink(sink EventSink) {
	s.events = sink
}

func (s *Service) record(dep *Deployment, kind, detail string) {
	if s.events == nil {
		return
	}
	s.events.Record(Event{
		DeploymentID: dep.ID,
		UserID:       dep.UserID,
		Kind:         kind,
		Detail:       detail,
		At:           time.Now().UTC(),
	})
}

// Metadata is the caller's declaration of what its script uses. Deploy
// cross-checks it against the manifest extracted from the script text; a
// mismatch means the caller's view of the script has drifted from the script
// itself, which is a script-side defect.
type Metadata struct {
	Integrations []string `json:"integrations,omitempty"`
	Triggers     []string `json:"triggers,omitempty"`
}

// Deploy validates the script, checks that every referenced integration has
// stored credentials, persists the deployment, and arms its triggers. The
// script is re-validated here even if the caller already ran the validate
// endpoint: deploy trusts nothing it did not check itself. declared may be
// nil when the caller sent no metadata.
func (s *Service) Deploy(ctx context.Context, userID, name string, src []byte, declared *Metadata) (*Deployment, *gate.Report, error) {
	if name == "" {
		name = GenerateName(time.Now())
	}

	report := s.pipeline.Run(name, src)
	if !report.Valid {
		return nil, report, blockingError(report)
	}
	if err := checkMetadata(declared, report.Manifest); err != nil {
		return nil, report, err
	}

	for _, integ := range report.Manifest.Integrations {
		configured, err := s.credentials.Has(ctx, userID, integ)
		if err != nil {
			return nil, report, platform.Internal(fmt.Errorf("checking credentials for %s: %w", integ, err))
		}
		if !configured {
			perr := platform.ConfigError("INTEGRATION_NOT_CONFIGURED", integ,
				"integration %q is not connected for this account", integ)
			perr = perr.WithAction(s.integrations.SetupURL(integ), s.integrations.DocsURL(integ))
			return nil, report, perr
		}
	}

	now := time.Now().UTC()
	dep := &Deployment{
		ID:            NewDeploymentID(),
		UserID:        userID,
		Name:          name,
		ScriptContent: string(src),
		ScriptVersion: VersionOf(src),
		Manifest:      *report.Manifest,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Create(ctx, dep); err != nil {
		return nil, report, platform.Internal(fmt.Errorf("persisting deployment: %w", err))
	}

	if err := s.registrar.Register(dep); err != nil {
		// Roll back to error rather than leaving a half-armed deployment.
		if serr := s.store.SetStatus(ctx, dep.ID, StatusError, err.Error()); serr != nil {
			s.log.Error().Err(serr).Str("deployment_id", dep.ID).Msg("rollback failed")
		}
		return nil, report, platform.Internal(fmt.Errorf("arming triggers: %w", err))
	}

	if err := s.store.SetStatus(ctx, dep.ID, StatusActive, ""); err != nil {
		s.registrar.Unregister(dep.ID)
		return nil, report, platform.Internal(fmt.Errorf("activating deployment: %w", err))
	}
	dep.Status = StatusActive
	s.record(dep, EventDeployed, "")

	s.log.Info().
		Str("deployment_id", dep.ID).
		Str("user_id", userID).
		Str("name", name).
		Int("triggers", len(dep.Manifest.Triggers)).
		Strs("integrations", dep.Manifest.Integrations).
		Msg("deployment activated")
	return dep, report, nil
}

// Get returns the deployment if it exists, is not deleted, and belongs to
// userID.
func (s *Service) Get(ctx context.Context, userID, id string) (*Deployment, error) {
	dep, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, platform.Internal(err)
	}
	if dep == nil || dep.UserID != userID || dep.Status == StatusDeleted {
		return nil, ErrNotFound
	}
	return dep, nil
}

// List returns the caller's non-deleted deployments, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]Deployment, error) {
	deps, err := s.store.List(ctx, userID)
	if err != nil {
		return nil, platform.Internal(err)
	}
	return deps, nil
}

// Pause disarms the deployment's triggers. In-flight runs finish.
func (s *Service) Pause(ctx context.Context, userID, id string) error {
	dep, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if dep.Status == StatusPaused {
		return nil
	}
	if err := s.store.SetStatus(ctx, id, StatusPaused, ""); err != nil {
		if errors.Is(err, ErrIllegalTransition) {
			return platform.AgentFixable("INVALID_TRANSITION", "cannot pause a %s deployment", dep.Status)
		}
		return platform.Internal(fmt.Errorf("pausing deployment %s: %w", id, err))
	}
	s.registrar.Pause(id)
	s.record(dep, EventPaused, "")
	s.log.Info().Str("deployment_id", id).Msg("deployment paused")
	return nil
}

// Resume re-arms the deployment's triggers. Schedules are computed from now,
// not backfilled for the paused window.
func (s *Service) Resume(ctx context.Context, userID, id string) error {
	dep, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if dep.Status == StatusActive {
		return nil
	}
	if err := s.store.SetStatus(ctx, id, StatusActive, ""); err != nil {
		if errors.Is(err, ErrIllegalTransition) {
			return platform.AgentFixable("INVALID_TRANSITION", "cannot resume a %s deployment", dep.Status)
		}
		return platform.Internal(fmt.Errorf("resuming deployment %s: %w", id, err))
	}
	dep.Status = StatusActive
	if err := s.registrar.Resume(dep); err != nil {
		return platform.Internal(fmt.Errorf("re-arming triggers: %w", err))
	}
	s.record(dep, EventResumed, "")
	s.log.Info().Str("deployment_id", id).Msg("deployment resumed")
	return nil
}

// Delete tombstones the deployment and disarms its triggers. The row and its
// run history remain queryable internally but disappear from list APIs.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	dep, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.store.SetStatus(ctx, id, StatusDeleted, ""); err != nil {
		return platform.Internal(fmt.Errorf("deleting deployment %s: %w", dep.ID, err))
	}
	s.registrar.Unregister(id)
	s.record(dep, EventDeleted, "")
	s.log.Info().Str("deployment_id", id).Msg("deployment deleted")
	return nil
}

// MarkError parks the deployment in the error state, keeping its triggers
// disarmed until a resume.
func (s *Service) MarkError(ctx context.Context, id, detail string) error {
	if err := s.store.SetStatus(ctx, id, StatusError, detail); err != nil {
		return err
	}
	s.registrar.Pause(id)
	if dep, err := s.store.Get(ctx, id); err == nil && dep != nil {
		s.record(dep, EventErrored, detail)
	}
	s.log.Warn().Str("deployment_id", id).Str("detail", detail).Msg("deployment errored")
	return nil
}

// RearmActive re-registers every active deployment's triggers, used at
// startup so schedules survive restarts.
func (s *Service) RearmActive(ctx context.Context) error {
	deps, err := s.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing active deployments: %w", err)
	}
	for i := range deps {
		dep := deps[i]
		if err := s.registrar.Register(&dep); err != nil {
			s.log.Error().Err(err).Str("deployment_id", dep.ID).Msg("re-arm failed")
			if serr := s.store.SetStatus(ctx, dep.ID, StatusError, err.Error()); serr != nil {
				s.log.Error().Err(serr).Str("deployment_id", dep.ID).Msg("marking error failed")
			}
			continue
		}
	}
	s.log.Info().Int("deployments", len(deps)).Msg("re-armed active deployments")
	return nil
}

// checkMetadata compares the declared metadata with the extracted manifest.
// Declared integrations must match the script's exactly; every declared
// trigger must name a function the script registers a trigger for.
func checkMetadata(declared *Metadata, manifest *script.Manifest) error {
	if declared == nil {
		return nil
	}
	if len(declared.Integrations) > 0 {
		want := make(map[string]bool, len(declared.Integrations))
		for _, name := range declared.Integrations {
			want[name] = true
		}
		for _, name := range manifest.Integrations {
			if !want[name] {
				return platform.AgentFixable("METADATA_MISMATCH",
					"script uses integration %q but the request metadata does not declare it", name)
			}
			delete(want, name)
		}
		for _, name := range declared.Integrations {
			if want[name] {
				return platform.AgentFixable("METADATA_MISMATCH",
					"request metadata declares integration %q but the script does not use it", name)
			}
		}
	}
	for _, fn := range declared.Triggers {
		if !manifest.HasTarget(fn) {
			return platform.AgentFixable("METADATA_MISMATCH",
				"request metadata declares a trigger for %q but the script registers none", fn)
		}
	}
	return nil
}

func blockingError(report *gate.Report) error {
	blocking := report.BlockingIssues()
	if len(blocking) == 0 {
		return platform.AgentFixable("VALIDATION_FAILED", "script failed validation")
	}
	first := blocking[0]
	return platform.AgentFixable(first.Code, "%s (line %d)", first.Message, first.Line)
}
