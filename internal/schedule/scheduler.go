package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"scriptflow/internal/cron"
	"scriptflow/internal/deploy"
	"scriptflow/internal/script"
)

// Job is one requested execution handed to the dispatch sink.
type Job struct {
	DeploymentID string
	UserID       string
	Function     string
	Trigger      string // schedule, event, manual
	Payload      string // JSON event payload, empty for schedule/manual fires
	ScheduledFor time.Time
}

// Sink receives fired jobs. The executor's dispatcher implements it; the
// scheduler never blocks on execution.
type Sink interface {
	Dispatch(job Job)
}

// Scheduler arms one timer per schedule trigger. Each fire enqueues a job
// and immediately re-arms from the fire instant, so a slow or queued run
// never delays the next tick. Event triggers are recorded but armed by the
// event gateway, not by timers.
type Scheduler struct {
	sink  Sink
	store deploy.Store
	log   zerolog.Logger
	now   func() time.Time

	mu      sync.Mutex
	armed   map[string][]*armedTrigger // deploymentID -> triggers
	stopped bool
}

type armedTrigger struct {
	deploymentID string
	userID       string
	function     string
	sched        cron.Schedule
	expr         string
	timer        *time.Timer
	next         time.Time
}

func NewScheduler(sink Sink, store deploy.Store, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		sink:  sink,
		store: store,
		log:   logger.With().Str("component", "scheduler").Logger(),
		now:   time.Now,
		armed: make(map[string][]*armedTrigger),
	}
}

// Register arms every schedule trigger in the deployment's manifest.
// Implements deploy.TriggerRegistrar.
func (s *Scheduler) Register(dep *deploy.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("scheduler stopped")
	}
	if _, exists := s.armed[dep.ID]; exists {
		s.disarmLocked(dep.ID)
	}

	var triggers []*armedTrigger
	for _, trig := range dep.Manifest.Triggers {
		if trig.Kind != script.TriggerSchedule {
			continue
		}
		expr := trig.Config["cron"]
		sched, err := cron.Parse(expr)
		if err != nil {
			for _, armed := range triggers {
				armed.timer.Stop()
			}
			return fmt.Errorf("trigger %s: %w", trig.TargetFunction, err)
		}
		armed := &armedTrigger{
			deploymentID: dep.ID,
			userID:       dep.UserID,
			function:     trig.TargetFunction,
			sched:        sched,
			expr:         expr,
		}
		s.armLocked(armed)
		triggers = append(triggers, armed)
	}
	s.armed[dep.ID] = triggers

	s.log.Info().
		Str("deployment_id", dep.ID).
		Int("schedule_triggers", len(triggers)).
		Msg("triggers armed")
	return nil
}

// Unregister disarms and forgets the deployment's triggers.
func (s *Scheduler) Unregister(deploymentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked(deploymentID)
	delete(s.armed, deploymentID)
}

// Pause stops the deployment's timers but keeps the trigger definitions so a
// later Resume does not need the manifest.
func (s *Scheduler) Pause(deploymentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked(deploymentID)
}

// Resume re-arms from the current instant. Fires missed while paused are not
// backfilled.
func (s *Scheduler) Resume(dep *deploy.Deployment) error {
	return s.Register(dep)
}

// NextRun returns the earliest upcoming fire time across the deployment's
// armed triggers, or the zero time when nothing is armed.
func (s *Scheduler) NextRun(deploymentID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next time.Time
	for _, armed := range s.armed[deploymentID] {
		if armed.timer == nil {
			continue
		}
		if next.IsZero() || armed.next.Before(next) {
			next = armed.next
		}
	}
	return next
}

// ArmedTriggers returns the number of timers currently armed, for metrics.
func (s *Scheduler) ArmedTriggers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, triggers := range s.armed {
		for _, armed := range triggers {
			if armed.timer != nil {
				count++
			}
		}
	}
	return count
}

// Stop disarms everything. Fired jobs already handed to the sink proceed.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id := range s.armed {
		s.disarmLocked(id)
	}
	s.armed = make(map[string][]*armedTrigger)
}

func (s *Scheduler) armLocked(armed *armedTrigger) {
	now := s.now()
	armed.next = armed.sched.Next(now.UTC())
	armed.timer = time.AfterFunc(armed.next.Sub(now), func() {
		s.fire(armed)
	})
}

func (s *Scheduler) disarmLocked(deploymentID string) {
	for _, armed := range s.armed[deploymentID] {
		if armed.timer != nil {
			armed.timer.Stop()
			armed.timer = nil
		}
	}
}

// fire runs on the timer goroutine. The status check guards the window
// between a pause/delete and the timer's Stop taking effect.
func (s *Scheduler) fire(armed *armedTrigger) {
	scheduledFor := armed.next

	s.mu.Lock()
	if s.stopped || armed.timer == nil {
		s.mu.Unlock()
		return
	}
	s.armLocked(armed)
	s.mu.Unlock()

	dep, err := s.store.Get(context.Background(), armed.deploymentID)
	if err != nil {
		s.log.Error().Err(err).Str("deployment_id", armed.deploymentID).Msg("fire: loading deployment")
		return
	}
	if dep == nil || !dep.Runnable() {
		s.log.Debug().
			Str("deployment_id", armed.deploymentID).
			Msg("discarding fire for non-active deployment")
		return
	}

	s.sink.Dispatch(Job{
		DeploymentID: armed.deploymentID,
		UserID:       armed.userID,
		Function:     armed.function,
		Trigger:      "schedule",
		ScheduledFor: scheduledFor,
	})
}
