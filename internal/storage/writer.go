package storage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"scriptflow/internal/deploy"
)

// AuditWriter persists deployment lifecycle events off the request path. A
// full buffer drops the event rather than blocking the API.
type AuditWriter struct {
	db   *DB
	ch   chan deploy.Event
	wg   sync.WaitGroup
	done chan struct{}
}

func NewAuditWriter(db *DB, bufferSize int) *AuditWriter {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &AuditWriter{
		db:   db,
		ch:   make(chan deploy.Event, bufferSize),
		done: make(chan struct{}),
	}
}

func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// Record implements deploy.EventSink.
func (w *AuditWriter) Record(event deploy.Event) {
	select {
	case w.ch <- event:
	default:
		log.Warn().Str("deployment_id", event.DeploymentID).Msg("audit buffer full, dropping event")
	}
}

// Flush stops the writer and drains buffered events, bounded by timeout.
func (w *AuditWriter) Flush(timeout time.Duration) {
	close(w.done)

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("audit writer flushed")
	case <-time.After(timeout):
		log.Warn().Msg("audit writer flush timed out")
	}
}

func (w *AuditWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case event := <-w.ch:
			w.writeWithRetry(event)
		case <-w.done:
			// Drain remaining entries
			for {
				select {
				case event := <-w.ch:
					w.writeWithRetry(event)
				default:
					return
				}
			}
		}
	}
}

func (w *AuditWriter) writeWithRetry(event deploy.Event) {
	const maxRetries = 3

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.insert(ctx, event)
		cancel()

		if err == nil {
			return
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			log.Warn().
				Err(err).
				Str("deployment_id", event.DeploymentID).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("audit write failed, retrying")
			time.Sleep(backoff)
		} else {
			log.Error().
				Err(err).
				Str("deployment_id", event.DeploymentID).
				Msg("audit write failed permanently after retries")
		}
	}
}

func (w *AuditWriter) insert(ctx context.Context, event deploy.Event) error {
	_, err := w.db.pool.Exec(ctx, `
		INSERT INTO deployment_events (deployment_id, user_id, kind, detail, at)
		VALUES ($1, $2, $3, $4, $5)`,
		event.DeploymentID, event.UserID, event.Kind,
		truncateForDB(event.Detail, 4096), event.At,
	)
	return err
}
