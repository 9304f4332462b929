package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/service"
)

const (
	expiryQueueSize      = 256
	defaultEvictInterval = time.Minute
)

// TimerWorker ticks every running countdown once per interval and submits
// runs whose timer reached zero. It also evicts inactive runs from the
// registry once per evictEvery.
type TimerWorker struct {
	registry   *service.SessionRegistry
	monitor    service.MonitorPublisher
	interval   time.Duration
	evictEvery time.Duration
	expired    chan *service.Coordinator
	log        zerolog.Logger
}

// NewTimerWorker creates a TimerWorker and registers its expiry hook on the
// registry. Coordinators created before this call are not hooked.
func NewTimerWorker(registry *service.SessionRegistry, monitor service.MonitorPublisher, interval time.Duration, log zerolog.Logger) *TimerWorker {
	if interval <= 0 {
		interval = time.Second
	}
	w := &TimerWorker{
		registry:   registry,
		monitor:    monitor,
		interval:   interval,
		evictEvery: defaultEvictInterval,
		expired:    make(chan *service.Coordinator, expiryQueueSize),
		log:        log.With().Str("component", "timer_worker").Logger(),
	}
	registry.OnExpire(w.enqueue)
	return w
}

// enqueue runs inside the timer's expiry hook and must not block.
func (w *TimerWorker) enqueue(co *service.Coordinator) {
	select {
	case w.expired <- co:
	default:
		w.log.Error().
			Int("student_id", co.StudentID()).
			Str("assessment_id", co.AssessmentID()).
			Msg("Expiry queue full, run left for manual submission")
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *TimerWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("Worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	evict := time.NewTicker(w.evictEvery)
	defer evict.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Submissions must outlive the cancelled parent.
			w.drain(context.WithoutCancel(ctx))
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		case <-evict.C:
			w.registry.Evict()
		case co := <-w.expired:
			w.submitExpired(ctx, co)
		}
	}
}

func (w *TimerWorker) tick(ctx context.Context) {
	for _, co := range w.registry.Running() {
		if _, err := co.Tick(ctx); err != nil {
			w.log.Error().Err(err).
				Int("student_id", co.StudentID()).
				Str("assessment_id", co.AssessmentID()).
				Msg("Timer tick failed")
		}
	}
}

// submitExpired force-submits a run whose time ran out. Unanswered questions
// need no confirmation.
func (w *TimerWorker) submitExpired(ctx context.Context, co *service.Coordinator) {
	log := w.log.With().
		Int("student_id", co.StudentID()).
		Str("assessment_id", co.AssessmentID()).
		Logger()

	result, err := co.Submit(ctx, service.SubmitOptions{Confirmed: true})
	if err != nil {
		log.Error().Err(err).Msg("Auto-submit failed")
		return
	}
	log.Info().Str("status", string(result.Status)).Msg("Run auto-submitted on expiry")

	if w.monitor == nil || result.Status == model.SubmitStatusConfirmationRequired {
		return
	}
	err = w.monitor.Publish(ctx, co.AssessmentID(), service.MonitorEvent{
		Type:      service.MonitorEventSubmitted,
		StudentID: co.StudentID(),
		AttemptID: result.AttemptID,
		Status:    result.Status,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Monitor publish failed")
	}
}

// drain submits every queued expiry before shutdown.
func (w *TimerWorker) drain(ctx context.Context) {
	drained := 0
	for {
		select {
		case co := <-w.expired:
			w.submitExpired(ctx, co)
			drained++
		default:
			if drained > 0 {
				w.log.Info().Int("count", drained).Msg("Drained remaining expiries")
			}
			return
		}
	}
}
