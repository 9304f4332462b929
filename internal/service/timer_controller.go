package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/store"
)

// TimerState is the state of a TimerController.
type TimerState int

const (
	TimerIdle TimerState = iota
	TimerRunning
	TimerPaused
	TimerExpired
)

func (s TimerState) String() string {
	switch s {
	case TimerIdle:
		return "idle"
	case TimerRunning:
		return "running"
	case TimerPaused:
		return "paused"
	case TimerExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// TimerController is a persisted countdown clock. It never schedules
// anything itself: the host calls Tick from whatever recurring trigger it
// owns, and every mutation is written through to the store.
type TimerController struct {
	mu           sync.Mutex
	store        store.Store
	key          string
	assessmentID string
	duration     int // seconds
	record       model.TimerRecord
	state        TimerState
	onExpire     func()
	log          zerolog.Logger
}

// NewTimerController creates a controller for assessmentID. Call Initialize
// before any other method.
func NewTimerController(st store.Store, assessmentID string, log zerolog.Logger) *TimerController {
	return &TimerController{
		store:        st,
		key:          config.CacheKey.TimerKey(assessmentID),
		assessmentID: assessmentID,
		log:          log.With().Str("component", "timer").Str("assessment_id", assessmentID).Logger(),
	}
}

// OnExpire registers fn to run once when a tick reaches zero.
// fn runs without the controller lock held.
func (t *TimerController) OnExpire(fn func()) {
	t.mu.Lock()
	t.onExpire = fn
	t.mu.Unlock()
}

// Initialize loads a valid persisted record or seeds a new one from
// durationMinutes. The seed is persisted immediately so that a reload before
// the first tick cannot re-seed with a different duration.
func (t *TimerController) Initialize(ctx context.Context, durationMinutes int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.duration = durationMinutes * 60

	var rec model.TimerRecord
	found, err := store.GetJSON(ctx, t.store, t.key, &rec)
	if err != nil && !errors.Is(err, store.ErrStorageCorrupted) {
		return 0, fmt.Errorf("load timer: %w", err)
	}
	if err != nil {
		t.log.Warn().Err(err).Msg("Corrupted timer record dropped")
	}

	if found && rec.RemainingSeconds >= 0 {
		t.record = rec
		t.state = t.stateFor(rec)
		return rec.RemainingSeconds, nil
	}

	t.record = model.TimerRecord{RemainingSeconds: t.duration}
	t.state = TimerIdle
	if err := t.persist(ctx); err != nil {
		return 0, err
	}
	return t.record.RemainingSeconds, nil
}

func (t *TimerController) stateFor(rec model.TimerRecord) TimerState {
	switch {
	case rec.RemainingSeconds == 0:
		return TimerExpired
	case rec.IsRunning:
		return TimerRunning
	case rec.RemainingSeconds < t.duration:
		return TimerPaused
	default:
		return TimerIdle
	}
}

// Start resumes or starts the countdown. Starting an expired timer is a no-op.
func (t *TimerController) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == TimerExpired || t.state == TimerRunning {
		return nil
	}
	t.state = TimerRunning
	t.record.IsRunning = true
	return t.persist(ctx)
}

// Pause stops the countdown without losing remaining time.
func (t *TimerController) Pause(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TimerRunning {
		return nil
	}
	t.state = TimerPaused
	t.record.IsRunning = false
	return t.persist(ctx)
}

// Tick advances the clock by one second. Ticks while paused or expired are
// ignored; a tick on an idle timer starts it.
func (t *TimerController) Tick(ctx context.Context) (int, error) {
	t.mu.Lock()

	switch t.state {
	case TimerPaused, TimerExpired:
		remaining := t.record.RemainingSeconds
		t.mu.Unlock()
		return remaining, nil
	case TimerIdle:
		t.state = TimerRunning
		t.record.IsRunning = true
	}

	if t.record.RemainingSeconds > 0 {
		t.record.RemainingSeconds--
	}

	var expired func()
	if t.record.RemainingSeconds == 0 {
		t.state = TimerExpired
		t.record.IsRunning = false
		expired = t.onExpire
		t.log.Info().Msg("Timer expired")
	}

	remaining := t.record.RemainingSeconds
	err := t.persist(ctx)
	t.mu.Unlock()

	if err != nil {
		return remaining, err
	}
	if expired != nil {
		expired()
	}
	return remaining, nil
}

// Reset re-seeds the clock from durationMinutes and returns to Idle.
func (t *TimerController) Reset(ctx context.Context, durationMinutes int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.duration = durationMinutes * 60
	t.record = model.TimerRecord{RemainingSeconds: t.duration}
	t.state = TimerIdle
	return t.persist(ctx)
}

// Stop halts the clock for good after a completed submission.
func (t *TimerController) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = TimerExpired
	t.record.IsRunning = false
	return t.persist(ctx)
}

// Remaining returns the remaining seconds.
func (t *TimerController) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record.RemainingSeconds
}

// State returns the current timer state.
func (t *TimerController) State() TimerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Snapshot returns a copy of the persisted record.
func (t *TimerController) Snapshot() model.TimerRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record
}

func (t *TimerController) persist(ctx context.Context) error {
	if err := store.SetJSON(ctx, t.store, t.key, t.record); err != nil {
		return fmt.Errorf("persist timer: %w", err)
	}
	return nil
}
