package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/store"
)

// StoreFactory returns the store scoped to one student.
type StoreFactory func(studentID int) store.Store

// APIFactory returns the AssessmentAPI acting on behalf of one student.
type APIFactory func(studentID int) AssessmentAPI

// SessionRegistry holds one Coordinator per student and assessment.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Coordinator
	onExpire func(*Coordinator)

	stores StoreFactory
	apis   APIFactory
	opts   CoordinatorOptions
	log    zerolog.Logger
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry(stores StoreFactory, apis APIFactory, opts CoordinatorOptions, log zerolog.Logger) *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*Coordinator),
		stores:   stores,
		apis:     apis,
		opts:     opts,
		log:      log.With().Str("component", "session_registry").Logger(),
	}
}

func registryKey(studentID int, assessmentType model.AssessmentType, assessmentID string) string {
	return fmt.Sprintf("%d:%s:%s", studentID, assessmentType, assessmentID)
}

// OnExpire registers fn on every coordinator created from now on.
func (r *SessionRegistry) OnExpire(fn func(*Coordinator)) {
	r.mu.Lock()
	r.onExpire = fn
	r.mu.Unlock()
}

// Get returns the coordinator for the run, creating it when missing.
// The returned coordinator still has to be opened.
func (r *SessionRegistry) Get(studentID int, assessmentType model.AssessmentType, assessmentID string) *Coordinator {
	key := registryKey(studentID, assessmentType, assessmentID)

	r.mu.RLock()
	c, ok := r.sessions[key]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.sessions[key]; ok {
		return c
	}

	c = NewCoordinator(r.stores(studentID), r.apis(studentID), studentID, assessmentID, assessmentType, r.opts, r.log)
	if r.onExpire != nil {
		c.OnExpire(r.onExpire)
	}
	r.sessions[key] = c
	return c
}

// Evict drops coordinators that no longer need to live in memory: submitted
// runs past CompletedRetention and idle runs past IdleRetention. Runs with a
// counting timer are kept. Stored state is untouched, so an evicted run is
// reloaded on its next request. It returns the number of evicted runs.
func (r *SessionRegistry) Evict() int {
	completedFor := r.opts.CompletedRetention
	if completedFor <= 0 {
		completedFor = DefaultCompletedRetention
	}
	idleFor := r.opts.IdleRetention
	if idleFor <= 0 {
		idleFor = DefaultIdleRetention
	}
	now := time.Now
	if r.opts.Now != nil {
		now = r.opts.Now
	}
	cutoffCompleted := now().Add(-completedFor)
	cutoffIdle := now().Add(-idleFor)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for key, c := range r.sessions {
		if c.Timer().State() == TimerRunning {
			continue
		}
		cutoff := cutoffIdle
		if c.Completed() {
			cutoff = cutoffCompleted
		}
		if c.LastActive().Before(cutoff) {
			delete(r.sessions, key)
			evicted++
		}
	}
	if evicted > 0 {
		r.log.Debug().Int("evicted", evicted).Int("remaining", len(r.sessions)).Msg("Evicted inactive sessions")
	}
	return evicted
}

// Len returns the number of registered coordinators.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Running returns the coordinators whose timer is counting down.
func (r *SessionRegistry) Running() []*Coordinator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Coordinator, 0, len(r.sessions))
	for _, c := range r.sessions {
		if c.Timer().State() == TimerRunning {
			out = append(out, c)
		}
	}
	return out
}

// ListInProgress returns the stored, uncompleted sessions of a student.
// Unreadable records are skipped.
func (r *SessionRegistry) ListInProgress(ctx context.Context, studentID int) ([]model.SessionRecord, error) {
	st := r.stores(studentID)

	keys, err := st.KeysWithPrefix(ctx, config.CacheKey.SessionPrefix())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]model.SessionRecord, 0, len(keys))
	for _, key := range keys {
		var rec model.SessionRecord
		found, err := store.GetJSON(ctx, st, key, &rec)
		if errors.Is(err, store.ErrStorageCorrupted) {
			r.log.Warn().Err(err).Int("student_id", studentID).Msg("Skipping corrupted session")
			continue
		}
		if err != nil {
			return nil, err
		}
		if !found || rec.Completed {
			continue
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUpdated.After(out[j].LastUpdated)
	})
	return out, nil
}
