package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// MonitorEventType names the events pushed to the live exam monitor.
type MonitorEventType string

const (
	MonitorEventJoined    MonitorEventType = "joined"
	MonitorEventSubmitted MonitorEventType = "submitted"
)

// MonitorEvent is the JSON payload published on an exam's monitor channel.
type MonitorEvent struct {
	Type      MonitorEventType   `json:"type"`
	StudentID int                `json:"student_id"`
	AttemptID string             `json:"attempt_id,omitempty"`
	Status    model.SubmitStatus `json:"status,omitempty"`
	Answered  int                `json:"answered_count"`
	At        time.Time          `json:"at"`
}

// MonitorPublisher forwards session events to the admin live monitor.
type MonitorPublisher interface {
	Publish(ctx context.Context, assessmentID string, event MonitorEvent) error
}

// MonitorService publishes monitor events over Redis Pub/Sub, on the same
// channel the exam backend's monitor subscribes to.
type MonitorService struct {
	rdb *redis.Client
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(rdb *redis.Client) *MonitorService {
	return &MonitorService{rdb: rdb}
}

func (s *MonitorService) Publish(ctx context.Context, assessmentID string, event MonitorEvent) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal monitor event: %w", err)
	}
	return s.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(assessmentID), payload).Err()
}
