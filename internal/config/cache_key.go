package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the login registry key written by the exam backend.
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

// StudentScope returns the key prefix that isolates one student's session keys.
func (r *CacheKeyStruct) StudentScope(studentID int) string {
	return fmt.Sprintf("student:%d:", studentID)
}

// SessionKey returns the key of the persisted SessionRecord.
func (r *CacheKeyStruct) SessionKey(assessmentType, assessmentID string) string {
	return fmt.Sprintf("session:%s:%s", assessmentType, assessmentID)
}

// SessionPrefix returns the prefix shared by every SessionRecord key.
func (r *CacheKeyStruct) SessionPrefix() string {
	return "session:"
}

// AttemptKey returns the redundant attempt id lookup key.
func (r *CacheKeyStruct) AttemptKey(assessmentType, assessmentID string) string {
	return fmt.Sprintf("attempt:%s:%s", assessmentType, assessmentID)
}

// CompletedKey returns the completion sentinel key.
func (r *CacheKeyStruct) CompletedKey(assessmentType, assessmentID string) string {
	return fmt.Sprintf("completed:%s:%s", assessmentType, assessmentID)
}

// TimerKey returns the key of the persisted TimerRecord.
// Timers are keyed by assessment id only.
func (r *CacheKeyStruct) TimerKey(assessmentID string) string {
	return fmt.Sprintf("timer:%s", assessmentID)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()
