package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_SessionDefaults(t *testing.T) {
	for _, k := range []string{"STORE_BACKEND", "SESSION_STALE_HOURS", "REMOTE_RETRY_ATTEMPTS", "REMOTE_RETRY_DELAY_MS", "RESET_TIMER_ON_CONTENT_DRIFT", "COMPLETED_RETENTION_MINUTES", "IDLE_RETENTION_MINUTES"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, StoreBackendRedis, cfg.StoreBackend)
	assert.Equal(t, 24*time.Hour, cfg.SessionStaleAfter)
	assert.Equal(t, 3, cfg.RemoteRetryAttempts)
	assert.Equal(t, time.Second, cfg.RemoteRetryDelay)
	assert.False(t, cfg.ResetTimerOnContentDrift)
	assert.Equal(t, 10*time.Minute, cfg.CompletedRetention)
	assert.Equal(t, 2*time.Hour, cfg.IdleRetention)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("SESSION_STALE_HOURS", "6")
	t.Setenv("REMOTE_RETRY_ATTEMPTS", "not-a-number")
	t.Setenv("RESET_TIMER_ON_CONTENT_DRIFT", "true")
	t.Setenv("ALLOWED_ORIGINS", " https://a.sch.id , ,https://b.sch.id")

	cfg := Load()
	assert.Equal(t, StoreBackendMemory, cfg.StoreBackend)
	assert.Equal(t, 6*time.Hour, cfg.SessionStaleAfter)
	assert.Equal(t, 3, cfg.RemoteRetryAttempts)
	assert.True(t, cfg.ResetTimerOnContentDrift)
	assert.Equal(t, []string{"https://a.sch.id", "https://b.sch.id"}, cfg.AllowedOrigins)
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "student:7:", CacheKey.StudentScope(7))
	assert.Equal(t, "session:quiz:abc", CacheKey.SessionKey("quiz", "abc"))
	assert.Equal(t, "attempt:test:abc", CacheKey.AttemptKey("test", "abc"))
	assert.Equal(t, "completed:quiz:abc", CacheKey.CompletedKey("quiz", "abc"))
	assert.Equal(t, "timer:abc", CacheKey.TimerKey("abc"))
	assert.Equal(t, "exam:abc:monitor", CacheKey.ExamMonitorChannel("abc"))
}
