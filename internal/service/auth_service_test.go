package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_SingleLogin(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	auth := NewAuthService(&config.Config{JWTSecret: "test-secret"}, rdb)
	ctx := context.Background()

	first, err := auth.SignStudentToken(11, 2, time.Hour)
	require.NoError(t, err)
	claims, err := auth.ValidateToken(first)
	require.NoError(t, err)
	assert.Equal(t, 11, claims.UserID)
	assert.Equal(t, TokenTypeStudent, claims.TokenType)

	assert.ErrorIs(t, auth.ValidateStudentSession(ctx, 11, claims.ID), ErrNoActiveLogin)

	require.NoError(t, auth.RegisterLogin(ctx, claims))
	assert.NoError(t, auth.ValidateStudentSession(ctx, 11, claims.ID))

	second, err := auth.SignStudentToken(11, 2, time.Hour)
	require.NoError(t, err)
	newer, err := auth.ValidateToken(second)
	require.NoError(t, err)
	require.NoError(t, auth.RegisterLogin(ctx, newer))

	assert.ErrorIs(t, auth.ValidateStudentSession(ctx, 11, claims.ID), ErrLoginInvalidated)
}

func TestAuthService_RejectsForeignSignature(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: miniredis.RunT(t).Addr()})
	t.Cleanup(func() { rdb.Close() })

	ours := NewAuthService(&config.Config{JWTSecret: "ours"}, rdb)
	theirs := NewAuthService(&config.Config{JWTSecret: "theirs"}, rdb)

	token, err := theirs.SignStudentToken(1, 1, time.Hour)
	require.NoError(t, err)
	_, err = ours.ValidateToken(token)
	assert.Error(t, err)
}
