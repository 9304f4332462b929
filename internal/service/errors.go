package service

import (
	"errors"

	"github.com/stemsi/exstem-session/internal/store"
)

// Session engine errors. Corruption, drift and staleness are self-healing
// and only ever logged; the rest are surfaced to the host.
var (
	ErrStorageCorrupted   = store.ErrStorageCorrupted
	ErrContentDrift       = errors.New("assessment content changed, progress cleared")
	ErrSessionExpired     = errors.New("session expired")
	ErrAlreadyCompleted   = errors.New("assessment already completed")
	ErrNoAnswerProvided   = errors.New("no answer provided")
	ErrRemoteUnavailable  = errors.New("remote unavailable")
	ErrPartialFlush       = errors.New("partial flush failure")
	ErrQuestionOutOfRange = errors.New("question index out of range")
	ErrUnknownQuestion    = errors.New("unknown question")
	ErrAttemptImmutable   = errors.New("attempt id already set")
	ErrNotLoaded          = errors.New("session not loaded")
)
