package service

import (
	"encoding/binary"
	"encoding/hex"
	"hash"
	"time"

	"github.com/stemsi/exstem-session/internal/model"
	"golang.org/x/crypto/blake2b"
)

// Fingerprint computes a stable, order-sensitive digest of the question set.
// Every field is length-prefixed so that ("ab","c") and ("a","bc") differ.
func Fingerprint(questions []model.Question) string {
	h, _ := blake2b.New256(nil) // nil key never errors

	writeInt(h, int64(len(questions)))
	for _, q := range questions {
		writeString(h, q.ID)
		writeString(h, string(q.Type))
		writeString(h, q.Text)
		writeInt(h, int64(q.OrderNum))
	}

	return hex.EncodeToString(h.Sum(nil))
}

func writeString(h hash.Hash, s string) {
	writeInt(h, int64(len(s)))
	h.Write([]byte(s))
}

func writeInt(h hash.Hash, n int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	h.Write(buf[:])
}

// ReconcileResult is the outcome of a content check.
type ReconcileResult struct {
	Valid  bool
	Record *model.SessionRecord
}

// CheckAndReconcile compares the stored fingerprint with a fresh one.
//   - no stored fingerprint: the record is stamped and kept
//   - equal: kept unchanged
//   - different: a new empty record stamped with fresh replaces it
//
// The caller persists the returned record and notifies the user on drift.
func CheckAndReconcile(stored *model.SessionRecord, fresh string, now time.Time) ReconcileResult {
	switch stored.ContentFingerprint {
	case "":
		stored.ContentFingerprint = fresh
		return ReconcileResult{Valid: true, Record: stored}
	case fresh:
		return ReconcileResult{Valid: true, Record: stored}
	}

	rec := model.NewSessionRecord(stored.AssessmentID, stored.AssessmentType, now)
	rec.ContentFingerprint = fresh
	return ReconcileResult{Valid: false, Record: rec}
}
