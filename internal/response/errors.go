package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation            ErrCode = "VALIDATION_ERROR"
	ErrInvalidID             ErrCode = "INVALID_ID"
	ErrInvalidPayload        ErrCode = "INVALID_PAYLOAD"
	ErrInvalidAssessmentType ErrCode = "INVALID_ASSESSMENT_TYPE"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Session-specific ──────────────────────────────────────────────
	ErrSessionNotOpen     ErrCode = "SESSION_NOT_OPEN"
	ErrNoAnswerProvided   ErrCode = "NO_ANSWER_PROVIDED"
	ErrQuestionOutOfRange ErrCode = "QUESTION_OUT_OF_RANGE"
	ErrUnknownQuestion    ErrCode = "UNKNOWN_QUESTION"
	ErrAttemptConflict    ErrCode = "ATTEMPT_CONFLICT"
	ErrAssessmentDone     ErrCode = "ASSESSMENT_COMPLETED"
	ErrPartialFlush       ErrCode = "PARTIAL_FLUSH_FAILURE"
	ErrRemoteUnavailable  ErrCode = "REMOTE_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrSessionInvalidated:
		return "Sesi Anda telah berakhir. Silakan login kembali."
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."
	case ErrInvalidAssessmentType:
		return "Jenis asesmen harus quiz atau test."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."

	// ─── Session-specific ──────────────────────────────────────────────
	case ErrSessionNotOpen:
		return "Sesi asesmen belum dibuka."
	case ErrNoAnswerProvided:
		return "Jawaban belum diisi."
	case ErrQuestionOutOfRange:
		return "Nomor soal di luar jangkauan."
	case ErrUnknownQuestion:
		return "Soal tidak ditemukan pada asesmen ini."
	case ErrAttemptConflict:
		return "Percobaan asesmen tidak konsisten. Silakan muat ulang."
	case ErrAssessmentDone:
		return "Asesmen sudah diselesaikan."
	case ErrPartialFlush:
		return "Jawaban gagal dikirim ke server. Silakan coba lagi."
	case ErrRemoteUnavailable:
		return "Server asesmen sedang tidak tersedia. Silakan coba lagi."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
