package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Kiosk / Auth ──────────────────────────────────────────────────
	ErrUnlockRequired     ErrCode = "UNLOCK_REQUIRED"
	ErrUnlockInvalid      ErrCode = "UNLOCK_INVALID"
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrAuthExpired        ErrCode = "AUTH_EXPIRED"
	ErrNotLoggedIn        ErrCode = "NOT_LOGGED_IN"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Session ───────────────────────────────────────────────────────
	ErrSessionActive   ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrNoSession       ErrCode = "NO_ACTIVE_SESSION"
	ErrExamUnavailable ErrCode = "EXAM_UNAVAILABLE"
	ErrQuestionUnknown ErrCode = "QUESTION_UNKNOWN"
	ErrAnswerMismatch  ErrCode = "ANSWER_TYPE_MISMATCH"
	ErrIndexOutOfRange ErrCode = "INDEX_OUT_OF_RANGE"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Backend ───────────────────────────────────────────────────────
	ErrBackendUnavailable ErrCode = "BACKEND_UNAVAILABLE"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Kiosk / Auth ──────────────────────────────────────────────────
	case ErrUnlockRequired:
		return "Perangkat terkunci. Masukkan PIN pengawas."
	case ErrUnlockInvalid:
		return "PIN pengawas salah."
	case ErrInvalidCredentials:
		return "NISN atau kata sandi salah."
	case ErrAuthExpired:
		return "Sesi Anda telah berakhir. Silakan login kembali."
	case ErrNotLoggedIn:
		return "Silakan login terlebih dahulu."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Session ───────────────────────────────────────────────────────
	case ErrSessionActive:
		return "Masih ada ujian yang sedang berlangsung."
	case ErrNoSession:
		return "Tidak ada ujian yang sedang berlangsung."
	case ErrExamUnavailable:
		return "Ujian tidak tersedia secara daring maupun luring."
	case ErrQuestionUnknown:
		return "Pertanyaan tidak ditemukan pada ujian ini."
	case ErrAnswerMismatch:
		return "Jenis jawaban tidak sesuai dengan jenis pertanyaan."
	case ErrIndexOutOfRange:
		return "Nomor pertanyaan di luar jangkauan."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."

	// ─── Backend ───────────────────────────────────────────────────────
	case ErrBackendUnavailable:
		return "Server ujian tidak dapat dihubungi."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan internal pada agen."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
