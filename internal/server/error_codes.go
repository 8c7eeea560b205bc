package server

const (
	// Validation (1xxx)
	ErrCodeInvalidArgument     = 1000
	ErrCodeInvalidJSON         = 1001
	ErrCodeRequestTooLarge     = 1002
	ErrCodeInvalidQuery        = 1003
	ErrCodeInvalidID           = 1004
	ErrCodeContentTypeMismatch = 1005
	ErrCodeInvalidMediaType    = 1006
	ErrCodeMissingRequired     = 1009
	ErrCodeTooManyItems        = 1010

	// Domain state (2xxx)
	ErrCodeBatchNotFound       = 2001
	ErrCodeInvalidUploadToken  = 2002
	ErrCodeUploadTokenExpired  = 2003
	ErrCodeBlobNotFound        = 2004
	ErrCodeRecordingNotFound   = 2005
	ErrCodeSlotAlreadyFilled   = 2101
	ErrCodeBlobNotLinked       = 2102
	ErrCodeConflict            = 2103
	ErrCodeIdempotencyMismatch = 2104

	// Auth & limits (3xxx)
	ErrCodeUnauthorized      = 3001
	ErrCodeForbidden         = 3002
	ErrCodeResourceExhausted = 3003

	// Internal/system (4xxx)
	ErrCodeInternal       = 4001
	ErrCodeStoreFailure   = 4002
	ErrCodeStorageFailure = 4003
)

func defaultErrorCodeByStatus(status int) int {
	switch status {
	case 400:
		return ErrCodeInvalidArgument
	case 401:
		return ErrCodeUnauthorized
	case 403:
		return ErrCodeForbidden
	case 404:
		return ErrCodeBatchNotFound
	case 409:
		return ErrCodeConflict
	case 410:
		return ErrCodeUploadTokenExpired
	case 429:
		return ErrCodeResourceExhausted
	case 500:
		return ErrCodeInternal
	default:
		return 0
	}
}
