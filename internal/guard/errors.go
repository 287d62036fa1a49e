package guard

import (
	"errors"

	"github.com/joseph-ayodele/receipts-inbox/internal/common"
)

// Rejection reasons. Each is returned wrapped in an ADMISSION_REJECTED AppError.
var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrSenderNotAllowed = errors.New("sender not allowed")
	ErrEmptyContent     = errors.New("message has no content")
	ErrRateLimited      = errors.New("sender rate limited")
)

func reject(reason error, message string) error {
	return common.NewAppError(common.CodeAdmissionRejected, message, reason)
}
