package signature

import (
	"fmt"

	"wechat-gateway/internal/common/errors"
)

// NewValidationError reports an unusable verifier configuration
func NewValidationError(format string, args ...interface{}) *errors.AppError {
	return errors.ConfigError("signature: " + fmt.Sprintf(format, args...))
}

// NewVerificationError reports a call that failed sender verification
func NewVerificationError(format string, args ...interface{}) *errors.AppError {
	return errors.SignatureError(fmt.Sprintf(format, args...))
}
