package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeSignature is returned when a webhook call fails sender verification
	ErrTypeSignature ErrorType = "signature_invalid"
	// ErrTypeTokenUnavailable is returned when the platform credential cannot be obtained
	ErrTypeTokenUnavailable ErrorType = "token_unavailable"
	// ErrTypeAccessTokenNotFound is returned when no user token is cached for an open id
	ErrTypeAccessTokenNotFound ErrorType = "access_token_not_found"
	// ErrTypeRemoteAPI wraps an error envelope returned by the platform
	ErrTypeRemoteAPI ErrorType = "remote_api"
	// ErrTypeDecode represents a payload that could not be parsed into the expected shape
	ErrTypeDecode ErrorType = "decode"
	// ErrTypeCacheUnavailable represents a credential store failure
	ErrTypeCacheUnavailable ErrorType = "cache_unavailable"
	// ErrTypeConnection represents connection-related errors
	ErrTypeConnection ErrorType = "connection"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
	// ErrTypeTimeout represents timeout errors
	ErrTypeTimeout ErrorType = "timeout"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	// PlatformCode is the errcode reported by the platform, unmodified
	PlatformCode int                    `json:"errcode,omitempty"`
	Cause        error                  `json:"-"`
	Context      map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Type == ErrTypeRemoteAPI {
		parts = append(parts, fmt.Sprintf("errcode=%d", e.PlatformCode))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// SignatureError reports a webhook request that failed sender verification.
func SignatureError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeSignature,
		Message: msg,
	}
}

// TokenUnavailableError reports that the platform credential could not be refreshed.
func TokenUnavailableError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeTokenUnavailable,
		Message: msg,
		Cause:   cause,
	}
}

// AccessTokenNotFoundError reports a missing cached user token. This is a caller
// sequencing bug (profile fetched before the code exchange), not a platform failure.
func AccessTokenNotFoundError(openID string) *AppError {
	return &AppError{
		Type:    ErrTypeAccessTokenNotFound,
		Message: "no cached access token",
		Context: map[string]interface{}{"openid": openID},
	}
}

// RemoteAPIError carries the platform's errcode/errmsg as returned.
func RemoteAPIError(code int, msg string) *AppError {
	return &AppError{
		Type:         ErrTypeRemoteAPI,
		Message:      msg,
		PlatformCode: code,
	}
}

// DecodeError creates a new decode error
func DecodeError(detail string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeDecode,
		Message: detail,
		Cause:   cause,
	}
}

// CacheUnavailableError creates a new credential store error
func CacheUnavailableError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeCacheUnavailable,
		Message: msg,
		Cause:   cause,
	}
}

// ConnectionError creates a new connection error
func ConnectionError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeConnection,
		Message: msg,
		Cause:   cause,
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// TimeoutError creates a new timeout error
func TimeoutError(operation string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeTimeout,
		Message: fmt.Sprintf("timeout during %s", operation),
		Cause:   cause,
	}
}

// IsType reports whether any AppError in err's chain has the given type.
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Type == errType {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// GetType returns the type of the outermost AppError, otherwise ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		return ErrTypeInternal
	}

	return appErr.Type
}

// PlatformCode returns the platform errcode carried by the first remote API
// error in err's chain.
func PlatformCode(err error) (int, bool) {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return 0, false
		}
		if appErr.Type == ErrTypeRemoteAPI {
			return appErr.PlatformCode, true
		}
		err = appErr.Cause
	}
	return 0, false
}

// IsRetryable reports whether err was caused by a transient condition
// (timeout, connection or credential store failure). Retrying is up to the caller.
func IsRetryable(err error) bool {
	return IsType(err, ErrTypeTimeout) ||
		IsType(err, ErrTypeConnection) ||
		IsType(err, ErrTypeCacheUnavailable)
}
