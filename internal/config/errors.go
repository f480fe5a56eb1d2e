package config

import (
	"errors"
	"time"
)

// Sentinel errors for internal use.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// TransientError wraps an error that should be retried.
type TransientError struct {
	Err        error
	RetryAfter time.Duration // 0 = use default backoff
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps an error as transient (retriable).
func NewTransientError(err error) error {
	return &TransientError{Err: err}
}

// NewTransientErrorWithRetry wraps with explicit retry delay.
func NewTransientErrorWithRetry(err error, retryAfter time.Duration) error {
	return &TransientError{Err: err, RetryAfter: retryAfter}
}

// IsTransient returns true if the error is transient (retriable).
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// GetRetryAfter returns the retry delay if set, or 0.
func GetRetryAfter(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// Error codes shared with API clients via error responses.
const (
	ErrorEntropy           = "ERROR_ENTROPY"
	ErrorInvalidMnemonic   = "ERROR_INVALID_MNEMONIC"
	ErrorDecryption        = "ERROR_DECRYPTION"
	ErrorTooManyAttempts   = "ERROR_TOO_MANY_ATTEMPTS"
	ErrorUnsupportedSchema = "ERROR_UNSUPPORTED_SCHEMA"
	ErrorSessionExpired    = "ERROR_SESSION_EXPIRED"
	ErrorUnsupportedCurve  = "ERROR_UNSUPPORTED_CURVE"
	ErrorDerivationFailed  = "ERROR_DERIVATION_FAILED"
	ErrorStorage           = "ERROR_STORAGE"
	ErrorWalletNotFound    = "ERROR_WALLET_NOT_FOUND"
	ErrorInvalidChain      = "ERROR_INVALID_CHAIN"
	ErrorInvalidRequest    = "ERROR_INVALID_REQUEST"
	ErrorForbidden         = "ERROR_FORBIDDEN"
	ErrorInternal          = "ERROR_INTERNAL"
)
