package keystore

import (
	"context"
	"errors"

	"github.com/Fantasim/hdvault/internal/session"
	"github.com/Fantasim/hdvault/internal/store"
	"github.com/Fantasim/hdvault/internal/vault"
	"github.com/Fantasim/hdvault/internal/wallet"
)

// ErrInvalidRequest reports malformed caller input (names, empty passwords).
var ErrInvalidRequest = errors.New("invalid request")

// failureReason maps an error to the audit reason category recorded with
// failed operations. It never includes error text.
func failureReason(err error) string {
	switch {
	case errors.Is(err, wallet.ErrEntropy):
		return "entropy"
	case errors.Is(err, wallet.ErrInvalidMnemonic):
		return "invalid_mnemonic:" + wallet.MnemonicFault(err)
	case errors.Is(err, wallet.ErrUnsupportedWordCount):
		return "unsupported_word_count"
	case errors.Is(err, session.ErrTooManyAttempts):
		return "too_many_attempts"
	case errors.Is(err, vault.ErrInvalidPasswordOrCorrupted):
		return "invalid_password_or_corrupted"
	case errors.Is(err, vault.ErrUnsupportedSchema):
		return "unsupported_schema"
	case errors.Is(err, session.ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, wallet.ErrUnknownChain):
		return "unknown_chain"
	case errors.Is(err, wallet.ErrUnsupportedCurve):
		return "unsupported_curve"
	case errors.Is(err, wallet.ErrDerivationFailed):
		return "derivation_failed"
	case errors.Is(err, store.ErrWalletNotFound):
		return "wallet_not_found"
	case errors.Is(err, store.ErrStaleRecord):
		return "stale_record"
	case errors.Is(err, store.ErrStorage):
		return "storage"
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, vault.ErrEmptyPassword), errors.Is(err, wallet.ErrEmptyPayload),
		errors.Is(err, wallet.ErrPayloadTooLarge):
		return "invalid_request"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
