package handlers

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Fantasim/hdvault/internal/config"
	"github.com/Fantasim/hdvault/internal/keystore"
	"github.com/Fantasim/hdvault/internal/models"
	"github.com/Fantasim/hdvault/internal/session"
	"github.com/Fantasim/hdvault/internal/store"
	"github.com/Fantasim/hdvault/internal/vault"
	"github.com/Fantasim/hdvault/internal/wallet"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, models.APIError{
		Error: models.APIErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w: body exceeds %d bytes", keystore.ErrInvalidRequest, maxErr.Limit)
		}
		return fmt.Errorf("%w: malformed JSON body", keystore.ErrInvalidRequest)
	}
	if dec.Decode(&struct{}{}) != io.EOF {
		return fmt.Errorf("%w: body must hold a single JSON object", keystore.ErrInvalidRequest)
	}
	return nil
}

// writeServiceError maps a keystore error to its API status and code.
// Messages are fixed per kind; error text only reaches the log.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	status, code, message := classify(err)

	attrs := []any{"op", op, "code", code, "error", err}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", attrs...)
	} else {
		slog.Warn("request rejected", attrs...)
	}

	writeError(w, status, code, message)
}

func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, wallet.ErrInvalidMnemonic):
		return http.StatusBadRequest, config.ErrorInvalidMnemonic, "invalid mnemonic: " + wallet.MnemonicFault(err)
	case errors.Is(err, wallet.ErrUnknownChain):
		return http.StatusBadRequest, config.ErrorInvalidChain, "unsupported chain"
	case errors.Is(err, keystore.ErrInvalidRequest):
		// Validation messages are built from constants, never from secrets.
		return http.StatusBadRequest, config.ErrorInvalidRequest, err.Error()
	case errors.Is(err, vault.ErrEmptyPassword):
		return http.StatusBadRequest, config.ErrorInvalidRequest, "password must not be empty"
	case errors.Is(err, wallet.ErrUnsupportedWordCount):
		return http.StatusBadRequest, config.ErrorInvalidRequest, "word count must be 12 or 24"
	case errors.Is(err, wallet.ErrEmptyPayload), errors.Is(err, wallet.ErrPayloadTooLarge):
		return http.StatusBadRequest, config.ErrorInvalidRequest, "payload must be 1 byte to 1 MiB"
	case errors.Is(err, session.ErrTooManyAttempts):
		return http.StatusTooManyRequests, config.ErrorTooManyAttempts, "too many failed attempts, retry later"
	case errors.Is(err, vault.ErrInvalidPasswordOrCorrupted):
		return http.StatusUnauthorized, config.ErrorDecryption, "invalid password or corrupted data"
	case errors.Is(err, vault.ErrUnsupportedSchema):
		return http.StatusUnprocessableEntity, config.ErrorUnsupportedSchema, "unsupported encryption schema"
	case errors.Is(err, session.ErrSessionExpired):
		return http.StatusLocked, config.ErrorSessionExpired, "wallet is locked, unlock it first"
	case errors.Is(err, wallet.ErrUnsupportedCurve):
		return http.StatusUnprocessableEntity, config.ErrorUnsupportedCurve, "unsupported curve"
	case errors.Is(err, wallet.ErrDerivationFailed):
		return http.StatusUnprocessableEntity, config.ErrorDerivationFailed, "key derivation failed"
	case errors.Is(err, store.ErrWalletNotFound):
		return http.StatusNotFound, config.ErrorWalletNotFound, "wallet not found"
	case errors.Is(err, store.ErrWalletExists):
		return http.StatusConflict, config.ErrorStorage, "wallet already exists"
	case errors.Is(err, store.ErrStaleRecord):
		return http.StatusConflict, config.ErrorStorage, "wallet changed concurrently, retry"
	case errors.Is(err, store.ErrStorage):
		return http.StatusInternalServerError, config.ErrorStorage, "storage failure"
	case errors.Is(err, wallet.ErrEntropy):
		return http.StatusInternalServerError, config.ErrorEntropy, "entropy source unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, config.ErrorInternal, "request cancelled"
	default:
		return http.StatusInternalServerError, config.ErrorInternal, "internal error"
	}
}

// decodeHex accepts hex with or without a 0x prefix.
func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not valid hex", keystore.ErrInvalidRequest)
	}
	return b, nil
}
