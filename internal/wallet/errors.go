package wallet

import (
	"errors"
	"fmt"
)

var (
	ErrEntropy              = errors.New("entropy source unavailable")
	ErrUnsupportedWordCount = errors.New("unsupported mnemonic word count")

	ErrInvalidMnemonic  = errors.New("invalid mnemonic")
	ErrWrongWordCount   = fmt.Errorf("%w: wrong word count", ErrInvalidMnemonic)
	ErrUnknownWord      = fmt.Errorf("%w: unknown word", ErrInvalidMnemonic)
	ErrChecksumMismatch = fmt.Errorf("%w: checksum mismatch", ErrInvalidMnemonic)

	ErrUnknownChain     = errors.New("unknown chain")
	ErrUnsupportedCurve = errors.New("unsupported curve")
	ErrDerivationFailed = errors.New("key derivation failed")
	ErrEmptyPayload     = errors.New("payload to sign is empty")
	ErrPayloadTooLarge  = errors.New("payload to sign is too large")
)

// MnemonicFault names which validation rule a mnemonic failed, for user feedback.
// It returns "" for errors that are not mnemonic validation failures.
func MnemonicFault(err error) string {
	switch {
	case errors.Is(err, ErrWrongWordCount):
		return "wrong_word_count"
	case errors.Is(err, ErrUnknownWord):
		return "unknown_word"
	case errors.Is(err, ErrChecksumMismatch):
		return "checksum_mismatch"
	case errors.Is(err, ErrInvalidMnemonic):
		return "invalid_mnemonic"
	default:
		return ""
	}
}
