package vault

import "errors"

var (
	// ErrInvalidPasswordOrCorrupted covers every authentication failure. A wrong
	// password and a tampered ciphertext are deliberately indistinguishable.
	ErrInvalidPasswordOrCorrupted = errors.New("invalid password or corrupted data")

	ErrUnsupportedSchema = errors.New("unsupported encrypted mnemonic schema")
	ErrEmptyPassword     = errors.New("password must not be empty")
)
