package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionExpired is returned when no usable session key exists.
	ErrSessionExpired = errors.New("session expired")
	// ErrWalletLocked is the never-unlocked (or explicitly locked) flavour.
	ErrWalletLocked = fmt.Errorf("%w: wallet is locked", ErrSessionExpired)

	ErrTooManyAttempts = errors.New("too many failed unlock attempts")
)
