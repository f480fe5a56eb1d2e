// Package secure holds secret byte material that is zeroized when dropped.
package secure

import (
	"errors"
	"log/slog"
	"runtime"
	"sync"
)

// ErrNotSerializable is returned by every marshal method on secret types.
var ErrNotSerializable = errors.New("secret material is not serializable")

const redacted = "[REDACTED]"

// Buffer owns a byte slice holding secret material.
// Wipe zeroizes it explicitly; if the Buffer becomes unreachable first,
// a runtime cleanup zeroizes the backing array instead.
type Buffer struct {
	mu    sync.RWMutex
	b     []byte
	wiped bool
}

// NewBuffer takes ownership of b. The caller must not keep using b.
func NewBuffer(b []byte) *Buffer {
	buf := &Buffer{b: b}
	runtime.AddCleanup(buf, wipeBytes, b)
	return buf
}

// CopyBuffer copies b into a new Buffer, leaving b untouched.
func CopyBuffer(b []byte) *Buffer {
	dup := make([]byte, len(b))
	copy(dup, b)
	return NewBuffer(dup)
}

// Bytes returns the underlying slice, or nil after Wipe.
// The slice must not be retained beyond the current call.
func (s *Buffer) Bytes() []byte {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.wiped {
		return nil
	}
	return s.b
}

// Len returns the length of the secret, 0 after Wipe.
func (s *Buffer) Len() int {
	return len(s.Bytes())
}

// Wipe zeroizes the secret. Safe to call more than once.
func (s *Buffer) Wipe() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wiped {
		return
	}
	wipeBytes(s.b)
	s.wiped = true
}

// Wiped reports whether Wipe has been called.
func (s *Buffer) Wiped() bool {
	if s == nil {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wiped
}

func (s *Buffer) String() string   { return redacted }
func (s *Buffer) GoString() string { return redacted }

// LogValue keeps secrets out of slog output.
func (s *Buffer) LogValue() slog.Value { return slog.StringValue(redacted) }

func (s *Buffer) MarshalJSON() ([]byte, error) { return nil, ErrNotSerializable }
func (s *Buffer) MarshalText() ([]byte, error) { return nil, ErrNotSerializable }

// Zero overwrites b with zeros.
func Zero(b []byte) {
	wipeBytes(b)
}

func wipeBytes(b []byte) {
	clear(b)
	runtime.KeepAlive(b)
}
