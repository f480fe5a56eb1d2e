package secure

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestBufferWipe(t *testing.T) {
	raw := []byte{1, 2, 3, 4}
	buf := NewBuffer(raw)

	if buf.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", buf.Len())
	}

	buf.Wipe()

	for i, b := range raw {
		if b != 0 {
			t.Errorf("byte %d = %d after Wipe, want 0", i, b)
		}
	}
	if buf.Bytes() != nil {
		t.Error("Bytes() after Wipe should be nil")
	}
	if !buf.Wiped() {
		t.Error("Wiped() = false after Wipe")
	}

	// Second wipe is a no-op.
	buf.Wipe()
}

func TestCopyBufferLeavesSourceIntact(t *testing.T) {
	src := []byte{9, 9, 9}
	buf := CopyBuffer(src)
	buf.Wipe()

	for i, b := range src {
		if b != 9 {
			t.Errorf("source byte %d = %d, want 9", i, b)
		}
	}
}

func TestBufferRedaction(t *testing.T) {
	buf := NewBuffer([]byte("hunter2"))
	defer buf.Wipe()

	if got := fmt.Sprintf("%v %s %#v", buf, buf, buf); got != "[REDACTED] [REDACTED] [REDACTED]" {
		t.Errorf("formatted buffer = %q", got)
	}

	if _, err := json.Marshal(buf); !errors.Is(err, ErrNotSerializable) {
		t.Errorf("json.Marshal() error = %v, want ErrNotSerializable", err)
	}
}

func TestNilBuffer(t *testing.T) {
	var buf *Buffer
	buf.Wipe()
	if buf.Bytes() != nil || buf.Len() != 0 || !buf.Wiped() {
		t.Error("nil buffer should behave as wiped")
	}
}
