package wallet

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/tyler-smith/go-bip39"

	"github.com/Fantasim/hdvault/internal/config"
	"github.com/Fantasim/hdvault/internal/secure"
)

// entropyReader is the OS-level random source used for new mnemonics.
var entropyReader io.Reader = rand.Reader

var englishWords = sync.OnceValue(func() map[string]struct{} {
	list := bip39.GetWordList()
	set := make(map[string]struct{}, len(list))
	for _, w := range list {
		set[w] = struct{}{}
	}
	return set
})

// Mnemonic is a validated BIP-39 phrase held in a zero-on-drop buffer.
// It refuses serialization and redacts itself in logs.
type Mnemonic struct {
	phrase *secure.Buffer
	words  int
}

// Seed is the 64-byte BIP-39 seed derived from a Mnemonic.
type Seed struct {
	buf *secure.Buffer
}

// Generate creates a new mnemonic with 12 (128-bit) or 24 (256-bit) words.
func Generate(wordCount int) (*Mnemonic, error) {
	var bits int
	switch wordCount {
	case config.MnemonicWords12:
		bits = config.EntropyBits12
	case config.MnemonicWords24:
		bits = config.EntropyBits24
	default:
		return nil, fmt.Errorf("%w: %d (want 12 or 24)", ErrUnsupportedWordCount, wordCount)
	}

	entropy := make([]byte, bits/8)
	defer secure.Zero(entropy)
	if _, err := io.ReadFull(entropyReader, entropy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntropy, err)
	}

	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("encode mnemonic: %w", err)
	}

	slog.Debug("mnemonic generated", "wordCount", wordCount)
	return newMnemonic(phrase, wordCount), nil
}

// ValidateMnemonic checks word count, word-list membership and checksum, in that order.
// Case and surrounding whitespace are normalized before validation.
func ValidateMnemonic(phrase string) (*Mnemonic, error) {
	words := strings.Fields(strings.ToLower(phrase))

	if n := len(words); n != config.MnemonicWords12 && n != config.MnemonicWords24 {
		return nil, fmt.Errorf("%w: got %d words, want 12 or 24", ErrWrongWordCount, n)
	}

	dict := englishWords()
	for i, w := range words {
		if _, ok := dict[w]; !ok {
			return nil, fmt.Errorf("%w at position %d", ErrUnknownWord, i+1)
		}
	}

	normalized := strings.Join(words, " ")
	entropy, err := bip39.EntropyFromMnemonic(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChecksumMismatch, err)
	}
	secure.Zero(entropy)

	slog.Debug("mnemonic validated", "wordCount", len(words))
	return newMnemonic(normalized, len(words)), nil
}

func newMnemonic(phrase string, words int) *Mnemonic {
	return &Mnemonic{phrase: secure.NewBuffer([]byte(phrase)), words: words}
}

// Phrase returns the space-separated words. The returned string cannot be
// zeroized, so it should only be produced at the outer boundary for display.
func (m *Mnemonic) Phrase() string {
	return string(m.phrase.Bytes())
}

// Bytes returns the phrase bytes without copying; valid until Wipe.
func (m *Mnemonic) Bytes() []byte {
	return m.phrase.Bytes()
}

// WordCount returns 12 or 24.
func (m *Mnemonic) WordCount() int {
	return m.words
}

// ToSeed derives the 64-byte BIP-39 seed. Identical inputs always give identical output.
func (m *Mnemonic) ToSeed(passphrase string) (*Seed, error) {
	if m.phrase.Wiped() {
		return nil, fmt.Errorf("mnemonic to seed: %w: mnemonic already wiped", ErrInvalidMnemonic)
	}

	seed := bip39.NewSeed(string(m.phrase.Bytes()), passphrase)
	if len(seed) != config.SeedLength {
		secure.Zero(seed)
		return nil, fmt.Errorf("mnemonic to seed: unexpected seed length %d", len(seed))
	}

	slog.Debug("seed derived from mnemonic", "seedLen", len(seed))
	return &Seed{buf: secure.NewBuffer(seed)}, nil
}

// Wipe zeroizes the phrase.
func (m *Mnemonic) Wipe() { m.phrase.Wipe() }

func (m *Mnemonic) String() string                 { return "[REDACTED mnemonic]" }
func (m *Mnemonic) GoString() string               { return "[REDACTED mnemonic]" }
func (m *Mnemonic) LogValue() slog.Value           { return slog.StringValue("[REDACTED mnemonic]") }
func (m *Mnemonic) MarshalJSON() ([]byte, error)   { return nil, secure.ErrNotSerializable }
func (m *Mnemonic) MarshalText() ([]byte, error)   { return nil, secure.ErrNotSerializable }
func (m *Mnemonic) MarshalBinary() ([]byte, error) { return nil, secure.ErrNotSerializable }

// SeedFromBytes copies raw seed bytes into a new Seed.
func SeedFromBytes(b []byte) *Seed {
	return &Seed{buf: secure.CopyBuffer(b)}
}

// Bytes returns the seed without copying; valid until Wipe.
func (s *Seed) Bytes() []byte { return s.buf.Bytes() }

// Len returns the seed length, 0 once wiped.
func (s *Seed) Len() int { return s.buf.Len() }

// Wipe zeroizes the seed.
func (s *Seed) Wipe() { s.buf.Wipe() }

func (s *Seed) String() string                 { return "[REDACTED seed]" }
func (s *Seed) GoString() string               { return "[REDACTED seed]" }
func (s *Seed) LogValue() slog.Value           { return slog.StringValue("[REDACTED seed]") }
func (s *Seed) MarshalJSON() ([]byte, error)   { return nil, secure.ErrNotSerializable }
func (s *Seed) MarshalText() ([]byte, error)   { return nil, secure.ErrNotSerializable }
func (s *Seed) MarshalBinary() ([]byte, error) { return nil, secure.ErrNotSerializable }
