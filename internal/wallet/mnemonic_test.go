package wallet

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Fantasim/hdvault/internal/secure"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("rng offline") }

func TestGenerate(t *testing.T) {
	for _, count := range []int{12, 24} {
		t.Run(fmt.Sprintf("%d_words", count), func(t *testing.T) {
			m, err := Generate(count)
			if err != nil {
				t.Fatalf("Generate(%d) error = %v", count, err)
			}
			defer m.Wipe()

			if m.WordCount() != count {
				t.Errorf("WordCount() = %d, want %d", m.WordCount(), count)
			}
			if got := len(strings.Fields(m.Phrase())); got != count {
				t.Errorf("phrase has %d words, want %d", got, count)
			}

			// Checksum law: a generated phrase always validates.
			again, err := ValidateMnemonic(m.Phrase())
			if err != nil {
				t.Fatalf("ValidateMnemonic(generated) error = %v", err)
			}
			again.Wipe()
		})
	}
}

func TestGenerateUnsupportedWordCount(t *testing.T) {
	for _, count := range []int{0, 11, 15, 18, 25} {
		if _, err := Generate(count); !errors.Is(err, ErrUnsupportedWordCount) {
			t.Errorf("Generate(%d) error = %v, want ErrUnsupportedWordCount", count, err)
		}
	}
}

func TestGenerateEntropyFailure(t *testing.T) {
	orig := entropyReader
	entropyReader = failingReader{}
	defer func() { entropyReader = orig }()

	if _, err := Generate(12); !errors.Is(err, ErrEntropy) {
		t.Fatalf("Generate() error = %v, want ErrEntropy", err)
	}
}

func TestValidateMnemonic(t *testing.T) {
	tests := []struct {
		name    string
		phrase  string
		wantErr error
	}{
		{"valid 12-word", testMnemonic12, nil},
		{"valid 24-word", testMnemonic24, nil},
		{"uppercase and extra whitespace", "  ABANDON abandon abandon abandon abandon abandon\tabandon abandon abandon abandon abandon About \n", nil},
		{"empty", "", ErrWrongWordCount},
		{"11 words", strings.Repeat("abandon ", 10) + "about", ErrWrongWordCount},
		{"13 words", testMnemonic12 + " abandon", ErrWrongWordCount},
		{"appended garbage", testMnemonic12 + " xyzzy", ErrWrongWordCount},
		{"unknown word", strings.Replace(testMnemonic12, "about", "aboot", 1), ErrUnknownWord},
		{"checksum mismatch 12", strings.TrimSpace(strings.Repeat("abandon ", 12)), ErrChecksumMismatch},
		{"checksum mismatch 24", strings.TrimSpace(strings.Repeat("abandon ", 24)), ErrChecksumMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ValidateMnemonic(tt.phrase)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateMnemonic() error = %v", err)
				}
				m.Wipe()
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateMnemonic() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidMnemonic) {
				t.Errorf("error %v should also match ErrInvalidMnemonic", err)
			}
		})
	}
}

func TestValidateMnemonicNormalizes(t *testing.T) {
	m, err := ValidateMnemonic("  ABANDON abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon ABOUT ")
	if err != nil {
		t.Fatal(err)
	}
	defer m.Wipe()

	if m.Phrase() != testMnemonic12 {
		t.Errorf("Phrase() = %q, want normalized %q", m.Phrase(), testMnemonic12)
	}
}

func TestValidateMnemonicFlippedWord(t *testing.T) {
	m, err := Generate(12)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Wipe()

	words := strings.Fields(m.Phrase())
	for i := range words {
		flipped := append([]string(nil), words...)
		flipped[i] += "x"

		_, err := ValidateMnemonic(strings.Join(flipped, " "))
		if !errors.Is(err, ErrInvalidMnemonic) {
			t.Errorf("flipping word %d: error = %v, want ErrInvalidMnemonic", i+1, err)
		}
	}
}

func TestUnknownWordReportsPositionOnly(t *testing.T) {
	_, err := ValidateMnemonic(strings.Replace(testMnemonic12, "about", "secretword", 1))
	if !errors.Is(err, ErrUnknownWord) {
		t.Fatalf("error = %v, want ErrUnknownWord", err)
	}
	if !strings.Contains(err.Error(), "position 12") {
		t.Errorf("error %q should report position 12", err)
	}
	if strings.Contains(err.Error(), "secretword") {
		t.Errorf("error %q should not echo user input", err)
	}
}

func TestMnemonicFault(t *testing.T) {
	_, errCount := ValidateMnemonic("abandon")
	_, errWord := ValidateMnemonic(strings.Replace(testMnemonic12, "about", "aboot", 1))
	_, errSum := ValidateMnemonic(strings.TrimSpace(strings.Repeat("abandon ", 12)))

	tests := []struct {
		err  error
		want string
	}{
		{errCount, "wrong_word_count"},
		{errWord, "unknown_word"},
		{errSum, "checksum_mismatch"},
		{errors.New("other"), ""},
	}
	for _, tt := range tests {
		if got := MnemonicFault(tt.err); got != tt.want {
			t.Errorf("MnemonicFault(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestToSeed(t *testing.T) {
	m, err := ValidateMnemonic(testMnemonic12)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Wipe()

	seed1, err := m.ToSeed("")
	if err != nil {
		t.Fatalf("ToSeed() error = %v", err)
	}
	defer seed1.Wipe()

	if seed1.Len() != 64 {
		t.Errorf("seed length = %d, want 64", seed1.Len())
	}

	seed2, err := m.ToSeed("")
	if err != nil {
		t.Fatal(err)
	}
	defer seed2.Wipe()

	if hex.EncodeToString(seed1.Bytes()) != hex.EncodeToString(seed2.Bytes()) {
		t.Error("ToSeed() not deterministic")
	}

	// BIP-39 reference vector (passphrase "TREZOR").
	trezor, err := m.ToSeed("TREZOR")
	if err != nil {
		t.Fatal(err)
	}
	defer trezor.Wipe()

	want := "c55257c360c07c72029aebc1b53c05ed0362ada38ead3e3e9efa3708e53495531f09a6987599d18264c1e1c92f2cf141630c7a3c4ab7c81b2f001698e7463b04"
	if got := hex.EncodeToString(trezor.Bytes()); got != want {
		t.Errorf("ToSeed(TREZOR) = %s, want %s", got, want)
	}
}

func TestToSeedAfterWipe(t *testing.T) {
	m, err := ValidateMnemonic(testMnemonic12)
	if err != nil {
		t.Fatal(err)
	}
	m.Wipe()

	if _, err := m.ToSeed(""); !errors.Is(err, ErrInvalidMnemonic) {
		t.Errorf("ToSeed() after Wipe error = %v, want ErrInvalidMnemonic", err)
	}
}

func TestSecretsRefuseSerialization(t *testing.T) {
	m, err := ValidateMnemonic(testMnemonic12)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Wipe()

	seed, err := m.ToSeed("")
	if err != nil {
		t.Fatal(err)
	}
	defer seed.Wipe()

	if _, err := json.Marshal(m); !errors.Is(err, secure.ErrNotSerializable) {
		t.Errorf("json.Marshal(mnemonic) error = %v", err)
	}
	if _, err := json.Marshal(seed); !errors.Is(err, secure.ErrNotSerializable) {
		t.Errorf("json.Marshal(seed) error = %v", err)
	}

	out := fmt.Sprintf("%v %+v %#v %s", m, seed, m, seed)
	if strings.Contains(out, "abandon") {
		t.Errorf("formatted secrets leaked phrase: %s", out)
	}
}

func TestSeedWipe(t *testing.T) {
	seed := SeedFromBytes(make([]byte, 64))
	seed.Wipe()
	if seed.Len() != 0 || seed.Bytes() != nil {
		t.Error("seed should be empty after Wipe")
	}
}
