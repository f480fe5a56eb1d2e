// Package vault seals mnemonics with a password using Argon2id and AES-256-GCM.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/crypto/argon2"

	"github.com/Fantasim/hdvault/internal/config"
	"github.com/Fantasim/hdvault/internal/models"
	"github.com/Fantasim/hdvault/internal/secure"
	"github.com/Fantasim/hdvault/internal/wallet"
)

// Schema versions of models.EncryptedMnemonic.
const (
	// SchemaV1 payloads were sealed with lighter Argon2id costs and no
	// associated data.
	SchemaV1 = 1
	// SchemaV2 binds the version and algorithm tag as GCM associated data.
	SchemaV2 = 2

	CurrentSchema = SchemaV2
)

// Algorithm is the algorithm tag stored with every payload.
const Algorithm = "argon2id/aes-256-gcm"

// LegacyV1Params are the KDF costs used by schema v1 payloads.
var LegacyV1Params = models.KDFParams{MemoryKiB: 19 * 1024, Iterations: 2, Parallelism: 1}

// ProductionParams are the current-generation KDF costs.
var ProductionParams = models.KDFParams{
	MemoryKiB:   config.Argon2MemoryKiB,
	Iterations:  config.Argon2Iterations,
	Parallelism: config.Argon2Parallelism,
}

// randReader supplies salts and nonces.
var randReader io.Reader = rand.Reader

// Encrypter seals and opens EncryptedMnemonic payloads.
// It is stateless apart from its KDF parameters and safe for concurrent use.
type Encrypter struct {
	params models.KDFParams
}

// New returns an Encrypter using ProductionParams.
func New() *Encrypter {
	return &Encrypter{params: ProductionParams}
}

// NewWithParams returns an Encrypter sealing new payloads with params.
// Bounds are the caller's responsibility (config.Validate enforces floors).
func NewWithParams(params models.KDFParams) *Encrypter {
	return &Encrypter{params: params}
}

// Params returns the KDF parameters used for new payloads.
func (e *Encrypter) Params() models.KDFParams {
	return e.params
}

// Encrypt seals the mnemonic under password with a fresh salt and nonce,
// using the current schema.
func (e *Encrypter) Encrypt(ctx context.Context, m *wallet.Mnemonic, password string) (models.EncryptedMnemonic, error) {
	return e.EncryptVersion(ctx, m, password, CurrentSchema)
}

// EncryptVersion seals with an explicit schema version. Schema v1 always uses
// LegacyV1Params. It exists so historical payloads can be reproduced.
func (e *Encrypter) EncryptVersion(ctx context.Context, m *wallet.Mnemonic, password string, version int) (models.EncryptedMnemonic, error) {
	if password == "" {
		return models.EncryptedMnemonic{}, ErrEmptyPassword
	}
	if m == nil || len(m.Bytes()) == 0 {
		return models.EncryptedMnemonic{}, fmt.Errorf("encrypt: %w", wallet.ErrInvalidMnemonic)
	}

	params := e.params
	switch version {
	case SchemaV1:
		params = LegacyV1Params
	case SchemaV2:
	default:
		return models.EncryptedMnemonic{}, fmt.Errorf("%w: version %d", ErrUnsupportedSchema, version)
	}

	salt := make([]byte, config.SaltLength)
	nonce := make([]byte, config.NonceLength)
	if _, err := io.ReadFull(randReader, salt); err != nil {
		return models.EncryptedMnemonic{}, fmt.Errorf("%w: read salt: %v", wallet.ErrEntropy, err)
	}
	if _, err := io.ReadFull(randReader, nonce); err != nil {
		return models.EncryptedMnemonic{}, fmt.Errorf("%w: read nonce: %v", wallet.ErrEntropy, err)
	}

	key, err := deriveKey(ctx, password, salt, params)
	if err != nil {
		return models.EncryptedMnemonic{}, err
	}
	defer secure.Zero(key)

	gcm, err := newGCM(key)
	if err != nil {
		return models.EncryptedMnemonic{}, err
	}

	ciphertext := gcm.Seal(nil, nonce, m.Bytes(), associatedData(version, Algorithm))

	slog.Debug("mnemonic encrypted",
		"schemaVersion", version,
		"kdfMemoryKiB", params.MemoryKiB,
		"kdfIterations", params.Iterations,
	)

	return models.EncryptedMnemonic{
		SchemaVersion: version,
		Algorithm:     Algorithm,
		KDF:           params,
		Salt:          salt,
		Nonce:         nonce,
		Ciphertext:    ciphertext,
	}, nil
}

// Decrypt re-derives the key from the stored salt and KDF parameters, then
// authenticates and opens the payload.
func (e *Encrypter) Decrypt(ctx context.Context, payload models.EncryptedMnemonic, password string) (*wallet.Mnemonic, error) {
	if err := checkPayload(payload); err != nil {
		return nil, err
	}

	key, err := deriveKey(ctx, password, payload.Salt, payload.KDF)
	if err != nil {
		return nil, err
	}
	defer secure.Zero(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, payload.Nonce, payload.Ciphertext, associatedData(payload.SchemaVersion, payload.Algorithm))
	if err != nil {
		return nil, ErrInvalidPasswordOrCorrupted
	}
	defer secure.Zero(plaintext)

	m, err := wallet.ValidateMnemonic(string(plaintext))
	if err != nil {
		// Authenticated but not a mnemonic: treat as corruption.
		return nil, ErrInvalidPasswordOrCorrupted
	}
	return m, nil
}

// NeedsUpgrade reports whether payload predates the current schema or was
// sealed with weaker KDF costs than this Encrypter uses.
func (e *Encrypter) NeedsUpgrade(payload models.EncryptedMnemonic) bool {
	if payload.SchemaVersion < CurrentSchema {
		return true
	}
	return payload.KDF.MemoryKiB < e.params.MemoryKiB || payload.KDF.Iterations < e.params.Iterations
}

func checkPayload(p models.EncryptedMnemonic) error {
	if p.SchemaVersion != SchemaV1 && p.SchemaVersion != SchemaV2 {
		return fmt.Errorf("%w: version %d", ErrUnsupportedSchema, p.SchemaVersion)
	}
	if p.Algorithm != Algorithm {
		return fmt.Errorf("%w: algorithm %q", ErrUnsupportedSchema, p.Algorithm)
	}

	k := p.KDF
	if k.Parallelism == 0 || uint32(k.Parallelism) > config.Argon2MaxParallelism ||
		k.Iterations == 0 || k.Iterations > config.Argon2MaxIterations ||
		k.MemoryKiB < 8*uint32(k.Parallelism) || k.MemoryKiB > config.Argon2MaxMemoryKiB {
		return fmt.Errorf("%w: kdf params out of range", ErrUnsupportedSchema)
	}

	if len(p.Salt) < 16 || len(p.Nonce) != config.NonceLength || len(p.Ciphertext) <= config.GCMTagLength {
		return ErrInvalidPasswordOrCorrupted
	}
	return nil
}

// associatedData binds the schema header into the GCM tag. v1 had none.
func associatedData(version int, algorithm string) []byte {
	if version == SchemaV1 {
		return nil
	}
	return fmt.Appendf(nil, "hdvault:v%d:%s", version, algorithm)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// deriveKey runs Argon2id on its own goroutine. A cancelled context abandons
// the computation; the key it eventually produces is zeroized and dropped.
func deriveKey(ctx context.Context, password string, salt []byte, p models.KDFParams) ([]byte, error) {
	pw := []byte(password)
	done := make(chan []byte, 1)

	go func() {
		defer secure.Zero(pw)
		done <- argon2.IDKey(pw, salt, p.Iterations, p.MemoryKiB, p.Parallelism, config.KeyLength)
	}()

	select {
	case key := <-done:
		return key, nil
	case <-ctx.Done():
		go func() { secure.Zero(<-done) }()
		return nil, fmt.Errorf("derive key: %w", ctx.Err())
	}
}
