package config

import "time"

// BIP-44 / BIP-84 derivation constants.
const (
	BIP44Purpose    = 44
	BIP84Purpose    = 84
	BTCCoinType     = 0
	BTCTestCoinType = 1
	ETHCoinType     = 60
	BSCCoinType     = 60 // BSC reuses the Ethereum coin type
	TRXCoinType     = 195
	SOLCoinType     = 501
)

// Mnemonic
const (
	MnemonicWords12   = 12
	MnemonicWords24   = 24
	EntropyBits12     = 128
	EntropyBits24     = 256
	SeedLength        = 64
	MaxWalletNameLen  = 64
	MaxSignPayloadLen = 1 << 20
)

// Encryption (Argon2id + AES-256-GCM)
const (
	SaltLength   = 32
	NonceLength  = 12
	GCMTagLength = 16
	KeyLength    = 32

	Argon2MemoryKiB   = 64 * 1024 // 64 MiB
	Argon2Iterations  = 3
	Argon2Parallelism = 4

	Argon2MinMemoryKiB  = 64 * 1024
	Argon2MinIterations = 3

	// Upper bounds accepted when decrypting stored payloads.
	Argon2MaxMemoryKiB   = 4 * 1024 * 1024
	Argon2MaxIterations  = 64
	Argon2MaxParallelism = 64
)

// Session
const (
	DefaultSessionTTL = 15 * time.Minute
	MinSessionTTL     = 30 * time.Second
	MaxSessionTTL     = 24 * time.Hour

	DefaultMaxUnlockFailures = 5
	DefaultUnlockCooldown    = 30 * time.Second
)

// Audit
const (
	DefaultAuditBufferSize = 256
	AuditWriteTimeout      = 5 * time.Second
)

// Storage retry for transient SQLite busy/locked errors.
const (
	StorageRetryAttempts  = 3
	StorageRetryBackoff   = 50 * time.Millisecond
	StorageBusyRetryAfter = 250 * time.Millisecond
)

// Server
const (
	ServerReadTimeout    = 30 * time.Second
	ServerWriteTimeout   = 60 * time.Second
	ServerIdleTimeout    = 120 * time.Second
	ServerMaxHeaderBytes = 1 << 20
	ServerMaxBodyBytes   = 2 << 20
	ShutdownTimeout      = 15 * time.Second
)

// Logging
const (
	LogFilePrefix = "hdvault-"
	LogMaxAgeDays = 30
)

// Database
const (
	DBBusyTimeout = 5000 // milliseconds
)
