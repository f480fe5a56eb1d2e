package models

import "time"

// Chain identifies a supported blockchain.
type Chain string

const (
	ChainBTC        Chain = "BTC"
	ChainBTCTestnet Chain = "BTC_TESTNET"
	ChainETH        Chain = "ETH"
	ChainBSC        Chain = "BSC"
	ChainTRX        Chain = "TRX"
	ChainSOL        Chain = "SOL"
)

// AllChains is the ordered list of supported chains.
var AllChains = []Chain{ChainBTC, ChainBTCTestnet, ChainETH, ChainBSC, ChainTRX, ChainSOL}

// Curve is the signature curve family a chain derives keys on.
type Curve string

const (
	CurveSecp256k1 Curve = "secp256k1"
	CurveEd25519   Curve = "ed25519"
)

// DerivedAccount is the public result of deriving a chain account.
// It never carries private material and is persisted as plaintext metadata.
type DerivedAccount struct {
	Chain          Chain  `json:"chain"`
	AccountIndex   uint32 `json:"accountIndex"`
	DerivationPath string `json:"derivationPath"`
	Address        string `json:"address"`
	PublicKey      []byte `json:"publicKey"`
}

// KDFParams are the Argon2id cost parameters an EncryptedMnemonic was sealed with.
type KDFParams struct {
	MemoryKiB   uint32 `json:"memoryKiB"`
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
}

// EncryptedMnemonic is the only persisted representation of a mnemonic.
type EncryptedMnemonic struct {
	SchemaVersion int       `json:"schemaVersion"`
	Algorithm     string    `json:"algorithm"`
	KDF           KDFParams `json:"kdf"`
	Salt          []byte    `json:"salt"`
	Nonce         []byte    `json:"nonce"`
	Ciphertext    []byte    `json:"ciphertext"`
}

// WalletRecord is the persisted layout of one wallet.
type WalletRecord struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Encrypted EncryptedMnemonic `json:"encrypted"`
	Accounts  []DerivedAccount  `json:"accounts"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// WalletSummary is the list view of a wallet, without ciphertext.
type WalletSummary struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Accounts  []DerivedAccount `json:"accounts"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Signature is the result of signing a payload with a derived key.
type Signature struct {
	Chain     Chain  `json:"chain"`
	Address   string `json:"address"`
	PublicKey []byte `json:"publicKey"`
	Signature []byte `json:"signature"`
}

// Operation tags a security-relevant action in the audit log.
type Operation string

const (
	OpCreateWallet   Operation = "create_wallet"
	OpImportWallet   Operation = "import_wallet"
	OpUnlockWallet   Operation = "unlock_wallet"
	OpLockWallet     Operation = "lock_wallet"
	OpDerive         Operation = "derive"
	OpSign           Operation = "sign"
	OpExportMnemonic Operation = "export_mnemonic"
	OpChangePassword Operation = "change_password"
	OpDeleteWallet   Operation = "delete_wallet"
	OpSessionExpired Operation = "session_expired"
)

// Outcome is the result of an audited operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Severity ranks audit events; exports are always elevated.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityElevated Severity = "elevated"
)

// AuditEvent is one append-only audit log entry. Metadata must never hold secrets.
type AuditEvent struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Operation Operation         `json:"operation"`
	WalletID  string            `json:"walletId"`
	Outcome   Outcome           `json:"outcome"`
	Severity  Severity          `json:"severity"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

// APIErrorDetail holds the error code and message.
type APIErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIResponse is the standard success envelope.
type APIResponse struct {
	Data interface{} `json:"data"`
}
