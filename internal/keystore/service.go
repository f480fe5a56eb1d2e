// Package keystore is the core facade: wallet lifecycle, derivation and
// signing, each audited and mediated by the session manager.
package keystore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Fantasim/hdvault/internal/audit"
	"github.com/Fantasim/hdvault/internal/config"
	"github.com/Fantasim/hdvault/internal/models"
	"github.com/Fantasim/hdvault/internal/session"
	"github.com/Fantasim/hdvault/internal/store"
	"github.com/Fantasim/hdvault/internal/vault"
	"github.com/Fantasim/hdvault/internal/wallet"
)

// Store is the persistence the facade needs. store.DB implements it.
type Store interface {
	Save(ctx context.Context, rec models.WalletRecord) error
	Load(ctx context.Context, walletID string) (models.WalletRecord, error)
	Delete(ctx context.Context, walletID string) error
	UpdateEncryptedMnemonic(ctx context.Context, walletID string, prevSalt []byte, enc models.EncryptedMnemonic) error
	SaveAccount(ctx context.Context, walletID string, acct models.DerivedAccount) error
	ListWallets(ctx context.Context) ([]models.WalletSummary, error)
	ListAuditEvents(ctx context.Context, f store.AuditFilter) ([]models.AuditEvent, error)
}

// Auditor records security-relevant operations. audit.Log implements it.
type Auditor interface {
	Record(ctx context.Context, op models.Operation, walletID string, outcome models.Outcome, opts ...audit.Option)
}

// Service implements the wallet operations exposed to the UI layer.
type Service struct {
	store         Store
	vault         *vault.Encrypter
	sessions      *session.Manager
	auditor       Auditor
	defaultChains []models.Chain
	now           func() time.Time
}

// New wires the facade. defaultChains are used when a create or import
// request names no chains.
func New(st Store, v *vault.Encrypter, sessions *session.Manager, auditor Auditor, defaultChains []models.Chain) *Service {
	return &Service{
		store:         st,
		vault:         v,
		sessions:      sessions,
		auditor:       auditor,
		defaultChains: defaultChains,
		now:           time.Now,
	}
}

// CreateRequest describes a new wallet.
type CreateRequest struct {
	Name      string
	Password  string
	WordCount int // 12 or 24; 0 means 12
	Chains    []models.Chain
}

// CreateResult carries the one and only copy of the new mnemonic handed out
// for backup. The caller must Wipe it once displayed.
type CreateResult struct {
	WalletID string
	Mnemonic *wallet.Mnemonic
	Accounts []models.DerivedAccount
}

// ImportRequest describes a wallet restored from an existing phrase.
type ImportRequest struct {
	Name     string
	Phrase   string
	Password string
	Chains   []models.Chain
}

// ImportResult is the public outcome of an import.
type ImportResult struct {
	WalletID string
	Accounts []models.DerivedAccount
}

// DeriveOrSignRequest selects an account; an empty Payload derives, a
// non-empty one signs.
type DeriveOrSignRequest struct {
	Chain        models.Chain
	AccountIndex uint32
	Payload      []byte
}

// DeriveOrSignResult holds the derived account and, when signing, the signature.
type DeriveOrSignResult struct {
	Account   models.DerivedAccount
	Signature *models.Signature
}

// WalletStatus is a wallet summary with its live session state.
type WalletStatus struct {
	models.WalletSummary
	State     session.State `json:"state"`
	ExpiresAt *time.Time    `json:"expiresAt,omitempty"`
}

// CreateWallet generates a mnemonic, derives the first account per chain and
// stores the encrypted mnemonic. It does not unlock the wallet.
func (s *Service) CreateWallet(ctx context.Context, req CreateRequest) (CreateResult, error) {
	res, err := s.createWallet(ctx, req)
	if err != nil {
		s.auditor.Record(ctx, models.OpCreateWallet, "", models.OutcomeFailure, audit.WithReason(failureReason(err)))
		return CreateResult{}, err
	}
	s.auditor.Record(ctx, models.OpCreateWallet, res.WalletID, models.OutcomeSuccess,
		audit.WithMetadata("wordCount", strconv.Itoa(res.Mnemonic.WordCount())),
		audit.WithMetadata("chains", chainList(res.Accounts)),
	)
	return res, nil
}

func (s *Service) createWallet(ctx context.Context, req CreateRequest) (CreateResult, error) {
	name, chains, err := s.validateNew(req.Name, req.Password, req.Chains)
	if err != nil {
		return CreateResult{}, err
	}

	words := req.WordCount
	if words == 0 {
		words = config.MnemonicWords12
	}
	m, err := wallet.Generate(words)
	if err != nil {
		return CreateResult{}, err
	}

	id, accounts, err := s.persistNew(ctx, name, m, req.Password, chains)
	if err != nil {
		m.Wipe()
		return CreateResult{}, err
	}

	slog.Info("wallet created", "walletID", id, "wordCount", words, "chains", len(chains))
	return CreateResult{WalletID: id, Mnemonic: m, Accounts: accounts}, nil
}

// ImportWallet restores a wallet from a phrase. The phrase is fully
// validated before anything is written.
func (s *Service) ImportWallet(ctx context.Context, req ImportRequest) (ImportResult, error) {
	res, err := s.importWallet(ctx, req)
	if err != nil {
		s.auditor.Record(ctx, models.OpImportWallet, "", models.OutcomeFailure, audit.WithReason(failureReason(err)))
		return ImportResult{}, err
	}
	s.auditor.Record(ctx, models.OpImportWallet, res.WalletID, models.OutcomeSuccess,
		audit.WithMetadata("chains", chainList(res.Accounts)),
	)
	return res, nil
}

func (s *Service) importWallet(ctx context.Context, req ImportRequest) (ImportResult, error) {
	name, chains, err := s.validateNew(req.Name, req.Password, req.Chains)
	if err != nil {
		return ImportResult{}, err
	}

	m, err := wallet.ValidateMnemonic(req.Phrase)
	if err != nil {
		return ImportResult{}, err
	}
	defer m.Wipe()

	id, accounts, err := s.persistNew(ctx, name, m, req.Password, chains)
	if err != nil {
		return ImportResult{}, err
	}

	slog.Info("wallet imported", "walletID", id, "wordCount", m.WordCount(), "chains", len(chains))
	return ImportResult{WalletID: id, Accounts: accounts}, nil
}

// persistNew derives account 0 on each chain, seals the mnemonic and saves the record.
func (s *Service) persistNew(ctx context.Context, name string, m *wallet.Mnemonic, password string, chains []wallet.ChainConfig) (string, []models.DerivedAccount, error) {
	seed, err := m.ToSeed("")
	if err != nil {
		return "", nil, err
	}
	accounts, err := wallet.DeriveAccounts(seed, chains)
	seed.Wipe()
	if err != nil {
		return "", nil, err
	}

	enc, err := s.vault.Encrypt(ctx, m, password)
	if err != nil {
		return "", nil, err
	}

	now := s.now().UTC()
	rec := models.WalletRecord{
		ID:        uuid.NewString(),
		Name:      name,
		Encrypted: enc,
		Accounts:  accounts,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := withRetry(ctx, "save wallet", func() error { return s.store.Save(ctx, rec) }); err != nil {
		return "", nil, err
	}
	return rec.ID, accounts, nil
}

// UnlockWallet decrypts the wallet into a session and returns its expiry.
func (s *Service) UnlockWallet(ctx context.Context, walletID, password string) (time.Time, error) {
	return s.sessions.Unlock(ctx, walletID, password)
}

// LockWallet zeroizes the wallet's session key.
func (s *Service) LockWallet(ctx context.Context, walletID string) {
	held := s.sessions.Lock(walletID)
	s.auditor.Record(ctx, models.OpLockWallet, walletID, models.OutcomeSuccess,
		audit.WithMetadata("hadSession", strconv.FormatBool(held)),
	)
}

// DeriveOrSign derives the requested account, and signs Payload with it when
// one is given. It requires an unlocked session.
func (s *Service) DeriveOrSign(ctx context.Context, walletID string, req DeriveOrSignRequest) (DeriveOrSignResult, error) {
	op := models.OpDerive
	if len(req.Payload) > 0 {
		op = models.OpSign
	}
	meta := []audit.Option{
		audit.WithMetadata("chain", string(req.Chain)),
		audit.WithMetadata("accountIndex", strconv.FormatUint(uint64(req.AccountIndex), 10)),
	}

	res, err := s.deriveOrSign(ctx, walletID, req)
	if err != nil {
		s.auditor.Record(ctx, op, walletID, models.OutcomeFailure, append(meta, audit.WithReason(failureReason(err)))...)
		return DeriveOrSignResult{}, err
	}
	s.auditor.Record(ctx, op, walletID, models.OutcomeSuccess, meta...)
	return res, nil
}

func (s *Service) deriveOrSign(ctx context.Context, walletID string, req DeriveOrSignRequest) (DeriveOrSignResult, error) {
	chain, err := wallet.LookupChain(req.Chain)
	if err != nil {
		return DeriveOrSignResult{}, err
	}

	var res DeriveOrSignResult
	err = s.sessions.WithKey(walletID, func(seed *wallet.Seed) error {
		acct, err := wallet.DeriveAccount(seed, chain, req.AccountIndex)
		if err != nil {
			return err
		}
		res.Account = acct

		if len(req.Payload) == 0 {
			return nil
		}
		sig, err := wallet.Sign(seed, chain, req.AccountIndex, req.Payload)
		if err != nil {
			return err
		}
		res.Signature = &sig
		return nil
	})
	if err != nil {
		return DeriveOrSignResult{}, err
	}

	// The account is public metadata; failing to remember it is not fatal.
	if err := withRetry(ctx, "save account", func() error { return s.store.SaveAccount(ctx, walletID, res.Account) }); err != nil {
		slog.Warn("failed to record derived account", "walletID", walletID, "chain", chain.ID, "error", err)
	}
	return res, nil
}

// ExportMnemonic re-authenticates with the password and returns the phrase.
// It is always audited with elevated severity. The caller must Wipe the result.
func (s *Service) ExportMnemonic(ctx context.Context, walletID, password string) (*wallet.Mnemonic, error) {
	m, err := s.sessions.Reauthenticate(ctx, walletID, password)
	if err != nil {
		s.auditor.Record(ctx, models.OpExportMnemonic, walletID, models.OutcomeFailure,
			audit.WithSeverity(models.SeverityElevated),
			audit.WithReason(failureReason(err)),
		)
		return nil, err
	}

	s.auditor.Record(ctx, models.OpExportMnemonic, walletID, models.OutcomeSuccess,
		audit.WithSeverity(models.SeverityElevated),
	)
	slog.Warn("mnemonic exported", "walletID", walletID)
	return m, nil
}

// ChangePassword re-encrypts the mnemonic under newPassword with the current
// schema and KDF parameters.
func (s *Service) ChangePassword(ctx context.Context, walletID, oldPassword, newPassword string) error {
	if err := s.changePassword(ctx, walletID, oldPassword, newPassword); err != nil {
		s.auditor.Record(ctx, models.OpChangePassword, walletID, models.OutcomeFailure, audit.WithReason(failureReason(err)))
		return err
	}
	s.auditor.Record(ctx, models.OpChangePassword, walletID, models.OutcomeSuccess)
	return nil
}

func (s *Service) changePassword(ctx context.Context, walletID, oldPassword, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("%w: new password must not be empty", ErrInvalidRequest)
	}

	return s.sessions.Rekey(ctx, walletID, oldPassword, func(m *wallet.Mnemonic, prev models.EncryptedMnemonic) error {
		enc, err := s.vault.Encrypt(ctx, m, newPassword)
		if err != nil {
			return err
		}
		if err := withRetry(ctx, "update encrypted mnemonic", func() error {
			return s.store.UpdateEncryptedMnemonic(ctx, walletID, prev.Salt, enc)
		}); err != nil {
			return err
		}

		slog.Info("wallet password changed", "walletID", walletID, "schemaVersion", enc.SchemaVersion)
		return nil
	})
}

// DeleteWallet locks the wallet's session and securely removes its record.
// Both happen under the wallet's session lock, so a concurrent unlock cannot
// leave a key behind. Audit events for the wallet are kept.
func (s *Service) DeleteWallet(ctx context.Context, walletID string) error {
	err := s.sessions.Purge(walletID, func() error {
		return withRetry(ctx, "delete wallet", func() error { return s.store.Delete(ctx, walletID) })
	})
	if err != nil {
		s.auditor.Record(ctx, models.OpDeleteWallet, walletID, models.OutcomeFailure, audit.WithReason(failureReason(err)))
		return err
	}
	s.auditor.Record(ctx, models.OpDeleteWallet, walletID, models.OutcomeSuccess)
	return nil
}

// ListWallets returns every wallet with its session state.
func (s *Service) ListWallets(ctx context.Context) ([]WalletStatus, error) {
	summaries, err := s.store.ListWallets(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]WalletStatus, 0, len(summaries))
	for _, w := range summaries {
		st := WalletStatus{WalletSummary: w, State: s.sessions.State(w.ID)}
		if exp, ok := s.sessions.ExpiresAt(w.ID); ok && st.State == session.StateUnlocked {
			st.ExpiresAt = &exp
		}
		out = append(out, st)
	}
	return out, nil
}

// AuditTrail returns the wallet's audit events, newest first. limit <= 0 means all.
func (s *Service) AuditTrail(ctx context.Context, walletID string, limit int) ([]models.AuditEvent, error) {
	return s.store.ListAuditEvents(ctx, store.AuditFilter{WalletID: walletID, Limit: limit})
}

// SupportedChains lists the chain registry.
func (s *Service) SupportedChains() []wallet.ChainConfig {
	return wallet.SupportedChains()
}

// validateNew checks the shared inputs of create and import.
func (s *Service) validateNew(name, password string, ids []models.Chain) (string, []wallet.ChainConfig, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > config.MaxWalletNameLen {
		return "", nil, fmt.Errorf("%w: wallet name must be 1-%d characters", ErrInvalidRequest, config.MaxWalletNameLen)
	}
	if password == "" {
		return "", nil, fmt.Errorf("%w: %w", ErrInvalidRequest, vault.ErrEmptyPassword)
	}

	if len(ids) == 0 {
		ids = s.defaultChains
	}
	seen := make(map[models.Chain]bool, len(ids))
	chains := make([]wallet.ChainConfig, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		c, err := wallet.LookupChain(id)
		if err != nil {
			return "", nil, err
		}
		chains = append(chains, c)
	}
	if len(chains) == 0 {
		return "", nil, fmt.Errorf("%w: no chains selected", ErrInvalidRequest)
	}
	return name, chains, nil
}

func chainList(accounts []models.DerivedAccount) string {
	ids := make([]string, len(accounts))
	for i, a := range accounts {
		ids[i] = string(a.Chain)
	}
	return strings.Join(ids, ",")
}
