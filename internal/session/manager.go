// Package session caches decrypted wallet seeds for a bounded lifetime.
//
// The Manager is the only holder of decrypted key material between calls.
// Seeds are lent to callbacks through WithKey and never returned.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Fantasim/hdvault/internal/audit"
	"github.com/Fantasim/hdvault/internal/config"
	"github.com/Fantasim/hdvault/internal/models"
	"github.com/Fantasim/hdvault/internal/store"
	"github.com/Fantasim/hdvault/internal/vault"
	"github.com/Fantasim/hdvault/internal/wallet"
)

// State is the lifecycle state of one wallet's session.
type State string

const (
	StateLocked    State = "locked"
	StateUnlocking State = "unlocking"
	StateUnlocked  State = "unlocked"
	StateExpired   State = "expired"
)

// Store loads and rewrites encrypted wallet records.
type Store interface {
	Load(ctx context.Context, walletID string) (models.WalletRecord, error)
	UpdateEncryptedMnemonic(ctx context.Context, walletID string, prevSalt []byte, enc models.EncryptedMnemonic) error
}

// Vault opens and reseals encrypted mnemonics.
type Vault interface {
	Encrypt(ctx context.Context, m *wallet.Mnemonic, password string) (models.EncryptedMnemonic, error)
	Decrypt(ctx context.Context, payload models.EncryptedMnemonic, password string) (*wallet.Mnemonic, error)
	NeedsUpgrade(payload models.EncryptedMnemonic) bool
}

// Auditor receives unlock and expiry events.
type Auditor interface {
	Record(ctx context.Context, op models.Operation, walletID string, outcome models.Outcome, opts ...audit.Option)
}

// Config bounds session lifetime and failed-attempt throttling.
type Config struct {
	TTL         time.Duration
	MaxFailures int
	Cooldown    time.Duration
}

// DefaultConfig returns the production session settings.
func DefaultConfig() Config {
	return Config{
		TTL:         config.DefaultSessionTTL,
		MaxFailures: config.DefaultMaxUnlockFailures,
		Cooldown:    config.DefaultUnlockCooldown,
	}
}

// sessionKey is the in-memory key material of one unlocked wallet.
type sessionKey struct {
	mu         sync.RWMutex // held for reading while the seed is lent out
	seed       *wallet.Seed
	createdAt  time.Time
	expiresAt  time.Time
	lastAccess time.Time
}

func (k *sessionKey) wipe() {
	if k == nil {
		return
	}
	k.mu.Lock()
	k.seed.Wipe()
	k.mu.Unlock()
}

type failures struct {
	count   int
	limiter *rate.Limiter
}

// Manager owns every SessionKey. It is safe for concurrent use.
type Manager struct {
	cfg     Config
	store   Store
	vault   Vault
	auditor Auditor
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionKey
	status   map[string]State // Unlocking and Expired markers
	failed   map[string]*failures
	unlocks  map[string]*sync.Mutex // per-wallet; held across load, decrypt and rewrite
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, letting tests drive expiry synchronously.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithAuditor records unlock outcomes and expiries.
func WithAuditor(a Auditor) Option {
	return func(m *Manager) { m.auditor = a }
}

// NewManager creates a Manager with no unlocked wallets.
func NewManager(cfg Config, st Store, v Vault, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		store:    st,
		vault:    v,
		now:      time.Now,
		sessions: make(map[string]*sessionKey),
		status:   make(map[string]State),
		failed:   make(map[string]*failures),
		unlocks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}

	slog.Info("session manager initialized",
		"ttl", cfg.TTL,
		"maxFailures", cfg.MaxFailures,
		"cooldown", cfg.Cooldown,
	)
	return m
}

type unlockResult struct {
	expiresAt time.Time
	err       error
}

// unlockAttempt is shared between Unlock and its worker goroutine so an
// abandoned attempt never installs a key.
type unlockAttempt struct {
	mu        sync.Mutex
	abandoned bool
	installed bool
}

// Unlock decrypts the wallet and caches its seed until now + TTL. On success
// any previous key for the wallet is replaced and zeroized; a failed attempt
// leaves a live session untouched. If ctx is cancelled the
// call returns early; the decryption still runs to completion and its result
// is zeroized and discarded.
func (m *Manager) Unlock(ctx context.Context, walletID, password string) (time.Time, error) {
	if err := m.admit(walletID); err != nil {
		m.record(ctx, models.OpUnlockWallet, walletID, models.OutcomeFailure, audit.WithReason(reasonFor(err)))
		return time.Time{}, err
	}

	att := &unlockAttempt{}
	res := make(chan unlockResult, 1)
	go func() {
		exp, err := m.unlock(context.WithoutCancel(ctx), walletID, password, att)
		res <- unlockResult{exp, err}
	}()

	select {
	case r := <-res:
		return r.expiresAt, r.err
	case <-ctx.Done():
		att.mu.Lock()
		if att.installed {
			att.mu.Unlock()
			r := <-res
			return r.expiresAt, r.err
		}
		att.abandoned = true
		att.mu.Unlock()

		slog.Warn("unlock abandoned by caller", "walletID", walletID, "error", ctx.Err())
		return time.Time{}, fmt.Errorf("unlock %s: %w", walletID, ctx.Err())
	}
}

func (m *Manager) unlock(ctx context.Context, walletID, password string, att *unlockAttempt) (time.Time, error) {
	wl := m.walletLock(walletID)
	wl.Lock()
	defer wl.Unlock()

	m.mu.Lock()
	if _, live := m.sessions[walletID]; !live {
		m.status[walletID] = StateUnlocking
	}
	m.mu.Unlock()

	seed, err := m.open(ctx, walletID, password)
	if err != nil {
		m.mu.Lock()
		delete(m.status, walletID)
		m.mu.Unlock()

		m.record(ctx, models.OpUnlockWallet, walletID, models.OutcomeFailure, audit.WithReason(reasonFor(err)))
		slog.Warn("wallet unlock failed", "walletID", walletID, "error", err)
		return time.Time{}, err
	}

	att.mu.Lock()
	defer att.mu.Unlock()

	m.mu.Lock()
	delete(m.status, walletID)
	if att.abandoned {
		m.mu.Unlock()
		seed.Wipe()
		slog.Info("abandoned unlock discarded", "walletID", walletID)
		return time.Time{}, context.Canceled
	}

	// Last writer wins.
	prev := m.detachLocked(walletID)
	now := m.now()
	key := &sessionKey{
		seed:       seed,
		createdAt:  now,
		expiresAt:  now.Add(m.cfg.TTL),
		lastAccess: now,
	}
	m.sessions[walletID] = key
	att.installed = true
	m.mu.Unlock()
	prev.wipe()

	m.record(ctx, models.OpUnlockWallet, walletID, models.OutcomeSuccess)
	slog.Info("wallet unlocked", "walletID", walletID, "expiresAt", key.expiresAt.UTC().Format(time.RFC3339))
	return key.expiresAt, nil
}

// Reauthenticate decrypts the wallet's mnemonic without caching a session.
// The caller owns the returned Mnemonic and must Wipe it.
func (m *Manager) Reauthenticate(ctx context.Context, walletID, password string) (*wallet.Mnemonic, error) {
	if err := m.admit(walletID); err != nil {
		return nil, err
	}

	wl := m.walletLock(walletID)
	wl.Lock()
	defer wl.Unlock()

	rec, mn, err := m.decrypt(ctx, walletID, password)
	if err != nil {
		return nil, err
	}
	m.upgrade(ctx, rec, mn, password)
	return mn, nil
}

// Rekey decrypts the wallet with password and passes the mnemonic and the
// stored payload to reseal. The wallet's lock is held throughout, so no
// unlock, upgrade or purge of the same wallet interleaves with the rewrite.
// The mnemonic is wiped when reseal returns.
func (m *Manager) Rekey(ctx context.Context, walletID, password string, reseal func(mn *wallet.Mnemonic, prev models.EncryptedMnemonic) error) error {
	if err := m.admit(walletID); err != nil {
		return err
	}

	wl := m.walletLock(walletID)
	wl.Lock()
	defer wl.Unlock()

	rec, mn, err := m.decrypt(ctx, walletID, password)
	if err != nil {
		return err
	}
	defer mn.Wipe()

	return reseal(mn, rec.Encrypted)
}

// Purge zeroizes the wallet's key and runs remove under the wallet's lock.
// An unlock already in flight finishes first and has its key wiped here; one
// that starts later finds no record.
func (m *Manager) Purge(walletID string, remove func() error) error {
	wl := m.walletLock(walletID)
	wl.Lock()
	defer wl.Unlock()

	m.mu.Lock()
	key := m.detachLocked(walletID)
	delete(m.status, walletID)
	delete(m.failed, walletID)
	m.mu.Unlock()
	key.wipe()

	if err := remove(); err != nil {
		return err
	}
	slog.Info("wallet purged", "walletID", walletID, "hadSession", key != nil)
	return nil
}

// open decrypts the wallet and turns its mnemonic into a seed.
func (m *Manager) open(ctx context.Context, walletID, password string) (*wallet.Seed, error) {
	rec, mn, err := m.decrypt(ctx, walletID, password)
	if err != nil {
		return nil, err
	}
	defer mn.Wipe()

	m.upgrade(ctx, rec, mn, password)

	seed, err := mn.ToSeed("")
	if err != nil {
		return nil, fmt.Errorf("derive seed: %w", err)
	}
	return seed, nil
}

func (m *Manager) decrypt(ctx context.Context, walletID, password string) (models.WalletRecord, *wallet.Mnemonic, error) {
	rec, err := m.store.Load(ctx, walletID)
	if err != nil {
		return models.WalletRecord{}, nil, fmt.Errorf("load wallet: %w", err)
	}

	mn, err := m.vault.Decrypt(ctx, rec.Encrypted, password)
	if err != nil {
		if errors.Is(err, vault.ErrInvalidPasswordOrCorrupted) {
			m.noteFailure(walletID)
		}
		return models.WalletRecord{}, nil, err
	}

	m.mu.Lock()
	delete(m.failed, walletID)
	m.mu.Unlock()
	return rec, mn, nil
}

// upgrade reseals payloads from older schemas or weaker KDF params. Failure
// is logged and leaves the old payload in place.
func (m *Manager) upgrade(ctx context.Context, rec models.WalletRecord, mn *wallet.Mnemonic, password string) {
	if !m.vault.NeedsUpgrade(rec.Encrypted) {
		return
	}

	enc, err := m.vault.Encrypt(ctx, mn, password)
	if err != nil {
		slog.Warn("encrypted mnemonic upgrade failed", "walletID", rec.ID, "error", err)
		return
	}
	if err := m.store.UpdateEncryptedMnemonic(ctx, rec.ID, rec.Encrypted.Salt, enc); err != nil {
		if errors.Is(err, store.ErrStaleRecord) {
			slog.Info("skipping upgrade of rewritten mnemonic", "walletID", rec.ID)
			return
		}
		slog.Warn("storing upgraded mnemonic failed", "walletID", rec.ID, "error", err)
		return
	}

	slog.Info("encrypted mnemonic upgraded",
		"walletID", rec.ID,
		"fromSchema", rec.Encrypted.SchemaVersion,
		"toSchema", enc.SchemaVersion,
	)
}

// WithKey lends the wallet's seed to fn. Access refreshes the last-access
// time but never extends expiry. A key past its expiry is zeroized and
// ErrSessionExpired returned.
func (m *Manager) WithKey(walletID string, fn func(seed *wallet.Seed) error) error {
	m.mu.Lock()
	key, ok := m.sessions[walletID]
	if !ok {
		state := m.status[walletID]
		m.mu.Unlock()
		if state == StateExpired {
			return ErrSessionExpired
		}
		return ErrWalletLocked
	}

	now := m.now()
	if !now.Before(key.expiresAt) {
		m.expireLocked(walletID)
		m.mu.Unlock()
		key.wipe()
		m.record(context.Background(), models.OpSessionExpired, walletID, models.OutcomeSuccess)
		return ErrSessionExpired
	}
	key.lastAccess = now
	m.mu.Unlock()

	key.mu.RLock()
	defer key.mu.RUnlock()

	// Locked between lookup and use.
	if key.seed.Len() == 0 {
		return ErrWalletLocked
	}
	return fn(key.seed)
}

// Lock zeroizes the wallet's key. It reports whether a key was held.
func (m *Manager) Lock(walletID string) bool {
	m.mu.Lock()
	key := m.detachLocked(walletID)
	delete(m.status, walletID)
	m.mu.Unlock()

	held := key != nil
	key.wipe()
	if held {
		slog.Info("wallet locked", "walletID", walletID)
	}
	return held
}

// LockAll zeroizes every key; used at shutdown.
func (m *Manager) LockAll() int {
	m.mu.Lock()
	keys := make([]*sessionKey, 0, len(m.sessions))
	for id := range m.sessions {
		keys = append(keys, m.detachLocked(id))
	}
	clear(m.status)
	m.mu.Unlock()

	for _, key := range keys {
		key.wipe()
	}
	n := len(keys)
	slog.Info("all wallets locked", "count", n)
	return n
}

// Sweep zeroizes keys past their expiry and returns how many were removed.
func (m *Manager) Sweep() int {
	now := m.now()

	m.mu.Lock()
	var (
		expired []string
		keys    []*sessionKey
	)
	for id, key := range m.sessions {
		if !now.Before(key.expiresAt) {
			keys = append(keys, m.expireLocked(id))
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, key := range keys {
		key.wipe()
	}
	for _, id := range expired {
		m.record(context.Background(), models.OpSessionExpired, id, models.OutcomeSuccess)
	}
	if len(expired) > 0 {
		slog.Info("expired sessions swept", "count", len(expired))
	}
	return len(expired)
}

// State reports the session state of a wallet, evaluating expiry on access.
func (m *Manager) State(walletID string) State {
	m.mu.Lock()
	if key, ok := m.sessions[walletID]; ok {
		if m.now().Before(key.expiresAt) {
			m.mu.Unlock()
			return StateUnlocked
		}
		m.expireLocked(walletID)
		m.mu.Unlock()
		key.wipe()
		return StateExpired
	}
	defer m.mu.Unlock()

	if s, ok := m.status[walletID]; ok {
		return s
	}
	return StateLocked
}

// ExpiresAt returns the expiry of an unlocked wallet's key.
func (m *Manager) ExpiresAt(walletID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.sessions[walletID]
	if !ok {
		return time.Time{}, false
	}
	return key.expiresAt, true
}

// admit applies failed-attempt throttling. After MaxFailures consecutive
// failures, one attempt per Cooldown is allowed.
func (m *Manager) admit(walletID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.failed[walletID]
	if !ok || f.limiter == nil {
		return nil
	}
	if !f.limiter.AllowN(m.now(), 1) {
		slog.Warn("unlock throttled", "walletID", walletID, "failures", f.count)
		return ErrTooManyAttempts
	}
	return nil
}

func (m *Manager) noteFailure(walletID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.failed[walletID]
	if !ok {
		f = &failures{}
		m.failed[walletID] = f
	}
	f.count++

	if f.count >= m.cfg.MaxFailures && f.limiter == nil {
		f.limiter = rate.NewLimiter(rate.Every(m.cfg.Cooldown), 1)
		// Spend the initial token so the next attempt waits a full cooldown.
		f.limiter.AllowN(m.now(), 1)
		slog.Warn("unlock throttling engaged", "walletID", walletID, "failures", f.count)
	}
}

// walletLock returns the mutex serializing decrypt-and-rewrite work on one wallet.
func (m *Manager) walletLock(walletID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.unlocks[walletID]
	if !ok {
		l = &sync.Mutex{}
		m.unlocks[walletID] = l
	}
	return l
}

// detachLocked removes a wallet's key from the map and returns it, or nil.
// m.mu must be held; the caller wipes the key after releasing m.mu, since
// wiping waits for any in-flight WithKey callback.
func (m *Manager) detachLocked(walletID string) *sessionKey {
	key, ok := m.sessions[walletID]
	if !ok {
		return nil
	}
	delete(m.sessions, walletID)
	return key
}

// expireLocked detaches an expired key and marks the wallet Expired. m.mu must be held.
func (m *Manager) expireLocked(walletID string) *sessionKey {
	key := m.detachLocked(walletID)
	m.status[walletID] = StateExpired
	slog.Info("session expired", "walletID", walletID)
	return key
}

func (m *Manager) record(ctx context.Context, op models.Operation, walletID string, outcome models.Outcome, opts ...audit.Option) {
	if m.auditor == nil {
		return
	}
	m.auditor.Record(ctx, op, walletID, outcome, opts...)
}

// reasonFor maps an unlock failure to its audit reason category.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrTooManyAttempts):
		return "too_many_attempts"
	case errors.Is(err, vault.ErrInvalidPasswordOrCorrupted):
		return "invalid_password_or_corrupted"
	case errors.Is(err, vault.ErrUnsupportedSchema):
		return "unsupported_schema"
	case errors.Is(err, store.ErrWalletNotFound):
		return "wallet_not_found"
	case errors.Is(err, store.ErrStorage):
		return "storage"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
