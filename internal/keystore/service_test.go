package keystore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Fantasim/hdvault/internal/audit"
	"github.com/Fantasim/hdvault/internal/models"
	"github.com/Fantasim/hdvault/internal/session"
	"github.com/Fantasim/hdvault/internal/store"
	"github.com/Fantasim/hdvault/internal/vault"
	"github.com/Fantasim/hdvault/internal/wallet"
)

const (
	testPhrase   = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	testPassword = "Secure123!"
	ethAddress   = "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
)

type memAuditor struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (a *memAuditor) Record(_ context.Context, op models.Operation, walletID string, outcome models.Outcome, opts ...audit.Option) {
	ev := models.AuditEvent{Operation: op, WalletID: walletID, Outcome: outcome, Severity: models.SeverityInfo}
	for _, o := range opts {
		o(&ev)
	}
	a.mu.Lock()
	a.events = append(a.events, ev)
	a.mu.Unlock()
}

func (a *memAuditor) last() models.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.events) == 0 {
		return models.AuditEvent{}
	}
	return a.events[len(a.events)-1]
}

type fixture struct {
	svc     *Service
	db      *store.DB
	vault   *vault.Encrypter
	mgr     *session.Manager
	auditor *memAuditor
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := store.New(filepath.Join(t.TempDir(), "keystore.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.RunMigrations(); err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		db:      db,
		vault:   vault.NewWithParams(models.KDFParams{MemoryKiB: 64, Iterations: 1, Parallelism: 1}),
		auditor: &memAuditor{},
		now:     time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC),
	}
	f.mgr = session.NewManager(session.DefaultConfig(), db, f.vault,
		session.WithClock(func() time.Time { return f.now }),
		session.WithAuditor(f.auditor),
	)
	t.Cleanup(func() { f.mgr.LockAll() })

	f.svc = New(db, f.vault, f.mgr, f.auditor, testChains)
	return f
}

var testChains = []models.Chain{models.ChainBTC, models.ChainETH, models.ChainSOL}

// pausingStore holds the first Load until release is closed, signalling
// loaded once the record has been read.
type pausingStore struct {
	*store.DB
	armed   atomic.Bool
	loaded  chan struct{}
	release chan struct{}
}

func (s *pausingStore) Load(ctx context.Context, walletID string) (models.WalletRecord, error) {
	rec, err := s.DB.Load(ctx, walletID)
	if s.armed.CompareAndSwap(true, false) {
		close(s.loaded)
		<-s.release
	}
	return rec, err
}

// pauseNextLoad rebuilds the session manager on a pausingStore so the next
// unlock stops right after reading the record.
func (f *fixture) pauseNextLoad(t *testing.T) *pausingStore {
	t.Helper()
	ps := &pausingStore{DB: f.db, loaded: make(chan struct{}), release: make(chan struct{})}
	ps.armed.Store(true)

	f.mgr = session.NewManager(session.DefaultConfig(), ps, f.vault,
		session.WithClock(func() time.Time { return f.now }),
		session.WithAuditor(f.auditor),
	)
	f.svc = New(f.db, f.vault, f.mgr, f.auditor, testChains)
	return ps
}

// unlockInBackground starts an unlock that parks inside ps and returns its result channel.
func (f *fixture) unlockInBackground(ps *pausingStore, id, password string) <-chan error {
	done := make(chan error, 1)
	go func() {
		_, err := f.svc.UnlockWallet(context.Background(), id, password)
		done <- err
	}()
	<-ps.loaded
	return done
}

// mustStayBlocked fails the test if done yields within a short grace period.
func mustStayBlocked(t *testing.T, what string, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		t.Fatalf("%s returned %v while an unlock held the wallet", what, err)
	case <-time.After(50 * time.Millisecond):
	}
}

func (f *fixture) importTestWallet(t *testing.T) string {
	t.Helper()
	res, err := f.svc.ImportWallet(context.Background(), ImportRequest{
		Name: "Main", Phrase: testPhrase, Password: testPassword,
	})
	if err != nil {
		t.Fatalf("ImportWallet() error = %v", err)
	}
	return res.WalletID
}

func TestCreateWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateWallet(ctx, CreateRequest{Name: "  Savings  ", Password: testPassword, WordCount: 24})
	if err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}
	defer res.Mnemonic.Wipe()

	if res.Mnemonic.WordCount() != 24 {
		t.Errorf("word count = %d, want 24", res.Mnemonic.WordCount())
	}
	if len(res.Accounts) != 3 {
		t.Fatalf("accounts = %d, want 3 default chains", len(res.Accounts))
	}

	rec, err := f.db.Load(ctx, res.WalletID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Name != "Savings" {
		t.Errorf("stored name = %q, want trimmed", rec.Name)
	}
	if strings.Contains(string(rec.Encrypted.Ciphertext), strings.Fields(res.Mnemonic.Phrase())[0]) {
		t.Error("ciphertext contains plaintext words")
	}

	m, err := f.vault.Decrypt(ctx, rec.Encrypted, testPassword)
	if err != nil {
		t.Fatalf("stored payload does not decrypt: %v", err)
	}
	defer m.Wipe()
	if m.Phrase() != res.Mnemonic.Phrase() {
		t.Error("stored mnemonic differs from the one returned")
	}

	if got := f.mgr.State(res.WalletID); got != session.StateLocked {
		t.Errorf("State() = %s, CreateWallet must not unlock", got)
	}
	if ev := f.auditor.last(); ev.Operation != models.OpCreateWallet || ev.Outcome != models.OutcomeSuccess {
		t.Errorf("last audit event = %+v", ev)
	}
}

func TestCreateWalletDefaultsTo12Words(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreateWallet(context.Background(), CreateRequest{Name: "W", Password: "pw", Chains: []models.Chain{models.ChainTRX}})
	if err != nil {
		t.Fatal(err)
	}
	defer res.Mnemonic.Wipe()

	if res.Mnemonic.WordCount() != 12 {
		t.Errorf("word count = %d, want 12", res.Mnemonic.WordCount())
	}
	if len(res.Accounts) != 1 || res.Accounts[0].Chain != models.ChainTRX {
		t.Errorf("accounts = %+v", res.Accounts)
	}
}

func TestCreateWalletRejects(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateRequest
		wantErr error
	}{
		{"empty name", CreateRequest{Name: "  ", Password: "pw"}, ErrInvalidRequest},
		{"long name", CreateRequest{Name: strings.Repeat("x", 65), Password: "pw"}, ErrInvalidRequest},
		{"empty password", CreateRequest{Name: "W"}, vault.ErrEmptyPassword},
		{"unknown chain", CreateRequest{Name: "W", Password: "pw", Chains: []models.Chain{"DOGE"}}, wallet.ErrUnknownChain},
		{"bad word count", CreateRequest{Name: "W", Password: "pw", WordCount: 15}, wallet.ErrUnsupportedWordCount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			if _, err := f.svc.CreateWallet(ctx, tt.req); !errors.Is(err, tt.wantErr) {
				t.Fatalf("CreateWallet() error = %v, want %v", err, tt.wantErr)
			}

			list, err := f.db.ListWallets(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 0 {
				t.Errorf("failed create stored %d wallets", len(list))
			}
			if ev := f.auditor.last(); ev.Outcome != models.OutcomeFailure || ev.Reason == "" {
				t.Errorf("failure not audited: %+v", ev)
			}
		})
	}
}

func TestImportWalletKnownAddresses(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.ImportWallet(context.Background(), ImportRequest{
		Name: "Main", Phrase: strings.ToUpper(testPhrase), Password: testPassword,
		Chains: []models.Chain{models.ChainBTC, models.ChainETH, models.ChainSOL, models.ChainETH},
	})
	if err != nil {
		t.Fatalf("ImportWallet() error = %v", err)
	}

	want := map[models.Chain]string{
		models.ChainBTC: "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu",
		models.ChainETH: ethAddress,
		models.ChainSOL: "HAgk14JpMQLgt6rVgv7cBQFJWFto5Dqxi472uT3DKpqk",
	}
	if len(res.Accounts) != len(want) {
		t.Fatalf("accounts = %d, want %d (duplicates collapsed)", len(res.Accounts), len(want))
	}
	for _, a := range res.Accounts {
		if a.Address != want[a.Chain] {
			t.Errorf("%s address = %s, want %s", a.Chain, a.Address, want[a.Chain])
		}
	}
}

func TestImportWalletInvalidPhraseWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := strings.Replace(testPhrase, "about", "abandon", 1)
	_, err := f.svc.ImportWallet(ctx, ImportRequest{Name: "Main", Phrase: bad, Password: testPassword})
	if !errors.Is(err, wallet.ErrChecksumMismatch) {
		t.Fatalf("ImportWallet() error = %v, want ErrChecksumMismatch", err)
	}

	list, err := f.db.ListWallets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Error("invalid import wrote a wallet")
	}
	if ev := f.auditor.last(); ev.Reason != "invalid_mnemonic:checksum_mismatch" {
		t.Errorf("failure reason = %q", ev.Reason)
	}
}

func TestPersistReloadDecryptScenario(t *testing.T) {
	f := newFixture(t)
	id := f.importTestWallet(t)

	m, err := f.svc.ExportMnemonic(context.Background(), id, testPassword)
	if err != nil {
		t.Fatalf("ExportMnemonic() error = %v", err)
	}
	defer m.Wipe()

	if m.Phrase() != testPhrase {
		t.Errorf("recovered phrase = %q, want original", m.Phrase())
	}
}

func TestDeriveOrSignRequiresSession(t *testing.T) {
	f := newFixture(t)
	id := f.importTestWallet(t)

	_, err := f.svc.DeriveOrSign(context.Background(), id, DeriveOrSignRequest{Chain: models.ChainETH})
	if !errors.Is(err, session.ErrSessionExpired) {
		t.Fatalf("DeriveOrSign() on locked wallet error = %v, want ErrSessionExpired", err)
	}
	if ev := f.auditor.last(); ev.Operation != models.OpDerive || ev.Reason != "session_expired" {
		t.Errorf("audit event = %+v", ev)
	}
}

func TestDeriveOrSign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.importTestWallet(t)

	if _, err := f.svc.UnlockWallet(ctx, id, testPassword); err != nil {
		t.Fatalf("UnlockWallet() error = %v", err)
	}

	derived, err := f.svc.DeriveOrSign(ctx, id, DeriveOrSignRequest{Chain: models.ChainETH})
	if err != nil {
		t.Fatalf("DeriveOrSign(derive) error = %v", err)
	}
	if derived.Account.Address != ethAddress || derived.Signature != nil {
		t.Errorf("derive result = %+v", derived)
	}

	payload := []byte("hello")
	signed, err := f.svc.DeriveOrSign(ctx, id, DeriveOrSignRequest{Chain: models.ChainETH, AccountIndex: 0, Payload: payload})
	if err != nil {
		t.Fatalf("DeriveOrSign(sign) error = %v", err)
	}
	if signed.Signature == nil {
		t.Fatal("sign returned no signature")
	}
	pub, err := crypto.SigToPub(accounts.TextHash(payload), signed.Signature.Signature)
	if err != nil {
		t.Fatal(err)
	}
	if crypto.PubkeyToAddress(*pub).Hex() != ethAddress {
		t.Error("signature does not recover to the account address")
	}
	if ev := f.auditor.last(); ev.Operation != models.OpSign || ev.Metadata["chain"] != "ETH" {
		t.Errorf("sign audit event = %+v", ev)
	}

	// A new index is remembered as public metadata.
	if _, err := f.svc.DeriveOrSign(ctx, id, DeriveOrSignRequest{Chain: models.ChainSOL, AccountIndex: 4}); err != nil {
		t.Fatal(err)
	}
	rec, err := f.db.Load(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Accounts) != 4 {
		t.Errorf("stored accounts = %d, want 4", len(rec.Accounts))
	}

	if _, err := f.svc.DeriveOrSign(ctx, id, DeriveOrSignRequest{Chain: "DOGE"}); !errors.Is(err, wallet.ErrUnknownChain) {
		t.Errorf("DeriveOrSign(DOGE) error = %v", err)
	}
}

func TestDeriveOrSignAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.importTestWallet(t)

	if _, err := f.svc.UnlockWallet(ctx, id, testPassword); err != nil {
		t.Fatal(err)
	}
	f.now = f.now.Add(16 * time.Minute)

	if _, err := f.svc.DeriveOrSign(ctx, id, DeriveOrSignRequest{Chain: models.ChainBTC}); !errors.Is(err, session.ErrSessionExpired) {
		t.Errorf("DeriveOrSign() after TTL error = %v, want ErrSessionExpired", err)
	}
}

func TestLockWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.importTestWallet(t)

	if _, err := f.svc.UnlockWallet(ctx, id, testPassword); err != nil {
		t.Fatal(err)
	}
	f.svc.LockWallet(ctx, id)

	if _, err := f.svc.DeriveOrSign(ctx, id, DeriveOrSignRequest{Chain: models.ChainETH}); !errors.Is(err, session.ErrSessionExpired) {
		t.Errorf("DeriveOrSign() after lock error = %v", err)
	}
}

func TestExportMnemonicAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.importTestWallet(t)

	if _, err := f.svc.ExportMnemonic(ctx, id, "wrong"); !errors.Is(err, vault.ErrInvalidPasswordOrCorrupted) {
		t.Fatalf("ExportMnemonic(wrong) error = %v", err)
	}
	ev := f.auditor.last()
	if ev.Operation != models.OpExportMnemonic || ev.Outcome != models.OutcomeFailure || ev.Severity != models.SeverityElevated {
		t.Errorf("failed export audit = %+v", ev)
	}

	m, err := f.svc.ExportMnemonic(ctx, id, testPassword)
	if err != nil {
		t.Fatal(err)
	}
	m.Wipe()
	ev = f.auditor.last()
	if ev.Outcome != models.OutcomeSuccess || ev.Severity != models.SeverityElevated {
		t.Errorf("export audit = %+v", ev)
	}
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.importTestWallet(t)

	if err := f.svc.ChangePassword(ctx, id, testPassword, ""); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("ChangePassword(empty new) error = %v", err)
	}
	if err := f.svc.ChangePassword(ctx, id, "wrong", "next"); !errors.Is(err, vault.ErrInvalidPasswordOrCorrupted) {
		t.Errorf("ChangePassword(wrong old) error = %v", err)
	}

	if err := f.svc.ChangePassword(ctx, id, testPassword, "N3w-password"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}

	if _, err := f.svc.UnlockWallet(ctx, id, testPassword); !errors.Is(err, vault.ErrInvalidPasswordOrCorrupted) {
		t.Errorf("old password still unlocks: %v", err)
	}
	if _, err := f.svc.UnlockWallet(ctx, id, "N3w-password"); err != nil {
		t.Errorf("new password does not unlock: %v", err)
	}
}

func TestChangePasswordDuringLegacyUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.importTestWallet(t)

	// Store the wallet in the legacy schema so unlocking rewrites it.
	rec, err := f.db.Load(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	m, err := f.vault.Decrypt(ctx, rec.Encrypted, testPassword)
	if err != nil {
		t.Fatal(err)
	}
	legacy, err := f.vault.EncryptVersion(ctx, m, testPassword, vault.SchemaV1)
	m.Wipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := f.db.UpdateEncryptedMnemonic(ctx, id, rec.Encrypted.Salt, legacy); err != nil {
		t.Fatal(err)
	}

	ps := f.pauseNextLoad(t)
	unlocked := f.unlockInBackground(ps, id, testPassword)

	changed := make(chan error, 1)
	go func() { changed <- f.svc.ChangePassword(ctx, id, testPassword, "N3w-password") }()
	mustStayBlocked(t, "ChangePassword()", changed)
	close(ps.release)

	if err := <-unlocked; err != nil {
		t.Fatalf("UnlockWallet() error = %v", err)
	}
	if err := <-changed; err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}

	f.svc.LockWallet(ctx, id)
	if _, err := f.svc.UnlockWallet(ctx, id, "N3w-password"); err != nil {
		t.Errorf("new password does not unlock: %v", err)
	}
	if _, err := f.svc.UnlockWallet(ctx, id, testPassword); !errors.Is(err, vault.ErrInvalidPasswordOrCorrupted) {
		t.Errorf("old password still unlocks: %v", err)
	}
}

func TestDeleteWalletDuringUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.importTestWallet(t)

	ps := f.pauseNextLoad(t)
	unlocked := f.unlockInBackground(ps, id, testPassword)

	deleted := make(chan error, 1)
	go func() { deleted <- f.svc.DeleteWallet(ctx, id) }()
	mustStayBlocked(t, "DeleteWallet()", deleted)
	close(ps.release)

	if err := <-unlocked; err != nil {
		t.Fatalf("UnlockWallet() error = %v", err)
	}
	if err := <-deleted; err != nil {
		t.Fatalf("DeleteWallet() error = %v", err)
	}

	if got := f.mgr.State(id); got != session.StateLocked {
		t.Errorf("State() after delete = %s, want locked", got)
	}
	_, err := f.svc.DeriveOrSign(ctx, id, DeriveOrSignRequest{Chain: models.ChainETH, Payload: []byte("after delete")})
	if !errors.Is(err, session.ErrWalletLocked) {
		t.Errorf("DeriveOrSign() after delete error = %v, want ErrWalletLocked", err)
	}
}

func TestDeleteWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.importTestWallet(t)

	if _, err := f.svc.UnlockWallet(ctx, id, testPassword); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.DeleteWallet(ctx, id); err != nil {
		t.Fatalf("DeleteWallet() error = %v", err)
	}

	if got := f.mgr.State(id); got != session.StateLocked {
		t.Errorf("State() after delete = %s, want locked", got)
	}
	if _, err := f.db.Load(ctx, id); !errors.Is(err, store.ErrWalletNotFound) {
		t.Errorf("Load() after delete error = %v", err)
	}
	if err := f.svc.DeleteWallet(ctx, id); !errors.Is(err, store.ErrWalletNotFound) {
		t.Errorf("second DeleteWallet() error = %v", err)
	}
}

func TestListWallets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id1 := f.importTestWallet(t)
	id2 := f.importTestWallet(t)

	if _, err := f.svc.UnlockWallet(ctx, id2, testPassword); err != nil {
		t.Fatal(err)
	}

	list, err := f.svc.ListWallets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("ListWallets() = %d wallets", len(list))
	}

	states := map[string]WalletStatus{}
	for _, w := range list {
		states[w.ID] = w
	}
	if s := states[id1]; s.State != session.StateLocked || s.ExpiresAt != nil {
		t.Errorf("wallet 1 = %+v", s)
	}
	if s := states[id2]; s.State != session.StateUnlocked || s.ExpiresAt == nil {
		t.Errorf("wallet 2 = %+v", s)
	}
}

func TestAuditTrailPersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	log := audit.New(f.db, 16)
	f.svc.auditor = log

	id := f.importTestWallet(t)
	if _, err := f.svc.ExportMnemonic(ctx, id, "wrong"); err == nil {
		t.Fatal("expected failure")
	}
	if err := f.svc.DeleteWallet(ctx, id); err != nil {
		t.Fatal(err)
	}
	log.Close()

	trail, err := f.svc.AuditTrail(ctx, id, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(trail) != 3 {
		t.Fatalf("audit trail = %d events, want 3", len(trail))
	}
	if trail[0].Operation != models.OpDeleteWallet || trail[2].Operation != models.OpImportWallet {
		t.Errorf("trail order = %s ... %s", trail[0].Operation, trail[2].Operation)
	}
	for _, ev := range trail {
		for k, v := range ev.Metadata {
			if strings.Contains(v, "abandon") || strings.Contains(v, testPassword) {
				t.Errorf("audit metadata %s leaks a secret", k)
			}
		}
	}
}

func TestSupportedChains(t *testing.T) {
	f := newFixture(t)
	if got := len(f.svc.SupportedChains()); got != len(models.AllChains) {
		t.Errorf("SupportedChains() = %d, want %d", got, len(models.AllChains))
	}
}
