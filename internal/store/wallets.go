package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Fantasim/hdvault/internal/models"
)

// Save inserts a new wallet record and its derived accounts atomically.
func (d *DB) Save(ctx context.Context, rec models.WalletRecord) error {
	slog.Debug("saving wallet", "walletID", rec.ID, "accounts", len(rec.Accounts))

	enc := rec.Encrypted
	err := d.withTx(ctx, "save wallet", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO wallets (id, name, schema_version, algorithm, kdf_memory_kib, kdf_iterations,
				kdf_parallelism, salt, nonce, ciphertext, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Name, enc.SchemaVersion, enc.Algorithm, enc.KDF.MemoryKiB, enc.KDF.Iterations,
			enc.KDF.Parallelism, enc.Salt, enc.Nonce, enc.Ciphertext,
			formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
		)
		if err != nil {
			if isConstraint(err) {
				return fmt.Errorf("%w: %s", ErrWalletExists, rec.ID)
			}
			return storageErr("insert wallet", err)
		}
		return insertAccounts(ctx, tx, rec.ID, rec.Accounts)
	})
	if err != nil {
		return err
	}

	slog.Info("wallet saved", "walletID", rec.ID)
	return nil
}

// Load returns the wallet record with its accounts.
func (d *DB) Load(ctx context.Context, walletID string) (models.WalletRecord, error) {
	var (
		rec              models.WalletRecord
		created, updated string
		parallelism      int
	)
	err := d.conn.QueryRowContext(ctx,
		`SELECT id, name, schema_version, algorithm, kdf_memory_kib, kdf_iterations, kdf_parallelism,
			salt, nonce, ciphertext, created_at, updated_at
		 FROM wallets WHERE id = ?`, walletID,
	).Scan(&rec.ID, &rec.Name, &rec.Encrypted.SchemaVersion, &rec.Encrypted.Algorithm,
		&rec.Encrypted.KDF.MemoryKiB, &rec.Encrypted.KDF.Iterations, &parallelism,
		&rec.Encrypted.Salt, &rec.Encrypted.Nonce, &rec.Encrypted.Ciphertext, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.WalletRecord{}, fmt.Errorf("%w: %s", ErrWalletNotFound, walletID)
	}
	if err != nil {
		return models.WalletRecord{}, storageErr("load wallet", err)
	}
	rec.Encrypted.KDF.Parallelism = uint8(parallelism)

	if rec.CreatedAt, err = parseTime(created); err != nil {
		return models.WalletRecord{}, storageErr("parse created_at", err)
	}
	if rec.UpdatedAt, err = parseTime(updated); err != nil {
		return models.WalletRecord{}, storageErr("parse updated_at", err)
	}

	accounts, err := d.accountsByWallet(ctx, walletID)
	if err != nil {
		return models.WalletRecord{}, err
	}
	rec.Accounts = accounts[walletID]
	return rec, nil
}

// UpdateEncryptedMnemonic replaces the stored ciphertext, e.g. after a
// password change or schema upgrade. The write only applies while the row
// still carries prevSalt; otherwise ErrStaleRecord is returned and the row
// is left as is.
func (d *DB) UpdateEncryptedMnemonic(ctx context.Context, walletID string, prevSalt []byte, enc models.EncryptedMnemonic) error {
	res, err := d.conn.ExecContext(ctx,
		`UPDATE wallets SET schema_version = ?, algorithm = ?, kdf_memory_kib = ?, kdf_iterations = ?,
			kdf_parallelism = ?, salt = ?, nonce = ?, ciphertext = ?, updated_at = ?
		 WHERE id = ? AND salt = ?`,
		enc.SchemaVersion, enc.Algorithm, enc.KDF.MemoryKiB, enc.KDF.Iterations, enc.KDF.Parallelism,
		enc.Salt, enc.Nonce, enc.Ciphertext, formatTime(time.Now()), walletID, prevSalt,
	)
	if err != nil {
		return storageErr("update encrypted mnemonic", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		err := d.conn.QueryRowContext(ctx, `SELECT 1 FROM wallets WHERE id = ?`, walletID).Scan(&exists)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("%w: %s", ErrWalletNotFound, walletID)
		case err != nil:
			return storageErr("update encrypted mnemonic", err)
		}
		return fmt.Errorf("%w: %s", ErrStaleRecord, walletID)
	}

	slog.Info("encrypted mnemonic updated", "walletID", walletID, "schemaVersion", enc.SchemaVersion)
	return nil
}

// SaveAccount records a derived account, replacing an earlier row for the
// same chain and index.
func (d *DB) SaveAccount(ctx context.Context, walletID string, acct models.DerivedAccount) error {
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO accounts (wallet_id, chain, account_index, derivation_path, address, public_key)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(wallet_id, chain, account_index) DO UPDATE SET
			derivation_path = excluded.derivation_path,
			address = excluded.address,
			public_key = excluded.public_key`,
		walletID, string(acct.Chain), acct.AccountIndex, acct.DerivationPath, acct.Address, acct.PublicKey,
	)
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("%w: %s", ErrWalletNotFound, walletID)
		}
		return storageErr("save account", err)
	}
	return nil
}

// Delete removes a wallet. Ciphertext columns are overwritten with zero blobs
// before the rows are deleted, and the WAL is checkpointed and truncated so no
// copy of the ciphertext survives in the journal.
func (d *DB) Delete(ctx context.Context, walletID string) error {
	err := d.withTx(ctx, "delete wallet", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE wallets SET
				salt = zeroblob(length(salt)),
				nonce = zeroblob(length(nonce)),
				ciphertext = zeroblob(length(ciphertext))
			 WHERE id = ?`, walletID)
		if err != nil {
			return storageErr("overwrite ciphertext", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrWalletNotFound, walletID)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM accounts WHERE wallet_id = ?", walletID); err != nil {
			return storageErr("delete accounts", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM wallets WHERE id = ?", walletID); err != nil {
			return storageErr("delete wallet", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if _, err := d.conn.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return storageErr("checkpoint after delete", err)
	}

	slog.Info("wallet deleted", "walletID", walletID)
	return nil
}

// ListWallets returns every wallet without ciphertext, oldest first.
func (d *DB) ListWallets(ctx context.Context) ([]models.WalletSummary, error) {
	rows, err := d.conn.QueryContext(ctx, "SELECT id, name, created_at FROM wallets ORDER BY created_at, id")
	if err != nil {
		return nil, storageErr("query wallets", err)
	}
	defer rows.Close()

	var wallets []models.WalletSummary
	for rows.Next() {
		var (
			w       models.WalletSummary
			created string
		)
		if err := rows.Scan(&w.ID, &w.Name, &created); err != nil {
			return nil, storageErr("scan wallet row", err)
		}
		if w.CreatedAt, err = parseTime(created); err != nil {
			return nil, storageErr("parse created_at", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate wallet rows", err)
	}
	rows.Close()

	accounts, err := d.accountsByWallet(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range wallets {
		wallets[i].Accounts = accounts[wallets[i].ID]
	}
	return wallets, nil
}

func insertAccounts(ctx context.Context, tx *sql.Tx, walletID string, accounts []models.DerivedAccount) error {
	if len(accounts) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO accounts (wallet_id, chain, account_index, derivation_path, address, public_key)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return storageErr("prepare account insert", err)
	}
	defer stmt.Close()

	for _, a := range accounts {
		if _, err := stmt.ExecContext(ctx, walletID, string(a.Chain), a.AccountIndex, a.DerivationPath, a.Address, a.PublicKey); err != nil {
			return storageErr(fmt.Sprintf("insert %s account %d", a.Chain, a.AccountIndex), err)
		}
	}
	return nil
}

// accountsByWallet loads accounts grouped by wallet id; an empty walletID loads all.
func (d *DB) accountsByWallet(ctx context.Context, walletID string) (map[string][]models.DerivedAccount, error) {
	query := `SELECT wallet_id, chain, account_index, derivation_path, address, public_key FROM accounts`
	var args []any
	if walletID != "" {
		query += " WHERE wallet_id = ?"
		args = append(args, walletID)
	}
	query += " ORDER BY wallet_id, rowid"

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query accounts", err)
	}
	defer rows.Close()

	out := make(map[string][]models.DerivedAccount)
	for rows.Next() {
		var (
			id    string
			chain string
			a     models.DerivedAccount
		)
		if err := rows.Scan(&id, &chain, &a.AccountIndex, &a.DerivationPath, &a.Address, &a.PublicKey); err != nil {
			return nil, storageErr("scan account row", err)
		}
		a.Chain = models.Chain(chain)
		out[id] = append(out[id], a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate account rows", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
