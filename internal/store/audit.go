package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Fantasim/hdvault/internal/models"
)

// AuditFilter narrows ListAuditEvents. Zero values mean no filter.
type AuditFilter struct {
	WalletID string
	Limit    int
}

// AppendAuditEvents inserts a batch of audit events in one transaction.
// Events are append-only; there is no update or delete.
func (d *DB) AppendAuditEvents(ctx context.Context, events []models.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	return d.withTx(ctx, "append audit events", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO audit_events (id, ts, operation, wallet_id, outcome, severity, reason, metadata)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return storageErr("prepare audit insert", err)
		}
		defer stmt.Close()

		for _, ev := range events {
			meta := []byte("{}")
			if len(ev.Metadata) > 0 {
				if meta, err = json.Marshal(ev.Metadata); err != nil {
					return fmt.Errorf("marshal audit metadata: %w", err)
				}
			}
			if _, err := stmt.ExecContext(ctx,
				ev.ID, formatTime(ev.Timestamp), string(ev.Operation), ev.WalletID,
				string(ev.Outcome), string(ev.Severity), ev.Reason, string(meta),
			); err != nil {
				return storageErr("insert audit event", err)
			}
		}
		return nil
	})
}

// ListAuditEvents returns events newest first.
func (d *DB) ListAuditEvents(ctx context.Context, f AuditFilter) ([]models.AuditEvent, error) {
	query := `SELECT id, ts, operation, wallet_id, outcome, severity, reason, metadata FROM audit_events`
	var args []any
	if f.WalletID != "" {
		query += " WHERE wallet_id = ?"
		args = append(args, f.WalletID)
	}
	query += " ORDER BY ts DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query audit events", err)
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		var (
			ev                              models.AuditEvent
			ts, op, outcome, severity, meta string
		)
		if err := rows.Scan(&ev.ID, &ts, &op, &ev.WalletID, &outcome, &severity, &ev.Reason, &meta); err != nil {
			return nil, storageErr("scan audit row", err)
		}
		if ev.Timestamp, err = parseTime(ts); err != nil {
			return nil, storageErr("parse audit timestamp", err)
		}
		ev.Operation = models.Operation(op)
		ev.Outcome = models.Outcome(outcome)
		ev.Severity = models.Severity(severity)
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &ev.Metadata); err != nil {
				return nil, storageErr("decode audit metadata", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate audit rows", err)
	}
	return events, nil
}
