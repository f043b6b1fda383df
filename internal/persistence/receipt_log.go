package persistence

import (
	"PredictLedger/internal/core"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReceiptLog reads event_log.receipts. It is the second deduplication tier
// and the source of executor state on restart.
type ReceiptLog struct {
	db      *sql.DB
	timeout time.Duration
}

func NewReceiptLog(db *sql.DB) *ReceiptLog {
	return &ReceiptLog{db: db, timeout: 500 * time.Millisecond}
}

// IsProcessed reports whether a receipt exists for commandID.
func (l *ReceiptLog) IsProcessed(ctx context.Context, commandID uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var exists int
	err := l.db.QueryRowContext(ctx,
		`SELECT 1 FROM event_log.receipts WHERE command_id = $1 LIMIT 1`, commandID,
	).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentCommandIDs returns up to limit command ids, oldest first, for
// warming the deduplication LRU.
func (l *ReceiptLog) RecentCommandIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT command_id FROM (
			SELECT sequence, command_id FROM event_log.receipts
			ORDER BY sequence DESC
			LIMIT $1
		) recent
		ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent command ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LastReceipt returns the head of the receipt chain, or nil on an empty log.
// Events and transfers are not loaded.
func (l *ReceiptLog) LastReceipt(ctx context.Context) (*core.Receipt, error) {
	var (
		r        core.Receipt
		kind     string
		errText  sql.NullString
		action   sql.NullString
		hash     []byte
		prevHash []byte
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT sequence, command_id, command_kind, sender, invoked_at, outcome,
		       error, action, receipt_hash, prev_hash
		FROM event_log.receipts
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(
		&r.Sequence, &r.CommandID, &kind, &r.Sender, &r.InvokedAt, &r.Outcome,
		&errText, &action, &hash, &prevHash,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last receipt: %w", err)
	}
	if len(hash) != 32 || len(prevHash) != 32 {
		return nil, fmt.Errorf("receipt %d: malformed hash (%d/%d bytes)", r.Sequence, len(hash), len(prevHash))
	}

	r.Kind = core.CommandKind(kind)
	r.Error = errText.String
	r.Action = action.String
	copy(r.ReceiptHash[:], hash)
	copy(r.PrevHash[:], prevHash)
	return &r, nil
}
