package persistence

import (
	"PredictLedger/internal/core"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// receiptColumns is the column count of one receipt row.
const receiptColumns = 12

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ReceiptWriter batch-inserts receipts into event_log.receipts.
// This uses multi-row INSERT; lib/pq's CopyIn would need a staging table to
// keep the ON CONFLICT guard.
type ReceiptWriter struct {
	db *sql.DB
}

func NewReceiptWriter(db *sql.DB) *ReceiptWriter {
	return &ReceiptWriter{db: db}
}

// WriteBatch writes receipts with one INSERT. Rows whose sequence already
// exists are skipped, so a retried batch is harmless.
func (w *ReceiptWriter) WriteBatch(ctx context.Context, ex execer, receipts []*core.Receipt) error {
	if len(receipts) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.receipts
		(sequence, command_id, command_kind, sender, invoked_at, outcome, error, action, events, transfers, receipt_hash, prev_hash)
		VALUES `

	values := make([]string, 0, len(receipts))
	args := make([]interface{}, 0, len(receipts)*receiptColumns)

	for i, r := range receipts {
		events, transfers, err := marshalReceiptBody(r)
		if err != nil {
			return err
		}

		base := i * receiptColumns
		placeholders := make([]string, receiptColumns)
		for c := range placeholders {
			placeholders[c] = fmt.Sprintf("$%d", base+c+1)
		}
		values = append(values, "("+strings.Join(placeholders, ", ")+")")

		args = append(args,
			r.Sequence, r.CommandID, string(r.Kind), r.Sender, r.InvokedAt, r.Outcome,
			nullIfEmpty(r.Error), nullIfEmpty(r.Action), events, transfers,
			r.ReceiptHash[:], r.PrevHash[:],
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

func marshalReceiptBody(r *core.Receipt) (events, transfers []byte, err error) {
	events = []byte("[]")
	if len(r.Events) > 0 {
		if events, err = json.Marshal(r.Events); err != nil {
			return nil, nil, fmt.Errorf("marshal events of receipt %d: %w", r.Sequence, err)
		}
	}
	transfers = []byte("[]")
	if len(r.Transfers) > 0 {
		if transfers, err = json.Marshal(r.Transfers); err != nil {
			return nil, nil, fmt.Errorf("marshal transfers of receipt %d: %w", r.Sequence, err)
		}
	}
	return events, transfers, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
