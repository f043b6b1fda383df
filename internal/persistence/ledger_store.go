package persistence

import (
	"PredictLedger/internal/store"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ledgerLockID is the advisory lock key serialising invocations across
// replicas that share one database.
const ledgerLockID int64 = 0x7072656469637400

// LedgerStore is the Postgres-backed store.Store. Every Update runs in one
// SERIALIZABLE transaction holding a transaction-scoped advisory lock, so
// invocations never interleave and a failed invocation leaves no trace.
type LedgerStore struct {
	db *sql.DB
}

func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockID); err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}

	if err := fn(&pgTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

func (s *LedgerStore) View(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin ledger view: %w", err)
	}
	defer tx.Rollback()

	return fn(&pgTx{ctx: ctx, tx: tx, readOnly: true})
}

type pgTx struct {
	ctx      context.Context
	tx       *sql.Tx
	readOnly bool
}

func (t *pgTx) Get(key store.Key, dst interface{}) (bool, error) {
	var raw []byte
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT value FROM ledger.kv WHERE key = $1`, key.Path(),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key.Path(), err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key.Path(), err)
	}
	return true, nil
}

func (t *pgTx) Put(key store.Key, v interface{}) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key.Path(), err)
	}

	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO ledger.kv (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key.Path(), raw)
	if err != nil {
		return fmt.Errorf("put %s: %w", key.Path(), err)
	}
	return nil
}

func (t *pgTx) Has(key store.Key) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger.kv WHERE key = $1)`, key.Path(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has %s: %w", key.Path(), err)
	}
	return exists, nil
}

func (t *pgTx) Delete(key store.Key) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM ledger.kv WHERE key = $1`, key.Path()); err != nil {
		return fmt.Errorf("delete %s: %w", key.Path(), err)
	}
	return nil
}

func (t *pgTx) Scan(prefix store.Key, after string, limit int, fn func(path string, raw []byte) error) error {
	var (
		query strings.Builder
		args  = []interface{}{prefix.Prefix()}
	)
	query.WriteString(`SELECT key, value FROM ledger.kv WHERE starts_with(key, $1)`)
	if after != "" {
		args = append(args, after)
		fmt.Fprintf(&query, ` AND key COLLATE "C" > $%d`, len(args))
	}
	query.WriteString(` ORDER BY key COLLATE "C"`)
	if limit > 0 {
		args = append(args, limit)
		fmt.Fprintf(&query, ` LIMIT $%d`, len(args))
	}

	rows, err := t.tx.QueryContext(t.ctx, query.String(), args...)
	if err != nil {
		return fmt.Errorf("scan %s: %w", prefix.Path(), err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			path string
			raw  []byte
		)
		if err := rows.Scan(&path, &raw); err != nil {
			return fmt.Errorf("scan %s: %w", prefix.Path(), err)
		}
		if err := fn(path, raw); err != nil {
			return err
		}
	}
	return rows.Err()
}
