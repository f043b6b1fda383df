package query

import (
	"PredictLedger/internal/ledger"
	"PredictLedger/internal/state"
	"PredictLedger/internal/store"
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Page size bounds for UserRounds
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// ErrNoReceiptLog is returned by receipt queries when the service runs
// without a database.
var ErrNoReceiptLog = errors.New("query: receipt log not configured")

// Service provides read-only access to the ledger store and, when a
// database is configured, to the receipt log. Nothing here mutates state.
type Service struct {
	store store.Store
	db    *sql.DB
}

func NewService(st store.Store, db *sql.DB) *Service {
	return &Service{store: st, db: db}
}

// Round returns the round at epoch.
func (s *Service) Round(ctx context.Context, epoch uint64) (*RoundResponse, error) {
	var resp *RoundResponse
	err := s.store.View(ctx, func(tx store.Tx) error {
		r, ok, err := ledger.NewBook(tx).Round(epoch)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w for epoch %d", state.ErrRoundNotFound, epoch)
		}
		resp = roundResponse(&r)
		return nil
	})
	return resp, err
}

func roundResponse(r *ledger.Round) *RoundResponse {
	return &RoundResponse{
		Epoch:            r.Epoch,
		StartTimestamp:   r.StartTimestamp,
		LockTimestamp:    r.LockTimestamp,
		CloseTimestamp:   r.CloseTimestamp,
		LockPrice:        r.LockPrice,
		ClosePrice:       r.ClosePrice,
		TotalAmount:      r.TotalAmount,
		BullAmount:       r.BullAmount,
		BearAmount:       r.BearAmount,
		RewardBaseAmount: r.RewardBaseAmount,
		RewardAmount:     r.RewardAmount,
		OracleCalled:     r.Resolved,
		Phase:            state.PhaseOf(r).String(),
	}
}

func (s *Service) CurrentEpoch(ctx context.Context) (*CurrentEpochResponse, error) {
	var resp *CurrentEpochResponse
	err := s.store.View(ctx, func(tx store.Tx) error {
		st, err := ledger.NewBook(tx).State()
		if err != nil {
			return err
		}
		resp = &CurrentEpochResponse{CurrentEpoch: st.CurrentEpoch}
		return nil
	})
	return resp, err
}

// UserRounds returns the participant's epochs strictly after cursor, in
// ascending order. Cursor 0 starts from the beginning. NextCursor is the last
// epoch of the page when more remain.
func (s *Service) UserRounds(ctx context.Context, participant string, cursor uint64, size int) (*UserRoundsResponse, error) {
	if err := state.ValidateAddress(participant); err != nil {
		return nil, err
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	resp := &UserRoundsResponse{Epochs: []uint64{}}
	err := s.store.View(ctx, func(tx store.Tx) error {
		// one extra entry tells whether another page exists
		epochs, err := ledger.NewBook(tx).UserRounds(participant, cursor, size+1)
		if err != nil {
			return err
		}
		if len(epochs) > size {
			epochs = epochs[:size]
			next := epochs[size-1]
			resp.NextCursor = &next
		}
		resp.Epochs = append(resp.Epochs, epochs...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Claimable reports whether Claim would pay participant for epoch. A failed
// reward computation reads as not claimable.
func (s *Service) Claimable(ctx context.Context, epoch uint64, participant string) (*ClaimableResponse, error) {
	if err := state.ValidateAddress(participant); err != nil {
		return nil, err
	}

	resp := &ClaimableResponse{}
	err := s.store.View(ctx, func(tx store.Tx) error {
		book := ledger.NewBook(tx)
		r, ok, err := book.Round(epoch)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w for epoch %d", state.ErrRoundNotFound, epoch)
		}
		if !r.Resolved {
			return nil
		}

		bet, ok, err := book.Bet(epoch, participant)
		if err != nil || !ok {
			return err
		}
		resp.Position = &bet.Position
		resp.Amount = &bet.Amount
		if bet.Claimed {
			return nil
		}

		reward, err := state.CalculateReward(&r, &bet)
		if err != nil {
			reward = 0
		}
		if reward > 0 {
			resp.IsClaimable = true
			resp.ExpectedReward = &reward
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Refundable reports whether Refund would pay participant for epoch.
func (s *Service) Refundable(ctx context.Context, epoch uint64, participant string) (*RefundableResponse, error) {
	if err := state.ValidateAddress(participant); err != nil {
		return nil, err
	}

	resp := &RefundableResponse{}
	err := s.store.View(ctx, func(tx store.Tx) error {
		book := ledger.NewBook(tx)
		r, ok, err := book.Round(epoch)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w for epoch %d", state.ErrRoundNotFound, epoch)
		}

		bet, ok, err := book.Bet(epoch, participant)
		if err != nil || !ok || bet.Claimed || !r.IsTie() {
			return err
		}
		amount, err := state.RefundAmount(&r, &bet)
		if err != nil {
			return nil
		}
		resp.IsRefundable = true
		resp.Amount = &amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Config returns the configuration snapshot with the pause flag.
func (s *Service) Config(ctx context.Context) (*ConfigResponse, error) {
	var resp *ConfigResponse
	err := s.store.View(ctx, func(tx store.Tx) error {
		book := ledger.NewBook(tx)
		cfg, ok, err := book.Config()
		if err != nil {
			return err
		}
		if !ok {
			return state.ErrNotInstantiated
		}
		st, err := book.State()
		if err != nil {
			return err
		}
		resp = &ConfigResponse{
			Token:           cfg.Token,
			AdminAddress:    cfg.AdminAddress,
			OperatorAddress: cfg.OperatorAddress,
			IntervalSeconds: cfg.IntervalSeconds,
			BufferSeconds:   cfg.BufferSeconds,
			MinBetAmount:    cfg.MinBetAmount,
			TreasuryFee:     cfg.TreasuryFee,
			OracleAddress:   cfg.OracleAddress,
			PriceFeedID:     cfg.PriceFeedID,
			Paused:          st.Paused,
			Treasury:        st.Treasury,
		}
		return nil
	})
	return resp, err
}

// --- Receipt log ---

// Receipts returns a sender's receipts, newest first, with sequence-based
// pagination.
func (s *Service) Receipts(ctx context.Context, sender string, limit int, beforeSequence *int64) ([]ReceiptEntry, error) {
	if s.db == nil {
		return nil, ErrNoReceiptLog
	}
	if limit <= 0 || limit > MaxPageSize {
		limit = DefaultPageSize
	}

	query := `
		SELECT sequence, command_id, command_kind, sender, invoked_at, outcome,
		       COALESCE(error, ''), COALESCE(action, ''), events, transfers, receipt_hash
		FROM event_log.receipts
		WHERE sender = $1
	`
	args := []interface{}{sender}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ReceiptEntry
	for rows.Next() {
		var e ReceiptEntry
		if err := rows.Scan(
			&e.Sequence, &e.CommandID, &e.CommandKind, &e.Sender, &e.InvokedAt, &e.Outcome,
			&e.Error, &e.Action, &e.Events, &e.Transfers, &e.ReceiptHash,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks receipt hash chain continuity and sequence gaps.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	if s.db == nil {
		return nil, ErrNoReceiptLog
	}
	report := &IntegrityReport{}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), -1) FROM event_log.receipts`,
	).Scan(&report.LastSequence); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r1.sequence
		FROM event_log.receipts r1
		JOIN event_log.receipts r2 ON r2.sequence = r1.sequence - 1
		WHERE r1.prev_hash != r2.receipt_hash
		ORDER BY r1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			rows.Close()
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	gapRows, err := s.db.QueryContext(ctx, `
		SELECT r1.sequence + 1
		FROM event_log.receipts r1
		LEFT JOIN event_log.receipts r2 ON r2.sequence = r1.sequence + 1
		WHERE r2.sequence IS NULL AND r1.sequence < $1
		ORDER BY r1.sequence
		LIMIT 10
	`, report.LastSequence)
	if err != nil {
		return nil, err
	}
	defer gapRows.Close()
	for gapRows.Next() {
		var seq int64
		if err := gapRows.Scan(&seq); err != nil {
			return nil, err
		}
		report.SequenceGaps = append(report.SequenceGaps, seq)
	}
	if err := gapRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.SequenceGaps) == 0
	return report, nil
}
