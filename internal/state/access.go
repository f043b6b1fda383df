package state

import "PredictLedger/internal/ledger"

// Role checks run against the configuration read in the same invocation;
// nothing about a caller is cached between calls.

func RequireAdmin(cfg *ledger.Config, sender string) error {
	if sender == "" || sender != cfg.AdminAddress {
		return ErrUnauthorized
	}
	return nil
}

func RequireOperator(cfg *ledger.Config, sender string) error {
	if sender == "" || sender != cfg.OperatorAddress {
		return ErrUnauthorized
	}
	return nil
}

// RequireNotPaused gates participant and operator operations. Admin
// pause/unpause/treasury withdrawal skip it.
func RequireNotPaused(st *ledger.GlobalState) error {
	if st.Paused {
		return ErrPaused
	}
	return nil
}
