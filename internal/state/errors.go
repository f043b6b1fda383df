package state

import (
	fpmath "PredictLedger/internal/math"
	"errors"
)

// Class groups errors by how a caller should react to them.
type Class uint8

const (
	ClassUnknown Class = iota
	ClassAuthorization
	ClassValidation
	ClassState
	ClassNotFound
	ClassBusiness
	ClassArithmetic
	ClassOracle
)

func (c Class) String() string {
	switch c {
	case ClassAuthorization:
		return "authorization"
	case ClassValidation:
		return "validation"
	case ClassState:
		return "state"
	case ClassNotFound:
		return "not_found"
	case ClassBusiness:
		return "business"
	case ClassArithmetic:
		return "arithmetic"
	case ClassOracle:
		return "oracle"
	default:
		return "unknown"
	}
}

// Error is a classified ledger error. Sentinels below are compared with
// errors.Is; epoch context is attached by wrapping.
type Error struct {
	Class Class
	Msg   string
}

func (e *Error) Error() string {
	return e.Msg
}

func newError(class Class, msg string) *Error {
	return &Error{Class: class, Msg: msg}
}

var (
	ErrUnauthorized = newError(ClassAuthorization, "Unauthorized")

	ErrInvalidInterval    = newError(ClassValidation, "Invalid interval seconds")
	ErrInvalidBuffer      = newError(ClassValidation, "Invalid buffer seconds (must be less than interval)")
	ErrInvalidMinBet      = newError(ClassValidation, "Invalid minimum bet amount")
	ErrInvalidTreasuryFee = newError(ClassValidation, "Invalid treasury fee (must be <= 1000, representing max 10%)")
	ErrInvalidFeedID      = newError(ClassValidation, "Invalid price feed id")
	ErrInvalidAddress     = newError(ClassValidation, "Invalid address")
	ErrInvalidToken       = newError(ClassValidation, "Invalid token denom")
	ErrInvalidCommand     = newError(ClassValidation, "Invalid command")

	ErrPaused                = newError(ClassState, "Contract is paused")
	ErrAlreadyPaused         = newError(ClassState, "Contract is already paused")
	ErrAlreadyUnpaused       = newError(ClassState, "Contract is already unpaused")
	ErrGenesisNotStarted     = newError(ClassState, "Genesis round has not been started")
	ErrGenesisAlreadyStarted = newError(ClassState, "Genesis round has already been started")
	ErrGenesisAlreadyLocked  = newError(ClassState, "Genesis round has already been locked")
	ErrRoundNotLockable      = newError(ClassState, "Round is not lockable yet")
	ErrRoundNotBettable      = newError(ClassState, "Round is not bettable")
	ErrRoundNotEnded         = newError(ClassState, "Round has not ended")
	ErrRoundNotTie           = newError(ClassState, "Round did not end in a tie")
	ErrNotInstantiated       = newError(ClassState, "Contract is not instantiated")
	ErrAlreadyInstantiated   = newError(ClassState, "Contract is already instantiated")

	ErrRoundNotFound = newError(ClassNotFound, "Round not found")
	ErrNoBetRecord   = newError(ClassNotFound, "No bet record found")

	ErrAlreadyBet      = newError(ClassBusiness, "Already bet on this round")
	ErrBetTooSmall     = newError(ClassBusiness, "Bet amount is too small")
	ErrInvalidBetFunds = newError(ClassBusiness, "invalid usdc token")
	ErrAlreadyClaimed  = newError(ClassBusiness, "Already claimed rewards")
	ErrNotWinner       = newError(ClassBusiness, "Not a winner")
	ErrEmptyEpochs     = newError(ClassBusiness, "No epochs provided")
	ErrNoTreasury      = newError(ClassBusiness, "No treasury funds to claim")

	ErrOracle = newError(ClassOracle, "Oracle error")
)

// ClassOf returns the class of the first classified error in err's chain.
// Checked-arithmetic failures from the math package are ClassArithmetic.
func ClassOf(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Class
	}
	if errors.Is(err, fpmath.ErrOverflow) ||
		errors.Is(err, fpmath.ErrUnderflow) ||
		errors.Is(err, fpmath.ErrDivideByZero) {
		return ClassArithmetic
	}
	return ClassUnknown
}
