package server

import (
	"PredictLedger/internal/query"
	"PredictLedger/internal/state"
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps a ledger error to a gRPC status error. Errors that already
// carry a status pass through unchanged.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codeOf(err), err.Error())
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, state.ErrAlreadyBet):
		return codes.AlreadyExists
	case errors.Is(err, query.ErrNoReceiptLog):
		return codes.Unimplemented
	}

	switch state.ClassOf(err) {
	case state.ClassAuthorization:
		return codes.PermissionDenied
	case state.ClassValidation:
		return codes.InvalidArgument
	case state.ClassState, state.ClassBusiness:
		return codes.FailedPrecondition
	case state.ClassNotFound:
		return codes.NotFound
	case state.ClassOracle:
		return codes.Unavailable
	default:
		// arithmetic and anything unclassified
		return codes.Internal
	}
}

func invalidArgument(format string, args ...interface{}) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}
