package server

import (
	"PredictLedger/internal/core"
	"PredictLedger/internal/event"
	"PredictLedger/internal/ingestion"
	"PredictLedger/internal/ledger"
	"PredictLedger/internal/query"
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "predictledger.v1.Settlement"

// Submitter applies one command and waits for the result. *core.Executor
// implements it.
type Submitter interface {
	Submit(ctx context.Context, cmd core.Command) (core.Result, error)
}

// SettlementServer is the settlement service. Mutating calls go through the
// executor; queries read the store directly.
type SettlementServer interface {
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	GetRound(context.Context, *RoundRequest) (*query.RoundResponse, error)
	GetCurrentEpoch(context.Context, *Empty) (*query.CurrentEpochResponse, error)
	ListUserRounds(context.Context, *UserRoundsRequest) (*query.UserRoundsResponse, error)
	GetClaimable(context.Context, *PositionRequest) (*query.ClaimableResponse, error)
	GetRefundable(context.Context, *PositionRequest) (*query.RefundableResponse, error)
	GetConfig(context.Context, *Empty) (*query.ConfigResponse, error)
	ListReceipts(context.Context, *ReceiptsRequest) (*ReceiptsResponse, error)
	VerifyIntegrity(context.Context, *Empty) (*query.IntegrityReport, error)
}

// ============================================================================
// Messages
// ============================================================================

type Empty struct{}

// SubmitRequest carries a command in the same JSON envelope the NATS intake
// accepts: command_id, sender, funds and a kind-specific payload.
type SubmitRequest struct {
	Kind    string          `json:"kind"`
	Command json.RawMessage `json:"command"`
}

type SubmitResponse struct {
	Sequence  int64             `json:"sequence"`
	Duplicate bool              `json:"duplicate"`
	Action    string            `json:"action,omitempty"`
	Events    []EventView       `json:"events"`
	Transfers []ledger.Transfer `json:"transfers"`
}

// EventView is an emitted event without its envelope.
type EventView struct {
	Type    string          `json:"type"`
	Epoch   uint64          `json:"epoch"`
	Payload json.RawMessage `json:"payload"`
}

func viewOf(evt event.Event) (EventView, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return EventView{}, fmt.Errorf("marshal %s: %w", evt.EventType(), err)
	}
	return EventView{Type: evt.EventType().String(), Epoch: evt.Epoch(), Payload: payload}, nil
}

type RoundRequest struct {
	Epoch uint64 `json:"epoch"`
}

type UserRoundsRequest struct {
	Participant string `json:"participant"`
	Cursor      uint64 `json:"cursor"`
	Limit       int    `json:"limit"`
}

// PositionRequest addresses one participant's bet in one round.
type PositionRequest struct {
	Epoch       uint64 `json:"epoch"`
	Participant string `json:"participant"`
}

type ReceiptsRequest struct {
	Sender         string `json:"sender"`
	Limit          int    `json:"limit"`
	BeforeSequence *int64 `json:"before_sequence,omitempty"`
}

type ReceiptsResponse struct {
	Receipts []query.ReceiptEntry `json:"receipts"`
}

// ============================================================================
// Implementation
// ============================================================================

type settlementService struct {
	submitter Submitter
	queries   *query.Service
}

func (s *settlementService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	kind, err := core.ParseKind(req.Kind)
	if err != nil {
		return nil, invalidArgument("%v", err)
	}
	cmd, err := ingestion.ParsePayload(kind, req.Command)
	if err != nil {
		return nil, invalidArgument("%v", err)
	}

	res, err := s.submitter.Submit(ctx, cmd)
	if err != nil {
		return nil, toStatus(err)
	}
	if res.Err != nil {
		return nil, toStatus(res.Err)
	}

	resp := &SubmitResponse{
		Sequence:  res.Sequence,
		Duplicate: res.Duplicate,
		Events:    []EventView{},
		Transfers: []ledger.Transfer{},
	}
	if res.Response != nil {
		resp.Action = res.Response.Action
		for _, evt := range res.Response.Events {
			view, err := viewOf(evt)
			if err != nil {
				// the command is already committed; the caller can read the receipt
				return nil, status.Error(codes.Internal, err.Error())
			}
			resp.Events = append(resp.Events, view)
		}
		if len(res.Response.Transfers) > 0 {
			resp.Transfers = res.Response.Transfers
		}
	}
	return resp, nil
}

func (s *settlementService) GetRound(ctx context.Context, req *RoundRequest) (*query.RoundResponse, error) {
	r, err := s.queries.Round(ctx, req.Epoch)
	return r, toStatus(err)
}

func (s *settlementService) GetCurrentEpoch(ctx context.Context, _ *Empty) (*query.CurrentEpochResponse, error) {
	r, err := s.queries.CurrentEpoch(ctx)
	return r, toStatus(err)
}

func (s *settlementService) ListUserRounds(ctx context.Context, req *UserRoundsRequest) (*query.UserRoundsResponse, error) {
	r, err := s.queries.UserRounds(ctx, req.Participant, req.Cursor, req.Limit)
	return r, toStatus(err)
}

func (s *settlementService) GetClaimable(ctx context.Context, req *PositionRequest) (*query.ClaimableResponse, error) {
	r, err := s.queries.Claimable(ctx, req.Epoch, req.Participant)
	return r, toStatus(err)
}

func (s *settlementService) GetRefundable(ctx context.Context, req *PositionRequest) (*query.RefundableResponse, error) {
	r, err := s.queries.Refundable(ctx, req.Epoch, req.Participant)
	return r, toStatus(err)
}

func (s *settlementService) GetConfig(ctx context.Context, _ *Empty) (*query.ConfigResponse, error) {
	r, err := s.queries.Config(ctx)
	return r, toStatus(err)
}

func (s *settlementService) ListReceipts(ctx context.Context, req *ReceiptsRequest) (*ReceiptsResponse, error) {
	entries, err := s.queries.Receipts(ctx, req.Sender, req.Limit, req.BeforeSequence)
	if err != nil {
		return nil, toStatus(err)
	}
	if entries == nil {
		entries = []query.ReceiptEntry{}
	}
	return &ReceiptsResponse{Receipts: entries}, nil
}

func (s *settlementService) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	r, err := s.queries.VerifyIntegrity(ctx)
	return r, toStatus(err)
}

// ============================================================================
// Service descriptor
// ============================================================================

// unaryHandler adapts a typed method to a grpc method handler.
func unaryHandler[Req any, Resp any](method string, call func(SettlementServer, context.Context, *Req) (*Resp, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SettlementServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(SettlementServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var settlementServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SettlementServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: unaryHandler("Submit", SettlementServer.Submit)},
		{MethodName: "GetRound", Handler: unaryHandler("GetRound", SettlementServer.GetRound)},
		{MethodName: "GetCurrentEpoch", Handler: unaryHandler("GetCurrentEpoch", SettlementServer.GetCurrentEpoch)},
		{MethodName: "ListUserRounds", Handler: unaryHandler("ListUserRounds", SettlementServer.ListUserRounds)},
		{MethodName: "GetClaimable", Handler: unaryHandler("GetClaimable", SettlementServer.GetClaimable)},
		{MethodName: "GetRefundable", Handler: unaryHandler("GetRefundable", SettlementServer.GetRefundable)},
		{MethodName: "GetConfig", Handler: unaryHandler("GetConfig", SettlementServer.GetConfig)},
		{MethodName: "ListReceipts", Handler: unaryHandler("ListReceipts", SettlementServer.ListReceipts)},
		{MethodName: "VerifyIntegrity", Handler: unaryHandler("VerifyIntegrity", SettlementServer.VerifyIntegrity)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "predictledger/v1/settlement",
}

// RegisterSettlementServer registers srv on s.
func RegisterSettlementServer(s grpc.ServiceRegistrar, srv SettlementServer) {
	s.RegisterService(&settlementServiceDesc, srv)
}
