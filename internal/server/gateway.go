package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/status"
)

// maxCommandBody bounds POST bodies; the largest command is instantiate.
const maxCommandBody = 64 << 10

// gatewayMux registers the /v1 routes. Handlers call the settlement service
// in-process rather than proxying through the gRPC listener.
func (s *GRPCServer) gatewayMux() (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method   string
		pattern  string
		endpoint string
		call     func(ctx context.Context, r *http.Request, p map[string]string) (interface{}, error)
	}{
		{"POST", "/v1/commands/{kind}", "Submit", s.httpSubmit},
		{"GET", "/v1/epoch", "GetCurrentEpoch", func(ctx context.Context, _ *http.Request, _ map[string]string) (interface{}, error) {
			return s.service.GetCurrentEpoch(ctx, &Empty{})
		}},
		{"GET", "/v1/config", "GetConfig", func(ctx context.Context, _ *http.Request, _ map[string]string) (interface{}, error) {
			return s.service.GetConfig(ctx, &Empty{})
		}},
		{"GET", "/v1/rounds/{epoch}", "GetRound", s.httpRound},
		{"GET", "/v1/rounds/{epoch}/claimable/{participant}", "GetClaimable", func(ctx context.Context, _ *http.Request, p map[string]string) (interface{}, error) {
			req, err := positionRequest(p)
			if err != nil {
				return nil, err
			}
			return s.service.GetClaimable(ctx, req)
		}},
		{"GET", "/v1/rounds/{epoch}/refundable/{participant}", "GetRefundable", func(ctx context.Context, _ *http.Request, p map[string]string) (interface{}, error) {
			req, err := positionRequest(p)
			if err != nil {
				return nil, err
			}
			return s.service.GetRefundable(ctx, req)
		}},
		{"GET", "/v1/participants/{participant}/rounds", "ListUserRounds", s.httpUserRounds},
		{"GET", "/v1/receipts", "ListReceipts", s.httpReceipts},
		{"GET", "/v1/integrity", "VerifyIntegrity", func(ctx context.Context, _ *http.Request, _ map[string]string) (interface{}, error) {
			return s.service.VerifyIntegrity(ctx, &Empty{})
		}},
	}

	for _, rt := range routes {
		rt := rt
		err := mux.HandlePath(rt.method, rt.pattern, func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			start := time.Now()
			resp, err := rt.call(r.Context(), r, p)
			s.observe(rt.endpoint, start, err)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		})
		if err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return mux, nil
}

func (s *GRPCServer) httpSubmit(ctx context.Context, r *http.Request, p map[string]string) (interface{}, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		return nil, invalidArgument("read body: %v", err)
	}
	return s.service.Submit(ctx, &SubmitRequest{Kind: p["kind"], Command: body})
}

func (s *GRPCServer) httpRound(ctx context.Context, _ *http.Request, p map[string]string) (interface{}, error) {
	epoch, err := parseUint("epoch", p["epoch"])
	if err != nil {
		return nil, err
	}
	return s.service.GetRound(ctx, &RoundRequest{Epoch: epoch})
}

func (s *GRPCServer) httpUserRounds(ctx context.Context, r *http.Request, p map[string]string) (interface{}, error) {
	q := r.URL.Query()
	req := &UserRoundsRequest{Participant: p["participant"]}

	var err error
	if req.Cursor, err = optionalUint(q, "cursor"); err != nil {
		return nil, err
	}
	limit, err := optionalUint(q, "limit")
	if err != nil {
		return nil, err
	}
	req.Limit = int(limit)
	return s.service.ListUserRounds(ctx, req)
}

func (s *GRPCServer) httpReceipts(ctx context.Context, r *http.Request, _ map[string]string) (interface{}, error) {
	q := r.URL.Query()
	req := &ReceiptsRequest{Sender: q.Get("sender")}

	limit, err := optionalUint(q, "limit")
	if err != nil {
		return nil, err
	}
	req.Limit = int(limit)

	if v := q.Get("before_sequence"); v != "" {
		before, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, invalidArgument("invalid before_sequence %q", v)
		}
		req.BeforeSequence = &before
	}
	return s.service.ListReceipts(ctx, req)
}

func positionRequest(p map[string]string) (*PositionRequest, error) {
	epoch, err := parseUint("epoch", p["epoch"])
	if err != nil {
		return nil, err
	}
	return &PositionRequest{Epoch: epoch, Participant: p["participant"]}, nil
}

func parseUint(name, v string) (uint64, error) {
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, invalidArgument("invalid %s %q", name, v)
	}
	return n, nil
}

func optionalUint(q url.Values, name string) (uint64, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	return parseUint(name, v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError renders err with the HTTP status of its gRPC code.
func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(toStatus(err))
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), errorBody{
		Code:    st.Code().String(),
		Message: st.Message(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
