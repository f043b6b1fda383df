package ingestion

import (
	"PredictLedger/internal/core"
	"PredictLedger/internal/state"
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// fakeMsg overrides the methods handle uses; anything else panics.
type fakeMsg struct {
	jetstream.Msg
	subject string
	data    []byte

	acked, naked, termed bool
}

func (m *fakeMsg) Subject() string { return m.subject }
func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Ack() error      { m.acked = true; return nil }
func (m *fakeMsg) Nak() error      { m.naked = true; return nil }
func (m *fakeMsg) Term() error     { m.termed = true; return nil }

type fakeSubmitter struct {
	res core.Result
	err error
	got []core.Command
}

func (f *fakeSubmitter) Submit(_ context.Context, cmd core.Command) (core.Result, error) {
	f.got = append(f.got, cmd)
	return f.res, f.err
}

const pauseCommand = `{"command_id": "550e8400-e29b-41d4-a716-446655440000", "sender": "admin"}`

func TestHandle_AckPolicy(t *testing.T) {
	tests := []struct {
		name       string
		data       string
		res        core.Result
		submitErr  error
		wantAck    bool
		wantNak    bool
		wantTerm   bool
		wantSubmit bool
	}{
		{name: "committed", data: pauseCommand, wantAck: true, wantSubmit: true},
		{name: "business rejection is final", data: pauseCommand,
			res: core.Result{Err: state.ErrAlreadyPaused}, wantAck: true, wantSubmit: true},
		{name: "duplicate", data: pauseCommand,
			res: core.Result{Duplicate: true}, wantAck: true, wantSubmit: true},
		{name: "cancelled mid-apply", data: pauseCommand,
			res: core.Result{Err: context.Canceled}, wantNak: true, wantSubmit: true},
		{name: "shutting down", data: pauseCommand,
			submitErr: context.Canceled, wantNak: true, wantSubmit: true},
		{name: "malformed", data: `{"sender": 1}`, wantTerm: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{res: tt.res, err: tt.submitErr}
			cs := NewCommandSubscriber(nil, sub, zerolog.Nop())
			msg := &fakeMsg{subject: CommandSubject(core.KindPause), data: []byte(tt.data)}

			cs.handle(context.Background(), msg)

			if msg.acked != tt.wantAck || msg.naked != tt.wantNak || msg.termed != tt.wantTerm {
				t.Errorf("ack=%v nak=%v term=%v", msg.acked, msg.naked, msg.termed)
			}
			if (len(sub.got) == 1) != tt.wantSubmit {
				t.Errorf("submitted %d commands", len(sub.got))
			}
		})
	}
}

func TestIsFinal(t *testing.T) {
	if !core.IsFinal(state.ErrBetTooSmall) {
		t.Error("business error should be final")
	}
	if core.IsFinal(errors.Join(state.ErrOracle, context.DeadlineExceeded)) {
		t.Error("deadline should not be final")
	}
}
