package ledger

import (
	"PredictLedger/internal/store"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// OutboxKind tags an outbound message.
type OutboxKind string

const (
	OutboxEvent    OutboxKind = "event"
	OutboxTransfer OutboxKind = "transfer"
)

// OutboxMessage is an outbound message committed in the same transaction as
// the ledger change that produced it. It stays in the outbox until the
// publisher has handed it to the broker.
type OutboxMessage struct {
	ID      string          `json:"id"` // broker dedup key
	Kind    OutboxKind      `json:"kind"`
	Topic   string          `json:"topic,omitempty"` // event subject token
	Payload json.RawMessage `json:"payload"`
}

// OutboxEntry is a queued message and its position in the outbox.
type OutboxEntry struct {
	Position uint64
	Message  OutboxMessage
}

// TransferMessage is the outbound form of a transfer instruction.
type TransferMessage struct {
	Sequence int64 `json:"sequence"`
	Transfer
}

// Applied marks a command whose ledger change has committed.
type Applied struct {
	Action string `json:"action"`
}

func AppliedKey(id uuid.UUID) store.Key {
	return store.Key{Scope: store.ScopeApplied, Parts: []string{id.String()}}
}

func OutboxKey(position uint64) store.Key {
	return store.Key{Scope: store.ScopeOutbox, Parts: []string{store.EpochPart(position)}}
}

func OutboxHeadKey() store.Key { return store.Key{Scope: store.ScopeOutboxHead} }

// IsApplied reports whether command id has already committed.
func (b *Book) IsApplied(id uuid.UUID) (bool, error) {
	return b.tx.Has(AppliedKey(id))
}

func (b *Book) MarkApplied(id uuid.UUID, action string) error {
	return b.tx.Put(AppliedKey(id), Applied{Action: action})
}

// Enqueue appends msgs to the outbox in order.
func (b *Book) Enqueue(msgs ...OutboxMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	var head uint64
	if _, err := b.tx.Get(OutboxHeadKey(), &head); err != nil {
		return err
	}
	for _, m := range msgs {
		head++
		if err := b.tx.Put(OutboxKey(head), m); err != nil {
			return err
		}
	}
	return b.tx.Put(OutboxHeadKey(), head)
}

// Outbox returns up to limit queued messages, oldest first.
func (b *Book) Outbox(limit int) ([]OutboxEntry, error) {
	var entries []OutboxEntry
	err := b.tx.Scan(store.Key{Scope: store.ScopeOutbox}, "", limit, func(path string, raw []byte) error {
		position, err := epochFromPath(path)
		if err != nil {
			return err
		}
		var m OutboxMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		entries = append(entries, OutboxEntry{Position: position, Message: m})
		return nil
	})
	return entries, err
}

// Ack removes delivered messages from the outbox.
func (b *Book) Ack(positions ...uint64) error {
	for _, p := range positions {
		if err := b.tx.Delete(OutboxKey(p)); err != nil {
			return err
		}
	}
	return nil
}
