package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrReadOnly is returned by mutating calls made inside View.
var ErrReadOnly = errors.New("store: read-only transaction")

// KeyScope is the top-level namespace of a ledger key
type KeyScope uint8

const (
	ScopeConfig KeyScope = iota
	ScopeState
	ScopeRound
	ScopeBet
	ScopeUserRound
	ScopeApplied
	ScopeOutbox
	ScopeOutboxHead
)

// Key is a structured ledger key. Parts render as a colon path; numeric
// epoch parts are zero-padded so lexical order matches numeric order.
type Key struct {
	Scope KeyScope
	Parts []string
}

// EpochPart renders an epoch as a fixed-width, order-preserving key part.
func EpochPart(epoch uint64) string {
	return fmt.Sprintf("%020d", epoch)
}

// Path returns the string representation used for storage and logging.
func (k Key) Path() string {
	if len(k.Parts) == 0 {
		return k.Scope.name()
	}
	return k.Scope.name() + ":" + strings.Join(k.Parts, ":")
}

// Prefix returns the scan prefix covering every key that extends k.
func (k Key) Prefix() string {
	return k.Path() + ":"
}

func (s KeyScope) name() string {
	switch s {
	case ScopeConfig:
		return "config"
	case ScopeState:
		return "state"
	case ScopeRound:
		return "round"
	case ScopeBet:
		return "bet"
	case ScopeUserRound:
		return "user_round"
	case ScopeApplied:
		return "applied"
	case ScopeOutbox:
		return "outbox"
	case ScopeOutboxHead:
		return "outbox_head"
	default:
		return "unknown"
	}
}

// Tx is a single invocation's view of the ledger.
type Tx interface {
	// Get decodes the value at key into dst. Reports false if absent.
	Get(key Key, dst interface{}) (bool, error)

	// Put encodes v and stores it at key.
	Put(key Key, v interface{}) error

	// Has reports whether key exists.
	Has(key Key) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key Key) error

	// Scan visits keys under prefix in ascending order, starting strictly
	// after the path `after` when non-empty. limit <= 0 means unbounded.
	// fn returning a non-nil error stops the scan and returns that error.
	Scan(prefix Key, after string, limit int, fn func(path string, raw []byte) error) error
}

// Store runs invocations against the ledger. Update is all-or-nothing:
// writes are committed only if fn returns nil. Invocations never interleave.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}
