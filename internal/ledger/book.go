package ledger

import (
	"PredictLedger/internal/store"
	"fmt"
	"strconv"
	"strings"
)

// Ledger keys
func ConfigKey() store.Key { return store.Key{Scope: store.ScopeConfig} }

func StateKey() store.Key { return store.Key{Scope: store.ScopeState} }

func RoundKey(epoch uint64) store.Key {
	return store.Key{Scope: store.ScopeRound, Parts: []string{store.EpochPart(epoch)}}
}

func BetKey(epoch uint64, participant string) store.Key {
	return store.Key{Scope: store.ScopeBet, Parts: []string{store.EpochPart(epoch), participant}}
}

// UserRoundsPrefix covers every index entry of one participant.
func UserRoundsPrefix(participant string) store.Key {
	return store.Key{Scope: store.ScopeUserRound, Parts: []string{participant}}
}

func UserRoundKey(participant string, epoch uint64) store.Key {
	return store.Key{Scope: store.ScopeUserRound, Parts: []string{participant, store.EpochPart(epoch)}}
}

// Book is typed access to the ledger records within one transaction.
type Book struct {
	tx store.Tx
}

func NewBook(tx store.Tx) *Book {
	return &Book{tx: tx}
}

// Config returns the configuration; ok is false before instantiation.
func (b *Book) Config() (cfg Config, ok bool, err error) {
	ok, err = b.tx.Get(ConfigKey(), &cfg)
	return cfg, ok, err
}

func (b *Book) PutConfig(cfg Config) error {
	return b.tx.Put(ConfigKey(), cfg)
}

// State returns the global state, zero-valued if never written.
func (b *Book) State() (GlobalState, error) {
	var st GlobalState
	_, err := b.tx.Get(StateKey(), &st)
	return st, err
}

func (b *Book) PutState(st GlobalState) error {
	return b.tx.Put(StateKey(), st)
}

func (b *Book) Round(epoch uint64) (Round, bool, error) {
	var r Round
	ok, err := b.tx.Get(RoundKey(epoch), &r)
	return r, ok, err
}

func (b *Book) PutRound(r Round) error {
	return b.tx.Put(RoundKey(r.Epoch), r)
}

func (b *Book) Bet(epoch uint64, participant string) (Bet, bool, error) {
	var bet Bet
	ok, err := b.tx.Get(BetKey(epoch, participant), &bet)
	return bet, ok, err
}

func (b *Book) HasBet(epoch uint64, participant string) (bool, error) {
	return b.tx.Has(BetKey(epoch, participant))
}

func (b *Book) PutBet(epoch uint64, participant string, bet Bet) error {
	return b.tx.Put(BetKey(epoch, participant), bet)
}

// AppendUserRound records epoch in the participant's history. Repeated
// appends of the same epoch are no-ops.
func (b *Book) AppendUserRound(participant string, epoch uint64) error {
	key := UserRoundKey(participant, epoch)
	exists, err := b.tx.Has(key)
	if err != nil || exists {
		return err
	}
	return b.tx.Put(key, epoch)
}

// UserRounds returns up to limit epochs of the participant's history
// strictly after the epoch `after` (0 = from the start), in ascending order.
func (b *Book) UserRounds(participant string, after uint64, limit int) ([]uint64, error) {
	var afterPath string
	if after > 0 {
		afterPath = UserRoundKey(participant, after).Path()
	}

	var epochs []uint64
	err := b.tx.Scan(UserRoundsPrefix(participant), afterPath, limit, func(path string, _ []byte) error {
		epoch, err := epochFromPath(path)
		if err != nil {
			return err
		}
		epochs = append(epochs, epoch)
		return nil
	})
	return epochs, err
}

func epochFromPath(path string) (uint64, error) {
	idx := strings.LastIndexByte(path, ':')
	epoch, err := strconv.ParseUint(path[idx+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed index key %q: %w", path, err)
	}
	return epoch, nil
}
