package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store. Each Update works on a copy-on-write
// overlay that is merged into the base map only when fn succeeds.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{base: m.data, writes: make(map[string][]byte)}
	if err := fn(tx); err != nil {
		return err
	}

	for k, v := range tx.writes {
		if v == nil {
			delete(m.data, k)
			continue
		}
		m.data[k] = v
	}
	return nil
}

func (m *Memory) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return fn(&memTx{base: m.data, readOnly: true})
}

// Len returns the number of committed keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// memTx buffers writes; a nil value in writes is a deletion.
type memTx struct {
	base     map[string][]byte
	writes   map[string][]byte
	readOnly bool
}

func (t *memTx) lookup(path string) ([]byte, bool) {
	if v, ok := t.writes[path]; ok {
		return v, v != nil
	}
	v, ok := t.base[path]
	return v, ok
}

func (t *memTx) Get(key Key, dst interface{}) (bool, error) {
	raw, ok := t.lookup(key.Path())
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key.Path(), err)
	}
	return true, nil
}

func (t *memTx) Put(key Key, v interface{}) error {
	if t.readOnly {
		return ErrReadOnly
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key.Path(), err)
	}
	t.writes[key.Path()] = raw
	return nil
}

func (t *memTx) Has(key Key) (bool, error) {
	_, ok := t.lookup(key.Path())
	return ok, nil
}

func (t *memTx) Delete(key Key) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.writes[key.Path()] = nil
	return nil
}

func (t *memTx) Scan(prefix Key, after string, limit int, fn func(path string, raw []byte) error) error {
	p := prefix.Prefix()

	seen := make(map[string]struct{})
	var paths []string
	collect := func(src map[string][]byte) {
		for k := range src {
			if !strings.HasPrefix(k, p) || (after != "" && k <= after) {
				continue
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			if _, live := t.lookup(k); live {
				paths = append(paths, k)
			}
		}
	}
	collect(t.base)
	collect(t.writes)
	sort.Strings(paths)

	for i, k := range paths {
		if limit > 0 && i >= limit {
			break
		}
		raw, _ := t.lookup(k)
		if err := fn(k, raw); err != nil {
			return err
		}
	}
	return nil
}
