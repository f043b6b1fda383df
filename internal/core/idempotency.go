package core

import (
	"PredictLedger/internal/observability"
	"container/list"
	"context"

	"github.com/google/uuid"
)

// IdempotencyChecker implements two-tier deduplication of command ids
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru *IdempotencyLRU

	// Tier 2: receipt log lookup (injected via interface)
	dbChecker DBIdempotencyChecker

	metrics *observability.Metrics
}

// DBIdempotencyChecker reports whether a receipt exists for a command id
type DBIdempotencyChecker interface {
	IsProcessed(ctx context.Context, commandID uuid.UUID) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
	}
}

// IsDuplicate checks if the command has been processed (two-tier lookup)
func (ic *IdempotencyChecker) IsDuplicate(ctx context.Context, commandID uuid.UUID) bool {
	if ic.lru.Contains(commandID) {
		ic.recordDuplicate("lru")
		return true
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsProcessed(ctx, commandID)
		if err != nil {
			// assume not duplicate; the receipt unique index still rejects
			// a second row for the same command id
			if ic.metrics != nil {
				ic.metrics.DedupTier2Errors.Inc()
			}
			return false
		}
		if isDup {
			ic.recordDuplicate("postgres")
			ic.MarkProcessed(commandID)
			return true
		}
	}

	return false
}

// MarkProcessed adds the id to the LRU once a receipt has been issued
func (ic *IdempotencyChecker) MarkProcessed(commandID uuid.UUID) {
	ic.lru.Add(commandID)
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
	}
}

// Warm loads recently processed ids, oldest first, after a restart.
func (ic *IdempotencyChecker) Warm(ids []uuid.UUID) {
	ic.lru.WarmFromKeys(ids)
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
	}
}

func (ic *IdempotencyChecker) recordDuplicate(tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(tier).Inc()
	}
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU set of command ids.
// Not thread-safe; only accessed from the executor goroutine.
type IdempotencyLRU struct {
	capacity int
	cache    map[uuid.UUID]*list.Element
	lruList  *list.List

	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[uuid.UUID]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key uuid.UUID) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key uuid.UUID) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	elem := lru.lruList.PushFront(key)
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		delete(lru.cache, elem.Value.(uuid.UUID))
		lru.evictions++
	}
}

// WarmFromKeys loads a batch of keys without promoting existing ones.
func (lru *IdempotencyLRU) WarmFromKeys(keys []uuid.UUID) {
	for _, key := range keys {
		if _, exists := lru.cache[key]; exists {
			continue
		}
		lru.cache[key] = lru.lruList.PushFront(key)
		if lru.lruList.Len() > lru.capacity {
			lru.evictOldest()
		}
	}
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
