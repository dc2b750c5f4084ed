package skills

import (
	"bytes"
	"sort"
	"sync"
)

// PendingBuffer accumulates deltas that have not been written to storage yet.
// It is independent of session lifetime: a drain after an entity disconnected
// still returns its deltas.
type PendingBuffer struct {
	mu      sync.RWMutex
	records map[EntityID]*pendingRecord
}

type pendingRecord struct {
	mu      sync.Mutex
	amounts Amounts
}

// NewPendingBuffer returns an empty buffer.
func NewPendingBuffer() *PendingBuffer {
	return &PendingBuffer{records: make(map[EntityID]*pendingRecord)}
}

// Merge adds amount to the entity's pending delta for category, saturating at
// math.MaxInt64.
func (buffer *PendingBuffer) Merge(entityID EntityID, category Category, amount int64) {
	if amount <= 0 || !category.Valid() {
		return
	}
	// The read lock is held across the record update so DrainAll, which swaps
	// the map under the write lock, either sees this merge or the next cycle does.
	buffer.mu.RLock()
	record, ok := buffer.records[entityID]
	if ok {
		record.mu.Lock()
		record.amounts[category] = saturatingAdd(record.amounts[category], amount)
		record.mu.Unlock()
		buffer.mu.RUnlock()
		return
	}
	buffer.mu.RUnlock()

	buffer.mu.Lock()
	defer buffer.mu.Unlock()
	record, ok = buffer.records[entityID]
	if !ok {
		record = &pendingRecord{}
		buffer.records[entityID] = record
	}
	record.mu.Lock()
	record.amounts[category] = saturatingAdd(record.amounts[category], amount)
	record.mu.Unlock()
}

// DrainAll takes and clears every pending record, returning one delta per
// non-zero (entity, category) ordered by entity then category.
func (buffer *PendingBuffer) DrainAll() []Delta {
	buffer.mu.Lock()
	drained := buffer.records
	buffer.records = make(map[EntityID]*pendingRecord, len(drained))
	buffer.mu.Unlock()

	entityIDs := make([]EntityID, 0, len(drained))
	for entityID := range drained {
		entityIDs = append(entityIDs, entityID)
	}
	sort.Slice(entityIDs, func(left, right int) bool {
		leftID, rightID := entityIDs[left].UUID(), entityIDs[right].UUID()
		return bytes.Compare(leftID[:], rightID[:]) < 0
	})

	deltas := make([]Delta, 0, len(drained))
	for _, entityID := range entityIDs {
		record := drained[entityID]
		record.mu.Lock()
		amounts := record.amounts
		record.mu.Unlock()
		for _, category := range Categories() {
			if amount := amounts[category]; amount > 0 {
				deltas = append(deltas, Delta{EntityID: entityID, Category: category, Amount: amount})
			}
		}
	}
	return deltas
}

// Restore merges deltas back, used when a drained batch could not be written.
func (buffer *PendingBuffer) Restore(deltas []Delta) {
	for _, delta := range deltas {
		buffer.Merge(delta.EntityID, delta.Category, delta.Amount)
	}
}

// Pending returns the un-flushed amount for (entity, category).
func (buffer *PendingBuffer) Pending(entityID EntityID, category Category) int64 {
	buffer.mu.RLock()
	defer buffer.mu.RUnlock()
	record, ok := buffer.records[entityID]
	if !ok {
		return 0
	}
	record.mu.Lock()
	defer record.mu.Unlock()
	return record.amounts.Get(category)
}

// Len returns the number of entities with pending deltas.
func (buffer *PendingBuffer) Len() int {
	buffer.mu.RLock()
	defer buffer.mu.RUnlock()
	return len(buffer.records)
}
