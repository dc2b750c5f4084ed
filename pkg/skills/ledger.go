package skills

import (
	"fmt"
	"math"
	"sync"
)

// Ledger holds the authoritative cumulative amounts of every active session.
//
// Lock order: Ledger.mu before entityRecord.mu. The outer lock only guards the
// map itself; every read-modify-write of an entity's amounts happens under that
// entity's record lock so concurrent increments to different categories of the
// same entity never interleave.
type Ledger struct {
	mu      sync.RWMutex
	records map[EntityID]*entityRecord
}

type entityRecord struct {
	mu      sync.Mutex
	amounts Amounts
	ended   bool
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{records: make(map[EntityID]*entityRecord)}
}

// Begin installs the entity's record, replacing any previous one.
func (ledger *Ledger) Begin(entityID EntityID, amounts Amounts) {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if previous, ok := ledger.records[entityID]; ok {
		previous.mu.Lock()
		previous.ended = true
		previous.mu.Unlock()
	}
	ledger.records[entityID] = &entityRecord{amounts: amounts}
}

// End removes the entity's record. Increments racing with End fail with ErrMissingSession.
func (ledger *Ledger) End(entityID EntityID) bool {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	record, ok := ledger.records[entityID]
	if !ok {
		return false
	}
	record.mu.Lock()
	record.ended = true
	record.mu.Unlock()
	delete(ledger.records, entityID)
	return true
}

// Increment adds amount to the entity's category and returns the amounts before
// and after. Non-positive amounts leave the record unchanged. The total
// saturates at math.MaxInt64.
func (ledger *Ledger) Increment(entityID EntityID, category Category, amount int64) (Change, error) {
	if !category.Valid() {
		return Change{}, fmt.Errorf("%w: %d", ErrInvalidCategory, int(category))
	}
	record, err := ledger.record(entityID)
	if err != nil {
		return Change{}, err
	}
	record.mu.Lock()
	defer record.mu.Unlock()
	if record.ended {
		return Change{}, fmt.Errorf("%w: %s", ErrMissingSession, entityID)
	}
	current := record.amounts[category]
	if amount <= 0 {
		return Change{Old: current, New: current}, nil
	}
	updated := saturatingAdd(current, amount)
	record.amounts[category] = updated
	return Change{Old: current, New: updated}, nil
}

// Amount returns the entity's cumulative amount for category.
func (ledger *Ledger) Amount(entityID EntityID, category Category) (int64, error) {
	amounts, err := ledger.Snapshot(entityID)
	if err != nil {
		return 0, err
	}
	return amounts.Get(category), nil
}

// Snapshot copies the entity's amounts.
func (ledger *Ledger) Snapshot(entityID EntityID) (Amounts, error) {
	record, err := ledger.record(entityID)
	if err != nil {
		return Amounts{}, err
	}
	record.mu.Lock()
	defer record.mu.Unlock()
	if record.ended {
		return Amounts{}, fmt.Errorf("%w: %s", ErrMissingSession, entityID)
	}
	return record.amounts, nil
}

// Has reports whether the entity has an active record.
func (ledger *Ledger) Has(entityID EntityID) bool {
	ledger.mu.RLock()
	defer ledger.mu.RUnlock()
	_, ok := ledger.records[entityID]
	return ok
}

// Len returns the number of active records.
func (ledger *Ledger) Len() int {
	ledger.mu.RLock()
	defer ledger.mu.RUnlock()
	return len(ledger.records)
}

func (ledger *Ledger) record(entityID EntityID) (*entityRecord, error) {
	ledger.mu.RLock()
	record, ok := ledger.records[entityID]
	ledger.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingSession, entityID)
	}
	return record, nil
}

// saturatingAdd adds two non-negative amounts, stopping at math.MaxInt64.
func saturatingAdd(current int64, amount int64) int64 {
	if amount > math.MaxInt64-current {
		return math.MaxInt64
	}
	return current + amount
}
