package skills

import (
	"fmt"
	"sync"
)

// Display creates progress bars shown to a single entity.
type Display interface {
	Create(entityID EntityID, title string, fraction float64) ProgressBar
}

// ProgressBar is a live display handle.
type ProgressBar interface {
	Update(title string, fraction float64)
	Detach()
}

// Tracker keeps at most one live progress bar per entity, for the category the
// entity chose to track.
type Tracker struct {
	table   LevelTable
	ledger  *Ledger
	display Display

	mu      sync.Mutex
	entries map[EntityID]*trackerEntry
}

type trackerEntry struct {
	mu        sync.Mutex
	category  Category
	bar       ProgressBar
	forgotten bool
}

// NewTracker wires a Tracker reading amounts from ledger.
func NewTracker(table LevelTable, ledger *Ledger, display Display) *Tracker {
	if display == nil {
		display = noopDisplay{}
	}
	return &Tracker{
		table:   table,
		ledger:  ledger,
		display: display,
		entries: make(map[EntityID]*trackerEntry),
	}
}

// Track shows category for the entity. It reports switched when a bar for a
// different category was replaced.
func (tracker *Tracker) Track(entityID EntityID, category Category) (bool, error) {
	if !category.Valid() {
		return false, fmt.Errorf("%w: %d", ErrInvalidCategory, int(category))
	}
	if !tracker.ledger.Has(entityID) {
		return false, fmt.Errorf("%w: %s", ErrMissingSession, entityID)
	}
	entry := tracker.entry(entityID)
	switched, err := tracker.show(entry, entityID, category)
	if err != nil {
		tracker.discardIdle(entityID, entry)
	}
	return switched, err
}

func (tracker *Tracker) show(entry *trackerEntry, entityID EntityID, category Category) (bool, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.forgotten {
		return false, fmt.Errorf("%w: %s", ErrMissingSession, entityID)
	}
	amount, err := tracker.ledger.Amount(entityID, category)
	if err != nil {
		return false, err
	}
	level := tracker.table.Level(amount)
	title := tracker.table.Title(category, amount)
	fraction := tracker.table.Progress(amount, level)

	if entry.bar != nil && entry.category == category {
		entry.bar.Update(title, fraction)
		return false, nil
	}
	switched := false
	if entry.bar != nil {
		entry.bar.Detach()
		switched = true
	}
	entry.bar = tracker.display.Create(entityID, title, fraction)
	entry.category = category
	return switched, nil
}

// Refresh redraws the entity's bar in place when it tracks category.
func (tracker *Tracker) Refresh(entityID EntityID, category Category) {
	tracker.mu.Lock()
	entry, ok := tracker.entries[entityID]
	tracker.mu.Unlock()
	if !ok {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.forgotten || entry.bar == nil || entry.category != category {
		return
	}
	amount, err := tracker.ledger.Amount(entityID, category)
	if err != nil {
		return
	}
	level := tracker.table.Level(amount)
	entry.bar.Update(tracker.table.Title(category, amount), tracker.table.Progress(amount, level))
}

// Current returns the tracked category, if any.
func (tracker *Tracker) Current(entityID EntityID) (Category, bool) {
	tracker.mu.Lock()
	entry, ok := tracker.entries[entityID]
	tracker.mu.Unlock()
	if !ok {
		return 0, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.bar == nil || entry.forgotten {
		return 0, false
	}
	return entry.category, true
}

// Forget drops the entity's entry and detaches its bar. Nothing is persisted.
func (tracker *Tracker) Forget(entityID EntityID) {
	tracker.mu.Lock()
	entry, ok := tracker.entries[entityID]
	delete(tracker.entries, entityID)
	tracker.mu.Unlock()
	if !ok {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.forgotten = true
	if entry.bar != nil {
		entry.bar.Detach()
		entry.bar = nil
	}
}

// discardIdle removes an entry that never got a bar, when it is still the
// registered one.
func (tracker *Tracker) discardIdle(entityID EntityID, entry *trackerEntry) {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if tracker.entries[entityID] != entry {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.bar == nil {
		entry.forgotten = true
		delete(tracker.entries, entityID)
	}
}

func (tracker *Tracker) entry(entityID EntityID) *trackerEntry {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	entry, ok := tracker.entries[entityID]
	if !ok {
		entry = &trackerEntry{}
		tracker.entries[entityID] = entry
	}
	return entry
}

type noopDisplay struct{}

func (noopDisplay) Create(EntityID, string, float64) ProgressBar { return noopBar{} }

type noopBar struct{}

func (noopBar) Update(string, float64) {}

func (noopBar) Detach() {}
