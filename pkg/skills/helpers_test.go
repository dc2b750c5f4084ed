package skills

import (
	"context"
	"errors"
	"sync"
	"testing"
)

const (
	entityAlphaValue = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	entityBetaValue  = "0f8fad5b-d9cb-469f-a165-70867728950e"
)

var errStoreFailure = errors.New("store error")

func mustEntityID(test *testing.T, raw string) EntityID {
	test.Helper()
	entityID, err := NewEntityID(raw)
	if err != nil {
		test.Fatalf("entity id %q: %v", raw, err)
	}
	return entityID
}

func mustLevelTable(test *testing.T, thresholds ...int64) LevelTable {
	test.Helper()
	table, err := NewLevelTable(thresholds)
	if err != nil {
		test.Fatalf("level table: %v", err)
	}
	return table
}

type stubStore struct {
	mu sync.Mutex

	applied      [][]Delta
	tracked      map[EntityID]Category
	saveCalls    int
	profiles     map[EntityID]Profile
	applyErrors  []error
	saveErrors   []error
	loadError    error
	levelUps     []LevelUp
	journalError error
}

func newStubStore() *stubStore {
	return &stubStore{
		tracked:  make(map[EntityID]Category),
		profiles: make(map[EntityID]Profile),
	}
}

func (store *stubStore) ApplyDeltas(_ context.Context, deltas []Delta) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.applyErrors) > 0 {
		err := store.applyErrors[0]
		store.applyErrors = store.applyErrors[1:]
		if err != nil {
			return err
		}
	}
	copied := make([]Delta, len(deltas))
	copy(copied, deltas)
	store.applied = append(store.applied, copied)
	return nil
}

func (store *stubStore) SaveTrackedCategory(_ context.Context, entityID EntityID, category Category) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.saveCalls++
	if len(store.saveErrors) > 0 {
		err := store.saveErrors[0]
		store.saveErrors = store.saveErrors[1:]
		if err != nil {
			return err
		}
	}
	store.tracked[entityID] = category
	return nil
}

func (store *stubStore) LoadProfile(_ context.Context, entityID EntityID, defaultCategory Category) (Profile, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.loadError != nil {
		return Profile{}, store.loadError
	}
	profile, ok := store.profiles[entityID]
	if !ok {
		profile = NewProfile(defaultCategory)
		store.profiles[entityID] = Profile{Amounts: profile.Amounts, Tracked: profile.Tracked}
	}
	for _, category := range Categories() {
		profile.Amounts[category] += store.appliedTotalLocked(entityID, category)
	}
	return profile, nil
}

func (store *stubStore) RecordLevelUp(_ context.Context, levelUp LevelUp) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.journalError != nil {
		return store.journalError
	}
	store.levelUps = append(store.levelUps, levelUp)
	return nil
}

func (store *stubStore) appliedTotal(entityID EntityID, category Category) int64 {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.appliedTotalLocked(entityID, category)
}

func (store *stubStore) appliedTotalLocked(entityID EntityID, category Category) int64 {
	var total int64
	for _, batch := range store.applied {
		for _, delta := range batch {
			if delta.EntityID == entityID && delta.Category == category {
				total += delta.Amount
			}
		}
	}
	return total
}

func (store *stubStore) applyCalls() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.applied)
}

func (store *stubStore) trackedCategory(entityID EntityID) (Category, bool, int) {
	store.mu.Lock()
	defer store.mu.Unlock()
	category, ok := store.tracked[entityID]
	return category, ok, store.saveCalls
}

type recordingDisplay struct {
	mu      sync.Mutex
	created int
	bars    []*recordingBar
}

func (display *recordingDisplay) Create(_ EntityID, title string, fraction float64) ProgressBar {
	display.mu.Lock()
	defer display.mu.Unlock()
	display.created++
	bar := &recordingBar{title: title, fraction: fraction}
	display.bars = append(display.bars, bar)
	return bar
}

func (display *recordingDisplay) createdCount() int {
	display.mu.Lock()
	defer display.mu.Unlock()
	return display.created
}

func (display *recordingDisplay) last() *recordingBar {
	display.mu.Lock()
	defer display.mu.Unlock()
	if len(display.bars) == 0 {
		return nil
	}
	return display.bars[len(display.bars)-1]
}

type recordingBar struct {
	mu       sync.Mutex
	title    string
	fraction float64
	updates  int
	detached bool
}

func (bar *recordingBar) Update(title string, fraction float64) {
	bar.mu.Lock()
	defer bar.mu.Unlock()
	bar.title = title
	bar.fraction = fraction
	bar.updates++
}

func (bar *recordingBar) Detach() {
	bar.mu.Lock()
	defer bar.mu.Unlock()
	bar.detached = true
}

func (bar *recordingBar) state() (string, float64, int, bool) {
	bar.mu.Lock()
	defer bar.mu.Unlock()
	return bar.title, bar.fraction, bar.updates, bar.detached
}

type recorderLogger struct {
	mu      sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.entries = append(logger.entries, entry)
}

func (logger *recorderLogger) operations(operation string) []OperationLog {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	var matched []OperationLog
	for _, entry := range logger.entries {
		if entry.Operation == operation {
			matched = append(matched, entry)
		}
	}
	return matched
}

type recordingObserver struct {
	mu      sync.Mutex
	results []FlushResult
}

func (observer *recordingObserver) ObserveFlush(result FlushResult) {
	observer.mu.Lock()
	defer observer.mu.Unlock()
	observer.results = append(observer.results, result)
}
