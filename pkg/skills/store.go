package skills

import "context"

// Store is the persistence contract used by Service.
// Connection pooling, retries and reconnection belong to the implementation.
type Store interface {
	// ApplyDeltas adds every delta to its stored value in one transaction.
	ApplyDeltas(ctx context.Context, deltas []Delta) error
	// SaveTrackedCategory records the entity's tracked category preference.
	SaveTrackedCategory(ctx context.Context, entityID EntityID, category Category) error
	// LoadProfile returns the stored profile, creating an empty row when none exists.
	LoadProfile(ctx context.Context, entityID EntityID, defaultCategory Category) (Profile, error)
}

// LevelUpJournal durably records level-up events.
type LevelUpJournal interface {
	RecordLevelUp(ctx context.Context, levelUp LevelUp) error
}
