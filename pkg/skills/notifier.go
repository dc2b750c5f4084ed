package skills

import "sync"

// LevelUpHandler receives level-up events.
type LevelUpHandler func(LevelUp)

// Notifier fans level-up events out to subscribers in subscription order.
type Notifier struct {
	mu       sync.RWMutex
	handlers []LevelUpHandler
}

// NewNotifier returns a Notifier with no subscribers.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe registers handler for every future event.
func (notifier *Notifier) Subscribe(handler LevelUpHandler) {
	if handler == nil {
		return
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	notifier.handlers = append(notifier.handlers, handler)
}

// Publish delivers levelUp to every subscriber synchronously.
func (notifier *Notifier) Publish(levelUp LevelUp) {
	notifier.mu.RLock()
	handlers := make([]LevelUpHandler, len(notifier.handlers))
	copy(handlers, notifier.handlers)
	notifier.mu.RUnlock()
	for _, handler := range handlers {
		handler(levelUp)
	}
}

// DetectLevelUp compares the levels on either side of change. Crossing several
// thresholds in one increment still yields a single event carrying the final level.
func DetectLevelUp(table LevelTable, entityID EntityID, category Category, change Change) (LevelUp, bool) {
	oldLevel := table.Level(change.Old)
	newLevel := table.Level(change.New)
	if oldLevel == newLevel {
		return LevelUp{}, false
	}
	return LevelUp{
		EntityID: entityID,
		Category: category,
		OldLevel: oldLevel,
		NewLevel: newLevel,
		Amount:   change.New,
	}, true
}
