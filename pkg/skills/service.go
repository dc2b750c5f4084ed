package skills

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"
	"go.uber.org/zap"
)

// Service owns the in-memory ledger, the write-behind buffer, the tracker and
// the flusher. Callers construct one per process and drive it with Start/Stop.
type Service struct {
	store Store
	table LevelTable

	ledger   *Ledger
	pending  *PendingBuffer
	tracker     *Tracker
	notifier    *Notifier
	subscribers *Notifier
	flusher     *Flusher

	logger             *zap.Logger
	operationLogger    OperationLogger
	display            Display
	clock              quartz.Clock
	flushInterval      time.Duration
	flushObserver      FlushObserver
	trackRetryAttempts int
	trackRetryInterval time.Duration
	defaultCategory    Category
	journal            LevelUpJournal

	// lifecycle is held shared by every state-changing call and exclusively by
	// Stop, so no increment is accepted after the final flush snapshot.
	lifecycle  sync.RWMutex
	started    bool
	stopped    bool
	cancelLoop context.CancelFunc
	loopDone   chan struct{}
	background sync.WaitGroup
}

// NewService wires a Service.
func NewService(store Store, table LevelTable, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if table.MaxLevel() == 0 {
		return nil, fmt.Errorf("%w: level table is empty", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:              store,
		table:              table,
		logger:             zap.NewNop(),
		clock:              quartz.NewReal(),
		flushInterval:      DefaultFlushInterval,
		trackRetryAttempts: DefaultTrackRetryAttempts,
		trackRetryInterval: 100 * time.Millisecond,
		defaultCategory:    Mining,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if !service.defaultCategory.Valid() {
		return nil, fmt.Errorf("%w: default category %d", ErrInvalidServiceConfig, int(service.defaultCategory))
	}
	if service.trackRetryAttempts < 1 {
		return nil, fmt.Errorf("%w: track retry attempts must be at least 1", ErrInvalidServiceConfig)
	}
	service.ledger = NewLedger()
	service.pending = NewPendingBuffer()
	service.tracker = NewTracker(table, service.ledger, service.display)
	service.notifier = NewNotifier()
	service.subscribers = NewNotifier()
	service.flusher = NewFlusher(store, service.pending, service.clock, service.flushInterval, service.logger, service.flushObserver)

	service.notifier.Subscribe(func(levelUp LevelUp) {
		service.tracker.Refresh(levelUp.EntityID, levelUp.Category)
	})
	service.notifier.Subscribe(func(levelUp LevelUp) {
		service.logOperation(context.Background(), OperationLog{
			Operation: operationLevelUp,
			EntityID:  levelUp.EntityID,
			Category:  levelUp.Category,
			Amount:    levelUp.Amount,
			Level:     levelUp.NewLevel,
		})
	})
	if service.journal != nil {
		service.notifier.Subscribe(service.recordLevelUp)
	}
	return service, nil
}

// Table returns the level table.
func (service *Service) Table() LevelTable {
	return service.table
}

// Subscribe registers an external level-up subscriber. Handlers run after the
// increment has been applied and outside the service lock, so they may call
// back into the service.
func (service *Service) Subscribe(handler LevelUpHandler) {
	service.subscribers.Subscribe(handler)
}

// Start launches the periodic flusher.
func (service *Service) Start(ctx context.Context) error {
	service.lifecycle.Lock()
	defer service.lifecycle.Unlock()
	if service.stopped {
		return ErrServiceStopped
	}
	if service.started {
		return nil
	}
	loopContext, cancel := context.WithCancel(ctx)
	service.cancelLoop = cancel
	service.loopDone = make(chan struct{})
	service.started = true
	go func() {
		defer close(service.loopDone)
		service.flusher.Run(loopContext)
	}()
	service.logger.Info("skills service started", zap.Duration("flush_interval", service.flusher.Interval()))
	return nil
}

// Stop rejects new work, stops the periodic flusher, runs one final flush and
// waits for background writes. It returns the final flush error, if any.
func (service *Service) Stop(ctx context.Context) error {
	service.lifecycle.Lock()
	if service.stopped {
		service.lifecycle.Unlock()
		return nil
	}
	service.stopped = true
	started := service.started
	service.lifecycle.Unlock()

	if started {
		service.cancelLoop()
		<-service.loopDone
	}
	result, err := service.flusher.Flush(ctx)
	service.background.Wait()
	service.logger.Info("skills service stopped", zap.Int("final_deltas", result.Deltas), zap.Error(err))
	return err
}

// Flush writes pending deltas immediately.
func (service *Service) Flush(ctx context.Context) (FlushResult, error) {
	return service.flusher.Flush(ctx)
}

// LoadSession loads the entity's profile from storage and begins its session.
// Deltas still waiting for a flush are added to the stored amounts, so a quick
// reconnect resumes from the true total.
func (service *Service) LoadSession(ctx context.Context, entityID EntityID) (Profile, error) {
	if service.isStopped() {
		return Profile{}, ErrServiceStopped
	}
	var profile Profile
	err := service.flusher.WhileIdle(func() error {
		loaded, err := service.store.LoadProfile(ctx, entityID, service.defaultCategory)
		if err != nil {
			return err
		}
		for _, category := range Categories() {
			loaded.Amounts[category] = saturatingAdd(loaded.Amounts[category], service.pending.Pending(entityID, category))
		}
		profile = loaded
		return nil
	})
	if err != nil {
		wrapped := WrapError(errorOperationService, errorSubjectSession, errorCodeLoad, err)
		service.logOperation(ctx, OperationLog{Operation: operationBeginSession, EntityID: entityID, Error: wrapped})
		return Profile{}, wrapped
	}
	if err := service.BeginSession(ctx, entityID, profile); err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// BeginSession seeds the ledger and tracker from a caller-supplied profile.
func (service *Service) BeginSession(ctx context.Context, entityID EntityID, profile Profile) error {
	service.lifecycle.RLock()
	defer service.lifecycle.RUnlock()
	if service.stopped {
		return ErrServiceStopped
	}
	if entityID.IsZero() {
		return fmt.Errorf("%w: empty value", ErrInvalidEntityID)
	}
	for _, amount := range profile.Amounts {
		if amount < 0 {
			return fmt.Errorf("%w: negative stored amount", ErrInvalidAmount)
		}
	}
	tracked := profile.Tracked
	if !tracked.Valid() {
		tracked = service.defaultCategory
	}
	service.tracker.Forget(entityID)
	service.ledger.Begin(entityID, profile.Amounts)
	_, err := service.tracker.Track(entityID, tracked)
	service.logOperation(ctx, OperationLog{
		Operation: operationBeginSession,
		EntityID:  entityID,
		Category:  tracked,
		Error:     err,
	})
	return err
}

// EndSession discards the entity's ledger and tracker entries. Pending deltas
// stay buffered until the next flush.
func (service *Service) EndSession(ctx context.Context, entityID EntityID) bool {
	service.tracker.Forget(entityID)
	ended := service.ledger.End(entityID)
	service.logOperation(ctx, OperationLog{Operation: operationEndSession, EntityID: entityID})
	return ended
}

// Increment awards amount to the entity's category. Non-positive amounts are
// ignored. The entity must have an active session.
func (service *Service) Increment(ctx context.Context, entityID EntityID, category Category, amount int64) error {
	levelUp, leveled, err := service.increment(ctx, entityID, category, amount)
	if err != nil {
		return err
	}
	if leveled {
		service.subscribers.Publish(levelUp)
	}
	return nil
}

func (service *Service) increment(ctx context.Context, entityID EntityID, category Category, amount int64) (LevelUp, bool, error) {
	service.lifecycle.RLock()
	defer service.lifecycle.RUnlock()
	if service.stopped {
		return LevelUp{}, false, ErrServiceStopped
	}
	change, err := service.ledger.Increment(entityID, category, amount)
	if err != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationIncrement,
			EntityID:  entityID,
			Category:  category,
			Amount:    amount,
			Error:     err,
		})
		return LevelUp{}, false, err
	}
	if change.New == change.Old {
		return LevelUp{}, false, nil
	}
	service.pending.Merge(entityID, category, change.New-change.Old)
	levelUp, leveled := DetectLevelUp(service.table, entityID, category, change)
	if leveled {
		service.notifier.Publish(levelUp)
	} else {
		service.tracker.Refresh(entityID, category)
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationIncrement,
		EntityID:  entityID,
		Category:  category,
		Amount:    amount,
		Level:     service.table.Level(change.New),
	})
	return levelUp, leveled, nil
}

// Track switches the entity's displayed category. A switch persists the new
// preference in the background; failures are logged, never returned.
func (service *Service) Track(ctx context.Context, entityID EntityID, category Category) error {
	service.lifecycle.RLock()
	defer service.lifecycle.RUnlock()
	if service.stopped {
		return ErrServiceStopped
	}
	switched, err := service.tracker.Track(entityID, category)
	service.logOperation(ctx, OperationLog{
		Operation: operationTrack,
		EntityID:  entityID,
		Category:  category,
		Error:     err,
	})
	if err != nil {
		return err
	}
	if switched {
		service.persistTrackedCategory(entityID, category)
	}
	return nil
}

// Tracked returns the category currently displayed for the entity.
func (service *Service) Tracked(entityID EntityID) (Category, bool) {
	return service.tracker.Current(entityID)
}

// Snapshot renders every category for the entity.
func (service *Service) Snapshot(entityID EntityID) ([]SkillStatus, error) {
	amounts, err := service.ledger.Snapshot(entityID)
	if err != nil {
		return nil, err
	}
	statuses := make([]SkillStatus, 0, categoryCount)
	for _, category := range Categories() {
		statuses = append(statuses, service.table.Status(category, amounts[category]))
	}
	return statuses, nil
}

// Level returns the entity's level in category.
func (service *Service) Level(entityID EntityID, category Category) (int, error) {
	amount, err := service.ledger.Amount(entityID, category)
	if err != nil {
		return 0, err
	}
	return service.table.Level(amount), nil
}

// MeetsRequirement reports whether the entity's level in category is at least requiredLevel.
func (service *Service) MeetsRequirement(entityID EntityID, category Category, requiredLevel int) (bool, error) {
	if requiredLevel < 1 || requiredLevel > service.table.MaxLevel() {
		return false, fmt.Errorf("%w: %d", ErrInvalidLevel, requiredLevel)
	}
	level, err := service.Level(entityID, category)
	if err != nil {
		return false, err
	}
	return level >= requiredLevel, nil
}

// RequirementMessage explains a failed level requirement, e.g.
// "A Mining level of 41 is required to use a Rune Pickaxe!".
func RequirementMessage(category Category, requiredLevel int, action string) string {
	return fmt.Sprintf("A %s level of %d is required to %s", category.DisplayName(), requiredLevel, action)
}

// Pending returns the un-flushed amount for (entity, category).
func (service *Service) Pending(entityID EntityID, category Category) int64 {
	return service.pending.Pending(entityID, category)
}

func (service *Service) isStopped() bool {
	service.lifecycle.RLock()
	defer service.lifecycle.RUnlock()
	return service.stopped
}

// runBackground must be called with lifecycle held shared so Stop cannot be
// waiting on the group yet.
func (service *Service) runBackground(task func(ctx context.Context)) {
	service.background.Add(1)
	go func() {
		defer service.background.Done()
		task(context.Background())
	}()
}

func (service *Service) persistTrackedCategory(entityID EntityID, category Category) {
	service.runBackground(func(ctx context.Context) {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = service.trackRetryInterval
		policy.MaxInterval = 2 * time.Second
		attempts := 0
		operation := func() error {
			if current, ok := service.tracker.Current(entityID); ok && current != category {
				// superseded by a later switch
				return nil
			}
			attempts++
			return service.store.SaveTrackedCategory(ctx, entityID, category)
		}
		retries := uint64(service.trackRetryAttempts - 1)
		err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx))
		if err != nil {
			service.logger.Error("persist tracked category failed",
				zap.String("entity_id", entityID.String()),
				zap.String("category", category.String()),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
			service.logOperation(ctx, OperationLog{
				Operation: operationTrack,
				EntityID:  entityID,
				Category:  category,
				Error:     WrapError(errorOperationService, errorSubjectTracker, errorCodePersist, err),
			})
		}
	})
}

func (service *Service) recordLevelUp(levelUp LevelUp) {
	service.runBackground(func(ctx context.Context) {
		if err := service.journal.RecordLevelUp(ctx, levelUp); err != nil {
			service.logger.Warn("record level up failed",
				zap.String("entity_id", levelUp.EntityID.String()),
				zap.String("category", levelUp.Category.String()),
				zap.Int("level", levelUp.NewLevel),
				zap.Error(err),
			)
		}
	})
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.operationLogger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.operationLogger.LogOperation(ctx, entry)
}
