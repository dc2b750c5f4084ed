package skills

import (
	"context"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing skills operation.
type OperationLog struct {
	Operation string
	EntityID  EntityID
	Category  Category
	Amount    int64
	Level     int
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.operationLogger = logger
	}
}

// WithLogger sets the structured logger used for background failures.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(service *Service) {
		if logger != nil {
			service.logger = logger
		}
	}
}

// WithDisplay sets the display collaborator used by the tracker.
func WithDisplay(display Display) ServiceOption {
	return func(service *Service) {
		service.display = display
	}
}

// WithClock replaces the clock driving the flusher ticker.
func WithClock(clock quartz.Clock) ServiceOption {
	return func(service *Service) {
		if clock != nil {
			service.clock = clock
		}
	}
}

// WithFlushInterval sets the periodic flush interval.
func WithFlushInterval(interval time.Duration) ServiceOption {
	return func(service *Service) {
		service.flushInterval = interval
	}
}

// WithFlushObserver receives the outcome of every flush.
func WithFlushObserver(observer FlushObserver) ServiceOption {
	return func(service *Service) {
		service.flushObserver = observer
	}
}

// WithTrackRetry bounds the attempts made to persist a tracked category switch.
func WithTrackRetry(attempts int) ServiceOption {
	return func(service *Service) {
		service.trackRetryAttempts = attempts
	}
}

// WithDefaultCategory sets the category tracked by brand-new entities.
func WithDefaultCategory(category Category) ServiceOption {
	return func(service *Service) {
		service.defaultCategory = category
	}
}

// WithLevelUpJournal records every level-up in the background.
func WithLevelUpJournal(journal LevelUpJournal) ServiceOption {
	return func(service *Service) {
		service.journal = journal
	}
}
