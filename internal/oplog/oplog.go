// Package oplog reports skills operations to a zap logger.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/skilltrack/pkg/skills"
	"go.uber.org/zap"
)

// ZapLogger implements skills.OperationLogger.
type ZapLogger struct {
	logger *zap.Logger
}

// New returns a ZapLogger writing to logger.
func New(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger.Named("skills")}
}

// LogOperation writes failures at warn level and everything else at debug.
func (operationLogger *ZapLogger) LogOperation(_ context.Context, entry skills.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if !entry.EntityID.IsZero() {
		fields = append(fields, zap.String("entity_id", entry.EntityID.String()))
	}
	if entry.Category.Valid() {
		fields = append(fields, zap.String("category", entry.Category.String()))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount", entry.Amount))
	}
	if entry.Level != 0 {
		fields = append(fields, zap.Int("level", entry.Level))
	}
	if entry.Error != nil {
		operationLogger.logger.Warn("skills operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Debug("skills operation", fields...)
}
