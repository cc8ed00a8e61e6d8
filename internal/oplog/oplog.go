// File: internal/oplog/oplog.go
// Description: Append-only audit trail of patch applications. The log is the
// provenance record linking runs to the graph mutations they caused; entries
// are never updated or deleted.
package oplog

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/puntini/puntini/api/schemas"
)

// InMemoryLog implements schemas.OperationLog in process memory.
type InMemoryLog struct {
	logger *zap.Logger

	mu      sync.RWMutex
	records []schemas.OperationRecord
}

// NewInMemoryLog creates an empty in-memory operation log.
func NewInMemoryLog(logger *zap.Logger) *InMemoryLog {
	return &InMemoryLog{logger: logger.Named("oplog")}
}

// Append implements schemas.OperationLog.
func (l *InMemoryLog) Append(ctx context.Context, rec schemas.OperationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.PatchID == "" || rec.RunID == "" {
		return fmt.Errorf("operation record must carry patch and run ids")
	}

	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()

	l.logger.Debug("Appended operation record",
		zap.String("run_id", rec.RunID),
		zap.String("patch_id", rec.PatchID),
		zap.String("outcome", string(rec.Outcome)))
	return nil
}

// ByRun implements schemas.OperationLog. Records keep append order.
func (l *InMemoryLog) ByRun(ctx context.Context, runID string) ([]schemas.OperationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []schemas.OperationRecord
	for _, rec := range l.records {
		if rec.RunID == runID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ByEntity implements schemas.OperationLog. Records keep append order.
func (l *InMemoryLog) ByEntity(ctx context.Context, label schemas.EntityLabel, key string) ([]schemas.OperationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []schemas.OperationRecord
	for _, rec := range l.records {
		if rec.Label == label && rec.Key == key {
			out = append(out, rec)
		}
	}
	return out, nil
}
