package oplog

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/puntini/puntini/api/schemas"
)

func record(runID, patchID string, label schemas.EntityLabel, key string) schemas.OperationRecord {
	return schemas.OperationRecord{
		PatchID:   patchID,
		RunID:     runID,
		Outcome:   schemas.OutcomeApplied,
		Ref:       fmt.Sprintf("%s:%s", label, key),
		Label:     label,
		Key:       key,
		Timestamp: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
	}
}

func TestInMemoryLogQueries(t *testing.T) {
	t.Parallel()
	log := NewInMemoryLog(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, record("run-1", "op-1", schemas.LabelProject, "ACME")))
	require.NoError(t, log.Append(ctx, record("run-1", "op-2", schemas.LabelEpic, "E-1")))
	require.NoError(t, log.Append(ctx, record("run-2", "op-3", schemas.LabelProject, "ACME")))

	t.Run("by run keeps append order", func(t *testing.T) {
		recs, err := log.ByRun(ctx, "run-1")
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "op-1", recs[0].PatchID)
		assert.Equal(t, "op-2", recs[1].PatchID)
	})

	t.Run("by entity crosses runs", func(t *testing.T) {
		recs, err := log.ByEntity(ctx, schemas.LabelProject, "ACME")
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "run-1", recs[0].RunID)
		assert.Equal(t, "run-2", recs[1].RunID)
	})

	t.Run("unknown keys yield empty results", func(t *testing.T) {
		recs, err := log.ByRun(ctx, "ghost")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})
}

func TestInMemoryLogRejectsAnonymousRecords(t *testing.T) {
	t.Parallel()
	log := NewInMemoryLog(zap.NewNop())

	err := log.Append(context.Background(), schemas.OperationRecord{PatchID: "op-1"})
	assert.Error(t, err)
}

func TestInMemoryLogConcurrentAppends(t *testing.T) {
	t.Parallel()
	log := NewInMemoryLog(zap.NewNop())
	ctx := context.Background()

	const writers = 8
	const perWriter = 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			runID := fmt.Sprintf("run-%d", w)
			for i := 0; i < perWriter; i++ {
				patchID := fmt.Sprintf("op-%d-%d", w, i)
				if err := log.Append(ctx, record(runID, patchID, schemas.LabelIssue, "I-1")); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < writers; w++ {
		recs, err := log.ByRun(ctx, fmt.Sprintf("run-%d", w))
		require.NoError(t, err)
		assert.Len(t, recs, perWriter)
	}
}

// -- PostgreSQL backend --

func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func TestPostgresLogAppendAndQuery(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	log, err := NewPostgresLog(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)

	rec := record("run-1", "op-1", schemas.LabelProject, "ACME")

	mockPool.ExpectExec(flexibleSQLMatcher(`
		INSERT INTO operation_log (patch_id, run_id, outcome, ref, label, key, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7);`)).
		WithArgs(rec.PatchID, rec.RunID, string(rec.Outcome), rec.Ref, string(rec.Label), rec.Key, rec.Timestamp).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, log.Append(context.Background(), rec))

	mockPool.ExpectQuery(flexibleSQLMatcher(`
		SELECT patch_id, run_id, outcome, ref, label, key, ts
		FROM operation_log WHERE run_id = $1 ORDER BY seq ASC;`)).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"patch_id", "run_id", "outcome", "ref", "label", "key", "ts"}).
			AddRow(rec.PatchID, rec.RunID, rec.Outcome, rec.Ref, rec.Label, rec.Key, rec.Timestamp))

	recs, err := log.ByRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec, recs[0])
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
