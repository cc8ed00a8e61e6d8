// File: internal/oplog/postgres.go
// Description: Durable operation log backend. One row per record; the table
// carries no update or delete path.
package oplog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/puntini/puntini/api/schemas"
	"github.com/puntini/puntini/internal/graphstore"
)

// PostgresLog implements schemas.OperationLog on PostgreSQL.
type PostgresLog struct {
	pool graphstore.DBPool
	log  *zap.Logger
}

// NewPostgresLog creates an operation log instance and verifies the connection.
func NewPostgresLog(ctx context.Context, pool graphstore.DBPool, logger *zap.Logger) (*PostgresLog, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresLog{
		pool: pool,
		log:  logger.Named("oplog"),
	}, nil
}

// EnsureSchema creates the operation_log table when it does not exist yet.
func (l *PostgresLog) EnsureSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS operation_log (
			seq       BIGSERIAL PRIMARY KEY,
			patch_id  TEXT NOT NULL,
			run_id    TEXT NOT NULL,
			outcome   TEXT NOT NULL,
			ref       TEXT NOT NULL DEFAULT '',
			label     TEXT NOT NULL DEFAULT '',
			key       TEXT NOT NULL DEFAULT '',
			ts        TIMESTAMPTZ NOT NULL
		);`)
	if err != nil {
		return fmt.Errorf("failed to ensure operation_log schema: %w", err)
	}
	return nil
}

// Append implements schemas.OperationLog.
func (l *PostgresLog) Append(ctx context.Context, rec schemas.OperationRecord) error {
	if rec.PatchID == "" || rec.RunID == "" {
		return fmt.Errorf("operation record must carry patch and run ids")
	}
	_, err := l.pool.Exec(ctx, `
		INSERT INTO operation_log (patch_id, run_id, outcome, ref, label, key, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7);`,
		rec.PatchID, rec.RunID, string(rec.Outcome), rec.Ref, string(rec.Label), rec.Key, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append operation record: %w", err)
	}
	return nil
}

// ByRun implements schemas.OperationLog.
func (l *PostgresLog) ByRun(ctx context.Context, runID string) ([]schemas.OperationRecord, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT patch_id, run_id, outcome, ref, label, key, ts
		FROM operation_log WHERE run_id = $1 ORDER BY seq ASC;`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation log by run: %w", err)
	}
	return scanRecords(rows)
}

// ByEntity implements schemas.OperationLog.
func (l *PostgresLog) ByEntity(ctx context.Context, label schemas.EntityLabel, key string) ([]schemas.OperationRecord, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT patch_id, run_id, outcome, ref, label, key, ts
		FROM operation_log WHERE label = $1 AND key = $2 ORDER BY seq ASC;`,
		string(label), key)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation log by entity: %w", err)
	}
	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]schemas.OperationRecord, error) {
	defer rows.Close()

	var out []schemas.OperationRecord
	for rows.Next() {
		var rec schemas.OperationRecord
		if err := rows.Scan(&rec.PatchID, &rec.RunID, &rec.Outcome, &rec.Ref, &rec.Label, &rec.Key, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan operation record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during operation record iteration: %w", err)
	}
	return out, nil
}
