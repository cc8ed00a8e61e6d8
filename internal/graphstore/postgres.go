// File: internal/graphstore/postgres.go
// Description: PostgreSQL graph store backend. Natural keys map to a
// composite primary key, property bags live in JSONB columns and
// idempotency is enforced through the graph_ops table inside the same
// transaction as the mutations.
package graphstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/puntini/puntini/api/schemas"
)

// DBPool abstracts pgxpool.Pool so the store can be exercised with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is the durable graph store backend.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgresStore creates a new store instance and verifies the connection.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{
		pool: pool,
		log:  logger.Named("postgres_store"),
	}, nil
}

// EnsureSchema creates the graph tables when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS graph_nodes (
			label      TEXT NOT NULL,
			key        TEXT NOT NULL,
			properties JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (label, key)
		);`,
		`CREATE TABLE IF NOT EXISTS graph_edges (
			source_label TEXT NOT NULL,
			source_key   TEXT NOT NULL,
			rel          TEXT NOT NULL,
			target_label TEXT NOT NULL,
			target_key   TEXT NOT NULL,
			properties   JSONB NOT NULL DEFAULT '{}',
			created_at   TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (source_label, source_key, rel, target_label, target_key)
		);`,
		`CREATE TABLE IF NOT EXISTS graph_ops (
			op_id      TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL
		);`,
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure graph schema: %w", err)
		}
	}
	return nil
}

// querier is the subset of pgx shared by DBPool and pgx.Tx, so the state view
// can read either through the pool or inside a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgView adapts SQL lookups to the constraint checker.
type pgView struct {
	ctx context.Context
	q   querier
}

func (v pgView) hasNode(label schemas.EntityLabel, key string) (bool, error) {
	var exists bool
	err := v.q.QueryRow(v.ctx,
		`SELECT EXISTS (SELECT 1 FROM graph_nodes WHERE label = $1 AND key = $2);`,
		string(label), key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check node existence: %w", err)
	}
	return exists, nil
}

func (v pgView) issueStatus(key string) (schemas.IssueStatus, bool, error) {
	var status *string
	err := v.q.QueryRow(v.ctx,
		`SELECT properties->>'status' FROM graph_nodes WHERE label = $1 AND key = $2;`,
		string(schemas.LabelIssue), key).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read issue status: %w", err)
	}
	if status == nil {
		return "", false, nil
	}
	return schemas.IssueStatus(*status), true, nil
}

func (v pgView) opApplied(opID string) (bool, error) {
	var dup bool
	err := v.q.QueryRow(v.ctx,
		`SELECT EXISTS (SELECT 1 FROM graph_ops WHERE op_id = $1);`, opID).Scan(&dup)
	if err != nil {
		return false, fmt.Errorf("failed to check operation id %s: %w", opID, err)
	}
	return dup, nil
}

// Apply implements schemas.GraphStore. The whole batch, including the
// idempotency bookkeeping, runs in one transaction.
func (s *PostgresStore) Apply(ctx context.Context, patches []schemas.Patch) (*schemas.ApplyResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	check, skipped, err := checkConstraints(patches, pgView{ctx: ctx, q: tx})
	if err != nil {
		return nil, err
	}
	if !check.OK {
		return rejectAll(patches, check), nil
	}

	result := &schemas.ApplyResult{Success: true, Outcomes: make([]schemas.PatchOutcome, 0, len(patches))}
	now := time.Now().UTC()

	for i, p := range patches {
		if skipped[i] {
			result.Outcomes = append(result.Outcomes, schemas.PatchOutcome{
				PatchID: p.ID,
				Status:  schemas.OutcomeSkippedDuplicate,
				Reason:  "operation id already applied",
				Ref:     patchRef(p),
			})
			continue
		}

		if err := s.applyPatch(ctx, tx, p, now); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO graph_ops (op_id, applied_at) VALUES ($1, $2);`, p.ID, now); err != nil {
			return nil, fmt.Errorf("failed to record operation id %s: %w", p.ID, err)
		}
		result.Outcomes = append(result.Outcomes, schemas.PatchOutcome{
			PatchID: p.ID,
			Status:  schemas.OutcomeApplied,
			Ref:     patchRef(p),
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Debug("Applied patch batch", zap.Int("patches", len(patches)))
	return result, nil
}

func (s *PostgresStore) applyPatch(ctx context.Context, tx pgx.Tx, p schemas.Patch, now time.Time) error {
	switch p.Op {
	case schemas.OpAddNode:
		props, err := marshalProperties(p.Node.Properties)
		if err != nil {
			return err
		}
		// Upsert merges properties; created_at survives the merge.
		_, err = tx.Exec(ctx, `
			INSERT INTO graph_nodes (label, key, properties, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (label, key) DO UPDATE SET
				properties = graph_nodes.properties || EXCLUDED.properties,
				updated_at = EXCLUDED.updated_at;`,
			string(p.Node.Label), p.Node.Key, props, now)
		if err != nil {
			return fmt.Errorf("failed to upsert node %s: %w", patchRef(p), err)
		}

	case schemas.OpUpdateProperties:
		props, err := marshalProperties(p.Node.Properties)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE graph_nodes
			SET properties = properties || $3, updated_at = $4
			WHERE label = $1 AND key = $2;`,
			string(p.Node.Label), p.Node.Key, props, now)
		if err != nil {
			return fmt.Errorf("failed to update node %s: %w", patchRef(p), err)
		}
		if tag.RowsAffected() == 0 {
			// The dry-run check passed, so the node vanished mid-transaction.
			return fmt.Errorf("node %s disappeared during apply", patchRef(p))
		}

	case schemas.OpAddEdge:
		props, err := marshalProperties(p.Edge.Properties)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO graph_edges (source_label, source_key, rel, target_label, target_key, properties, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (source_label, source_key, rel, target_label, target_key) DO UPDATE SET
				properties = graph_edges.properties || EXCLUDED.properties;`,
			string(p.Edge.SourceLabel), p.Edge.SourceKey, string(p.Edge.Rel),
			string(p.Edge.TargetLabel), p.Edge.TargetKey, props, now)
		if err != nil {
			return fmt.Errorf("failed to upsert edge %s: %w", patchRef(p), err)
		}

	case schemas.OpDeleteNode:
		_, err := tx.Exec(ctx, `
			DELETE FROM graph_edges
			WHERE (source_label = $1 AND source_key = $2) OR (target_label = $1 AND target_key = $2);`,
			string(p.Node.Label), p.Node.Key)
		if err != nil {
			return fmt.Errorf("failed to delete edges of node %s: %w", patchRef(p), err)
		}
		_, err = tx.Exec(ctx,
			`DELETE FROM graph_nodes WHERE label = $1 AND key = $2;`,
			string(p.Node.Label), p.Node.Key)
		if err != nil {
			return fmt.Errorf("failed to delete node %s: %w", patchRef(p), err)
		}

	case schemas.OpDeleteEdge:
		_, err := tx.Exec(ctx, `
			DELETE FROM graph_edges
			WHERE source_label = $1 AND source_key = $2 AND rel = $3 AND target_label = $4 AND target_key = $5;`,
			string(p.Edge.SourceLabel), p.Edge.SourceKey, string(p.Edge.Rel),
			string(p.Edge.TargetLabel), p.Edge.TargetKey)
		if err != nil {
			return fmt.Errorf("failed to delete edge %s: %w", patchRef(p), err)
		}
	}
	return nil
}

func marshalProperties(props schemas.Properties) (json.RawMessage, error) {
	if len(props) == 0 {
		return json.RawMessage("{}"), nil
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal properties: %w", err)
	}
	return raw, nil
}

// ValidateConstraints implements schemas.GraphStore. Reads go through the
// pool directly; nothing is mutated.
func (s *PostgresStore) ValidateConstraints(ctx context.Context, patches []schemas.Patch) (*schemas.ConstraintResult, error) {
	check, _, err := checkConstraints(patches, pgView{ctx: ctx, q: s.pool})
	return check, err
}

// GetNode implements schemas.GraphStore. Absence is (nil, nil).
func (s *PostgresStore) GetNode(ctx context.Context, label schemas.EntityLabel, key string) (*schemas.Entity, error) {
	var (
		n   schemas.Entity
		raw json.RawMessage
	)
	err := s.pool.QueryRow(ctx, `
		SELECT label, key, properties, created_at, updated_at
		FROM graph_nodes WHERE label = $1 AND key = $2;`,
		string(label), key).Scan(&n.Label, &n.Key, &raw, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query node %s:%s: %w", label, key, err)
	}
	if err := json.Unmarshal(raw, &n.Properties); err != nil {
		return nil, fmt.Errorf("failed to decode properties of %s:%s: %w", label, key, err)
	}
	return &n, nil
}

// GetSubgraph implements schemas.GraphStore. The traversal runs level by
// level from Go rather than through a recursive CTE so the relationship
// filter and depth bound behave exactly like the in-memory backend.
func (s *PostgresStore) GetSubgraph(ctx context.Context, label schemas.EntityLabel, key string, depth int, rels []schemas.RelationshipType) (*schemas.Subgraph, error) {
	sub := &schemas.Subgraph{Nodes: []schemas.Entity{}, Edges: []schemas.Edge{}}

	root, err := s.GetNode(ctx, label, key)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return sub, nil
	}

	allowed := map[schemas.RelationshipType]bool{}
	for _, r := range rels {
		allowed[r] = true
	}

	visited := map[nodeRef]bool{{label, key}: true}
	collected := map[edgeKey]bool{}
	var edges []schemas.Edge
	frontier := []nodeRef{{label, key}}

	for level := 0; level < depth && len(frontier) > 0; level++ {
		var next []nodeRef
		for _, cur := range frontier {
			incident, err := s.incidentEdges(ctx, cur)
			if err != nil {
				return nil, err
			}
			for _, e := range incident {
				if len(allowed) > 0 && !allowed[e.Rel] {
					continue
				}
				k := edgeKey{
					src: nodeRef{e.SourceLabel, e.SourceKey},
					rel: e.Rel,
					dst: nodeRef{e.TargetLabel, e.TargetKey},
				}
				if !collected[k] {
					collected[k] = true
					edges = append(edges, e)
				}
				other := k.src
				if other == cur {
					other = k.dst
				}
				if !visited[other] {
					visited[other] = true
					next = append(next, other)
				}
			}
		}
		frontier = next
	}

	for ref := range visited {
		n, err := s.GetNode(ctx, ref.label, ref.key)
		if err != nil {
			return nil, err
		}
		if n != nil {
			sub.Nodes = append(sub.Nodes, *n)
		}
	}
	sub.Edges = edges

	sortSubgraph(sub)
	return sub, nil
}

func (s *PostgresStore) incidentEdges(ctx context.Context, ref nodeRef) ([]schemas.Edge, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT source_label, source_key, rel, target_label, target_key, properties, created_at
		FROM graph_edges
		WHERE (source_label = $1 AND source_key = $2) OR (target_label = $1 AND target_key = $2);`,
		string(ref.label), ref.key)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges of %s:%s: %w", ref.label, ref.key, err)
	}
	defer rows.Close()

	var edges []schemas.Edge
	for rows.Next() {
		var (
			e   schemas.Edge
			raw json.RawMessage
		)
		if err := rows.Scan(&e.SourceLabel, &e.SourceKey, &e.Rel, &e.TargetLabel, &e.TargetKey, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan edge row: %w", err)
		}
		if err := json.Unmarshal(raw, &e.Properties); err != nil {
			return nil, fmt.Errorf("failed to decode edge properties: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during edge row iteration: %w", err)
	}
	return edges, nil
}

// Health implements schemas.GraphStore.
func (s *PostgresStore) Health(ctx context.Context) (schemas.StoreHealth, error) {
	if err := s.pool.Ping(ctx); err != nil {
		return schemas.StoreHealth{}, fmt.Errorf("database ping failed: %w", err)
	}
	health := schemas.StoreHealth{Backend: "postgres"}
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT count(*) FROM graph_nodes), (SELECT count(*) FROM graph_edges);`).
		Scan(&health.Nodes, &health.Edges)
	if err != nil {
		return schemas.StoreHealth{}, fmt.Errorf("failed to count graph rows: %w", err)
	}
	return health, nil
}
