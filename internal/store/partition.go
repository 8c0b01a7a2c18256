package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"payflow.app/resolver/core/db"
)

type partitionStore struct {
	q db.Querier
}

func newPartitionStore(q db.Querier) PartitionStore {
	return &partitionStore{q: q}
}

// Table names resolve through the connection's search_path, so a same-named
// table in another schema is never matched.

func (s *partitionStore) IsPartitioned(ctx context.Context, table string) (bool, error) {
	var partitioned bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_partitioned_table
			WHERE partrelid = to_regclass($1)
		)`,
		pgx.Identifier{table}.Sanitize(),
	).Scan(&partitioned)
	return partitioned, err
}

func (s *partitionStore) ListPartitions(ctx context.Context, table string) ([]string, error) {
	rows, err := s.q.Query(ctx, `
		SELECT child.relname::text
		FROM pg_inherits i
		JOIN pg_class child ON child.oid = i.inhrelid
		WHERE i.inhparent = to_regclass($1)
		ORDER BY child.relname`,
		pgx.Identifier{table}.Sanitize(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// CreateRangePartition is idempotent. Bounds are rendered as literals because
// DDL does not accept bind parameters.
func (s *partitionStore) CreateRangePartition(ctx context.Context, table, name string, from, to time.Time) error {
	stmt := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')`,
		pgx.Identifier{name}.Sanitize(),
		pgx.Identifier{table}.Sanitize(),
		from.UTC().Format(time.RFC3339),
		to.UTC().Format(time.RFC3339),
	)
	if _, err := s.q.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("creating partition %s: %w", name, err)
	}
	return nil
}
