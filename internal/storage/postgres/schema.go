package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pools (
		chain_id   BIGINT      NOT NULL,
		id         TEXT        NOT NULL,
		record     JSON        NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (chain_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS tokens (
		chain_id   BIGINT      NOT NULL,
		address    TEXT        NOT NULL,
		record     JSON        NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (chain_id, address)
	)`,
}

// CreateSchema creates the pools and tokens tables when missing.
func (s *Store) CreateSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}
