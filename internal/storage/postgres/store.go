package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"poolsAPI/internal/model"
	"poolsAPI/internal/storage"
)

// Store provides Postgres persistence for pools and tokens. Records are
// kept in json (not jsonb) columns so they read back byte for byte.
type Store struct {
	storage.DeleteHooks

	pool      *pgxpool.Pool
	batchSize int
}

var _ storage.Store = (*Store)(nil)

func NewStore(ctx context.Context, dsn string, capacity storage.Capacity) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	capacity = capacity.Normalize()

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pg dsn: %w", err)
	}
	cfg.MaxConns = int32(capacity.Read)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, batchSize: capacity.Write}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) GetPool(ctx context.Context, key model.PoolKey) (model.Pool, error) {
	var data []byte
	row := s.pool.QueryRow(ctx, `SELECT record FROM pools WHERE chain_id=$1 AND id=$2`, key.ChainID, key.ID)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Pool{}, storage.ErrNotFound
		}
		return model.Pool{}, storage.Wrap("get pool", err)
	}
	pool, err := storage.DecodePool(data)
	return pool, storage.Wrap("get pool", err)
}

func (s *Store) PutPool(ctx context.Context, pool model.Pool) error {
	return s.PutPools(ctx, []model.Pool{pool})
}

// PutPools upserts pools in batches of the configured write capacity.
func (s *Store) PutPools(ctx context.Context, pools []model.Pool) error {
	for _, r := range storage.Chunks(len(pools), s.batchSize) {
		batch := &pgx.Batch{}
		for _, pool := range pools[r[0]:r[1]] {
			data, err := storage.EncodePool(pool)
			if err != nil {
				return storage.Wrap("put pools", err)
			}
			batch.Queue(`
				INSERT INTO pools (chain_id, id, record, updated_at)
				VALUES ($1, $2, $3, now())
				ON CONFLICT (chain_id, id)
				DO UPDATE SET record = EXCLUDED.record, updated_at = now()
			`, pool.ChainID, pool.ID, data)
		}
		if err := s.sendBatch(ctx, batch); err != nil {
			return storage.Wrap("put pools", err)
		}
	}
	return nil
}

func (s *Store) PoolsByNetwork(ctx context.Context, chainID int64) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx, `SELECT record FROM pools WHERE chain_id=$1 ORDER BY id`, chainID)
	if err != nil {
		return nil, storage.Wrap("scan pools", err)
	}
	defer rows.Close()

	out := make([]model.Pool, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, storage.Wrap("scan pools", err)
		}
		pool, err := storage.DecodePool(data)
		if err != nil {
			return nil, storage.Wrap("scan pools", err)
		}
		out = append(out, pool)
	}
	return out, storage.Wrap("scan pools", rows.Err())
}

func (s *Store) DeletePool(ctx context.Context, key model.PoolKey) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM pools WHERE chain_id=$1 AND id=$2`, key.ChainID, key.ID)
	return storage.Wrap("delete pool", err)
}

func (s *Store) GetToken(ctx context.Context, key model.TokenKey) (model.Token, error) {
	var data []byte
	row := s.pool.QueryRow(ctx, `SELECT record FROM tokens WHERE chain_id=$1 AND address=$2`, key.ChainID, key.Address)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Token{}, storage.ErrNotFound
		}
		return model.Token{}, storage.Wrap("get token", err)
	}
	token, err := storage.DecodeToken(data)
	return token, storage.Wrap("get token", err)
}

func (s *Store) PutToken(ctx context.Context, token model.Token) error {
	return s.PutTokens(ctx, []model.Token{token})
}

func (s *Store) PutTokens(ctx context.Context, tokens []model.Token) error {
	for _, r := range storage.Chunks(len(tokens), s.batchSize) {
		batch := &pgx.Batch{}
		for _, token := range tokens[r[0]:r[1]] {
			data, err := storage.EncodeToken(token)
			if err != nil {
				return storage.Wrap("put tokens", err)
			}
			batch.Queue(`
				INSERT INTO tokens (chain_id, address, record, updated_at)
				VALUES ($1, $2, $3, now())
				ON CONFLICT (chain_id, address)
				DO UPDATE SET record = EXCLUDED.record, updated_at = now()
			`, token.ChainID, token.Address, data)
		}
		if err := s.sendBatch(ctx, batch); err != nil {
			return storage.Wrap("put tokens", err)
		}
	}
	return nil
}

func (s *Store) TokensByNetwork(ctx context.Context, chainID int64) ([]model.Token, error) {
	rows, err := s.pool.Query(ctx, `SELECT record FROM tokens WHERE chain_id=$1 ORDER BY address`, chainID)
	if err != nil {
		return nil, storage.Wrap("scan tokens", err)
	}
	defer rows.Close()

	out := make([]model.Token, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, storage.Wrap("scan tokens", err)
		}
		token, err := storage.DecodeToken(data)
		if err != nil {
			return nil, storage.Wrap("scan tokens", err)
		}
		out = append(out, token)
	}
	return out, storage.Wrap("scan tokens", rows.Err())
}

func (s *Store) DeleteToken(ctx context.Context, key model.TokenKey) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM tokens WHERE chain_id=$1 AND address=$2`, key.ChainID, key.Address); err != nil {
		return storage.Wrap("delete token", err)
	}
	s.TokenDeleted(key)
	return nil
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
