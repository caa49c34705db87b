package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"poolsAPI/internal/model"
	"poolsAPI/internal/storage"
)

const (
	keySeparator = "~"

	poolsPrefix  = "pools" + keySeparator
	tokensPrefix = "tokens" + keySeparator
)

// Store keeps one hash per table and network: field is the record id,
// value the encoded record.
type Store struct {
	storage.DeleteHooks

	client    *redis.Client
	batchSize int
}

var _ storage.Store = (*Store)(nil)

// NewStore connects to addr. Read capacity sizes the connection pool and
// write capacity the number of commands per pipeline.
func NewStore(ctx context.Context, addr, password string, db int, capacity storage.Capacity) (*Store, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	capacity = capacity.Normalize()

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: capacity.Read,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewStoreWithClient(client, capacity.Write), nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client *redis.Client, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = storage.DefaultCapacity.Write
	}
	return &Store{client: client, batchSize: batchSize}
}

func (s *Store) Close() {
	if s.client != nil {
		_ = s.client.Close()
	}
}

func poolsKey(chainID int64) string {
	return poolsPrefix + strconv.FormatInt(chainID, 10)
}

func tokensKey(chainID int64) string {
	return tokensPrefix + strconv.FormatInt(chainID, 10)
}

func (s *Store) GetPool(ctx context.Context, key model.PoolKey) (model.Pool, error) {
	data, err := s.client.HGet(ctx, poolsKey(key.ChainID), key.ID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
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

func (s *Store) PutPools(ctx context.Context, pools []model.Pool) error {
	for _, r := range storage.Chunks(len(pools), s.batchSize) {
		pipeliner := s.client.Pipeline()
		for _, pool := range pools[r[0]:r[1]] {
			data, err := storage.EncodePool(pool)
			if err != nil {
				return storage.Wrap("put pools", err)
			}
			pipeliner.HSet(ctx, poolsKey(pool.ChainID), pool.ID, data)
		}
		if _, err := pipeliner.Exec(ctx); err != nil {
			return storage.Wrap("put pools", err)
		}
	}
	return nil
}

func (s *Store) PoolsByNetwork(ctx context.Context, chainID int64) ([]model.Pool, error) {
	values, err := s.client.HGetAll(ctx, poolsKey(chainID)).Result()
	if err != nil {
		return nil, storage.Wrap("scan pools", err)
	}

	out := make([]model.Pool, 0, len(values))
	for _, id := range sortedFields(values) {
		pool, err := storage.DecodePool([]byte(values[id]))
		if err != nil {
			return nil, storage.Wrap("scan pools", err)
		}
		out = append(out, pool)
	}
	return out, nil
}

func (s *Store) DeletePool(ctx context.Context, key model.PoolKey) error {
	return storage.Wrap("delete pool", s.client.HDel(ctx, poolsKey(key.ChainID), key.ID).Err())
}

func (s *Store) GetToken(ctx context.Context, key model.TokenKey) (model.Token, error) {
	data, err := s.client.HGet(ctx, tokensKey(key.ChainID), key.Address).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
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
		pipeliner := s.client.Pipeline()
		for _, token := range tokens[r[0]:r[1]] {
			data, err := storage.EncodeToken(token)
			if err != nil {
				return storage.Wrap("put tokens", err)
			}
			pipeliner.HSet(ctx, tokensKey(token.ChainID), token.Address, data)
		}
		if _, err := pipeliner.Exec(ctx); err != nil {
			return storage.Wrap("put tokens", err)
		}
	}
	return nil
}

func (s *Store) TokensByNetwork(ctx context.Context, chainID int64) ([]model.Token, error) {
	values, err := s.client.HGetAll(ctx, tokensKey(chainID)).Result()
	if err != nil {
		return nil, storage.Wrap("scan tokens", err)
	}

	out := make([]model.Token, 0, len(values))
	for _, address := range sortedFields(values) {
		token, err := storage.DecodeToken([]byte(values[address]))
		if err != nil {
			return nil, storage.Wrap("scan tokens", err)
		}
		out = append(out, token)
	}
	return out, nil
}

func (s *Store) DeleteToken(ctx context.Context, key model.TokenKey) error {
	if err := s.client.HDel(ctx, tokensKey(key.ChainID), key.Address).Err(); err != nil {
		return storage.Wrap("delete token", err)
	}
	s.TokenDeleted(key)
	return nil
}

func sortedFields(values map[string]string) []string {
	fields := make([]string, 0, len(values))
	for field := range values {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}
