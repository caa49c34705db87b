package memory

import (
	"context"
	"sort"
	"sync"

	"poolsAPI/internal/model"
	"poolsAPI/internal/storage"
)

// Store is an in-process cache store. Records are kept encoded so callers
// never share memory with the store.
type Store struct {
	storage.DeleteHooks

	mu     sync.RWMutex
	pools  map[int64]map[string][]byte
	tokens map[int64]map[string][]byte
}

var (
	_ storage.Store               = (*Store)(nil)
	_ storage.TokenDeleteNotifier = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		pools:  make(map[int64]map[string][]byte),
		tokens: make(map[int64]map[string][]byte),
	}
}

func (s *Store) Close() {}

func (s *Store) GetPool(_ context.Context, key model.PoolKey) (model.Pool, error) {
	s.mu.RLock()
	data, ok := s.pools[key.ChainID][key.ID]
	s.mu.RUnlock()
	if !ok {
		return model.Pool{}, storage.ErrNotFound
	}
	pool, err := storage.DecodePool(data)
	return pool, storage.Wrap("get pool", err)
}

func (s *Store) PutPool(ctx context.Context, pool model.Pool) error {
	return s.PutPools(ctx, []model.Pool{pool})
}

// PutPools encodes every pool before writing any, so a bad record leaves
// the store untouched.
func (s *Store) PutPools(_ context.Context, pools []model.Pool) error {
	encoded := make([][]byte, len(pools))
	for i, pool := range pools {
		data, err := storage.EncodePool(pool)
		if err != nil {
			return storage.Wrap("put pools", err)
		}
		encoded[i] = data
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, pool := range pools {
		byID, ok := s.pools[pool.ChainID]
		if !ok {
			byID = make(map[string][]byte)
			s.pools[pool.ChainID] = byID
		}
		byID[pool.ID] = encoded[i]
	}
	return nil
}

func (s *Store) PoolsByNetwork(_ context.Context, chainID int64) ([]model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := sortedKeys(s.pools[chainID])
	out := make([]model.Pool, 0, len(ids))
	for _, id := range ids {
		pool, err := storage.DecodePool(s.pools[chainID][id])
		if err != nil {
			return nil, storage.Wrap("scan pools", err)
		}
		out = append(out, pool)
	}
	return out, nil
}

func (s *Store) DeletePool(_ context.Context, key model.PoolKey) error {
	s.mu.Lock()
	delete(s.pools[key.ChainID], key.ID)
	s.mu.Unlock()
	return nil
}

func (s *Store) GetToken(_ context.Context, key model.TokenKey) (model.Token, error) {
	s.mu.RLock()
	data, ok := s.tokens[key.ChainID][key.Address]
	s.mu.RUnlock()
	if !ok {
		return model.Token{}, storage.ErrNotFound
	}
	token, err := storage.DecodeToken(data)
	return token, storage.Wrap("get token", err)
}

func (s *Store) PutToken(ctx context.Context, token model.Token) error {
	return s.PutTokens(ctx, []model.Token{token})
}

func (s *Store) PutTokens(_ context.Context, tokens []model.Token) error {
	encoded := make([][]byte, len(tokens))
	for i, token := range tokens {
		data, err := storage.EncodeToken(token)
		if err != nil {
			return storage.Wrap("put tokens", err)
		}
		encoded[i] = data
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, token := range tokens {
		byAddress, ok := s.tokens[token.ChainID]
		if !ok {
			byAddress = make(map[string][]byte)
			s.tokens[token.ChainID] = byAddress
		}
		byAddress[token.Address] = encoded[i]
	}
	return nil
}

func (s *Store) TokensByNetwork(_ context.Context, chainID int64) ([]model.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addresses := sortedKeys(s.tokens[chainID])
	out := make([]model.Token, 0, len(addresses))
	for _, address := range addresses {
		token, err := storage.DecodeToken(s.tokens[chainID][address])
		if err != nil {
			return nil, storage.Wrap("scan tokens", err)
		}
		out = append(out, token)
	}
	return out, nil
}

func (s *Store) DeleteToken(_ context.Context, key model.TokenKey) error {
	s.mu.Lock()
	delete(s.tokens[key.ChainID], key.Address)
	s.mu.Unlock()
	s.TokenDeleted(key)
	return nil
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
