package tokens

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"poolsAPI/internal/model"
)

const (
	// DefaultKnownCacheSize bounds the known-token cache.
	DefaultKnownCacheSize = 10000
	// DefaultKnownTTL is how long a presence entry is trusted before the
	// store is read again.
	DefaultKnownTTL = time.Minute
)

// KnownTokens remembers tokens already present in the store so repeated
// passes skip the store lookup. It only caches presence: a miss always
// falls through to the store. Entries expire after ttl so deletes made
// outside this process are noticed; a zero ttl never expires them.
type KnownTokens struct {
	cache *expirable.LRU[model.TokenKey, struct{}]
}

func NewKnownTokens(size int, ttl time.Duration) *KnownTokens {
	if size <= 0 {
		size = DefaultKnownCacheSize
	}
	return &KnownTokens{cache: expirable.NewLRU[model.TokenKey, struct{}](size, nil, ttl)}
}

func (k *KnownTokens) Contains(key model.TokenKey) bool {
	_, ok := k.cache.Get(key)
	return ok
}

func (k *KnownTokens) Add(key model.TokenKey) {
	k.cache.Add(key, struct{}{})
}

func (k *KnownTokens) Remove(key model.TokenKey) {
	k.cache.Remove(key)
}

func (k *KnownTokens) Len() int {
	return k.cache.Len()
}
