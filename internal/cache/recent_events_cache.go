package cache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto"
)

const DefaultWindow = 200

// RecentEventsCache keeps the last window values per key. Eviction across keys is left to
// ristretto's LFU admission and LRU eviction policies, so rarely queried peers may disappear.
type RecentEventsCache[ValueType any] interface {
	Get(key string) ([]ValueType, error)
	Put(key string, values []ValueType) error
	Delete(key string)
}

type RecentEventsCacheImpl[ValueType any] struct {
	cache  *ristretto.Cache
	window int
	mu     sync.Mutex
}

func NewRecentEventsCacheImpl[ValueType any](
	cache *ristretto.Cache,
	window int,
) *RecentEventsCacheImpl[ValueType] {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RecentEventsCacheImpl[ValueType]{
		cache:  cache,
		window: window,
	}
}

// NewRistrettoCache sizes a cache whose cost is the number of cached values.
func NewRistrettoCache(maxValues int64) (*ristretto.Cache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxValues * 10,
		MaxCost:            maxValues,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}
	return cache, nil
}

func (rc *RecentEventsCacheImpl[ValueType]) Get(key string) ([]ValueType, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	typedValue, err := rc.get(key)
	if err != nil {
		return nil, err
	}
	return append([]ValueType(nil), typedValue...), nil
}

func (rc *RecentEventsCacheImpl[ValueType]) get(key string) ([]ValueType, error) {
	value, found := rc.cache.Get(key)
	if !found {
		return nil, ErrKeyNotFound
	}
	typedValue, ok := value.([]ValueType)
	if !ok {
		return nil, fmt.Errorf("value not of expected type %T returned from cache when getting", value)
	}
	return typedValue, nil
}

func (rc *RecentEventsCacheImpl[ValueType]) Put(key string, values []ValueType) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	existing, err := rc.get(key)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return err
	}
	total := make([]ValueType, 0, len(existing)+len(values))
	total = append(total, existing...)
	total = append(total, values...)
	if len(total) > rc.window {
		total = total[len(total)-rc.window:]
	}
	if set := rc.cache.Set(key, total, int64(len(total))); !set {
		return ErrSetFailed
	}
	// Set is buffered; waiting makes the value visible to the next Get
	rc.cache.Wait()
	return nil
}

func (rc *RecentEventsCacheImpl[ValueType]) Delete(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.cache.Del(key)
}

var (
	ErrKeyNotFound = errors.New("key not found within the cache")
	ErrSetFailed   = errors.New("failed to set value in cache")
)
