// Package cache is the process wide cache for lookups that cost a round trip:
// lid to phone number mappings, group metadata and plugin metadata.
package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"
)

const DefaultTTL = 24 * time.Hour

var (
	cache *ristretto.Cache[string, any]
	loads singleflight.Group
)

func init() {
	// Every item costs 1, so MaxCost is the number of entries kept.
	c, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: 1e5,
		MaxCost:     1e4,
		BufferItems: 64,
		OnReject: func(item *ristretto.Item[any]) {
			log.Warn("Cache item rejected", "key", item.Key)
		},
	})
	if err != nil {
		log.Fatalf("Failed to create cache: %v", err)
	}
	cache = c
}

// Key builds a namespaced key, e.g. Key("wa", "group", jid) -> wa:group:<jid>.
func Key(ns string, parts ...string) string {
	return ns + ":" + strings.Join(parts, ":")
}

func Set(key string, value any) error {
	return SetWithTTL(key, value, DefaultTTL)
}

func SetWithTTL(key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if !cache.SetWithTTL(key, value, 1, ttl) {
		return fmt.Errorf("cache: set %s dropped", key)
	}
	cache.Wait()
	return nil
}

func Get[T any](key string) (T, bool) {
	var zero T
	v, ok := cache.Get(key)
	if !ok {
		return zero, false
	}
	vT, ok := v.(T)
	if !ok {
		return zero, false
	}
	return vT, true
}

// GetOrLoad returns the cached value of key. On a miss load runs once for all
// concurrent callers of the same key and a successful result is kept for ttl.
// Errors are not cached.
func GetOrLoad[T any](key string, ttl time.Duration, load func() (T, error)) (T, error) {
	if v, ok := Get[T](key); ok {
		return v, nil
	}
	v, err, _ := loads.Do(key, func() (any, error) {
		v, err := load()
		if err != nil {
			return nil, err
		}
		if err := SetWithTTL(key, v, ttl); err != nil {
			log.Debug("Loaded value not cached", "key", key, "err", err)
		}
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func Del(key string) {
	cache.Del(key)
}
