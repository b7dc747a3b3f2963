package cache

import (
	"fmt"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/jellydator/ttlcache/v3"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/rotblauer/catfuse/conceptual"
	"github.com/rotblauer/catfuse/params"
	"github.com/rotblauer/catfuse/types/trackpoint"
)

// LastKnownTTLCache holds each device's latest track point.
var LastKnownTTLCache = ttlcache.New[string, trackpoint.TrackPoint](
	ttlcache.WithTTL[string, trackpoint.TrackPoint](params.CacheLastKnownTTL))

func SetLastKnownTTL(id conceptual.DeviceID, tp trackpoint.TrackPoint) {
	LastKnownTTLCache.Set(id.String(), tp, ttlcache.DefaultTTL)
}

func GetLastKnownTTL(id conceptual.DeviceID) (trackpoint.TrackPoint, bool) {
	item := LastKnownTTLCache.Get(id.String())
	if item == nil {
		return trackpoint.TrackPoint{}, false
	}
	return item.Value(), true
}

// NewDedupePassLRUFunc returns a func reporting true if v is not a duplicate
// of one of the last size values it has seen, using a Least Recently Used (LRU) cache.
// Values are compared by structural hash. The returned func is safe for concurrent use.
func NewDedupePassLRUFunc[T any](size int) func(T) bool {
	var mu sync.Mutex
	var dedupeCache = lru.New(size)
	return func(v T) bool {
		hash, err := hashstructure.Hash(v, hashstructure.FormatV2, nil)
		if err != nil {
			return false
		}
		key := fmt.Sprintf("%d", hash)
		mu.Lock()
		defer mu.Unlock()
		_, ok := dedupeCache.Get(key)
		if ok {
			return false
		}
		dedupeCache.Add(key, true)
		return true
	}
}
