// Package cache holds the short-lived tier that sits in front of the store
// for aggregate queries such as regional rankings and the map view.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Tier is a TTL key/value cache. Values are JSON-encoded so the in-process and
// Redis tiers behave the same way.
type Tier interface {
	// Get decodes the value stored under key into dst. It reports false on a
	// miss or an expired entry.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Put(ctx context.Context, key string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	InvalidatePrefix(ctx context.Context, prefix string) error
}

// MapKey is the key of the aggregate map view.
const MapKey = "map:all"

// TopKey is the key of a regional top-N ranking.
func TopKey(region string, limit int) string {
	return TopPrefix(region) + strconv.Itoa(limit)
}

// TopPrefix matches every cached ranking of region regardless of limit.
func TopPrefix(region string) string {
	return fmt.Sprintf("top:%s:", region)
}
