// Package cache is the TTL-bound result cache shared by search and maintenance jobs.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// KeyPrefix namespaces every cache key.
const KeyPrefix = "originbrain"

// Layer is a namespaced key/value cache with per-entry expiry.
type Layer interface {
	// Get decodes the entry for prefix/key into dest. It reports false for a miss or an
	// expired entry.
	Get(ctx context.Context, prefix, key string, dest interface{}) (bool, error)
	// Set stores value for prefix/key; ttl <= 0 means no expiry.
	Set(ctx context.Context, prefix, key string, value interface{}, ttl time.Duration) error
	// InvalidatePrefix removes every entry under prefix and returns how many were removed.
	InvalidatePrefix(ctx context.Context, prefix string) (int, error)
}

// Key builds the stored key for prefix and key.
func Key(prefix, key string) string {
	return fmt.Sprintf("%s:%s:%s", KeyPrefix, prefix, key)
}

// HashKey derives a short stable key from request parameters. Parameters are JSON
// encoded, so maps hash the same regardless of insertion order.
func HashKey(parts ...interface{}) string {
	raw, err := json.Marshal(parts)
	if err != nil {
		raw = []byte(fmt.Sprint(parts...))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:16])
}
