// backend/src/services/cache.go
package services

import "time"

// Summary cache tuning. Entries are also invalidated eagerly whenever a
// ledger mutation lands, so expiry only bounds staleness after a crash of
// the invalidation path.
const (
	DefaultCacheExpiration = 5 * time.Minute
	CacheCleanupInterval   = 10 * time.Minute
)
