package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/pkg/errors"

	"github.com/ElizaSystems/lyn-sub001/pkg/models"
	"github.com/ElizaSystems/lyn-sub001/pkg/storage"
)

// cacheTTLs lists the task types whose results may be cached, with a
// per-type TTL: shorter for volatile data (prices, gas) and longer for
// slower-moving data (NFT floors, governance). Types that mutate state
// or alert (scans, hunts, wallets, trading) are absent on purpose.
var cacheTTLs = map[models.TaskType]time.Duration{
	models.PriceAlertTask:        time.Minute,
	models.GasMonitorTask:        2 * time.Minute,
	models.PortfolioTrackerTask:  10 * time.Minute,
	models.DeFiMonitorTask:       15 * time.Minute,
	models.NFTMonitorTask:        30 * time.Minute,
	models.GovernanceMonitorTask: time.Hour,
}

// ResultCache is the two-tier TTL cache keyed by canonical task
// signature. The in-process map is a best-effort accelerant; the
// store-backed tier is the source of truth and survives restarts.
type ResultCache struct {
	mu     sync.RWMutex
	local  map[string]models.TaskCache
	store  storage.Store
	logger Logger
	now    func() time.Time
}

func NewResultCache(store storage.Store, logger Logger) *ResultCache {
	return &ResultCache{
		local:  make(map[string]models.TaskCache),
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Signature derives the canonical cache key from (type, sanitized
// config). Notification fields are excluded from the hash via struct
// tags, so structurally identical monitors share an entry. The second
// return is false for uncacheable task types.
func (rc *ResultCache) Signature(t models.Task) (string, bool) {
	if _, ok := cacheTTLs[t.Type]; !ok {
		return "", false
	}
	cfg, err := models.DecodeConfig(t.Type, t.Config)
	if err != nil {
		rc.logger.Warnf("Cache signature for task %s skipped: %v", t.ID, err)
		return "", false
	}
	h, err := hashstructure.Hash(cfg, hashstructure.FormatV2, nil)
	if err != nil {
		rc.logger.Warnf("Cache signature for task %s skipped: %v", t.ID, err)
		return "", false
	}
	return fmt.Sprintf("%s:%016x", t.Type, h), true
}

// Lookup checks the in-process tier then the store tier. A store hit is
// promoted into the in-process map and its hit counters updated.
func (rc *ResultCache) Lookup(t models.Task) (Result, bool) {
	key, cacheable := rc.Signature(t)
	if !cacheable {
		return nil, false
	}
	now := rc.now()

	rc.mu.RLock()
	entry, ok := rc.local[key]
	rc.mu.RUnlock()
	if ok && !entry.Expired(now) {
		if err := rc.store.TouchCacheEntry(key, now); err != nil && !errors.Is(err, storage.ErrNotFound) {
			rc.logger.Warnf("Cache touch for %s failed: %v", key, err)
		}
		return Result(entry.Result), true
	}

	entry, err := rc.store.GetCacheEntry(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		rc.logger.Warnf("Cache lookup for %s failed: %v", key, err)
		return nil, false
	}
	if entry.Expired(now) {
		return nil, false
	}

	// Promote into the in-process tier.
	rc.mu.Lock()
	rc.local[key] = entry
	rc.mu.Unlock()
	if err := rc.store.TouchCacheEntry(key, now); err != nil {
		rc.logger.Warnf("Cache touch for %s failed: %v", key, err)
	}
	return Result(entry.Result), true
}

// Store writes a fresh result through both tiers, replacing any prior
// row for the signature. Alerting or error-carrying results are never
// cached; serving a stale alert-suppressing payload is worse than a
// recomputation.
func (rc *ResultCache) Store(t models.Task, res Result) {
	if res == nil || res.Alert() || res.HasError() {
		return
	}
	key, cacheable := rc.Signature(t)
	if !cacheable {
		return
	}
	now := rc.now()
	entry := models.TaskCache{
		TaskID:       t.ID,
		CacheKey:     key,
		Result:       models.JSONMap(res),
		CreatedAt:    now,
		ExpiresAt:    now.Add(cacheTTLs[t.Type]),
		LastAccessed: now,
	}
	if err := rc.store.UpsertCacheEntry(entry); err != nil {
		rc.logger.Warnf("Cache write for %s failed: %v", key, err)
		return
	}
	rc.mu.Lock()
	rc.local[key] = entry
	rc.mu.Unlock()
}

// Size returns the number of in-process entries.
func (rc *ResultCache) Size() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.local)
}

// Prune drops expired entries from both tiers.
func (rc *ResultCache) Prune() (int64, error) {
	now := rc.now()
	rc.mu.Lock()
	for k, e := range rc.local {
		if e.Expired(now) {
			delete(rc.local, k)
		}
	}
	rc.mu.Unlock()
	return rc.store.PruneCacheEntries(now)
}

// Clear empties the in-process tier (used on shutdown).
func (rc *ResultCache) Clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.local = make(map[string]models.TaskCache)
}
