package models

import "time"

// TaskCache is one cached result row per canonical task signature.
// Refreshes replace the row in place; duplicates are never created.
type TaskCache struct {
	TaskID       string    `json:"task_id" db:"task_id"`
	CacheKey     string    `json:"cache_key" db:"cache_key"`
	Result       JSONMap   `json:"result" db:"result"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	ExpiresAt    time.Time `json:"expires_at" db:"expires_at"`
	HitCount     int       `json:"hit_count" db:"hit_count"`
	LastAccessed time.Time `json:"last_accessed" db:"last_accessed"`
}

// Expired reports whether the entry is stale at the given instant.
func (c TaskCache) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
