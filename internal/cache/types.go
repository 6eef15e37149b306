// Package cache implements the two-tier local conversation cache.
//
// # Overview
//
// Result sets fetched from the conversation API are cached locally, keyed by
// an (owner, date) pair. Two storage tiers back the cache:
//
//   - SQLiteStore: the structured, indexed, higher-capacity primary tier.
//     It may be unavailable (the database cannot be opened); that condition
//     is permanent for the session and routes all traffic to the flat tier.
//   - FlatStore: a small string-keyed blob store used as the fallback tier,
//     with a hard per-entry size ceiling and a store-wide quota.
//
// The Manager owns the read/write orchestration across the tiers, the
// 24-hour expiry check, structural validation of stored payloads, and the
// eviction sweeps that bound each tier's size.
//
// # Record validity
//
// A record is valid only when its payload contains a list-valued "items"
// field. Records failing that check, and records past their expiry, are
// treated as absent and purged on read. No error in this package is fatal:
// every failure degrades to "no cache entry for this request".
package cache

import (
	"errors"
	"time"
)

// TTL is the fixed validity window for every record. No sliding expiration.
const TTL = 24 * time.Hour

// Eviction bounds.
const (
	// StructuredRetain is how many newest records a structured-tier sweep keeps.
	StructuredRetain = 50
	// StructuredRetainTight replaces StructuredRetain when the tier's
	// cumulative payload size exceeds StructuredSizeLimit.
	StructuredRetainTight = 30
	// StructuredSizeLimit is the cumulative-size trigger for the tighter bound.
	StructuredSizeLimit = 500 << 20
	// FlatRetain is how many newest entries a flat-tier sweep keeps.
	FlatRetain = 5
	// FlatEntryLimit is the per-entry serialized-size ceiling for the flat tier.
	FlatEntryLimit = 2 << 20
)

// Sentinel errors reported by the storage tiers.
var (
	// ErrUnavailable means the structured tier could not be opened.
	// The condition is permanent for the session.
	ErrUnavailable = errors.New("cache: structured store unavailable")

	// ErrTooLarge means a single serialized entry exceeds FlatEntryLimit.
	// Eviction cannot make one entry smaller, so the write is never retried.
	ErrTooLarge = errors.New("cache: entry exceeds flat store size ceiling")

	// ErrQuotaExceeded means the flat store's quota would be exceeded.
	// The manager responds with one eviction sweep followed by one retry.
	ErrQuotaExceeded = errors.New("cache: flat store quota exceeded")
)

// CacheRecord is the persisted unit, identical across both tiers.
// Timestamps are epoch milliseconds.
type CacheRecord struct {
	CacheKey  string                 `json:"cache_key"`
	OwnerID   string                 `json:"owner_id"`
	Date      string                 `json:"date"`
	Payload   map[string]interface{} `json:"payload"`
	WrittenAt int64                  `json:"written_at"`
	ExpiresAt int64                  `json:"expires_at"`
	ItemCount int                    `json:"item_count"`
}

// Expired reports whether the record's TTL has elapsed at the given time.
func (r *CacheRecord) Expired(now time.Time) bool {
	return now.UnixMilli() > r.ExpiresAt
}

// Valid reports whether the payload is structurally sound: present and
// containing a list-valued "items" field. All other payload fields are
// opaque pass-through.
func (r *CacheRecord) Valid() bool {
	if r == nil || r.Payload == nil {
		return false
	}
	_, ok := PayloadItems(r.Payload)
	return ok
}

// PayloadItems extracts the items list from a payload. Handles both the
// decoded-JSON shape ([]interface{}) and the typed shape the fetch layer
// assembles before serialization.
func PayloadItems(payload map[string]interface{}) ([]interface{}, bool) {
	switch items := payload["items"].(type) {
	case []interface{}:
		return items, true
	case []map[string]interface{}:
		converted := make([]interface{}, len(items))
		for i, item := range items {
			converted[i] = item
		}
		return converted, true
	}
	return nil, false
}

// ReadStatus distinguishes an empty tier from a degraded one. Callers treat
// Miss and Degraded the same way, but the distinction is kept for logging.
type ReadStatus int

const (
	// ReadHit means a record was found (it may still fail expiry or
	// validity checks in the manager).
	ReadHit ReadStatus = iota
	// ReadMiss means the tier has no record for the key.
	ReadMiss
	// ReadDegraded means a read error was swallowed and reported as a miss.
	ReadDegraded
)

// ListEntry describes one flat-tier entry for eviction accounting.
type ListEntry struct {
	Key       string
	WrittenAt int64
	SizeBytes int64
}

// ScanRecord describes one structured-tier record for eviction accounting.
type ScanRecord struct {
	CacheKey  string
	WrittenAt int64
	SizeBytes int64
}
