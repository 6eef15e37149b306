package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/colthorp/convcache-go/internal/core"
)

// Manager orchestrates reads, writes, and eviction across the two storage
// tiers.
//
// # Lookup path
//
// The structured tier is authoritative when present; the flat tier is a
// degraded-mode fallback and is never consulted first while the structured
// tier is available. Every hit is checked for expiry (fixed 24-hour TTL)
// and structural validity; records failing either check are purged and
// reported as a miss.
//
// # Write path
//
// Writes go to the structured tier first. Any structured write error falls
// through to the flat tier. A flat-tier quota failure triggers one eviction
// sweep followed by exactly one retry; an oversized entry is rejected
// outright since eviction cannot shrink a single entry.
//
// # Failure semantics
//
// A failed structured open is a permanent downgrade to flat-only operation
// for the session. Read and delete errors in either tier are swallowed.
// No failure in this subsystem is fatal to the caller: the worst outcome is
// operating without a cache entry for one request.
type Manager struct {
	structured *SQLiteStore
	flat       *FlatStore
	verbose    bool

	// memo is an in-process accelerator for validated payloads; both
	// persistent tiers remain authoritative.
	memo *ristretto.Cache[string, map[string]interface{}]

	// structuredSizeLimit is the cumulative-size trigger for the tighter
	// structured retention bound. Overridable in tests; defaults to
	// StructuredSizeLimit.
	structuredSizeLimit int64
}

// memoMaxEntries bounds the in-process hot-entry memo.
const memoMaxEntries = 256

// NewManager creates a cache manager over the given tiers. Call Initialize
// before use.
func NewManager(structured *SQLiteStore, flat *FlatStore, verbose bool) *Manager {
	return &Manager{
		structured:          structured,
		flat:                flat,
		verbose:             verbose,
		structuredSizeLimit: StructuredSizeLimit,
	}
}

func (m *Manager) log(msg string) {
	core.Eprint(fmt.Sprintf("[Cache] %s", msg), m.verbose)
}

// Initialize performs the one-shot structured-tier open and sets up the
// hot-entry memo. Structured-tier unavailability is tolerated (the manager
// downgrades to flat-only operation for the session); it is not an error.
func (m *Manager) Initialize(ctx context.Context) error {
	memo, err := ristretto.NewCache(&ristretto.Config[string, map[string]interface{}]{
		NumCounters: memoMaxEntries * 10,
		MaxCost:     memoMaxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return fmt.Errorf("init memo cache: %w", err)
	}
	m.memo = memo

	if m.structured != nil {
		if err := m.structured.Open(ctx); err != nil {
			m.log(fmt.Sprintf("Structured tier unavailable, using flat tier only: %v", err))
		}
	}
	return nil
}

// Close releases tier handles.
func (m *Manager) Close() error {
	if m.memo != nil {
		m.memo.Close()
	}
	if m.structured != nil {
		return m.structured.Close()
	}
	return nil
}

func (m *Manager) structuredUp() bool {
	return m.structured != nil && m.structured.Available()
}

func (m *Manager) fillMemo(key string, rec *CacheRecord) {
	if m.memo == nil {
		return
	}
	ttl := time.Until(time.UnixMilli(rec.ExpiresAt))
	if ttl <= 0 {
		return
	}
	m.memo.SetWithTTL(key, rec.Payload, 1, ttl)
}

func (m *Manager) dropMemo(key string) {
	if m.memo != nil {
		m.memo.Del(key)
	}
}

// Lookup returns the cached payload for (ownerID, date), or ok=false when
// neither tier holds a live record. The caller is responsible for the
// remote fetch on a miss.
func (m *Manager) Lookup(ctx context.Context, ownerID string, date DateInput) (map[string]interface{}, bool) {
	key := Key(ownerID, date)

	if m.memo != nil {
		if payload, ok := m.memo.Get(key); ok {
			return payload, true
		}
	}

	now := time.Now()

	if m.structuredUp() {
		rec, status := m.structured.Get(ctx, key)
		switch status {
		case ReadHit:
			if payload, ok := m.vet(key, rec, now, func() { m.structured.Delete(ctx, key) }); ok {
				return payload, true
			}
		case ReadDegraded:
			m.log(fmt.Sprintf("Structured read degraded for %s, trying flat tier", key))
		}
	}

	rec, status := m.flat.Get(key)
	switch status {
	case ReadHit:
		if payload, ok := m.vet(key, rec, now, func() { m.flat.Delete(key) }); ok {
			return payload, true
		}
	case ReadDegraded:
		m.log(fmt.Sprintf("Flat read degraded for %s", key))
	}

	return nil, false
}

// vet applies the expiry and structural checks to a tier hit. Records
// failing either check are purged via the supplied delete and reported as
// a miss.
func (m *Manager) vet(key string, rec *CacheRecord, now time.Time, purge func()) (map[string]interface{}, bool) {
	if rec.Expired(now) {
		m.log(fmt.Sprintf("Entry %s expired, purging", key))
		purge()
		m.dropMemo(key)
		return nil, false
	}
	if !rec.Valid() {
		m.log(fmt.Sprintf("Entry %s structurally invalid, purging", key))
		purge()
		m.dropMemo(key)
		return nil, false
	}
	m.fillMemo(key, rec)
	return rec.Payload, true
}

// Store caches a freshly assembled payload for (ownerID, date). It reports
// whether the record is durable in at least one tier. A write is never
// attempted with insufficient identity: missing owner, date, or payload is
// an immediate no-op false.
func (m *Manager) Store(ctx context.Context, ownerID string, date DateInput, payload map[string]interface{}) bool {
	if strings.TrimSpace(ownerID) == "" || date == nil || payload == nil {
		m.log("Refusing cache write with missing owner, date, or payload")
		return false
	}

	now := time.Now()
	items, _ := PayloadItems(payload)
	key := Key(ownerID, date)
	rec := &CacheRecord{
		CacheKey:  key,
		OwnerID:   strings.TrimSpace(ownerID),
		Date:      date.normalizeDate(),
		Payload:   payload,
		WrittenAt: now.UnixMilli(),
		ExpiresAt: now.Add(TTL).UnixMilli(),
		ItemCount: len(items),
	}

	if m.structuredUp() {
		if err := m.structured.Put(ctx, rec); err == nil {
			m.log(fmt.Sprintf("Cached %s (%d items) in structured tier", key, rec.ItemCount))
			m.fillMemo(key, rec)
			return true
		} else {
			m.log(fmt.Sprintf("Structured write failed for %s, falling back to flat tier: %v", key, err))
		}
	}

	if m.putFlat(key, rec) {
		m.log(fmt.Sprintf("Cached %s (%d items) in flat tier", key, rec.ItemCount))
		m.fillMemo(key, rec)
		return true
	}
	return false
}

// putFlat writes to the flat tier with the quota-retry state machine:
// quota failure → sweep → retry once → success or give up.
func (m *Manager) putFlat(key string, rec *CacheRecord) bool {
	err := m.flat.Put(key, rec)
	if err == nil {
		return true
	}
	if errors.Is(err, ErrTooLarge) {
		m.log(fmt.Sprintf("Entry %s exceeds flat tier ceiling, dropping: %v", key, err))
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) {
		m.log(fmt.Sprintf("Flat tier quota exceeded for %s, sweeping and retrying once", key))
		m.SweepFlat()
		if err := m.flat.Put(key, rec); err == nil {
			return true
		} else {
			m.log(fmt.Sprintf("Flat write failed after sweep for %s: %v", key, err))
			return false
		}
	}
	m.log(fmt.Sprintf("Flat write failed for %s: %v", key, err))
	return false
}

// Sweep runs the eviction pass on both tiers. It may be called proactively
// (the sweep also runs automatically on a flat-tier quota failure).
func (m *Manager) Sweep(ctx context.Context) {
	if m.structuredUp() {
		m.SweepStructured(ctx)
	}
	m.SweepFlat()
}

// SweepStructured bounds the structured tier: the newest StructuredRetain
// records are kept, tightened to StructuredRetainTight when the cumulative
// payload size exceeds StructuredSizeLimit. Failures are logged and
// swallowed; a failed sweep only means a later retry may also fail.
func (m *Manager) SweepStructured(ctx context.Context) {
	records, err := m.structured.ScanByWriteTimeDesc(ctx)
	if err != nil {
		m.log(fmt.Sprintf("Structured sweep scan failed: %v", err))
		return
	}

	var total int64
	for _, rec := range records {
		total += rec.SizeBytes
	}

	retain := StructuredRetain
	if total > m.structuredSizeLimit {
		retain = StructuredRetainTight
	}
	if len(records) <= retain {
		return
	}

	evicted := records[retain:]
	for _, rec := range evicted {
		m.structured.Delete(ctx, rec.CacheKey)
		m.dropMemo(rec.CacheKey)
	}
	m.log(fmt.Sprintf("Structured sweep: kept %d, evicted %d (%d bytes total before sweep)",
		retain, len(evicted), total))
}

// SweepFlat bounds the flat tier to its FlatRetain newest entries, across
// both the current and legacy key prefixes.
func (m *Manager) SweepFlat() {
	entries, err := m.flat.ListEntries()
	if err != nil {
		m.log(fmt.Sprintf("Flat sweep enumeration failed: %v", err))
		return
	}
	if len(entries) <= FlatRetain {
		return
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].WrittenAt != entries[j].WrittenAt {
			return entries[i].WrittenAt > entries[j].WrittenAt
		}
		return entries[i].Key < entries[j].Key
	})

	evicted := entries[FlatRetain:]
	for _, e := range evicted {
		m.flat.removeAll(e.Key)
		m.dropMemo(e.Key)
	}
	m.log(fmt.Sprintf("Flat sweep: kept %d, evicted %d", FlatRetain, len(evicted)))
}

// TierStats summarizes one tier for diagnostics.
type TierStats struct {
	Records    int
	TotalBytes int64
}

// Stats reports record counts and serialized sizes per tier. The structured
// stats pointer is nil when that tier is unavailable.
func (m *Manager) Stats(ctx context.Context) (*TierStats, TierStats, error) {
	var structured *TierStats
	if m.structuredUp() {
		records, err := m.structured.ScanByWriteTimeDesc(ctx)
		if err != nil {
			return nil, TierStats{}, fmt.Errorf("structured stats: %w", err)
		}
		stats := &TierStats{Records: len(records)}
		for _, rec := range records {
			stats.TotalBytes += rec.SizeBytes
		}
		structured = stats
	}

	entries, err := m.flat.ListEntries()
	if err != nil {
		return structured, TierStats{}, fmt.Errorf("flat stats: %w", err)
	}
	flat := TierStats{Records: len(entries)}
	for _, e := range entries {
		flat.TotalBytes += e.SizeBytes
	}
	return structured, flat, nil
}
