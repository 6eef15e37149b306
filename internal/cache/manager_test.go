package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestManager(t *testing.T) (*Manager, *SQLiteStore, *FlatStore) {
	t.Helper()
	dir := t.TempDir()
	structured := NewSQLiteStore(filepath.Join(dir, "cache.db"), false)
	flat := NewFlatStore(filepath.Join(dir, "flat"), 0, false)
	manager := NewManager(structured, flat, false)
	if err := manager.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { manager.Close() })
	return manager, structured, flat
}

func TestManagerRoundTrip(t *testing.T) {
	ctx := context.Background()
	manager, _, _ := newTestManager(t)

	payload := map[string]interface{}{
		"items": []map[string]interface{}{
			{"id": "c1", "title": "Standup"},
			{"id": "c2", "title": "Retro"},
		},
		"counters": map[string]interface{}{"itemCount": 2},
	}

	if !manager.Store(ctx, "user-1", DateString("2024-03-05"), payload) {
		t.Fatal("Expected store to succeed")
	}

	got, ok := manager.Lookup(ctx, "user-1", DateString("2024-03-05"))
	if !ok {
		t.Fatal("Expected lookup hit after store")
	}
	items, ok := PayloadItems(got)
	if !ok || len(items) != 2 {
		t.Errorf("Expected 2 items, got %d (ok=%v)", len(items), ok)
	}
}

func TestManagerLookupNormalizesDateShapes(t *testing.T) {
	ctx := context.Background()
	manager, _, _ := newTestManager(t)

	payload := map[string]interface{}{"items": []map[string]interface{}{{"id": "c1"}}}
	if !manager.Store(ctx, "user-1", DateString("2024-03-05"), payload) {
		t.Fatal("Expected store to succeed")
	}

	// A timestamped string and a native date must reach the same record.
	if _, ok := manager.Lookup(ctx, "user-1", DateString("2024-03-05T10:00:00Z")); !ok {
		t.Error("Expected hit for timestamped date string")
	}
	day := time.Date(2024, 3, 5, 17, 0, 0, 0, time.UTC)
	if _, ok := manager.Lookup(ctx, "user-1", CalendarDate(day)); !ok {
		t.Error("Expected hit for native date value")
	}
}

func TestManagerStoreRejectsMissingIdentity(t *testing.T) {
	ctx := context.Background()
	manager, _, _ := newTestManager(t)

	payload := map[string]interface{}{"items": []map[string]interface{}{}}
	if manager.Store(ctx, "", DateString("2024-03-05"), payload) {
		t.Error("Expected store without owner to be refused")
	}
	if manager.Store(ctx, "   ", DateString("2024-03-05"), payload) {
		t.Error("Expected store with blank owner to be refused")
	}
	if manager.Store(ctx, "user-1", nil, payload) {
		t.Error("Expected store without date to be refused")
	}
	if manager.Store(ctx, "user-1", DateString("2024-03-05"), nil) {
		t.Error("Expected store without payload to be refused")
	}
}

func TestManagerExpiry(t *testing.T) {
	ctx := context.Background()
	manager, structured, _ := newTestManager(t)

	// Still inside the TTL window: a record written 23h59m ago is a hit.
	fresh := testRecord("user-1_2024-03-05", 1, time.Now().Add(-TTL+time.Minute))
	if err := structured.Put(ctx, fresh); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, ok := manager.Lookup(ctx, "user-1", DateString("2024-03-05")); !ok {
		t.Error("Expected hit just inside the TTL window")
	}

	// Past the window: miss, and the record is purged from the tier.
	stale := testRecord("user-1_2024-03-04", 1, time.Now().Add(-TTL-time.Minute))
	if err := structured.Put(ctx, stale); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, ok := manager.Lookup(ctx, "user-1", DateString("2024-03-04")); ok {
		t.Error("Expected miss past the TTL window")
	}
	if _, status := structured.Get(ctx, stale.CacheKey); status != ReadMiss {
		t.Error("Expected expired record to be purged")
	}
}

func TestManagerExpiryFlatTier(t *testing.T) {
	ctx := context.Background()
	manager, _, flat := newTestManager(t)

	stale := testRecord("user-1_2024-03-04", 1, time.Now().Add(-TTL-time.Minute))
	if err := flat.Put(stale.CacheKey, stale); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, ok := manager.Lookup(ctx, "user-1", DateString("2024-03-04")); ok {
		t.Error("Expected miss past the TTL window")
	}
	if _, status := flat.Get(stale.CacheKey); status != ReadMiss {
		t.Error("Expected expired record to be purged from flat tier")
	}
}

func TestManagerCorruptionPurge(t *testing.T) {
	ctx := context.Background()
	manager, structured, flat := newTestManager(t)

	// Payload without an items list is structurally invalid.
	bad := testRecord("user-1_2024-03-05", 0, time.Now())
	bad.Payload = map[string]interface{}{"counters": map[string]interface{}{"itemCount": 3}}
	if err := structured.Put(ctx, bad); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if _, ok := manager.Lookup(ctx, "user-1", DateString("2024-03-05")); ok {
		t.Error("Expected structurally invalid record to be a miss")
	}
	if _, status := structured.Get(ctx, bad.CacheKey); status != ReadMiss {
		t.Error("Expected invalid record to be purged")
	}

	// Same check against the flat tier.
	if err := flat.Put(bad.CacheKey, bad); err != nil {
		t.Fatalf("Flat put failed: %v", err)
	}
	if _, ok := manager.Lookup(ctx, "user-1", DateString("2024-03-05")); ok {
		t.Error("Expected invalid flat record to be a miss")
	}
	if _, status := flat.Get(bad.CacheKey); status != ReadMiss {
		t.Error("Expected invalid flat record to be purged")
	}
}

func TestManagerStructuredPreferredOverFlat(t *testing.T) {
	ctx := context.Background()
	manager, structured, flat := newTestManager(t)

	inStructured := testRecord("user-1_2024-03-05", 2, time.Now())
	inFlat := testRecord("user-1_2024-03-05", 7, time.Now())
	if err := structured.Put(ctx, inStructured); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := flat.Put(inFlat.CacheKey, inFlat); err != nil {
		t.Fatalf("Flat put failed: %v", err)
	}

	got, ok := manager.Lookup(ctx, "user-1", DateString("2024-03-05"))
	if !ok {
		t.Fatal("Expected hit")
	}
	items, _ := PayloadItems(got)
	if len(items) != 2 {
		t.Errorf("Expected the structured tier's record (2 items), got %d items", len(items))
	}
}

func TestManagerStructuredSweepCountBound(t *testing.T) {
	ctx := context.Background()
	manager, structured, _ := newTestManager(t)

	base := time.Unix(1700000000, 0)
	for i := 0; i < 60; i++ {
		rec := testRecord(fmt.Sprintf("user-1_2024-%02d-%02d", i/28+1, i%28+1), 1, base.Add(time.Duration(i)*time.Minute))
		if err := structured.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	manager.SweepStructured(ctx)

	records, err := structured.ScanByWriteTimeDesc(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(records) != StructuredRetain {
		t.Fatalf("Expected %d records after sweep, got %d", StructuredRetain, len(records))
	}
	// Exactly the 50 most recently written survive.
	oldestKept := base.Add(10 * time.Minute).UnixMilli()
	for _, rec := range records {
		if rec.WrittenAt < oldestKept {
			t.Errorf("Expected record %s (written %d) to be evicted", rec.CacheKey, rec.WrittenAt)
		}
	}
}

func TestManagerStructuredSweepSizeTightens(t *testing.T) {
	ctx := context.Background()
	manager, structured, _ := newTestManager(t)
	// Stand-in for the 500 MiB production trigger.
	manager.structuredSizeLimit = 2048

	base := time.Unix(1700000000, 0)
	for i := 0; i < 60; i++ {
		rec := testRecord(fmt.Sprintf("user-1_2024-%02d-%02d", i/28+1, i%28+1), 3, base.Add(time.Duration(i)*time.Minute))
		if err := structured.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	manager.SweepStructured(ctx)

	records, err := structured.ScanByWriteTimeDesc(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(records) != StructuredRetainTight {
		t.Fatalf("Expected size trigger to tighten retention to %d, got %d",
			StructuredRetainTight, len(records))
	}
}

func TestManagerFlatSweepRetainsNewestFive(t *testing.T) {
	manager, _, flat := newTestManager(t)

	base := time.Unix(1700000000, 0)
	for i := 0; i < 8; i++ {
		rec := testRecord(fmt.Sprintf("user-1_2024-03-%02d", i+1), 1, base.Add(time.Duration(i)*time.Hour))
		if err := flat.Put(rec.CacheKey, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	manager.SweepFlat()

	entries, err := flat.ListEntries()
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(entries) != FlatRetain {
		t.Fatalf("Expected %d entries after sweep, got %d", FlatRetain, len(entries))
	}
	for _, e := range entries {
		// Days 4-8 are the five newest.
		if e.Key < "user-1_2024-03-04" {
			t.Errorf("Expected entry %s to be evicted", e.Key)
		}
	}
}

func TestManagerFlatSweepCoversLegacyPrefix(t *testing.T) {
	manager, _, flat := newTestManager(t)

	base := time.Unix(1700000000, 0)
	// Five current-prefix entries, newest.
	for i := 0; i < 5; i++ {
		rec := testRecord(fmt.Sprintf("user-1_2024-03-%02d", i+4), 1, base.Add(time.Duration(i+10)*time.Hour))
		if err := flat.Put(rec.CacheKey, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	// Two legacy-prefix entries, older; both must be swept away.
	for i := 0; i < 2; i++ {
		rec := testRecord(fmt.Sprintf("user-1_2024-02-%02d", i+1), 1, base.Add(time.Duration(i)*time.Hour))
		path := filepath.Join(flat.dir, flatLegacyPrefix+rec.CacheKey+flatExt)
		writeRecordFile(t, path, rec)
	}

	manager.SweepFlat()

	entries, err := flat.ListEntries()
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(entries) != FlatRetain {
		t.Fatalf("Expected %d entries after sweep, got %d", FlatRetain, len(entries))
	}
	for _, e := range entries {
		if e.Key < "user-1_2024-03-01" {
			t.Errorf("Expected legacy entry %s to be evicted", e.Key)
		}
	}
}

func TestManagerFallbackWhenStructuredUnavailable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// Block the structured tier: its parent "directory" is a regular file.
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create blocker: %v", err)
	}
	structured := NewSQLiteStore(filepath.Join(blocker, "cache.db"), false)
	flat := NewFlatStore(filepath.Join(dir, "flat"), 0, false)
	manager := NewManager(structured, flat, false)
	if err := manager.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer manager.Close()

	if structured.Available() {
		t.Fatal("Expected structured tier to be unavailable")
	}

	payload := map[string]interface{}{"items": []map[string]interface{}{{"id": "c1"}}}
	if !manager.Store(ctx, "user-1", DateString("2024-03-05"), payload) {
		t.Fatal("Expected store to succeed against the flat tier")
	}
	if _, status := flat.Get("user-1_2024-03-05"); status != ReadHit {
		t.Error("Expected record to be durable in the flat tier")
	}
	if _, ok := manager.Lookup(ctx, "user-1", DateString("2024-03-05")); !ok {
		t.Error("Expected lookup hit via the flat tier")
	}
}

func TestManagerOversizeEntryDroppedWithoutRetry(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create blocker: %v", err)
	}
	structured := NewSQLiteStore(filepath.Join(blocker, "cache.db"), false)
	flat := NewFlatStore(filepath.Join(dir, "flat"), 0, false)
	manager := NewManager(structured, flat, false)
	if err := manager.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer manager.Close()

	// Keep one live entry so a sweep, if one wrongly ran, would be visible.
	small := testRecord("user-1_2024-03-01", 1, time.Now())
	if err := flat.Put(small.CacheKey, small); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	big := make([]byte, FlatEntryLimit+1)
	payload := map[string]interface{}{
		"items": []map[string]interface{}{{"id": "c1", "transcript": string(big)}},
	}
	if manager.Store(ctx, "user-1", DateString("2024-03-05"), payload) {
		t.Error("Expected oversize store to fail")
	}
	if _, status := flat.Get("user-1_2024-03-05"); status != ReadMiss {
		t.Error("Expected oversize entry not to be written")
	}
	if _, status := flat.Get(small.CacheKey); status != ReadHit {
		t.Error("Expected existing entry to survive (no sweep for oversize)")
	}
}

func TestManagerQuotaSweepAndRetryOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// Measure the serialized size of one entry, then size the quota so the
	// eighth write trips it and the post-sweep retry fits.
	probe := testRecord("user-1_2024-03-01", 1, time.Now())
	data, err := json.Marshal(probe)
	if err != nil {
		t.Fatalf("Failed to size probe: %v", err)
	}
	entrySize := int64(len(data))

	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create blocker: %v", err)
	}
	structured := NewSQLiteStore(filepath.Join(blocker, "cache.db"), false)
	flat := NewFlatStore(filepath.Join(dir, "flat"), 7*entrySize+7, false)
	manager := NewManager(structured, flat, false)
	if err := manager.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer manager.Close()

	payload := map[string]interface{}{
		"items": []map[string]interface{}{{"id": 0, "title": "Conversation"}},
	}
	for i := 0; i < 7; i++ {
		if !manager.Store(ctx, "user-1", DateString(fmt.Sprintf("2024-03-%02d", i+1)), payload) {
			t.Fatalf("Store %d failed before quota", i+1)
		}
	}

	// Eighth write exceeds the quota, sweeps down to five, then succeeds.
	if !manager.Store(ctx, "user-1", DateString("2024-03-08"), payload) {
		t.Fatal("Expected store to succeed after sweep-and-retry")
	}

	entries, err := flat.ListEntries()
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(entries) != FlatRetain+1 {
		t.Errorf("Expected %d entries after sweep plus retried write, got %d",
			FlatRetain+1, len(entries))
	}
	if _, status := flat.Get("user-1_2024-03-08"); status != ReadHit {
		t.Error("Expected retried write to be durable")
	}
}

func TestManagerQuotaRetryFailureIsFinal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	probe := testRecord("user-1_2024-03-01", 1, time.Now())
	data, err := json.Marshal(probe)
	if err != nil {
		t.Fatalf("Failed to size probe: %v", err)
	}
	entrySize := int64(len(data))

	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create blocker: %v", err)
	}
	structured := NewSQLiteStore(filepath.Join(blocker, "cache.db"), false)
	// Room for three entries. The sweep evicts nothing at three (the
	// retention bound is five), so the post-sweep retry must also fail and
	// the write is abandoned.
	flat := NewFlatStore(filepath.Join(dir, "flat"), 3*entrySize+3, false)
	manager := NewManager(structured, flat, false)
	if err := manager.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer manager.Close()

	payload := map[string]interface{}{
		"items": []map[string]interface{}{{"id": 0, "title": "Conversation"}},
	}
	for i := 0; i < 3; i++ {
		if !manager.Store(ctx, "user-1", DateString(fmt.Sprintf("2024-03-%02d", i+1)), payload) {
			t.Fatalf("Store %d failed before quota", i+1)
		}
	}

	if manager.Store(ctx, "user-1", DateString("2024-03-04"), payload) {
		t.Fatal("Expected store to fail when the retry also exceeds the quota")
	}

	entries, err := flat.ListEntries()
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("Expected the 3 existing entries to survive untouched, got %d", len(entries))
	}
	if _, status := flat.Get("user-1_2024-03-04"); status != ReadMiss {
		t.Error("Expected abandoned write to leave no entry")
	}
	for i := 0; i < 3; i++ {
		if _, status := flat.Get(fmt.Sprintf("user-1_2024-03-%02d", i+1)); status != ReadHit {
			t.Errorf("Expected entry %d to survive the failed write", i+1)
		}
	}
}
