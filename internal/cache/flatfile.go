package cache

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/colthorp/convcache-go/internal/core"
)

// Flat-tier key prefixes. Entries written by older releases used the
// chatcache prefix; sweeps and enumeration still recognize it.
const (
	flatPrefix       = "convcache_"
	flatLegacyPrefix = "chatcache_"
	flatExt          = ".json"
)

// FlatStore is the fallback tier: serialized record blobs under prefixed
// keys in a single directory, with a small hard capacity ceiling.
type FlatStore struct {
	dir        string
	quotaBytes int64
	verbose    bool
}

// NewFlatStore creates a flat store rooted at dir. quotaBytes bounds the
// store's total serialized size; zero or negative selects the default.
func NewFlatStore(dir string, quotaBytes int64, verbose bool) *FlatStore {
	if quotaBytes <= 0 {
		quotaBytes = 10 << 20
	}
	return &FlatStore{dir: dir, quotaBytes: quotaBytes, verbose: verbose}
}

func (f *FlatStore) log(msg string) {
	core.Eprint(fmt.Sprintf("[Flat] %s", msg), f.verbose)
}

// Path returns the file path for the given cache key (for debugging).
func (f *FlatStore) Path(key string) string {
	return filepath.Join(f.dir, flatPrefix+url.PathEscape(key)+flatExt)
}

// Get returns the record for the key. Absence and deserialization failure
// are both a miss; a corrupt blob is removed best-effort.
func (f *FlatStore) Get(key string) (*CacheRecord, ReadStatus) {
	path := f.Path(key)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ReadMiss
	}
	if err != nil {
		f.log(fmt.Sprintf("Read failed for %s: %v", key, err))
		return nil, ReadDegraded
	}

	var rec CacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		f.log(fmt.Sprintf("Corrupt entry for %s, removing: %v", key, err))
		_ = os.Remove(path)
		return nil, ReadMiss
	}
	return &rec, ReadHit
}

// Put serializes and stores the record under the key. Oversized entries are
// rejected with ErrTooLarge before any write is attempted, since eviction
// cannot make a single entry smaller. Writes that would push the store past
// its quota are rejected with ErrQuotaExceeded, also before writing, so the
// manager can sweep and retry exactly once.
func (f *FlatStore) Put(key string, rec *CacheRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	if int64(len(data)) > FlatEntryLimit {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	used, err := f.usedBytes(key)
	if err != nil {
		return fmt.Errorf("size flat store: %w", err)
	}
	if used+int64(len(data)) > f.quotaBytes {
		return fmt.Errorf("%w: %d+%d bytes over %d",
			ErrQuotaExceeded, used, len(data), f.quotaBytes)
	}

	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return fmt.Errorf("create flat store dir: %w", err)
	}

	// Write to temp file first, then rename (atomic)
	path := f.Path(key)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// usedBytes totals the store's current size, excluding the file that a
// write for key would overwrite. Only the current-prefix file is excluded:
// a legacy-prefix entry under the same key is not replaced by a write, so
// it stays in the count.
func (f *FlatStore) usedBytes(key string) (int64, error) {
	entries, err := f.ListEntries()
	if err != nil {
		return 0, err
	}
	var used int64
	for _, e := range entries {
		used += e.SizeBytes
	}
	if info, err := os.Stat(f.Path(key)); err == nil {
		used -= info.Size()
	}
	return used, nil
}

// Delete removes the entry for the key, best-effort.
func (f *FlatStore) Delete(key string) {
	if err := os.Remove(f.Path(key)); err != nil && !os.IsNotExist(err) {
		f.log(fmt.Sprintf("Delete failed for %s: %v", key, err))
	}
}

// ListEntries enumerates every entry under the current and legacy prefixes,
// with write time and serialized size for eviction accounting.
func (f *FlatStore) ListEntries() ([]ListEntry, error) {
	files, err := os.ReadDir(f.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list flat store: %w", err)
	}

	var entries []ListEntry
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		key, ok := flatEntryKey(file.Name())
		if !ok {
			continue
		}

		info, err := file.Info()
		if err != nil {
			continue
		}

		entry := ListEntry{
			Key:       key,
			SizeBytes: info.Size(),
			WrittenAt: info.ModTime().UnixMilli(),
		}
		// Prefer the record's own write stamp over file mtime.
		if data, err := os.ReadFile(filepath.Join(f.dir, file.Name())); err == nil {
			var stamp struct {
				WrittenAt int64 `json:"written_at"`
			}
			if json.Unmarshal(data, &stamp) == nil && stamp.WrittenAt > 0 {
				entry.WrittenAt = stamp.WrittenAt
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// flatEntryKey recovers the cache key from a blob filename, accepting both
// the current and the legacy prefix.
func flatEntryKey(name string) (string, bool) {
	if !strings.HasSuffix(name, flatExt) {
		return "", false
	}
	base := strings.TrimSuffix(name, flatExt)
	var escaped string
	switch {
	case strings.HasPrefix(base, flatPrefix):
		escaped = strings.TrimPrefix(base, flatPrefix)
	case strings.HasPrefix(base, flatLegacyPrefix):
		escaped = strings.TrimPrefix(base, flatLegacyPrefix)
	default:
		return "", false
	}
	key, err := url.PathUnescape(escaped)
	if err != nil {
		return "", false
	}
	return key, true
}

// pathsForKey returns every file that may hold the key, current prefix
// first. Sweeps delete both so a legacy entry cannot shadow a purge.
func (f *FlatStore) pathsForKey(key string) []string {
	escaped := url.PathEscape(key)
	return []string{
		filepath.Join(f.dir, flatPrefix+escaped+flatExt),
		filepath.Join(f.dir, flatLegacyPrefix+escaped+flatExt),
	}
}

// removeAll deletes every file for the key under either prefix.
func (f *FlatStore) removeAll(key string) {
	for _, path := range f.pathsForKey(key) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			f.log(fmt.Sprintf("Sweep delete failed for %s: %v", key, err))
		}
	}
}
