package cache

import (
	"encoding/json"
	"errors"
	"os"
	"testing"
)

func isErr(err, target error) bool {
	return errors.Is(err, target)
}

func writeRecordFile(t *testing.T, path string, rec *CacheRecord) {
	t.Helper()
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Failed to encode record: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write record file: %v", err)
	}
}
