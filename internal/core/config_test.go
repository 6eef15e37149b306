package core

import (
	"os"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	keys := []string{
		"CONVCACHE_API_KEY", "CONVCACHE_API_URL", "CONVCACHE_OWNER",
		"CONVCACHE_DIR", "CONVCACHE_FLAT_QUOTA", "CONVCACHE_TZ",
	}
	for _, key := range keys {
		// t.Setenv registers the restore; Unsetenv makes the var truly absent.
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.BaseURL != APIBaseURL+"/"+APIVersion {
		t.Errorf("Expected default base URL, got %s", cfg.BaseURL)
	}
	if cfg.Dir == "" {
		t.Error("Expected a default cache dir")
	}
	if cfg.FlatQuotaBytes != 10485760 {
		t.Errorf("Expected 10 MiB default flat quota, got %d", cfg.FlatQuotaBytes)
	}
	if cfg.Timezone != DefaultTZ {
		t.Errorf("Expected default timezone %s, got %s", DefaultTZ, cfg.Timezone)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("CONVCACHE_API_KEY", "secret")
	t.Setenv("CONVCACHE_API_URL", "http://localhost:9999/v1")
	t.Setenv("CONVCACHE_OWNER", "user-1")
	t.Setenv("CONVCACHE_DIR", "/tmp/convcache-test")
	t.Setenv("CONVCACHE_FLAT_QUOTA", "4096")
	t.Setenv("CONVCACHE_TZ", "America/Detroit")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.APIKey != "secret" || cfg.Owner != "user-1" {
		t.Errorf("Unexpected config: %+v", cfg)
	}
	if cfg.BaseURL != "http://localhost:9999/v1" {
		t.Errorf("Expected overridden base URL, got %s", cfg.BaseURL)
	}
	if cfg.FlatQuotaBytes != 4096 {
		t.Errorf("Expected 4096 quota, got %d", cfg.FlatQuotaBytes)
	}
}
