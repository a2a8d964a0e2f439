package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ListenAddress != ":4318" {
		t.Errorf("listen = %q", cfg.Server.ListenAddress)
	}
	if cfg.SpanStore.Index != "spans" {
		t.Errorf("index = %q", cfg.SpanStore.Index)
	}
	if cfg.Limits.DefaultPerHour != 1000 {
		t.Errorf("default limit = %d", cfg.Limits.DefaultPerHour)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("read timeout = %v", cfg.Server.ReadTimeout)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  listen_address: ":9999"
span_store:
  url: "http://es.internal:9200"
  index: "spans-prod"
limits:
  default_per_hour: 50
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ListenAddress != ":9999" {
		t.Errorf("listen = %q", cfg.Server.ListenAddress)
	}
	if cfg.SpanStore.URL != "http://es.internal:9200" || cfg.SpanStore.Index != "spans-prod" {
		t.Errorf("span store = %+v", cfg.SpanStore)
	}
	if cfg.Limits.DefaultPerHour != 50 {
		t.Errorf("limit = %d", cfg.Limits.DefaultPerHour)
	}
	// untouched sections still get defaults
	if cfg.Metadata.DBPath == "" {
		t.Error("metadata default missing")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ELASTICSEARCH_URL", "http://es-override:9200")
	t.Setenv("REDIS_URL", "redis://redis-override:6379")
	t.Setenv("AIQA_METADATA_DB", "/tmp/meta-override.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SpanStore.URL != "http://es-override:9200" {
		t.Errorf("es url = %q", cfg.SpanStore.URL)
	}
	if cfg.Counter.RedisURL != "redis://redis-override:6379" {
		t.Errorf("redis url = %q", cfg.Counter.RedisURL)
	}
	if cfg.Metadata.DBPath != "/tmp/meta-override.db" {
		t.Errorf("metadata path = %q", cfg.Metadata.DBPath)
	}
}

func TestValidate_Problems(t *testing.T) {
	cfg := Default()
	cfg.SpanStore.URL = "not-a-url"
	if err := Validate(cfg); err == nil {
		t.Error("bad span store URL should fail validation")
	}

	cfg = Default()
	cfg.Counter.RedisURL = "http://wrong-scheme"
	if err := Validate(cfg); err == nil {
		t.Error("bad redis URL should fail validation")
	}

	cfg = Default()
	cfg.Limits.DefaultPerHour = -1
	if err := Validate(cfg); err == nil {
		t.Error("negative limit should fail validation")
	}
}
