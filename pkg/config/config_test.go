package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("symbols: [BTCUSDT]\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Environment != "development" || c.Server.Port != 8080 {
		t.Fatalf("unexpected defaults %+v", c)
	}
	if c.Cache.MaxCacheSize != 50 || c.Cache.MaxSymbols != 10 {
		t.Fatalf("unexpected cache defaults %+v", c.Cache)
	}
	if c.Cache.WarmupInterval != time.Minute || c.Cache.MinWarmupInterval != 10*time.Second {
		t.Fatalf("unexpected warmup defaults %+v", c.Cache)
	}
	if !c.Cache.AutoCleanup || c.Cache.CleanupInterval != 5*time.Minute {
		t.Fatalf("unexpected cleanup defaults %+v", c.Cache)
	}
	if c.Log.Level != "info" || c.Log.Format != "json" {
		t.Fatalf("unexpected log defaults %+v", c.Log)
	}
	if !reflect.DeepEqual(c.Kafka.Brokers, []string{"localhost:9092"}) {
		t.Fatalf("unexpected brokers %v", c.Kafka.Brokers)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	in := `
environment: production
cache:
  max_cache_size: 20
  auto_cleanup: false
  warmup: [5m, 1h]
kafka:
  enabled: true
  brokers: [k1:9092, k2:9092]
`
	c, err := Parse([]byte(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Cache.MaxCacheSize != 20 || c.Cache.AutoCleanup {
		t.Fatalf("yaml did not override defaults: %+v", c.Cache)
	}
	if !reflect.DeepEqual(c.Cache.Warmup, []string{"5m", "1h"}) {
		t.Fatalf("unexpected warmup %v", c.Cache.Warmup)
	}
	if len(c.Kafka.Brokers) != 2 {
		t.Fatalf("unexpected brokers %v", c.Kafka.Brokers)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad port":        "server:\n  port: 70000\n",
		"bad level":       "log:\n  level: loud\n",
		"stream no url":   "stream:\n  enabled: true\n",
		"warmup floor":    "cache:\n  warmup_interval: 5s\n  min_warmup_interval: 10s\n",
		"zero cache size": "cache:\n  max_cache_size: 0\n",
		"http no url":     "source:\n  type: http\n",
	}
	for name, in := range cases {
		if _, err := Parse([]byte(in)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadWithEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("symbols: [AAPL]\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("SYMBOLS", "BTCUSDT, ETHUSDT,")
	t.Setenv("HTTP_PORT", "9090")

	c, err := LoadWithEnv(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(c.Symbols, []string{"BTCUSDT", "ETHUSDT"}) {
		t.Fatalf("unexpected symbols %v", c.Symbols)
	}
	if c.Server.Port != 9090 {
		t.Fatalf("unexpected port %d", c.Server.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read error, got %v", err)
	}
}
