package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) *Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "w3gshost.conf")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestLoadParsesKeyValueWithCommentsAndBlanks(t *testing.T) {
	cfg := writeTempConfig(t, "game_name = Test \n# comment\nlatency=80\n")

	hc := cfg.LoadHostConfig()
	if hc.GameName != "Test" {
		t.Fatalf("game_name = %q, want %q", hc.GameName, "Test")
	}
	if hc.LatencyMS != 80 {
		t.Fatalf("latency = %d, want 80", hc.LatencyMS)
	}
}

func TestGetDecimalBytesParsesTwentyByteSHA1(t *testing.T) {
	cfg := writeTempConfig(t, "map_sha1 = 1 2 3 4 5 6 7 8 9 10 11 12 13 14 15 16 17 18 19 20\n")

	got, ok := cfg.GetDecimalBytes("map_sha1", 20)
	if !ok {
		t.Fatalf("expected ok=true")
	}
	for i := 0; i < 20; i++ {
		if got[i] != byte(i+1) {
			t.Fatalf("byte %d = %d, want %d", i, got[i], i+1)
		}
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	hc := cfg.LoadHostConfig()
	if hc.HostPort != DefaultHostPort {
		t.Fatalf("host_port = %d, want default %d", hc.HostPort, DefaultHostPort)
	}
}

func TestGetIntDefaultOnMissingOrBadValue(t *testing.T) {
	cfg := writeTempConfig(t, "war3_version = notanumber\n")
	if got := cfg.GetInt("war3_version", 29); got != 29 {
		t.Fatalf("got %d, want default 29", got)
	}
	if got := cfg.GetInt("missing_key", 7); got != 7 {
		t.Fatalf("got %d, want default 7", got)
	}
}

func TestLoadHostConfigParsesSyncLimitAndLagKickTimeout(t *testing.T) {
	cfg := writeTempConfig(t, "sync_limit = 16\nlag_kick_timeout_ms = 30000\n")

	hc := cfg.LoadHostConfig()
	if hc.SyncLimit != 16 {
		t.Fatalf("sync_limit = %d, want 16", hc.SyncLimit)
	}
	if hc.LagKickTimeoutMS != 30000 {
		t.Fatalf("lag_kick_timeout_ms = %d, want 30000", hc.LagKickTimeoutMS)
	}
}

func TestLoadHostConfigDefaultsSyncLimitAndLagKickTimeout(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	hc := cfg.LoadHostConfig()
	if hc.SyncLimit != DefaultSyncLimit {
		t.Fatalf("sync_limit = %d, want default %d", hc.SyncLimit, DefaultSyncLimit)
	}
	if hc.LagKickTimeoutMS != 60000 {
		t.Fatalf("lag_kick_timeout_ms = %d, want default 60000", hc.LagKickTimeoutMS)
	}
}

func TestLoadAPIConfigParsesAllowedOriginsAndDefaults(t *testing.T) {
	cfg := writeTempConfig(t, "api_enabled = 0\napi_addr = :9000\napi_allowed_origins = http://a.test, http://b.test\n")

	api := cfg.LoadAPIConfig()
	if api.Enabled {
		t.Fatalf("api_enabled = true, want false")
	}
	if api.Addr != ":9000" {
		t.Fatalf("api_addr = %q, want :9000", api.Addr)
	}
	want := []string{"http://a.test", "http://b.test"}
	if len(api.AllowedOrigins) != len(want) {
		t.Fatalf("allowed origins = %v, want %v", api.AllowedOrigins, want)
	}
	for i, o := range want {
		if api.AllowedOrigins[i] != o {
			t.Fatalf("allowed origin %d = %q, want %q", i, api.AllowedOrigins[i], o)
		}
	}
}

func TestLoadAPIConfigDefaultsWhenAbsent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	api := cfg.LoadAPIConfig()
	if !api.Enabled {
		t.Fatalf("api_enabled default = false, want true")
	}
	if api.Addr != ":8180" {
		t.Fatalf("api_addr default = %q, want :8180", api.Addr)
	}
	if len(api.AllowedOrigins) != 1 || api.AllowedOrigins[0] != "*" {
		t.Fatalf("allowed origins default = %v, want [*]", api.AllowedOrigins)
	}
}

func TestLoadMQTTConfigDisabledWithoutBrokerURL(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	mc := cfg.LoadMQTTConfig()
	if mc.Enabled {
		t.Fatalf("mqtt enabled with no broker_url configured")
	}
}

func TestLoadMQTTConfigEnabledWithBrokerURL(t *testing.T) {
	cfg := writeTempConfig(t, "mqtt_broker_url = broker.example.test\nmqtt_port = 1883\nmqtt_tls = 0\n")

	mc := cfg.LoadMQTTConfig()
	if !mc.Enabled {
		t.Fatalf("mqtt disabled despite broker_url set")
	}
	if mc.BrokerURL != "broker.example.test" {
		t.Fatalf("broker_url = %q", mc.BrokerURL)
	}
	if mc.Port != 1883 {
		t.Fatalf("port = %d, want 1883", mc.Port)
	}
	if mc.UseTLS {
		t.Fatalf("use_tls = true, want false")
	}
}
