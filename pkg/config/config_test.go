package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
server:
  address: "0.0.0.0"
  port: 9090
  db_path: "/var/lib/campuschat"
security:
  api_keys:
    backend: ["bk1"]
    frontend: ["fk1"]
  signing_keys: ["sk1"]
chat:
  typing_window: "2s"
  history_page_size: 25
  max_content_len: 1000
relay:
  nats_url: "nats://127.0.0.1:4222"
retention:
  enabled: true
  cron: "0 3 * * *"
  max_age: "720h"
logging:
  level: "debug"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadParsesAllSections(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:9090" {
		t.Fatalf("Addr: %q", cfg.Addr())
	}
	if cfg.Chat.TypingWindow.Std() != 2*time.Second {
		t.Fatalf("typing window: %v", cfg.Chat.TypingWindow.Std())
	}
	if cfg.Chat.HistoryPageSize != 25 || cfg.Chat.MaxContentLen != 1000 {
		t.Fatalf("chat section: %+v", cfg.Chat)
	}
	if cfg.Relay.NATSURL != "nats://127.0.0.1:4222" {
		t.Fatalf("relay: %+v", cfg.Relay)
	}
	if !cfg.Retention.Enabled || cfg.Retention.MaxAge.Std() != 720*time.Hour {
		t.Fatalf("retention: %+v", cfg.Retention)
	}
	if len(cfg.Security.APIKeys.Backend) != 1 || len(cfg.Security.SigningKeys) != 1 {
		t.Fatalf("security: %+v", cfg.Security)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	if _, err := Load(writeConfig(t, "chat:\n  typing_window: \"soon\"\n")); err == nil {
		t.Fatal("expected parse error for invalid duration")
	}
}

func TestEffectiveConfigExplicitFileWins(t *testing.T) {
	p := writeConfig(t, sampleYAML)
	flags := Flags{Config: p, Set: map[string]bool{"config": true}}
	fileCfg, exists, err := ParseConfigFile(flags)
	if err != nil || !exists {
		t.Fatalf("ParseConfigFile: %v exists=%v", err, exists)
	}
	eff, err := LoadEffectiveConfig(flags, fileCfg, exists, &Config{}, EnvResult{})
	if err != nil {
		t.Fatalf("LoadEffectiveConfig: %v", err)
	}
	if eff.Source != "config" || eff.Addr != "0.0.0.0:9090" || eff.DBPath != "/var/lib/campuschat" {
		t.Fatalf("effective: %+v", eff)
	}
}

func TestEffectiveConfigMissingExplicitFileFails(t *testing.T) {
	flags := Flags{Config: "/nonexistent/config.yaml", Set: map[string]bool{"config": true}}
	if _, err := LoadEffectiveConfig(flags, &Config{}, false, &Config{}, EnvResult{}); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestEffectiveConfigFlagsOverrideFileKeepAux(t *testing.T) {
	p := writeConfig(t, sampleYAML)
	flags := Flags{Addr: ":7000", DB: "/tmp/db", Config: p, Set: map[string]bool{"addr": true, "db": true}}
	fileCfg, exists, err := ParseConfigFile(flags)
	if err != nil {
		t.Fatalf("ParseConfigFile: %v", err)
	}
	eff, err := LoadEffectiveConfig(flags, fileCfg, exists, &Config{}, EnvResult{})
	if err != nil {
		t.Fatalf("LoadEffectiveConfig: %v", err)
	}
	if eff.Source != "flags" || eff.Addr != ":7000" || eff.DBPath != "/tmp/db" {
		t.Fatalf("effective: %+v", eff)
	}
	// auxiliary sections survive the flag override
	if len(eff.Config.Security.APIKeys.Backend) != 1 {
		t.Fatalf("security lost under flags: %+v", eff.Config.Security)
	}
	if eff.Config.Chat.TypingWindow.Std() != 2*time.Second {
		t.Fatalf("chat tuning lost under flags: %+v", eff.Config.Chat)
	}
	if !eff.Config.Retention.Enabled {
		t.Fatalf("retention lost under flags: %+v", eff.Config.Retention)
	}
}

func TestParseConfigEnvs(t *testing.T) {
	t.Setenv("CAMPUSCHAT_ADDR", "127.0.0.1:8088")
	t.Setenv("CAMPUSCHAT_DB_PATH", "/data/chat")
	t.Setenv("CAMPUSCHAT_API_BACKEND_KEYS", "bk1, bk2")
	t.Setenv("CAMPUSCHAT_SIGNING_KEYS", "sg1")
	t.Setenv("CAMPUSCHAT_NATS_URL", "nats://broker:4222")
	t.Setenv("CAMPUSCHAT_RETENTION_MAX_AGE", "168h")

	cfg, res := ParseConfigEnvs()
	if !res.EnvUsed {
		t.Fatal("EnvUsed should be true")
	}
	if cfg.Addr() != "127.0.0.1:8088" || cfg.Server.DBPath != "/data/chat" {
		t.Fatalf("server env: %+v", cfg.Server)
	}
	if len(cfg.Security.APIKeys.Backend) != 2 {
		t.Fatalf("backend keys: %v", cfg.Security.APIKeys.Backend)
	}
	// backend keys double as signing keys
	if _, ok := res.SigningKeys["bk1"]; !ok {
		t.Fatal("backend key missing from signing set")
	}
	if _, ok := res.SigningKeys["sg1"]; !ok {
		t.Fatal("explicit signing key missing")
	}
	if cfg.Relay.NATSURL != "nats://broker:4222" {
		t.Fatalf("relay env: %+v", cfg.Relay)
	}
	if !cfg.Retention.Enabled || cfg.Retention.MaxAge.Std() != 168*time.Hour {
		t.Fatalf("retention env: %+v", cfg.Retention)
	}
}

func TestRuntimeKeyAccessorsCopy(t *testing.T) {
	SetRuntime(&RuntimeConfig{
		BackendKeys: map[string]struct{}{"b": {}},
		SigningKeys: map[string]struct{}{"s": {}},
	})
	keys := GetSigningKeys()
	delete(keys, "s")
	if _, ok := GetSigningKeys()["s"]; !ok {
		t.Fatal("accessor returned a live reference, not a copy")
	}
	if _, ok := GetBackendKeys()["b"]; !ok {
		t.Fatal("backend key lost")
	}
}
