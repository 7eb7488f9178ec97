package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:8090" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.Scheduler.GlobalLimit != 4 {
		t.Errorf("global limit = %d", cfg.Scheduler.GlobalLimit)
	}
	if cfg.Retry.BaseDelayMS != 2000 {
		t.Errorf("base delay = %d", cfg.Retry.BaseDelayMS)
	}
	if cfg.DBPath != "" {
		t.Errorf("persistence enabled by default: %q", cfg.DBPath)
	}
}

func TestLoadMissingFilesAreSkipped(t *testing.T) {
	cfg, err := Load("/nonexistent/global.json", "/nonexistent/project.json")
	if err != nil {
		t.Fatalf("load with missing files: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:8090" {
		t.Errorf("listen addr = %q, want default", cfg.ListenAddr)
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "bad.json", `{not json`)
	if _, err := Load(path, ""); err == nil {
		t.Fatal("malformed config loaded without error")
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	global := writeConfig(t, dir, "global.json", `{
		"listen_addr": "0.0.0.0:9000",
		"db_path": "/var/lib/chainsched/tasks.db",
		"scheduler": {"global_limit": 8, "tick_interval_ms": 100},
		"retry": {"base_delay_ms": 500}
	}`)
	project := writeConfig(t, dir, "project.json", `{
		"scheduler": {"global_limit": 2, "protocol_limits": {"stargate": 1}},
		"gate": {"signal_url": "http://localhost:9200/gas", "ceiling": 40},
		"executors": {"stargate": {"endpoint": "http://localhost:9101/execute"}}
	}`)

	cfg, err := Load(global, project)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// Project overrides global, global overrides defaults, untouched
	// fields keep their lower-precedence values.
	if cfg.Scheduler.GlobalLimit != 2 {
		t.Errorf("global limit = %d, want project's 2", cfg.Scheduler.GlobalLimit)
	}
	if cfg.Scheduler.TickIntervalMS != 100 {
		t.Errorf("tick interval = %d, want global's 100", cfg.Scheduler.TickIntervalMS)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("listen addr = %q, want global's", cfg.ListenAddr)
	}
	if cfg.DBPath != "/var/lib/chainsched/tasks.db" {
		t.Errorf("db path = %q", cfg.DBPath)
	}
	if cfg.Retry.BaseDelayMS != 500 {
		t.Errorf("base delay = %d, want global's 500", cfg.Retry.BaseDelayMS)
	}
	if cfg.Retry.MaxIntervalMS != 120_000 {
		t.Errorf("max interval = %d, want default", cfg.Retry.MaxIntervalMS)
	}
	if cfg.Scheduler.ProtocolLimits["stargate"] != 1 {
		t.Errorf("protocol limits = %v", cfg.Scheduler.ProtocolLimits)
	}
	if cfg.Gate == nil || cfg.Gate.Ceiling != 40 {
		t.Errorf("gate = %+v", cfg.Gate)
	}
	if cfg.Executors["stargate"].Endpoint != "http://localhost:9101/execute" {
		t.Errorf("executors = %+v", cfg.Executors)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:7000"
	cfg.Executors["uniswap"] = ExecutorConfig{Endpoint: "http://localhost:9102/execute"}
	if err := Save(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ListenAddr != "127.0.0.1:7000" {
		t.Errorf("listen addr = %q", loaded.ListenAddr)
	}
	if loaded.Executors["uniswap"].Endpoint != "http://localhost:9102/execute" {
		t.Errorf("executors = %+v", loaded.Executors)
	}
}
