package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8090" {
		t.Errorf("expected default addr, got %q", cfg.Server.Addr)
	}
	if cfg.Store.Path != "swiftbase.db" {
		t.Errorf("expected default store path, got %q", cfg.Store.Path)
	}
	if cfg.Realtime.DispatchWorkers != 32 {
		t.Errorf("expected default worker count, got %d", cfg.Realtime.DispatchWorkers)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SWIFTBASE_SERVER_ADDR", ":9999")
	t.Setenv("SWIFTBASE_STORE_PATH", "/tmp/override.db")
	t.Setenv("SWIFTBASE_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("addr override ignored: %q", cfg.Server.Addr)
	}
	if cfg.Store.Path != "/tmp/override.db" {
		t.Errorf("store path override ignored: %q", cfg.Store.Path)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level override ignored: %q", cfg.Log.Level)
	}
}
