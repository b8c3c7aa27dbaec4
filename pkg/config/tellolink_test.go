package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tellolink/pkg/config"
	"tellolink/pkg/link"
)

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "tellolink.toml")

	cfg, exists, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if exists {
		t.Fatalf("missing file reported as existing")
	}
	if cfg.ConfigPath() != cfgPath {
		t.Fatalf("config path %q", cfg.ConfigPath())
	}

	lc, err := cfg.LinkConfig()
	if err != nil {
		t.Fatalf("link config: %v", err)
	}
	if lc != link.DefaultConfig() {
		t.Fatalf("defaults diverge from link.DefaultConfig: %+v", lc)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestLoadOrDefaultFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tellolink.toml")
	mustWriteFile(t, cfgPath, `
[link]
vehicle_addr = "127.0.0.1:18889"
command_timeout = "2s"
max_command_attempts = 3

[bridge]
enabled = false
`)

	cfg, exists, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !exists {
		t.Fatalf("expected file to exist")
	}
	if cfg.Bridge.Enabled {
		t.Fatalf("bridge should be disabled")
	}
	if cfg.Bridge.TelemetryTopic == "" || cfg.Log.Level == "" || cfg.Sim.Addr == "" {
		t.Fatalf("expected defaults to be filled: %+v", cfg)
	}

	lc, err := cfg.LinkConfig()
	if err != nil {
		t.Fatalf("link config: %v", err)
	}
	if lc.VehicleAddr != "127.0.0.1:18889" || lc.CommandTimeout != 2*time.Second || lc.MaxCommandAttempts != 3 {
		t.Fatalf("unexpected link config %+v", lc)
	}
	if lc.CycleInterval != 100*time.Millisecond || lc.InitAttempts != 5 {
		t.Fatalf("defaults not applied: %+v", lc)
	}
}

func TestLoadOrDefaultRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad duration":   "[link]\ncycle_interval = \"fast\"\n",
		"zero timeout":   "[link]\ncommand_timeout = \"0s\"\n",
		"negative cap":   "[link]\nmax_command_attempts = -1\n",
		"bad level":      "[log]\nlevel = \"chatty\"\n",
		"bridge no addr": "[bridge]\nenabled = true\nws_addr = \"\"\n",
		"bad grace":      "[link]\nhalt_grace = \"-1s\"\n",
		"not toml":       "[link\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			cfgPath := filepath.Join(t.TempDir(), "tellolink.toml")
			mustWriteFile(t, cfgPath, content)
			if _, _, err := config.LoadOrDefault(cfgPath); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "nested", "tellolink.toml")

	cfg := config.Default()
	cfg.Link.VehicleAddr = "10.0.0.7:8889"
	cfg.Log.Traffic = true
	if err := cfg.Save(cfgPath); err != nil {
		t.Fatalf("save: %v", err)
	}

	raw, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, section := range []string{"[link]", "[log]", "[bridge]", "[sim]"} {
		if !strings.Contains(string(raw), section) {
			t.Fatalf("saved file lacks %s:\n%s", section, raw)
		}
	}

	loaded, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Link.VehicleAddr != "10.0.0.7:8889" || !loaded.Log.Traffic {
		t.Fatalf("round trip lost values: %+v", loaded)
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	cfg := config.Default()
	cfg.Link.HandshakeTimeout = "soon"
	if err := cfg.Save(filepath.Join(t.TempDir(), "tellolink.toml")); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestHaltGrace(t *testing.T) {
	cfg := config.Default()
	d, err := cfg.HaltGrace()
	if err != nil || d != 10*time.Second {
		t.Fatalf("halt grace %s, %v", d, err)
	}
}

func mustWriteFile(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
