package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg != Default() {
		t.Errorf("got %+v, want defaults", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	conf := `
[valueset]
max_iterations = 500
quick_freeze = true
`
	if err := os.WriteFile(filepath.Join(dir, configName), []byte(conf), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Valueset.MaxIterations != 500 {
		t.Errorf("MaxIterations = %d, want 500", cfg.Valueset.MaxIterations)
	}
	if !cfg.Valueset.QuickFreeze {
		t.Error("QuickFreeze not applied")
	}
	// unset keys keep their defaults
	if cfg.Valueset.WidenAt != Default().Valueset.WidenAt {
		t.Errorf("WidenAt = %d, want default %d", cfg.Valueset.WidenAt, Default().Valueset.WidenAt)
	}
	if cfg.Valueset.FreezeAt != Default().Valueset.FreezeAt {
		t.Errorf("FreezeAt = %d, want default %d", cfg.Valueset.FreezeAt, Default().Valueset.FreezeAt)
	}
}

func TestLoadNearestWins(t *testing.T) {
	parent := t.TempDir()
	child := filepath.Join(parent, "sub")
	if err := os.Mkdir(child, 0700); err != nil {
		t.Fatal(err)
	}
	pconf := `
[valueset]
max_iterations = 100
widen_at = 3
`
	cconf := `
[valueset]
max_iterations = 200
`
	if err := os.WriteFile(filepath.Join(parent, configName), []byte(pconf), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(child, configName), []byte(cconf), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(child)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Valueset.MaxIterations != 200 {
		t.Errorf("MaxIterations = %d, nearest file should win", cfg.Valueset.MaxIterations)
	}
	if cfg.Valueset.WidenAt != 3 {
		t.Errorf("WidenAt = %d, want 3 from the outer file", cfg.Valueset.WidenAt)
	}
}

func TestLoadBadFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, configName), []byte("[valueset\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("malformed file should fail to load")
	}
}
