// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInit(t *testing.T) {
	// If we didn't panic during initialization, cfg must hold
	// the default configuration (or whatever a prior test in
	// this package replaced it with).
	if cfg.ApplicationName == "" {
		t.Error("unexpected empty cfg.ApplicationName")
	}
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if c.ApplicationName != dflApplicationName {
		t.Errorf("DefaultConfig: unexpected ApplicationName: %s", c.ApplicationName)
	}
	if c.Graphics.DebugRuntime {
		t.Error("DefaultConfig: unexpected Graphics.DebugRuntime true")
	}
	if c.Graphics.AdapterName != "" {
		t.Errorf("DefaultConfig: unexpected Graphics.AdapterName: %s", c.Graphics.AdapterName)
	}
	if c.InitialMeshBuffer != dflInitialMeshBuffer {
		t.Errorf("DefaultConfig: unexpected InitialMeshBuffer: %d", c.InitialMeshBuffer)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	c, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("LoadConfig: unexpected error: %v", err)
	}
	if c != DefaultConfig() {
		t.Error("LoadConfig: missing file did not return DefaultConfig")
	}
}

func TestLoadConfigOverridesFields(t *testing.T) {
	const data = `
ApplicationName = "test-app"

[Graphics]
DebugRuntime = true
AdapterName = "Test Adapter"
`
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile: unexpected error: %v", err)
	}
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: unexpected error: %v", err)
	}
	if c.ApplicationName != "test-app" {
		t.Errorf("LoadConfig: unexpected ApplicationName: %s", c.ApplicationName)
	}
	if !c.Graphics.DebugRuntime {
		t.Error("LoadConfig: Graphics.DebugRuntime not overridden")
	}
	if c.Graphics.AdapterName != "Test Adapter" {
		t.Errorf("LoadConfig: unexpected Graphics.AdapterName: %s", c.Graphics.AdapterName)
	}
	// Fields the file doesn't mention keep their defaults.
	if c.InitialMeshBuffer != dflInitialMeshBuffer {
		t.Errorf("LoadConfig: unexpected InitialMeshBuffer: %d", c.InitialMeshBuffer)
	}
}
