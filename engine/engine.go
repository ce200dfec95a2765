// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package engine implements real-time rendering.
package engine

import (
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/ferrum3d/core/engine/internal/ctxt"
)

const (
	// The maximum number of frames in flight.
	MaxFrame = 3

	// The minimum size of the mesh buffer.
	MinMeshBuffer = 16384

	dflInitialMeshBuffer = MinMeshBuffer * 256

	dflApplicationName = "ferrum3d"
)

// Config is used to configure the engine. It mirrors the core's
// configuration object (spec.md §6): an application name plus a
// Graphics sub-table carrying the adapter and debug-runtime
// selection the gpu/vk backend consumes via ctxt.Configure.
type Config struct {
	// ApplicationName identifies the host application to the
	// backing graphics API (e.g. Vulkan's VkApplicationInfo).
	//
	// Default is "ferrum3d".
	ApplicationName string

	// Graphics holds the device-selection knobs read from the
	// "Graphics" TOML table.
	Graphics struct {
		// DebugRuntime enables the backend's validation/debug-
		// report layer. It is read from a TOML boolean
		// (true/false); an integer 0/1 is not accepted.
		//
		// Default is false.
		DebugRuntime bool

		// AdapterName selects a specific physical device by
		// name. An empty string lets the backend pick.
		//
		// Default is "".
		AdapterName string
	}

	// Prefer double-buffering rather than the
	// default triple-buffering.
	//
	// Default is false.
	DoubleBuffered bool

	// The initial size of the mesh buffer.
	//
	// It must be a multiple of 16384 bytes.
	//
	// Default is 4194304 bytes (4MiB).
	InitialMeshBuffer int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	c := Config{
		ApplicationName:   dflApplicationName,
		DoubleBuffered:    false,
		InitialMeshBuffer: dflInitialMeshBuffer,
	}
	c.Graphics.DebugRuntime = false
	c.Graphics.AdapterName = ""
	return c
}

// LoadConfig reads a TOML configuration file at path, starting
// from DefaultConfig and overriding only the fields the file
// sets. A missing file is not an error; the default
// configuration is returned unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var cfg Config

// Configure replaces the engine's configuration with config and
// re-selects the gpu.Driver accordingly (application name,
// debug runtime, adapter). See ctxt.Configure for the caveat
// that adapter/debug selection only takes effect before the
// driver has been opened for real work.
func Configure(config *Config) error {
	cfg = *config
	return ctxt.Configure(cfg.ApplicationName, cfg.Graphics.AdapterName, cfg.Graphics.DebugRuntime)
}

func init() {
	config := DefaultConfig()
	if err := Configure(&config); err != nil {
		// No driver available yet (e.g. running under go test
		// without a loader present); engine.Configure will be
		// retried explicitly once a real configuration is loaded.
		return
	}
}
