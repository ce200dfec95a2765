// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package ctxt provides the GPU driver used in the engine.
package ctxt

import (
	"errors"
	"strings"
	"sync"

	"github.com/ferrum3d/core/gpu"
)

var (
	drv    gpu.Driver
	gpud   gpu.GPU
	limits gpu.Limits
)

var (
	shutdownMu    sync.Mutex
	shutdownHooks []func()
)

// RegisterShutdownHook adds fn to the set of callbacks WaitIdle runs
// once the driver has drained its queues. Packages built on top of
// ctxt that track state the driver doesn't know about (engine/asset's
// outstanding load requests) register here instead of ctxt importing
// them, which would invert the dependency.
func RegisterShutdownHook(fn func()) {
	shutdownMu.Lock()
	shutdownHooks = append(shutdownHooks, fn)
	shutdownMu.Unlock()
}

var errNoDriver = errors.New("ctxt: driver not found")

// loadDriver attempts to load any driver whose name contains
// the provided name string. It is case-sensitive.
// If name is the empty string, all drivers are considered.
// It assumes that the drv and gpud vars hold invalid values
// and replaces both on success. It also updates limits with
// a call to gpud.Limits().
func loadDriver(name string) error {
	drivers := gpu.Drivers()
	err := errNoDriver
	for i := range drivers {
		if !strings.Contains(drivers[i].Name(), name) {
			continue
		}
		var u gpu.GPU
		if u, err = drivers[i].Open(""); err != nil {
			continue
		}
		drv = drivers[i]
		gpud = u
		limits = gpud.Limits()
		return nil
	}
	return err
}

// Configure re-selects the driver using appName, adapterName
// and debugRuntime, replacing whatever driver init loaded by
// default. It has no effect on a driver that has already been
// opened against a physical device by an earlier call (Open's
// contract: adapterName is ignored once a driver is bound), so
// it must run before ctxt.GPU() is used for anything real —
// engine.Configure calls it first thing, ahead of any resource
// creation.
func Configure(appName, adapterName string, debugRuntime bool) error {
	drivers := gpu.Drivers()
	err := errNoDriver
	for i := range drivers {
		if n, ok := drivers[i].(gpu.ApplicationNamer); ok {
			n.SetApplicationName(appName)
		}
		if dc, ok := drivers[i].(gpu.DebugCapable); ok {
			dc.SetDebugRuntime(debugRuntime)
		}
		var u gpu.GPU
		if u, err = drivers[i].Open(adapterName); err != nil {
			continue
		}
		if drv != nil && drv != drivers[i] {
			drv.Close()
		}
		drv = drivers[i]
		gpud = u
		limits = gpud.Limits()
		return nil
	}
	return err
}

// Driver returns the gpu.Driver.
func Driver() gpu.Driver { return drv }

// GPU returns the gpu.GPU.
func GPU() gpu.GPU { return gpud }

// Limits returns gpu.Limits of the context's GPU.
// This value is retrieved only once. It must not be
// changed by the caller.
func Limits() *gpu.Limits { return &limits }

// WaitIdle drains the GPU and then runs every registered shutdown
// hook, so that higher layers can reconcile state the driver alone
// doesn't track — e.g. failing engine/asset requests that were
// mid-load when the wait was forced (spec.md §9).
func WaitIdle() {
	if gpud != nil {
		gpud.WaitIdle()
	}
	shutdownMu.Lock()
	hooks := append([]func(){}, shutdownHooks...)
	shutdownMu.Unlock()
	for _, h := range hooks {
		h()
	}
}
