// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package gpu defines a set of interfaces encompassing the
// device layer, resource model and execution substrate that
// sit between raw Vulkan and higher-level rendering code.
// It is designed to allow platform-specific APIs to be
// implemented in a mostly straightforward manner; at present
// the only implementation is gpu/vk, built on
// github.com/goki/vulkan.
package gpu

import (
	"errors"
	"log"
	"sync"
)

// Driver is the interface that provides methods for
// enumerating adapters and for loading and unloading an
// underlying implementation.
type Driver interface {
	// Adapters enumerates every adapter known to the driver.
	// It must not cause the driver to be opened.
	Adapters() ([]AdapterInfo, error)

	// Open initializes the gpu, binding it to the named
	// adapter. An empty adapterName selects the driver's
	// default choice.
	// If it succeeds, further calls with the same receiver
	// have no effect (adapterName is ignored) and must
	// return the same GPU instance.
	// If adapterName is non-empty and does not match any
	// AdapterInfo returned by Adapters, Open fails with
	// ErrUnknownAdapter.
	// Callers should assume that Open is not safe for
	// parallel execution.
	Open(adapterName string) (GPU, error)

	// Name returns the name of the gpu.
	// It must not cause the driver to be opened.
	Name() string

	// Close deinitializes the gpu.
	// Closing a driver that is not open has no effect.
	// Callers should assume that Close is not safe for
	// parallel execution.
	Close()
}

// AdapterKind classifies the hardware behind an AdapterInfo.
type AdapterKind int

// Adapter kinds.
const (
	KindOther AdapterKind = iota
	KindIntegrated
	KindDiscrete
	KindVirtual
	KindCPU
)

// String implements fmt.Stringer.
func (k AdapterKind) String() string {
	switch k {
	case KindIntegrated:
		return "Integrated"
	case KindDiscrete:
		return "Discrete"
	case KindVirtual:
		return "Virtual"
	case KindCPU:
		return "CPU"
	default:
		return "Other"
	}
}

// AdapterInfo describes a single GPU adapter as reported by
// Driver.Adapters.
type AdapterInfo struct {
	Kind AdapterKind
	Name string
}

// DebugCapable is implemented by Driver implementations that
// can enable a validation/debug-report layer before Open is
// called. It is checked with a type assertion rather than
// folded into Driver itself, since not every backend has a
// debug runtime to toggle.
type DebugCapable interface {
	// SetDebugRuntime enables or disables the backend's
	// validation/debug-report layer. It has effect only if
	// called before Open.
	SetDebugRuntime(enable bool)
}

// ApplicationNamer is implemented by Driver implementations
// that can record the host application's name for diagnostics
// (e.g. Vulkan's VkApplicationInfo.pApplicationName). It has
// effect only if called before Open.
type ApplicationNamer interface {
	SetApplicationName(name string)
}

// ErrNotInstalled means that a platform-specific library
// required for the driver to work is not present in the
// system.
var ErrNotInstalled = errors.New("driver: missing required library")

// ErrNoDevice means that no suitable device could be
// found.
var ErrNoDevice = errors.New("driver: no suitable device found")

// ErrUnknownAdapter means that Driver.Open was called with
// an adapterName that does not match any adapter reported
// by Driver.Adapters.
var ErrUnknownAdapter = errors.New("driver: unknown adapter name")

// ErrNoHostMemory means that host memory could not be
// allocated.
var ErrNoHostMemory = errors.New("driver: out of host memory")

// ErrNoDeviceMemory means that device memory could not
// be allocated.
var ErrNoDeviceMemory = errors.New("driver: out of device memory")

// ErrFatal means that the driver is in an unrecoverable
// state. Upon encountering such an error, the application
// must destroy everything that it created using the
// driver's GPU and then call the Close method. It may call
// Open again to reinitialize the driver for further use.
var ErrFatal = errors.New("driver: fatal error")

// Drivers returns the registered Drivers.
// Client code imports specific driver packages, and then
// call this function from init. As such, drivers that do
// not register themselves on init will not be considered
// for selection.
func Drivers() []Driver {
	mu.Lock()
	defer mu.Unlock()
	drv := make([]Driver, len(drivers))
	copy(drv, drivers)
	return drv
}

// Register registers a Driver.
// Driver implementations are expected to call Register
// exactly once, from an init function.
// If a driver with the same name has already been
// registered, it will be replaced by drv.
func Register(drv Driver) {
	mu.Lock()
	defer mu.Unlock()
	for i := range drivers {
		if drivers[i].Name() == drv.Name() {
			drivers[i] = drv
			log.Printf("[!] driver '%s' replaced", drv.Name())
			return
		}
	}
	drivers = append(drivers, drv)
	log.Printf("driver '%s' registered", drv.Name())
}

// Variables used for driver registration.
var (
	// NOTE: Currently, this mutex is unnecessary.
	mu      sync.Mutex
	drivers []Driver = make([]Driver, 0, 1)
)
