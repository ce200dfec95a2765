// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package vk implements the gpu package's interfaces on top of
// Vulkan, using github.com/goki/vulkan as the binding.
package vk

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/ferrum3d/core/gpu"
	"github.com/ferrum3d/core/internal/idpool"
)

const driverName = "vulkan"

// Driver implements gpu.Driver and gpu.GPU.
type Driver struct {
	inst vk.Instance
	pdev vk.PhysicalDevice
	dev  vk.Device

	dname string
	dvers uint32
	ivers uint32

	// One queue of every family exposed by the physical
	// device is created; graphicsFam/computeFam/transferFam
	// index into ques identifying the family selected for
	// each gpu.QueueKind, following a greedy unique-per-class
	// selection (prefer a dedicated family, fall back to a
	// shared one).
	ques         []vk.Queue
	qmus         []sync.Mutex
	graphicsFam  uint32
	computeFam   uint32
	transferFam  uint32

	mprop vk.PhysicalDeviceMemoryProperties
	mused []int64

	lim gpu.Limits

	ids *idpool.Pool

	destroy destroyQueue

	appName        string
	debugRuntime   bool
	debugMessenger vk.DebugReportCallback

	adapters []gpu.AdapterInfo

	// surfaceExt records whether the instance was created with
	// VK_KHR_surface and a platform surface extension enabled.
	// presentFam indexes ques with a queue family capable of
	// presenting to at least one surface, set lazily the first
	// time a swapchain is created.
	surfaceExt    bool
	presentFam    uint32
	presentFamSet bool

	mu sync.Mutex
}

func init() {
	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		// Loader not present on this system; the driver will
		// fail on Open instead of at init time.
		return
	}
	if err := vk.Init(); err != nil {
		return
	}
	gpu.Register(&Driver{})
}

// Name returns the driver name.
func (d *Driver) Name() string { return driverName }

// SetDebugRuntime implements gpu.DebugCapable. It must be
// called before the instance is created (i.e. before Adapters
// or Open) to take effect; engine.Configure calls it from
// ctxt.Configure ahead of driver selection.
func (d *Driver) SetDebugRuntime(enable bool) {
	d.debugRuntime = enable
}

// SetApplicationName implements gpu.ApplicationNamer. It must
// be called before the instance is created to take effect.
func (d *Driver) SetApplicationName(name string) {
	d.appName = name
}

// Adapters enumerates the physical devices visible to the
// Vulkan loader without creating a logical device.
func (d *Driver) Adapters() ([]gpu.AdapterInfo, error) {
	inst, err := d.ensureInstance()
	if err != nil {
		return nil, err
	}
	var n uint32
	if res := vk.EnumeratePhysicalDevices(inst, &n, nil); res != vk.Success {
		return nil, checkResult(res)
	}
	pdevs := make([]vk.PhysicalDevice, n)
	if res := vk.EnumeratePhysicalDevices(inst, &n, pdevs); res != vk.Success {
		return nil, checkResult(res)
	}
	infos := make([]gpu.AdapterInfo, 0, n)
	for _, pd := range pdevs {
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &props)
		props.Deref()
		infos = append(infos, gpu.AdapterInfo{
			Kind: convDeviceType(props.DeviceType),
			Name: vk.ToString(props.DeviceName[:]),
		})
	}
	d.adapters = infos
	return infos, nil
}

// ensureInstance lazily creates the Vulkan instance used for
// both adapter enumeration and device creation.
func (d *Driver) ensureInstance() (vk.Instance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inst != nil {
		return d.inst, nil
	}
	name := d.appName
	if name == "" {
		name = "ferrum3d"
	}
	appInfo := &vk.ApplicationInfo{
		SType:            vk.StructureTypeApplicationInfo,
		PApplicationName: name + "\x00",
		ApiVersion:       vk.MakeVersion(1, 3, 0),
	}
	info := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}
	// Presentation requires VK_KHR_surface plus whatever
	// platform-specific extension GLFW needs; when no window
	// system is available these are simply absent and
	// NewSwapchain fails with gpu.ErrCannotPresent later.
	exts := requiredInstanceExtensions()
	if len(exts) > 0 {
		d.surfaceExt = true
	}
	var layers []string
	if d.debugRuntime {
		exts = append(exts, "VK_EXT_debug_report\x00")
		layers = append(layers, "VK_LAYER_KHRONOS_validation\x00")
	}
	if len(exts) > 0 {
		info.EnabledExtensionCount = uint32(len(exts))
		info.PpEnabledExtensionNames = exts
	}
	if len(layers) > 0 {
		info.EnabledLayerCount = uint32(len(layers))
		info.PpEnabledLayerNames = layers
	}
	var inst vk.Instance
	if res := vk.CreateInstance(&info, nil, &inst); res != vk.Success {
		return nil, checkResult(res)
	}
	vk.InitInstance(inst)
	d.inst = inst
	if d.debugRuntime {
		// Best-effort: a loader without the validation layer
		// installed should not prevent the instance from being
		// usable, only skip the diagnostic callback.
		d.createDebugMessenger()
	}
	return inst, nil
}

// createDebugMessenger registers a VK_EXT_debug_report callback
// that forwards Vulkan validation warnings/errors to the
// standard logger, matching Graphics/DebugRuntime's contract
// (spec.md §6) of surfacing validation output rather than
// merely accepting the flag and discarding it.
func (d *Driver) createDebugMessenger() {
	info := vk.DebugReportCallbackCreateInfo{
		SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit),
		PfnCallback: debugReportCallback,
	}
	var cb vk.DebugReportCallback
	if res := vk.CreateDebugReportCallback(d.inst, &info, nil, &cb); res != vk.Success {
		log.Printf("vk: CreateDebugReportCallback failed: %s", checkResult(res))
		return
	}
	d.debugMessenger = cb
}

func debugReportCallback(flags vk.DebugReportFlags, objType vk.DebugReportObjectType, obj uint64, loc uint, code int32, prefix string, msg string, userData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		log.Printf("vk: [ERROR %d] %s: %s", code, prefix, msg)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		log.Printf("vk: [WARN %d] %s: %s", code, prefix, msg)
	default:
		log.Printf("vk: [%d] %s: %s", code, prefix, msg)
	}
	return vk.Bool32(vk.False)
}

// requiredInstanceExtensions returns the VK_KHR_surface and
// platform extensions GLFW needs for presentation, or nil if
// GLFW has not been initialized (headless use, e.g. the
// wsi package was never imported by the caller).
func requiredInstanceExtensions() (exts []string) {
	defer func() { recover() }()
	return glfw.GetRequiredInstanceExtensions()
}

// Open initializes the driver, selecting the adapter named by
// adapterName (or the highest-weighted adapter if empty).
func (d *Driver) Open(adapterName string) (gpu.GPU, error) {
	if d.dev != nil {
		return d, nil
	}
	if _, err := d.ensureInstance(); err != nil {
		return nil, err
	}
	if d.adapters == nil {
		if _, err := d.Adapters(); err != nil {
			return nil, err
		}
	}
	if err := d.initDevice(adapterName); err != nil {
		d.Close()
		return nil, err
	}
	d.ids = idpool.New()
	d.destroy = newDestroyQueue(d)
	return d, nil
}

// initDevice selects a physical device and creates the
// logical device and its queues.
func (d *Driver) initDevice(adapterName string) error {
	inst := d.inst
	var n uint32
	vk.EnumeratePhysicalDevices(inst, &n, nil)
	if n == 0 {
		return gpu.ErrNoDevice
	}
	pdevs := make([]vk.PhysicalDevice, n)
	vk.EnumeratePhysicalDevices(inst, &n, pdevs)

	type cand struct {
		pdev   vk.PhysicalDevice
		props  vk.PhysicalDeviceProperties
		qfam   []vk.QueueFamilyProperties
		weight int
	}
	cands := make([]cand, len(pdevs))
	for i, pd := range pdevs {
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &props)
		props.Deref()
		var qn uint32
		vk.GetPhysicalDeviceQueueFamilyProperties(pd, &qn, nil)
		qprops := make([]vk.QueueFamilyProperties, qn)
		vk.GetPhysicalDeviceQueueFamilyProperties(pd, &qn, qprops)
		for j := range qprops {
			qprops[j].Deref()
		}
		cands[i] = cand{pdev: pd, props: props, qfam: qprops}
	}

	best := -1
	for i := range cands {
		name := vk.ToString(cands[i].props.DeviceName[:])
		if adapterName != "" && name != adapterName {
			continue
		}
		wgt := 1
		switch cands[i].props.DeviceType {
		case vk.PhysicalDeviceTypeIntegratedGpu, vk.PhysicalDeviceTypeDiscreteGpu:
			wgt++
		}
		if cands[i].props.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
			wgt++
		}
		hasGraphics := false
		for _, qp := range cands[i].qfam {
			if qp.QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit|vk.QueueComputeBit) != 0 {
				hasGraphics = true
				break
			}
		}
		if !hasGraphics {
			continue
		}
		if wgt > best {
			best = wgt
			d.pdev = cands[i].pdev
			d.dname = name
			d.dvers = cands[i].props.ApiVersion
		}
	}
	if adapterName != "" && d.pdev == nil {
		return gpu.ErrUnknownAdapter
	}
	if d.pdev == nil {
		return gpu.ErrNoDevice
	}

	var qn uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(d.pdev, &qn, nil)
	qprops := make([]vk.QueueFamilyProperties, qn)
	vk.GetPhysicalDeviceQueueFamilyProperties(d.pdev, &qn, qprops)
	for i := range qprops {
		qprops[i].Deref()
	}

	// Greedy unique-per-class family selection: prefer a
	// family dedicated to a single kind of work before
	// falling back to a family shared with graphics.
	d.graphicsFam, d.computeFam, d.transferFam = ^uint32(0), ^uint32(0), ^uint32(0)
	for i, qp := range qprops {
		g := qp.QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0
		c := qp.QueueFlags&vk.QueueFlags(vk.QueueComputeBit) != 0
		t := qp.QueueFlags&vk.QueueFlags(vk.QueueTransferBit) != 0
		if g && d.graphicsFam == ^uint32(0) {
			d.graphicsFam = uint32(i)
		}
		if c && !g && d.computeFam == ^uint32(0) {
			d.computeFam = uint32(i)
		}
		if t && !g && !c && d.transferFam == ^uint32(0) {
			d.transferFam = uint32(i)
		}
	}
	if d.computeFam == ^uint32(0) {
		d.computeFam = d.graphicsFam
	}
	if d.transferFam == ^uint32(0) {
		d.transferFam = d.computeFam
	}

	prio := []float32{1.0}
	qinfos := make([]vk.DeviceQueueCreateInfo, qn)
	for i := range qinfos {
		qinfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: uint32(i),
			QueueCount:       1,
			PQueuePriorities: prio,
		}
	}

	exts := []string{
		"VK_KHR_swapchain\x00",
		"VK_KHR_dynamic_rendering\x00",
		"VK_KHR_synchronization2\x00",
	}

	var feats vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(d.pdev, &feats)
	feats.Deref()
	feats.SamplerAnisotropy = vk.True
	feats.ShaderSampledImageArrayDynamicIndexing = vk.True
	feats.ShaderStorageImageArrayDynamicIndexing = vk.True

	dinfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    qn,
		PQueueCreateInfos:       qinfos,
		EnabledExtensionCount:   uint32(len(exts)),
		PpEnabledExtensionNames: exts,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{feats},
	}
	var dev vk.Device
	if res := vk.CreateDevice(d.pdev, &dinfo, nil, &dev); res != vk.Success {
		return checkResult(res)
	}
	vk.InitDevice(dev)
	d.dev = dev

	d.ques = make([]vk.Queue, qn)
	d.qmus = make([]sync.Mutex, qn)
	for i := range d.ques {
		var q vk.Queue
		vk.GetDeviceQueue(dev, uint32(i), 0, &q)
		d.ques[i] = q
	}

	vk.GetPhysicalDeviceMemoryProperties(d.pdev, &d.mprop)
	d.mprop.Deref()
	d.mused = make([]int64, d.mprop.MemoryHeapCount)

	var lim vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(d.pdev, &lim)
	lim.Deref()
	lim.Limits.Deref()
	d.setLimits(&lim.Limits)

	return nil
}

// setLimits sets d.lim from the physical device's reported
// VkPhysicalDeviceLimits.
func (d *Driver) setLimits(lim *vk.PhysicalDeviceLimits) {
	d.lim = gpu.Limits{
		MaxImage1D:   int(lim.MaxImageDimension1D),
		MaxImage2D:   int(lim.MaxImageDimension2D),
		MaxImageCube: int(lim.MaxImageDimensionCube),
		MaxImage3D:   int(lim.MaxImageDimension3D),
		MaxLayers:    int(lim.MaxImageArrayLayers),

		MaxDescHeaps:      int(lim.MaxBoundDescriptorSets),
		MaxDBuffer:        int(lim.MaxPerStageDescriptorStorageBuffers),
		MaxDImage:         int(lim.MaxPerStageDescriptorStorageImages),
		MaxDConstant:      int(lim.MaxPerStageDescriptorUniformBuffers),
		MaxDTexture:       int(lim.MaxPerStageDescriptorSampledImages),
		MaxDSampler:       int(lim.MaxPerStageDescriptorSamplers),
		MaxDBufferRange:   int64(lim.MaxStorageBufferRange),
		MaxDConstantRange: int64(lim.MaxUniformBufferRange),

		MaxColorTargets: int(lim.MaxColorAttachments),
		MaxFBSize:       [2]int{int(lim.MaxFramebufferWidth), int(lim.MaxFramebufferHeight)},
		MaxFBLayers:     int(lim.MaxFramebufferLayers),
		MaxPointSize:    lim.PointSizeRange[1],
		MaxViewports:    int(lim.MaxViewports),

		MaxVertexIn:   int(lim.MaxVertexInputBindings),
		MaxFragmentIn: int(lim.MaxFragmentInputComponents / 4),

		MaxDispatch: [3]int{
			int(lim.MaxComputeWorkGroupCount[0]),
			int(lim.MaxComputeWorkGroupCount[1]),
			int(lim.MaxComputeWorkGroupCount[2]),
		},
	}
}

// Limits returns the implementation limits.
func (d *Driver) Limits() gpu.Limits { return d.lim }

// Driver returns the receiver, for gpu.GPU conformance.
func (d *Driver) Driver() gpu.Driver { return d }

// DeviceName returns the name of the VkDevice in use.
func (d *Driver) DeviceName() string { return d.dname }

// familyOf returns the queue family index selected for kind.
func (d *Driver) familyOf(kind gpu.QueueKind) uint32 {
	switch kind {
	case gpu.QueueCompute:
		return d.computeFam
	case gpu.QueueTransfer:
		return d.transferFam
	default:
		return d.graphicsFam
	}
}

// WaitIdle blocks until the device has completed all
// submitted work, then drains the deferred-destruction queue.
func (d *Driver) WaitIdle() {
	if d.dev == nil {
		return
	}
	vk.DeviceWaitIdle(d.dev)
	d.destroy.drainAll()
}

// Close deinitializes the driver, releasing the device and
// instance.
func (d *Driver) Close() {
	if d == nil {
		return
	}
	if d.dev != nil {
		vk.DeviceWaitIdle(d.dev)
		d.destroy.drainAll()
		vk.DestroyDevice(d.dev, nil)
	}
	if d.debugMessenger != vk.NullHandle {
		vk.DestroyDebugReportCallback(d.inst, d.debugMessenger, nil)
	}
	if d.inst != nil {
		vk.DestroyInstance(d.inst, nil)
	}
	*d = Driver{}
}

// selectMemoryType selects a memory type index compatible
// with typeBits and carrying all of the flags in prop.
// It returns -1 if no type qualifies.
func (d *Driver) selectMemoryType(typeBits uint32, prop vk.MemoryPropertyFlagBits) int {
	for i := 0; i < int(d.mprop.MemoryTypeCount); i++ {
		if typeBits&(1<<uint(i)) == 0 {
			continue
		}
		mt := d.mprop.MemoryTypes[i]
		mt.Deref()
		if vk.MemoryPropertyFlagBits(mt.PropertyFlags)&prop == prop {
			return i
		}
	}
	return -1
}

// devMemory represents a single device memory allocation
// bound to exactly one resource (buffer or image).
type devMemory struct {
	d     *Driver
	size  int64
	vis   bool
	bound bool
	p     []byte
	mem   vk.DeviceMemory
	typ   int
	heap  int
}

// newMemory allocates device memory satisfying req, preferring
// device-local memory and additionally requiring host
// visibility when visible is set.
func (d *Driver) newMemory(req vk.MemoryRequirements, visible bool) (*devMemory, error) {
	req.Deref()
	prop := vk.MemoryPropertyFlagBits(vk.MemoryPropertyDeviceLocalBit)
	if visible {
		prop |= vk.MemoryPropertyFlagBits(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}
	typ := d.selectMemoryType(req.MemoryTypeBits, prop)
	if typ == -1 {
		prop &^= vk.MemoryPropertyFlagBits(vk.MemoryPropertyDeviceLocalBit)
		typ = d.selectMemoryType(req.MemoryTypeBits, prop)
	}
	if typ == -1 {
		return nil, errors.New("vk: no suitable memory type found")
	}
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: uint32(typ),
	}
	var mem vk.DeviceMemory
	if res := vk.AllocateMemory(d.dev, &info, nil, &mem); res != vk.Success {
		return nil, checkResult(res)
	}
	mt := d.mprop.MemoryTypes[typ]
	mt.Deref()
	heap := int(mt.HeapIndex)
	d.mused[heap] += int64(req.Size)
	return &devMemory{d: d, size: int64(req.Size), vis: visible, mem: mem, typ: typ, heap: heap}, nil
}

func (m *devMemory) mmap() error {
	if !m.vis {
		panic("cannot map memory that is not host visible")
	}
	if !m.bound {
		panic("cannot map memory that is not bound to a resource")
	}
	if len(m.p) != 0 {
		return nil
	}
	var p unsafe.Pointer
	if res := vk.MapMemory(m.d.dev, m.mem, 0, vk.DeviceSize(vk.WholeSize), 0, &p); res != vk.Success {
		return checkResult(res)
	}
	m.p = (*[1 << 31]byte)(p)[:m.size:m.size]
	return nil
}

func (m *devMemory) unmap() {
	if len(m.p) != 0 {
		vk.UnmapMemory(m.d.dev, m.mem)
		m.p = nil
	}
}

func (m *devMemory) free() {
	if m == nil {
		return
	}
	if m.d != nil {
		vk.FreeMemory(m.d.dev, m.mem, nil)
		m.d.mused[m.heap] -= m.size
	}
	*m = devMemory{}
}

// convDeviceType maps a VkPhysicalDeviceType to gpu.AdapterKind.
func convDeviceType(t vk.PhysicalDeviceType) gpu.AdapterKind {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return gpu.KindIntegrated
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return gpu.KindDiscrete
	case vk.PhysicalDeviceTypeVirtualGpu:
		return gpu.KindVirtual
	case vk.PhysicalDeviceTypeCpu:
		return gpu.KindCPU
	default:
		return gpu.KindOther
	}
}

// checkResult translates a VkResult into a gpu sentinel error.
func checkResult(res vk.Result) error {
	if res == vk.Success {
		return nil
	}
	switch res {
	case vk.ErrorOutOfHostMemory:
		return gpu.ErrNoHostMemory
	case vk.ErrorOutOfDeviceMemory:
		return gpu.ErrNoDeviceMemory
	case vk.ErrorDeviceLost:
		return gpu.ErrFatal
	case vk.ErrorSurfaceLostKhr:
		return errSurfaceLost
	case vk.ErrorOutOfDateKhr:
		return gpu.ErrSwapchain
	case vk.ErrorNativeWindowInUseKhr:
		return errWindowInUse
	case vk.ErrorFormatNotSupported:
		return errUnsupportedFormat
	}
	return fmt.Errorf("vk: %v", res)
}

var (
	errSurfaceLost       = errors.New("vk: surface lost")
	errWindowInUse       = errors.New("vk: native window in use")
	errUnsupportedFormat = errors.New("vk: format not supported")
)
