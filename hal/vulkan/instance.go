// Package vulkan implements hal on a real GPU through vulkan-go. The
// instance is bound to one GLFW window surface; GLFW must be initialized and
// every call must come from the thread that created the window.
package vulkan

import (
	"context"
	"log/slog"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkframe/hal"
)

const (
	swapchainExtension = "VK_KHR_swapchain"
	debugExtension     = "VK_EXT_debug_report"
	validationLayer    = "VK_LAYER_KHRONOS_validation"
)

type Options struct {
	AppName string
	// Major and Minor select the API version requested from the driver.
	Major, Minor uint32
	// Debug enables the validation layer and routes its reports to Logger.
	Debug  bool
	Logger *slog.Logger
}

type Instance struct {
	logger        *slog.Logger
	instance      vk.Instance
	surface       vk.Surface
	debugCallback vk.DebugReportCallback
	layers        []string
}

// New loads the Vulkan loader through GLFW, creates the instance and the
// surface of window.
func New(window *glfw.Window, opts Options) (inst *Instance, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	vk.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
	if err := vk.Init(); err != nil {
		return nil, errors.Wrap(err, "vulkan: load")
	}

	actual, err := InstanceExtensions()
	if err != nil {
		return nil, errors.Wrap(err, "vulkan: instance extensions")
	}
	var wanted []string
	if opts.Debug {
		wanted = append(wanted, debugExtension)
	}
	exts := newExtensionSet(wanted, window.GetRequiredInstanceExtensions(), actual)
	if ok, missing := exts.HasRequired(); !ok {
		return nil, errors.Wrapf(hal.ErrUnsupported, "vulkan: missing instance extensions %v", missing)
	}
	if ok, missing := exts.HasWanted(); !ok {
		logger.Warn("vulkan: optional instance extensions unavailable", "missing", missing)
	}

	inst = &Instance{logger: logger}
	if opts.Debug {
		available, err := ValidationLayers()
		if err != nil {
			return nil, errors.Wrap(err, "vulkan: validation layers")
		}
		layers := newExtensionSet([]string{validationLayer}, nil, available)
		if ok, missing := layers.HasWanted(); !ok {
			logger.Warn("vulkan: validation layers unavailable", "missing", missing)
		}
		inst.layers = layers.Enabled()
	}

	enabled := exts.Enabled()
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			ApiVersion:         apiVersion(opts.Major, opts.Minor),
			ApplicationVersion: apiVersion(1, 0),
			PApplicationName:   safeString(opts.AppName),
			PEngineName:        "vkframe\x00",
		},
		EnabledExtensionCount:   uint32(len(enabled)),
		PpEnabledExtensionNames: enabled,
		EnabledLayerCount:       uint32(len(inst.layers)),
		PpEnabledLayerNames:     inst.layers,
	}, nil, &inst.instance)
	if err := newError(ret); err != nil {
		return nil, err
	}
	vk.InitInstance(inst.instance)
	defer func() {
		if err != nil {
			inst.Destroy()
			inst = nil
		}
	}()

	if opts.Debug && exts.has(debugExtension) {
		ret := vk.CreateDebugReportCallback(inst.instance, &vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: inst.debugReport,
		}, nil, &inst.debugCallback)
		if err := newError(ret); err != nil {
			return nil, err
		}
		logger.Info("vulkan: debug report callback enabled")
	}

	surface, err := window.CreateWindowSurface(inst.instance, nil)
	if err != nil {
		return nil, errors.Wrap(err, "vulkan: create window surface")
	}
	inst.surface = vk.SurfaceFromPointer(surface)
	logger.Info("vulkan: instance created",
		"extensions", len(enabled),
		"layers", len(inst.layers))
	return inst, nil
}

func (i *Instance) Name() string { return "vulkan" }

func (i *Instance) Adapters() (list []hal.Adapter, err error) {
	defer checkErr(&err)

	var count uint32
	ret := vk.EnumeratePhysicalDevices(i.instance, &count, nil)
	orPanic(newError(ret))
	gpus := make([]vk.PhysicalDevice, count)
	ret = vk.EnumeratePhysicalDevices(i.instance, &count, gpus)
	orPanic(newError(ret))
	for _, gpu := range gpus {
		list = append(list, newAdapter(i, gpu))
	}
	return list, nil
}

func (i *Instance) Destroy() {
	if i.surface != vk.NullSurface {
		vk.DestroySurface(i.instance, i.surface, nil)
		i.surface = vk.NullSurface
	}
	if i.debugCallback != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(i.instance, i.debugCallback, nil)
		i.debugCallback = vk.NullDebugReportCallback
	}
	if i.instance != nil {
		vk.DestroyInstance(i.instance, nil)
		i.instance = nil
	}
}

func (i *Instance) debugReport(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
	object uint64, location uint, messageCode int32, pLayerPrefix string,
	pMessage string, pUserData unsafe.Pointer) vk.Bool32 {

	level := slog.LevelInfo
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		level = slog.LevelError
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit|vk.DebugReportPerformanceWarningBit) != 0:
		level = slog.LevelWarn
	case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
		level = slog.LevelDebug
	}
	i.logger.Log(context.Background(), level, pMessage, "layer", pLayerPrefix, "code", messageCode)
	return vk.Bool32(vk.False)
}
