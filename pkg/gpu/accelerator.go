// Package gpu selects a compute backend and device for vecadd.
// This file provides the accelerator that owns the runtime and device choice.
package gpu

import (
	"log"
	"sync"

	"github.com/orneryd/vecadd/pkg/compute"
	"github.com/orneryd/vecadd/pkg/gpu/emulated"
	"github.com/orneryd/vecadd/pkg/gpu/opencl"
)

// Accelerator holds the selected runtime, platform and device, and tracks
// device traffic.
//
// Usage:
//
//	accel, err := gpu.NewAccelerator(nil)
//	if err != nil {
//		return err
//	}
//	defer accel.Release()
//
//	device, err := accel.SelectDevice()
type Accelerator struct {
	config  *Config
	runtime compute.Runtime

	platform compute.Platform
	device   compute.Device

	// Stats
	mu    sync.RWMutex
	stats AcceleratorStats
}

// AcceleratorStats tracks device usage statistics.
type AcceleratorStats struct {
	BytesUploaded    int64
	BytesDownloaded  int64
	KernelExecutions int64
	// DeviceFallbacks counts device classes skipped during selection.
	DeviceFallbacks int64
}

// OpenRuntime opens the runtime of backend b.
//
// An unavailable OpenCL driver is reported as CL_PLATFORM_NOT_FOUND_KHR from
// clGetPlatformIDs, which is what the ICD loader returns on a machine
// without platforms.
func OpenRuntime(b Backend, opts emulated.Options) (compute.Runtime, error) {
	switch b {
	case BackendOpenCL:
		rt, err := opencl.NewRuntime()
		if err != nil {
			return nil, &compute.DeviceError{Op: "clGetPlatformIDs", Status: compute.StatusPlatformNotFound, Err: err}
		}
		return rt, nil
	case BackendEmulated:
		return emulated.New(opts), nil
	case BackendAuto, "":
		if opencl.IsAvailable() {
			return OpenRuntime(BackendOpenCL, opts)
		}
		log.Printf("[GPU] OpenCL not available, using host emulator")
		return emulated.New(opts), nil
	}
	return nil, ErrUnknownBackend
}

// NewAccelerator opens the configured backend.
func NewAccelerator(config *Config) (*Accelerator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	rt, err := OpenRuntime(config.Backend, config.Emulator)
	if err != nil {
		return nil, err
	}
	return NewAcceleratorWithRuntime(rt, config), nil
}

// NewAcceleratorWithRuntime wraps an already opened runtime.
func NewAcceleratorWithRuntime(rt compute.Runtime, config *Config) *Accelerator {
	if config == nil {
		config = DefaultConfig()
	}
	return &Accelerator{config: config, runtime: rt}
}

// SelectDevice picks the configured platform and the first device of the
// requested class, trying FallbackTypes in order when the platform has no
// device of that class.
func (a *Accelerator) SelectDevice() (compute.Device, error) {
	platforms, err := a.runtime.Platforms()
	if err != nil {
		return nil, err
	}
	if a.config.PlatformIndex >= len(platforms) {
		return nil, compute.Check("clGetPlatformIDs", compute.StatusInvalidPlatform)
	}
	platform := platforms[a.config.PlatformIndex]

	types := append([]compute.DeviceType{a.config.DeviceType}, a.config.FallbackTypes...)
	for i, t := range types {
		devices, err := platform.Devices(t)
		if err == nil && a.config.DeviceIndex >= len(devices) {
			err = compute.Check("clGetDeviceIDs", compute.StatusDeviceNotFound)
		}
		if err != nil {
			if compute.IsStatus(err, compute.StatusDeviceNotFound) && i < len(types)-1 {
				log.Printf("[GPU] No %s device on %s, trying %s", t, platform.Info().Name, types[i+1])
				a.mu.Lock()
				a.stats.DeviceFallbacks++
				a.mu.Unlock()
				continue
			}
			return nil, err
		}

		device := devices[a.config.DeviceIndex]
		a.mu.Lock()
		a.platform, a.device = platform, device
		a.mu.Unlock()
		return device, nil
	}
	return nil, ErrNoDevice
}

// Release drops the runtime and device selection.
func (a *Accelerator) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.platform = nil
	a.device = nil
	a.runtime = nil
}

// Runtime returns the opened runtime.
func (a *Accelerator) Runtime() compute.Runtime {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.runtime
}

// Backend returns the name of the active backend.
func (a *Accelerator) Backend() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.runtime == nil {
		return "none"
	}
	return a.runtime.Name()
}

// Device returns the selected device, or nil before SelectDevice.
func (a *Accelerator) Device() compute.Device {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.device
}

// PlatformName returns the selected platform's name.
func (a *Accelerator) PlatformName() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.platform == nil {
		return ""
	}
	return a.platform.Info().Name
}

// DeviceName returns the selected device's name.
func (a *Accelerator) DeviceName() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.device == nil {
		return "none"
	}
	return a.device.Info().Name
}

// DeviceMemoryMB returns the selected device's global memory in megabytes.
func (a *Accelerator) DeviceMemoryMB() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.device == nil {
		return 0
	}
	return a.device.Info().MemoryMB()
}

// RecordUpload counts bytes copied host to device.
func (a *Accelerator) RecordUpload(bytes int) {
	a.mu.Lock()
	a.stats.BytesUploaded += int64(bytes)
	a.mu.Unlock()
}

// RecordDownload counts bytes copied device to host.
func (a *Accelerator) RecordDownload(bytes int) {
	a.mu.Lock()
	a.stats.BytesDownloaded += int64(bytes)
	a.mu.Unlock()
}

// RecordKernel counts a kernel launch.
func (a *Accelerator) RecordKernel() {
	a.mu.Lock()
	a.stats.KernelExecutions++
	a.mu.Unlock()
}

// Stats returns device usage statistics.
func (a *Accelerator) Stats() AcceleratorStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats
}
