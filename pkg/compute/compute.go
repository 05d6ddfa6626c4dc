// Package compute defines the device API contract shared by vecadd's backends.
//
// The handle model mirrors OpenCL: a Runtime exposes Platforms, a Platform
// exposes Devices, and a Context bound to one Device owns the Queue, Buffers,
// Program and Kernels created through it. Every fallible call returns an
// error; device failures are reported as *DeviceError carrying the raw
// OpenCL status.
//
// Two backends implement the contract:
//   - pkg/gpu/opencl: the system OpenCL driver (cgo, build tag "opencl")
//   - pkg/gpu/emulated: a host emulator for a restricted OpenCL C subset
package compute

import (
	"fmt"
	"strings"
)

// ElementSize is the size in bytes of one vector element (cl_int).
const ElementSize = 4

// DeviceType selects a class of devices on a platform.
type DeviceType string

const (
	DeviceTypeGPU         DeviceType = "gpu"
	DeviceTypeCPU         DeviceType = "cpu"
	DeviceTypeAccelerator DeviceType = "accelerator"
	DeviceTypeDefault     DeviceType = "default"
	DeviceTypeAll         DeviceType = "all"
)

// ParseDeviceType parses a device class name (case-insensitive).
func ParseDeviceType(s string) (DeviceType, error) {
	switch t := DeviceType(strings.ToLower(strings.TrimSpace(s))); t {
	case DeviceTypeGPU, DeviceTypeCPU, DeviceTypeAccelerator, DeviceTypeDefault, DeviceTypeAll:
		return t, nil
	}
	return "", fmt.Errorf("compute: unknown device type %q", s)
}

// Matches reports whether a device of class t is selected by a query for q.
func (t DeviceType) Matches(q DeviceType) bool {
	return q == DeviceTypeAll || q == t
}

// MemAccess is the access-mode hint of a device buffer, from the device's
// perspective.
type MemAccess int

const (
	ReadWrite MemAccess = iota
	ReadOnly
	WriteOnly
)

func (m MemAccess) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case WriteOnly:
		return "write-only"
	default:
		return "read-write"
	}
}

// PlatformInfo describes a compute platform.
type PlatformInfo struct {
	Name    string
	Vendor  string
	Version string
}

// DeviceInfo describes a compute device.
type DeviceInfo struct {
	Name             string
	Vendor           string
	Version          string
	Type             DeviceType
	MaxComputeUnits  uint32
	MaxWorkGroupSize int
	GlobalMemBytes   uint64
}

// MemoryMB returns the global memory size in megabytes.
func (d DeviceInfo) MemoryMB() int {
	return int(d.GlobalMemBytes / (1024 * 1024))
}

// Runtime is the entry point of a backend.
type Runtime interface {
	// Name identifies the backend ("opencl", "emulated").
	Name() string
	Platforms() ([]Platform, error)
	CreateContext(d Device) (Context, error)
}

// Platform is a vendor driver discovered at run time.
type Platform interface {
	Info() PlatformInfo
	// Devices returns the devices of the given class. A platform with no
	// matching device fails with StatusDeviceNotFound.
	Devices(t DeviceType) ([]Device, error)
}

// Device is one compute accelerator exposed by a platform.
type Device interface {
	Info() DeviceInfo
}

// Context scopes queues, buffers and programs to one device.
type Context interface {
	CreateQueue(d Device) (Queue, error)
	CreateBuffer(access MemAccess, size int) (Buffer, error)
	CreateProgram(source []byte) (Program, error)
	Release() error
}

// Queue is an in-order command queue. Transfers are blocking: they return
// only once the copy has completed.
type Queue interface {
	WriteInt32(b Buffer, src []int32) error
	ReadInt32(b Buffer, dst []int32) error
	// EnqueueKernel launches k over a 1-D range of global work-items split
	// into groups of local work-items.
	EnqueueKernel(k Kernel, global, local int) error
	Flush() error
	Finish() error
	Release() error
}

// Buffer is a device-resident allocation.
type Buffer interface {
	Size() int
	Access() MemAccess
	Release() error
}

// Program is kernel source compiled for a device.
type Program interface {
	// Build compiles the program for d. A failed build returns a *DeviceError
	// whose Log holds the compiler output.
	Build(d Device, options string) error
	CreateKernel(name string) (Kernel, error)
	Release() error
}

// Kernel is a compiled entry point.
type Kernel interface {
	Name() string
	SetArgBuffer(index int, b Buffer) error
	SetArgInt32(index int, v int32) error
	Release() error
}
