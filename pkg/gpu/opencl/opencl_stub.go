//go:build !opencl || !(linux || windows || darwin)
// +build !opencl !linux,!windows,!darwin

// Package opencl implements the compute device API on the system OpenCL driver.
// This is a stub implementation for builds without the opencl tag.
package opencl

import (
	"errors"

	"github.com/orneryd/vecadd/pkg/compute"
)

// Backend name reported by Runtime.Name.
const Backend = "opencl"

// Errors
var (
	ErrOpenCLNotAvailable = errors.New("opencl: OpenCL is not available (build without opencl tag)")
)

// Runtime is the system OpenCL driver (stub).
type Runtime struct{}

// IsAvailable returns false on builds without OpenCL.
func IsAvailable() bool {
	return false
}

// DeviceCount returns 0 on builds without OpenCL.
func DeviceCount() int {
	return 0
}

// NewRuntime returns ErrOpenCLNotAvailable.
func NewRuntime() (*Runtime, error) {
	return nil, ErrOpenCLNotAvailable
}

// Name returns "opencl".
func (r *Runtime) Name() string { return Backend }

// Platforms reports that no platform is installed.
func (r *Runtime) Platforms() ([]compute.Platform, error) {
	return nil, &compute.DeviceError{Op: "clGetPlatformIDs", Status: compute.StatusPlatformNotFound, Err: ErrOpenCLNotAvailable}
}

// CreateContext returns an error.
func (r *Runtime) CreateContext(compute.Device) (compute.Context, error) {
	return nil, &compute.DeviceError{Op: "clCreateContext", Status: compute.StatusInvalidDevice, Err: ErrOpenCLNotAvailable}
}
