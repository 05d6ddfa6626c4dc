//go:build !opencl || !(linux || windows || darwin)
// +build !opencl !linux,!windows,!darwin

package opencl

import (
	"errors"
	"testing"

	"github.com/orneryd/vecadd/pkg/compute"
)

func TestIsAvailableStub(t *testing.T) {
	if IsAvailable() {
		t.Error("IsAvailable() should return false on stub")
	}
}

func TestDeviceCountStub(t *testing.T) {
	if DeviceCount() != 0 {
		t.Error("DeviceCount() should return 0 on stub")
	}
}

func TestNewRuntimeStub(t *testing.T) {
	rt, err := NewRuntime()
	if err != ErrOpenCLNotAvailable {
		t.Errorf("NewRuntime() error = %v, want ErrOpenCLNotAvailable", err)
	}
	if rt != nil {
		t.Error("NewRuntime() should return nil runtime on stub")
	}
}

func TestRuntimeMethodsStub(t *testing.T) {
	var rt Runtime

	if rt.Name() != "opencl" {
		t.Errorf("Name() = %q, want opencl", rt.Name())
	}

	platforms, err := rt.Platforms()
	if platforms != nil {
		t.Error("Platforms() should return nil on stub")
	}
	if !compute.IsStatus(err, compute.StatusPlatformNotFound) {
		t.Errorf("Platforms() error = %v, want CL_PLATFORM_NOT_FOUND_KHR", err)
	}
	if !errors.Is(err, ErrOpenCLNotAvailable) {
		t.Error("Platforms() error should wrap ErrOpenCLNotAvailable")
	}

	if _, err := rt.CreateContext(nil); !errors.Is(err, ErrOpenCLNotAvailable) {
		t.Errorf("CreateContext() error = %v, want ErrOpenCLNotAvailable", err)
	}
}

func TestRuntimeImplementsCompute(t *testing.T) {
	var _ compute.Runtime = (*Runtime)(nil)
}
