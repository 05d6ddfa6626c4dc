package compute

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseDeviceType(t *testing.T) {
	tests := []struct {
		in      string
		want    DeviceType
		wantErr bool
	}{
		{"gpu", DeviceTypeGPU, false},
		{"GPU", DeviceTypeGPU, false},
		{" cpu ", DeviceTypeCPU, false},
		{"accelerator", DeviceTypeAccelerator, false},
		{"default", DeviceTypeDefault, false},
		{"all", DeviceTypeAll, false},
		{"fpga", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDeviceType(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDeviceType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDeviceType(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDeviceTypeMatches(t *testing.T) {
	if !DeviceTypeGPU.Matches(DeviceTypeGPU) {
		t.Error("gpu should match gpu")
	}
	if !DeviceTypeCPU.Matches(DeviceTypeAll) {
		t.Error("cpu should match all")
	}
	if DeviceTypeCPU.Matches(DeviceTypeGPU) {
		t.Error("cpu should not match gpu")
	}
}

func TestStatusString(t *testing.T) {
	if got := StatusBuildProgramFailure.String(); got != "CL_BUILD_PROGRAM_FAILURE" {
		t.Errorf("String() = %q", got)
	}
	if got := Status(-9999).String(); got != "CL_UNKNOWN_ERROR(-9999)" {
		t.Errorf("String() = %q", got)
	}
}

func TestCheck(t *testing.T) {
	if err := Check("clFinish", StatusSuccess); err != nil {
		t.Errorf("Check(success) = %v, want nil", err)
	}

	err := Check("clCreateBuffer", StatusMemObjectAllocationFailed)
	var de *DeviceError
	if !errors.As(err, &de) {
		t.Fatalf("Check() = %T, want *DeviceError", err)
	}
	if de.Op != "clCreateBuffer" || de.Status != StatusMemObjectAllocationFailed {
		t.Errorf("unexpected error fields: %+v", de)
	}
}

func TestTraceRecordsCallSite(t *testing.T) {
	if Trace(nil) != nil {
		t.Fatal("Trace(nil) should be nil")
	}

	err := Trace(Check("clFlush", StatusInvalidCommandQueue))
	var de *DeviceError
	if !errors.As(err, &de) {
		t.Fatalf("Trace() = %T, want *DeviceError", err)
	}
	if filepath.Base(de.File) != "compute_test.go" {
		t.Errorf("File = %q, want compute_test.go", de.File)
	}
	if de.Line == 0 {
		t.Error("Line should be set")
	}

	// An already located error keeps its first location.
	file, line := de.File, de.Line
	wrapped := fmt.Errorf("teardown: %w", err)
	_ = Trace(wrapped)
	if de.File != file || de.Line != line {
		t.Error("Trace should not overwrite an existing location")
	}
}

func TestStatusOf(t *testing.T) {
	err := fmt.Errorf("step: %w", Check("clBuildProgram", StatusBuildProgramFailure))

	s, ok := StatusOf(err)
	if !ok || s != StatusBuildProgramFailure {
		t.Errorf("StatusOf() = %v, %v", s, ok)
	}
	if !IsStatus(err, StatusBuildProgramFailure) {
		t.Error("IsStatus should match wrapped status")
	}
	if _, ok := StatusOf(errors.New("plain")); ok {
		t.Error("StatusOf(plain error) should report false")
	}
}

func TestDeviceErrorMessage(t *testing.T) {
	cause := errors.New("no driver")
	err := &DeviceError{Op: "clGetPlatformIDs", Status: StatusPlatformNotFound, File: "/src/run.go", Line: 42, Err: cause}

	msg := err.Error()
	for _, want := range []string{"clGetPlatformIDs", "CL_PLATFORM_NOT_FOUND_KHR", "-1001", "run.go:42", "no driver"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if !errors.Is(err, cause) {
		t.Error("DeviceError should unwrap to its cause")
	}
}

func TestDeviceInfoMemoryMB(t *testing.T) {
	info := DeviceInfo{GlobalMemBytes: 8 << 30}
	if info.MemoryMB() != 8192 {
		t.Errorf("MemoryMB() = %d, want 8192", info.MemoryMB())
	}
}
