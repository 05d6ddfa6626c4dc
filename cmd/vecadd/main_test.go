package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/vecadd/pkg/compute"
	"github.com/orneryd/vecadd/pkg/config"
	"github.com/orneryd/vecadd/pkg/gpu/opencl"
	"github.com/orneryd/vecadd/pkg/vectoradd"
)

const addVectors = `__kernel void addVectors(__global const int* a, __global const int* b, __global int* c) {
    int i = get_global_id(0);
    c[i] = a[i] + b[i];
}
`

const copyA = `__kernel void addVectors(__global const int* a, __global const int* b, __global int* c) {
    int i = get_global_id(0);
    c[i] = a[i];
}
`

func kernelFile(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "VectorAdd.cl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// chdir changes the working directory for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(prev)) })
}

func small(kernel string) []string {
	return []string{"--backend", "emulated", "--kernel", kernel, "--n", "4096", "--local-size", "256"}
}

func TestSuccess(t *testing.T) {
	code, stdout, _ := runCLI(t, small(kernelFile(t, addVectors))...)
	assert.Equal(t, 0, code)
	assert.Equal(t, "No errors. All good!\n", stdout)
}

func TestReferenceRunInWorkingDirectory(t *testing.T) {
	dir := filepath.Dir(kernelFile(t, addVectors))
	chdir(t, dir)

	code, stdout, _ := runCLI(t, "--backend", "emulated")
	assert.Equal(t, 0, code)
	assert.Equal(t, "No errors. All good!\n", stdout)
}

func TestMissingKernelFile(t *testing.T) {
	chdir(t, t.TempDir())

	code, stdout, _ := runCLI(t, "--backend", "emulated")
	assert.Equal(t, -1, code)
	assert.Equal(t, "Cannot open file VectorAdd.cl\n", stdout)
}

func TestMismatch(t *testing.T) {
	kernel := kernelFile(t, copyA)

	code, stdout, _ := runCLI(t, small(kernel)...)
	assert.Equal(t, 0, code)
	assert.Equal(t, "Wrong result at index: 0\n", stdout)

	code, stdout, _ = runCLI(t, append(small(kernel), "--strict")...)
	assert.Equal(t, 1, code)
	assert.Equal(t, "Wrong result at index: 0\n", stdout)
}

func TestBuildFailure(t *testing.T) {
	kernel := kernelFile(t, "__kernel void addVectors(__global float* a) { }")

	code, stdout, stderr := runCLI(t, small(kernel)...)
	assert.Equal(t, int(compute.StatusBuildProgramFailure), code)
	assert.True(t, strings.HasPrefix(stdout, "OpenCLassert: -11 run.go "), "stdout = %q", stdout)
	assert.Contains(t, stderr, "Build log:")
	assert.Contains(t, stderr, "unsupported element type 'float'")
}

func TestWrongEntryPoint(t *testing.T) {
	args := append(small(kernelFile(t, addVectors)), "--entry", "addVector")
	code, stdout, _ := runCLI(t, args...)
	assert.Equal(t, int(compute.StatusInvalidKernelName), code)
	assert.True(t, strings.HasPrefix(stdout, "OpenCLassert: -46 "), "stdout = %q", stdout)
}

func TestNoGPUWithoutFallback(t *testing.T) {
	args := append(small(kernelFile(t, addVectors)), "--device-type", "accelerator")
	code, stdout, _ := runCLI(t, args...)
	assert.Equal(t, int(compute.StatusDeviceNotFound), code)
	assert.True(t, strings.HasPrefix(stdout, "OpenCLassert: -1 run.go "), "stdout = %q", stdout)
}

func TestDeviceFallback(t *testing.T) {
	args := append(small(kernelFile(t, addVectors)), "--device-type", "accelerator", "--fallback", "cpu", "-v")
	code, stdout, stderr := runCLI(t, args...)
	assert.Equal(t, 0, code)
	assert.Equal(t, "No errors. All good!\n", stdout)
	assert.Contains(t, stderr, "[GPU] No accelerator device")
	assert.Contains(t, stderr, "Emulated CPU")
}

func TestVerboseLogging(t *testing.T) {
	args := append(small(kernelFile(t, addVectors)), "--verbose")
	code, _, stderr := runCLI(t, args...)
	assert.Equal(t, 0, code)
	assert.Contains(t, stderr, "[vecadd] run ")
	assert.Contains(t, stderr, "[vecadd] timings:")
}

func TestQuietByDefault(t *testing.T) {
	code, _, stderr := runCLI(t, small(kernelFile(t, addVectors))...)
	assert.Equal(t, 0, code)
	assert.Empty(t, stderr)
}

func TestConfigErrors(t *testing.T) {
	kernel := kernelFile(t, addVectors)
	tests := []struct {
		name string
		args []string
	}{
		{"length not divisible", []string{"--backend", "emulated", "--kernel", kernel, "--n", "1000"}},
		{"unknown backend", []string{"--backend", "cuda", "--kernel", kernel}},
		{"unknown device type", []string{"--backend", "emulated", "--device-type", "fpga"}},
		{"unknown flag", []string{"--turbo"}},
		{"stray argument", []string{"extra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := runCLI(t, tt.args...)
			if tt.name == "stray argument" {
				assert.Equal(t, 1, code)
			} else {
				assert.Equal(t, 2, code)
			}
			assert.Empty(t, stdout)
			assert.Contains(t, stderr, "Error:")
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("VECADD_BACKEND", "emulated")
	t.Setenv("VECADD_KERNEL", kernelFile(t, addVectors))
	t.Setenv("VECADD_N", "2048")
	t.Setenv("VECADD_LOCAL_SIZE", "512")

	code, stdout, _ := runCLI(t)
	assert.Equal(t, 0, code)
	assert.Equal(t, "No errors. All good!\n", stdout)

	// Flags win over the environment.
	code, _, _ = runCLI(t, "--n", "1000")
	assert.Equal(t, 2, code)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecadd.yaml")
	cfg := fmt.Sprintf(`
vector:
  length: 8192
  fill_a: 40
  fill_b: 2
kernel:
  path: %s
dispatch:
  local_size: 128
device:
  backend: emulated
strict: true
`, kernelFile(t, copyA))
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))

	code, stdout, _ := runCLI(t, "--config", path)
	assert.Equal(t, 1, code)
	assert.Equal(t, "Wrong result at index: 0\n", stdout)
}

func TestOpenCLBackendUnavailable(t *testing.T) {
	if opencl.IsAvailable() {
		t.Skip("OpenCL platform installed")
	}
	code, stdout, _ := runCLI(t, "--backend", "opencl", "--kernel", kernelFile(t, addVectors))
	assert.Equal(t, int(compute.StatusPlatformNotFound), code)
	assert.True(t, strings.HasPrefix(stdout, "OpenCLassert: -1001 "), "stdout = %q", stdout)
}

func TestDevicesCommand(t *testing.T) {
	code, stdout, _ := runCLI(t, "devices", "--backend", "emulated")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Backend: emulated")
	assert.Contains(t, stdout, "Platform 0: vecadd host emulator")
	assert.Contains(t, stdout, "Device 0: Emulated GPU [gpu]")
	assert.Contains(t, stdout, "Device 1: Emulated CPU")
	assert.Contains(t, stdout, "max work-group 1024")
}

func TestVersionCommand(t *testing.T) {
	code, stdout, _ := runCLI(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "vecadd dev")
	assert.Contains(t, stdout, "OpenCL:")
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"missing source", &vectoradd.KernelSourceError{Path: "VectorAdd.cl", Err: os.ErrNotExist}, -1},
		{"device error", compute.Check("clCreateBuffer", compute.StatusMemObjectAllocationFailed), -4},
		{"wrapped device error", fmt.Errorf("run: %w", compute.Check("clFinish", compute.StatusOutOfResources)), -5},
		{"config", fmt.Errorf("%w: bad", config.ErrInvalidConfig), 2},
		{"geometry", vectoradd.CheckGeometry(1000, 1024), 2},
		{"other", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
