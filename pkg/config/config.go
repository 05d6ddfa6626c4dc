// Package config loads vecadd run settings.
//
// Settings are layered: built-in defaults, then an optional YAML file, then
// VECADD_* environment variables, then command-line flags (applied by the
// caller). The defaults reproduce the reference run exactly.
//
// Example file:
//
//	vector:
//	  length: 1048576
//	  fill_a: 1
//	  fill_b: 2
//	kernel:
//	  path: VectorAdd.cl
//	  entry: addVectors
//	  build_options: ""
//	dispatch:
//	  local_size: 1024
//	device:
//	  backend: auto
//	  type: gpu
//	  fallback: [cpu]
//	  platform: 0
//	  index: 0
//	strict: false
//	verbose: false
//
// Environment variables:
//
//	VECADD_N, VECADD_FILL_A, VECADD_FILL_B, VECADD_KERNEL, VECADD_ENTRY,
//	VECADD_BUILD_OPTIONS, VECADD_LOCAL_SIZE, VECADD_BACKEND,
//	VECADD_DEVICE_TYPE, VECADD_FALLBACK (comma-separated), VECADD_PLATFORM,
//	VECADD_DEVICE, VECADD_STRICT, VECADD_VERBOSE
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/vecadd/pkg/compute"
	"github.com/orneryd/vecadd/pkg/gpu"
	"github.com/orneryd/vecadd/pkg/vectoradd"
)

// ErrInvalidConfig is wrapped by every load and validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// VectorConfig sets the vector length and fill values.
type VectorConfig struct {
	Length int   `yaml:"length"`
	FillA  int32 `yaml:"fill_a"`
	FillB  int32 `yaml:"fill_b"`
}

// KernelConfig locates the kernel program.
type KernelConfig struct {
	Path         string `yaml:"path"`
	Entry        string `yaml:"entry"`
	BuildOptions string `yaml:"build_options"`
}

// DispatchConfig sets the launch geometry.
type DispatchConfig struct {
	LocalSize int `yaml:"local_size"`
}

// DeviceConfig selects the backend and device.
type DeviceConfig struct {
	Backend  string   `yaml:"backend"`
	Type     string   `yaml:"type"`
	Fallback []string `yaml:"fallback"`
	Platform int      `yaml:"platform"`
	Index    int      `yaml:"index"`
}

// Config holds all vecadd settings.
type Config struct {
	Vector   VectorConfig   `yaml:"vector"`
	Kernel   KernelConfig   `yaml:"kernel"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Device   DeviceConfig   `yaml:"device"`

	// Strict makes a verification mismatch a failing exit status.
	Strict bool `yaml:"strict"`
	// Verbose enables diagnostic logging.
	Verbose bool `yaml:"verbose"`
}

// DefaultConfig returns the reference settings.
func DefaultConfig() *Config {
	return &Config{
		Vector: VectorConfig{
			Length: vectoradd.DefaultN,
			FillA:  vectoradd.DefaultFillA,
			FillB:  vectoradd.DefaultFillB,
		},
		Kernel: KernelConfig{
			Path:  vectoradd.DefaultKernelPath,
			Entry: vectoradd.DefaultEntry,
		},
		Dispatch: DispatchConfig{
			LocalSize: vectoradd.DefaultLocalSize,
		},
		Device: DeviceConfig{
			Backend: string(gpu.BackendAuto),
			Type:    string(compute.DeviceTypeGPU),
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path returns the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays VECADD_* variables read through lookup (os.LookupEnv
// in production).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var errs []error
	setInt := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setInt32 := func(key string, dst *int32) {
		if v, ok := lookup(key); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 0, 32)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = int32(n)
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	setString := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	setInt("VECADD_N", &c.Vector.Length)
	setInt32("VECADD_FILL_A", &c.Vector.FillA)
	setInt32("VECADD_FILL_B", &c.Vector.FillB)
	setString("VECADD_KERNEL", &c.Kernel.Path)
	setString("VECADD_ENTRY", &c.Kernel.Entry)
	setString("VECADD_BUILD_OPTIONS", &c.Kernel.BuildOptions)
	setInt("VECADD_LOCAL_SIZE", &c.Dispatch.LocalSize)
	setString("VECADD_BACKEND", &c.Device.Backend)
	setString("VECADD_DEVICE_TYPE", &c.Device.Type)
	if v, ok := lookup("VECADD_FALLBACK"); ok {
		c.Device.Fallback = splitList(v)
	}
	setInt("VECADD_PLATFORM", &c.Device.Platform)
	setInt("VECADD_DEVICE", &c.Device.Index)
	setBool("VECADD_STRICT", &c.Strict)
	setBool("VECADD_VERBOSE", &c.Verbose)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the settings. The launch geometry is checked here so that
// a bad length or local size is rejected before any device activity.
func (c *Config) Validate() error {
	if err := vectoradd.CheckGeometry(c.Vector.Length, c.Dispatch.LocalSize); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Kernel.Path == "" {
		return fmt.Errorf("%w: kernel path is empty", ErrInvalidConfig)
	}
	if c.Kernel.Entry == "" {
		return fmt.Errorf("%w: kernel entry point is empty", ErrInvalidConfig)
	}
	gc, err := c.GPUConfig()
	if err != nil {
		return err
	}
	if err := gc.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// GPUConfig converts the device settings to a backend selection.
func (c *Config) GPUConfig() (*gpu.Config, error) {
	backend, err := gpu.ParseBackend(c.Device.Backend)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	typ, err := compute.ParseDeviceType(c.Device.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	gc := gpu.DefaultConfig()
	gc.Backend = backend
	gc.DeviceType = typ
	gc.PlatformIndex = c.Device.Platform
	gc.DeviceIndex = c.Device.Index
	for _, f := range c.Device.Fallback {
		ft, err := compute.ParseDeviceType(f)
		if err != nil {
			return nil, fmt.Errorf("%w: fallback: %w", ErrInvalidConfig, err)
		}
		gc.FallbackTypes = append(gc.FallbackTypes, ft)
	}
	return gc, nil
}

// RunOptions converts the settings to pipeline options.
func (c *Config) RunOptions(logger *log.Logger) vectoradd.Options {
	return vectoradd.Options{
		N:            c.Vector.Length,
		LocalSize:    c.Dispatch.LocalSize,
		FillA:        c.Vector.FillA,
		FillB:        c.Vector.FillB,
		KernelPath:   c.Kernel.Path,
		Entry:        c.Kernel.Entry,
		BuildOptions: c.Kernel.BuildOptions,
		Logger:       logger,
	}
}
