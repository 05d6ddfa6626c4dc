// Package gpu selects a compute backend and device for vecadd.
//
// Two backends are available:
//   - opencl: the system OpenCL driver (requires the "opencl" build tag)
//   - emulated: the host emulator in pkg/gpu/emulated
//
// BackendAuto uses OpenCL when a platform is installed and falls back to the
// emulator otherwise.
//
// Example:
//
//	config := gpu.DefaultConfig()
//	config.Backend = gpu.BackendOpenCL
//	config.FallbackTypes = []compute.DeviceType{compute.DeviceTypeCPU}
//
//	accel, err := gpu.NewAccelerator(config)
//	if err != nil {
//		log.Fatal(err)
//	}
//	device, err := accel.SelectDevice()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("Using %s (%s)\n", device.Info().Name, accel.Backend())
package gpu

import (
	"errors"
	"fmt"
	"strings"

	"github.com/orneryd/vecadd/pkg/compute"
	"github.com/orneryd/vecadd/pkg/gpu/emulated"
)

// Errors
var (
	ErrGPUNotAvailable = errors.New("gpu: no compatible GPU found")
	ErrUnknownBackend  = errors.New("gpu: unknown backend")
	ErrNoDevice        = errors.New("gpu: no device selected")
)

// Backend represents the compute backend.
type Backend string

const (
	BackendAuto     Backend = "auto"     // OpenCL if installed, else emulated
	BackendOpenCL   Backend = "opencl"   // System OpenCL driver
	BackendEmulated Backend = "emulated" // Host emulator
)

// ParseBackend parses a backend name (case-insensitive). An empty name
// selects BackendAuto.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BackendAuto, nil
	case BackendAuto, BackendOpenCL, BackendEmulated:
		return b, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBackend, s)
}

// Config holds backend and device selection settings.
type Config struct {
	// Backend selects the compute backend.
	Backend Backend

	// DeviceType is the device class requested first.
	DeviceType compute.DeviceType

	// FallbackTypes are tried in order when the platform has no device of
	// DeviceType. Empty means no fallback.
	FallbackTypes []compute.DeviceType

	// PlatformIndex selects the platform when several are installed.
	PlatformIndex int

	// DeviceIndex selects among the devices of the matched class.
	DeviceIndex int

	// Emulator configures the emulated backend.
	Emulator emulated.Options
}

// DefaultConfig returns the default selection: the first GPU of the first
// platform on the automatically chosen backend.
func DefaultConfig() *Config {
	return &Config{
		Backend:    BackendAuto,
		DeviceType: compute.DeviceTypeGPU,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if _, err := ParseBackend(string(c.Backend)); err != nil {
		return err
	}
	if _, err := compute.ParseDeviceType(string(c.DeviceType)); err != nil {
		return err
	}
	for _, t := range c.FallbackTypes {
		if _, err := compute.ParseDeviceType(string(t)); err != nil {
			return fmt.Errorf("fallback: %w", err)
		}
	}
	if c.PlatformIndex < 0 || c.DeviceIndex < 0 {
		return errors.New("gpu: platform and device indices must be non-negative")
	}
	return nil
}
