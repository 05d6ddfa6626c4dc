// Package emulated implements the compute device API on the host CPU.
//
// The emulator exposes one platform with a GPU-class and a CPU-class device.
// Programs are compiled from a restricted OpenCL C subset (see compiler.go)
// and kernels run across a pool of goroutines, one work-group at a time.
// Every handle operation validates its arguments the way an OpenCL driver
// does and reports the matching status code, so host code exercised against
// the emulator sees the same failure surface as on real hardware.
//
// Two hooks make the emulator useful in tests:
//   - Options.Faults forces chosen API calls to fail with a chosen status.
//   - Runtime.Journal records every API call in order, including releases.
package emulated

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sys/cpu"

	"github.com/orneryd/vecadd/pkg/cache"
	"github.com/orneryd/vecadd/pkg/compute"
)

// Backend name reported by Runtime.Name.
const Backend = "emulated"

// Defaults applied to zero Options fields.
const (
	DefaultMaxWorkGroupSize        = 1024
	DefaultGlobalMemBytes   uint64 = 1 << 30
)

// Fault forces an API call to fail.
type Fault struct {
	// Op is the OpenCL entry point name, e.g. "clBuildProgram".
	Op string
	// Call selects the nth invocation of Op (1-based). Zero fails every call.
	Call int
	// Status is returned instead of running the call.
	Status compute.Status
}

// Call is one journal entry.
type Call struct {
	Op     string
	Handle string
}

func (c Call) String() string {
	if c.Handle == "" {
		return c.Op
	}
	return c.Op + "(" + c.Handle + ")"
}

// Options configures the emulator.
type Options struct {
	Faults []Fault
	// MaxWorkGroupSize caps the local size of a launch.
	MaxWorkGroupSize int
	// GlobalMemBytes caps the total size of live buffers per device.
	GlobalMemBytes uint64
	// Workers is the number of goroutines running work-groups.
	// Defaults to GOMAXPROCS.
	Workers int
	// CPUOnly hides the GPU-class device.
	CPUOnly bool
	// BuildCacheSize is the number of compiled programs kept per runtime.
	// Zero uses cache.DefaultMaxSize; negative disables the cache.
	BuildCacheSize int
}

func (o Options) withDefaults() Options {
	if o.MaxWorkGroupSize <= 0 {
		o.MaxWorkGroupSize = DefaultMaxWorkGroupSize
	}
	if o.GlobalMemBytes == 0 {
		o.GlobalMemBytes = DefaultGlobalMemBytes
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	return o
}

// Runtime is the emulator's entry point. It is safe for concurrent use.
type Runtime struct {
	opts     Options
	platform *Platform
	builds   *cache.ProgramCache

	mu      sync.Mutex
	calls   map[string]int
	journal []Call
	handles map[string]int
}

// New creates an emulator runtime.
func New(opts Options) *Runtime {
	r := &Runtime{
		opts:    opts.withDefaults(),
		calls:   make(map[string]int),
		handles: make(map[string]int),
		builds:  cache.NewProgramCache(opts.BuildCacheSize),
	}
	if opts.BuildCacheSize < 0 {
		r.builds.SetEnabled(false)
	}
	r.platform = &Platform{
		rt: r,
		info: compute.PlatformInfo{
			Name:    "vecadd host emulator",
			Vendor:  "vecadd",
			Version: "OpenCL 1.2 emulated",
		},
	}
	if !r.opts.CPUOnly {
		r.platform.devices = append(r.platform.devices, &Device{rt: r, info: compute.DeviceInfo{
			Name:             "Emulated GPU",
			Vendor:           "vecadd",
			Version:          "OpenCL 1.2 emulated",
			Type:             compute.DeviceTypeGPU,
			MaxComputeUnits:  uint32(r.opts.Workers),
			MaxWorkGroupSize: r.opts.MaxWorkGroupSize,
			GlobalMemBytes:   r.opts.GlobalMemBytes,
		}})
	}
	r.platform.devices = append(r.platform.devices, &Device{rt: r, info: compute.DeviceInfo{
		Name:             "Emulated CPU (" + hostFeatures() + ")",
		Vendor:           "vecadd",
		Version:          "OpenCL 1.2 emulated",
		Type:             compute.DeviceTypeCPU,
		MaxComputeUnits:  uint32(runtime.NumCPU()),
		MaxWorkGroupSize: r.opts.MaxWorkGroupSize,
		GlobalMemBytes:   r.opts.GlobalMemBytes,
	}})
	return r
}

// hostFeatures summarizes the SIMD extensions of the host CPU.
func hostFeatures() string {
	var feats []string
	switch runtime.GOARCH {
	case "amd64", "386":
		if cpu.X86.HasAVX512F {
			feats = append(feats, "avx512f")
		}
		if cpu.X86.HasAVX2 {
			feats = append(feats, "avx2")
		}
		if cpu.X86.HasSSE42 {
			feats = append(feats, "sse4.2")
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			feats = append(feats, "asimd")
		}
		if cpu.ARM64.HasSVE {
			feats = append(feats, "sve")
		}
	}
	if len(feats) == 0 {
		return runtime.GOARCH
	}
	return runtime.GOARCH + " " + strings.Join(feats, " ")
}

// Name returns "emulated".
func (r *Runtime) Name() string { return Backend }

// BuildCacheStats reports how often Program.Build reused a compilation.
func (r *Runtime) BuildCacheStats() cache.Stats { return r.builds.Stats() }

// Journal returns a copy of the API calls made so far.
func (r *Runtime) Journal() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.journal))
	copy(out, r.journal)
	return out
}

// Ops returns the operation names of the journal in call order.
func (r *Runtime) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.journal))
	for i, c := range r.journal {
		out[i] = c.Op
	}
	return out
}

// CallCount returns how many times op has been called.
func (r *Runtime) CallCount(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// enter journals a call and applies any matching fault.
func (r *Runtime) enter(op, handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[op]++
	n := r.calls[op]
	r.journal = append(r.journal, Call{Op: op, Handle: handle})
	for _, f := range r.opts.Faults {
		if f.Op == op && (f.Call == 0 || f.Call == n) {
			return &compute.DeviceError{Op: op, Status: f.Status, Err: fmt.Errorf("emulated: injected fault on call %d", n)}
		}
	}
	return nil
}

func (r *Runtime) newHandle(kind string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[kind]++
	return fmt.Sprintf("%s%d", kind, r.handles[kind])
}

// Platforms returns the single emulator platform.
func (r *Runtime) Platforms() ([]compute.Platform, error) {
	if err := r.enter("clGetPlatformIDs", ""); err != nil {
		return nil, err
	}
	return []compute.Platform{r.platform}, nil
}

// CreateContext creates a context bound to d.
func (r *Runtime) CreateContext(d compute.Device) (compute.Context, error) {
	if err := r.enter("clCreateContext", ""); err != nil {
		return nil, err
	}
	dev, ok := d.(*Device)
	if !ok || dev.rt != r {
		return nil, compute.Check("clCreateContext", compute.StatusInvalidDevice)
	}
	return &Context{rt: r, dev: dev, handle: r.newHandle("ctx")}, nil
}

// Platform is the emulator platform.
type Platform struct {
	rt      *Runtime
	info    compute.PlatformInfo
	devices []*Device
}

func (p *Platform) Info() compute.PlatformInfo { return p.info }

// Devices returns the devices of class t. DeviceTypeDefault selects the
// first device.
func (p *Platform) Devices(t compute.DeviceType) ([]compute.Device, error) {
	if err := p.rt.enter("clGetDeviceIDs", string(t)); err != nil {
		return nil, err
	}
	if _, err := compute.ParseDeviceType(string(t)); err != nil {
		return nil, compute.Check("clGetDeviceIDs", compute.StatusInvalidDeviceType)
	}
	var out []compute.Device
	for _, d := range p.devices {
		if t == compute.DeviceTypeDefault || d.info.Type.Matches(t) {
			out = append(out, d)
			if t == compute.DeviceTypeDefault {
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, compute.Check("clGetDeviceIDs", compute.StatusDeviceNotFound)
	}
	return out, nil
}

// Device is an emulated device.
type Device struct {
	rt        *Runtime
	info      compute.DeviceInfo
	mu        sync.Mutex
	allocated uint64
}

func (d *Device) Info() compute.DeviceInfo { return d.info }

func (d *Device) reserve(n uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.allocated+n > d.info.GlobalMemBytes {
		return false
	}
	d.allocated += n
	return true
}

func (d *Device) unreserve(n uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allocated -= n
}

// Allocated returns the bytes held by live buffers.
func (d *Device) Allocated() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocated
}
