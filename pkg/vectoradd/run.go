package vectoradd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/orneryd/vecadd/pkg/compute"
	"github.com/orneryd/vecadd/pkg/gpu"
)

// Defaults of a run.
const (
	DefaultN          = 1 << 20
	DefaultLocalSize  = 1024
	DefaultFillA      = 1
	DefaultFillB      = 2
	DefaultKernelPath = "VectorAdd.cl"
	DefaultEntry      = "addVectors"
)

// Errors
var (
	ErrInvalidLength        = errors.New("vectoradd: vector length must be positive")
	ErrInvalidLocalSize     = errors.New("vectoradd: local work size must be positive")
	ErrWorkSizeNotDivisible = errors.New("vectoradd: vector length is not a multiple of the local work size")
)

// Options configures a run.
type Options struct {
	N         int
	LocalSize int
	FillA     int32
	FillB     int32

	KernelPath   string
	Entry        string
	BuildOptions string

	// Logger receives diagnostic lines. Nil discards them.
	Logger *log.Logger
}

// DefaultOptions returns the options of the reference run: 2^20 elements,
// A=1, B=2, local size 1024, kernel addVectors from VectorAdd.cl.
func DefaultOptions() Options {
	return Options{
		N:          DefaultN,
		LocalSize:  DefaultLocalSize,
		FillA:      DefaultFillA,
		FillB:      DefaultFillB,
		KernelPath: DefaultKernelPath,
		Entry:      DefaultEntry,
	}
}

// CheckGeometry validates a 1-D launch of n work-items in groups of local.
func CheckGeometry(n, local int) error {
	if n <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLength, n)
	}
	if local <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLocalSize, local)
	}
	if n%local != 0 {
		return fmt.Errorf("%w: %d %% %d = %d", ErrWorkSizeNotDivisible, n, local, n%local)
	}
	return nil
}

// Timings records the wall time of each phase.
type Timings struct {
	Setup    time.Duration
	Upload   time.Duration
	Build    time.Duration
	Kernel   time.Duration
	Download time.Duration
	Verify   time.Duration
	Teardown time.Duration
}

// Total returns the sum of all phases.
func (t Timings) Total() time.Duration {
	return t.Setup + t.Upload + t.Build + t.Kernel + t.Download + t.Verify + t.Teardown
}

// Report describes a completed run.
type Report struct {
	RunID    string
	Backend  string
	Platform string
	Device   string

	N         int
	LocalSize int

	SourcePath   string
	SourceDigest string

	// MismatchIndex is the first wrong index, or -1 when OK.
	MismatchIndex int
	OK            bool

	Timings Timings
	Stats   gpu.AcceleratorStats
}

// Message returns the verification line of the run.
func (r *Report) Message() string {
	if r.OK {
		return "No errors. All good!"
	}
	return fmt.Sprintf("Wrong result at index: %d", r.MismatchIndex)
}

// Run executes the pipeline on the accelerator's runtime.
//
// Device failures are returned as *compute.DeviceError located at the failed
// check; an unreadable kernel file as *KernelSourceError. When verification
// completed but teardown failed, both the report and the error are returned.
// ctx is checked between steps; device calls themselves are not interrupted.
func Run(ctx context.Context, accel *gpu.Accelerator, opts Options) (*Report, error) {
	if err := CheckGeometry(opts.N, opts.LocalSize); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	report := &Report{
		RunID:         uuid.NewString(),
		Backend:       accel.Backend(),
		N:             opts.N,
		LocalSize:     opts.LocalSize,
		SourcePath:    opts.KernelPath,
		MismatchIndex: -1,
	}

	start := time.Now()
	host := NewHostVectors(opts.N, opts.FillA, opts.FillB)
	defer host.Free()

	s := &Session{logger: logger}
	closed := false
	defer func() {
		if !closed {
			s.abort()
		}
	}()

	rt := accel.Runtime()
	if rt == nil {
		return nil, gpu.ErrGPUNotAvailable
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	device, err := accel.SelectDevice()
	if err != nil {
		return nil, compute.Trace(err)
	}
	report.Platform = accel.PlatformName()
	report.Device = accel.DeviceName()
	logger.Printf("[vecadd] run %s: %s on %s (%s, %d compute units, %d MB)",
		report.RunID, report.Device, report.Platform, report.Backend,
		device.Info().MaxComputeUnits, accel.DeviceMemoryMB())

	if s.Context, err = rt.CreateContext(device); err != nil {
		return nil, compute.Trace(err)
	}
	if s.Queue, err = s.Context.CreateQueue(device); err != nil {
		return nil, compute.Trace(err)
	}

	size := host.Bytes()
	if s.A, err = s.Context.CreateBuffer(compute.ReadOnly, size); err != nil {
		return nil, compute.Trace(err)
	}
	if s.B, err = s.Context.CreateBuffer(compute.ReadOnly, size); err != nil {
		return nil, compute.Trace(err)
	}
	if s.C, err = s.Context.CreateBuffer(compute.WriteOnly, size); err != nil {
		return nil, compute.Trace(err)
	}
	report.Timings.Setup = time.Since(start)
	logger.Printf("[vecadd] allocated 3 x %s device buffers (N=%s)",
		humanize.IBytes(uint64(size)), humanize.Comma(int64(opts.N)))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start = time.Now()
	if err := s.Queue.WriteInt32(s.A, host.A); err != nil {
		return nil, compute.Trace(err)
	}
	accel.RecordUpload(size)
	if err := s.Queue.WriteInt32(s.B, host.B); err != nil {
		return nil, compute.Trace(err)
	}
	accel.RecordUpload(size)
	report.Timings.Upload = time.Since(start)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start = time.Now()
	src, err := LoadKernelSource(opts.KernelPath)
	if err != nil {
		return nil, err
	}
	report.SourceDigest = src.DigestHex()
	logger.Printf("[vecadd] loaded %s (%s, blake2b %s)",
		src.Path, humanize.IBytes(uint64(len(src.Data))), report.SourceDigest[:16])

	if s.Program, err = s.Context.CreateProgram(src.Data); err != nil {
		return nil, compute.Trace(err)
	}
	if err := s.Program.Build(device, opts.BuildOptions); err != nil {
		var de *compute.DeviceError
		if errors.As(err, &de) && de.Log != "" {
			logger.Printf("[vecadd] build log:\n%s", de.Log)
		}
		return nil, compute.Trace(err)
	}
	if s.Kernel, err = s.Program.CreateKernel(opts.Entry); err != nil {
		return nil, compute.Trace(err)
	}
	report.Timings.Build = time.Since(start)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start = time.Now()
	if err := s.Kernel.SetArgBuffer(0, s.A); err != nil {
		return nil, compute.Trace(err)
	}
	if err := s.Kernel.SetArgBuffer(1, s.B); err != nil {
		return nil, compute.Trace(err)
	}
	if err := s.Kernel.SetArgBuffer(2, s.C); err != nil {
		return nil, compute.Trace(err)
	}
	if err := s.Queue.EnqueueKernel(s.Kernel, opts.N, opts.LocalSize); err != nil {
		return nil, compute.Trace(err)
	}
	accel.RecordKernel()
	report.Timings.Kernel = time.Since(start)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start = time.Now()
	if err := s.Queue.ReadInt32(s.C, host.C); err != nil {
		return nil, compute.Trace(err)
	}
	accel.RecordDownload(size)
	report.Timings.Download = time.Since(start)

	start = time.Now()
	report.MismatchIndex, report.OK = Verify(host.A, host.B, host.C)
	report.Timings.Verify = time.Since(start)

	start = time.Now()
	closed = true
	err = s.Close()
	report.Timings.Teardown = time.Since(start)
	report.Stats = accel.Stats()
	logger.Printf("[vecadd] run %s finished in %s (uploaded %s, downloaded %s)",
		report.RunID, report.Timings.Total(),
		humanize.IBytes(uint64(report.Stats.BytesUploaded)),
		humanize.IBytes(uint64(report.Stats.BytesDownloaded)))
	if err != nil {
		return report, err
	}
	return report, nil
}
