// Command vecadd adds two int32 vectors on an OpenCL device and verifies the
// result on the host.
//
// With no flags and no config file it runs the reference workload: 2^20
// elements, A filled with 1, B filled with 2, kernel addVectors built from
// VectorAdd.cl in the working directory, local work size 1024, on the first
// GPU of the first platform.
//
// Usage:
//
//	vecadd [flags]
//	vecadd devices [flags]
//	vecadd version
//
// Output and exit status:
//
//	No errors. All good!              exit 0
//	Wrong result at index: <i>        exit 0 (1 with --strict)
//	Cannot open file <path>           exit -1
//	OpenCLassert: <code> <file> <line>  exit <code>
//	invalid configuration             exit 2
//
// Negative exit codes are truncated by the operating system (-1 becomes 255
// on Unix shells).
//
// Example:
//
//	# Reference run on the system driver
//	go build -tags opencl ./cmd/vecadd && ./vecadd
//
//	# Host emulator, smaller vectors, CPU fallback
//	vecadd --backend emulated --n 65536 --local-size 256 --fallback cpu -v
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/orneryd/vecadd/pkg/compute"
	"github.com/orneryd/vecadd/pkg/config"
	"github.com/orneryd/vecadd/pkg/gpu"
	"github.com/orneryd/vecadd/pkg/gpu/opencl"
	"github.com/orneryd/vecadd/pkg/vectoradd"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes that are not device statuses.
const (
	exitOK            = 0
	exitFailure       = 1
	exitConfig        = 2
	exitMissingSource = -1
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	configPath   string
	kernel       string
	entry        string
	n            int
	localSize    int
	fillA        int32
	fillB        int32
	backend      string
	deviceType   string
	fallback     []string
	platform     int
	device       int
	buildOptions string
	strict       bool
	verbose      bool
}

// execute runs the command line and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	prevOut, prevFlags := log.Writer(), log.Flags()
	defer func() {
		log.SetOutput(prevOut)
		log.SetFlags(prevFlags)
	}()

	code := exitOK
	root := newRootCmd(stdout, stderr, &code)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		return report(err, stdout, stderr)
	}
	return code
}

func newRootCmd(stdout, stderr io.Writer, code *int) *cobra.Command {
	var opts options

	root := &cobra.Command{
		Use:           "vecadd",
		Short:         "Add two int32 vectors on an OpenCL device and verify the result",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, &opts)
			if err != nil {
				return err
			}
			logger := setupLogging(cfg.Verbose, stderr)
			ok, err := run(cmd.Context(), cfg, logger, stdout)
			if err != nil {
				return err
			}
			if !ok && cfg.Strict {
				*code = exitFailure
			}
			return nil
		},
	}

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&opts.backend, "backend", "", "compute backend: auto, opencl, emulated")
	pf.StringVar(&opts.deviceType, "device-type", "", "device class: gpu, cpu, accelerator, default, all")
	pf.StringSliceVar(&opts.fallback, "fallback", nil, "device classes tried when none of --device-type exists")
	pf.IntVar(&opts.platform, "platform", 0, "platform index")
	pf.IntVar(&opts.device, "device", 0, "device index within the selected class")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "log diagnostics to stderr")

	f := root.Flags()
	f.StringVar(&opts.kernel, "kernel", vectoradd.DefaultKernelPath, "kernel source file")
	f.StringVar(&opts.entry, "entry", vectoradd.DefaultEntry, "kernel entry point")
	f.IntVar(&opts.n, "n", vectoradd.DefaultN, "vector length")
	f.IntVar(&opts.localSize, "local-size", vectoradd.DefaultLocalSize, "local work size")
	f.Int32Var(&opts.fillA, "fill-a", vectoradd.DefaultFillA, "value of every element of A")
	f.Int32Var(&opts.fillB, "fill-b", vectoradd.DefaultFillB, "value of every element of B")
	f.StringVar(&opts.buildOptions, "build-options", "", "program build options")
	f.BoolVar(&opts.strict, "strict", false, "exit 1 when verification finds a mismatch")

	root.AddCommand(newDevicesCmd(stdout, stderr, &opts))
	root.AddCommand(newVersionCmd(stdout))
	return root
}

// loadConfig layers defaults, the config file, VECADD_* variables and the
// flags that were set explicitly.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("kernel") {
		cfg.Kernel.Path = opts.kernel
	}
	if changed("entry") {
		cfg.Kernel.Entry = opts.entry
	}
	if changed("build-options") {
		cfg.Kernel.BuildOptions = opts.buildOptions
	}
	if changed("n") {
		cfg.Vector.Length = opts.n
	}
	if changed("local-size") {
		cfg.Dispatch.LocalSize = opts.localSize
	}
	if changed("fill-a") {
		cfg.Vector.FillA = opts.fillA
	}
	if changed("fill-b") {
		cfg.Vector.FillB = opts.fillB
	}
	if changed("backend") {
		cfg.Device.Backend = opts.backend
	}
	if changed("device-type") {
		cfg.Device.Type = opts.deviceType
	}
	if changed("fallback") {
		cfg.Device.Fallback = opts.fallback
	}
	if changed("platform") {
		cfg.Device.Platform = opts.platform
	}
	if changed("device") {
		cfg.Device.Index = opts.device
	}
	if changed("strict") {
		cfg.Strict = opts.strict
	}
	if changed("verbose") {
		cfg.Verbose = opts.verbose
	}

	// The devices subcommand only needs the device section.
	if cmd.Name() == "devices" {
		if _, err := cfg.GPUConfig(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(verbose bool, stderr io.Writer) *log.Logger {
	if !verbose {
		log.SetOutput(io.Discard)
		return nil
	}
	log.SetOutput(stderr)
	log.SetFlags(log.LstdFlags)
	return log.New(stderr, "", log.LstdFlags)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// run executes one pipeline run and prints the verification line. It
// reports whether verification passed.
func run(parent context.Context, cfg *config.Config, logger *log.Logger, stdout io.Writer) (bool, error) {
	ctx, cancel := signalContext(parent)
	defer cancel()

	gc, err := cfg.GPUConfig()
	if err != nil {
		return false, err
	}
	accel, err := gpu.NewAccelerator(gc)
	if err != nil {
		return false, compute.Trace(err)
	}
	defer accel.Release()

	result, err := vectoradd.Run(ctx, accel, cfg.RunOptions(logger))
	if result != nil {
		fmt.Fprintln(stdout, result.Message())
		if logger != nil {
			t := result.Timings
			logger.Printf("[vecadd] timings: setup %s, upload %s, build %s, kernel %s, download %s, verify %s, teardown %s",
				t.Setup, t.Upload, t.Build, t.Kernel, t.Download, t.Verify, t.Teardown)
		}
	}
	if err != nil {
		return false, err
	}
	return result.OK, nil
}

// report prints err the way its kind requires and returns the exit code.
func report(err error, stdout, stderr io.Writer) int {
	var (
		kse *vectoradd.KernelSourceError
		de  *compute.DeviceError
	)
	switch {
	case errors.As(err, &kse):
		fmt.Fprintln(stdout, kse.Error())
	case errors.As(err, &de):
		fmt.Fprintf(stdout, "OpenCLassert: %d %s %d\n", int32(de.Status), filepath.Base(de.File), de.Line)
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if de.Log != "" {
			fmt.Fprintf(stderr, "Build log:\n%s\n", de.Log)
		}
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var (
		kse *vectoradd.KernelSourceError
		de  *compute.DeviceError
	)
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &kse):
		return exitMissingSource
	case errors.As(err, &de):
		return int(de.Status)
	case errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, gpu.ErrUnknownBackend),
		errors.Is(err, vectoradd.ErrWorkSizeNotDivisible),
		errors.Is(err, vectoradd.ErrInvalidLength),
		errors.Is(err, vectoradd.ErrInvalidLocalSize):
		return exitConfig
	}
	return exitFailure
}

func newDevicesCmd(stdout, stderr io.Writer, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the platforms and devices of the selected backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			setupLogging(cfg.Verbose, stderr)
			gc, err := cfg.GPUConfig()
			if err != nil {
				return err
			}
			accel, err := gpu.NewAccelerator(gc)
			if err != nil {
				return compute.Trace(err)
			}
			defer accel.Release()
			return listDevices(accel.Runtime(), stdout)
		},
	}
}

func listDevices(rt compute.Runtime, w io.Writer) error {
	platforms, err := rt.Platforms()
	if err != nil {
		return compute.Trace(err)
	}
	fmt.Fprintf(w, "Backend: %s\n", rt.Name())
	for i, p := range platforms {
		info := p.Info()
		fmt.Fprintf(w, "Platform %d: %s (%s, %s)\n", i, info.Name, info.Vendor, info.Version)

		devices, err := p.Devices(compute.DeviceTypeAll)
		if compute.IsStatus(err, compute.StatusDeviceNotFound) {
			fmt.Fprintln(w, "  no devices")
			continue
		}
		if err != nil {
			return compute.Trace(err)
		}
		for j, d := range devices {
			di := d.Info()
			fmt.Fprintf(w, "  Device %d: %s [%s] %s, %d compute units, max work-group %d, %s\n",
				j, di.Name, di.Type, di.Vendor, di.MaxComputeUnits, di.MaxWorkGroupSize,
				humanize.IBytes(di.GlobalMemBytes))
		}
	}
	return nil
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and OpenCL availability",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(stdout, "vecadd %s\n", version)
			if opencl.IsAvailable() {
				fmt.Fprintf(stdout, "OpenCL: available (%d devices)\n", opencl.DeviceCount())
			} else {
				fmt.Fprintln(stdout, "OpenCL: not available (build with -tags opencl)")
			}
		},
	}
}
