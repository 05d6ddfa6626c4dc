package emulated

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/orneryd/vecadd/pkg/cache"
	"github.com/orneryd/vecadd/pkg/compute"
)

// Program is kernel source compiled by the emulator.
type Program struct {
	ctx      *Context
	handle   string
	source   []byte
	released atomic.Bool

	mu      sync.Mutex
	kernels map[string]*kernelDef
	log     string
}

// Build compiles the program for d.
func (p *Program) Build(d compute.Device, options string) error {
	const op = "clBuildProgram"
	if err := p.ctx.rt.enter(op, p.handle); err != nil {
		return err
	}
	if p.released.Load() {
		return compute.Check(op, compute.StatusInvalidProgram)
	}
	if dev, ok := d.(*Device); !ok || dev != p.ctx.dev {
		return compute.Check(op, compute.StatusInvalidDevice)
	}
	defines, err := parseBuildOptions(options)
	if err != nil {
		return &compute.DeviceError{Op: op, Status: compute.StatusInvalidBuildOptions, Err: err}
	}

	builds := p.ctx.rt.builds
	key := cache.NewKey(p.source, options)
	var kernels map[string]*kernelDef
	if v, ok := builds.Get(key); ok {
		kernels = v.(map[string]*kernelDef)
	} else {
		kernels, err = compile(string(p.source), defines)
		if err == nil {
			builds.Put(key, kernels)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.kernels = nil
		p.log = err.Error() + "\n1 error generated.\n"
		return &compute.DeviceError{Op: op, Status: compute.StatusBuildProgramFailure, Log: p.log}
	}
	p.kernels = kernels
	p.log = ""
	return nil
}

// BuildLog returns the compiler output of the last build.
func (p *Program) BuildLog() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.log
}

// CreateKernel looks up a kernel of the built program.
func (p *Program) CreateKernel(name string) (compute.Kernel, error) {
	const op = "clCreateKernel"
	if err := p.ctx.rt.enter(op, p.handle); err != nil {
		return nil, err
	}
	if p.released.Load() {
		return nil, compute.Check(op, compute.StatusInvalidProgram)
	}
	p.mu.Lock()
	kernels := p.kernels
	p.mu.Unlock()
	if kernels == nil {
		return nil, compute.Check(op, compute.StatusInvalidProgramExecutable)
	}
	def, ok := kernels[name]
	if !ok {
		return nil, compute.Check(op, compute.StatusInvalidKernelName)
	}
	return &Kernel{
		prog:   p,
		handle: p.ctx.rt.newHandle("kernel"),
		def:    def,
		args:   make([]arg, len(def.params)),
	}, nil
}

// Release releases the program. A second release fails.
func (p *Program) Release() error {
	const op = "clReleaseProgram"
	if err := p.ctx.rt.enter(op, p.handle); err != nil {
		return err
	}
	if p.released.Swap(true) {
		return compute.Check(op, compute.StatusInvalidProgram)
	}
	return nil
}

// parseBuildOptions accepts -D macros and the optimization and warning flags
// a driver would take, and rejects everything else.
func parseBuildOptions(options string) (map[string]int64, error) {
	defines := make(map[string]int64)
	fields := strings.Fields(options)
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		switch {
		case f == "-D" || f == "-I":
			if i+1 >= len(fields) {
				return nil, fmt.Errorf("missing argument to %s", f)
			}
			i++
			if f == "-D" {
				if err := addDefine(defines, fields[i]); err != nil {
					return nil, err
				}
			}
		case strings.HasPrefix(f, "-D"):
			if err := addDefine(defines, f[2:]); err != nil {
				return nil, err
			}
		case strings.HasPrefix(f, "-I"), strings.HasPrefix(f, "-cl-"), f == "-w", f == "-Werror":
		default:
			return nil, fmt.Errorf("unsupported build option %q", f)
		}
	}
	return defines, nil
}

func addDefine(defines map[string]int64, def string) error {
	name, value, hasValue := strings.Cut(def, "=")
	if name == "" || !isIdentStart(name[0]) {
		return fmt.Errorf("invalid macro name in -D%s", def)
	}
	if !hasValue {
		defines[name] = 1
		return nil
	}
	v, err := strconv.ParseInt(strings.TrimRight(value, "uUlL"), 0, 64)
	if err != nil {
		return fmt.Errorf("macro %s: only integer values are supported", name)
	}
	defines[name] = v
	return nil
}

// arg is a bound kernel argument.
type arg struct {
	set    bool
	buf    *Buffer
	scalar int32
}

// Kernel is an entry point of a built program.
type Kernel struct {
	prog     *Program
	handle   string
	def      *kernelDef
	released atomic.Bool

	mu   sync.Mutex
	args []arg
}

func (k *Kernel) Name() string { return k.def.name }

// SetArgBuffer binds a buffer to a pointer parameter.
func (k *Kernel) SetArgBuffer(index int, b compute.Buffer) error {
	const op = "clSetKernelArg"
	if err := k.prog.ctx.rt.enter(op, k.handle); err != nil {
		return err
	}
	if k.released.Load() {
		return compute.Check(op, compute.StatusInvalidKernel)
	}
	if index < 0 || index >= len(k.def.params) {
		return compute.Check(op, compute.StatusInvalidArgIndex)
	}
	if k.def.params[index].kind != paramBuffer {
		return compute.Check(op, compute.StatusInvalidArgSize)
	}
	buf, ok := b.(*Buffer)
	if !ok || buf.released.Load() || buf.ctx != k.prog.ctx {
		return compute.Check(op, compute.StatusInvalidMemObject)
	}
	k.mu.Lock()
	k.args[index] = arg{set: true, buf: buf}
	k.mu.Unlock()
	return nil
}

// SetArgInt32 binds an int value to a scalar parameter.
func (k *Kernel) SetArgInt32(index int, v int32) error {
	const op = "clSetKernelArg"
	if err := k.prog.ctx.rt.enter(op, k.handle); err != nil {
		return err
	}
	if k.released.Load() {
		return compute.Check(op, compute.StatusInvalidKernel)
	}
	if index < 0 || index >= len(k.def.params) {
		return compute.Check(op, compute.StatusInvalidArgIndex)
	}
	if k.def.params[index].kind != paramScalar {
		return compute.Check(op, compute.StatusInvalidArgSize)
	}
	k.mu.Lock()
	k.args[index] = arg{set: true, scalar: v}
	k.mu.Unlock()
	return nil
}

// snapshot copies the bound arguments for a launch.
func (k *Kernel) snapshot(op string) ([]arg, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]arg, len(k.args))
	for i, a := range k.args {
		if !a.set {
			return nil, &compute.DeviceError{Op: op, Status: compute.StatusInvalidKernelArgs,
				Err: fmt.Errorf("argument %d (%s) is not set", i, k.def.params[i].name)}
		}
		if a.buf != nil && a.buf.released.Load() {
			return nil, compute.Check(op, compute.StatusInvalidMemObject)
		}
		out[i] = a
	}
	return out, nil
}

// Release releases the kernel. A second release fails.
func (k *Kernel) Release() error {
	const op = "clReleaseKernel"
	if err := k.prog.ctx.rt.enter(op, k.handle); err != nil {
		return err
	}
	if k.released.Swap(true) {
		return compute.Check(op, compute.StatusInvalidKernel)
	}
	return nil
}
