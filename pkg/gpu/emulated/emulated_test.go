package emulated

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/vecadd/pkg/compute"
)

const addSource = `
// element-wise add
__kernel void addVectors(__global const int* a, __global const int* b, __global int* c) {
    int i = get_global_id(0);
    c[i] = a[i] + b[i];
}
`

type fixture struct {
	rt   *Runtime
	dev  compute.Device
	ctx  compute.Context
	q    compute.Queue
	prog compute.Program
}

func newFixture(t *testing.T, opts Options, src string) *fixture {
	t.Helper()
	rt := New(opts)
	platforms, err := rt.Platforms()
	require.NoError(t, err)
	require.Len(t, platforms, 1)
	devs, err := platforms[0].Devices(compute.DeviceTypeAll)
	require.NoError(t, err)
	ctx, err := rt.CreateContext(devs[0])
	require.NoError(t, err)
	q, err := ctx.CreateQueue(devs[0])
	require.NoError(t, err)
	prog, err := ctx.CreateProgram([]byte(src))
	require.NoError(t, err)
	return &fixture{rt: rt, dev: devs[0], ctx: ctx, q: q, prog: prog}
}

func (f *fixture) buffer(t *testing.T, n int, data []int32) compute.Buffer {
	t.Helper()
	b, err := f.ctx.CreateBuffer(compute.ReadWrite, n*compute.ElementSize)
	require.NoError(t, err)
	if data != nil {
		require.NoError(t, f.q.WriteInt32(b, data))
	}
	return b
}

func fill(n int, v int32) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestDevices(t *testing.T) {
	rt := New(Options{})
	platforms, err := rt.Platforms()
	require.NoError(t, err)
	p := platforms[0]
	assert.Equal(t, "vecadd host emulator", p.Info().Name)

	gpus, err := p.Devices(compute.DeviceTypeGPU)
	require.NoError(t, err)
	require.Len(t, gpus, 1)
	assert.Equal(t, compute.DeviceTypeGPU, gpus[0].Info().Type)
	assert.Equal(t, DefaultMaxWorkGroupSize, gpus[0].Info().MaxWorkGroupSize)

	all, err := p.Devices(compute.DeviceTypeAll)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	def, err := p.Devices(compute.DeviceTypeDefault)
	require.NoError(t, err)
	assert.Len(t, def, 1)

	_, err = p.Devices(compute.DeviceTypeAccelerator)
	assert.True(t, compute.IsStatus(err, compute.StatusDeviceNotFound))
}

func TestCPUOnlyHidesGPU(t *testing.T) {
	rt := New(Options{CPUOnly: true})
	platforms, err := rt.Platforms()
	require.NoError(t, err)

	_, err = platforms[0].Devices(compute.DeviceTypeGPU)
	assert.True(t, compute.IsStatus(err, compute.StatusDeviceNotFound))

	cpus, err := platforms[0].Devices(compute.DeviceTypeCPU)
	require.NoError(t, err)
	assert.Contains(t, cpus[0].Info().Name, "Emulated CPU")
}

func TestAddVectors(t *testing.T) {
	const n = 4096
	f := newFixture(t, Options{Workers: 4}, addSource)
	require.NoError(t, f.prog.Build(f.dev, ""))

	a := f.buffer(t, n, fill(n, 1))
	b := f.buffer(t, n, fill(n, 2))
	c := f.buffer(t, n, nil)

	k, err := f.prog.CreateKernel("addVectors")
	require.NoError(t, err)
	assert.Equal(t, "addVectors", k.Name())
	require.NoError(t, k.SetArgBuffer(0, a))
	require.NoError(t, k.SetArgBuffer(1, b))
	require.NoError(t, k.SetArgBuffer(2, c))
	require.NoError(t, f.q.EnqueueKernel(k, n, 256))

	out := make([]int32, n)
	require.NoError(t, f.q.ReadInt32(c, out))
	for i, v := range out {
		if v != 3 {
			t.Fatalf("out[%d] = %d, want 3", i, v)
		}
	}
}

func TestKernelSubset(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		options string
		a, b    int32
		scalar  *int32
		want    func(i int) int32
	}{
		{
			name: "copy",
			src: `__kernel void k(__global const int* a, __global const int* b, __global int* c) {
				int i = get_global_id(0);
				c[i] = a[i];
			}`,
			a: 7, b: 9,
			want: func(int) int32 { return 7 },
		},
		{
			name: "arithmetic and precedence",
			src: `kernel void k(global int* a, global int* b, global int* c) {
				const int i = get_global_id(0);
				c[i] = (a[i] - b[i]) * 3 + -2;
			}`,
			a: 10, b: 4,
			want: func(int) int32 { return 16 },
		},
		{
			name: "work-item id and macro",
			src: `__kernel void k(__global int* a, __global int* b, __global int* c) {
				size_t i = get_global_id(0);
				c[get_global_id(0)] = (int)i * SCALE;
			}`,
			options: "-DSCALE=2 -cl-fast-relaxed-math",
			want:    func(i int) int32 { return int32(i * 2) },
		},
		{
			name: "guard with scalar",
			src: `__kernel void k(__global int* a, __global int* b, __global int* c, const int n) {
				int i = get_global_id(0);
				if (i >= n) return;
				c[i] = a[i] + b[i];
			}`,
			a: 1, b: 2, scalar: ptr(int32(10)),
			want: func(i int) int32 {
				if i >= 10 {
					return 0
				}
				return 3
			},
		},
		{
			name: "compound assignment in block",
			src: `__kernel void k(__global int* a, __global int* b, __global int* c) {
				int i = get_global_id(0);
				/* accumulate */
				if (i < 100000) {
					c[i] = a[i];
					c[i] += b[i];
					c[i] *= 2;
				}
			}`,
			a: 1, b: 2,
			want: func(int) int32 { return 6 },
		},
		{
			name: "int wraps",
			src: `__kernel void k(__global int* a, __global int* b, __global int* c) {
				int i = get_global_id(0);
				c[i] = a[i] + 1;
			}`,
			a: 2147483647,
			want: func(int) int32 { return -2147483648 },
		},
		{
			name: "uint buffer compares unsigned",
			src: `__kernel void k(__global uint* a, __global int* b, __global int* c) {
				int i = get_global_id(0);
				if (a[i] > 5) c[i] = 1;
			}`,
			a:    -1,
			want: func(int) int32 { return 1 },
		},
		{
			name: "int comparison sees wrapped sum",
			src: `__kernel void k(__global int* a, __global int* b, __global int* c) {
				int i = get_global_id(0);
				if (a[i] + a[i] < 0) c[i] = 1;
			}`,
			a:    2147483647,
			want: func(int) int32 { return 1 },
		},
		{
			name: "int operand converted to uint",
			src: `__kernel void k(__global unsigned int* a, __global int* b, __global int* c) {
				int i = get_global_id(0);
				if (a[i] - 1 < b[i]) c[i] = 1;
			}`,
			a: 0, b: 5,
			want: func(int) int32 { return 0 },
		},
		{
			name: "unsigned cast and literal",
			src: `__kernel void k(__global int* a, __global int* b, __global int* c) {
				int i = get_global_id(0);
				if ((unsigned int)a[i] >= 0x80000000) c[i] = 2;
				if (a[i] < 0) c[i] += 1;
			}`,
			a:    -5,
			want: func(int) int32 { return 3 },
		},
		{
			name: "uint multiply wraps",
			src: `__kernel void k(__global uint* a, __global uint* b, __global uint* c) {
				int i = get_global_id(0);
				c[i] = a[i] * b[i] + 7u;
			}`,
			a: 65536, b: 65537,
			want: func(int) int32 { return 65536 + 7 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const n = 64
			f := newFixture(t, Options{}, tt.src)
			require.NoError(t, f.prog.Build(f.dev, tt.options))

			k, err := f.prog.CreateKernel("k")
			require.NoError(t, err)
			c := f.buffer(t, n, fill(n, 0))
			require.NoError(t, k.SetArgBuffer(0, f.buffer(t, n, fill(n, tt.a))))
			require.NoError(t, k.SetArgBuffer(1, f.buffer(t, n, fill(n, tt.b))))
			require.NoError(t, k.SetArgBuffer(2, c))
			if tt.scalar != nil {
				require.NoError(t, k.SetArgInt32(3, *tt.scalar))
			}
			require.NoError(t, f.q.EnqueueKernel(k, n, 16))

			out := make([]int32, n)
			require.NoError(t, f.q.ReadInt32(c, out))
			for i, v := range out {
				assert.Equal(t, tt.want(i), v, "index %d", i)
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestBuildFailures(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		options string
		status  compute.Status
		log     string
	}{
		{
			name:   "syntax error",
			src:    `__kernel void k(__global int* c) { int i = get_global_id(0) c[i] = 1; }`,
			status: compute.StatusBuildProgramFailure,
			log:    "expected ';'",
		},
		{
			name:   "undeclared identifier",
			src:    `__kernel void k(__global int* c) { int i = get_global_id(0); c[i] = d[i]; }`,
			status: compute.StatusBuildProgramFailure,
			log:    "undeclared identifier 'd'",
		},
		{
			name:   "float element type",
			src:    `__kernel void k(__global float* c) { }`,
			status: compute.StatusBuildProgramFailure,
			log:    "unsupported element type 'float'",
		},
		{
			name:   "write to const buffer",
			src:    `__kernel void k(__global const int* c) { int i = get_global_id(0); c[i] = 1; }`,
			status: compute.StatusBuildProgramFailure,
			log:    "read-only variable 'c'",
		},
		{
			name:   "division",
			src:    `__kernel void k(__global int* c) { int i = get_global_id(0); c[i] = c[i] / 2; }`,
			status: compute.StatusBuildProgramFailure,
			log:    "unsupported operator '/'",
		},
		{
			name:   "not a kernel",
			src:    `int helper(int x) { return x; }`,
			status: compute.StatusBuildProgramFailure,
			log:    "only __kernel functions",
		},
		{
			name:    "unknown option",
			src:     addSource,
			options: "--fast",
			status:  compute.StatusInvalidBuildOptions,
		},
		{
			name:    "non-integer macro",
			src:     addSource,
			options: "-DX=1.5",
			status:  compute.StatusInvalidBuildOptions,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{}, tt.src)
			err := f.prog.Build(f.dev, tt.options)
			require.Error(t, err)
			assert.True(t, compute.IsStatus(err, tt.status), "got %v", err)
			if tt.log != "" {
				var de *compute.DeviceError
				require.ErrorAs(t, err, &de)
				assert.Contains(t, de.Log, tt.log)
				assert.Contains(t, de.Log, "<program source>:")
				assert.Equal(t, de.Log, f.prog.(*Program).BuildLog())
			}
		})
	}
}

func TestCreateKernelErrors(t *testing.T) {
	f := newFixture(t, Options{}, addSource)

	_, err := f.prog.CreateKernel("addVectors")
	assert.True(t, compute.IsStatus(err, compute.StatusInvalidProgramExecutable), "unbuilt program")

	require.NoError(t, f.prog.Build(f.dev, ""))
	_, err = f.prog.CreateKernel("subVectors")
	assert.True(t, compute.IsStatus(err, compute.StatusInvalidKernelName))
}

func TestEnqueueValidation(t *testing.T) {
	const n = 1024
	f := newFixture(t, Options{MaxWorkGroupSize: 256}, addSource)
	require.NoError(t, f.prog.Build(f.dev, ""))
	k, err := f.prog.CreateKernel("addVectors")
	require.NoError(t, err)

	a := f.buffer(t, n, fill(n, 1))
	require.NoError(t, k.SetArgBuffer(0, a))
	require.NoError(t, k.SetArgBuffer(1, a))

	err = f.q.EnqueueKernel(k, n, 64)
	assert.True(t, compute.IsStatus(err, compute.StatusInvalidKernelArgs), "unset arg")

	require.NoError(t, k.SetArgBuffer(2, f.buffer(t, n, nil)))
	assert.True(t, compute.IsStatus(f.q.EnqueueKernel(k, n, 512), compute.StatusInvalidWorkGroupSize), "local above max")
	assert.True(t, compute.IsStatus(f.q.EnqueueKernel(k, n, 100), compute.StatusInvalidWorkGroupSize), "not divisible")
	assert.True(t, compute.IsStatus(f.q.EnqueueKernel(k, 0, 64), compute.StatusInvalidGlobalWorkSize))
	assert.NoError(t, f.q.EnqueueKernel(k, n, 256))

	assert.True(t, compute.IsStatus(k.SetArgBuffer(5, a), compute.StatusInvalidArgIndex))
	assert.True(t, compute.IsStatus(k.SetArgInt32(0, 1), compute.StatusInvalidArgSize))
}

func TestOutOfBoundsAccess(t *testing.T) {
	f := newFixture(t, Options{}, addSource)
	require.NoError(t, f.prog.Build(f.dev, ""))
	k, err := f.prog.CreateKernel("addVectors")
	require.NoError(t, err)

	small := f.buffer(t, 16, fill(16, 1))
	big := f.buffer(t, 64, fill(64, 1))
	require.NoError(t, k.SetArgBuffer(0, small))
	require.NoError(t, k.SetArgBuffer(1, big))
	require.NoError(t, k.SetArgBuffer(2, big))

	err = f.q.EnqueueKernel(k, 64, 16)
	assert.True(t, compute.IsStatus(err, compute.StatusOutOfResources), "got %v", err)
}

func TestRoundTripThroughCopyKernel(t *testing.T) {
	const n = 2048
	src := `__kernel void copy(__global const int* x, __global int* y) {
    int i = get_global_id(0);
    y[i] = x[i];
}`
	f := newFixture(t, Options{}, src)
	require.NoError(t, f.prog.Build(f.dev, ""))

	data := make([]int32, n)
	for i := range data {
		data[i] = int32(i*7919) ^ -int32(i)
	}
	in := f.buffer(t, n, data)
	out := f.buffer(t, n, nil)

	k, err := f.prog.CreateKernel("copy")
	require.NoError(t, err)
	require.NoError(t, k.SetArgBuffer(0, in))
	require.NoError(t, k.SetArgBuffer(1, out))
	require.NoError(t, f.q.EnqueueKernel(k, n, 128))

	got := make([]int32, n)
	require.NoError(t, f.q.ReadInt32(out, got))
	assert.Equal(t, data, got)
}

func TestTransferValidation(t *testing.T) {
	f := newFixture(t, Options{}, addSource)
	b := f.buffer(t, 4, nil)

	assert.True(t, compute.IsStatus(f.q.WriteInt32(b, fill(8, 1)), compute.StatusInvalidValue), "write past end")
	assert.True(t, compute.IsStatus(f.q.ReadInt32(b, make([]int32, 8)), compute.StatusInvalidValue), "read past end")

	require.NoError(t, b.Release())
	assert.True(t, compute.IsStatus(f.q.WriteInt32(b, fill(4, 1)), compute.StatusInvalidMemObject), "released buffer")
	assert.True(t, compute.IsStatus(b.Release(), compute.StatusInvalidMemObject), "double release")
}

func TestBufferAllocationLimit(t *testing.T) {
	f := newFixture(t, Options{GlobalMemBytes: 1024}, addSource)
	dev := f.dev.(*Device)

	b, err := f.ctx.CreateBuffer(compute.ReadOnly, 1024)
	require.NoError(t, err)
	assert.Equal(t, compute.ReadOnly, b.Access())
	assert.Equal(t, uint64(1024), dev.Allocated())

	_, err = f.ctx.CreateBuffer(compute.ReadOnly, 4)
	assert.True(t, compute.IsStatus(err, compute.StatusMemObjectAllocationFailed))

	require.NoError(t, b.Release())
	assert.Zero(t, dev.Allocated())

	_, err = f.ctx.CreateBuffer(compute.ReadWrite, 0)
	assert.True(t, compute.IsStatus(err, compute.StatusInvalidBufferSize))
}

func TestReleasedHandles(t *testing.T) {
	f := newFixture(t, Options{}, addSource)

	require.NoError(t, f.q.Flush())
	require.NoError(t, f.q.Finish())
	require.NoError(t, f.q.Release())
	assert.True(t, compute.IsStatus(f.q.Finish(), compute.StatusInvalidCommandQueue))
	assert.True(t, compute.IsStatus(f.q.Release(), compute.StatusInvalidCommandQueue))

	require.NoError(t, f.prog.Release())
	assert.True(t, compute.IsStatus(f.prog.Build(f.dev, ""), compute.StatusInvalidProgram))

	require.NoError(t, f.ctx.Release())
	assert.True(t, compute.IsStatus(f.ctx.Release(), compute.StatusInvalidContext))
	_, err := f.ctx.CreateBuffer(compute.ReadWrite, 4)
	assert.True(t, compute.IsStatus(err, compute.StatusInvalidContext))
}

func TestFaultInjection(t *testing.T) {
	f := newFixture(t, Options{Faults: []Fault{
		{Op: "clCreateBuffer", Call: 2, Status: compute.StatusMemObjectAllocationFailed},
		{Op: "clFinish", Status: compute.StatusOutOfResources},
	}}, addSource)

	_, err := f.ctx.CreateBuffer(compute.ReadWrite, 4)
	require.NoError(t, err)
	_, err = f.ctx.CreateBuffer(compute.ReadWrite, 4)
	assert.True(t, compute.IsStatus(err, compute.StatusMemObjectAllocationFailed))
	_, err = f.ctx.CreateBuffer(compute.ReadWrite, 4)
	assert.NoError(t, err)

	assert.True(t, compute.IsStatus(f.q.Finish(), compute.StatusOutOfResources))
	assert.True(t, compute.IsStatus(f.q.Finish(), compute.StatusOutOfResources))
	assert.Equal(t, 2, f.rt.CallCount("clFinish"))
}

func TestJournal(t *testing.T) {
	f := newFixture(t, Options{}, addSource)
	b := f.buffer(t, 4, nil)
	require.NoError(t, b.Release())

	assert.Equal(t, []string{
		"clGetPlatformIDs",
		"clGetDeviceIDs",
		"clCreateContext",
		"clCreateCommandQueue",
		"clCreateProgramWithSource",
		"clCreateBuffer",
		"clReleaseMemObject",
	}, f.rt.Ops())

	journal := f.rt.Journal()
	last := journal[len(journal)-1]
	assert.Equal(t, "clReleaseMemObject(mem1)", last.String())
}

func TestLexErrors(t *testing.T) {
	_, err := compile("__kernel void k(__global int* c) { /* open", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unterminated")

	_, err = compile("__kernel void k(__global int* c) { @ }", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected character")

	_, err = compile("   ", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no kernels")
}

func TestParseBuildOptions(t *testing.T) {
	defines, err := parseBuildOptions("-D N=4 -DFLAG -DHEX=0x10 -I /tmp/include -w -Werror -cl-mad-enable")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"N": 4, "FLAG": 1, "HEX": 16}, defines)

	_, err = parseBuildOptions("-D")
	assert.Error(t, err)
	_, err = parseBuildOptions("-D1X=2")
	assert.Error(t, err)
}

func TestBuildCache(t *testing.T) {
	f := newFixture(t, Options{}, addSource)
	require.NoError(t, f.prog.Build(f.dev, ""))

	again, err := f.ctx.CreateProgram([]byte(addSource))
	require.NoError(t, err)
	require.NoError(t, again.Build(f.dev, ""))
	_, err = again.CreateKernel("addVectors")
	require.NoError(t, err)

	// Different options compile again.
	require.NoError(t, again.Build(f.dev, "-D N=4"))

	stats := f.rt.BuildCacheStats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
	assert.Equal(t, 2, stats.Size)

	// Failed builds are not cached.
	bad, err := f.ctx.CreateProgram([]byte("__kernel void k(__global float* a) {}"))
	require.NoError(t, err)
	require.Error(t, bad.Build(f.dev, ""))
	require.Error(t, bad.Build(f.dev, ""))
	assert.Equal(t, 2, f.rt.BuildCacheStats().Size)
}

func TestBuildCacheDisabled(t *testing.T) {
	f := newFixture(t, Options{BuildCacheSize: -1}, addSource)
	require.NoError(t, f.prog.Build(f.dev, ""))
	require.NoError(t, f.prog.Build(f.dev, ""))

	stats := f.rt.BuildCacheStats()
	assert.Equal(t, uint64(0), stats.Hits)
	assert.Equal(t, 0, stats.Size)
}
