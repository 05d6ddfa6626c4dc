//go:build opencl && (linux || windows || darwin)
// +build opencl
// +build linux windows darwin

// Package opencl implements the compute device API on the system OpenCL driver.
package opencl

/*
#cgo linux CFLAGS: -I/opt/rocm/include -I/usr/include
#cgo linux LDFLAGS: -L/opt/rocm/lib -L/usr/lib/x86_64-linux-gnu -lOpenCL
#cgo darwin CFLAGS: -framework OpenCL
#cgo darwin LDFLAGS: -framework OpenCL
#cgo windows LDFLAGS: -lOpenCL

#define CL_TARGET_OPENCL_VERSION 120
#define CL_USE_DEPRECATED_OPENCL_1_2_APIS

#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif

#include <stdlib.h>

// Source is passed with an explicit length; kernel files are not
// NUL-terminated.
static cl_program vecadd_create_program(cl_context ctx, const char* src, size_t len, cl_int* err) {
    return clCreateProgramWithSource(ctx, 1, &src, &len, err);
}

static cl_context vecadd_create_context(cl_device_id dev, cl_int* err) {
    return clCreateContext(NULL, 1, &dev, NULL, NULL, err);
}

static cl_int vecadd_build_program(cl_program prog, cl_device_id dev, const char* options) {
    return clBuildProgram(prog, 1, &dev, options, NULL, NULL);
}

static cl_int vecadd_set_arg_mem(cl_kernel k, cl_uint index, cl_mem mem) {
    return clSetKernelArg(k, index, sizeof(cl_mem), &mem);
}

static cl_int vecadd_set_arg_int(cl_kernel k, cl_uint index, cl_int v) {
    return clSetKernelArg(k, index, sizeof(cl_int), &v);
}

static cl_int vecadd_enqueue_1d(cl_command_queue q, cl_kernel k, size_t global, size_t local) {
    return clEnqueueNDRangeKernel(q, k, 1, NULL, &global, &local, 0, NULL, NULL);
}
*/
import "C"

import (
	"strings"
	"sync"
	"unsafe"

	"github.com/orneryd/vecadd/pkg/compute"
)

// Backend name reported by Runtime.Name.
const Backend = "opencl"

func check(op string, status C.cl_int) error {
	return compute.Check(op, compute.Status(status))
}

// IsAvailable reports whether an OpenCL platform is installed.
func IsAvailable() bool {
	var n C.cl_uint
	return C.clGetPlatformIDs(0, nil, &n) == C.CL_SUCCESS && n > 0
}

// DeviceCount returns the number of devices across all platforms.
func DeviceCount() int {
	platforms, err := platformIDs()
	if err != nil {
		return 0
	}
	total := 0
	for _, p := range platforms {
		var n C.cl_uint
		if C.clGetDeviceIDs(p, C.CL_DEVICE_TYPE_ALL, 0, nil, &n) == C.CL_SUCCESS {
			total += int(n)
		}
	}
	return total
}

func platformIDs() ([]C.cl_platform_id, error) {
	var n C.cl_uint
	if err := check("clGetPlatformIDs", C.clGetPlatformIDs(0, nil, &n)); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, compute.Check("clGetPlatformIDs", compute.StatusPlatformNotFound)
	}
	ids := make([]C.cl_platform_id, n)
	if err := check("clGetPlatformIDs", C.clGetPlatformIDs(n, &ids[0], nil)); err != nil {
		return nil, err
	}
	return ids, nil
}

// Runtime is the system OpenCL driver.
type Runtime struct{}

// NewRuntime returns the driver runtime.
func NewRuntime() (*Runtime, error) {
	return &Runtime{}, nil
}

// Name returns "opencl".
func (r *Runtime) Name() string { return Backend }

// Platforms enumerates the installed platforms.
func (r *Runtime) Platforms() ([]compute.Platform, error) {
	ids, err := platformIDs()
	if err != nil {
		return nil, err
	}
	out := make([]compute.Platform, len(ids))
	for i, id := range ids {
		out[i] = &Platform{
			id: id,
			info: compute.PlatformInfo{
				Name:    platformString(id, C.CL_PLATFORM_NAME),
				Vendor:  platformString(id, C.CL_PLATFORM_VENDOR),
				Version: platformString(id, C.CL_PLATFORM_VERSION),
			},
		}
	}
	return out, nil
}

// CreateContext creates a context for d.
func (r *Runtime) CreateContext(d compute.Device) (compute.Context, error) {
	dev, ok := d.(*Device)
	if !ok {
		return nil, compute.Check("clCreateContext", compute.StatusInvalidDevice)
	}
	var status C.cl_int
	ctx := C.vecadd_create_context(dev.id, &status)
	if err := check("clCreateContext", status); err != nil {
		return nil, err
	}
	return &Context{id: ctx, dev: dev}, nil
}

func platformString(id C.cl_platform_id, param C.cl_platform_info) string {
	var size C.size_t
	if C.clGetPlatformInfo(id, param, 0, nil, &size) != C.CL_SUCCESS || size == 0 {
		return ""
	}
	buf := make([]byte, size)
	if C.clGetPlatformInfo(id, param, size, unsafe.Pointer(&buf[0]), nil) != C.CL_SUCCESS {
		return ""
	}
	return trimNull(buf)
}

func deviceString(id C.cl_device_id, param C.cl_device_info) string {
	var size C.size_t
	if C.clGetDeviceInfo(id, param, 0, nil, &size) != C.CL_SUCCESS || size == 0 {
		return ""
	}
	buf := make([]byte, size)
	if C.clGetDeviceInfo(id, param, size, unsafe.Pointer(&buf[0]), nil) != C.CL_SUCCESS {
		return ""
	}
	return trimNull(buf)
}

func trimNull(b []byte) string {
	return strings.TrimSpace(strings.TrimRight(string(b), "\x00"))
}

// Platform is an installed OpenCL platform.
type Platform struct {
	id   C.cl_platform_id
	info compute.PlatformInfo
}

func (p *Platform) Info() compute.PlatformInfo { return p.info }

func deviceTypeMask(t compute.DeviceType) (C.cl_device_type, bool) {
	switch t {
	case compute.DeviceTypeGPU:
		return C.CL_DEVICE_TYPE_GPU, true
	case compute.DeviceTypeCPU:
		return C.CL_DEVICE_TYPE_CPU, true
	case compute.DeviceTypeAccelerator:
		return C.CL_DEVICE_TYPE_ACCELERATOR, true
	case compute.DeviceTypeDefault:
		return C.CL_DEVICE_TYPE_DEFAULT, true
	case compute.DeviceTypeAll:
		return C.CL_DEVICE_TYPE_ALL, true
	}
	return 0, false
}

// Devices returns the platform's devices of class t.
func (p *Platform) Devices(t compute.DeviceType) ([]compute.Device, error) {
	mask, ok := deviceTypeMask(t)
	if !ok {
		return nil, compute.Check("clGetDeviceIDs", compute.StatusInvalidDeviceType)
	}
	var n C.cl_uint
	if err := check("clGetDeviceIDs", C.clGetDeviceIDs(p.id, mask, 0, nil, &n)); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, compute.Check("clGetDeviceIDs", compute.StatusDeviceNotFound)
	}
	ids := make([]C.cl_device_id, n)
	if err := check("clGetDeviceIDs", C.clGetDeviceIDs(p.id, mask, n, &ids[0], nil)); err != nil {
		return nil, err
	}
	out := make([]compute.Device, n)
	for i, id := range ids {
		out[i] = newDevice(id)
	}
	return out, nil
}

// Device is an OpenCL device.
type Device struct {
	id   C.cl_device_id
	info compute.DeviceInfo
}

func newDevice(id C.cl_device_id) *Device {
	d := &Device{id: id}
	d.info.Name = deviceString(id, C.CL_DEVICE_NAME)
	d.info.Vendor = deviceString(id, C.CL_DEVICE_VENDOR)
	d.info.Version = deviceString(id, C.CL_DEVICE_VERSION)

	var typ C.cl_device_type
	C.clGetDeviceInfo(id, C.CL_DEVICE_TYPE, C.size_t(unsafe.Sizeof(typ)), unsafe.Pointer(&typ), nil)
	switch {
	case typ&C.CL_DEVICE_TYPE_GPU != 0:
		d.info.Type = compute.DeviceTypeGPU
	case typ&C.CL_DEVICE_TYPE_CPU != 0:
		d.info.Type = compute.DeviceTypeCPU
	case typ&C.CL_DEVICE_TYPE_ACCELERATOR != 0:
		d.info.Type = compute.DeviceTypeAccelerator
	default:
		d.info.Type = compute.DeviceTypeDefault
	}

	var units C.cl_uint
	C.clGetDeviceInfo(id, C.CL_DEVICE_MAX_COMPUTE_UNITS, C.size_t(unsafe.Sizeof(units)), unsafe.Pointer(&units), nil)
	d.info.MaxComputeUnits = uint32(units)

	var wg C.size_t
	C.clGetDeviceInfo(id, C.CL_DEVICE_MAX_WORK_GROUP_SIZE, C.size_t(unsafe.Sizeof(wg)), unsafe.Pointer(&wg), nil)
	d.info.MaxWorkGroupSize = int(wg)

	var mem C.cl_ulong
	C.clGetDeviceInfo(id, C.CL_DEVICE_GLOBAL_MEM_SIZE, C.size_t(unsafe.Sizeof(mem)), unsafe.Pointer(&mem), nil)
	d.info.GlobalMemBytes = uint64(mem)
	return d
}

func (d *Device) Info() compute.DeviceInfo { return d.info }

// Context is an OpenCL context.
type Context struct {
	mu  sync.Mutex
	id  C.cl_context
	dev *Device
}

// CreateQueue creates an in-order command queue on d.
func (c *Context) CreateQueue(d compute.Device) (compute.Queue, error) {
	dev, ok := d.(*Device)
	if !ok {
		return nil, compute.Check("clCreateCommandQueue", compute.StatusInvalidDevice)
	}
	var status C.cl_int
	q := C.clCreateCommandQueue(c.id, dev.id, 0, &status)
	if err := check("clCreateCommandQueue", status); err != nil {
		return nil, err
	}
	return &Queue{id: q}, nil
}

func memFlags(access compute.MemAccess) C.cl_mem_flags {
	switch access {
	case compute.ReadOnly:
		return C.CL_MEM_READ_ONLY
	case compute.WriteOnly:
		return C.CL_MEM_WRITE_ONLY
	default:
		return C.CL_MEM_READ_WRITE
	}
}

// CreateBuffer allocates size bytes of device memory.
func (c *Context) CreateBuffer(access compute.MemAccess, size int) (compute.Buffer, error) {
	if size <= 0 {
		return nil, compute.Check("clCreateBuffer", compute.StatusInvalidBufferSize)
	}
	var status C.cl_int
	mem := C.clCreateBuffer(c.id, memFlags(access), C.size_t(size), nil, &status)
	if err := check("clCreateBuffer", status); err != nil {
		return nil, err
	}
	return &Buffer{id: mem, access: access, size: size}, nil
}

// CreateProgram creates a program from source text of exactly len(source)
// bytes.
func (c *Context) CreateProgram(source []byte) (compute.Program, error) {
	if len(source) == 0 {
		return nil, compute.Check("clCreateProgramWithSource", compute.StatusInvalidValue)
	}
	src := C.CBytes(source)
	defer C.free(src)

	var status C.cl_int
	prog := C.vecadd_create_program(c.id, (*C.char)(src), C.size_t(len(source)), &status)
	if err := check("clCreateProgramWithSource", status); err != nil {
		return nil, err
	}
	return &Program{id: prog}, nil
}

// Release releases the context.
func (c *Context) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.id == nil {
		return compute.Check("clReleaseContext", compute.StatusInvalidContext)
	}
	err := check("clReleaseContext", C.clReleaseContext(c.id))
	c.id = nil
	return err
}

// Queue is an OpenCL command queue.
type Queue struct {
	mu sync.Mutex
	id C.cl_command_queue
}

func bufferID(op string, b compute.Buffer) (C.cl_mem, error) {
	buf, ok := b.(*Buffer)
	if !ok || buf.id == nil {
		return nil, compute.Check(op, compute.StatusInvalidMemObject)
	}
	return buf.id, nil
}

// WriteInt32 copies src to the start of b and blocks until done.
func (q *Queue) WriteInt32(b compute.Buffer, src []int32) error {
	const op = "clEnqueueWriteBuffer"
	mem, err := bufferID(op, b)
	if err != nil {
		return err
	}
	if len(src) == 0 {
		return compute.Check(op, compute.StatusInvalidValue)
	}
	size := C.size_t(len(src) * compute.ElementSize)
	return check(op, C.clEnqueueWriteBuffer(q.id, mem, C.CL_TRUE, 0, size, unsafe.Pointer(&src[0]), 0, nil, nil))
}

// ReadInt32 copies the start of b into dst and blocks until done.
func (q *Queue) ReadInt32(b compute.Buffer, dst []int32) error {
	const op = "clEnqueueReadBuffer"
	mem, err := bufferID(op, b)
	if err != nil {
		return err
	}
	if len(dst) == 0 {
		return compute.Check(op, compute.StatusInvalidValue)
	}
	size := C.size_t(len(dst) * compute.ElementSize)
	return check(op, C.clEnqueueReadBuffer(q.id, mem, C.CL_TRUE, 0, size, unsafe.Pointer(&dst[0]), 0, nil, nil))
}

// EnqueueKernel launches k over a 1-D range.
func (q *Queue) EnqueueKernel(k compute.Kernel, global, local int) error {
	kern, ok := k.(*Kernel)
	if !ok || kern.id == nil {
		return compute.Check("clEnqueueNDRangeKernel", compute.StatusInvalidKernel)
	}
	return check("clEnqueueNDRangeKernel", C.vecadd_enqueue_1d(q.id, kern.id, C.size_t(global), C.size_t(local)))
}

func (q *Queue) Flush() error { return check("clFlush", C.clFlush(q.id)) }
func (q *Queue) Finish() error { return check("clFinish", C.clFinish(q.id)) }

// Release releases the queue.
func (q *Queue) Release() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.id == nil {
		return compute.Check("clReleaseCommandQueue", compute.StatusInvalidCommandQueue)
	}
	err := check("clReleaseCommandQueue", C.clReleaseCommandQueue(q.id))
	q.id = nil
	return err
}

// Buffer is an OpenCL memory object.
type Buffer struct {
	mu     sync.Mutex
	id     C.cl_mem
	access compute.MemAccess
	size   int
}

func (b *Buffer) Size() int { return b.size }
func (b *Buffer) Access() compute.MemAccess { return b.access }

// Release releases the memory object.
func (b *Buffer) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.id == nil {
		return compute.Check("clReleaseMemObject", compute.StatusInvalidMemObject)
	}
	err := check("clReleaseMemObject", C.clReleaseMemObject(b.id))
	b.id = nil
	return err
}

// Program is an OpenCL program object.
type Program struct {
	mu sync.Mutex
	id C.cl_program
}

// Build compiles the program for d. On failure the returned error carries
// the device build log.
func (p *Program) Build(d compute.Device, options string) error {
	dev, ok := d.(*Device)
	if !ok {
		return compute.Check("clBuildProgram", compute.StatusInvalidDevice)
	}
	opts := C.CString(options)
	defer C.free(unsafe.Pointer(opts))

	status := C.vecadd_build_program(p.id, dev.id, opts)
	if status == C.CL_SUCCESS {
		return nil
	}
	return &compute.DeviceError{Op: "clBuildProgram", Status: compute.Status(status), Log: p.buildLog(dev)}
}

func (p *Program) buildLog(dev *Device) string {
	var size C.size_t
	if C.clGetProgramBuildInfo(p.id, dev.id, C.CL_PROGRAM_BUILD_LOG, 0, nil, &size) != C.CL_SUCCESS || size == 0 {
		return ""
	}
	buf := make([]byte, size)
	if C.clGetProgramBuildInfo(p.id, dev.id, C.CL_PROGRAM_BUILD_LOG, size, unsafe.Pointer(&buf[0]), nil) != C.CL_SUCCESS {
		return ""
	}
	return trimNull(buf)
}

// CreateKernel creates the named kernel.
func (p *Program) CreateKernel(name string) (compute.Kernel, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	var status C.cl_int
	k := C.clCreateKernel(p.id, cname, &status)
	if err := check("clCreateKernel", status); err != nil {
		return nil, err
	}
	return &Kernel{id: k, name: name}, nil
}

// Release releases the program.
func (p *Program) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.id == nil {
		return compute.Check("clReleaseProgram", compute.StatusInvalidProgram)
	}
	err := check("clReleaseProgram", C.clReleaseProgram(p.id))
	p.id = nil
	return err
}

// Kernel is an OpenCL kernel object.
type Kernel struct {
	mu   sync.Mutex
	id   C.cl_kernel
	name string
}

func (k *Kernel) Name() string { return k.name }

// SetArgBuffer binds b to argument index.
func (k *Kernel) SetArgBuffer(index int, b compute.Buffer) error {
	mem, err := bufferID("clSetKernelArg", b)
	if err != nil {
		return err
	}
	return check("clSetKernelArg", C.vecadd_set_arg_mem(k.id, C.cl_uint(index), mem))
}

// SetArgInt32 binds v to argument index.
func (k *Kernel) SetArgInt32(index int, v int32) error {
	return check("clSetKernelArg", C.vecadd_set_arg_int(k.id, C.cl_uint(index), C.cl_int(v)))
}

// Release releases the kernel.
func (k *Kernel) Release() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.id == nil {
		return compute.Check("clReleaseKernel", compute.StatusInvalidKernel)
	}
	err := check("clReleaseKernel", C.clReleaseKernel(k.id))
	k.id = nil
	return err
}
