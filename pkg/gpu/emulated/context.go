package emulated

import (
	"sync"
	"sync/atomic"

	"github.com/orneryd/vecadd/pkg/compute"
)

// Context is an emulated context bound to one device.
type Context struct {
	rt       *Runtime
	dev      *Device
	handle   string
	released atomic.Bool
}

func (c *Context) check(op string) error {
	if c.released.Load() {
		return compute.Check(op, compute.StatusInvalidContext)
	}
	return nil
}

// CreateQueue creates an in-order queue on d.
func (c *Context) CreateQueue(d compute.Device) (compute.Queue, error) {
	const op = "clCreateCommandQueue"
	if err := c.rt.enter(op, c.handle); err != nil {
		return nil, err
	}
	if err := c.check(op); err != nil {
		return nil, err
	}
	if dev, ok := d.(*Device); !ok || dev != c.dev {
		return nil, compute.Check(op, compute.StatusInvalidDevice)
	}
	return &Queue{ctx: c, handle: c.rt.newHandle("queue")}, nil
}

// CreateBuffer allocates size bytes of device memory.
func (c *Context) CreateBuffer(access compute.MemAccess, size int) (compute.Buffer, error) {
	const op = "clCreateBuffer"
	if err := c.rt.enter(op, c.handle); err != nil {
		return nil, err
	}
	if err := c.check(op); err != nil {
		return nil, err
	}
	if access < compute.ReadWrite || access > compute.WriteOnly {
		return nil, compute.Check(op, compute.StatusInvalidValue)
	}
	if size <= 0 {
		return nil, compute.Check(op, compute.StatusInvalidBufferSize)
	}
	if !c.dev.reserve(uint64(size)) {
		return nil, compute.Check(op, compute.StatusMemObjectAllocationFailed)
	}
	return &Buffer{
		ctx:    c,
		handle: c.rt.newHandle("mem"),
		access: access,
		size:   size,
		data:   make([]int32, (size+compute.ElementSize-1)/compute.ElementSize),
	}, nil
}

// CreateProgram wraps source text in a program object.
func (c *Context) CreateProgram(source []byte) (compute.Program, error) {
	const op = "clCreateProgramWithSource"
	if err := c.rt.enter(op, c.handle); err != nil {
		return nil, err
	}
	if err := c.check(op); err != nil {
		return nil, err
	}
	if len(source) == 0 {
		return nil, compute.Check(op, compute.StatusInvalidValue)
	}
	src := make([]byte, len(source))
	copy(src, source)
	return &Program{ctx: c, handle: c.rt.newHandle("program"), source: src}, nil
}

// Release releases the context. A second release fails.
func (c *Context) Release() error {
	const op = "clReleaseContext"
	if err := c.rt.enter(op, c.handle); err != nil {
		return err
	}
	if c.released.Swap(true) {
		return compute.Check(op, compute.StatusInvalidContext)
	}
	return nil
}

// Buffer is emulated device memory.
type Buffer struct {
	ctx      *Context
	handle   string
	access   compute.MemAccess
	size     int
	data     []int32
	released atomic.Bool
}

func (b *Buffer) Size() int { return b.size }
func (b *Buffer) Access() compute.MemAccess { return b.access }

// Handle returns the journal name of the buffer.
func (b *Buffer) Handle() string { return b.handle }

// Release frees the buffer's device memory.
func (b *Buffer) Release() error {
	const op = "clReleaseMemObject"
	if err := b.ctx.rt.enter(op, b.handle); err != nil {
		return err
	}
	if b.released.Swap(true) {
		return compute.Check(op, compute.StatusInvalidMemObject)
	}
	b.ctx.dev.unreserve(uint64(b.size))
	return nil
}

// Queue is an emulated in-order queue. Commands run synchronously, so Flush
// and Finish only validate the queue.
type Queue struct {
	ctx      *Context
	handle   string
	released atomic.Bool
}

func (q *Queue) check(op string) error {
	if q.released.Load() {
		return compute.Check(op, compute.StatusInvalidCommandQueue)
	}
	return q.ctx.check(op)
}

func (q *Queue) buffer(op string, b compute.Buffer) (*Buffer, error) {
	buf, ok := b.(*Buffer)
	if !ok || buf.released.Load() {
		return nil, compute.Check(op, compute.StatusInvalidMemObject)
	}
	if buf.ctx != q.ctx {
		return nil, compute.Check(op, compute.StatusInvalidContext)
	}
	return buf, nil
}

func handleOf(b compute.Buffer) string {
	if buf, ok := b.(*Buffer); ok {
		return buf.handle
	}
	return ""
}

// WriteInt32 copies src into the start of b.
func (q *Queue) WriteInt32(b compute.Buffer, src []int32) error {
	const op = "clEnqueueWriteBuffer"
	if err := q.ctx.rt.enter(op, handleOf(b)); err != nil {
		return err
	}
	if err := q.check(op); err != nil {
		return err
	}
	buf, err := q.buffer(op, b)
	if err != nil {
		return err
	}
	if len(src) == 0 || len(src)*compute.ElementSize > buf.size {
		return compute.Check(op, compute.StatusInvalidValue)
	}
	copy(buf.data, src)
	return nil
}

// ReadInt32 copies the start of b into dst.
func (q *Queue) ReadInt32(b compute.Buffer, dst []int32) error {
	const op = "clEnqueueReadBuffer"
	if err := q.ctx.rt.enter(op, handleOf(b)); err != nil {
		return err
	}
	if err := q.check(op); err != nil {
		return err
	}
	buf, err := q.buffer(op, b)
	if err != nil {
		return err
	}
	if len(dst) == 0 || len(dst)*compute.ElementSize > buf.size {
		return compute.Check(op, compute.StatusInvalidValue)
	}
	copy(dst, buf.data)
	return nil
}

// EnqueueKernel runs k over global work-items in groups of local.
func (q *Queue) EnqueueKernel(k compute.Kernel, global, local int) error {
	const op = "clEnqueueNDRangeKernel"
	kern, ok := k.(*Kernel)
	handle := ""
	if ok {
		handle = kern.handle
	}
	if err := q.ctx.rt.enter(op, handle); err != nil {
		return err
	}
	if err := q.check(op); err != nil {
		return err
	}
	if !ok || kern.released.Load() {
		return compute.Check(op, compute.StatusInvalidKernel)
	}
	if kern.prog.ctx != q.ctx {
		return compute.Check(op, compute.StatusInvalidContext)
	}
	if global <= 0 {
		return compute.Check(op, compute.StatusInvalidGlobalWorkSize)
	}
	if local <= 0 || local > q.ctx.dev.info.MaxWorkGroupSize || global%local != 0 {
		return compute.Check(op, compute.StatusInvalidWorkGroupSize)
	}
	args, err := kern.snapshot(op)
	if err != nil {
		return err
	}
	if !q.run(kern.def, args, global, local) {
		return compute.Check(op, compute.StatusOutOfResources)
	}
	return nil
}

// run executes the range and reports false if a work-item accessed a buffer
// out of bounds.
func (q *Queue) run(def *kernelDef, args []arg, global, local int) bool {
	groups := global / local
	workers := min(q.ctx.rt.opts.Workers, groups)

	var (
		next  atomic.Int64
		fault atomic.Bool
		wg    sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item := workItem{args: args}
			for !fault.Load() {
				g := int(next.Add(1)) - 1
				if g >= groups {
					return
				}
				for id := g * local; id < (g+1)*local; id++ {
					item.gid = id
					exec(def.body, &item)
					if item.fault {
						fault.Store(true)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	return !fault.Load()
}

// Flush validates the queue.
func (q *Queue) Flush() error {
	const op = "clFlush"
	if err := q.ctx.rt.enter(op, q.handle); err != nil {
		return err
	}
	return q.check(op)
}

// Finish validates the queue.
func (q *Queue) Finish() error {
	const op = "clFinish"
	if err := q.ctx.rt.enter(op, q.handle); err != nil {
		return err
	}
	return q.check(op)
}

// Release releases the queue. A second release fails.
func (q *Queue) Release() error {
	const op = "clReleaseCommandQueue"
	if err := q.ctx.rt.enter(op, q.handle); err != nil {
		return err
	}
	if q.released.Swap(true) {
		return compute.Check(op, compute.StatusInvalidCommandQueue)
	}
	return nil
}
