// Package vectoradd runs an element-wise int32 vector addition on a compute
// device and verifies the result on the host.
//
// The pipeline is linear: fill host vectors, select a device, create a
// context and queue, allocate and upload buffers, build the kernel source,
// launch one 1-D range, read the result back, verify it, and tear everything
// down in a fixed order. Every device call is checked; the first failure
// aborts the run with a *compute.DeviceError that records the status and the
// location of the failed check.
//
// Example:
//
//	accel, err := gpu.NewAccelerator(nil)
//	if err != nil {
//		return err
//	}
//	report, err := vectoradd.Run(ctx, accel, vectoradd.DefaultOptions())
//	if err != nil {
//		return err
//	}
//	fmt.Println(report.Message())
package vectoradd

import (
	"github.com/orneryd/vecadd/pkg/compute"
	"github.com/orneryd/vecadd/pkg/pool"
)

// HostVectors holds the host side of the three vectors.
type HostVectors struct {
	A, B, C []int32
}

// NewHostVectors allocates three vectors of length n, filling A with fillA,
// B with fillB and leaving C zeroed.
func NewHostVectors(n int, fillA, fillB int32) *HostVectors {
	h := &HostVectors{
		A: pool.GetInt32Slice(n),
		B: pool.GetInt32Slice(n),
		C: pool.GetInt32Slice(n),
	}
	for i := range h.A {
		h.A[i] = fillA
		h.B[i] = fillB
	}
	return h
}

// Bytes returns the size of one vector in bytes.
func (h *HostVectors) Bytes() int { return len(h.A) * compute.ElementSize }

// Free returns the vectors to the pool. The vectors must not be used
// afterwards.
func (h *HostVectors) Free() {
	pool.PutInt32Slice(h.A)
	pool.PutInt32Slice(h.B)
	pool.PutInt32Slice(h.C)
	h.A, h.B, h.C = nil, nil, nil
}
