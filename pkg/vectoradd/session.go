package vectoradd

import (
	"log"

	"github.com/orneryd/vecadd/pkg/compute"
)

// Session owns the device objects of one run.
//
// Handles are acquired one at a time by Run; Close releases whichever were
// acquired, in the fixed teardown order:
//
//	flush, finish, queue, kernel, program, buffer A, buffer B, buffer C, context
type Session struct {
	Context compute.Context
	Queue   compute.Queue
	Program compute.Program
	Kernel  compute.Kernel
	A, B, C compute.Buffer

	logger *log.Logger
}

type teardownStep struct {
	name string
	fn   func() error
	done func()
}

func (s *Session) teardown() []teardownStep {
	var steps []teardownStep
	if s.Queue != nil {
		q := s.Queue
		steps = append(steps,
			teardownStep{"flush", q.Flush, func() {}},
			teardownStep{"finish", q.Finish, func() {}},
			teardownStep{"queue", q.Release, func() { s.Queue = nil }},
		)
	}
	if s.Kernel != nil {
		steps = append(steps, teardownStep{"kernel", s.Kernel.Release, func() { s.Kernel = nil }})
	}
	if s.Program != nil {
		steps = append(steps, teardownStep{"program", s.Program.Release, func() { s.Program = nil }})
	}
	if s.A != nil {
		steps = append(steps, teardownStep{"buffer A", s.A.Release, func() { s.A = nil }})
	}
	if s.B != nil {
		steps = append(steps, teardownStep{"buffer B", s.B.Release, func() { s.B = nil }})
	}
	if s.C != nil {
		steps = append(steps, teardownStep{"buffer C", s.C.Release, func() { s.C = nil }})
	}
	if s.Context != nil {
		steps = append(steps, teardownStep{"context", s.Context.Release, func() { s.Context = nil }})
	}
	return steps
}

// Close flushes and drains the queue and releases every acquired handle.
// It stops at the first failing call and returns its error. Released
// handles are cleared, so a second Close is a no-op.
func (s *Session) Close() error {
	for _, step := range s.teardown() {
		if err := step.fn(); err != nil {
			return compute.Trace(err)
		}
		step.done()
	}
	return nil
}

// abort releases whatever was acquired after a failed run, ignoring errors.
func (s *Session) abort() {
	for _, step := range s.teardown() {
		if err := step.fn(); err != nil && s.logger != nil {
			s.logger.Printf("[vecadd] teardown %s after failure: %v", step.name, err)
		}
		step.done()
	}
}
