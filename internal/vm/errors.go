package vm

import (
	"errors"
	"fmt"
)

// Sentinel errors. Components wrap these with fmt.Errorf("%w: ...", ...) so
// callers can still errors.Is through the wrapped chain.
var (
	errVM = errors.New("vm")

	// ErrMemory is the root of all physical/virtual memory access errors.
	ErrMemory = fmt.Errorf("%w: memory", errVM)

	// ErrNoDevice is returned when the bus has no device mapped at an
	// address.
	ErrNoDevice = fmt.Errorf("%w: no device", ErrMemory)

	// ErrAccessControl marks an access that violated a region's
	// read/write/execute rule, or a privileged access attempted in user
	// mode.
	ErrAccessControl = fmt.Errorf("%w: access control", ErrMemory)
)

// cpuFault distinguishes the two recovery strategies an instruction-cycle
// error can demand: TryAgain rewinds the PC and resumes (the matching
// interrupt has already been latched), Fatal halts the machine outright.
type cpuFault struct {
	err       error
	fatal     bool
	interrupt Interrupt
	hasIntr   bool
}

func (f *cpuFault) Error() string {
	if f.fatal {
		return fmt.Sprintf("fatal: %s", f.err)
	}
	return fmt.Sprintf("try-again: %s", f.err)
}

func (f *cpuFault) Unwrap() error { return f.err }

// tryAgain builds a recoverable fault: the faulting instruction did not
// commit, and intr (if given) has already been latched so the handler, if
// unmasked, sees the original PC.
func tryAgain(err error, intr Interrupt) *cpuFault {
	return &cpuFault{err: err, interrupt: intr, hasIntr: true}
}

// fatal builds an unrecoverable fault: the machine must halt.
func fatal(err error) *cpuFault {
	return &cpuFault{err: err, fatal: true}
}

// IllegalOperation is raised by any user-mode attempt at a privileged
// operation, and by any physical-store access that violates a region's
// access rule.
type IllegalOperation struct {
	Addr uint32
	Op   string
}

func (e *IllegalOperation) Error() string {
	return fmt.Sprintf("illegal operation: %s at %#08x", e.Op, e.Addr)
}

func (e *IllegalOperation) Is(target error) bool {
	return target == ErrAccessControl
}

// PageFaultError carries the MMU's fault code alongside the faulting
// virtual address.
type PageFaultError struct {
	Addr uint32
	Code PageFaultCode
}

func (e *PageFaultError) Error() string {
	return fmt.Sprintf("page fault: %#08x: code %d", e.Addr, e.Code)
}

func (e *PageFaultError) Is(target error) bool {
	return target == ErrMemory
}

// DivideByZeroError is raised by an integer division whose divisor is
// zero; the destination register is left unchanged.
type DivideByZeroError struct{}

func (e *DivideByZeroError) Error() string { return "divide by zero" }
