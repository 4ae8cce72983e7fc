package vm

// exec.go implements the fetch/decode/execute/writeback instruction cycle.
// Each opcode decodes to an operation value whose Execute method carries out
// the mnemonic's semantics and returns a *cpuFault on failure.

import "fmt"

// operation is implemented by every decoded instruction.
type operation interface {
	// Execute performs the instruction's effect on m. A non-nil,
	// non-fatal *cpuFault means the instruction did not commit and the
	// caller must rewind PC to instrBase.
	Execute(m *Machine) *cpuFault
}

// step runs one fetch/decode/execute cycle. It returns (true, nil) on a
// clean HALT, and a non-nil error only for a fatal fault.
func (m *Machine) step() (halted bool, err error) {
	instrBase := m.pc

	opByte, ferr := m.fetchByte()
	if ferr != nil {
		return false, fmt.Errorf("cpu: fetch: %w", ferr)
	}

	opcode := Opcode(opByte)

	// HALT and PAUSE carry no operands and never reach decode: both are
	// privileged per §4.2, so a user-mode attempt raises IllegalOperation
	// and rewinds instead of acting.
	if opcode == OpHalt {
		if f := m.requireKernel("HALT"); f != nil {
			m.pc = instrBase
			return false, nil
		}
		m.running = false
		return true, nil
	}

	if opcode == OpPause {
		if f := m.requireKernel("PAUSE"); f != nil {
			m.pc = instrBase
			return false, nil
		}
		m.pausing = true
		return false, nil
	}

	op, opcode, derr := m.decode(opcode)
	if derr != nil {
		// A malformed instruction stream raises IllegalOperation and
		// rewinds, like any other TryAgain fault.
		m.pc = instrBase
		m.latch.Raise(IntIllegalOperation)
		return false, nil
	}

	fault := op.Execute(m)
	if fault == nil {
		return false, nil
	}

	if fault.fatal {
		return false, fmt.Errorf("cpu: fatal: %w", fault.err)
	}

	// TryAgain: the instruction did not commit. Its interrupt (if any)
	// has already been latched by Execute; rewind so the handler, once
	// delivered, sees the faulting instruction's own address.
	m.pc = instrBase

	return false, nil
}

// fetchByte reads one byte at PC through memLoad (so a user-mode fetch goes
// through the MMU using PDPR, exactly like a data read) and advances PC.
func (m *Machine) fetchByte() (uint8, error) {
	v, err := m.memLoad(m.pc, KindByte)
	if err != nil {
		return 0, err
	}
	m.pc++
	return v.AsByte(), nil
}

func (m *Machine) fetchHalf() (uint16, error) {
	hi, err := m.fetchByte()
	if err != nil {
		return 0, err
	}
	lo, err := m.fetchByte()
	if err != nil {
		return 0, err
	}
	return uint16(hi)<<8 | uint16(lo), nil
}

func (m *Machine) fetchWord() (uint32, error) {
	hi, err := m.fetchHalf()
	if err != nil {
		return 0, err
	}
	lo, err := m.fetchHalf()
	if err != nil {
		return 0, err
	}
	return uint32(hi)<<16 | uint32(lo), nil
}

func (m *Machine) fetchRef() (RegRef, error) {
	b, err := m.fetchByte()
	return RegRef(b), err
}
