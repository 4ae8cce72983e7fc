package vm

import (
	"fmt"
)

// Flags holds the four architectural condition bits plus the saved-mode
// bit carried across an interrupt entry/exit.
type Flags uint16

const (
	FlagZero Flags = 1 << iota
	FlagNegative
	FlagCarry
	FlagOverflow

	// FlagSavedMode is bit 15: it stores the pre-interrupt mode bit across
	// entry/IRETURN and is masked off on any normal software write to
	// FLAGS.
	FlagSavedMode Flags = 1 << 15

	flagsWritableMask = FlagZero | FlagNegative | FlagCarry | FlagOverflow
)

func (f Flags) Zero() bool     { return f&FlagZero != 0 }
func (f Flags) Negative() bool { return f&FlagNegative != 0 }
func (f Flags) Carry() bool    { return f&FlagCarry != 0 }
func (f Flags) Overflow() bool { return f&FlagOverflow != 0 }

func (f Flags) String() string {
	return fmt.Sprintf("FLAGS(Z:%t N:%t C:%t V:%t)", f.Zero(), f.Negative(), f.Carry(), f.Overflow())
}

// Registers is the CPU's entire addressable register file: eight
// general-purpose words (with byte/half views over their low bits), eight
// floats, and the six special registers.
type Registers struct {
	gpr [8]uint32
	fpr [8]float32

	flags Flags
	uspr  uint32
	kspr  uint32
	pdpr  uint32
	imr   uint16
	pfsr  uint32
}

// Reset zeroes every register and clears FLAGS/IMR, as at boot.
func (r *Registers) Reset() {
	*r = Registers{}
}

// Get reads the register named by ref. Reading a privileged special
// register in user mode is the caller's responsibility to reject; Get
// itself never checks privilege (Machine.getOperand does).
func (r *Registers) Get(ref RegRef) Value {
	switch {
	case ref <= RefR7:
		return Word(r.gpr[ref-RefR0])
	case ref <= RefR7H:
		return Half(uint16(r.gpr[ref-RefR0H]))
	case ref <= RefR7B:
		return Byte(uint8(r.gpr[ref-RefR0B]))
	case ref <= RefF7:
		return FloatValue(r.fpr[ref-RefF0])
	}

	switch ref {
	case RefFLAGS:
		return Half(uint16(r.flags))
	case RefUSPR:
		return Word(r.uspr)
	case RefKSPR:
		return Word(r.kspr)
	case RefPDPR:
		return Word(r.pdpr)
	case RefIMR:
		return Half(r.imr)
	case RefPFSR:
		return Word(r.pfsr)
	default:
		return Value{}
	}
}

// Set writes v into the register named by ref. Sub-register writes (byte
// and half views of a GPR) preserve the untouched upper bits of the
// underlying word, per the sub-register invariant.
func (r *Registers) Set(ref RegRef, v Value) {
	switch {
	case ref <= RefR7:
		r.gpr[ref-RefR0] = v.AsWord()
		return
	case ref <= RefR7H:
		i := ref - RefR0H
		r.gpr[i] = r.gpr[i]&0xFFFF0000 | uint32(v.AsHalf())
		return
	case ref <= RefR7B:
		i := ref - RefR0B
		r.gpr[i] = r.gpr[i]&0xFFFFFF00 | uint32(v.AsByte())
		return
	case ref <= RefF7:
		r.fpr[ref-RefF0] = v.AsFloat()
		return
	}

	switch ref {
	case RefFLAGS:
		// A normal software write only ever touches the four condition
		// bits; FlagSavedMode is managed exclusively by interrupt
		// entry/IRETURN.
		r.flags = Flags(v.AsHalf()) & flagsWritableMask
	case RefUSPR:
		r.uspr = v.AsWord()
	case RefKSPR:
		r.kspr = v.AsWord()
	case RefPDPR:
		r.pdpr = v.AsWord()
	case RefIMR:
		r.imr = v.AsHalf()
	case RefPFSR:
		// PFSR is never writable by software; callers route faults
		// through setPFSR instead.
	}
}

// setPFSR is the MMU's side channel for recording a fault code; it is the
// only legitimate writer of PFSR.
func (r *Registers) setPFSR(code PageFaultCode) {
	r.pfsr = uint32(code)
}

func (r *Registers) Flags() Flags   { return r.flags }
func (r *Registers) SetFlags(f Flags) { r.flags = f & (flagsWritableMask | FlagSavedMode) }
func (r *Registers) IMR() uint16    { return r.imr }
func (r *Registers) SetIMR(v uint16) { r.imr = v }
func (r *Registers) PDPR() uint32   { return r.pdpr }
func (r *Registers) PFSR() uint32   { return r.pfsr }

// SP returns the active stack pointer register for the given privilege
// level: KSPR in kernel mode, USPR in user mode.
func (r *Registers) SP(p Privilege) *uint32 {
	if p == PrivilegeKernel {
		return &r.kspr
	}
	return &r.uspr
}
