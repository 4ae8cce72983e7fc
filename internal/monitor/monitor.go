// Package monitor builds the simulatron's default firmware: a ROM image
// that halts cleanly at boot, and an interrupt vector table that sends
// every unhandled interrupt to the same halt handler rather than through
// an uninitialized, zero-valued vector slot.
package monitor

// monitor.go replaces the teacher's internal/monitor, which generated LC-3
// trap/exception handler machine code via internal/asm's Operation
// interface (halt.go/traps.go/gen.go). That generator has no role here:
// there is no assembler in scope, and the firmware this spec needs is much
// smaller -- a HALT instruction and a vector table, not a library of system
// calls. The handful of opcode bytes below are written by hand, in the
// spirit of the teacher's own admission (internal/monitor/halt.go) that its
// bootstrap trap handler was "machine code emitted by hand, not by the
// assembler."

import (
	"fmt"

	"github.com/aldenwood/simulatron/internal/log"
	"github.com/aldenwood/simulatron/internal/vm"
)

// DefaultBootROM returns a minimal, ROMSize-byte boot image: a single HALT
// instruction at the entrypoint (physical vm.ROMBase), so a machine booted
// with no linked program halts cleanly. OpHalt is 0x00, so the image is
// byte-for-byte an all-zero ROM.
func DefaultBootROM() []byte {
	image := make([]byte, vm.ROMSize)
	image[0] = byte(vm.OpHalt)
	return image
}

// InstallDefaultVectors points every one of the machine's interrupt
// vectors at vm.ROMBase, which DefaultBootROM (or any firmware sharing its
// convention of a HALT at offset zero) guarantees is a valid one
// -instruction handler. Call this once during machine setup, before Start.
func InstallDefaultVectors(m *vm.Machine) error {
	for i := vm.Interrupt(0); i < vm.NumInterrupts; i++ {
		if err := m.InstallVector(i, vm.ROMBase); err != nil {
			return fmt.Errorf("monitor: install vector %s: %w", i, err)
		}
	}
	return nil
}

// Bootstrap installs the default vector table and reports what it did,
// for tests that need a bootable machine without a linked program of their
// own.
func Bootstrap(m *vm.Machine) error {
	logger := log.DefaultLogger()

	if err := InstallDefaultVectors(m); err != nil {
		return err
	}

	logger.Info("monitor: installed default vectors", log.String("handler", fmt.Sprintf("%#08x", vm.ROMBase)))

	return nil
}
