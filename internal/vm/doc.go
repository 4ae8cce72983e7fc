/*
Package vm implements the simulatron CPU core: typed registers, paged virtual
memory, a memory-mapped peripheral bus, an interrupt latch, and the
fetch/decode/execute loop that ties them together.

# CPU

The machine has eight general-purpose word registers (with byte- and
half-word views over their low bits), eight float registers, and six special
registers: FLAGS, USPR, KSPR, PDPR, IMR, and PFSR. A boolean mode bit
switches the machine between kernel and user privilege; entering an
interrupt always raises to kernel mode, and IRETURN restores whatever mode
was saved.

# Memory

The physical address space is a fixed map (see the region constants in bus.go): an interrupt
vector, ROM, the display, the keyboard, two disk controllers, and RAM filling
out the rest. In kernel mode, the CPU addresses this physical map directly;
in user mode, every access goes through the MMU's two-level page table
rooted at PDPR.

# Devices

The keyboard, display, and two disk controllers are memory-mapped
peripherals that may also raise interrupts. Each owns the worker goroutines
that do its actual I/O; the CPU thread never blocks on device I/O directly,
only on the interrupt latch.
*/
package vm
