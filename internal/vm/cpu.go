package vm

// cpu.go assembles the machine from its parts (bus, MMU, latch, devices)
// from OptionFn values applied in order, and
// implements the boot state and top-level instruction-service loop.

import (
	"context"
	"errors"
	"fmt"

	"github.com/aldenwood/simulatron/internal/log"
)

// ErrHalted marks a clean HALT, distinguishing it from an error exit.
var ErrHalted = errors.New("halted")

// Machine is the assembled simulatron: CPU registers, bus, MMU, interrupt
// latch, and every peripheral.
type Machine struct {
	Registers

	mode Privilege
	pc   uint32

	bus   *Bus
	mmu   *MMU
	latch *Latch

	ivec *interruptVector

	Keyboard *Keyboard
	Display  *Display
	DiskA    *DiskController
	DiskB    *DiskController
	Timer    *Timer

	running bool
	pausing bool

	log *log.Logger
}

// OptionFn configures a Machine during construction. New applies the
// options once each, in the order given; each option builds its device
// and, where the device is memory-mapped, maps it on the bus itself.
type OptionFn func(*Machine)

// New assembles a machine from options, in order.
func New(opts ...OptionFn) *Machine {
	m := &Machine{
		mode: PrivilegeKernel,
		pc:   ROMBase,
		log:  log.DefaultLogger(),
	}

	m.latch = NewLatch()
	m.bus = NewBus()
	m.mmu = newMMU(m.bus)
	m.ivec = newInterruptVector()

	m.bus.Map("interrupt-vector", InterruptVectorBase, InterruptVectorSize, m.ivec)
	m.bus.Map("reserved-low", ReservedLowBase, ROMBase-ReservedLowBase, &noAccess{})
	m.bus.Map("reserved-mid", ReservedMidBase, DiskAStatusBase-ReservedMidBase, &noAccess{})

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// WithROM installs a fixed ROM image, exactly ROMSize bytes.
func WithROM(image []byte) OptionFn {
	return func(m *Machine) {
		m.bus.Map("rom", ROMBase, ROMSize, newROM(image))
	}
}

// WithRAM installs flat RAM covering RAMBase upward.
func WithRAM(size uint32) OptionFn {
	return func(m *Machine) {
		m.bus.Map("ram", RAMBase, size, newRAM(size))
	}
}

// WithDisplay installs the display device, posting render commands to ui.
func WithDisplay(ui chan UICommand) OptionFn {
	return func(m *Machine) {
		m.Display = NewDisplay(ui)
		m.bus.Map("display", DisplayBase, DisplaySize, m.Display)
	}
}

// WithKeyboard installs the keyboard device.
func WithKeyboard() OptionFn {
	return func(m *Machine) {
		m.Keyboard = NewKeyboard(m.latch)
		m.bus.Map("keyboard", KeyboardBase, KeyboardSize, m.Keyboard)
	}
}

// WithDiskA installs disk controller A, watching dir.
func WithDiskA(dir string) OptionFn {
	return func(m *Machine) {
		m.DiskA = NewDiskController("A", dir, IntDiskA, m.latch)
		m.bus.Map("disk-a-regs", DiskAStatusBase, DiskABlockBase+4-DiskAStatusBase, m.DiskA)
		m.bus.Map("disk-a-cmd", DiskACommandAddr, 1, m.DiskA.CommandDevice())
		m.bus.Map("disk-a-data", DiskADataBase, DiskDataSize, m.DiskA.DataDevice())
	}
}

// WithDiskB installs disk controller B, watching dir.
func WithDiskB(dir string) OptionFn {
	return func(m *Machine) {
		m.DiskB = NewDiskController("B", dir, IntDiskB, m.latch)
		m.bus.Map("disk-b-regs", DiskBStatusBase, DiskBBlockBase+4-DiskBStatusBase, m.DiskB)
		m.bus.Map("disk-b-cmd", DiskBCommandAddr, 1, m.DiskB.CommandDevice())
		m.bus.Map("disk-b-data", DiskBDataBase, DiskDataSize, m.DiskB.DataDevice())
	}
}

// WithTimer installs the timer worker.
func WithTimer() OptionFn {
	return func(m *Machine) {
		m.Timer = NewTimer(m.latch)
	}
}

// Start launches every device worker goroutine. It returns once everything
// started cleanly; a disk failing to watch its directory is a startup
// error the caller should surface before entering Run.
func (m *Machine) Start() error {
	if m.Keyboard != nil {
		m.Keyboard.Start()
	}
	if m.Timer != nil {
		m.Timer.Start()
	}
	if m.DiskA != nil {
		if err := m.DiskA.Start(); err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}
	if m.DiskB != nil {
		if err := m.DiskB.Start(); err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}

	m.running = true

	return nil
}

// Stop posts the join sentinel to every worker and the CPU loop itself.
func (m *Machine) Stop() {
	m.running = false

	if m.Keyboard != nil {
		m.Keyboard.Stop()
	}
	if m.Timer != nil {
		m.Timer.Stop()
	}
	if m.DiskA != nil {
		m.DiskA.Stop()
	}
	if m.DiskB != nil {
		m.DiskB.Stop()
	}

	m.latch.Join()
}

// PC returns the program counter.
func (m *Machine) PC() uint32 { return m.pc }

// InstallVector writes addr into interrupt i's slot in the vector table.
// Firmware (internal/monitor) and kernel code call this during setup,
// before Start; nothing stops calling it afterward too.
func (m *Machine) InstallVector(i Interrupt, addr uint32) error {
	return m.bus.Store(InterruptVectorBase+4*uint32(i), Word(addr))
}

// Bus exposes the machine's physical bus directly, for loaders and
// firmware that write bytes outside of the instruction cycle (bypassing
// the MMU, the same way kernel-mode code does).
func (m *Machine) Bus() *Bus { return m.bus }

// Mode returns the current privilege mode.
func (m *Machine) Mode() Privilege { return m.mode }

// Run executes the CPU's top-level loop -- interrupt service, fetch,
// decode, execute, post-cycle action -- until HALT, a fatal fault, or
// context cancellation.
func (m *Machine) Run(ctx context.Context) error {
	m.log.Info("cpu: start", log.String("pc", fmt.Sprintf("%#08x", m.pc)))

	for m.running {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := m.serviceInterrupts(); err != nil {
			m.log.Error("cpu: fatal during interrupt service", log.String("err", err.Error()))
			return err
		}

		if !m.running {
			return nil
		}

		halted, err := m.step()
		if err != nil {
			m.log.Error("cpu: fatal", log.String("err", err.Error()))
			return err
		}

		if halted {
			m.log.Info("cpu: halted")
			return ErrHalted
		}
	}

	return nil
}

// serviceInterrupts polls (or, while paused, blocks on) the latch and
// handles the highest-priority outstanding interrupt, if any.
func (m *Machine) serviceInterrupts() error {
	var (
		i  Interrupt
		ok bool
	)

	if m.pausing {
		i = m.latch.Wait(m.IMR())
		ok = true
		m.pausing = false
	} else {
		i, ok = m.latch.Poll(m.IMR())
	}

	if !ok {
		return nil
	}

	if i == joinSentinel {
		m.running = false
		return nil
	}

	return m.enterInterrupt(i)
}

// enterInterrupt performs the fixed interrupt entry sequence from §4.2: save
// mode into FLAGS bit 15, raise to kernel mode, push FLAGS/PC/IMR, mask all
// interrupts, and jump to the vectored handler. Any fault here is fatal.
func (m *Machine) enterInterrupt(i Interrupt) error {
	savedMode := m.mode
	savedFlags := m.Flags()

	m.mode = PrivilegeKernel

	flagsToPush := savedFlags &^ FlagSavedMode
	if savedMode == PrivilegeKernel {
		flagsToPush |= FlagSavedMode
	}

	if err := m.push(Half(uint16(flagsToPush))); err != nil {
		return fmt.Errorf("cpu: interrupt entry: %w", err)
	}
	if err := m.push(Word(m.pc)); err != nil {
		return fmt.Errorf("cpu: interrupt entry: %w", err)
	}
	if err := m.push(Half(m.IMR())); err != nil {
		return fmt.Errorf("cpu: interrupt entry: %w", err)
	}

	m.SetIMR(0)
	m.pc = m.ivec.HandlerAddr(i)

	return nil
}

// memLoad/memStore dispatch through the MMU in user mode and directly to
// the bus in kernel mode, per §4.2's "kernel mode bypasses translation."
func (m *Machine) memLoad(addr uint32, kind Kind) (Value, error) {
	if m.mode == PrivilegeKernel {
		return m.bus.Load(addr, kind)
	}
	return m.mmu.Load(m.PDPR(), addr, kind)
}

func (m *Machine) memStore(addr uint32, v Value) error {
	if m.mode == PrivilegeKernel {
		return m.bus.Store(addr, v)
	}
	return m.mmu.Store(m.PDPR(), addr, v)
}

// push decrements the active stack pointer by v's size, then stores.
func (m *Machine) push(v Value) error {
	sp := m.SP(m.mode)
	*sp -= uint32(v.Kind().Size())
	return m.memStore(*sp, v)
}

// pop loads from the active stack pointer, then increments it by the
// value's size.
func (m *Machine) pop(kind Kind) (Value, error) {
	sp := m.SP(m.mode)
	v, err := m.memLoad(*sp, kind)
	if err != nil {
		return Value{}, err
	}
	*sp += uint32(kind.Size())
	return v, nil
}

// requireKernel returns an IllegalOperation fault if the CPU is not
// currently in kernel mode; used by every privileged operation.
func (m *Machine) requireKernel(op string) *cpuFault {
	if m.mode == PrivilegeKernel {
		return nil
	}
	m.latch.Raise(IntIllegalOperation)
	return tryAgain(&IllegalOperation{Addr: m.pc, Op: op}, IntIllegalOperation)
}

// getOperand reads ref the way a decoded instruction's operand is read: per
// §4.2, KSPR/PDPR/IMR/PFSR may only be read in kernel mode. Every opcode
// that resolves a RegRef operand out of the instruction stream calls this
// instead of Get directly, so the check lives in one place.
func (m *Machine) getOperand(ref RegRef) (Value, *cpuFault) {
	if ref.Privileged() && m.mode != PrivilegeKernel {
		m.latch.Raise(IntIllegalOperation)
		return Value{}, tryAgain(&IllegalOperation{Addr: m.pc, Op: "read " + ref.String()}, IntIllegalOperation)
	}
	return m.Get(ref), nil
}

// setOperand writes v to ref the way a decoded instruction's operand is
// written: per §4.2, KSPR/PDPR/IMR may only be written in kernel mode.
// Every opcode that resolves a RegRef operand out of the instruction
// stream calls this instead of Set directly.
func (m *Machine) setOperand(ref RegRef, v Value) *cpuFault {
	if ref.Privileged() && m.mode != PrivilegeKernel {
		m.latch.Raise(IntIllegalOperation)
		return tryAgain(&IllegalOperation{Addr: m.pc, Op: "write " + ref.String()}, IntIllegalOperation)
	}
	m.Set(ref, v)
	return nil
}
