package vm

// bus.go implements the physical address space: a fixed table of regions,
// each backed by a device that serves single-byte loads/stores, composed
// by Bus into the big-endian multi-byte primitives the CPU actually uses.

import (
	"fmt"
	"sort"

	"github.com/aldenwood/simulatron/internal/log"
)

// Physical memory map. Each constant is the first address of its region.
const (
	InterruptVectorBase uint32 = 0x0000
	InterruptVectorSize uint32 = 0x0020
	ReservedLowBase     uint32 = 0x0020
	ROMBase             uint32 = 0x0040
	ROMSize             uint32 = 512
	DisplayBase         uint32 = 0x0240
	DisplaySize         uint32 = 0x19B0 - 0x0240
	KeyboardBase        uint32 = 0x19B0
	KeyboardSize        uint32 = 2
	ReservedMidBase     uint32 = 0x19B2
	DiskAStatusBase     uint32 = 0x1FEC
	DiskABlockBase      uint32 = 0x1FF1
	DiskACommandAddr    uint32 = 0x1FF5
	DiskBStatusBase     uint32 = 0x1FF6
	DiskBBlockBase      uint32 = 0x1FFB
	DiskBCommandAddr    uint32 = 0x1FFF
	DiskADataBase       uint32 = 0x2000
	DiskBDataBase       uint32 = 0x3000
	DiskDataSize        uint32 = 0x1000 // 4096 B, one block.
	RAMBase             uint32 = 0x4000
)

// access describes what an operation intends to do, for the MMU's page
// permission checks (the bus checks a region's readable/writable instead).
type access uint8

const (
	accessRead access = iota
	accessWrite
	accessExecute
)

func (a access) String() string {
	switch a {
	case accessRead:
		return "read"
	case accessWrite:
		return "write"
	case accessExecute:
		return "execute"
	default:
		return "access"
	}
}

// byteDevice serves single-byte physical memory access for one region.
// Bus uses only this interface; the devices' other methods (see kbd.go,
// disp.go, disk.go) are called by Machine and the UI, never by Bus.
type byteDevice interface {
	loadByte(offset uint32) (uint8, error)
	storeByte(offset uint32, b uint8) error
	readable() bool
	writable() bool
}

type region struct {
	name string
	base uint32
	size uint32
	dev  byteDevice
}

func (r region) contains(addr uint32) bool {
	return addr >= r.base && addr < r.base+r.size
}

// Bus is the machine's memory-mapped bus: physical address space dispatch
// plus the composition of byte primitives into big-endian multi-byte
// loads/stores.
type Bus struct {
	regions []region
	log     *log.Logger
}

// NewBus creates an empty bus. Regions are registered with Map.
func NewBus() *Bus {
	return &Bus{log: log.DefaultLogger()}
}

// Map installs a device to serve a fixed region of the physical address
// space. Regions must not overlap; Map panics on a configuration bug since
// it only ever runs once, at machine construction.
func (b *Bus) Map(name string, base, size uint32, dev byteDevice) {
	for _, r := range b.regions {
		if addr := r.base; base < addr+r.size && addr < base+size {
			panic(fmt.Sprintf("vm: bus: region %q overlaps %q", name, r.name))
		}
	}

	b.regions = append(b.regions, region{name: name, base: base, size: size, dev: dev})

	sort.Slice(b.regions, func(i, j int) bool { return b.regions[i].base < b.regions[j].base })
}

func (b *Bus) find(addr uint32) *region {
	for i := range b.regions {
		if b.regions[i].contains(addr) {
			return &b.regions[i]
		}
	}
	return nil
}

// LoadByte reads a single byte from physical memory.
func (b *Bus) LoadByte(addr uint32) (uint8, error) {
	r := b.find(addr)
	if r == nil {
		return 0, fmt.Errorf("%w: addr %#08x", ErrNoDevice, addr)
	}
	if !r.dev.readable() {
		return 0, &IllegalOperation{Addr: addr, Op: "read"}
	}
	return r.dev.loadByte(addr - r.base)
}

// StoreByte writes a single byte to physical memory.
func (b *Bus) StoreByte(addr uint32, v uint8) error {
	r := b.find(addr)
	if r == nil {
		return fmt.Errorf("%w: addr %#08x", ErrNoDevice, addr)
	}
	if !r.dev.writable() {
		return &IllegalOperation{Addr: addr, Op: "write"}
	}
	return r.dev.storeByte(addr-r.base, v)
}

// Load and Store compose the byte primitives into the kind-sized,
// big-endian access the CPU actually issues. A fault on any byte aborts the
// whole access, leaving earlier bytes of mem already mutated on a partial
// store -- matching §4.3's "a fault on any byte aborts the whole access".

// Load reads a value of the given kind at addr, big-endian.
func (b *Bus) Load(addr uint32, kind Kind) (Value, error) {
	n := kind.Size()
	var bits uint32

	for i := 0; i < n; i++ {
		by, err := b.LoadByte(addr + uint32(i))
		if err != nil {
			return Value{}, err
		}
		bits = bits<<8 | uint32(by)
	}

	switch kind {
	case KindByte:
		return Byte(uint8(bits)), nil
	case KindHalf:
		return Half(uint16(bits)), nil
	case KindWord:
		return Word(bits), nil
	case KindFloat:
		return Value{kind: KindFloat, bits: bits}, nil
	default:
		return Value{}, fmt.Errorf("%w: unknown kind %v", ErrMemory, kind)
	}
}

// Store writes v, big-endian, at addr.
func (b *Bus) Store(addr uint32, v Value) error {
	n := v.Kind().Size()
	bits := v.Bits()

	for i := 0; i < n; i++ {
		shift := uint(8 * (n - 1 - i))
		if err := b.StoreByte(addr+uint32(i), uint8(bits>>shift)); err != nil {
			return err
		}
	}
	return nil
}
