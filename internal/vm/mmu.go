package vm

// mmu.go implements virtual-to-physical address translation: the 10/10/12
// two-level page table walk described in §4.3. User-mode CPU accesses
// always go through Translate; kernel mode addresses the Bus directly and
// never calls into this file.

const (
	pageOffsetBits = 12
	pageTableBits  = 10
	pageDirBits    = 10

	pteValid      = 1 << 0
	pteFramePresent = 1 << 1
	pteReadable   = 1 << 2
	pteWritable   = 1 << 3
	pteExecutable = 1 << 4
	pteCOW        = 1 << 5
	pteFrameMask  = 0xFFFFF000
)

// MMU owns the bus it translates addresses against.
type MMU struct {
	bus *Bus
}

func newMMU(bus *Bus) *MMU {
	return &MMU{bus: bus}
}

// Translate walks the page directory rooted at pdpr for vaddr, checking
// that intent is permitted by the leaf page-table entry. On any fault it
// returns a *PageFaultError carrying the PFSR code that the caller is
// responsible for latching into Registers.pfsr.
func (m *MMU) Translate(pdpr uint32, vaddr uint32, intent access) (uint32, error) {
	dirIndex := vaddr >> (pageTableBits + pageOffsetBits)
	dirEntryAddr := pdpr + 4*dirIndex

	dirEntry, err := m.loadEntry(dirEntryAddr)
	if err != nil {
		return 0, err
	}

	if dirEntry&pteValid == 0 {
		return 0, &PageFaultError{Addr: vaddr, Code: PFInvalidPage}
	}

	tableBase := dirEntry & pteFrameMask
	tableIndex := (vaddr >> pageOffsetBits) & (1<<pageDirBits - 1)
	tableEntryAddr := tableBase + 4*tableIndex

	tableEntry, err := m.loadEntry(tableEntryAddr)
	if err != nil {
		return 0, err
	}

	switch {
	case tableEntry&pteValid == 0:
		return 0, &PageFaultError{Addr: vaddr, Code: PFInvalidPage}
	case tableEntry&pteFramePresent == 0:
		return 0, &PageFaultError{Addr: vaddr, Code: PFNotPresent}
	case intent == accessRead && tableEntry&pteReadable == 0:
		return 0, &PageFaultError{Addr: vaddr, Code: PFIllegalAccess}
	case intent == accessWrite && tableEntry&pteWritable == 0:
		return 0, &PageFaultError{Addr: vaddr, Code: PFIllegalAccess}
	case intent == accessExecute && tableEntry&pteExecutable == 0:
		return 0, &PageFaultError{Addr: vaddr, Code: PFIllegalAccess}
	case intent == accessWrite && tableEntry&pteCOW != 0:
		return 0, &PageFaultError{Addr: vaddr, Code: PFCow}
	}

	frame := tableEntry & pteFrameMask
	offset := vaddr & (1<<pageOffsetBits - 1)

	return frame | offset, nil
}

func (m *MMU) loadEntry(addr uint32) (uint32, error) {
	v, err := m.bus.Load(addr, KindWord)
	if err != nil {
		return 0, err
	}
	return v.AsWord(), nil
}

// Load translates vaddr for a read and loads the value from the resulting
// physical address.
func (m *MMU) Load(pdpr, vaddr uint32, kind Kind) (Value, error) {
	phys, err := m.Translate(pdpr, vaddr, accessRead)
	if err != nil {
		return Value{}, err
	}
	return m.bus.Load(phys, kind)
}

// Store translates vaddr for a write and stores the value at the resulting
// physical address.
func (m *MMU) Store(pdpr, vaddr uint32, v Value) error {
	phys, err := m.Translate(pdpr, vaddr, accessWrite)
	if err != nil {
		return err
	}
	return m.bus.Store(phys, v)
}
