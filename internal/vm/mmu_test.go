package vm

import (
	"errors"
	"testing"
)

func newTestMMU(t *testing.T) (*MMU, *Bus) {
	t.Helper()
	bus := NewBus()
	bus.Map("ram", RAMBase, 0x10000, newRAM(0x10000))
	return newMMU(bus), bus
}

// installMapping writes a one-entry page directory and page table so vaddr
// translates to phys, with the given PTE permission bits.
func installMapping(t *testing.T, bus *Bus, pdpr, vaddr, phys uint32, pteBits uint32) {
	t.Helper()

	dirIndex := vaddr >> (pageTableBits + pageOffsetBits)
	tableIndex := (vaddr >> pageOffsetBits) & (1<<pageDirBits - 1)

	tableBase := pdpr + 0x1000
	if err := bus.Store(pdpr+4*dirIndex, Word(tableBase|pteValid)); err != nil {
		t.Fatalf("store dir entry: %v", err)
	}
	if err := bus.Store(tableBase+4*tableIndex, Word((phys&pteFrameMask)|pteBits)); err != nil {
		t.Fatalf("store table entry: %v", err)
	}
}

func TestMMUTranslateSuccess(t *testing.T) {
	mmu, bus := newTestMMU(t)
	pdpr := RAMBase
	vaddr := uint32(0x00401004)
	phys := RAMBase + 0x4000

	installMapping(t, bus, pdpr, vaddr, phys, pteValid|pteFramePresent|pteReadable|pteWritable)

	got, err := mmu.Translate(pdpr, vaddr, accessRead)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if want := phys | (vaddr & 0xFFF); got != want {
		t.Fatalf("Translate = %#x, want %#x", got, want)
	}
}

func TestMMUTranslateInvalidDirEntry(t *testing.T) {
	mmu, _ := newTestMMU(t)

	_, err := mmu.Translate(RAMBase, 0x00C00000, accessRead)

	var pf *PageFaultError
	if !errors.As(err, &pf) || pf.Code != PFInvalidPage {
		t.Fatalf("err = %v, want PFInvalidPage", err)
	}
}

func TestMMUTranslateNotPresent(t *testing.T) {
	mmu, bus := newTestMMU(t)
	pdpr := RAMBase
	vaddr := uint32(0x00401000)

	installMapping(t, bus, pdpr, vaddr, RAMBase+0x4000, pteValid) // no pteFramePresent

	_, err := mmu.Translate(pdpr, vaddr, accessRead)

	var pf *PageFaultError
	if !errors.As(err, &pf) || pf.Code != PFNotPresent {
		t.Fatalf("err = %v, want PFNotPresent", err)
	}
}

func TestMMUTranslateIllegalAccess(t *testing.T) {
	mmu, bus := newTestMMU(t)
	pdpr := RAMBase
	vaddr := uint32(0x00401000)

	installMapping(t, bus, pdpr, vaddr, RAMBase+0x4000, pteValid|pteFramePresent|pteReadable)

	if _, err := mmu.Translate(pdpr, vaddr, accessWrite); err == nil {
		t.Fatalf("Translate(accessWrite) on read-only page: want error, got nil")
	} else {
		var pf *PageFaultError
		if !errors.As(err, &pf) || pf.Code != PFIllegalAccess {
			t.Fatalf("err = %v, want PFIllegalAccess", err)
		}
	}
}

func TestMMUTranslateCOW(t *testing.T) {
	mmu, bus := newTestMMU(t)
	pdpr := RAMBase
	vaddr := uint32(0x00401000)

	installMapping(t, bus, pdpr, vaddr, RAMBase+0x4000, pteValid|pteFramePresent|pteReadable|pteWritable|pteCOW)

	_, err := mmu.Translate(pdpr, vaddr, accessWrite)

	var pf *PageFaultError
	if !errors.As(err, &pf) || pf.Code != PFCow {
		t.Fatalf("err = %v, want PFCow", err)
	}

	// Reads of a COW page are unaffected.
	if _, err := mmu.Translate(pdpr, vaddr, accessRead); err != nil {
		t.Fatalf("Translate(accessRead) on COW page: %v", err)
	}
}

func TestMMULoadStoreRoundTrip(t *testing.T) {
	mmu, bus := newTestMMU(t)
	pdpr := RAMBase
	vaddr := uint32(0x00401000)
	phys := RAMBase + 0x4000

	installMapping(t, bus, pdpr, vaddr, phys, pteValid|pteFramePresent|pteReadable|pteWritable)

	if err := mmu.Store(pdpr, vaddr, Word(0xCAFEBABE)); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := mmu.Load(pdpr, vaddr, KindWord)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.AsWord() != 0xCAFEBABE {
		t.Fatalf("Load = %#x, want 0xCAFEBABE", got.AsWord())
	}
}
