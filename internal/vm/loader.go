package vm

// loader.go takes a parsed object -- produced by internal/objfile directly,
// or indirectly via internal/link's image production -- and turns it into
// physical memory writes, optionally backed by page table entries that
// honor each section's read/write/execute flags.

import (
	"fmt"

	"github.com/aldenwood/simulatron/internal/log"
	"github.com/aldenwood/simulatron/internal/objfile"
)

var ErrObjectLoader = fmt.Errorf("%w: object loader", errVM)

// Loader writes object code into a machine's physical memory.
type Loader struct {
	m   *Machine
	log *log.Logger
}

// NewLoader creates a loader bound to m.
func NewLoader(m *Machine) *Loader {
	return &Loader{m: m, log: log.DefaultLogger()}
}

// Load writes every section of obj into physical memory starting at base,
// in section order, the same concatenation internal/link's Image assumes.
// It returns the physical address of the entrypoint section, the one
// requirement spec.md places on a loadable object (§4.1 step 1).
func (l *Loader) Load(obj *objfile.Object, base uint32) (uint32, error) {
	if len(obj.Sections) == 0 {
		return 0, fmt.Errorf("%w: object has no sections", ErrObjectLoader)
	}

	var (
		addr      = base
		entry     uint32
		entrySeen bool
	)

	for _, sec := range obj.Sections {
		if sec.Flags.Entrypoint() {
			if entrySeen {
				return 0, fmt.Errorf("%w: multiple entrypoint sections", ErrObjectLoader)
			}
			entry = addr
			entrySeen = true
		}

		for i, b := range sec.Body {
			if err := l.m.bus.StoreByte(addr+uint32(i), b); err != nil {
				return 0, fmt.Errorf("%w: %w", ErrObjectLoader, err)
			}
		}

		addr += uint32(len(sec.Body))
	}

	if !entrySeen {
		return 0, fmt.Errorf("%w: no entrypoint section", ErrObjectLoader)
	}

	l.log.Debug("loader: loaded", log.String("base", fmt.Sprintf("%#08x", base)),
		log.String("entry", fmt.Sprintf("%#08x", entry)))

	return entry, nil
}

// pageTableSize is the physical size, in bytes, of one second-level page
// table: pageDirBits worth of 4-byte entries.
const pageTableSize = (1 << pageDirBits) * 4

// MapPages builds a page directory rooted at pdprAddr plus as many second
// -level page tables as the mapping spans, using scratchBase as free
// physical memory to lay those tables out in (the caller reserves
// len(ranges)-worth of distinct page tables' room there; one table covers
// 1<<pageDirBits pages, 4 MiB of address space, which is ample for a
// program's handful of sections). It maps each [vbase, vbase+length) range
// in ranges to the matching physical [pbase, pbase+length), page by page,
// applying perm's readable/writable/executable bits to every leaf entry in
// that range.
func (l *Loader) MapPages(pdprAddr, scratchBase uint32, ranges []PageRange) error {
	tables := map[uint32]uint32{} // dir index -> table physical base
	nextTable := scratchBase

	reserveTable := func(dirIndex uint32) (uint32, error) {
		if base, ok := tables[dirIndex]; ok {
			return base, nil
		}
		base := nextTable
		nextTable += pageTableSize
		tables[dirIndex] = base

		dirEntryAddr := pdprAddr + 4*dirIndex
		if err := l.m.bus.Store(dirEntryAddr, Word(base&pteFrameMask|pteValid|pteFramePresent)); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrObjectLoader, err)
		}
		return base, nil
	}

	const pageSize = 1 << pageOffsetBits

	for _, rg := range ranges {
		var entryFlags uint32 = pteValid | pteFramePresent
		if rg.Perm.Read() {
			entryFlags |= pteReadable
		}
		if rg.Perm.Write() {
			entryFlags |= pteWritable
		}
		if rg.Perm.Execute() {
			entryFlags |= pteExecutable
		}

		npages := (rg.Length + pageSize - 1) / pageSize

		for i := uint32(0); i < npages; i++ {
			vaddr := rg.VBase + i*pageSize
			paddr := rg.PBase + i*pageSize

			dirIndex := vaddr >> (pageTableBits + pageOffsetBits)
			tableIndex := (vaddr >> pageOffsetBits) & (1<<pageDirBits - 1)

			tableBase, err := reserveTable(dirIndex)
			if err != nil {
				return err
			}

			entryAddr := tableBase + 4*tableIndex
			if err := l.m.bus.Store(entryAddr, Word(paddr&pteFrameMask|entryFlags)); err != nil {
				return fmt.Errorf("%w: %w", ErrObjectLoader, err)
			}
		}
	}

	return nil
}

// PageRange describes one contiguous virtual-to-physical mapping that
// MapPages should install, carrying the section permission flags its
// pages should be marked with.
type PageRange struct {
	VBase, PBase, Length uint32
	Perm                 objfile.SectionFlags
}
