package link

// image.go implements §4.1's image-production steps: find and rotate the
// entrypoint section first, patch every reference site with its symbol's
// final address, concatenate, and zero-pad to the target's fixed size.

import (
	"encoding/binary"
	"fmt"

	"github.com/aldenwood/simulatron/internal/log"
	"github.com/aldenwood/simulatron/internal/objfile"
)

// The image's physical load base (vm.ROMBase for a ROM) is not defined
// here, since link has no other reason to depend on the CPU package; the
// caller passes it in as Image's base parameter.

// DiskBlockSize mirrors internal/vm.DiskBlockSize for disk-image padding.
const DiskBlockSize = 4096

// ROMCapacity is the fixed size of a ROM image.
const ROMCapacity = 512

// Image produces the final linked image. base is the physical load address
// the image will occupy (ROM base for TargetROM, the disk's own base for
// TargetDisk); every resolved symbol's reference sites are patched with
// base + its in-image offset.
func (l *Linker) Image(target Target, base uint32) ([]byte, error) {
	entryIdx, err := l.findEntrypoint()
	if err != nil {
		return nil, err
	}

	sections, offsets := l.rotate(entryIdx)

	if target == TargetROM {
		for _, s := range sections {
			if s.Flags.Write() {
				return nil, ErrWritableROM
			}
		}
	}

	image := make([]byte, 0, l.totalLength())
	for _, s := range sections {
		image = append(image, s.Body...)
	}

	if err := l.patchReferences(image, offsets, base); err != nil {
		return nil, err
	}

	switch target {
	case TargetROM:
		if len(image) > ROMCapacity {
			return nil, fmt.Errorf("%w: %d > %d", ErrImageTooLarge, len(image), ROMCapacity)
		}
		padded := make([]byte, ROMCapacity)
		copy(padded, image)
		return padded, nil

	case TargetDisk:
		size := len(image)
		if rem := size % DiskBlockSize; rem != 0 {
			size += DiskBlockSize - rem
		}
		padded := make([]byte, size)
		copy(padded, image)
		return padded, nil

	default:
		return nil, fmt.Errorf("%w: unknown target", errLink)
	}
}

func (l *Linker) findEntrypoint() (int, error) {
	idx := -1
	for i, s := range l.sections {
		if s.Flags.Entrypoint() {
			if idx != -1 {
				return 0, ErrMultipleEntrypoints
			}
			idx = i
		}
	}

	if idx == -1 {
		return 0, ErrNoEntrypoint
	}
	if !l.sections[idx].Flags.Execute() {
		return 0, ErrEntrypointNotExecutable
	}

	return idx, nil
}

// rotate reorders sections so the entrypoint section is first, and returns
// the per-section starting offset into the final concatenated image after
// rotation (the mapping patchReferences needs to translate each symbol's
// pre-rotation value into its final image position).
func (l *Linker) rotate(entryIdx int) ([]objfile.Section, map[int]uint32) {
	order := make([]int, 0, len(l.sections))
	order = append(order, entryIdx)
	for i := range l.sections {
		if i != entryIdx {
			order = append(order, i)
		}
	}

	sections := make([]objfile.Section, len(order))
	offsets := make(map[int]uint32, len(order))

	var off uint32
	for newPos, oldIdx := range order {
		sections[newPos] = l.sections[oldIdx]
		offsets[oldIdx] = off
		off += uint32(len(l.sections[oldIdx].Body))
	}

	return sections, offsets
}

// sectionOf returns the pre-rotation section index containing pre-rotation
// offset addr (an unrotated symbol Value/reference is relative to the
// original section order, from before rotate moved entryIdx first -- see
// Merge, which always appended in file order starting from an empty
// linker, so offsets already address that original concatenation).
func (l *Linker) sectionOf(addr uint32) (idx int, within uint32) {
	var base uint32
	for i, s := range l.sections {
		n := uint32(len(s.Body))
		if addr < base+n {
			return i, addr - base
		}
		base += n
	}
	return -1, 0
}

// patchReferences writes each resolved symbol's final address into every
// reference site, verifying the site still holds the all-zero placeholder.
func (l *Linker) patchReferences(image []byte, offsets map[int]uint32, base uint32) error {
	for name, sym := range l.symbols {
		if sym.Type == objfile.SymExternal {
			return fmt.Errorf("%w: %s", ErrUnresolvedExternal, name)
		}

		secIdx, within := l.sectionOf(sym.Value)
		if secIdx == -1 {
			return fmt.Errorf("%w: %s value %d", ErrAddressOutOfRange, name, sym.Value)
		}
		finalAddr := base + offsets[secIdx] + within

		for _, ref := range sym.References {
			refSec, refWithin := l.sectionOf(ref)
			if refSec == -1 {
				return fmt.Errorf("%w: %s reference %d", ErrAddressOutOfRange, name, ref)
			}
			site := offsets[refSec] + refWithin

			if site+4 > uint32(len(image)) {
				return fmt.Errorf("%w: %s reference %d", ErrAddressOutOfRange, name, ref)
			}
			if image[site] != 0 || image[site+1] != 0 || image[site+2] != 0 || image[site+3] != 0 {
				return fmt.Errorf("%w: %s reference %d", objfile.ErrNonZeroReferenceTarget, name, ref)
			}

			binary.BigEndian.PutUint32(image[site:site+4], finalAddr)

			if l.verbosity >= VerbosityRelocate {
				l.log.Debug("link: relocate",
					log.String("symbol", name),
					log.String("site", fmt.Sprintf("%#x", site)),
					log.String("value", fmt.Sprintf("%#x", finalAddr)))
			}
		}
	}

	return nil
}

var ErrAddressOutOfRange = fmt.Errorf("%w: address out of range", errLink)
