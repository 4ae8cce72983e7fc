// Package link implements the SILK linker: merging object files, resolving
// symbols with the spec's name-collision rules, relocating references, and
// producing a ROM or disk image.
package link

// link.go is grounded on gmofishsauce-wut4's lang/yld/linker.go for its
// phase split (resolve symbols -> layout -> relocate) and its
// globalSyms-map shape, generalized from that linker's two fixed
// code/data sections to this format's arbitrary section list and its
// richer internal/public/external collision-resolution table.

import (
	"errors"
	"fmt"

	"github.com/aldenwood/simulatron/internal/log"
	"github.com/aldenwood/simulatron/internal/objfile"
)

var (
	errLink = errors.New("link")

	// ErrDuplicatePublic mirrors objfile.ErrDuplicatePublic for two
	// public symbols of the same name arriving from different files.
	ErrDuplicatePublic = fmt.Errorf("%w: duplicate public symbol", errLink)

	// ErrUnresolvedExternal marks an external reference with no
	// supplying public definition anywhere in the link.
	ErrUnresolvedExternal = fmt.Errorf("%w: unresolved external", errLink)

	// ErrNoEntrypoint / ErrMultipleEntrypoints mark the image-production
	// precondition from §4.1 step 1.
	ErrNoEntrypoint        = fmt.Errorf("%w: no entrypoint section", errLink)
	ErrMultipleEntrypoints = fmt.Errorf("%w: multiple entrypoint sections", errLink)

	// ErrEntrypointNotExecutable marks an entrypoint section lacking the
	// execute flag.
	ErrEntrypointNotExecutable = fmt.Errorf("%w: entrypoint section not executable", errLink)

	// ErrWritableROM marks an attempt to link a writable section into a
	// ROM image.
	ErrWritableROM = fmt.Errorf("%w: writable section in rom image", errLink)

	// ErrImageTooLarge marks a ROM image exceeding its fixed capacity.
	ErrImageTooLarge = fmt.Errorf("%w: image too large", errLink)

	// ErrRenameExhausted marks the 2^32 unique-suffix search space
	// exhausted, per §4.1's "failure to find one... is fatal."
	ErrRenameExhausted = fmt.Errorf("%w: rename suffixes exhausted", errLink)
)

// Target selects the kind of image Linker.Image produces.
type Target uint8

const (
	TargetROM Target = iota
	TargetDisk
)

// Verbosity controls how much the linker logs via its *log.Logger, per
// §6's stackable -v flag: 1 reports per-file merge summaries, 2 adds
// per-symbol rename notices, 3 adds per-relocation patch addresses.
type Verbosity int

const (
	VerbositySilent Verbosity = iota
	VerbosityMerge
	VerbosityRename
	VerbosityRelocate
)

// Linker accumulates object files by merging them one at a time, then
// produces an image.
type Linker struct {
	sections []objfile.Section
	symbols  map[string]*objfile.Symbol

	verbosity Verbosity
	log       *log.Logger
}

// New creates an empty linker.
func New(v Verbosity) *Linker {
	return &Linker{
		symbols:   make(map[string]*objfile.Symbol),
		verbosity: v,
		log:       log.DefaultLogger(),
	}
}

// Merge folds obj into the linker's accumulated image: every one of obj's
// sections is appended, offset by the current total section length, and
// every one of its symbol values/references is relocated by the same
// amount before the per-name collision rules (§4.1's table) are applied.
func (l *Linker) Merge(name string, obj *objfile.Object) error {
	base := l.totalLength()

	if l.verbosity >= VerbosityMerge {
		l.log.Info("link: merge", log.String("file", name), log.String("base", fmt.Sprintf("%#x", base)))
	}

	for _, sym := range obj.Symbols {
		refs := make([]uint32, len(sym.References))
		for i, r := range sym.References {
			refs[i] = r + base
		}

		shifted := objfile.Symbol{
			Name:       sym.Name,
			Type:       sym.Type,
			Value:      sym.Value + base,
			References: refs,
		}

		if err := l.insert(&shifted); err != nil {
			return fmt.Errorf("link: merge %s: %w", name, err)
		}
	}

	l.sections = append(l.sections, obj.Sections...)

	return nil
}

func (l *Linker) totalLength() uint32 {
	var n uint32
	for _, s := range l.sections {
		n += uint32(len(s.Body))
	}
	return n
}

// insert applies the name-collision resolution table from §4.1.
func (l *Linker) insert(sym *objfile.Symbol) error {
	existing, collides := l.symbols[sym.Name]
	if !collides {
		l.symbols[sym.Name] = sym
		return nil
	}

	switch {
	case existing.Type == objfile.SymInternal && sym.Type == objfile.SymInternal:
		renamed, err := l.uniqueName(sym.Name)
		if err != nil {
			return err
		}
		sym.Name = renamed
		l.symbols[renamed] = sym
		return nil

	case existing.Type == objfile.SymInternal && sym.Type != objfile.SymInternal:
		renamed, err := l.uniqueName(existing.Name)
		if err != nil {
			return err
		}
		l.rename(existing, renamed)
		l.symbols[sym.Name] = sym
		return nil

	case existing.Type == objfile.SymPublic && sym.Type == objfile.SymInternal:
		renamed, err := l.uniqueName(sym.Name)
		if err != nil {
			return err
		}
		sym.Name = renamed
		l.symbols[renamed] = sym
		return nil

	case existing.Type == objfile.SymPublic && sym.Type == objfile.SymPublic:
		return fmt.Errorf("%w: %s", ErrDuplicatePublic, sym.Name)

	case existing.Type == objfile.SymPublic && sym.Type == objfile.SymExternal:
		existing.References = append(existing.References, sym.References...)
		return nil

	case existing.Type == objfile.SymExternal && sym.Type == objfile.SymInternal:
		renamed, err := l.uniqueName(sym.Name)
		if err != nil {
			return err
		}
		sym.Name = renamed
		l.symbols[renamed] = sym
		return nil

	case existing.Type == objfile.SymExternal && sym.Type == objfile.SymPublic:
		existing.Value = sym.Value
		existing.Type = objfile.SymPublic
		existing.References = append(existing.References, sym.References...)
		return nil

	case existing.Type == objfile.SymExternal && sym.Type == objfile.SymExternal:
		existing.References = append(existing.References, sym.References...)
		return nil
	}

	return fmt.Errorf("%w: unhandled collision %s/%s", errLink, existing.Type, sym.Type)
}

// rename replaces every stored reference to sym's old name with its new
// one; sym itself is the same pointer already present in l.symbols.
func (l *Linker) rename(sym *objfile.Symbol, newName string) {
	delete(l.symbols, sym.Name)
	sym.Name = newName
	l.symbols[newName] = sym
}

// uniqueName generates the smallest non-conflicting "name2", "name3", ...
// suffix. The search space is 2^32; exhausting it is fatal.
func (l *Linker) uniqueName(name string) (string, error) {
	for suffix := uint64(2); suffix < 1<<32; suffix++ {
		candidate := fmt.Sprintf("%s%d", name, suffix)
		if _, exists := l.symbols[candidate]; !exists {
			if l.verbosity >= VerbosityRename {
				l.log.Debug("link: rename", log.String("from", name), log.String("to", candidate))
			}
			return candidate, nil
		}
	}

	return "", ErrRenameExhausted
}
