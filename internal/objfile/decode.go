package objfile

// decode.go parses the SIMOBJ binary format per §4.1: header, symbol
// table, section headers, section bodies, then a check of every reference
// target and every value/reference bound. Values and references are kept
// exactly as stored in the file, as offsets from the first section body;
// Parse applies no relocation to them.

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// reader streams bytes through a counter so format errors can cite real
// byte offsets, the way the teacher's hex codec counts bytes consumed per
// record.
type reader struct {
	r   *bufio.Reader
	pos int64
}

func newReader(r io.Reader) *reader {
	return &reader{r: bufio.NewReader(r)}
}

func (rd *reader) readN(n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(rd.r, buf)
	rd.pos += int64(read)
	if err != nil {
		return nil, fmt.Errorf("%w: at offset %d: %w", ErrBadFormat, rd.pos, err)
	}
	return buf, nil
}

func (rd *reader) byte() (byte, error) {
	b, err := rd.readN(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (rd *reader) uint16() (uint16, error) {
	b, err := rd.readN(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (rd *reader) uint32() (uint32, error) {
	b, err := rd.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// Parse reads a complete object file from r.
func Parse(r io.Reader) (*Object, error) {
	rd := newReader(r)

	magic, err := rd.readN(len(Magic))
	if err != nil {
		return nil, err
	}
	if string(magic) != Magic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadFormat, magic)
	}

	version, err := rd.uint16()
	if err != nil {
		return nil, err
	}
	if version != ABIVersion {
		return nil, fmt.Errorf("%w: abi version %d", ErrBadFormat, version)
	}

	symCount, err := rd.uint32()
	if err != nil {
		return nil, err
	}
	secCount, err := rd.uint32()
	if err != nil {
		return nil, err
	}

	symbols := make([]Symbol, 0, symCount)
	seenPublic := make(map[string]bool)

	for i := uint32(0); i < symCount; i++ {
		sym, err := parseSymbol(rd)
		if err != nil {
			return nil, err
		}
		if sym.Type == SymPublic {
			if seenPublic[sym.Name] {
				return nil, fmt.Errorf("%w: %s", ErrDuplicatePublic, sym.Name)
			}
			seenPublic[sym.Name] = true
		}
		symbols = append(symbols, sym)
	}

	type header struct {
		flags  SectionFlags
		length uint32
	}

	headers := make([]header, 0, secCount)
	for i := uint32(0); i < secCount; i++ {
		fb, err := rd.byte()
		if err != nil {
			return nil, err
		}
		length, err := rd.uint32()
		if err != nil {
			return nil, err
		}
		headers = append(headers, header{flags: SectionFlags(fb), length: length})
	}

	sections := make([]Section, 0, secCount)
	for _, h := range headers {
		body, err := rd.readN(int(h.length))
		if err != nil {
			return nil, err
		}
		sections = append(sections, Section{Flags: h.flags, Body: body})
	}

	obj := &Object{Symbols: symbols, Sections: sections}

	if err := checkReferenceTargets(obj); err != nil {
		return nil, err
	}

	if err := verifyBounds(obj); err != nil {
		return nil, err
	}

	return obj, nil
}

func parseSymbol(rd *reader) (Symbol, error) {
	typeByte, err := rd.byte()
	if err != nil {
		return Symbol{}, err
	}
	st := SymbolType(typeByte)
	if !st.Valid() {
		return Symbol{}, fmt.Errorf("%w: %#02x", ErrBadSymbolType, typeByte)
	}

	value, err := rd.uint32()
	if err != nil {
		return Symbol{}, err
	}

	nameLen, err := rd.byte()
	if err != nil {
		return Symbol{}, err
	}
	if nameLen == 0 {
		return Symbol{}, fmt.Errorf("%w: empty name", ErrBadName)
	}

	nameBytes, err := rd.readN(int(nameLen))
	if err != nil {
		return Symbol{}, err
	}
	if !validName(string(nameBytes)) {
		return Symbol{}, fmt.Errorf("%w: %q", ErrBadName, nameBytes)
	}

	refCount, err := rd.uint32()
	if err != nil {
		return Symbol{}, err
	}

	refs := make([]uint32, 0, refCount)
	for i := uint32(0); i < refCount; i++ {
		ref, err := rd.uint32()
		if err != nil {
			return Symbol{}, err
		}
		refs = append(refs, ref)
	}

	return Symbol{Name: string(nameBytes), Type: st, Value: value, References: refs}, nil
}

// checkReferenceTargets rejects any reference whose target bytes, at parse
// time, are not the all-zero 4-byte placeholder the format requires.
func checkReferenceTargets(o *Object) error {
	flat := flattenSections(o.Sections)

	for _, sym := range o.Symbols {
		for _, ref := range sym.References {
			if int(ref)+4 > len(flat) {
				return fmt.Errorf("%w: %s reference at %d", ErrAddressOutOfRange, sym.Name, ref)
			}
			if flat[ref] != 0 || flat[ref+1] != 0 || flat[ref+2] != 0 || flat[ref+3] != 0 {
				return fmt.Errorf("%w: %s reference at %d", ErrNonZeroReferenceTarget, sym.Name, ref)
			}
		}
	}

	return nil
}

// verifyBounds checks every symbol value and reference, relative to the
// first section body, lands inside some section's extent.
func verifyBounds(o *Object) error {
	total := o.TotalSectionLength()

	for _, sym := range o.Symbols {
		if sym.Value >= total && !(sym.Type == SymExternal && sym.Value == 0) {
			return fmt.Errorf("%w: %s value %d", ErrAddressOutOfRange, sym.Name, sym.Value)
		}
		for _, ref := range sym.References {
			if ref >= total {
				return fmt.Errorf("%w: %s reference %d", ErrAddressOutOfRange, sym.Name, ref)
			}
		}
	}

	return nil
}

func flattenSections(sections []Section) []byte {
	var out []byte
	for _, s := range sections {
		out = append(out, s.Body...)
	}
	return out
}
