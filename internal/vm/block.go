package vm

// block.go implements BLOCKCOPY/BLOCKSET/BLOCKCMP: byte-by-byte bulk
// operations through the CPU's normal memory path (so they honor the
// current privilege mode exactly like any LOAD/STORE). BLOCKCOPY's eight
// opcodes each select a (length-is-byte-or-word, dst-is-register-or-
// literal, src-is-register-or-literal) combination; decodeBlockCopy reads
// the right operand shapes for whichever opcode fired and builds one
// shared opBlockCopy value.

type addrOperand struct {
	isReg bool
	ref   RegRef
	lit   uint32
}

func (a addrOperand) resolve(m *Machine) (uint32, *cpuFault) {
	if a.isReg {
		v, fault := m.getOperand(a.ref)
		if fault != nil {
			return 0, fault
		}
		return v.AsWord(), nil
	}
	return a.lit, nil
}

func (m *Machine) decodeAddrOperand(isReg bool) (addrOperand, error) {
	if isReg {
		ref, err := m.fetchRef()
		return addrOperand{isReg: true, ref: ref}, err
	}
	lit, err := m.fetchWord()
	return addrOperand{lit: lit}, err
}

func (m *Machine) decodeBlockCopy(opcode Opcode) (operation, Opcode, error) {
	idx := int(opcode - OpBlockCopyBRR)
	wordLength := idx >= 4
	dstIsReg := idx%4 < 2
	srcIsReg := idx%2 == 0

	var length uint32
	var err error
	if wordLength {
		length, err = m.fetchWord()
	} else {
		var b uint8
		b, err = m.fetchByte()
		length = uint32(b)
	}
	if err != nil {
		return nil, opcode, err
	}

	dst, err := m.decodeAddrOperand(dstIsReg)
	if err != nil {
		return nil, opcode, err
	}
	src, err := m.decodeAddrOperand(srcIsReg)
	if err != nil {
		return nil, opcode, err
	}

	return opBlockCopy{dst: dst, src: src, length: length}, opcode, nil
}

type opBlockCopy struct {
	dst, src addrOperand
	length   uint32
}

func (o opBlockCopy) Execute(m *Machine) *cpuFault {
	dstAddr, fault := o.dst.resolve(m)
	if fault != nil {
		return fault
	}
	srcAddr, fault := o.src.resolve(m)
	if fault != nil {
		return fault
	}

	for i := uint32(0); i < o.length; i++ {
		v, err := m.memLoad(srcAddr+i, KindByte)
		if err != nil {
			return memFault(m, err)
		}
		if err := m.memStore(dstAddr+i, v); err != nil {
			return memFault(m, err)
		}
	}

	return nil
}

func (m *Machine) decodeBlockSet() (operation, Opcode, error) {
	dst, err := m.fetchRef()
	if err != nil {
		return nil, OpBlockSet, err
	}
	val, err := m.fetchByte()
	if err != nil {
		return nil, OpBlockSet, err
	}
	length, err := m.fetchWord()
	return opBlockSet{dst: dst, val: val, length: length}, OpBlockSet, err
}

type opBlockSet struct {
	dst    RegRef
	val    uint8
	length uint32
}

func (o opBlockSet) Execute(m *Machine) *cpuFault {
	dv, fault := m.getOperand(o.dst)
	if fault != nil {
		return fault
	}
	addr := dv.AsWord()

	for i := uint32(0); i < o.length; i++ {
		if err := m.memStore(addr+i, Byte(o.val)); err != nil {
			return memFault(m, err)
		}
	}

	return nil
}

func (m *Machine) decodeBlockCmp() (operation, Opcode, error) {
	src1, src2, err := m.fetch2Refs()
	if err != nil {
		return nil, OpBlockCmp, err
	}
	length, err := m.fetchWord()
	return opBlockCmp{src1: src1, src2: src2, length: length}, OpBlockCmp, err
}

type opBlockCmp struct {
	src1, src2 RegRef
	length     uint32
}

// Execute compares byte-by-byte. Per the Open Question resolution in
// DESIGN.md, zero length compares equal (FLAGS = Z).
func (o opBlockCmp) Execute(m *Machine) *cpuFault {
	v1, fault := m.getOperand(o.src1)
	if fault != nil {
		return fault
	}
	v2, fault := m.getOperand(o.src2)
	if fault != nil {
		return fault
	}
	a, b := v1.AsWord(), v2.AsWord()

	flags := Flags(FlagZero)

	for i := uint32(0); i < o.length; i++ {
		av, err := m.memLoad(a+i, KindByte)
		if err != nil {
			return memFault(m, err)
		}
		bv, err := m.memLoad(b+i, KindByte)
		if err != nil {
			return memFault(m, err)
		}

		if av.AsByte() != bv.AsByte() {
			if av.AsByte() < bv.AsByte() {
				flags = FlagNegative
			} else {
				flags = 0
			}
			break
		}
	}

	m.SetFlags(flags)

	return nil
}
