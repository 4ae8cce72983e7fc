package vm

import "testing"

func TestArithAddIdentityLeavesValueUnchanged(t *testing.T) {
	m := newTestMachine(t)
	m.Set(RefR0, Word(0x1234))
	m.Set(RefR1, Word(0))

	op := opArith{op: OpAdd, dst: RefR0, src1: RefR0, src2: RefR1}
	if fault := op.Execute(m); fault != nil {
		t.Fatalf("Execute: %v", fault)
	}

	if got := m.Get(RefR0).AsWord(); got != 0x1234 {
		t.Fatalf("r0 = %#x, want 0x1234 (ADD v, 0 must leave v unchanged)", got)
	}
	if m.Flags().Zero() {
		t.Fatalf("flags = %s, Zero must not be set for a nonzero result", m.Flags())
	}
	if m.Flags().Negative() {
		t.Fatalf("flags = %s, Negative must not be set for a positive result", m.Flags())
	}
}

func TestArithAddIdentityZeroSetsZeroFlag(t *testing.T) {
	m := newTestMachine(t)
	m.Set(RefR0, Word(0))
	m.Set(RefR1, Word(0))

	op := opArith{op: OpAdd, dst: RefR0, src1: RefR0, src2: RefR1}
	if fault := op.Execute(m); fault != nil {
		t.Fatalf("Execute: %v", fault)
	}

	if got := m.Get(RefR0).AsWord(); got != 0 {
		t.Fatalf("r0 = %#x, want 0", got)
	}
	if !m.Flags().Zero() {
		t.Fatalf("flags = %s, want Zero set", m.Flags())
	}
}

func TestArithSDivByZeroTraps(t *testing.T) {
	m := newTestMachine(t)
	m.Set(RefR0, Word(10))
	m.Set(RefR1, Word(0))

	op := opArith{op: OpSDiv, dst: RefR0, src1: RefR0, src2: RefR1}
	fault := op.Execute(m)
	if fault == nil {
		t.Fatalf("Execute: want a DivideByZero fault, got nil")
	}
	if fault.fatal {
		t.Fatalf("fault = %v, want a recoverable TryAgain fault, not fatal", fault.err)
	}
	if _, ok := fault.err.(*DivideByZeroError); !ok {
		t.Fatalf("fault.err = %T, want *DivideByZeroError", fault.err)
	}
}

func TestArithUDivByZeroTraps(t *testing.T) {
	m := newTestMachine(t)
	m.Set(RefR0, Word(10))
	m.Set(RefR1, Word(0))

	op := opArith{op: OpUDiv, dst: RefR0, src1: RefR0, src2: RefR1}
	fault := op.Execute(m)
	if fault == nil {
		t.Fatalf("Execute: want a DivideByZero fault, got nil")
	}
	if _, ok := fault.err.(*DivideByZeroError); !ok {
		t.Fatalf("fault.err = %T, want *DivideByZeroError", fault.err)
	}
}

// TestJumpConditionTable walks every conditional-jump predicate against a
// representative set of FLAGS combinations, matching the table in §4.2.
func TestJumpConditionTable(t *testing.T) {
	const target = RAMBase + 0x40

	cases := []struct {
		name  string
		cond  Condition
		flags Flags
		want  bool
	}{
		{"eq taken", CondEqual, FlagZero, true},
		{"eq not taken", CondEqual, 0, false},
		{"neq taken", CondNotEqual, 0, true},
		{"neq not taken", CondNotEqual, FlagZero, false},

		{"signed greater taken", CondSignedGreater, 0, true},
		{"signed greater blocked by zero", CondSignedGreater, FlagZero, false},
		{"signed greater blocked by n!=v", CondSignedGreater, FlagNegative, false},
		{"signed greater eq via zero", CondSignedGreaterEq, FlagZero, true},
		{"signed greater eq via n==v", CondSignedGreaterEq, 0, true},
		{"signed greater eq blocked", CondSignedGreaterEq, FlagNegative, false},

		{"signed lesser via n!=v", CondSignedLesser, FlagNegative, true},
		{"signed lesser blocked by n==v", CondSignedLesser, 0, false},
		{"signed lesser eq via zero", CondSignedLesserEq, FlagZero, true},
		{"signed lesser eq via n!=v", CondSignedLesserEq, FlagNegative, true},
		{"signed lesser eq blocked", CondSignedLesserEq, 0, false},

		{"unsigned greater taken", CondUnsignedGreater, 0, true},
		{"unsigned greater blocked by carry", CondUnsignedGreater, FlagCarry, false},
		{"unsigned greater blocked by zero", CondUnsignedGreater, FlagZero, false},
		{"unsigned greater eq via carry-clear", CondUnsignedGreaterEq, 0, true},
		{"unsigned greater eq via zero", CondUnsignedGreaterEq, FlagCarry | FlagZero, true},
		{"unsigned greater eq blocked", CondUnsignedGreaterEq, FlagCarry, false},

		{"unsigned lesser via carry", CondUnsignedLesser, FlagCarry, true},
		{"unsigned lesser blocked", CondUnsignedLesser, 0, false},
		{"unsigned lesser eq via carry", CondUnsignedLesserEq, FlagCarry, true},
		{"unsigned lesser eq via zero", CondUnsignedLesserEq, FlagZero, true},
		{"unsigned lesser eq blocked", CondUnsignedLesserEq, 0, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := newTestMachine(t)
			m.SetFlags(c.flags)
			m.pc = RAMBase

			op := opJump{target: target, cond: c.cond}
			if fault := op.Execute(m); fault != nil {
				t.Fatalf("Execute: %v", fault)
			}

			if c.want && m.pc != target {
				t.Fatalf("pc = %#x, want taken jump to %#x", m.pc, target)
			}
			if !c.want && m.pc != RAMBase {
				t.Fatalf("pc = %#x, want jump not taken (pc unchanged at %#x)", m.pc, RAMBase)
			}
		})
	}
}

func TestJumpUnconditionalAlwaysTaken(t *testing.T) {
	m := newTestMachine(t)
	m.pc = RAMBase

	op := opJump{target: RAMBase + 0x200, always: true}
	if fault := op.Execute(m); fault != nil {
		t.Fatalf("Execute: %v", fault)
	}
	if m.pc != RAMBase+0x200 {
		t.Fatalf("pc = %#x, want %#x", m.pc, RAMBase+0x200)
	}
}

// TestIreturnRestoresExactState confirms IRETURN undoes enterInterrupt's
// entry sequence exactly: FLAGS, PC, IMR and the mode bit all come back to
// their pre-interrupt values.
func TestIreturnRestoresExactState(t *testing.T) {
	m := newTestMachine(t)
	m.mode = PrivilegeUser
	m.Set(RefUSPR, Word(RAMBase+0x800))
	m.Set(RefKSPR, Word(RAMBase+0x900))
	m.SetIMR(0x00FF)
	m.SetFlags(FlagZero | FlagCarry)
	m.pc = RAMBase + 0x10

	if err := m.enterInterrupt(IntSyscall); err != nil {
		t.Fatalf("enterInterrupt: %v", err)
	}

	if m.mode != PrivilegeKernel {
		t.Fatalf("mode after entry = %v, want kernel", m.mode)
	}
	if m.IMR() != 0 {
		t.Fatalf("IMR after entry = %#x, want 0 (all masked)", m.IMR())
	}

	// The handler runs in kernel mode and may touch registers; IRETURN
	// must still restore exactly what was saved, not whatever is live now.
	m.SetFlags(FlagNegative)
	m.SetIMR(0xFFFF)

	if fault := (opIreturn{}).Execute(m); fault != nil {
		t.Fatalf("Execute: %v", fault)
	}

	if m.pc != RAMBase+0x10 {
		t.Fatalf("pc = %#x, want %#x", m.pc, RAMBase+0x10)
	}
	if m.IMR() != 0x00FF {
		t.Fatalf("IMR = %#x, want restored 0x00FF", m.IMR())
	}
	if f := m.Flags(); !f.Zero() || !f.Carry() || f.Negative() {
		t.Fatalf("flags = %s, want restored Zero|Carry exactly", f)
	}
	if m.mode != PrivilegeUser {
		t.Fatalf("mode after IRETURN = %v, want user (restored from saved mode bit)", m.mode)
	}
}

func TestIreturnRestoresKernelMode(t *testing.T) {
	m := newTestMachine(t)
	m.mode = PrivilegeKernel
	m.Set(RefKSPR, Word(RAMBase+0x900))
	m.pc = RAMBase + 0x20

	if err := m.enterInterrupt(IntTimer); err != nil {
		t.Fatalf("enterInterrupt: %v", err)
	}

	if fault := (opIreturn{}).Execute(m); fault != nil {
		t.Fatalf("Execute: %v", fault)
	}

	if m.mode != PrivilegeKernel {
		t.Fatalf("mode after IRETURN = %v, want kernel (restored from saved mode bit)", m.mode)
	}
	if m.pc != RAMBase+0x20 {
		t.Fatalf("pc = %#x, want %#x", m.pc, RAMBase+0x20)
	}
}

// --- privilege enforcement regression coverage ---

func TestStepHaltInUserModeRaisesIllegalOperation(t *testing.T) {
	// A user-mode fetch goes through the MMU, so map the code page first.
	m := New(WithRAM(0x4000))
	installMapping(t, m.bus, RAMBase+0x1000, RAMBase, RAMBase, pteValid|pteFramePresent|pteReadable|pteExecutable)
	m.Set(RefPDPR, Word(RAMBase+0x1000))
	m.Set(RefUSPR, Word(RAMBase+0x800))
	m.mode = PrivilegeUser
	m.pc = RAMBase
	m.running = true

	if err := m.bus.Store(RAMBase, Byte(uint8(OpHalt))); err != nil {
		t.Fatalf("seed instruction: %v", err)
	}

	halted, err := m.step()
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if halted {
		t.Fatalf("step reported halted, want a blocked user-mode HALT")
	}
	if !m.running {
		t.Fatalf("m.running = false, a user-mode HALT must not stop the machine")
	}
	if m.pc != RAMBase {
		t.Fatalf("pc = %#x, want rewound to %#x", m.pc, RAMBase)
	}
	if i, ok := m.latch.Poll(0xFFFF); !ok || i != IntIllegalOperation {
		t.Fatalf("latch poll = (%v, %v), want IntIllegalOperation raised", i, ok)
	}
}

func TestStepPauseInUserModeRaisesIllegalOperation(t *testing.T) {
	// A user-mode fetch goes through the MMU, so map the code page first.
	m := New(WithRAM(0x4000))
	installMapping(t, m.bus, RAMBase+0x1000, RAMBase, RAMBase, pteValid|pteFramePresent|pteReadable|pteExecutable)
	m.Set(RefPDPR, Word(RAMBase+0x1000))
	m.Set(RefUSPR, Word(RAMBase+0x800))
	m.mode = PrivilegeUser
	m.pc = RAMBase
	m.running = true

	if err := m.bus.Store(RAMBase, Byte(uint8(OpPause))); err != nil {
		t.Fatalf("seed instruction: %v", err)
	}

	if _, err := m.step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if m.pausing {
		t.Fatalf("m.pausing = true, a user-mode PAUSE must not block the CPU")
	}
	if m.pc != RAMBase {
		t.Fatalf("pc = %#x, want rewound to %#x", m.pc, RAMBase)
	}
}

func TestStepHaltInKernelModeHalts(t *testing.T) {
	m := newTestMachine(t)
	m.mode = PrivilegeKernel
	m.pc = RAMBase
	m.running = true

	if err := m.bus.Store(RAMBase, Byte(uint8(OpHalt))); err != nil {
		t.Fatalf("seed instruction: %v", err)
	}

	halted, err := m.step()
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if !halted {
		t.Fatalf("step did not report halted for a kernel-mode HALT")
	}
	if m.running {
		t.Fatalf("m.running = true, a kernel-mode HALT must stop the machine")
	}
}

func TestOperandPrivilegeBlocksUserModePush(t *testing.T) {
	m := newTestMachine(t)
	m.Set(RefKSPR, Word(0xDEAD0000))
	m.Set(RefUSPR, Word(RAMBase+0x800))
	m.mode = PrivilegeUser

	op := opPush{src: RefKSPR}
	fault := op.Execute(m)
	if fault == nil {
		t.Fatalf("Execute: want IllegalOperation pushing KSPR from user mode, got nil")
	}
	if _, ok := fault.err.(*IllegalOperation); !ok {
		t.Fatalf("fault.err = %T, want *IllegalOperation", fault.err)
	}
	if got := *m.SP(PrivilegeUser); got != RAMBase+0x800 {
		t.Fatalf("user SP = %#x, want unchanged at %#x (the stack leak must not happen)", got, RAMBase+0x800)
	}
}

func TestOperandPrivilegeBlocksUserModePop(t *testing.T) {
	m := newTestMachine(t)
	m.Set(RefPDPR, Word(0))
	m.Set(RefUSPR, Word(RAMBase+0x800))
	m.mode = PrivilegeUser

	op := opPop{dst: RefPDPR}
	fault := op.Execute(m)
	if fault == nil {
		t.Fatalf("Execute: want IllegalOperation popping into PDPR from user mode, got nil")
	}
	if _, ok := fault.err.(*IllegalOperation); !ok {
		t.Fatalf("fault.err = %T, want *IllegalOperation", fault.err)
	}
}

func TestOperandPrivilegeBlocksUserModeMove(t *testing.T) {
	m := newTestMachine(t)
	m.Set(RefIMR, Word(0x00FF))
	m.mode = PrivilegeUser

	op := opMove{dst: RefR0, src: RefIMR}
	fault := op.Execute(m)
	if fault == nil {
		t.Fatalf("Execute: want IllegalOperation reading IMR from user mode, got nil")
	}
	if got := m.Get(RefR0).AsWord(); got != 0 {
		t.Fatalf("r0 = %#x, want unchanged at 0 (the read must not commit)", got)
	}
}

func TestOperandPrivilegeBlocksUserModeArithDst(t *testing.T) {
	m := newTestMachine(t)
	m.Set(RefIMR, Word(0))
	m.Set(RefR0, Word(1))
	m.mode = PrivilegeUser

	op := opArith{op: OpAdd, dst: RefIMR, src1: RefIMR, src2: RefR0}
	fault := op.Execute(m)
	if fault == nil {
		t.Fatalf("Execute: want IllegalOperation writing IMR from user mode, got nil")
	}
	if m.IMR() != 0 {
		t.Fatalf("IMR = %#x, want unchanged at 0", m.IMR())
	}
}

func TestOperandPrivilegeAllowsKernelModeAccess(t *testing.T) {
	m := newTestMachine(t)
	m.Set(RefKSPR, Word(RAMBase+0x900))
	m.mode = PrivilegeKernel

	op := opMove{dst: RefR0, src: RefKSPR}
	if fault := op.Execute(m); fault != nil {
		t.Fatalf("Execute: %v", fault)
	}
	if got := m.Get(RefR0).AsWord(); got != RAMBase+0x900 {
		t.Fatalf("r0 = %#x, want %#x (kernel mode may read KSPR)", got, RAMBase+0x900)
	}
}
