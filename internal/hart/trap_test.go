package hart

import "testing"

func TestTrapTargetNeverLowersPrivilege(t *testing.T) {
	h, _ := newTestHart(t, 64)
	h.M.Medeleg = medelegMask
	h.M.Mideleg = sInterrupts

	// Full delegation still may not send a machine-mode trap below M.
	if got := h.trapTarget(CauseIllegalInsn, false, PrivMachine); got != PrivMachine {
		t.Fatalf("M-mode exception delegated to %v", got)
	}
	if got := h.trapTarget(IntSTimer, true, PrivMachine); got != PrivMachine {
		t.Fatalf("M-mode interrupt delegated to %v", got)
	}

	// From S, delegation may keep it at S but never reach U while
	// sedeleg/sideleg are hardwired zero.
	if got := h.trapTarget(CauseEcallFromU, false, PrivUser); got != PrivSupervisor {
		t.Fatalf("delegated U-mode exception handled at %v", got)
	}
}

func TestTrapTargetDelegation(t *testing.T) {
	h, _ := newTestHart(t, 64)

	if got := h.trapTarget(CauseLoadPageFault, false, PrivUser); got != PrivMachine {
		t.Fatalf("undelegated fault handled at %v", got)
	}
	h.M.Medeleg = 1 << CauseLoadPageFault
	if got := h.trapTarget(CauseLoadPageFault, false, PrivUser); got != PrivSupervisor {
		t.Fatalf("delegated fault handled at %v", got)
	}
	// A different cause stays at M.
	if got := h.trapTarget(CauseStorePageFault, false, PrivUser); got != PrivMachine {
		t.Fatalf("wrong cause delegated: %v", got)
	}
}

func TestInterruptPriorityOrder(t *testing.T) {
	h, _ := newTestHart(t, 64)
	h.M.Mstatus |= MstatusMIE
	h.M.Mie = mieMask

	// Pairwise: for every pair of pending lines the higher-priority one
	// wins. Order within a class is external, software, timer; machine
	// lines beat supervisor lines.
	order := []uint64{IntMExternal, IntMSoftware, IntMTimer, IntSExternal, IntSSoftware, IntSTimer}
	for i, hi := range order {
		for _, lo := range order[i+1:] {
			h.M.Mip = 1<<hi | 1<<lo
			code, ok := h.PendingInterrupt()
			if !ok {
				t.Fatalf("no interrupt pending for %d+%d", hi, lo)
			}
			if code != hi {
				t.Fatalf("pending %d+%d selected %d, want %d", hi, lo, code, hi)
			}
		}
	}
}

func TestInterruptDeterminism(t *testing.T) {
	h, _ := newTestHart(t, 64)
	h.M.Mstatus |= MstatusMIE
	h.M.Mie = mieMask
	h.M.Mip = MipSTIP | MipMSIP

	first, ok := h.PendingInterrupt()
	if !ok {
		t.Fatal("no interrupt pending")
	}
	for i := 0; i < 100; i++ {
		code, ok := h.PendingInterrupt()
		if !ok || code != first {
			t.Fatalf("selection changed on iteration %d: %d vs %d", i, code, first)
		}
	}
}

func TestInterruptGating(t *testing.T) {
	h, _ := newTestHart(t, 64)
	h.M.Mie = mieMask
	h.M.Mip = MipMTIP

	// M-retained interrupt in M-mode requires MIE.
	h.Priv = PrivMachine
	h.M.Mstatus &^= MstatusMIE
	if _, ok := h.PendingInterrupt(); ok {
		t.Fatal("machine interrupt taken with MIE clear")
	}
	h.M.Mstatus |= MstatusMIE
	if code, ok := h.PendingInterrupt(); !ok || code != IntMTimer {
		t.Fatalf("machine interrupt not taken with MIE set: %d %v", code, ok)
	}

	// From lower privilege it fires regardless of MIE.
	h.M.Mstatus &^= MstatusMIE
	h.Priv = PrivUser
	if _, ok := h.PendingInterrupt(); !ok {
		t.Fatal("machine interrupt not taken from U-mode")
	}

	// A delegated line running in M-mode never preempts M.
	h.Priv = PrivMachine
	h.M.Mstatus |= MstatusMIE | MstatusSIE
	h.M.Mideleg = sInterrupts
	h.M.Mip = MipSTIP
	if _, ok := h.PendingInterrupt(); ok {
		t.Fatal("delegated supervisor interrupt preempted M-mode")
	}

	// In S-mode it is gated by SIE.
	h.Priv = PrivSupervisor
	h.M.Mstatus &^= MstatusSIE
	if _, ok := h.PendingInterrupt(); ok {
		t.Fatal("supervisor interrupt taken with SIE clear")
	}
	h.M.Mstatus |= MstatusSIE
	if code, ok := h.PendingInterrupt(); !ok || code != IntSTimer {
		t.Fatalf("supervisor interrupt not taken: %d %v", code, ok)
	}
}

func TestEnterTrapMachine(t *testing.T) {
	h, _ := newTestHart(t, 64)
	h.Priv = PrivSupervisor
	h.PC = 0x8000_1000
	h.M.Mtvec = 0x8000_4000
	h.M.Mstatus |= MstatusMIE

	if err := h.EnterTrap(CauseIllegalInsn, 0xdead, false); err != nil {
		t.Fatalf("EnterTrap: %v", err)
	}

	if h.Priv != PrivMachine {
		t.Fatalf("privilege = %v", h.Priv)
	}
	if h.M.Mepc != 0x8000_1000 || h.M.Mcause != CauseIllegalInsn || h.M.Mtval != 0xdead {
		t.Fatalf("trap CSRs: epc=0x%x cause=%d tval=0x%x", h.M.Mepc, h.M.Mcause, h.M.Mtval)
	}
	if h.PC != 0x8000_4000 {
		t.Fatalf("PC = 0x%x", h.PC)
	}
	st := h.M.Mstatus
	if st&MstatusMIE != 0 || st&MstatusMPIE == 0 {
		t.Fatalf("interrupt-enable stack wrong: 0x%x", st)
	}
	if (st&MstatusMPP)>>mstatusMPPShift != uint64(PrivSupervisor) {
		t.Fatalf("MPP = %d", (st&MstatusMPP)>>mstatusMPPShift)
	}
}

func TestEnterTrapDelegatedToSupervisor(t *testing.T) {
	h, _ := newTestHart(t, 64)
	h.Priv = PrivUser
	h.PC = 0x8000_2000
	h.M.Medeleg = 1 << CauseEcallFromU
	h.S.Stvec = 0x8000_6000
	h.M.Mstatus |= MstatusSIE

	if err := h.EnterTrap(CauseEcallFromU, 0, false); err != nil {
		t.Fatalf("EnterTrap: %v", err)
	}

	if h.Priv != PrivSupervisor {
		t.Fatalf("privilege = %v", h.Priv)
	}
	if h.S.Sepc != 0x8000_2000 || h.S.Scause != CauseEcallFromU {
		t.Fatalf("trap CSRs: sepc=0x%x scause=%d", h.S.Sepc, h.S.Scause)
	}
	if h.M.Mepc != 0 || h.M.Mcause != 0 {
		t.Fatalf("machine trap CSRs touched: mepc=0x%x mcause=%d", h.M.Mepc, h.M.Mcause)
	}
	st := h.M.Mstatus
	if st&MstatusSIE != 0 || st&MstatusSPIE == 0 || st&MstatusSPP != 0 {
		t.Fatalf("supervisor stack wrong: 0x%x", st)
	}
	if h.Delta.Trap == nil || h.Delta.Trap.Target != PrivSupervisor {
		t.Fatalf("trap record: %+v", h.Delta.Trap)
	}
}

func TestVectoredInterruptEntry(t *testing.T) {
	h, _ := newTestHart(t, 64)
	h.M.Mtvec = 0x8000_4000 | tvecVectored
	h.Priv = PrivUser

	if err := h.EnterTrap(IntMTimer, 0, true); err != nil {
		t.Fatalf("EnterTrap: %v", err)
	}
	if h.PC != 0x8000_4000+4*IntMTimer {
		t.Fatalf("vectored entry PC = 0x%x", h.PC)
	}
	if h.M.Mcause != IntMTimer|1<<63 {
		t.Fatalf("mcause = 0x%x", h.M.Mcause)
	}

	// Synchronous traps ignore vectoring.
	h.Priv = PrivUser
	if err := h.EnterTrap(CauseBreakpoint, 0, false); err != nil {
		t.Fatalf("EnterTrap: %v", err)
	}
	if h.PC != 0x8000_4000 {
		t.Fatalf("synchronous entry PC = 0x%x", h.PC)
	}
}

func TestMretRestoresState(t *testing.T) {
	h, _ := newTestHart(t, 64)
	h.Priv = PrivUser
	h.PC = 0x8000_1000
	h.M.Mtvec = 0x8000_4000
	if err := h.EnterTrap(CauseEcallFromU, 0, false); err != nil {
		t.Fatalf("EnterTrap: %v", err)
	}

	h.returnMret()

	if h.Priv != PrivUser {
		t.Fatalf("privilege after mret = %v", h.Priv)
	}
	if h.PC != 0x8000_1000 {
		t.Fatalf("PC after mret = 0x%x", h.PC)
	}
	st := h.M.Mstatus
	if st&MstatusMPIE == 0 {
		t.Fatalf("MPIE not set after mret: 0x%x", st)
	}
	if (st&MstatusMPP)>>mstatusMPPShift != uint64(PrivUser) {
		t.Fatalf("MPP not reset to U: 0x%x", st)
	}
}

func TestSretRestoresState(t *testing.T) {
	h, _ := newTestHart(t, 64)
	h.Priv = PrivUser
	h.PC = 0x8000_3000
	h.M.Medeleg = 1 << CauseEcallFromU
	h.S.Stvec = 0x8000_6000
	h.M.Mstatus |= MstatusSIE
	if err := h.EnterTrap(CauseEcallFromU, 0, false); err != nil {
		t.Fatalf("EnterTrap: %v", err)
	}

	h.returnSret()

	if h.Priv != PrivUser {
		t.Fatalf("privilege after sret = %v", h.Priv)
	}
	if h.PC != 0x8000_3000 {
		t.Fatalf("PC after sret = 0x%x", h.PC)
	}
	if h.M.Mstatus&MstatusSIE == 0 {
		t.Fatalf("SIE not restored: 0x%x", h.M.Mstatus)
	}
}

func TestRV32InterruptFlag(t *testing.T) {
	h, _ := newTestHart(t, 32)
	if h.interruptFlag() != 1<<31 {
		t.Fatalf("rv32 interrupt flag = 0x%x", h.interruptFlag())
	}
}
