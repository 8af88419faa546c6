package hart

import "testing"

func TestCSRPrivilegeCheck(t *testing.T) {
	h, _ := newTestHart(t, 64)

	h.Priv = PrivUser
	if err := h.csrAccess(CSRMstatus, false); err == nil {
		t.Fatal("user read of mstatus allowed")
	}
	if err := h.csrAccess(CSRSstatus, false); err == nil {
		t.Fatal("user read of sstatus allowed")
	}

	h.Priv = PrivSupervisor
	if err := h.csrAccess(CSRSstatus, true); err != nil {
		t.Fatalf("supervisor write of sstatus denied: %v", err)
	}
	if err := h.csrAccess(CSRMstatus, false); err == nil {
		t.Fatal("supervisor read of mstatus allowed")
	}
}

func TestCSRReadOnlyClass(t *testing.T) {
	h, _ := newTestHart(t, 64)
	if err := h.csrAccess(CSRMhartid, true); err == nil {
		t.Fatal("write to read-only mhartid allowed")
	}
	if err := h.csrAccess(CSRMhartid, false); err != nil {
		t.Fatalf("read of mhartid denied: %v", err)
	}
}

func TestCSRUndefinedAddress(t *testing.T) {
	h, _ := newTestHart(t, 64)
	if err := h.csrAccess(0x5c0, false); err == nil {
		t.Fatal("access to unimplemented CSR allowed")
	}
	// The user trap CSRs stay undefined with the N extension disabled.
	for _, addr := range []uint16{0x000, 0x005, 0x040, 0x041, 0x042, 0x043} {
		if err := h.csrAccess(addr, false); err == nil {
			t.Fatalf("user trap CSR 0x%x accessible", addr)
		}
	}
	// The counter high halves only exist on a 32-bit hart.
	if err := h.csrAccess(CSRMcycleh, false); err == nil {
		t.Fatal("mcycleh accessible on rv64")
	}
	h32, _ := newTestHart(t, 32)
	if err := h32.csrAccess(CSRMcycleh, false); err != nil {
		t.Fatalf("mcycleh inaccessible on rv32: %v", err)
	}
}

func TestTVMDeniesSatpWithoutMutation(t *testing.T) {
	h, _ := newTestHart(t, 64)
	h.S.Satp = uint64(satpModeSv39)<<60 | 0x1234
	h.M.Mstatus |= MstatusTVM
	h.Priv = PrivSupervisor
	before := h.S.Satp

	if err := h.csrAccess(CSRSatp, true); err == nil {
		t.Fatal("satp write allowed under TVM")
	}
	if err := h.csrAccess(CSRSatp, false); err == nil {
		t.Fatal("satp read allowed under TVM")
	}
	if h.S.Satp != before {
		t.Fatalf("satp mutated by denied access: 0x%x", h.S.Satp)
	}

	// Machine mode is never gated by TVM.
	h.Priv = PrivMachine
	if err := h.csrAccess(CSRSatp, true); err != nil {
		t.Fatalf("machine satp access denied: %v", err)
	}
}

func TestCounterEnableGating(t *testing.T) {
	h, _ := newTestHart(t, 64)

	h.Priv = PrivSupervisor
	if err := h.csrAccess(CSRCycle, false); err == nil {
		t.Fatal("cycle readable without mcounteren.CY")
	}
	h.M.Mcounteren = 1 // CY
	if err := h.csrAccess(CSRCycle, false); err != nil {
		t.Fatalf("cycle unreadable with mcounteren.CY: %v", err)
	}

	// User mode additionally needs scounteren.
	h.Priv = PrivUser
	if err := h.csrAccess(CSRCycle, false); err == nil {
		t.Fatal("cycle readable without scounteren.CY")
	}
	h.S.Scounteren = 1
	if err := h.csrAccess(CSRCycle, false); err != nil {
		t.Fatalf("cycle unreadable with both enables: %v", err)
	}

	// Machine mode bypasses both.
	h.Priv = PrivMachine
	h.M.Mcounteren = 0
	if err := h.csrAccess(CSRInstret, false); err != nil {
		t.Fatalf("machine counter read denied: %v", err)
	}
}

func TestFPCSRsRequireFSOn(t *testing.T) {
	h, _ := newTestHart(t, 64)
	h.setFS(fsOff)
	if err := h.csrAccess(CSRFcsr, false); err == nil {
		t.Fatal("fcsr accessible with FS off")
	}
	h.setFS(fsInitial)
	if err := h.csrAccess(CSRFcsr, true); err != nil {
		t.Fatalf("fcsr inaccessible with FS on: %v", err)
	}
}

func TestFcsrWriteDirtiesFS(t *testing.T) {
	h, _ := newTestHart(t, 64)
	h.setFS(fsClean)
	if err := h.csrWrite(CSRFcsr, 0x25); err != nil {
		t.Fatalf("csrWrite: %v", err)
	}
	if h.fs() != fsDirty {
		t.Fatalf("FS = %d after fcsr write", h.fs())
	}
	if h.U.Fflags != 0x05 || h.U.Frm != 0x1 {
		t.Fatalf("fcsr fields: fflags=0x%x frm=0x%x", h.U.Fflags, h.U.Frm)
	}
	v, err := h.csrRead(CSRFcsr)
	if err != nil || v != 0x25 {
		t.Fatalf("fcsr read = 0x%x err=%v", v, err)
	}
}

func TestCSRWriteRecordsDelta(t *testing.T) {
	h, _ := newTestHart(t, 64)
	if err := h.csrWrite(CSRMscratch, 0xabc); err != nil {
		t.Fatalf("csrWrite: %v", err)
	}
	if h.Delta.CSR == nil || h.Delta.CSR.Addr != CSRMscratch || h.Delta.CSR.Value != 0xabc {
		t.Fatalf("delta CSR record: %+v", h.Delta.CSR)
	}

	// The record holds the committed value, not the raw written one:
	// epc bit 0 is dropped by legalization.
	if err := h.csrWrite(CSRMepc, 0x8000_0001); err != nil {
		t.Fatalf("csrWrite: %v", err)
	}
	if h.Delta.CSR.Addr != CSRMepc || h.Delta.CSR.Value != 0x8000_0000 {
		t.Fatalf("delta CSR record after legalization: %+v", h.Delta.CSR)
	}
}

func TestRV32CSRSignExtension(t *testing.T) {
	h, _ := newTestHart(t, 32)
	h.M.Mscratch = 0x8000_0000
	v, err := h.csrRead(CSRMscratch)
	if err != nil {
		t.Fatalf("csrRead: %v", err)
	}
	if v != 0xffff_ffff_8000_0000 {
		t.Fatalf("rv32 csr read = 0x%x, want sign extension", v)
	}
}

func TestRV32CounterShadows(t *testing.T) {
	h, _ := newTestHart(t, 32)
	h.M.Mcycle = 0x1_2345_6789

	if v, _ := h.csrRead(CSRMcycle); uint32(v) != 0x2345_6789 {
		t.Fatalf("mcycle low half = 0x%x", v)
	}
	if v, _ := h.csrRead(CSRMcycleh); v != 1 {
		t.Fatalf("mcycleh = 0x%x", v)
	}

	// Writing the halves reassembles the counter.
	if err := h.csrWrite(CSRMcycle, 0x1111_2222); err != nil {
		t.Fatalf("csrWrite: %v", err)
	}
	if err := h.csrWrite(CSRMcycleh, 0x3); err != nil {
		t.Fatalf("csrWrite: %v", err)
	}
	if h.M.Mcycle != 0x3_1111_2222 {
		t.Fatalf("mcycle = 0x%x", h.M.Mcycle)
	}
}

func TestSatpLegalization(t *testing.T) {
	h, _ := newTestHart(t, 64)
	h.S.Satp = uint64(satpModeSv39) << 60

	// An unsupported mode keeps the whole old value, ASID and PPN
	// included.
	h.S.Satp = h.legalizeSatp(h.S.Satp, 1<<60|0xbeef)
	if h.S.Satp != uint64(satpModeSv39)<<60 {
		t.Fatalf("unsupported satp mode accepted: 0x%x", h.S.Satp)
	}

	// Bare and Sv39 are accepted with fields masked.
	h.S.Satp = h.legalizeSatp(h.S.Satp, uint64(satpModeSv39)<<60|uint64(7)<<44|0x100)
	if h.satpASID() != 7 || h.satpPPN() != 0x100 {
		t.Fatalf("satp fields: asid=%d ppn=0x%x", h.satpASID(), h.satpPPN())
	}
}

func TestSatpLegalizationRV32(t *testing.T) {
	h, _ := newTestHart(t, 32)
	h.S.Satp = h.legalizeSatp(0, 1<<31|uint64(3)<<22|0x55)
	if mode, err := h.satpMode(); err != nil || mode != modeSv32 {
		t.Fatalf("rv32 satp mode = %v err=%v", mode, err)
	}
	if h.satpASID() != 3 || h.satpPPN() != 0x55 {
		t.Fatalf("rv32 satp fields: asid=%d ppn=0x%x", h.satpASID(), h.satpPPN())
	}
}

func TestTimeCSRUsesClock(t *testing.T) {
	mem := newFlatMem(testRAMBase, 1<<20)
	now := uint64(0)
	h, err := New(0, mem, Options{Xlen: 64, Now: func() uint64 { return now }})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.M.Mcounteren = counterenMask

	now = 42
	if v, _ := h.csrRead(CSRTime); v != 42 {
		t.Fatalf("time = %d", v)
	}
	now = 43
	if v, _ := h.csrRead(CSRTime); v != 43 {
		t.Fatalf("time = %d", v)
	}
}

func TestSedelegSidelegHardwiredZero(t *testing.T) {
	h, _ := newTestHart(t, 64)
	if err := h.csrWrite(CSRSedeleg, ^uint64(0)); err != nil {
		t.Fatalf("csrWrite: %v", err)
	}
	if err := h.csrWrite(CSRSideleg, ^uint64(0)); err != nil {
		t.Fatalf("csrWrite: %v", err)
	}
	if h.S.Sedeleg != 0 || h.S.Sideleg != 0 {
		t.Fatalf("sedeleg=0x%x sideleg=0x%x, want zero", h.S.Sedeleg, h.S.Sideleg)
	}
}

func TestMisaWriteIgnored(t *testing.T) {
	h, _ := newTestHart(t, 64)
	before := h.M.Misa
	if err := h.csrWrite(CSRMisa, 0); err != nil {
		t.Fatalf("csrWrite: %v", err)
	}
	if h.M.Misa != before {
		t.Fatalf("misa changed: 0x%x", h.M.Misa)
	}
}
