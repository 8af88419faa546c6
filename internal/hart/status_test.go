package hart

import "testing"

func TestSstatusProjectionRoundTrip(t *testing.T) {
	h, _ := newTestHart(t, 64)

	// Lowering then lifting back the same visible value must leave the
	// machine register unchanged, machine-only fields included.
	cases := []uint64{
		0,
		MstatusSIE | MstatusSPIE,
		MstatusMIE | MstatusMPIE | MstatusSIE,
		MstatusSPP | MstatusSUM | MstatusMXR,
		MstatusTSR | MstatusTW | MstatusTVM | MstatusSIE,
		uint64(PrivMachine) << mstatusMPPShift,
	}
	for _, m := range cases {
		h.M.Mstatus = h.legalizeMstatus(0, m)
		before := h.M.Mstatus
		view := h.lowerMstatus(h.mstatusRead())
		h.M.Mstatus = h.legalizeMstatus(h.M.Mstatus, h.liftSstatus(h.mstatusRead(), view))
		if h.M.Mstatus != before {
			t.Fatalf("round trip changed mstatus: 0x%x -> 0x%x (seed 0x%x)", before, h.M.Mstatus, m)
		}
	}
}

func TestSstatusViewHidesMachineFields(t *testing.T) {
	h, _ := newTestHart(t, 64)
	h.M.Mstatus = MstatusMIE | MstatusMPIE | MstatusTSR | MstatusTVM |
		uint64(PrivMachine)<<mstatusMPPShift | MstatusSIE

	view := h.lowerMstatus(h.mstatusRead())
	hidden := MstatusMIE | MstatusMPIE | MstatusMPP | MstatusMPRV |
		MstatusTVM | MstatusTW | MstatusTSR
	if view&hidden != 0 {
		t.Fatalf("sstatus view 0x%x leaks machine fields", view)
	}
	if view&MstatusSIE == 0 {
		t.Fatalf("sstatus view 0x%x lost SIE", view)
	}
}

func TestLiftSstatusPreservesMachineFields(t *testing.T) {
	h, _ := newTestHart(t, 64)
	h.M.Mstatus = MstatusMIE | MstatusTSR | uint64(PrivMachine)<<mstatusMPPShift

	// A supervisor write of all ones may only move supervisor-writable
	// fields.
	h.M.Mstatus = h.legalizeMstatus(h.M.Mstatus, h.liftSstatus(h.mstatusRead(), ^uint64(0)))
	if h.M.Mstatus&MstatusMIE == 0 || h.M.Mstatus&MstatusTSR == 0 {
		t.Fatalf("supervisor write clobbered machine fields: 0x%x", h.M.Mstatus)
	}
	if (h.M.Mstatus&MstatusMPP)>>mstatusMPPShift != uint64(PrivMachine) {
		t.Fatalf("supervisor write changed MPP: 0x%x", h.M.Mstatus)
	}
	if h.M.Mstatus&MstatusSUM == 0 || h.M.Mstatus&MstatusMXR == 0 {
		t.Fatalf("supervisor-writable fields not set: 0x%x", h.M.Mstatus)
	}
}

func TestUstatusProjection(t *testing.T) {
	h, _ := newTestHart(t, 64)
	s := MstatusUIE | MstatusUPIE | MstatusSIE | MstatusSPP
	if got := h.lowerSstatus(s); got != MstatusUIE|MstatusUPIE {
		t.Fatalf("ustatus view = 0x%x", got)
	}
	if got := h.liftUstatus(s, 0); got&(MstatusUIE|MstatusUPIE) != 0 {
		t.Fatalf("lift did not clear user fields: 0x%x", got)
	}
	if got := h.liftUstatus(s, 0); got&(MstatusSIE|MstatusSPP) != s&(MstatusSIE|MstatusSPP) {
		t.Fatalf("lift clobbered supervisor fields: 0x%x", got)
	}
}

func TestLegalizeMstatusIdempotent(t *testing.T) {
	h, _ := newTestHart(t, 64)
	inputs := []uint64{0, ^uint64(0), MstatusMPP, 2 << mstatusMPPShift, 0x1234_5678_9abc_def0}
	for _, in := range inputs {
		once := h.legalizeMstatus(0, in)
		twice := h.legalizeMstatus(once, once)
		if once != twice {
			t.Fatalf("legalize not idempotent for 0x%x: 0x%x vs 0x%x", in, once, twice)
		}
	}
}

func TestLegalizeMstatusMPPWLRL(t *testing.T) {
	h, _ := newTestHart(t, 64)
	cur := uint64(PrivSupervisor) << mstatusMPPShift
	// MPP=2 is reserved; the write must keep the current MPP.
	got := h.legalizeMstatus(cur, 2<<mstatusMPPShift)
	if (got&MstatusMPP)>>mstatusMPPShift != uint64(PrivSupervisor) {
		t.Fatalf("reserved MPP accepted: 0x%x", got)
	}
	got = h.legalizeMstatus(cur, uint64(PrivMachine)<<mstatusMPPShift)
	if (got&MstatusMPP)>>mstatusMPPShift != uint64(PrivMachine) {
		t.Fatalf("legal MPP rejected: 0x%x", got)
	}
}

func TestLegalizeInterruptRegistersIdempotent(t *testing.T) {
	fns := map[string]func(cur, written uint64) uint64{
		"mie":     legalizeMie,
		"mip":     legalizeMip,
		"mideleg": legalizeMideleg,
		"medeleg": legalizeMedeleg,
		"sedeleg": legalizeSedeleg,
		"sideleg": legalizeSideleg,
	}
	inputs := []uint64{0, ^uint64(0), MipSSIP | MipMEIP, 1 << CauseEcallFromM}
	for name, fn := range fns {
		for _, in := range inputs {
			once := fn(0, in)
			if twice := fn(once, once); once != twice {
				t.Fatalf("%s legalize not idempotent for 0x%x", name, in)
			}
		}
	}
}

func TestMedelegExcludesEcallFromM(t *testing.T) {
	if got := legalizeMedeleg(0, ^uint64(0)); got&(1<<CauseEcallFromM) != 0 {
		t.Fatalf("ecall-from-M delegable: 0x%x", got)
	}
}

func TestMidelegOnlySupervisorLines(t *testing.T) {
	got := legalizeMideleg(0, ^uint64(0))
	if got != sInterrupts {
		t.Fatalf("mideleg = 0x%x, want 0x%x", got, sInterrupts)
	}
}

func TestSieSipFilteredByDelegation(t *testing.T) {
	h, _ := newTestHart(t, 64)
	h.M.Mie = MipSSIP | MipSTIP | MipMSIP
	h.M.Mip = MipSSIP | MipMTIP

	// Nothing delegated: the supervisor sees nothing.
	h.M.Mideleg = 0
	if got := h.lowerIE(h.M.Mie); got != 0 {
		t.Fatalf("sie with no delegation = 0x%x", got)
	}
	if got := h.lowerIP(h.M.Mip); got != 0 {
		t.Fatalf("sip with no delegation = 0x%x", got)
	}

	// Delegate the software line only.
	h.M.Mideleg = MipSSIP
	if got := h.lowerIE(h.M.Mie); got != MipSSIP {
		t.Fatalf("sie = 0x%x, want SSIP only", got)
	}

	// A supervisor sie write may not touch undelegated lines.
	h.M.Mie = legalizeMie(h.M.Mie, h.liftSie(h.M.Mie, 0))
	if h.M.Mie&MipSTIP == 0 || h.M.Mie&MipMSIP == 0 {
		t.Fatalf("sie write clobbered undelegated lines: 0x%x", h.M.Mie)
	}
	if h.M.Mie&MipSSIP != 0 {
		t.Fatalf("sie write did not clear delegated line: 0x%x", h.M.Mie)
	}
}

func TestSipWritableOnlyWhenDelegated(t *testing.T) {
	h, _ := newTestHart(t, 64)

	h.M.Mideleg = 0
	h.M.Mip = h.liftSip(h.M.Mip, MipSSIP)
	if h.M.Mip&MipSSIP != 0 {
		t.Fatalf("undelegated SSIP writable through sip")
	}

	h.M.Mideleg = MipSSIP
	h.M.Mip = h.liftSip(h.M.Mip, MipSSIP)
	if h.M.Mip&MipSSIP == 0 {
		t.Fatalf("delegated SSIP not writable through sip")
	}

	// STIP is never writable through sip, delegated or not.
	h.M.Mideleg = sInterrupts
	h.M.Mip = h.liftSip(h.M.Mip, MipSTIP)
	if h.M.Mip&MipSTIP != 0 {
		t.Fatalf("STIP writable through sip")
	}
}

func TestLegalizeTvecReservedMode(t *testing.T) {
	cur := uint64(0x1000) | tvecVectored
	got := legalizeTvec(cur, 0x2000|2)
	if got&3 != tvecVectored {
		t.Fatalf("reserved tvec mode accepted: 0x%x", got)
	}
	if got&^3 != 0x2000 {
		t.Fatalf("tvec base not updated: 0x%x", got)
	}
}

func TestLegalizeEpcClearsBitZero(t *testing.T) {
	if got := legalizeEpc(0, 0x8000_0003); got != 0x8000_0002 {
		t.Fatalf("epc = 0x%x", got)
	}
}

func TestSDBitComputedFromFS(t *testing.T) {
	h, _ := newTestHart(t, 64)
	h.setFS(fsDirty)
	if h.mstatusRead()&h.sdBit() == 0 {
		t.Fatalf("SD not set with dirty FP context")
	}
	h.setFS(fsClean)
	if h.mstatusRead()&h.sdBit() != 0 {
		t.Fatalf("SD set with clean FP context")
	}

	// SD ignores direct writes.
	h.M.Mstatus = h.legalizeMstatus(h.M.Mstatus, h.sdBit())
	if h.M.Mstatus&h.sdBit() != 0 {
		t.Fatalf("SD stored from a write")
	}
}

func TestRV32SDBitPosition(t *testing.T) {
	h, _ := newTestHart(t, 32)
	h.setFS(fsDirty)
	if h.mstatusRead()&(1<<31) == 0 {
		t.Fatalf("rv32 SD not at bit 31: 0x%x", h.mstatusRead())
	}
}
