package hart

// mstatus bits.
const (
	MstatusUIE  uint64 = 1 << 0
	MstatusSIE  uint64 = 1 << 1
	MstatusMIE  uint64 = 1 << 3
	MstatusUPIE uint64 = 1 << 4
	MstatusSPIE uint64 = 1 << 5
	MstatusMPIE uint64 = 1 << 7
	MstatusSPP  uint64 = 1 << 8
	MstatusMPP  uint64 = 3 << 11
	MstatusFS   uint64 = 3 << 13
	MstatusXS   uint64 = 3 << 15
	MstatusMPRV uint64 = 1 << 17
	MstatusSUM  uint64 = 1 << 18
	MstatusMXR  uint64 = 1 << 19
	MstatusTVM  uint64 = 1 << 20
	MstatusTW   uint64 = 1 << 21
	MstatusTSR  uint64 = 1 << 22
	MstatusUXL  uint64 = 3 << 32
	MstatusSXL  uint64 = 3 << 34
)

const (
	mstatusSPPShift = 8
	mstatusMPPShift = 11
	mstatusFSShift  = 13
	mstatusXSShift  = 15
	mstatusUXLShift = 32
	mstatusSXLShift = 34
)

// FS/XS context states.
const (
	fsOff     uint64 = 0
	fsInitial uint64 = 1
	fsClean   uint64 = 2
	fsDirty   uint64 = 3
)

// sdBit returns the state-dirty bit for the hart's base width.
func (h *Hart) sdBit() uint64 {
	if h.Xlen == 32 {
		return 1 << 31
	}
	return 1 << 63
}

// mstatusRead projects the architectural mstatus value: the canonical copy
// plus the fixed SXL/UXL fields and the computed SD bit. SD is the OR of
// the FP and extension context-status fields being Dirty.
func (h *Hart) mstatusRead() uint64 {
	v := h.M.Mstatus
	if h.Xlen == 64 {
		v = (v &^ (MstatusSXL | MstatusUXL)) |
			(h.sxl << mstatusSXLShift) | (h.uxl << mstatusUXLShift)
	}
	fs := (v & MstatusFS) >> mstatusFSShift
	xs := (v & MstatusXS) >> mstatusXSShift
	if fs == fsDirty || xs == fsDirty {
		v |= h.sdBit()
	}
	return v
}

// legalizeMstatus applies WARL discipline to an mstatus write: unwritable
// fields keep their current value and an out-of-range MPP keeps the current
// MPP. Legalization never fails; the result is always a legal value.
func (h *Hart) legalizeMstatus(cur, written uint64) uint64 {
	const writable = MstatusSIE | MstatusMIE | MstatusSPIE | MstatusMPIE |
		MstatusSPP | MstatusMPP | MstatusFS | MstatusMPRV |
		MstatusSUM | MstatusMXR | MstatusTVM | MstatusTW | MstatusTSR

	v := (cur &^ writable) | (written & writable)

	// MPP is WLRL over the implemented privilege modes.
	mpp := (v & MstatusMPP) >> mstatusMPPShift
	if mpp != uint64(PrivUser) && mpp != uint64(PrivSupervisor) && mpp != uint64(PrivMachine) {
		v = (v &^ MstatusMPP) | (cur & MstatusMPP)
	}

	// SXL/UXL and XS are fixed after reset; SD is computed on read.
	v &^= MstatusSXL | MstatusUXL | MstatusXS | h.sdBit()
	return v
}

// setFS updates the FP context-status field.
func (h *Hart) setFS(state uint64) {
	h.M.Mstatus = (h.M.Mstatus &^ MstatusFS) | (state << mstatusFSShift)
}

// fs returns the FP context-status field.
func (h *Hart) fs() uint64 {
	return (h.M.Mstatus & MstatusFS) >> mstatusFSShift
}

// Fields of mstatus visible through the sstatus window.
const sstatusVisible = MstatusSIE | MstatusSPIE | MstatusSPP | MstatusFS |
	MstatusXS | MstatusSUM | MstatusMXR

// lowerMstatus computes the sstatus view of a machine status value,
// masking out every field above supervisor visibility.
func (h *Hart) lowerMstatus(m uint64) uint64 {
	v := m & sstatusVisible
	if h.Xlen == 64 {
		v |= h.uxl << mstatusUXLShift
	}
	fs := (m & MstatusFS) >> mstatusFSShift
	xs := (m & MstatusXS) >> mstatusXSShift
	if fs == fsDirty || xs == fsDirty {
		v |= h.sdBit()
	}
	return v
}

// liftSstatus folds a supervisor-visible write back into the machine status
// value, touching only the fields the supervisor may write and preserving
// every machine-level bit of the context.
func (h *Hart) liftSstatus(m, v uint64) uint64 {
	const writable = MstatusSIE | MstatusSPIE | MstatusSPP | MstatusFS |
		MstatusSUM | MstatusMXR
	out := (m &^ writable) | (v & writable)
	out &^= h.sdBit()
	return out
}

// lowerSstatus computes the ustatus view of a supervisor status value.
// Unreachable through the CSR map while the N extension is disabled, but
// kept as part of the projection layer contract.
func (h *Hart) lowerSstatus(s uint64) uint64 {
	return s & (MstatusUIE | MstatusUPIE)
}

// liftUstatus folds a user-visible write back into a supervisor status.
func (h *Hart) liftUstatus(s, v uint64) uint64 {
	const writable = MstatusUIE | MstatusUPIE
	return (s &^ writable) | (v & writable)
}

// Interrupt lines writable at each level through a CSR write. The
// machine-level external/timer/software pending bits are hardware driven
// and read-only through this path.
const (
	mieMask     = MipSSIP | MipMSIP | MipSTIP | MipMTIP | MipSEIP | MipMEIP
	mipWritable = MipSSIP | MipSTIP | MipSEIP
	sipWritable = MipSSIP
	sInterrupts = MipSSIP | MipSTIP | MipSEIP
	mInterrupts = MipMSIP | MipMTIP | MipMEIP
)

// legalizeMie masks an mie write to the implemented interrupt lines.
func legalizeMie(cur, written uint64) uint64 {
	return written & mieMask
}

// legalizeMip keeps the hardware-driven machine-level pending bits and
// accepts only the supervisor-visible lines from the write.
func legalizeMip(cur, written uint64) uint64 {
	return (cur &^ mipWritable) | (written & mipWritable)
}

// legalizeMideleg forces delegation of machine-only interrupt causes to
// false; only supervisor-level lines are delegable.
func legalizeMideleg(cur, written uint64) uint64 {
	return written & sInterrupts
}

// Exception causes that may be delegated below machine mode. Environment
// calls from M-mode are machine-only and cannot be delegated.
const medelegMask uint64 = 1<<CauseInsnAddrMisaligned | 1<<CauseInsnAccessFault |
	1<<CauseIllegalInsn | 1<<CauseBreakpoint |
	1<<CauseLoadAddrMisaligned | 1<<CauseLoadAccessFault |
	1<<CauseStoreAddrMisaligned | 1<<CauseStoreAccessFault |
	1<<CauseEcallFromU | 1<<CauseEcallFromS |
	1<<CauseInsnPageFault | 1<<CauseLoadPageFault | 1<<CauseStorePageFault

// legalizeMedeleg masks an medeleg write to the delegable causes.
func legalizeMedeleg(cur, written uint64) uint64 {
	return written & medelegMask
}

// legalizeSedeleg and legalizeSideleg force zero while the N extension is
// disabled: no cause is delegable to user mode.
func legalizeSedeleg(cur, written uint64) uint64 { return 0 }
func legalizeSideleg(cur, written uint64) uint64 { return 0 }

// lowerIE computes the sie view: only lines delegated by mideleg are
// visible to the supervisor.
func (h *Hart) lowerIE(mie uint64) uint64 {
	return mie & h.M.Mideleg
}

// liftSie updates the delegated lines of mie from a supervisor write,
// leaving the machine-retained lines untouched.
func (h *Hart) liftSie(mie, v uint64) uint64 {
	return (mie &^ h.M.Mideleg) | (v & h.M.Mideleg)
}

// lowerIP computes the sip view, filtered by the delegation register.
func (h *Hart) lowerIP(mip uint64) uint64 {
	return mip & h.M.Mideleg
}

// liftSip updates mip from a supervisor write. Only the supervisor
// software-pending line is writable through this view, and only when it is
// actually delegated.
func (h *Hart) liftSip(mip, v uint64) uint64 {
	mask := sipWritable & h.M.Mideleg
	return (mip &^ mask) | (v & mask)
}

// SetInterrupt asserts or clears a hardware-driven interrupt line in mip.
// This is the path platform devices use; it bypasses the CSR write mask.
func (h *Hart) SetInterrupt(line uint64, set bool) {
	bit := uint64(1) << line
	if set {
		h.M.Mip |= bit
	} else {
		h.M.Mip &^= bit
	}
}

// tvec modes.
const (
	tvecDirect   uint64 = 0
	tvecVectored uint64 = 1
)

// legalizeTvec keeps the mode field WARL: reserved modes retain the
// current mode, and the base is always 4-byte aligned.
func legalizeTvec(cur, written uint64) uint64 {
	mode := written & 3
	if mode > tvecVectored {
		mode = cur & 3
	}
	return (written &^ 3) | mode
}

// legalizeEpc clears the low bit; with the C extension implemented, bit 1
// is writable.
func legalizeEpc(cur, written uint64) uint64 {
	return written &^ 1
}
