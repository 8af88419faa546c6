package hart

// CSR addresses.
const (
	CSRFflags uint16 = 0x001
	CSRFrm    uint16 = 0x002
	CSRFcsr   uint16 = 0x003

	CSRCycle    uint16 = 0xC00
	CSRTime     uint16 = 0xC01
	CSRInstret  uint16 = 0xC02
	CSRCycleh   uint16 = 0xC80
	CSRTimeh    uint16 = 0xC81
	CSRInstreth uint16 = 0xC82

	CSRSstatus    uint16 = 0x100
	CSRSedeleg    uint16 = 0x102
	CSRSideleg    uint16 = 0x103
	CSRSie        uint16 = 0x104
	CSRStvec      uint16 = 0x105
	CSRScounteren uint16 = 0x106
	CSRSscratch   uint16 = 0x140
	CSRSepc       uint16 = 0x141
	CSRScause     uint16 = 0x142
	CSRStval      uint16 = 0x143
	CSRSip        uint16 = 0x144
	CSRSatp       uint16 = 0x180

	CSRMstatus    uint16 = 0x300
	CSRMisa       uint16 = 0x301
	CSRMedeleg    uint16 = 0x302
	CSRMideleg    uint16 = 0x303
	CSRMie        uint16 = 0x304
	CSRMtvec      uint16 = 0x305
	CSRMcounteren uint16 = 0x306
	CSRMscratch   uint16 = 0x340
	CSRMepc       uint16 = 0x341
	CSRMcause     uint16 = 0x342
	CSRMtval      uint16 = 0x343
	CSRMip        uint16 = 0x344

	CSRMcycle    uint16 = 0xB00
	CSRMinstret  uint16 = 0xB02
	CSRMcycleh   uint16 = 0xB80
	CSRMinstreth uint16 = 0xB82

	CSRMvendorid uint16 = 0xF11
	CSRMarchid   uint16 = 0xF12
	CSRMimpid    uint16 = 0xF13
	CSRMhartid   uint16 = 0xF14
)

// Implemented counter-enable bits: cycle, time, instret.
const counterenMask uint64 = 0b111

// csrMinPriv returns the minimum privilege encoded in a CSR address.
func csrMinPriv(addr uint16) Priv {
	return Priv((addr >> 8) & 3)
}

// csrReadOnly reports whether the address encodes a read-only register
// class (top two bits both set).
func csrReadOnly(addr uint16) bool {
	return (addr >> 10) == 3
}

// csrDefined reports whether the address maps to an implemented register
// on this hart. The user trap CSRs stay undefined while the N extension is
// disabled.
func (h *Hart) csrDefined(addr uint16) bool {
	switch addr {
	case CSRFflags, CSRFrm, CSRFcsr,
		CSRCycle, CSRTime, CSRInstret,
		CSRSstatus, CSRSedeleg, CSRSideleg, CSRSie, CSRStvec, CSRScounteren,
		CSRSscratch, CSRSepc, CSRScause, CSRStval, CSRSip, CSRSatp,
		CSRMstatus, CSRMisa, CSRMedeleg, CSRMideleg, CSRMie, CSRMtvec,
		CSRMcounteren, CSRMscratch, CSRMepc, CSRMcause, CSRMtval, CSRMip,
		CSRMcycle, CSRMinstret,
		CSRMvendorid, CSRMarchid, CSRMimpid, CSRMhartid:
		return true
	case CSRCycleh, CSRTimeh, CSRInstreth, CSRMcycleh, CSRMinstreth:
		return h.Xlen == 32
	default:
		return false
	}
}

// csrAccess performs the access-control check for a CSR operation. It is
// called before csrRead/csrWrite; any failure is an illegal-instruction
// exception, never a silent drop.
func (h *Hart) csrAccess(addr uint16, write bool) error {
	if !h.csrDefined(addr) {
		return Exception(CauseIllegalInsn, 0)
	}
	if write && csrReadOnly(addr) {
		return Exception(CauseIllegalInsn, 0)
	}
	if h.Priv < csrMinPriv(addr) {
		return Exception(CauseIllegalInsn, 0)
	}

	// TVM traps supervisor access to the address-translation state.
	if addr == CSRSatp && h.Priv == PrivSupervisor && h.M.Mstatus&MstatusTVM != 0 {
		return Exception(CauseIllegalInsn, 0)
	}

	// The FP CSRs are inaccessible while the FP context is off.
	switch addr {
	case CSRFflags, CSRFrm, CSRFcsr:
		if h.fs() == fsOff {
			return Exception(CauseIllegalInsn, 0)
		}
	}

	// Unprivileged counter shadows require the delegating privilege's
	// counter-enable bit.
	if isCounterShadow(addr) {
		bit := uint64(1) << (addr & 0x1f)
		if h.Priv < PrivMachine && h.M.Mcounteren&bit == 0 {
			return Exception(CauseIllegalInsn, 0)
		}
		if h.Priv == PrivUser && h.S.Scounteren&bit == 0 {
			return Exception(CauseIllegalInsn, 0)
		}
	}
	return nil
}

func isCounterShadow(addr uint16) bool {
	return (addr >= 0xC00 && addr < 0xC20) || (addr >= 0xC80 && addr < 0xCA0)
}

// csrRead reads a CSR through its projected view. On a 32-bit hart the
// visible 32-bit value is sign-extended to the native width.
func (h *Hart) csrRead(addr uint16) (uint64, error) {
	v, err := h.csrRaw(addr)
	if err != nil {
		return 0, err
	}
	if h.Xlen == 32 {
		v = uint64(int64(int32(v)))
	}
	return v, nil
}

func (h *Hart) csrRaw(addr uint16) (uint64, error) {
	switch addr {
	case CSRFflags:
		return uint64(h.U.Fflags), nil
	case CSRFrm:
		return uint64(h.U.Frm), nil
	case CSRFcsr:
		return uint64(h.U.Fflags) | uint64(h.U.Frm)<<5, nil

	case CSRCycle:
		return h.M.Mcycle, nil
	case CSRTime:
		return h.now(), nil
	case CSRInstret:
		return h.M.Minstret, nil
	case CSRCycleh:
		return h.M.Mcycle >> 32, nil
	case CSRTimeh:
		return h.now() >> 32, nil
	case CSRInstreth:
		return h.M.Minstret >> 32, nil

	case CSRSstatus:
		return h.lowerMstatus(h.mstatusRead()), nil
	case CSRSedeleg:
		return h.S.Sedeleg, nil
	case CSRSideleg:
		return h.S.Sideleg, nil
	case CSRSie:
		return h.lowerIE(h.M.Mie), nil
	case CSRStvec:
		return h.S.Stvec, nil
	case CSRScounteren:
		return h.S.Scounteren, nil
	case CSRSscratch:
		return h.S.Sscratch, nil
	case CSRSepc:
		return h.S.Sepc, nil
	case CSRScause:
		return h.S.Scause, nil
	case CSRStval:
		return h.S.Stval, nil
	case CSRSip:
		return h.lowerIP(h.M.Mip), nil
	case CSRSatp:
		return h.S.Satp, nil

	case CSRMstatus:
		return h.mstatusRead(), nil
	case CSRMisa:
		return h.M.Misa, nil
	case CSRMedeleg:
		return h.M.Medeleg, nil
	case CSRMideleg:
		return h.M.Mideleg, nil
	case CSRMie:
		return h.M.Mie, nil
	case CSRMtvec:
		return h.M.Mtvec, nil
	case CSRMcounteren:
		return h.M.Mcounteren, nil
	case CSRMscratch:
		return h.M.Mscratch, nil
	case CSRMepc:
		return h.M.Mepc, nil
	case CSRMcause:
		return h.M.Mcause, nil
	case CSRMtval:
		return h.M.Mtval, nil
	case CSRMip:
		return h.M.Mip, nil
	case CSRMcycle:
		return h.M.Mcycle, nil
	case CSRMinstret:
		return h.M.Minstret, nil
	case CSRMcycleh:
		return h.M.Mcycle >> 32, nil
	case CSRMinstreth:
		return h.M.Minstret >> 32, nil

	case CSRMvendorid:
		return h.M.Mvendorid, nil
	case CSRMarchid:
		return h.M.Marchid, nil
	case CSRMimpid:
		return h.M.Mimpid, nil
	case CSRMhartid:
		return h.M.Mhartid, nil
	}
	return 0, Exception(CauseIllegalInsn, 0)
}

// csrWrite commits a CSR write through legalization and the projection
// layer. Lower-privilege views perform a read-modify-write of the backing
// machine register via lift, so machine-level state outside the view is
// preserved. The committed value is recorded in the step delta.
func (h *Hart) csrWrite(addr uint16, val uint64) error {
	if h.Xlen == 32 {
		val = uint64(uint32(val))
	}

	switch addr {
	case CSRFflags:
		h.U.Fflags = uint8(val & 0x1f)
		h.setFS(fsDirty)
	case CSRFrm:
		h.U.Frm = uint8(val & 0x7)
		h.setFS(fsDirty)
	case CSRFcsr:
		h.U.Fflags = uint8(val & 0x1f)
		h.U.Frm = uint8((val >> 5) & 0x7)
		h.setFS(fsDirty)

	case CSRSstatus:
		h.M.Mstatus = h.legalizeMstatus(h.M.Mstatus, h.liftSstatus(h.mstatusRead(), val))
	case CSRSedeleg:
		h.S.Sedeleg = legalizeSedeleg(h.S.Sedeleg, val)
	case CSRSideleg:
		h.S.Sideleg = legalizeSideleg(h.S.Sideleg, val)
	case CSRSie:
		h.M.Mie = legalizeMie(h.M.Mie, h.liftSie(h.M.Mie, val))
	case CSRStvec:
		h.S.Stvec = legalizeTvec(h.S.Stvec, val)
	case CSRScounteren:
		h.S.Scounteren = val & counterenMask
	case CSRSscratch:
		h.S.Sscratch = val
	case CSRSepc:
		h.S.Sepc = legalizeEpc(h.S.Sepc, val)
	case CSRScause:
		h.S.Scause = val
	case CSRStval:
		h.S.Stval = val
	case CSRSip:
		h.M.Mip = h.liftSip(h.M.Mip, val)
	case CSRSatp:
		h.S.Satp = h.legalizeSatp(h.S.Satp, val)

	case CSRMstatus:
		h.M.Mstatus = h.legalizeMstatus(h.M.Mstatus, val)
	case CSRMisa:
		// Fixed after reset.
	case CSRMedeleg:
		h.M.Medeleg = legalizeMedeleg(h.M.Medeleg, val)
	case CSRMideleg:
		h.M.Mideleg = legalizeMideleg(h.M.Mideleg, val)
	case CSRMie:
		h.M.Mie = legalizeMie(h.M.Mie, val)
	case CSRMtvec:
		h.M.Mtvec = legalizeTvec(h.M.Mtvec, val)
	case CSRMcounteren:
		h.M.Mcounteren = val & counterenMask
	case CSRMscratch:
		h.M.Mscratch = val
	case CSRMepc:
		h.M.Mepc = legalizeEpc(h.M.Mepc, val)
	case CSRMcause:
		h.M.Mcause = val
	case CSRMtval:
		h.M.Mtval = val
	case CSRMip:
		h.M.Mip = legalizeMip(h.M.Mip, val)
	case CSRMcycle:
		h.M.Mcycle = val
	case CSRMinstret:
		h.M.Minstret = val
	case CSRMcycleh:
		h.M.Mcycle = h.M.Mcycle&0xffffffff | val<<32
	case CSRMinstreth:
		h.M.Minstret = h.M.Minstret&0xffffffff | val<<32

	default:
		return Exception(CauseIllegalInsn, 0)
	}

	// The delta carries the committed value, read back through the same
	// projection and legalization the write went through.
	committed, err := h.csrRead(addr)
	if err != nil {
		return err
	}
	h.Delta.CSR = &CSRWrite{Addr: addr, Value: committed}
	return nil
}
