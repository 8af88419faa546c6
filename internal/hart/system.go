package hart

// System instruction funct3 values.
const (
	sysPriv   = 0b000
	sysCSRRW  = 0b001
	sysCSRRS  = 0b010
	sysCSRRC  = 0b011
	sysCSRRWI = 0b101
	sysCSRRSI = 0b110
	sysCSRRCI = 0b111
)

func (h *Hart) execSystem(insn uint32) error {
	f3 := funct3(insn)
	if f3 == sysPriv {
		return h.execPriv(insn)
	}
	return h.execCSR(insn, f3)
}

// execCSR handles the Zicsr group. The read is skipped for CSRRW with
// rd=x0 and the write is skipped for set/clear forms with a zero operand,
// so read and write side effects only fire when the access really happens.
func (h *Hart) execCSR(insn uint32, f3 uint32) error {
	addr := uint16(insn >> 20)

	var operand uint64
	if f3 >= sysCSRRWI {
		operand = uint64(rs1(insn)) // zimm
	} else {
		operand = h.ReadReg(rs1(insn))
	}

	writeForm := f3 == sysCSRRW || f3 == sysCSRRWI
	doWrite := writeForm || rs1(insn) != 0
	doRead := !writeForm || rd(insn) != 0

	if err := h.csrAccess(addr, doWrite); err != nil {
		return err
	}

	var old uint64
	if doRead {
		v, err := h.csrRead(addr)
		if err != nil {
			return err
		}
		old = v
	}

	if doWrite {
		var next uint64
		switch f3 {
		case sysCSRRW, sysCSRRWI:
			next = operand
		case sysCSRRS, sysCSRRSI:
			next = old | operand
		case sysCSRRC, sysCSRRCI:
			next = old &^ operand
		}
		if err := h.csrWrite(addr, next); err != nil {
			return err
		}
	}

	if doRead {
		h.WriteReg(rd(insn), old)
	}
	return nil
}

func (h *Hart) execPriv(insn uint32) error {
	if funct7(insn) == 0b0001001 {
		return h.execSfenceVMA(insn)
	}
	if rd(insn) != 0 || rs1(insn) != 0 {
		return Exception(CauseIllegalInsn, uint64(insn))
	}

	switch insn >> 20 {
	case 0b000000000000: // ECALL
		switch h.Priv {
		case PrivUser:
			return Exception(CauseEcallFromU, 0)
		case PrivSupervisor:
			return Exception(CauseEcallFromS, 0)
		default:
			return Exception(CauseEcallFromM, 0)
		}
	case 0b000000000001: // EBREAK
		return Exception(CauseBreakpoint, h.PC)
	case 0b000000000010: // URET, needs the N extension
		return Exception(CauseIllegalInsn, uint64(insn))
	case 0b000100000010: // SRET
		return h.execSret(insn)
	case 0b001100000010: // MRET
		if h.Priv != PrivMachine {
			return Exception(CauseIllegalInsn, uint64(insn))
		}
		h.op = pendingOp{kind: opMret}
		return nil
	case 0b000100000101: // WFI
		// TW traps WFI from any privilege below M.
		if h.Priv < PrivMachine && h.M.Mstatus&MstatusTW != 0 {
			return Exception(CauseIllegalInsn, uint64(insn))
		}
		h.WFI = true
		return nil
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
}

func (h *Hart) execSret(insn uint32) error {
	switch h.Priv {
	case PrivUser:
		return Exception(CauseIllegalInsn, uint64(insn))
	case PrivSupervisor:
		if h.M.Misa&MisaS == 0 || h.M.Mstatus&MstatusTSR != 0 {
			return Exception(CauseIllegalInsn, uint64(insn))
		}
	}
	h.op = pendingOp{kind: opSret}
	return nil
}

// execSfenceVMA applies the fence's invalidation to both translation
// widths. rs1 selects a virtual address filter, rs2 an ASID filter; x0
// means unfiltered. Entries with the Global bit survive ASID-qualified
// flushes.
func (h *Hart) execSfenceVMA(insn uint32) error {
	if rd(insn) != 0 {
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	switch h.Priv {
	case PrivUser:
		return Exception(CauseIllegalInsn, uint64(insn))
	case PrivSupervisor:
		if h.M.Mstatus&MstatusTVM != 0 {
			return Exception(CauseIllegalInsn, uint64(insn))
		}
	}

	var vaddr *uint64
	if r := rs1(insn); r != 0 {
		v := h.maskAddr(h.ReadReg(r))
		vaddr = &v
	}
	var asid *uint16
	if r := rs2(insn); r != 0 {
		a := uint16(h.ReadReg(r))
		asid = &a
	}

	h.TLB32.Invalidate(asid, vaddr)
	h.TLB39.Invalidate(asid, vaddr)
	return nil
}
