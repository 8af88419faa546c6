package hart

// AMO funct5 values.
const (
	amoLR   = 0b00010
	amoSC   = 0b00011
	amoSwap = 0b00001
	amoAdd  = 0b00000
	amoXor  = 0b00100
	amoAnd  = 0b01100
	amoOr   = 0b01000
	amoMin  = 0b10000
	amoMax  = 0b10100
	amoMinU = 0b11000
	amoMaxU = 0b11100
)

func (h *Hart) execAMO(insn uint32) error {
	var size int
	switch funct3(insn) {
	case 0b010:
		size = 4
	case 0b011:
		if h.Xlen == 32 {
			return Exception(CauseIllegalInsn, uint64(insn))
		}
		size = 8
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}

	addr := h.maskAddr(h.ReadReg(rs1(insn)))
	if addr&uint64(size-1) != 0 {
		return Exception(CauseStoreAddrMisaligned, addr)
	}

	switch rs3(insn) {
	case amoLR:
		return h.execLR(insn, addr, size)
	case amoSC:
		return h.execSC(insn, addr, size)
	case amoSwap, amoAdd, amoXor, amoAnd, amoOr, amoMin, amoMax, amoMinU, amoMaxU:
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}

	// The other operations are read-modify-write: a single read-write
	// translation surfaces every fault before any state changes.
	paddr, err := h.amoAddr(addr)
	if err != nil {
		return err
	}
	old, err := h.mem.Read(paddr, size)
	if err != nil {
		return Exception(CauseStoreAccessFault, addr)
	}
	if size == 4 {
		old = uint64(int32(old))
	}
	src := h.ReadReg(rs2(insn))

	val := amoApply(rs3(insn), old, src, size)
	if size == 4 {
		val &= 0xffffffff
	}
	if err := h.mem.Write(paddr, size, val); err != nil {
		return Exception(CauseStoreAccessFault, addr)
	}
	h.Delta.Mem = &MemAccess{Addr: addr, Store: true, Value: val, Size: size}

	h.WriteReg(rd(insn), old)
	return nil
}

func amoApply(op uint32, old, src uint64, size int) uint64 {
	if size == 4 {
		src = uint64(int32(src))
	}
	switch op {
	case amoSwap:
		return src
	case amoAdd:
		return old + src
	case amoXor:
		return old ^ src
	case amoAnd:
		return old & src
	case amoOr:
		return old | src
	case amoMin:
		if int64(old) < int64(src) {
			return old
		}
		return src
	case amoMax:
		if int64(old) > int64(src) {
			return old
		}
		return src
	case amoMinU:
		if size == 4 {
			if uint32(old) < uint32(src) {
				return old
			}
			return src
		}
		if old < src {
			return old
		}
		return src
	case amoMaxU:
		if size == 4 {
			if uint32(old) > uint32(src) {
				return old
			}
			return src
		}
		if old > src {
			return old
		}
		return src
	default:
		return old
	}
}

func (h *Hart) execLR(insn uint32, addr uint64, size int) error {
	if rs2(insn) != 0 {
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	v, err := h.memRead(addr, size)
	if err != nil {
		return err
	}
	if size == 4 {
		v = uint64(int32(v))
	}
	h.ResAddr = addr
	h.ResValid = true
	h.WriteReg(rd(insn), v)
	return nil
}

// execSC writes only when the reservation from a preceding LR is still
// held for the same address. Either way the reservation is consumed.
func (h *Hart) execSC(insn uint32, addr uint64, size int) error {
	ok := h.ResValid && h.ResAddr == addr
	h.ResValid = false
	if !ok {
		h.WriteReg(rd(insn), 1)
		return nil
	}
	if err := h.memWrite(addr, size, maskSize(h.ReadReg(rs2(insn)), size)); err != nil {
		return err
	}
	h.WriteReg(rd(insn), 0)
	return nil
}

func maskSize(v uint64, size int) uint64 {
	if size == 4 {
		return v & 0xffffffff
	}
	return v
}
