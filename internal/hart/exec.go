package hart

// Major opcodes.
const (
	opLoad    = 0b0000011
	opLoadFP  = 0b0000111
	opMiscMem = 0b0001111
	opOpImm   = 0b0010011
	opAuipc   = 0b0010111
	opOpImm32 = 0b0011011
	opStore   = 0b0100011
	opStoreFP = 0b0100111
	opAMO     = 0b0101111
	opOp      = 0b0110011
	opLui     = 0b0110111
	opOp32    = 0b0111011
	opMadd    = 0b1000011
	opMsub    = 0b1000111
	opNmsub   = 0b1001011
	opNmadd   = 0b1001111
	opOpFP    = 0b1010011
	opBranchB = 0b1100011
	opJalr    = 0b1100111
	opJal     = 0b1101111
	opSystem  = 0b1110011
)

// Instruction field extraction.
func opcode(insn uint32) uint32 { return insn & 0x7f }
func rd(insn uint32) uint32     { return (insn >> 7) & 0x1f }
func funct3(insn uint32) uint32 { return (insn >> 12) & 0x7 }
func rs1(insn uint32) uint32    { return (insn >> 15) & 0x1f }
func rs2(insn uint32) uint32    { return (insn >> 20) & 0x1f }
func rs3(insn uint32) uint32    { return (insn >> 27) & 0x1f }
func funct7(insn uint32) uint32 { return (insn >> 25) & 0x7f }
func funct2(insn uint32) uint32 { return (insn >> 25) & 0x3 }

func signExtend(val uint64, bits int) int64 {
	shift := 64 - bits
	return int64(val<<uint(shift)) >> uint(shift)
}

func immI(insn uint32) int64 { return signExtend(uint64(insn>>20), 12) }

func immS(insn uint32) int64 {
	imm := (insn >> 7) & 0x1f
	imm |= ((insn >> 25) & 0x7f) << 5
	return signExtend(uint64(imm), 12)
}

func immB(insn uint32) int64 {
	imm := ((insn >> 8) & 0xf) << 1
	imm |= ((insn >> 25) & 0x3f) << 5
	imm |= ((insn >> 7) & 0x1) << 11
	imm |= ((insn >> 31) & 0x1) << 12
	return signExtend(uint64(imm), 13)
}

func immU(insn uint32) int64 { return signExtend(uint64(insn&0xfffff000), 32) }

func immJ(insn uint32) int64 {
	imm := ((insn >> 21) & 0x3ff) << 1
	imm |= ((insn >> 20) & 0x1) << 11
	imm |= ((insn >> 12) & 0xff) << 12
	imm |= ((insn >> 31) & 0x1) << 20
	return signExtend(uint64(imm), 21)
}

// execute runs one decoded instruction. Control transfers and privileged
// returns are scheduled on the deferred-op slot; they take effect when the
// step driver consumes it.
func (h *Hart) execute(insn uint32) error {
	switch opcode(insn) {
	case opLui:
		h.WriteReg(rd(insn), uint64(immU(insn)))
		return nil
	case opAuipc:
		h.WriteReg(rd(insn), uint64(int64(h.PC)+immU(insn)))
		return nil
	case opJal:
		return h.execJal(insn)
	case opJalr:
		return h.execJalr(insn)
	case opBranchB:
		return h.execBranch(insn)
	case opLoad:
		return h.execLoad(insn)
	case opStore:
		return h.execStore(insn)
	case opOpImm:
		return h.execOpImm(insn)
	case opOpImm32:
		return h.execOpImm32(insn)
	case opOp:
		return h.execOp(insn)
	case opOp32:
		return h.execOp32(insn)
	case opMiscMem:
		return h.execMiscMem(insn)
	case opSystem:
		return h.execSystem(insn)
	case opAMO:
		return h.execAMO(insn)
	case opLoadFP:
		return h.execLoadFP(insn)
	case opStoreFP:
		return h.execStoreFP(insn)
	case opOpFP:
		return h.execOpFP(insn)
	case opMadd, opMsub, opNmsub, opNmadd:
		return h.execFMA(insn)
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
}

// jumpTo schedules a control transfer, checking target alignment. With the
// C extension implemented only bit 0 can misalign.
func (h *Hart) jumpTo(target uint64) error {
	target = h.maskAddr(target)
	if target&1 != 0 {
		return Exception(CauseInsnAddrMisaligned, target)
	}
	h.op = pendingOp{kind: opBranch, target: target}
	return nil
}

func (h *Hart) execJal(insn uint32) error {
	target := uint64(int64(h.PC) + immJ(insn))
	link := h.PC + h.linkOffset()
	if err := h.jumpTo(target); err != nil {
		return err
	}
	h.WriteReg(rd(insn), h.maskAddr(link))
	return nil
}

func (h *Hart) execJalr(insn uint32) error {
	target := uint64(int64(h.ReadReg(rs1(insn)))+immI(insn)) &^ 1
	link := h.PC + h.linkOffset()
	if err := h.jumpTo(target); err != nil {
		return err
	}
	h.WriteReg(rd(insn), h.maskAddr(link))
	return nil
}

// linkOffset is the byte length of the instruction being executed, needed
// for the link register of jumps that were expanded from RVC forms.
func (h *Hart) linkOffset() uint64 {
	if h.rvcStep {
		return 2
	}
	return 4
}

func (h *Hart) execBranch(insn uint32) error {
	r1 := h.ReadReg(rs1(insn))
	r2 := h.ReadReg(rs2(insn))

	var taken bool
	switch funct3(insn) {
	case 0b000:
		taken = r1 == r2
	case 0b001:
		taken = r1 != r2
	case 0b100:
		taken = int64(r1) < int64(r2)
	case 0b101:
		taken = int64(r1) >= int64(r2)
	case 0b110:
		taken = r1 < r2
	case 0b111:
		taken = r1 >= r2
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}

	if taken {
		return h.jumpTo(uint64(int64(h.PC) + immB(insn)))
	}
	return nil
}

func (h *Hart) execLoad(insn uint32) error {
	addr := uint64(int64(h.ReadReg(rs1(insn))) + immI(insn))

	var val uint64
	switch funct3(insn) {
	case 0b000: // LB
		v, err := h.memRead(addr, 1)
		if err != nil {
			return err
		}
		val = uint64(int8(v))
	case 0b001: // LH
		v, err := h.memRead(addr, 2)
		if err != nil {
			return err
		}
		val = uint64(int16(v))
	case 0b010: // LW
		v, err := h.memRead(addr, 4)
		if err != nil {
			return err
		}
		val = uint64(int32(v))
	case 0b011: // LD
		if h.Xlen == 32 {
			return Exception(CauseIllegalInsn, uint64(insn))
		}
		v, err := h.memRead(addr, 8)
		if err != nil {
			return err
		}
		val = v
	case 0b100: // LBU
		v, err := h.memRead(addr, 1)
		if err != nil {
			return err
		}
		val = v
	case 0b101: // LHU
		v, err := h.memRead(addr, 2)
		if err != nil {
			return err
		}
		val = v
	case 0b110: // LWU
		if h.Xlen == 32 {
			return Exception(CauseIllegalInsn, uint64(insn))
		}
		v, err := h.memRead(addr, 4)
		if err != nil {
			return err
		}
		val = v
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}

	h.WriteReg(rd(insn), val)
	return nil
}

func (h *Hart) execStore(insn uint32) error {
	addr := uint64(int64(h.ReadReg(rs1(insn))) + immS(insn))
	val := h.ReadReg(rs2(insn))

	switch funct3(insn) {
	case 0b000:
		return h.memWrite(addr, 1, val&0xff)
	case 0b001:
		return h.memWrite(addr, 2, val&0xffff)
	case 0b010:
		return h.memWrite(addr, 4, val&0xffffffff)
	case 0b011:
		if h.Xlen == 32 {
			return Exception(CauseIllegalInsn, uint64(insn))
		}
		return h.memWrite(addr, 8, val)
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
}

// shiftMask bounds register shift amounts for the base width.
func (h *Hart) shiftMask() uint64 {
	if h.Xlen == 32 {
		return 0x1f
	}
	return 0x3f
}

func (h *Hart) execOpImm(insn uint32) error {
	r1 := h.ReadReg(rs1(insn))
	imm := immI(insn)
	sh := uint32(imm) & 0x3f
	// shamt[5] must be zero on RV32.
	badShamt := h.Xlen == 32 && sh&0x20 != 0

	var val uint64
	switch funct3(insn) {
	case 0b000: // ADDI
		val = uint64(int64(r1) + imm)
	case 0b001: // SLLI
		if badShamt {
			return Exception(CauseIllegalInsn, uint64(insn))
		}
		val = r1 << sh
	case 0b010: // SLTI
		if int64(r1) < imm {
			val = 1
		}
	case 0b011: // SLTIU
		if r1 < uint64(imm) {
			val = 1
		}
	case 0b100: // XORI
		val = r1 ^ uint64(imm)
	case 0b101: // SRLI/SRAI
		if badShamt {
			return Exception(CauseIllegalInsn, uint64(insn))
		}
		if (insn>>30)&1 == 1 {
			val = uint64(int64(r1) >> sh)
		} else if h.Xlen == 32 {
			val = uint64(uint32(r1) >> sh)
		} else {
			val = r1 >> sh
		}
	case 0b110: // ORI
		val = r1 | uint64(imm)
	case 0b111: // ANDI
		val = r1 & uint64(imm)
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}

	h.WriteReg(rd(insn), val)
	return nil
}

func (h *Hart) execOpImm32(insn uint32) error {
	if h.Xlen == 32 {
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	r1 := uint32(h.ReadReg(rs1(insn)))
	imm := int32(immI(insn))
	sh := (insn >> 20) & 0x1f

	var val int32
	switch funct3(insn) {
	case 0b000: // ADDIW
		val = int32(r1) + imm
	case 0b001: // SLLIW
		val = int32(r1 << sh)
	case 0b101: // SRLIW/SRAIW
		if (insn>>30)&1 == 1 {
			val = int32(r1) >> sh
		} else {
			val = int32(uint32(r1) >> sh)
		}
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}

	h.WriteReg(rd(insn), uint64(val))
	return nil
}

func (h *Hart) execOp(insn uint32) error {
	r1 := h.ReadReg(rs1(insn))
	r2 := h.ReadReg(rs2(insn))
	f3 := funct3(insn)
	f7 := funct7(insn)

	if f7 == 0b0000001 {
		return h.execOpM(insn, r1, r2, f3)
	}

	var val uint64
	switch f3 {
	case 0b000: // ADD/SUB
		if f7 == 0b0100000 {
			val = uint64(int64(r1) - int64(r2))
		} else {
			val = uint64(int64(r1) + int64(r2))
		}
	case 0b001: // SLL
		val = r1 << (r2 & h.shiftMask())
	case 0b010: // SLT
		if int64(r1) < int64(r2) {
			val = 1
		}
	case 0b011: // SLTU
		if r1 < r2 {
			val = 1
		}
	case 0b100: // XOR
		val = r1 ^ r2
	case 0b101: // SRL/SRA
		sh := r2 & h.shiftMask()
		if f7 == 0b0100000 {
			val = uint64(int64(r1) >> sh)
		} else if h.Xlen == 32 {
			val = uint64(uint32(r1) >> sh)
		} else {
			val = r1 >> sh
		}
	case 0b110: // OR
		val = r1 | r2
	case 0b111: // AND
		val = r1 & r2
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}

	h.WriteReg(rd(insn), val)
	return nil
}

func (h *Hart) execOpM(insn uint32, r1, r2 uint64, f3 uint32) error {
	if h.Xlen == 32 {
		return h.execOpM32(insn, uint32(r1), uint32(r2), f3)
	}

	var val uint64
	switch f3 {
	case 0b000: // MUL
		val = uint64(int64(r1) * int64(r2))
	case 0b001: // MULH
		hi, _ := mulh64(int64(r1), int64(r2))
		val = uint64(hi)
	case 0b010: // MULHSU
		hi, _ := mulhsu64(int64(r1), r2)
		val = uint64(hi)
	case 0b011: // MULHU
		hi, _ := mulhu64(r1, r2)
		val = hi
	case 0b100: // DIV
		switch {
		case r2 == 0:
			val = ^uint64(0)
		case r1 == 1<<63 && r2 == ^uint64(0):
			val = r1
		default:
			val = uint64(int64(r1) / int64(r2))
		}
	case 0b101: // DIVU
		if r2 == 0 {
			val = ^uint64(0)
		} else {
			val = r1 / r2
		}
	case 0b110: // REM
		switch {
		case r2 == 0:
			val = r1
		case r1 == 1<<63 && r2 == ^uint64(0):
			val = 0
		default:
			val = uint64(int64(r1) % int64(r2))
		}
	case 0b111: // REMU
		if r2 == 0 {
			val = r1
		} else {
			val = r1 % r2
		}
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}

	h.WriteReg(rd(insn), val)
	return nil
}

// execOpM32 is the MUL/DIV group at a 32-bit base width.
func (h *Hart) execOpM32(insn uint32, r1, r2 uint32, f3 uint32) error {
	var val uint64
	switch f3 {
	case 0b000: // MUL
		val = uint64(int32(r1) * int32(r2))
	case 0b001: // MULH
		val = uint64(uint32(int64(int32(r1)) * int64(int32(r2)) >> 32))
	case 0b010: // MULHSU
		val = uint64(uint32(int64(int32(r1)) * int64(r2) >> 32))
	case 0b011: // MULHU
		val = uint64(uint32(uint64(r1) * uint64(r2) >> 32))
	case 0b100: // DIV
		switch {
		case r2 == 0:
			val = ^uint64(0)
		case r1 == 1<<31 && r2 == ^uint32(0):
			val = uint64(r1)
		default:
			val = uint64(int32(r1) / int32(r2))
		}
	case 0b101: // DIVU
		if r2 == 0 {
			val = ^uint64(0)
		} else {
			val = uint64(r1 / r2)
		}
	case 0b110: // REM
		switch {
		case r2 == 0:
			val = uint64(r1)
		case r1 == 1<<31 && r2 == ^uint32(0):
			val = 0
		default:
			val = uint64(int32(r1) % int32(r2))
		}
	case 0b111: // REMU
		if r2 == 0 {
			val = uint64(r1)
		} else {
			val = uint64(r1 % r2)
		}
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}

	h.WriteReg(rd(insn), val)
	return nil
}

func (h *Hart) execOp32(insn uint32) error {
	if h.Xlen == 32 {
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	r1 := uint32(h.ReadReg(rs1(insn)))
	r2 := uint32(h.ReadReg(rs2(insn)))
	f3 := funct3(insn)
	f7 := funct7(insn)

	if f7 == 0b0000001 {
		return h.execOp32M(insn, r1, r2, f3)
	}

	var val int32
	switch f3 {
	case 0b000: // ADDW/SUBW
		if f7 == 0b0100000 {
			val = int32(r1) - int32(r2)
		} else {
			val = int32(r1) + int32(r2)
		}
	case 0b001: // SLLW
		val = int32(r1 << (r2 & 0x1f))
	case 0b101: // SRLW/SRAW
		if f7 == 0b0100000 {
			val = int32(r1) >> (r2 & 0x1f)
		} else {
			val = int32(r1 >> (r2 & 0x1f))
		}
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}

	h.WriteReg(rd(insn), uint64(val))
	return nil
}

func (h *Hart) execOp32M(insn uint32, r1, r2 uint32, f3 uint32) error {
	var val int32
	switch f3 {
	case 0b000: // MULW
		val = int32(r1) * int32(r2)
	case 0b100: // DIVW
		switch {
		case r2 == 0:
			val = -1
		case r1 == 1<<31 && r2 == ^uint32(0):
			val = int32(r1)
		default:
			val = int32(r1) / int32(r2)
		}
	case 0b101: // DIVUW
		if r2 == 0 {
			val = -1
		} else {
			val = int32(r1 / r2)
		}
	case 0b110: // REMW
		switch {
		case r2 == 0:
			val = int32(r1)
		case r1 == 1<<31 && r2 == ^uint32(0):
			val = 0
		default:
			val = int32(r1) % int32(r2)
		}
	case 0b111: // REMUW
		if r2 == 0 {
			val = int32(r1)
		} else {
			val = int32(r1 % r2)
		}
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}

	h.WriteReg(rd(insn), uint64(val))
	return nil
}

func (h *Hart) execMiscMem(insn uint32) error {
	switch funct3(insn) {
	case 0b000: // FENCE
		// Sequential per-hart execution needs no ordering action.
	case 0b001: // FENCE.I
		// No instruction cache to flush.
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	return nil
}

// 64-bit multiply-high helpers.
func mulhu64(a, b uint64) (uint64, uint64) {
	const mask32 = 0xFFFFFFFF
	a0, a1 := a&mask32, a>>32
	b0, b1 := b&mask32, b>>32

	p0 := a0 * b0
	p1 := a0 * b1
	p2 := a1 * b0
	p3 := a1 * b1

	carry := ((p0 >> 32) + (p1 & mask32) + (p2 & mask32)) >> 32
	hi := p3 + (p1 >> 32) + (p2 >> 32) + carry
	return hi, a * b
}

func mulh64(a, b int64) (int64, uint64) {
	neg := (a < 0) != (b < 0)
	ua, ub := uint64(a), uint64(b)
	if a < 0 {
		ua = uint64(-a)
	}
	if b < 0 {
		ub = uint64(-b)
	}
	hi, lo := mulhu64(ua, ub)
	if neg {
		lo = ^lo + 1
		hi = ^hi
		if lo == 0 {
			hi++
		}
	}
	return int64(hi), lo
}

func mulhsu64(a int64, b uint64) (int64, uint64) {
	neg := a < 0
	ua := uint64(a)
	if a < 0 {
		ua = uint64(-a)
	}
	hi, lo := mulhu64(ua, b)
	if neg {
		lo = ^lo + 1
		hi = ^hi
		if lo == 0 {
			hi++
		}
	}
	return int64(hi), lo
}
