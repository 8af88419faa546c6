package hart

import "math"

// fflags bits.
const (
	flagNX uint8 = 1 << 0
	flagUF uint8 = 1 << 1
	flagOF uint8 = 1 << 2
	flagDZ uint8 = 1 << 3
	flagNV uint8 = 1 << 4
)

const (
	canonicalNaN32 = 0x7fc00000
	canonicalNaN64 = 0x7ff8000000000000
	nanBoxMask     = 0xffffffff00000000
)

// checkFP rejects floating-point execution while the FS field is Off.
func (h *Hart) checkFP(insn uint32) error {
	if h.fs() == fsOff {
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	return nil
}

func (h *Hart) setFlags(f uint8) {
	if f == 0 {
		return
	}
	h.U.Fflags |= f
	h.setFS(fsDirty)
}

// Single-precision values live NaN-boxed in the 64-bit FP registers; an
// improperly boxed value reads as the canonical NaN.
func boxF(v uint32) uint64 { return nanBoxMask | uint64(v) }

func (h *Hart) unboxF(reg uint32) uint32 {
	v := h.F[reg]
	if v&nanBoxMask != nanBoxMask {
		return canonicalNaN32
	}
	return uint32(v)
}

func (h *Hart) readF32(reg uint32) float32 {
	return math.Float32frombits(h.unboxF(reg))
}

func (h *Hart) readF64(reg uint32) float64 {
	return math.Float64frombits(h.F[reg])
}

func (h *Hart) writeF32(reg uint32, v float32) {
	bits := math.Float32bits(v)
	if v != v {
		bits = canonicalNaN32
	}
	h.WriteFReg(reg, boxF(bits))
}

func (h *Hart) writeF64(reg uint32, v float64) {
	bits := math.Float64bits(v)
	if v != v {
		bits = canonicalNaN64
	}
	h.WriteFReg(reg, bits)
}

func (h *Hart) execLoadFP(insn uint32) error {
	if err := h.checkFP(insn); err != nil {
		return err
	}
	addr := uint64(int64(h.ReadReg(rs1(insn))) + immI(insn))

	switch funct3(insn) {
	case 0b010: // FLW
		v, err := h.memRead(addr, 4)
		if err != nil {
			return err
		}
		h.WriteFReg(rd(insn), boxF(uint32(v)))
	case 0b011: // FLD
		v, err := h.memRead(addr, 8)
		if err != nil {
			return err
		}
		h.WriteFReg(rd(insn), v)
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	return nil
}

func (h *Hart) execStoreFP(insn uint32) error {
	if err := h.checkFP(insn); err != nil {
		return err
	}
	addr := uint64(int64(h.ReadReg(rs1(insn))) + immS(insn))

	switch funct3(insn) {
	case 0b010: // FSW
		return h.memWrite(addr, 4, uint64(uint32(h.F[rs2(insn)])))
	case 0b011: // FSD
		return h.memWrite(addr, 8, h.F[rs2(insn)])
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
}

func (h *Hart) execOpFP(insn uint32) error {
	if err := h.checkFP(insn); err != nil {
		return err
	}
	f7 := funct7(insn)
	if f7&1 == 0 {
		return h.execOpFPS(insn, f7)
	}
	return h.execOpFPD(insn, f7)
}

func (h *Hart) execOpFPS(insn uint32, f7 uint32) error {
	a := h.readF32(rs1(insn))
	b := h.readF32(rs2(insn))

	switch f7 {
	case 0x00:
		h.writeF32(rd(insn), a+b)
	case 0x04:
		h.writeF32(rd(insn), a-b)
	case 0x08:
		h.writeF32(rd(insn), a*b)
	case 0x0C:
		if b == 0 && a == a {
			h.setFlags(flagDZ)
		}
		h.writeF32(rd(insn), a/b)
	case 0x2C: // FSQRT.S
		if a < 0 {
			h.setFlags(flagNV)
		}
		h.writeF32(rd(insn), float32(math.Sqrt(float64(a))))
	case 0x10: // FSGNJ
		ab := h.unboxF(rs1(insn))
		bb := h.unboxF(rs2(insn))
		var bits uint32
		switch funct3(insn) {
		case 0b000:
			bits = ab&0x7fffffff | bb&0x80000000
		case 0b001:
			bits = ab&0x7fffffff | ^bb&0x80000000
		case 0b010:
			bits = ab ^ bb&0x80000000
		default:
			return Exception(CauseIllegalInsn, uint64(insn))
		}
		h.WriteFReg(rd(insn), boxF(bits))
	case 0x14: // FMIN/FMAX
		h.writeF32(rd(insn), float32(fminmax(float64(a), float64(b), funct3(insn) == 1)))
	case 0x20: // FCVT.S.D
		h.writeF32(rd(insn), float32(h.readF64(rs2(insn))))
	case 0x50: // FEQ/FLT/FLE
		h.fcompare(insn, float64(a), float64(b))
	case 0x60: // FCVT int from S
		return h.fcvtToInt(insn, float64(a))
	case 0x68: // FCVT S from int
		v, err := h.fcvtFromInt(insn)
		if err != nil {
			return err
		}
		h.writeF32(rd(insn), float32(v))
	case 0x70:
		switch funct3(insn) {
		case 0b000: // FMV.X.W
			h.WriteReg(rd(insn), uint64(int32(h.unboxF(rs1(insn)))))
		case 0b001: // FCLASS.S
			h.WriteReg(rd(insn), classifyF32(h.unboxF(rs1(insn))))
		default:
			return Exception(CauseIllegalInsn, uint64(insn))
		}
	case 0x78: // FMV.W.X
		h.WriteFReg(rd(insn), boxF(uint32(h.ReadReg(rs1(insn)))))
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	return nil
}

func (h *Hart) execOpFPD(insn uint32, f7 uint32) error {
	a := h.readF64(rs1(insn))
	b := h.readF64(rs2(insn))

	switch f7 {
	case 0x01:
		h.writeF64(rd(insn), a+b)
	case 0x05:
		h.writeF64(rd(insn), a-b)
	case 0x09:
		h.writeF64(rd(insn), a*b)
	case 0x0D:
		if b == 0 && a == a {
			h.setFlags(flagDZ)
		}
		h.writeF64(rd(insn), a/b)
	case 0x2D: // FSQRT.D
		if a < 0 {
			h.setFlags(flagNV)
		}
		h.writeF64(rd(insn), math.Sqrt(a))
	case 0x11: // FSGNJ
		ab := h.F[rs1(insn)]
		bb := h.F[rs2(insn)]
		const sign = uint64(1) << 63
		var bits uint64
		switch funct3(insn) {
		case 0b000:
			bits = ab&^sign | bb&sign
		case 0b001:
			bits = ab&^sign | ^bb&sign
		case 0b010:
			bits = ab ^ bb&sign
		default:
			return Exception(CauseIllegalInsn, uint64(insn))
		}
		h.WriteFReg(rd(insn), bits)
	case 0x15: // FMIN/FMAX
		h.writeF64(rd(insn), fminmax(a, b, funct3(insn) == 1))
	case 0x21: // FCVT.D.S
		h.writeF64(rd(insn), float64(h.readF32(rs2(insn))))
	case 0x51: // FEQ/FLT/FLE
		h.fcompare(insn, a, b)
	case 0x61: // FCVT int from D
		return h.fcvtToInt(insn, a)
	case 0x69: // FCVT D from int
		v, err := h.fcvtFromInt(insn)
		if err != nil {
			return err
		}
		h.writeF64(rd(insn), v)
	case 0x71:
		switch funct3(insn) {
		case 0b000: // FMV.X.D
			if h.Xlen == 32 {
				return Exception(CauseIllegalInsn, uint64(insn))
			}
			h.WriteReg(rd(insn), h.F[rs1(insn)])
		case 0b001: // FCLASS.D
			h.WriteReg(rd(insn), classifyF64(h.F[rs1(insn)]))
		default:
			return Exception(CauseIllegalInsn, uint64(insn))
		}
	case 0x79: // FMV.D.X
		if h.Xlen == 32 {
			return Exception(CauseIllegalInsn, uint64(insn))
		}
		h.WriteFReg(rd(insn), h.ReadReg(rs1(insn)))
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	return nil
}

// fminmax follows the IEEE 754-2019 minimum/maximum number semantics: a
// quiet NaN operand yields the other operand, and -0 orders below +0.
func fminmax(a, b float64, max bool) float64 {
	switch {
	case a != a && b != b:
		return math.Float64frombits(canonicalNaN64)
	case a != a:
		return b
	case b != b:
		return a
	}
	if max {
		if a == 0 && b == 0 {
			if math.Signbit(a) {
				return b
			}
			return a
		}
		return math.Max(a, b)
	}
	if a == 0 && b == 0 {
		if math.Signbit(a) {
			return a
		}
		return b
	}
	return math.Min(a, b)
}

func (h *Hart) fcompare(insn uint32, a, b float64) {
	nan := a != a || b != b
	var v uint64
	switch funct3(insn) {
	case 0b010: // FEQ
		if !nan && a == b {
			v = 1
		}
	case 0b001: // FLT
		if nan {
			h.setFlags(flagNV)
		} else if a < b {
			v = 1
		}
	case 0b000: // FLE
		if nan {
			h.setFlags(flagNV)
		} else if a <= b {
			v = 1
		}
	}
	h.WriteReg(rd(insn), v)
}

// fcvtToInt converts to W/WU/L/LU per rs2, with saturation on overflow.
func (h *Hart) fcvtToInt(insn uint32, a float64) error {
	nan := a != a
	var v uint64
	switch rs2(insn) {
	case 0: // W
		switch {
		case nan || a >= 1<<31:
			h.setFlags(flagNV)
			v = uint64(int64(math.MaxInt32))
		case a < math.MinInt32:
			h.setFlags(flagNV)
			v = 0xffff_ffff_8000_0000 // MinInt32, sign-extended
		default:
			v = uint64(int64(int32(a)))
		}
	case 1: // WU
		switch {
		case nan || a >= 1<<32:
			h.setFlags(flagNV)
			v = ^uint64(0) // MaxUint32, sign-extended
		case a <= -1:
			h.setFlags(flagNV)
			v = 0
		default:
			v = uint64(int64(int32(uint32(a))))
		}
	case 2: // L
		if h.Xlen == 32 {
			return Exception(CauseIllegalInsn, uint64(insn))
		}
		switch {
		case nan || a >= 1<<63:
			h.setFlags(flagNV)
			v = uint64(int64(math.MaxInt64))
		case a < math.MinInt64:
			h.setFlags(flagNV)
			v = 1 << 63 // MinInt64
		default:
			v = uint64(int64(a))
		}
	case 3: // LU
		if h.Xlen == 32 {
			return Exception(CauseIllegalInsn, uint64(insn))
		}
		switch {
		case nan || a >= 1<<64:
			h.setFlags(flagNV)
			v = ^uint64(0)
		case a <= -1:
			h.setFlags(flagNV)
			v = 0
		default:
			v = uint64(a)
		}
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	h.WriteReg(rd(insn), v)
	return nil
}

func (h *Hart) fcvtFromInt(insn uint32) (float64, error) {
	r1 := h.ReadReg(rs1(insn))
	switch rs2(insn) {
	case 0: // W
		return float64(int32(r1)), nil
	case 1: // WU
		return float64(uint32(r1)), nil
	case 2: // L
		if h.Xlen == 32 {
			return 0, Exception(CauseIllegalInsn, uint64(insn))
		}
		return float64(int64(r1)), nil
	case 3: // LU
		if h.Xlen == 32 {
			return 0, Exception(CauseIllegalInsn, uint64(insn))
		}
		return float64(r1), nil
	default:
		return 0, Exception(CauseIllegalInsn, uint64(insn))
	}
}

func classifyF32(bits uint32) uint64 {
	sign := bits>>31 == 1
	exp := (bits >> 23) & 0xff
	frac := bits & 0x7fffff
	return classify(sign, exp == 0, exp == 0xff, frac == 0, frac>>22 == 1)
}

func classifyF64(bits uint64) uint64 {
	sign := bits>>63 == 1
	exp := (bits >> 52) & 0x7ff
	frac := bits & ((1 << 52) - 1)
	return classify(sign, exp == 0, exp == 0x7ff, frac == 0, frac>>51 == 1)
}

func classify(sign, expZero, expOnes, fracZero, fracMSB bool) uint64 {
	switch {
	case expOnes && !fracZero:
		if fracMSB {
			return 1 << 9 // quiet NaN
		}
		return 1 << 8 // signaling NaN
	case expOnes && sign:
		return 1 << 0 // -inf
	case expOnes:
		return 1 << 7 // +inf
	case expZero && fracZero && sign:
		return 1 << 3 // -0
	case expZero && fracZero:
		return 1 << 4 // +0
	case expZero && sign:
		return 1 << 2 // negative subnormal
	case expZero:
		return 1 << 5 // positive subnormal
	case sign:
		return 1 << 1 // negative normal
	default:
		return 1 << 6 // positive normal
	}
}

// execFMA covers the four fused multiply-add opcodes for both precisions.
func (h *Hart) execFMA(insn uint32) error {
	if err := h.checkFP(insn); err != nil {
		return err
	}
	op := opcode(insn)

	switch funct2(insn) {
	case 0b00:
		a := float64(h.readF32(rs1(insn)))
		b := float64(h.readF32(rs2(insn)))
		c := float64(h.readF32(rs3(insn)))
		h.writeF32(rd(insn), float32(fmaValue(op, a, b, c)))
	case 0b01:
		a := h.readF64(rs1(insn))
		b := h.readF64(rs2(insn))
		c := h.readF64(rs3(insn))
		h.writeF64(rd(insn), fmaValue(op, a, b, c))
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	return nil
}

func fmaValue(op uint32, a, b, c float64) float64 {
	switch op {
	case opMadd:
		return math.FMA(a, b, c)
	case opMsub:
		return math.FMA(a, b, -c)
	case opNmsub:
		return math.FMA(-a, b, c)
	default: // opNmadd
		return math.FMA(-a, b, -c)
	}
}
