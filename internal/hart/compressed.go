package hart

// Compressed instructions are expanded to their 32-bit equivalents and fed
// through the normal decoder; only the link/next-PC arithmetic knows the
// original length. Encodings that differ between RV32C and RV64C (C.JAL
// versus C.ADDIW, the word versus double loads) follow the hart's width.

func encodeR(op, rdv, f3, r1, r2, f7 uint32) uint32 {
	return op | rdv<<7 | f3<<12 | r1<<15 | r2<<20 | f7<<25
}

func encodeI(op, rdv, f3, r1 uint32, imm int32) uint32 {
	return op | rdv<<7 | f3<<12 | r1<<15 | uint32(imm&0xfff)<<20
}

func encodeS(op, f3, r1, r2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return op | (u&0x1f)<<7 | f3<<12 | r1<<15 | r2<<20 | (u>>5&0x7f)<<25
}

func encodeB(op, f3, r1, r2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return op | (u>>11&1)<<7 | (u>>1&0xf)<<8 | f3<<12 | r1<<15 | r2<<20 |
		(u>>5&0x3f)<<25 | (u>>12&1)<<31
}

func encodeJ(op, rdv uint32, imm int32) uint32 {
	u := uint32(imm)
	return op | rdv<<7 | (u>>12&0xff)<<12 | (u>>11&1)<<20 |
		(u>>1&0x3ff)<<21 | (u>>20&1)<<31
}

func encodeU(op, rdv uint32, imm int32) uint32 {
	return op | rdv<<7 | uint32(imm)&0xfffff000
}

// creg maps a 3-bit compressed register field to x8..x15.
func creg(v uint16) uint32 { return uint32(v&0x7) + 8 }

func (h *Hart) expandCompressed(c uint16) (uint32, error) {
	illegal := func() (uint32, error) {
		return 0, Exception(CauseIllegalInsn, uint64(c))
	}
	f3 := c >> 13

	switch c & 3 {
	case 0b00:
		rdc := creg(c >> 2)
		rs1c := creg(c >> 7)
		switch f3 {
		case 0b000: // C.ADDI4SPN
			imm := int32(c>>7&0xf)<<6 | int32(c>>11&0x3)<<4 |
				int32(c>>5&1)<<3 | int32(c>>6&1)<<2
			if imm == 0 {
				return illegal()
			}
			return encodeI(opOpImm, rdc, 0b000, 2, imm), nil
		case 0b001: // C.FLD
			imm := int32(c>>10&0x7)<<3 | int32(c>>5&0x3)<<6
			return encodeI(opLoadFP, rdc, 0b011, rs1c, imm), nil
		case 0b010: // C.LW
			imm := int32(c>>10&0x7)<<3 | int32(c>>6&1)<<2 | int32(c>>5&1)<<6
			return encodeI(opLoad, rdc, 0b010, rs1c, imm), nil
		case 0b011: // C.FLW / C.LD
			if h.Xlen == 32 {
				imm := int32(c>>10&0x7)<<3 | int32(c>>6&1)<<2 | int32(c>>5&1)<<6
				return encodeI(opLoadFP, rdc, 0b010, rs1c, imm), nil
			}
			imm := int32(c>>10&0x7)<<3 | int32(c>>5&0x3)<<6
			return encodeI(opLoad, rdc, 0b011, rs1c, imm), nil
		case 0b101: // C.FSD
			imm := int32(c>>10&0x7)<<3 | int32(c>>5&0x3)<<6
			return encodeS(opStoreFP, 0b011, rs1c, rdc, imm), nil
		case 0b110: // C.SW
			imm := int32(c>>10&0x7)<<3 | int32(c>>6&1)<<2 | int32(c>>5&1)<<6
			return encodeS(opStore, 0b010, rs1c, rdc, imm), nil
		case 0b111: // C.FSW / C.SD
			if h.Xlen == 32 {
				imm := int32(c>>10&0x7)<<3 | int32(c>>6&1)<<2 | int32(c>>5&1)<<6
				return encodeS(opStoreFP, 0b010, rs1c, rdc, imm), nil
			}
			imm := int32(c>>10&0x7)<<3 | int32(c>>5&0x3)<<6
			return encodeS(opStore, 0b011, rs1c, rdc, imm), nil
		default:
			return illegal()
		}

	case 0b01:
		rdv := uint32(c >> 7 & 0x1f)
		imm6 := (int32(c>>2&0x1f) | int32(c>>12&1)<<5) << 26 >> 26
		switch f3 {
		case 0b000: // C.ADDI (rd=0 is the canonical NOP)
			return encodeI(opOpImm, rdv, 0b000, rdv, imm6), nil
		case 0b001: // C.JAL / C.ADDIW
			if h.Xlen == 32 {
				return encodeJ(opJal, 1, cjTarget(c)), nil
			}
			if rdv == 0 {
				return illegal()
			}
			return encodeI(opOpImm32, rdv, 0b000, rdv, imm6), nil
		case 0b010: // C.LI
			return encodeI(opOpImm, rdv, 0b000, 0, imm6), nil
		case 0b011:
			if rdv == 2 { // C.ADDI16SP
				imm := int32(c>>12&1)<<9 | int32(c>>6&1)<<4 | int32(c>>5&1)<<6 |
					int32(c>>3&0x3)<<7 | int32(c>>2&1)<<5
				imm = imm << 22 >> 22
				if imm == 0 {
					return illegal()
				}
				return encodeI(opOpImm, 2, 0b000, 2, imm), nil
			}
			if rdv == 0 || imm6 == 0 { // C.LUI
				return illegal()
			}
			return encodeU(opLui, rdv, imm6<<12), nil
		case 0b100:
			rs1c := creg(c >> 7)
			switch c >> 10 & 0x3 {
			case 0b00, 0b01: // C.SRLI / C.SRAI
				sh := uint32(c>>2&0x1f) | uint32(c>>12&1)<<5
				if h.Xlen == 32 && sh&0x20 != 0 {
					return illegal()
				}
				f7 := uint32(0)
				if c>>10&0x3 == 0b01 {
					f7 = 0b0100000
				}
				return encodeI(opOpImm, rs1c, 0b101, rs1c, int32(f7<<5|sh)), nil
			case 0b10: // C.ANDI
				return encodeI(opOpImm, rs1c, 0b111, rs1c, imm6), nil
			default:
				rs2c := creg(c >> 2)
				if c>>12&1 == 0 {
					switch c >> 5 & 0x3 {
					case 0b00: // C.SUB
						return encodeR(opOp, rs1c, 0b000, rs1c, rs2c, 0b0100000), nil
					case 0b01: // C.XOR
						return encodeR(opOp, rs1c, 0b100, rs1c, rs2c, 0), nil
					case 0b10: // C.OR
						return encodeR(opOp, rs1c, 0b110, rs1c, rs2c, 0), nil
					default: // C.AND
						return encodeR(opOp, rs1c, 0b111, rs1c, rs2c, 0), nil
					}
				}
				if h.Xlen == 32 {
					return illegal()
				}
				switch c >> 5 & 0x3 {
				case 0b00: // C.SUBW
					return encodeR(opOp32, rs1c, 0b000, rs1c, rs2c, 0b0100000), nil
				case 0b01: // C.ADDW
					return encodeR(opOp32, rs1c, 0b000, rs1c, rs2c, 0), nil
				default:
					return illegal()
				}
			}
		case 0b101: // C.J
			return encodeJ(opJal, 0, cjTarget(c)), nil
		case 0b110: // C.BEQZ
			return encodeB(opBranchB, 0b000, creg(c>>7), 0, cbTarget(c)), nil
		case 0b111: // C.BNEZ
			return encodeB(opBranchB, 0b001, creg(c>>7), 0, cbTarget(c)), nil
		default:
			return illegal()
		}

	case 0b10:
		rdv := uint32(c >> 7 & 0x1f)
		rs2v := uint32(c >> 2 & 0x1f)
		switch f3 {
		case 0b000: // C.SLLI
			sh := uint32(c>>2&0x1f) | uint32(c>>12&1)<<5
			if h.Xlen == 32 && sh&0x20 != 0 {
				return illegal()
			}
			return encodeI(opOpImm, rdv, 0b001, rdv, int32(sh)), nil
		case 0b001: // C.FLDSP
			imm := int32(c>>12&1)<<5 | int32(c>>5&0x3)<<3 | int32(c>>2&0x7)<<6
			return encodeI(opLoadFP, rdv, 0b011, 2, imm), nil
		case 0b010: // C.LWSP
			if rdv == 0 {
				return illegal()
			}
			imm := int32(c>>12&1)<<5 | int32(c>>4&0x7)<<2 | int32(c>>2&0x3)<<6
			return encodeI(opLoad, rdv, 0b010, 2, imm), nil
		case 0b011: // C.FLWSP / C.LDSP
			if h.Xlen == 32 {
				imm := int32(c>>12&1)<<5 | int32(c>>4&0x7)<<2 | int32(c>>2&0x3)<<6
				return encodeI(opLoadFP, rdv, 0b010, 2, imm), nil
			}
			if rdv == 0 {
				return illegal()
			}
			imm := int32(c>>12&1)<<5 | int32(c>>5&0x3)<<3 | int32(c>>2&0x7)<<6
			return encodeI(opLoad, rdv, 0b011, 2, imm), nil
		case 0b100:
			if c>>12&1 == 0 {
				if rs2v == 0 { // C.JR
					if rdv == 0 {
						return illegal()
					}
					return encodeI(opJalr, 0, 0b000, rdv, 0), nil
				}
				// C.MV
				return encodeR(opOp, rdv, 0b000, 0, rs2v, 0), nil
			}
			if rs2v == 0 {
				if rdv == 0 { // C.EBREAK
					return encodeI(opSystem, 0, 0b000, 0, 1), nil
				}
				// C.JALR
				return encodeI(opJalr, 1, 0b000, rdv, 0), nil
			}
			// C.ADD
			return encodeR(opOp, rdv, 0b000, rdv, rs2v, 0), nil
		case 0b101: // C.FSDSP
			imm := int32(c>>10&0x7)<<3 | int32(c>>7&0x7)<<6
			return encodeS(opStoreFP, 0b011, 2, rs2v, imm), nil
		case 0b110: // C.SWSP
			imm := int32(c>>9&0xf)<<2 | int32(c>>7&0x3)<<6
			return encodeS(opStore, 0b010, 2, rs2v, imm), nil
		case 0b111: // C.FSWSP / C.SDSP
			if h.Xlen == 32 {
				imm := int32(c>>9&0xf)<<2 | int32(c>>7&0x3)<<6
				return encodeS(opStoreFP, 0b010, 2, rs2v, imm), nil
			}
			imm := int32(c>>10&0x7)<<3 | int32(c>>7&0x7)<<6
			return encodeS(opStore, 0b011, 2, rs2v, imm), nil
		default:
			return illegal()
		}
	}

	// The all-zero halfword decodes here too.
	return illegal()
}

// cjTarget decodes the scrambled 11-bit C.J/C.JAL offset.
func cjTarget(c uint16) int32 {
	imm := int32(c>>12&1)<<11 | int32(c>>11&1)<<4 | int32(c>>9&0x3)<<8 |
		int32(c>>8&1)<<10 | int32(c>>7&1)<<6 | int32(c>>6&1)<<7 |
		int32(c>>3&0x7)<<1 | int32(c>>2&1)<<5
	return imm << 20 >> 20
}

// cbTarget decodes the 8-bit C.BEQZ/C.BNEZ offset.
func cbTarget(c uint16) int32 {
	imm := int32(c>>12&1)<<8 | int32(c>>10&0x3)<<3 | int32(c>>5&0x3)<<6 |
		int32(c>>3&0x3)<<1 | int32(c>>2&1)<<5
	return imm << 23 >> 23
}
