package hart

import "fmt"

// Step runs one cycle: interrupt check, fetch, decode, execute, then
// resolution of the deferred control-transfer/trap/return request and the
// counter tick. A step that enters a trap instead of completing the fetched
// instruction is a normal outcome, not an error; a non-nil return means the
// simulator itself is in an inconsistent state.
func (h *Hart) Step() error {
	h.Delta.begin(h.PC, h.Priv)
	h.op = pendingOp{}

	if h.WFI {
		if _, ok := h.PendingInterrupt(); !ok {
			h.M.Mcycle++
			h.finishDelta()
			return nil
		}
		h.WFI = false
	}

	// Interrupt delivery happens before fetch: no instruction, no tval.
	if code, ok := h.PendingInterrupt(); ok {
		err := h.EnterTrap(code, 0, true)
		h.M.Mcycle++
		h.finishDelta()
		return err
	}

	insn, size, err := h.fetch()
	if err != nil {
		if exc, ok := err.(ExceptionError); ok {
			err = h.EnterTrap(exc.Cause, exc.Tval, false)
			h.M.Mcycle++
			h.finishDelta()
			return err
		}
		return err
	}
	h.Delta.Insn = &insn
	h.rvcStep = size == 2

	if err := h.execute(insn); err != nil {
		if exc, ok := err.(ExceptionError); ok {
			h.op = pendingOp{kind: opTrap, cause: exc.Cause, tval: exc.Tval}
		} else {
			return err
		}
	}

	// Consume the deferred action exactly once.
	retired := true
	switch h.op.kind {
	case opNone:
		h.PC = h.maskAddr(h.PC + uint64(size))
	case opBranch:
		h.PC = h.op.target
	case opTrap:
		if err := h.EnterTrap(h.op.cause, h.op.tval, h.op.interrupt); err != nil {
			return err
		}
		retired = false
	case opMret:
		h.returnMret()
	case opSret:
		h.returnSret()
	case opUret:
		// uret needs the N extension; the decoder raises illegal
		// before scheduling it.
		return fmt.Errorf("uret scheduled with the N extension disabled")
	default:
		return fmt.Errorf("unknown deferred op %d", h.op.kind)
	}

	h.M.Mcycle++
	if retired {
		h.M.Minstret++
	}
	h.finishDelta()
	return nil
}

// fetch translates the PC and reads a 16- or 32-bit instruction. The two
// halves of a 32-bit instruction translate independently so a fetch
// straddling a page boundary faults on the correct page.
func (h *Hart) fetch() (uint32, int, error) {
	pc := h.PC
	if pc&1 != 0 {
		return 0, 0, Exception(CauseInsnAddrMisaligned, pc)
	}

	lo, err := h.fetch16(pc)
	if err != nil {
		return 0, 0, err
	}
	if lo&3 != 3 {
		full, err := h.expandCompressed(lo)
		if err != nil {
			return 0, 0, err
		}
		return full, 2, nil
	}

	hi, err := h.fetch16(pc + 2)
	if err != nil {
		return 0, 0, err
	}
	return uint32(lo) | uint32(hi)<<16, 4, nil
}

func (h *Hart) fetch16(vaddr uint64) (uint16, error) {
	vaddr = h.maskAddr(vaddr)
	paddr, err := h.Translate(vaddr, AccessExec)
	if err != nil {
		return 0, err
	}
	v, err := h.mem.Read(paddr, 2)
	if err != nil {
		return 0, Exception(CauseInsnAccessFault, vaddr)
	}
	return uint16(v), nil
}

// memRead performs a translated data load and records it in the delta.
func (h *Hart) memRead(vaddr uint64, size int) (uint64, error) {
	vaddr = h.maskAddr(vaddr)
	paddr, err := h.Translate(vaddr, AccessRead)
	if err != nil {
		return 0, err
	}
	v, err := h.mem.Read(paddr, size)
	if err != nil {
		return 0, Exception(CauseLoadAccessFault, vaddr)
	}
	h.Delta.Mem = &MemAccess{Addr: vaddr, Value: v, Size: size}
	return v, nil
}

// memWrite performs a translated data store and records it in the delta.
func (h *Hart) memWrite(vaddr uint64, size int, val uint64) error {
	vaddr = h.maskAddr(vaddr)
	paddr, err := h.Translate(vaddr, AccessWrite)
	if err != nil {
		return err
	}
	if err := h.mem.Write(paddr, size, val); err != nil {
		return Exception(CauseStoreAccessFault, vaddr)
	}
	h.Delta.Mem = &MemAccess{Addr: vaddr, Store: true, Value: val, Size: size}
	return nil
}

// amoAddr translates an AMO address once, read-write, so the operation
// sees a single consistent physical address for the whole step. All
// faults surface before any state mutates.
func (h *Hart) amoAddr(vaddr uint64) (uint64, error) {
	vaddr = h.maskAddr(vaddr)
	return h.Translate(vaddr, AccessReadWrite)
}
