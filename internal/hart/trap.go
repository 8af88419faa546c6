package hart

import "fmt"

// interrupt priority within an eligible class: external, software, timer.
var sPriority = [3]uint64{IntSExternal, IntSSoftware, IntSTimer}

// PendingInterrupt scans mip & mie, partitions the pending lines by the
// delegation register, gates each class by the target privilege's effective
// enable, and selects the highest-priority line. The machine class always
// beats the supervisor class. Returns the interrupt cause code and whether
// one should be taken this step.
func (h *Hart) PendingInterrupt() (uint64, bool) {
	pending := h.M.Mip & h.M.Mie
	if pending == 0 {
		return 0, false
	}

	mPend := pending &^ h.M.Mideleg
	sPend := pending & h.M.Mideleg

	mEligible := h.Priv < PrivMachine ||
		(h.Priv == PrivMachine && h.M.Mstatus&MstatusMIE != 0)
	sEligible := h.Priv == PrivUser ||
		(h.Priv == PrivSupervisor && h.M.Mstatus&MstatusSIE != 0)

	if mEligible && mPend != 0 {
		for _, p := range [6]uint64{IntMExternal, IntMSoftware, IntMTimer,
			IntSExternal, IntSSoftware, IntSTimer} {
			if mPend&(1<<p) != 0 {
				return p, true
			}
		}
	}
	if sEligible && sPend != 0 {
		for _, p := range sPriority {
			if sPend&(1<<p) != 0 {
				return p, true
			}
		}
	}
	return 0, false
}

// trapTarget computes the privilege that handles an exception or interrupt
// raised at privilege from. Delegation can move handling down to supervisor
// mode, but a trap never lowers privilege: the target is at least from.
func (h *Hart) trapTarget(code uint64, interrupt bool, from Priv) Priv {
	if from > PrivSupervisor || h.M.Misa&MisaS == 0 {
		return PrivMachine
	}
	deleg := h.M.Medeleg
	if interrupt {
		deleg = h.M.Mideleg
	}
	if deleg&(1<<code) == 0 {
		return PrivMachine
	}
	if from == PrivUser {
		// A second delegation hop to user mode would need the N
		// extension; sedeleg/sideleg are hardwired zero without it.
		sdeleg := h.S.Sedeleg
		if interrupt {
			sdeleg = h.S.Sideleg
		}
		if sdeleg&(1<<code) != 0 {
			return PrivUser
		}
	}
	return PrivSupervisor
}

// interruptFlag is the top bit of a cause register for this width.
func (h *Hart) interruptFlag() uint64 {
	return 1 << (h.Xlen - 1)
}

// trapVector computes the trap entry PC from a tvec register. Vectored
// mode offsets by the cause code for interrupts only; synchronous traps
// always enter at the base.
func (h *Hart) trapVector(tvec, code uint64, interrupt bool) uint64 {
	base := tvec &^ 3
	if tvec&3 == tvecVectored && interrupt {
		return h.maskAddr(base + 4*code)
	}
	return h.maskAddr(base)
}

// EnterTrap performs the trap-entry state transition: the target
// privilege's interrupt-enable is stacked into its previous-enable shadow
// and cleared, the previous-privilege field records the privilege being
// left, epc/cause/tval are written, and the PC moves to the trap vector.
// Interrupt entry happens before fetch, with no bad-address value.
func (h *Hart) EnterTrap(code, tval uint64, interrupt bool) error {
	target := h.trapTarget(code, interrupt, h.Priv)
	cause := code
	if interrupt {
		cause |= h.interruptFlag()
	}

	switch target {
	case PrivMachine:
		h.M.Mepc = h.PC
		h.M.Mcause = cause
		h.M.Mtval = tval

		st := h.M.Mstatus
		if st&MstatusMIE != 0 {
			st |= MstatusMPIE
		} else {
			st &^= MstatusMPIE
		}
		st &^= MstatusMIE
		st = (st &^ MstatusMPP) | uint64(h.Priv)<<mstatusMPPShift
		h.M.Mstatus = st

		h.Delta.Trap = &TrapRecord{
			Interrupt: interrupt, Target: PrivMachine,
			Cause: cause, EPC: h.PC, Tval: tval,
		}
		h.Priv = PrivMachine
		h.PC = h.trapVector(h.M.Mtvec, code, interrupt)

	case PrivSupervisor:
		h.S.Sepc = h.PC
		h.S.Scause = cause
		h.S.Stval = tval

		st := h.M.Mstatus
		if st&MstatusSIE != 0 {
			st |= MstatusSPIE
		} else {
			st &^= MstatusSPIE
		}
		st &^= MstatusSIE
		// SPP is one bit: it only distinguishes user from not-user.
		if h.Priv == PrivUser {
			st &^= MstatusSPP
		} else {
			st |= MstatusSPP
		}
		h.M.Mstatus = st

		h.Delta.Trap = &TrapRecord{
			Interrupt: interrupt, Target: PrivSupervisor,
			Cause: cause, EPC: h.PC, Tval: tval,
		}
		h.Priv = PrivSupervisor
		h.PC = h.trapVector(h.S.Stvec, code, interrupt)

	default:
		// User-mode trap entry needs the N extension; reaching this is
		// a modeling bug, not guest-visible behavior.
		return fmt.Errorf("trap entry into unimplemented privilege %v (cause %d)", target, code)
	}

	h.WFI = false
	return nil
}

// returnMret is the reverse of machine trap entry: interrupt-enable comes
// back from its shadow, the shadow is forced on, MPP resets to user, and
// execution resumes at mepc in the recorded previous privilege.
func (h *Hart) returnMret() {
	st := h.M.Mstatus
	prev := Priv((st & MstatusMPP) >> mstatusMPPShift)

	if st&MstatusMPIE != 0 {
		st |= MstatusMIE
	} else {
		st &^= MstatusMIE
	}
	st |= MstatusMPIE
	st &^= MstatusMPP // MPP resets to U
	h.M.Mstatus = st

	h.Priv = prev
	h.PC = h.maskAddr(h.M.Mepc)
}

// returnSret mirrors returnMret for the supervisor stack.
func (h *Hart) returnSret() {
	st := h.M.Mstatus
	prev := PrivUser
	if st&MstatusSPP != 0 {
		prev = PrivSupervisor
	}

	if st&MstatusSPIE != 0 {
		st |= MstatusSIE
	} else {
		st &^= MstatusSIE
	}
	st |= MstatusSPIE
	st &^= MstatusSPP
	h.M.Mstatus = st

	h.Priv = prev
	h.PC = h.maskAddr(h.S.Sepc)
}
