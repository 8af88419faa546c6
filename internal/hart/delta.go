package hart

// Delta is the per-step tandem-verification record: every architectural
// effect of one step, reset at step start and read by an external verifier
// after the step completes. Field presence is significant: a nil pointer
// means the step had no such effect, never a stale value.
type Delta struct {
	PC       uint64
	NextPC   uint64
	Priv     Priv
	NextPriv Priv

	Insn *uint32 // absent for interrupt-entry steps
	Mem  *MemAccess
	Reg  *RegWrite
	CSR  *CSRWrite
	Trap *TrapRecord

	// Mstatus is always recorded: the architectural value after the step.
	Mstatus uint64
}

// MemAccess is the single data memory access of a step.
type MemAccess struct {
	Addr  uint64 // virtual address
	Store bool
	Value uint64
	Size  int
}

// RegWrite is the single integer or FP register write of a step.
type RegWrite struct {
	Reg   uint32
	Value uint64
	Float bool
}

// CSRWrite is the single committed CSR write of a step, recorded after
// legalization.
type CSRWrite struct {
	Addr  uint16
	Value uint64
}

// TrapRecord describes a trap taken during a step, with the view it was
// delivered to.
type TrapRecord struct {
	Interrupt bool
	Target    Priv
	Cause     uint64
	EPC       uint64
	Tval      uint64
}

// begin resets the delta for a new step.
func (d *Delta) begin(pc uint64, priv Priv) {
	*d = Delta{PC: pc, Priv: priv}
}

// finish records the post-step fields.
func (h *Hart) finishDelta() {
	h.Delta.NextPC = h.PC
	h.Delta.NextPriv = h.Priv
	h.Delta.Mstatus = h.mstatusRead()
}
