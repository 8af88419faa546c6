// Package hart implements a cycle-stepped functional model of a RISC-V
// hardware thread: privileged CSR state, trap delivery, Sv32/Sv39 address
// translation with a software TLB, and the per-step instruction driver.
// It is intended for bit-exact tandem verification against a reference
// implementation, not for speed or timing accuracy.
package hart

import (
	"fmt"
)

// Priv is a RISC-V privilege level.
type Priv uint8

const (
	PrivUser       Priv = 0
	PrivSupervisor Priv = 1
	PrivMachine    Priv = 3
)

func (p Priv) String() string {
	switch p {
	case PrivUser:
		return "U"
	case PrivSupervisor:
		return "S"
	case PrivMachine:
		return "M"
	default:
		return fmt.Sprintf("Priv(%d)", uint8(p))
	}
}

// ISA extension bits for misa.
const (
	MisaA uint64 = 1 << 0
	MisaC uint64 = 1 << 2
	MisaD uint64 = 1 << 3
	MisaF uint64 = 1 << 5
	MisaI uint64 = 1 << 8
	MisaM uint64 = 1 << 12
	MisaS uint64 = 1 << 18
	MisaU uint64 = 1 << 20
)

// MXL values for misa.
const (
	MXL32 uint64 = 1
	MXL64 uint64 = 2
)

// Exception causes.
const (
	CauseInsnAddrMisaligned  uint64 = 0
	CauseInsnAccessFault     uint64 = 1
	CauseIllegalInsn         uint64 = 2
	CauseBreakpoint          uint64 = 3
	CauseLoadAddrMisaligned  uint64 = 4
	CauseLoadAccessFault     uint64 = 5
	CauseStoreAddrMisaligned uint64 = 6
	CauseStoreAccessFault    uint64 = 7
	CauseEcallFromU          uint64 = 8
	CauseEcallFromS          uint64 = 9
	CauseEcallFromM          uint64 = 11
	CauseInsnPageFault       uint64 = 12
	CauseLoadPageFault       uint64 = 13
	CauseStorePageFault      uint64 = 15
)

// Interrupt cause codes (without the interrupt flag bit).
const (
	IntSSoftware uint64 = 1
	IntMSoftware uint64 = 3
	IntSTimer    uint64 = 5
	IntMTimer    uint64 = 7
	IntSExternal uint64 = 9
	IntMExternal uint64 = 11
)

// mip/mie bits.
const (
	MipSSIP uint64 = 1 << IntSSoftware
	MipMSIP uint64 = 1 << IntMSoftware
	MipSTIP uint64 = 1 << IntSTimer
	MipMTIP uint64 = 1 << IntMTimer
	MipSEIP uint64 = 1 << IntSExternal
	MipMEIP uint64 = 1 << IntMExternal
)

// Memory is the physical memory bus consumed by the hart. Reads and writes
// outside the platform memory map fail with an error, which the translator
// and the load/store paths convert into access-fault exceptions.
type Memory interface {
	Read(addr uint64, size int) (uint64, error)
	Write(addr uint64, size int, value uint64) error
}

// ExceptionError is an architectural exception used as in-band control flow.
// It is consumed by the step driver, which converts it into a trap entry;
// it never reaches the host as a failure.
type ExceptionError struct {
	Cause uint64
	Tval  uint64
}

func (e ExceptionError) Error() string {
	return fmt.Sprintf("exception: cause=%d tval=0x%x", e.Cause, e.Tval)
}

// Exception creates an exception with the given cause and tval.
func Exception(cause uint64, tval uint64) error {
	return ExceptionError{Cause: cause, Tval: tval}
}

// Machine-level CSR group.
type MachineCSRs struct {
	Mstatus    uint64 // canonical copy, SD computed on read
	Misa       uint64
	Medeleg    uint64
	Mideleg    uint64
	Mie        uint64
	Mip        uint64
	Mtvec      uint64
	Mepc       uint64
	Mcause     uint64
	Mtval      uint64
	Mscratch   uint64
	Mcounteren uint64
	Mcycle     uint64
	Minstret   uint64
	Mhartid    uint64
	Mvendorid  uint64
	Marchid    uint64
	Mimpid     uint64
}

// Supervisor-level CSR group. The status/ie/ip views are not stored here:
// they are always projected from the machine-level registers.
type SupervisorCSRs struct {
	Sedeleg    uint64 // always zero while the N extension is disabled
	Sideleg    uint64
	Stvec      uint64
	Sepc       uint64
	Scause     uint64
	Stval      uint64
	Sscratch   uint64
	Satp       uint64
	Scounteren uint64
}

// User-level CSR group. The trap registers exist in the data model but are
// unreachable while the N extension is disabled; only the FP CSRs are live.
type UserCSRs struct {
	Utvec    uint64
	Uepc     uint64
	Ucause   uint64
	Utval    uint64
	Uscratch uint64
	Fflags   uint8
	Frm      uint8
}

// deferred per-step action, consumed exactly once by the step driver.
type opKind uint8

const (
	opNone opKind = iota
	opTrap
	opBranch
	opMret
	opSret
	opUret
)

type pendingOp struct {
	kind      opKind
	cause     uint64
	tval      uint64
	interrupt bool
	target    uint64 // branch target
}

// Hart is the full architectural state of one hardware thread. Each hart is
// independently owned; the only state shared between harts is the physical
// memory bus and the logical clock, both injected at construction.
type Hart struct {
	ID   uint64
	Xlen int // 32 or 64

	X  [32]uint64
	F  [32]uint64
	PC uint64

	Priv Priv

	M MachineCSRs
	S SupervisorCSRs
	U UserCSRs

	// Load reservation for LR/SC.
	ResAddr  uint64
	ResValid bool

	// Waiting for interrupt.
	WFI bool

	op pendingOp

	// rvcStep is set while executing an instruction expanded from a
	// compressed encoding; jumps use it to compute the link address.
	rvcStep bool

	// One TLB per translation width; the widths never share entries.
	TLB32 *TLB
	TLB39 *TLB

	// When false, a walk needing an Accessed/Dirty bit update raises a
	// page fault instead of patching the PTE in place.
	DirtyUpdate bool

	mem Memory

	// Now supplies the value of the time CSR. Defaults to the cycle
	// counter when nil.
	Now func() uint64

	// Delta is the per-step tandem verification record.
	Delta Delta

	// fixed at reset
	sxl uint64
	uxl uint64
}

// Options configures hart construction.
type Options struct {
	Xlen        int
	TLBCapacity int
	DirtyUpdate bool
	Now         func() uint64
}

// DefaultTLBCapacity is the per-width TLB size when none is configured.
const DefaultTLBCapacity = 64

// New creates a hart in its power-on state.
func New(id uint64, mem Memory, opts Options) (*Hart, error) {
	if opts.Xlen != 32 && opts.Xlen != 64 {
		return nil, fmt.Errorf("hart %d: unsupported base width %d", id, opts.Xlen)
	}
	cap := opts.TLBCapacity
	if cap <= 0 {
		cap = DefaultTLBCapacity
	}
	h := &Hart{
		ID:          id,
		Xlen:        opts.Xlen,
		mem:         mem,
		TLB32:       NewTLB(cap),
		TLB39:       NewTLB(cap),
		DirtyUpdate: opts.DirtyUpdate,
		Now:         opts.Now,
	}
	h.InitMachine()
	return h, nil
}

// misaValue returns the reset misa for this hart.
func (h *Hart) misaValue() uint64 {
	ext := MisaI | MisaM | MisaA | MisaF | MisaD | MisaC | MisaS | MisaU
	if h.Xlen == 64 {
		return (MXL64 << 62) | ext
	}
	return (MXL32 << 30) | ext
}

// InitMachine resets the hart to machine mode with bare translation, the
// trap vector at zero, and zeroed counters.
func (h *Hart) InitMachine() {
	h.Priv = PrivMachine
	h.M = MachineCSRs{
		Misa:    h.misaValue(),
		Mhartid: h.ID,
	}
	h.S = SupervisorCSRs{}
	h.U = UserCSRs{}
	if h.Xlen == 64 {
		h.sxl = MXL64
		h.uxl = MXL64
	}
	h.ResValid = false
	h.WFI = false
	h.op = pendingOp{}
	h.TLB32.Reset()
	h.TLB39.Reset()
	h.Delta = Delta{}
}

// InitRegs zeroes the register banks and sets the program counter.
func (h *Hart) InitRegs(pc uint64) {
	for i := range h.X {
		h.X[i] = 0
	}
	for i := range h.F {
		h.F[i] = 0
	}
	h.PC = h.maskAddr(pc)
}

// ReadReg reads an integer register; x0 always reads zero. On a 32-bit
// hart the returned value is the sign extension of the architectural
// 32-bit value, matching the storage convention of WriteReg and the
// 32-bit CSR reads.
func (h *Hart) ReadReg(reg uint32) uint64 {
	if reg == 0 {
		return 0
	}
	return h.X[reg]
}

// WriteReg writes an integer register, recording the write in the step
// delta. Writes to x0 are discarded. On a 32-bit hart the stored value is
// the sign extension of its low word, so arithmetic on it behaves like the
// RV64 W-form opcodes.
func (h *Hart) WriteReg(reg uint32, val uint64) {
	if reg == 0 {
		return
	}
	if h.Xlen == 32 {
		val = uint64(int64(int32(val)))
	}
	h.X[reg] = val
	h.Delta.Reg = &RegWrite{Reg: reg, Value: val}
}

// WriteFReg writes a floating-point register and marks the FP context dirty.
func (h *Hart) WriteFReg(reg uint32, val uint64) {
	h.F[reg] = val
	h.setFS(fsDirty)
	h.Delta.Reg = &RegWrite{Reg: reg, Value: val, Float: true}
}

// maskAddr narrows a virtual address to the hart's base width.
func (h *Hart) maskAddr(addr uint64) uint64 {
	if h.Xlen == 32 {
		return addr & 0xffffffff
	}
	return addr
}

// now returns the time CSR value.
func (h *Hart) now() uint64 {
	if h.Now != nil {
		return h.Now()
	}
	return h.M.Mcycle
}
