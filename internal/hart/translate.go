package hart

import "fmt"

// AccessKind is the kind of memory access being translated.
type AccessKind int

const (
	AccessRead AccessKind = iota
	AccessWrite
	AccessReadWrite // AMO: faults report as store faults
	AccessExec
)

// Page table entry bits.
const (
	PteV uint64 = 1 << 0
	PteR uint64 = 1 << 1
	PteW uint64 = 1 << 2
	PteX uint64 = 1 << 3
	PteU uint64 = 1 << 4
	PteG uint64 = 1 << 5
	PteA uint64 = 1 << 6
	PteD uint64 = 1 << 7
)

const (
	pageShift = 12
	PageSize  = 1 << pageShift
)

// Translation modes derived from satp under the effective base width.
type transMode int

const (
	modeBare transMode = iota
	modeSv32
	modeSv39
)

// walk scheme parameters for each implemented mode.
type walkScheme struct {
	levels   int
	vpnBits  uint
	pteBytes uint64
	ppnMask  uint64
}

var (
	sv32Scheme = walkScheme{levels: 2, vpnBits: 10, pteBytes: 4, ppnMask: (1 << 22) - 1}
	sv39Scheme = walkScheme{levels: 3, vpnBits: 9, pteBytes: 8, ppnMask: (1 << 44) - 1}
)

// Internal page-table-walk failure taxonomy. Always converted to an
// architectural exception before leaving the translator.
type ptwFault int

const (
	ptwAccess ptwFault = iota
	ptwInvalidPTE
	ptwNoPermission
	ptwMisaligned
	ptwNoMapping
	ptwPTEUpdate
)

func (f ptwFault) String() string {
	switch f {
	case ptwAccess:
		return "PTW_Access"
	case ptwInvalidPTE:
		return "PTW_Invalid_PTE"
	case ptwNoPermission:
		return "PTW_No_Permission"
	case ptwMisaligned:
		return "PTW_Misaligned"
	case ptwNoMapping:
		return "PTW_No_Mapping"
	case ptwPTEUpdate:
		return "PTW_PTE_Update"
	}
	return fmt.Sprintf("ptwFault(%d)", int(f))
}

// faultException maps a walk failure to the architectural exception for
// the access kind. A PTW access failure is an access fault; everything
// else is a page fault.
func faultException(f ptwFault, kind AccessKind, vaddr uint64) error {
	if f == ptwAccess {
		switch kind {
		case AccessRead:
			return Exception(CauseLoadAccessFault, vaddr)
		case AccessWrite, AccessReadWrite:
			return Exception(CauseStoreAccessFault, vaddr)
		default:
			return Exception(CauseInsnAccessFault, vaddr)
		}
	}
	switch kind {
	case AccessRead:
		return Exception(CauseLoadPageFault, vaddr)
	case AccessWrite, AccessReadWrite:
		return Exception(CauseStorePageFault, vaddr)
	default:
		return Exception(CauseInsnPageFault, vaddr)
	}
}

// satp layout helpers. RV32 satp holds a 1-bit mode, 9-bit ASID and 22-bit
// PPN; RV64 holds a 4-bit mode, 16-bit ASID and 44-bit PPN.
const (
	satpModeOff64 = 0
	satpModeSv39  = 8
	satpModeSv32  = 1
)

func (h *Hart) satpMode() (transMode, error) {
	if h.Xlen == 32 {
		if h.S.Satp>>31 == satpModeSv32 {
			return modeSv32, nil
		}
		return modeBare, nil
	}
	switch h.S.Satp >> 60 {
	case satpModeOff64:
		return modeBare, nil
	case satpModeSv39:
		return modeSv39, nil
	default:
		// Legalization rejects every other encoding; reaching one
		// means the simulator state is corrupt.
		return modeBare, fmt.Errorf("satp holds unsupported mode %d", h.S.Satp>>60)
	}
}

func (h *Hart) satpASID() uint16 {
	if h.Xlen == 32 {
		return uint16((h.S.Satp >> 22) & 0x1ff)
	}
	return uint16((h.S.Satp >> 44) & 0xffff)
}

func (h *Hart) satpPPN() uint64 {
	if h.Xlen == 32 {
		return h.S.Satp & ((1 << 22) - 1)
	}
	return h.S.Satp & ((1 << 44) - 1)
}

// legalizeSatp applies WARL discipline to a satp write: a mode field that
// does not name a supported scheme for the active base width rejects the
// whole write, retaining the old value.
func (h *Hart) legalizeSatp(cur, written uint64) uint64 {
	if h.Xlen == 32 {
		// Both mode encodings (bare, Sv32) are valid.
		return written & (1<<31 | 0x1ff<<22 | (1<<22 - 1))
	}
	mode := written >> 60
	if mode != satpModeOff64 && mode != satpModeSv39 {
		return cur
	}
	return written & (0xf<<60 | 0xffff<<44 | (1<<44 - 1))
}

// effPriv computes the privilege the permission check runs at: the current
// privilege, except that data accesses under mstatus.MPRV use the
// privilege recorded in MPP.
func (h *Hart) effPriv(kind AccessKind) Priv {
	if kind != AccessExec && h.M.Mstatus&MstatusMPRV != 0 {
		return Priv((h.M.Mstatus & MstatusMPP) >> mstatusMPPShift)
	}
	return h.Priv
}

// tlbFor returns the TLB owned by the given translation mode.
func (h *Hart) tlbFor(mode transMode) *TLB {
	if mode == modeSv32 {
		return h.TLB32
	}
	return h.TLB39
}

// Translate converts a virtual address to a physical address, or fails
// with the architectural exception for the access kind. Machine-mode
// accesses never translate.
func (h *Hart) Translate(vaddr uint64, kind AccessKind) (uint64, error) {
	vaddr = h.maskAddr(vaddr)
	priv := h.effPriv(kind)
	if priv == PrivMachine {
		return vaddr, nil
	}

	mode, err := h.satpMode()
	if err != nil {
		return 0, err
	}
	if mode == modeBare {
		return vaddr, nil
	}

	scheme := sv32Scheme
	if mode == modeSv39 {
		scheme = sv39Scheme
		// Sv39 virtual addresses must be the sign extension of bit 38.
		top := vaddr >> 38
		if top != 0 && top != (1<<26)-1 {
			return 0, faultException(ptwNoMapping, kind, vaddr)
		}
	}

	tlb := h.tlbFor(mode)
	asid := h.satpASID()
	vpn := vaddr >> pageShift

	if e := tlb.Lookup(asid, vpn); e != nil {
		if f := h.checkPTEPermission(e.PTE, kind, priv); f != nil {
			return 0, faultException(*f, kind, vaddr)
		}
		pte, f := h.updateAD(e.PTE, e.PTEAddr, kind)
		if f != nil {
			return 0, faultException(*f, kind, vaddr)
		}
		e.PTE = pte
		ppn := e.PPN | (vpn &^ e.Mask)
		return ppn<<pageShift | vaddr&(PageSize-1), nil
	}

	entry, f := h.walk(scheme, vaddr, kind, priv)
	if f != nil {
		return 0, faultException(*f, kind, vaddr)
	}
	entry.ASID = asid
	entry.Age = h.M.Mcycle
	tlb.Insert(entry)

	ppn := entry.PPN | (vpn &^ entry.Mask)
	return ppn<<pageShift | vaddr&(PageSize-1), nil
}

// walk runs the multi-level page-table walk for one scheme, recursing by
// decreasing level from the satp root. The Global bit accumulates across
// pointer entries by OR.
func (h *Hart) walk(s walkScheme, vaddr uint64, kind AccessKind, priv Priv) (TLBEntry, *ptwFault) {
	return h.walkLevel(s, vaddr, kind, priv, s.levels-1, h.satpPPN()<<pageShift, false)
}

func (h *Hart) walkLevel(s walkScheme, vaddr uint64, kind AccessKind, priv Priv, level int, tableBase uint64, global bool) (TLBEntry, *ptwFault) {
	vpnMask := uint64(1)<<s.vpnBits - 1
	idx := (vaddr >> (pageShift + uint(level)*s.vpnBits)) & vpnMask
	pteAddr := tableBase + idx*s.pteBytes

	raw, err := h.mem.Read(pteAddr, int(s.pteBytes))
	if err != nil {
		return TLBEntry{}, fp(ptwAccess)
	}
	pte := raw
	global = global || pte&PteG != 0

	if pte&PteV == 0 || (pte&PteW != 0 && pte&PteR == 0) {
		return TLBEntry{}, fp(ptwInvalidPTE)
	}

	if pte&(PteR|PteX) == 0 {
		// Pointer to the next level; it cannot terminate the walk.
		if level == 0 {
			return TLBEntry{}, fp(ptwInvalidPTE)
		}
		next := ((pte >> 10) & s.ppnMask) << pageShift
		return h.walkLevel(s, vaddr, kind, priv, level-1, next, global)
	}

	// Leaf entry.
	if f := h.checkPTEPermission(pte, kind, priv); f != nil {
		return TLBEntry{}, f
	}

	leafPPN := (pte >> 10) & s.ppnMask
	skipped := uint64(1)<<(uint(level)*s.vpnBits) - 1
	if level > 0 && leafPPN&skipped != 0 {
		return TLBEntry{}, fp(ptwMisaligned)
	}

	pte, f := h.updateAD(pte, pteAddr, kind)
	if f != nil {
		return TLBEntry{}, f
	}

	vpn := vaddr >> pageShift
	mask := ^skipped
	return TLBEntry{
		Global:  global || pte&PteG != 0,
		VPN:     vpn & mask,
		Mask:    mask,
		PPN:     leafPPN,
		PTE:     pte,
		PTEAddr: pteAddr,
	}, nil
}

// checkPTEPermission validates the requested access against the leaf
// permission bits under the effective privilege, honoring SUM and MXR.
func (h *Hart) checkPTEPermission(pte uint64, kind AccessKind, priv Priv) *ptwFault {
	if priv == PrivUser {
		if pte&PteU == 0 {
			return fp(ptwNoPermission)
		}
	} else {
		// Supervisor touching a user page requires SUM, and never for
		// instruction fetch.
		if pte&PteU != 0 {
			if kind == AccessExec || h.M.Mstatus&MstatusSUM == 0 {
				return fp(ptwNoPermission)
			}
		}
	}

	readable := pte&PteR != 0 ||
		(h.M.Mstatus&MstatusMXR != 0 && pte&PteX != 0)

	switch kind {
	case AccessRead:
		if !readable {
			return fp(ptwNoPermission)
		}
	case AccessWrite:
		if pte&PteW == 0 {
			return fp(ptwNoPermission)
		}
	case AccessReadWrite:
		if !readable || pte&PteW == 0 {
			return fp(ptwNoPermission)
		}
	case AccessExec:
		if pte&PteX == 0 {
			return fp(ptwNoPermission)
		}
	}
	return nil
}

// updateAD applies the Accessed/Dirty policy: patch the PTE in place when
// in-place updates are enabled, otherwise fail the walk so software can
// maintain the bits.
func (h *Hart) updateAD(pte, pteAddr uint64, kind AccessKind) (uint64, *ptwFault) {
	needsA := pte&PteA == 0
	needsD := (kind == AccessWrite || kind == AccessReadWrite) && pte&PteD == 0
	if !needsA && !needsD {
		return pte, nil
	}
	if !h.DirtyUpdate {
		return pte, fp(ptwPTEUpdate)
	}
	pte |= PteA
	if needsD {
		pte |= PteD
	}
	size := 8
	if h.Xlen == 32 {
		size = 4
	}
	if err := h.mem.Write(pteAddr, size, pte); err != nil {
		return pte, fp(ptwAccess)
	}
	return pte, nil
}

func fp(f ptwFault) *ptwFault { return &f }
