package hart

// TLBEntry caches one successful page-table walk. The PTE and its physical
// address are kept so permission checks and dirty-bit write-back work
// without re-walking. Mask narrows VPN comparison for superpages.
type TLBEntry struct {
	ASID    uint16
	Global  bool
	VPN     uint64 // pre-masked virtual page number
	Mask    uint64 // VPN bits the entry resolves
	PPN     uint64
	PTE     uint64
	PTEAddr uint64
	Age     uint64 // walk timestamp, not access time
}

// TLB is a fixed-capacity translation cache. Replacement evicts the entry
// with the smallest age, i.e. least-recently-created: the stamp comes from
// the walk, not from lookups.
type TLB struct {
	slots []TLBEntry
	used  []bool
}

// NewTLB creates an empty TLB with the given capacity.
func NewTLB(capacity int) *TLB {
	return &TLB{
		slots: make([]TLBEntry, capacity),
		used:  make([]bool, capacity),
	}
}

// Reset drops every entry.
func (t *TLB) Reset() {
	for i := range t.used {
		t.used[i] = false
	}
}

// Lookup finds the entry matching the probe VPN under the given ASID.
// Global entries match any ASID; superpage entries compare only the bits
// their mask resolves. When several entries match, the most recently
// inserted one wins.
func (t *TLB) Lookup(asid uint16, vpn uint64) *TLBEntry {
	var best *TLBEntry
	for i := range t.slots {
		if !t.used[i] {
			continue
		}
		e := &t.slots[i]
		if !e.Global && e.ASID != asid {
			continue
		}
		if vpn&e.Mask != e.VPN {
			continue
		}
		if best == nil || e.Age > best.Age {
			best = e
		}
	}
	return best
}

// Insert stores an entry, filling a free slot if one exists and otherwise
// evicting the oldest entry by age.
func (t *TLB) Insert(e TLBEntry) {
	victim := 0
	for i := range t.slots {
		if !t.used[i] {
			t.slots[i] = e
			t.used[i] = true
			return
		}
		if t.slots[i].Age < t.slots[victim].Age {
			victim = i
		}
	}
	t.slots[victim] = e
}

// Invalidate implements SFENCE.VMA semantics. With neither filter, every
// entry goes. An address filter alone matches the masked VPN (global
// entries included). An ASID filter never flushes global entries.
func (t *TLB) Invalidate(asid *uint16, vaddr *uint64) {
	for i := range t.slots {
		if !t.used[i] {
			continue
		}
		e := &t.slots[i]
		if asid != nil {
			if e.Global || e.ASID != *asid {
				continue
			}
		}
		if vaddr != nil {
			if (*vaddr>>pageShift)&e.Mask != e.VPN {
				continue
			}
		}
		t.used[i] = false
	}
}

// Len reports the number of live entries.
func (t *TLB) Len() int {
	n := 0
	for _, u := range t.used {
		if u {
			n++
		}
	}
	return n
}
