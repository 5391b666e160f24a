/*
   vmcore - Multi-level TLB.

   Copyright (c) 2024, Richard Cornwell

   Permission is hereby granted, free of charge, to any person obtaining a
   copy of this software and associated documentation files (the "Software"),
   to deal in the Software without restriction, including without limitation
   the rights to use, copy, modify, merge, publish, distribute, sublicense,
   and/or sell copies of the Software, and to permit persons to whom the
   Software is furnished to do so, subject to the following conditions:

   The above copyright notice and this permission notice shall be included in
   all copies or substantial portions of the Software.

   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
   RICHARD CORNWELL BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
   IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
   CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

*/

package mmu

// tlbEntry is one (virtual-page, ASID) -> (physical-page,
// permissions, code-resident) mapping, unpacked into a struct rather
// than a single packed word, and widened to carry a code-resident bit.
type tlbEntry struct {
	valid        bool
	vpage        uint64
	asid         ASIDKey
	Phys         uint64
	Perm         Perm
	CodeResident bool
	lastUse      uint64 // LRU clock
}

// TLB is a per-vCPU shard: a small fully-associative L1 and a larger
// set-associative L2, each with their own LRU replacement. TLB is a
// subset of the active page table: any entry here must agree with a
// lookup of the same key in the backing table as of some epoch no
// older than localEpoch.
type TLB struct {
	l1 []tlbEntry // fully associative

	l2        []tlbEntry // flat array, set-associative via index%numSets
	l2Sets    int
	l2Ways    int

	clock       uint64
	localEpoch  uint64
}

const l2WaysPerSet = 8

func newTLB(l1Entries, l2Entries int) *TLB {
	sets := l2Entries / l2WaysPerSet
	if sets < 1 {
		sets = 1
	}
	return &TLB{
		l1:     make([]tlbEntry, l1Entries),
		l2:     make([]tlbEntry, sets*l2WaysPerSet),
		l2Sets: sets,
		l2Ways: l2WaysPerSet,
	}
}

// Refresh observes the MMU's current epoch. A reader must call this (or
// have Lookup call it implicitly) before its next translation; if the
// epoch has advanced, locally cached entries from before are invalidated
// wholesale: any write to a page table publishes an epoch that
// invalidates stale entries before any guest op observes the new mapping.
func (t *TLB) Refresh(globalEpoch uint64) {
	if globalEpoch == t.localEpoch {
		return
	}
	for i := range t.l1 {
		t.l1[i].valid = false
	}
	for i := range t.l2 {
		t.l2[i].valid = false
	}
	t.localEpoch = globalEpoch
}

// Lookup probes L1 then L2 for (asid, vpage). On an L1 hit the entry is
// promoted to most-recently-used; on an L2 hit it is additionally
// installed into L1 (the common "L2 fills L1" policy). Lookup itself
// never walks the page table — that is MMU.Translate's job on a full miss.
func (t *TLB) Lookup(m *MMU, asid ASIDKey, vpage uint64, access Access) (tlbEntry, bool) {
	t.Refresh(m.epoch.Load())
	t.clock++

	for i := range t.l1 {
		e := &t.l1[i]
		if e.valid && e.asid == asid && e.vpage == vpage {
			e.lastUse = t.clock
			return *e, true
		}
	}

	set := (vpage / PageSize) % uint64(t.l2Sets)
	base := int(set) * t.l2Ways
	for i := base; i < base+t.l2Ways; i++ {
		e := &t.l2[i]
		if e.valid && e.asid == asid && e.vpage == vpage {
			e.lastUse = t.clock
			t.installL1(*e)
			return *e, true
		}
	}

	return tlbEntry{}, false
}

// Install records a freshly-walked translation into both TLB levels,
// after MMU.Translate has finished the walk. No slot is reserved in
// advance: each level is a fixed-size array whose LRU policy always
// yields a victim.
func (t *TLB) Install(asid ASIDKey, vpage, phys uint64, perm Perm, codeResident bool, epoch uint64) {
	t.Refresh(epoch)
	t.clock++
	e := tlbEntry{valid: true, vpage: vpage, asid: asid, Phys: phys, Perm: perm, CodeResident: codeResident, lastUse: t.clock}
	t.installL1(e)
	t.installL2(e)
}

func (t *TLB) installL1(e tlbEntry) {
	victim := 0
	var oldest uint64 = ^uint64(0)
	for i := range t.l1 {
		if !t.l1[i].valid {
			victim = i
			break
		}
		if t.l1[i].lastUse < oldest {
			oldest = t.l1[i].lastUse
			victim = i
		}
	}
	t.l1[victim] = e
}

func (t *TLB) installL2(e tlbEntry) {
	set := (e.vpage / PageSize) % uint64(t.l2Sets)
	base := int(set) * t.l2Ways
	victim := base
	var oldest uint64 = ^uint64(0)
	for i := base; i < base+t.l2Ways; i++ {
		if !t.l2[i].valid {
			victim = i
			break
		}
		if t.l2[i].lastUse < oldest {
			oldest = t.l2[i].lastUse
			victim = i
		}
	}
	t.l2[victim] = e
}

// InvalidatePage drops any TLB entry for vpage across both levels,
// regardless of ASID — used when a code page is unprotected/reused.
func (t *TLB) InvalidatePage(vpage uint64) {
	for i := range t.l1 {
		if t.l1[i].valid && t.l1[i].vpage == vpage {
			t.l1[i].valid = false
		}
	}
	for i := range t.l2 {
		if t.l2[i].valid && t.l2[i].vpage == vpage {
			t.l2[i].valid = false
		}
	}
}
