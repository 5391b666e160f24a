/*
   vmcore - Software MMU: page tables, permissions, translation.

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

// Package mmu implements the guest software MMU: a paged physical memory
// image, per-address-space page tables, and the multi-level TLB that
// backs every guest memory reference the interpreter and the JIT make.
//
// Translation mirrors the DAT (dynamic address translation) walk the
// S/370 CPU core performs inline in cpu.go's transAddr: a cheap TLB probe
// first, a table walk on miss that installs into an LRU-chosen slot, and a
// shootdown epoch guarding installs and removals.
package mmu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Access describes the kind of memory reference being translated. TLB
// entries are keyed by ASID and virtual page only; Translate rechecks the
// cached permissions against the access on every hit, so an entry
// installed by a read never satisfies a write by itself.
type Access uint8

const (
	AccessRead Access = 1 << iota
	AccessWrite
	AccessExecute
)

func (a Access) String() string {
	s := ""
	if a&AccessRead != 0 {
		s += "R"
	}
	if a&AccessWrite != 0 {
		s += "W"
	}
	if a&AccessExecute != 0 {
		s += "X"
	}
	if s == "" {
		return "-"
	}
	return s
}

// Perm is the permission bit set of a page-table entry. Invariant:
// Writable implies Readable.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExecute
	PermUser
)

// Allows reports whether perm satisfies every bit access requests.
func (p Perm) Allows(a Access) bool {
	if a&AccessRead != 0 && p&PermRead == 0 {
		return false
	}
	if a&AccessWrite != 0 && p&PermWrite == 0 {
		return false
	}
	if a&AccessExecute != 0 && p&PermExecute == 0 {
		return false
	}
	return true
}

// FaultKind enumerates the guest faults translate() can surface.
type FaultKind uint8

const (
	FaultNone FaultKind = iota
	FaultPage
	FaultPermission
	FaultStraddle
	FaultWriteToCodePage
)

// Fault is a guest memory fault: recoverable by the driver, never a
// Go error in the fatal-invariant-violation sense.
type Fault struct {
	Kind       FaultKind
	VA         uint64
	Access     Access
	PageBase   uint64 // physical page, valid for FaultWriteToCodePage
}

func (f *Fault) Error() string {
	return fmt.Sprintf("mmu: %v fault at %#x (%v)", f.Kind, f.VA, f.Access)
}

func (k FaultKind) String() string {
	switch k {
	case FaultPage:
		return "PageFault"
	case FaultPermission:
		return "PermissionFault"
	case FaultStraddle:
		return "StraddlingAccess"
	case FaultWriteToCodePage:
		return "WriteToCodePage"
	default:
		return "NoFault"
	}
}

// ErrOutOfFrames is a resource error: the physical memory image has no
// frame left to satisfy install_mapping.
var ErrOutOfFrames = errors.New("mmu: out of physical frames")

const (
	// PageShift/PageSize fix a 4KiB guest page.
	PageShift = 12
	PageSize  = 1 << PageShift
)

// pte is a page-table entry: physical frame number plus permission bits.
// Invariant: a page marked CodeResident is temporarily write-protected
// regardless of its configured Perm (enforced in translate, not stored
// redundantly in Perm).
type pte struct {
	frame        uint64
	perm         Perm
	present      bool
	codeResident int32 // number of live translations depending on this page
}

// MMU is the address-space-scoped software MMU: one page table plus the
// per-vCPU multi-level TLB shards that read it. A single MMU instance is
// shared by every vCPU in an address space; the page table itself is
// guarded by tableMu, the writer lock in the lock ordering page-table,
// cache, pool.
type MMU struct {
	tableMu sync.RWMutex
	tables  map[ASIDKey]map[uint64]*pte // ASID -> virtual page -> pte

	frames    []byte // backing physical memory, PageSize-aligned frames
	numFrames uint64
	freeList  []uint64

	epoch atomic.Uint64

	tlbsMu sync.Mutex
	tlbs   map[uint32]*TLB // per-vCPU TLB shards, keyed by vCPU id

	l1Entries int
	l2Entries int

	strictAlignment bool

	log *slog.Logger
}

// ASIDKey is the map key type for address-space identifiers.
type ASIDKey uint16

// Config carries the MMU sizing knobs.
type Config struct {
	PhysicalBytes   uint64
	TLBL1Entries    int // default 32
	TLBL2Entries    int // default 2048
	StrictAlignment bool
}

// New allocates an MMU with the given physical memory size and TLB
// capacities.
func New(cfg Config, log *slog.Logger) *MMU {
	if cfg.TLBL1Entries <= 0 {
		cfg.TLBL1Entries = 32
	}
	if cfg.TLBL2Entries <= 0 {
		cfg.TLBL2Entries = 2048
	}
	if log == nil {
		log = slog.Default()
	}
	numFrames := cfg.PhysicalBytes / PageSize
	m := &MMU{
		tables:          make(map[ASIDKey]map[uint64]*pte),
		frames:          make([]byte, numFrames*PageSize),
		numFrames:       numFrames,
		tlbs:            make(map[uint32]*TLB),
		l1Entries:       cfg.TLBL1Entries,
		l2Entries:       cfg.TLBL2Entries,
		strictAlignment: cfg.StrictAlignment,
		log:             log,
	}
	m.freeList = make([]uint64, numFrames)
	for i := range m.freeList {
		m.freeList[i] = uint64(i)
	}
	return m
}

// Epoch returns the current shootdown epoch.
func (m *MMU) Epoch() uint64 { return m.epoch.Load() }

// TLBFor returns (creating if necessary) the per-vCPU TLB shard for id.
// TLBs are sharded per vCPU: lookups never contend with other vCPUs,
// only the backing page table does.
func (m *MMU) TLBFor(id uint32) *TLB {
	m.tlbsMu.Lock()
	defer m.tlbsMu.Unlock()
	t, ok := m.tlbs[id]
	if !ok {
		t = newTLB(m.l1Entries, m.l2Entries)
		m.tlbs[id] = t
	}
	return t
}

// AllocFrame reserves a free physical frame and returns its base address.
func (m *MMU) AllocFrame() (uint64, error) {
	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	if len(m.freeList) == 0 {
		return 0, ErrOutOfFrames
	}
	n := len(m.freeList) - 1
	frame := m.freeList[n]
	m.freeList = m.freeList[:n]
	return frame * PageSize, nil
}

// InstallMapping installs a virtual->physical mapping in asid's page table
// and publishes a shootdown: any vCPU may not observe the old mapping
// after it passes a quiescent point (an epoch boundary, see TLB.Refresh).
func (m *MMU) InstallMapping(asid ASIDKey, va, pa uint64, perm Perm) {
	vpage := va &^ (PageSize - 1)
	ppage := pa &^ (PageSize - 1)

	m.tableMu.Lock()
	tbl, ok := m.tables[asid]
	if !ok {
		tbl = make(map[uint64]*pte)
		m.tables[asid] = tbl
	}
	tbl[vpage] = &pte{frame: ppage / PageSize, perm: perm, present: true}
	m.tableMu.Unlock()

	m.epoch.Add(1)
	m.log.Debug("mmu: mapping installed", "asid", asid, "va", fmt.Sprintf("%#x", vpage), "pa", fmt.Sprintf("%#x", ppage), "perm", perm)
}

// RemoveMapping removes the mapping for va in asid and publishes a
// shootdown.
func (m *MMU) RemoveMapping(asid ASIDKey, va uint64) {
	vpage := va &^ (PageSize - 1)

	m.tableMu.Lock()
	if tbl, ok := m.tables[asid]; ok {
		delete(tbl, vpage)
	}
	m.tableMu.Unlock()

	m.epoch.Add(1)
}

// ProtectCodePage arms write-fault invalidation for the page backing pa:
// called by the code cache when a page first backs a cached translation.
// While protected, guest writes to the page fault as WriteToCodePage.
func (m *MMU) ProtectCodePage(asid ASIDKey, pa uint64) {
	ppage := pa &^ (PageSize - 1)
	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	for _, tbl := range m.tables {
		for _, e := range tbl {
			if e.frame == ppage/PageSize {
				atomic.AddInt32(&e.codeResident, 1)
			}
		}
	}
	// Publish a shootdown so no TLB keeps an entry cached before the
	// page became code-resident.
	m.epoch.Add(1)
}

// UnprotectCodePage is called when the last translation depending on pa is
// retired; once the code-resident count reaches zero, guest writes to the
// page are no longer intercepted.
func (m *MMU) UnprotectCodePage(asid ASIDKey, pa uint64) {
	ppage := pa &^ (PageSize - 1)
	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	for _, tbl := range m.tables {
		for _, e := range tbl {
			if e.frame == ppage/PageSize && e.codeResident > 0 {
				atomic.AddInt32(&e.codeResident, -1)
			}
		}
	}
}

// PhysPage returns the physical page backing va in asid, consulting the
// TLB the same way Translate does but without slicing out guest bytes.
// Used by the decoder to record which physical pages a block's code
// occupies (ir.Block.Pages), so the code cache can register them for
// write-fault protection.
func (m *MMU) PhysPage(vcpu uint32, asid ASIDKey, va uint64) (uint64, bool) {
	vpage := va &^ (PageSize - 1)
	tlb := m.TLBFor(vcpu)
	if entry, ok := tlb.Lookup(m, asid, vpage, AccessExecute); ok {
		return entry.Phys, true
	}
	e, ok := m.lookupPTE(asid, vpage)
	if !ok {
		return 0, false
	}
	return e.frame * PageSize, true
}

func (m *MMU) lookupPTE(asid ASIDKey, vpage uint64) (*pte, bool) {
	m.tableMu.RLock()
	defer m.tableMu.RUnlock()
	tbl, ok := m.tables[asid]
	if !ok {
		return nil, false
	}
	e, ok := tbl[vpage]
	return e, ok
}

// Translate resolves (va, access, len) to a single host byte slice,
// consulting the per-vCPU TLB first and walking the page table on miss.
// Translate never crosses a page boundary itself — a straddling access
// always surfaces FaultStraddle here, because a single []byte cannot
// alias two independently allocated frames. ReadBytes and WriteBytes are
// the caller-facing entry points that transparently retry a straddle as
// two aligned sub-accesses when strictAlignment is false; Translate is
// their single-page primitive. An absent mapping returns FaultPage; an
// insufficient-permission mapping returns FaultPermission naming the
// offending access.
func (m *MMU) Translate(vcpu uint32, asid ASIDKey, va uint64, access Access, length int) ([]byte, *Fault) {
	vpage := va &^ (PageSize - 1)
	offset := va & (PageSize - 1)

	if offset+uint64(length) > PageSize {
		return nil, &Fault{Kind: FaultStraddle, VA: va, Access: access}
	}

	tlb := m.TLBFor(vcpu)
	if entry, ok := tlb.Lookup(m, asid, vpage, access); ok {
		if !entry.Perm.Allows(access) {
			return nil, &Fault{Kind: FaultPermission, VA: va, Access: access}
		}
		if access&AccessWrite != 0 && entry.CodeResident {
			return nil, &Fault{Kind: FaultWriteToCodePage, VA: va, Access: access, PageBase: entry.Phys}
		}
		start := entry.Phys + offset
		return m.frames[start : start+uint64(length)], nil
	}

	e, ok := m.lookupPTE(asid, vpage)
	if !ok {
		return nil, &Fault{Kind: FaultPage, VA: va, Access: access}
	}
	phys := e.frame * PageSize
	tlb.Install(asid, vpage, phys, e.perm, atomic.LoadInt32(&e.codeResident) > 0, m.epoch.Load())

	if !e.perm.Allows(access) {
		return nil, &Fault{Kind: FaultPermission, VA: va, Access: access}
	}
	if access&AccessWrite != 0 && atomic.LoadInt32(&e.codeResident) > 0 {
		return nil, &Fault{Kind: FaultWriteToCodePage, VA: va, Access: access, PageBase: phys}
	}
	start := phys + offset
	return m.frames[start : start+uint64(length)], nil
}

// ReadBytes resolves length bytes at va for a read. A page-straddling
// access is a hard FaultStraddle when strictAlignment is true; otherwise
// it is split into two aligned Translate calls and the results are
// copied into one freshly allocated buffer.
func (m *MMU) ReadBytes(vcpu uint32, asid ASIDKey, va uint64, length int) ([]byte, *Fault) {
	offset := va & (PageSize - 1)
	if offset+uint64(length) <= PageSize || m.strictAlignment {
		return m.Translate(vcpu, asid, va, AccessRead, length)
	}

	firstLen := int(PageSize - offset)
	first, fault := m.Translate(vcpu, asid, va, AccessRead, firstLen)
	if fault != nil {
		return nil, fault
	}
	vpage := va &^ (PageSize - 1)
	second, fault := m.Translate(vcpu, asid, vpage+PageSize, AccessRead, length-firstLen)
	if fault != nil {
		return nil, fault
	}
	buf := make([]byte, length)
	copy(buf, first)
	copy(buf[firstLen:], second)
	return buf, nil
}

// WriteBytes writes data to va. A page-straddling access is a hard
// FaultStraddle when strictAlignment is true; otherwise it is split into
// two aligned Translate calls, each given the matching slice of data, so
// both halves land in their own backing frame.
func (m *MMU) WriteBytes(vcpu uint32, asid ASIDKey, va uint64, data []byte) *Fault {
	offset := va & (PageSize - 1)
	length := len(data)
	if offset+uint64(length) <= PageSize || m.strictAlignment {
		dst, fault := m.Translate(vcpu, asid, va, AccessWrite, length)
		if fault != nil {
			return fault
		}
		copy(dst, data)
		return nil
	}

	firstLen := int(PageSize - offset)
	first, fault := m.Translate(vcpu, asid, va, AccessWrite, firstLen)
	if fault != nil {
		return fault
	}
	vpage := va &^ (PageSize - 1)
	second, fault := m.Translate(vcpu, asid, vpage+PageSize, AccessWrite, length-firstLen)
	if fault != nil {
		return fault
	}
	copy(first, data[:firstLen])
	copy(second, data[firstLen:])
	return nil
}

// PhysBytes returns the raw frame bytes backing a physical page, used by
// the code-cache collector and JIT when reading guest code bytes directly
// (bypassing TLB/permission checks, which only gate guest-visible access).
func (m *MMU) PhysBytes(pa uint64, length int) []byte {
	return m.frames[pa : pa+uint64(length)]
}
