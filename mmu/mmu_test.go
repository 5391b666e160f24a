/*
   vmcore - software MMU tests.

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

import (
	"log/slog"
	"testing"
)

func testMMU(t *testing.T) *MMU {
	t.Helper()
	return New(Config{PhysicalBytes: 64 * PageSize, TLBL1Entries: 4, TLBL2Entries: 16}, slog.Default())
}

func TestInstallAndTranslate(t *testing.T) {
	m := testMMU(t)
	pa, err := m.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}
	m.InstallMapping(0, 0x2000, pa, PermRead|PermWrite)

	slice, fault := m.Translate(0, 0, 0x2000, AccessRead, 4)
	if fault != nil {
		t.Fatalf("unexpected fault: %v", fault)
	}
	if len(slice) != 4 {
		t.Fatalf("slice len = %d, want 4", len(slice))
	}
}

func TestTranslateUnmappedIsPageFault(t *testing.T) {
	m := testMMU(t)
	_, fault := m.Translate(0, 0, 0x9000, AccessRead, 4)
	if fault == nil || fault.Kind != FaultPage {
		t.Fatalf("fault = %v, want FaultPage", fault)
	}
}

func TestTranslatePermissionFault(t *testing.T) {
	m := testMMU(t)
	pa, _ := m.AllocFrame()
	m.InstallMapping(0, 0x3000, pa, PermRead)

	_, fault := m.Translate(0, 0, 0x3000, AccessWrite, 4)
	if fault == nil || fault.Kind != FaultPermission {
		t.Fatalf("fault = %v, want FaultPermission", fault)
	}
}

func TestTranslateStraddleFault(t *testing.T) {
	m := testMMU(t)
	pa, _ := m.AllocFrame()
	m.InstallMapping(0, 0x0000, pa, PermRead)

	_, fault := m.Translate(0, 0, PageSize-2, AccessRead, 4)
	if fault == nil || fault.Kind != FaultStraddle {
		t.Fatalf("fault = %v, want FaultStraddle", fault)
	}
}

func TestReadWriteBytesSplitAcrossPageBoundary(t *testing.T) {
	m := testMMU(t)
	pa0, _ := m.AllocFrame()
	pa1, _ := m.AllocFrame()
	m.InstallMapping(0, 0x0000, pa0, PermRead|PermWrite)
	m.InstallMapping(0, PageSize, pa1, PermRead|PermWrite)

	va := uint64(PageSize - 2)
	want := []byte{0x11, 0x22, 0x33, 0x44}
	if fault := m.WriteBytes(0, 0, va, want); fault != nil {
		t.Fatalf("unexpected fault on straddling write: %v", fault)
	}

	got, fault := m.ReadBytes(0, 0, va, 4)
	if fault != nil {
		t.Fatalf("unexpected fault on straddling read: %v", fault)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}

	// The first two bytes landed on pa0's last two bytes, the last two on
	// pa1's first two bytes.
	if tail := m.PhysBytes(pa0, int(PageSize))[PageSize-2:]; tail[0] != 0x11 || tail[1] != 0x22 {
		t.Fatalf("pa0 tail = %v, want [0x11 0x22]", tail)
	}
	if head := m.PhysBytes(pa1, 2); head[0] != 0x33 || head[1] != 0x44 {
		t.Fatalf("pa1 head = %v, want [0x33 0x44]", head)
	}
}

func TestReadWriteBytesStraddleFaultsUnderStrictAlignment(t *testing.T) {
	m := New(Config{PhysicalBytes: 64 * PageSize, TLBL1Entries: 4, TLBL2Entries: 16, StrictAlignment: true}, slog.Default())
	pa0, _ := m.AllocFrame()
	pa1, _ := m.AllocFrame()
	m.InstallMapping(0, 0x0000, pa0, PermRead|PermWrite)
	m.InstallMapping(0, PageSize, pa1, PermRead|PermWrite)

	va := uint64(PageSize - 2)
	if _, fault := m.ReadBytes(0, 0, va, 4); fault == nil || fault.Kind != FaultStraddle {
		t.Fatalf("fault = %v, want FaultStraddle", fault)
	}
	if fault := m.WriteBytes(0, 0, va, []byte{1, 2, 3, 4}); fault == nil || fault.Kind != FaultStraddle {
		t.Fatalf("fault = %v, want FaultStraddle", fault)
	}
}

func TestPhysPage(t *testing.T) {
	m := testMMU(t)
	pa, _ := m.AllocFrame()
	m.InstallMapping(0, 0x6000, pa, PermRead)

	got, ok := m.PhysPage(0, 0, 0x6000+0x10)
	if !ok {
		t.Fatal("expected mapped translation")
	}
	if got&^(PageSize-1) != uint64(pa) {
		t.Fatalf("physPage = %#x, want page base %#x", got, pa)
	}

	if _, ok := m.PhysPage(0, 0, 0x7000); ok {
		t.Fatal("expected unmapped va to report not-ok")
	}
}

func TestRemoveMappingThenPageFault(t *testing.T) {
	m := testMMU(t)
	pa, _ := m.AllocFrame()
	m.InstallMapping(0, 0x4000, pa, PermRead)
	if _, fault := m.Translate(0, 0, 0x4000, AccessRead, 4); fault != nil {
		t.Fatalf("unexpected fault before removal: %v", fault)
	}

	m.RemoveMapping(0, 0x4000)
	_, fault := m.Translate(0, 0, 0x4000, AccessRead, 4)
	if fault == nil || fault.Kind != FaultPage {
		t.Fatalf("fault after removal = %v, want FaultPage", fault)
	}
}

func TestCodeResidentWriteFaults(t *testing.T) {
	m := testMMU(t)
	pa, _ := m.AllocFrame()
	m.InstallMapping(0, 0x5000, pa, PermRead|PermWrite)
	m.ProtectCodePage(0, pa)

	_, fault := m.Translate(0, 0, 0x5000, AccessWrite, 4)
	if fault == nil || fault.Kind != FaultWriteToCodePage {
		t.Fatalf("fault = %v, want FaultWriteToCodePage", fault)
	}

	m.UnprotectCodePage(0, pa)
	m.TLBFor(0).InvalidatePage(0x5000)
	if _, fault := m.Translate(0, 0, 0x5000, AccessWrite, 4); fault != nil {
		t.Fatalf("unexpected fault after unprotect: %v", fault)
	}
}

func TestTLBShootdownEpoch(t *testing.T) {
	m := testMMU(t)
	pa1, _ := m.AllocFrame()
	m.InstallMapping(0, 0x2000, pa1, PermRead)
	slice1, _ := m.Translate(0, 0, 0x2000, AccessRead, 1)
	slice1[0] = 0xAB

	pa2, _ := m.AllocFrame()
	m.InstallMapping(0, 0x2000, pa2, PermRead)

	slice2, fault := m.Translate(0, 0, 0x2000, AccessRead, 1)
	if fault != nil {
		t.Fatal(fault)
	}
	if &slice1[0] == &slice2[0] {
		t.Fatal("translate after remap should read from new frame")
	}
}

func TestTLBL1CapacityEviction(t *testing.T) {
	m := testMMU(t)
	for i := 0; i < 8; i++ {
		pa, _ := m.AllocFrame()
		m.InstallMapping(0, uint64(i)*PageSize, pa, PermRead)
		if _, fault := m.Translate(0, 0, uint64(i)*PageSize, AccessRead, 1); fault != nil {
			t.Fatalf("page %d: %v", i, fault)
		}
	}
	// All 8 pages must still resolve even though L1 only holds 4. Each
	// InstallMapping above flushed the TLB, so most of these re-reads miss
	// both levels and are served by a table walk.
	for i := 0; i < 8; i++ {
		if _, fault := m.Translate(0, 0, uint64(i)*PageSize, AccessRead, 1); fault != nil {
			t.Fatalf("re-read page %d: %v", i, fault)
		}
	}
}
