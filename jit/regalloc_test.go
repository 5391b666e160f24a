/*
   vmcore - register allocation tests.

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

package jit

import (
	"testing"

	"github.com/rcornwell/vmcore/ir"
)

func TestAllocateRegistersAssignsDistinctPhysRegs(t *testing.T) {
	ops := []ir.Op{
		{Kind: ir.KindLoadImm, Dst: 0, Imm: 1},
		{Kind: ir.KindLoadImm, Dst: 1, Imm: 2},
		{Kind: ir.KindAddI, Dst: 2, Src1: 0, Imm: 1},
	}
	alloc, err := allocateRegisters(ops, ir.TierFast)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[physReg]bool{}
	for _, p := range alloc.phys {
		if seen[p] {
			t.Fatalf("physical register %v assigned twice", p)
		}
		seen[p] = true
	}
}

func TestAllocateRegistersFailsWhenTooManyLiveRanges(t *testing.T) {
	var ops []ir.Op
	for i := uint8(0); i < byte(numPhysRegs)+1; i++ {
		ops = append(ops, ir.Op{Kind: ir.KindLoadImm, Dst: i, Imm: int64(i)})
	}
	if _, err := allocateRegisters(ops, ir.TierFast); err != errTooManyLiveRanges {
		t.Fatalf("err = %v, want errTooManyLiveRanges", err)
	}
}

func TestCoalesceMergesMovChain(t *testing.T) {
	ops := []ir.Op{
		{Kind: ir.KindLoadImm, Dst: 0, Imm: 1},
		{Kind: ir.KindMov, Dst: 1, Src1: 0},
		{Kind: ir.KindAddI, Dst: 2, Src1: 1, Imm: 1},
	}
	alloc, err := allocateRegisters(ops, ir.TierAggressive)
	if err != nil {
		t.Fatal(err)
	}
	if alloc.phys[0] != alloc.phys[1] {
		t.Fatalf("expected reg 0 and reg 1 to coalesce to the same physical register")
	}
}
