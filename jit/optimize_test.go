/*
   vmcore - block optimizer tests.

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

func TestFoldConstantsCollapsesChain(t *testing.T) {
	ops := []ir.Op{
		{Kind: ir.KindLoadImm, Dst: 0, Imm: 10},
		{Kind: ir.KindAddI, Dst: 0, Src1: 0, Imm: 5},
	}
	out := foldConstants(ops)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[1].Kind != ir.KindLoadImm || out[1].Imm != 15 {
		t.Fatalf("out[1] = %+v, want LoadImm 15", out[1])
	}
}

func TestEliminateDeadStoresDropsShadowedDef(t *testing.T) {
	ops := []ir.Op{
		{Kind: ir.KindLoadImm, Dst: 1, Imm: 1},
		{Kind: ir.KindLoadImm, Dst: 1, Imm: 2}, // shadows the first, never read between
	}
	out := eliminateDeadStores(ops)
	if len(out) != 1 || out[0].Imm != 2 {
		t.Fatalf("out = %+v, want single LoadImm 2", out)
	}
}

func TestEliminateDeadStoresKeepsReadDef(t *testing.T) {
	ops := []ir.Op{
		{Kind: ir.KindLoadImm, Dst: 1, Imm: 1},
		{Kind: ir.KindAddI, Dst: 2, Src1: 1, Imm: 1}, // reads reg 1
		{Kind: ir.KindLoadImm, Dst: 1, Imm: 2},
	}
	out := eliminateDeadStores(ops)
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3 (read def must survive)", len(out))
	}
}

func TestCommonSubexpressionElimReplacesWithMov(t *testing.T) {
	ops := []ir.Op{
		{Kind: ir.KindAddI, Dst: 2, Src1: 0, Imm: 7},
		{Kind: ir.KindAddI, Dst: 3, Src1: 0, Imm: 7}, // identical expr, reg 0 unchanged
	}
	out := commonSubexpressionElim(ops)
	if out[1].Kind != ir.KindMov || out[1].Src1 != 2 {
		t.Fatalf("out[1] = %+v, want Mov from reg 2", out[1])
	}
}

func TestCopyPropagateRewritesUse(t *testing.T) {
	ops := []ir.Op{
		{Kind: ir.KindMov, Dst: 1, Src1: 0},
		{Kind: ir.KindAddI, Dst: 2, Src1: 1, Imm: 3},
	}
	out := copyPropagate(ops)
	if out[1].Src1 != 0 {
		t.Fatalf("out[1].Src1 = %d, want 0 (propagated through Mov)", out[1].Src1)
	}
}

func TestStrengthReduceRewritesPowerOfTwoMultiply(t *testing.T) {
	ops := []ir.Op{{Kind: ir.KindMulI, Dst: 1, Src1: 0, Imm: 8}}
	out := strengthReduce(ops)
	if out[0].Kind != ir.KindShl || out[0].Imm != 3 {
		t.Fatalf("out[0] = %+v, want Shl by 3", out[0])
	}
}

func TestOptimizeT3Pipeline(t *testing.T) {
	ops := []ir.Op{
		{Kind: ir.KindLoadImm, Dst: 0, Imm: 4},
		{Kind: ir.KindMulI, Dst: 1, Src1: 0, Imm: 2},
	}
	out := optimize(ops, ir.TierAggressive)
	if len(out) == 0 {
		t.Fatal("expected non-empty optimized output")
	}
}
