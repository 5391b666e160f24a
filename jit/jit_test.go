/*
   vmcore - tiered compiler tests.

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

func registerOnlyBlock() *ir.Block {
	return &ir.Block{
		StartPC: 0x1000,
		Ops: []ir.Op{
			{Kind: ir.KindLoadImm, Dst: 0, Imm: 10},
			{Kind: ir.KindAddI, Dst: 1, Src1: 0, Imm: 32},
		},
		Term: ir.Terminator{Kind: ir.TermFallthrough, Next: 0x1008},
	}
}

func TestCompileRegisterOnlyBlockSucceeds(t *testing.T) {
	pool := NewExecPool()
	res, err := Compile(registerOnlyBlock(), ir.TierFast, pool)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Code) == 0 {
		t.Fatal("expected non-empty compiled code")
	}
}

func TestCompileRejectsMemoryOps(t *testing.T) {
	blk := &ir.Block{
		Ops:  []ir.Op{{Kind: ir.KindLoad, Dst: 0, Src1: 1}},
		Term: ir.Terminator{Kind: ir.TermFallthrough},
	}
	pool := NewExecPool()
	_, err := Compile(blk, ir.TierFast, pool)
	ce, ok := err.(*CompileError)
	if !ok || ce.Kind != ErrUnsupportedOp {
		t.Fatalf("err = %v, want ErrUnsupportedOp CompileError", err)
	}
}

func TestCompileRejectsVectorOps(t *testing.T) {
	blk := &ir.Block{
		Ops:  []ir.Op{{Kind: ir.KindVAdd, Dst: 0, Src1: 1, Src2: 2}},
		Term: ir.Terminator{Kind: ir.TermFallthrough},
	}
	pool := NewExecPool()
	_, err := Compile(blk, ir.TierFast, pool)
	ce, ok := err.(*CompileError)
	if !ok || ce.Kind != ErrUnsupportedOp {
		t.Fatalf("err = %v, want ErrUnsupportedOp CompileError", err)
	}
}

func TestInvokeRoundTripsThroughRegisterArray(t *testing.T) {
	blk := registerOnlyBlock()
	pool := NewExecPool()
	res, err := Compile(blk, ir.TierFast, pool)
	if err != nil {
		t.Fatal(err)
	}
	regs := make([]int64, 8)
	Invoke(res.Code, regs)
	if regs[1] != 42 {
		t.Fatalf("regs[1] = %d, want 42 (10 + 32)", regs[1])
	}
}
