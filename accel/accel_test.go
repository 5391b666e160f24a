/*
   vmcore - backend abstraction tests.

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

package accel

import (
	"testing"

	"github.com/rcornwell/vmcore/codecache"
	"github.com/rcornwell/vmcore/interp"
	"github.com/rcornwell/vmcore/ir"
)

func TestSoftwareBackendRunsViaInterp(t *testing.T) {
	arch := ir.Arch{Name: "t", NumInt: 4}
	regs := ir.NewRegisterFile(arch)
	blk := &ir.Block{
		Ops:  []ir.Op{{Kind: ir.KindLoadImm, Dst: 0, Imm: 7}},
		Term: ir.Terminator{Kind: ir.TermHalt, HaltCode: 3},
	}
	entry := &codecache.Entry{Block: blk}

	var backend Software
	res := backend.RunNative(0, 0, nil, regs, entry, nil)
	if res.Outcome != interp.Halted {
		t.Fatalf("outcome = %v, want Halted", res.Outcome)
	}
	if res.HaltCode != 3 {
		t.Fatalf("HaltCode = %d, want 3", res.HaltCode)
	}
	if regs.Int[0] != 7 {
		t.Fatalf("Int[0] = %d, want 7", regs.Int[0])
	}
}
