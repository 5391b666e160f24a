/*
   vmcore - native accelerated backend.

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

//go:build amd64

package accel

import (
	"github.com/rcornwell/vmcore/codecache"
	"github.com/rcornwell/vmcore/interp"
	"github.com/rcornwell/vmcore/ir"
	"github.com/rcornwell/vmcore/jit"
	"github.com/rcornwell/vmcore/mmu"
)

// Native invokes jit-compiled code bodies directly. It only ever sees
// entries whose fingerprint passed jit.Compile, which already rejected
// any block touching memory or vector ops — so Native never needs to
// consult the MMU itself, unlike Software.
type Native struct{}

// RunNative copies regs' integer bank into the flat array jit's calling
// convention expects, invokes the compiled body, copies the results
// back, and resolves the terminator exactly as interp does.
func (Native) RunNative(vcpu uint32, asid mmu.ASIDKey, m *mmu.MMU, regs *ir.RegisterFile, entry *codecache.Entry, _ StopToken) interp.Result {
	if len(entry.Code) == 0 {
		return interp.Run(vcpu, asid, m, regs, entry.Block)
	}

	scratch := make([]int64, len(regs.Int))
	for i, v := range regs.Int {
		scratch[i] = int64(v)
	}
	jit.Invoke(entry.Code, scratch)
	for i, v := range scratch {
		regs.Int[i] = uint64(v)
	}

	cycles := uint64(entry.Block.Size() + 1)
	return interp.ResolveTerminator(entry.Block.Term, regs, cycles)
}
