/*
   vmcore - native execution backend abstraction.

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

// Package accel defines the driver's view of "run this published
// translation": a narrow interface so the driver never has to know
// whether a fingerprint's code came from jit's amd64 backend, a future
// native backend for another host architecture, or is simply the
// software path that re-enters interp. accel never models a
// guest-OS-visible hardware-virtualization extension, only "make this
// compiled block's effects happen."
package accel

import (
	"errors"

	"github.com/rcornwell/vmcore/codecache"
	"github.com/rcornwell/vmcore/interp"
	"github.com/rcornwell/vmcore/ir"
	"github.com/rcornwell/vmcore/mmu"
)

// StopToken lets the driver cancel a long-running native invocation at
// the next block boundary. Neither backend in this package consults it:
// compiled code runs a straight-line block to completion, and Software
// interprets the whole block before returning.
type StopToken interface {
	Stopped() bool
}

// Backend executes a published code-cache entry against a register
// file and reports how control flow resolved.
type Backend interface {
	RunNative(vcpu uint32, asid mmu.ASIDKey, m *mmu.MMU, regs *ir.RegisterFile, entry *codecache.Entry, stop StopToken) interp.Result
}

// ErrNoNativeCode reports an entry that was never JIT-compiled (Code is
// nil). No backend in this package returns it: Software always
// interprets entry.Block, and Native falls back to interp.Run when Code
// is empty.
var ErrNoNativeCode = errors.New("accel: entry has no compiled code")

// Software is the reference backend: it never touches machine code at
// all, always re-running the block through interp. It exists so the
// driver's dispatch logic has something to fall back to on a host
// architecture jit has no codegen for, and so differential tests can
// compare a "native" tier's register-file outcome against ground truth
// by pointing both tiers' fingerprints at the same backend.
type Software struct{}

// RunNative ignores entry.Code and interprets entry.Block directly.
func (Software) RunNative(vcpu uint32, asid mmu.ASIDKey, m *mmu.MMU, regs *ir.RegisterFile, entry *codecache.Entry, _ StopToken) interp.Result {
	return interp.Run(vcpu, asid, m, regs, entry.Block)
}
