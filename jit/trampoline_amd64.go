/*
   vmcore - amd64 call trampoline.

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

package jit

import "unsafe"

// invokeNative calls into a published code body at entry, passing regs
// (the guest RegisterFile's backing int64 array) in RDI per the
// calling convention emitAMD64 compiles against. Implemented in
// trampoline_amd64.s; NOSPLIT because the compiled body has no Go
// stack-growth prologue of its own and must not be preempted into one.
func invokeNative(entry uintptr, regs unsafe.Pointer)

// Invoke runs a published Result's code against the raw backing array
// of an ir.RegisterFile's integer registers. The caller is responsible
// for ensuring regs has at least as many slots as the allocation that
// produced code references — the driver always invokes with the full
// RegisterFile so this is never a concern in practice.
func Invoke(code []byte, regs []int64) {
	if len(code) == 0 {
		return
	}
	invokeNative(uintptr(unsafe.Pointer(&code[0])), unsafe.Pointer(&regs[0]))
}
