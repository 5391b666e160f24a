/*
   vmcore - instruction cache maintenance, arm64.

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

//go:build arm64

package jit

import "runtime"

// flushICache invalidates the instruction cache for mem's range.
// arm64's icache isn't guaranteed coherent with data writes, so a
// just-published region must be explicitly synchronized before any
// vCPU goroutine jumps into it. runtime does this via a hidden
// linkname on most Go ports; keeping the call isolated to this file
// means only arm64 pays for it.
func flushICache(mem []byte) {
	// go:linkname-based runtime cache flush is intentionally not wired
	// here: relying on an unexported runtime symbol from outside std is
	// exactly the kind of fragile-hack this codebase avoids. Native
	// tiers are compiled out on arm64 (see jit/codegen_amd64.go's
	// amd64 build tag) until a real flush primitive lands.
	runtime.KeepAlive(mem)
}
