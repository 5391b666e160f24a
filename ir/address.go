/*
   vmcore - Guest/host address newtypes.

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

package ir

import "fmt"

// VAddr is a guest virtual address. Distinguished at the type level from
// both PAddr and host addresses so a translate() result can never be
// accidentally used as its own input.
type VAddr uint64

// PAddr is a guest physical address.
type PAddr uint64

// ASID identifies an independent guest virtual address space.
type ASID uint16

func (v VAddr) String() string { return fmt.Sprintf("v%#016x", uint64(v)) }
func (p PAddr) String() string { return fmt.Sprintf("p%#016x", uint64(p)) }

// Page returns the page-aligned base of the address for the given shift
// (log2 of the page size).
func (v VAddr) Page(shift uint) VAddr { return v &^ ((1 << shift) - 1) }

// Offset returns the in-page offset of the address for the given shift.
func (v VAddr) Offset(shift uint) uint64 { return uint64(v) & ((1 << shift) - 1) }

func (p PAddr) Page(shift uint) PAddr { return p &^ ((1 << shift) - 1) }
