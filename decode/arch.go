/*
   vmcore - Reference ISA register-file shape.

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

package decode

import "github.com/rcornwell/vmcore/ir"

// ReferenceArch describes the register file backing the reference ISA.
// Rd/Rs1/Rs2 are 5-bit instruction fields (0-31) even though the
// assembler only names r0-r15; the register file is sized to the full
// field width so a raw or fuzzed instruction word can never name a
// register outside the file.
func ReferenceArch() ir.Arch {
	return ir.Arch{
		Name:         "risc32ref",
		NumInt:       32,
		NumFloat:     0,
		VectorBits:   0,
		NumVector:    0,
		LittleEndian: true,
	}
}
