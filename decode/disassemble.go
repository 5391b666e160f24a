/*
   vmcore - Reference ISA disassembler.

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

import "fmt"

type mnemonicInfo struct {
	name   string
	format Format
}

var mnemonicMap = map[uint32]mnemonicInfo{
	OpHalt: {"HALT", FormatRI},

	OpAdd:  {"ADD", FormatRRR},
	OpSub:  {"SUB", FormatRRR},
	OpAnd:  {"AND", FormatRRR},
	OpOr:   {"OR", FormatRRR},
	OpXor:  {"XOR", FormatRRR},
	OpNot:  {"NOT", FormatRRI},
	OpShl:  {"SHL", FormatRRR},
	OpShrS: {"SHRS", FormatRRR},
	OpShrU: {"SHRU", FormatRRR},

	OpAddI: {"ADDI", FormatRRI},
	OpLUI:  {"LUI", FormatRI},

	OpCmpEQ:  {"CMPEQ", FormatRRR},
	OpCmpLTS: {"CMPLTS", FormatRRR},
	OpCmpLTU: {"CMPLTU", FormatRRR},

	OpLoadW:  {"LW", FormatRRI},
	OpStoreW: {"SW", FormatRRI},
	OpLoadB:  {"LB", FormatRRI},
	OpStoreB: {"SB", FormatRRI},

	OpBeq:  {"BEQ", FormatRRI},
	OpJmp:  {"JMP", FormatRRI},
	OpCall: {"CALL", FormatRRI},
	OpRet:  {"RET", FormatRI},
}

// Disassemble renders one instruction word in the same textual form
// Assemble accepts, so round-tripping source through Assemble then
// Disassemble is idempotent up to register/immediate spelling.
func Disassemble(w uint32) string {
	d := DecodeWord(w)
	info, ok := mnemonicMap[d.Op]
	if !ok {
		return fmt.Sprintf("DW 0x%08x", w)
	}

	switch d.Op {
	case OpHalt:
		return fmt.Sprintf("HALT r%d, %d", d.Rd, d.Imm21)
	case OpLUI:
		return fmt.Sprintf("LUI r%d, %d", d.Rd, d.Imm21)
	case OpRet:
		return fmt.Sprintf("RET r%d", d.Rd)
	case OpNot:
		return fmt.Sprintf("NOT r%d, r%d", d.Rd, d.Rs1)
	case OpJmp:
		return fmt.Sprintf("JMP r%d", d.Rs1)
	case OpCall:
		return fmt.Sprintf("CALL r%d, r%d", d.Rd, d.Rs1)
	}

	switch info.format {
	case FormatRRR:
		return fmt.Sprintf("%s r%d, r%d, r%d", info.name, d.Rd, d.Rs1, d.Rs2)
	case FormatRRI:
		return fmt.Sprintf("%s r%d, r%d, %d", info.name, d.Rd, d.Rs1, d.Imm16)
	default:
		return fmt.Sprintf("%s r%d, %d", info.name, d.Rd, d.Imm21)
	}
}

// DisassembleRange renders count little-endian words from img starting
// at byteOffset, one instruction per line, useful for dumping a decoded
// block or a code-cache image to the operator console.
func DisassembleRange(img []byte, byteOffset, count int) []string {
	var out []string
	for i := 0; i < count; i++ {
		off := byteOffset + i*4
		if off+4 > len(img) {
			break
		}
		w := uint32(img[off]) | uint32(img[off+1])<<8 | uint32(img[off+2])<<16 | uint32(img[off+3])<<24
		out = append(out, fmt.Sprintf("%08x: %s", off, Disassemble(w)))
	}
	return out
}
