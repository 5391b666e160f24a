/*
   vmcore - Reference guest ISA: a small 32-bit RiSC-style register machine.

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

// Package decode turns guest machine code at a program counter into an IR
// basic block. The core treats the decoder purely as a consumed external
// collaborator; this package supplies both that interface
// and one concrete implementation, a small RiSC-style 32-bit guest ISA
// (modelled on the pack's bassosimone-risc32 core), so the rest of the
// engine has a real ISA to decode, interpret, and JIT against.
package decode

// Each instruction is one 32-bit word, little-endian in guest memory:
//
//	<Opcode:6><Rd:5><Rs1:5><Rs2:5><Unused:11>   RRR format
//	<Opcode:6><Rd:5><Rs1:5><Imm16:16>           RRI format (sign-extended)
//	<Opcode:6><Rd:5><Imm21:21>                  RI  format
const (
	OpHalt = uint32(iota) // RI, imm = halt code

	OpAdd  // RRR: Rd = Rs1 + Rs2
	OpSub  // RRR: Rd = Rs1 - Rs2
	OpAnd  // RRR
	OpOr   // RRR
	OpXor  // RRR
	OpNot  // RRI (Rs1 only): Rd = ^Rs1
	OpShl  // RRR
	OpShrS // RRR arithmetic shift right
	OpShrU // RRR logical shift right

	OpAddI // RRI: Rd = Rs1 + imm16
	OpLUI  // RI:  Rd = imm21 << 11

	OpCmpEQ  // RRR: Rd = (Rs1 == Rs2) ? 1 : 0
	OpCmpLTS // RRR signed
	OpCmpLTU // RRR unsigned

	OpLoadW  // RRI: Rd = mem32[Rs1 + imm16]
	OpStoreW // RRI: mem32[Rs1 + imm16] = Rd
	OpLoadB  // RRI: Rd = sign-extend(mem8[Rs1+imm16])
	OpStoreB // RRI: mem8[Rs1+imm16] = Rd[7:0]

	OpBeq  // RRI: if Rd != 0, PC = PC + 4 + imm16*4 (words, from the next instruction); Rs1 unused
	OpJmp  // RRI (Rs1 only): PC = Rs1 (indirect)
	OpCall // RRI (Rs1 only): Rd = PC(return addr), PC = Rs1
	OpRet  // RI  (Rd only): PC = Rd
)

// NumRegisters is the guest integer register count.
const NumRegisters = 16

// Format identifies an instruction word's field layout.
type Format uint8

const (
	FormatRRR Format = iota
	FormatRRI
	FormatRI
)

var formatOf = map[uint32]Format{
	OpHalt: FormatRI,

	OpAdd: FormatRRR, OpSub: FormatRRR, OpAnd: FormatRRR, OpOr: FormatRRR,
	OpXor: FormatRRR, OpShl: FormatRRR, OpShrS: FormatRRR, OpShrU: FormatRRR,

	OpNot: FormatRRI,

	OpAddI: FormatRRI,
	OpLUI:  FormatRI,

	OpCmpEQ: FormatRRR, OpCmpLTS: FormatRRR, OpCmpLTU: FormatRRR,

	OpLoadW: FormatRRI, OpStoreW: FormatRRI, OpLoadB: FormatRRI, OpStoreB: FormatRRI,

	OpBeq:  FormatRRI,
	OpJmp:  FormatRRI,
	OpCall: FormatRRI,
	OpRet:  FormatRI,
}

// isTerminator reports whether an opcode always ends a basic block.
func isTerminator(op uint32) bool {
	switch op {
	case OpHalt, OpBeq, OpJmp, OpCall, OpRet:
		return true
	default:
		return false
	}
}

// Decoded is an unpacked instruction word.
type Decoded struct {
	Op     uint32
	Format Format
	Rd     uint8
	Rs1    uint8
	Rs2    uint8
	Imm16  int32 // sign-extended
	Imm21  int32 // unsigned, caller shifts as needed
}

func signExtend16(v uint32) int32 {
	if v&0x8000 != 0 {
		return int32(v | 0xFFFF0000)
	}
	return int32(v)
}

// DecodeWord unpacks a single 32-bit instruction word.
func DecodeWord(w uint32) Decoded {
	op := (w >> 26) & 0x3F
	format := formatOf[op]
	d := Decoded{Op: op, Format: format}
	switch format {
	case FormatRRR:
		d.Rd = uint8((w >> 21) & 0x1F)
		d.Rs1 = uint8((w >> 16) & 0x1F)
		d.Rs2 = uint8((w >> 11) & 0x1F)
	case FormatRRI:
		d.Rd = uint8((w >> 21) & 0x1F)
		d.Rs1 = uint8((w >> 16) & 0x1F)
		d.Imm16 = signExtend16(w & 0xFFFF)
	case FormatRI:
		d.Rd = uint8((w >> 21) & 0x1F)
		d.Imm21 = int32(w & 0x1FFFFF)
	}
	return d
}

// EncodeRRR packs an RRR-format instruction word.
func EncodeRRR(op uint32, rd, rs1, rs2 uint8) uint32 {
	return (op&0x3F)<<26 | uint32(rd&0x1F)<<21 | uint32(rs1&0x1F)<<16 | uint32(rs2&0x1F)<<11
}

// EncodeRRI packs an RRI-format instruction word.
func EncodeRRI(op uint32, rd, rs1 uint8, imm16 int32) uint32 {
	return (op&0x3F)<<26 | uint32(rd&0x1F)<<21 | uint32(rs1&0x1F)<<16 | uint32(imm16)&0xFFFF
}

// EncodeRI packs an RI-format instruction word.
func EncodeRI(op uint32, rd uint8, imm21 int32) uint32 {
	return (op&0x3F)<<26 | uint32(rd&0x1F)<<21 | uint32(imm21)&0x1FFFFF
}
