/*
   vmcore - amd64 code generation.

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

import (
	"encoding/binary"
	"errors"

	"github.com/rcornwell/vmcore/ir"
)

// amd64 encoding. Every allocated virtual register lives in one of
// physR8..physR14 for the body of the block; the trampoline (see
// trampoline_amd64.s) passes the guest RegisterFile's backing int64
// array base in RDI, its only argument, so the body only ever touches
// RDI and the allocated R8-R14 working set.

const (
	rexW   = 0x48
	regRDI = 7
	regRSI = 6
	regRAX = 0
	regRDX = 2
)

func physEncoding(p physReg) byte {
	// R8-R14 encode as ModRM reg field 0-6 with REX.R/REX.B set.
	return byte(p)
}

type emitter struct {
	buf []byte
}

func (e *emitter) b(bs ...byte) { e.buf = append(e.buf, bs...) }

func (e *emitter) imm32(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	e.buf = append(e.buf, b[:]...)
}

func (e *emitter) imm64(v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	e.buf = append(e.buf, b[:]...)
}

// movRegFromMem: mov r64(dst), [rdi + idx*8]  (load a virtual register's
// home slot into its allocated physical register on first use).
func (e *emitter) movRegFromMem(dst physReg, idx uint8) {
	modrm := byte(0x80) | (physEncoding(dst) << 3 & 0x38) | byte(regRDI)
	e.b(rexW|0x04|((byte(dst)>>3)<<2), 0x8B, modrm)
	e.imm32(int32(idx) * 8)
}

// movMemFromReg: mov [rdi + idx*8], r64(src)  (spill a physical register
// back to its virtual register's home slot at block exit).
func (e *emitter) movMemFromReg(idx uint8, src physReg) {
	modrm := byte(0x80) | (physEncoding(src) << 3 & 0x38) | byte(regRDI)
	e.b(rexW|0x04|((byte(src)>>3)<<2), 0x89, modrm)
	e.imm32(int32(idx) * 8)
}

func (e *emitter) movRegImm64(dst physReg, v int64) {
	e.b(rexW|((byte(dst)>>3)<<0), 0xB8+physEncoding(dst)&7)
	e.imm64(v)
}

// binOpRR emits `op r64(dst), r64(src)` for a two-register ALU op using
// the given primary opcode byte (add=0x01, sub=0x29, and=0x21, or=0x09,
// xor=0x31, cmp=0x39 — all the r/m64, r64 direction).
func (e *emitter) binOpRR(opcode byte, dst, src physReg) {
	modrm := byte(0xC0) | (physEncoding(src)<<3&0x38) | physEncoding(dst)&0x07
	e.b(rexW|0x05, opcode, modrm)
}

func (e *emitter) addImm32(dst physReg, v int32) {
	modrm := byte(0xC0) | physEncoding(dst)&0x07
	e.b(rexW|0x04, 0x81, modrm)
	e.imm32(v)
}

func (e *emitter) subImm32(dst physReg, v int32) {
	modrm := byte(0xE8) | physEncoding(dst)&0x07
	e.b(rexW|0x04, 0x81, modrm)
	e.imm32(v)
}

// movRegReg: mov r64(dst), r64(src).
func (e *emitter) movRegReg(dst, src physReg) {
	modrm := byte(0xC0) | (physEncoding(src)<<3&0x38) | physEncoding(dst)&0x07
	e.b(rexW|0x05, 0x89, modrm)
}

func (e *emitter) notReg(dst physReg) {
	modrm := byte(0xD0) | physEncoding(dst)&0x07
	e.b(rexW|0x04, 0xF7, modrm)
}

func (e *emitter) negReg(dst physReg) {
	modrm := byte(0xD8) | physEncoding(dst)&0x07
	e.b(rexW|0x04, 0xF7, modrm)
}

func (e *emitter) shiftImm(opExt byte, dst physReg, amount int64) {
	modrm := (opExt << 3) | physEncoding(dst)&0x07 | 0xC0
	e.b(rexW|0x04, 0xC1, modrm, byte(amount&0x3F))
}

func (e *emitter) ret() { e.b(0xC3) }

var errUnsupportedTerm = errors.New("jit: unsupported terminator kind")

// emitAMD64 produces a native amd64 body for ops under alloc, plus a
// trailer that writes the live registers back to the register array
// before returning to the caller. The terminator is not resolved in
// native code; accel.Native resolves it afterwards with
// interp.ResolveTerminator.
func emitAMD64(ops []ir.Op, alloc *allocation, term ir.Terminator) ([]byte, error) {
	e := &emitter{}
	loaded := map[uint8]bool{}

	ensure := func(v uint8) physReg {
		p := alloc.phys[v]
		if !loaded[v] {
			e.movRegFromMem(p, v)
			loaded[v] = true
		}
		return p
	}

	for _, op := range ops {
		switch op.Kind {
		case ir.KindNop:
		case ir.KindLoadImm:
			p := alloc.phys[op.Dst]
			e.movRegImm64(p, op.Imm)
			loaded[op.Dst] = true
		case ir.KindMov:
			src := ensure(op.Src1)
			dst := alloc.phys[op.Dst]
			e.movRegReg(dst, src)
			loaded[op.Dst] = true
		case ir.KindAddI:
			if op.RegisterForm {
				a := ensure(op.Src1)
				b := ensure(op.Src2)
				e.binOpRR(0x01, a, b)
				alloc.phys[op.Dst] = a
				loaded[op.Dst] = true
				break
			}
			src := ensure(op.Src1)
			dst := alloc.phys[op.Dst]
			if dst != src {
				e.movRegReg(dst, src)
			}
			e.addImm32(dst, int32(op.Imm))
			loaded[op.Dst] = true
		case ir.KindSubI:
			if op.RegisterForm {
				a := ensure(op.Src1)
				b := ensure(op.Src2)
				e.binOpRR(0x29, a, b)
				alloc.phys[op.Dst] = a
				loaded[op.Dst] = true
				break
			}
			dst := ensure(op.Src1)
			e.subImm32(dst, int32(op.Imm))
			alloc.phys[op.Dst] = dst
			loaded[op.Dst] = true
		case ir.KindNegI:
			dst := ensure(op.Src1)
			e.negReg(dst)
			alloc.phys[op.Dst] = dst
			loaded[op.Dst] = true
		case ir.KindNot:
			dst := ensure(op.Src1)
			e.notReg(dst)
			alloc.phys[op.Dst] = dst
			loaded[op.Dst] = true
		case ir.KindAnd, ir.KindOr, ir.KindXor:
			a := ensure(op.Src1)
			b := ensure(op.Src2)
			var opcode byte
			switch op.Kind {
			case ir.KindAnd:
				opcode = 0x21
			case ir.KindOr:
				opcode = 0x09
			case ir.KindXor:
				opcode = 0x31
			}
			e.binOpRR(opcode, a, b)
			alloc.phys[op.Dst] = a
			loaded[op.Dst] = true
		case ir.KindShl:
			if op.RegisterForm {
				return nil, &CompileError{Kind: ErrUnsupportedOp, Op: op.Kind}
			}
			dst := ensure(op.Src1)
			e.shiftImm(4, dst, op.Imm)
			alloc.phys[op.Dst] = dst
			loaded[op.Dst] = true
		case ir.KindShrS:
			if op.RegisterForm {
				return nil, &CompileError{Kind: ErrUnsupportedOp, Op: op.Kind}
			}
			dst := ensure(op.Src1)
			e.shiftImm(7, dst, op.Imm)
			alloc.phys[op.Dst] = dst
			loaded[op.Dst] = true
		case ir.KindShrU:
			if op.RegisterForm {
				return nil, &CompileError{Kind: ErrUnsupportedOp, Op: op.Kind}
			}
			dst := ensure(op.Src1)
			e.shiftImm(5, dst, op.Imm)
			alloc.phys[op.Dst] = dst
			loaded[op.Dst] = true
		case ir.KindMulI, ir.KindDivI, ir.KindDivU, ir.KindCmpEQ, ir.KindCmpLTS, ir.KindCmpLTU:
			// Multiply, divide, and compare need RAX/RDX and flag
			// sequencing that doesn't fit the uniform two-register
			// path above; fall back rather than risk a miscompiled
			// fast path for the rarer ops.
			return nil, &CompileError{Kind: ErrUnsupportedOp, Op: op.Kind}
		default:
			return nil, &CompileError{Kind: ErrUnsupportedOp, Op: op.Kind}
		}
	}

	for v, p := range alloc.phys {
		if loaded[v] {
			e.movMemFromReg(v, p)
		}
	}
	if err := emitTerminatorTrailer(e, term, alloc, loaded); err != nil {
		return nil, err
	}
	e.ret()
	return e.buf, nil
}

func emitTerminatorTrailer(e *emitter, term ir.Terminator, alloc *allocation, loaded map[uint8]bool) error {
	switch term.Kind {
	case ir.TermFallthrough, ir.TermHalt, ir.TermReturn:
		return nil
	case ir.TermBranch, ir.TermIndirectJump:
		// The branch/indirect-jump target is resolved from the
		// written-back register file on the Go side (accel.Native calls
		// interp.ResolveTerminator), not in native code, so the
		// compiled body's job ends at the
		// register-writeback above.
		return nil
	default:
		return &CompileError{Kind: ErrUnsupportedOp}
	}
}
