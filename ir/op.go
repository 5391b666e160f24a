/*
   vmcore - IR operations.

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

// Kind enumerates the IR op categories: integer arithmetic, bitwise,
// compares, immediate loads and moves, memory load/store, floating
// point, call/return hints, and SIMD. Control flow lives only in a
// block's Terminator.
// IR is SSA-free: ops mutate virtual registers in sequence, and a virtual
// register's lifetime is bounded by the block that defines it.
type Kind uint8

const (
	KindNop Kind = iota

	// Integer arithmetic.
	KindAddI
	KindSubI
	KindMulI
	KindDivI  // signed
	KindDivU  // unsigned
	KindNegI

	// Bitwise.
	KindAnd
	KindOr
	KindXor
	KindNot
	KindShl
	KindShrS // arithmetic (signed) shift right
	KindShrU // logical (unsigned) shift right

	// Compare: writes Dst = 1 if Cond(Src1, Src2) else 0.
	KindCmpEQ
	KindCmpLTS
	KindCmpLTU

	// Immediate load.
	KindLoadImm

	// Register move.
	KindMov

	// Memory.
	KindLoad  // Dst = *(Src1 + Imm), sized/signed per Size/Signed
	KindStore // *(Src1 + Imm) = Src2, sized per Size

	// Floating point.
	KindFAdd
	KindFSub
	KindFMul
	KindFDiv

	// SIMD: elementwise op over a vector register pair.
	KindVAdd
	KindVSub
	KindVMul

	// Control-flow hints. The reference decoder does not emit them, interp
	// executes them as no-ops, and jit.Compile rejects blocks containing them.
	KindCallHint
	KindReturnHint
)

// Size is the element width of a memory or vector op.
type Size uint8

const (
	Size8 Size = 1 << iota
	Size16
	Size32
	Size64
)

// Op is a single IR operation: a tagged variant recording source/destination
// virtual register indices and immediates. Every op executes in order
// within its containing block.
type Op struct {
	Kind Kind

	Dst  uint8
	Src1 uint8
	Src2 uint8

	Imm int64

	Size    Size
	Signed  bool // for Load: sign-extend; other kinds ignore it (DivI and CmpLTS are always signed)

	// RegisterForm selects Src2 as the second operand instead of Imm, for
	// the Add/Sub/Mul/Div/Shl/ShrS/ShrU family of kinds, which the decoder
	// and the optimizer can each produce in either encoding (a
	// register-register guest instruction decodes with RegisterForm true;
	// a register-immediate guest instruction, or a constant synthesized by
	// strength reduction, leaves it false and uses Imm). Kinds with only
	// one encoding (And/Or/Xor/Not/compares/loads/stores) ignore this
	// field.
	RegisterForm bool

	// Vector shape, valid only for V* kinds.
	ElemBits int
	Lanes    int
}

// TermKind enumerates how a block's control flow resolves.
type TermKind uint8

const (
	TermFallthrough TermKind = iota
	TermBranch               // conditional: CondReg != 0 -> TargetTrue else TargetFalse
	TermIndirectJump          // target computed at TargetReg
	TermReturn
	TermHalt
)

// Terminator fully determines a block's successor PC(s). An indirect
// branch's target is computed by evaluating the block (reading TargetReg
// from the register file after the block's ops have run), never stored as
// a static field.
type Terminator struct {
	Kind TermKind

	// TermFallthrough / unconditional successor.
	Next VAddr

	// TermBranch.
	CondReg     uint8
	TargetTrue  VAddr
	TargetFalse VAddr

	// TermIndirectJump: successor is RegisterFile.Int[TargetReg].
	TargetReg uint8

	// TermHalt: HaltCode surfaces as part of the halt reason.
	HaltCode uint8
}
