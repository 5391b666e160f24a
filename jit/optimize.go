/*
   vmcore - block optimizer.

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

package jit

import "github.com/rcornwell/vmcore/ir"

// optimize runs the pass pipeline appropriate to tier and returns a new
// op slice; it never mutates its input, mirroring ir.Block's own
// immutability discipline.
func optimize(ops []ir.Op, tier ir.Tier) []ir.Op {
	out := append([]ir.Op(nil), ops...)

	switch tier {
	case ir.TierFast:
		out = foldConstants(out)
		out = eliminateDeadStores(out)
	case ir.TierStandard:
		out = foldConstants(out)
		out = commonSubexpressionElim(out)
		out = copyPropagate(out)
		out = eliminateDeadStores(out)
	case ir.TierAggressive:
		out = foldConstants(out)
		out = commonSubexpressionElim(out)
		out = copyPropagate(out)
		out = strengthReduce(out)
		out = eliminateDeadStores(out)
	}
	return out
}

// foldConstants replaces an immediate-form AddI/SubI/MulI whose Src1
// holds a constant known earlier in the block (from a LoadImm or an
// earlier fold) with a LoadImm of the computed result. The defining
// LoadImm is kept; eliminateDeadStores may drop it later.
func foldConstants(ops []ir.Op) []ir.Op {
	consts := map[uint8]int64{}
	out := make([]ir.Op, 0, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case ir.KindLoadImm:
			consts[op.Dst] = op.Imm
			out = append(out, op)
		case ir.KindAddI, ir.KindSubI, ir.KindMulI:
			c1, ok1 := consts[op.Src1]
			if op.RegisterForm || !ok1 {
				delete(consts, op.Dst)
				out = append(out, op)
				continue
			}
			var result int64
			switch op.Kind {
			case ir.KindAddI:
				result = c1 + op.Imm
			case ir.KindSubI:
				result = c1 - op.Imm
			case ir.KindMulI:
				result = c1 * op.Imm
			}
			folded := ir.Op{Kind: ir.KindLoadImm, Dst: op.Dst, Imm: result}
			consts[op.Dst] = result
			out = append(out, folded)
		default:
			delete(consts, op.Dst)
			out = append(out, op)
		}
	}
	return out
}

// eliminateDeadStores drops a write to a register that is overwritten
// again, with no intervening read, before the block ends. Terminator
// reads aren't visible to this pass, so it never removes a def that
// feeds CondReg or TargetReg (those are conservatively always "read" by
// treating the terminator as an implicit final consumer of every
// register — callers pass only the op list, not the terminator, so this
// pass is intentionally conservative and only removes a def shadowed by
// a later def of the same register within Ops).
func eliminateDeadStores(ops []ir.Op) []ir.Op {
	lastDef := map[uint8]int{}
	dead := map[int]bool{}
	for i, op := range ops {
		if reads(op) {
			for _, r := range readRegs(op) {
				delete(lastDef, r)
			}
		}
		if writesDst(op.Kind) {
			if prev, ok := lastDef[op.Dst]; ok {
				dead[prev] = true
			}
			lastDef[op.Dst] = i
		}
	}
	out := make([]ir.Op, 0, len(ops))
	for i, op := range ops {
		if !dead[i] {
			out = append(out, op)
		}
	}
	return out
}

func writesDst(k ir.Kind) bool {
	switch k {
	case ir.KindNop:
		return false
	default:
		return true
	}
}

func reads(op ir.Op) bool { return len(readRegs(op)) > 0 }

func readRegs(op ir.Op) []uint8 {
	switch op.Kind {
	case ir.KindLoadImm:
		return nil
	case ir.KindNot, ir.KindNegI, ir.KindMov:
		return []uint8{op.Src1}
	default:
		return []uint8{op.Src1, op.Src2}
	}
}

// commonSubexpressionElim replaces a recomputation of an identical
// (Kind, Src1, Src2, Imm) expression with a Mov from the register that
// already holds it, valid only while neither source has been redefined
// since — tracked via a generation counter per register.
func commonSubexpressionElim(ops []ir.Op) []ir.Op {
	type expr struct {
		kind       ir.Kind
		src1, src2 uint8
		imm        int64
		regForm    bool
		gen1, gen2 int
	}
	gen := map[uint8]int{}
	seen := map[expr]uint8{}
	out := make([]ir.Op, 0, len(ops))

	for _, op := range ops {
		if isPureBinary(op.Kind) {
			key := expr{op.Kind, op.Src1, op.Src2, op.Imm, op.RegisterForm, gen[op.Src1], gen[op.Src2]}
			if src, ok := seen[key]; ok && src != op.Dst {
				out = append(out, ir.Op{Kind: ir.KindMov, Dst: op.Dst, Src1: src})
				gen[op.Dst]++
				continue
			}
			seen[key] = op.Dst
		}
		out = append(out, op)
		if writesDst(op.Kind) {
			gen[op.Dst]++
		}
	}
	return out
}

func isPureBinary(k ir.Kind) bool {
	switch k {
	case ir.KindAddI, ir.KindSubI, ir.KindMulI, ir.KindAnd, ir.KindOr, ir.KindXor,
		ir.KindCmpEQ, ir.KindCmpLTS, ir.KindCmpLTU:
		return true
	default:
		return false
	}
}

// copyPropagate rewrites uses of a register defined by a plain Mov to
// use that Mov's source directly, then leaves the now-possibly-dead Mov
// for eliminateDeadStores to clean up.
func copyPropagate(ops []ir.Op) []ir.Op {
	copyOf := map[uint8]uint8{}
	out := make([]ir.Op, 0, len(ops))
	for _, op := range ops {
		if op.Kind != ir.KindLoadImm {
			if src, ok := copyOf[op.Src1]; ok {
				op.Src1 = src
			}
			if src, ok := copyOf[op.Src2]; ok {
				op.Src2 = src
			}
		}
		if writesDst(op.Kind) {
			delete(copyOf, op.Dst)
		}
		if op.Kind == ir.KindMov {
			copyOf[op.Dst] = op.Src1
		}
		out = append(out, op)
	}
	return out
}

// strengthReduce rewrites a multiply by a power of two into a shift,
// the one T3-only peephole cheap enough to stay inside the 5ms budget
// alongside register allocation.
func strengthReduce(ops []ir.Op) []ir.Op {
	out := make([]ir.Op, 0, len(ops))
	for _, op := range ops {
		if op.Kind == ir.KindMulI && !op.RegisterForm && op.Imm > 1 && op.Imm&(op.Imm-1) == 0 {
			shift := int64(0)
			for v := op.Imm; v > 1; v >>= 1 {
				shift++
			}
			op = ir.Op{Kind: ir.KindShl, Dst: op.Dst, Src1: op.Src1, Imm: shift}
		}
		out = append(out, op)
	}
	return out
}
