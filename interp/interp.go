/*
   vmcore - IR interpreter (tier T0).

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

// Package interp is the tier T0 IR interpreter: a direct, op-by-op
// evaluator over a decoded block. Every tier must agree with it
// bit-for-bit on the resulting register file (differential-execution
// property); the JIT tiers exist purely to go faster, never to compute
// something different.
package interp

import (
	"math"

	"github.com/rcornwell/vmcore/ir"
	"github.com/rcornwell/vmcore/mmu"
)

// Outcome classifies how a block's execution resolved.
type Outcome uint8

const (
	Continue Outcome = iota // fell through or branched; NextPC is valid
	Halted
	Faulted  // a memory access inside the block faulted
	Invalid  // a register/vector-shape invariant was violated
)

// Result reports the disposition of one Run call. Cycles is an abstract
// cost unit (one per executed op plus a fixed terminator cost) fed to
// the hotspot detector; it is not wall-clock time.
type Result struct {
	Outcome  Outcome
	NextPC   ir.VAddr
	HaltCode uint8
	Fault    *mmu.Fault
	Err      error
	Cycles   uint64
}

// execCtx threads the resources an op handler needs without growing
// every handler's argument list.
type execCtx struct {
	regs *ir.RegisterFile
	m    *mmu.MMU
	vcpu uint32
	asid mmu.ASIDKey
}

// opHandler executes one op against regs. A non-nil fault means a memory
// access failed; a non-nil err means a register/vector shape invariant
// was violated. At most one of the two is set.
type opHandler func(c *execCtx, op ir.Op) (*mmu.Fault, error)

var handlers [256]opHandler

func init() {
	handlers[ir.KindNop] = execNop
	handlers[ir.KindAddI] = execAddI
	handlers[ir.KindSubI] = execSubI
	handlers[ir.KindMulI] = execMulI
	handlers[ir.KindDivI] = execDivI
	handlers[ir.KindDivU] = execDivU
	handlers[ir.KindNegI] = execNegI
	handlers[ir.KindAnd] = execAnd
	handlers[ir.KindOr] = execOr
	handlers[ir.KindXor] = execXor
	handlers[ir.KindNot] = execNot
	handlers[ir.KindShl] = execShl
	handlers[ir.KindShrS] = execShrS
	handlers[ir.KindShrU] = execShrU
	handlers[ir.KindCmpEQ] = execCmpEQ
	handlers[ir.KindCmpLTS] = execCmpLTS
	handlers[ir.KindCmpLTU] = execCmpLTU
	handlers[ir.KindLoadImm] = execLoadImm
	handlers[ir.KindMov] = execMov
	handlers[ir.KindLoad] = execLoad
	handlers[ir.KindStore] = execStore
	handlers[ir.KindFAdd] = execFAdd
	handlers[ir.KindFSub] = execFSub
	handlers[ir.KindFMul] = execFMul
	handlers[ir.KindFDiv] = execFDiv
	handlers[ir.KindVAdd] = execVAdd
	handlers[ir.KindVSub] = execVSub
	handlers[ir.KindVMul] = execVMul
	handlers[ir.KindCallHint] = execNop
	handlers[ir.KindReturnHint] = execNop
}

// Run executes every op in blk against regs in order, then resolves the
// terminator. regs is mutated in place; callers that need the pre-image
// should Clone it first (as the differential-execution tests do).
func Run(vcpu uint32, asid mmu.ASIDKey, m *mmu.MMU, regs *ir.RegisterFile, blk *ir.Block) Result {
	c := &execCtx{regs: regs, m: m, vcpu: vcpu, asid: asid}

	var cycles uint64
	for _, op := range blk.Ops {
		h := handlers[op.Kind]
		if h == nil {
			continue
		}
		fault, err := h(c, op)
		if fault != nil {
			return Result{Outcome: Faulted, Fault: fault, Cycles: cycles}
		}
		if err != nil {
			return Result{Outcome: Invalid, Err: err, Cycles: cycles}
		}
		cycles++
	}
	cycles++ // terminator
	return ResolveTerminator(blk.Term, regs, cycles)
}

// ResolveTerminator decides the NextPC/Halted/Invalid disposition of a
// block's terminator against the register state the block's ops (or a
// native translation of them) already produced. It is shared by Run and
// by accel's native backend so T0 and every compiled tier agree
// bit-for-bit on control-flow resolution (the differential
// property covers this, not just arithmetic).
func ResolveTerminator(term ir.Terminator, regs *ir.RegisterFile, cycles uint64) Result {
	switch term.Kind {
	case ir.TermFallthrough:
		return Result{Outcome: Continue, NextPC: term.Next, Cycles: cycles}

	case ir.TermBranch:
		cond, err := regs.GetInt(term.CondReg)
		if err != nil {
			return Result{Outcome: Invalid, Err: err, Cycles: cycles}
		}
		if cond != 0 {
			return Result{Outcome: Continue, NextPC: term.TargetTrue, Cycles: cycles}
		}
		return Result{Outcome: Continue, NextPC: term.TargetFalse, Cycles: cycles}

	case ir.TermIndirectJump:
		target, err := regs.GetInt(term.TargetReg)
		if err != nil {
			return Result{Outcome: Invalid, Err: err, Cycles: cycles}
		}
		return Result{Outcome: Continue, NextPC: ir.VAddr(target), Cycles: cycles}

	case ir.TermReturn:
		target, err := regs.GetInt(term.TargetReg)
		if err != nil {
			return Result{Outcome: Invalid, Err: err, Cycles: cycles}
		}
		return Result{Outcome: Continue, NextPC: ir.VAddr(target), Cycles: cycles}

	case ir.TermHalt:
		return Result{Outcome: Halted, HaltCode: term.HaltCode, Cycles: cycles}

	default:
		return Result{Outcome: Halted, HaltCode: 0xFF, Cycles: cycles}
	}
}

func execNop(c *execCtx, op ir.Op) (*mmu.Fault, error) { return nil, nil }

// second reads an op's second operand: Src2 when RegisterForm is set,
// Imm otherwise. This is the single place that disambiguates the two
// encodings the Add/Sub/Mul/Div/Shl/ShrS/ShrU family of kinds can carry;
// every exec* below for that family goes through it rather than
// re-deriving the encoding from whether Imm happens to be zero, since a
// literal zero immediate (e.g. "add r1, r0, 0") is a legal guest
// instruction.
func second(c *execCtx, op ir.Op) (int64, error) {
	if op.RegisterForm {
		b, err := c.regs.GetInt(op.Src2)
		return int64(b), err
	}
	return op.Imm, nil
}

// binInt reads Src1 and the op's second operand (see second) and writes
// f's result to Dst, threading register-index errors back to the caller.
func binInt(c *execCtx, op ir.Op, f func(a, b int64) int64) (*mmu.Fault, error) {
	a, err := c.regs.GetInt(op.Src1)
	if err != nil {
		return nil, err
	}
	b, err := second(c, op)
	if err != nil {
		return nil, err
	}
	if err := c.regs.SetInt(op.Dst, uint64(f(int64(a), b))); err != nil {
		return nil, err
	}
	return nil, nil
}

func execAddI(c *execCtx, op ir.Op) (*mmu.Fault, error) {
	return binInt(c, op, func(a, b int64) int64 { return a + b })
}

func execSubI(c *execCtx, op ir.Op) (*mmu.Fault, error) {
	return binInt(c, op, func(a, b int64) int64 { return a - b })
}

func execMulI(c *execCtx, op ir.Op) (*mmu.Fault, error) {
	return binInt(c, op, func(a, b int64) int64 { return a * b })
}

func execDivI(c *execCtx, op ir.Op) (*mmu.Fault, error) {
	return binInt(c, op, func(a, b int64) int64 {
		if b == 0 {
			return 0
		}
		return a / b
	})
}

func execDivU(c *execCtx, op ir.Op) (*mmu.Fault, error) {
	a, err := c.regs.GetInt(op.Src1)
	if err != nil {
		return nil, err
	}
	sb, err := second(c, op)
	if err != nil {
		return nil, err
	}
	b := uint64(sb)
	if b == 0 {
		return nil, c.regs.SetInt(op.Dst, 0)
	}
	return nil, c.regs.SetInt(op.Dst, a/b)
}

func execNegI(c *execCtx, op ir.Op) (*mmu.Fault, error) {
	a, err := c.regs.GetInt(op.Src1)
	if err != nil {
		return nil, err
	}
	return nil, c.regs.SetInt(op.Dst, uint64(-int64(a)))
}

func bitwise(c *execCtx, op ir.Op, f func(a, b uint64) uint64) (*mmu.Fault, error) {
	a, err := c.regs.GetInt(op.Src1)
	if err != nil {
		return nil, err
	}
	b, err := c.regs.GetInt(op.Src2)
	if err != nil {
		return nil, err
	}
	return nil, c.regs.SetInt(op.Dst, f(a, b))
}

func execAnd(c *execCtx, op ir.Op) (*mmu.Fault, error) {
	return bitwise(c, op, func(a, b uint64) uint64 { return a & b })
}

func execOr(c *execCtx, op ir.Op) (*mmu.Fault, error) {
	return bitwise(c, op, func(a, b uint64) uint64 { return a | b })
}

func execXor(c *execCtx, op ir.Op) (*mmu.Fault, error) {
	return bitwise(c, op, func(a, b uint64) uint64 { return a ^ b })
}

func execNot(c *execCtx, op ir.Op) (*mmu.Fault, error) {
	a, err := c.regs.GetInt(op.Src1)
	if err != nil {
		return nil, err
	}
	return nil, c.regs.SetInt(op.Dst, ^a)
}

func execShl(c *execCtx, op ir.Op) (*mmu.Fault, error) {
	return binInt(c, op, func(a, b int64) int64 { return int64(uint64(a) << (uint64(b) & 63)) })
}

func execShrS(c *execCtx, op ir.Op) (*mmu.Fault, error) {
	return binInt(c, op, func(a, b int64) int64 { return a >> (uint64(b) & 63) })
}

func execShrU(c *execCtx, op ir.Op) (*mmu.Fault, error) {
	return binInt(c, op, func(a, b int64) int64 { return int64(uint64(a) >> (uint64(b) & 63)) })
}

func cmp(c *execCtx, op ir.Op, f func(a, b uint64) bool) (*mmu.Fault, error) {
	a, err := c.regs.GetInt(op.Src1)
	if err != nil {
		return nil, err
	}
	b, err := c.regs.GetInt(op.Src2)
	if err != nil {
		return nil, err
	}
	return nil, c.regs.SetInt(op.Dst, boolToInt(f(a, b)))
}

func execCmpEQ(c *execCtx, op ir.Op) (*mmu.Fault, error) {
	return cmp(c, op, func(a, b uint64) bool { return a == b })
}

func execCmpLTS(c *execCtx, op ir.Op) (*mmu.Fault, error) {
	return cmp(c, op, func(a, b uint64) bool { return int64(a) < int64(b) })
}

func execCmpLTU(c *execCtx, op ir.Op) (*mmu.Fault, error) {
	return cmp(c, op, func(a, b uint64) bool { return a < b })
}

func boolToInt(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func execLoadImm(c *execCtx, op ir.Op) (*mmu.Fault, error) {
	return nil, c.regs.SetInt(op.Dst, uint64(op.Imm))
}

func execMov(c *execCtx, op ir.Op) (*mmu.Fault, error) {
	a, err := c.regs.GetInt(op.Src1)
	if err != nil {
		return nil, err
	}
	return nil, c.regs.SetInt(op.Dst, a)
}

func sizeBytes(s ir.Size) int {
	switch s {
	case ir.Size8:
		return 1
	case ir.Size16:
		return 2
	case ir.Size32:
		return 4
	default:
		return 8
	}
}

func execLoad(c *execCtx, op ir.Op) (*mmu.Fault, error) {
	base, err := c.regs.GetInt(op.Src1)
	if err != nil {
		return nil, err
	}
	addr := uint64(int64(base) + op.Imm)
	n := sizeBytes(op.Size)
	bytes, fault := c.m.ReadBytes(c.vcpu, c.asid, addr, n)
	if fault != nil {
		return fault, nil
	}
	var v uint64
	for i := 0; i < n; i++ {
		v |= uint64(bytes[i]) << (8 * i)
	}
	if op.Signed && n < 8 {
		shift := 64 - n*8
		v = uint64(int64(v<<shift) >> shift)
	}
	return nil, c.regs.SetInt(op.Dst, v)
}

func execStore(c *execCtx, op ir.Op) (*mmu.Fault, error) {
	base, err := c.regs.GetInt(op.Src1)
	if err != nil {
		return nil, err
	}
	addr := uint64(int64(base) + op.Imm)
	n := sizeBytes(op.Size)
	v, err := c.regs.GetInt(op.Src2)
	if err != nil {
		return nil, err
	}
	bytes := make([]byte, n)
	for i := 0; i < n; i++ {
		bytes[i] = byte(v >> (8 * i))
	}
	if fault := c.m.WriteBytes(c.vcpu, c.asid, addr, bytes); fault != nil {
		return fault, nil
	}
	return nil, nil
}

func execFAdd(c *execCtx, op ir.Op) (*mmu.Fault, error) { return fbin(c, op, func(a, b float64) float64 { return a + b }) }
func execFSub(c *execCtx, op ir.Op) (*mmu.Fault, error) { return fbin(c, op, func(a, b float64) float64 { return a - b }) }
func execFMul(c *execCtx, op ir.Op) (*mmu.Fault, error) { return fbin(c, op, func(a, b float64) float64 { return a * b }) }

func execFDiv(c *execCtx, op ir.Op) (*mmu.Fault, error) {
	return fbin(c, op, func(a, b float64) float64 {
		if b == 0 {
			return math.NaN()
		}
		return a / b
	})
}

func fbin(c *execCtx, op ir.Op, f func(a, b float64) float64) (*mmu.Fault, error) {
	a, err := c.regs.GetFloat(op.Src1)
	if err != nil {
		return nil, err
	}
	b, err := c.regs.GetFloat(op.Src2)
	if err != nil {
		return nil, err
	}
	return nil, c.regs.SetFloat(op.Dst, f(a, b))
}

// vectorLanes fetches the lane slices for a VAdd/VSub/VMul op, validating
// the element shape through RegisterFile.VectorLane so a malformed shape
// surfaces consistently whether the op came from the decoder or the JIT's
// IR optimizer.
func vectorLanes(c *execCtx, op ir.Op) (dst, a, b []byte, err error) {
	dst, err = c.regs.VectorLane(op.Dst, op.ElemBits, op.Lanes)
	if err != nil {
		return nil, nil, nil, err
	}
	a, err = c.regs.VectorLane(op.Src1, op.ElemBits, op.Lanes)
	if err != nil {
		return nil, nil, nil, err
	}
	b, err = c.regs.VectorLane(op.Src2, op.ElemBits, op.Lanes)
	if err != nil {
		return nil, nil, nil, err
	}
	return dst, a, b, nil
}

func vbin(c *execCtx, op ir.Op, f func(x, y uint64) uint64) (*mmu.Fault, error) {
	dst, a, b, err := vectorLanes(c, op)
	if err != nil {
		return nil, err
	}
	elemBytes := op.ElemBits / 8
	for lane := 0; lane < op.Lanes; lane++ {
		off := lane * elemBytes
		vectorElemOp(dst[off:off+elemBytes], a[off:off+elemBytes], b[off:off+elemBytes], f)
	}
	return nil, nil
}

func execVAdd(c *execCtx, op ir.Op) (*mmu.Fault, error) {
	return vbin(c, op, func(x, y uint64) uint64 { return x + y })
}

func execVSub(c *execCtx, op ir.Op) (*mmu.Fault, error) {
	return vbin(c, op, func(x, y uint64) uint64 { return x - y })
}

func execVMul(c *execCtx, op ir.Op) (*mmu.Fault, error) {
	return vbin(c, op, func(x, y uint64) uint64 { return x * y })
}

func vectorElemOp(dst, a, b []byte, f func(x, y uint64) uint64) {
	var av, bv uint64
	for i := range a {
		av |= uint64(a[i]) << (8 * i)
		bv |= uint64(b[i]) << (8 * i)
	}
	r := f(av, bv)
	for i := range dst {
		dst[i] = byte(r >> (8 * i))
	}
}
