/*
   vmcore - JIT compiler: tiered IR optimization and amd64 code generation.

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

// Package jit compiles IR blocks into native code for tiers T1-T3.
// Compilation is restricted to blocks built entirely from register-only
// integer ops (see isRegisterOnly): a block touching memory, floating
// point, vector or hint ops returns a CompileError, and the amd64
// emitter declines multiply, divide, compares and register-form shifts
// the same way. The driver falls back to tier T0 interpretation for such
// a block, as a tiered engine degrades when a fast path can't cover it.
package jit

import (
	"time"

	"github.com/rcornwell/vmcore/ir"
)

// ErrorKind classifies why Compile declined or failed.
type ErrorKind uint8

const (
	ErrUnsupportedOp ErrorKind = iota
	ErrBudgetExceeded
	ErrAllocationFailed
)

// CompileError reports a structured compile failure; the driver
// distinguishes ErrUnsupportedOp (permanent, falls back to T0 forever
// for this block) from ErrBudgetExceeded (transient, retry is pointless
// at the same tier but another tier may still succeed).
type CompileError struct {
	Kind ErrorKind
	Op   ir.Kind
	Err  error
}

func (e *CompileError) Error() string {
	switch e.Kind {
	case ErrUnsupportedOp:
		return "jit: unsupported op for native compilation"
	case ErrBudgetExceeded:
		return "jit: compile budget exceeded"
	default:
		return "jit: allocation failed: " + e.Err.Error()
	}
}

func (e *CompileError) Unwrap() error { return e.Err }

// budgets bounds how long a tier's compile pass may run before it is
// aborted and reported as ErrBudgetExceeded.
var budgets = map[ir.Tier]time.Duration{
	ir.TierFast:       50 * time.Microsecond,
	ir.TierStandard:   500 * time.Microsecond,
	ir.TierAggressive: 5 * time.Millisecond,
}

// Result is a successful compilation: native code plus the side data the
// driver needs to invoke and later reclaim it.
type Result struct {
	Code      []byte // W^X-backed, page-aligned, ready to execute
	FrameSize int    // bytes of scratch stack the code touches, for unwinding accounting
}

// Compile lowers blk at the given tier: optimize, allocate registers,
// emit native code. It never mutates blk.
func Compile(blk *ir.Block, tier ir.Tier, pool *ExecPool) (*Result, error) {
	deadline := time.Now().Add(budgets[tier])

	ops, err := supportedOps(blk)
	if err != nil {
		return nil, err
	}

	optimized := optimize(ops, tier)
	if time.Now().After(deadline) {
		return nil, &CompileError{Kind: ErrBudgetExceeded}
	}

	alloc, err := allocateRegisters(optimized, tier)
	if err != nil {
		return nil, &CompileError{Kind: ErrAllocationFailed, Err: err}
	}
	if time.Now().After(deadline) {
		return nil, &CompileError{Kind: ErrBudgetExceeded}
	}

	code, err := emitAMD64(optimized, alloc, blk.Term)
	if err != nil {
		return nil, err
	}

	exec, err := pool.Publish(code)
	if err != nil {
		return nil, &CompileError{Kind: ErrAllocationFailed, Err: err}
	}

	return &Result{Code: exec, FrameSize: alloc.frameSize}, nil
}

// supportedOps validates that every op in blk is one the native backend
// can emit, returning CompileError{ErrUnsupportedOp} on the first op (or
// terminator) that isn't.
func supportedOps(blk *ir.Block) ([]ir.Op, error) {
	for _, op := range blk.Ops {
		if !isRegisterOnly(op.Kind) {
			return nil, &CompileError{Kind: ErrUnsupportedOp, Op: op.Kind}
		}
	}
	switch blk.Term.Kind {
	case ir.TermFallthrough, ir.TermBranch, ir.TermIndirectJump, ir.TermReturn, ir.TermHalt:
	default:
		return nil, &CompileError{Kind: ErrUnsupportedOp}
	}
	return blk.Ops, nil
}

func isRegisterOnly(k ir.Kind) bool {
	switch k {
	case ir.KindNop, ir.KindAddI, ir.KindSubI, ir.KindMulI, ir.KindDivI, ir.KindDivU, ir.KindNegI,
		ir.KindAnd, ir.KindOr, ir.KindXor, ir.KindNot, ir.KindShl, ir.KindShrS, ir.KindShrU,
		ir.KindCmpEQ, ir.KindCmpLTS, ir.KindCmpLTU, ir.KindLoadImm, ir.KindMov:
		return true
	default:
		// Load, Store, FAdd/FSub/FMul/FDiv, VAdd/VSub/VMul, hints: not
		// in the native backend's scope. Any guest block using them
		// keeps running under interp until a future tier widens this set.
		return false
	}
}
