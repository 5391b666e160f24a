/*
   vmcore - register allocation.

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

import (
	"errors"

	"github.com/rcornwell/vmcore/ir"
)

// physReg is one of the small set of amd64 general-purpose registers the
// emitter is willing to hand out: R8-R14 only. RAX/RDX (which DivI/DivU
// would need, so the emitter declines those ops) and RSP/RBP stay out of
// the set, so the allocatable set is deliberately narrow.
type physReg uint8

const (
	physR8 physReg = iota
	physR9
	physR10
	physR11
	physR12
	physR13
	physR14
	numPhysRegs
)

// errTooManyLiveRanges is returned when the block uses more distinct
// virtual registers (at T3, Mov-coalesced classes) than there are
// physical registers, whether or not they are live at the same time.
// This allocator does not spill; the caller treats it as allocation
// failure and the block stays on an earlier tier or T0.
var errTooManyLiveRanges = errors.New("jit: spilling not supported, too many live virtual registers")

// allocation maps each virtual register index used by ops to a physical
// register, plus the stack frame size the emitted code needs (currently
// always 0: this allocator never spills).
type allocation struct {
	phys      map[uint8]physReg
	frameSize int
}

// allocateRegisters gives every virtual register its own physical
// register, in first-use order, at T1/T2; at T3 registers joined by Mov
// chains first share one class and each class gets one physical
// register. It computes no live ranges and does no linear scan or graph
// coloring, so a physical register is never reused within a block.
func allocateRegisters(ops []ir.Op, tier ir.Tier) (*allocation, error) {
	virtuals := collectVirtualRegs(ops)

	// classOf maps every original virtual register to the representative
	// it shares a physical register with; outside T3 each register is
	// its own singleton class.
	classOf := map[uint8]uint8{}
	for _, v := range virtuals {
		classOf[v] = v
	}
	roots := virtuals
	if tier == ir.TierAggressive {
		classOf = coalesce(ops, virtuals)
		roots = distinctValues(classOf, virtuals)
	}
	if len(roots) > int(numPhysRegs) {
		return nil, errTooManyLiveRanges
	}

	rootPhys := make(map[uint8]physReg, len(roots))
	for i, root := range roots {
		rootPhys[root] = physReg(i)
	}

	alloc := &allocation{phys: make(map[uint8]physReg, len(virtuals))}
	for _, v := range virtuals {
		alloc.phys[v] = rootPhys[classOf[v]]
	}
	return alloc, nil
}

// distinctValues returns the distinct values classOf maps the given keys
// to, in first-seen order.
func distinctValues(classOf map[uint8]uint8, keys []uint8) []uint8 {
	seen := map[uint8]bool{}
	var out []uint8
	for _, k := range keys {
		root := classOf[k]
		if !seen[root] {
			seen[root] = true
			out = append(out, root)
		}
	}
	return out
}

func collectVirtualRegs(ops []ir.Op) []uint8 {
	seen := map[uint8]bool{}
	var order []uint8
	add := func(r uint8) {
		if !seen[r] {
			seen[r] = true
			order = append(order, r)
		}
	}
	for _, op := range ops {
		add(op.Dst)
		for _, r := range readRegs(op) {
			add(r)
		}
	}
	return order
}

// coalesce merges the virtual register classes joined by a chain of Mov
// ops (T3's register-coalescing pass) and returns, for every virtual
// register in virtuals, the representative of its class — so a dst and
// its ultimate source end up mapped to the same physical register and
// the Mov between them never needs to be emitted at all.
func coalesce(ops []ir.Op, virtuals []uint8) map[uint8]uint8 {
	union := map[uint8]uint8{}
	for _, v := range virtuals {
		union[v] = v
	}
	find := func(r uint8) uint8 {
		for union[r] != r {
			r = union[r]
		}
		return r
	}
	for _, op := range ops {
		if op.Kind == ir.KindMov {
			a, b := find(op.Dst), find(op.Src1)
			if a != b {
				union[a] = b
			}
		}
	}
	classOf := make(map[uint8]uint8, len(virtuals))
	for _, v := range virtuals {
		classOf[v] = find(v)
	}
	return classOf
}
