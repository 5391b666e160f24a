/*
   vmcore - IR basic block.

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

// Block is a straight-line sequence of guest IR ops with one entry and one
// terminator. Blocks are immutable once constructed by the decoder; the
// interpreter and the JIT both take them by shared reference, never copy
// or mutate them in place.
//
// Invariant: every op in Ops executes in program order, Term executes
// last; no internal control flow branches (a block has exactly one entry
// and one exit).
type Block struct {
	StartPC VAddr
	ASID    ASID

	// ByteLen is the length, in guest bytes, of the machine code this
	// block decoded from — used by the code cache's code-page
	// registration and by self-modifying-code invalidation.
	ByteLen uint32

	Ops  []Op
	Term Terminator

	// Pages lists the physical pages this block's guest bytes reside on,
	// populated by the decoder from the MMU translation it used to fetch
	// the block. A block never spans more than two pages; straddling
	// decode is handled the same way a straddling data access is.
	Pages []PAddr
}

// Size returns the op count, used by the hotspot detector's complexity
// term and as the hotness the compile workers and AOT loading insert
// translations with.
func (b *Block) Size() int { return len(b.Ops) }

// Fingerprint is the cache key identifying a published translation:
// (start-PC, address-space-id, tier). Two blocks with identical
// fingerprints are byte-identical guest code under identical address-space
// mapping.
type Fingerprint struct {
	PC   VAddr
	ASID ASID
	Tier Tier
}

// Tier is a discrete compilation quality level.
type Tier uint8

const (
	TierInterpret Tier = iota // T0
	TierFast                  // T1 fast-compile, no optimization
	TierStandard              // T2 standard optimization
	TierAggressive            // T3 aggressive optimization
)

func (t Tier) String() string {
	switch t {
	case TierInterpret:
		return "T0"
	case TierFast:
		return "T1"
	case TierStandard:
		return "T2"
	case TierAggressive:
		return "T3"
	default:
		return "T?"
	}
}
