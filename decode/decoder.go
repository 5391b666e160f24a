/*
   vmcore - Decoder interface and reference implementation.

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

import (
	"encoding/binary"
	"errors"

	"github.com/rcornwell/vmcore/ir"
	"github.com/rcornwell/vmcore/mmu"
)

// ErrDecode is a DecodeError: the decoder could not produce an IR block
// from the bytes at pc (bad opcode, unmapped/faulting fetch).
var ErrDecode = errors.New("decode: cannot decode instruction")

// Decoder turns guest machine code at a program counter into a basic
// block of IR operations terminated by a control-flow terminator.
// Implementations must be deterministic given the same bytes.
type Decoder interface {
	Decode(vcpu uint32, asid ir.ASID, pc ir.VAddr) (*ir.Block, error)
}

// RefDecoder decodes the reference RiSC-style ISA defined in isa.go. It
// fetches through the MMU with AccessExecute so an unmapped or
// no-permission instruction page surfaces the same fault machinery as a
// data access, and stops a block at the first terminator instruction,
// exactly mirroring how a basic block boundary is defined.
type RefDecoder struct {
	MMU *mmu.MMU
}

// NewRefDecoder constructs a decoder reading guest code through m.
func NewRefDecoder(m *mmu.MMU) *RefDecoder {
	return &RefDecoder{MMU: m}
}

const maxBlockInstructions = 512

func (rd *RefDecoder) Decode(vcpu uint32, asid ir.ASID, pc ir.VAddr) (*ir.Block, error) {
	blk := &ir.Block{StartPC: pc, ASID: asid}
	cur := pc
	pages := map[ir.PAddr]struct{}{}

	finish := func(term ir.Terminator) *ir.Block {
		blk.Term = term
		blk.ByteLen = uint32(cur - pc)
		for p := range pages {
			blk.Pages = append(blk.Pages, p)
		}
		return blk
	}

	for i := 0; i < maxBlockInstructions; i++ {
		bytes, fault := rd.MMU.Translate(vcpu, mmu.ASIDKey(asid), uint64(cur), mmu.AccessExecute|mmu.AccessRead, 4)
		if fault != nil {
			if i == 0 {
				return nil, fault
			}
			// Terminate the block early rather than fail one that already
			// has valid ops; the driver refetches the next block and hits
			// the same fault there.
			return finish(ir.Terminator{Kind: ir.TermFallthrough, Next: cur}), nil
		}
		word := binary.LittleEndian.Uint32(bytes)
		inst := DecodeWord(word)

		phys, _ := rd.MMU.PhysPage(vcpu, mmu.ASIDKey(asid), uint64(cur))
		pages[ir.PAddr(phys&^(mmu.PageSize-1))] = struct{}{}

		op, hasOp, term, hasTerm, ok := translateInstruction(inst, cur)
		if !ok {
			return nil, ErrDecode
		}
		cur += 4
		if hasOp {
			blk.Ops = append(blk.Ops, op)
		}
		if hasTerm {
			return finish(term), nil
		}
	}
	return finish(ir.Terminator{Kind: ir.TermFallthrough, Next: cur}), nil
}

// translateInstruction maps one reference-ISA instruction into an
// optional ir.Op (hasOp) and/or an optional terminator (hasTerm, which
// ends the block). CALL emits both: a link op that writes the return
// address plus the indirect-jump terminator.
func translateInstruction(d Decoded, pc ir.VAddr) (op ir.Op, hasOp bool, term ir.Terminator, hasTerm, ok bool) {
	switch d.Op {
	case OpHalt:
		return ir.Op{}, false, ir.Terminator{Kind: ir.TermHalt, HaltCode: uint8(d.Imm21)}, true, true

	case OpAdd:
		return ir.Op{Kind: ir.KindAddI, Dst: d.Rd, Src1: d.Rs1, Src2: d.Rs2, RegisterForm: true}, true, ir.Terminator{}, false, true
	case OpSub:
		return ir.Op{Kind: ir.KindSubI, Dst: d.Rd, Src1: d.Rs1, Src2: d.Rs2, RegisterForm: true}, true, ir.Terminator{}, false, true
	case OpAnd:
		return ir.Op{Kind: ir.KindAnd, Dst: d.Rd, Src1: d.Rs1, Src2: d.Rs2}, true, ir.Terminator{}, false, true
	case OpOr:
		return ir.Op{Kind: ir.KindOr, Dst: d.Rd, Src1: d.Rs1, Src2: d.Rs2}, true, ir.Terminator{}, false, true
	case OpXor:
		return ir.Op{Kind: ir.KindXor, Dst: d.Rd, Src1: d.Rs1, Src2: d.Rs2}, true, ir.Terminator{}, false, true
	case OpNot:
		return ir.Op{Kind: ir.KindNot, Dst: d.Rd, Src1: d.Rs1}, true, ir.Terminator{}, false, true
	case OpShl:
		return ir.Op{Kind: ir.KindShl, Dst: d.Rd, Src1: d.Rs1, Src2: d.Rs2, RegisterForm: true}, true, ir.Terminator{}, false, true
	case OpShrS:
		return ir.Op{Kind: ir.KindShrS, Dst: d.Rd, Src1: d.Rs1, Src2: d.Rs2, RegisterForm: true}, true, ir.Terminator{}, false, true
	case OpShrU:
		return ir.Op{Kind: ir.KindShrU, Dst: d.Rd, Src1: d.Rs1, Src2: d.Rs2, RegisterForm: true}, true, ir.Terminator{}, false, true

	case OpAddI:
		return ir.Op{Kind: ir.KindAddI, Dst: d.Rd, Src1: d.Rs1, Imm: int64(d.Imm16)}, true, ir.Terminator{}, false, true
	case OpLUI:
		return ir.Op{Kind: ir.KindLoadImm, Dst: d.Rd, Imm: int64(d.Imm21) << 11}, true, ir.Terminator{}, false, true

	case OpCmpEQ:
		return ir.Op{Kind: ir.KindCmpEQ, Dst: d.Rd, Src1: d.Rs1, Src2: d.Rs2}, true, ir.Terminator{}, false, true
	case OpCmpLTS:
		return ir.Op{Kind: ir.KindCmpLTS, Dst: d.Rd, Src1: d.Rs1, Src2: d.Rs2, Signed: true}, true, ir.Terminator{}, false, true
	case OpCmpLTU:
		return ir.Op{Kind: ir.KindCmpLTU, Dst: d.Rd, Src1: d.Rs1, Src2: d.Rs2}, true, ir.Terminator{}, false, true

	case OpLoadW:
		return ir.Op{Kind: ir.KindLoad, Dst: d.Rd, Src1: d.Rs1, Imm: int64(d.Imm16), Size: ir.Size32, Signed: true}, true, ir.Terminator{}, false, true
	case OpStoreW:
		return ir.Op{Kind: ir.KindStore, Src1: d.Rs1, Src2: d.Rd, Imm: int64(d.Imm16), Size: ir.Size32}, true, ir.Terminator{}, false, true
	case OpLoadB:
		return ir.Op{Kind: ir.KindLoad, Dst: d.Rd, Src1: d.Rs1, Imm: int64(d.Imm16), Size: ir.Size8, Signed: true}, true, ir.Terminator{}, false, true
	case OpStoreB:
		return ir.Op{Kind: ir.KindStore, Src1: d.Rs1, Src2: d.Rd, Imm: int64(d.Imm16), Size: ir.Size8}, true, ir.Terminator{}, false, true

	case OpBeq:
		// Branches on d.Rd itself (conventionally the destination of a
		// preceding CMPEQ/CMPLTS/CMPLTU), not on comparing two registers
		// here; d.Rs1 is unused by this opcode's semantics and is
		// conventionally written as r0 by the assembler.
		target := ir.VAddr(int64(pc) + 4 + int64(d.Imm16)*4)
		return ir.Op{}, false, ir.Terminator{Kind: ir.TermBranch, CondReg: d.Rd, TargetTrue: target, TargetFalse: pc + 4}, true, true
	case OpJmp:
		return ir.Op{}, false, ir.Terminator{Kind: ir.TermIndirectJump, TargetReg: d.Rs1}, true, true
	case OpCall:
		link := ir.Op{Kind: ir.KindLoadImm, Dst: d.Rd, Imm: int64(pc) + 4}
		return link, true, ir.Terminator{Kind: ir.TermIndirectJump, TargetReg: d.Rs1}, true, true
	case OpRet:
		return ir.Op{}, false, ir.Terminator{Kind: ir.TermIndirectJump, TargetReg: d.Rd}, true, true

	default:
		return ir.Op{}, false, ir.Terminator{}, false, false
	}
}
