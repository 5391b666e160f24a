/*
   vmcore - reference decoder tests.

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
	"log/slog"
	"testing"

	"github.com/rcornwell/vmcore/ir"
	"github.com/rcornwell/vmcore/mmu"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []uint32{
		EncodeRRR(OpAdd, 1, 2, 3),
		EncodeRRI(OpAddI, 4, 5, -7),
		EncodeRI(OpLUI, 6, 12345),
	}
	for _, w := range cases {
		d := DecodeWord(w)
		switch d.Op {
		case OpAdd:
			if d.Rd != 1 || d.Rs1 != 2 || d.Rs2 != 3 {
				t.Fatalf("ADD round-trip mismatch: %+v", d)
			}
		case OpAddI:
			if d.Rd != 4 || d.Rs1 != 5 || d.Imm16 != -7 {
				t.Fatalf("ADDI round-trip mismatch: %+v", d)
			}
		case OpLUI:
			if d.Rd != 6 || d.Imm21 != 12345 {
				t.Fatalf("LUI round-trip mismatch: %+v", d)
			}
		}
	}
}

func TestAssembleDisassembleRoundTrip(t *testing.T) {
	src := []string{
		"ADD r1, r2, r3",
		"ADDI r4, r5, -7",
		"LW r1, r2, 16",
		"BEQ r1, r2, 3",
		"HALT r0, 0",
	}
	for _, line := range src {
		w, err := Assemble(line)
		if err != nil {
			t.Fatalf("assemble %q: %v", line, err)
		}
		got := Disassemble(w)
		w2, err := Assemble(got)
		if err != nil {
			t.Fatalf("re-assemble %q (from %q): %v", got, line, err)
		}
		if w != w2 {
			t.Fatalf("round-trip mismatch for %q: %08x vs %08x (via %q)", line, w, w2, got)
		}
	}
}

func TestAssembleUndefinedMnemonic(t *testing.T) {
	if _, err := Assemble("FROB r1, r2, r3"); err == nil {
		t.Fatal("expected error for undefined mnemonic")
	}
}

// sumLoopProgram assembles a small multi-block program (a conditional
// branch followed by a few arithmetic ops and a halt) used across
// packages as a decode/interpret smoke-test fixture. It is not a
// functionally complete summing loop; JMP's target register r5 is set
// to 0 by LUI rather than to the loop head, since only decoding, not
// execution, is under test.
func sumLoopProgram(t *testing.T) []byte {
	t.Helper()
	src := `
ADDI r2, r0, 0
ADDI r3, r0, 1
LUI  r5, 0
CMPEQ r4, r1, r0
BEQ   r4, r0, 3
ADD   r2, r2, r1
SUB   r1, r1, r3
JMP   r5
HALT  r0, 0
`
	img, err := AssembleProgram(src)
	if err != nil {
		t.Fatalf("assemble program: %v", err)
	}
	return img
}

func TestRefDecoderProducesTerminatedBlock(t *testing.T) {
	img := sumLoopProgram(t)
	m := mmu.New(mmu.Config{PhysicalBytes: 4096}, slog.Default())
	pa, err := m.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}
	copy(m.PhysBytes(pa, len(img)), img)
	m.InstallMapping(0, 0, pa, mmu.PermRead|mmu.PermExecute)

	dec := NewRefDecoder(m)
	blk, err := dec.Decode(0, 0, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if blk.Term.Kind == ir.TermFallthrough && len(blk.Ops) == 0 {
		t.Fatal("expected a populated block")
	}
	if len(blk.Pages) == 0 {
		t.Fatal("expected at least one backing page recorded")
	}
}

func TestRefDecoderUnmappedFaultsOnFirstFetch(t *testing.T) {
	m := mmu.New(mmu.Config{PhysicalBytes: 4096}, slog.Default())
	dec := NewRefDecoder(m)
	if _, err := dec.Decode(0, 0, 0x1000); err == nil {
		t.Fatal("expected a fault decoding unmapped memory")
	}
}
