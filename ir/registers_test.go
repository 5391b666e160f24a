/*
   vmcore - register file tests.

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

import "testing"

func testArch() Arch {
	return Arch{Name: "test", NumInt: 16, NumFloat: 4, VectorBits: 128, NumVector: 8}
}

func TestRegisterFileGetSetInt(t *testing.T) {
	rf := NewRegisterFile(testArch())

	if err := rf.SetInt(5, 0xdeadbeef); err != nil {
		t.Fatalf("SetInt: %v", err)
	}
	v, err := rf.GetInt(5)
	if err != nil {
		t.Fatalf("GetInt: %v", err)
	}
	if v != 0xdeadbeef {
		t.Errorf("GetInt(5) = %#x, want 0xdeadbeef", v)
	}
}

func TestRegisterFileOutOfRange(t *testing.T) {
	rf := NewRegisterFile(testArch())

	if _, err := rf.GetInt(16); err != ErrRegisterIndexInvalid {
		t.Errorf("GetInt(16) err = %v, want ErrRegisterIndexInvalid", err)
	}
	if err := rf.SetFloat(4, 1.0); err != ErrRegisterIndexInvalid {
		t.Errorf("SetFloat(4) err = %v, want ErrRegisterIndexInvalid", err)
	}
}

func TestRegisterFileVectorShape(t *testing.T) {
	rf := NewRegisterFile(testArch())

	if _, err := rf.VectorLane(0, 32, 4); err != nil {
		t.Errorf("VectorLane(0,32,4) on 128-bit reg: %v", err)
	}
	if _, err := rf.VectorLane(0, 64, 4); err != ErrVectorShapeInvalid {
		t.Errorf("VectorLane(0,64,4) err = %v, want ErrVectorShapeInvalid", err)
	}
}

func TestRegisterFileCloneEqual(t *testing.T) {
	rf := NewRegisterFile(testArch())
	rf.SetInt(1, 42)
	rf.PC = 0x1000

	clone := rf.Clone()
	if !rf.Equal(clone) {
		t.Fatal("clone should be Equal to original")
	}

	clone.SetInt(1, 43)
	if rf.Equal(clone) {
		t.Fatal("mutated clone should not be Equal")
	}
}
