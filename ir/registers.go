/*
   vmcore - Guest register file.

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

// Package ir defines the guest register file and the intermediate
// representation shared by the interpreter and the JIT compiler.
package ir

import "errors"

// ErrRegisterIndexInvalid is the fatal invariant violation raised when a
// register read or write names an index outside the architecture's file.
var ErrRegisterIndexInvalid = errors.New("ir: register index invalid")

// ErrVectorShapeInvalid is raised when a SIMD op's element size and lane
// count do not agree with the vector register width it targets.
var ErrVectorShapeInvalid = errors.New("ir: vector shape invalid")

// Arch describes the register-file shape of a guest architecture: how many
// integer and floating registers it has, and the width of its vector bank.
type Arch struct {
	Name        string
	NumInt      int // number of 64-bit integer registers
	NumFloat    int // number of floating registers
	VectorBits  int // lane bank width: 128, 256 or 512
	NumVector   int // number of vector registers
	LittleEndian bool
}

// RegisterFile is a fixed-size, ordered guest register file: integer
// registers, floating registers, a vector bank, and the program counter.
//
// PC is copied by Clone and compared by Equal, but interp and driver
// track the executing PC outside the register file and never update
// this field, so it does not follow execution or faults.
type RegisterFile struct {
	Arch Arch

	Int   []uint64
	Float []float64
	// Vector holds NumVector lanes of VectorBits/8 bytes each, addressed
	// by register index; element interpretation (size/signedness) is
	// supplied per-op, not fixed per-register.
	Vector [][]byte

	PC VAddr

	// ASID is the address space the register file is currently running
	// under; it is what the MMU keys TLB lookups and the fingerprint on.
	ASID ASID
}

// NewRegisterFile allocates a zeroed register file for the given
// architecture.
func NewRegisterFile(arch Arch) *RegisterFile {
	rf := &RegisterFile{
		Arch:  arch,
		Int:   make([]uint64, arch.NumInt),
		Float: make([]float64, arch.NumFloat),
	}
	if arch.NumVector > 0 {
		rf.Vector = make([][]byte, arch.NumVector)
		for i := range rf.Vector {
			rf.Vector[i] = make([]byte, arch.VectorBits/8)
		}
	}
	return rf
}

// GetInt reads an integer register by index.
func (rf *RegisterFile) GetInt(idx uint8) (uint64, error) {
	if int(idx) >= len(rf.Int) {
		return 0, ErrRegisterIndexInvalid
	}
	return rf.Int[idx], nil
}

// SetInt writes an integer register by index.
func (rf *RegisterFile) SetInt(idx uint8, v uint64) error {
	if int(idx) >= len(rf.Int) {
		return ErrRegisterIndexInvalid
	}
	rf.Int[idx] = v
	return nil
}

// GetFloat reads a floating register by index.
func (rf *RegisterFile) GetFloat(idx uint8) (float64, error) {
	if int(idx) >= len(rf.Float) {
		return 0, ErrRegisterIndexInvalid
	}
	return rf.Float[idx], nil
}

// SetFloat writes a floating register by index.
func (rf *RegisterFile) SetFloat(idx uint8, v float64) error {
	if int(idx) >= len(rf.Float) {
		return ErrRegisterIndexInvalid
	}
	rf.Float[idx] = v
	return nil
}

// VectorLane validates idx, elemBits and lanes against the register
// bank's shape and returns the backing bytes for that vector register.
func (rf *RegisterFile) VectorLane(idx uint8, elemBits, lanes int) ([]byte, error) {
	if int(idx) >= len(rf.Vector) {
		return nil, ErrRegisterIndexInvalid
	}
	buf := rf.Vector[idx]
	if elemBits <= 0 || lanes <= 0 || elemBits*lanes != len(buf)*8 {
		return nil, ErrVectorShapeInvalid
	}
	return buf, nil
}

// Clone returns a deep copy of the register file, used by the differential
// test harness to run the same starting state through two execution
// engines and compare resulting files.
func (rf *RegisterFile) Clone() *RegisterFile {
	out := &RegisterFile{
		Arch:  rf.Arch,
		PC:    rf.PC,
		ASID:  rf.ASID,
		Int:   append([]uint64(nil), rf.Int...),
		Float: append([]float64(nil), rf.Float...),
	}
	if rf.Vector != nil {
		out.Vector = make([][]byte, len(rf.Vector))
		for i, v := range rf.Vector {
			out.Vector[i] = append([]byte(nil), v...)
		}
	}
	return out
}

// Equal reports whether two register files hold identical architectural
// state. Used by the interpreter/JIT differential property check.
func (rf *RegisterFile) Equal(other *RegisterFile) bool {
	if rf.PC != other.PC || rf.ASID != other.ASID {
		return false
	}
	if len(rf.Int) != len(other.Int) || len(rf.Float) != len(other.Float) {
		return false
	}
	for i := range rf.Int {
		if rf.Int[i] != other.Int[i] {
			return false
		}
	}
	for i := range rf.Float {
		if rf.Float[i] != other.Float[i] {
			return false
		}
	}
	if len(rf.Vector) != len(other.Vector) {
		return false
	}
	for i := range rf.Vector {
		if len(rf.Vector[i]) != len(other.Vector[i]) {
			return false
		}
		for j := range rf.Vector[i] {
			if rf.Vector[i][j] != other.Vector[i][j] {
				return false
			}
		}
	}
	return true
}
