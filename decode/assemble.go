/*
   vmcore - Reference ISA assembler.

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
	"errors"
	"strconv"
	"strings"
)

type opcode struct {
	op     uint32
	format Format
}

var opMap = map[string]opcode{
	"HALT": {OpHalt, FormatRI},

	"ADD":  {OpAdd, FormatRRR},
	"SUB":  {OpSub, FormatRRR},
	"AND":  {OpAnd, FormatRRR},
	"OR":   {OpOr, FormatRRR},
	"XOR":  {OpXor, FormatRRR},
	"NOT":  {OpNot, FormatRRI},
	"SHL":  {OpShl, FormatRRR},
	"SHRS": {OpShrS, FormatRRR},
	"SHRU": {OpShrU, FormatRRR},

	"ADDI": {OpAddI, FormatRRI},
	"LUI":  {OpLUI, FormatRI},

	"CMPEQ":  {OpCmpEQ, FormatRRR},
	"CMPLTS": {OpCmpLTS, FormatRRR},
	"CMPLTU": {OpCmpLTU, FormatRRR},

	"LW": {OpLoadW, FormatRRI},
	"SW": {OpStoreW, FormatRRI},
	"LB": {OpLoadB, FormatRRI},
	"SB": {OpStoreB, FormatRRI},

	"BEQ":  {OpBeq, FormatRRI},
	"JMP":  {OpJmp, FormatRRI},
	"CALL": {OpCall, FormatRRI},
	"RET":  {OpRet, FormatRI},
}

// Assemble turns one line of reference-ISA assembly into its encoded
// 32-bit instruction word. Register operands are written "r<N>"; a
// trailing "//" begins a comment. Blank lines and comment-only lines
// return a zero word and a nil error; AssembleProgram skips them.
func Assemble(line string) (uint32, error) {
	line = stripComment(line)
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, nil
	}

	mnemonic, rest := splitField(line)
	opc, ok := opMap[strings.ToUpper(mnemonic)]
	if !ok {
		return 0, errors.New("decode: undefined mnemonic " + mnemonic)
	}

	fields := splitOperands(rest)

	switch opc.format {
	case FormatRRR:
		if len(fields) != 3 {
			return 0, errors.New("decode: " + mnemonic + " wants rd, rs1, rs2")
		}
		rd, err := parseReg(fields[0])
		if err != nil {
			return 0, err
		}
		rs1, err := parseReg(fields[1])
		if err != nil {
			return 0, err
		}
		rs2, err := parseReg(fields[2])
		if err != nil {
			return 0, err
		}
		return EncodeRRR(opc.op, rd, rs1, rs2), nil

	case FormatRRI:
		if opc.op == OpNot {
			if len(fields) != 2 {
				return 0, errors.New("decode: NOT wants rd, rs1")
			}
			rd, err := parseReg(fields[0])
			if err != nil {
				return 0, err
			}
			rs1, err := parseReg(fields[1])
			if err != nil {
				return 0, err
			}
			return EncodeRRI(opc.op, rd, rs1, 0), nil
		}
		if opc.op == OpJmp {
			if len(fields) != 1 {
				return 0, errors.New("decode: JMP wants rs1")
			}
			rs1, err := parseReg(fields[0])
			if err != nil {
				return 0, err
			}
			return EncodeRRI(opc.op, 0, rs1, 0), nil
		}
		if opc.op == OpCall {
			if len(fields) != 2 {
				return 0, errors.New("decode: CALL wants rd, rs1")
			}
			rd, err := parseReg(fields[0])
			if err != nil {
				return 0, err
			}
			rs1, err := parseReg(fields[1])
			if err != nil {
				return 0, err
			}
			return EncodeRRI(opc.op, rd, rs1, 0), nil
		}
		if len(fields) != 3 {
			return 0, errors.New("decode: " + mnemonic + " wants rd, rs1, imm")
		}
		rd, err := parseReg(fields[0])
		if err != nil {
			return 0, err
		}
		rs1, err := parseReg(fields[1])
		if err != nil {
			return 0, err
		}
		imm, err := parseImm(fields[2], 16)
		if err != nil {
			return 0, err
		}
		return EncodeRRI(opc.op, rd, rs1, int32(imm)), nil

	case FormatRI:
		if opc.op == OpRet {
			if len(fields) != 1 {
				return 0, errors.New("decode: RET wants rd")
			}
			rd, err := parseReg(fields[0])
			if err != nil {
				return 0, err
			}
			return EncodeRI(opc.op, rd, 0), nil
		}
		if len(fields) != 2 {
			return 0, errors.New("decode: " + mnemonic + " wants rd, imm")
		}
		rd, err := parseReg(fields[0])
		if err != nil {
			return 0, err
		}
		imm, err := parseImm(fields[1], 21)
		if err != nil {
			return 0, err
		}
		return EncodeRI(opc.op, rd, int32(imm)), nil
	}
	return 0, errors.New("decode: unhandled format for " + mnemonic)
}

func stripComment(line string) string {
	if i := strings.Index(line, "//"); i >= 0 {
		return line[:i]
	}
	return line
}

func splitField(line string) (head, rest string) {
	line = strings.TrimSpace(line)
	i := strings.IndexAny(line, " \t")
	if i < 0 {
		return line, ""
	}
	return line[:i], line[i+1:]
}

func splitOperands(rest string) []string {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return nil
	}
	parts := strings.Split(rest, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseReg(tok string) (uint8, error) {
	tok = strings.ToLower(strings.TrimSpace(tok))
	if !strings.HasPrefix(tok, "r") {
		return 0, errors.New("decode: expected register, got " + tok)
	}
	n, err := strconv.Atoi(tok[1:])
	if err != nil || n < 0 || n >= NumRegisters {
		return 0, errors.New("decode: register out of range " + tok)
	}
	return uint8(n), nil
}

func parseImm(tok string, bits int) (int64, error) {
	tok = strings.TrimSpace(tok)
	n, err := strconv.ParseInt(tok, 0, 64)
	if err != nil {
		return 0, errors.New("decode: bad immediate " + tok)
	}
	lo := -(int64(1) << (bits - 1))
	hi := (int64(1) << (bits - 1)) - 1
	if n < lo || n > hi {
		return 0, errors.New("decode: immediate out of range " + tok)
	}
	return n, nil
}

// AssembleProgram assembles a newline-separated source listing into a
// flat little-endian byte image starting at address 0, for use as a
// guest memory image in tests and the reference accelerator.
func AssembleProgram(src string) ([]byte, error) {
	var out []byte
	for lineNo, line := range strings.Split(src, "\n") {
		word, err := Assemble(line)
		if err != nil {
			return nil, errors.New("line " + strconv.Itoa(lineNo+1) + ": " + err.Error())
		}
		if strings.TrimSpace(stripComment(line)) == "" {
			continue
		}
		out = append(out,
			byte(word), byte(word>>8), byte(word>>16), byte(word>>24))
	}
	return out, nil
}
