/*
   vmcore - operator console command table.

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

package console

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/rcornwell/vmcore/ir"
	"github.com/rcornwell/vmcore/vm"
)

// cmd is one console command: a name, the minimum unambiguous-prefix
// length an operator must type, and the function that executes it.
type cmd struct {
	name     string
	min      int
	process  func(*cmdLine, *vm.Machine) (bool, error)
	complete func(*cmdLine) []string
}

// cmdLine tracks position while scanning one input line, the same
// cursor-based scanning idiom command/parser used for its device
// console, trimmed to the handful of token kinds the engine console
// needs (bare words and hex numbers).
type cmdLine struct {
	line string
	pos  int
}

var cmdList = []cmd{
	{name: "start", min: 3, process: start},
	{name: "stop", min: 3, process: stop},
	{name: "step", min: 4, process: step},
	{name: "stats", min: 2, process: stats},
	{name: "tiers", min: 2, process: tiers},
	{name: "invalidate", min: 3, process: invalidate},
	{name: "quit", min: 1, process: quit},
}

// ProcessCommand executes one input line against m.
func ProcessCommand(commandLine string, m *vm.Machine) (bool, error) {
	line := cmdLine{line: commandLine}
	word := line.getWord()

	match := matchList(word)
	switch {
	case len(match) == 0:
		return false, errors.New("command not found: " + word)
	case len(match) > 1:
		return false, errors.New("ambiguous command: " + word)
	}

	return match[0].process(&line, m)
}

// CompleteCmd returns the liner completion candidates for a partial
// input line.
func CompleteCmd(commandLine string) []string {
	line := cmdLine{line: commandLine}
	word := line.getWord()

	matches := matchList(word)
	names := make([]string, len(matches))
	for i, c := range matches {
		names[i] = c.name
	}
	return names
}

func matchCommand(c cmd, word string) bool {
	if len(word) > len(c.name) {
		return false
	}
	for i := 0; i < len(word); i++ {
		if c.name[i] != word[i] {
			return false
		}
	}
	return len(word) >= c.min
}

func matchList(word string) []cmd {
	if word == "" {
		return nil
	}
	var matches []cmd
	for _, c := range cmdList {
		if matchCommand(c, word) {
			matches = append(matches, c)
		}
	}
	return matches
}

func (l *cmdLine) skipSpace() {
	for l.pos < len(l.line) && unicode.IsSpace(rune(l.line[l.pos])) {
		l.pos++
	}
}

func (l *cmdLine) isEOL() bool {
	return l.pos >= len(l.line)
}

func (l *cmdLine) getWord() string {
	l.skipSpace()
	start := l.pos
	for l.pos < len(l.line) && !unicode.IsSpace(rune(l.line[l.pos])) {
		l.pos++
	}
	return strings.ToLower(l.line[start:l.pos])
}

func (l *cmdLine) getHex() (uint64, error) {
	word := l.getWord()
	if word == "" {
		return 0, errors.New("expected a hex value")
	}
	word = strings.TrimPrefix(word, "0x")
	v, err := strconv.ParseUint(word, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hex value %q: %w", word, err)
	}
	return v, nil
}

func start(line *cmdLine, m *vm.Machine) (bool, error) {
	pc := uint64(0)
	if !line.isEOL() {
		v, err := line.getHex()
		if err != nil {
			return false, err
		}
		pc = v
	}
	go m.Run(ir.VAddr(pc))
	fmt.Printf("vcpu 0 started at pc=%#x\n", pc)
	return false, nil
}

func stop(_ *cmdLine, m *vm.Machine) (bool, error) {
	m.Shutdown()
	fmt.Println("machine stopped")
	return false, nil
}

func step(_ *cmdLine, _ *vm.Machine) (bool, error) {
	return false, errors.New("single-step is not supported")
}

func stats(_ *cmdLine, m *vm.Machine) (bool, error) {
	s := m.Stats()
	fmt.Printf("code cache: %d entries, short-lived %d/%d bytes, long-lived %d/%d bytes\n",
		s.CodeCache.EntryCount, s.CodeCache.ShortLivedUsed, s.CodeCache.ShortLivedBudget,
		s.CodeCache.LongLivedUsed, s.CodeCache.LongLivedBudget)
	fmt.Printf("gc pending: %d, exec regions: %d\n", s.GCPending, s.ExecRegions)
	for _, v := range s.VCPUs {
		fmt.Printf("vcpu %d: %s\n", v.ID, v.State)
	}
	return false, nil
}

func tiers(line *cmdLine, m *vm.Machine) (bool, error) {
	pc, err := line.getHex()
	if err != nil {
		return false, err
	}
	for tier := ir.TierFast; tier <= ir.TierAggressive; tier++ {
		if _, ok := m.Lookup(ir.Fingerprint{PC: ir.VAddr(pc), Tier: tier}); ok {
			fmt.Printf("%s: compiled\n", tier.String())
		} else {
			fmt.Printf("%s: not compiled\n", tier.String())
		}
	}
	return false, nil
}

func invalidate(line *cmdLine, m *vm.Machine) (bool, error) {
	pa, err := line.getHex()
	if err != nil {
		return false, err
	}
	removed := m.Invalidate(ir.PAddr(pa))
	fmt.Printf("invalidated %d translation(s) for page %#x\n", len(removed), pa)
	return false, nil
}

func quit(_ *cmdLine, m *vm.Machine) (bool, error) {
	m.Shutdown()
	return true, nil
}
