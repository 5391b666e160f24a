/*
   vmcore - operator console command tests.

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
	"testing"

	"github.com/rcornwell/vmcore/vm"
)

func TestProcessCommandRejectsUnknownCommand(t *testing.T) {
	m := vm.New(vm.Config{PhysicalBytes: 1 << 20})
	defer m.Shutdown()

	if _, err := ProcessCommand("bogus", m); err == nil {
		t.Fatal("expected an error for an unknown command")
	}
}

func TestProcessCommandAmbiguousPrefix(t *testing.T) {
	m := vm.New(vm.Config{PhysicalBytes: 1 << 20})
	defer m.Shutdown()

	// "sta" is a long enough prefix for both start (min 3) and stats
	// (min 2), and matches both names' first three letters.
	if _, err := ProcessCommand("sta", m); err == nil {
		t.Fatal("expected an ambiguous-command error")
	}
}

func TestProcessCommandStatsOnEmptyMachine(t *testing.T) {
	m := vm.New(vm.Config{PhysicalBytes: 1 << 20})
	defer m.Shutdown()

	quit, err := ProcessCommand("stats", m)
	if err != nil {
		t.Fatal(err)
	}
	if quit {
		t.Fatal("stats should not request quit")
	}
}

func TestProcessCommandQuit(t *testing.T) {
	m := vm.New(vm.Config{PhysicalBytes: 1 << 20})

	quit, err := ProcessCommand("quit", m)
	if err != nil {
		t.Fatal(err)
	}
	if !quit {
		t.Fatal("quit should request quit")
	}
}

func TestCompleteCmdListsPrefixMatches(t *testing.T) {
	// Only "stats" has a short enough minimum-match length (2) to be
	// reachable from a two-letter prefix; start/stop/step all require
	// at least three letters.
	matches := CompleteCmd("st")
	if len(matches) != 1 || matches[0] != "stats" {
		t.Fatalf("matches = %v, want [stats]", matches)
	}
}
