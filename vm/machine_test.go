/*
   vmcore - machine wiring tests.

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

package vm

import (
	"testing"
	"time"

	"github.com/rcornwell/vmcore/decode"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	m := New(Config{PhysicalBytes: 1 << 20})
	t.Cleanup(m.Shutdown)
	return m
}

func TestMachineRunsProgramToHalt(t *testing.T) {
	program, err := decode.AssembleProgram("ADDI r1, r0, 42\nHALT r0, 7\n")
	if err != nil {
		t.Fatal(err)
	}
	m := newTestMachine(t)
	if err := m.LoadImage(0, program); err != nil {
		t.Fatal(err)
	}

	done := make(chan RunResult, 1)
	go func() { done <- m.Run(0) }()

	select {
	case res := <-done:
		if res.Outcome != OutcomeHalted {
			t.Fatalf("outcome = %v, want halted", res.Outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("machine did not halt in time")
	}

	stats := m.Stats()
	if len(stats.VCPUs) != 1 {
		t.Fatalf("VCPUs = %d, want 1", len(stats.VCPUs))
	}
}

func TestMachineStatsReflectsEmptyCache(t *testing.T) {
	m := newTestMachine(t)
	stats := m.Stats()
	if stats.CodeCache.EntryCount != 0 {
		t.Fatalf("EntryCount = %d, want 0 on a fresh machine", stats.CodeCache.EntryCount)
	}
	if stats.GCPending != 0 {
		t.Fatalf("GCPending = %d, want 0 on a fresh machine", stats.GCPending)
	}
}
