/*
   vmcore - hotspot detector tests.

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

package hotspot

import (
	"log/slog"
	"testing"
	"time"

	"github.com/rcornwell/vmcore/ir"
)

func TestRecommendStartsAtInterpret(t *testing.T) {
	d := New(Config{}, slog.Default())
	defer d.Shutdown()

	key := BlockKey{PC: 0x1000, ASID: 0}
	if got := d.Recommend(key); got != ir.TierInterpret {
		t.Fatalf("recommend = %v, want TierInterpret for unseen block", got)
	}
}

func TestRecommendPromotesWithRepeatedExecution(t *testing.T) {
	d := New(Config{
		FastThreshold:       4,
		StandardThreshold:   16,
		AggressiveThreshold: 64,
	}, slog.Default())
	defer d.Shutdown()

	key := BlockKey{PC: 0x2000, ASID: 0}
	for i := 0; i < 100; i++ {
		d.Record(key, 10, 5)
	}
	got := d.Recommend(key)
	if got == ir.TierInterpret {
		t.Fatal("expected promotion after 100 executions")
	}
}

func TestDecayEventuallyForgetsColdBlocks(t *testing.T) {
	d := New(Config{DecayInterval: time.Millisecond, DecayFactor: 0.5, FastThreshold: 0.5}, slog.Default())
	defer d.Shutdown()

	key := BlockKey{PC: 0x3000, ASID: 0}
	d.Record(key, 1, 1)
	if got := d.Recommend(key); got == ir.TierInterpret {
		t.Fatal("expected a nonzero recommendation immediately after one record")
	}

	time.Sleep(50 * time.Millisecond)
	if got := d.Recommend(key); got != ir.TierInterpret {
		t.Fatalf("recommend = %v after decay, want TierInterpret once history has decayed away", got)
	}
}

func TestResetClearsHistory(t *testing.T) {
	d := New(Config{}, slog.Default())
	defer d.Shutdown()

	key := BlockKey{PC: 0x4000, ASID: 0}
	for i := 0; i < 50; i++ {
		d.Record(key, 5, 3)
	}
	d.Reset(key)
	if got := d.Recommend(key); got != ir.TierInterpret {
		t.Fatalf("recommend after reset = %v, want TierInterpret", got)
	}
}
