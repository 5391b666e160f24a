/*
   vmcore - code cache reclamation tests.

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

package gc

import (
	"log/slog"
	"testing"
	"time"

	"github.com/rcornwell/vmcore/codecache"
	"github.com/rcornwell/vmcore/ir"
	"github.com/rcornwell/vmcore/jit"
)

func newTestCollector(t *testing.T) (*Collector, *codecache.Cache) {
	t.Helper()
	cache := codecache.New(codecache.Config{ShortLivedBytes: 64}, slog.Default())
	pool := jit.NewExecPool()
	c := New(Config{Tick: time.Millisecond}, cache, pool, slog.Default())
	t.Cleanup(c.Shutdown)
	return c, cache
}

func TestEnterExitVCPUTracksEpoch(t *testing.T) {
	c, _ := newTestCollector(t)
	c.EnterVCPU(1)
	if got := c.minActiveEpoch(); got != 0 {
		t.Fatalf("minActiveEpoch = %d, want 0 while vcpu 1 active at epoch 0", got)
	}
	c.ExitVCPU(1)
	c.epoch.Add(5)
	if got := c.minActiveEpoch(); got != 5 {
		t.Fatalf("minActiveEpoch = %d, want 5 once vcpu 1 is quiescent", got)
	}
}

func TestRetireIsFreedOnlyAfterAllVCPUsAdvance(t *testing.T) {
	c, _ := newTestCollector(t)
	c.EnterVCPU(1)

	c.Retire(make([]byte, 8))
	if got := c.PendingCount(); got != 1 {
		t.Fatalf("PendingCount = %d, want 1 immediately after Retire", got)
	}

	c.reclaim() // vcpu 1 still pinned at epoch 0: nothing is safe yet
	if got := c.PendingCount(); got != 1 {
		t.Fatalf("PendingCount = %d after reclaim with an active vcpu, want 1 (not yet safe)", got)
	}

	c.ExitVCPU(1)
	c.epoch.Add(1)
	c.reclaim()
	if got := c.PendingCount(); got != 0 {
		t.Fatalf("PendingCount = %d after vcpu quiesced, want 0", got)
	}
}

func TestEvictionFromCacheIsRetiredAutomatically(t *testing.T) {
	c, cache := newTestCollector(t)
	fpLow := ir.Fingerprint{PC: 1, Tier: ir.TierFast}
	fpHigh := ir.Fingerprint{PC: 2, Tier: ir.TierFast}

	if _, err := cache.Insert(fpLow, &ir.Block{}, make([]byte, 40), nil, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Insert(fpHigh, &ir.Block{}, make([]byte, 40), nil, 1000); err != nil {
		t.Fatal(err)
	}
	if got := c.PendingCount(); got != 1 {
		t.Fatalf("PendingCount = %d, want 1 (fpLow's eviction staged)", got)
	}
}

func TestInvalidateAdvancesEpoch(t *testing.T) {
	c, cache := newTestCollector(t)
	fp := ir.Fingerprint{PC: 1, Tier: ir.TierStandard}
	blk := &ir.Block{Pages: []ir.PAddr{0x4000}}
	if _, err := cache.Insert(fp, blk, []byte{1, 2}, nil, 1); err != nil {
		t.Fatal(err)
	}
	before := c.epoch.Load()
	c.Invalidate(0x4000)
	if c.epoch.Load() <= before {
		t.Fatal("expected Invalidate to advance the global epoch")
	}
}
