/*
   vmcore - Code-cache garbage collector: epoch-based reclamation.

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

// Package gc reclaims code-cache entries and their backing executable
// memory only once no vCPU goroutine can still be executing inside
// them. A published translation is never unmapped synchronously with
// eviction: a driver goroutine may be mid-CALL into it. Instead every
// eviction is staged under the epoch active when it happened, and is
// freed only once every vCPU has since crossed into a newer epoch —
// the same read-side-wins discipline RCU-style reclaimers use.
package gc

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rcornwell/vmcore/codecache"
	"github.com/rcornwell/vmcore/ir"
	"github.com/rcornwell/vmcore/jit"
)

// inactive marks a vCPU slot as not currently executing compiled code;
// it sorts above every real epoch so an inactive slot never blocks
// reclamation.
const inactive = math.MaxUint64

// retirement is one evicted code body waiting to be freed, staged at
// the global epoch observed when it was retired.
type retirement struct {
	epoch uint64
	code  []byte
}

// Config tunes how often Collector's background loop runs a
// reclamation pass, and the occupancy at which that pass logs that the
// cache is above its high watermark. Crossing the watermark does not
// start an extra pass or evict anything.
type Config struct {
	Tick              time.Duration // default 100ms
	HighWatermarkFrac float64       // default 0.9 of either region's budget
}

func (c *Config) setDefaults() {
	if c.Tick <= 0 {
		c.Tick = 100 * time.Millisecond
	}
	if c.HighWatermarkFrac <= 0 {
		c.HighWatermarkFrac = 0.9
	}
}

// Collector ties codecache eviction and jit's executable-memory pool
// together: every entry the cache drops is staged here, and its memory
// is returned to the OS only once every vCPU has quiesced past the
// eviction's epoch. Capacity eviction itself happens inside
// codecache.Insert; the Collector evicts only through Invalidate.
type Collector struct {
	cfg   Config
	log   *slog.Logger
	cache *codecache.Cache
	pool  *jit.ExecPool

	epoch      atomic.Uint64
	vcpuEpochs sync.Map // vcpu uint32 -> *atomic.Uint64

	mu      sync.Mutex
	pending []retirement

	wg   sync.WaitGroup
	done chan struct{}
}

// New constructs a Collector and starts its periodic reclamation loop.
// Callers must call Shutdown when the machine stops.
func New(cfg Config, cache *codecache.Cache, pool *jit.ExecPool, log *slog.Logger) *Collector {
	cfg.setDefaults()
	c := &Collector{cfg: cfg, log: log, cache: cache, pool: pool, done: make(chan struct{})}
	cache.SetEvictHook(func(e *codecache.Entry) { c.Retire(e.Code) })
	c.wg.Add(1)
	go c.loop()
	return c
}

func (c *Collector) loop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.epoch.Add(1)
			c.reclaim()
			if c.overWatermark() {
				c.log.Debug("gc: cache above high watermark, nothing more evictable this pass")
			}
		case <-c.done:
			return
		}
	}
}

// Shutdown stops the background loop and waits for it to exit.
func (c *Collector) Shutdown() {
	close(c.done)
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		c.log.Warn("gc: shutdown timed out waiting for reclamation loop")
	}
}

func (c *Collector) overWatermark() bool {
	st := c.cache.Stats()
	shortFrac := float64(st.ShortLivedUsed) / float64(st.ShortLivedBudget)
	longFrac := float64(st.LongLivedUsed) / float64(st.LongLivedBudget)
	return shortFrac >= c.cfg.HighWatermarkFrac || longFrac >= c.cfg.HighWatermarkFrac
}

// EnterVCPU records that vcpu is about to execute compiled code at the
// current global epoch; the driver calls this immediately before
// jit.Invoke and ExitVCPU immediately after.
func (c *Collector) EnterVCPU(vcpu uint32) {
	slot := c.vcpuSlot(vcpu)
	slot.Store(c.epoch.Load())
}

// ExitVCPU marks vcpu quiescent: it cannot be executing any compiled
// code a retirement might free.
func (c *Collector) ExitVCPU(vcpu uint32) {
	c.vcpuSlot(vcpu).Store(inactive)
}

func (c *Collector) vcpuSlot(vcpu uint32) *atomic.Uint64 {
	fresh := new(atomic.Uint64)
	fresh.Store(inactive)
	v, loaded := c.vcpuEpochs.LoadOrStore(vcpu, fresh)
	if loaded {
		return v.(*atomic.Uint64)
	}
	return fresh
}

// minActiveEpoch returns the oldest epoch any vCPU is still inside, or
// the current epoch if none are active.
func (c *Collector) minActiveEpoch() uint64 {
	min := c.epoch.Load()
	c.vcpuEpochs.Range(func(_, v any) bool {
		e := v.(*atomic.Uint64).Load()
		if e != inactive && e < min {
			min = e
		}
		return true
	})
	return min
}

// Invalidate evicts every cache entry touching physical page pa and
// stages their code for reclamation once safe, used on a self-modifying
// code write-fault. It returns the evicted fingerprints so the caller
// can unwind whatever bookkeeping it did when each one was published
// (the driver's SMC handler uses this to drop the page's code-resident
// refcount once per entry that held it).
func (c *Collector) Invalidate(pa ir.PAddr) []ir.Fingerprint {
	fps := c.cache.Invalidate(pa)
	if len(fps) > 0 {
		c.log.Debug("gc: invalidated fingerprints on SMC write", "count", len(fps), "page", pa)
	}
	c.epoch.Add(1)
	return fps
}

// Retire stages a just-evicted code body for reclamation; codecache's
// Insert/Invalidate callers pass the Entry.Code they just displaced.
func (c *Collector) Retire(code []byte) {
	if len(code) == 0 {
		return
	}
	c.mu.Lock()
	c.pending = append(c.pending, retirement{epoch: c.epoch.Load(), code: code})
	c.mu.Unlock()
}

// reclaim frees every retirement whose epoch every vCPU has since
// passed.
func (c *Collector) reclaim() {
	safe := c.minActiveEpoch()
	c.mu.Lock()
	var keep []retirement
	var free []retirement
	for _, r := range c.pending {
		if r.epoch < safe {
			free = append(free, r)
		} else {
			keep = append(keep, r)
		}
	}
	c.pending = keep
	c.mu.Unlock()

	for _, r := range free {
		if err := c.pool.Release(r.code); err != nil {
			c.log.Warn("gc: failed to release reclaimed code region", "error", err)
		}
	}
	if len(free) > 0 {
		c.log.Debug("gc: reclaimed code regions", "count", len(free))
	}
}

// PendingCount reports retirements awaiting a safe epoch, surfaced by
// the operator console's stats command.
func (c *Collector) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
