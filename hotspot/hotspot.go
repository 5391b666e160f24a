/*
   vmcore - Hotspot detector: EWMA-based tier promotion.

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

// Package hotspot tracks how often and how expensively each guest block
// executes and recommends a compilation tier for it. It never compiles
// anything itself; codecache and jit act on its recommendation.
package hotspot

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rcornwell/vmcore/ir"
)

// BlockKey identifies a block independent of which tier currently backs
// it — the detector tracks one history per (PC, ASID), not per
// fingerprint, since promoting a block replaces its tier but not its
// identity.
type BlockKey struct {
	PC   ir.VAddr
	ASID ir.ASID
}

// Config tunes the EWMA decay rate and the scoring weights. Zero values
// fall back to defaults tuned for a ~1ms decay tick.
type Config struct {
	DecayInterval time.Duration // default 1ms
	DecayFactor   float64       // default 0.98, applied to freq EWMA each tick

	WeightFrequency  float64 // default 0.5
	WeightTime       float64 // default 0.35
	WeightComplexity float64 // default 0.15

	// Score thresholds: a block is recommended for the highest tier whose
	// threshold its score has reached, or TierInterpret if it has reached
	// none of them.
	FastThreshold       float64 // default 4
	StandardThreshold   float64 // default 16
	AggressiveThreshold float64 // default 64

	MaxCycles float64 // clamp for the time term; default 10000
}

func (c *Config) setDefaults() {
	if c.DecayInterval <= 0 {
		c.DecayInterval = time.Millisecond
	}
	if c.DecayFactor <= 0 {
		c.DecayFactor = 0.98
	}
	if c.WeightFrequency == 0 && c.WeightTime == 0 && c.WeightComplexity == 0 {
		c.WeightFrequency = 0.5
		c.WeightTime = 0.35
		c.WeightComplexity = 0.15
	}
	if c.FastThreshold <= 0 {
		c.FastThreshold = 4
	}
	if c.StandardThreshold <= 0 {
		c.StandardThreshold = 16
	}
	if c.AggressiveThreshold <= 0 {
		c.AggressiveThreshold = 64
	}
	if c.MaxCycles <= 0 {
		c.MaxCycles = 10000
	}
}

type counter struct {
	freqEWMA   float64
	cyclesEWMA float64
	blockSize  int
}

// Detector accumulates per-block execution history and recommends a tier.
// A background goroutine decays the frequency term on a regular tick, the
// same ticker-plus-done-channel shape the engine uses elsewhere for
// periodic background work.
type Detector struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	counters map[BlockKey]*counter

	wg   sync.WaitGroup
	done chan struct{}
}

// New starts a Detector; callers must call Shutdown when done with it.
func New(cfg Config, log *slog.Logger) *Detector {
	cfg.setDefaults()
	d := &Detector{
		cfg:      cfg,
		log:      log,
		counters: make(map[BlockKey]*counter),
		done:     make(chan struct{}),
	}
	d.wg.Add(1)
	go d.decayLoop()
	return d
}

func (d *Detector) decayLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.DecayInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.decay()
		case <-d.done:
			return
		}
	}
}

func (d *Detector) decay() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, c := range d.counters {
		c.freqEWMA *= d.cfg.DecayFactor
		if c.freqEWMA < 0.01 {
			delete(d.counters, key)
		}
	}
}

// Shutdown stops the decay goroutine, waiting briefly for it to exit.
func (d *Detector) Shutdown() {
	close(d.done)
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		d.log.Warn("hotspot: timed out waiting for decay loop to stop")
	}
}

// Record folds one execution of the block at key into its running
// history. cycles is the interpreter/JIT cost Result reported; blockSize
// is the op count (ir.Block.Size()).
func (d *Detector) Record(key BlockKey, cycles uint64, blockSize int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.counters[key]
	if !ok {
		c = &counter{}
		d.counters[key] = c
	}
	c.freqEWMA += 1.0
	const cyclesAlpha = 0.2
	c.cyclesEWMA = c.cyclesEWMA*(1-cyclesAlpha) + float64(cycles)*cyclesAlpha
	c.blockSize = blockSize
}

// score computes the weighted recommendation score for one counter: a
// frequency term, a clamped average-cost term, and a block-size term.
func (d *Detector) score(c *counter) float64 {
	clampedCycles := c.cyclesEWMA
	if clampedCycles > d.cfg.MaxCycles {
		clampedCycles = d.cfg.MaxCycles
	}
	return d.cfg.WeightFrequency*c.freqEWMA +
		d.cfg.WeightTime*clampedCycles +
		d.cfg.WeightComplexity*float64(c.blockSize)
}

// Recommend returns the tier a block's accumulated history justifies.
// It looks at key's own score only and does not rank blocks against
// each other, so there is no tie-breaking between blocks of equal
// score; block size enters only through the score's complexity term.
func (d *Detector) Recommend(key BlockKey) ir.Tier {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.counters[key]
	if !ok {
		return ir.TierInterpret
	}
	s := d.score(c)
	switch {
	case s >= d.cfg.AggressiveThreshold:
		return ir.TierAggressive
	case s >= d.cfg.StandardThreshold:
		return ir.TierStandard
	case s >= d.cfg.FastThreshold:
		return ir.TierFast
	default:
		return ir.TierInterpret
	}
}

// Reset drops all history for key, so its next Recommend returns
// TierInterpret. Neither code-cache eviction nor SMC invalidation calls
// it; a block's history survives both.
func (d *Detector) Reset(key BlockKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.counters, key)
}
