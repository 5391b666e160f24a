/*
   vmcore - Code cache: published translations, keyed by fingerprint.

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

// Package codecache holds published JIT translations, keyed by
// ir.Fingerprint, under a shared byte budget split between a short-lived
// T1 region and a longer-lived T2/T3 region. Eviction never blocks a
// lookup: when a region is full, Insert evicts that region's
// lowest-value entries to make room, and refuses the insertion only if
// the new entry cannot fit even in an empty region.
package codecache

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/rcornwell/vmcore/ir"
)

// ErrCacheFull is returned by Insert when the new entry is larger than
// its region's whole budget, or when evicting every other entry in that
// region still leaves no room for it.
var ErrCacheFull = errors.New("codecache: cache full")

// Entry is one published translation. Code is the raw bytes the JIT
// produced (for a native tier) or nil for an interpreted fingerprint
// that is cached only for its Block. Handle ties an entry to the
// generation the GC package reclaims by epoch.
type Entry struct {
	Fingerprint ir.Fingerprint
	Block       *ir.Block
	Code        []byte // JIT-compiled machine code, nil for T0
	Metadata    []byte // tier-specific side table (e.g. safepoint map)

	hotness   float64 // last hotspot score observed at publish time
	sizeBytes int64
	region    regionKind
}

type regionKind uint8

const (
	regionShortLived regionKind = iota // T1
	regionLongLived                    // T2, T3
)

// Config sets the two regions' byte budgets.
type Config struct {
	ShortLivedBytes int64 // default 4 MiB
	LongLivedBytes  int64 // default 32 MiB
}

func (c *Config) setDefaults() {
	if c.ShortLivedBytes <= 0 {
		c.ShortLivedBytes = 4 << 20
	}
	if c.LongLivedBytes <= 0 {
		c.LongLivedBytes = 32 << 20
	}
}

// Cache is the shared code cache. All methods are safe for concurrent use
// by multiple vCPU driver goroutines.
type Cache struct {
	cfg Config
	log *slog.Logger

	mu      sync.RWMutex
	entries map[ir.Fingerprint]*Entry

	shortUsed int64
	longUsed  int64

	onEvict func(*Entry)
}

// New constructs an empty cache with the given region budgets.
func New(cfg Config, log *slog.Logger) *Cache {
	cfg.setDefaults()
	return &Cache{
		cfg:     cfg,
		log:     log,
		entries: make(map[ir.Fingerprint]*Entry),
	}
}

// SetEvictHook registers fn to be called, synchronously and under the
// cache's own lock, every time an entry is removed — whether by
// capacity eviction, replacement, or invalidation. The gc package uses
// this to stage the entry's native code for epoch-based reclamation
// rather than it being silently dropped on the floor.
func (c *Cache) SetEvictHook(fn func(*Entry)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

func regionFor(tier ir.Tier) regionKind {
	if tier == ir.TierFast {
		return regionShortLived
	}
	return regionLongLived
}

// Lookup returns the published entry for fp, if any.
func (c *Cache) Lookup(fp ir.Fingerprint) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[fp]
	return e, ok
}

// Insert publishes a new translation, evicting the lowest-value entries
// in the same region (by hotness/size_bytes, ascending) until there is
// room, or failing with ErrCacheFull if even evicting everything else in
// the region would not make space.
func (c *Cache) Insert(fp ir.Fingerprint, blk *ir.Block, code, metadata []byte, hotness float64) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(len(code)) + int64(len(metadata))
	region := regionFor(fp.Tier)
	budget := c.cfg.ShortLivedBytes
	used := &c.shortUsed
	if region == regionLongLived {
		budget = c.cfg.LongLivedBytes
		used = &c.longUsed
	}

	if old, ok := c.entries[fp]; ok {
		c.releaseLocked(old)
	}

	if size > budget {
		return nil, ErrCacheFull
	}

	for *used+size > budget {
		victim := c.cheapestInRegionLocked(region)
		if victim == nil {
			return nil, ErrCacheFull
		}
		c.releaseLocked(victim)
		delete(c.entries, victim.Fingerprint)
	}

	e := &Entry{
		Fingerprint: fp,
		Block:       blk,
		Code:        code,
		Metadata:    metadata,
		hotness:     hotness,
		sizeBytes:   size,
		region:      region,
	}
	c.entries[fp] = e
	*used += size
	c.log.Debug("codecache: published", "fingerprint", fp.PC.String(), "tier", fp.Tier.String(), "bytes", size)
	return e, nil
}

// cheapestInRegionLocked returns the entry with the lowest hotness/size
// ratio in region, the value-based eviction order.
// Caller must hold c.mu.
func (c *Cache) cheapestInRegionLocked(region regionKind) *Entry {
	var worst *Entry
	var worstValue float64
	for _, e := range c.entries {
		if e.region != region {
			continue
		}
		value := e.hotness / float64(e.sizeBytes+1)
		if worst == nil || value < worstValue {
			worst = e
			worstValue = value
		}
	}
	return worst
}

func (c *Cache) releaseLocked(e *Entry) {
	if e.region == regionShortLived {
		c.shortUsed -= e.sizeBytes
	} else {
		c.longUsed -= e.sizeBytes
	}
	if c.onEvict != nil {
		c.onEvict(e)
	}
}

// Invalidate removes every entry whose Block touches page pa — used by
// self-modifying-code detection when the MMU reports a write to a
// code-resident physical page.
func (c *Cache) Invalidate(pa ir.PAddr) []ir.Fingerprint {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed []ir.Fingerprint
	for fp, e := range c.entries {
		for _, p := range e.Block.Pages {
			if p == pa {
				c.releaseLocked(e)
				delete(c.entries, fp)
				removed = append(removed, fp)
				break
			}
		}
	}
	return removed
}

// InvalidateASID removes every entry for asid, used when an address
// space is torn down.
func (c *Cache) InvalidateASID(asid ir.ASID) []ir.Fingerprint {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed []ir.Fingerprint
	for fp, e := range c.entries {
		if fp.ASID == asid {
			c.releaseLocked(e)
			delete(c.entries, fp)
			removed = append(removed, fp)
		}
	}
	return removed
}

// Stats reports current occupancy, surfaced by the operator console.
type Stats struct {
	ShortLivedUsed, ShortLivedBudget int64
	LongLivedUsed, LongLivedBudget   int64
	EntryCount                       int
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		ShortLivedUsed:   c.shortUsed,
		ShortLivedBudget: c.cfg.ShortLivedBytes,
		LongLivedUsed:    c.longUsed,
		LongLivedBudget:  c.cfg.LongLivedBytes,
		EntryCount:       len(c.entries),
	}
}
