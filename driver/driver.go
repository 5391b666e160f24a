/*
   vmcore - per-vCPU driver: decode/execute loop and tier dispatch.

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

// Package driver runs one vCPU's fetch-decode-execute loop: decode a
// block, ask the hotspot detector what tier it deserves, dispatch to
// interp or a compiled translation, submit async compiles when a block
// runs hot enough, and route faults either back to a guest handler or
// to a halt. Modeled on emu/core's run-loop shape (a goroutine looping
// on a running flag with a done channel and a command channel it
// drains non-blockingly each iteration) generalized from one fixed CPU
// to an arbitrary number of vCPUs, each with its own goroutine and
// Driver.
package driver

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rcornwell/vmcore/accel"
	"github.com/rcornwell/vmcore/codecache"
	"github.com/rcornwell/vmcore/decode"
	"github.com/rcornwell/vmcore/gc"
	"github.com/rcornwell/vmcore/hotspot"
	"github.com/rcornwell/vmcore/interp"
	"github.com/rcornwell/vmcore/ir"
	"github.com/rcornwell/vmcore/mmu"
)

// State is a vCPU's current phase, reported by the operator console's
// stats command.
type State uint8

const (
	Idle State = iota
	Fetching
	Interpreting
	JitRunning
	Faulting
	Halted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Interpreting:
		return "interpreting"
	case JitRunning:
		return "jit-running"
	case Faulting:
		return "faulting"
	case Halted:
		return "halted"
	default:
		return "unknown"
	}
}

// FaultHandler is invoked when a block faults; it decides whether the
// guest's own trap handling should resume execution at a new PC or
// whether the fault is fatal to this vCPU.
type FaultHandler func(vcpu uint32, fault *mmu.Fault) (resumePC ir.VAddr, handled bool)

// compileJob is submitted to the shared compile worker pool when the
// hotspot detector recommends a tier above the one currently running.
type compileJob struct {
	vcpu uint32
	asid mmu.ASIDKey
	blk  *ir.Block
	tier ir.Tier
	fp   ir.Fingerprint
}

// Driver owns one vCPU's execution state and register file.
type Driver struct {
	id        uint32
	asid      mmu.ASIDKey
	regs      *ir.RegisterFile
	mmu       *mmu.MMU
	decoder   decode.Decoder
	cache     *codecache.Cache
	hot       *hotspot.Detector
	collector *gc.Collector
	native    accel.Backend
	onFault   FaultHandler
	log       *slog.Logger

	compileQueue chan<- compileJob

	// backingTier records, per block, the tier the driver actually ran
	// last time it reached this PC — not whatever the hotspot detector
	// currently recommends, which can race ahead of what has actually
	// finished compiling. Run only ever looks the cache up by this tier
	// (or recommended, the first time a block's compile lands), so a
	// block stays on its last-known-good compiled tier across the whole
	// promotion window instead of dropping to interpretation the moment
	// the detector recommends a tier nothing has published yet.
	backingTier map[hotspot.BlockKey]ir.Tier

	mu    sync.Mutex
	state State

	stop chan struct{}
	wg   sync.WaitGroup
}

// Config groups a Driver's fixed collaborators, supplied by vm.Machine
// at vCPU construction time.
type Config struct {
	ID           uint32
	ASID         mmu.ASIDKey
	Regs         *ir.RegisterFile
	MMU          *mmu.MMU
	Decoder      decode.Decoder
	Cache        *codecache.Cache
	Hotspot      *hotspot.Detector
	Collector    *gc.Collector
	Native       accel.Backend
	OnFault      FaultHandler
	CompileQueue chan<- compileJob
	Log          *slog.Logger
}

// New constructs a Driver in state Idle.
func New(cfg Config) *Driver {
	return &Driver{
		id:           cfg.ID,
		asid:         cfg.ASID,
		regs:         cfg.Regs,
		mmu:          cfg.MMU,
		decoder:      cfg.Decoder,
		cache:        cfg.Cache,
		hot:          cfg.Hotspot,
		collector:    cfg.Collector,
		native:       cfg.Native,
		onFault:      cfg.OnFault,
		compileQueue: cfg.CompileQueue,
		backingTier:  make(map[hotspot.BlockKey]ir.Tier),
		log:          cfg.Log,
		stop:         make(chan struct{}),
	}
}

// ID returns the vCPU id this driver was constructed for.
func (d *Driver) ID() uint32 { return d.id }

// State reports the vCPU's current phase.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Run executes blocks starting at pc until Stop is called or the guest
// halts or an unhandled fault occurs. It blocks the calling goroutine;
// callers that want this non-blocking should `go d.Run(pc)`.
func (d *Driver) Run(pc ir.VAddr) {
	d.wg.Add(1)
	defer d.wg.Done()

	cur := pc
	for {
		select {
		case <-d.stop:
			d.setState(Idle)
			return
		default:
		}

		d.setState(Fetching)
		blk, err := d.decoder.Decode(d.id, ir.ASID(d.asid), cur)
		if err != nil {
			d.setState(Faulting)
			d.log.Error("driver: decode failed", "vcpu", d.id, "pc", cur, "error", err)
			return
		}

		key := hotspot.BlockKey{PC: cur, ASID: ir.ASID(d.asid)}
		recommended := d.hot.Recommend(key)
		backing := d.backingTier[key]

		var result interp.Result
		ran := false

		if backing != ir.TierInterpret {
			if entry, ok := d.cache.Lookup(ir.Fingerprint{PC: cur, ASID: ir.ASID(d.asid), Tier: backing}); ok {
				result = d.runNative(entry)
				ran = true
				if recommended > backing {
					if _, ok := d.cache.Lookup(ir.Fingerprint{PC: cur, ASID: ir.ASID(d.asid), Tier: recommended}); ok {
						d.backingTier[key] = recommended
					} else {
						d.submitCompile(cur, blk, recommended)
					}
				}
			} else {
				// Evicted since we last ran it; forget the stale tier and
				// fall through to interpretation/recommended below.
				delete(d.backingTier, key)
				backing = ir.TierInterpret
			}
		}

		if !ran && recommended != ir.TierInterpret {
			if entry, ok := d.cache.Lookup(ir.Fingerprint{PC: cur, ASID: ir.ASID(d.asid), Tier: recommended}); ok {
				d.backingTier[key] = recommended
				result = d.runNative(entry)
				ran = true
			}
		}

		if !ran {
			d.setState(Interpreting)
			result = interp.Run(d.id, d.asid, d.mmu, d.regs, blk)
			if recommended > backing {
				d.submitCompile(cur, blk, recommended)
			}
		}

		d.hot.Record(key, result.Cycles, blk.Size())

		switch result.Outcome {
		case interp.Continue:
			cur = result.NextPC
		case interp.Halted:
			d.setState(Halted)
			return
		case interp.Faulted:
			if result.Fault != nil && result.Fault.Kind == mmu.FaultWriteToCodePage {
				d.handleCodeWriteFault(result.Fault)
				continue
			}
			d.setState(Faulting)
			if d.onFault == nil {
				return
			}
			resume, handled := d.onFault(d.id, result.Fault)
			if !handled {
				return
			}
			cur = resume
		case interp.Invalid:
			d.setState(Faulting)
			d.log.Error("driver: invalid execution state", "vcpu", d.id, "pc", cur, "error", result.Err)
			return
		}
	}
}

// handleCodeWriteFault services a guest store into a page the JIT has
// published compiled code from: it evicts every cached translation on
// that page, drops the page's code-resident refcount once per entry
// evicted (matching the refcounts compileOne took out at publish
// time), and invalidates this vCPU's cached translation for the page
// so the retried store sees the page as plain data. The guest never
// observes this fault; Run retries at the same PC once it returns.
func (d *Driver) handleCodeWriteFault(fault *mmu.Fault) {
	var removed []ir.Fingerprint
	if d.collector != nil {
		removed = d.collector.Invalidate(ir.PAddr(fault.PageBase))
	} else {
		removed = d.cache.Invalidate(ir.PAddr(fault.PageBase))
	}
	for range removed {
		d.mmu.UnprotectCodePage(d.asid, fault.PageBase)
	}
	vpage := fault.VA &^ (mmu.PageSize - 1)
	d.mmu.TLBFor(d.id).InvalidatePage(vpage)
}

// runNative dispatches entry to the native backend, bracketing it with
// the collector's per-vCPU quiescence tracking so a GC sweep triggered
// by another vCPU never reclaims code this one is currently executing.
func (d *Driver) runNative(entry *codecache.Entry) interp.Result {
	d.setState(JitRunning)
	if d.collector != nil {
		d.collector.EnterVCPU(d.id)
	}
	result := d.native.RunNative(d.id, d.asid, d.mmu, d.regs, entry, nil)
	if d.collector != nil {
		d.collector.ExitVCPU(d.id)
	}
	return result
}

// submitCompile enqueues a background compile for blk at tier,
// non-blocking: if the shared worker pool's queue is full the request
// is dropped and will simply be retried next time this block is hot
// enough to ask again.
func (d *Driver) submitCompile(pc ir.VAddr, blk *ir.Block, tier ir.Tier) {
	if d.compileQueue == nil {
		return
	}
	job := compileJob{
		vcpu: d.id,
		asid: d.asid,
		blk:  blk,
		tier: tier,
		fp:   ir.Fingerprint{PC: pc, ASID: ir.ASID(d.asid), Tier: tier},
	}
	select {
	case d.compileQueue <- job:
	default:
		d.log.Debug("driver: compile queue full, dropping submission", "vcpu", d.id, "pc", pc, "tier", tier.String())
	}
}

// Stop requests the run loop exit at the next block boundary and waits
// for it to do so.
func (d *Driver) Stop() {
	close(d.stop)
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		d.log.Warn("driver: stop timed out waiting for vcpu to reach a block boundary", "vcpu", d.id)
	}
}
