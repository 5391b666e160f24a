/*
   vmcore - top-level machine: wires decode, interp, jit, hotspot,
   codecache, gc, and driver into a runnable multi-vCPU engine.

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

// Package vm assembles every other package into a Machine: the single
// object an operator (or main.go) constructs, feeds a memory image and
// an entry PC, and runs to completion. Everything below this layer
// (decode, interp, jit, hotspot, codecache, gc, accel, driver) is
// reusable in isolation; vm exists only to wire them together the way
// a real engine's top-level harness would.
package vm

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/rcornwell/vmcore/accel"
	"github.com/rcornwell/vmcore/codecache"
	"github.com/rcornwell/vmcore/decode"
	"github.com/rcornwell/vmcore/driver"
	"github.com/rcornwell/vmcore/gc"
	"github.com/rcornwell/vmcore/hotspot"
	"github.com/rcornwell/vmcore/ir"
	"github.com/rcornwell/vmcore/jit"
	"github.com/rcornwell/vmcore/mmu"
)

// Outcome summarizes how Run ended: Halted or Fault, plus Stopped for
// an operator-requested shutdown mid-run.
type Outcome uint8

const (
	OutcomeHalted Outcome = iota
	OutcomeFault
	OutcomeStopped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHalted:
		return "halted"
	case OutcomeFault:
		return "fault"
	case OutcomeStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// RunResult is Run's return value for a single vCPU.
type RunResult struct {
	Outcome  Outcome
	HaltCode uint8
	Fault    *mmu.Fault
}

// Config sizes every subsystem. Zero-valued fields take each
// subsystem's own documented defaults.
type Config struct {
	PhysicalBytes   uint64
	TLBL1Entries    int
	TLBL2Entries    int
	StrictAlignment bool

	CodeCacheShortLivedBytes int64
	CodeCacheLongLivedBytes  int64

	Hotspot hotspot.Config
	GC      gc.Config

	CompileWorkers int // default 2
	CompileQueueLen int // default 256

	EnableAccelerator bool // false => accel.Software{} always used
	VCPUCount         int  // default 1

	// FaultHandler, if set, is consulted for every non-SMC guest fault
	// (self-modifying-code write-faults are always handled internally
	// and never reach it). A nil handler halts the vCPU on first fault,
	// since vmcore has no built-in notion of a guest OS's trap vectors.
	FaultHandler driver.FaultHandler

	Log *slog.Logger
}

func (c *Config) setDefaults() {
	if c.CompileWorkers <= 0 {
		c.CompileWorkers = 2
	}
	if c.CompileQueueLen <= 0 {
		c.CompileQueueLen = 256
	}
	if c.VCPUCount <= 0 {
		c.VCPUCount = 1
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
}

// Machine owns every subsystem instance shared by its vCPUs.
type Machine struct {
	cfg Config
	log *slog.Logger

	mmu       *mmu.MMU
	cache     *codecache.Cache
	hot       *hotspot.Detector
	pool      *jit.ExecPool
	collector *gc.Collector
	native    accel.Backend
	decoder   decode.Decoder

	compileQueue driver.CompileQueue
	workersDone  chan struct{}
	workersWg    *sync.WaitGroup

	drivers []*driver.Driver
}

// New builds a Machine and starts its background compile workers and
// code-cache garbage collector. Callers load guest memory afterward via
// LoadImage, then call Run.
func New(cfg Config) *Machine {
	cfg.setDefaults()

	m := mmu.New(mmu.Config{
		PhysicalBytes:   cfg.PhysicalBytes,
		TLBL1Entries:    cfg.TLBL1Entries,
		TLBL2Entries:    cfg.TLBL2Entries,
		StrictAlignment: cfg.StrictAlignment,
	}, cfg.Log)

	cache := codecache.New(codecache.Config{
		ShortLivedBytes: cfg.CodeCacheShortLivedBytes,
		LongLivedBytes:  cfg.CodeCacheLongLivedBytes,
	}, cfg.Log)

	hot := hotspot.New(cfg.Hotspot, cfg.Log)
	pool := jit.NewExecPool()
	collector := gc.New(cfg.GC, cache, pool, cfg.Log)

	var native accel.Backend = accel.Software{}
	if cfg.EnableAccelerator {
		native = accel.DefaultBackend()
	}

	queue := driver.NewCompileQueue(cfg.CompileQueueLen)
	workersDone := make(chan struct{})
	wg := driver.StartCompileWorkers(cfg.CompileWorkers, queue, cache, pool, m, cfg.Log, workersDone)

	return &Machine{
		cfg:          cfg,
		log:          cfg.Log,
		mmu:          m,
		cache:        cache,
		hot:          hot,
		pool:         pool,
		collector:    collector,
		native:       native,
		decoder:      decode.NewRefDecoder(m),
		compileQueue: queue,
		workersDone:  workersDone,
		workersWg:    wg,
	}
}

// LoadImage writes image into a freshly allocated physical frame range
// starting at guest virtual address base, under ASID 0, and maps it
// read/write/execute (a flat boot image, not a demand-paged one — guest-
// OS-visible paging policy is out of scope, only the MMU's own
// translation and protection are).
func (vmach *Machine) LoadImage(base uint64, image []byte) error {
	offset := uint64(0)
	for offset < uint64(len(image)) {
		frame, err := vmach.mmu.AllocFrame()
		if err != nil {
			return fmt.Errorf("vm: loading image: %w", err)
		}
		n := uint64(len(image)) - offset
		if n > mmu.PageSize {
			n = mmu.PageSize
		}
		copy(vmach.mmu.PhysBytes(frame, int(n)), image[offset:offset+n])
		vmach.mmu.InstallMapping(0, base+offset, frame, mmu.PermRead|mmu.PermWrite|mmu.PermExecute)
		offset += n
	}
	return nil
}

// LoadAOTCache ingests a previously-written code-cache image (see
// codecache.WriteAOTImage). Each record is re-validated by re-decoding
// the guest bytes currently mapped at its PC: a record whose PC no
// longer decodes (unmapped, or not a valid instruction) is skipped. The
// freshly decoded block is cached with the record's code; its length is
// not compared with the block the record was compiled from.
func (vmach *Machine) LoadAOTCache(r io.Reader) error {
	records, err := codecache.ReadAOTImage(r, vmach.log)
	if err != nil {
		return err
	}
	for _, rec := range records {
		blk, err := vmach.decoder.Decode(0, rec.Fingerprint.ASID, rec.Fingerprint.PC)
		if err != nil {
			continue
		}
		if _, err := vmach.cache.Insert(rec.Fingerprint, blk, rec.Code, rec.Metadata, float64(blk.Size())); err != nil {
			vmach.log.Debug("vm: AOT record could not be reinstated", "pc", rec.Fingerprint.PC, "error", err)
		}
	}
	return nil
}

// WriteAOTCache persists the current long-lived code-cache region so a
// future Machine can skip warm-up for the same guest image.
func (vmach *Machine) WriteAOTCache(w io.Writer) error {
	return vmach.cache.WriteAOTImage(w)
}

// Run starts vCPU 0 at pc and blocks until it halts or faults fatally.
// Additional vCPUs (up to Config.VCPUCount) can be started with
// RunVCPU for multi-processor guest images.
func (vmach *Machine) Run(pc ir.VAddr) RunResult {
	return vmach.RunVCPU(0, pc)
}

// RunVCPU runs a specific vCPU id starting at pc, constructing its
// Driver lazily on first use.
func (vmach *Machine) RunVCPU(id uint32, pc ir.VAddr) RunResult {
	d := vmach.driverFor(id)
	d.Run(pc)

	switch d.State() {
	case driver.Halted:
		return RunResult{Outcome: OutcomeHalted}
	case driver.Faulting:
		return RunResult{Outcome: OutcomeFault}
	default:
		return RunResult{Outcome: OutcomeStopped}
	}
}

func (vmach *Machine) driverFor(id uint32) *driver.Driver {
	for _, d := range vmach.drivers {
		if d.ID() == id {
			return d
		}
	}
	regs := ir.NewRegisterFile(decode.ReferenceArch())
	d := driver.New(driver.Config{
		ID:           id,
		ASID:         0,
		Regs:         regs,
		MMU:          vmach.mmu,
		Decoder:      vmach.decoder,
		Cache:        vmach.cache,
		Hotspot:      vmach.hot,
		Collector:    vmach.collector,
		Native:       vmach.native,
		CompileQueue: vmach.compileQueue,
		OnFault:      vmach.cfg.FaultHandler,
		Log:          vmach.log,
	})
	vmach.drivers = append(vmach.drivers, d)
	return d
}

// Lookup reports whether fp has a published translation, for the
// operator console's "tiers" command.
func (vmach *Machine) Lookup(fp ir.Fingerprint) (*codecache.Entry, bool) {
	return vmach.cache.Lookup(fp)
}

// Invalidate evicts every cached translation whose guest code resides
// on physical page pa, for the operator console's "invalidate" command.
// The driver's self-modifying-code path does not use it; it invalidates
// through the gc collector instead.
func (vmach *Machine) Invalidate(pa ir.PAddr) []ir.Fingerprint {
	return vmach.cache.Invalidate(pa)
}

// Shutdown stops every running vCPU and the background compile workers
// and garbage collector.
func (vmach *Machine) Shutdown() {
	for _, d := range vmach.drivers {
		d.Stop()
	}
	close(vmach.workersDone)
	vmach.workersWg.Wait()
	vmach.collector.Shutdown()
}
