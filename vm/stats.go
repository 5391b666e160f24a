/*
   vmcore - machine statistics.

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
	"github.com/rcornwell/vmcore/codecache"
	"github.com/rcornwell/vmcore/driver"
)

// VCPUStats reports one vCPU's observable state for the operator
// console's "stats" command.
type VCPUStats struct {
	ID    uint32
	State driver.State
}

// Stats aggregates the counters an operator needs to judge engine
// health: code-cache occupancy, how much compiled code is still
// awaiting epoch-safe reclamation, how many executable-memory regions
// the JIT currently holds mapped, and every vCPU's current phase.
type Stats struct {
	CodeCache    codecache.Stats
	GCPending    int
	ExecRegions  int
	VCPUs        []VCPUStats
}

// Stats snapshots the machine's current counters. Safe to call while
// vCPUs are running.
func (vmach *Machine) Stats() Stats {
	s := Stats{
		CodeCache:   vmach.cache.Stats(),
		GCPending:   vmach.collector.PendingCount(),
		ExecRegions: vmach.pool.RegionCount(),
	}
	for _, d := range vmach.drivers {
		s.VCPUs = append(s.VCPUs, VCPUStats{ID: d.ID(), State: d.State()})
	}
	return s
}
