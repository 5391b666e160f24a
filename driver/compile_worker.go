/*
   vmcore - background compile workers.

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

package driver

import (
	"log/slog"
	"sync"

	"github.com/rcornwell/vmcore/codecache"
	"github.com/rcornwell/vmcore/jit"
	"github.com/rcornwell/vmcore/mmu"
)

// CompileQueue is the shared channel vCPU drivers submit compile jobs
// to and the background compile workers drain; its buffer size bounds
// how many hot-block submissions can be outstanding before a driver
// starts dropping them (submitCompile's non-blocking send).
type CompileQueue chan compileJob

// NewCompileQueue allocates a buffered queue of the given capacity.
func NewCompileQueue(capacity int) CompileQueue {
	return make(CompileQueue, capacity)
}

// StartCompileWorkers launches n goroutines draining queue, each
// compiling a job via jit.Compile and publishing the result into cache
// under the job's fingerprint. Unsupported-op and budget failures are
// logged at debug level and simply drop the job — the block keeps
// running at its current tier and may be resubmitted later if it's
// still hot.
func StartCompileWorkers(n int, queue CompileQueue, cache *codecache.Cache, pool *jit.ExecPool, m *mmu.MMU, log *slog.Logger, done <-chan struct{}) *sync.WaitGroup {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				case job, ok := <-queue:
					if !ok {
						return
					}
					compileOne(job, cache, pool, m, log)
				}
			}
		}(i)
	}
	return &wg
}

func compileOne(job compileJob, cache *codecache.Cache, pool *jit.ExecPool, m *mmu.MMU, log *slog.Logger) {
	res, err := jit.Compile(job.blk, job.tier, pool)
	if err != nil {
		log.Debug("driver: background compile declined", "vcpu", job.vcpu, "pc", job.fp.PC, "tier", job.tier.String(), "error", err)
		return
	}
	hotness := float64(job.blk.Size())
	if _, err := cache.Insert(job.fp, job.blk, res.Code, nil, hotness); err != nil {
		log.Debug("driver: compiled code could not be cached", "vcpu", job.vcpu, "pc", job.fp.PC, "error", err)
		return
	}
	// Mark every page this block's guest bytes live on as code-resident
	// so a later store into one of them faults instead of silently
	// running stale compiled code. One refcount bump per page per
	// published entry; driver.handleCodeWriteFault drops exactly as
	// many on eviction as cache.Invalidate reports removed.
	for _, page := range job.blk.Pages {
		m.ProtectCodePage(job.asid, uint64(page))
	}
}
