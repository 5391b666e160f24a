/*
   vmcore - executable memory management.

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

//go:build linux

/*
   vmcore - W^X executable memory pool for published JIT translations.

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

package jit

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

// pageSize is read once at package init; it's a syscall on most
// platforms unix supports so callers shouldn't repeat it per mapping.
var pageSize = unix.Getpagesize()

// region is one mmap'd slab, written while PROT_READ|PROT_WRITE and
// flipped to PROT_READ|PROT_EXEC before any code in it is reachable —
// never both at once, the W^X discipline this package enforces.
type region struct {
	mem    []byte
	used   int
	frozen bool
}

// ExecPool hands out page-aligned, write-then-execute memory for
// compiled code bodies. Each Publish call gets its own region sized to
// the code plus page rounding: a dedicated mmap per translation is
// wasteful of mappings but makes per-entry munmap on eviction trivial,
// and GC-triggered reclamation (package gc) needs exactly that.
type ExecPool struct {
	mu      sync.Mutex
	regions map[*region]struct{}
}

// NewExecPool constructs an empty pool.
func NewExecPool() *ExecPool {
	return &ExecPool{regions: make(map[*region]struct{})}
}

var errEmptyCode = errors.New("jit: cannot publish empty code body")

// Publish copies code into a fresh W^X mapping, flips it executable,
// flushes the instruction cache for the range, and returns a slice over
// the now-PROT_READ|PROT_EXEC memory. The returned slice must not be
// written to; callers needing to free it pass it to Release.
func (p *ExecPool) Publish(code []byte) ([]byte, error) {
	if len(code) == 0 {
		return nil, errEmptyCode
	}
	size := roundUpPage(len(code))
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	copy(mem, code)

	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(mem)
		return nil, err
	}
	flushICache(mem)

	r := &region{mem: mem, used: len(code), frozen: true}
	p.mu.Lock()
	p.regions[r] = struct{}{}
	p.mu.Unlock()

	return mem[:len(code)], nil
}

// Release unmaps a region previously returned by Publish. Called by the
// gc package once the code-cache epoch that retired it has fully
// drained (no driver goroutine can still be executing inside it).
func (p *ExecPool) Release(code []byte) error {
	base := baseOf(code)
	p.mu.Lock()
	var found *region
	for r := range p.regions {
		if &r.mem[0] == base {
			found = r
			break
		}
	}
	if found != nil {
		delete(p.regions, found)
	}
	p.mu.Unlock()
	if found == nil {
		return errors.New("jit: release of unknown region")
	}
	return unix.Munmap(found.mem)
}

func baseOf(b []byte) *byte {
	if len(b) == 0 {
		return nil
	}
	return &b[0]
}

func roundUpPage(n int) int {
	if n%pageSize == 0 {
		return n
	}
	return (n/pageSize + 1) * pageSize
}

// RegionCount reports live mappings, surfaced by the operator console's
// stats command.
func (p *ExecPool) RegionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.regions)
}
