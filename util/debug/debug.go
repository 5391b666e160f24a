/*
   vmcore - debug mask logging.

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

// Package debug writes mask-gated trace lines to a separate debug
// stream from the structured slog output — for the high-volume,
// per-block traces (tier dispatch, TLB shootdown, code-cache eviction)
// an operator only wants when chasing something specific, not on every
// run.
package debug

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
)

const (
	Tiering = 1 << iota
	Compile
	TLB
	CodeCache
	GC
)

var (
	mu     sync.Mutex
	output io.Writer = os.Stderr
)

// SetOutput redirects debug output (os.Stderr by default).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// Debugf writes a module-tagged trace line if level is set in mask.
func Debugf(module string, mask int, level int, format string, a ...any) {
	if mask&level == 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(output, module+": "+format+"\n", a...)
}

// DebugVCPUf writes a vCPU-tagged trace line if level is set in mask.
func DebugVCPUf(vcpu uint32, mask int, level int, format string, a ...any) {
	if mask&level == 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(output, "vcpu "+strconv.FormatUint(uint64(vcpu), 10)+": "+format+"\n", a...)
}
