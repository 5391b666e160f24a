/*
   vmcore - engine settings to vm.Config.

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

package configparser

import (
	"log/slog"

	"github.com/rcornwell/vmcore/vm"
)

// ToVMConfig builds a vm.Config from the parsed directives. Zero-valued
// fields are left for vm.New's own defaults to fill in.
func (s *Settings) ToVMConfig(log *slog.Logger) vm.Config {
	cfg := vm.Config{
		PhysicalBytes:            s.PhysicalBytes,
		TLBL1Entries:             s.TLBL1Entries,
		TLBL2Entries:             s.TLBL2Entries,
		StrictAlignment:          s.StrictAlignment,
		CodeCacheShortLivedBytes: s.CodeCacheShortLivedBytes,
		CodeCacheLongLivedBytes:  s.CodeCacheLongLivedBytes,
		CompileWorkers:           s.CompileWorkers,
		CompileQueueLen:          s.CompileQueueLen,
		EnableAccelerator:        s.EnableAccelerator,
		VCPUCount:                s.VCPUCount,
		Log:                      log,
	}
	if s.TierThresholds[0] > 0 {
		cfg.Hotspot.FastThreshold = s.TierThresholds[0]
	}
	if s.TierThresholds[1] > 0 {
		cfg.Hotspot.StandardThreshold = s.TierThresholds[1]
	}
	if s.TierThresholds[2] > 0 {
		cfg.Hotspot.AggressiveThreshold = s.TierThresholds[2]
	}
	return cfg
}
