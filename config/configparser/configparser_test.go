/*
   vmcore - config grammar tests.

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
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "vmcore.cfg")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileParsesEngineDirectives(t *testing.T) {
	path := writeTempConfig(t, `
# comment line
physical-bytes 64M
tlb-l1-entries 64
compile-workers 4
enable-accelerator true
tier-threshold 8, tier=1
tier-threshold 32, tier=2
logfile "vmcore.log"
log debug
`)

	s, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.PhysicalBytes != 64<<20 {
		t.Errorf("PhysicalBytes = %d, want %d", s.PhysicalBytes, 64<<20)
	}
	if s.TLBL1Entries != 64 {
		t.Errorf("TLBL1Entries = %d, want 64", s.TLBL1Entries)
	}
	if s.CompileWorkers != 4 {
		t.Errorf("CompileWorkers = %d, want 4", s.CompileWorkers)
	}
	if !s.EnableAccelerator {
		t.Error("EnableAccelerator = false, want true")
	}
	if s.TierThresholds[0] != 8 || s.TierThresholds[1] != 32 {
		t.Errorf("TierThresholds = %v, want [8 32 0]", s.TierThresholds)
	}
	if s.LogFile != "vmcore.log" {
		t.Errorf("LogFile = %q, want vmcore.log", s.LogFile)
	}
}

func TestLoadFileRejectsUnknownDirective(t *testing.T) {
	path := writeTempConfig(t, "bogus-directive 1\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected an error for an unknown directive")
	}
}

func TestLoadFileRejectsUnterminatedQuote(t *testing.T) {
	path := writeTempConfig(t, `logfile "unterminated` + "\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected an error for an unterminated quoted string")
	}
}
