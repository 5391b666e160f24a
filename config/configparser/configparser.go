/*
   vmcore - Configuration file parser.

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

// Package configparser reads a vmcore.cfg file and fills in a
// vm.Config. Grammar, one directive per line:
//
//	<line>      := <directive> <whitespace> <value> *(<commaopt>) | <comment>
//	<directive> := <string>
//	<value>     := <number> | <number> ('K'|'M'|'G') | <string> | <quotestring>
//	<commaopt>  := ',' *(<whitespace>) <value>
//	<comment>   := '#' *(<any>)
//
// This is the same line shape the engine's predecessor used for its
// per-device attach lines (directive, first value, comma-separated
// trailing options), minus the device-registration indirection: every
// recognized directive is a fixed engine setting rather than a
// pluggable device model.
package configparser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// Settings holds every directive vmcore.cfg recognizes, prior to being
// handed to vm.New — kept decoupled from the vm package so configparser
// never needs to import it.
type Settings struct {
	PhysicalBytes   uint64
	TLBL1Entries    int
	TLBL2Entries    int
	StrictAlignment bool

	CodeCacheShortLivedBytes int64
	CodeCacheLongLivedBytes  int64

	CompileWorkers  int
	CompileQueueLen int

	EnableAccelerator bool
	EnableSIMD        bool
	VCPUCount         int

	TierThresholds [3]float64 // T1, T2, T3 hotspot score thresholds

	LogFile string
	LogLevel slog.Level
}

// directive parses one recognized value and applies it to s.
type directive func(s *Settings, value string, options []Option) error

var directives = map[string]directive{
	"physical-bytes":               setPhysicalBytes,
	"tlb-l1-entries":                setTLBL1Entries,
	"tlb-l2-entries":                setTLBL2Entries,
	"strict-alignment":              setStrictAlignment,
	"code-cache-ceiling-bytes":      setLongLivedBytes,
	"code-cache-short-lived-bytes":  setShortLivedBytes,
	"compile-workers":               setCompileWorkers,
	"compile-queue-len":             setCompileQueueLen,
	"enable-accelerator":            setEnableAccelerator,
	"enable-simd":                   setEnableSIMD,
	"vcpu-count":                    setVCPUCount,
	"tier-threshold":                setTierThreshold,
	"logfile":                       setLogFile,
	"log":                           setLogLevel,
}

// Option is one comma-separated trailing value on a directive line,
// optionally itself carrying a name=value pair (e.g.
// `tier-threshold 2, tier=1`).
type Option struct {
	Name     string
	EqualOpt string
}

// LoadFile parses path and returns the resulting Settings. An unknown
// directive or a malformed value is a hard error — a typo in a
// hand-edited config file should fail loudly at startup, not silently
// run with defaults.
func LoadFile(path string) (*Settings, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	s := &Settings{LogLevel: slog.LevelInfo}
	reader := bufio.NewReader(file)
	lineNumber := 0
	for {
		raw, err := reader.ReadString('\n')
		lineNumber++
		if len(raw) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if perr := parseLine(s, raw); perr != nil {
			return nil, fmt.Errorf("configparser: line %d: %w", lineNumber, perr)
		}
	}
	return s, nil
}

func parseLine(s *Settings, raw string) error {
	line := &cursor{line: raw}
	name := line.getName()
	if name == "" {
		return nil
	}

	fn, ok := directives[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("unknown directive %q", name)
	}

	line.skipSpace()
	value, err := line.getValue()
	if err != nil {
		return err
	}

	options, err := line.parseOptions()
	if err != nil {
		return err
	}

	return fn(s, value, options)
}

// cursor tracks position while scanning one config line.
type cursor struct {
	line string
	pos  int
}

func (c *cursor) isEOL() bool {
	if c.pos >= len(c.line) {
		return true
	}
	return c.line[c.pos] == '#'
}

func (c *cursor) skipSpace() {
	for !c.isEOL() && unicode.IsSpace(rune(c.line[c.pos])) {
		c.pos++
	}
}

func (c *cursor) getNext() byte {
	c.pos++
	if c.isEOL() {
		return 0
	}
	return c.line[c.pos]
}

// getName reads a directive or option name: letters, digits, and
// hyphens, starting on a letter.
func (c *cursor) getName() string {
	c.skipSpace()
	if c.isEOL() {
		return ""
	}
	if by := c.line[c.pos]; !unicode.IsLetter(rune(by)) {
		return ""
	}
	start := c.pos
	for !c.isEOL() {
		by := c.line[c.pos]
		if !unicode.IsLetter(rune(by)) && !unicode.IsNumber(rune(by)) && by != '-' {
			break
		}
		c.pos++
	}
	return c.line[start:c.pos]
}

// getValue reads up to the next comma, whitespace, or comment,
// honoring a "..." quoted string the same way logfile paths with
// spaces need to be.
func (c *cursor) getValue() (string, error) {
	c.skipSpace()
	if c.isEOL() {
		return "", nil
	}
	if c.line[c.pos] == '"' {
		return c.parseQuoted()
	}
	start := c.pos
	for !c.isEOL() {
		by := c.line[c.pos]
		if unicode.IsSpace(rune(by)) || by == ',' {
			break
		}
		c.pos++
	}
	return c.line[start:c.pos], nil
}

func (c *cursor) parseQuoted() (string, error) {
	c.pos++ // consume opening quote
	value := ""
	for {
		if c.pos >= len(c.line) {
			return "", errors.New("unterminated quoted string")
		}
		by := c.line[c.pos]
		c.pos++
		if by == '"' {
			return value, nil
		}
		value += string(by)
	}
}

// parseOptions collects any `, name[=value]` trailing fields.
func (c *cursor) parseOptions() ([]Option, error) {
	var opts []Option
	for {
		c.skipSpace()
		if c.isEOL() || c.line[c.pos] != ',' {
			return opts, nil
		}
		c.pos++
		c.skipSpace()
		name := c.getName()
		if name == "" {
			return nil, errors.New("expected option name after ','")
		}
		opt := Option{Name: name}
		if !c.isEOL() && c.line[c.pos] == '=' {
			c.pos++
			v, err := c.getValue()
			if err != nil {
				return nil, err
			}
			opt.EqualOpt = v
		}
		opts = append(opts, opt)
	}
}

func parseByteSize(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("expected a byte size")
	}
	mult := int64(1)
	suffix := value[len(value)-1]
	switch suffix {
	case 'k', 'K':
		mult = 1 << 10
		value = value[:len(value)-1]
	case 'm', 'M':
		mult = 1 << 20
		value = value[:len(value)-1]
	case 'g', 'G':
		mult = 1 << 30
		value = value[:len(value)-1]
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", value, err)
	}
	return n * mult, nil
}

func setPhysicalBytes(s *Settings, value string, _ []Option) error {
	n, err := parseByteSize(value)
	if err != nil {
		return err
	}
	s.PhysicalBytes = uint64(n)
	return nil
}

func setTLBL1Entries(s *Settings, value string, _ []Option) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	s.TLBL1Entries = n
	return nil
}

func setTLBL2Entries(s *Settings, value string, _ []Option) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	s.TLBL2Entries = n
	return nil
}

func setStrictAlignment(s *Settings, value string, _ []Option) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return err
	}
	s.StrictAlignment = b
	return nil
}

func setLongLivedBytes(s *Settings, value string, _ []Option) error {
	n, err := parseByteSize(value)
	if err != nil {
		return err
	}
	s.CodeCacheLongLivedBytes = n
	return nil
}

func setShortLivedBytes(s *Settings, value string, _ []Option) error {
	n, err := parseByteSize(value)
	if err != nil {
		return err
	}
	s.CodeCacheShortLivedBytes = n
	return nil
}

func setCompileWorkers(s *Settings, value string, _ []Option) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	s.CompileWorkers = n
	return nil
}

func setCompileQueueLen(s *Settings, value string, _ []Option) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	s.CompileQueueLen = n
	return nil
}

func setEnableAccelerator(s *Settings, value string, _ []Option) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return err
	}
	s.EnableAccelerator = b
	return nil
}

func setEnableSIMD(s *Settings, value string, _ []Option) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return err
	}
	s.EnableSIMD = b
	return nil
}

func setVCPUCount(s *Settings, value string, _ []Option) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	s.VCPUCount = n
	return nil
}

// setTierThreshold handles `tier-threshold <score>, tier=<1|2|3>`.
func setTierThreshold(s *Settings, value string, options []Option) error {
	score, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}
	tier := 1
	for _, opt := range options {
		if opt.Name == "tier" {
			tier, err = strconv.Atoi(opt.EqualOpt)
			if err != nil {
				return err
			}
		}
	}
	if tier < 1 || tier > 3 {
		return fmt.Errorf("tier-threshold: tier must be 1-3, got %d", tier)
	}
	s.TierThresholds[tier-1] = score
	return nil
}

func setLogFile(s *Settings, value string, _ []Option) error {
	s.LogFile = value
	return nil
}

func setLogLevel(s *Settings, value string, _ []Option) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", value, err)
	}
	s.LogLevel = level
	return nil
}
