/*
   vmcore - AOT code-cache image format.

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

package codecache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"log/slog"

	"github.com/rcornwell/vmcore/ir"
)

// aotMagic identifies an ahead-of-time code-cache image: "VMAC" (VM
// Ahead-of-time Cache) followed by a format version byte.
var aotMagic = [5]byte{'V', 'M', 'A', 'C', 1}

// WriteAOTImage serializes every long-lived-region entry in c to w as:
// magic, a count, then one record per entry (fingerprint, tier, code
// length + bytes, metadata length + bytes), followed by a CRC32 trailer
// over everything written after the magic. Short-lived (T1) entries are
// excluded; they exist to absorb warm-up churn, not to be replayed.
func (c *Cache) WriteAOTImage(w io.Writer) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var body bytes.Buffer
	var count uint32
	for _, e := range c.entries {
		if e.region != regionLongLived {
			continue
		}
		count++
	}
	if err := binary.Write(&body, binary.LittleEndian, count); err != nil {
		return err
	}
	for _, e := range c.entries {
		if e.region != regionLongLived {
			continue
		}
		fields := []any{
			uint64(e.Fingerprint.PC),
			uint16(e.Fingerprint.ASID),
			uint8(e.Fingerprint.Tier),
			uint32(len(e.Code)),
		}
		for _, f := range fields {
			if err := binary.Write(&body, binary.LittleEndian, f); err != nil {
				return err
			}
		}
		body.Write(e.Code)
		if err := binary.Write(&body, binary.LittleEndian, uint32(len(e.Metadata))); err != nil {
			return err
		}
		body.Write(e.Metadata)
	}

	if _, err := w.Write(aotMagic[:]); err != nil {
		return err
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return err
	}
	sum := crc32.ChecksumIEEE(body.Bytes())
	return binary.Write(w, binary.LittleEndian, sum)
}

// aotRecord is one entry read back from an AOT image, prior to
// re-validation against the live MMU state (the caller must re-decode
// the guest bytes at PC and confirm the block is still byte-identical
// before trusting Code against it).
type aotRecord struct {
	Fingerprint ir.Fingerprint
	Code        []byte
	Metadata    []byte
}

// ReadAOTImage parses an image written by WriteAOTImage. A CRC mismatch
// is not a hard error: a corrupt or foreign image is skipped wholesale
// (an empty record set, nil error) so a bad on-disk cache never blocks
// startup; only a malformed header, or a record truncated inside an
// image whose CRC matched, is a hard error.
func ReadAOTImage(r io.Reader, log *slog.Logger) ([]aotRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) < len(aotMagic)+4 {
		return nil, errors.New("codecache: AOT image truncated")
	}
	if !bytes.Equal(data[:len(aotMagic)], aotMagic[:]) {
		return nil, errors.New("codecache: AOT image bad magic")
	}

	body := data[len(aotMagic) : len(data)-4]
	wantSum := binary.LittleEndian.Uint32(data[len(data)-4:])
	gotSum := crc32.ChecksumIEEE(body)
	if gotSum != wantSum {
		log.Warn("codecache: AOT image CRC mismatch, discarding")
		return nil, nil
	}

	br := bytes.NewReader(body)
	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, err
	}

	records := make([]aotRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		var pc uint64
		var asid uint16
		var tier uint8
		if err := binary.Read(br, binary.LittleEndian, &pc); err != nil {
			return nil, err
		}
		if err := binary.Read(br, binary.LittleEndian, &asid); err != nil {
			return nil, err
		}
		if err := binary.Read(br, binary.LittleEndian, &tier); err != nil {
			return nil, err
		}
		var codeLen uint32
		if err := binary.Read(br, binary.LittleEndian, &codeLen); err != nil {
			return nil, err
		}
		code := make([]byte, codeLen)
		if _, err := io.ReadFull(br, code); err != nil {
			return nil, err
		}
		var metaLen uint32
		if err := binary.Read(br, binary.LittleEndian, &metaLen); err != nil {
			return nil, err
		}
		meta := make([]byte, metaLen)
		if _, err := io.ReadFull(br, meta); err != nil {
			return nil, err
		}
		records = append(records, aotRecord{
			Fingerprint: ir.Fingerprint{PC: ir.VAddr(pc), ASID: ir.ASID(asid), Tier: ir.Tier(tier)},
			Code:        code,
			Metadata:    meta,
		})
	}
	return records, nil
}
