// Copyright 2024 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package zipkit

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/klauspost/compress/flate"
)

// countingWriter tracks the number of bytes written so far, which the
// writer needs to know in order to compute alignment padding before a
// local header is emitted: the padding depends on where in the archive
// that header will land.
type countingWriter struct {
	w   io.Writer
	off uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.off += uint64(n)
	return n, err
}

// dirEntry is the information needed to emit one central directory
// record once the archive is closed.
type dirEntry struct {
	name           string
	method         uint16
	crc32          uint32
	compSize       uint32
	uncompSize     uint32
	localHeaderOff uint32
	externalAttrs  uint32
}

// Writer appends zip records to an underlying io.Writer and emits the
// central directory and end-of-central-directory record on Close.
// Unlike archive/zip, every record's alignment is caller-controlled and
// every timestamp is FixedModTime, so two Writer runs over the same
// logical input produce byte-identical output.
type Writer struct {
	cw      *countingWriter
	entries []dirEntry
	names   map[string]bool
	closed  bool
}

// NewWriter returns a Writer appending to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{cw: &countingWriter{w: w}, names: make(map[string]bool)}
}

// Offset returns the number of bytes written to the underlying writer so
// far, i.e. the position a new record would start at if written with no
// alignment padding.
func (w *Writer) Offset() uint64 {
	return w.cw.off
}

// alignmentExtraLen returns the length of the extra field needed so
// that the data immediately following the local header (and this extra
// field) lands on an alignment-byte boundary. extraStart is the archive
// offset just past the local header's fixed part and name. alignment <= 1
// disables padding. The extra field itself uses a private header ID (0x4141,
// "AA") carrying only zero-filled padding bytes; readers that don't
// recognize the ID are required by the zip format to skip it.
func alignmentExtraLen(extraStart uint64, alignment int, existingExtraLen int) int {
	if alignment <= 1 {
		return 0
	}
	a := uint64(alignment)
	base := extraStart + uint64(existingExtraLen) + 4 // +4 for our own extra record's ID+len fields
	pad := (a - (base % a)) % a
	return int(4 + pad)
}

func buildAlignmentExtra(padLen int) []byte {
	buf := make([]byte, 4+padLen)
	binary.LittleEndian.PutUint16(buf[0:2], 0x4141)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(padLen))
	return buf
}

// Record describes one entry to append via Add.
type Record struct {
	// Name is the in-archive path, always forward-slash separated.
	Name string
	// Method is Store or Deflate.
	Method uint16
	// Alignment is the byte boundary the record's data must start on
	// (4, 4096, or 0/1 for "no constraint"). Ignored for Deflate
	// records: compressed data is never alignment-padded.
	Alignment int
	// ExternalAttrs carries the Unix permission bits in the upper 16
	// bits, matching the convention archive/zip and Android's own zip
	// tooling use.
	ExternalAttrs uint32
	// DeflateLevel is used only when Method == Deflate.
	DeflateLevel int
}

// Add appends one record, taking its whole content up front in order to
// learn its size and checksum before the local header can be written (the
// local header's size fields must be accurate; this writer does not use
// streaming data descriptors). Content is buffered in memory, which is
// acceptable for the entry sizes this core handles.
func (w *Writer) Add(rec Record, content []byte) error {
	if w.closed {
		return fmt.Errorf("zipkit: Add after Close")
	}
	if w.names[rec.Name] {
		return fmt.Errorf("zipkit: duplicate entry name %q", rec.Name)
	}
	if uint64(len(content)) > maxUint32 {
		return fmt.Errorf("zipkit: entry %q exceeds 4 GiB, zip64 not supported", rec.Name)
	}

	crc := crc32.ChecksumIEEE(content)
	var payload []byte
	switch rec.Method {
	case Store:
		payload = content
	case Deflate:
		// Method is the caller's explicit choice; package compression
		// is the layer that decides Store vs Deflate, not this one.
		payload = deflateAll(content, rec.DeflateLevel)
	default:
		return fmt.Errorf("zipkit: unknown method %d for %q", rec.Method, rec.Name)
	}
	if uint64(len(payload)) > maxUint32 {
		return fmt.Errorf("zipkit: compressed entry %q exceeds 4 GiB, zip64 not supported", rec.Name)
	}

	localOff := w.cw.off
	nameBytes := []byte(rec.Name)

	alignment := rec.Alignment
	if rec.Method == Deflate {
		alignment = 0
	}
	extraLen := alignmentExtraLen(localOff+uint64(localFileHeaderFixedLen+len(nameBytes)), alignment, 0)
	var extra []byte
	if extraLen > 0 {
		extra = buildAlignmentExtra(extraLen - 4)
	}

	if err := writeLocalHeader(w.cw, rec.Method, crc, uint32(len(payload)), uint32(len(content)), nameBytes, extra); err != nil {
		return err
	}
	if _, err := w.cw.Write(payload); err != nil {
		return fmt.Errorf("zipkit: writing %q: %w", rec.Name, err)
	}

	w.names[rec.Name] = true
	w.entries = append(w.entries, dirEntry{
		name:           rec.Name,
		method:         rec.Method,
		crc32:          crc,
		compSize:       uint32(len(payload)),
		uncompSize:     uint32(len(content)),
		localHeaderOff: uint32(localOff),
		externalAttrs:  rec.ExternalAttrs,
	})
	return nil
}

// CopyRecord appends a record whose compressed bytes are transferred
// verbatim from a previously opened RawRecord (as returned by
// Reader.RawRecord), without inflating and re-deflating. This is the
// "select-and-copy" primitive: bit-exact passthrough of resource
// compiler output and of entries re-selected from a merged entry pack.
func (w *Writer) CopyRecord(name string, alignment int, src RawRecord) error {
	if w.closed {
		return fmt.Errorf("zipkit: CopyRecord after Close")
	}
	if w.names[name] {
		return fmt.Errorf("zipkit: duplicate entry name %q", name)
	}
	if src.Method == Deflate {
		alignment = 0
	}
	localOff := w.cw.off
	nameBytes := []byte(name)
	extraLen := alignmentExtraLen(localOff+uint64(localFileHeaderFixedLen+len(nameBytes)), alignment, 0)
	var extra []byte
	if extraLen > 0 {
		extra = buildAlignmentExtra(extraLen - 4)
	}
	if err := writeLocalHeader(w.cw, src.Method, src.CRC32, src.CompressedSize, src.UncompressedSize, nameBytes, extra); err != nil {
		return err
	}
	if _, err := io.Copy(w.cw, src.Data); err != nil {
		return fmt.Errorf("zipkit: copying %q: %w", name, err)
	}
	w.names[name] = true
	w.entries = append(w.entries, dirEntry{
		name:           name,
		method:         src.Method,
		crc32:          src.CRC32,
		compSize:       src.CompressedSize,
		uncompSize:     src.UncompressedSize,
		localHeaderOff: uint32(localOff),
		externalAttrs:  src.ExternalAttrs,
	})
	return nil
}

func writeLocalHeader(w io.Writer, method uint16, crc, compSize, uncompSize uint32, name, extra []byte) error {
	hdr := make([]byte, localFileHeaderFixedLen)
	binary.LittleEndian.PutUint32(hdr[0:4], localFileHeaderSignature)
	binary.LittleEndian.PutUint16(hdr[4:6], 20) // version needed to extract
	binary.LittleEndian.PutUint16(hdr[6:8], 0)  // flags
	binary.LittleEndian.PutUint16(hdr[8:10], method)
	dosTime, dosDate := toDOSTime(FixedModTime)
	binary.LittleEndian.PutUint16(hdr[10:12], dosTime)
	binary.LittleEndian.PutUint16(hdr[12:14], dosDate)
	binary.LittleEndian.PutUint32(hdr[14:18], crc)
	binary.LittleEndian.PutUint32(hdr[18:22], compSize)
	binary.LittleEndian.PutUint32(hdr[22:26], uncompSize)
	binary.LittleEndian.PutUint16(hdr[26:28], uint16(len(name)))
	binary.LittleEndian.PutUint16(hdr[28:30], uint16(len(extra)))
	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("zipkit: writing local header: %w", err)
	}
	if _, err := w.Write(name); err != nil {
		return fmt.Errorf("zipkit: writing entry name: %w", err)
	}
	if len(extra) > 0 {
		if _, err := w.Write(extra); err != nil {
			return fmt.Errorf("zipkit: writing alignment extra: %w", err)
		}
	}
	return nil
}

// Close writes the central directory and end-of-central-directory
// record. Entries are written to the central directory in the order
// they were Added; callers that need reproducible output sort their
// input before calling Add (package apkwriter sorts by path).
func (w *Writer) Close() error {
	if w.closed {
		return fmt.Errorf("zipkit: double Close")
	}
	w.closed = true

	cdStart := w.cw.off
	dosTime, dosDate := toDOSTime(FixedModTime)
	for _, e := range w.entries {
		hdr := make([]byte, centralDirFixedLen)
		binary.LittleEndian.PutUint32(hdr[0:4], centralDirSignature)
		binary.LittleEndian.PutUint16(hdr[4:6], 20)  // version made by
		binary.LittleEndian.PutUint16(hdr[6:8], 20)  // version needed
		binary.LittleEndian.PutUint16(hdr[8:10], 0)  // flags
		binary.LittleEndian.PutUint16(hdr[10:12], e.method)
		binary.LittleEndian.PutUint16(hdr[12:14], dosTime)
		binary.LittleEndian.PutUint16(hdr[14:16], dosDate)
		binary.LittleEndian.PutUint32(hdr[16:20], e.crc32)
		binary.LittleEndian.PutUint32(hdr[20:24], e.compSize)
		binary.LittleEndian.PutUint32(hdr[24:28], e.uncompSize)
		nameBytes := []byte(e.name)
		binary.LittleEndian.PutUint16(hdr[28:30], uint16(len(nameBytes)))
		binary.LittleEndian.PutUint16(hdr[30:32], 0) // extra len
		binary.LittleEndian.PutUint16(hdr[32:34], 0) // comment len
		binary.LittleEndian.PutUint16(hdr[34:36], 0) // disk number start
		binary.LittleEndian.PutUint16(hdr[36:38], 0) // internal attrs
		binary.LittleEndian.PutUint32(hdr[38:42], e.externalAttrs)
		binary.LittleEndian.PutUint32(hdr[42:46], e.localHeaderOff)
		if _, err := w.cw.Write(hdr); err != nil {
			return fmt.Errorf("zipkit: writing central directory record for %q: %w", e.name, err)
		}
		if _, err := w.cw.Write(nameBytes); err != nil {
			return fmt.Errorf("zipkit: writing central directory name for %q: %w", e.name, err)
		}
	}
	cdSize := w.cw.off - cdStart

	eocd := make([]byte, eocdFixedLen)
	binary.LittleEndian.PutUint32(eocd[0:4], eocdSignature)
	binary.LittleEndian.PutUint16(eocd[4:6], 0)
	binary.LittleEndian.PutUint16(eocd[6:8], 0)
	count := uint16(len(w.entries))
	binary.LittleEndian.PutUint16(eocd[8:10], count)
	binary.LittleEndian.PutUint16(eocd[10:12], count)
	binary.LittleEndian.PutUint32(eocd[12:16], uint32(cdSize))
	binary.LittleEndian.PutUint32(eocd[16:20], uint32(cdStart))
	binary.LittleEndian.PutUint16(eocd[20:22], 0) // comment len
	_, err := w.cw.Write(eocd)
	if err != nil {
		return fmt.Errorf("zipkit: writing end of central directory: %w", err)
	}
	return nil
}

func deflateAll(content []byte, level int) []byte {
	if level == 0 {
		level = flate.DefaultCompression
	}
	var buf writeBuf
	fw, err := flate.NewWriter(&buf, level)
	if err != nil {
		// Only returned for invalid levels, which callers never pass.
		fw, _ = flate.NewWriter(&buf, flate.DefaultCompression)
	}
	_, _ = fw.Write(content)
	_ = fw.Close()
	return buf
}

// writeBuf is a growable []byte implementing io.Writer, avoiding a
// bytes.Buffer import solely for this one append loop.
type writeBuf []byte

func (b *writeBuf) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

// toDOSTime converts t to the MS-DOS date/time pair the zip format
// stores in both the local and central directory headers.
func toDOSTime(t time.Time) (uint16, uint16) {
	dosTime := uint16(t.Hour()<<11 | t.Minute()<<5 | t.Second()/2)
	dosDate := uint16((t.Year()-1980)<<9 | int(t.Month())<<5 | t.Day())
	return dosTime, dosDate
}
