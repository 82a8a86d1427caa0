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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// File is one entry of an opened archive, with enough information to
// either read its inflated content or copy its compressed bytes
// verbatim into another archive.
type File struct {
	Name           string
	Method         uint16
	CRC32          uint32
	CompressedSize uint32
	UncompressedSize uint32
	ExternalAttrs  uint32
	dataOffset     int64 // offset of the first content byte, within data
}

// RawRecord is the compressed payload of a File, handed to
// Writer.CopyRecord for bit-exact passthrough.
type RawRecord struct {
	Method           uint16
	CRC32            uint32
	CompressedSize   uint32
	UncompressedSize uint32
	ExternalAttrs    uint32
	Data             io.Reader
}

// Reader parses an in-memory zip archive's central directory, mirroring
// the manual End-Of-Central-Directory scan used elsewhere in this
// codebase for signing block discovery (there is no streaming reader:
// entry packs and APKs built by this core are read back whole).
type Reader struct {
	data  []byte
	Files []*File
}

// LocateDirectory finds the byte offsets of the central directory and
// the end-of-central-directory record within a complete archive, for
// callers (package signer) that need to insert bytes immediately
// before the central directory, such as an APK Signing Block.
func LocateDirectory(data []byte) (cdOffset, eocdOffset uint64, err error) {
	eocdOff, err := findEOCD(data)
	if err != nil {
		return 0, 0, err
	}
	cdOff := binary.LittleEndian.Uint32(data[eocdOff+16 : eocdOff+20])
	return uint64(cdOff), uint64(eocdOff), nil
}

// NewReader parses the central directory out of data.
func NewReader(data []byte) (*Reader, error) {
	eocdOff, err := findEOCD(data)
	if err != nil {
		return nil, err
	}
	cdOff := binary.LittleEndian.Uint32(data[eocdOff+16 : eocdOff+20])
	count := binary.LittleEndian.Uint16(data[eocdOff+10 : eocdOff+12])

	r := &Reader{data: data}
	off := int(cdOff)
	for i := 0; i < int(count); i++ {
		if off+centralDirFixedLen > len(data) {
			return nil, fmt.Errorf("zipkit: truncated central directory record %d", i)
		}
		sig := binary.LittleEndian.Uint32(data[off : off+4])
		if sig != centralDirSignature {
			return nil, fmt.Errorf("zipkit: bad central directory signature at record %d", i)
		}
		method := binary.LittleEndian.Uint16(data[off+10 : off+12])
		crc := binary.LittleEndian.Uint32(data[off+16 : off+20])
		compSize := binary.LittleEndian.Uint32(data[off+20 : off+24])
		uncompSize := binary.LittleEndian.Uint32(data[off+24 : off+28])
		nameLen := int(binary.LittleEndian.Uint16(data[off+28 : off+30]))
		extraLen := int(binary.LittleEndian.Uint16(data[off+30 : off+32]))
		commentLen := int(binary.LittleEndian.Uint16(data[off+32 : off+34]))
		extAttrs := binary.LittleEndian.Uint32(data[off+38 : off+42])
		localOff := binary.LittleEndian.Uint32(data[off+42 : off+46])
		nameStart := off + centralDirFixedLen
		if nameStart+nameLen > len(data) {
			return nil, fmt.Errorf("zipkit: truncated entry name at record %d", i)
		}
		name := string(data[nameStart : nameStart+nameLen])

		dataOff, err := localDataOffset(data, int64(localOff))
		if err != nil {
			return nil, fmt.Errorf("zipkit: entry %q: %w", name, err)
		}

		r.Files = append(r.Files, &File{
			Name:             name,
			Method:           method,
			CRC32:            crc,
			CompressedSize:   compSize,
			UncompressedSize: uncompSize,
			ExternalAttrs:    extAttrs,
			dataOffset:       dataOff,
		})
		off = nameStart + nameLen + extraLen + commentLen
	}
	return r, nil
}

// findEOCD scans backward for the end-of-central-directory signature,
// the same technique used to locate the APK Signing Block anchor: the
// EOCD record's only fixed-offset guarantee is that it is the last
// thing in the file when no archive comment is present, so the search
// starts at the end and walks backward bounded by the maximum comment
// length (65535 bytes).
func findEOCD(data []byte) (int, error) {
	maxBack := len(data)
	if maxBack > eocdFixedLen+0xFFFF {
		maxBack = eocdFixedLen + 0xFFFF
	}
	for i := len(data) - eocdFixedLen; i >= len(data)-maxBack && i >= 0; i-- {
		if binary.LittleEndian.Uint32(data[i:i+4]) == eocdSignature {
			return i, nil
		}
	}
	return 0, fmt.Errorf("zipkit: end of central directory record not found")
}

// localDataOffset reads the local file header at localOff and returns
// the offset of the first content byte.
func localDataOffset(data []byte, localOff int64) (int64, error) {
	if localOff+localFileHeaderFixedLen > int64(len(data)) {
		return 0, fmt.Errorf("truncated local header")
	}
	sig := binary.LittleEndian.Uint32(data[localOff : localOff+4])
	if sig != localFileHeaderSignature {
		return 0, fmt.Errorf("bad local file header signature")
	}
	nameLen := int64(binary.LittleEndian.Uint16(data[localOff+26 : localOff+28]))
	extraLen := int64(binary.LittleEndian.Uint16(data[localOff+28 : localOff+30]))
	return localOff + localFileHeaderFixedLen + nameLen + extraLen, nil
}

// Open returns a reader over f's inflated content.
func (r *Reader) Open(f *File) (io.ReadCloser, error) {
	raw := r.data[f.dataOffset : f.dataOffset+int64(f.CompressedSize)]
	switch f.Method {
	case Store:
		return io.NopCloser(bytes.NewReader(raw)), nil
	case Deflate:
		return flate.NewReader(bytes.NewReader(raw)), nil
	default:
		return nil, fmt.Errorf("zipkit: unsupported method %d for %q", f.Method, f.Name)
	}
}

// RawRecord returns f's compressed bytes unread, for bit-exact transfer
// via Writer.CopyRecord.
func (r *Reader) RawRecord(f *File) RawRecord {
	raw := r.data[f.dataOffset : f.dataOffset+int64(f.CompressedSize)]
	return RawRecord{
		Method:           f.Method,
		CRC32:            f.CRC32,
		CompressedSize:   f.CompressedSize,
		UncompressedSize: f.UncompressedSize,
		ExternalAttrs:    f.ExternalAttrs,
		Data:             bytes.NewReader(raw),
	}
}
