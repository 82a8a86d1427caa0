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

package bundle

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
)

// ContentSource is a lazy byte source for a ModuleEntry. It never owns a
// cycle back to the ModuleSplit/ModuleEntry that references it: it is
// either an in-memory buffer or a content-addressed pointer into a
// backing zip archive that is opened on demand.
type ContentSource interface {
	// Open returns a fresh reader over the entry's bytes. Callers must
	// Close it.
	Open() (io.ReadCloser, error)
	// Size returns the uncompressed size in bytes, if known without
	// fully reading the content; ok is false if unknown (caller must
	// read to find out).
	Size() (size int64, ok bool)
}

// MemoryContent is a ContentSource backed by an in-memory buffer.
type MemoryContent []byte

func (m MemoryContent) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m)), nil
}

func (m MemoryContent) Size() (int64, bool) {
	return int64(len(m)), true
}

// BundleZipEntry is a ContentSource backed by a single entry inside a
// bundle zip archive, opened lazily. The same (bundlePath, entryName)
// pair always resolves to the same bytes, which lets the entry pack
// (package entrypack) deduplicate by source location instead of by
// content hash.
type BundleZipEntry struct {
	BundlePath string
	EntryName  string

	// opener is overridable for tests; production code leaves it nil and
	// goes through the default zip.OpenReader-based path.
	opener func(bundlePath string) (*zip.ReadCloser, error)
}

// NewBundleZipEntry returns a ContentSource reading EntryName out of the
// zip archive at bundlePath, opened fresh on every Open call.
func NewBundleZipEntry(bundlePath, entryName string) *BundleZipEntry {
	return &BundleZipEntry{BundlePath: bundlePath, EntryName: entryName}
}

func (b *BundleZipEntry) open() (*zip.ReadCloser, error) {
	if b.opener != nil {
		return b.opener(b.BundlePath)
	}
	return zip.OpenReader(b.BundlePath)
}

func (b *BundleZipEntry) Open() (io.ReadCloser, error) {
	rc, err := b.open()
	if err != nil {
		return nil, fmt.Errorf("opening bundle %q: %w", b.BundlePath, err)
	}
	for _, f := range rc.File {
		if f.Name == b.EntryName {
			r, err := f.Open()
			if err != nil {
				rc.Close()
				return nil, fmt.Errorf("opening %q in %q: %w", b.EntryName, b.BundlePath, err)
			}
			return &zipEntryReader{ReadCloser: r, parent: rc}, nil
		}
	}
	rc.Close()
	return nil, fmt.Errorf("entry %q not found in bundle %q", b.EntryName, b.BundlePath)
}

func (b *BundleZipEntry) Size() (int64, bool) {
	return 0, false
}

// zipEntryReader closes both the entry reader and the archive it came
// from, so callers only need to Close once.
type zipEntryReader struct {
	io.ReadCloser
	parent io.Closer
}

func (z *zipEntryReader) Close() error {
	err := z.ReadCloser.Close()
	if perr := z.parent.Close(); err == nil {
		err = perr
	}
	return err
}
