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

// Package entrypack is the content-addressed staging area entries pass
// through between being read off a bundle and being written into a
// final split: a single temp zip file, keyed internally by the SHA-256
// of each entry's bytes, with a separate logical-path-to-hash mapping
// layered on top. Two module entries with identical bytes (a common
// case for resources shared across splits) are stored once.
//
// The design mirrors the teacher's own zip2zip (android/soong/cmd/zip2zip):
// entries are read once, held as opaque byte ranges, and later
// selected-and-copied into an output archive without ever being
// re-parsed as anything other than bytes.
package entrypack

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/apkserializer/internal/zipkit"
)

// Pack is a content-addressed, mergeable collection of entries backed
// by one temp file. Call Add while building it, Finalize once no more
// entries will be added, then Select/Merge.
type Pack struct {
	tmpFile *os.File
	writer  *zipkit.Writer
	reader  *zipkit.Reader
	seen    map[string]bool   // content hash -> already written to writer
	paths   map[string]string // logical path -> content hash
	final   bool
}

// New creates a new Pack backed by a temp file in dir (dir may be ""
// for the default temp directory).
func New(dir string) (*Pack, error) {
	f, err := os.CreateTemp(dir, "entrypack-*.zip")
	if err != nil {
		return nil, fmt.Errorf("entrypack: creating temp file: %w", err)
	}
	return &Pack{
		tmpFile: f,
		writer:  zipkit.NewWriter(f),
		seen:    make(map[string]bool),
		paths:   make(map[string]string),
	}, nil
}

// Path returns the backing temp file's path, useful for diagnostics.
func (p *Pack) Path() string {
	return p.tmpFile.Name()
}

// Len reports how many distinct logical paths have been added.
func (p *Pack) Len() int {
	return len(p.paths)
}

// Paths returns the set of logical paths added so far, in no
// particular order.
func (p *Pack) Paths() []string {
	out := make([]string, 0, len(p.paths))
	for k := range p.paths {
		out = append(out, k)
	}
	return out
}

// Add stores content under logicalPath. If content with the same bytes
// was already added under any path, the underlying bytes are not
// duplicated in the temp file.
func (p *Pack) Add(logicalPath string, content []byte) error {
	if p.final {
		return fmt.Errorf("entrypack: Add after Finalize")
	}
	hash := contentHash(content)
	if !p.seen[hash] {
		if err := p.writer.Add(zipkit.Record{Name: hash, Method: zipkit.Store}, content); err != nil {
			return fmt.Errorf("entrypack: storing %q: %w", logicalPath, err)
		}
		p.seen[hash] = true
	}
	p.paths[logicalPath] = hash
	return nil
}

// Finalize closes the backing zip writer and opens it for reads. No
// more Add calls are permitted afterward.
func (p *Pack) Finalize() error {
	if p.final {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("entrypack: closing temp file: %w", err)
	}
	p.final = true
	data, err := os.ReadFile(p.tmpFile.Name())
	if err != nil {
		return fmt.Errorf("entrypack: re-reading temp file: %w", err)
	}
	r, err := zipkit.NewReader(data)
	if err != nil {
		return fmt.Errorf("entrypack: parsing temp file: %w", err)
	}
	p.reader = r
	return nil
}

// Select returns the bytes stored under logicalPath.
func (p *Pack) Select(logicalPath string) ([]byte, error) {
	if !p.final {
		return nil, fmt.Errorf("entrypack: Select before Finalize")
	}
	hash, ok := p.paths[logicalPath]
	if !ok {
		return nil, fmt.Errorf("entrypack: no such entry %q", logicalPath)
	}
	f := p.findByHash(hash)
	if f == nil {
		return nil, fmt.Errorf("entrypack: internal inconsistency: hash for %q missing from pack", logicalPath)
	}
	rc, err := p.reader.Open(f)
	if err != nil {
		return nil, fmt.Errorf("entrypack: opening %q: %w", logicalPath, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (p *Pack) findByHash(hash string) *zipkit.File {
	for _, f := range p.reader.Files {
		if f.Name == hash {
			return f
		}
	}
	return nil
}

// Merge absorbs other's entries into p. p must not yet be finalized;
// other must already be finalized. After a successful Merge, the
// caller should Close other to release its temp file: larger packs
// absorb smaller ones, so callers merge in decreasing size order to
// minimize the number of bytes copied.
func (p *Pack) Merge(other *Pack) error {
	if p.final {
		return fmt.Errorf("entrypack: Merge into an already-finalized pack")
	}
	if !other.final {
		return fmt.Errorf("entrypack: Merge from a pack that was never finalized")
	}
	for path, hash := range other.paths {
		f := other.findByHash(hash)
		if f == nil {
			return fmt.Errorf("entrypack: internal inconsistency merging %q", path)
		}
		rc, err := other.reader.Open(f)
		if err != nil {
			return fmt.Errorf("entrypack: opening %q during merge: %w", path, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("entrypack: reading %q during merge: %w", path, err)
		}
		if err := p.Add(path, content); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the backing temp file. Safe to call multiple times.
func (p *Pack) Close() error {
	name := p.tmpFile.Name()
	cerr := p.tmpFile.Close()
	rerr := os.Remove(name)
	if cerr != nil && !errors.Is(cerr, os.ErrClosed) {
		return cerr
	}
	if rerr != nil && !os.IsNotExist(rerr) {
		return rerr
	}
	return nil
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
