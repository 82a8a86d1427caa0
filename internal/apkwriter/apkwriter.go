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

// Package apkwriter assembles one split's entries into a single APK
// file: inject the manifest/resource table, rewrite paths, dedupe and
// sort, apply the store-vs-deflate decision and alignment rules, sign
// any embedded APK payloads, and write the result to a temporary file
// for the signer (package signer) to take over.
//
// The zip-assembly shape follows cmd/zip2zip/zip2zip.go's
// read-entries / decide / write pipeline, generalized from "copy a
// zip's entries into another zip" to "assemble one split's final APK".
package apkwriter

import (
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/google/apkserializer/internal/bundle"
	"github.com/google/apkserializer/internal/buildconfig"
	"github.com/google/apkserializer/internal/compression"
	"github.com/google/apkserializer/internal/wireformat"
	"github.com/google/apkserializer/internal/zipkit"
)

// EmbeddedSigner signs one embedded APK's raw bytes independently of
// the outer split's own signature, returning the signed replacement.
type EmbeddedSigner interface {
	SignEmbedded(ctx context.Context, apkBytes []byte) ([]byte, error)
}

// WatchFaceLocator reports the in-APK path of an embedded watch-face
// APK referenced from the manifest, if any. Spec §9 leaves the exact
// manifest attribute this is read from as an open question; this core
// does not guess at it and instead accepts the lookup as caller-
// supplied behavior, defaulting to "no embedded watch face" when nil.
type WatchFaceLocator func(manifest *bundle.ManifestNode) (path string, ok bool)

// Options configures one WriteSplit call.
type Options struct {
	// Signer signs entries marked ShouldSign and any watch face
	// WatchFaceLocator finds. Required only if such entries exist.
	Signer EmbeddedSigner
	// WatchFaceLocator finds an embedded watch-face APK by manifest
	// inspection. Optional.
	WatchFaceLocator WatchFaceLocator
	// IsUncompressed reports whether a rewritten in-APK path matches the
	// BundleConfig-supplied uncompressedGlob list (spec §6.1); entries it
	// matches are forced uncompressed the same as entries already
	// carrying ForceUncompressed. Optional.
	IsUncompressed func(path string) bool
}

// WriteSplit assembles split into a complete, unsigned APK written to a
// new temporary file under dir, returning its path. The caller (package
// apkset) hands this path to the signer and then renames it into
// place; WriteSplit itself never signs the outer APK, only embedded
// ones (step 7 of spec §4.E).
func WriteSplit(ctx context.Context, dir string, split *bundle.ModuleSplit, opts Options) (path string, err error) {
	entries, err := gatherEntries(split)
	if err != nil {
		return "", err
	}

	rewritten := make(map[string]*bundle.ModuleEntry, len(entries))
	var order []string
	for _, e := range entries {
		p := bundle.RewriteApkPath(e.Path)
		if _, seen := rewritten[p]; !seen {
			order = append(order, p)
		}
		rewritten[p] = e // last in input order wins
	}
	sort.Strings(order)

	raws := make(map[string][]byte, len(order))
	for _, p := range order {
		e := rewritten[p]
		raw, err := readAll(e.Content)
		if err != nil {
			return "", buildconfig.IoFailure(fmt.Sprintf("reading %q", p), err)
		}
		if opts.Signer != nil && shouldSignEmbedded(split, p, e, opts.WatchFaceLocator) {
			signed, err := opts.Signer.SignEmbedded(ctx, raw)
			if err != nil {
				return "", buildconfig.SigningFailure(fmt.Sprintf("signing embedded APK %q", p), err)
			}
			raw = signed
		}
		raws[p] = raw
	}

	candidates := make([]compression.Candidate, 0, len(order))
	forced := make(map[string]bool, len(order))
	for _, p := range order {
		e := rewritten[p]
		if e.ForceUncompressed || (opts.IsUncompressed != nil && opts.IsUncompressed(p)) {
			forced[p] = true
			continue
		}
		candidates = append(candidates, compression.Candidate{Path: p, Raw: raws[p], Level: compression.LevelFor(p)})
	}
	decisions, err := compression.Decide(ctx, candidates)
	if err != nil {
		return "", buildconfig.IoFailure("deciding entry compression", err)
	}
	decisionByPath := make(map[string]compression.Decision, len(decisions))
	for _, d := range decisions {
		decisionByPath[d.Path] = d
	}

	tmp, err := os.CreateTemp(dir, "apk-*.tmp")
	if err != nil {
		return "", buildconfig.IoFailure("creating unsigned APK temp file", err)
	}
	tmpPath := tmp.Name()

	w := zipkit.NewWriter(tmp)
	for _, p := range order {
		raw := raws[p]
		method := zipkit.Store
		var payload []byte = raw
		if !forced[p] {
			if d, ok := decisionByPath[p]; ok && d.Method == zipkit.Deflate {
				method = zipkit.Deflate
				payload = d.Compressed
			}
		}
		alignment := alignmentFor(split, p, method)
		rec := zipkit.RawRecord{
			Method:           method,
			CRC32:            crc32.ChecksumIEEE(raw),
			CompressedSize:   uint32(len(payload)),
			UncompressedSize: uint32(len(raw)),
			Data:             bytes.NewReader(payload),
		}
		if err := w.CopyRecord(p, alignment, rec); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return "", buildconfig.IoFailure(fmt.Sprintf("writing %q", p), err)
		}
	}
	if err := w.Close(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", buildconfig.IoFailure("closing unsigned APK", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", buildconfig.IoFailure("closing unsigned APK file", err)
	}
	return tmpPath, nil
}

// gatherEntries returns split's entries plus the manifest and (if
// present) resource table injected as ModuleEntrys at their reserved
// paths, appended last so that normal path-based dedup removes any
// prior entry already occupying those paths (spec §4.E step 1).
func gatherEntries(split *bundle.ModuleSplit) ([]*bundle.ModuleEntry, error) {
	if split.Manifest == nil {
		hasManifestEntry := false
		for _, e := range split.Entries {
			if bundle.RewriteApkPath(e.Path) == bundle.ReservedManifestPath {
				hasManifestEntry = true
				break
			}
		}
		if !hasManifestEntry {
			return nil, buildconfig.InvalidBundle("split %q has no manifest to write", split.ModuleName)
		}
	}

	entries := make([]*bundle.ModuleEntry, len(split.Entries))
	copy(entries, split.Entries)

	if split.Manifest != nil {
		entries = append(entries, &bundle.ModuleEntry{
			Path:    bundle.ReservedManifestPath,
			Content: bundle.MemoryContent(wireformat.EncodeManifest(split.Manifest)),
		})
	}
	if split.ResourceTable != nil {
		entries = append(entries, &bundle.ModuleEntry{
			Path:              bundle.ReservedResourceTablePath,
			Content:           bundle.MemoryContent(wireformat.EncodeResourceTable(split.ResourceTable)),
			ForceUncompressed: true,
		})
	}
	return entries, nil
}

// alignmentFor applies spec §4.E step 6: zero for compressed records,
// 4096 for uncompressed .so and (in an asset-slice split) uncompressed
// assets/ entries, 4 for everything else uncompressed.
func alignmentFor(split *bundle.ModuleSplit, path string, method uint16) int {
	if method == zipkit.Deflate {
		return 0
	}
	if strings.HasSuffix(path, ".so") {
		return 4096
	}
	if split.SplitType == bundle.SplitTypeAssetSlice && strings.HasPrefix(path, "assets/") {
		return 4096
	}
	return 4
}

// shouldSignEmbedded reports whether entry at rewritten path p must be
// independently signed before being written into the outer APK: either
// it already carries the ShouldSign flag, or it is the embedded
// watch-face APK opts' locator identifies.
func shouldSignEmbedded(split *bundle.ModuleSplit, p string, e *bundle.ModuleEntry, locate WatchFaceLocator) bool {
	if e.ShouldSign {
		return true
	}
	if locate == nil || split.Manifest == nil {
		return false
	}
	watchFacePath, ok := locate(split.Manifest)
	return ok && watchFacePath == p
}

func readAll(c bundle.ContentSource) ([]byte, error) {
	rc, err := c.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
