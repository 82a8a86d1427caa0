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

// Package rescompile batch-converts the protobuf-form manifest,
// resource table, and res/ entries of every split in one build into
// their binary on-device form, via one external resource-compiler
// child process invocation per split (spec §4.C).
//
// The child-process plumbing follows cmd/run_with_timeout's
// exec.Command + context deadline shape; the per-split fan-out follows
// the same golang.org/x/sync/errgroup pattern as package compression.
package rescompile

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/google/apkserializer/internal/bundle"
	"github.com/google/apkserializer/internal/buildconfig"
	"github.com/google/apkserializer/internal/entrypack"
	"github.com/google/apkserializer/internal/wireformat"
	"github.com/google/apkserializer/internal/zipkit"
)

// childTimeout bounds one resource-compiler invocation (spec §6.2).
const childTimeout = 5 * time.Minute

// Options are the flags forwarded to the resource-compiler child
// process (spec §6.2), sourced from BundleConfig.
type Options struct {
	SparseEncoding         bool
	CollapseResourceNames  bool
	DeduplicateEntries     bool
	ResourceConfigContents []byte // written to a temp file and passed via --resources-config-path, if non-empty
}

// Compiler runs the external resource-compiler binary. The production
// implementation shells out; tests substitute a fake that never
// touches a subprocess.
type Compiler interface {
	// Convert reads a proto-form APK zip from inPath and writes the
	// binary-form equivalent to outPath.
	Convert(ctx context.Context, inPath, outPath string, opts Options) error
}

// ExecCompiler invokes an external binary per spec §6.2's CLI contract.
type ExecCompiler struct {
	BinaryPath string
}

func (c ExecCompiler) Convert(ctx context.Context, inPath, outPath string, opts Options) error {
	ctx, cancel := context.WithTimeout(ctx, childTimeout)
	defer cancel()

	args := []string{"convert", "--output-format", "binary", "-o", outPath}
	if opts.SparseEncoding {
		args = append(args, "--force-sparse-encoding")
	}
	if opts.CollapseResourceNames {
		args = append(args, "--collapse-resource-names")
	}
	if opts.DeduplicateEntries {
		args = append(args, "--deduplicate-entries")
	}
	var configPath string
	if len(opts.ResourceConfigContents) > 0 {
		f, err := os.CreateTemp("", "resources-config-*.txt")
		if err != nil {
			return buildconfig.IoFailure("creating resource config file", err)
		}
		configPath = f.Name()
		defer os.Remove(configPath)
		if _, err := f.Write(opts.ResourceConfigContents); err != nil {
			f.Close()
			return buildconfig.IoFailure("writing resource config file", err)
		}
		if err := f.Close(); err != nil {
			return buildconfig.IoFailure("closing resource config file", err)
		}
		args = append(args, "--resources-config-path", configPath)
	}
	args = append(args, inPath)

	cmd := exec.CommandContext(ctx, c.BinaryPath, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return buildconfig.ResourceCompilerFailure(fmt.Sprintf("%s timed out after %s", c.BinaryPath, childTimeout), err)
		}
		return buildconfig.ResourceCompilerFailure(fmt.Sprintf("%s: %s", c.BinaryPath, stderr.String()), err)
	}
	return nil
}

// isConvertible reports whether an already-path-rewritten in-APK path
// must pass through the resource compiler: the manifest, the resource
// table, and anything under res/.
func isConvertible(rewrittenPath string) bool {
	return rewrittenPath == bundle.ReservedManifestPath ||
		rewrittenPath == bundle.ReservedResourceTablePath ||
		strings.HasPrefix(rewrittenPath, "res/")
}

// ConvertBatch runs the full algorithm of spec §4.C across every split,
// in parallel per split bounded by concurrency, replacing each split's
// convertible entries in place with the binary form the child process
// produced. dir is the scoped temp directory intermediate files are
// created under.
func ConvertBatch(ctx context.Context, dir string, splits []*bundle.ModuleSplit, compiler Compiler, opts Options, concurrency int) error {
	p0, err := entrypack.New(dir)
	if err != nil {
		return buildconfig.IoFailure("creating resource converter staging pack", err)
	}
	defer p0.Close()

	for _, s := range splits {
		if s.Manifest == nil {
			return buildconfig.InvalidBundle("split %q has no manifest; every APK-producing split must carry one", s.ModuleName)
		}
		for _, e := range s.Entries {
			rewritten := bundle.RewriteApkPath(e.Path)
			if !isConvertible(rewritten) {
				continue
			}
			content, err := readAll(e)
			if err != nil {
				return buildconfig.IoFailure(fmt.Sprintf("reading %q", e.Path), err)
			}
			if err := p0.Add(sourceKey(s, e, rewritten), content); err != nil {
				return buildconfig.IoFailure("staging convertible entries", err)
			}
		}
	}
	if err := p0.Finalize(); err != nil {
		return buildconfig.IoFailure("finalizing resource converter staging pack", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for _, s := range splits {
		s := s
		g.Go(func() error {
			return convertOne(gctx, dir, s, p0, compiler, opts)
		})
	}
	return g.Wait()
}

// sourceKey gives P0 a logical key unique per (split, rewritten path)
// pair, keeping each split's lookup distinct from another split's
// same-named entry; entries with identical bytes are still stored once
// through entrypack's content dedup. Entries with a SourceLocation are
// keyed by that location alone, which splits sharing it have in common.
func sourceKey(s *bundle.ModuleSplit, e *bundle.ModuleEntry, rewritten string) string {
	if loc, ok := e.Key(); ok {
		return "src:" + loc.BundlePath + "\x00" + loc.EntryName
	}
	return fmt.Sprintf("path:%p:%s", s, rewritten)
}

func convertOne(ctx context.Context, dir string, s *bundle.ModuleSplit, p0 *entrypack.Pack, compiler Compiler, opts Options) error {
	proto, err := os.CreateTemp(dir, "proto-apk-*.zip")
	if err != nil {
		return buildconfig.IoFailure("creating partial proto APK", err)
	}
	protoPath := proto.Name()
	defer os.Remove(protoPath)

	w := zipkit.NewWriter(proto)
	manifestBytes := wireformat.EncodeManifest(s.Manifest)
	if err := w.Add(zipkit.Record{Name: bundle.ReservedManifestPath, Method: zipkit.Store}, manifestBytes); err != nil {
		proto.Close()
		return buildconfig.IoFailure("building partial proto APK", err)
	}
	if s.ResourceTable != nil {
		tableBytes := wireformat.EncodeResourceTable(s.ResourceTable)
		if err := w.Add(zipkit.Record{Name: bundle.ReservedResourceTablePath, Method: zipkit.Store}, tableBytes); err != nil {
			proto.Close()
			return buildconfig.IoFailure("building partial proto APK", err)
		}
	}
	for _, e := range s.Entries {
		rewritten := bundle.RewriteApkPath(e.Path)
		if !isConvertible(rewritten) {
			continue
		}
		content, err := p0.Select(sourceKey(s, e, rewritten))
		if err != nil {
			proto.Close()
			return buildconfig.IoFailure(fmt.Sprintf("selecting %q for conversion", e.Path), err)
		}
		if err := w.Add(zipkit.Record{Name: rewritten, Method: zipkit.Store}, content); err != nil {
			proto.Close()
			return buildconfig.IoFailure("building partial proto APK", err)
		}
	}
	if err := w.Close(); err != nil {
		proto.Close()
		return buildconfig.IoFailure("closing partial proto APK", err)
	}
	if err := proto.Close(); err != nil {
		return buildconfig.IoFailure("closing partial proto APK file", err)
	}

	binPath := protoPath + ".bin"
	defer os.Remove(binPath)
	if err := compiler.Convert(ctx, protoPath, binPath, Options{
		SparseEncoding:         opts.SparseEncoding,
		CollapseResourceNames:  opts.CollapseResourceNames,
		DeduplicateEntries:     opts.DeduplicateEntries,
		ResourceConfigContents: opts.ResourceConfigContents,
	}); err != nil {
		return err
	}

	binData, err := os.ReadFile(binPath)
	if err != nil {
		return buildconfig.IoFailure("reading binary APK", err)
	}
	r, err := zipkit.NewReader(binData)
	if err != nil {
		return buildconfig.IoFailure("parsing binary APK", err)
	}

	var kept []*bundle.ModuleEntry
	for _, e := range s.Entries {
		rewritten := bundle.RewriteApkPath(e.Path)
		if !isConvertible(rewritten) {
			kept = append(kept, e)
		}
	}
	for _, f := range r.Files {
		rc, err := r.Open(f)
		if err != nil {
			return buildconfig.IoFailure(fmt.Sprintf("reading binary APK entry %q", f.Name), err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return buildconfig.IoFailure(fmt.Sprintf("reading binary APK entry %q", f.Name), err)
		}
		forceUncompressed := f.Name == bundle.ReservedResourceTablePath
		kept = append(kept, &bundle.ModuleEntry{
			Path:              f.Name,
			Content:           bundle.MemoryContent(content),
			ForceUncompressed: forceUncompressed,
		})
	}
	s.Entries = kept
	// The manifest and resource table now live in s.Entries in their
	// binary on-device form; the proto-form fields no longer apply.
	s.Manifest = nil
	s.ResourceTable = nil
	return nil
}

func readAll(e *bundle.ModuleEntry) ([]byte, error) {
	rc, err := e.Content.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
