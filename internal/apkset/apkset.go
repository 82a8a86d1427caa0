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

// Package apkset is the coordinator (spec §4.J): it drives variant
// grouping, the optional device filter, the resource-compiler batch,
// and a bounded worker pool that writes and signs one APK per split,
// then assembles the APK Set archive or directory plus its table of
// contents.
//
// The single-coordinator/worker-pool shape and the "first error wins,
// everything else is awaited and discarded" cancellation policy follow
// golang.org/x/sync/errgroup's own semantics directly, the same pattern
// package compression and package rescompile already use for bounded
// per-item fan-out.
package apkset

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/google/apkserializer/internal/apkwriter"
	"github.com/google/apkserializer/internal/bundle"
	"github.com/google/apkserializer/internal/buildconfig"
	"github.com/google/apkserializer/internal/buildlog"
	"github.com/google/apkserializer/internal/devicematch"
	"github.com/google/apkserializer/internal/pathmgr"
	"github.com/google/apkserializer/internal/rescompile"
	"github.com/google/apkserializer/internal/signer"
	"github.com/google/apkserializer/internal/variantbuilder"
	"github.com/google/apkserializer/internal/wireformat"
	"github.com/google/apkserializer/internal/zipkit"
)

// Listener receives progress notifications as the build proceeds. Pass
// nil for none; a non-nil Listener receives every call of both methods.
type Listener interface {
	OnVariantBuilt(variantNumber int, splitCount int)
	OnApkWritten(modulePath string)
}

// Request bundles every input spec §4.J's entrypoint needs: the
// programmatic "build APKs" call spec §6.4 describes.
type Request struct {
	Splits             []*bundle.ModuleSplit
	Mode               variantbuilder.Mode
	FirstVariantNumber int
	ModifyManifest     bundle.ModifyManifest
	Device             *bundle.DeviceSpec

	BundleConfig  buildconfig.BundleConfig
	SigningConfig buildconfig.SigningConfig
	Compiler      rescompile.Compiler

	EmbeddedSigner   apkwriter.EmbeddedSigner
	WatchFaceLocator apkwriter.WatchFaceLocator

	// Concurrency bounds the per-split worker pool; <= 0 selects
	// runtime.NumCPU(), per spec §5's "default = number of hardware
	// threads".
	Concurrency int

	// TempDir is the parent of the scoped, uuid-named temp directory
	// this build owns; os.TempDir() is used if empty.
	TempDir string

	// OutputDir selects directory mode when non-empty: the APK Set is
	// materialized as toc.pb plus APKs under this directory. Mutually
	// exclusive with ArchivePath.
	OutputDir string
	// ArchivePath selects archive mode when non-empty: a single zip
	// containing toc.pb (first, uncompressed) and every APK
	// (uncompressed, path order).
	ArchivePath string

	// ApkCertsPath, if non-empty, additionally emits an apkcerts.txt
	// listing (spec §6.1 supplemented feature) alongside the APK Set.
	ApkCertsPath string

	Listener Listener
}

// Result is what Build returns on success.
type Result struct {
	// OutputPath is ArchivePath or OutputDir, whichever selected the
	// output mode.
	OutputPath string
	TOC        wireformat.TableOfContents
}

// Build runs the full spec §4.J algorithm.
func Build(ctx context.Context, req Request) (Result, error) {
	if req.OutputDir == "" && req.ArchivePath == "" {
		return Result{}, buildconfig.InvalidCommand("apkset: exactly one of OutputDir or ArchivePath must be set")
	}
	if req.OutputDir != "" && req.ArchivePath != "" {
		return Result{}, buildconfig.InvalidCommand("apkset: OutputDir and ArchivePath are mutually exclusive")
	}

	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	scopedDir, err := newScopedTempDir(req.TempDir)
	if err != nil {
		return Result{}, buildconfig.IoFailure("creating scoped temp directory", err)
	}
	defer removeAllRetrying(scopedDir)

	variants, err := variantbuilder.Build(req.Splits, req.Mode, req.FirstVariantNumber, req.ModifyManifest)
	if err != nil {
		return Result{}, err
	}
	variants = variantbuilder.SortVariants(variants)

	if req.Device != nil {
		for i := range variants {
			filtered, err := devicematch.Filter(variants[i].Splits, *req.Device)
			if err != nil {
				return Result{}, err
			}
			variants[i].Splits = filtered
		}
	}

	var allSplits []*bundle.ModuleSplit
	for _, v := range variants {
		allSplits = append(allSplits, v.Splits...)
		if req.Listener != nil {
			req.Listener.OnVariantBuilt(v.Number, len(v.Splits))
		}
	}

	// minSdk must be captured before ConvertBatch runs: it clears
	// ModuleSplit.Manifest once conversion replaces it with binary-form
	// entries (internal/rescompile), and the signer needs the manifest's
	// declared min SDK to decide v1/v3 policy.
	manifestMinSdk := make(map[*bundle.ModuleSplit]int, len(allSplits))
	for _, s := range allSplits {
		if s.Manifest != nil {
			manifestMinSdk[s] = int(s.Manifest.MinSdkVersion())
		} else {
			manifestMinSdk[s] = 1
		}
	}

	if err := rescompile.ConvertBatch(ctx, scopedDir, allSplits, req.Compiler, rescompile.Options{
		SparseEncoding:         req.BundleConfig.SparseEncoding(),
		CollapseResourceNames:  req.BundleConfig.CollapseResourceNames(),
		DeduplicateEntries:     req.BundleConfig.DeduplicateResourceEntries(),
		ResourceConfigContents: req.BundleConfig.ResourceConfigFile(),
	}, concurrency); err != nil {
		return Result{}, err
	}

	mgr := pathmgr.New()
	apkPaths := make(map[*bundle.ModuleSplit]string, len(allSplits))
	for _, s := range allSplits {
		apkPaths[s] = mgr.GetApkPath(s, req.Mode == variantbuilder.ModeUniversal)
	}

	signedFiles := make(map[*bundle.ModuleSplit]string, len(allSplits))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, s := range allSplits {
		s := s
		g.Go(func() error {
			tmpPath, err := apkwriter.WriteSplit(gctx, scopedDir, s, apkwriter.Options{
				Signer:           req.EmbeddedSigner,
				WatchFaceLocator: req.WatchFaceLocator,
				IsUncompressed:   req.BundleConfig.IsUncompressed,
			})
			if err != nil {
				return err
			}

			targetingMin := 0
			if s.ApkTargeting.SdkVersion != nil {
				targetingMin = int(s.ApkTargeting.SdkVersion.Min)
			}
			effectiveMinSdk := manifestMinSdk[s]
			if targetingMin > effectiveMinSdk {
				effectiveMinSdk = targetingMin
			}
			signedPath, err := signer.Sign(gctx, tmpPath, req.SigningConfig, signer.Options{
				EffectiveMinSdk:    effectiveMinSdk,
				ManifestMinSdk:     manifestMinSdk[s],
				ApkTargetingSdkMin: targetingMin,
			})
			if err != nil {
				return err
			}

			mu.Lock()
			signedFiles[s] = signedPath
			mu.Unlock()
			if req.Listener != nil {
				req.Listener.OnApkWritten(apkPaths[s])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, buildconfig.Interrupted("apkset: build canceled")
	}

	// Everything past this point is single-threaded coordinator work
	// (spec §5's "TOC is assembled single-threaded by the coordinator
	// after workers complete").
	outputs, err := expandOutputs(req.Mode, variants, signedFiles, apkPaths, scopedDir)
	if err != nil {
		return Result{}, err
	}

	toc := buildTOC(variants, outputs)

	var outputPath string
	if req.ArchivePath != "" {
		outputPath, err = writeArchive(req.ArchivePath, toc, outputs)
	} else {
		outputPath, err = writeDirectory(req.OutputDir, toc, outputs)
	}
	if err != nil {
		return Result{}, err
	}

	if req.ApkCertsPath != "" {
		if err := writeApkCerts(req.ApkCertsPath, outputs); err != nil {
			return Result{}, err
		}
	}

	return Result{OutputPath: outputPath, TOC: toc}, nil
}

// apkOutput is one finished, on-disk APK ready to be placed into the
// APK Set, plus the metadata the TOC needs.
type apkOutput struct {
	split    *bundle.ModuleSplit
	variant  int
	path     string // final in-APK-Set path
	diskPath string // where its bytes currently live
}

// expandOutputs turns the signed per-split files into the final list of
// APK Set entries, applying the compressed-system-variant stub+gzip
// split (spec §6.3) when the build mode calls for it.
func expandOutputs(mode variantbuilder.Mode, variants []variantbuilder.Variant, signedFiles, apkPaths map[*bundle.ModuleSplit]string, scopedDir string) ([]apkOutput, error) {
	var outputs []apkOutput
	for _, v := range variants {
		for _, s := range v.Splits {
			diskPath, ok := signedFiles[s]
			if !ok {
				continue // no signed file was produced for this split
			}
			path := apkPaths[s]

			if mode == variantbuilder.ModeSystemCompressed && s.SplitType == bundle.SplitTypeSystem {
				stubPath, gzPath, err := splitCompressedSystemVariant(scopedDir, path, diskPath, s)
				if err != nil {
					return nil, err
				}
				outputs = append(outputs,
					apkOutput{split: s, variant: v.Number, path: path, diskPath: stubPath},
					apkOutput{split: s, variant: v.Number, path: path + ".gz", diskPath: gzPath},
				)
				continue
			}

			outputs = append(outputs, apkOutput{split: s, variant: v.Number, path: path, diskPath: diskPath})
		}
	}
	return outputs, nil
}

// splitCompressedSystemVariant builds the stub (a manifest-only APK,
// the conventional replacement bundletool and apex/builder.go's
// isCompressed path both install in place of the full image) and gzips
// the full signed APK alongside it at "<path>.gz".
func splitCompressedSystemVariant(scopedDir, path, fullApkPath string, s *bundle.ModuleSplit) (stubPath, gzPath string, err error) {
	full, err := os.ReadFile(fullApkPath)
	if err != nil {
		return "", "", buildconfig.IoFailure("reading full system APK for compression", err)
	}

	r, err := zipkit.NewReader(full)
	if err != nil {
		return "", "", buildconfig.IoFailure("parsing full system APK for compression", err)
	}
	stubTmp, err := os.CreateTemp(scopedDir, "stub-*.apk")
	if err != nil {
		return "", "", buildconfig.IoFailure("creating stub APK temp file", err)
	}
	w := zipkit.NewWriter(stubTmp)
	for _, f := range r.Files {
		if f.Name != bundle.ReservedManifestPath {
			continue
		}
		if err := w.CopyRecord(f.Name, 0, r.RawRecord(f)); err != nil {
			stubTmp.Close()
			return "", "", buildconfig.IoFailure("building stub APK", err)
		}
	}
	if err := w.Close(); err != nil {
		stubTmp.Close()
		return "", "", buildconfig.IoFailure("closing stub APK", err)
	}
	if err := stubTmp.Close(); err != nil {
		return "", "", buildconfig.IoFailure("closing stub APK file", err)
	}

	gzTmp, err := os.CreateTemp(scopedDir, "full-*.apk.gz")
	if err != nil {
		return "", "", buildconfig.IoFailure("creating gzip temp file", err)
	}
	gw := gzip.NewWriter(gzTmp)
	if _, err := gw.Write(full); err != nil {
		gzTmp.Close()
		return "", "", buildconfig.IoFailure("gzipping full system APK", err)
	}
	if err := gw.Close(); err != nil {
		gzTmp.Close()
		return "", "", buildconfig.IoFailure("closing gzip writer", err)
	}
	if err := gzTmp.Close(); err != nil {
		return "", "", buildconfig.IoFailure("closing gzip temp file", err)
	}
	return stubTmp.Name(), gzTmp.Name(), nil
}

// buildTOC assembles the table of contents per spec §4.J step 6 and §5's
// ordering guarantees: variants by number, modules within a variant by
// name, ApkDescriptions within a module in input split order.
func buildTOC(variants []variantbuilder.Variant, outputs []apkOutput) wireformat.TableOfContents {
	byVariant := make(map[int][]apkOutput, len(variants))
	for _, o := range outputs {
		byVariant[o.variant] = append(byVariant[o.variant], o)
	}

	var toc wireformat.TableOfContents
	for _, v := range variants {
		entries := byVariant[v.Number]
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].split.ModuleName < entries[j].split.ModuleName
		})
		ve := wireformat.VariantEntry{VariantNumber: int32(v.Number), Targeting: v.Targeting}
		for _, o := range entries {
			ve.Apks = append(ve.Apks, wireformat.ApkEntry{
				Path:      o.path,
				Module:    o.split.ModuleName,
				SplitType: o.split.SplitType,
				Targeting: o.split.ApkTargeting,
			})
		}
		toc.Variants = append(toc.Variants, ve)
	}
	return toc
}

// writeArchive emits the archive-mode output: a single zip with toc.pb
// first (uncompressed), then every APK uncompressed in deterministic
// path order (spec §6.3).
func writeArchive(archivePath string, toc wireformat.TableOfContents, outputs []apkOutput) (string, error) {
	sorted := append([]apkOutput(nil), outputs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].path < sorted[j].path })

	f, err := os.Create(archivePath)
	if err != nil {
		return "", buildconfig.IoFailure("creating APK Set archive", err)
	}
	w := zipkit.NewWriter(f)
	if err := w.Add(zipkit.Record{Name: "toc.pb", Method: zipkit.Store}, wireformat.EncodeTOC(toc)); err != nil {
		f.Close()
		return "", buildconfig.IoFailure("writing toc.pb into APK Set archive", err)
	}
	for _, o := range sorted {
		content, err := os.ReadFile(o.diskPath)
		if err != nil {
			f.Close()
			return "", buildconfig.IoFailure(fmt.Sprintf("reading %q for archive", o.path), err)
		}
		if err := w.Add(zipkit.Record{Name: o.path, Method: zipkit.Store}, content); err != nil {
			f.Close()
			return "", buildconfig.IoFailure(fmt.Sprintf("writing %q into APK Set archive", o.path), err)
		}
	}
	if err := w.Close(); err != nil {
		f.Close()
		return "", buildconfig.IoFailure("closing APK Set archive", err)
	}
	if err := f.Close(); err != nil {
		return "", buildconfig.IoFailure("closing APK Set archive file", err)
	}
	return archivePath, nil
}

// writeDirectory emits directory-mode output: toc.pb at the directory
// root plus every APK at its assigned relative path.
func writeDirectory(outputDir string, toc wireformat.TableOfContents, outputs []apkOutput) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", buildconfig.IoFailure("creating APK Set output directory", err)
	}
	if err := os.WriteFile(filepath.Join(outputDir, "toc.pb"), wireformat.EncodeTOC(toc), 0o644); err != nil {
		return "", buildconfig.IoFailure("writing toc.pb", err)
	}
	for _, o := range outputs {
		dst := filepath.Join(outputDir, filepath.FromSlash(o.path))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return "", buildconfig.IoFailure(fmt.Sprintf("creating directory for %q", o.path), err)
		}
		if err := copyFile(o.diskPath, dst); err != nil {
			return "", buildconfig.IoFailure(fmt.Sprintf("placing %q", o.path), err)
		}
	}
	return outputDir, nil
}

func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// writeApkCerts emits the apkcerts.txt listing cmd/extract_apks's
// -apkcerts flag produces: one "name=... certificate="PRESIGNED"
// private_key="" partition="..."" line per produced APK. Every APK this
// core signs is already final, so certificate is always the
// build/make-recognized PRESIGNED sentinel.
func writeApkCerts(path string, outputs []apkOutput) error {
	var b strings.Builder
	for _, o := range outputs {
		partition := ""
		if o.split.SplitType == bundle.SplitTypeSystem {
			partition = "system"
		}
		fmt.Fprintf(&b, "name=%q certificate=\"PRESIGNED\" private_key=\"\" partition=%q\n", o.path, partition)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return buildconfig.IoFailure("writing apkcerts.txt", err)
	}
	return nil
}

// newScopedTempDir creates a uuid-named directory under base (or
// os.TempDir() if base is empty), giving this build a collision-free
// scratch area whose entire lifetime is owned by the coordinator.
func newScopedTempDir(base string) (string, error) {
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "apkserializer-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// removeAllRetrying deletes dir, retrying up to 5 times with a short
// back-off on transient "directory not empty" errors from filesystems
// with asynchronous deletion visibility (spec §5's resource-lifecycle
// rule).
func removeAllRetrying(dir string) {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		if err = os.RemoveAll(dir); err == nil {
			return
		}
		time.Sleep(time.Duration(attempt+1) * 20 * time.Millisecond)
	}
	buildlog.Default.Printf("apkset: failed to remove scoped temp directory %q after retries: %v", dir, err)
}
