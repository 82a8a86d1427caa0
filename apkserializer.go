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

// Package apkserializer turns a set of pre-split app bundle modules
// into a signed APK Set: variant grouping, device matching, resource
// compilation, APK assembly, and v1/v2/v3 signing, behind one
// programmatic entrypoint.
//
// Building the module splits themselves from a .aab is a different
// collaborator's job; this package picks up from ModuleSplit onward.
// The actual implementation lives under internal/, split by concern
// (internal/variantbuilder, internal/devicematch, internal/rescompile,
// internal/apkwriter, internal/signer, internal/apkset); this file
// re-exports just enough of it for an external caller to drive a build
// and classify its errors without reaching into internal packages.
package apkserializer

import (
	"context"

	"github.com/google/apkserializer/internal/apkset"
	"github.com/google/apkserializer/internal/apkwriter"
	"github.com/google/apkserializer/internal/bundle"
	"github.com/google/apkserializer/internal/buildconfig"
	"github.com/google/apkserializer/internal/rescompile"
	"github.com/google/apkserializer/internal/variantbuilder"
)

// Re-exported data model types a caller builds a Request out of.
type (
	ModuleSplit      = bundle.ModuleSplit
	ModuleEntry      = bundle.ModuleEntry
	ManifestNode     = bundle.ManifestNode
	ResourceTable    = bundle.ResourceTable
	DeviceSpec       = bundle.DeviceSpec
	ModifyManifest   = bundle.ModifyManifest
	ApkTargeting     = bundle.ApkTargeting
	VariantTargeting = bundle.VariantTargeting
	ContentSource    = bundle.ContentSource
	MemoryContent    = bundle.MemoryContent
)

// SplitType mirrors bundle.SplitType and its named values.
type SplitType = bundle.SplitType

const (
	SplitTypeSplit      = bundle.SplitTypeSplit
	SplitTypeInstant    = bundle.SplitTypeInstant
	SplitTypeStandalone = bundle.SplitTypeStandalone
	SplitTypeSystem     = bundle.SplitTypeSystem
	SplitTypeAssetSlice = bundle.SplitTypeAssetSlice
	SplitTypeArchive    = bundle.SplitTypeArchive

	// BaseModuleName is the reserved name of the one mandatory module
	// every bundle carries.
	BaseModuleName = bundle.BaseModuleName
)

// BuildMode mirrors variantbuilder.Mode and its named values.
type BuildMode = variantbuilder.Mode

const (
	ModeDefault          = variantbuilder.ModeDefault
	ModeUniversal        = variantbuilder.ModeUniversal
	ModeSystem           = variantbuilder.ModeSystem
	ModeSystemCompressed = variantbuilder.ModeSystemCompressed
	ModeArchive          = variantbuilder.ModeArchive
)

// Config types and constructors.
type (
	BundleConfig  = buildconfig.BundleConfig
	SigningConfig = buildconfig.SigningConfig
	LineageEntry  = buildconfig.LineageEntry
)

var (
	NewBundleConfig     = buildconfig.NewBundleConfig
	DefaultBundleConfig = buildconfig.DefaultBundleConfig
	NewSigningConfig    = buildconfig.NewSigningConfig
)

// Error kind sum type (spec §7), re-exported so callers can classify a
// returned error with errors.As without importing internal/buildconfig.
type (
	BuildError = buildconfig.BuildError
	ErrorKind  = buildconfig.Kind
)

const (
	KindInvalidBundle           = buildconfig.KindInvalidBundle
	KindInvalidCommand          = buildconfig.KindInvalidCommand
	KindInvalidDeviceSpec       = buildconfig.KindInvalidDeviceSpec
	KindResourceCompilerFailure = buildconfig.KindResourceCompilerFailure
	KindSigningFailure          = buildconfig.KindSigningFailure
	KindIoFailure               = buildconfig.KindIoFailure
	KindInterrupted             = buildconfig.KindInterrupted
)

// Listener receives progress notifications as a build proceeds.
type Listener = apkset.Listener

// EmbeddedSigner and WatchFaceLocator configure how apkwriter treats
// entries that must be independently signed before the outer APK is
// (spec §4.E step 7: embedded watch-face APKs, Wear APK packaging).
type (
	EmbeddedSigner   = apkwriter.EmbeddedSigner
	WatchFaceLocator = apkwriter.WatchFaceLocator
)

// Compiler is the external resource-compiler contract (spec §6.2).
type Compiler = rescompile.Compiler

// CompilerOptions are the flags forwarded to the resource-compiler child
// process, sourced from BundleConfig.
type CompilerOptions = rescompile.Options

// ExecCompiler shells out to a resource-compiler binary per spec §6.2's
// CLI contract.
type ExecCompiler = rescompile.ExecCompiler

// Request bundles every input a build needs: the programmatic "build
// APKs" entrypoint spec.md §6.4 describes,
// (bundle, signingConfig, apkSerializerListener?, deviceSpec?,
// apkBuildMode, firstVariantNumber) generalized with the handful of
// additional knobs (compiler, output target, concurrency) a Go caller
// must supply explicitly rather than receiving from ambient build-system
// state the way the original tool did.
type Request = apkset.Request

// Result is what Build returns on success: the produced archive or
// directory path plus the table of contents describing its variants.
type Result = apkset.Result

// Build runs a complete APK Set build: variant grouping, optional
// device filtering, resource compilation, per-split APK assembly and
// signing, and final archive/directory assembly, per spec §4.J.
func Build(ctx context.Context, req Request) (Result, error) {
	return apkset.Build(ctx, req)
}
