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

// Package buildconfig holds the two immutable configuration objects
// every build consumes (BundleConfig, SigningConfig) and the BuildError
// type that classifies build failures by kind.
//
// Both config types follow android.Config's shape (android/config.go):
// an exported wrapper around an unexported struct, built once by a
// constructor and never mutated in place afterward.
package buildconfig

import (
	"encoding/json"
	"fmt"

	"github.com/google/blueprint/pathtools"
)

// CompressionAlgorithm is the APK compression algorithm a BundleConfig
// records. No code in this module reads it: APK entries are always
// compressed in-process by package compression's store-vs-deflate
// decision, and no external compressor is ever invoked.
type CompressionAlgorithm int

const (
	// AlgorithmDeflate is the default: per-entry store-vs-deflate
	// decision made by package compression.
	AlgorithmDeflate CompressionAlgorithm = iota
	// AlgorithmExternal records that an external compressor binary was
	// configured (see ExternalCompressor).
	AlgorithmExternal
)

// resourceOptimizationsOptions is the JSON shape of the
// optimizations.resourceOptimizations BundleConfig option.
type resourceOptimizationsOptions struct {
	SparseEncoding       bool `json:"sparseEncoding"`
	CollapsedResourceNames struct {
		CollapseResourceNames   bool     `json:"collapseResourceNames"`
		DeduplicateEntries      bool     `json:"deduplicateResourceEntries"`
		NoCollapseResources     []string `json:"noCollapseResources"`
		NoCollapseResourceTypes []string `json:"noCollapseResourceTypes"`
	} `json:"collapsedResourceNames"`
}

// bundleConfigOptions is the raw JSON shape BundleConfig is parsed from;
// it mirrors the subset of the real bundletool BundleConfig.pb.json this
// core consumes (§6.1).
type bundleConfigOptions struct {
	Compression struct {
		UncompressedGlob      []string `json:"uncompressedGlob"`
		ApkCompressionAlgorithm string `json:"apkCompressionAlgorithm"`
	} `json:"compression"`
	Optimizations struct {
		ResourceOptimizations resourceOptimizationsOptions `json:"resourceOptimizations"`
	} `json:"optimizations"`
	ExternalCompressorPath string `json:"-"` // set programmatically, not via JSON
	ExternalCompressorArgs []string `json:"-"`
}

// config is the unexported backing struct; BundleConfig wraps a pointer
// to it so the zero value of BundleConfig is distinguishable from a
// constructed one without exposing mutable fields.
type config struct {
	uncompressedGlobs  []string
	algorithm          CompressionAlgorithm
	externalCompressor string
	externalArgs       []string

	sparseEncoding          bool
	collapseResourceNames   bool
	deduplicateEntries      bool
	noCollapseResources     []string
	noCollapseResourceTypes []string
}

// BundleConfig is the immutable, parsed form of the bundletool
// BundleConfig options this core recognizes.
type BundleConfig struct {
	*config
}

// NewBundleConfig parses raw (the BundleConfig JSON options blob) into
// a BundleConfig. An empty or nil raw produces all-default config.
func NewBundleConfig(raw []byte) (BundleConfig, error) {
	var opts bundleConfigOptions
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return BundleConfig{}, fmt.Errorf("buildconfig: parsing BundleConfig: %w", err)
		}
	}
	c := &config{
		uncompressedGlobs:       opts.Compression.UncompressedGlob,
		sparseEncoding:          opts.Optimizations.ResourceOptimizations.SparseEncoding,
		collapseResourceNames:   opts.Optimizations.ResourceOptimizations.CollapsedResourceNames.CollapseResourceNames,
		deduplicateEntries:      opts.Optimizations.ResourceOptimizations.CollapsedResourceNames.DeduplicateEntries,
		noCollapseResources:     opts.Optimizations.ResourceOptimizations.CollapsedResourceNames.NoCollapseResources,
		noCollapseResourceTypes: opts.Optimizations.ResourceOptimizations.CollapsedResourceNames.NoCollapseResourceTypes,
	}
	switch opts.Compression.ApkCompressionAlgorithm {
	case "", "DEFLATE":
		c.algorithm = AlgorithmDeflate
	default:
		c.algorithm = AlgorithmExternal
		c.externalCompressor = opts.Compression.ApkCompressionAlgorithm
	}
	return BundleConfig{c}, nil
}

// DefaultBundleConfig returns the all-defaults BundleConfig, equivalent
// to NewBundleConfig(nil).
func DefaultBundleConfig() BundleConfig {
	c, _ := NewBundleConfig(nil)
	return c
}

// WithExternalCompressor returns a copy of c configured to use an
// external compressor binary, invoked with args, in place of in-process
// deflate.
func (c BundleConfig) WithExternalCompressor(binary string, args []string) BundleConfig {
	clone := *c.config
	clone.algorithm = AlgorithmExternal
	clone.externalCompressor = binary
	clone.externalArgs = args
	return BundleConfig{&clone}
}

// IsUncompressed reports whether apkPath matches one of the
// uncompressedGlob patterns, which forces the entry to be stored rather
// than deflated regardless of the compression decision engine's normal
// savings heuristic.
func (c BundleConfig) IsUncompressed(apkPath string) bool {
	for _, g := range c.uncompressedGlobs {
		if ok, err := pathtools.Match(g, apkPath); err == nil && ok {
			return true
		}
	}
	return false
}

// CompressionAlgorithm returns the configured compression algorithm.
func (c BundleConfig) CompressionAlgorithm() CompressionAlgorithm { return c.algorithm }

// ExternalCompressor returns the external compressor binary path and
// its extra arguments, valid only when CompressionAlgorithm returns
// AlgorithmExternal.
func (c BundleConfig) ExternalCompressor() (binary string, args []string) {
	return c.externalCompressor, c.externalArgs
}

// SparseEncoding reports whether the resource compiler should be asked
// to produce a sparse-encoded resource table.
func (c BundleConfig) SparseEncoding() bool { return c.sparseEncoding }

// CollapseResourceNames reports whether resource name collapsing is
// enabled.
func (c BundleConfig) CollapseResourceNames() bool { return c.collapseResourceNames }

// DeduplicateResourceEntries reports whether resource entry
// deduplication is enabled.
func (c BundleConfig) DeduplicateResourceEntries() bool { return c.deduplicateEntries }

// NoCollapseResources returns the exclusion lists for resource name
// collapsing: individual resource paths and whole resource types that
// must keep their original names.
func (c BundleConfig) NoCollapseResources() (paths, types []string) {
	return c.noCollapseResources, c.noCollapseResourceTypes
}

// ResourceConfigFile renders the "do not collapse these names" policy
// (§4.C step 2) as the line-oriented text format the resource compiler
// expects via --resources-config-path: one "type/name" or "type" rule
// per line.
func (c BundleConfig) ResourceConfigFile() []byte {
	if !c.collapseResourceNames && !c.deduplicateEntries {
		return nil
	}
	if len(c.noCollapseResources) == 0 && len(c.noCollapseResourceTypes) == 0 {
		return nil
	}
	var buf []byte
	for _, t := range c.noCollapseResourceTypes {
		buf = append(buf, t...)
		buf = append(buf, '\n')
	}
	for _, p := range c.noCollapseResources {
		buf = append(buf, p...)
		buf = append(buf, '\n')
	}
	return buf
}
