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

// Package bundle holds the in-memory data model that the rest of this
// module operates on: module splits, their entries, targeting, and the
// wire forms (manifest, resource table, APK Set table of contents) that
// cross a process boundary.
package bundle

import "fmt"

// SplitType is the kind of APK a ModuleSplit will serialize to.
type SplitType int

const (
	SplitTypeSplit SplitType = iota
	SplitTypeInstant
	SplitTypeStandalone
	SplitTypeSystem
	SplitTypeAssetSlice
	SplitTypeArchive
)

func (t SplitType) String() string {
	switch t {
	case SplitTypeSplit:
		return "SPLIT"
	case SplitTypeInstant:
		return "INSTANT"
	case SplitTypeStandalone:
		return "STANDALONE"
	case SplitTypeSystem:
		return "SYSTEM"
	case SplitTypeAssetSlice:
		return "ASSET_SLICE"
	case SplitTypeArchive:
		return "ARCHIVE"
	default:
		return fmt.Sprintf("SplitType(%d)", int(t))
	}
}

// BaseModuleName is the reserved name of the one mandatory module every
// bundle carries.
const BaseModuleName = "base"

// ModuleSplit is the unit of APK generation: one module's content
// intersected with one targeting bucket.
type ModuleSplit struct {
	ModuleName       string
	SplitType        SplitType
	IsMaster         bool
	ApkTargeting     ApkTargeting
	VariantTargeting VariantTargeting
	Entries          []*ModuleEntry
	Manifest         *ManifestNode
	ResourceTable    *ResourceTable // optional, nil if this split has none
	Suffix           string         // derived from targeting, used for filenames

	// IsApex marks that this split packages an APEX payload rather than an
	// APK; set by callers that produce STANDALONE apex splits.
	IsApex bool
}

// Clone returns a shallow copy of the split with its Entries slice copied
// (but not the entries themselves, which are immutable once constructed).
func (s *ModuleSplit) Clone() *ModuleSplit {
	clone := *s
	clone.Entries = append([]*ModuleEntry(nil), s.Entries...)
	return &clone
}

// ModuleEntry is one file destined for an APK.
type ModuleEntry struct {
	Path              string
	Content           ContentSource
	ForceUncompressed bool
	ShouldSign        bool
	SourceLocation    *SourceLocation
}

// SourceLocation identifies a zero-copy passthrough origin: an entry
// name inside a specific bundle zip. Two ModuleEntrys with an equal
// SourceLocation are defined to share backing content.
type SourceLocation struct {
	BundlePath string
	EntryName  string
}

// Key returns a value suitable for use as a map key identifying this
// source location, or (SourceLocation{}, false) if the entry has none.
func (e *ModuleEntry) Key() (SourceLocation, bool) {
	if e.SourceLocation == nil {
		return SourceLocation{}, false
	}
	return *e.SourceLocation, true
}
