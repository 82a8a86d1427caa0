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

// Package variantbuilder groups ModuleSplits into variants, assigns
// dense variant numbers, and runs the caller-supplied manifest modifier
// once per split, following spec §4.H. It is grounded on
// cmd/extract_apks/main.go's variantTargetingMatcher grouping shape
// (one VariantTargeting per installable-together group) generalized
// from "match a single TargetConfig" to "partition every split".
package variantbuilder

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/google/apkserializer/internal/bundle"
	"github.com/google/apkserializer/internal/buildconfig"
)

// Mode is the APK build mode requested by the caller, constraining
// which split types may appear in the output (spec §4.H step 6).
type Mode int

const (
	ModeDefault Mode = iota
	ModeUniversal
	ModeSystem
	ModeSystemCompressed
	ModeArchive
)

// Variant is one VariantKey's worth of splits, numbered densely.
type Variant struct {
	Number    int
	Key       bundle.VariantKey
	Targeting bundle.VariantTargeting
	Splits    []*bundle.ModuleSplit
}

// Build groups splits into variants, in first-appearance order of each
// distinct VariantKey, assigns variantNumber starting at firstVariantNumber,
// invokes modifyManifest once per split (if non-nil), clears each
// split's VariantTargeting, deduplicates bit-identical splits within a
// variant, and validates the mode/content invariants.
func Build(splits []*bundle.ModuleSplit, mode Mode, firstVariantNumber int, modifyManifest bundle.ModifyManifest) ([]Variant, error) {
	if err := validateModeContent(splits, mode); err != nil {
		return nil, err
	}

	order, grouped, targetingByKey := groupByVariantKey(splits)

	variants := make([]Variant, 0, len(order))
	for i, key := range order {
		number := firstVariantNumber + i
		group := grouped[key]
		for _, s := range group {
			isBase := s.ModuleName == bundle.BaseModuleName
			isMasterOrStandalone := s.IsMaster || s.SplitType == bundle.SplitTypeStandalone
			if modifyManifest != nil {
				newManifest, err := modifyManifest(s, number, isBase, isMasterOrStandalone)
				if err != nil {
					return nil, fmt.Errorf("variantbuilder: manifest modifier for %s: %w", s.ModuleName, err)
				}
				s.Manifest = newManifest
			}
			s.VariantTargeting = bundle.VariantTargeting{}
		}
		variants = append(variants, Variant{
			Number:    number,
			Key:       key,
			Targeting: targetingByKey[key],
			Splits:    dedupeSplits(group),
		})
	}
	return variants, nil
}

// groupByVariantKey partitions splits by their VariantTargeting.Key(),
// returning the keys in first-appearance order (the deterministic
// variant ordering spec §4.H step 1 calls for), the grouped splits, and
// each key's VariantTargeting captured before Build clears it from the
// splits themselves.
func groupByVariantKey(splits []*bundle.ModuleSplit) ([]bundle.VariantKey, map[bundle.VariantKey][]*bundle.ModuleSplit, map[bundle.VariantKey]bundle.VariantTargeting) {
	grouped := make(map[bundle.VariantKey][]*bundle.ModuleSplit)
	targeting := make(map[bundle.VariantKey]bundle.VariantTargeting)
	var order []bundle.VariantKey
	for _, s := range splits {
		key := s.VariantTargeting.Key()
		if _, ok := grouped[key]; !ok {
			order = append(order, key)
			targeting[key] = s.VariantTargeting
		}
		grouped[key] = append(grouped[key], s)
	}
	return order, grouped, targeting
}

func dedupeSplits(splits []*bundle.ModuleSplit) []*bundle.ModuleSplit {
	out := make([]*bundle.ModuleSplit, 0, len(splits))
	for _, s := range splits {
		dup := false
		for _, kept := range out {
			if reflect.DeepEqual(s, kept) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, s)
		}
	}
	return out
}

func validateModeContent(splits []*bundle.ModuleSplit, mode Mode) error {
	hasSystem, hasSplitOrInstant, hasStandalone := false, false, false
	for _, s := range splits {
		switch s.SplitType {
		case bundle.SplitTypeSystem:
			hasSystem = true
		case bundle.SplitTypeSplit, bundle.SplitTypeInstant:
			hasSplitOrInstant = true
		case bundle.SplitTypeStandalone:
			hasStandalone = true
		}
	}
	switch mode {
	case ModeDefault:
		if hasSystem {
			return buildconfig.InvalidCommand("DEFAULT mode forbids system APKs")
		}
	case ModeUniversal:
		if hasSplitOrInstant || hasSystem {
			return buildconfig.InvalidCommand("UNIVERSAL mode requires only standalone APKs")
		}
		if !hasStandalone {
			return buildconfig.InvalidCommand("UNIVERSAL mode requires at least one standalone APK")
		}
	case ModeSystem, ModeSystemCompressed:
		if hasSplitOrInstant || hasStandalone {
			return buildconfig.InvalidCommand("SYSTEM mode forbids split/instant/standalone APKs")
		}
	case ModeArchive:
		// Archive mode packages a single archived split per module; no
		// additional split-type restriction beyond what the splitter
		// pipeline (an external collaborator) already guarantees.
	}
	return nil
}

// SortVariants returns variants sorted by Number, the TOC ordering
// spec §5 requires.
func SortVariants(variants []Variant) []Variant {
	out := append([]Variant(nil), variants...)
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}
