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
	"sort"
	"strconv"
	"strings"
)

// ValueSet is a sum-of-dimensions targeting value: the split was built
// for one of Values, with Alternatives listing the other values that
// exist for the same dimension elsewhere in the bundle. Values and
// Alternatives are always disjoint.
type ValueSet struct {
	Values       []string
	Alternatives []string
}

// IsDefault reports whether this dimension was left untargeted.
func (v *ValueSet) IsDefault() bool {
	return v == nil || (len(v.Values) == 0 && len(v.Alternatives) == 0)
}

func (v *ValueSet) fingerprint(buf *strings.Builder) {
	if v.IsDefault() {
		buf.WriteString("-")
		return
	}
	vals := append([]string(nil), v.Values...)
	sort.Strings(vals)
	buf.WriteString(strings.Join(vals, ","))
}

// ApkTargeting is the normalized per-APK targeting: one ValueSet per
// targetable dimension (ABI, screen density, language, texture
// compression format, device tier, country set, multi-ABI, SDK runtime)
// plus the distinguished SDK version dimension.
type ApkTargeting struct {
	Abi                      *ValueSet
	ScreenDensity            *ValueSet
	Language                 *ValueSet
	SdkVersion               *SdkVersionTargeting
	TextureCompressionFormat *ValueSet
	DeviceTier               *ValueSet
	CountrySet               *ValueSet
	MultiAbi                 *ValueSet
	SdkRuntime               *ValueSet
}

// SdkVersionTargeting targets a minimum SDK version (and, in bundletool
// fashion, an alternatives list of other mins present in the bundle).
type SdkVersionTargeting struct {
	Min          int32
	Alternatives []int32
}

func (s *SdkVersionTargeting) IsDefault() bool {
	return s == nil || (s.Min == 0 && len(s.Alternatives) == 0)
}

// VariantTargeting is the targeting fingerprint of a variant: the
// subset of dimensions that distinguish installable-together splits
// (SDK, ABI, multi-ABI, screen density, texture compression format).
type VariantTargeting struct {
	SdkVersion               *SdkVersionTargeting
	Abi                      *ValueSet
	MultiAbi                 *ValueSet
	ScreenDensity            *ValueSet
	TextureCompressionFormat *ValueSet
}

// VariantKey is the unique, order-independent fingerprint of a variant's
// targeting, suitable as a map key for grouping splits.
type VariantKey string

// Key computes the VariantKey for a VariantTargeting. Two
// VariantTargetings with the same semantic content (independent of
// slice order) produce the same key, which is what lets the variant
// builder (package variantbuilder) group splits deterministically.
func (t VariantTargeting) Key() VariantKey {
	var buf strings.Builder
	writeSdk := func(s *SdkVersionTargeting) {
		if s.IsDefault() {
			buf.WriteString("-")
			return
		}
		buf.WriteString(strconv.Itoa(int(s.Min)))
	}
	writeSdk(t.SdkVersion)
	buf.WriteString("|")
	t.Abi.fingerprint(&buf)
	buf.WriteString("|")
	t.MultiAbi.fingerprint(&buf)
	buf.WriteString("|")
	t.ScreenDensity.fingerprint(&buf)
	buf.WriteString("|")
	t.TextureCompressionFormat.fingerprint(&buf)
	return VariantKey(buf.String())
}
