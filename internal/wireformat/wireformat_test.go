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

package wireformat

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/google/apkserializer/internal/bundle"
)

func TestTOCRoundTrip(t *testing.T) {
	toc := TableOfContents{
		Variants: []VariantEntry{
			{
				VariantNumber: 0,
				Targeting: bundle.VariantTargeting{
					Abi: &bundle.ValueSet{Values: []string{"arm64-v8a"}, Alternatives: []string{"armeabi-v7a"}},
				},
				Apks: []ApkEntry{
					{
						Path:      "splits/base-arm64_v8a.apk",
						Module:    "base",
						SplitType: bundle.SplitTypeSplit,
						Targeting: bundle.ApkTargeting{
							Abi: &bundle.ValueSet{Values: []string{"arm64-v8a"}},
							SdkVersion: &bundle.SdkVersionTargeting{Min: 21},
						},
					},
					{
						Path:      "splits/base-master.apk",
						Module:    "base",
						SplitType: bundle.SplitTypeSplit,
					},
				},
			},
			{
				VariantNumber: 1,
				Apks: []ApkEntry{
					{Path: "standalones/standalone-x86.apk", Module: "base", SplitType: bundle.SplitTypeStandalone},
				},
			},
		},
	}

	encoded := EncodeTOC(toc)
	decoded, err := DecodeTOC(encoded)
	if err != nil {
		t.Fatalf("DecodeTOC: %v", err)
	}

	normalize(&toc)
	normalize(&decoded)
	if diff := cmp.Diff(toc, decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

// normalize replaces every nil targeting pointer with a pointer to an
// empty value, on both sides of the comparison, so cmp.Diff compares
// semantically equal trees rather than tripping over nil-vs-empty-struct
// pointer identity.
func normalize(toc *TableOfContents) {
	for vi := range toc.Variants {
		v := &toc.Variants[vi]
		fillVariantTargeting(&v.Targeting)
		for ai := range v.Apks {
			fillApkTargeting(&v.Apks[ai].Targeting)
		}
	}
}

func fillVariantTargeting(t *bundle.VariantTargeting) {
	if t.SdkVersion == nil {
		t.SdkVersion = &bundle.SdkVersionTargeting{}
	}
	if t.Abi == nil {
		t.Abi = &bundle.ValueSet{}
	}
	if t.MultiAbi == nil {
		t.MultiAbi = &bundle.ValueSet{}
	}
	if t.ScreenDensity == nil {
		t.ScreenDensity = &bundle.ValueSet{}
	}
	if t.TextureCompressionFormat == nil {
		t.TextureCompressionFormat = &bundle.ValueSet{}
	}
}

func fillApkTargeting(t *bundle.ApkTargeting) {
	if t.Abi == nil {
		t.Abi = &bundle.ValueSet{}
	}
	if t.ScreenDensity == nil {
		t.ScreenDensity = &bundle.ValueSet{}
	}
	if t.Language == nil {
		t.Language = &bundle.ValueSet{}
	}
	if t.SdkVersion == nil {
		t.SdkVersion = &bundle.SdkVersionTargeting{}
	}
	if t.TextureCompressionFormat == nil {
		t.TextureCompressionFormat = &bundle.ValueSet{}
	}
	if t.DeviceTier == nil {
		t.DeviceTier = &bundle.ValueSet{}
	}
	if t.CountrySet == nil {
		t.CountrySet = &bundle.ValueSet{}
	}
	if t.MultiAbi == nil {
		t.MultiAbi = &bundle.ValueSet{}
	}
	if t.SdkRuntime == nil {
		t.SdkRuntime = &bundle.ValueSet{}
	}
}
