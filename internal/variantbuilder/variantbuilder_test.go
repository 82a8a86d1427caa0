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

package variantbuilder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/apkserializer/internal/bundle"
)

func TestBuildAssignsDenseContiguousNumbers(t *testing.T) {
	preL := &bundle.ModuleSplit{ModuleName: "base", VariantTargeting: bundle.VariantTargeting{SdkVersion: &bundle.SdkVersionTargeting{Min: 1}}}
	postL := &bundle.ModuleSplit{ModuleName: "base", VariantTargeting: bundle.VariantTargeting{SdkVersion: &bundle.SdkVersionTargeting{Min: 21}}}
	postLOther := &bundle.ModuleSplit{ModuleName: "feature", VariantTargeting: bundle.VariantTargeting{SdkVersion: &bundle.SdkVersionTargeting{Min: 21}}}

	variants, err := Build([]*bundle.ModuleSplit{preL, postL, postLOther}, ModeDefault, 0, nil)
	require.NoError(t, err)
	require.Len(t, variants, 2)
	require.Equal(t, 0, variants[0].Number)
	require.Equal(t, 1, variants[1].Number)
	require.Len(t, variants[0].Splits, 1)
	require.Len(t, variants[1].Splits, 2)
}

func TestBuildClearsVariantTargeting(t *testing.T) {
	s := &bundle.ModuleSplit{ModuleName: "base", VariantTargeting: bundle.VariantTargeting{SdkVersion: &bundle.SdkVersionTargeting{Min: 21}}}
	_, err := Build([]*bundle.ModuleSplit{s}, ModeDefault, 0, nil)
	require.NoError(t, err)
	require.True(t, s.VariantTargeting.SdkVersion.IsDefault())
}

func TestBuildInvokesManifestModifier(t *testing.T) {
	var gotVariant int
	var gotIsBase bool
	modifier := func(split *bundle.ModuleSplit, variantNumber int, isBase, isMasterOrStandalone bool) (*bundle.ManifestNode, error) {
		gotVariant, gotIsBase = variantNumber, isBase
		return split.Manifest, nil
	}
	s := &bundle.ModuleSplit{ModuleName: "base", IsMaster: true}
	_, err := Build([]*bundle.ModuleSplit{s}, ModeDefault, 5, modifier)
	require.NoError(t, err)
	require.Equal(t, 5, gotVariant)
	require.True(t, gotIsBase)
}

func TestUniversalModeRejectsSplitApks(t *testing.T) {
	s := &bundle.ModuleSplit{ModuleName: "base", SplitType: bundle.SplitTypeSplit}
	_, err := Build([]*bundle.ModuleSplit{s}, ModeUniversal, 0, nil)
	require.Error(t, err)
}

func TestSystemModeRejectsStandalone(t *testing.T) {
	s := &bundle.ModuleSplit{ModuleName: "base", SplitType: bundle.SplitTypeStandalone}
	_, err := Build([]*bundle.ModuleSplit{s}, ModeSystem, 0, nil)
	require.Error(t, err)
}

func TestDefaultModeRejectsSystem(t *testing.T) {
	s := &bundle.ModuleSplit{ModuleName: "base", SplitType: bundle.SplitTypeSystem}
	_, err := Build([]*bundle.ModuleSplit{s}, ModeDefault, 0, nil)
	require.Error(t, err)
}

func TestDedupesIdenticalSplitsWithinVariant(t *testing.T) {
	a := &bundle.ModuleSplit{ModuleName: "base", IsMaster: true}
	b := &bundle.ModuleSplit{ModuleName: "base", IsMaster: true}
	variants, err := Build([]*bundle.ModuleSplit{a, b}, ModeDefault, 0, nil)
	require.NoError(t, err)
	require.Len(t, variants[0].Splits, 1)
}
