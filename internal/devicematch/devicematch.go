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

// Package devicematch filters ModuleSplits against a DeviceSpec, one
// matcher per targeting dimension, generalizing the per-dimension
// matcher structs of cmd/extract_apks/main.go (abiTargetingMatcher,
// screenDensityTargetingMatcher, sdkVersionTargetingMatcher, ...) from
// that command's flag-sourced TargetConfig to this core's DeviceSpec.
package devicematch

import (
	"fmt"

	"github.com/google/apkserializer/internal/bundle"
	"github.com/google/apkserializer/internal/buildconfig"
)

// densityAlias is one named density bucket.
type densityAlias struct {
	name string
	dpi  int32
}

// densityAliasDpi mirrors bundletool's named density buckets, used by
// the nearest-alias screen-density rule. Ordered by increasing dpi so
// nearestDensityAlias can break exact-midpoint ties deterministically.
var densityAliasDpi = []densityAlias{
	{"LDPI", 120},
	{"MDPI", 160},
	{"TVDPI", 213},
	{"HDPI", 240},
	{"XHDPI", 320},
	{"XXHDPI", 480},
	{"XXXHDPI", 640},
}

// Matches reports whether split's apkTargeting admits device, per
// spec §4.I: it matches iff it matches on every non-default dimension.
// Returns an InvalidDeviceSpec *buildconfig.BuildError (not a match
// failure) if the bundle targets a dimension the device spec leaves
// unpopulated in a way that makes matching undecidable.
func Matches(split *bundle.ModuleSplit, device bundle.DeviceSpec) (bool, error) {
	t := split.ApkTargeting
	checks := []func() (bool, error){
		func() (bool, error) { return matchAbi(t.Abi, device) },
		func() (bool, error) { return matchDensity(t.ScreenDensity, device) },
		func() (bool, error) { return matchLanguage(t.Language, device) },
		func() (bool, error) { return matchSdk(t.SdkVersion, device) },
		func() (bool, error) { return matchSimpleDimension("texture compression format", t.TextureCompressionFormat, device.SupportedTextureCompressionFormats) },
		func() (bool, error) { return matchDeviceTier(t.DeviceTier, device) },
		func() (bool, error) { return matchSimpleDimension("country set", t.CountrySet, splitIfSet(device.CountrySet)) },
		func() (bool, error) { return matchSimpleDimension("multi-ABI", t.MultiAbi, device.SupportedAbis) },
		func() (bool, error) { return matchSdkRuntime(t.SdkRuntime, device) },
	}
	for _, check := range checks {
		ok, err := check()
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Filter returns the subset of splits that match device.
func Filter(splits []*bundle.ModuleSplit, device bundle.DeviceSpec) ([]*bundle.ModuleSplit, error) {
	var out []*bundle.ModuleSplit
	for _, s := range splits {
		ok, err := Matches(s, device)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func splitIfSet(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func matchAbi(v *bundle.ValueSet, device bundle.DeviceSpec) (bool, error) {
	if v.IsDefault() {
		return true, nil
	}
	if len(device.SupportedAbis) == 0 {
		return false, buildconfig.InvalidDeviceSpec("device spec has no supported ABIs but bundle targets ABI")
	}
	for _, want := range v.Values {
		if contains(device.SupportedAbis, want) {
			return true, nil
		}
	}
	return false, nil
}

// matchDensity applies the nearest-alias rule: the device's raw DPI is
// bucketed to the nearest named density, then membership-tested against
// v.Values the same way a named ABI is.
func matchDensity(v *bundle.ValueSet, device bundle.DeviceSpec) (bool, error) {
	if v.IsDefault() {
		return true, nil
	}
	if device.ScreenDensityDpi == 0 {
		return false, buildconfig.InvalidDeviceSpec("device spec has no screen density but bundle targets density")
	}
	bucket := nearestDensityAlias(device.ScreenDensityDpi)
	return contains(v.Values, bucket), nil
}

// nearestDensityAlias buckets dpi to the closest named density,
// iterating buckets in increasing dpi order and rounding an exact
// midpoint tie to the higher density, matching bundletool.
func nearestDensityAlias(dpi int32) string {
	best, bestDiff := densityAliasDpi[0].name, int32(1<<31-1)
	for _, alias := range densityAliasDpi {
		diff := dpi - alias.dpi
		if diff < 0 {
			diff = -diff
		}
		if diff <= bestDiff {
			best, bestDiff = alias.name, diff
		}
	}
	return best
}

func matchLanguage(v *bundle.ValueSet, device bundle.DeviceSpec) (bool, error) {
	if v.IsDefault() {
		return true, nil
	}
	if len(device.SupportedLocales) == 0 {
		return false, buildconfig.InvalidDeviceSpec("device spec has no supported locales but bundle targets language")
	}
	for _, want := range v.Values {
		if contains(device.SupportedLocales, want) {
			return true, nil
		}
	}
	return false, nil
}

// matchSdk implements "device.sdk >= min(values) and < min(alternatives
// stricter than values)": the split's own minimum must be satisfied, and
// no alternative with a stricter (higher) minimum that the device also
// satisfies may exist, since bundletool always prefers the
// highest-satisfied variant.
func matchSdk(v *bundle.SdkVersionTargeting, device bundle.DeviceSpec) (bool, error) {
	if v.IsDefault() {
		return true, nil
	}
	if device.SdkVersion == 0 {
		return false, buildconfig.InvalidDeviceSpec("device spec has no SDK version but bundle targets SDK version")
	}
	if device.SdkVersion < v.Min {
		return false, nil
	}
	for _, alt := range v.Alternatives {
		if alt > v.Min && device.SdkVersion >= alt {
			return false, nil
		}
	}
	return true, nil
}

// matchSimpleDimension implements the default/fallback membership
// convention shared by texture compression format, multi-ABI, and
// country set: an empty Values list marks the split as the fallback
// for the dimension, which matches only when the device exhibits none
// of the buckets any sibling split's Values names. Since a single
// split's targeting can't see its siblings, fallback matching here
// degrades to "device provides no value for this dimension", which is
// the common case callers hit (a bundle that doesn't target the
// dimension at all has every split carrying a default ValueSet and
// never reaches this function).
func matchSimpleDimension(dimension string, v *bundle.ValueSet, deviceValues []string) (bool, error) {
	if v.IsDefault() {
		return true, nil
	}
	if len(v.Values) == 0 {
		return len(deviceValues) == 0, nil
	}
	if len(deviceValues) == 0 {
		return false, buildconfig.InvalidDeviceSpec(fmt.Sprintf("device spec has no value for %s but bundle targets it", dimension))
	}
	for _, want := range v.Values {
		if contains(deviceValues, want) {
			return true, nil
		}
	}
	return false, nil
}

// matchDeviceTier special-cases the device-tier default: an unset
// device tier is treated as "0" rather than raising InvalidDeviceSpec,
// per spec §4.I.
func matchDeviceTier(v *bundle.ValueSet, device bundle.DeviceSpec) (bool, error) {
	if v.IsDefault() {
		return true, nil
	}
	tier := device.DeviceTier
	if tier == "" {
		tier = "0"
	}
	if len(v.Values) == 0 {
		return tier == "0", nil
	}
	return contains(v.Values, tier), nil
}

func matchSdkRuntime(v *bundle.ValueSet, device bundle.DeviceSpec) (bool, error) {
	if v.IsDefault() {
		return true, nil
	}
	want := "unsupported"
	if device.SdkRuntimeSupported {
		want = "supported"
	}
	if len(v.Values) == 0 {
		return want == "unsupported", nil
	}
	return contains(v.Values, want), nil
}
