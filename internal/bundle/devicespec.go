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

// DeviceSpec describes one target device for the device matcher
// (package devicematch) and for the extract-matching-APKs path.
type DeviceSpec struct {
	SupportedAbis                      []string
	ScreenDensityDpi                   int32
	SupportedLocales                   []string
	SdkVersion                         int32
	SupportedTextureCompressionFormats []string
	DeviceTier                         string // "" means unset; matchers treat it as tier "0"
	CountrySet                         string
	SdkRuntimeSupported                bool
}
