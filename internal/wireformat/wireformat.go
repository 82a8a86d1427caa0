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

// Package wireformat serializes the APK Set table of contents to and
// from a protocol-buffer-shaped binary encoding, using the low-level
// wire primitives in google.golang.org/protobuf/encoding/protowire
// directly rather than generated message types: there is no .proto
// compiler available to this build, so field layout is fixed by hand
// below instead of by a .proto schema. The wire bytes this package
// produces are internally self-consistent (Encode/Decode round-trip
// losslessly) but are not claimed to match any external bundletool
// proto definition byte-for-byte.
package wireformat

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/google/apkserializer/internal/bundle"
)

// Field numbers for the TableOfContents message.
const (
	fieldTOCVariants = 1
)

// Field numbers for VariantEntry.
const (
	fieldVariantNumber  = 1
	fieldVariantTarget  = 2
	fieldVariantApks    = 3
)

// Field numbers for ApkEntry.
const (
	fieldApkPath       = 1
	fieldApkModule     = 2
	fieldApkSplitType  = 3
	fieldApkTargeting  = 4
)

// Field numbers for ApkTargeting's nine dimensions.
const (
	fieldTargAbi        = 1
	fieldTargDensity    = 2
	fieldTargLanguage   = 3
	fieldTargSdk        = 4
	fieldTargTexture    = 5
	fieldTargDeviceTier = 6
	fieldTargCountrySet = 7
	fieldTargMultiAbi   = 8
	fieldTargSdkRuntime = 9
)

// Field numbers for VariantTargeting (a subset of ApkTargeting's
// dimensions, by the same numbers as above).
const (
	fieldVTSdk     = 4
	fieldVTAbi     = 1
	fieldVTMultiAbi = 8
	fieldVTDensity = 2
	fieldVTTexture = 5
)

// Field numbers for ValueSet.
const (
	fieldValueSetValues       = 1
	fieldValueSetAlternatives = 2
)

// Field numbers for SdkVersionTargeting.
const (
	fieldSdkMin          = 1
	fieldSdkAlternatives = 2
)

// TableOfContents is the decoded form of an APK Set archive's
// table-of-contents entry.
type TableOfContents struct {
	Variants []VariantEntry
}

// VariantEntry is one installable-together group of APKs.
type VariantEntry struct {
	VariantNumber int32
	Targeting     bundle.VariantTargeting
	Apks          []ApkEntry
}

// ApkEntry names one APK within a variant: its archive path, owning
// module, split type, and per-APK targeting.
type ApkEntry struct {
	Path      string
	Module    string
	SplitType bundle.SplitType
	Targeting bundle.ApkTargeting
}

// EncodeTOC serializes toc to bytes.
func EncodeTOC(toc TableOfContents) []byte {
	var b []byte
	for _, v := range toc.Variants {
		sub := encodeVariantEntry(v)
		b = protowire.AppendTag(b, fieldTOCVariants, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	return b
}

func encodeVariantEntry(v VariantEntry) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldVariantNumber, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.VariantNumber))

	targ := encodeVariantTargeting(v.Targeting)
	b = protowire.AppendTag(b, fieldVariantTarget, protowire.BytesType)
	b = protowire.AppendBytes(b, targ)

	for _, a := range v.Apks {
		sub := encodeApkEntry(a)
		b = protowire.AppendTag(b, fieldVariantApks, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	return b
}

func encodeApkEntry(a ApkEntry) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldApkPath, protowire.BytesType)
	b = protowire.AppendString(b, a.Path)

	b = protowire.AppendTag(b, fieldApkModule, protowire.BytesType)
	b = protowire.AppendString(b, a.Module)

	b = protowire.AppendTag(b, fieldApkSplitType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(a.SplitType))

	targ := encodeApkTargeting(a.Targeting)
	b = protowire.AppendTag(b, fieldApkTargeting, protowire.BytesType)
	b = protowire.AppendBytes(b, targ)
	return b
}

func encodeApkTargeting(t bundle.ApkTargeting) []byte {
	var b []byte
	b = appendValueSet(b, fieldTargAbi, t.Abi)
	b = appendValueSet(b, fieldTargDensity, t.ScreenDensity)
	b = appendValueSet(b, fieldTargLanguage, t.Language)
	b = appendSdkVersionTargeting(b, fieldTargSdk, t.SdkVersion)
	b = appendValueSet(b, fieldTargTexture, t.TextureCompressionFormat)
	b = appendValueSet(b, fieldTargDeviceTier, t.DeviceTier)
	b = appendValueSet(b, fieldTargCountrySet, t.CountrySet)
	b = appendValueSet(b, fieldTargMultiAbi, t.MultiAbi)
	b = appendValueSet(b, fieldTargSdkRuntime, t.SdkRuntime)
	return b
}

func encodeVariantTargeting(t bundle.VariantTargeting) []byte {
	var b []byte
	b = appendSdkVersionTargeting(b, fieldVTSdk, t.SdkVersion)
	b = appendValueSet(b, fieldVTAbi, t.Abi)
	b = appendValueSet(b, fieldVTMultiAbi, t.MultiAbi)
	b = appendValueSet(b, fieldVTDensity, t.ScreenDensity)
	b = appendValueSet(b, fieldVTTexture, t.TextureCompressionFormat)
	return b
}

func appendValueSet(b []byte, field protowire.Number, v *bundle.ValueSet) []byte {
	if v.IsDefault() {
		return b
	}
	var sub []byte
	for _, s := range v.Values {
		sub = protowire.AppendTag(sub, fieldValueSetValues, protowire.BytesType)
		sub = protowire.AppendString(sub, s)
	}
	for _, s := range v.Alternatives {
		sub = protowire.AppendTag(sub, fieldValueSetAlternatives, protowire.BytesType)
		sub = protowire.AppendString(sub, s)
	}
	b = protowire.AppendTag(b, field, protowire.BytesType)
	b = protowire.AppendBytes(b, sub)
	return b
}

func appendSdkVersionTargeting(b []byte, field protowire.Number, s *bundle.SdkVersionTargeting) []byte {
	if s.IsDefault() {
		return b
	}
	var sub []byte
	sub = protowire.AppendTag(sub, fieldSdkMin, protowire.VarintType)
	sub = protowire.AppendVarint(sub, uint64(uint32(s.Min)))
	for _, alt := range s.Alternatives {
		sub = protowire.AppendTag(sub, fieldSdkAlternatives, protowire.VarintType)
		sub = protowire.AppendVarint(sub, uint64(uint32(alt)))
	}
	b = protowire.AppendTag(b, field, protowire.BytesType)
	b = protowire.AppendBytes(b, sub)
	return b
}

// DecodeTOC parses bytes produced by EncodeTOC.
func DecodeTOC(data []byte) (TableOfContents, error) {
	var toc TableOfContents
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return toc, fmt.Errorf("wireformat: bad tag in table of contents: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldTOCVariants && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return toc, fmt.Errorf("wireformat: bad variant entry: %w", protowire.ParseError(m))
			}
			data = data[m:]
			ve, err := decodeVariantEntry(v)
			if err != nil {
				return toc, err
			}
			toc.Variants = append(toc.Variants, ve)
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return toc, fmt.Errorf("wireformat: bad field in table of contents: %w", protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return toc, nil
}

func decodeVariantEntry(data []byte) (VariantEntry, error) {
	var v VariantEntry
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return v, fmt.Errorf("wireformat: bad tag in variant entry: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldVariantNumber && typ == protowire.VarintType:
			val, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return v, fmt.Errorf("wireformat: bad variant_number: %w", protowire.ParseError(m))
			}
			data = data[m:]
			v.VariantNumber = int32(val)
		case num == fieldVariantTarget && typ == protowire.BytesType:
			sub, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return v, fmt.Errorf("wireformat: bad variant targeting: %w", protowire.ParseError(m))
			}
			data = data[m:]
			t, err := decodeVariantTargeting(sub)
			if err != nil {
				return v, err
			}
			v.Targeting = t
		case num == fieldVariantApks && typ == protowire.BytesType:
			sub, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return v, fmt.Errorf("wireformat: bad apk entry: %w", protowire.ParseError(m))
			}
			data = data[m:]
			a, err := decodeApkEntry(sub)
			if err != nil {
				return v, err
			}
			v.Apks = append(v.Apks, a)
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return v, fmt.Errorf("wireformat: bad field in variant entry: %w", protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return v, nil
}

func decodeApkEntry(data []byte) (ApkEntry, error) {
	var a ApkEntry
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return a, fmt.Errorf("wireformat: bad tag in apk entry: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldApkPath && typ == protowire.BytesType:
			s, m := protowire.ConsumeString(data)
			if m < 0 {
				return a, fmt.Errorf("wireformat: bad path: %w", protowire.ParseError(m))
			}
			data = data[m:]
			a.Path = s
		case num == fieldApkModule && typ == protowire.BytesType:
			s, m := protowire.ConsumeString(data)
			if m < 0 {
				return a, fmt.Errorf("wireformat: bad module: %w", protowire.ParseError(m))
			}
			data = data[m:]
			a.Module = s
		case num == fieldApkSplitType && typ == protowire.VarintType:
			val, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return a, fmt.Errorf("wireformat: bad split_type: %w", protowire.ParseError(m))
			}
			data = data[m:]
			a.SplitType = bundle.SplitType(val)
		case num == fieldApkTargeting && typ == protowire.BytesType:
			sub, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return a, fmt.Errorf("wireformat: bad apk targeting: %w", protowire.ParseError(m))
			}
			data = data[m:]
			t, err := decodeApkTargeting(sub)
			if err != nil {
				return a, err
			}
			a.Targeting = t
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return a, fmt.Errorf("wireformat: bad field in apk entry: %w", protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return a, nil
}

func decodeApkTargeting(data []byte) (bundle.ApkTargeting, error) {
	var t bundle.ApkTargeting
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return t, fmt.Errorf("wireformat: bad tag in apk targeting: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if typ != protowire.BytesType {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return t, fmt.Errorf("wireformat: bad field in apk targeting: %w", protowire.ParseError(m))
			}
			data = data[m:]
			continue
		}
		sub, m := protowire.ConsumeBytes(data)
		if m < 0 {
			return t, fmt.Errorf("wireformat: bad submessage in apk targeting: %w", protowire.ParseError(m))
		}
		data = data[m:]
		switch num {
		case fieldTargAbi:
			t.Abi = decodeValueSet(sub)
		case fieldTargDensity:
			t.ScreenDensity = decodeValueSet(sub)
		case fieldTargLanguage:
			t.Language = decodeValueSet(sub)
		case fieldTargSdk:
			t.SdkVersion = decodeSdkVersionTargeting(sub)
		case fieldTargTexture:
			t.TextureCompressionFormat = decodeValueSet(sub)
		case fieldTargDeviceTier:
			t.DeviceTier = decodeValueSet(sub)
		case fieldTargCountrySet:
			t.CountrySet = decodeValueSet(sub)
		case fieldTargMultiAbi:
			t.MultiAbi = decodeValueSet(sub)
		case fieldTargSdkRuntime:
			t.SdkRuntime = decodeValueSet(sub)
		}
	}
	return t, nil
}

func decodeVariantTargeting(data []byte) (bundle.VariantTargeting, error) {
	var t bundle.VariantTargeting
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return t, fmt.Errorf("wireformat: bad tag in variant targeting: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if typ != protowire.BytesType {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return t, fmt.Errorf("wireformat: bad field in variant targeting: %w", protowire.ParseError(m))
			}
			data = data[m:]
			continue
		}
		sub, m := protowire.ConsumeBytes(data)
		if m < 0 {
			return t, fmt.Errorf("wireformat: bad submessage in variant targeting: %w", protowire.ParseError(m))
		}
		data = data[m:]
		switch num {
		case fieldVTSdk:
			t.SdkVersion = decodeSdkVersionTargeting(sub)
		case fieldVTAbi:
			t.Abi = decodeValueSet(sub)
		case fieldVTMultiAbi:
			t.MultiAbi = decodeValueSet(sub)
		case fieldVTDensity:
			t.ScreenDensity = decodeValueSet(sub)
		case fieldVTTexture:
			t.TextureCompressionFormat = decodeValueSet(sub)
		}
	}
	return t, nil
}

func decodeValueSet(data []byte) *bundle.ValueSet {
	v := &bundle.ValueSet{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return v
		}
		data = data[n:]
		if typ != protowire.BytesType {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return v
			}
			data = data[m:]
			continue
		}
		s, m := protowire.ConsumeString(data)
		if m < 0 {
			return v
		}
		data = data[m:]
		switch num {
		case fieldValueSetValues:
			v.Values = append(v.Values, s)
		case fieldValueSetAlternatives:
			v.Alternatives = append(v.Alternatives, s)
		}
	}
	return v
}

func decodeSdkVersionTargeting(data []byte) *bundle.SdkVersionTargeting {
	s := &bundle.SdkVersionTargeting{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return s
		}
		data = data[n:]
		if typ != protowire.VarintType {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return s
			}
			data = data[m:]
			continue
		}
		val, m := protowire.ConsumeVarint(data)
		if m < 0 {
			return s
		}
		data = data[m:]
		switch num {
		case fieldSdkMin:
			s.Min = int32(uint32(val))
		case fieldSdkAlternatives:
			s.Alternatives = append(s.Alternatives, int32(uint32(val)))
		}
	}
	return s
}
