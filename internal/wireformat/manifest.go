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
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/google/apkserializer/internal/bundle"
)

// Field numbers for the proto-form ManifestNode tree, used both when
// this core hands the manifest to the resource compiler (§4.C step 3a)
// and, in tests, to round-trip a ManifestNode without a real compiler.
const (
	fieldManifestTag        = 1
	fieldManifestAttrKey     = 2
	fieldManifestAttrVal     = 3
	fieldManifestChild       = 4
	fieldManifestText        = 5
	fieldManifestNamespaceKey = 6
	fieldManifestNamespaceVal = 7
)

// EncodeManifest serializes a ManifestNode tree to this module's
// proto-shaped wire form.
func EncodeManifest(n *bundle.ManifestNode) []byte {
	if n == nil {
		return nil
	}
	var b []byte
	b = protowire.AppendTag(b, fieldManifestTag, protowire.BytesType)
	b = protowire.AppendString(b, n.Tag)
	for k, v := range n.Attrs {
		b = protowire.AppendTag(b, fieldManifestAttrKey, protowire.BytesType)
		b = protowire.AppendString(b, k)
		b = protowire.AppendTag(b, fieldManifestAttrVal, protowire.BytesType)
		b = protowire.AppendString(b, v)
	}
	for _, c := range n.Children {
		sub := EncodeManifest(c)
		b = protowire.AppendTag(b, fieldManifestChild, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	if n.Text != "" {
		b = protowire.AppendTag(b, fieldManifestText, protowire.BytesType)
		b = protowire.AppendString(b, n.Text)
	}
	for k, v := range n.Namespaces {
		b = protowire.AppendTag(b, fieldManifestNamespaceKey, protowire.BytesType)
		b = protowire.AppendString(b, k)
		b = protowire.AppendTag(b, fieldManifestNamespaceVal, protowire.BytesType)
		b = protowire.AppendString(b, v)
	}
	return b
}

// DecodeManifest parses bytes produced by EncodeManifest.
func DecodeManifest(data []byte) (*bundle.ManifestNode, error) {
	n := &bundle.ManifestNode{Attrs: make(map[string]string)}
	var pendingAttrKey, pendingNsKey string
	haveAttrKey, haveNsKey := false, false
	for len(data) > 0 {
		num, typ, n0 := protowire.ConsumeTag(data)
		if n0 < 0 {
			return nil, fmt.Errorf("wireformat: bad tag in manifest node: %w", protowire.ParseError(n0))
		}
		data = data[n0:]
		if typ != protowire.BytesType {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, fmt.Errorf("wireformat: bad field in manifest node: %w", protowire.ParseError(m))
			}
			data = data[m:]
			continue
		}
		s, m := protowire.ConsumeBytes(data)
		if m < 0 {
			return nil, fmt.Errorf("wireformat: bad bytes field in manifest node: %w", protowire.ParseError(m))
		}
		data = data[m:]
		switch num {
		case fieldManifestTag:
			n.Tag = string(s)
		case fieldManifestAttrKey:
			pendingAttrKey, haveAttrKey = string(s), true
		case fieldManifestAttrVal:
			if haveAttrKey {
				n.Attrs[pendingAttrKey] = string(s)
				haveAttrKey = false
			}
		case fieldManifestChild:
			child, err := DecodeManifest(s)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
		case fieldManifestText:
			n.Text = string(s)
		case fieldManifestNamespaceKey:
			pendingNsKey, haveNsKey = string(s), true
		case fieldManifestNamespaceVal:
			if haveNsKey {
				if n.Namespaces == nil {
					n.Namespaces = make(map[string]string)
				}
				n.Namespaces[pendingNsKey] = string(s)
				haveNsKey = false
			}
		}
	}
	return n, nil
}

// Field numbers for ResourceTable/ResourcePackage/ResourceEntry.
const (
	fieldTablePackage = 1

	fieldPackageName    = 1
	fieldPackageEntries = 2

	fieldEntryType = 1
	fieldEntryName = 2
	fieldEntryPath = 3
)

// EncodeResourceTable serializes a ResourceTable to this module's
// proto-shaped wire form.
func EncodeResourceTable(t *bundle.ResourceTable) []byte {
	if t == nil {
		return nil
	}
	var b []byte
	for _, p := range t.Packages {
		sub := encodeResourcePackage(p)
		b = protowire.AppendTag(b, fieldTablePackage, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	return b
}

func encodeResourcePackage(p bundle.ResourcePackage) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldPackageName, protowire.BytesType)
	b = protowire.AppendString(b, p.PackageName)
	for _, e := range p.Entries {
		sub := encodeResourceEntry(e)
		b = protowire.AppendTag(b, fieldPackageEntries, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	return b
}

func encodeResourceEntry(e bundle.ResourceEntry) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldEntryType, protowire.BytesType)
	b = protowire.AppendString(b, e.Type)
	b = protowire.AppendTag(b, fieldEntryName, protowire.BytesType)
	b = protowire.AppendString(b, e.Name)
	b = protowire.AppendTag(b, fieldEntryPath, protowire.BytesType)
	b = protowire.AppendString(b, e.Path)
	return b
}

// DecodeResourceTable parses bytes produced by EncodeResourceTable.
func DecodeResourceTable(data []byte) (*bundle.ResourceTable, error) {
	t := &bundle.ResourceTable{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("wireformat: bad tag in resource table: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if typ != protowire.BytesType || num != fieldTablePackage {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, fmt.Errorf("wireformat: bad field in resource table: %w", protowire.ParseError(m))
			}
			data = data[m:]
			continue
		}
		sub, m := protowire.ConsumeBytes(data)
		if m < 0 {
			return nil, fmt.Errorf("wireformat: bad package in resource table: %w", protowire.ParseError(m))
		}
		data = data[m:]
		p, err := decodeResourcePackage(sub)
		if err != nil {
			return nil, err
		}
		t.Packages = append(t.Packages, p)
	}
	return t, nil
}

func decodeResourcePackage(data []byte) (bundle.ResourcePackage, error) {
	var p bundle.ResourcePackage
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return p, fmt.Errorf("wireformat: bad tag in resource package: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if typ != protowire.BytesType {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return p, fmt.Errorf("wireformat: bad field in resource package: %w", protowire.ParseError(m))
			}
			data = data[m:]
			continue
		}
		s, m := protowire.ConsumeBytes(data)
		if m < 0 {
			return p, fmt.Errorf("wireformat: bad bytes field in resource package: %w", protowire.ParseError(m))
		}
		data = data[m:]
		switch num {
		case fieldPackageName:
			p.PackageName = string(s)
		case fieldPackageEntries:
			e, err := decodeResourceEntry(s)
			if err != nil {
				return p, err
			}
			p.Entries = append(p.Entries, e)
		}
	}
	return p, nil
}

func decodeResourceEntry(data []byte) (bundle.ResourceEntry, error) {
	var e bundle.ResourceEntry
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return e, fmt.Errorf("wireformat: bad tag in resource entry: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if typ != protowire.BytesType {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return e, fmt.Errorf("wireformat: bad field in resource entry: %w", protowire.ParseError(m))
			}
			data = data[m:]
			continue
		}
		s, m := protowire.ConsumeString(data)
		if m < 0 {
			return e, fmt.Errorf("wireformat: bad string field in resource entry: %w", protowire.ParseError(m))
		}
		data = data[m:]
		switch num {
		case fieldEntryType:
			e.Type = s
		case fieldEntryName:
			e.Name = s
		case fieldEntryPath:
			e.Path = s
		}
	}
	return e, nil
}
