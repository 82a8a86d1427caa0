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

	"github.com/stretchr/testify/require"

	"github.com/google/apkserializer/internal/bundle"
)

func TestManifestRoundTrip(t *testing.T) {
	n := &bundle.ManifestNode{
		Tag:        "manifest",
		Attrs:      map[string]string{"package": "com.example.app"},
		Namespaces: map[string]string{"android": "http://schemas.android.com/apk/res/android"},
		Children: []*bundle.ManifestNode{
			{Tag: "uses-sdk", Attrs: map[string]string{"android:minSdkVersion": "21"}},
			{Tag: "application", Attrs: map[string]string{"android:extractNativeLibs": "false"}},
		},
	}
	encoded := EncodeManifest(n)
	decoded, err := DecodeManifest(encoded)
	require.NoError(t, err)
	require.Equal(t, n.Tag, decoded.Tag)
	require.Equal(t, n.Attrs, decoded.Attrs)
	require.Equal(t, n.Namespaces, decoded.Namespaces)
	require.Len(t, decoded.Children, 2)
	require.EqualValues(t, 21, decoded.MinSdkVersion())
	require.False(t, decoded.ExtractNativeLibs())
}

func TestResourceTableRoundTrip(t *testing.T) {
	rt := &bundle.ResourceTable{
		Packages: []bundle.ResourcePackage{
			{
				PackageName: "com.example.app",
				Entries: []bundle.ResourceEntry{
					{Type: "drawable", Name: "icon", Path: "res/drawable/icon.xml"},
					{Type: "layout", Name: "main", Path: "res/layout/main.xml"},
				},
			},
		},
	}
	encoded := EncodeResourceTable(rt)
	decoded, err := DecodeResourceTable(encoded)
	require.NoError(t, err)
	require.Equal(t, rt, decoded)
}
