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

// ManifestNode is the proto-form AndroidManifest.xml tree: a minimal XML
// element model sufficient for the attributes this core inspects
// (package, minSdkVersion, extractNativeLibs) and for round-tripping to
// the binary on-device form via the resource converter.
type ManifestNode struct {
	Tag        string
	Attrs      map[string]string
	Children   []*ManifestNode
	Text       string
	Namespaces map[string]string // prefix -> URI, only set on the root node
}

// Attr returns the named attribute value and whether it was present.
func (n *ManifestNode) Attr(name string) (string, bool) {
	if n == nil {
		return "", false
	}
	v, ok := n.Attrs[name]
	return v, ok
}

// Child returns the first direct child with the given tag, or nil.
func (n *ManifestNode) Child(tag string) *ManifestNode {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// PackageName returns the manifest's package attribute.
func (n *ManifestNode) PackageName() string {
	v, _ := n.Attr("package")
	return v
}

// ExtractNativeLibs reports the effective value of
// application/android:extractNativeLibs, defaulting to true when absent
// (the on-device default prior to API 23's legacy-packaging switch).
func (n *ManifestNode) ExtractNativeLibs() bool {
	app := n.Child("application")
	if app == nil {
		return true
	}
	v, ok := app.Attr("android:extractNativeLibs")
	if !ok {
		return true
	}
	return v != "false"
}

// MinSdkVersion returns the uses-sdk/android:minSdkVersion value, or 1
// if absent (the platform default).
func (n *ManifestNode) MinSdkVersion() int32 {
	usesSdk := n.Child("uses-sdk")
	if usesSdk == nil {
		return 1
	}
	v, ok := usesSdk.Attr("android:minSdkVersion")
	if !ok {
		return 1
	}
	return parsePositiveInt(v, 1)
}

func parsePositiveInt(s string, fallback int32) int32 {
	if s == "" {
		return fallback
	}
	var n int32
	for _, r := range s {
		if r < '0' || r > '9' {
			return fallback
		}
		n = n*10 + int32(r-'0')
	}
	return n
}

// ModifyManifest is the signature of a caller-supplied manifest
// modifier, invoked by the variant builder (package variantbuilder)
// once per split so the caller can stamp split name, isolated-split
// flags, and versionCode/split targeting attributes before the split
// is written out.
type ModifyManifest func(split *ModuleSplit, variantNumber int, isBase, isMasterOrStandalone bool) (*ManifestNode, error)

// ResourceTable is the proto-form resources.arsc equivalent: enough
// structure for the compression decision engine and path manager to
// treat it as a distinguished entry, without modeling the full
// resource-type/resource-spec/configuration chunk graph that aapt2
// understands (that parsing is an external resource compiler's job,
// not this core's).
type ResourceTable struct {
	Packages []ResourcePackage
}

// ResourcePackage is one <package> of a resource table: a package name and the
// set of resource entries under it, named only by their eventual
// res/<type>/<name> path for the purposes this core cares about (which
// entries to collapse, dedupe, or mark no-collapse).
type ResourcePackage struct {
	PackageName string
	Entries     []ResourceEntry
}

// ResourceEntry names one resource definition destined for res/.
type ResourceEntry struct {
	Type string // e.g. "drawable", "layout", "values"
	Name string
	Path string // the res/ path this entry's proto XML lives at, pre-conversion
}
