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

package rescompile

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/apkserializer/internal/bundle"
	"github.com/google/apkserializer/internal/buildconfig"
)

// passthroughCompiler copies the proto-form zip straight through,
// standing in for aapt2-style binary conversion: this package's own
// tests exercise the staging/replacement pipeline, not what bytes an
// actual resource compiler would produce.
type passthroughCompiler struct{}

func (passthroughCompiler) Convert(ctx context.Context, inPath, outPath string, opts Options) error {
	data, err := os.ReadFile(inPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, data, 0o644)
}

type failingCompiler struct{ err error }

func (f failingCompiler) Convert(ctx context.Context, inPath, outPath string, opts Options) error {
	return f.err
}

func testSplit() *bundle.ModuleSplit {
	manifest := &bundle.ManifestNode{
		Tag:   "manifest",
		Attrs: map[string]string{"package": "com.example.app"},
		Children: []*bundle.ManifestNode{
			{Tag: "uses-sdk", Attrs: map[string]string{"android:minSdkVersion": "21"}},
		},
	}
	return &bundle.ModuleSplit{
		ModuleName: "base",
		SplitType:  bundle.SplitTypeSplit,
		IsMaster:   true,
		Manifest:   manifest,
		Entries: []*bundle.ModuleEntry{
			{Path: "dex/classes.dex", Content: bundle.MemoryContent([]byte("dex-bytes"))},
			{Path: "res/layout/main.xml", Content: bundle.MemoryContent([]byte("<LinearLayout/>"))},
		},
	}
}

func TestConvertBatchReplacesEntriesWithBinaryForm(t *testing.T) {
	dir := t.TempDir()
	s := testSplit()

	err := ConvertBatch(context.Background(), dir, []*bundle.ModuleSplit{s}, passthroughCompiler{}, Options{}, 2)
	require.NoError(t, err)

	require.Nil(t, s.Manifest)
	require.Nil(t, s.ResourceTable)

	var names []string
	for _, e := range s.Entries {
		names = append(names, e.Path)
	}
	require.Contains(t, names, "dex/classes.dex")
	require.Contains(t, names, bundle.ReservedManifestPath)
	require.Contains(t, names, "res/layout/main.xml")
}

func TestConvertBatchRejectsMissingManifest(t *testing.T) {
	dir := t.TempDir()
	s := testSplit()
	s.Manifest = nil

	err := ConvertBatch(context.Background(), dir, []*bundle.ModuleSplit{s}, passthroughCompiler{}, Options{}, 1)
	require.Error(t, err)
	var buildErr *buildconfig.BuildError
	require.True(t, errors.As(err, &buildErr))
	require.Equal(t, buildconfig.KindInvalidBundle, buildErr.Kind())
}

func TestConvertBatchPropagatesCompilerFailure(t *testing.T) {
	dir := t.TempDir()
	s := testSplit()
	wantErr := buildconfig.ResourceCompilerFailure("boom", errors.New("exit status 1"))

	err := ConvertBatch(context.Background(), dir, []*bundle.ModuleSplit{s}, failingCompiler{err: wantErr}, Options{}, 1)
	require.Error(t, err)
	var buildErr *buildconfig.BuildError
	require.True(t, errors.As(err, &buildErr))
	require.Equal(t, buildconfig.KindResourceCompilerFailure, buildErr.Kind())
}

func TestIsConvertible(t *testing.T) {
	require.True(t, isConvertible(bundle.ReservedManifestPath))
	require.True(t, isConvertible(bundle.ReservedResourceTablePath))
	require.True(t, isConvertible("res/layout/main.xml"))
	require.False(t, isConvertible("dex/classes.dex"))
	require.False(t, isConvertible("assets/data.bin"))
}
