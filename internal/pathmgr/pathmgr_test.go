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

package pathmgr

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/apkserializer/internal/bundle"
)

func TestAssignNoCollision(t *testing.T) {
	m := New()
	require.Equal(t, "base-master.apk", m.Assign("base-master.apk"))
	require.Equal(t, "base-master_2.apk", m.Assign("base-master.apk"))
	require.Equal(t, "base-master_3.apk", m.Assign("base-master.apk"))
}

func TestAssignNoExtension(t *testing.T) {
	m := New()
	require.Equal(t, "toc", m.Assign("toc"))
	require.Equal(t, "toc_2", m.Assign("toc"))
}

func TestReserveRejectsDuplicate(t *testing.T) {
	m := New()
	require.NoError(t, m.Reserve("toc.pb"))
	require.Error(t, m.Reserve("toc.pb"))
}

func TestAssignConcurrentIsCollisionFree(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	results := make(chan string, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- m.Assign("split.apk")
		}()
	}
	wg.Wait()
	close(results)
	seen := make(map[string]bool)
	for r := range results {
		require.False(t, seen[r], "duplicate path assigned: %s", r)
		seen[r] = true
	}
	require.Len(t, seen, 100)
}

func TestGetApkPathByType(t *testing.T) {
	cases := []struct {
		name  string
		split *bundle.ModuleSplit
		want  string
	}{
		{"split with suffix", &bundle.ModuleSplit{ModuleName: "feature", SplitType: bundle.SplitTypeSplit, Suffix: "arm64_v8a"}, "splits/feature-arm64_v8a.apk"},
		{"split no suffix", &bundle.ModuleSplit{ModuleName: "feature", SplitType: bundle.SplitTypeSplit}, "splits/feature-master.apk"},
		{"instant", &bundle.ModuleSplit{ModuleName: "feature", SplitType: bundle.SplitTypeInstant}, "instant/instant-feature-master.apk"},
		{"standalone apk", &bundle.ModuleSplit{SplitType: bundle.SplitTypeStandalone, Suffix: "arm64_v8a"}, "standalones/standalone-arm64_v8a.apk"},
		{"standalone apex", &bundle.ModuleSplit{SplitType: bundle.SplitTypeStandalone, Suffix: "arm64_v8a", IsApex: true}, "standalones/standalone-arm64_v8a.apex"},
		{"system base master", &bundle.ModuleSplit{ModuleName: bundle.BaseModuleName, SplitType: bundle.SplitTypeSystem, IsMaster: true}, "system/system.apk"},
		{"system other", &bundle.ModuleSplit{ModuleName: "feature", SplitType: bundle.SplitTypeSystem}, "splits/feature-master.apk"},
		{"asset slice", &bundle.ModuleSplit{ModuleName: "assets1", SplitType: bundle.SplitTypeAssetSlice}, "asset-slices/assets1-master.apk"},
		{"archive", &bundle.ModuleSplit{SplitType: bundle.SplitTypeArchive}, "archive/archive.apk"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := New()
			require.Equal(t, c.want, m.GetApkPath(c.split, false))
		})
	}
}

func TestGetApkPathUniversalOverrides(t *testing.T) {
	m := New()
	split := &bundle.ModuleSplit{SplitType: bundle.SplitTypeStandalone, Suffix: "arm64_v8a"}
	require.Equal(t, "universal.apk", m.GetApkPath(split, true))
}

func TestGetApkPathCollision(t *testing.T) {
	m := New()
	a := &bundle.ModuleSplit{ModuleName: "feature", SplitType: bundle.SplitTypeSplit}
	b := &bundle.ModuleSplit{ModuleName: "feature", SplitType: bundle.SplitTypeSplit}
	require.Equal(t, "splits/feature-master.apk", m.GetApkPath(a, false))
	require.Equal(t, "splits/feature-master_2.apk", m.GetApkPath(b, false))
}
