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

// Package pathmgr assigns deterministic, collision-free in-archive
// paths for the splits and APK Set entries one build produces. All
// mutable state is a single used-path set guarded by one mutex, so the
// manager can be shared across the per-split worker pool (package
// apkset) without each worker needing its own synchronization.
package pathmgr

import (
	"fmt"
	"sync"

	"github.com/google/apkserializer/internal/bundle"
)

// Manager hands out unique paths within one build. The zero value is
// not usable; construct with New.
type Manager struct {
	mu   sync.Mutex
	used map[string]bool
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{used: make(map[string]bool)}
}

// Reserve claims exactly path, failing if it was already taken. Used
// for names with no acceptable alternative, such as the APK Set's
// table of contents entry.
func (m *Manager) Reserve(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.used[path] {
		return fmt.Errorf("pathmgr: path %q already assigned", path)
	}
	m.used[path] = true
	return nil
}

// Assign returns preferred if it is free, or preferred with a "_2",
// "_3", ... suffix inserted before the final extension (or appended, if
// there is no extension) if not. The returned path is reserved before
// Assign returns, so two goroutines racing on the same preferred path
// always get distinct results.
func (m *Manager) Assign(preferred string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.used[preferred] {
		m.used[preferred] = true
		return preferred
	}
	base, ext := splitExt(preferred)
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", base, n, ext)
		if !m.used[candidate] {
			m.used[candidate] = true
			return candidate
		}
	}
}

// GetApkPath computes and claims the in-APK-Set path for split per the
// directory/filename table of spec §4.G. universal marks that the
// caller is running in UNIVERSAL mode, which overrides every split
// type's normal directory/filename with a single top-level "universal"
// entry.
func (m *Manager) GetApkPath(split *bundle.ModuleSplit, universal bool) string {
	ext := ".apk"
	if split.IsApex {
		ext = ".apex"
	}

	if universal {
		return m.Assign("universal" + ext)
	}

	targetingSuffixOrMaster := split.Suffix
	if targetingSuffixOrMaster == "" {
		targetingSuffixOrMaster = "master"
	}

	var dir, name string
	switch split.SplitType {
	case bundle.SplitTypeInstant:
		dir = "instant/"
		name = hyphenJoin("instant", split.ModuleName, targetingSuffixOrMaster)
	case bundle.SplitTypeStandalone:
		dir = "standalones/"
		name = hyphenJoin("standalone", split.Suffix)
	case bundle.SplitTypeSystem:
		if split.IsMaster && split.ModuleName == bundle.BaseModuleName {
			dir = "system/"
			name = "system"
		} else {
			dir = "splits/"
			name = hyphenJoin(split.ModuleName, targetingSuffixOrMaster)
		}
	case bundle.SplitTypeAssetSlice:
		dir = "asset-slices/"
		name = hyphenJoin(split.ModuleName, targetingSuffixOrMaster)
	case bundle.SplitTypeArchive:
		dir = "archive/"
		name = "archive"
	default: // SplitTypeSplit
		dir = "splits/"
		name = hyphenJoin(split.ModuleName, targetingSuffixOrMaster)
	}

	return m.Assign(dir + name + ext)
}

// hyphenJoin joins parts with "-", omitting any empty part.
func hyphenJoin(parts ...string) string {
	var out string
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += "-"
		}
		out += p
	}
	return out
}

// splitExt splits path into a base and its final ".ext" (including the
// dot), or (path, "") if path has no extension component in its final
// path segment.
func splitExt(path string) (base, ext string) {
	lastSlash := -1
	for i, r := range path {
		if r == '/' {
			lastSlash = i
		}
	}
	segment := path[lastSlash+1:]
	dot := -1
	for i, r := range segment {
		if r == '.' {
			dot = i
		}
	}
	if dot <= 0 {
		return path, ""
	}
	splitAt := lastSlash + 1 + dot
	return path[:splitAt], path[splitAt:]
}
