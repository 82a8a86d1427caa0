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

// Package compression decides, per entry, whether storing or deflating
// produces the smaller APK: res/ entries are only deflated when
// compressed+compressed/10 <= uncompressed, since they are read far
// more often than most other entry kinds and are worth the CPU cost of
// inflating them again at install time only once the saving is
// meaningful; every other entry only needs to come out smaller at all;
// zero-byte entries are always stored (deflating an empty buffer still
// costs a few header bytes).
package compression

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/google/apkserializer/internal/zipkit"
)

// LevelFor returns the deflate level to try for a candidate at path:
// res/ entries are worth the extra CPU cost of maximum compression
// since they are read far more often than most other entry kinds;
// everything else uses a cheaper middle level.
func LevelFor(path string) int {
	if strings.HasPrefix(path, "res/") {
		return 9
	}
	return 6
}

// Candidate is one entry awaiting a compression decision.
type Candidate struct {
	Path  string
	Raw   []byte
	Level int // deflate level to try; 0 means the package default
}

// Decision is the outcome for one Candidate: the method to use and,
// when Method is Deflate, the already-computed compressed bytes (so
// callers never deflate the same content twice).
type Decision struct {
	Path       string
	Method     uint16
	Compressed []byte // only set when Method == zipkit.Deflate
}

// Decide computes one Decision per candidate, run with bounded
// parallelism since deflating is CPU bound and APKs can carry
// thousands of resource entries.
func Decide(ctx context.Context, candidates []Candidate) ([]Decision, error) {
	decisions := make([]Decision, len(candidates))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	_ = ctx // no per-candidate cancellation point; deflate is not interruptible mid-call
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			d, err := decideOne(c)
			if err != nil {
				return fmt.Errorf("compression: %q: %w", c.Path, err)
			}
			decisions[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return decisions, nil
}

func decideOne(c Candidate) (Decision, error) {
	if len(c.Raw) == 0 {
		return Decision{Path: c.Path, Method: zipkit.Store}, nil
	}
	compressed, err := deflate(c.Raw, c.Level)
	if err != nil {
		return Decision{}, err
	}
	if worthCompressing(c.Path, len(c.Raw), len(compressed)) {
		return Decision{Path: c.Path, Method: zipkit.Deflate, Compressed: compressed}, nil
	}
	return Decision{Path: c.Path, Method: zipkit.Store}, nil
}

func worthCompressing(path string, rawSize, compressedSize int) bool {
	if compressedSize >= rawSize {
		return false
	}
	if strings.HasPrefix(path, "res/") {
		// deflate iff compressed + compressed/10 <= uncompressed,
		// i.e. compressed*11 <= uncompressed*10.
		return compressedSize*11 <= rawSize*10
	}
	return true
}
