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

package compression

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/apkserializer/internal/zipkit"
)

func TestZeroByteAlwaysStored(t *testing.T) {
	decisions, err := Decide(context.Background(), []Candidate{{Path: "res/raw/empty.bin", Raw: nil}})
	require.NoError(t, err)
	require.Equal(t, zipkit.Store, decisions[0].Method)
}

func TestResourcesRequireTenPercentSavings(t *testing.T) {
	// Incompressible random-looking content: deflate output will not beat
	// a 10% threshold, so res/ entries should land on Store.
	raw := bytes.Repeat([]byte{0x00, 0x01}, 4)
	raw = append(raw, incompressibleFixture()...)
	decisions, err := Decide(context.Background(), []Candidate{{Path: "res/raw/tiny.bin", Raw: raw}})
	require.NoError(t, err)
	require.Equal(t, zipkit.Store, decisions[0].Method)
}

func TestNonResourceCompressesOnAnySavings(t *testing.T) {
	raw := bytes.Repeat([]byte("a"), 1000)
	decisions, err := Decide(context.Background(), []Candidate{{Path: "assets/strings.txt", Raw: raw}})
	require.NoError(t, err)
	require.Equal(t, zipkit.Deflate, decisions[0].Method)
	require.Less(t, len(decisions[0].Compressed), len(raw))
}

func TestResourceCompressesWhenSavingsClearThreshold(t *testing.T) {
	raw := bytes.Repeat([]byte("compressible-resource-payload "), 500)
	decisions, err := Decide(context.Background(), []Candidate{{Path: "res/xml/big.xml", Raw: raw}})
	require.NoError(t, err)
	require.Equal(t, zipkit.Deflate, decisions[0].Method)
}

// incompressibleFixture returns bytes with no repeated structure for
// deflate to exploit, so its compressed form cannot clear 10% savings.
func incompressibleFixture() []byte {
	return []byte{0x4b, 0x8e, 0x01, 0x9a, 0xff, 0x10, 0x73, 0x2c, 0xde, 0x55, 0x08, 0x91}
}

func TestLevelForPicksMaxForResources(t *testing.T) {
	require.Equal(t, 9, LevelFor("res/layout/main.xml"))
	require.Equal(t, 6, LevelFor("assets/strings.txt"))
	require.Equal(t, 6, LevelFor("dex/classes.dex"))
}

func TestWorthCompressingMatchesElevenTenthsFormula(t *testing.T) {
	// compressed*11 <= raw*10: 100*11 == 110*10, right at the boundary,
	// so deflate wins the tie.
	require.True(t, worthCompressing("res/raw/x", 110, 100))
	// One byte short of raw, the same compressed size now falls on the
	// store side of the boundary.
	require.False(t, worthCompressing("res/raw/x", 109, 100))
}
