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

package entrypack

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddSelectRoundTrip(t *testing.T) {
	p, err := New(t.TempDir())
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Add("res/drawable/icon.xml", []byte("<vector/>")))
	require.NoError(t, p.Add("assets/data.bin", []byte{1, 2, 3}))
	require.NoError(t, p.Finalize())

	got, err := p.Select("res/drawable/icon.xml")
	require.NoError(t, err)
	require.Equal(t, "<vector/>", string(got))

	got2, err := p.Select("assets/data.bin")
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, got2)
}

func TestDuplicateContentDeduped(t *testing.T) {
	p, err := New(t.TempDir())
	require.NoError(t, err)
	defer p.Close()

	same := []byte("shared bytes across splits")
	require.NoError(t, p.Add("base/res/a.xml", same))
	require.NoError(t, p.Add("feature/res/a.xml", same))
	require.Len(t, p.seen, 1)
	require.Equal(t, 2, p.Len())
}

func TestMergeAbsorbsSmaller(t *testing.T) {
	big, err := New(t.TempDir())
	require.NoError(t, err)
	defer big.Close()
	require.NoError(t, big.Add("a", []byte("aaa")))
	require.NoError(t, big.Add("b", []byte("bbb")))

	small, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, small.Add("c", []byte("ccc")))
	require.NoError(t, small.Add("a", []byte("aaa"))) // same content as big's "a"
	require.NoError(t, small.Finalize())

	require.NoError(t, big.Merge(small))
	require.NoError(t, small.Close())
	require.NoError(t, big.Finalize())

	for _, path := range []string{"a", "b", "c"} {
		_, err := big.Select(path)
		require.NoError(t, err, path)
	}
	require.Equal(t, 3, big.Len())
}
