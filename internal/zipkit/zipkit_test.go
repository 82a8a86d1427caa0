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

package zipkit

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Add(Record{Name: "lib/arm64-v8a/libfoo.so", Method: Store, Alignment: 4096}, bytes.Repeat([]byte{0xAB}, 1000)))
	require.NoError(t, w.Add(Record{Name: "res/layout/main.xml", Method: Deflate, DeflateLevel: 6}, []byte("<layout/>")))
	require.NoError(t, w.Add(Record{Name: "classes.dex", Method: Store}, []byte("dex-bytes")))
	require.NoError(t, w.Close())

	r, err := NewReader(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, r.Files, 3)

	for _, f := range r.Files {
		rc, err := r.Open(f)
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		require.EqualValues(t, f.UncompressedSize, len(got))
	}
}

func TestAlignment4096(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Add(Record{Name: "a", Method: Store, Alignment: 4096}, []byte("x")))
	require.NoError(t, w.Add(Record{Name: "lib/x86_64/libbar.so", Method: Store, Alignment: 4096}, []byte("native-lib-bytes")))
	require.NoError(t, w.Close())

	r, err := NewReader(buf.Bytes())
	require.NoError(t, err)
	for _, f := range r.Files {
		if f.Name == "lib/x86_64/libbar.so" {
			require.Zero(t, f.dataOffset%4096)
		}
	}
}

func TestDuplicateNameRejected(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Add(Record{Name: "a", Method: Store}, []byte("1")))
	require.Error(t, w.Add(Record{Name: "a", Method: Store}, []byte("2")))
}

func TestDeterministicOutput(t *testing.T) {
	build := func() []byte {
		var buf bytes.Buffer
		w := NewWriter(&buf)
		require.NoError(t, w.Add(Record{Name: "AndroidManifest.xml", Method: Store}, []byte("manifest")))
		require.NoError(t, w.Add(Record{Name: "resources.arsc", Method: Store, Alignment: 4}, []byte("resources")))
		require.NoError(t, w.Close())
		return buf.Bytes()
	}
	a := build()
	b := build()
	require.True(t, bytes.Equal(a, b))
}

func TestCopyRecordPreservesCompressedBytes(t *testing.T) {
	var src bytes.Buffer
	w := NewWriter(&src)
	require.NoError(t, w.Add(Record{Name: "res/drawable/icon.xml", Method: Deflate}, []byte("<vector/>")))
	require.NoError(t, w.Close())

	r, err := NewReader(src.Bytes())
	require.NoError(t, err)
	require.Len(t, r.Files, 1)
	raw := r.RawRecord(r.Files[0])

	var dst bytes.Buffer
	w2 := NewWriter(&dst)
	require.NoError(t, w2.CopyRecord("res/drawable/icon.xml", 0, raw))
	require.NoError(t, w2.Close())

	r2, err := NewReader(dst.Bytes())
	require.NoError(t, err)
	rc, err := r2.Open(r2.Files[0])
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "<vector/>", string(got))
}

func TestLocateDirectory(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Add(Record{Name: "a", Method: Store}, []byte("aaa")))
	require.NoError(t, w.Close())

	cdOff, eocdOff, err := LocateDirectory(buf.Bytes())
	require.NoError(t, err)
	require.Less(t, cdOff, eocdOff)
	require.Equal(t, centralDirSignature, binary.LittleEndian.Uint32(buf.Bytes()[cdOff:cdOff+4]))
}
