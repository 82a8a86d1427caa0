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

package signer

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/google/apkserializer/internal/buildconfig"
	"github.com/google/apkserializer/internal/zipkit"
)

func generateTestCert(t *testing.T, commonName string) (*ecdsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).AddDate(30, 0, 0),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return key, cert
}

func buildTestApk(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zipkit.NewWriter(&buf)
	require.NoError(t, w.Add(zipkit.Record{Name: "AndroidManifest.xml", Method: zipkit.Store}, []byte("manifest-bytes")))
	require.NoError(t, w.Add(zipkit.Record{Name: "classes.dex", Method: zipkit.Deflate}, bytes.Repeat([]byte("dex"), 100)))
	require.NoError(t, w.Add(zipkit.Record{Name: "lib/arm64-v8a/libfoo.so", Method: zipkit.Store, Alignment: 4096}, bytes.Repeat([]byte{0x7f}, 2000)))
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestSignWithV1Policy(t *testing.T) {
	noSkip := buildconfig.NewSigningConfig(nil, nil).WithNoV1WhenPossible(false)
	require.True(t, SignWithV1(noSkip, 30))

	skip := buildconfig.NewSigningConfig(nil, nil).WithNoV1WhenPossible(true)
	require.False(t, SignWithV1(skip, 30))
	require.True(t, SignWithV1(skip, 21)) // below sdkN, v1 always included
}

func TestSignWithV3Policy(t *testing.T) {
	restricted := buildconfig.NewSigningConfig(nil, nil).WithRestrictV3ToRPlus(true)
	require.False(t, SignWithV3(restricted, 24, 24))
	require.True(t, SignWithV3(restricted, 30, 21))

	unrestricted := buildconfig.NewSigningConfig(nil, nil).WithRestrictV3ToRPlus(false)
	require.True(t, SignWithV3(unrestricted, 21, 21))
}

func TestSignProducesV1AndV2V3Entries(t *testing.T) {
	key, cert := generateTestCert(t, "apkserializer test")
	cfg := buildconfig.NewSigningConfig(key, cert)

	dir := t.TempDir()
	path := filepath.Join(dir, "out.apk")
	require.NoError(t, os.WriteFile(path, buildTestApk(t), 0o644))

	signedPath, err := Sign(context.Background(), path, cfg, Options{EffectiveMinSdk: 21, ManifestMinSdk: 21, ApkTargetingSdkMin: 21})
	require.NoError(t, err)
	require.Equal(t, path, signedPath)

	signed, err := os.ReadFile(path)
	require.NoError(t, err)

	r, err := zipkit.NewReader(signed)
	require.NoError(t, err)
	var names []string
	for _, f := range r.Files {
		names = append(names, f.Name)
	}
	require.Contains(t, names, manifestPath)
	require.Contains(t, names, sfPath)
	require.Contains(t, names, rsaPath)
	require.Contains(t, names, "lib/arm64-v8a/libfoo.so")

	cdOffset, eocdOffset, err := zipkit.LocateDirectory(signed)
	require.NoError(t, err)
	require.Less(t, cdOffset, eocdOffset)

	blockMagicIdx := bytes.LastIndex(signed[:cdOffset], []byte(apkSigBlockMagic))
	require.GreaterOrEqual(t, blockMagicIdx, 0, "expected APK Signing Block magic before the central directory")
}

func TestSignV2V3WithoutV3WhenRestricted(t *testing.T) {
	key, cert := generateTestCert(t, "apkserializer test")
	cfg := buildconfig.NewSigningConfig(key, cert).WithRestrictV3ToRPlus(true)

	apk := buildTestApk(t)
	signed, err := signV2V3(apk, cfg, Options{ManifestMinSdk: 21, ApkTargetingSdkMin: 21})
	require.NoError(t, err)

	cdOffset, _, err := zipkit.LocateDirectory(signed)
	require.NoError(t, err)
	block := signed[:cdOffset]

	require.True(t, bytes.Contains(block, binary.LittleEndian.AppendUint32(nil, v2BlockID)))
	require.False(t, bytes.Contains(block, binary.LittleEndian.AppendUint32(nil, v3BlockID)))
}

func TestInjectSigningBlockPatchesCentralDirectoryOffset(t *testing.T) {
	apk := buildTestApk(t)
	origCDOffset, _, err := zipkit.LocateDirectory(apk)
	require.NoError(t, err)

	block := buildSigningBlock(map[uint32][]byte{v2BlockID: []byte("fake-value")})
	injected, err := injectSigningBlock(apk, block)
	require.NoError(t, err)

	newCDOffset, _, err := zipkit.LocateDirectory(injected)
	require.NoError(t, err)
	require.Equal(t, origCDOffset+uint64(len(block)), newCDOffset)
}
