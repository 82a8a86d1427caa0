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

package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/google/apkserializer/internal/bundle"
	"github.com/google/apkserializer/internal/variantbuilder"
)

func TestParseMode(t *testing.T) {
	cases := map[string]variantbuilder.Mode{
		"default":           variantbuilder.ModeDefault,
		"universal":         variantbuilder.ModeUniversal,
		"system":            variantbuilder.ModeSystem,
		"system_compressed": variantbuilder.ModeSystemCompressed,
		"archive":           variantbuilder.ModeArchive,
	}
	for in, want := range cases {
		got, err := parseMode(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := parseMode("bogus")
	require.Error(t, err)
}

func TestParseSplitType(t *testing.T) {
	cases := map[string]bundle.SplitType{
		"":            bundle.SplitTypeSplit,
		"SPLIT":       bundle.SplitTypeSplit,
		"INSTANT":     bundle.SplitTypeInstant,
		"STANDALONE":  bundle.SplitTypeStandalone,
		"SYSTEM":      bundle.SplitTypeSystem,
		"ASSET_SLICE": bundle.SplitTypeAssetSlice,
		"ARCHIVE":     bundle.SplitTypeArchive,
	}
	for in, want := range cases {
		got, err := parseSplitType(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := parseSplitType("bogus")
	require.Error(t, err)
}

func TestLoadSplit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "classes.dex"), []byte("dex-bytes"), 0o644))

	descriptor := `{
		"Module": "base",
		"SplitType": "SPLIT",
		"IsMaster": true,
		"Manifest": {
			"Tag": "manifest",
			"Attrs": {"package": "com.example.app"},
			"Children": [
				{"Tag": "uses-sdk", "Attrs": {"android:minSdkVersion": "21"}}
			]
		},
		"Entries": [
			{"Path": "dex/classes.dex", "File": "classes.dex"}
		]
	}`
	descriptorPath := filepath.Join(dir, "base.json")
	require.NoError(t, os.WriteFile(descriptorPath, []byte(descriptor), 0o644))

	split, err := loadSplit(descriptorPath)
	require.NoError(t, err)
	require.Equal(t, "base", split.ModuleName)
	require.Equal(t, bundle.SplitTypeSplit, split.SplitType)
	require.True(t, split.IsMaster)
	require.Equal(t, int32(21), split.Manifest.MinSdkVersion())
	require.Len(t, split.Entries, 1)
	require.Equal(t, "dex/classes.dex", split.Entries[0].Path)
}

func TestLoadKeyPair(t *testing.T) {
	dir := t.TempDir()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "apkserializer cli test"},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).AddDate(30, 0, 0),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDer, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	keyPath := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDer}), 0o644))
	certPath := filepath.Join(dir, "cert.pem")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644))

	signer, cert, err := loadKeyPair(keyPath, certPath)
	require.NoError(t, err)
	require.NotNil(t, signer)
	require.Equal(t, "apkserializer cli test", cert.Subject.CommonName)
}
