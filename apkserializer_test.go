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

package apkserializer_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/google/apkserializer"
)

func generateTestCert(t *testing.T) (*ecdsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "apkserializer public API test"},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).AddDate(30, 0, 0),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return key, cert
}

func TestBuildRejectsConflictingOutputModes(t *testing.T) {
	_, err := apkserializer.Build(context.Background(), apkserializer.Request{
		OutputDir:   "a",
		ArchivePath: "b",
	})
	require.Error(t, err)
	var buildErr *apkserializer.BuildError
	require.True(t, errors.As(err, &buildErr))
	require.Equal(t, apkserializer.KindInvalidCommand, buildErr.Kind())
}

func TestBuildProducesArchive(t *testing.T) {
	key, cert := generateTestCert(t)
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "out.apks")

	manifest := &apkserializer.ManifestNode{
		Tag:   "manifest",
		Attrs: map[string]string{"package": "com.example.app"},
		Children: []*apkserializer.ManifestNode{
			{Tag: "uses-sdk", Attrs: map[string]string{"android:minSdkVersion": "21"}},
		},
	}
	split := &apkserializer.ModuleSplit{
		ModuleName: apkserializer.BaseModuleName,
		SplitType:  apkserializer.SplitTypeSplit,
		IsMaster:   true,
		Manifest:   manifest,
		Entries: []*apkserializer.ModuleEntry{
			{Path: "dex/classes.dex", Content: apkserializer.MemoryContent([]byte("dex-bytes"))},
		},
	}

	result, err := apkserializer.Build(context.Background(), apkserializer.Request{
		Splits:        []*apkserializer.ModuleSplit{split},
		Mode:          apkserializer.ModeDefault,
		BundleConfig:  apkserializer.DefaultBundleConfig(),
		SigningConfig: apkserializer.NewSigningConfig(key, cert),
		Compiler:      passthroughCompiler{},
		ArchivePath:   archivePath,
	})
	require.NoError(t, err)
	require.Equal(t, archivePath, result.OutputPath)
	require.Len(t, result.TOC.Variants, 1)

	_, err = os.Stat(archivePath)
	require.NoError(t, err)
}

// passthroughCompiler copies the proto-form zip straight through,
// standing in for an external resource-compiler binary.
type passthroughCompiler struct{}

func (passthroughCompiler) Convert(ctx context.Context, inPath, outPath string, opts apkserializer.CompilerOptions) error {
	data, err := os.ReadFile(inPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, data, 0o644)
}
