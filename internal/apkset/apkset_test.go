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

package apkset

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/google/apkserializer/internal/bundle"
	"github.com/google/apkserializer/internal/buildconfig"
	"github.com/google/apkserializer/internal/rescompile"
	"github.com/google/apkserializer/internal/variantbuilder"
	"github.com/google/apkserializer/internal/wireformat"
	"github.com/google/apkserializer/internal/zipkit"
)

// identityCompiler stands in for the external resource-compiler binary:
// it copies the proto-form zip straight through, which is enough for
// this package's tests since they exercise coordination, not actual
// resource compilation (that contract is rescompile's own tests).
type identityCompiler struct{}

func (identityCompiler) Convert(ctx context.Context, inPath, outPath string, opts rescompile.Options) error {
	data, err := os.ReadFile(inPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, data, 0o644)
}

func generateTestCert(t *testing.T) (*ecdsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "apkserializer test"},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).AddDate(30, 0, 0),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return key, cert
}

func testSplit(moduleName string) *bundle.ModuleSplit {
	manifest := &bundle.ManifestNode{
		Tag:   "manifest",
		Attrs: map[string]string{"package": "com.example." + moduleName},
		Children: []*bundle.ManifestNode{
			{Tag: "uses-sdk", Attrs: map[string]string{"android:minSdkVersion": "21"}},
		},
	}
	return &bundle.ModuleSplit{
		ModuleName: moduleName,
		SplitType:  bundle.SplitTypeSplit,
		IsMaster:   true,
		Manifest:   manifest,
		Entries: []*bundle.ModuleEntry{
			{Path: "dex/classes.dex", Content: bundle.MemoryContent([]byte("dex-bytes"))},
		},
	}
}

func TestBuildArchiveMode(t *testing.T) {
	key, cert := generateTestCert(t)
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "out.apks")

	result, err := Build(context.Background(), Request{
		Splits:        []*bundle.ModuleSplit{testSplit(bundle.BaseModuleName)},
		Mode:          variantbuilder.ModeDefault,
		BundleConfig:  buildconfig.DefaultBundleConfig(),
		SigningConfig: buildconfig.NewSigningConfig(key, cert),
		Compiler:      identityCompiler{},
		ArchivePath:   archivePath,
		Concurrency:   2,
	})
	require.NoError(t, err)
	require.Equal(t, archivePath, result.OutputPath)
	require.Len(t, result.TOC.Variants, 1)
	require.Len(t, result.TOC.Variants[0].Apks, 1)

	data, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	r, err := zipkit.NewReader(data)
	require.NoError(t, err)
	require.Equal(t, "toc.pb", r.Files[0].Name)
	require.Equal(t, zipkit.Store, r.Files[0].Method)

	var names []string
	for _, f := range r.Files {
		names = append(names, f.Name)
		require.Equal(t, zipkit.Store, f.Method, "archive-mode entries must be uncompressed")
	}
	require.Contains(t, names, result.TOC.Variants[0].Apks[0].Path)

	rc, err := r.Open(r.Files[0])
	require.NoError(t, err)
	tocBytes, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	decoded, err := wireformat.DecodeTOC(tocBytes)
	require.NoError(t, err)
	require.Equal(t, result.TOC, decoded)
}

func TestBuildDirectoryModeWithApkCerts(t *testing.T) {
	key, cert := generateTestCert(t)
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	apkCertsPath := filepath.Join(dir, "apkcerts.txt")

	result, err := Build(context.Background(), Request{
		Splits:        []*bundle.ModuleSplit{testSplit(bundle.BaseModuleName)},
		Mode:          variantbuilder.ModeDefault,
		BundleConfig:  buildconfig.DefaultBundleConfig(),
		SigningConfig: buildconfig.NewSigningConfig(key, cert),
		Compiler:      identityCompiler{},
		OutputDir:     outDir,
		ApkCertsPath:  apkCertsPath,
	})
	require.NoError(t, err)
	require.Equal(t, outDir, result.OutputPath)

	_, err = os.Stat(filepath.Join(outDir, "toc.pb"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(outDir, result.TOC.Variants[0].Apks[0].Path))
	require.NoError(t, err)

	certs, err := os.ReadFile(apkCertsPath)
	require.NoError(t, err)
	require.Contains(t, string(certs), "certificate=\"PRESIGNED\"")
}

func TestBuildRejectsConflictingOutputModes(t *testing.T) {
	_, err := Build(context.Background(), Request{OutputDir: "a", ArchivePath: "b"})
	require.Error(t, err)
}
