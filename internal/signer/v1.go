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
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/apkserializer/internal/buildconfig"
	"github.com/google/apkserializer/internal/zipkit"
)

const (
	manifestPath = "META-INF/MANIFEST.MF"
	sfPath       = "META-INF/CERT.SF"
	rsaPath      = "META-INF/CERT.RSA"
)

// signV1 returns a copy of apk (a complete zip, as produced by package
// apkwriter) with the three JAR-signing META-INF entries added:
// MANIFEST.MF (a SHA-256 digest per entry), CERT.SF (a digest of the
// manifest plus of each of its per-entry sections), and CERT.RSA (a
// detached PKCS#7 SignedData over CERT.SF's bytes). Any prior META-INF
// signing entries are dropped first.
func signV1(apk []byte, cfg buildconfig.SigningConfig) ([]byte, error) {
	r, err := zipkit.NewReader(apk)
	if err != nil {
		return nil, fmt.Errorf("signer: parsing APK for v1 signing: %w", err)
	}

	type entry struct {
		name    string
		content []byte
	}
	var entries []entry
	for _, f := range r.Files {
		if isMetaInfSigningEntry(f.Name) {
			continue
		}
		rc, err := r.Open(f)
		if err != nil {
			return nil, fmt.Errorf("signer: reading %q: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("signer: reading %q: %w", f.Name, err)
		}
		entries = append(entries, entry{f.Name, content})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	var manifest strings.Builder
	manifest.WriteString("Manifest-Version: 1.0\r\n\r\n")
	sections := make(map[string]string, len(entries))
	for _, e := range entries {
		digest := sha256.Sum256(e.content)
		section := fmt.Sprintf("Name: %s\r\nSHA-256-Digest: %s\r\n\r\n", e.name, base64.StdEncoding.EncodeToString(digest[:]))
		sections[e.name] = section
		manifest.WriteString(section)
	}
	manifestBytes := []byte(manifest.String())

	manifestDigest := sha256.Sum256(manifestBytes)
	var sf strings.Builder
	sf.WriteString("Signature-Version: 1.0\r\n")
	sf.WriteString(fmt.Sprintf("SHA-256-Digest-Manifest: %s\r\n\r\n", base64.StdEncoding.EncodeToString(manifestDigest[:])))
	for _, e := range entries {
		sectionDigest := sha256.Sum256([]byte(sections[e.name]))
		sf.WriteString(fmt.Sprintf("Name: %s\r\nSHA-256-Digest: %s\r\n\r\n", e.name, base64.StdEncoding.EncodeToString(sectionDigest[:])))
	}
	sfBytes := []byte(sf.String())

	rsaBytes, err := buildPKCS7SignedData(cfg.PrivateKey(), cfg.Certificate(), sfBytes)
	if err != nil {
		return nil, fmt.Errorf("signer: building CERT.RSA: %w", err)
	}

	var out bytes.Buffer
	w := zipkit.NewWriter(&out)
	for _, f := range r.Files {
		if isMetaInfSigningEntry(f.Name) {
			continue
		}
		if err := w.CopyRecord(f.Name, reAlignment(f), r.RawRecord(f)); err != nil {
			return nil, fmt.Errorf("signer: copying %q into signed APK: %w", f.Name, err)
		}
	}
	for _, e := range []struct {
		name    string
		content []byte
	}{
		{manifestPath, manifestBytes},
		{sfPath, sfBytes},
		{rsaPath, rsaBytes},
	} {
		if err := w.Add(zipkit.Record{Name: e.name, Method: zipkit.Store}, e.content); err != nil {
			return nil, fmt.Errorf("signer: writing %q: %w", e.name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("signer: closing v1-signed APK: %w", err)
	}
	return out.Bytes(), nil
}

// reAlignment recovers the alignment an already-written entry needs
// when it is copied into the re-zipped, v1-signed archive. apkwriter's
// asset-slice assets/ rule can't be recovered from a zipkit.File alone
// (the split type isn't carried in the archive); every other case of
// spec §4.E step 6's alignment table depends only on method and name
// suffix, which is enough to keep uncompressed .so entries page-aligned
// across the rewrite.
func reAlignment(f *zipkit.File) int {
	if f.Method == zipkit.Deflate {
		return 0
	}
	if strings.HasSuffix(f.Name, ".so") {
		return 4096
	}
	return 4
}

func isMetaInfSigningEntry(name string) bool {
	if !strings.HasPrefix(name, "META-INF/") {
		return false
	}
	return name == manifestPath || strings.HasSuffix(name, ".SF") || strings.HasSuffix(name, ".RSA") || strings.HasSuffix(name, ".DSA") || strings.HasSuffix(name, ".EC")
}
