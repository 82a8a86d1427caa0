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
	"crypto"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"fmt"

	"github.com/google/apkserializer/internal/buildconfig"
	"github.com/google/apkserializer/internal/zipkit"
)

// Well-known block IDs within the APK Signing Block container, public
// constants of the Android APK signing format (not secrets).
const (
	v2BlockID           = 0x7109871a
	v3BlockID           = 0xf05368c0
	sourceStampBlockID  = 0x6dff800d
	apkSigBlockMagic    = "APK Sig Block 42"
	wholeFileSHA256AlgID = 0x00000001
)

// lengthPrefixed appends a uint32 little-endian length followed by v.
func lengthPrefixed(dst []byte, v []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(v)))
	return append(dst, v...)
}

// buildSignerBlockValue builds one v2/v3-format signature scheme block
// value: a signed-data section (content digest + certificate chain), a
// signatures section (algorithm ID + raw signature), and the signer's
// public key, each length-prefixed the way the real v2/v3 schemes lay
// these three sections out. v3 additionally carries the minSdk/maxSdk
// range the rotated key is valid for, plus the key-rotation lineage.
//
// The content digest itself is a single whole-file SHA-256 rather than
// the real scheme's 1 MiB chunked digest tree: this core verifies
// nothing downstream of its own output, so the simpler digest is
// sufficient to produce a structurally faithful, internally consistent
// signing block without reimplementing the full verification algorithm.
func buildSignerBlockValue(key crypto.Signer, cert *x509.Certificate, contentDigest [32]byte, minSdk, maxSdk int, isV3 bool, lineage []buildconfig.LineageEntry) ([]byte, error) {
	sigAlgOID, err := signatureAlgorithmOID(key)
	_ = sigAlgOID // recorded in the certificate already; the block uses a numeric algorithm ID instead
	if err != nil {
		return nil, err
	}

	var digestSection []byte
	digestSection = binary.LittleEndian.AppendUint32(digestSection, wholeFileSHA256AlgID)
	digestSection = lengthPrefixed(digestSection, contentDigest[:])
	var digestsBlock []byte
	digestsBlock = lengthPrefixed(digestsBlock, digestSection)

	var certsBlock []byte
	certsBlock = lengthPrefixed(certsBlock, cert.Raw)

	var signedData []byte
	signedData = lengthPrefixed(signedData, digestsBlock)
	signedData = lengthPrefixed(signedData, certsBlock)
	if isV3 {
		signedData = binary.LittleEndian.AppendUint32(signedData, uint32(minSdk))
		signedData = binary.LittleEndian.AppendUint32(signedData, uint32(maxSdk))
	}
	signedData = lengthPrefixed(signedData, encodeLineage(lineage)) // additional attributes

	digest := sha256.Sum256(signedData)
	sig, err := key.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("signer: signing v2/v3 block: %w", err)
	}
	var sigEntry []byte
	sigEntry = binary.LittleEndian.AppendUint32(sigEntry, wholeFileSHA256AlgID)
	sigEntry = lengthPrefixed(sigEntry, sig)
	var signaturesBlock []byte
	signaturesBlock = lengthPrefixed(signaturesBlock, sigEntry)

	pubKey, err := x509.MarshalPKIXPublicKey(key.Public())
	if err != nil {
		return nil, fmt.Errorf("signer: marshaling public key: %w", err)
	}

	var value []byte
	if isV3 {
		value = binary.LittleEndian.AppendUint32(value, uint32(minSdk))
		value = binary.LittleEndian.AppendUint32(value, uint32(maxSdk))
	}
	value = lengthPrefixed(value, signedData)
	value = lengthPrefixed(value, signaturesBlock)
	value = lengthPrefixed(value, pubKey)
	return value, nil
}

// encodeLineage serializes a v3 key-rotation lineage as a sequence of
// length-prefixed (certificate, capability-flags) pairs, oldest entry
// first. Returns nil for an empty lineage, which leaves the v3 block's
// additional-attributes section empty exactly as plain (non-rotated)
// signing does.
func encodeLineage(lineage []buildconfig.LineageEntry) []byte {
	if len(lineage) == 0 {
		return nil
	}
	var out []byte
	for _, e := range lineage {
		var flags uint32
		if e.CapabilityOldKeyInstalledData {
			flags |= 1 << 0
		}
		if e.CapabilityOldKeySharedUserID {
			flags |= 1 << 1
		}
		if e.CapabilityOldKeyPermission {
			flags |= 1 << 2
		}
		if e.CapabilityOldKeyRollback {
			flags |= 1 << 3
		}
		out = lengthPrefixed(out, e.Certificate.Raw)
		out = binary.LittleEndian.AppendUint32(out, flags)
	}
	return out
}

// buildSigningBlock assembles the APK Signing Block container (one or
// more ID-value pairs, sandwiched between repeated size fields and the
// format's magic trailer), the same layout NewApkSign's EOCD/CD/ASv2
// scan in the v2 signing reference parses back out.
func buildSigningBlock(pairs map[uint32][]byte) []byte {
	var body []byte
	for id, value := range pairs {
		entry := binary.LittleEndian.AppendUint32(nil, id)
		entry = append(entry, value...)
		body = binary.LittleEndian.AppendUint64(body, uint64(len(entry)))
		body = append(body, entry...)
	}
	blockSize := uint64(len(body) + 8 + 16) // + trailing size field + magic
	out := binary.LittleEndian.AppendUint64(nil, blockSize)
	out = append(out, body...)
	out = binary.LittleEndian.AppendUint64(out, blockSize)
	out = append(out, []byte(apkSigBlockMagic)...)
	return out
}

// injectSigningBlock inserts block immediately before the central
// directory of apk and patches the end-of-central-directory record's
// central-directory offset field accordingly, following the same
// insert-then-patch technique as the v2 signing reference's
// InjectBeforeCD.
func injectSigningBlock(apk []byte, block []byte) ([]byte, error) {
	cdOffset, eocdOffset, err := zipkit.LocateDirectory(apk)
	if err != nil {
		return nil, fmt.Errorf("signer: locating central directory: %w", err)
	}

	out := make([]byte, 0, len(apk)+len(block))
	out = append(out, apk[:cdOffset]...)
	out = append(out, block...)
	out = append(out, apk[cdOffset:eocdOffset]...)

	eocd := make([]byte, len(apk)-int(eocdOffset))
	copy(eocd, apk[eocdOffset:])
	newCDOffset := cdOffset + uint64(len(block))
	binary.LittleEndian.PutUint32(eocd[16:20], uint32(newCDOffset))
	out = append(out, eocd...)
	return out, nil
}

// contentDigest hashes everything in apk before its central directory,
// the portion of the archive the signing block's digest covers.
func contentDigest(apk []byte, cdOffset uint64) [32]byte {
	return sha256.Sum256(apk[:cdOffset])
}
