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
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	casn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// DER content bytes (tag and length stripped) of the object identifiers
// PKCS#7 signing needs. Stored as raw bytes rather than built from
// encoding/asn1.ObjectIdentifier since cryptobyte's Builder works at the
// TLV level and these values never change.
var (
	oidPKCS7SignedData        = []byte{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d, 0x01, 0x07, 0x02}
	oidPKCS7Data               = []byte{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d, 0x01, 0x07, 0x01}
	oidSHA256                 = []byte{0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01}
	oidRSAEncryption          = []byte{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d, 0x01, 0x01, 0x01}
	oidECDSAWithSHA256        = []byte{0x2a, 0x86, 0x48, 0xce, 0x3d, 0x04, 0x03, 0x02}
)

// addObjectIdentifier appends an ASN.1 OBJECT IDENTIFIER whose content
// bytes are already DER-encoded.
func addObjectIdentifier(b *cryptobyte.Builder, content []byte) {
	b.AddASN1(casn1.OBJECT_IDENTIFIER, func(b *cryptobyte.Builder) {
		b.AddBytes(content)
	})
}

// addAlgorithmIdentifier appends a SEQUENCE { algorithm OBJECT
// IDENTIFIER, parameters NULL }, the AlgorithmIdentifier shape PKCS#7
// and X.509 both share.
func addAlgorithmIdentifier(b *cryptobyte.Builder, oid []byte) {
	b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
		addObjectIdentifier(b, oid)
		b.AddASN1(casn1.NULL, func(b *cryptobyte.Builder) {})
	})
}

// signatureAlgorithmOID returns the digest-encryption OID PKCS#7
// records for key, the public part of the signer used.
func signatureAlgorithmOID(key crypto.Signer) ([]byte, error) {
	switch key.Public().(type) {
	case *rsa.PublicKey:
		return oidRSAEncryption, nil
	case *ecdsa.PublicKey:
		return oidECDSAWithSHA256, nil
	default:
		return nil, fmt.Errorf("signer: unsupported key type %T", key.Public())
	}
}
