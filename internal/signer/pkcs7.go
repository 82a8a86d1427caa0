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
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	casn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// buildPKCS7SignedData builds a detached PKCS#7 SignedData structure
// (RFC 2315) over signedContent, the byte-for-byte shape the v1 JAR
// signing scheme's META-INF/*.RSA entry holds: a content-less
// ContentInfo (the real content, CERT.SF, travels alongside in the same
// archive instead of being embedded), one certificate, and one
// SignerInfo computed with key over signedContent's SHA-256 digest.
//
// There are no generated PKCS#7 bindings available in this environment
// (no ASN.1/protoc tooling), so the structure is built field-by-field
// with cryptobyte, the same primitive-level approach package wireformat
// takes for protobuf wire forms.
func buildPKCS7SignedData(key crypto.Signer, cert *x509.Certificate, signedContent []byte) ([]byte, error) {
	digest := sha256.Sum256(signedContent)
	sig, err := key.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("signer: signing content: %w", err)
	}
	sigAlgOID, err := signatureAlgorithmOID(key)
	if err != nil {
		return nil, err
	}

	var b cryptobyte.Builder
	b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) { // ContentInfo
		addObjectIdentifier(b, oidPKCS7SignedData)
		b.AddASN1(casn1.Tag(0).Constructed().ContextSpecific(), func(b *cryptobyte.Builder) { // [0] EXPLICIT SignedData
			b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) { // SignedData
				b.AddASN1Int64(1) // version

				b.AddASN1(casn1.SET, func(b *cryptobyte.Builder) { // digestAlgorithms
					addAlgorithmIdentifier(b, oidSHA256)
				})

				b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) { // contentInfo (detached "data")
					addObjectIdentifier(b, oidPKCS7Data)
				})

				b.AddASN1(casn1.Tag(0).Constructed().ContextSpecific(), func(b *cryptobyte.Builder) { // [0] IMPLICIT certificates
					b.AddBytes(cert.Raw)
				})

				b.AddASN1(casn1.SET, func(b *cryptobyte.Builder) { // signerInfos
					b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) { // SignerInfo
						b.AddASN1Int64(1) // version

						b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) { // issuerAndSerialNumber
							b.AddBytes(cert.RawIssuer)
							b.AddASN1BigInt(cert.SerialNumber)
						})

						addAlgorithmIdentifier(b, oidSHA256)
						addAlgorithmIdentifier(b, sigAlgOID)

						b.AddASN1(casn1.OCTET_STRING, func(b *cryptobyte.Builder) {
							b.AddBytes(sig)
						})
					})
				})
			})
		})
	})

	return b.Bytes()
}
