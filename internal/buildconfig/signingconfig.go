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

package buildconfig

import (
	"crypto"
	"crypto/x509"
)

// LineageEntry is one step of a signing certificate lineage: a prior
// signing certificate plus the capabilities it grants to newer
// certificates in the chain, mirroring apex/builder.go's
// getCertificateAndPrivateKey's "certificate + private key, optionally
// overridden" resolution model generalized to key rotation.
type LineageEntry struct {
	Certificate *x509.Certificate
	// InstalledData, SharedUserID, Permission, and Rollback gate what
	// the rotated key may do on a device that trusted an older
	// certificate in the lineage; modeled as plain booleans rather than
	// a bitmask so callers don't need to know the on-wire encoding.
	CapabilityOldKeyInstalledData bool
	CapabilityOldKeySharedUserID  bool
	CapabilityOldKeyPermission    bool
	CapabilityOldKeyRollback      bool
}

// signingConfig is the unexported backing struct for SigningConfig.
type signingConfig struct {
	privateKey  crypto.Signer
	certificate *x509.Certificate
	lineage     []LineageEntry

	restrictV3ToRPlus bool
	noV1WhenPossible  bool

	sourceStampKey         crypto.Signer
	sourceStampCertificate *x509.Certificate
}

// SigningConfig is the immutable signing key/certificate/policy bundle
// package signer consumes. Construct with NewSigningConfig.
type SigningConfig struct {
	*signingConfig
}

// NewSigningConfig returns a SigningConfig for the given key pair.
func NewSigningConfig(key crypto.Signer, cert *x509.Certificate) SigningConfig {
	return SigningConfig{&signingConfig{privateKey: key, certificate: cert}}
}

// WithLineage returns a copy of c carrying the given key-rotation
// lineage, oldest entry first.
func (c SigningConfig) WithLineage(lineage []LineageEntry) SigningConfig {
	clone := *c.signingConfig
	clone.lineage = append([]LineageEntry(nil), lineage...)
	return SigningConfig{&clone}
}

// WithRestrictV3ToRPlus returns a copy of c with the v3-signing
// restriction policy set explicitly (see spec §4.F's signWithV3
// formula).
func (c SigningConfig) WithRestrictV3ToRPlus(restrict bool) SigningConfig {
	clone := *c.signingConfig
	clone.restrictV3ToRPlus = restrict
	return SigningConfig{&clone}
}

// WithNoV1WhenPossible returns a copy of c with the "skip v1 signing
// when the effective min SDK allows it" feature flag set.
func (c SigningConfig) WithNoV1WhenPossible(enabled bool) SigningConfig {
	clone := *c.signingConfig
	clone.noV1WhenPossible = enabled
	return SigningConfig{&clone}
}

// WithSourceStamp returns a copy of c configured to additionally sign a
// source stamp with the given key pair.
func (c SigningConfig) WithSourceStamp(key crypto.Signer, cert *x509.Certificate) SigningConfig {
	clone := *c.signingConfig
	clone.sourceStampKey = key
	clone.sourceStampCertificate = cert
	return SigningConfig{&clone}
}

func (c SigningConfig) PrivateKey() crypto.Signer        { return c.privateKey }
func (c SigningConfig) Certificate() *x509.Certificate    { return c.certificate }
func (c SigningConfig) Lineage() []LineageEntry           { return c.lineage }
func (c SigningConfig) RestrictV3ToRPlus() bool           { return c.restrictV3ToRPlus }
func (c SigningConfig) NoV1WhenPossible() bool            { return c.noV1WhenPossible }
func (c SigningConfig) HasSourceStamp() bool              { return c.sourceStampKey != nil }
func (c SigningConfig) SourceStampKey() crypto.Signer     { return c.sourceStampKey }
func (c SigningConfig) SourceStampCertificate() *x509.Certificate {
	return c.sourceStampCertificate
}
