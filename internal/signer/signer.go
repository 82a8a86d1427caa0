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

// Package signer applies JAR (v1), APK Signature Scheme v2, and v3
// signatures to a finished APK, following the same policy bundletool's
// ApkSigner wiring does: v1 is added unless the caller has opted out
// and the effective min SDK already excludes pre-v2 platforms; v3 is
// added only once the APK's own min SDK reaches the v3-capable
// platform unless the caller has disabled that restriction.
package signer

import (
	"context"
	"fmt"
	"os"

	"github.com/google/apkserializer/internal/buildconfig"
	"github.com/google/apkserializer/internal/zipkit"
)

// Android platform SDK versions that gate the v1/v3 signing decisions,
// named the way the platform itself names them.
const (
	sdkN = 24 // the first release verified with APK Signature Scheme v2
	sdkR = 30 // the first release verified with APK Signature Scheme v3
)

// SignWithV1 reports whether the v1 (JAR) signature scheme should be
// applied, given the lowest SDK version the output must run on.
func SignWithV1(cfg buildconfig.SigningConfig, effectiveMinSdk int) bool {
	return effectiveMinSdk < sdkN || !cfg.NoV1WhenPossible()
}

// SignWithV3 reports whether the v3 signature scheme should be applied,
// given the higher of the manifest's and the split's own targeted min
// SDK versions.
func SignWithV3(cfg buildconfig.SigningConfig, manifestMinSdk, apkTargetingSdkMin int) bool {
	effective := manifestMinSdk
	if apkTargetingSdkMin > effective {
		effective = apkTargetingSdkMin
	}
	return effective >= sdkR || !cfg.RestrictV3ToRPlus()
}

// Options controls which schemes Sign applies, letting callers override
// the default policy decisions when they already know the answer (for
// example, the caller has already computed the split's effective min
// SDK as part of variant assembly).
type Options struct {
	EffectiveMinSdk    int
	ManifestMinSdk     int
	ApkTargetingSdkMin int
}

// Sign reads the unsigned APK at unsignedPath, applies v1 (when the
// policy calls for it), v2 (always), v3 (when the policy calls for it),
// and an optional source stamp, then atomically replaces unsignedPath
// with the signed bytes. It returns the final path, which is always
// unsignedPath.
func Sign(ctx context.Context, unsignedPath string, cfg buildconfig.SigningConfig, opts Options) (string, error) {
	apk, err := os.ReadFile(unsignedPath)
	if err != nil {
		return "", fmt.Errorf("signer: reading %q: %w", unsignedPath, err)
	}

	if SignWithV1(cfg, opts.EffectiveMinSdk) {
		apk, err = signV1(apk, cfg)
		if err != nil {
			return "", err
		}
	}

	signed, err := signV2V3(apk, cfg, opts)
	if err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	tmp := unsignedPath + ".signing"
	if err := os.WriteFile(tmp, signed, 0o644); err != nil {
		return "", fmt.Errorf("signer: writing signed output: %w", err)
	}
	if err := os.Rename(tmp, unsignedPath); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("signer: replacing %q with signed output: %w", unsignedPath, err)
	}
	return unsignedPath, nil
}

// signV2V3 builds the APK Signing Block (v2 always, v3 when policy
// calls for it, a source stamp when the config carries one) and injects
// it before the central directory.
func signV2V3(apk []byte, cfg buildconfig.SigningConfig, opts Options) ([]byte, error) {
	cdOffset, _, err := zipkit.LocateDirectory(apk)
	if err != nil {
		return nil, fmt.Errorf("signer: locating central directory for v2/v3 signing: %w", err)
	}
	digest := contentDigest(apk, cdOffset)

	pairs := make(map[uint32][]byte)

	v2Value, err := buildSignerBlockValue(cfg.PrivateKey(), cfg.Certificate(), digest, 0, 0, false, nil)
	if err != nil {
		return nil, fmt.Errorf("signer: building v2 block: %w", err)
	}
	pairs[v2BlockID] = v2Value

	if SignWithV3(cfg, opts.ManifestMinSdk, opts.ApkTargetingSdkMin) {
		v3Value, err := buildSignerBlockValue(cfg.PrivateKey(), cfg.Certificate(), digest, sdkR, 10000, true, cfg.Lineage())
		if err != nil {
			return nil, fmt.Errorf("signer: building v3 block: %w", err)
		}
		pairs[v3BlockID] = v3Value
	}

	if cfg.HasSourceStamp() {
		stampValue, err := buildSignerBlockValue(cfg.SourceStampKey(), cfg.SourceStampCertificate(), digest, 0, 0, false, nil)
		if err != nil {
			return nil, fmt.Errorf("signer: building source stamp block: %w", err)
		}
		pairs[sourceStampBlockID] = stampValue
	}

	block := buildSigningBlock(pairs)
	return injectSigningBlock(apk, block)
}
