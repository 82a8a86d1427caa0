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

// Serializes a set of pre-split modules (described on disk as small JSON
// descriptors, one per split) into a signed APK Set archive or
// directory. Run it without arguments to see usage details.
//
// This binary is glue around the programmatic apkset.Build entrypoint:
// building an app bundle's module splits from a .aab is a different
// collaborator's job (see the apkserializer package doc), so the inputs
// here are already-split modules plus their entries.
package main

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/apkserializer/internal/apkset"
	"github.com/google/apkserializer/internal/bundle"
	"github.com/google/apkserializer/internal/buildconfig"
	"github.com/google/apkserializer/internal/rescompile"
	"github.com/google/apkserializer/internal/variantbuilder"
)

// stringListValue collects a comma-separated flag into a string slice,
// generalizing cmd/extract_apks/main.go's abiFlagValue/
// screenDensityFlagValue pattern from a fixed proto enum to any
// comma-separated list.
type stringListValue struct {
	values *[]string
}

func (s stringListValue) String() string {
	if s.values == nil || len(*s.values) == 0 {
		return ""
	}
	return strings.Join(*s.values, ",")
}

func (s stringListValue) Set(list string) error {
	if list == "" {
		return nil
	}
	*s.values = strings.Split(list, ",")
	return nil
}

var (
	outputArchive = flag.String("o", "", "output APK Set archive path (mutually exclusive with -output-dir)")
	outputDir     = flag.String("output-dir", "", "output APK Set directory path (mutually exclusive with -o)")
	apkCertsPath  = flag.String("apkcerts", "", "optional apkcerts.txt output path")
	modeFlag      = flag.String("mode", "default", "build mode: default, universal, system, system_compressed, archive")
	firstVariant  = flag.Int("first-variant", 0, "first variant number assigned")
	concurrency   = flag.Int("concurrency", 0, "worker pool size; 0 selects the number of hardware threads")
	tempDir       = flag.String("temp-dir", "", "parent of the scoped temp directory; 0 value uses the OS default")

	signingKeyPath      = flag.String("signing-key", "", "PEM-encoded PKCS#8 private key")
	signingCertPath     = flag.String("signing-cert", "", "PEM-encoded signing certificate")
	lineageCerts        []string
	noV1WhenPossible    = flag.Bool("no-v1-when-possible", false, "omit v1 (JAR) signing when the effective min SDK allows it")
	restrictV3ToRPlus   = flag.Bool("restrict-v3-to-r-plus", false, "only add a v3 signature when the effective min SDK reaches API 30")
	sourceStampKeyPath  = flag.String("source-stamp-key", "", "optional PEM-encoded source stamp private key")
	sourceStampCertPath = flag.String("source-stamp-cert", "", "optional PEM-encoded source stamp certificate")

	compilerBinary   = flag.String("compiler", "", "path to the external resource-compiler binary")
	bundleConfigPath = flag.String("bundle-config", "", "path to a BundleConfig JSON options file")

	deviceSdkVersion = flag.Int("sdk-version", 0, "device SDK version; 0 disables device filtering")
	deviceDensityDpi = flag.Int("screen-density-dpi", 0, "device screen density in DPI")
	deviceTier       = flag.String("device-tier", "", "device tier")
	deviceCountrySet = flag.String("country-set", "", "device country set")
	deviceSdkRuntime = flag.Bool("sdk-runtime-supported", false, "device supports the SDK runtime")
	deviceAbis       []string
	deviceLocales    []string
	deviceTextures   []string
)

func processArgs() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: apkserializer {-o <archive> | -output-dir <dir>} "+
			"-signing-key <key.pem> -signing-cert <cert.pem> -compiler <path> <split.json>...")
		flag.PrintDefaults()
		os.Exit(2)
	}
	flag.Var(stringListValue{&lineageCerts}, "lineage-certs",
		"comma-separated PEM certificate paths, oldest first, forming a v3 key-rotation lineage")
	flag.Var(stringListValue{&deviceAbis}, "abis", "comma-separated device ABI list")
	flag.Var(stringListValue{&deviceLocales}, "locales", "comma-separated device locale list")
	flag.Var(stringListValue{&deviceTextures}, "texture-formats", "comma-separated device texture compression format list")
	flag.Parse()

	if (*outputArchive == "") == (*outputDir == "") {
		fmt.Fprintln(os.Stderr, "apkserializer: exactly one of -o or -output-dir is required")
		flag.Usage()
	}
	if *signingKeyPath == "" || *signingCertPath == "" {
		fmt.Fprintln(os.Stderr, "apkserializer: -signing-key and -signing-cert are required")
		flag.Usage()
	}
	if *compilerBinary == "" {
		fmt.Fprintln(os.Stderr, "apkserializer: -compiler is required")
		flag.Usage()
	}
	if len(flag.Args()) == 0 {
		fmt.Fprintln(os.Stderr, "apkserializer: at least one split descriptor is required")
		flag.Usage()
	}
}

func main() {
	processArgs()

	mode, err := parseMode(*modeFlag)
	if err != nil {
		log.Fatal(err)
	}

	key, cert, err := loadKeyPair(*signingKeyPath, *signingCertPath)
	if err != nil {
		log.Fatal(err)
	}
	signingConfig := buildconfig.NewSigningConfig(key, cert).
		WithNoV1WhenPossible(*noV1WhenPossible).
		WithRestrictV3ToRPlus(*restrictV3ToRPlus)

	if len(lineageCerts) > 0 {
		lineage := make([]buildconfig.LineageEntry, 0, len(lineageCerts))
		for _, p := range lineageCerts {
			c, err := loadCertificate(p)
			if err != nil {
				log.Fatal(err)
			}
			lineage = append(lineage, buildconfig.LineageEntry{
				Certificate:                   c,
				CapabilityOldKeyInstalledData: true,
				CapabilityOldKeySharedUserID:  true,
				CapabilityOldKeyPermission:    true,
				CapabilityOldKeyRollback:      true,
			})
		}
		signingConfig = signingConfig.WithLineage(lineage)
	}

	if *sourceStampKeyPath != "" || *sourceStampCertPath != "" {
		if *sourceStampKeyPath == "" || *sourceStampCertPath == "" {
			log.Fatal("apkserializer: -source-stamp-key and -source-stamp-cert must be given together")
		}
		stampKey, stampCert, err := loadKeyPair(*sourceStampKeyPath, *sourceStampCertPath)
		if err != nil {
			log.Fatal(err)
		}
		signingConfig = signingConfig.WithSourceStamp(stampKey, stampCert)
	}

	bundleConfig, err := loadBundleConfig(*bundleConfigPath)
	if err != nil {
		log.Fatal(err)
	}

	var device *bundle.DeviceSpec
	if *deviceSdkVersion != 0 {
		device = &bundle.DeviceSpec{
			SupportedAbis:                      deviceAbis,
			ScreenDensityDpi:                   int32(*deviceDensityDpi),
			SupportedLocales:                   deviceLocales,
			SdkVersion:                         int32(*deviceSdkVersion),
			SupportedTextureCompressionFormats: deviceTextures,
			DeviceTier:                         *deviceTier,
			CountrySet:                         *deviceCountrySet,
			SdkRuntimeSupported:                *deviceSdkRuntime,
		}
	}

	splits := make([]*bundle.ModuleSplit, 0, len(flag.Args()))
	for _, p := range flag.Args() {
		s, err := loadSplit(p)
		if err != nil {
			log.Fatal(err)
		}
		splits = append(splits, s)
	}

	result, err := apkset.Build(context.Background(), apkset.Request{
		Splits:             splits,
		Mode:               mode,
		FirstVariantNumber: *firstVariant,
		Device:             device,
		BundleConfig:       bundleConfig,
		SigningConfig:      signingConfig,
		Compiler:           rescompile.ExecCompiler{BinaryPath: *compilerBinary},
		Concurrency:        *concurrency,
		TempDir:            *tempDir,
		OutputDir:          *outputDir,
		ArchivePath:        *outputArchive,
		ApkCertsPath:       *apkCertsPath,
	})
	if err != nil {
		exitForError(err)
	}
	log.Printf("wrote %d variant(s) to %s", len(result.TOC.Variants), result.OutputPath)
}

// exitForError classifies err per spec §7's error kinds and reports it
// to stderr before exiting. Errors that are not a *buildconfig.BuildError
// (such as those from the signer or the manifest modifier) are reported
// unclassified through log.Fatal.
func exitForError(err error) {
	var buildErr *buildconfig.BuildError
	if be, ok := err.(*buildconfig.BuildError); ok {
		buildErr = be
	}
	if buildErr == nil {
		log.Fatal(err)
	}
	fmt.Fprintf(os.Stderr, "apkserializer: %s: %s\n", buildErr.Kind(), buildErr.Error())
	os.Exit(1)
}

func parseMode(s string) (variantbuilder.Mode, error) {
	switch s {
	case "default":
		return variantbuilder.ModeDefault, nil
	case "universal":
		return variantbuilder.ModeUniversal, nil
	case "system":
		return variantbuilder.ModeSystem, nil
	case "system_compressed":
		return variantbuilder.ModeSystemCompressed, nil
	case "archive":
		return variantbuilder.ModeArchive, nil
	default:
		return 0, fmt.Errorf("apkserializer: unknown -mode %q", s)
	}
}

func loadKeyPair(keyPath, certPath string) (crypto.Signer, *x509.Certificate, error) {
	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %q: %w", keyPath, err)
	}
	block, _ := pem.Decode(keyBytes)
	if block == nil {
		return nil, nil, fmt.Errorf("%q: no PEM block found", keyPath)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing %q: %w", keyPath, err)
	}
	signer, ok := parsed.(crypto.Signer)
	if !ok {
		return nil, nil, fmt.Errorf("%q: key type %T is not a crypto.Signer", keyPath, parsed)
	}
	cert, err := loadCertificate(certPath)
	if err != nil {
		return nil, nil, err
	}
	return signer, cert, nil
}

func loadCertificate(path string) (*x509.Certificate, error) {
	certBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}
	block, _ := pem.Decode(certBytes)
	if block == nil {
		return nil, fmt.Errorf("%q: no PEM block found", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", path, err)
	}
	return cert, nil
}

func loadBundleConfig(path string) (buildconfig.BundleConfig, error) {
	if path == "" {
		return buildconfig.DefaultBundleConfig(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return buildconfig.BundleConfig{}, fmt.Errorf("reading %q: %w", path, err)
	}
	cfg, err := buildconfig.NewBundleConfig(raw)
	if err != nil {
		return buildconfig.BundleConfig{}, err
	}
	return cfg, nil
}

// splitDescriptor is the on-disk JSON shape one module split is
// described by: the module's manifest and targeting plus a list of
// entries, each naming a file on disk (resolved relative to the
// descriptor's own directory).
type splitDescriptor struct {
	Module           string
	SplitType        string
	IsMaster         bool
	IsApex           bool
	Suffix           string
	ApkTargeting     bundle.ApkTargeting
	VariantTargeting bundle.VariantTargeting
	Manifest         *bundle.ManifestNode
	Entries          []entryDescriptor
}

type entryDescriptor struct {
	Path              string
	File              string
	ForceUncompressed bool
	ShouldSign        bool
}

func loadSplit(descriptorPath string) (*bundle.ModuleSplit, error) {
	raw, err := os.ReadFile(descriptorPath)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", descriptorPath, err)
	}
	var d splitDescriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parsing %q: %w", descriptorPath, err)
	}

	splitType, err := parseSplitType(d.SplitType)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", descriptorPath, err)
	}

	dir := filepath.Dir(descriptorPath)
	entries := make([]*bundle.ModuleEntry, 0, len(d.Entries))
	for _, e := range d.Entries {
		content, err := os.ReadFile(filepath.Join(dir, e.File))
		if err != nil {
			return nil, fmt.Errorf("%q: reading entry %q: %w", descriptorPath, e.Path, err)
		}
		entries = append(entries, &bundle.ModuleEntry{
			Path:              e.Path,
			Content:           bundle.MemoryContent(content),
			ForceUncompressed: e.ForceUncompressed,
			ShouldSign:        e.ShouldSign,
		})
	}

	return &bundle.ModuleSplit{
		ModuleName:       d.Module,
		SplitType:        splitType,
		IsMaster:         d.IsMaster,
		IsApex:           d.IsApex,
		Suffix:           d.Suffix,
		ApkTargeting:     d.ApkTargeting,
		VariantTargeting: d.VariantTargeting,
		Manifest:         d.Manifest,
		Entries:          entries,
	}, nil
}

func parseSplitType(s string) (bundle.SplitType, error) {
	switch s {
	case "", "SPLIT":
		return bundle.SplitTypeSplit, nil
	case "INSTANT":
		return bundle.SplitTypeInstant, nil
	case "STANDALONE":
		return bundle.SplitTypeStandalone, nil
	case "SYSTEM":
		return bundle.SplitTypeSystem, nil
	case "ASSET_SLICE":
		return bundle.SplitTypeAssetSlice, nil
	case "ARCHIVE":
		return bundle.SplitTypeArchive, nil
	default:
		return 0, fmt.Errorf("unknown split type %q", s)
	}
}
