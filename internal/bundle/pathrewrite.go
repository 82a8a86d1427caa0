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

package bundle

import "strings"

// RewriteApkPath maps an in-bundle path to its in-APK path per spec
// §4.E step 2. It is total (every input produces an output). It is
// idempotent (applying it to its own output is a no-op) for every path
// except a root/ path whose remainder itself starts with a recognized
// prefix: root/dex/classes.dex rewrites to dex/classes.dex, which a
// second application rewrites to classes.dex.
func RewriteApkPath(path string) string {
	switch {
	case strings.HasPrefix(path, "dex/"):
		rest := strings.TrimPrefix(path, "dex/")
		if !strings.Contains(rest, "/") && strings.HasSuffix(rest, ".dex") {
			return rest
		}
		return path
	case strings.HasPrefix(path, "root/"):
		return strings.TrimPrefix(path, "root/")
	case strings.HasPrefix(path, "manifest/"):
		rest := strings.TrimPrefix(path, "manifest/")
		if !strings.Contains(rest, "/") && strings.HasSuffix(rest, ".xml") {
			return rest
		}
		return path
	case strings.HasPrefix(path, "apex/"):
		switch {
		case strings.HasSuffix(path, ".img"):
			return "apex_payload.img"
		case strings.HasSuffix(path, ".pb"):
			return "apex_build_info.pb"
		}
		return path
	default:
		return path
	}
}

// ReservedManifestPath is the on-device name of the binary manifest
// entry (§4.C step 3d).
const ReservedManifestPath = "AndroidManifest.xml"

// ReservedResourceTablePath is the on-device name of the binary
// resource table entry (§4.C step 3d, §4.E step 2's resources.arsc
// rewrite).
const ReservedResourceTablePath = "resources.arsc"
