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

// Package zipkit is this module's zip primitive: a writer and reader
// pair with explicit control over compression method, alignment,
// timestamps, and bit-exact record copying, in the spirit of
// android/soong/third_party/zip (exercised by android/soong/zip and
// android/soong/cmd/zip2zip) and of the manual End-Of-Central-Directory
// scanning technique used for Android signing block discovery.
//
// Unlike archive/zip, zipkit exposes the exact byte offset of each
// record as it is appended, which alignment padding needs, and a
// CopyRecord primitive that transfers a compressed payload from one
// archive to another without ever inflating it.
package zipkit

import (
	"time"
)

// Compression methods, matching the zip spec's values (and archive/zip's
// zip.Store / zip.Deflate constants).
const (
	Store   uint16 = 0
	Deflate uint16 = 8
)

// FixedModTime is the timestamp stamped on every record this module
// writes, so that output is byte-reproducible across runs regardless of
// when the build ran.
var FixedModTime = time.Date(2010, time.January, 1, 0, 0, 0, 0, time.Local)

// maxUint32 bounds record sizes; zip64 is out of scope, APK entries are
// never expected to exceed 4 GiB.
const maxUint32 = 1<<32 - 1

const (
	localFileHeaderSignature = 0x04034b50
	centralDirSignature      = 0x02014b50
	eocdSignature            = 0x06054b50

	localFileHeaderFixedLen = 30
	centralDirFixedLen      = 46
	eocdFixedLen            = 22
)
