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

import "fmt"

// Kind classifies a BuildError into one of the seven error kinds this
// core distinguishes, so callers can branch on failure category
// without string-matching messages.
type Kind int

const (
	KindInvalidBundle Kind = iota
	KindInvalidCommand
	KindInvalidDeviceSpec
	KindResourceCompilerFailure
	KindSigningFailure
	KindIoFailure
	KindInterrupted
)

func (k Kind) String() string {
	switch k {
	case KindInvalidBundle:
		return "InvalidBundle"
	case KindInvalidCommand:
		return "InvalidCommand"
	case KindInvalidDeviceSpec:
		return "InvalidDeviceSpec"
	case KindResourceCompilerFailure:
		return "ResourceCompilerFailure"
	case KindSigningFailure:
		return "SigningFailure"
	case KindIoFailure:
		return "IoFailure"
	case KindInterrupted:
		return "Interrupted"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// BuildError is the classified error type apkset.Build and the packages
// it drives return for the failures they categorize; the signer and the
// lower-level packages (zipkit, entrypack, compression) return plain
// errors. The Invalid* kinds carry a message meant for direct
// display to a user; the others carry an underlying cause (a
// child-process exit code, a cryptographic library error, an I/O
// error) that is attached for diagnostics but not reworded.
type BuildError struct {
	kind    Kind
	message string
	cause   error
}

func (e *BuildError) Kind() Kind { return e.kind }

func (e *BuildError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

func (e *BuildError) Unwrap() error { return e.cause }

func newErr(kind Kind, message string, cause error) *BuildError {
	return &BuildError{kind: kind, message: message, cause: cause}
}

// InvalidBundle reports a structural or semantic bundle invariant
// violation, fatal before any APK is written.
func InvalidBundle(format string, args ...interface{}) *BuildError {
	return newErr(KindInvalidBundle, fmt.Sprintf(format, args...), nil)
}

// InvalidCommand reports inconsistent user-supplied options.
func InvalidCommand(format string, args ...interface{}) *BuildError {
	return newErr(KindInvalidCommand, fmt.Sprintf(format, args...), nil)
}

// InvalidDeviceSpec reports a device spec that omits a dimension the
// bundle requires, or names a value outside the bundle's available set.
func InvalidDeviceSpec(format string, args ...interface{}) *BuildError {
	return newErr(KindInvalidDeviceSpec, fmt.Sprintf(format, args...), nil)
}

// ResourceCompilerFailure wraps a non-zero exit or timeout from the
// external resource-compiler child process.
func ResourceCompilerFailure(message string, cause error) *BuildError {
	return newErr(KindResourceCompilerFailure, message, cause)
}

// SigningFailure wraps a cryptographic library error.
func SigningFailure(message string, cause error) *BuildError {
	return newErr(KindSigningFailure, message, cause)
}

// IoFailure wraps an underlying I/O error.
func IoFailure(message string, cause error) *BuildError {
	return newErr(KindIoFailure, message, cause)
}

// Interrupted reports that the coordinator observed cancellation.
func Interrupted(message string) *BuildError {
	return newErr(KindInterrupted, message, nil)
}
