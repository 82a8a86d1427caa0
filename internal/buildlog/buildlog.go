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

// Package buildlog is this module's leveled logger: a thin wrapper
// around a stdlib *log.Logger with a Verbose level gated by a flag, in
// the public shape of android/soong/ui/logger as used from
// cmd/multiproduct_kati/main.go (log.Println, log.Verbosef, log.Fatalf).
// That package's own implementation did not survive retrieval into this
// pack, so the shape below is rebuilt from its call sites rather than
// copied.
package buildlog

import (
	"log"
	"os"
)

// Logger is a leveled wrapper around the stdlib logger. The zero value
// has no underlying logger and is not usable; construct one with New.
type Logger struct {
	std     *log.Logger
	verbose bool
}

// New returns a Logger writing to os.Stderr with verbose logging
// enabled iff verbose is true.
func New(verbose bool) *Logger {
	return &Logger{std: log.New(os.Stderr, "", log.LstdFlags), verbose: verbose}
}

// Println logs an always-on informational line.
func (l *Logger) Println(v ...interface{}) {
	l.std.Println(v...)
}

// Printf logs an always-on informational line.
func (l *Logger) Printf(format string, v ...interface{}) {
	l.std.Printf(format, v...)
}

// Verbose logs a line only when verbose output is enabled.
func (l *Logger) Verbose(v ...interface{}) {
	if l.verbose {
		l.std.Println(v...)
	}
}

// Verbosef logs a formatted line only when verbose output is enabled.
func (l *Logger) Verbosef(format string, v ...interface{}) {
	if l.verbose {
		l.std.Printf(format, v...)
	}
}

// Fatalf logs a formatted line and exits the process with status 1, for
// CLI-fatal errors the programmatic API never raises on its own behalf.
func (l *Logger) Fatalf(format string, v ...interface{}) {
	l.std.Fatalf(format, v...)
}

// SetVerbose toggles verbose output after construction, for CLI flags
// parsed after the logger is created.
func (l *Logger) SetVerbose(verbose bool) {
	l.verbose = verbose
}

// Default is a package-level Logger usable by code that has no build
// object to hang a Logger field off of, mirroring android/soong/ui/logger's
// package-level convenience functions.
var Default = New(false)

// Verbosef logs through Default.
func Verbosef(format string, v ...interface{}) {
	Default.Verbosef(format, v...)
}

// Printf logs through Default.
func Printf(format string, v ...interface{}) {
	Default.Printf(format, v...)
}
