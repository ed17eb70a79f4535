// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

// Package reduce orchestrates the reduction pipeline: it extracts the
// instrument geometry from an open container, drives a geometry session
// through the reduction operations, applies the per-operation default
// ranges, and persists results back into the container.
package reduce

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cea-dtc/saxsnx/geometry"
)

// ErrNotReady reports a reduction invoked before the session was
// stitched.
var ErrNotReady = geometry.ErrNotStitched

// A ConfigError reports missing or unusable instrument metadata.  The
// file cannot be reduced; nothing proceeds with partial geometry.
type ConfigError struct {
	File   string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("reduce: %s: %s: %s", e.File, e.Field, e.Reason)
}

// BatchError collects per-file failures from a batch operation, keyed
// by file path.  Files that succeeded are absent.
type BatchError map[string]error

func (e BatchError) Error() string {
	paths := make([]string, 0, len(e))
	for p := range e {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	var b strings.Builder
	fmt.Fprintf(&b, "%d file(s) failed:", len(e))
	for _, p := range paths {
		fmt.Fprintf(&b, "\n  %s: %v", p, e[p])
	}
	return b.String()
}

// orNil returns the error only when at least one file failed.
func (e BatchError) orNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}
