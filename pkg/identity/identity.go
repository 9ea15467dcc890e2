/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package identity normalizes device-supplied identifiers into safe
// storage keys. Identifiers come from untrusted agents and may be
// absent, malformed, or hostile; Sanitize always yields a usable key.
package identity

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

const (
	fallbackPrefix = "unidentified_device_"

	unknownModel = "unknown_model"
	unknownName  = "unknown_device"

	// minRawIDLength matches the registration policy: anything shorter
	// is treated as missing and replaced with a derived identifier.
	minRawIDLength = 5
)

// degenerate identifiers that carry no identity at all. A sanitized
// result matching one of these is replaced with a generated fallback.
var degenerateIDs = map[string]struct{}{
	unknownModel + "_" + unknownName: {},
	unknownName + "_" + unknownModel: {},
	"_":                              {},
}

// fallbackSeq disambiguates fallbacks generated within the same
// microsecond by concurrent callers.
var fallbackSeq atomic.Uint64

// Sanitize maps an arbitrary identifier to a key matching
// [A-Za-z0-9_.-]+. Disallowed characters become underscores. Empty or
// degenerate results are replaced with a generated fallback, so the
// returned key is always non-empty.
func Sanitize(raw string) string {
	var b strings.Builder

	b.Grow(len(raw))

	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' || r == '-' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	key := b.String()
	if key == "" {
		return GenerateFallback()
	}

	if _, bad := degenerateIDs[strings.ToLower(key)]; bad {
		return GenerateFallback()
	}

	return key
}

// Acceptable reports whether a raw device identifier is usable as-is.
// Callers fall back to DeriveFromInfo when it is not.
func Acceptable(raw string) bool {
	return len(raw) >= minRawIDLength
}

// DeriveFromInfo builds a deterministic fallback identifier from the
// device model and name fields. Either may be empty.
func DeriveFromInfo(model, name string) string {
	if model == "" {
		model = unknownModel
	}

	if name == "" {
		name = unknownName
	}

	return model + "_" + name
}

// GenerateFallback produces a unique identifier for a device that
// supplied nothing usable. The microsecond timestamp keeps keys sortable;
// the sequence suffix guarantees distinctness under concurrent calls.
func GenerateFallback() string {
	now := time.Now()

	return fmt.Sprintf("%s%s%06d_%d",
		fallbackPrefix,
		now.Format("20060102150405"),
		now.Nanosecond()/1000,
		fallbackSeq.Add(1))
}

// PlaceholderForHandle derives a stable placeholder identifier for a
// connection whose session is already gone, e.g. a response racing a
// disconnect.
func PlaceholderForHandle(handle string) string {
	return Sanitize("sid_" + handle)
}
