// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package params implements the dynamic parameter model shared by stored
// queries and connectors.
//
// Parameters are decoded JSON values (map[string]any, []any, scalars).
// Three operations are provided:
//
//   - DeepMerge: recursive merge of override maps onto stored parameters
//   - Resolve: {placeholder} substitution in string leaves
//   - Canonical: deterministic, key-sorted encoding used for cache
//     fingerprints
//
// All functions are pure; inputs are never mutated.
package params

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// placeholderPattern matches {name} tokens inside string values.
// Names are limited to identifier characters so literal braces in
// upstream query syntax pass through untouched.
var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// UnresolvedError reports placeholder tokens that had no substitution
// value. It is a caller error: the request must not be retried.
type UnresolvedError struct {
	// Missing holds the placeholder names, sorted and deduplicated.
	Missing []string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("unresolved parameter placeholders: %s", strings.Join(e.Missing, ", "))
}

// DeepMerge merges override onto base and returns a new map.
//
// Merge rules follow the stored-query override contract:
//   - nested maps merge recursively
//   - scalars and arrays in override replace the base value wholesale
//   - keys absent from override are left untouched
//
// Inputs:
//
//	base - Stored parameters. May be nil.
//	override - Caller overrides. May be nil.
//
// Outputs:
//
//	map[string]any - Freshly allocated merged map. Never nil.
func DeepMerge(base, override map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = cloneValue(v)
	}
	for k, v := range override {
		bv, ok := merged[k]
		baseMap, baseIsMap := bv.(map[string]any)
		overMap, overIsMap := v.(map[string]any)
		if ok && baseIsMap && overIsMap {
			merged[k] = DeepMerge(baseMap, overMap)
			continue
		}
		merged[k] = cloneValue(v)
	}
	return merged
}

// Resolve substitutes {placeholder} tokens in every string leaf of the
// merged parameter map.
//
// Substitution values come from top-level scalar entries of the map
// itself: a leaf "{state_code}" is replaced by the value of the
// top-level key "state_code". Consumed keys are removed from the result
// so they do not leak into the upstream request. A token whose name has
// no top-level scalar value yields an *UnresolvedError listing every
// missing name at once.
//
// A value that is exactly one token adopts the substitution value with
// its type intact; tokens embedded in longer strings are replaced by
// their string form.
func Resolve(merged map[string]any) (map[string]any, error) {
	values := make(map[string]any)
	for k, v := range merged {
		switch v.(type) {
		case string, float64, int, int64, bool, json.Number:
			values[k] = v
		}
	}

	consumed := make(map[string]bool)
	missing := make(map[string]bool)

	var walk func(v any) any
	walk = func(v any) any {
		switch tv := v.(type) {
		case map[string]any:
			out := make(map[string]any, len(tv))
			for k, inner := range tv {
				out[k] = walk(inner)
			}
			return out
		case []any:
			out := make([]any, len(tv))
			for i, inner := range tv {
				out[i] = walk(inner)
			}
			return out
		case string:
			return substituteString(tv, values, consumed, missing)
		default:
			return v
		}
	}

	resolved := make(map[string]any, len(merged))
	for k, v := range merged {
		resolved[k] = walk(v)
	}

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, &UnresolvedError{Missing: names}
	}

	for name := range consumed {
		delete(resolved, name)
	}
	return resolved, nil
}

// substituteString replaces tokens in a single string leaf.
// A leaf that is exactly one token keeps the replacement value's type.
func substituteString(s string, values map[string]any, consumed, missing map[string]bool) any {
	matches := placeholderPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return s
	}

	if m := placeholderPattern.FindStringSubmatch(s); m != nil && m[0] == s {
		name := m[1]
		val, ok := values[name]
		if !ok {
			missing[name] = true
			return s
		}
		// Self-reference would loop forever; treat as literal.
		if sv, isStr := val.(string); isStr && sv == s {
			return s
		}
		consumed[name] = true
		return val
	}

	return placeholderPattern.ReplaceAllStringFunc(s, func(tok string) string {
		name := tok[1 : len(tok)-1]
		val, ok := values[name]
		if !ok {
			missing[name] = true
			return tok
		}
		consumed[name] = true
		return scalarString(val)
	})
}

func scalarString(v any) string {
	switch tv := v.(type) {
	case string:
		return tv
	case float64:
		if tv == math.Trunc(tv) && math.Abs(tv) < 1e15 {
			return strconv.FormatInt(int64(tv), 10)
		}
		return strconv.FormatFloat(tv, 'g', -1, 64)
	case json.Number:
		return tv.String()
	case bool:
		return strconv.FormatBool(tv)
	case int:
		return strconv.Itoa(tv)
	case int64:
		return strconv.FormatInt(tv, 10)
	default:
		return fmt.Sprintf("%v", tv)
	}
}

// Canonical encodes a value deterministically for fingerprinting.
//
// Map keys are emitted in sorted order at every nesting level, so two
// maps with permuted insertion order produce identical bytes. The
// encoding is stable across process restarts because it depends only on
// the value, never on object identity.
func Canonical(v any) ([]byte, error) {
	var b strings.Builder
	if err := writeCanonical(&b, v); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func writeCanonical(b *strings.Builder, v any) error {
	switch tv := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(tv))
		for k := range tv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			b.Write(kb)
			b.WriteByte(':')
			if err := writeCanonical(b, tv[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
		return nil
	case []any:
		b.WriteByte('[')
		for i, inner := range tv {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, inner); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil
	default:
		eb, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("canonical encode: %w", err)
		}
		b.Write(eb)
		return nil
	}
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, inner := range tv {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, inner := range tv {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}
