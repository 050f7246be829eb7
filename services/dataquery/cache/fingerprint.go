// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/AleutianAI/AleutianData/pkg/params"
)

// Fingerprint digests a resolved request into a stable cache key.
//
// The digest covers the source, the resolved parameters and the
// response format, over a canonical key-sorted encoding. Two calls with
// value-equal inputs always produce the same fingerprint, across map
// insertion orders and process restarts.
func Fingerprint(sourceID string, parameters map[string]any, format string) (string, error) {
	canonical, err := params.Canonical(map[string]any{
		"source_id":  sourceID,
		"parameters": parameters,
		"format":     format,
	})
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", sourceID, err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
