// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

// =============================================================================
// Bounded Combination Enumeration
// =============================================================================

// combinationSizes is the order in which part-combination sizes are tried.
// Three parts is usually specific enough to narrow far without over-
// constraining; four tightens further when three left the pool large; two
// and one are last resorts that only matter for short mentions.
var combinationSizes = []int{3, 4, 2, 1}

// maxCombinationsPerSize caps how many combinations of one size are ever
// queried. Long mentions would otherwise explode: C(12,3) alone is 220
// catalog queries.
const maxCombinationsPerSize = 40

// forEachCombination enumerates k-element index combinations of [0,n) in
// lexicographic order, visiting at most limit of them. The visit callback
// receives a reused slice; it must not retain it. Returning false from
// visit stops the enumeration early.
func forEachCombination(n, k, limit int, visit func(idx []int) bool) {
	if k <= 0 || k > n || limit <= 0 {
		return
	}
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}

	for count := 0; count < limit; count++ {
		if !visit(idx) {
			return
		}
		// Advance to the next lexicographic combination.
		i := k - 1
		for i >= 0 && idx[i] == n-k+i {
			i--
		}
		if i < 0 {
			return
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}

// partsAt materializes the parts selected by an index combination.
func partsAt(parts []string, idx []int) []string {
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = parts[j]
	}
	return out
}
