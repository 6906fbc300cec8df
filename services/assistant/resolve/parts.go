// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolve turns a noisy text mention into a catalog identifier.
//
// Resolution is progressive: exact equality first, then combinatorial
// substring narrowing over the mention's salient parts, then an embedding
// re-rank over whatever candidate pool survived, and finally a
// right-truncation prefix fallback for mentions that decompose into nothing
// usable. Every stage either settles the question or hands a smaller
// problem to the next one; no stage guesses.
package resolve

import (
	"regexp"
	"strings"

	"github.com/bazaryar/bazaryar/services/assistant/embedding"
)

// minPartRunes drops single-character fragments that match half the catalog.
const minPartRunes = 2

// stopwords are Persian function words that carry no catalog signal. The
// list is matched against normalized tokens, so only canonical forms appear.
var stopwords = map[string]bool{
	"و": true, "با": true, "از": true, "برای": true, "به": true,
	"که": true, "رو": true, "را": true, "یه": true, "یک": true,
	"این": true, "اون": true, "آن": true, "تا": true, "در": true,
	"هم": true, "ی": true, "می": true, "است": true, "هست": true,
	"میخوام": true, "خوام": true, "بده": true, "کن": true,
}

// codeMarkers introduce an explicit product code ("کد D14", "code ab12").
var codeMarkers = map[string]bool{"کد": true, "code": true}

// codeShape matches the code token itself when it appears without a marker.
var codeShape = regexp.MustCompile(`^[a-z]{1,3}-?\d{1,5}$`)

// decompose splits a mention into its ordered list of important parts.
//
// # Description
//
//	The mention is canonicalized (digit folding, Arabic variants, case),
//	tokenized on whitespace, and filtered: stopwords and sub-minimum tokens
//	drop out, duplicates keep only their first position. Product-code
//	markers and the code token that follows them are excluded from the
//	parts but returned separately; codes identify a row by themselves and
//	would otherwise poison substring narrowing.
//
// # Outputs
//
//   - parts: ordered, deduplicated salient tokens. May be empty.
//   - code: the extracted product code, or "" when the mention has none.
func decompose(mention string) (parts []string, code string) {
	tokens := strings.Fields(embedding.Normalize(mention))
	seen := map[string]bool{}

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if codeMarkers[tok] {
			if i+1 < len(tokens) {
				code = tokens[i+1]
				i++
			}
			continue
		}
		if code == "" && codeShape.MatchString(tok) {
			code = tok
			continue
		}
		if stopwords[tok] || len([]rune(tok)) < minPartRunes || seen[tok] {
			continue
		}
		seen[tok] = true
		parts = append(parts, tok)
	}
	return parts, code
}

// truncations returns the right-truncated prefixes of the mention, longest
// first, excluding the full mention itself. "کمد چهار کشو" yields
// ["کمد چهار", "کمد"]. Used by the fallback stage when decompose produced
// no parts at all.
func truncations(mention string) []string {
	tokens := strings.Fields(embedding.Normalize(mention))
	var out []string
	for n := len(tokens) - 1; n >= 1; n-- {
		out = append(out, strings.Join(tokens[:n], " "))
	}
	return out
}
