// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embedding provides the content-addressed embedding cache and the
// bounded-concurrency batch provider the retrieval layer is built on.
package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// arabicToPersian maps Arabic codepoints that users (and copy-pasted shop
// listings) mix into Persian text onto their canonical Persian forms, and
// Arabic-Indic / Extended Arabic-Indic digits onto ASCII. Two strings that
// differ only by these variants must hash to the same cache key.
var arabicToPersian = map[rune]rune{
	'ي': 'ی', // ARABIC YEH → FARSI YEH
	'ى': 'ی', // ALEF MAKSURA → FARSI YEH
	'ك': 'ک', // ARABIC KAF → KEHEH
	'ة': 'ه', // TEH MARBUTA → HEH
	'أ': 'ا',
	'إ': 'ا',
	'ٱ': 'ا',

	'۰': '0', '۱': '1', '۲': '2', '۳': '3', '۴': '4',
	'۵': '5', '۶': '6', '۷': '7', '۸': '8', '۹': '9',
	'٠': '0', '١': '1', '٢': '2', '٣': '3', '٤': '4',
	'٥': '5', '٦': '6', '٧': '7', '٨': '8', '٩': '9',
}

// isRemovedRune reports runes dropped entirely during normalization:
// tatweel, Arabic diacritics, and the zero-width joiner.
func isRemovedRune(r rune) bool {
	if r == 'ـ' || r == '‍' || r == 'ٰ' {
		return true
	}
	// Arabic harakat block.
	return r >= 'ً' && r <= 'ٟ'
}

// Normalize canonicalizes a Persian/mixed-script text for cache addressing
// and matching.
//
// # Description
//
// The transformation is: Arabic letter/digit variants folded to Persian and
// ASCII forms, diacritics and tatweel stripped, zero-width non-joiner
// treated as a space, latin letters lowercased, and whitespace collapsed to
// single spaces with the ends trimmed. Normalization is idempotent:
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))

	prevSpace := false
	for _, r := range text {
		if isRemovedRune(r) {
			continue
		}
		if r == '‌' || unicode.IsSpace(r) {
			if !prevSpace {
				sb.WriteRune(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		if m, ok := arabicToPersian[r]; ok {
			r = m
		}
		sb.WriteRune(unicode.ToLower(r))
	}

	return strings.TrimSpace(sb.String())
}

// CacheKey derives the content-addressed cache key for a text under a given
// embedding model. The model name is part of the key so switching models
// never serves stale vectors — the old entries simply age out via TTL.
func CacheKey(text, model string) string {
	h := sha256.New()
	h.Write([]byte(Normalize(text)))
	h.Write([]byte{0})
	h.Write([]byte(model))
	return hex.EncodeToString(h.Sum(nil))
}
