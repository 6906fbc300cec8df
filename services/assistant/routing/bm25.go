// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

// =============================================================================
// BM25 Exemplar Index — Semantic Degradation Path
// =============================================================================
//
// When the embedding provider is down, the semantic scorer falls back to
// Okapi BM25 over the same exemplar corpus. One BM25 "document" per category
// is the concatenation of that category's exemplars. Lexical overlap is a
// weaker signal than embeddings, but it keeps the semantic slot occupied
// instead of absent during an outage.

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/bazaryar/bazaryar/services/assistant/embedding"
)

// BM25 tuning constants. Standard values recommended by Robertson et al.
const (
	// bm25K1 controls term frequency saturation. Higher = slower saturation.
	bm25K1 = 1.5

	// bm25B controls document length normalization. 0.75 is the standard
	// default.
	bm25B = 0.75
)

// bm25Doc holds one category's tokenized exemplar document.
type bm25Doc struct {
	category Category
	tf       map[string]int
	len      int
}

// BM25Index is a pre-built index over category exemplar documents.
//
// # Thread Safety
//
// Immutable after construction via BuildBM25Index. Safe for concurrent use.
type BM25Index struct {
	docs   []bm25Doc
	idf    map[string]float64
	avgLen float64
}

// BuildBM25Index constructs a BM25Index from per-category exemplar sets.
//
// Unknown category names in the input are skipped; an empty input returns a
// valid index that scores everything zero.
func BuildBM25Index(exemplars map[string][]string) *BM25Index {
	docs := make([]bm25Doc, 0, len(exemplars))
	totalLen := 0
	df := make(map[string]int)

	for name, texts := range exemplars {
		category, ok := ParseCategory(name)
		if !ok {
			continue
		}
		doc := buildExemplarDoc(category, texts)
		if doc.len == 0 {
			continue
		}
		docs = append(docs, doc)
		totalLen += doc.len
		for term := range doc.tf {
			df[term]++
		}
	}

	if len(docs) == 0 {
		return &BM25Index{idf: make(map[string]float64)}
	}

	n := len(docs)
	// Lucene-style add-one smoothing; the trailing +1 keeps IDF >= 1.
	idf := make(map[string]float64, len(df))
	for term, docFreq := range df {
		idf[term] = math.Log(float64(n+1)/float64(docFreq+1)) + 1.0
	}

	return &BM25Index{
		docs:   docs,
		idf:    idf,
		avgLen: float64(totalLen) / float64(n),
	}
}

// IsEmpty reports whether the index contains no category documents.
func (idx *BM25Index) IsEmpty() bool {
	return len(idx.docs) == 0
}

// Score computes a normalized BM25 score per category for the query.
//
// # Outputs
//
//   - map[Category]float64: Category → score in [0, 1], normalized by the
//     best-scoring category. Zero-score categories are omitted.
func (idx *BM25Index) Score(query string) map[Category]float64 {
	scores := make(map[Category]float64)
	if len(idx.docs) == 0 {
		return scores
	}
	queryTerms := tokenizeQuery(query)
	if len(queryTerms) == 0 {
		return scores
	}

	var maxScore float64
	for _, doc := range idx.docs {
		score := bm25Score(queryTerms, doc, idx.idf, idx.avgLen)
		if score > 0 {
			scores[doc.category] = score
			if score > maxScore {
				maxScore = score
			}
		}
	}
	if maxScore > 0 {
		for c := range scores {
			scores[c] /= maxScore
		}
	}
	return scores
}

// bm25Score computes the raw BM25 score for a single (query, doc) pair.
func bm25Score(queryTerms map[string]bool, doc bm25Doc, idf map[string]float64, avgLen float64) float64 {
	dl := float64(doc.len)
	var score float64

	for term := range queryTerms {
		tf, inDoc := doc.tf[term]
		if !inDoc {
			continue
		}
		termIDF, knownTerm := idf[term]
		if !knownTerm {
			continue
		}

		tfFloat := float64(tf)
		numerator := tfFloat * (bm25K1 + 1)
		lengthNorm := bm25K1 * (1.0 - bm25B + bm25B*dl/avgLen)
		score += termIDF * numerator / (tfFloat + lengthNorm)
	}
	return score
}

func buildExemplarDoc(category Category, texts []string) bm25Doc {
	tf := make(map[string]int)
	total := 0
	for _, text := range texts {
		for _, term := range tokenize(text) {
			tf[term]++
			total++
		}
	}
	return bm25Doc{category: category, tf: tf, len: total}
}

// tokenize canonicalizes text and splits it into terms of at least two
// runes. Persian morphology is left alone; exemplars and queries share the
// same colloquial register, so surface forms line up well enough.
func tokenize(text string) []string {
	fields := strings.Fields(embedding.Normalize(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

func tokenizeQuery(query string) map[string]bool {
	set := make(map[string]bool)
	for _, term := range tokenize(query) {
		set[term] = true
	}
	return set
}
