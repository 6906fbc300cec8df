// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vectorindex

// =============================================================================
// HNSW Graph
// =============================================================================
//
// Hierarchical navigable small-world graph (Malkov & Yashunin 2016). Nodes
// are assigned exponentially-distributed levels; upper levels form a sparse
// routing skeleton and level 0 holds the full corpus. Search greedily
// descends the skeleton, then beam-searches level 0.
//
// Level assignment uses a fixed-seed PRNG so two builds over the same corpus
// produce the same graph. The memoizer keys indexes by corpus hash and tests
// assert on stable results, so determinism matters more than statistical
// independence between builds.

import (
	"container/heap"
	"math"
	"math/rand"
)

// distanceFunc is a lower-is-better vector distance.
type distanceFunc func(a, b []float32) float32

// candidate pairs a node index with its distance to the current query.
type candidate struct {
	node int
	dist float32
}

type hnswNode struct {
	// links[l] holds neighbor node indexes at level l. len(links) is the
	// node's level + 1.
	links [][]int
}

type hnswGraph struct {
	vectors    [][]float32 // shared with the owning Index, read-only
	dist       distanceFunc
	nodes      []hnswNode
	entryPoint int
	maxLevel   int

	connectivity int // M
	maxLinks     int // neighbor budget on upper levels
	maxLinks0    int // neighbor budget on level 0 (2M)
	buildBreadth int
}

// buildGraph constructs the HNSW graph over vectors. The caller guarantees
// vectors is non-empty and dimension-consistent.
func buildGraph(vectors [][]float32, opts Options, dist distanceFunc) *hnswGraph {
	g := &hnswGraph{
		vectors:      vectors,
		dist:         dist,
		nodes:        make([]hnswNode, len(vectors)),
		connectivity: opts.Connectivity,
		maxLinks:     opts.Connectivity,
		maxLinks0:    opts.Connectivity * 2,
		buildBreadth: opts.BuildBreadth,
	}

	rng := rand.New(rand.NewSource(1))
	levelMult := 1 / math.Log(float64(opts.Connectivity))

	for i := range vectors {
		level := int(-math.Log(rng.Float64()) * levelMult)
		g.nodes[i].links = make([][]int, level+1)
		g.insert(i, level)
	}
	return g
}

// insert wires node i (at the given level) into the graph.
func (g *hnswGraph) insert(i, level int) {
	if i == 0 {
		g.maxLevel = level
		g.entryPoint = 0
		return
	}
	query := g.vectors[i]

	// Greedy descent through levels above the new node's level.
	ep := g.entryPoint
	for l := g.maxLevel; l > level; l-- {
		ep = g.greedyStep(query, ep, l)
	}

	// Beam search and bidirectional linking at each level the node joins.
	for l := min(level, g.maxLevel); l >= 0; l-- {
		found := g.searchLayer(query, candidate{ep, g.dist(query, g.vectors[ep])}, g.buildBreadth, l)
		neighbors := selectClosest(found, g.connectivity)
		g.nodes[i].links[l] = make([]int, 0, len(neighbors))
		for _, n := range neighbors {
			g.nodes[i].links[l] = append(g.nodes[i].links[l], n.node)
			g.link(n.node, i, l)
		}
		if len(neighbors) > 0 {
			ep = neighbors[0].node
		}
	}

	if level > g.maxLevel {
		g.maxLevel = level
		g.entryPoint = i
	}
}

// link adds target to node's neighbor list at level l, pruning to the
// level's budget by keeping the closest links.
func (g *hnswGraph) link(node, target, l int) {
	links := append(g.nodes[node].links[l], target)
	budget := g.maxLinks
	if l == 0 {
		budget = g.maxLinks0
	}
	if len(links) > budget {
		cands := make([]candidate, len(links))
		for i, n := range links {
			cands[i] = candidate{n, g.dist(g.vectors[node], g.vectors[n])}
		}
		keep := selectClosest(cands, budget)
		links = links[:0]
		for _, c := range keep {
			links = append(links, c.node)
		}
	}
	g.nodes[node].links[l] = links
}

// search finds up to breadth candidates near query, best first.
func (g *hnswGraph) search(query []float32, breadth int) []candidate {
	ep := g.entryPoint
	for l := g.maxLevel; l > 0; l-- {
		ep = g.greedyStep(query, ep, l)
	}
	return g.searchLayer(query, candidate{ep, g.dist(query, g.vectors[ep])}, breadth, 0)
}

// greedyStep walks level l from ep, moving to the closest neighbor until no
// neighbor improves on the current node.
func (g *hnswGraph) greedyStep(query []float32, ep, l int) int {
	cur := ep
	curDist := g.dist(query, g.vectors[cur])
	for {
		improved := false
		for _, n := range g.linksAt(cur, l) {
			if d := g.dist(query, g.vectors[n]); d < curDist {
				cur, curDist = n, d
				improved = true
			}
		}
		if !improved {
			return cur
		}
	}
}

// searchLayer is the HNSW beam search at one level.
func (g *hnswGraph) searchLayer(query []float32, entry candidate, breadth, l int) []candidate {
	visited := make(map[int]bool, breadth*4)
	visited[entry.node] = true

	frontier := &minCandidateHeap{entry}
	best := &maxCandidateHeap{entry}

	for frontier.Len() > 0 {
		c := heap.Pop(frontier).(candidate)
		if best.Len() >= breadth && c.dist > (*best)[0].dist {
			break
		}
		for _, n := range g.linksAt(c.node, l) {
			if visited[n] {
				continue
			}
			visited[n] = true
			d := g.dist(query, g.vectors[n])
			if best.Len() < breadth || d < (*best)[0].dist {
				heap.Push(frontier, candidate{n, d})
				heap.Push(best, candidate{n, d})
				if best.Len() > breadth {
					heap.Pop(best)
				}
			}
		}
	}

	out := make([]candidate, best.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(best).(candidate)
	}
	return out
}

func (g *hnswGraph) linksAt(node, l int) []int {
	links := g.nodes[node].links
	if l >= len(links) {
		return nil
	}
	return links[l]
}

// selectClosest returns the m lowest-distance candidates, best first.
func selectClosest(cands []candidate, m int) []candidate {
	sorted := make([]candidate, len(cands))
	copy(sorted, cands)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].dist < sorted[j-1].dist; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	if len(sorted) > m {
		sorted = sorted[:m]
	}
	return sorted
}

// =============================================================================
// Heaps
// =============================================================================

type minCandidateHeap []candidate

func (h minCandidateHeap) Len() int           { return len(h) }
func (h minCandidateHeap) Less(i, j int) bool { return h[i].dist < h[j].dist }
func (h minCandidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minCandidateHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *minCandidateHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

type maxCandidateHeap []candidate

func (h maxCandidateHeap) Len() int           { return len(h) }
func (h maxCandidateHeap) Less(i, j int) bool { return h[i].dist > h[j].dist }
func (h maxCandidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxCandidateHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *maxCandidateHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}
