package cluster

import (
	"fmt"
	"math/rand"
)

// Louvain partitions the graph by greedy modularity maximisation: repeated
// local-moving passes over a seeded node order, followed by community
// aggregation, until modularity stops improving. Tie-breaking depends on the
// visit order, so different seeds may produce different (equally valid)
// partitions; a fixed seed is reproducible.
func Louvain(g *Graph, seed int64) (*Result, error) {
	if g.N() == 0 {
		return nil, fmt.Errorf("cluster: empty graph")
	}
	rng := rand.New(rand.NewSource(seed))

	// Working copy with self-loop support for aggregated levels.
	work := fromGraph(g)
	if work.m2 == 0 {
		// No edges at all: every node is its own community.
		labels := make([]int, g.N())
		for i := range labels {
			labels[i] = i
		}
		return &Result{K: g.N(), Labels: labels}, nil
	}

	// membership[i] is the community of original node i in the current level's
	// node numbering.
	membership := make([]int, g.N())
	for i := range membership {
		membership[i] = i
	}

	const minGain = 1e-9
	for {
		comm, improved := work.moveNodes(rng, minGain)
		if !improved {
			break
		}
		comm = compactRelabel(comm)
		for i, c := range membership {
			membership[i] = comm[c]
		}
		work = work.aggregate(comm)
		if work.n == 1 {
			break
		}
	}

	labels := compactRelabel(membership)
	k := 0
	for _, c := range labels {
		if c+1 > k {
			k = c + 1
		}
	}
	return &Result{K: k, Labels: labels}, nil
}

// lgraph is the Louvain working graph: adjacency with weights plus per-node
// self-loop weight accumulated by aggregation.
type lgraph struct {
	n    int
	adj  []map[int]float64
	self []float64
	m2   float64 // twice the total edge weight, self loops included
}

func fromGraph(g *Graph) *lgraph {
	lg := &lgraph{n: g.N(), adj: make([]map[int]float64, g.N()), self: make([]float64, g.N())}
	for i := 0; i < g.N(); i++ {
		lg.adj[i] = make(map[int]float64, len(g.adj[i]))
		for j, w := range g.adj[i] {
			lg.adj[i][j] = w
			lg.m2 += w
		}
	}
	return lg
}

func (lg *lgraph) degree(i int) float64 {
	d := lg.self[i] * 2
	for _, w := range lg.adj[i] {
		d += w
	}
	return d
}

// moveNodes runs local-moving passes until no node changes community,
// returning the community of each node and whether anything moved at all.
func (lg *lgraph) moveNodes(rng *rand.Rand, minGain float64) (comm []int, improved bool) {
	comm = make([]int, lg.n)
	tot := make([]float64, lg.n)
	deg := make([]float64, lg.n)
	for i := 0; i < lg.n; i++ {
		comm[i] = i
		deg[i] = lg.degree(i)
		tot[i] = deg[i]
	}

	order := rng.Perm(lg.n)
	for {
		moves := 0
		for _, i := range order {
			ci := comm[i]

			// Weights from i to each adjacent community.
			wTo := make(map[int]float64, len(lg.adj[i]))
			for j, w := range lg.adj[i] {
				wTo[comm[j]] += w
			}

			tot[ci] -= deg[i]

			best := ci
			bestGain := wTo[ci] - tot[ci]*deg[i]/lg.m2
			for c, w := range wTo {
				if c == ci {
					continue
				}
				gain := w - tot[c]*deg[i]/lg.m2
				if gain > bestGain+minGain {
					bestGain = gain
					best = c
				}
			}

			tot[best] += deg[i]
			if best != ci {
				comm[i] = best
				moves++
				improved = true
			}
		}
		if moves == 0 {
			break
		}
	}
	return comm, improved
}

// aggregate collapses communities into single nodes; intra-community weight
// becomes a self loop.
func (lg *lgraph) aggregate(comm []int) *lgraph {
	nc := 0
	for _, c := range comm {
		if c+1 > nc {
			nc = c + 1
		}
	}
	out := &lgraph{n: nc, adj: make([]map[int]float64, nc), self: make([]float64, nc), m2: lg.m2}
	for i := range out.adj {
		out.adj[i] = make(map[int]float64)
	}
	for i := 0; i < lg.n; i++ {
		ci := comm[i]
		out.self[ci] += lg.self[i]
		for j, w := range lg.adj[i] {
			cj := comm[j]
			if ci == cj {
				if i < j {
					out.self[ci] += w
				}
				continue
			}
			out.adj[ci][cj] += w
		}
	}
	return out
}

// compactRelabel renumbers community ids to a dense 0..k-1 range preserving
// first-appearance order.
func compactRelabel(comm []int) []int {
	remap := make(map[int]int, len(comm))
	out := make([]int, len(comm))
	for i, c := range comm {
		id, ok := remap[c]
		if !ok {
			id = len(remap)
			remap[c] = id
		}
		out[i] = id
	}
	return out
}
