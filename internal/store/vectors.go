package store

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"github.com/coder/hnsw"
)

// exactSearchLimit is the live-vector count up to which search scans every
// vector instead of walking the graph. Small indexes get exact results.
const exactSearchLimit = 2048

// vectorIndex serves one scope. Rows are keyed by their SQLite integer key;
// graph keys are allocated monotonically and old nodes are orphaned rather
// than deleted, because coder/hnsw misbehaves when the last node of a layer
// is removed.
type vectorIndex struct {
	dims  int
	graph *hnsw.Graph[uint64]

	rowToNode map[int64]uint64
	nodeToRow map[uint64]int64
	vectors   map[int64][]float32 // normalized, by row
	nextNode  uint64
}

type scoredRow struct {
	row   int64
	score float64
}

func newVectorIndex(dims int) *vectorIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 64
	graph.Ml = 0.25
	return &vectorIndex{
		dims:      dims,
		graph:     graph,
		rowToNode: make(map[int64]uint64),
		nodeToRow: make(map[uint64]int64),
		vectors:   make(map[int64][]float32),
	}
}

// put inserts or replaces the vector for row. Zero vectors are not
// indexed since they have no direction.
func (v *vectorIndex) put(row int64, vec []float32) {
	v.remove(row)
	normalized := normalized(vec)
	if normalized == nil {
		return
	}

	node := v.nextNode
	v.nextNode++
	v.graph.Add(hnsw.MakeNode(node, normalized))
	v.rowToNode[row] = node
	v.nodeToRow[node] = row
	v.vectors[row] = normalized
}

func (v *vectorIndex) remove(row int64) {
	node, ok := v.rowToNode[row]
	if !ok {
		return
	}
	delete(v.rowToNode, row)
	delete(v.nodeToRow, node)
	delete(v.vectors, row)
}

func (v *vectorIndex) len() int { return len(v.vectors) }

func (v *vectorIndex) orphans() int { return v.graph.Len() - len(v.vectors) }

// compact rebuilds the graph from live vectors once orphans outnumber them.
func (v *vectorIndex) compact() {
	if v.orphans() <= len(v.vectors) || v.orphans() < 64 {
		return
	}
	live := v.vectors
	fresh := newVectorIndex(v.dims)
	for row, vec := range live {
		fresh.put(row, vec)
	}
	*v = *fresh
}

// search returns up to k rows by descending cosine similarity. Every row
// scoring equal to the k-th is kept, so callers can break ties on data
// the index does not have.
func (v *vectorIndex) search(query []float32, k int) []scoredRow {
	if k <= 0 || len(v.vectors) == 0 {
		return nil
	}
	q := normalized(query)
	if q == nil {
		return nil
	}

	var scored []scoredRow
	if len(v.vectors) <= exactSearchLimit {
		scored = make([]scoredRow, 0, len(v.vectors))
		for row, vec := range v.vectors {
			scored = append(scored, scoredRow{row: row, score: dot(q, vec)})
		}
	} else {
		// Ask for extra nodes to make up for orphans and ties.
		want := min(v.graph.Len(), k*2+v.orphans())
		for _, node := range v.graph.Search(q, want) {
			row, ok := v.nodeToRow[node.Key]
			if !ok {
				continue
			}
			scored = append(scored, scoredRow{row: row, score: dot(q, v.vectors[row])})
		}
	}

	slices.SortFunc(scored, func(a, b scoredRow) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.row, b.row)
	})
	if len(scored) <= k {
		return scored
	}
	cut := k
	for cut < len(scored) && scored[cut].score == scored[k-1].score {
		cut++
	}
	return scored[:cut]
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// normalized returns a unit-length copy of vec, or nil for a zero vector.
func normalized(vec []float32) []float32 {
	var sumSquares float64
	for _, x := range vec {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return nil
	}
	inv := 1 / math.Sqrt(sumSquares)
	out := make([]float32, len(vec))
	for i, x := range vec {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

// encodeVector packs vec as little-endian float32.
func encodeVector(vec []float32) []byte {
	if vec == nil {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, x := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec, nil
}

// checkDims validates every vector before anything is written.
func checkDims(dims int, field string, vecs ...[]float32) error {
	for _, vec := range vecs {
		if len(vec) != dims {
			return ErrDimensionMismatch{Expected: dims, Got: len(vec), Field: field}
		}
	}
	return nil
}
