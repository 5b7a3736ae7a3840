package vector

import (
	"sort"
	"time"
)

// Neighbor is one nearest-neighbor hit. Position is the row of the vector in the
// generation that produced it and is meaningless across rebuilds.
type Neighbor struct {
	ID       string
	Distance float64
	Position int
}

// generation is one immutable, fully built snapshot of the index. It is never mutated
// after being published, so readers need no lock.
type generation struct {
	number    uint64
	dimension int
	builtAt   time.Time
	watermark int64
	ids       []string
	vectors   [][]float32
}

func (g *generation) size() int {
	if g == nil {
		return 0
	}
	return len(g.ids)
}

// search returns up to k rows ordered by ascending Euclidean distance (row order breaks ties).
func (g *generation) search(query []float32, k int) []Neighbor {
	if k <= 0 || len(g.ids) == 0 {
		return nil
	}
	scored := make([]Neighbor, len(g.ids))
	for i, vec := range g.vectors {
		scored[i] = Neighbor{ID: g.ids[i], Distance: L2Distance(query, vec), Position: i}
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Distance == scored[j].Distance {
			return scored[i].Position < scored[j].Position
		}
		return scored[i].Distance < scored[j].Distance
	})
	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k]
}
