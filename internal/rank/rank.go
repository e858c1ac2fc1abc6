// Package rank orders cached vectors by cosine similarity to a query vector.
package rank

import (
	"fmt"
	"sort"

	"github.com/hyperjump/gazou/pkg/utils"
)

// DefaultTopK is the number of results returned when the caller does not ask for
// a specific count.
const DefaultTopK = 20

// Candidate is a stored vector eligible for ranking.
type Candidate struct {
	Key    string
	Vector []float32
}

// Result is one ranked candidate. Score is the cosine similarity in [-1, 1].
type Result struct {
	Key   string  `json:"path"`
	Score float64 `json:"score"`
}

// DegenerateVectorError marks a vector that cannot be normalized: empty, zero
// norm, or with a NaN or infinite component.
type DegenerateVectorError struct {
	Key string
}

func (e *DegenerateVectorError) Error() string {
	return fmt.Sprintf("degenerate vector for %q: cannot normalize", e.Key)
}

// DimensionMismatchError marks a candidate whose length differs from the query.
type DimensionMismatchError struct {
	Key       string
	Got, Want int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch for %q: got %d, want %d", e.Key, e.Got, e.Want)
}

// Skip is a candidate left out of the ranking and the reason why.
type Skip struct {
	Key string
	Err error
}

// Rank scores every candidate against query and returns the best topK in
// descending score order. Candidates that cannot be scored are left out.
func Rank(query []float32, candidates []Candidate, topK int) []Result {
	results, _ := RankWithSkips(query, candidates, topK)
	return results
}

// RankWithSkips is Rank that also reports the candidates it skipped. Ties keep
// candidate order. topK <= 0, no candidates, or a degenerate query give an empty
// result.
func RankWithSkips(query []float32, candidates []Candidate, topK int) ([]Result, []Skip) {
	if len(candidates) == 0 || topK <= 0 {
		return []Result{}, nil
	}
	q, ok := utils.NormalizeL2(query)
	if !ok {
		return []Result{}, nil
	}

	var skips []Skip
	scored := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Vector) != len(q) {
			skips = append(skips, Skip{Key: c.Key, Err: &DimensionMismatchError{Key: c.Key, Got: len(c.Vector), Want: len(q)}})
			continue
		}
		v, ok := utils.NormalizeL2(c.Vector)
		if !ok {
			skips = append(skips, Skip{Key: c.Key, Err: &DegenerateVectorError{Key: c.Key}})
			continue
		}
		scored = append(scored, Result{Key: c.Key, Score: dot(q, v)})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topK < len(scored) {
		scored = scored[:topK]
	}
	return scored, skips
}

// Cosine returns the cosine similarity of a and b.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{Got: len(b), Want: len(a)}
	}
	na, ok := utils.NormalizeL2(a)
	if !ok {
		return 0, &DegenerateVectorError{}
	}
	nb, ok := utils.NormalizeL2(b)
	if !ok {
		return 0, &DegenerateVectorError{}
	}
	return dot(na, nb), nil
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	// rounding can push unit vectors slightly past the bounds
	if sum > 1 {
		return 1
	}
	if sum < -1 {
		return -1
	}
	return sum
}
