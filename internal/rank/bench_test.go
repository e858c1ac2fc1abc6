package rank

import (
	"fmt"
	"testing"
)

func BenchmarkRank(b *testing.B) {
	const n, dims = 1000, 512
	candidates := make([]Candidate, n)
	for i := range candidates {
		vec := make([]float32, dims)
		vec[0] = float32(i) / n
		vec[i%dims] += 1
		candidates[i] = Candidate{Key: fmt.Sprintf("/photos/%04d.jpg", i), Vector: vec}
	}
	query := make([]float32, dims)
	query[0] = 1.0
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Rank(query, candidates, DefaultTopK)
	}
}
