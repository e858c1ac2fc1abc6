package rank

import (
	"errors"
	"math"
	"testing"
)

func TestRank_deterministicExample(t *testing.T) {
	candidates := []Candidate{
		{"a", []float32{1, 0}},
		{"b", []float32{0, 1}},
		{"c", []float32{0.9, 0.1}},
	}
	got := Rank([]float32{1, 0}, candidates, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Key != "a" || math.Abs(got[0].Score-1.0) > 1e-9 {
		t.Errorf("first = %+v, want a/1.0", got[0])
	}
	want := 0.9 / math.Sqrt(0.82)
	if got[1].Key != "c" || math.Abs(got[1].Score-want) > 1e-6 {
		t.Errorf("second = %+v, want c/%.4f", got[1], want)
	}
	if math.Abs(got[1].Score-0.994) > 1e-3 {
		t.Errorf("c score = %v, want ~0.994", got[1].Score)
	}
}

func TestRank_truncation(t *testing.T) {
	candidates := []Candidate{
		{"1", []float32{1, 0}},
		{"2", []float32{1, 1}},
		{"3", []float32{0, 1}},
		{"4", []float32{-1, 1}},
		{"5", []float32{-1, 0}},
	}
	q := []float32{1, 0}
	tests := []struct {
		topK int
		want []string
	}{
		{3, []string{"1", "2", "3"}},
		{5, []string{"1", "2", "3", "4", "5"}},
		{100, []string{"1", "2", "3", "4", "5"}},
		{0, nil},
		{-1, nil},
	}
	for _, tt := range tests {
		got := Rank(q, candidates, tt.topK)
		if len(got) != len(tt.want) {
			t.Errorf("topK=%d: got %d results, want %d", tt.topK, len(got), len(tt.want))
			continue
		}
		for i := range got {
			if got[i].Key != tt.want[i] {
				t.Errorf("topK=%d: result %d = %s, want %s", tt.topK, i, got[i].Key, tt.want[i])
			}
		}
		for i := 1; i < len(got); i++ {
			if got[i].Score > got[i-1].Score {
				t.Errorf("topK=%d: not sorted at %d", tt.topK, i)
			}
		}
	}
}

func TestRank_degenerateExcluded(t *testing.T) {
	candidates := []Candidate{
		{"zero", []float32{0, 0}},
		{"ok", []float32{2, 0}},
		{"nan", []float32{float32(math.NaN()), 1}},
		{"inf", []float32{float32(math.Inf(1)), 0}},
		{"short", []float32{1}},
		{"empty", nil},
	}
	results, skips := RankWithSkips([]float32{1, 0}, candidates, 10)
	if len(results) != 1 || results[0].Key != "ok" {
		t.Fatalf("results = %+v, want only ok", results)
	}
	if len(skips) != 5 {
		t.Fatalf("skips = %+v, want 5", skips)
	}
	reasons := map[string]error{}
	for _, s := range skips {
		reasons[s.Key] = s.Err
	}
	var degenerate *DegenerateVectorError
	for _, k := range []string{"zero", "nan", "inf"} {
		if !errors.As(reasons[k], &degenerate) {
			t.Errorf("%s: expected DegenerateVectorError, got %v", k, reasons[k])
		}
	}
	var mismatch *DimensionMismatchError
	for _, k := range []string{"short", "empty"} {
		if !errors.As(reasons[k], &mismatch) {
			t.Errorf("%s: expected DimensionMismatchError, got %v", k, reasons[k])
		}
	}
}

func TestRank_tiesKeepCandidateOrder(t *testing.T) {
	candidates := []Candidate{
		{"/z.jpg", []float32{2, 2}},
		{"/a.jpg", []float32{2, 2}},
		{"/m.jpg", []float32{2, 2}},
	}
	got := Rank([]float32{1, 3}, candidates, 3)
	for i, want := range []string{"/z.jpg", "/a.jpg", "/m.jpg"} {
		if got[i].Key != want {
			t.Errorf("result %d = %s, want %s", i, got[i].Key, want)
		}
	}
}

func TestRank_emptyInputs(t *testing.T) {
	if got := Rank([]float32{1, 0}, nil, 5); len(got) != 0 {
		t.Errorf("no candidates: got %v", got)
	}
	if got := Rank([]float32{0, 0}, []Candidate{{"a", []float32{1, 0}}}, 5); len(got) != 0 {
		t.Errorf("zero query: got %v", got)
	}
	if got := Rank(nil, []Candidate{{"a", []float32{1, 0}}}, 5); got == nil {
		t.Error("expected empty non-nil slice")
	}
}

func TestRank_scoresBounded(t *testing.T) {
	got := Rank([]float32{0.3, 0.3, 0.3}, []Candidate{
		{"same", []float32{0.3, 0.3, 0.3}},
		{"opposite", []float32{-0.3, -0.3, -0.3}},
	}, 2)
	if got[0].Score > 1 || got[1].Score < -1 {
		t.Errorf("scores out of range: %+v", got)
	}
	if math.Abs(got[1].Score+1) > 1e-9 {
		t.Errorf("opposite score = %v, want -1", got[1].Score)
	}
}

func TestCosine(t *testing.T) {
	s, err := Cosine([]float32{1, 0}, []float32{0, 1})
	if err != nil || math.Abs(s) > 1e-12 {
		t.Errorf("orthogonal: %v, %v", s, err)
	}
	if _, err := Cosine([]float32{1, 0}, []float32{1}); err == nil {
		t.Error("expected mismatch error")
	}
	if _, err := Cosine([]float32{0, 0}, []float32{1, 0}); err == nil {
		t.Error("expected degenerate error")
	}
}
