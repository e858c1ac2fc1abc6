package models

// SearchResult is one ranked image.
type SearchResult struct {
	Path  string  `json:"path"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Query   string          `json:"query"`
	Mode    SearchMode      `json:"mode"`
	Model   string          `json:"model"`
	Results []*SearchResult `json:"results"`
	Total   int             `json:"total"`
	// Skipped counts cached vectors that could not be scored (degenerate or wrong dimension).
	Skipped   int   `json:"skipped,omitempty"`
	QueryTime int64 `json:"query_time_ms"`
}
