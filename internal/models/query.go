// Package models defines the request and response types shared by the search
// engine, HTTP API, and CLI.
package models

import (
	"errors"
	"fmt"
)

// SearchMode says what kind of query produced a response.
type SearchMode string

const (
	ModeText  SearchMode = "text"
	ModeImage SearchMode = "image"
)

// ErrInvalidQuery is returned for queries that cannot be run as given.
var ErrInvalidQuery = errors.New("invalid query")

// SearchQuery is a search request: a text query or a query image, not both.
type SearchQuery struct {
	Query     string `json:"query,omitempty"`
	ImagePath string `json:"image_path,omitempty"`
	// TopK is the number of results wanted. Nil means the configured default;
	// zero or less yields an empty result.
	TopK *int `json:"top_k,omitempty"`
}

// IntPtr returns a pointer to n, for filling SearchQuery.TopK.
func IntPtr(n int) *int {
	return &n
}

// Mode returns ModeImage when an image path is set, otherwise ModeText.
func (q *SearchQuery) Mode() SearchMode {
	if q.ImagePath != "" {
		return ModeImage
	}
	return ModeText
}

// Validate rejects queries with both text and an image and fills in an absent
// TopK with defaultTopK. An explicit TopK is kept as given.
func (q *SearchQuery) Validate(defaultTopK int) error {
	if q.Query != "" && q.ImagePath != "" {
		return fmt.Errorf("%w: query and image_path are mutually exclusive", ErrInvalidQuery)
	}
	if q.TopK == nil {
		q.TopK = IntPtr(defaultTopK)
	}
	return nil
}

// Limit returns the requested number of results, or zero when TopK is unset.
func (q *SearchQuery) Limit() int {
	if q.TopK == nil {
		return 0
	}
	return *q.TopK
}
