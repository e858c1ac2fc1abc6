package search

import (
	"strings"

	"github.com/hyperjump/gazou/internal/config"
	"github.com/hyperjump/gazou/internal/models"
	"github.com/hyperjump/gazou/internal/rank"
)

// ProcessQuery validates the query, trims the text, and applies top-k defaults.
func ProcessQuery(query *models.SearchQuery, cfg *config.SearchConfig) error {
	query.Query = strings.TrimSpace(query.Query)
	query.ImagePath = strings.TrimSpace(query.ImagePath)
	defaultTopK := cfg.DefaultTopK
	if defaultTopK <= 0 {
		defaultTopK = rank.DefaultTopK
	}
	return query.Validate(defaultTopK)
}
