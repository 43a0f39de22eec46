package http

import (
	"github.com/fyrsmithlabs/ragdocs/internal/docstore"
	"github.com/fyrsmithlabs/ragdocs/internal/pipeline"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	docstore.Health
}

// SearchRequest is the request body for POST /api/v1/search. A missing
// limit uses the configured default; zero or less returns no matches.
type SearchRequest struct {
	Query string `json:"query"`
	Limit *int   `json:"limit,omitempty"`
}

// Match is one search hit. Similarity is present only for ranked matches.
type Match struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Metadata   docstore.Metadata `json:"metadata"`
	Distance   float64           `json:"distance"`
	Similarity *float64          `json:"similarity,omitempty"`
	Ranked     bool              `json:"ranked"`
}

// SearchResponse is the response body for POST /api/v1/search.
type SearchResponse struct {
	Query   string  `json:"query"`
	Count   int     `json:"count"`
	Matches []Match `json:"matches"`
}

// IngestRequest is the request body for POST /api/v1/ingest.
type IngestRequest struct {
	Documents []docstore.Record `json:"documents"`
}

// SyncRequest is the request body for POST /api/v1/sync. No sources means
// every enabled source.
type SyncRequest struct {
	Sources []string `json:"sources,omitempty"`
}

// SyncFailure is returned when the store aborts a sync. Report holds what
// was done before the failure.
type SyncFailure struct {
	Error  string          `json:"error"`
	Report pipeline.Report `json:"report"`
}

// AskRequest is the request body for POST /api/v1/ask.
type AskRequest struct {
	Question string `json:"question"`
	Mode     string `json:"mode,omitempty"`
}

func toMatches(in []docstore.ScoredMatch) []Match {
	out := make([]Match, 0, len(in))
	for _, m := range in {
		match := Match{
			ID:       m.ID,
			Content:  m.Content,
			Metadata: m.Metadata,
			Distance: m.Distance,
			Ranked:   m.Ranked(),
		}
		if sim, ok := m.Similarity(); ok {
			match.Similarity = &sim
		}
		out = append(out, match)
	}
	return out
}
