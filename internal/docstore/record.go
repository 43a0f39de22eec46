package docstore

import "time"

// Source values recognised by the fetchers. The store keeps the value as
// opaque metadata.
const (
	SourceNotion      = "notion"
	SourceGoogleDrive = "google_drive"
	SourceDiscord     = "discord"
	SourceTestData    = "test_data"
	SourceFiles       = "files"
)

// Unranked is the distance reported for keyword matches.
const Unranked = -1.0

// Record is one document handed to Ingest.
type Record struct {
	Content string `json:"content"`
	Source  string `json:"source"`
	Title   string `json:"title"`
	Type    string `json:"type"`
}

// Metadata is stored alongside each indexed entry.
type Metadata struct {
	Source string `json:"source"`
	Title  string `json:"title"`
	Type   string `json:"type"`
}

// ScoredMatch is a search hit. Distance is the cosine distance for ranked
// matches and Unranked for keyword matches.
type ScoredMatch struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
	Distance float64  `json:"distance"`
}

// Ranked reports whether Distance came from a vector comparison.
func (m ScoredMatch) Ranked() bool { return m.Distance != Unranked }

// Similarity returns 1 - distance. It is only meaningful for ranked matches
// over normalised embeddings, so the second value is false otherwise.
func (m ScoredMatch) Similarity() (float64, bool) {
	if !m.Ranked() {
		return 0, false
	}
	return 1 - m.Distance, true
}

// IngestResult summarises an Ingest call.
type IngestResult struct {
	Added int `json:"added"`
	// Skipped counts records whose truncated content was blank.
	Skipped int `json:"skipped"`
	// ZeroVector counts added entries whose batch failed to embed. They are
	// stored unembedded and rank last in vector search.
	ZeroVector   int  `json:"zero_vector"`
	Deduplicated int  `json:"deduplicated"`
	Cancelled    bool `json:"cancelled"`
}

// Merge adds o's counts to r.
func (r *IngestResult) Merge(o IngestResult) {
	r.Added += o.Added
	r.Skipped += o.Skipped
	r.ZeroVector += o.ZeroVector
	r.Deduplicated += o.Deduplicated
	r.Cancelled = r.Cancelled || o.Cancelled
}

// StatsStatus is the outcome reported by Stats.
type StatsStatus string

const (
	StatsSuccess StatsStatus = "success"
	StatsEmpty   StatsStatus = "empty"
	StatsError   StatsStatus = "error"
)

// Stats is the result of Store.Stats.
type Stats struct {
	TotalDocuments int         `json:"total_documents"`
	Status         StatsStatus `json:"status"`
}

// Health describes the store for operators.
type Health struct {
	State               State     `json:"state"`
	Persistent          bool      `json:"persistent"`
	EmbeddingsAvailable bool      `json:"embeddings_available"`
	Model               string    `json:"model"`
	Dimension           int       `json:"dimension"`
	Documents           int       `json:"documents"`
	OpenedAt            time.Time `json:"opened_at"`
}
