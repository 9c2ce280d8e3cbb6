package search

// Result is a single governance-log search hit.
type Result struct {
	ID             string `json:"id"`
	StepID         string `json:"stepId"`
	EntryType      string `json:"entryType"`
	Summary        string `json:"summary"`
	Snippet        string `json:"snippet"`
	Actor          string `json:"actor,omitempty"`
	MemoryAnchorID string `json:"memoryAnchorId,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text            string
	FilterEntryType string // empty = all types
	FilterStepID    string
	Limit           int
	Offset          int
}

// Response is the envelope returned by the search endpoint. Source reports
// which backend served the query.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// Searcher can execute a governance-log search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// EntryRecord is the data we index for a governance-log entry.
type EntryRecord struct {
	ID             string `json:"id"`
	StepID         string `json:"stepId"`
	EntryType      string `json:"entryType"`
	Summary        string `json:"summary"`
	Actor          string `json:"actor"`
	MemoryAnchorID string `json:"memoryAnchorId"`
}
