package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxGovernance = "wombat_governance"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the governance index.
// The caller proceeds on the fallback when the instance is unreachable; the
// health loop flips the flag back once it recovers.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxGovernance,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxGovernance, err)
	}

	index := m.client.Index(idxGovernance)
	filterable := []interface{}{"stepId", "entryType"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxGovernance, err)
	}
	searchable := []string{"summary", "actor"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxGovernance, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the governance index.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	sr := &meili.SearchRequest{
		Limit:                 limit,
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"summary"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	var filters []string
	if q.FilterEntryType != "" {
		filters = append(filters, fmt.Sprintf("entryType = %q", q.FilterEntryType))
	}
	if q.FilterStepID != "" {
		filters = append(filters, fmt.Sprintf("stepId = %q", q.FilterStepID))
	}
	if len(filters) > 0 {
		sr.Filter = filters
	}

	resp, err := m.client.Index(idxGovernance).Search(q.Text, sr)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		ID:             decodeString(hit, "id"),
		StepID:         decodeString(hit, "stepId"),
		EntryType:      decodeString(hit, "entryType"),
		Summary:        decodeString(hit, "summary"),
		Actor:          decodeString(hit, "actor"),
		MemoryAnchorID: decodeString(hit, "memoryAnchorId"),
	}
	r.Snippet = firstNonBlank(decodeFormattedString(hit, "summary"), r.Summary)
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexEntry adds or updates one governance entry in the search index.
func (m *Meili) IndexEntry(entry EntryRecord) error {
	_, err := m.client.Index(idxGovernance).AddDocuments([]EntryRecord{entry}, nil)
	return err
}

// IndexEntries bulk-indexes governance entries.
func (m *Meili) IndexEntries(entries []EntryRecord) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := m.client.Index(idxGovernance).AddDocuments(entries, nil)
	return err
}

// DeleteEntry removes a governance entry from the search index.
func (m *Meili) DeleteEntry(id string) error {
	_, err := m.client.Index(idxGovernance).DeleteDocument(id, nil)
	return err
}
