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

const idxNotes = "emberpad_notes"

// Meili implements Searcher and note indexing via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the notes index.
// Returns a client that keeps retrying in the background if the initial
// connection fails.
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
		Uid:        idxNotes,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxNotes, err)
	}

	index := m.client.Index(idxNotes)
	filterable := []interface{}{"ownerId", "published"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxNotes, err)
	}
	searchable := []string{"title", "content"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxNotes, err)
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

// Search queries the notes index scoped to the requesting user's own
// notes plus anything published.
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
		AttributesToHighlight: []string{"*"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}

	if q.PublishedOnly {
		sr.Filter = "published = true"
	} else {
		sr.Filter = fmt.Sprintf("ownerId = %q OR published = true", q.UserID)
	}

	resp, err := m.client.Index(idxNotes).Search(q.Text, sr)
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
		ID:      decodeString(hit, "id"),
		OwnerID: decodeString(hit, "ownerId"),
		Title:   firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title")),
		Snippet: firstNonBlank(decodeFormattedString(hit, "content"), snippetOf(decodeString(hit, "content"))),
	}
	if raw, ok := hit["published"]; ok {
		json.Unmarshal(raw, &r.Published)
	}
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

// snippetOf truncates content for display when no highlight is available.
func snippetOf(content string) string {
	const max = 160
	content = strings.TrimSpace(content)
	if len(content) <= max {
		return content
	}
	return content[:max] + "…"
}

// IndexNote adds or updates a note in the search index.
func (m *Meili) IndexNote(n NoteRecord) error {
	_, err := m.client.Index(idxNotes).AddDocuments([]NoteRecord{n}, nil)
	return err
}

// DeleteNote removes a note from the search index.
func (m *Meili) DeleteNote(id string) error {
	_, err := m.client.Index(idxNotes).DeleteDocument(id, nil)
	return err
}

// IndexNotes bulk-indexes notes.
func (m *Meili) IndexNotes(notes []NoteRecord) error {
	if len(notes) == 0 {
		return nil
	}
	_, err := m.client.Index(idxNotes).AddDocuments(notes, nil)
	return err
}
