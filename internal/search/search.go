package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string `json:"id"`
	OwnerID   string `json:"ownerId"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	Published bool   `json:"published"`
}

// Query describes a search request. Results are scoped to notes the
// user owns plus published notes.
type Query struct {
	Text          string
	UserID        string
	PublishedOnly bool
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// NoteRecord is the data we index for a note.
type NoteRecord struct {
	ID        string `json:"id"`
	OwnerID   string `json:"ownerId"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Published bool   `json:"published"`
}
