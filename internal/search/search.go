package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	OwnerID string `json:"ownerId,omitempty"`
	Public  bool   `json:"public"`
}

// Query describes a search request. RequesterID scopes visibility:
// results include public scenes plus scenes owned by the requester.
type Query struct {
	Text        string
	RequesterID string
	Limit       int
	Offset      int
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

// SceneRecord is the data we index for a scene.
type SceneRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	OwnerID string `json:"ownerId"`
	Public  bool   `json:"public"`
}
