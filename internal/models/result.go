package models

// SearchResult is a single neighbor of the query image.
type SearchResult struct {
	ID       string  `json:"id"`
	URL      string  `json:"url"`
	Distance float64 `json:"distance"`
}

// SearchResponse is the response for a search request. Results are ordered by ascending distance.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
}

// FilesResponse lists the backing image files (diagnostic).
type FilesResponse struct {
	Dir    string   `json:"dir"`
	Exists bool     `json:"exists"`
	Files  []string `json:"files"`
	Count  int      `json:"count"`
}

// ReconcileResponse summarizes a reconciliation run.
type ReconcileResponse struct {
	Before     int      `json:"before"`
	After      int      `json:"after"`
	Removed    []string `json:"removed"`
	DurationMS int64    `json:"duration_ms"`
}

// StatusResponse reports the state of the collection and its files.
type StatusResponse struct {
	State          string `json:"state"`
	Records        int    `json:"records"`
	Dimensions     int    `json:"dimensions"`
	IndexType      string `json:"index_type"`
	CatalogCount   int64  `json:"catalog_count"`
	BackingFiles   int    `json:"backing_files"`
	DiskUsageBytes int64  `json:"disk_usage_bytes"`
}
