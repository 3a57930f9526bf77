package semantic

// SearchResult represents a single vector search hit.
type SearchResult struct {
	ID      string            `json:"id"`
	Score   float32           `json:"score"`
	Payload map[string]string `json:"payload"`
}

// VectorRecord represents a single vector to store in Qdrant.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Payload   map[string]any // failure_id, element_id, name
}

// Hit is a failure mode similar to a query.
type Hit struct {
	FailureID string  `json:"failure_id"`
	ElementID string  `json:"element_id"`
	Name      string  `json:"name"`
	Score     float32 `json:"score"`
}
