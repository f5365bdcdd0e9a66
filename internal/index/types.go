// Package index owns the trained tf-idf model and the document-feature matrix
// derived from it, and answers similarity queries against them.
package index

import "time"

// Document is one training input. Its position in the training sequence
// becomes its vector slot.
type Document struct {
	ID   string
	Text string
}

// Hit is one query result.
type Hit struct {
	Slot       int     `json:"slot"`
	DocumentID string  `json:"document_id"`
	Similarity float64 `json:"similarity"`
}

// TrainResult describes a newly committed generation.
type TrainResult struct {
	Generation string    `json:"generation"`
	Previous   string    `json:"previous,omitempty"`
	Documents  int       `json:"documents"`
	Vocabulary int       `json:"vocabulary"`
	CreatedAt  time.Time `json:"created_at"`
}

// Status reports the committed generation and its artifact sizes.
type Status struct {
	Generation          string    `json:"generation"`
	Previous            string    `json:"previous,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	Documents           int       `json:"documents"`
	Vocabulary          int       `json:"vocabulary"`
	Tokenizer           string    `json:"tokenizer"`
	VectorizerSizeBytes int64     `json:"vectorizer_size_bytes"`
	FeaturesSizeBytes   int64     `json:"features_size_bytes"`
}

// Manifest is the commit record for one generation. The current manifest is
// the single pointer that decides which artifact pair is live.
type Manifest struct {
	Version    int          `json:"version"`
	Generation string       `json:"generation"`
	Previous   string       `json:"previous,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	Documents  int          `json:"documents"`
	Vocabulary int          `json:"vocabulary"`
	Tokenizer  string       `json:"tokenizer"`
	Vectorizer ArtifactInfo `json:"vectorizer"`
	Features   ArtifactInfo `json:"features"`
}

// ArtifactInfo names a blob and pins its content.
type ArtifactInfo struct {
	Name     string `json:"name"`
	Checksum string `json:"checksum"` // BLAKE2b-256, hex
	Size     int64  `json:"size"`
}
