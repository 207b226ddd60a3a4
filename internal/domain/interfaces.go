package domain

import "context"

// Document represents a single text file loaded for ingestion.
type Document struct {
	ID      string
	Path    string
	Content string
}

// Chunk is a semantically meaningful part of a document, uploaded as one fragment.
type Chunk struct {
	DocumentID string
	ChunkID    string
	Text       string
	Index      int
}

// Fragment is a stored unit of text plus its embedding, addressed by a content-derived ID.
type Fragment struct {
	ID     string
	Text   string
	Source string
	Vector []float64
}

// Match is a nearest-neighbour hit returned by a vector store.
type Match struct {
	ID     string
	Score  float64
	Text   string
	Source string
}

// Contribution maps a fragment ID to its cosine similarity against a paper.
type Contribution map[string]float64

// IngestReport describes the outcome of a document ingestion run.
type IngestReport struct {
	Documents   int
	FragmentIDs []string
	Summary     string
}

// Embedder converts free text into a fixed-length numeric vector.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Chunker splits documents into chunks suitable for fragment upload.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// VectorStore persists fragment vectors and supports similarity search.
// Every operation is scoped to a namespace.
type VectorStore interface {
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, namespace string, fragments []Fragment) error
	Search(ctx context.Context, namespace string, vector []float64, topK int) ([]Match, error)
	Fetch(ctx context.Context, namespace, id string) (Fragment, error)
	Close() error
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}

// FragmentService defines the operations exposed by the application core.
type FragmentService interface {
	Upload(ctx context.Context, text string) (string, error)
	Query(ctx context.Context, prompt string, topK int) ([]Match, error)
	Score(ctx context.Context, paper string, fragmentIDs []string) (Contribution, error)
	IngestDocuments(ctx context.Context, paths []string) (IngestReport, error)
	Namespace() string
}
