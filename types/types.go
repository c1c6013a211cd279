package types

import (
	"time"

	"github.com/google/uuid"
)

// LoaderKind routes a staged file to the loader able to extract its text.
type LoaderKind string

const (
	KindText        LoaderKind = "text"
	KindPDF         LoaderKind = "pdf"
	KindStructured  LoaderKind = "structured"
	KindUnsupported LoaderKind = "unsupported"
)

type Document struct {
	Title      string
	Extension  string
	Source     string // pdf, txt, docx etc.
	SourcePath string // path to the staged file
	Text       string // extracted text
	LoadedAt   time.Time
}

type Chunk struct {
	DocTitle string
	Source   string
	Index    int
	Content  string
}

// Record is one (vector, text, metadata) triple written to the vector index.
type Record struct {
	ID        uuid.UUID
	Content   string
	Embedding []float32
	Metadata  map[string]string
}

// ScoredRecord is a retrieved record ranked by similarity to the query vector.
type ScoredRecord struct {
	Record
	Score float64
}

// Answer is a generated response together with the records it was grounded on.
type Answer struct {
	Text    string
	Sources []ScoredRecord
}

type SearchResponse struct {
	Answer    string    `json:"answer"`
	Sources   []Source  `json:"sources"`
	Timestamp time.Time `json:"timestamp"`
}

type Source struct {
	Title     string  `json:"title"`
	ChunkText string  `json:"chunk_text"`
	Score     float64 `json:"score"`
}

type Config struct {
	StagingDir   string
	ChunkSize    int
	ChunkOverlap int
}
