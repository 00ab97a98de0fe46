package domain

import (
	"time"

	"github.com/google/uuid"
)

// SourceType is the kind of knowledge document a source holds.
type SourceType string

const (
	SourceURL  SourceType = "url"
	SourcePDF  SourceType = "pdf"
	SourceFAQ  SourceType = "faq"
	SourceText SourceType = "text"
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	switch t {
	case SourceURL, SourcePDF, SourceFAQ, SourceText:
		return true
	}
	return false
}

// SourceStatus is the indexing state of a source.
type SourceStatus string

const (
	SourcePending SourceStatus = "pending"
	SourceIndexed SourceStatus = "indexed"
	SourceFailed  SourceStatus = "failed"
)

// Source is one knowledge document owned by a tenant.
type Source struct {
	ID            uuid.UUID    `json:"id"`
	TenantID      uuid.UUID    `json:"tenant_id"`
	Title         string       `json:"title"`
	Type          SourceType   `json:"type"`
	Content       string       `json:"content,omitempty"`
	Status        SourceStatus `json:"status"`
	LastIndexedAt *time.Time   `json:"last_indexed_at,omitempty"`
	LastError     string       `json:"last_error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// ChunkMetadata is the positional payload stored with every chunk.
type ChunkMetadata struct {
	ChunkIndex  int    `json:"chunk_index"`
	SourceTitle string `json:"source_title"`
}

// Chunk is an embedded slice of a source. TenantID always equals the owning
// source's tenant.
type Chunk struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	SourceID  uuid.UUID
	Content   string
	Embedding []float32
	Metadata  ChunkMetadata
	CreatedAt time.Time
}

// RetrievedChunk is a chunk returned by a similarity query.
type RetrievedChunk struct {
	ChunkID    uuid.UUID     `json:"chunk_id"`
	SourceID   uuid.UUID     `json:"source_id"`
	Content    string        `json:"content"`
	Metadata   ChunkMetadata `json:"metadata"`
	Similarity float64       `json:"similarity"`
}
