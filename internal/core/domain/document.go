package domain

import "time"

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

type Document struct {
	ID          string         `json:"id"`
	Filename    string         `json:"filename"`
	MimeType    string         `json:"mime_type"`
	StoragePath string         `json:"storage_path"`
	SourceKind  string         `json:"source_kind,omitempty"`
	ChunkCount  int            `json:"chunk_count"`
	Status      DocumentStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Chunk is one indexed slice of a document.
type Chunk struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Index    int            `json:"index"`
	Source   string         `json:"source"`
	Page     *int           `json:"page,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
