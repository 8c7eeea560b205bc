package models

import "time"

// Recording is a metadata record referencing one stored blob, registered
// against the batch its blob was uploaded under. Immutable once created.
// Metadata is caller-supplied and passed through opaquely.
type Recording struct {
	ID           string         `json:"recording_id"`
	BatchID      string         `json:"batch_id"`
	ClientItemID string         `json:"client_item_id,omitempty"`
	BlobRef      string         `json:"blob_ref"`
	ContentType  string         `json:"content_type,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
