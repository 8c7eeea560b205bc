package api

import "time"

// ErrorResponse is a generic JSON error wrapper.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// PresignItemRequest describes one requested upload slot.
type PresignItemRequest struct {
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type"`
}

// PresignRequest asks for upload slots, optionally against an existing batch.
type PresignRequest struct {
	BatchID string               `json:"batch_id,omitempty"`
	Items   []PresignItemRequest `json:"items"`
}

// PresignedUpload is one issued upload slot.
type PresignedUpload struct {
	UploadID        string            `json:"upload_id"`
	UploadURL       string            `json:"upload_url"`
	RequiredHeaders map[string]string `json:"required_headers"`
	ContentType     string            `json:"content_type"`
}

// PresignResponse returns the batch and its newly issued slots.
type PresignResponse struct {
	BatchID          string            `json:"batch_id"`
	ExpiresInSeconds int               `json:"expires_in_seconds"`
	Items            []PresignedUpload `json:"items"`
}

// UploadResponse reports a stored upload.
type UploadResponse struct {
	UploadID  string `json:"upload_id"`
	BlobRef   string `json:"blob_ref"`
	SizeBytes int64  `json:"size_bytes"`
}

// RegisterItemRequest describes one recording to register.
type RegisterItemRequest struct {
	ClientItemID string         `json:"client_item_id,omitempty"`
	BlobRef      string         `json:"blob_ref"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// RegisterRequest registers recordings against a batch.
type RegisterRequest struct {
	BatchID        string                `json:"batch_id"`
	IdempotencyKey string                `json:"idempotency_key,omitempty"`
	Items          []RegisterItemRequest `json:"items"`
}

// RecordingResponse is one registered recording.
type RecordingResponse struct {
	RecordingID  string         `json:"recording_id"`
	BatchID      string         `json:"batch_id"`
	ClientItemID string         `json:"client_item_id,omitempty"`
	BlobRef      string         `json:"blob_ref"`
	ContentType  string         `json:"content_type,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// RegisterResponse returns the registered recordings plus the batch
// status derived after the write. Replayed marks an idempotent replay of
// an earlier registration.
type RegisterResponse struct {
	BatchID    string              `json:"batch_id"`
	Status     string              `json:"status"`
	Recordings []RecordingResponse `json:"recordings"`
	Replayed   bool                `json:"replayed,omitempty"`
}

// SlotResponse is one upload slot within a batch view.
type SlotResponse struct {
	UploadID    string    `json:"upload_id"`
	Filename    string    `json:"filename,omitempty"`
	ContentType string    `json:"content_type"`
	State       string    `json:"state"`
	BlobRef     string    `json:"blob_ref,omitempty"`
	SizeBytes   int64     `json:"size_bytes,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// BatchResponse is the full state of one batch. Status is derived from
// slot and recording state at read time.
type BatchResponse struct {
	BatchID    string              `json:"batch_id"`
	Status     string              `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
	Slots      []SlotResponse      `json:"slots"`
	Recordings []RecordingResponse `json:"recordings"`
}

// BatchSummary is one row in a batch listing.
type BatchSummary struct {
	BatchID   string    `json:"batch_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	SlotCount int       `json:"slot_count"`
}

// DeleteBatchResponse reports a batch deletion.
type DeleteBatchResponse struct {
	BatchID      string `json:"batch_id"`
	Deleted      bool   `json:"deleted"`
	RemovedBlobs int    `json:"removed_blobs"`
}

// VerifyMismatch is one blob whose stored bytes no longer match its ref.
type VerifyMismatch struct {
	BlobRef string `json:"blob_ref"`
	Error   string `json:"error"`
}

// VerifyResponse reports a storage integrity sweep.
type VerifyResponse struct {
	CheckedBlobs int              `json:"checked_blobs"`
	Mismatches   []VerifyMismatch `json:"mismatches"`
}
