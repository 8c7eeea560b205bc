package store

import (
	"context"
	"time"

	"recink/internal/models"
)

// IngestStore is the persistence surface the ingest service depends on.
type IngestStore interface {
	CreateBatchWithSlots(ctx context.Context, batch *models.Batch, slots []models.UploadSlot) error
	AppendSlots(ctx context.Context, batchID string, slots []models.UploadSlot) error
	GetBatch(ctx context.Context, id string) (*models.Batch, error)
	ListBatches(ctx context.Context) ([]models.Batch, error)
	DeleteBatch(ctx context.Context, id string) error

	GetSlot(ctx context.Context, uploadID string) (*models.UploadSlot, error)
	ListSlotsByBatch(ctx context.Context, batchID string) ([]models.UploadSlot, error)
	ListSlotsByBlobRef(ctx context.Context, blobRef string) ([]models.UploadSlot, error)
	FulfillSlot(ctx context.Context, uploadID string, blob *models.Blob, fulfilledAt time.Time) (bool, error)
	ExpireSlot(ctx context.Context, uploadID string) (bool, error)

	GetBlob(ctx context.Context, ref string) (*models.Blob, error)
	ListBlobs(ctx context.Context) ([]models.Blob, error)
	ListUnreferencedBlobs(ctx context.Context, limit int) ([]models.Blob, error)
	DeleteBlob(ctx context.Context, ref string) error

	CreateRecordings(ctx context.Context, batchID string, recs []models.Recording, idemKey, requestHash string) error
	GetRecording(ctx context.Context, id string) (*models.Recording, error)
	ListRecordingsByBatch(ctx context.Context, batchID string) ([]models.Recording, error)
	GetRegistration(ctx context.Context, idemKey string) (*Registration, error)
}

var _ IngestStore = (*Store)(nil)
