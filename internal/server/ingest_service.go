package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	internalauth "recink/internal/auth"
	"recink/internal/blobstore"
	"recink/internal/config"
	"recink/internal/models"
	"recink/internal/store"
)

// IngestService orchestrates presign, upload, and registration workflows.
type IngestService struct {
	store store.IngestStore
	blobs blobstore.BlobStore
	cfg   config.UploadConfig

	now func() time.Time
}

// NewIngestService constructs an IngestService.
func NewIngestService(ingestStore store.IngestStore, blobs blobstore.BlobStore, cfg config.UploadConfig) *IngestService {
	if cfg.PresignTTLSeconds <= 0 {
		cfg.PresignTTLSeconds = config.DefaultPresignTTLSeconds
	}
	if cfg.PresignMaxItems <= 0 {
		cfg.PresignMaxItems = config.DefaultPresignMaxItems
	}
	if cfg.GCBatchSize <= 0 {
		cfg.GCBatchSize = config.DefaultGCBatchSize
	}
	return &IngestService{
		store: ingestStore,
		blobs: blobs,
		cfg:   cfg,
		now:   time.Now,
	}
}

// PresignItemInput describes one requested slot.
type PresignItemInput struct {
	Filename    string
	ContentType string
}

// PresignInput describes a presign request.
type PresignInput struct {
	BatchID string
	Items   []PresignItemInput
}

// PresignedSlot pairs an issued slot with its one-time token. The token
// exists only in this result; the store keeps a hash.
type PresignedSlot struct {
	Slot      models.UploadSlot
	Token     string
	UploadURL string
}

// PresignResult is the outcome of a presign call.
type PresignResult struct {
	Batch     models.Batch
	ExpiresIn int
	Slots     []PresignedSlot
}

// IssuePresign mints upload slots for a new or existing batch. Presigning
// against an existing batch is additive: prior slots keep their state.
func (s *IngestService) IssuePresign(ctx context.Context, in PresignInput) (*PresignResult, error) {
	if s == nil || s.store == nil {
		return nil, internalError(fmt.Errorf("ingest service is not configured"))
	}

	if len(in.Items) == 0 {
		return nil, badRequestCode(fmt.Errorf("items are required"), ErrCodeMissingRequired)
	}
	if len(in.Items) > s.cfg.PresignMaxItems {
		return nil, badRequestCode(fmt.Errorf("at most %d items per presign request", s.cfg.PresignMaxItems), ErrCodeTooManyItems)
	}

	now := s.now().UTC()
	ttl := time.Duration(s.cfg.PresignTTLSeconds) * time.Second

	slots := make([]models.UploadSlot, 0, len(in.Items))
	presigned := make([]PresignedSlot, 0, len(in.Items))

	batchID := strings.TrimSpace(in.BatchID)
	newBatch := batchID == ""
	if newBatch {
		batchID = store.NewBatchID()
	} else if !validateBatchID(batchID) {
		return nil, badRequestCode(fmt.Errorf("invalid batch_id"), ErrCodeInvalidID)
	}

	for _, item := range in.Items {
		contentType, err := normalizeMediaType(item.ContentType)
		if err != nil {
			return nil, err
		}
		if !mediaTypeAllowed(contentType, s.cfg.AllowedMediaTypes) {
			return nil, badRequestCode(fmt.Errorf("media type %q is not allowed", contentType), ErrCodeInvalidMediaType)
		}

		token, err := internalauth.NewUploadToken()
		if err != nil {
			return nil, internalError(fmt.Errorf("mint upload token: %w", err))
		}

		slot := models.UploadSlot{
			UploadID:    store.NewUploadID(),
			BatchID:     batchID,
			Filename:    strings.TrimSpace(item.Filename),
			ContentType: contentType,
			TokenHash:   internalauth.HashUploadToken(token),
			State:       models.SlotStatePending,
			ExpiresAt:   now.Add(ttl),
			CreatedAt:   now,
		}
		slots = append(slots, slot)
		presigned = append(presigned, PresignedSlot{
			Slot:      slot,
			Token:     token,
			UploadURL: uploadURLFor(slot.UploadID, token),
		})
	}

	batch := models.Batch{ID: batchID, CreatedAt: now}
	if newBatch {
		if err := s.store.CreateBatchWithSlots(ctx, &batch, slots); err != nil {
			return nil, storeFailure(err)
		}
	} else {
		existing, err := s.store.GetBatch(ctx, batchID)
		if err != nil {
			return nil, storeFailure(err)
		}
		if existing == nil {
			return nil, makeAPIError(http.StatusNotFound, "batch_not_found", ErrCodeBatchNotFound,
				fmt.Errorf("batch %s not found", batchID))
		}
		batch = *existing
		if err := s.store.AppendSlots(ctx, batchID, slots); err != nil {
			return nil, storeFailure(err)
		}
	}

	return &PresignResult{Batch: batch, ExpiresIn: s.cfg.PresignTTLSeconds, Slots: presigned}, nil
}

// ReceiveUpload stores the body under its content hash and fulfills the
// slot. Expiry is checked lazily here: a pending slot past its deadline
// flips to expired before the token is honored.
func (s *IngestService) ReceiveUpload(ctx context.Context, uploadID, token, declaredContentType string, body io.Reader) (*models.UploadSlot, error) {
	if s == nil || s.store == nil || s.blobs == nil {
		return nil, internalError(fmt.Errorf("ingest service is not configured"))
	}

	uploadID = strings.TrimSpace(uploadID)
	if !validateUploadID(uploadID) {
		return nil, badRequestCode(fmt.Errorf("invalid upload_id"), ErrCodeInvalidID)
	}

	slot, err := s.store.GetSlot(ctx, uploadID)
	if err != nil {
		return nil, storeFailure(err)
	}
	// Unknown slots and bad tokens get the same rejection so the
	// token-authorized endpoint does not leak slot existence.
	if slot == nil || !tokenMatches(slot.TokenHash, token) {
		return nil, invalidUploadTokenError()
	}

	now := s.now().UTC()
	switch slot.State {
	case models.SlotStateFulfilled:
		return nil, makeAPIError(http.StatusConflict, "slot_already_fulfilled", ErrCodeSlotAlreadyFilled,
			fmt.Errorf("upload %s is already fulfilled", uploadID))
	case models.SlotStateExpired:
		return nil, tokenExpiredError(uploadID)
	}
	if slot.TokenExpired(now) {
		if _, err := s.store.ExpireSlot(ctx, uploadID); err != nil {
			return nil, storeFailure(err)
		}
		return nil, tokenExpiredError(uploadID)
	}

	contentType, err := normalizeMediaType(declaredContentType)
	if err != nil {
		return nil, err
	}
	if contentType != slot.ContentType {
		return nil, makeAPIError(http.StatusBadRequest, "content_type_mismatch", ErrCodeContentTypeMismatch,
			fmt.Errorf("content type %q does not match declared %q", contentType, slot.ContentType))
	}

	result, err := s.blobs.Put(ctx, body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, badRequestCode(fmt.Errorf("upload body too large"), ErrCodeRequestTooLarge)
		}
		return nil, storageFailure(fmt.Errorf("store upload: %w", err))
	}

	blob := models.Blob{
		Ref:       models.BlobRefFromDigest(result.SHA256),
		BlobKey:   result.BlobKey,
		SizeBytes: result.SizeBytes,
		CreatedAt: now,
	}
	won, err := s.store.FulfillSlot(ctx, uploadID, &blob, now)
	if err != nil {
		return nil, storeFailure(err)
	}
	if !won {
		// Lost a concurrent race on the same slot. Report the terminal
		// state the winner left behind.
		current, err := s.store.GetSlot(ctx, uploadID)
		if err != nil {
			return nil, storeFailure(err)
		}
		if current != nil && current.State == models.SlotStateExpired {
			return nil, tokenExpiredError(uploadID)
		}
		return nil, makeAPIError(http.StatusConflict, "slot_already_fulfilled", ErrCodeSlotAlreadyFilled,
			fmt.Errorf("upload %s is already fulfilled", uploadID))
	}

	updated, err := s.store.GetSlot(ctx, uploadID)
	if err != nil {
		return nil, storeFailure(err)
	}
	if updated == nil {
		return nil, internalError(fmt.Errorf("upload %s vanished after fulfillment", uploadID))
	}
	return updated, nil
}

// RegisterItemInput describes one recording to register.
type RegisterItemInput struct {
	ClientItemID string
	BlobRef      string
	Metadata     map[string]any
}

// RegisterInput describes a registration request.
type RegisterInput struct {
	BatchID        string
	IdempotencyKey string
	Items          []RegisterItemInput
}

// RegisterResult is the outcome of a registration. Status is the batch
// status derived after the write landed.
type RegisterResult struct {
	Recordings []models.Recording
	Status     models.BatchStatus
	Replayed   bool
}

// RegisterRecordings registers blobs as recordings against a batch. The
// whole request lands atomically; one bad item fails every item. A replay
// carrying the same idempotency key and payload returns the original
// result without writing.
func (s *IngestService) RegisterRecordings(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	if s == nil || s.store == nil {
		return nil, internalError(fmt.Errorf("ingest service is not configured"))
	}

	batchID := strings.TrimSpace(in.BatchID)
	if !validateBatchID(batchID) {
		return nil, badRequestCode(fmt.Errorf("invalid batch_id"), ErrCodeInvalidID)
	}
	if len(in.Items) == 0 {
		return nil, badRequestCode(fmt.Errorf("items are required"), ErrCodeMissingRequired)
	}
	for _, item := range in.Items {
		if _, err := models.ParseBlobRef(item.BlobRef); err != nil {
			return nil, badRequestCode(err, ErrCodeInvalidArgument)
		}
	}

	requestHash, err := registerRequestHash(batchID, in.Items)
	if err != nil {
		return nil, internalError(err)
	}

	idemKey := strings.TrimSpace(in.IdempotencyKey)
	if idemKey != "" {
		result, err := s.replayRegistration(ctx, batchID, idemKey, requestHash)
		if err != nil || result != nil {
			return result, err
		}
	}

	now := s.now().UTC()
	recordings := make([]models.Recording, 0, len(in.Items))
	for _, item := range in.Items {
		recordings = append(recordings, models.Recording{
			ID:           store.NewRecordingID(),
			BatchID:      batchID,
			ClientItemID: strings.TrimSpace(item.ClientItemID),
			BlobRef:      item.BlobRef,
			Metadata:     item.Metadata,
			CreatedAt:    now,
		})
	}

	if err := s.store.CreateRecordings(ctx, batchID, recordings, idemKey, requestHash); err != nil {
		switch {
		case errors.Is(err, store.ErrBatchNotFound):
			return nil, makeAPIError(http.StatusNotFound, "batch_not_found", ErrCodeBatchNotFound, err)
		case errors.Is(err, store.ErrBlobNotFound):
			return nil, makeAPIError(http.StatusConflict, "blob_not_found", ErrCodeBlobNotFound, err)
		case errors.Is(err, store.ErrBlobNotLinked):
			return nil, makeAPIError(http.StatusConflict, "blob_not_linked", ErrCodeBlobNotLinked, err)
		case idemKey != "" && isRegistrationKeyConflict(err):
			// Concurrent duplicate: the other request won the insert.
			result, replayErr := s.replayRegistration(ctx, batchID, idemKey, requestHash)
			if replayErr != nil {
				return nil, replayErr
			}
			if result != nil {
				return result, nil
			}
			return nil, storeFailure(err)
		default:
			return nil, storeFailure(err)
		}
	}

	status, err := s.batchStatus(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return &RegisterResult{Recordings: recordings, Status: status}, nil
}

// BatchView is one batch with derived status and full contents.
type BatchView struct {
	Batch      models.Batch
	Status     models.BatchStatus
	Slots      []models.UploadSlot
	Recordings []models.Recording
}

// GetBatch loads one batch and derives its status from current slot and
// recording state.
func (s *IngestService) GetBatch(ctx context.Context, batchID string) (*BatchView, error) {
	batchID = strings.TrimSpace(batchID)
	if !validateBatchID(batchID) {
		return nil, badRequestCode(fmt.Errorf("invalid batch_id"), ErrCodeInvalidID)
	}

	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, storeFailure(err)
	}
	if batch == nil {
		return nil, makeAPIError(http.StatusNotFound, "batch_not_found", ErrCodeBatchNotFound,
			fmt.Errorf("batch %s not found", batchID))
	}

	slots, err := s.store.ListSlotsByBatch(ctx, batchID)
	if err != nil {
		return nil, storeFailure(err)
	}
	recordings, err := s.store.ListRecordingsByBatch(ctx, batchID)
	if err != nil {
		return nil, storeFailure(err)
	}

	return &BatchView{
		Batch:      *batch,
		Status:     models.DeriveBatchStatus(slots, recordings),
		Slots:      slots,
		Recordings: recordings,
	}, nil
}

// BatchSummaryView is one row in a batch listing.
type BatchSummaryView struct {
	Batch     models.Batch
	Status    models.BatchStatus
	SlotCount int
}

// ListBatches lists all batches with derived status, newest first.
func (s *IngestService) ListBatches(ctx context.Context) ([]BatchSummaryView, error) {
	batches, err := s.store.ListBatches(ctx)
	if err != nil {
		return nil, storeFailure(err)
	}

	summaries := make([]BatchSummaryView, 0, len(batches))
	for _, batch := range batches {
		slots, err := s.store.ListSlotsByBatch(ctx, batch.ID)
		if err != nil {
			return nil, storeFailure(err)
		}
		recordings, err := s.store.ListRecordingsByBatch(ctx, batch.ID)
		if err != nil {
			return nil, storeFailure(err)
		}
		summaries = append(summaries, BatchSummaryView{
			Batch:     batch,
			Status:    models.DeriveBatchStatus(slots, recordings),
			SlotCount: len(slots),
		})
	}
	return summaries, nil
}

// DeleteBatch removes a batch, its slots, and its recordings, then
// garbage-collects blobs nothing references anymore. Returns the number
// of blobs removed from storage.
func (s *IngestService) DeleteBatch(ctx context.Context, batchID string) (int, error) {
	batchID = strings.TrimSpace(batchID)
	if !validateBatchID(batchID) {
		return 0, badRequestCode(fmt.Errorf("invalid batch_id"), ErrCodeInvalidID)
	}

	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return 0, storeFailure(err)
	}
	if batch == nil {
		return 0, makeAPIError(http.StatusNotFound, "batch_not_found", ErrCodeBatchNotFound,
			fmt.Errorf("batch %s not found", batchID))
	}

	if err := s.store.DeleteBatch(ctx, batchID); err != nil {
		return 0, storeFailure(err)
	}

	orphans, err := s.store.ListUnreferencedBlobs(ctx, s.cfg.GCBatchSize)
	if err != nil {
		return 0, storeFailure(err)
	}

	removed := 0
	for _, blob := range orphans {
		if err := s.blobs.Delete(ctx, blob.BlobKey); err != nil {
			return removed, storageFailure(fmt.Errorf("delete blob %s: %w", blob.Ref, err))
		}
		if err := s.store.DeleteBlob(ctx, blob.Ref); err != nil {
			return removed, storeFailure(err)
		}
		removed++
	}
	return removed, nil
}

// MediaContent describes a recording's media stream.
type MediaContent struct {
	Reader      io.ReadCloser
	SizeBytes   int64
	ContentType string
}

// OpenRecordingMedia opens the stored bytes behind a recording. The
// caller closes the reader.
func (s *IngestService) OpenRecordingMedia(ctx context.Context, recordingID string) (*MediaContent, error) {
	recordingID = strings.TrimSpace(recordingID)
	if !validateRecordingID(recordingID) {
		return nil, badRequestCode(fmt.Errorf("invalid recording_id"), ErrCodeInvalidID)
	}

	rec, err := s.store.GetRecording(ctx, recordingID)
	if err != nil {
		return nil, storeFailure(err)
	}
	if rec == nil {
		return nil, notFoundCode(fmt.Errorf("recording %s not found", recordingID), ErrCodeRecordingNotFound)
	}

	blob, err := s.store.GetBlob(ctx, rec.BlobRef)
	if err != nil {
		return nil, storeFailure(err)
	}
	if blob == nil {
		return nil, internalError(fmt.Errorf("recording %s references missing blob %s", recordingID, rec.BlobRef))
	}

	reader, err := s.blobs.Open(ctx, blob.BlobKey)
	if err != nil {
		return nil, storageFailure(fmt.Errorf("open blob %s: %w", blob.Ref, err))
	}

	contentType := rec.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &MediaContent{Reader: reader, SizeBytes: blob.SizeBytes, ContentType: contentType}, nil
}

// VerifyMismatch is one blob whose bytes no longer hash to its ref.
type VerifyMismatch struct {
	BlobRef string
	Err     string
}

// VerifyResult reports a storage integrity sweep.
type VerifyResult struct {
	Checked    int
	Mismatches []VerifyMismatch
}

// VerifyBlobs re-hashes every stored blob against its content ref.
func (s *IngestService) VerifyBlobs(ctx context.Context) (*VerifyResult, error) {
	blobs, err := s.store.ListBlobs(ctx)
	if err != nil {
		return nil, storeFailure(err)
	}

	result := &VerifyResult{Mismatches: []VerifyMismatch{}}
	for _, blob := range blobs {
		digest, err := models.ParseBlobRef(blob.Ref)
		if err != nil {
			result.Mismatches = append(result.Mismatches, VerifyMismatch{BlobRef: blob.Ref, Err: err.Error()})
			continue
		}
		if err := s.blobs.Verify(ctx, blob.BlobKey, digest); err != nil {
			result.Mismatches = append(result.Mismatches, VerifyMismatch{BlobRef: blob.Ref, Err: err.Error()})
		}
		result.Checked++
	}
	return result, nil
}

func (s *IngestService) replayRegistration(ctx context.Context, batchID, idemKey, requestHash string) (*RegisterResult, error) {
	reg, err := s.store.GetRegistration(ctx, idemKey)
	if err != nil {
		return nil, storeFailure(err)
	}
	if reg == nil {
		return nil, nil
	}
	if reg.BatchID != batchID || reg.RequestHash != requestHash {
		return nil, makeAPIError(http.StatusConflict, "idempotency_mismatch", ErrCodeIdempotencyMismatch,
			fmt.Errorf("idempotency key %s was used with a different request", idemKey))
	}

	recordings := make([]models.Recording, 0, len(reg.RecordingIDs))
	for _, id := range reg.RecordingIDs {
		rec, err := s.store.GetRecording(ctx, id)
		if err != nil {
			return nil, storeFailure(err)
		}
		if rec == nil {
			return nil, internalError(fmt.Errorf("registration %s references missing recording %s", idemKey, id))
		}
		recordings = append(recordings, *rec)
	}
	status, err := s.batchStatus(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return &RegisterResult{Recordings: recordings, Status: status, Replayed: true}, nil
}

// batchStatus derives the current batch status from slot and recording
// state, never from anything stored.
func (s *IngestService) batchStatus(ctx context.Context, batchID string) (models.BatchStatus, error) {
	slots, err := s.store.ListSlotsByBatch(ctx, batchID)
	if err != nil {
		return "", storeFailure(err)
	}
	recordings, err := s.store.ListRecordingsByBatch(ctx, batchID)
	if err != nil {
		return "", storeFailure(err)
	}
	return models.DeriveBatchStatus(slots, recordings), nil
}

func invalidUploadTokenError() error {
	return makeAPIError(http.StatusUnauthorized, "invalid_upload_token", ErrCodeInvalidUploadToken,
		fmt.Errorf("upload token does not match"))
}

func tokenExpiredError(uploadID string) error {
	return makeAPIError(http.StatusGone, "upload_token_expired", ErrCodeUploadTokenExpired,
		fmt.Errorf("upload token for %s has expired", uploadID))
}

func tokenMatches(storedHash, candidate string) bool {
	candidate = strings.TrimSpace(candidate)
	if storedHash == "" || candidate == "" {
		return false
	}
	candidateHash := internalauth.HashUploadToken(candidate)
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(candidateHash)) == 1
}

func uploadURLFor(uploadID, token string) string {
	return "/v1/uploads/" + url.PathEscape(uploadID) + "?token=" + url.QueryEscape(token)
}

func registerRequestHash(batchID string, items []RegisterItemInput) (string, error) {
	payload, err := json.Marshal(struct {
		BatchID string              `json:"batch_id"`
		Items   []RegisterItemInput `json:"items"`
	}{BatchID: batchID, Items: items})
	if err != nil {
		return "", fmt.Errorf("hash registration request: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func isRegistrationKeyConflict(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed: registrations.idempotency_key")
}
