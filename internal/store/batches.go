package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"recink/internal/models"
)

const batchColumns = "id, created_at"
const slotColumns = "upload_id, batch_id, filename, content_type, token_hash, state, blob_ref, size_bytes, expires_at, created_at, fulfilled_at"

// CreateBatchWithSlots inserts a batch row and its initial slots in one
// transaction. No window exists where a returned upload_id lacks a
// backing slot record.
func (s *Store) CreateBatchWithSlots(ctx context.Context, batch *models.Batch, slots []models.UploadSlot) (err error) {
	if batch == nil {
		return fmt.Errorf("batch is required")
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "INSERT INTO batches (id, created_at) VALUES (?, ?)",
		batch.ID, formatTime(batch.CreatedAt)); err != nil {
		return err
	}
	if err = insertSlotsTx(ctx, tx, slots); err != nil {
		return err
	}

	return tx.Commit()
}

// AppendSlots adds new pending slots to an existing batch in one
// transaction. Existing slot state is never touched.
func (s *Store) AppendSlots(ctx context.Context, batchID string, slots []models.UploadSlot) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	if err = tx.QueryRowContext(ctx, "SELECT 1 FROM batches WHERE id = ? LIMIT 1", batchID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			err = fmt.Errorf("batch %s not found", batchID)
		}
		return err
	}
	if err = insertSlotsTx(ctx, tx, slots); err != nil {
		return err
	}

	return tx.Commit()
}

// GetBatch returns one batch by id, or nil when absent.
func (s *Store) GetBatch(ctx context.Context, id string) (*models.Batch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	return scanBatch(row)
}

// ListBatches returns all batches ordered by created_at descending.
func (s *Store) ListBatches(ctx context.Context) ([]models.Batch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+batchColumns+` FROM batches ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := []models.Batch{}
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		if batch != nil {
			batches = append(batches, *batch)
		}
	}
	return batches, rows.Err()
}

// DeleteBatch removes the batch row; slots and recordings cascade.
func (s *Store) DeleteBatch(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM batches WHERE id = ?", id)
	return err
}

// GetSlot returns one upload slot by upload id, or nil when absent.
func (s *Store) GetSlot(ctx context.Context, uploadID string) (*models.UploadSlot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM upload_slots WHERE upload_id = ?`, uploadID)
	return scanSlot(row)
}

// ListSlotsByBatch lists slots for a batch ordered by created_at ascending.
func (s *Store) ListSlotsByBatch(ctx context.Context, batchID string) ([]models.UploadSlot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+slotColumns+` FROM upload_slots WHERE batch_id = ? ORDER BY created_at ASC, upload_id ASC`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSlots(rows)
}

// ListSlotsByBlobRef lists slots holding the given blob ref, across all
// batches. Content addressing means identical uploads under different
// batches share one ref but keep distinct slots.
func (s *Store) ListSlotsByBlobRef(ctx context.Context, blobRef string) ([]models.UploadSlot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+slotColumns+` FROM upload_slots WHERE blob_ref = ?`, blobRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSlots(rows)
}

// FulfillSlot upserts the blob row and flips the slot pending -> fulfilled
// in one transaction. The state flip is a single guarded UPDATE, so of two
// concurrent uploads against the same slot exactly one wins; the other
// observes false.
func (s *Store) FulfillSlot(ctx context.Context, uploadID string, blob *models.Blob, fulfilledAt time.Time) (_ bool, err error) {
	if blob == nil {
		return false, fmt.Errorf("blob is required")
	}
	if blob.CreatedAt.IsZero() {
		blob.CreatedAt = fulfilledAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO blobs (ref, blob_key, size_bytes, created_at)
		VALUES (?, ?, ?, ?)
	`, blob.Ref, blob.BlobKey, blob.SizeBytes, formatTime(blob.CreatedAt)); err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE upload_slots
		SET state = ?, blob_ref = ?, size_bytes = ?, fulfilled_at = ?
		WHERE upload_id = ? AND state = ?
	`, string(models.SlotStateFulfilled), blob.Ref, blob.SizeBytes, formatTime(fulfilledAt), uploadID, string(models.SlotStatePending))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		// Lost the race or the slot is terminal; leave the blob row in
		// place, it is content-addressed and write-once anyway.
		err = tx.Commit()
		return false, err
	}

	err = tx.Commit()
	return err == nil, err
}

// ExpireSlot flips the slot pending -> expired. Returns false when the
// slot was not pending, so a fulfilled slot can never be expired.
func (s *Store) ExpireSlot(ctx context.Context, uploadID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE upload_slots SET state = ? WHERE upload_id = ? AND state = ?
	`, string(models.SlotStateExpired), uploadID, string(models.SlotStatePending))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetBlob returns one blob by ref, or nil when absent.
func (s *Store) GetBlob(ctx context.Context, ref string) (*models.Blob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT ref, blob_key, size_bytes, created_at FROM blobs WHERE ref = ?`, ref)
	return scanBlob(row)
}

// ListBlobs returns all blob rows ordered by created_at ascending.
func (s *Store) ListBlobs(ctx context.Context) ([]models.Blob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ref, blob_key, size_bytes, created_at FROM blobs ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	blobs := []models.Blob{}
	for rows.Next() {
		blob, err := scanBlob(rows)
		if err != nil {
			return nil, err
		}
		if blob != nil {
			blobs = append(blobs, *blob)
		}
	}
	return blobs, rows.Err()
}

// ListUnreferencedBlobs returns blobs no upload slot and no recording
// still points at, ordered oldest first.
func (s *Store) ListUnreferencedBlobs(ctx context.Context, limit int) ([]models.Blob, error) {
	query := `
		SELECT b.ref, b.blob_key, b.size_bytes, b.created_at
		FROM blobs b
		LEFT JOIN upload_slots u ON u.blob_ref = b.ref
		LEFT JOIN recordings r ON r.blob_ref = b.ref
		WHERE u.upload_id IS NULL AND r.id IS NULL
		ORDER BY b.created_at ASC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	blobs := []models.Blob{}
	for rows.Next() {
		blob, err := scanBlob(rows)
		if err != nil {
			return nil, err
		}
		if blob != nil {
			blobs = append(blobs, *blob)
		}
	}
	return blobs, rows.Err()
}

// DeleteBlob deletes one blob row by ref.
func (s *Store) DeleteBlob(ctx context.Context, ref string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM blobs WHERE ref = ?", ref)
	return err
}

func insertSlotsTx(ctx context.Context, tx *sql.Tx, slots []models.UploadSlot) error {
	for i := range slots {
		slot := &slots[i]
		if slot.CreatedAt.IsZero() {
			slot.CreatedAt = time.Now().UTC()
		}
		if slot.State == "" {
			slot.State = models.SlotStatePending
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO upload_slots (
				upload_id, batch_id, filename, content_type, token_hash,
				state, blob_ref, size_bytes, expires_at, created_at, fulfilled_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			slot.UploadID,
			slot.BatchID,
			nullIfEmpty(slot.Filename),
			slot.ContentType,
			slot.TokenHash,
			string(slot.State),
			nullIfEmpty(slot.BlobRef),
			nullInt64IfZero(slot.SizeBytes),
			formatTime(slot.ExpiresAt),
			formatTime(slot.CreatedAt),
			nullTime(slot.FulfilledAt),
		); err != nil {
			return err
		}
	}
	return nil
}

func collectSlots(rows *sql.Rows) ([]models.UploadSlot, error) {
	slots := []models.UploadSlot{}
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		if slot != nil {
			slots = append(slots, *slot)
		}
	}
	return slots, rows.Err()
}

func scanBatch(scanner rowScanner) (*models.Batch, error) {
	batch := models.Batch{}
	var createdAt string

	err := scanner.Scan(&batch.ID, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	parsed, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	batch.CreatedAt = parsed
	return &batch, nil
}

func scanSlot(scanner rowScanner) (*models.UploadSlot, error) {
	slot := models.UploadSlot{}

	var filename, blobRef sql.NullString
	var sizeBytes sql.NullInt64
	var state, expiresAt, createdAt string
	var fulfilledAt sql.NullString

	err := scanner.Scan(
		&slot.UploadID,
		&slot.BatchID,
		&filename,
		&slot.ContentType,
		&slot.TokenHash,
		&state,
		&blobRef,
		&sizeBytes,
		&expiresAt,
		&createdAt,
		&fulfilledAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	slot.Filename = filename.String
	slot.BlobRef = blobRef.String
	slot.SizeBytes = sizeBytes.Int64

	parsedState, err := models.ParseSlotState(state)
	if err != nil {
		return nil, err
	}
	slot.State = parsedState

	if slot.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if slot.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if fulfilledAt.Valid {
		parsed, err := parseTime(fulfilledAt.String)
		if err != nil {
			return nil, err
		}
		slot.FulfilledAt = &parsed
	}

	return &slot, nil
}

func scanBlob(scanner rowScanner) (*models.Blob, error) {
	blob := models.Blob{}
	var createdAt string

	err := scanner.Scan(&blob.Ref, &blob.BlobKey, &blob.SizeBytes, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	parsed, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	blob.CreatedAt = parsed
	return &blob, nil
}

func nullInt64IfZero(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
