package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"recink/internal/models"
)

const recordingColumns = "id, batch_id, client_item_id, blob_ref, content_type, metadata_json, created_at"

// Linkage verification errors, surfaced from CreateRecordings so the
// service layer can map them onto the wire taxonomy.
var (
	ErrBatchNotFound = errors.New("batch not found")
	ErrBlobNotFound  = errors.New("blob not found")
	ErrBlobNotLinked = errors.New("blob not linked to batch")
)

// Registration records one idempotent registration call.
type Registration struct {
	IdempotencyKey string
	BatchID        string
	RequestHash    string
	RecordingIDs   []string
	CreatedAt      time.Time
}

// CreateRecordings verifies blob linkage for every item and inserts all
// recording rows in a single transaction. Either every item becomes a
// recording or none does: the first linkage failure rolls the whole call
// back. Verification runs inside the transaction so concurrent
// registrations against the same batch cannot observe each other's
// partial state.
func (s *Store) CreateRecordings(ctx context.Context, batchID string, recs []models.Recording, idemKey, requestHash string) (err error) {
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
			err = fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
		}
		return err
	}

	now := time.Now().UTC()
	ids := make([]string, 0, len(recs))
	for i := range recs {
		rec := &recs[i]
		rec.BatchID = batchID
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}

		contentType, verifyErr := verifyLinkageTx(ctx, tx, batchID, rec.BlobRef)
		if verifyErr != nil {
			err = verifyErr
			return err
		}
		if rec.ContentType == "" {
			rec.ContentType = contentType
		}

		metadataJSON, mErr := metadataToJSON(rec.Metadata)
		if mErr != nil {
			err = mErr
			return err
		}

		if _, err = tx.ExecContext(ctx, `
			INSERT INTO recordings (id, batch_id, client_item_id, blob_ref, content_type, metadata_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			rec.ID,
			rec.BatchID,
			nullIfEmpty(rec.ClientItemID),
			rec.BlobRef,
			nullIfEmpty(rec.ContentType),
			metadataJSON,
			formatTime(rec.CreatedAt),
		); err != nil {
			return err
		}
		ids = append(ids, rec.ID)
	}

	if idemKey != "" {
		idsJSON, mErr := json.Marshal(ids)
		if mErr != nil {
			err = mErr
			return err
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO registrations (idempotency_key, batch_id, request_hash, recording_ids, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, idemKey, batchID, requestHash, string(idsJSON), formatTime(now)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// verifyLinkageTx checks that blobRef resolves to at least one slot, and
// that some slot holding it is fulfilled under batchID. Returns the
// declared content type of the matching slot.
func verifyLinkageTx(ctx context.Context, tx *sql.Tx, batchID, blobRef string) (string, error) {
	var slotCount int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM upload_slots WHERE blob_ref = ?", blobRef).Scan(&slotCount); err != nil {
		return "", err
	}
	if slotCount == 0 {
		return "", fmt.Errorf("%w: %s", ErrBlobNotFound, blobRef)
	}

	var contentType string
	err := tx.QueryRowContext(ctx, `
		SELECT content_type FROM upload_slots
		WHERE blob_ref = ? AND batch_id = ? AND state = ?
		LIMIT 1
	`, blobRef, batchID, string(models.SlotStateFulfilled)).Scan(&contentType)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %s is not fulfilled under batch %s", ErrBlobNotLinked, blobRef, batchID)
	}
	if err != nil {
		return "", err
	}
	return contentType, nil
}

// GetRecording returns one recording by id, or nil when absent.
func (s *Store) GetRecording(ctx context.Context, id string) (*models.Recording, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id)
	return scanRecording(row)
}

// ListRecordingsByBatch lists recordings for a batch, oldest first.
func (s *Store) ListRecordingsByBatch(ctx context.Context, batchID string) ([]models.Recording, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE batch_id = ? ORDER BY created_at ASC, id ASC`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recordings := []models.Recording{}
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			recordings = append(recordings, *rec)
		}
	}
	return recordings, rows.Err()
}

// GetRegistration returns one registration by idempotency key, or nil.
func (s *Store) GetRegistration(ctx context.Context, idemKey string) (*Registration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT idempotency_key, batch_id, request_hash, recording_ids, created_at
		FROM registrations WHERE idempotency_key = ?
	`, idemKey)

	reg := Registration{}
	var idsJSON, createdAt string
	err := row.Scan(&reg.IdempotencyKey, &reg.BatchID, &reg.RequestHash, &idsJSON, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if err := json.Unmarshal([]byte(idsJSON), &reg.RecordingIDs); err != nil {
		return nil, fmt.Errorf("parse registration recording_ids: %w", err)
	}
	if reg.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &reg, nil
}

func scanRecording(scanner rowScanner) (*models.Recording, error) {
	rec := models.Recording{}

	var clientItemID, contentType, metadataJSON sql.NullString
	var createdAt string

	err := scanner.Scan(
		&rec.ID,
		&rec.BatchID,
		&clientItemID,
		&rec.BlobRef,
		&contentType,
		&metadataJSON,
		&createdAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	rec.ClientItemID = clientItemID.String
	rec.ContentType = contentType.String

	metadata, err := metadataFromJSON(metadataJSON)
	if err != nil {
		return nil, err
	}
	rec.Metadata = metadata

	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &rec, nil
}
