package store

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

const (
	batchIDPrefix     = "rb"
	uploadIDPrefix    = "upl"
	recordingIDPrefix = "rec"
)

// NewBatchID returns a new batch id using the rb_ prefix.
func NewBatchID() string {
	return newID(batchIDPrefix)
}

// NewUploadID returns a new upload slot id using the upl_ prefix.
func NewUploadID() string {
	return newID(uploadIDPrefix)
}

// NewRecordingID returns a new recording id using the rec_ prefix.
func NewRecordingID() string {
	return newID(recordingIDPrefix)
}

func newID(prefix string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(id[:]))
}
