package models

import (
	"fmt"
	"strings"
	"time"
)

// SlotState describes the lifecycle of one upload slot.
//
// pending -> fulfilled (terminal) on a successful upload, or
// pending -> expired (terminal) when the token lapses before the upload.
// No other transitions exist.
type SlotState string

const (
	SlotStatePending   SlotState = "pending"
	SlotStateFulfilled SlotState = "fulfilled"
	SlotStateExpired   SlotState = "expired"
)

var validSlotStates = map[SlotState]struct{}{
	SlotStatePending:   {},
	SlotStateFulfilled: {},
	SlotStateExpired:   {},
}

func ParseSlotState(raw string) (SlotState, error) {
	value := SlotState(strings.ToLower(strings.TrimSpace(raw)))
	if value == "" {
		return "", fmt.Errorf("slot state is required")
	}
	if _, ok := validSlotStates[value]; !ok {
		return "", fmt.Errorf("invalid slot state: %s", value)
	}
	return value, nil
}

// UploadSlot is a reservation for exactly one upload, bound to a batch and
// a single-use token. The token itself is never persisted; only its sha256
// hash is stored.
type UploadSlot struct {
	UploadID    string     `json:"upload_id"`
	BatchID     string     `json:"batch_id"`
	Filename    string     `json:"filename,omitempty"`
	ContentType string     `json:"content_type"`
	TokenHash   string     `json:"-"`
	State       SlotState  `json:"state"`
	BlobRef     string     `json:"blob_ref,omitempty"`
	SizeBytes   int64      `json:"size_bytes,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CreatedAt   time.Time  `json:"created_at"`
	FulfilledAt *time.Time `json:"fulfilled_at,omitempty"`
}

// TokenExpired reports whether the slot's token validity window has passed.
func (s UploadSlot) TokenExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
