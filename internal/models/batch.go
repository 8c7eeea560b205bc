package models

import "time"

// BatchStatus is the derived lifecycle state of a batch. It is never
// stored; it is recomputed from slot and recording state on every read.
type BatchStatus string

const (
	BatchStatusOpen               BatchStatus = "open"
	BatchStatusPartiallyFulfilled BatchStatus = "partially_fulfilled"
	BatchStatusComplete           BatchStatus = "complete"
)

// Batch groups upload slots and the recordings registered against them.
type Batch struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// DeriveBatchStatus computes the batch status from its slots and
// recordings. A batch is complete when every slot is fulfilled and every
// fulfilled slot's blob ref is covered by at least one recording. It is
// partially fulfilled when at least one slot is fulfilled but the batch is
// not complete. It is open otherwise, including when it has no slots.
func DeriveBatchStatus(slots []UploadSlot, recordings []Recording) BatchStatus {
	if len(slots) == 0 {
		return BatchStatusOpen
	}

	registered := make(map[string]struct{}, len(recordings))
	for _, rec := range recordings {
		registered[rec.BlobRef] = struct{}{}
	}

	fulfilled := 0
	covered := 0
	for _, slot := range slots {
		if slot.State != SlotStateFulfilled {
			continue
		}
		fulfilled++
		if _, ok := registered[slot.BlobRef]; ok {
			covered++
		}
	}

	if fulfilled == 0 {
		return BatchStatusOpen
	}
	if fulfilled == len(slots) && covered == fulfilled {
		return BatchStatusComplete
	}
	return BatchStatusPartiallyFulfilled
}
