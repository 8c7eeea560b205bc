package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"recink/internal/api"
)

func writeJSON(payload any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(os.Stdout, format, args...)
	return err
}

func writeBatchDetail(batch api.BatchResponse) error {
	lines := []string{
		fmt.Sprintf("batch_id: %s", batch.BatchID),
		fmt.Sprintf("status: %s", batch.Status),
		fmt.Sprintf("created_at: %s", formatTime(batch.CreatedAt)),
	}

	if len(batch.Slots) > 0 {
		lines = append(lines, "slots:")
		for _, slot := range batch.Slots {
			line := fmt.Sprintf("  - %s [%s] %s", slot.UploadID, slot.State, slot.ContentType)
			if slot.Filename != "" {
				line += " " + slot.Filename
			}
			if slot.BlobRef != "" {
				line += " -> " + slot.BlobRef
			}
			lines = append(lines, line)
		}
	}
	if len(batch.Recordings) > 0 {
		lines = append(lines, "recordings:")
		for _, rec := range batch.Recordings {
			line := fmt.Sprintf("  - %s %s", rec.RecordingID, rec.BlobRef)
			if rec.ClientItemID != "" {
				line += " (" + rec.ClientItemID + ")"
			}
			lines = append(lines, line)
		}
	}

	return writePlain("%s\n", strings.Join(lines, "\n"))
}

func writeBatchList(batches []api.BatchSummary) error {
	for _, batch := range batches {
		if err := writePlain("%s [%s] slots=%d created=%s\n",
			batch.BatchID, batch.Status, batch.SlotCount, formatTime(batch.CreatedAt)); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
