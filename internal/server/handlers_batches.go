package server

import (
	"net/http"

	"recink/internal/api"
	"recink/internal/models"
)

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := pathValueTrimmed(r, "batch_id")

	view, err := s.service.GetBatch(r.Context(), batchID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, api.BatchResponse{
		BatchID:    view.Batch.ID,
		Status:     string(view.Status),
		CreatedAt:  view.Batch.CreatedAt,
		Slots:      slotResponses(view.Slots),
		Recordings: recordingResponses(view.Recordings),
	})
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.service.ListBatches(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := make([]api.BatchSummary, 0, len(summaries))
	for _, summary := range summaries {
		resp = append(resp, api.BatchSummary{
			BatchID:   summary.Batch.ID,
			Status:    string(summary.Status),
			CreatedAt: summary.Batch.CreatedAt,
			SlotCount: summary.SlotCount,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	batchID := pathValueTrimmed(r, "batch_id")

	removed, err := s.service.DeleteBatch(r.Context(), batchID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, api.DeleteBatchResponse{
		BatchID:      batchID,
		Deleted:      true,
		RemovedBlobs: removed,
	})
}

func (s *Server) handleAdminVerify(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.VerifyBlobs(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := api.VerifyResponse{
		CheckedBlobs: result.Checked,
		Mismatches:   make([]api.VerifyMismatch, 0, len(result.Mismatches)),
	}
	for _, mismatch := range result.Mismatches {
		resp.Mismatches = append(resp.Mismatches, api.VerifyMismatch{
			BlobRef: mismatch.BlobRef,
			Error:   mismatch.Err,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func slotResponses(slots []models.UploadSlot) []api.SlotResponse {
	out := make([]api.SlotResponse, 0, len(slots))
	for _, slot := range slots {
		out = append(out, api.SlotResponse{
			UploadID:    slot.UploadID,
			Filename:    slot.Filename,
			ContentType: slot.ContentType,
			State:       string(slot.State),
			BlobRef:     slot.BlobRef,
			SizeBytes:   slot.SizeBytes,
			ExpiresAt:   slot.ExpiresAt,
			CreatedAt:   slot.CreatedAt,
		})
	}
	return out
}
