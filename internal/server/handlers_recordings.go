package server

import (
	"io"
	"net/http"
	"strconv"

	"recink/internal/api"
	"recink/internal/models"
)

func (s *Server) handleRegisterRecordings(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}

	in := RegisterInput{
		BatchID:        req.BatchID,
		IdempotencyKey: req.IdempotencyKey,
	}
	for _, item := range req.Items {
		in.Items = append(in.Items, RegisterItemInput{
			ClientItemID: item.ClientItemID,
			BlobRef:      item.BlobRef,
			Metadata:     item.Metadata,
		})
	}

	result, err := s.service.RegisterRecordings(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := api.RegisterResponse{
		BatchID:    req.BatchID,
		Status:     string(result.Status),
		Recordings: recordingResponses(result.Recordings),
		Replayed:   result.Replayed,
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleRecordingMedia(w http.ResponseWriter, r *http.Request) {
	recordingID := pathValueTrimmed(r, "recording_id")

	content, err := s.service.OpenRecordingMedia(r.Context(), recordingID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer content.Reader.Close()

	w.Header().Set("Content-Type", content.ContentType)
	if content.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(content.SizeBytes, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, content.Reader); err != nil {
		s.log().Error("stream recording media", "recording_id", recordingID, "error", err)
	}
}

func recordingResponses(recordings []models.Recording) []api.RecordingResponse {
	out := make([]api.RecordingResponse, 0, len(recordings))
	for _, rec := range recordings {
		out = append(out, api.RecordingResponse{
			RecordingID:  rec.ID,
			BatchID:      rec.BatchID,
			ClientItemID: rec.ClientItemID,
			BlobRef:      rec.BlobRef,
			ContentType:  rec.ContentType,
			Metadata:     rec.Metadata,
			CreatedAt:    rec.CreatedAt,
		})
	}
	return out
}
