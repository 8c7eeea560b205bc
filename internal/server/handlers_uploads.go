package server

import (
	"net/http"

	"recink/internal/api"
)

func (s *Server) handlePresign(w http.ResponseWriter, r *http.Request) {
	var req api.PresignRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}

	in := PresignInput{BatchID: req.BatchID}
	for _, item := range req.Items {
		in.Items = append(in.Items, PresignItemInput{
			Filename:    item.Filename,
			ContentType: item.ContentType,
		})
	}

	result, err := s.service.IssuePresign(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := api.PresignResponse{
		BatchID:          result.Batch.ID,
		ExpiresInSeconds: result.ExpiresIn,
		Items:            make([]api.PresignedUpload, 0, len(result.Slots)),
	}
	for _, slot := range result.Slots {
		resp.Items = append(resp.Items, api.PresignedUpload{
			UploadID:        slot.Slot.UploadID,
			UploadURL:       slot.UploadURL,
			RequiredHeaders: map[string]string{"Content-Type": slot.Slot.ContentType},
			ContentType:     slot.Slot.ContentType,
		})
	}

	s.writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	uploadID := pathValueTrimmed(r, "upload_id")
	token := r.URL.Query().Get("token")

	body := http.MaxBytesReader(w, r.Body, s.uploads.MaxUploadBytes)
	defer body.Close()

	slot, err := s.service.ReceiveUpload(r.Context(), uploadID, token, r.Header.Get("Content-Type"), body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, api.UploadResponse{
		UploadID:  slot.UploadID,
		BlobRef:   slot.BlobRef,
		SizeBytes: slot.SizeBytes,
	})
}
