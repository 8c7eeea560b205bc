package server

import (
	"net/http"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /health", s.handleHealth)

	// Presign and uploads. The PUT endpoint authenticates with its
	// single-use token instead of the API key.
	mux.HandleFunc("POST /v1/uploads/presign", s.withAuth(s.handlePresign))
	mux.HandleFunc("PUT /v1/uploads/{upload_id}", s.handleUpload)

	// Recordings.
	mux.HandleFunc("POST /v1/recordings", s.withAuth(s.handleRegisterRecordings))
	mux.HandleFunc("GET /v1/recordings/{recording_id}/media", s.withAuth(s.handleRecordingMedia))

	// Batches.
	mux.HandleFunc("GET /v1/batches", s.withAuth(s.handleListBatches))
	mux.HandleFunc("GET /v1/batches/{batch_id}", s.withAuth(s.handleGetBatch))
	mux.HandleFunc("DELETE /v1/batches/{batch_id}", s.withAuth(s.handleDeleteBatch))

	// Admin.
	mux.HandleFunc("POST /v1/admin/verify", s.withAuth(s.handleAdminVerify))

	return mux
}
