package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"recink/internal/api"
	"recink/internal/blobstore"
	"recink/internal/config"
	"recink/internal/models"
	"recink/internal/store"
)

const testAPIKey = "test_12345"

func testServer(t *testing.T) *httptest.Server {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cas, err := blobstore.NewLocalCAS(t.TempDir())
	if err != nil {
		t.Fatalf("new cas: %v", err)
	}

	cfg := config.Default()
	cfg.APIKey = testAPIKey

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New("127.0.0.1:0", st, cas, &cfg, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, apiKey string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealthIsOpen(t *testing.T) {
	ts := testServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	ts := testServer(t)

	presignBody := api.PresignRequest{Items: []api.PresignItemRequest{{ContentType: "audio/wav"}}}

	resp := doJSON(t, ts, http.MethodPost, "/v1/uploads/presign", "", presignBody)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", resp.StatusCode)
	}
	errResp := decodeBody[api.ErrorResponse](t, resp)
	if errResp.Code != "unauthorized" || errResp.ErrorCode != ErrCodeUnauthorized {
		t.Fatalf("unexpected error body %#v", errResp)
	}

	resp = doJSON(t, ts, http.MethodPost, "/v1/uploads/presign", "wrong_key", presignBody)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, ts, http.MethodGet, "/v1/batches", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 listing batches without key, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestFullIngestFlowOverHTTP(t *testing.T) {
	ts := testServer(t)

	// Presign one slot.
	resp := doJSON(t, ts, http.MethodPost, "/v1/uploads/presign", testAPIKey, api.PresignRequest{
		Items: []api.PresignItemRequest{{Filename: "take.wav", ContentType: "audio/wav"}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("presign: expected 201, got %d", resp.StatusCode)
	}
	presigned := decodeBody[api.PresignResponse](t, resp)
	if len(presigned.Items) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(presigned.Items))
	}
	slot := presigned.Items[0]

	// Upload with the token only; no API key.
	req, err := http.NewRequest(http.MethodPut, ts.URL+slot.UploadURL, strings.NewReader("wav bytes"))
	if err != nil {
		t.Fatalf("new upload request: %v", err)
	}
	req.Header.Set("Content-Type", "audio/wav")
	uploadResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if uploadResp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: expected 201, got %d", uploadResp.StatusCode)
	}
	uploaded := decodeBody[api.UploadResponse](t, uploadResp)
	if !strings.HasPrefix(uploaded.BlobRef, "sha256:") {
		t.Fatalf("unexpected blob ref %q", uploaded.BlobRef)
	}

	// Register the blob as a recording.
	resp = doJSON(t, ts, http.MethodPost, "/v1/recordings", testAPIKey, api.RegisterRequest{
		BatchID: presigned.BatchID,
		Items: []api.RegisterItemRequest{
			{ClientItemID: "take-1", BlobRef: uploaded.BlobRef, Metadata: map[string]any{"lang": "en"}},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}
	registered := decodeBody[api.RegisterResponse](t, resp)
	if registered.Status != string(models.BatchStatusComplete) {
		t.Fatalf("expected complete status in register response, got %q", registered.Status)
	}
	if len(registered.Recordings) != 1 {
		t.Fatalf("expected 1 recording, got %d", len(registered.Recordings))
	}
	recordingID := registered.Recordings[0].RecordingID

	// Batch is complete.
	resp = doJSON(t, ts, http.MethodGet, "/v1/batches/"+presigned.BatchID, testAPIKey, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get batch: expected 200, got %d", resp.StatusCode)
	}
	batch := decodeBody[api.BatchResponse](t, resp)
	if batch.Status != "complete" {
		t.Fatalf("expected complete, got %s", batch.Status)
	}

	// Media round trips.
	mediaReq, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/recordings/"+recordingID+"/media", nil)
	if err != nil {
		t.Fatalf("new media request: %v", err)
	}
	mediaReq.Header.Set("X-API-Key", testAPIKey)
	mediaResp, err := http.DefaultClient.Do(mediaReq)
	if err != nil {
		t.Fatalf("media: %v", err)
	}
	defer mediaResp.Body.Close()
	if mediaResp.StatusCode != http.StatusOK {
		t.Fatalf("media: expected 200, got %d", mediaResp.StatusCode)
	}
	media, err := io.ReadAll(mediaResp.Body)
	if err != nil {
		t.Fatalf("read media: %v", err)
	}
	if string(media) != "wav bytes" {
		t.Fatalf("unexpected media %q", media)
	}
	if got := mediaResp.Header.Get("Content-Type"); got != "audio/wav" {
		t.Fatalf("expected audio/wav, got %q", got)
	}

	// Verify reports clean storage.
	resp = doJSON(t, ts, http.MethodPost, "/v1/admin/verify", testAPIKey, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d", resp.StatusCode)
	}
	verified := decodeBody[api.VerifyResponse](t, resp)
	if verified.CheckedBlobs != 1 || len(verified.Mismatches) != 0 {
		t.Fatalf("unexpected verify response %#v", verified)
	}

	// Delete removes the batch and its now-orphaned blob.
	resp = doJSON(t, ts, http.MethodDelete, "/v1/batches/"+presigned.BatchID, testAPIKey, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", resp.StatusCode)
	}
	deleted := decodeBody[api.DeleteBatchResponse](t, resp)
	if !deleted.Deleted || deleted.RemovedBlobs != 1 {
		t.Fatalf("unexpected delete response %#v", deleted)
	}
}

func TestUploadErrorsOverHTTP(t *testing.T) {
	ts := testServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/v1/uploads/presign", testAPIKey, api.PresignRequest{
		Items: []api.PresignItemRequest{{ContentType: "audio/wav"}},
	})
	presigned := decodeBody[api.PresignResponse](t, resp)
	slot := presigned.Items[0]

	// Wrong token.
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/v1/uploads/"+slot.UploadID+"?token=bogus", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "audio/wav")
	wrongToken, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if wrongToken.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", wrongToken.StatusCode)
	}
	errResp := decodeBody[api.ErrorResponse](t, wrongToken)
	if errResp.Code != "invalid_upload_token" || errResp.ErrorCode != ErrCodeInvalidUploadToken {
		t.Fatalf("unexpected error body %#v", errResp)
	}

	// Mismatched content type.
	req, err = http.NewRequest(http.MethodPut, ts.URL+slot.UploadURL, strings.NewReader("x"))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "audio/mpeg")
	mismatch, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if mismatch.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", mismatch.StatusCode)
	}
	errResp = decodeBody[api.ErrorResponse](t, mismatch)
	if errResp.Code != "content_type_mismatch" || errResp.ErrorCode != ErrCodeContentTypeMismatch {
		t.Fatalf("unexpected error body %#v", errResp)
	}
}

func TestRegisterInvalidJSON(t *testing.T) {
	ts := testServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/recordings", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	errResp := decodeBody[api.ErrorResponse](t, resp)
	if errResp.ErrorCode != ErrCodeInvalidJSON {
		t.Fatalf("unexpected error body %#v", errResp)
	}
}
