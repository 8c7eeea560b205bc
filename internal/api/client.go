package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	httpTimeoutEnvKey  = "RECINK_HTTP_TIMEOUT"
	apiKeyHeader       = "X-API-Key"
)

// Client is a simple HTTP client for the recink API.
type Client struct {
	baseURL string
	http    *http.Client
	apiKey  string
}

// NewClient creates a new API client. The key is sent on every request
// except health checks and token-authenticated uploads.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: httpTimeoutFromEnv()},
		apiKey:  strings.TrimSpace(apiKey),
	}
}

// Ping checks whether the API server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Presign requests upload slots for a new or existing batch.
func (c *Client) Presign(ctx context.Context, req PresignRequest) (PresignResponse, error) {
	var resp PresignResponse
	err := c.do(ctx, http.MethodPost, "/v1/uploads/presign", req, &resp)
	return resp, err
}

// Upload PUTs raw bytes against a presigned slot. The uploadURL is taken
// verbatim from a presign response; only host-relative URLs are resolved
// against the client base.
func (c *Client) Upload(ctx context.Context, uploadURL, contentType string, body io.Reader) (UploadResponse, error) {
	var resp UploadResponse

	endpoint := uploadURL
	if strings.HasPrefix(endpoint, "/") {
		endpoint = c.baseURL + endpoint
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, body)
	if err != nil {
		return resp, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return resp, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return resp, decodeError(httpResp)
	}
	err = json.NewDecoder(httpResp.Body).Decode(&resp)
	return resp, err
}

// Register registers uploaded blobs as recordings.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (RegisterResponse, error) {
	var resp RegisterResponse
	err := c.do(ctx, http.MethodPost, "/v1/recordings", req, &resp)
	return resp, err
}

// GetBatch fetches one batch with derived status.
func (c *Client) GetBatch(ctx context.Context, batchID string) (BatchResponse, error) {
	var resp BatchResponse
	err := c.do(ctx, http.MethodGet, "/v1/batches/"+url.PathEscape(batchID), nil, &resp)
	return resp, err
}

// ListBatches lists all batches, newest first.
func (c *Client) ListBatches(ctx context.Context) ([]BatchSummary, error) {
	var resp []BatchSummary
	err := c.do(ctx, http.MethodGet, "/v1/batches", nil, &resp)
	return resp, err
}

// DeleteBatch deletes one batch and garbage-collects orphaned blobs.
func (c *Client) DeleteBatch(ctx context.Context, batchID string) (DeleteBatchResponse, error) {
	var resp DeleteBatchResponse
	err := c.do(ctx, http.MethodDelete, "/v1/batches/"+url.PathEscape(batchID), nil, &resp)
	return resp, err
}

// DownloadMedia streams a recording's media bytes to w and returns the
// content type the server reported.
func (c *Client) DownloadMedia(ctx context.Context, recordingID string, w io.Writer) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/recordings/"+url.PathEscape(recordingID)+"/media", nil)
	if err != nil {
		return "", err
	}
	c.setAPIKey(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", decodeError(resp)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", err
	}
	return resp.Header.Get("Content-Type"), nil
}

// Verify runs a storage integrity sweep.
func (c *Client) Verify(ctx context.Context) (VerifyResponse, error) {
	var resp VerifyResponse
	err := c.do(ctx, http.MethodPost, "/v1/admin/verify", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAPIKey(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
		apiErr.Message = errResp.Error
		apiErr.Code = errResp.Code
		apiErr.ErrorCode = errResp.ErrorCode
		return apiErr
	}

	apiErr.Message = resp.Status
	return apiErr
}

func (c *Client) setAPIKey(req *http.Request) {
	if c.apiKey == "" || req == nil {
		return
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
}

func httpTimeoutFromEnv() time.Duration {
	value := strings.TrimSpace(os.Getenv(httpTimeoutEnvKey))
	if value == "" {
		return defaultHTTPTimeout
	}

	if duration, err := time.ParseDuration(value); err == nil && duration > 0 {
		return duration
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return defaultHTTPTimeout
}
