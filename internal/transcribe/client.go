package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"subsync/internal/ident"
	"subsync/internal/logging"
)

const userAgent = "subsync/0.1.0"

// ErrCacheMiss reports that the service has no cached result for a media
// identity.
var ErrCacheMiss = errors.New("no cached subtitles for media")

// StatusError is a non-2xx service response carrying the human-readable
// error string from the body.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("service returned %d", e.Code)
	}
	return fmt.Sprintf("service returned %d: %s", e.Code, e.Message)
}

// Client talks to the whisper transcription service.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient constructs a service client. The API key is sent as X-API-Key
// on every request when present.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  &http.Client{Timeout: timeout},
		logger:  logging.NewComponentLogger(logger, "transcribe"),
	}
}

// Submit starts a transcription job for a remote media reference and
// returns the service-issued job handle. Exactly one request, no retries.
func (c *Client) Submit(ctx context.Context, ref ident.MediaRef, settings Settings) (string, error) {
	if ref.Kind != ident.KindRemote {
		return "", fmt.Errorf("%w: submit requires a remote reference, got %s", ident.ErrInvalidReference, ref.Kind)
	}
	if err := settings.Validate(); err != nil {
		return "", err
	}

	payload := submitRequest{
		VideoURL:   ref.Source,
		Language:   settings.Language,
		TargetLang: settings.TargetLanguage,
	}
	settings.Profile.apply(&payload)

	var resp submitResponse
	if err := c.postJSON(ctx, "/transcribe", payload, &resp); err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", errors.New("service response missing task_id")
	}
	c.logger.Debug("job submitted",
		logging.String(logging.FieldMediaID, ref.ID),
		logging.String(logging.FieldJobID, resp.TaskID),
	)
	return resp.TaskID, nil
}

// SubmitPlaylist starts a fire-and-forget batch job for a playlist
// reference. Per-item results are retrieved later via CachedSubtitles.
func (c *Client) SubmitPlaylist(ctx context.Context, ref ident.MediaRef, settings Settings) error {
	if ref.Kind != ident.KindPlaylist {
		return fmt.Errorf("%w: playlist submission requires a playlist reference, got %s", ident.ErrInvalidReference, ref.Kind)
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	single := submitRequest{}
	settings.Profile.apply(&single)
	payload := playlistRequest{
		PlaylistURL: ref.Source,
		Language:    settings.Language,
		Service:     single.Service,
		APIKey:      single.APIKey,
		TargetLang:  settings.TargetLanguage,
	}
	return c.postJSON(ctx, "/transcribe_playlist", payload, nil)
}

// Upload submits a locally supplied media file through the multipart
// ingestion path. The returned job handle follows the same tracking
// contract as Submit.
func (c *Client) Upload(ctx context.Context, ref ident.MediaRef, settings Settings) (string, error) {
	if ref.Kind != ident.KindFile {
		return "", fmt.Errorf("%w: upload requires a file reference, got %s", ident.ErrInvalidReference, ref.Kind)
	}
	if err := settings.Validate(); err != nil {
		return "", err
	}

	file, err := os.Open(ref.Source)
	if err != nil {
		return "", fmt.Errorf("open media file: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(ref.Source))
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("copy media file: %w", err)
	}

	fields := submitRequest{Language: settings.Language, TargetLang: settings.TargetLanguage}
	settings.Profile.apply(&fields)
	formValues := map[string]string{
		"language":    fields.Language,
		"service":     fields.Service,
		"target_lang": fields.TargetLang,
	}
	for key, value := range formValues {
		if value == "" {
			continue
		}
		if err := writer.WriteField(key, value); err != nil {
			return "", fmt.Errorf("write upload field %s: %w", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize upload form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp submitResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", errors.New("service response missing task_id")
	}
	return resp.TaskID, nil
}

// Task fetches the current status of a job.
func (c *Client) Task(ctx context.Context, jobID string) (TaskStatus, error) {
	var status TaskStatus
	if strings.TrimSpace(jobID) == "" {
		return status, errors.New("job id required")
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/task/"+url.PathEscape(jobID), nil)
	if err != nil {
		return status, err
	}
	if err := c.do(req, &status); err != nil {
		return status, err
	}
	return status, nil
}

// CachedSubtitles probes the service-side cache for a media identity.
// Returns ErrCacheMiss when the service has nothing for it.
func (c *Client) CachedSubtitles(ctx context.Context, mediaID string) (*CacheRecord, error) {
	if strings.TrimSpace(mediaID) == "" {
		return nil, errors.New("media id required")
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/status/"+url.PathEscape(mediaID), nil)
	if err != nil {
		return nil, err
	}
	var record CacheRecord
	if err := c.do(req, &record); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrCacheMiss, mediaID)
		}
		return nil, err
	}
	return &record, nil
}

// Health checks service availability.
func (c *Client) Health(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if id, ok := logging.CorrelationIDFromContext(ctx); ok {
		req.Header.Set("X-Request-ID", id)
	} else {
		req.Header.Set("X-Request-ID", uuid.NewString())
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Message: readErrorBody(resp.Body)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// readErrorBody extracts the human-readable error string: FastAPI wraps it
// as {"detail": ...}, older deployments send plain text.
func readErrorBody(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	trimmed := strings.TrimSpace(string(data))
	var wrapped struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Detail != "" {
		return wrapped.Detail
	}
	return trimmed
}
