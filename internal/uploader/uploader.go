package uploader

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
	"strconv"
	"strings"
	"time"

	"hearth/internal/capture"
	"hearth/internal/config"
	"hearth/internal/logging"
)

const userAgent = "Hearth-Go/0.1.0"

// Client uploads outbox artifacts to the server's capture endpoint.
type Client struct {
	store      *capture.Store
	baseURL    string
	token      string
	maxRetries int
	httpClient *http.Client
	logger     *slog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient builds an uploader for the given outbox.
func NewClient(store *capture.Store, cfg *config.Config, opts ...Option) *Client {
	timeout := 60 * time.Second
	maxRetries := 3
	baseURL := ""
	token := ""
	if cfg != nil {
		if cfg.Capture.UploadTimeoutSeconds > 0 {
			timeout = time.Duration(cfg.Capture.UploadTimeoutSeconds) * time.Second
		}
		if cfg.Capture.MaxRetries > 0 {
			maxRetries = cfg.Capture.MaxRetries
		}
		baseURL = strings.TrimRight(cfg.Server.UploadURL, "/")
		token = cfg.Server.APIToken
	}
	client := &Client{
		store:      store,
		baseURL:    baseURL,
		token:      token,
		maxRetries: maxRetries,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger(nil, "uploader"),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "uploader")
	}
}

// uploadResponse is the server's acknowledgement of a stored capture.
type uploadResponse struct {
	NoteID int64 `json:"note_id"`
}

// UploadOne claims and uploads a single artifact. The artifact row is deleted
// on success; on failure the attempt is recorded and the artifact either goes
// back to pending or parks as failed.
func (c *Client) UploadOne(ctx context.Context, id string) error {
	if c.baseURL == "" {
		return errors.New("upload url not configured")
	}

	claimed, err := c.store.MarkUploading(ctx, id)
	if err != nil {
		return fmt.Errorf("claim artifact: %w", err)
	}
	if !claimed {
		return fmt.Errorf("artifact %s is not pending", id)
	}

	artifact, err := c.store.GetByID(ctx, id)
	if err != nil {
		return c.recordFailure(ctx, nil, id, err, false)
	}
	if artifact == nil {
		return fmt.Errorf("artifact %s vanished after claim", id)
	}

	if err := c.push(ctx, artifact); err != nil {
		return c.recordFailure(ctx, artifact, id, err, isPermanentUploadError(err))
	}

	if _, err := c.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("remove uploaded artifact: %w", err)
	}
	c.logger.Info("artifact uploaded",
		logging.Args(
			logging.String(logging.FieldArtifactID, artifact.ID),
			logging.String(logging.FieldVisitID, artifact.VisitID),
			logging.Int64("bytes", artifact.SizeBytes),
		)...)
	return nil
}

// DrainAll uploads every artifact that was pending when the drain began,
// sequentially, checking ctx between items. A failing artifact is recorded
// and skipped so the rest of the batch still gets its attempt. Returns how
// many uploads succeeded and how many failed.
func (c *Client) DrainAll(ctx context.Context) (uploaded, failed int, err error) {
	pending, err := c.store.List(ctx, capture.StatusPending)
	if err != nil {
		return 0, 0, err
	}
	for _, artifact := range pending {
		if err := ctx.Err(); err != nil {
			return uploaded, failed, err
		}
		if err := c.UploadOne(ctx, artifact.ID); err != nil {
			failed++
			c.logger.Warn("artifact upload failed",
				logging.Args(
					logging.String(logging.FieldArtifactID, artifact.ID),
					logging.Error(err),
				)...)
			continue
		}
		uploaded++
	}
	return uploaded, failed, nil
}

// push performs the capture upload and any attachment uploads.
func (c *Client) push(ctx context.Context, artifact *capture.Artifact) error {
	payload, err := c.store.Payload(ctx, artifact.ID)
	if err != nil {
		return fmt.Errorf("load payload: %w", err)
	}

	body, contentType, err := buildCaptureForm(artifact, payload)
	if err != nil {
		return err
	}

	var ack uploadResponse
	if err := c.post(ctx, c.baseURL+"/api/captures", artifact.ID, body, contentType, &ack); err != nil {
		return err
	}

	attachments, err := c.store.Attachments(ctx, artifact.ID)
	if err != nil {
		return fmt.Errorf("load attachments: %w", err)
	}
	for _, attachment := range attachments {
		attachmentPayload, err := c.store.AttachmentPayload(ctx, attachment.ID)
		if err != nil {
			return fmt.Errorf("load attachment %d: %w", attachment.ID, err)
		}
		body, contentType, err := buildAttachmentForm(attachment, attachmentPayload)
		if err != nil {
			return err
		}
		endpoint := c.baseURL + "/api/captures/" + url.PathEscape(artifact.ID) + "/attachments"
		idempotencyKey := fmt.Sprintf("%s-attachment-%d", artifact.ID, attachment.ID)
		if err := c.post(ctx, endpoint, idempotencyKey, body, contentType, nil); err != nil {
			return fmt.Errorf("upload attachment %d: %w", attachment.ID, err)
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint, idempotencyKey string, body *bytes.Buffer, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) recordFailure(ctx context.Context, artifact *capture.Artifact, id string, cause error, permanentCause bool) error {
	attempts := 1
	if artifact != nil {
		attempts = artifact.RetryCount + 1
	}
	permanent := permanentCause || attempts >= c.maxRetries
	if err := c.store.RecordFailure(ctx, id, cause.Error(), permanent); err != nil {
		return fmt.Errorf("record failure: %w (upload error: %v)", err, cause)
	}
	c.logger.Warn("artifact upload failed",
		logging.Args(
			logging.String(logging.FieldArtifactID, id),
			logging.Int(logging.FieldAttempt, attempts),
			logging.Bool("permanent", permanent),
			logging.Error(cause),
		)...)
	return fmt.Errorf("upload artifact %s: %w", id, cause)
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("server returned status %d", e.code)
	}
	return fmt.Sprintf("server returned status %d: %s", e.code, e.body)
}

// isPermanentUploadError reports whether the server rejected the artifact
// itself rather than the attempt. Auth problems and throttling are worth
// retrying once fixed; a 4xx validation rejection is not.
func isPermanentUploadError(err error) bool {
	var status *statusError
	if !errors.As(err, &status) {
		return false
	}
	switch status.code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return status.code >= 400 && status.code < 500
}

func buildCaptureForm(artifact *capture.Artifact, payload []byte) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)

	fields := map[string]string{
		"artifact_id":      artifact.ID,
		"visit_id":         artifact.VisitID,
		"kind":             string(artifact.Kind),
		"label":            artifact.Label,
		"mime_type":        artifact.MimeType,
		"duration_seconds": strconv.FormatFloat(artifact.DurationSeconds, 'f', -1, 64),
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := form.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", name, err)
		}
	}

	part, err := form.CreateFormFile("payload", artifact.ID+extensionForMime(artifact.MimeType))
	if err != nil {
		return nil, "", fmt.Errorf("create payload part: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return nil, "", fmt.Errorf("write payload: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, "", fmt.Errorf("finalize form: %w", err)
	}
	return body, form.FormDataContentType(), nil
}

func buildAttachmentForm(attachment capture.Attachment, payload []byte) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)

	if attachment.Label != "" {
		if err := form.WriteField("label", attachment.Label); err != nil {
			return nil, "", fmt.Errorf("write label: %w", err)
		}
	}
	if attachment.MimeType != "" {
		if err := form.WriteField("mime_type", attachment.MimeType); err != nil {
			return nil, "", fmt.Errorf("write mime type: %w", err)
		}
	}
	part, err := form.CreateFormFile("payload", fmt.Sprintf("attachment-%d%s", attachment.ID, extensionForMime(attachment.MimeType)))
	if err != nil {
		return nil, "", fmt.Errorf("create payload part: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return nil, "", fmt.Errorf("write payload: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, "", fmt.Errorf("finalize form: %w", err)
	}
	return body, form.FormDataContentType(), nil
}

func extensionForMime(mimeType string) string {
	switch mimeType {
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4", "audio/m4a":
		return ".m4a"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/webm":
		return ".webm"
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	default:
		return ".bin"
	}
}
