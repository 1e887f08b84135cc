package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/language"
)

const defaultHTTPTimeout = 300 * time.Second

// Config captures the runtime settings required to talk to the speech API.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	TimeoutSeconds int
}

// Client submits audio to an OpenAI-compatible transcription endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a speech client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			BaseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			APIKey:         strings.TrimSpace(cfg.APIKey),
			Model:          strings.TrimSpace(cfg.Model),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Transcription is the result of a successful transcription request.
type Transcription struct {
	Text     string
	Language string
}

// Transcribe submits the audio payload and returns the transcript. The
// filename hints the container format to the API.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename string) (Transcription, error) {
	var result Transcription
	if audio == nil {
		return result, errors.New("speech transcribe: audio reader required")
	}
	if c.cfg.APIKey == "" {
		return result, errors.New("speech transcribe: api key required")
	}
	if filename == "" {
		filename = "audio.m4a"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return result, fmt.Errorf("speech transcribe: build form: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return result, fmt.Errorf("speech transcribe: copy audio: %w", err)
	}
	if err := writer.WriteField("model", c.model()); err != nil {
		return result, fmt.Errorf("speech transcribe: build form: %w", err)
	}
	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return result, fmt.Errorf("speech transcribe: build form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return result, fmt.Errorf("speech transcribe: finalize form: %w", err)
	}

	endpoint, err := url.JoinPath(c.cfg.BaseURL, "audio/transcriptions")
	if err != nil {
		return result, fmt.Errorf("speech transcribe: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return result, fmt.Errorf("speech transcribe: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return result, fmt.Errorf("speech transcribe: http error: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, fmt.Errorf("speech transcribe: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("speech transcribe: http %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var decoded struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return result, fmt.Errorf("speech transcribe: decode response: %w", err)
	}
	result.Text = strings.TrimSpace(decoded.Text)
	result.Language = NormalizeLanguage(decoded.Language)
	if result.Text == "" {
		return result, errors.New("speech transcribe: empty transcript")
	}
	return result, nil
}

// HealthCheck verifies the endpoint is reachable and the key is accepted.
// It lists models rather than submitting audio so the check stays cheap.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return errors.New("speech health: api key required")
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "models")
	if err != nil {
		return fmt.Errorf("speech health: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("speech health: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("speech health: http error: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("speech health: http %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) model() string {
	if c.cfg.Model != "" {
		return c.cfg.Model
	}
	return "whisper-1"
}

// NormalizeLanguage canonicalizes the language value the API reports. Whisper
// style endpoints variously return BCP-47 tags ("en"), ISO codes ("eng"), or
// English names ("english"). Unrecognized values pass through lowercased.
func NormalizeLanguage(value string) string {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return ""
	}
	if tag, err := language.Parse(trimmed); err == nil {
		base, confidence := tag.Base()
		if confidence != language.No {
			return base.String()
		}
	}
	if tag := languageNameTags[trimmed]; tag != "" {
		return tag
	}
	return trimmed
}

var languageNameTags = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"russian":    "ru",
	"arabic":     "ar",
	"hindi":      "hi",
	"dutch":      "nl",
	"polish":     "pl",
	"swedish":    "sv",
	"danish":     "da",
	"norwegian":  "no",
	"finnish":    "fi",
}
