// Package media talks to the external services that turn attachments into
// text: QR decoding, speech-to-text, and video description.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"botserver/pkg/config"
)

const defaultMaxBytes = 25 << 20

var (
	// ErrNotConfigured is returned when the endpoint for a service is empty.
	ErrNotConfigured = errors.New("media service not configured")
	// ErrNoResult is returned when a service answered without a payload.
	ErrNoResult = errors.New("media service returned no result")
)

// QRResult is a decoded QR code plus the service's full response.
type QRResult struct {
	Text string
	Raw  map[string]any
}

// Transcript is the text recognized in an audio attachment.
type Transcript struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// VideoDescription summarizes a video attachment.
type VideoDescription struct {
	Description string `json:"description"`
	FrameCount  int    `json:"frame_count"`
}

// Client calls the media services over HTTP.
type Client struct {
	http           *http.Client
	fetchHTTP      *http.Client
	fetchPolicy    fetchPolicy
	qrURL          string
	transcribeURL  string
	describeURL    string
	requestTimeout time.Duration
	maxBytes       int64
}

// New builds a client from the services config. A nil httpClient uses
// http.DefaultClient for the service calls. Attachment downloads use their
// own client that refuses internal addresses unless AllowPrivateFetch is set.
func New(cfg config.ServicesConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	maxBytes := cfg.MaxMediaBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	policy := newFetchPolicy(cfg.FetchAllowedHosts, cfg.AllowPrivateFetch)

	return &Client{
		http:           httpClient,
		fetchHTTP:      newFetchClient(policy, httpClient),
		fetchPolicy:    policy,
		qrURL:          strings.TrimSpace(cfg.QRDecodeURL),
		transcribeURL:  strings.TrimSpace(cfg.TranscribeURL),
		describeURL:    strings.TrimSpace(cfg.VideoDescribeURL),
		requestTimeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		maxBytes:       maxBytes,
	}
}

func mediaLogger() *slog.Logger {
	return slog.Default().With("component", "media.client")
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

// Fetch downloads an attachment. URLs outside the fetch policy fail with
// ErrFetchRefused.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	target, err := c.fetchPolicy.check(rawURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := mediaLogger().With("operation", "fetch")
	startedAt := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}

	resp, err := c.fetchHTTP.Do(req)
	if err != nil {
		log.Debug("media request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return nil, fmt.Errorf("fetch attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch attachment: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("attachment exceeds %d bytes", c.maxBytes)
	}
	log.Debug("media request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "bytes", len(data))
	return data, nil
}

// DecodeQR submits image bytes to the QR decode service.
func (c *Client) DecodeQR(ctx context.Context, image []byte, mediaType string) (QRResult, error) {
	var raw map[string]any
	if err := c.post(ctx, "decode_qr", c.qrURL, image, mediaType, &raw); err != nil {
		return QRResult{}, err
	}

	for _, field := range []string{"text", "data", "content"} {
		if text, ok := raw[field].(string); ok && strings.TrimSpace(text) != "" {
			return QRResult{Text: text, Raw: raw}, nil
		}
	}
	return QRResult{}, ErrNoResult
}

// Transcribe submits audio bytes to the speech-to-text service.
func (c *Client) Transcribe(ctx context.Context, audio []byte, mediaType string) (Transcript, error) {
	var transcript Transcript
	if err := c.post(ctx, "transcribe", c.transcribeURL, audio, mediaType, &transcript); err != nil {
		return Transcript{}, err
	}
	if strings.TrimSpace(transcript.Text) == "" {
		return Transcript{}, ErrNoResult
	}
	return transcript, nil
}

// DescribeVideo submits video bytes to the video description service.
func (c *Client) DescribeVideo(ctx context.Context, video []byte, mediaType string) (VideoDescription, error) {
	var description VideoDescription
	if err := c.post(ctx, "describe_video", c.describeURL, video, mediaType, &description); err != nil {
		return VideoDescription{}, err
	}
	if strings.TrimSpace(description.Description) == "" {
		return VideoDescription{}, ErrNoResult
	}
	return description, nil
}

func (c *Client) post(ctx context.Context, operation, endpoint string, payload []byte, mediaType string, out any) error {
	if endpoint == "" {
		return fmt.Errorf("%s: %w", operation, ErrNotConfigured)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := mediaLogger().With("operation", operation)
	startedAt := time.Now()
	log.Debug("media request started", "bytes", len(payload), "media_type", mediaType)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", operation, err)
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", mediaType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		log.Debug("media request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return fmt.Errorf("%s: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Debug("media request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "status", resp.StatusCode)
		return fmt.Errorf("%s: status %d: %s", operation, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", operation, err)
	}
	log.Debug("media request completed", "duration_ms", time.Since(startedAt).Milliseconds())
	return nil
}
