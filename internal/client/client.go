package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iago/manga-creator-back/internal/domain"
	"github.com/iago/manga-creator-back/internal/script"
	"github.com/iago/manga-creator-back/internal/status"
	"github.com/iago/manga-creator-back/internal/storyboard"
)

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s (request_id=%s)", e.StatusCode, e.Code, e.Message, e.RequestID)
}

type Script struct {
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	Style      domain.Style `json:"style"`
	ParsedData struct {
		Scenes        []domain.Scene `json:"scenes"`
		TotalScenes   int            `json:"total_scenes"`
		CharacterList []string       `json:"character_list"`
	} `json:"parsed_data"`
	Skipped   []script.SkippedSpan `json:"skipped"`
	CreatedAt time.Time            `json:"created_at"`
}

type Storyboard struct {
	ScriptID    string            `json:"script_id"`
	TotalPanels int               `json:"total_panels"`
	Pages       []storyboard.Page `json:"pages"`
}

type Accepted struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	StatusURL   string `json:"status_url"`
	TotalPanels int    `json:"total_panels"`
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      token,
		httpClient: httpClient,
	}
}

func (c *Client) ParseScript(ctx context.Context, title, content, style string) (*Script, error) {
	var out Script
	payload := map[string]string{"title": title, "content": content, "style": style}
	if err := c.do(ctx, http.MethodPost, "/api/scripts/parse", payload, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Storyboard(ctx context.Context, scriptID string) (*Storyboard, error) {
	var out Storyboard
	if err := c.do(ctx, http.MethodGet, "/api/scripts/"+url.PathEscape(scriptID)+"/storyboard", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Generate starts a job. A non-empty idempotencyKey makes retries safe.
func (c *Client) Generate(ctx context.Context, scriptID, style string, splitDialogue *bool, idempotencyKey string) (*Accepted, error) {
	payload := map[string]any{"script_id": scriptID}
	if style != "" {
		payload["style"] = style
	}
	if splitDialogue != nil {
		payload["options"] = map[string]bool{"split_dialogue": *splitDialogue}
	}
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}

	var out Accepted
	if err := c.do(ctx, http.MethodPost, "/api/generate/manga", payload, headers, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Status(ctx context.Context, jobID string) (*status.Snapshot, error) {
	var out status.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/generate/status/"+url.PathEscape(jobID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Cancel(ctx context.Context, jobID string) (*status.Snapshot, error) {
	var out status.Snapshot
	if err := c.do(ctx, http.MethodPost, "/api/generate/cancel/"+url.PathEscape(jobID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Watch polls a job until it is terminal, calling onUpdate for every snapshot.
func (c *Client) Watch(
	ctx context.Context,
	jobID string,
	interval time.Duration,
	onUpdate func(*status.Snapshot),
) (*status.Snapshot, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		snapshot, err := c.Status(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if onUpdate != nil {
			onUpdate(snapshot)
		}
		if snapshot.Status.Terminal() {
			return snapshot, nil
		}

		select {
		case <-ctx.Done():
			return snapshot, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload any, headers map[string]string, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if response.StatusCode >= 300 {
		return decodeAPIError(response.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(statusCode int, raw []byte) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		RequestID string `json:"request_id"`
	}
	apiErr := &APIError{StatusCode: statusCode}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		apiErr.Code = "unexpected_response"
		apiErr.Message = strings.TrimSpace(string(raw))
		return apiErr
	}
	apiErr.Code = envelope.Error.Code
	apiErr.Message = envelope.Error.Message
	apiErr.RequestID = envelope.RequestID
	return apiErr
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
