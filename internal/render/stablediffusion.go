package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iago/manga-creator-back/internal/domain"
)

type StableDiffusionConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	Router     *ModelRouter
	Store      *ImageStore
}

// StableDiffusionRenderer talks to an AUTOMATIC1111-compatible txt2img API.
type StableDiffusionRenderer struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
	router     *ModelRouter
	store      *ImageStore
	now        func() time.Time
}

func NewStableDiffusionRenderer(config StableDiffusionConfig) *StableDiffusionRenderer {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if config.Router == nil {
		config.Router = NewModelRouter(ModelRouterConfig{})
	}

	return &StableDiffusionRenderer{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(config.BaseURL), "/"),
		timeout:    config.Timeout,
		maxRetries: config.MaxRetries,
		httpClient: config.HTTPClient,
		router:     config.Router,
		store:      config.Store,
		now:        time.Now,
	}
}

func (r *StableDiffusionRenderer) Available() bool {
	return r.baseURL != "" && r.store != nil
}

// Ping checks that the backend answers its health endpoint.
func (r *StableDiffusionRenderer) Ping(ctx context.Context) error {
	if !r.Available() {
		return ErrUnavailable
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	request, err := http.NewRequestWithContext(pingCtx, http.MethodGet, r.baseURL+"/internal/ping", nil)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}
	response, err := r.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: ping status %d", ErrUnavailable, response.StatusCode)
	}
	return nil
}

func (r *StableDiffusionRenderer) Render(ctx context.Context, spec domain.PanelSpec, style domain.Style) (domain.RenderedPanel, error) {
	if !r.Available() {
		return domain.RenderedPanel{}, Classify(spec.PanelID, ErrUnavailable)
	}

	profile := r.router.Select(style)
	prompt := BuildPrompt(spec, style)
	payload := txt2imgRequest{
		Prompt:         prompt,
		NegativePrompt: NegativePrompt(),
		Steps:          profile.Steps,
		CFGScale:       profile.CFGScale,
		Width:          profile.Width,
		Height:         profile.Height,
		SamplerName:    profile.Sampler,
		Seed:           -1,
		BatchSize:      1,
		NIter:          1,
		OverrideSettings: map[string]any{
			"sd_model_checkpoint": profile.Checkpoint,
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return domain.RenderedPanel{}, Classify(spec.PanelID, fmt.Errorf("marshal txt2img payload: %w", err))
	}

	var (
		image   []byte
		lastErr error
	)
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		image, lastErr = r.callTxt2Img(ctx, encoded)
		if lastErr == nil {
			break
		}
		if !isRetryableBackendError(lastErr) || attempt == r.maxRetries {
			break
		}

		backoff := time.Duration(350*(attempt+1)) * time.Millisecond
		select {
		case <-ctx.Done():
			return domain.RenderedPanel{}, Classify(spec.PanelID, ctx.Err())
		case <-time.After(backoff):
		}
	}
	if lastErr != nil {
		return domain.RenderedPanel{}, Classify(spec.PanelID, lastErr)
	}

	url, err := r.store.Save(spec.PanelID, image)
	if err != nil {
		return domain.RenderedPanel{}, Classify(spec.PanelID, err)
	}

	return domain.RenderedPanel{
		PanelID:        spec.PanelID,
		SceneIndex:     spec.SceneIndex,
		ImageReference: url,
		Prompt:         prompt,
		Model:          profile.Checkpoint,
		GeneratedAt:    r.now().UTC(),
	}, nil
}

func (r *StableDiffusionRenderer) callTxt2Img(ctx context.Context, payload []byte) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(
		timeoutCtx,
		http.MethodPost,
		r.baseURL+"/sdapi/v1/txt2img",
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("create txt2img request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json")

	httpResponse, err := r.httpClient.Do(httpRequest)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("txt2img timeout: %w", context.DeadlineExceeded)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: txt2img transport error: %v", ErrUnavailable, err)
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, fmt.Errorf("read txt2img body: %w", err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		message := strings.TrimSpace(string(body))
		if len(message) > 700 {
			message = message[:700]
		}
		return nil, &backendHTTPError{
			StatusCode: httpResponse.StatusCode,
			Message:    message,
		}
	}

	var raw txt2imgResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode txt2img response: %w", err)
	}
	if len(raw.Images) == 0 || strings.TrimSpace(raw.Images[0]) == "" {
		return nil, errors.New("txt2img response without images")
	}

	encoded := raw.Images[0]
	// Some builds prefix the payload with a data URI header.
	if _, after, found := strings.Cut(encoded, "base64,"); found {
		encoded = after
	}
	image, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode txt2img image: %w", err)
	}
	return image, nil
}

type txt2imgRequest struct {
	Prompt           string         `json:"prompt"`
	NegativePrompt   string         `json:"negative_prompt"`
	Steps            int            `json:"steps"`
	CFGScale         float64        `json:"cfg_scale"`
	Width            int            `json:"width"`
	Height           int            `json:"height"`
	SamplerName      string         `json:"sampler_name"`
	Seed             int64          `json:"seed"`
	BatchSize        int            `json:"batch_size"`
	NIter            int            `json:"n_iter"`
	OverrideSettings map[string]any `json:"override_settings,omitempty"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
}

type backendHTTPError struct {
	StatusCode int
	Message    string
}

func (e *backendHTTPError) Error() string {
	return fmt.Sprintf("stable diffusion status %d: %s", e.StatusCode, e.Message)
}

// Unwrap lets a 503 surface as ErrUnavailable.
func (e *backendHTTPError) Unwrap() error {
	if e.StatusCode == http.StatusServiceUnavailable {
		return ErrUnavailable
	}
	return nil
}

func isRetryableBackendError(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *backendHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrUnavailable)
}
