package render

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iago/manga-creator-back/internal/domain"
)

func testStore(t *testing.T) *ImageStore {
	t.Helper()
	store, err := NewImageStore(t.TempDir(), "/images/")
	if err != nil {
		t.Fatalf("create image store: %v", err)
	}
	return store
}

func testSpec() domain.PanelSpec {
	return domain.PanelSpec{
		PanelID:            "scene-000-panel-00",
		Mood:               "intense",
		Location:           "Forest",
		Time:               "Night",
		Actions:            []string{"Akira draws a sword"},
		Dialogue:           []string{"Akira: Hello"},
		CharactersInvolved: []string{"Akira"},
		Descriptions:       map[string]string{"Akira": "young swordsman"},
	}
}

func TestStableDiffusionRenderSuccess(t *testing.T) {
	imageBytes := []byte("fake-png-bytes")
	var received txt2imgRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sdapi/v1/txt2img" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"images": []string{base64.StdEncoding.EncodeToString(imageBytes)},
		})
	}))
	defer server.Close()

	store := testStore(t)
	renderer := NewStableDiffusionRenderer(StableDiffusionConfig{
		BaseURL:    server.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 1,
		Store:      store,
	})

	panel, err := renderer.Render(context.Background(), testSpec(), domain.StyleShoujo)
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if panel.Model != "meinamix_meina-v11" {
		t.Fatalf("unexpected model %q", panel.Model)
	}
	if !strings.HasPrefix(panel.ImageReference, "/images/panel_scene-000-panel-00_") {
		t.Fatalf("unexpected image reference %q", panel.ImageReference)
	}
	stored, err := os.ReadFile(filepath.Join(store.Dir(), strings.TrimPrefix(panel.ImageReference, "/images/")))
	if err != nil || string(stored) != string(imageBytes) {
		t.Fatalf("expected decoded image on disk, got %q err=%v", stored, err)
	}
	if received.Width != 512 || received.Height != 768 || received.Steps != 20 || received.SamplerName != "DPM++ 2M Karras" {
		t.Fatalf("unexpected payload %+v", received)
	}
	if !strings.Contains(received.Prompt, "character: young swordsman") || received.NegativePrompt == "" {
		t.Fatalf("unexpected prompt %q", received.Prompt)
	}
}

func TestStableDiffusionRetriesOnRateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"busy"}`))
			return
		}
		_, _ = w.Write([]byte(`{"images":["` + base64.StdEncoding.EncodeToString([]byte("ok")) + `"]}`))
	}))
	defer server.Close()

	renderer := NewStableDiffusionRenderer(StableDiffusionConfig{
		BaseURL:    server.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		Store:      testStore(t),
	})
	if _, err := renderer.Render(context.Background(), testSpec(), domain.StyleShounen); err != nil {
		t.Fatalf("expected success after retry, got err=%v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
}

func TestStableDiffusionClassifiesFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   domain.ErrorKind
	}{
		{"bad request", http.StatusBadRequest, `{"error":"bad"}`, domain.ErrorKindRender},
		{"unavailable", http.StatusServiceUnavailable, `{"error":"loading"}`, domain.ErrorKindUnavailable},
		{"no images", http.StatusOK, `{"images":[]}`, domain.ErrorKindRender},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))

		renderer := NewStableDiffusionRenderer(StableDiffusionConfig{
			BaseURL: server.URL,
			Timeout: time.Second,
			Store:   testStore(t),
		})
		_, err := renderer.Render(context.Background(), testSpec(), domain.StyleShounen)
		server.Close()

		var renderErr *RenderError
		if !errors.As(err, &renderErr) {
			t.Fatalf("%s: expected RenderError, got %v", tc.name, err)
		}
		if renderErr.Kind != tc.want || renderErr.PanelID != "scene-000-panel-00" {
			t.Fatalf("%s: unexpected error %+v", tc.name, renderErr)
		}
	}
}

func TestStableDiffusionTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	renderer := NewStableDiffusionRenderer(StableDiffusionConfig{
		BaseURL: server.URL,
		Timeout: 50 * time.Millisecond,
		Store:   testStore(t),
	})
	_, err := renderer.Render(context.Background(), testSpec(), domain.StyleShounen)

	var renderErr *RenderError
	if !errors.As(err, &renderErr) || renderErr.Kind != domain.ErrorKindTimeout {
		t.Fatalf("expected timeout render error, got %v", err)
	}
}

func TestStableDiffusionWithoutURLIsUnavailable(t *testing.T) {
	renderer := NewStableDiffusionRenderer(StableDiffusionConfig{Store: testStore(t)})
	if renderer.Available() {
		t.Fatalf("expected renderer without url to be unavailable")
	}
	if err := renderer.Ping(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from ping, got %v", err)
	}
	_, err := renderer.Render(context.Background(), testSpec(), domain.StyleShounen)
	var renderErr *RenderError
	if !errors.As(err, &renderErr) || renderErr.Kind != domain.ErrorKindUnavailable {
		t.Fatalf("expected unavailable render error, got %v", err)
	}
}

func TestStableDiffusionPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/ping" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	renderer := NewStableDiffusionRenderer(StableDiffusionConfig{BaseURL: server.URL, Store: testStore(t)})
	if err := renderer.Ping(context.Background()); err != nil {
		t.Fatalf("expected ping success, got %v", err)
	}
}
