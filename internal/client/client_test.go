package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iago/manga-creator-back/internal/domain"
	"github.com/iago/manga-creator-back/internal/status"
)

func TestGenerateSendsOptionsAndToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate/manga" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" || r.Header.Get("Idempotency-Key") != "key-1" {
			t.Errorf("missing headers %v", r.Header)
		}
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		options, _ := payload["options"].(map[string]any)
		if payload["script_id"] != "s-1" || options["split_dialogue"] != true {
			t.Errorf("unexpected payload %+v", payload)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(Accepted{JobID: "j-1", Status: "pending", TotalPanels: 3})
	}))
	defer server.Close()

	split := true
	accepted, err := New(server.URL+"/", "secret", server.Client()).Generate(context.Background(), "s-1", "", &split, "key-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if accepted.JobID != "j-1" || accepted.TotalPanels != 3 {
		t.Fatalf("unexpected accepted %+v", accepted)
	}
}

func TestErrorEnvelopeIsDecoded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"not_found","message":"resource not found"},"request_id":"r-1"}`))
	}))
	defer server.Close()

	_, err := New(server.URL, "", server.Client()).Status(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "not_found" || apiErr.RequestID != "r-1" {
		t.Fatalf("unexpected error %v", err)
	}
	if !IsNotFound(err) {
		t.Fatalf("expected IsNotFound")
	}
}

func TestWatchStopsAtTerminalStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		snapshot := status.Snapshot{JobID: "j-1", Status: domain.JobStatusProcessing, Progress: float64(n) / 4}
		if n == 3 {
			snapshot.Status = domain.JobStatusCompleted
			snapshot.Progress = 1
		}
		_ = json.NewEncoder(w).Encode(snapshot)
	}))
	defer server.Close()

	updates := 0
	final, err := New(server.URL, "", server.Client()).Watch(context.Background(), "j-1", 5*time.Millisecond, func(*status.Snapshot) {
		updates++
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if final.Status != domain.JobStatusCompleted || updates != 3 {
		t.Fatalf("unexpected watch result status=%s updates=%d", final.Status, updates)
	}
}
