package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPercentileNearestRank(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(values, 0.5); got != 5 {
		t.Fatalf("expected p50 5, got %v", got)
	}
	if got := percentile(values, 0.95); got != 10 {
		t.Fatalf("expected p95 10, got %v", got)
	}
	if got := percentile(nil, 0.5); got != 0 {
		t.Fatalf("expected 0 for empty input, got %v", got)
	}
}

func TestRunScenarioCountsErrors(t *testing.T) {
	result := runScenario(context.Background(), "sample", 10, 3, func(_ context.Context, index int) error {
		if index%5 == 0 {
			return errors.New("boom")
		}
		return nil
	})
	if result.Total != 10 || result.Success != 8 || result.Errors != 2 || len(result.ErrorSamples) != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestParseLocalPrintsStoryboard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chapter.txt")
	if err := os.WriteFile(path, []byte(benchScript+"\nstray line"), 0o600); err != nil {
		t.Fatalf("write script: %v", err)
	}

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"parse", "--local", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	text := out.String()
	for _, want := range []string{"Training Hall", "River Bank", "splash", "scene-000-panel-00", "untagged text"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}
}
