package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesToStdoutAndFile(t *testing.T) {
	var stdout bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "api.log")

	logger, closeLog := New(Options{File: path, MaxSizeMB: 1, MaxBackups: 1, Stdout: &stdout})
	logger.Printf("job processed job_id=%s", "abc")
	if err := closeLog(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !strings.HasPrefix(stdout.String(), Prefix) || !strings.Contains(stdout.String(), "job_id=abc") {
		t.Fatalf("unexpected stdout %q", stdout.String())
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(contents), "job_id=abc") {
		t.Fatalf("expected line in rotating file, got %q", contents)
	}
}

func TestNewWithoutFile(t *testing.T) {
	var stdout bytes.Buffer
	logger, closeLog := New(Options{Stdout: &stdout})
	logger.Printf("hello")
	if err := closeLog(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), Prefix) {
		t.Fatalf("expected prefix, got %q", stdout.String())
	}
}
