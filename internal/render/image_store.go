package render

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	PanelWidth  = 512
	PanelHeight = 768
)

// ImageStore writes PNG payloads under a directory served by the HTTP layer.
type ImageStore struct {
	dir       string
	urlPrefix string
}

func NewImageStore(dir, urlPrefix string) (*ImageStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("images dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create images dir: %w", err)
	}
	if strings.TrimSpace(urlPrefix) == "" {
		urlPrefix = "/images/"
	}
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	return &ImageStore{dir: dir, urlPrefix: urlPrefix}, nil
}

func (s *ImageStore) Dir() string {
	return s.dir
}

// Save stores data under a name derived from panelID and the content hash and returns its public URL.
// Saving identical content twice reuses the existing file.
func (s *ImageStore) Save(panelID string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty image payload")
	}
	sum := sha256.Sum256(data)
	name := fmt.Sprintf("panel_%s_%s.png", sanitizeName(panelID), hex.EncodeToString(sum[:])[:16])
	path := filepath.Join(s.dir, name)

	if _, err := os.Stat(path); err == nil {
		return s.urlPrefix + name, nil
	}

	tmp, err := os.CreateTemp(s.dir, ".panel-*")
	if err != nil {
		return "", fmt.Errorf("create temp image: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close image: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("store image: %w", err)
	}
	return s.urlPrefix + name, nil
}

func sanitizeName(value string) string {
	var sb strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	if sb.Len() == 0 {
		return "unknown"
	}
	return sb.String()
}
