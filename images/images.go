// Package images stores uploaded bill images. The Store interface keeps the
// API independent of the backing object store; the shipped implementation
// writes to a local directory served at a configured base URL.
package images

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store persists an uploaded image and returns the public URL it will be
// served under.
type Store interface {
	Save(data []byte, contentType string) (string, error)
}

// DiskStore implements Store on the local filesystem.
type DiskStore struct {
	dir     string
	baseURL string
}

var _ Store = (*DiskStore)(nil)

// NewDiskStore creates the target directory if needed.
func NewDiskStore(dir, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating image directory: %w", err)
	}
	return &DiskStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the directory images are written to.
func (s *DiskStore) Dir() string { return s.dir }

// Save writes the image under a random name and returns its URL.
func (s *DiskStore) Save(data []byte, contentType string) (string, error) {
	name := uuid.New().String() + extensionFor(contentType)
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("writing image: %w", err)
	}
	return s.baseURL + "/" + name, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
