package localfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Storage archives raw invoice XML under a flat directory. Documents are
// keyed by invoice number, so a re-delivered document overwrites its
// previous copy instead of accumulating duplicates.
type Storage struct {
	basePath string
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/invoices"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Storage{basePath: basePath}, nil
}

func (s *Storage) SaveDocument(_ context.Context, name string, data []byte) (string, error) {
	path := filepath.Join(s.basePath, sanitizeName(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}
	return path, nil
}

// sanitizeName flattens the document name to a single safe path segment.
// Invoice numbers occasionally carry slashes ("SETP/990000001").
func sanitizeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, name)
}
