// Package upload stores citizen and technician photos and returns the public
// URL that reports and repairs reference.
package upload

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"citizenportal/internal/config"
)

var (
	ErrInvalidFile = errors.New("invalid file")
	ErrBackend     = errors.New("upload backend unavailable")
)

// Folders callers may write into.
const (
	FolderReports = "reports"
	FolderRepairs = "repairs"
)

type Result struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}

type Uploader interface {
	Upload(ctx context.Context, folder, name string, data []byte) (Result, error)
	Delete(ctx context.Context, path string) error
	URL(path string) string
}

// New picks the backend named in cfg.
func New(cfg config.UploadConfig) (Uploader, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "local":
		return NewLocal(cfg.Dir, cfg.BaseURL)
	case "ftp":
		return NewFTP(cfg.FTPHost+":"+cfg.FTPPort, cfg.FTPUser, cfg.FTPPassword, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown upload backend %q", cfg.Backend)
	}
}

// objectPath joins folder and name, refusing anything that could escape the
// storage root.
func objectPath(folder, name string) (string, error) {
	if folder != FolderReports && folder != FolderRepairs {
		return "", fmt.Errorf("%w: unknown folder %q", ErrInvalidFile, folder)
	}
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: bad file name %q", ErrInvalidFile, name)
	}
	return path.Join(folder, name), nil
}

func joinURL(base, p string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(p, "/")
}
