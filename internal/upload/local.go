package upload

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Local writes files under a directory served by the gateway.
type Local struct {
	dir     string
	baseURL string
}

func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Local{dir: dir, baseURL: baseURL}, nil
}

func (l *Local) Dir() string { return l.dir }

func (l *Local) Upload(ctx context.Context, folder, name string, data []byte) (Result, error) {
	p, err := objectPath(folder, name)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	full := filepath.Join(l.dir, filepath.FromSlash(p))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return Result{URL: l.URL(p), Path: p}, nil
}

func (l *Local) Delete(_ context.Context, p string) error {
	folder, name := path.Split(p)
	clean, err := objectPath(strings.TrimSuffix(folder, "/"), name)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(l.dir, filepath.FromSlash(clean)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (l *Local) URL(p string) string { return joinURL(l.baseURL, p) }
