package storage

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/teranos/gdscraper/am"
	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/scrape"
)

// FileStore writes resumes under a directory
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed and returns a store writing into it
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.NewInvalidRequestError("file store directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", dir)
	}
	if err := os.MkdirAll(abs, am.DefaultDirPermissions); err != nil {
		return nil, errors.Wrapf(err, "create %s", abs)
	}
	return &FileStore{dir: abs}, nil
}

// Dir returns the absolute directory resumes are written to
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) StoreOne(ctx context.Context, r scrape.Resume) (string, error) {
	if r.Body == nil {
		return "", errors.Newf("resume %s has no body", r.Name)
	}

	target := filepath.Join(s.dir, objectName(r))
	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, am.DefaultFilePermissions)
	if err != nil {
		return "", errors.Wrapf(err, "create %s", target)
	}

	if _, err := io.Copy(f, r.Body); err != nil {
		f.Close()
		os.Remove(target)
		return "", errors.Wrapf(err, "write %s", target)
	}
	if err := f.Close(); err != nil {
		os.Remove(target)
		return "", errors.Wrapf(err, "close %s", target)
	}

	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(target)}).String(), nil
}
