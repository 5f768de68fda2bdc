// Package storage persists retrieved resumes and returns a URL per resume.
package storage

import (
	"context"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/teranos/gdscraper/am"
	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/scrape"
)

// DefaultConcurrency is used when StoreAll is given a non-positive limit
const DefaultConcurrency = 4

// Store persists one resume and returns where it can be found
type Store interface {
	StoreOne(ctx context.Context, r scrape.Resume) (string, error)
}

// StoreAll stores every resume with at most concurrency StoreOne calls in
// flight. URLs follow the order of resumes. A single failure fails the whole
// batch. Every body is closed before StoreAll returns.
func StoreAll(ctx context.Context, store Store, resumes []scrape.Resume, concurrency int) ([]string, error) {
	defer scrape.CloseResumes(resumes)

	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	urls := make([]string, len(resumes))
	errs := make([]error, len(resumes))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i := range resumes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errs[i] = ctx.Err()
				return
			}
			defer func() { <-sem }()

			url, err := store.StoreOne(ctx, resumes[i])
			if err != nil {
				errs[i] = errors.Wrapf(err, "store resume %d (%s)", i, resumes[i].Name)
				return
			}
			urls[i] = url
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return urls, nil
}

// StepFunc adapts a store to the StoreResumes step of the machine
func StepFunc(store Store, concurrency int) func(ctx context.Context, resumes []scrape.Resume) ([]string, error) {
	return func(ctx context.Context, resumes []scrape.Resume) ([]string, error) {
		return StoreAll(ctx, store, resumes, concurrency)
	}
}

// New builds the store selected by cfg.Backend
func New(ctx context.Context, cfg am.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case am.StorageMemory, "":
		return NewMemoryStore(), nil
	case am.StorageFile:
		return NewFileStore(cfg.File.Dir)
	case am.StorageS3:
		return NewS3Store(ctx, cfg.S3)
	case am.StorageNoop:
		return NoopStore{}, nil
	default:
		return nil, errors.NewInvalidRequestError("unknown storage backend %q", cfg.Backend)
	}
}

// objectName returns a unique, file-system and URL safe name keeping the resume's extension
func objectName(r scrape.Resume) string {
	id := uuid.New()
	name := base58.Encode(id[:])

	ext := strings.ToLower(path.Ext(r.Name))
	if ext == "" {
		ext = extensionFor(r.ContentType)
	}
	return name + ext
}

func extensionFor(contentType string) string {
	switch strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]) {
	case "application/pdf":
		return ".pdf"
	case "application/msword":
		return ".doc"
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return ".docx"
	case "text/plain":
		return ".txt"
	default:
		return ""
	}
}
