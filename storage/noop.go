package storage

import (
	"context"
	"io"

	"github.com/teranos/gdscraper/scrape"
)

// NoopURL is returned for every resume by NoopStore
const NoopURL = "file://resume.pdf"

// NoopStore drains resumes without keeping them. Used for dry runs and tests.
type NoopStore struct{}

func (NoopStore) StoreOne(ctx context.Context, r scrape.Resume) (string, error) {
	if r.Body != nil {
		_, _ = io.Copy(io.Discard, r.Body)
	}
	return NoopURL, nil
}
