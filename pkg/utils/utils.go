// Package utils provides caching and matching helpers shared by the simulator's data feeds.
package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sudorandom/noc-stream/internal/logging"
)

var ErrNotFound = errors.New("file not found on server")

// Fetch downloads url and returns the full body.
func Fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// CachedFetcher downloads remote payloads, keeping a copy in an optional DiskCache.
type CachedFetcher struct {
	Client *http.Client
	Cache  *DiskCache
	TTL    time.Duration
	Log    logging.Logger
}

// Get returns the payload for url, served from the cache under key when present.
// A cache read or write failure is logged and the network is used instead.
func (f *CachedFetcher) Get(ctx context.Context, key, url string) ([]byte, error) {
	log := f.Log
	if log == nil {
		log = logging.Noop()
	}

	if f.Cache != nil {
		data, err := f.Cache.Get(key)
		switch {
		case err != nil:
			log.Warn(ctx, "cache read failed", logging.String("key", key), logging.Err(err))
		case data != nil:
			log.Debug(ctx, "using cached payload", logging.String("key", key), logging.Int("bytes", len(data)))
			return data, nil
		}
	}

	log.Info(ctx, "downloading", logging.String("url", url))
	data, err := Fetch(ctx, f.Client, url)
	if err != nil {
		return nil, err
	}

	if f.Cache != nil {
		if err := f.Cache.Put(key, data, f.TTL); err != nil {
			log.Warn(ctx, "cache write failed", logging.String("key", key), logging.Err(err))
		}
	}
	return data, nil
}
