// Package geodata fetches the tier GeoJSON documents and keeps them where the
// engine can query them: boundary features in memory for rendered-feature
// lookups, time-series values in DuckDB for the date catalogue.
package geodata

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultDocuments bounds how many parsed documents are held.
const DefaultDocuments = 16

// Store holds parsed GeoJSON feature collections keyed by source URL.
type Store struct {
	docs    *lru.Cache[string, []*geojson.Feature]
	client  *http.Client
	log     *slog.Logger
	flights singleflight.Group
}

// NewStore creates a store holding up to size documents.
func NewStore(size int, client *http.Client, log *slog.Logger) (*Store, error) {
	if size <= 0 {
		size = DefaultDocuments
	}
	docs, err := lru.New[string, []*geojson.Feature](size)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{docs: docs, client: client, log: log}, nil
}

// Features returns the features loaded for url.
func (s *Store) Features(url string) ([]*geojson.Feature, bool) {
	return s.docs.Get(url)
}

// Put stores an already parsed collection under url.
func (s *Store) Put(url string, fc *geojson.FeatureCollection) {
	s.docs.Add(url, fc.Features)
}

// Len returns the number of documents held.
func (s *Store) Len() int { return s.docs.Len() }

// Fetch downloads and parses url and stores the result. Concurrent fetches
// of one url share a single download.
func (s *Store) Fetch(ctx context.Context, url string) (*geojson.FeatureCollection, error) {
	v, err, _ := s.flights.Do(url, func() (any, error) {
		return s.fetch(ctx, url)
	})
	if err != nil {
		return nil, err
	}
	return v.(*geojson.FeatureCollection), nil
}

func (s *Store) fetch(ctx context.Context, url string) (*geojson.FeatureCollection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", url, err)
	}
	s.Put(url, fc)
	s.log.Info("geojson loaded", "url", url, "features", len(fc.Features), "bytes", len(data), "took", time.Since(start))
	return fc, nil
}

// FetchAll loads every url concurrently, four at a time. Documents already
// held are skipped. A failing url does not stop the others; the first error
// is returned.
func (s *Store) FetchAll(ctx context.Context, urls []string) error {
	var g errgroup.Group
	g.SetLimit(4)
	for _, u := range urls {
		if _, ok := s.docs.Peek(u); ok {
			continue
		}
		g.Go(func() error {
			_, err := s.Fetch(ctx, u)
			return err
		})
	}
	return g.Wait()
}
