package service

import (
	"context"
	"sync"
	"time"
)

// SeriesSource answers date questions from ingested time series.
type SeriesSource interface {
	Dates(ctx context.Context, tierID string) ([]string, error)
	LatestDate(ctx context.Context) (string, error)
}

// CatalogueService lists the dates data is available for. The latest date
// is asked for on every overlay fetch, so it is held for a short while.
type CatalogueService struct {
	src SeriesSource
	ttl time.Duration

	mu      sync.Mutex
	latest  string
	fetched time.Time
}

// NewCatalogueService wraps src. A zero ttl re-reads the latest date every time.
func NewCatalogueService(src SeriesSource, ttl time.Duration) *CatalogueService {
	return &CatalogueService{src: src, ttl: ttl}
}

// Dates lists the dates for tierID, or for every tier when it is empty.
func (c *CatalogueService) Dates(ctx context.Context, tierID string) ([]string, error) {
	return c.src.Dates(ctx, tierID)
}

// LatestDate returns the most recent date with data.
func (c *CatalogueService) LatestDate(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.latest != "" && time.Since(c.fetched) < c.ttl {
		d := c.latest
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()

	d, err := c.src.LatestDate(ctx)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.latest, c.fetched = d, time.Now()
	c.mu.Unlock()
	return d, nil
}

// Invalidate drops the held latest date, e.g. after a reload.
func (c *CatalogueService) Invalidate() {
	c.mu.Lock()
	c.latest = ""
	c.mu.Unlock()
}
