package geodata

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/joeblew999/plat-choropleth/internal/tier"
)

// Loader fills a Store and a SeriesStore from a tier registry.
type Loader struct {
	Tiers  *tier.Registry
	Store  *Store
	Series *SeriesStore // optional
	Log    *slog.Logger
}

// Load fetches every tier's boundary and time-series documents and ingests
// the time series into an emptied series store, so only the registry's tiers
// hold rows afterwards. One failing tier does not stop the others; the first
// error is returned after all finish.
func (l *Loader) Load(ctx context.Context) error {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	if l.Series != nil {
		if err := l.Series.Reset(ctx); err != nil {
			return err
		}
	}
	var g errgroup.Group
	g.Go(func() error {
		if err := l.Store.FetchAll(ctx, l.Tiers.BoundaryURLs()); err != nil {
			log.Warn("boundaries not loaded", "err", err)
			return err
		}
		return nil
	})
	for _, t := range l.Tiers.All() {
		g.Go(func() error {
			fc, err := l.Store.Fetch(ctx, t.TimeSeriesURL)
			if err != nil {
				log.Warn("time series not loaded", "tier", t.ID, "err", err)
				return err
			}
			if l.Series == nil {
				return nil
			}
			n, err := l.Series.Ingest(ctx, t.ID, fc)
			if err != nil {
				return fmt.Errorf("ingesting %s: %w", t.ID, err)
			}
			log.Info("time series ingested", "tier", t.ID, "rows", n)
			return nil
		})
	}
	return g.Wait()
}
