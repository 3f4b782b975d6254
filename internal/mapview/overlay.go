package mapview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/joeblew999/plat-choropleth/internal/dataapi"
	"github.com/joeblew999/plat-choropleth/internal/tier"
)

// ComparisonImageBase hosts the per-area comparison scale images.
const ComparisonImageBase = "https://coronavirus.data.gov.uk/public/assets/frontpage/scales"

// CardStatus says which variant of the info card to show.
type CardStatus string

const (
	CardOK         CardStatus = "ok"
	CardSuppressed CardStatus = "suppressed"
	CardMissing    CardStatus = "missing"
)

// Trend is the week-over-week direction.
type Trend string

const (
	TrendIncreased Trend = "increased"
	TrendDecreased Trend = "decreased"
	TrendUnchanged Trend = "unchanged"
)

// TrendOf maps the remote direction code.
func TrendOf(direction string) Trend {
	switch direction {
	case "UP":
		return TrendIncreased
	case "DOWN":
		return TrendDecreased
	}
	return TrendUnchanged
}

// Comparison is the national comparison visual.
type Comparison struct {
	ImageURL string `json:"imageUrl"`
	Against  string `json:"against"`
}

// Card is the content of the info overlay for one selection.
type Card struct {
	TierID           string      `json:"tier"`
	AreaCode         string      `json:"areaCode"`
	AreaName         string      `json:"areaName"`
	Date             string      `json:"date"`
	Status           CardStatus  `json:"status"`
	TotalCases       *int        `json:"totalCases,omitempty"`
	Change           *int        `json:"change,omitempty"`
	ChangePercentage *float64    `json:"changePercentage,omitempty"`
	RollingRate      *float64    `json:"rollingRate,omitempty"`
	Trend            Trend       `json:"trend,omitempty"`
	Comparison       *Comparison `json:"comparison,omitempty"`
}

// Aggregates is the remote data collaborator.
type Aggregates interface {
	RegionWeekly(ctx context.Context, areaType, areaCode, date string) (dataapi.WeeklyRecord, error)
	NeighbourhoodSeries(ctx context.Context, areaType, areaCode string) ([]dataapi.WeeklyRecord, error)
	AreaName(ctx context.Context, areaCode string) (string, error)
}

// DateCatalogue knows the most recent date with data.
type DateCatalogue interface {
	LatestDate(ctx context.Context) (string, error)
}

// OverlayRequest identifies what the overlay should show.
type OverlayRequest struct {
	TierID   string
	AreaCode string
	Date     string
}

// InfoOverlayRouter fetches card content, picking the region strategy or the
// neighbourhood strategy by tier.
type InfoOverlayRouter struct {
	tiers *tier.Registry
	agg   Aggregates
	dates DateCatalogue
	log   *slog.Logger
}

// NewInfoOverlayRouter wires the remote collaborators. dates may be nil, in
// which case the comparison visual is never shown.
func NewInfoOverlayRouter(tiers *tier.Registry, agg Aggregates, dates DateCatalogue, log *slog.Logger) *InfoOverlayRouter {
	return &InfoOverlayRouter{tiers: tiers, agg: agg, dates: dates, log: log}
}

// Fetch builds the card for req. Lookup failures never escape: they become
// a missing or suppressed card.
func (r *InfoOverlayRouter) Fetch(ctx context.Context, req OverlayRequest) *Card {
	if req.Date == "" && r.dates != nil {
		if latest, err := r.dates.LatestDate(ctx); err == nil {
			req.Date = latest
		}
	}
	card := &Card{TierID: req.TierID, AreaCode: req.AreaCode, AreaName: req.AreaCode, Date: req.Date}
	if r.agg == nil {
		card.Status = CardMissing
		return card
	}

	var rec *dataapi.WeeklyRecord
	var err error
	finest := r.tiers.IsFinest(req.TierID)
	if finest {
		rec, err = r.neighbourhood(ctx, req, card)
	} else {
		rec, err = r.region(ctx, req, card)
	}

	switch {
	case err != nil && !errors.Is(err, dataapi.ErrNotFound):
		r.log.Warn("overlay lookup failed", "tier", req.TierID, "code", req.AreaCode, "err", err)
		card.Status = CardMissing
		return card
	case rec == nil || rec.RollingSum == nil || *rec.RollingSum == 0:
		if finest {
			card.Status = CardSuppressed
		} else {
			card.Status = CardMissing
		}
		return card
	}

	card.Status = CardOK
	card.TotalCases = rec.RollingSum
	card.Change = rec.Change
	card.ChangePercentage = rec.ChangePercentage
	card.RollingRate = rec.RollingRate
	card.Trend = TrendOf(rec.Direction)
	if rec.Date != "" {
		card.Date = rec.Date
	}
	if r.isLatest(ctx, card.Date) {
		card.Comparison = &Comparison{
			ImageURL: fmt.Sprintf("%s/%s/%s.svg", ComparisonImageBase, req.TierID, req.AreaCode),
			Against:  comparisonArea(finest),
		}
	}
	return card
}

func (r *InfoOverlayRouter) region(ctx context.Context, req OverlayRequest, card *Card) (*dataapi.WeeklyRecord, error) {
	rec, err := r.agg.RegionWeekly(ctx, req.TierID, req.AreaCode, req.Date)
	if err != nil {
		return nil, err
	}
	if rec.AreaName != "" {
		card.AreaName = rec.AreaName
	}
	return &rec, nil
}

// neighbourhood fetches the full series and the display name concurrently and
// picks the requested date from the series.
func (r *InfoOverlayRouter) neighbourhood(ctx context.Context, req OverlayRequest, card *Card) (*dataapi.WeeklyRecord, error) {
	var (
		series []dataapi.WeeklyRecord
		name   string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		series, err = r.agg.NeighbourhoodSeries(gctx, req.TierID, req.AreaCode)
		return err
	})
	g.Go(func() error {
		n, err := r.agg.AreaName(gctx, req.AreaCode)
		if err != nil {
			// The card falls back to the code.
			r.log.Debug("area name lookup failed", "code", req.AreaCode, "err", err)
			return nil
		}
		name = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if name != "" {
		card.AreaName = name
	}
	for i := range series {
		if series[i].Date == req.Date {
			return &series[i], nil
		}
	}
	return nil, nil
}

func (r *InfoOverlayRouter) isLatest(ctx context.Context, date string) bool {
	if r.dates == nil {
		return false
	}
	latest, err := r.dates.LatestDate(ctx)
	if err != nil {
		r.log.Debug("latest date unavailable", "err", err)
		return false
	}
	return latest == date
}

func comparisonArea(finest bool) string {
	if finest {
		return "England"
	}
	return "the UK"
}
