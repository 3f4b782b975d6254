package mapview

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joeblew999/plat-choropleth/internal/tier"
)

// FilterController keeps every tier's choropleth layer filtered to one date.
type FilterController struct {
	tiers   *tier.Registry
	log     *slog.Logger
	surface Surface
	ready   bool
	latest  DateFilter
	applied map[string]string // layer id -> date last set
}

// NewFilterController creates a controller that does nothing until StyleReady.
func NewFilterController(tiers *tier.Registry, log *slog.Logger) *FilterController {
	return &FilterController{tiers: tiers, log: log, applied: make(map[string]string)}
}

// NormalizeDate cuts any time part and checks the date is YYYY-MM-DD.
func NormalizeDate(date string) (string, error) {
	d, _, _ := strings.Cut(date, "T")
	if _, err := time.Parse(time.DateOnly, d); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return d, nil
}

// Apply makes date the active filter. Before the style is ready it only
// records the date; afterwards it updates every registered layer whose filter
// differs. Repeating a date issues no renderer calls.
func (f *FilterController) Apply(date string) error {
	d, err := NormalizeDate(date)
	if err != nil {
		return err
	}
	f.latest = DateFilter{Date: d}
	if !f.ready {
		f.log.Debug("filter deferred", "date", d, "reason", errStyleNotReady)
		return nil
	}
	f.pass()
	return nil
}

// StyleReady marks the style settled and re-applies the latest date.
// It is safe to call on every style-data event.
func (f *FilterController) StyleReady(s Surface) {
	f.surface = s
	f.ready = true
	f.pass()
}

// Current returns the active filter.
func (f *FilterController) Current() DateFilter { return f.latest }

func (f *FilterController) pass() {
	if f.latest.Date == "" {
		return
	}
	for _, t := range f.tiers.All() {
		layer := t.ChoroplethLayer()
		if f.applied[layer] == f.latest.Date {
			continue
		}
		if !f.surface.HasLayer(layer) {
			// Registered later; picked up by the next ready pass.
			continue
		}
		if err := f.surface.SetFilter(layer, f.latest.Expr()); err != nil {
			f.log.Debug("filter skipped", "layer", layer, "err", err)
			continue
		}
		f.applied[layer] = f.latest.Date
	}
}
