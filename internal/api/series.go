package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

// SeriesHandler serves values from the ingested time series.
type SeriesHandler struct {
	svc *Services
}

// NewSeriesHandler creates a new series handler.
func NewSeriesHandler(svc *Services) *SeriesHandler {
	return &SeriesHandler{svc: svc}
}

// RegisterRoutes registers series routes with Huma.
func (h *SeriesHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/series/{tier}", h.Summary, huma.OperationTags("series"))
	huma.Get(api, "/api/v1/series/{tier}/{code}", h.Value, huma.OperationTags("series"))
}

// SeriesSummaryOutput is the response for a tier's series summary.
type SeriesSummaryOutput struct {
	Body struct {
		Tier string `json:"tier" doc:"Tier id"`
		Rows int    `json:"rows" doc:"Rows ingested for the tier"`
	}
}

// Summary reports how many rows are held for a tier.
func (h *SeriesHandler) Summary(ctx context.Context, input *struct {
	Tier string `path:"tier" doc:"Tier id" example:"utla"`
}) (*SeriesSummaryOutput, error) {
	if h.svc.Series == nil {
		return nil, huma.Error503ServiceUnavailable("Series not available")
	}
	if _, ok := h.svc.Tiers.Get(input.Tier); !ok {
		return nil, huma.Error404NotFound("tier not found")
	}
	n, err := h.svc.Series.Count(ctx, input.Tier)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to count rows", err)
	}
	out := &SeriesSummaryOutput{}
	out.Body.Tier = input.Tier
	out.Body.Rows = n
	return out, nil
}

// ValueInput addresses one feature on one date.
type ValueInput struct {
	Tier string `path:"tier" doc:"Tier id" example:"utla"`
	Code string `path:"code" doc:"Area code" example:"E09000001"`
	Date string `query:"date" doc:"Date (YYYY-MM-DD); the latest date when empty" example:"2020-11-20"`
}

// ValueOutput is the response for a feature value.
type ValueOutput struct {
	Body struct {
		Tier  string   `json:"tier" doc:"Tier id"`
		Code  string   `json:"code" doc:"Area code"`
		Date  string   `json:"date" doc:"Date of the value"`
		Value *float64 `json:"value" nullable:"true" doc:"Rolling rate; null when suppressed or missing"`
	}
}

// Value returns the painted value of one feature on one date.
func (h *SeriesHandler) Value(ctx context.Context, input *ValueInput) (*ValueOutput, error) {
	if h.svc.Series == nil {
		return nil, huma.Error503ServiceUnavailable("Series not available")
	}
	if _, ok := h.svc.Tiers.Get(input.Tier); !ok {
		return nil, huma.Error404NotFound("tier not found")
	}
	date := input.Date
	if date == "" && h.svc.Catalogue != nil {
		d, err := h.svc.Catalogue.LatestDate(ctx)
		if err != nil {
			return nil, huma.Error404NotFound("no dates loaded")
		}
		date = d
	}
	v, ok, err := h.svc.Series.Value(ctx, input.Tier, input.Code, date)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to read value", err)
	}
	out := &ValueOutput{}
	out.Body.Tier, out.Body.Code, out.Body.Date = input.Tier, input.Code, date
	if ok {
		out.Body.Value = &v
	}
	return out, nil
}
