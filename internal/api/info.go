package api

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	svc   *Services
	start time.Time
}

func NewInfoHandler(svc *Services, start time.Time) *InfoHandler {
	return &InfoHandler{svc: svc, start: start}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name       string   `json:"name" doc:"Service name"`
	Version    string   `json:"version" doc:"Service version"`
	Uptime     string   `json:"uptime" doc:"Time since start"`
	Tiers      []string `json:"tiers" doc:"Tier ids, broadest first"`
	Sessions   int      `json:"sessions" doc:"Open viewer sessions"`
	LatestDate string   `json:"latest_date,omitempty" doc:"Most recent date with data"`
	Series     bool     `json:"series" doc:"Whether time series are loaded"`
	Features   []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	body := InfoBody{
		Name:     "plat-choropleth",
		Version:  "0.1.0",
		Uptime:   time.Since(h.start).Round(time.Second).String(),
		Features: []string{"tiers", "sessions", "duckdb"},
	}
	for _, t := range h.svc.Tiers.All() {
		body.Tiers = append(body.Tiers, t.ID)
	}
	if h.svc.Sessions != nil {
		body.Sessions = len(h.svc.Sessions.List())
	}
	if h.svc.Catalogue != nil {
		if d, err := h.svc.Catalogue.LatestDate(ctx); err == nil {
			body.LatestDate = d
			body.Series = true
		}
	}
	if h.svc.Geocoder != nil {
		body.Features = append(body.Features, "postcode-search")
	}
	return &struct{ Body InfoBody }{Body: body}, nil
}
