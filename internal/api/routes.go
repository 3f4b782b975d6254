// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-choropleth/internal/dataapi"
	"github.com/joeblew999/plat-choropleth/internal/humastar"
	"github.com/joeblew999/plat-choropleth/internal/mapview"
	"github.com/joeblew999/plat-choropleth/internal/service"
	"github.com/joeblew999/plat-choropleth/internal/tier"
)

// SeriesReader answers per-feature value questions from ingested series.
type SeriesReader interface {
	Value(ctx context.Context, tierID, code, date string) (float64, bool, error)
	Count(ctx context.Context, tierID string) (int, error)
}

// Services holds the service dependencies for API handlers.
type Services struct {
	Tiers     *tier.Registry
	Sessions  *service.SessionService
	Catalogue *service.CatalogueService
	Series    SeriesReader
	Geocoder  mapview.Geocoder
}

// Types

type IDInput struct {
	ID string `path:"id" doc:"Session ID"`
}

type TierIDInput struct {
	ID string `path:"id" doc:"Tier ID" example:"utla"`
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

type ResolveBody struct {
	Zoom  float64         `json:"zoom" doc:"Requested zoom"`
	Index int             `json:"index" doc:"Tier position, broadest first"`
	Tier  tier.Definition `json:"tier" doc:"Resolved tier"`
}

type LocationBody struct {
	Postcode    string    `json:"postcode" doc:"Normalised postcode" example:"SW1A1AA"`
	Coordinates []float64 `json:"coordinates" doc:"[lon, lat]"`
}

// SessionBody is a session with its state-dependent actions.
type SessionBody struct {
	service.SessionInfo
}

var sessionActions = []humastar.ActionDef{
	{Rel: "events", Pattern: "/api/v1/sessions/%s/events", Method: "POST", Title: "Post renderer event"},
	{Rel: "stream", Pattern: "/api/v1/viewer/%s/stream", Method: "GET", Title: "Renderer command stream"},
	{Rel: "search", Pattern: "/api/v1/viewer/%s/search", Method: "POST", Title: "Find a postcode",
		When: func(stage string) bool { return stage != mapview.StageCreated.String() }},
	{Rel: "export", Pattern: "/api/v1/viewer/%s/export", Method: "POST", Title: "Download map image",
		When: func(stage string) bool { return stage == mapview.StageReady.String() }},
	{Rel: "delete", Pattern: "/api/v1/sessions/%s", Method: "DELETE", Title: "Close session"},
}

// Actions implements humastar.Actor.
func (b SessionBody) Actions() []humastar.Action {
	return humastar.ActionsFor(b.ID, b.Stage, sessionActions)
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterTiers registers tier, legend and zoom resolution routes.
func (h *APIHandler) RegisterTiers(api huma.API) {
	huma.Get(api, "/api/v1/tiers", h.GetTiers, huma.OperationTags("tiers"))
	huma.Get(api, "/api/v1/tiers/{id}", h.GetTier, huma.OperationTags("tiers"))
	huma.Get(api, "/api/v1/tiers/{id}/legend", h.GetLegend, huma.OperationTags("tiers"))
	huma.Get(api, "/api/v1/resolve", h.Resolve, huma.OperationTags("tiers"))
}

// RegisterDates registers the date catalogue routes.
func (h *APIHandler) RegisterDates(api huma.API) {
	huma.Get(api, "/api/v1/dates", h.GetDates, huma.OperationTags("dates"))
}

// RegisterPostcodes registers postcode lookup.
func (h *APIHandler) RegisterPostcodes(api huma.API) {
	huma.Get(api, "/api/v1/postcodes/{postcode}", h.GetPostcode, huma.OperationTags("search"))
}

// RegisterSessions registers viewer session routes.
func (h *APIHandler) RegisterSessions(api huma.API) {
	huma.Get(api, "/api/v1/sessions", h.GetSessions, huma.OperationTags("sessions"))
	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        "POST",
		Path:          "/api/v1/sessions",
		Tags:          []string{"sessions"},
		DefaultStatus: 201,
	}, h.CreateSession)
	huma.Get(api, "/api/v1/sessions/{id}", h.GetSession, huma.OperationTags("sessions"))
	huma.Delete(api, "/api/v1/sessions/{id}", h.DeleteSession, huma.OperationTags("sessions"))
	huma.Post(api, "/api/v1/sessions/{id}/events", h.PostEvent, huma.OperationTags("sessions"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: "1.0.0"}}, nil
}

func (h *APIHandler) GetTiers(ctx context.Context, input *struct{}) (*struct{ Body []tier.Definition }, error) {
	return &struct{ Body []tier.Definition }{Body: h.svc.Tiers.All()}, nil
}

func (h *APIHandler) GetTier(ctx context.Context, input *TierIDInput) (*struct{ Body tier.Definition }, error) {
	def, ok := h.svc.Tiers.Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("tier not found")
	}
	return &struct{ Body tier.Definition }{Body: def}, nil
}

func (h *APIHandler) GetLegend(ctx context.Context, input *TierIDInput) (*struct{ Body tier.Legend }, error) {
	i := h.svc.Tiers.Index(input.ID)
	if i < 0 {
		return nil, huma.Error404NotFound("tier not found")
	}
	return &struct{ Body tier.Legend }{Body: h.svc.Tiers.Legend(i)}, nil
}

func (h *APIHandler) Resolve(ctx context.Context, input *struct {
	Zoom float64 `query:"zoom" required:"true" doc:"Map zoom level" example:"7.5"`
}) (*struct{ Body ResolveBody }, error) {
	i, err := h.svc.Tiers.Resolve(input.Zoom)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	return &struct{ Body ResolveBody }{Body: ResolveBody{
		Zoom: input.Zoom, Index: i, Tier: h.svc.Tiers.At(i),
	}}, nil
}

func (h *APIHandler) GetDates(ctx context.Context, input *struct {
	humastar.PageInput
	Tier string `query:"tier" doc:"Only dates for this tier" example:"msoa"`
}) (*struct {
	Body humastar.PageBody[string]
}, error) {
	if h.svc.Catalogue == nil {
		return nil, huma.Error503ServiceUnavailable("date catalogue not available")
	}
	if input.Tier != "" {
		if _, ok := h.svc.Tiers.Get(input.Tier); !ok {
			return nil, huma.Error404NotFound("tier not found")
		}
	}
	dates, err := h.svc.Catalogue.Dates(ctx, input.Tier)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing dates", err)
	}
	return &struct {
		Body humastar.PageBody[string]
	}{Body: humastar.Paginate(dates, input.Offset, input.Limit)}, nil
}

func (h *APIHandler) GetPostcode(ctx context.Context, input *struct {
	Postcode string `path:"postcode" doc:"UK postcode" example:"SW1A 1AA"`
}) (*struct{ Body LocationBody }, error) {
	if h.svc.Geocoder == nil {
		return nil, huma.Error503ServiceUnavailable("postcode lookup not available")
	}
	pc, err := mapview.NormalizePostcode(input.Postcode)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	loc, err := h.svc.Geocoder.Postcode(ctx, pc)
	if errors.Is(err, dataapi.ErrNotFound) {
		return nil, huma.Error404NotFound(err.Error())
	}
	if err != nil {
		return nil, huma.Error502BadGateway("postcode lookup failed", err)
	}
	return &struct{ Body LocationBody }{Body: LocationBody{
		Postcode: pc, Coordinates: []float64{loc.Point.Lon(), loc.Point.Lat()},
	}}, nil
}

func (h *APIHandler) GetSessions(ctx context.Context, input *struct{}) (*struct{ Body []string }, error) {
	return &struct{ Body []string }{Body: h.svc.Sessions.List()}, nil
}

func (h *APIHandler) CreateSession(ctx context.Context, input *struct{}) (*struct {
	Location string `header:"Location"`
	Body     SessionBody
}, error) {
	sess, err := h.svc.Sessions.Create(ctx)
	if errors.Is(err, service.ErrTooManySessions) {
		return nil, huma.Error429TooManyRequests(err.Error())
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("creating session", err)
	}
	return &struct {
		Location string `header:"Location"`
		Body     SessionBody
	}{Location: "/api/v1/sessions/" + sess.ID, Body: SessionBody{sess.Info()}}, nil
}

func (h *APIHandler) GetSession(ctx context.Context, input *IDInput) (*struct{ Body SessionBody }, error) {
	sess, err := h.svc.Sessions.Get(input.ID)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return &struct{ Body SessionBody }{Body: SessionBody{sess.Info()}}, nil
}

func (h *APIHandler) DeleteSession(ctx context.Context, input *IDInput) (*struct{ Body MessageBody }, error) {
	if err := h.svc.Sessions.Delete(input.ID); err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Session closed"}}, nil
}

// PostEvent applies a renderer event and returns the resulting session state.
// Pending overlay fetches are not awaited; their results arrive on the stream.
func (h *APIHandler) PostEvent(ctx context.Context, input *struct {
	IDInput
	Body service.EventInput
}) (*struct{ Body SessionBody }, error) {
	err := h.svc.Sessions.Dispatch(input.ID, input.Body)
	var ive *tier.InvalidViewportError
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return nil, huma.Error404NotFound(err.Error())
	case errors.As(err, &ive), errors.Is(err, service.ErrUnknownEvent), errors.Is(err, mapview.ErrNotStarted):
		return nil, huma.Error400BadRequest(err.Error())
	case err != nil:
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	sess, err := h.svc.Sessions.Get(input.ID)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return &struct{ Body SessionBody }{Body: SessionBody{sess.Info()}}, nil
}

// RegisterRoutes registers all API routes with Huma.
func RegisterRoutes(api huma.API, svc *Services, start time.Time) {
	huma.AutoRegister(api, NewAPIHandler(svc))
	NewInfoHandler(svc, start).RegisterRoutes(api)
	NewSeriesHandler(svc).RegisterRoutes(api)
}
