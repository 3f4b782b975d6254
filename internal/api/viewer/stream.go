// Package viewer contains the Datastar SSE handlers driving a viewer's map.
//
// The stream endpoint pushes queued renderer commands to the browser as
// scripts and keeps the legend, info card and status signals current as the
// session's engine changes.
package viewer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-choropleth/internal/humastar"
	"github.com/joeblew999/plat-choropleth/internal/mapview"
	"github.com/joeblew999/plat-choropleth/internal/service"
	"github.com/joeblew999/plat-choropleth/internal/surface"
	"github.com/joeblew999/plat-choropleth/internal/templates"
)

// ApplyFunc is the browser function that replays renderer commands.
const ApplyFunc = "window.choropleth.apply"

// Handler serves the viewer SSE routes.
type Handler struct {
	humastar.Handler
	sessions *service.SessionService
	dates    *service.CatalogueService
	log      *slog.Logger
}

// NewHandler creates a viewer handler. dates may be nil.
func NewHandler(sessions *service.SessionService, dates *service.CatalogueService, renderer *templates.Renderer, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Handler:  humastar.Handler{Renderer: renderer},
		sessions: sessions,
		dates:    dates,
		log:      log,
	}
}

func (h *Handler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags(humastar.StreamTag)
	huma.Get(api, "/api/v1/viewer/{id}/stream", h.Stream, tags)
	huma.Post(api, "/api/v1/viewer/{id}/search", h.Search, tags)
	huma.Post(api, "/api/v1/viewer/{id}/date", h.SetDate, tags)
	huma.Post(api, "/api/v1/viewer/{id}/dismiss", h.Dismiss, tags)
	huma.Post(api, "/api/v1/viewer/{id}/export", h.Export, tags)
}

type SessionInput struct {
	ID string `path:"id" doc:"Session ID"`
}

type SessionSignalsInput struct {
	ID      string `path:"id" doc:"Session ID"`
	RawBody []byte
}

// Stream sends the session's current state, then renderer commands and
// fragment updates until the client goes away or the session is closed.
// A second stream on the same session is refused with 409.
func (h *Handler) Stream(ctx context.Context, input *SessionInput) (*huma.StreamResponse, error) {
	sess, err := h.sessions.Get(input.ID)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	if !sess.ClaimStream() {
		return nil, huma.Error409Conflict("session already has a stream")
	}
	return h.Handler.Stream(func(sse humastar.SSE) {
		defer sess.ReleaseStream()
		ch := h.sessions.Bus().Subscribe(sess.ID)
		defer h.sessions.Bus().Unsubscribe(ch)

		h.sendAll(ctx, sse, sess)
		h.flush(sse, sess)

		for {
			select {
			case <-ctx.Done():
				return
			case <-sess.Surface.Notify():
				h.flush(sse, sess)
			case ev := <-ch:
				if ev.Kind == service.KindClosed {
					sse.Signals(map[string]any{"closed": true})
					return
				}
				h.send(sse, sess, mapview.ChangeKind(ev.Kind))
			}
		}
	}), nil
}

// sendAll brings a freshly connected page up to date.
func (h *Handler) sendAll(ctx context.Context, sse humastar.SSE, sess *service.Session) {
	info := sess.Info()
	sse.Signals(map[string]any{
		"session": sess.ID,
		"stage":   info.Stage,
		"loading": info.Loading,
		"date":    info.Date,
		"tier":    info.ActiveTier,
		"view":    info.View,
	})
	sse.Patch(h.RenderSelect("Date", h.dateOptions(ctx, info.Date)), "#date-select")
	sse.Replace(h.Renderer.MustRender("legend", info.Legend), "#legend")
	sse.Replace(h.renderCard(sess.ID, info.Overlay), "#info-card")
}

// send pushes the part of the page a change kind affects.
func (h *Handler) send(sse humastar.SSE, sess *service.Session, kind mapview.ChangeKind) {
	e := sess.Engine
	switch kind {
	case mapview.ChangeTier:
		sse.Signals(map[string]any{"tier": e.ActiveTier().ID})
		sse.Replace(h.Renderer.MustRender("legend", e.Legend()), "#legend")
	case mapview.ChangeOverlay, mapview.ChangeSelection:
		sse.Replace(h.renderCard(sess.ID, e.Overlay()), "#info-card")
	case mapview.ChangeDate:
		sse.Signals(map[string]any{"date": e.Date()})
	case mapview.ChangeStage, mapview.ChangeRendered:
		sse.Signals(map[string]any{"stage": e.Stage().String(), "loading": e.Loading()})
	case mapview.ChangeLocation:
		loc, _ := e.LastLocation()
		sse.Replace(h.Renderer.MustRender("location", loc), "#location")
	}
}

// flush sends every queued renderer command as one script.
func (h *Handler) flush(sse humastar.SSE, sess *service.Session) {
	cmds := sess.Surface.Drain()
	if len(cmds) == 0 {
		return
	}
	js, err := CommandScript(cmds)
	if err != nil {
		h.log.Error("encoding renderer commands", "session", sess.ID, "err", err)
		return
	}
	sse.Script(js)
}

// CommandScript encodes cmds as a call to ApplyFunc.
func CommandScript(cmds []surface.Command) (string, error) {
	b, err := json.Marshal(cmds)
	if err != nil {
		return "", err
	}
	return ApplyFunc + "(" + string(b) + ")", nil
}

type cardView struct {
	Visible    bool
	Card       *mapview.Card
	DismissURL string
}

func (h *Handler) renderCard(id string, o mapview.Overlay) string {
	return h.Renderer.MustRender("info-card", cardView{
		Visible:    o.Visible,
		Card:       o.Card,
		DismissURL: "/api/v1/viewer/" + id + "/dismiss",
	})
}

func (h *Handler) dateOptions(ctx context.Context, current string) []humastar.SelectOptionData {
	if h.dates == nil {
		return nil
	}
	dates, err := h.dates.Dates(ctx, "")
	if err != nil {
		h.log.Warn("listing dates", "err", err)
		return nil
	}
	opts := make([]humastar.SelectOptionData, 0, len(dates))
	// Newest first.
	for i := len(dates) - 1; i >= 0; i-- {
		d := dates[i]
		label := d
		if t, err := time.Parse(time.DateOnly, d); err == nil {
			label = t.Format("2 Jan 2006")
		}
		opts = append(opts, humastar.SelectOptionData{Value: d, Label: label, Selected: d == current})
	}
	return opts
}
