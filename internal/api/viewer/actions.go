package viewer

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-choropleth/internal/dataapi"
	"github.com/joeblew999/plat-choropleth/internal/humastar"
	"github.com/joeblew999/plat-choropleth/internal/mapview"
	"github.com/joeblew999/plat-choropleth/internal/service"
)

func (h *Handler) session(id string) (*service.Session, error) {
	sess, err := h.sessions.Get(id)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return sess, nil
}

// Search finds the postcode signal and moves the map to it. Failures are
// reported in the error signal; the map is left where it was.
func (h *Handler) Search(ctx context.Context, input *SessionSignalsInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	signals, err := (&humastar.SignalsInput{RawBody: input.RawBody}).MustParse()
	if err != nil {
		return nil, err
	}
	raw := signals.String("postcode")

	return h.Stream(func(sse humastar.SSE) {
		res, err := sess.Engine.Search(ctx, raw)
		if err != nil {
			sse.Error(searchMessage(err))
			h.log.Debug("postcode search failed", "session", sess.ID, "err", err)
			return
		}
		sse.Signals(map[string]any{"postcode": res.Postcode, "error": ""})
		sse.Replace(h.Renderer.MustRender("location", res), "#location")
	}), nil
}

func searchMessage(err error) string {
	var ipe *mapview.InvalidPostcodeError
	switch {
	case errors.As(err, &ipe):
		return "Enter a full UK postcode, for example SW1A 1AA."
	case errors.Is(err, dataapi.ErrNotFound):
		return "Postcode not found."
	case errors.Is(err, mapview.ErrNotStarted):
		return "The map is still loading."
	}
	return "Postcode lookup failed. Try again later."
}

// SetDate switches the date filter to the date signal.
func (h *Handler) SetDate(ctx context.Context, input *SessionSignalsInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	signals, err := (&humastar.SignalsInput{RawBody: input.RawBody}).MustParse()
	if err != nil {
		return nil, err
	}
	if err := sess.Engine.SetDate(signals.String("date")); err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	return h.Stream(func(sse humastar.SSE) {
		sse.Signals(map[string]any{"date": sess.Engine.Date()})
	}), nil
}

// Dismiss closes the info card.
func (h *Handler) Dismiss(ctx context.Context, input *SessionInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	sess.Engine.Dismiss()

	return h.Stream(func(sse humastar.SSE) {
		sse.Replace(h.renderCard(sess.ID, sess.Engine.Overlay()), "#info-card")
	}), nil
}

// Export asks the browser to download the map canvas.
func (h *Handler) Export(ctx context.Context, input *SessionInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	name, err := sess.Engine.ExportImage()
	if err != nil {
		return nil, huma.Error409Conflict(err.Error())
	}

	return h.Stream(func(sse humastar.SSE) {
		sse.Success("Saving " + name)
	}), nil
}
