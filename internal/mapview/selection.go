package mapview

import (
	"errors"
	"log/slog"
	"math"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-choropleth/internal/surface"
	"github.com/joeblew999/plat-choropleth/internal/tier"
)

const (
	// highlightKey is the feature-state flag the outline layer styles on.
	highlightKey = "hover"
	// fitZoomEpsilon keeps a fit-to-bounds above the tier's lower zoom bound
	// so the fit does not demote the map to the broader tier.
	fitZoomEpsilon = 0.5
	fitPadding     = 20
)

// ClickEvent is the renderer's click payload. Only the first feature is used.
type ClickEvent struct {
	Features []*geojson.Feature `json:"features"`
}

var errEmptyClick = errors.New("click carried no feature with a code")

// Code returns the first feature's code property.
func (ev ClickEvent) Code() (string, *geojson.Feature, error) {
	if len(ev.Features) == 0 || ev.Features[0] == nil {
		return "", nil, errEmptyClick
	}
	f := ev.Features[0]
	code, _ := f.Properties["code"].(string)
	if code == "" {
		return "", nil, errEmptyClick
	}
	return code, f, nil
}

// SelectionController owns SelectionState. Every change of the highlighted
// feature goes through setHighlight, which clears the previous highlight
// before setting the next, so at most one feature is highlighted.
type SelectionController struct {
	state SelectionState
	log   *slog.Logger
}

// NewSelectionController starts with no selection on activeTier.
func NewSelectionController(activeTier string, log *slog.Logger) *SelectionController {
	return &SelectionController{state: SelectionState{ActiveTier: activeTier}, log: log}
}

// State returns a copy of the selection state.
func (c *SelectionController) State() SelectionState {
	st := c.state
	if st.Highlighted != nil {
		h := *st.Highlighted
		st.Highlighted = &h
	}
	return st
}

// Click selects the clicked feature of def at the current zoom: it re-queries
// the rendered outline features for the feature's render id, moves the
// highlight there, and asks the camera to fit the feature. It returns the new
// selection token.
func (c *SelectionController) Click(s Surface, def tier.Definition, ev ClickEvent, zoom float64) (uint64, error) {
	code, feature, err := ev.Code()
	if err != nil {
		return 0, err
	}

	// The render id is re-read from what is drawn now; ids carried by click
	// events can go stale after a re-render.
	var next *Highlight
	for _, rf := range s.RenderedFeatures(def.OutlineLayer()) {
		if c, _ := rf.Properties["code"].(string); c == code {
			next = &Highlight{TierID: def.ID, Ref: surface.FeatureRef{Source: def.OutlineSource(), ID: rf.ID}}
			break
		}
	}
	if next == nil {
		c.log.Debug("clicked feature not rendered", "tier", def.ID, "code", code)
	}
	c.setHighlight(s, next)

	c.state.ActiveTier = def.ID
	c.state.SelectedFeature = code
	c.state.Token++

	if feature.Geometry != nil {
		s.FitBounds(feature.Geometry.Bound(), surface.FitOptions{
			Padding: fitPadding,
			MaxZoom: math.Max(def.ZoomMin+fitZoomEpsilon, zoom),
			MinZoom: def.ZoomMin + fitZoomEpsilon,
		})
	}
	return c.state.Token, nil
}

// Renew issues a new token for the current selection so in-flight fetches
// for it are dropped.
func (c *SelectionController) Renew() uint64 {
	c.state.Token++
	return c.state.Token
}

// Dismiss clears the selected feature. The highlight stays drawn.
func (c *SelectionController) Dismiss() {
	c.state.SelectedFeature = ""
	c.state.Token++
}

// TierChanged records the new active tier, drops the selection and clears
// the highlight, which belonged to the previous tier's features.
func (c *SelectionController) TierChanged(s Surface, tierID string) {
	if s != nil {
		c.setHighlight(s, nil)
	}
	c.state.ActiveTier = tierID
	if c.state.SelectedFeature != "" {
		c.state.SelectedFeature = ""
		c.state.Token++
	}
}

func (c *SelectionController) setHighlight(s Surface, next *Highlight) {
	prev := c.state.Highlighted
	if prev != nil && (next == nil || prev.Ref != next.Ref) {
		if err := s.SetFeatureState(prev.Ref, map[string]any{highlightKey: false}); err != nil {
			c.log.Warn("clearing highlight", "ref", prev.Ref, "err", err)
		}
	}
	c.state.Highlighted = nil
	if next == nil {
		return
	}
	if err := s.SetFeatureState(next.Ref, map[string]any{highlightKey: true}); err != nil {
		c.log.Warn("setting highlight", "ref", next.Ref, "err", err)
		return
	}
	c.state.Highlighted = next
}
