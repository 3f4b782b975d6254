package mapview

import (
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-choropleth/internal/surface"
)

// Stage is the renderer lifecycle as the engine sees it.
type Stage int

const (
	// StageCreated: the surface exists, the style has not loaded.
	StageCreated Stage = iota
	// StageStyleLoading: the style loaded and tier sources/layers are
	// registered; waiting for the style data to settle.
	StageStyleLoading
	// StageReady: filters and feature-state may be applied.
	StageReady
)

func (s Stage) String() string {
	switch s {
	case StageCreated:
		return "created"
	case StageStyleLoading:
		return "style-loading"
	case StageReady:
		return "ready"
	}
	return "unknown"
}

// View holds the initial camera and zoom limits for a new map.
type View struct {
	Center                orb.Point `json:"center"`
	Zoom                  float64   `json:"zoom"`
	MinZoom               float64   `json:"minZoom"`
	MaxZoom               float64   `json:"maxZoom"`
	PreserveDrawingBuffer bool      `json:"preserveDrawingBuffer"`
}

// DefaultView frames Great Britain.
var DefaultView = View{
	Center:                orb.Bound{Min: orb.Point{-14.5, 50.5}, Max: orb.Point{10, 58.8}}.Center(),
	Zoom:                  4.9,
	MinZoom:               4.9,
	MaxZoom:               15,
	PreserveDrawingBuffer: true,
}

// Viewport is the camera as last reported by the renderer.
type Viewport struct {
	Zoom   float64   `json:"zoom"`
	Center orb.Point `json:"center"`
}

// Highlight identifies the one feature carrying highlight feature-state.
type Highlight struct {
	TierID string             `json:"tier"`
	Ref    surface.FeatureRef `json:"ref"`
}

// SelectionState is owned by the engine and changed only through the
// selection controller. Highlighted is nil or the single highlighted feature.
type SelectionState struct {
	ActiveTier      string     `json:"activeTier"`
	SelectedFeature string     `json:"selectedFeature,omitempty"`
	Highlighted     *Highlight `json:"highlighted,omitempty"`
	// Token increases with every selection; fetches capture it.
	Token uint64 `json:"token"`
}

// DateFilter is the single active date predicate.
type DateFilter struct {
	Date string `json:"date"`
}

// Expr returns the renderer filter expression.
func (f DateFilter) Expr() []any {
	return []any{"==", "date", f.Date}
}

// PostcodeResult is a resolved search, discarded after the fly-to.
type PostcodeResult struct {
	Postcode    string         `json:"postcode"`
	Coordinates orb.Point      `json:"coordinates"`
	Raw         map[string]any `json:"raw,omitempty"`
}

// Overlay is the info panel state.
type Overlay struct {
	Visible bool   `json:"visible"`
	Token   uint64 `json:"token"`
	Card    *Card  `json:"card,omitempty"` // nil while loading
}

// ChangeKind says which part of the engine state changed.
type ChangeKind string

const (
	ChangeStage     ChangeKind = "stage"
	ChangeTier      ChangeKind = "tier"
	ChangeSelection ChangeKind = "selection"
	ChangeOverlay   ChangeKind = "overlay"
	ChangeDate      ChangeKind = "date"
	ChangeLocation  ChangeKind = "location"
	ChangeRendered  ChangeKind = "rendered"
)

// Change is published after every state transition.
type Change struct {
	Kind ChangeKind
}
