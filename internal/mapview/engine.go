// Package mapview is the map engine for one viewer: it owns the renderer
// lifecycle, the active tier, the selection and the info overlay, and turns
// renderer events into renderer commands.
package mapview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-choropleth/internal/surface"
	"github.com/joeblew999/plat-choropleth/internal/tier"
)

// Surface is the rendering engine as the map engine drives it.
type Surface interface {
	AddSource(id string, spec surface.SourceSpec) error
	AddLayer(spec surface.LayerSpec, before string) error
	HasLayer(id string) bool
	SetFilter(layerID string, filter []any) error
	SetFeatureState(ref surface.FeatureRef, state map[string]any) error
	RenderedFeatures(layerID string) []surface.RenderedFeature
	FitBounds(b orb.Bound, opts surface.FitOptions)
	FlyTo(center orb.Point, zoom float64)
	SetMarker(p orb.Point)
	ExportImage(filename string)
}

// ErrNotStarted is returned by operations that need the surface before Start.
var ErrNotStarted = errors.New("map surface not started")

// Config wires an Engine.
type Config struct {
	Tiers *tier.Registry
	// NewSurface creates the rendering surface. It is called at most once.
	NewSurface func() Surface
	Geocoder   Geocoder
	Aggregates Aggregates
	Dates      DateCatalogue
	Logger     *slog.Logger
	// Notify receives every state change, outside the engine lock.
	Notify func(Change)
	// Date is the initial date filter, if any.
	Date string
}

// Engine is one viewer's map. All methods are safe for concurrent use; network
// lookups never run under the engine lock.
type Engine struct {
	mu         sync.Mutex
	tiers      *tier.Registry
	log        *slog.Logger
	newSurface func() Surface
	notify     func(Change)

	surface   Surface
	stage     Stage
	viewport  Viewport
	active    int
	loading   bool
	overlay   Overlay
	selection *SelectionController
	filter    *FilterController
	search    *LocationSearchController
	router    *InfoOverlayRouter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine in StageCreated with the broadest tier active.
func New(cfg Config) (*Engine, error) {
	if cfg.Tiers == nil || cfg.Tiers.Len() == 0 {
		return nil, tier.ErrEmptyRegistry
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	newSurface := cfg.NewSurface
	if newSurface == nil {
		newSurface = func() Surface { return surface.New(nil) }
	}
	notify := cfg.Notify
	if notify == nil {
		notify = func(Change) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		tiers:      cfg.Tiers,
		log:        log,
		newSurface: newSurface,
		notify:     notify,
		viewport:   Viewport{Zoom: DefaultView.Zoom, Center: DefaultView.Center},
		loading:    true,
		selection:  NewSelectionController(cfg.Tiers.At(0).ID, log),
		filter:     NewFilterController(cfg.Tiers, log),
		search:     NewLocationSearchController(cfg.Geocoder),
		router:     NewInfoOverlayRouter(cfg.Tiers, cfg.Aggregates, cfg.Dates, log),
		ctx:        ctx,
		cancel:     cancel,
	}
	if i, err := cfg.Tiers.Resolve(DefaultView.Zoom); err == nil {
		e.active = i
		e.selection.state.ActiveTier = cfg.Tiers.At(i).ID
	}
	if cfg.Date != "" {
		if err := e.filter.Apply(cfg.Date); err != nil {
			cancel()
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) publish(kinds ...ChangeKind) {
	for _, k := range kinds {
		e.notify(Change{Kind: k})
	}
}

// Start creates the rendering surface. Later calls return the same surface.
func (e *Engine) Start() Surface {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.surface == nil {
		e.surface = e.newSurface()
		e.log.Debug("surface created")
	}
	return e.surface
}

// OnLoad registers every tier's sources and layers. It runs once; repeated
// load events are ignored.
func (e *Engine) OnLoad() error {
	e.mu.Lock()
	if e.surface == nil {
		e.mu.Unlock()
		return ErrNotStarted
	}
	if e.stage != StageCreated {
		e.mu.Unlock()
		e.log.Debug("duplicate load ignored", "stage", e.stage)
		return nil
	}
	e.register()
	e.stage = StageStyleLoading
	e.mu.Unlock()

	e.publish(ChangeStage)
	return nil
}

// register adds both sources of every tier, then each tier's outline, fill
// and click layers, each placed beneath the previous.
func (e *Engine) register() {
	for _, t := range e.tiers.All() {
		for _, src := range [][2]string{
			{t.TimeSeriesSource(), t.TimeSeriesURL},
			{t.OutlineSource(), t.BoundaryURL},
		} {
			spec := surface.SourceSpec{Type: "geojson", Data: src[1], Buffer: t.Buffer, Tolerance: t.Tolerance, MaxZoom: t.ZoomMax}
			if err := e.surface.AddSource(src[0], spec); err != nil {
				e.log.Warn("source not added", "source", src[0], "err", err)
			}
		}
	}
	for _, t := range e.tiers.All() {
		layers := []struct {
			spec   surface.LayerSpec
			before string
		}{
			{surface.LayerSpec{
				ID: t.OutlineLayer(), Type: "line", Source: t.OutlineSource(),
				MinZoom: t.ZoomMin, MaxZoom: t.ZoomMax,
				Layout: map[string]any{"line-join": "round", "line-cap": "round"},
				Paint: map[string]any{
					"line-color": "#000000",
					"line-width": []any{"case", []any{"boolean", []any{"feature-state", highlightKey}, false}, 3, 0.1},
				},
			}, t.Foreground},
			{surface.LayerSpec{
				ID: t.ChoroplethLayer(), Type: "fill", Source: t.TimeSeriesSource(),
				MinZoom: t.ZoomMin, MaxZoom: t.ZoomMax,
				Paint: map[string]any{
					"fill-color":   append([]any{"step", []any{"get", "value"}}, t.Step()...),
					"fill-opacity": 1,
				},
			}, t.OutlineLayer()},
			{surface.LayerSpec{
				ID: t.ClickLayer(), Type: "fill", Source: t.OutlineSource(),
				MinZoom: t.ZoomMin, MaxZoom: t.ZoomMax,
				Paint: map[string]any{"fill-color": "#ffffff", "fill-opacity": 0.001},
			}, t.ChoroplethLayer()},
		}
		for _, l := range layers {
			if err := e.surface.AddLayer(l.spec, l.before); err != nil {
				e.log.Warn("layer not added", "layer", l.spec.ID, "err", err)
			}
		}
	}
}

// OnStyleData marks the style ready and re-applies the date filter. The
// renderer sends it many times; each call is a filter pass.
func (e *Engine) OnStyleData() {
	e.mu.Lock()
	if e.stage == StageCreated {
		e.mu.Unlock()
		e.log.Debug("style data before load ignored")
		return
	}
	changed := e.stage != StageReady
	e.stage = StageReady
	e.filter.StyleReady(e.surface)
	e.mu.Unlock()

	if changed {
		e.publish(ChangeStage)
	}
}

// OnZoom records the camera and switches tier when the zoom crosses a tier
// boundary. A tier switch clears the highlight and hides the overlay.
func (e *Engine) OnZoom(zoom float64, center orb.Point) error {
	i, err := e.tiers.Resolve(zoom)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.viewport = Viewport{Zoom: zoom, Center: center}
	if i == e.active {
		e.mu.Unlock()
		return nil
	}
	prev := e.tiers.At(e.active).ID
	e.active = i
	e.selection.TierChanged(e.surface, e.tiers.At(i).ID)
	e.overlay = Overlay{Token: e.selection.state.Token}
	e.mu.Unlock()

	e.log.Debug("tier changed", "from", prev, "to", e.tiers.At(i).ID, "zoom", zoom)
	e.publish(ChangeTier, ChangeSelection, ChangeOverlay)
	return nil
}

// OnClick handles a click on a tier's click layer. Clicks before the style is
// ready, and clicks on a layer that is not the active tier's, are ignored.
func (e *Engine) OnClick(layerID string, ev ClickEvent) error {
	e.mu.Lock()
	if e.stage != StageReady {
		e.mu.Unlock()
		e.log.Debug("click ignored", "layer", layerID, "reason", errStyleNotReady)
		return nil
	}
	def := e.tiers.At(e.active)
	if layerID != def.ClickLayer() {
		e.mu.Unlock()
		if !e.isClickLayer(layerID) {
			return fmt.Errorf("unknown click layer %q", layerID)
		}
		e.log.Debug("click on inactive tier ignored", "layer", layerID, "active", def.ID)
		return nil
	}
	token, err := e.selection.Click(e.surface, def, ev, e.viewport.Zoom)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.overlay = Overlay{Visible: true, Token: token}
	req := OverlayRequest{TierID: def.ID, AreaCode: e.selection.state.SelectedFeature, Date: e.filter.Current().Date}
	e.fetch(token, req)
	e.mu.Unlock()

	e.publish(ChangeSelection, ChangeOverlay)
	return nil
}

func (e *Engine) isClickLayer(layerID string) bool {
	for _, t := range e.tiers.All() {
		if t.ClickLayer() == layerID {
			return true
		}
	}
	return false
}

// fetch loads the card for token in the background. Called with e.mu held.
func (e *Engine) fetch(token uint64, req OverlayRequest) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		card := e.router.Fetch(e.ctx, req)

		e.mu.Lock()
		if e.selection.state.Token != token || !e.overlay.Visible {
			e.mu.Unlock()
			e.log.Debug("stale overlay dropped", "code", req.AreaCode, "token", token)
			return
		}
		e.overlay.Card = card
		e.mu.Unlock()
		e.publish(ChangeOverlay)
	}()
}

// OnRender notes the first rendered frame.
func (e *Engine) OnRender() {
	e.mu.Lock()
	was := e.loading
	e.loading = false
	e.mu.Unlock()
	if was {
		e.publish(ChangeRendered)
	}
}

// SetDate switches the date filter. An open overlay is reloaded for the new
// date.
func (e *Engine) SetDate(date string) error {
	e.mu.Lock()
	prev := e.filter.Current().Date
	if err := e.filter.Apply(date); err != nil {
		e.mu.Unlock()
		return err
	}
	cur := e.filter.Current().Date
	if cur == prev {
		e.mu.Unlock()
		return nil
	}
	refetch := e.overlay.Visible && e.selection.state.SelectedFeature != ""
	if refetch {
		token := e.selection.Renew()
		e.overlay = Overlay{Visible: true, Token: token}
		e.fetch(token, OverlayRequest{
			TierID:   e.selection.state.ActiveTier,
			AreaCode: e.selection.state.SelectedFeature,
			Date:     cur,
		})
	}
	e.mu.Unlock()

	e.publish(ChangeDate)
	if refetch {
		e.publish(ChangeOverlay)
	}
	return nil
}

// Dismiss closes the overlay and clears the selected feature. The highlight
// stays until the next selection or tier change.
func (e *Engine) Dismiss() {
	e.mu.Lock()
	e.selection.Dismiss()
	e.overlay = Overlay{Token: e.selection.state.Token}
	e.mu.Unlock()
	e.publish(ChangeSelection, ChangeOverlay)
}

// Search resolves a postcode, then places the marker and flies to it. On
// failure the map is left as it was.
func (e *Engine) Search(ctx context.Context, raw string) (PostcodeResult, error) {
	if _, err := NormalizePostcode(raw); err != nil {
		return PostcodeResult{}, err
	}
	e.mu.Lock()
	started := e.surface != nil
	e.mu.Unlock()
	if !started {
		return PostcodeResult{}, ErrNotStarted
	}

	res, err := e.search.Resolve(ctx, raw)
	if err != nil {
		return PostcodeResult{}, err
	}

	e.mu.Lock()
	e.search.Place(e.surface, res)
	e.mu.Unlock()
	e.publish(ChangeLocation)
	return res, nil
}

// ExportImage asks the renderer to download its canvas, named by the date.
func (e *Engine) ExportImage() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.surface == nil {
		return "", ErrNotStarted
	}
	name := fmt.Sprintf("cases_%s.png", e.filter.Current().Date)
	e.surface.ExportImage(name)
	return name, nil
}

func (e *Engine) Stage() Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stage
}

func (e *Engine) Viewport() Viewport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewport
}

func (e *Engine) Selection() SelectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selection.State()
}

// ActiveTier returns the tier the current zoom resolves to.
func (e *Engine) ActiveTier() tier.Definition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tiers.At(e.active)
}

// Legend returns the legend of the active tier.
func (e *Engine) Legend() tier.Legend {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tiers.Legend(e.active)
}

func (e *Engine) Overlay() Overlay {
	e.mu.Lock()
	defer e.mu.Unlock()
	o := e.overlay
	if o.Card != nil {
		c := *o.Card
		o.Card = &c
	}
	return o
}

func (e *Engine) Date() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filter.Current().Date
}

// LastLocation returns the last placed postcode search.
func (e *Engine) LastLocation() (PostcodeResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.search.Last()
}

// Loading reports whether the renderer has yet to draw a frame.
func (e *Engine) Loading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loading
}

// Wait blocks until background overlay fetches finish.
func (e *Engine) Wait() { e.wg.Wait() }

// Close cancels in-flight fetches and waits for them.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}
