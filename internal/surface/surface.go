// Package surface is the server-side handle on a viewer's rendering engine.
//
// The renderer itself runs in the browser. A Surface records every mutation
// the map engine asks for as a Command, keeps enough shadow state to answer
// the engine's synchronous questions (is this layer registered? which
// features are rendered?), and hands the queued commands to whoever streams
// them to the browser.
package surface

import (
	"errors"
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Op names a renderer operation.
type Op string

const (
	OpAddSource       Op = "addSource"
	OpAddLayer        Op = "addLayer"
	OpSetFilter       Op = "setFilter"
	OpSetFeatureState Op = "setFeatureState"
	OpFitBounds       Op = "fitBounds"
	OpFlyTo           Op = "flyTo"
	OpSetMarker       Op = "setMarker"
	OpExportImage     Op = "exportImage"
)

var (
	ErrDuplicateSource = errors.New("source already exists")
	ErrDuplicateLayer  = errors.New("layer already exists")
	ErrUnknownSource   = errors.New("unknown source")
	ErrUnknownLayer    = errors.New("unknown layer")
)

// SourceSpec is a GeoJSON source definition.
type SourceSpec struct {
	Type      string  `json:"type"`
	Data      string  `json:"data"`
	Buffer    int     `json:"buffer,omitempty"`
	Tolerance float64 `json:"tolerance,omitempty"`
	MaxZoom   float64 `json:"maxzoom,omitempty"`
}

// LayerSpec is a style layer definition.
type LayerSpec struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Source  string         `json:"source"`
	MinZoom float64        `json:"minzoom"`
	MaxZoom float64        `json:"maxzoom"`
	Layout  map[string]any `json:"layout,omitempty"`
	Paint   map[string]any `json:"paint,omitempty"`
}

// FeatureRef addresses one feature of a source for feature-state.
type FeatureRef struct {
	Source string `json:"source"`
	ID     int64  `json:"id"`
}

// FitOptions tune a fit-to-bounds camera move.
type FitOptions struct {
	Padding float64 `json:"padding"`
	MaxZoom float64 `json:"maxZoom"`
	MinZoom float64 `json:"minZoom,omitempty"`
}

// Command is one queued renderer operation.
type Command struct {
	Op       Op             `json:"op"`
	ID       string         `json:"id,omitempty"`
	Before   string         `json:"before,omitempty"`
	Source   *SourceSpec    `json:"source,omitempty"`
	Layer    *LayerSpec     `json:"layer,omitempty"`
	Filter   []any          `json:"filter,omitempty"`
	Feature  *FeatureRef    `json:"feature,omitempty"`
	State    map[string]any `json:"state,omitempty"`
	Bounds   []float64      `json:"bounds,omitempty"`
	Fit      *FitOptions    `json:"fit,omitempty"`
	Center   []float64      `json:"center,omitempty"`
	Zoom     float64        `json:"zoom,omitempty"`
	Anchor   string         `json:"anchor,omitempty"`
	Filename string         `json:"filename,omitempty"`
}

// RenderedFeature is a feature as the renderer currently draws it.
type RenderedFeature struct {
	ID         int64
	Properties geojson.Properties
	Geometry   orb.Geometry
}

// Index supplies the features loaded into a source.
type Index interface {
	Features(url string) ([]*geojson.Feature, bool)
}

// Commands is a Surface that queues renderer commands.
type Commands struct {
	mu      sync.Mutex
	index   Index
	sources map[string]SourceSpec
	layers  map[string]LayerSpec
	filters map[string][]any
	states  map[FeatureRef]map[string]any
	queue   []Command
	notify  chan struct{}
}

// New creates an empty command surface. index may be nil, in which case no
// features are ever rendered.
func New(index Index) *Commands {
	return &Commands{
		index:   index,
		sources: make(map[string]SourceSpec),
		layers:  make(map[string]LayerSpec),
		filters: make(map[string][]any),
		states:  make(map[FeatureRef]map[string]any),
		notify:  make(chan struct{}, 1),
	}
}

func (c *Commands) push(cmd Command) {
	c.queue = append(c.queue, cmd)
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Notify fires whenever commands are queued. Notify and Drain serve a
// single consumer.
func (c *Commands) Notify() <-chan struct{} { return c.notify }

// Drain returns and clears the queued commands.
func (c *Commands) Drain() []Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.queue
	c.queue = nil
	return out
}

// AddSource registers a source.
func (c *Commands) AddSource(id string, spec SourceSpec) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sources[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, id)
	}
	c.sources[id] = spec
	c.push(Command{Op: OpAddSource, ID: id, Source: &spec})
	return nil
}

// AddLayer registers a layer drawn beneath before (empty for topmost).
func (c *Commands) AddLayer(spec LayerSpec, before string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.layers[spec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateLayer, spec.ID)
	}
	if _, ok := c.sources[spec.Source]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, spec.Source)
	}
	c.layers[spec.ID] = spec
	c.push(Command{Op: OpAddLayer, ID: spec.ID, Layer: &spec, Before: before})
	return nil
}

// HasLayer reports whether a layer is registered.
func (c *Commands) HasLayer(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.layers[id]
	return ok
}

// SetFilter replaces the filter on a layer.
func (c *Commands) SetFilter(layerID string, filter []any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.layers[layerID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLayer, layerID)
	}
	c.filters[layerID] = filter
	c.push(Command{Op: OpSetFilter, ID: layerID, Filter: filter})
	return nil
}

// Filter returns the filter last set on a layer.
func (c *Commands) Filter(layerID string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filters[layerID]
}

// SetFeatureState merges state into a feature's feature-state.
func (c *Commands) SetFeatureState(ref FeatureRef, state map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sources[ref.Source]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, ref.Source)
	}
	cur := c.states[ref]
	if cur == nil {
		cur = make(map[string]any, len(state))
		c.states[ref] = cur
	}
	for k, v := range state {
		cur[k] = v
	}
	c.push(Command{Op: OpSetFeatureState, Feature: &ref, State: state})
	return nil
}

// FeatureState returns a copy of a feature's state.
func (c *Commands) FeatureState(ref FeatureRef) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.states[ref]))
	for k, v := range c.states[ref] {
		out[k] = v
	}
	return out
}

// FeaturesWithState lists the features whose key state is true.
func (c *Commands) FeaturesWithState(key string) []FeatureRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []FeatureRef
	for ref, st := range c.states {
		if b, _ := st[key].(bool); b {
			out = append(out, ref)
		}
	}
	return out
}

// RenderedFeatures returns the features of a layer's source. Feature ids are
// the GeoJSON numeric id when present, otherwise the position in the source.
func (c *Commands) RenderedFeatures(layerID string) []RenderedFeature {
	c.mu.Lock()
	layer, ok := c.layers[layerID]
	var src SourceSpec
	if ok {
		src = c.sources[layer.Source]
	}
	c.mu.Unlock()
	if !ok || c.index == nil {
		return nil
	}
	fs, ok := c.index.Features(src.Data)
	if !ok {
		return nil
	}
	out := make([]RenderedFeature, 0, len(fs))
	for i, f := range fs {
		out = append(out, RenderedFeature{
			ID:         featureID(f, i),
			Properties: f.Properties,
			Geometry:   f.Geometry,
		})
	}
	return out
}

func featureID(f *geojson.Feature, pos int) int64 {
	switch id := f.ID.(type) {
	case float64:
		return int64(id)
	case int:
		return int64(id)
	case int64:
		return id
	}
	return int64(pos)
}

// FitBounds moves the camera to show b.
func (c *Commands) FitBounds(b orb.Bound, opts FitOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.push(Command{
		Op:     OpFitBounds,
		Bounds: []float64{b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()},
		Fit:    &opts,
	})
}

// FlyTo animates the camera to center at zoom.
func (c *Commands) FlyTo(center orb.Point, zoom float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.push(Command{Op: OpFlyTo, Center: []float64{center.Lon(), center.Lat()}, Zoom: zoom})
}

// SetMarker places the single location marker, replacing any previous one.
func (c *Commands) SetMarker(p orb.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.push(Command{Op: OpSetMarker, Center: []float64{p.Lon(), p.Lat()}, Anchor: "bottom"})
}

// ExportImage asks the renderer to offer its canvas as a download.
func (c *Commands) ExportImage(filename string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.push(Command{Op: OpExportImage, Filename: filename})
}
