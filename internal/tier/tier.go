// Package tier defines the nested geographic tiers of the choropleth map,
// the zoom ranges they cover and the color buckets they are painted with.
package tier

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Definition describes one geographic resolution. Definitions are pure data:
// tier-specific behaviour is expressed only through these fields.
type Definition struct {
	ID            string   `yaml:"id" json:"id" doc:"Tier identifier (also the area type)" example:"utla"`
	DisplayName   string   `yaml:"name" json:"name" doc:"Display name" example:"UTLA"`
	BoundaryURL   string   `yaml:"boundary" json:"boundary" doc:"GeoJSON outline source"`
	TimeSeriesURL string   `yaml:"timeSeries" json:"timeSeries" doc:"GeoJSON time-series source"`
	Foreground    string   `yaml:"foreground,omitempty" json:"foreground,omitempty" doc:"Layer the outline is drawn beneath"`
	Tolerance     float64  `yaml:"tolerance" json:"tolerance" doc:"Simplification tolerance"`
	Buffer        int      `yaml:"buffer" json:"buffer" doc:"Tile render buffer"`
	ZoomMin       float64  `yaml:"minZoom" json:"minZoom" doc:"Inclusive lower zoom bound"`
	ZoomMax       float64  `yaml:"maxZoom" json:"maxZoom" doc:"Exclusive upper zoom bound"`
	Buckets       []Bucket `yaml:"-" json:"buckets" doc:"Color buckets, ascending"`
}

// Bucket pairs a lower bound with the fill color used from that bound up.
type Bucket struct {
	LowerBound float64 `json:"lowerBound" doc:"Inclusive lower bound"`
	Color      string  `json:"color" doc:"CSS color"`
}

// Source and layer ids registered with the renderer for a tier.

func (d Definition) OutlineSource() string    { return "geo-" + d.ID }
func (d Definition) TimeSeriesSource() string { return "timeSeries-" + d.ID }
func (d Definition) OutlineLayer() string     { return d.ID }
func (d Definition) ChoroplethLayer() string  { return "choropleth-" + d.ID }
func (d Definition) ClickLayer() string       { return d.ID + "-click" }

// Step returns the flat step expression operands: color0, t1, color1, ...
func (d Definition) Step() []any {
	out := make([]any, 0, len(d.Buckets)*2)
	for i, b := range d.Buckets {
		if i > 0 {
			out = append(out, b.LowerBound)
		}
		out = append(out, b.Color)
	}
	return out
}

// ParseBuckets converts the flat [color0, t1, color1, t2, color2, ...] form
// into buckets. Thresholds must be strictly increasing and positive.
func ParseBuckets(flat []any) ([]Bucket, error) {
	if len(flat) == 0 || len(flat)%2 == 0 {
		return nil, fmt.Errorf("bucket list must have an odd number of entries, got %d", len(flat))
	}
	first, ok := flat[0].(string)
	if !ok || first == "" {
		return nil, fmt.Errorf("bucket 0: expected color, got %v", flat[0])
	}
	buckets := []Bucket{{LowerBound: 0, Color: first}}
	for i := 1; i < len(flat); i += 2 {
		t, ok := toFloat(flat[i])
		if !ok {
			return nil, fmt.Errorf("entry %d: expected threshold, got %v", i, flat[i])
		}
		color, ok := flat[i+1].(string)
		if !ok || color == "" {
			return nil, fmt.Errorf("entry %d: expected color, got %v", i+1, flat[i+1])
		}
		prev := buckets[len(buckets)-1].LowerBound
		if t <= prev {
			return nil, fmt.Errorf("threshold %v is not above %v", t, prev)
		}
		buckets = append(buckets, Bucket{LowerBound: t, Color: color})
	}
	return buckets, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// Registry is the ordered, immutable list of tiers.
type Registry struct {
	tiers []Definition
	byID  map[string]int
}

// ErrEmptyRegistry is returned when no tiers are defined.
var ErrEmptyRegistry = errors.New("tier registry is empty")

// NewRegistry validates defs and returns a registry ordered by ZoomMin.
// Zoom ranges must partition the axis: no gaps, no overlaps.
func NewRegistry(defs []Definition) (*Registry, error) {
	if len(defs) == 0 {
		return nil, ErrEmptyRegistry
	}
	tiers := make([]Definition, len(defs))
	copy(tiers, defs)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].ZoomMin < tiers[j].ZoomMin })

	byID := make(map[string]int, len(tiers))
	for i, t := range tiers {
		if t.ID == "" {
			return nil, fmt.Errorf("tier %d: id is required", i)
		}
		if _, dup := byID[t.ID]; dup {
			return nil, fmt.Errorf("tier %q defined twice", t.ID)
		}
		if math.IsNaN(t.ZoomMin) || math.IsNaN(t.ZoomMax) || t.ZoomMin < 0 || t.ZoomMin >= t.ZoomMax {
			return nil, fmt.Errorf("tier %q: invalid zoom range [%v, %v)", t.ID, t.ZoomMin, t.ZoomMax)
		}
		if len(t.Buckets) == 0 {
			return nil, fmt.Errorf("tier %q: no buckets", t.ID)
		}
		for k := 1; k < len(t.Buckets); k++ {
			if t.Buckets[k].LowerBound <= t.Buckets[k-1].LowerBound {
				return nil, fmt.Errorf("tier %q: bucket thresholds must increase", t.ID)
			}
		}
		if i > 0 {
			prev := tiers[i-1]
			switch {
			case t.ZoomMin > prev.ZoomMax:
				return nil, fmt.Errorf("zoom gap between %q and %q: [%v, %v)", prev.ID, t.ID, prev.ZoomMax, t.ZoomMin)
			case t.ZoomMin < prev.ZoomMax:
				return nil, fmt.Errorf("zoom overlap between %q and %q", prev.ID, t.ID)
			}
		}
		byID[t.ID] = i
	}
	return &Registry{tiers: tiers, byID: byID}, nil
}

// Len returns the number of tiers.
func (r *Registry) Len() int { return len(r.tiers) }

// BoundaryURLs returns each tier's outline document URL, broadest first.
func (r *Registry) BoundaryURLs() []string {
	urls := make([]string, len(r.tiers))
	for i, t := range r.tiers {
		urls[i] = t.BoundaryURL
	}
	return urls
}

// At returns the tier at index i.
func (r *Registry) At(i int) Definition { return r.tiers[i] }

// All returns a copy of the tiers in zoom order.
func (r *Registry) All() []Definition {
	out := make([]Definition, len(r.tiers))
	copy(out, r.tiers)
	return out
}

// Get looks a tier up by id.
func (r *Registry) Get(id string) (Definition, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Definition{}, false
	}
	return r.tiers[i], true
}

// Index returns the position of tier id, or -1.
func (r *Registry) Index(id string) int {
	if i, ok := r.byID[id]; ok {
		return i
	}
	return -1
}

// Finest returns the highest-zoom tier.
func (r *Registry) Finest() Definition { return r.tiers[len(r.tiers)-1] }

// IsFinest reports whether id names the highest-zoom tier.
func (r *Registry) IsFinest(id string) bool { return r.Finest().ID == id }
