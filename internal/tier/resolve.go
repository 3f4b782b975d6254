package tier

import (
	"fmt"
	"math"
)

// InvalidViewportError reports a zoom or center the map cannot be in.
type InvalidViewportError struct {
	Zoom   float64
	Reason string
}

func (e *InvalidViewportError) Error() string {
	return fmt.Sprintf("invalid viewport (zoom=%v): %s", e.Zoom, e.Reason)
}

// Resolve maps a zoom level to the index of the active tier: the i with
// ZoomMin[i] <= zoom < ZoomMax[i]. Zoom below the first range resolves to the
// broadest tier and the last tier is open above, so every valid zoom maps to
// exactly one tier and the mapping never decreases as zoom grows.
func (r *Registry) Resolve(zoom float64) (int, error) {
	switch {
	case math.IsNaN(zoom):
		return 0, &InvalidViewportError{Zoom: zoom, Reason: "zoom is NaN"}
	case math.IsInf(zoom, 0):
		return 0, &InvalidViewportError{Zoom: zoom, Reason: "zoom is infinite"}
	case zoom < 0:
		return 0, &InvalidViewportError{Zoom: zoom, Reason: "zoom is negative"}
	}
	for i := len(r.tiers) - 1; i > 0; i-- {
		if zoom >= r.tiers[i].ZoomMin {
			return i, nil
		}
	}
	return 0, nil
}

// ResolveTier is Resolve returning the definition.
func (r *Registry) ResolveTier(zoom float64) (Definition, error) {
	i, err := r.Resolve(zoom)
	if err != nil {
		return Definition{}, err
	}
	return r.tiers[i], nil
}
