package mapview

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/joeblew999/plat-choropleth/internal/dataapi"
)

// FlyToZoom is the close zoom used after a postcode search.
const FlyToZoom = 10.8

var postcodePattern = regexp.MustCompile(`^[A-Z]{1,2}[0-9]{1,2}[A-Z]?[0-9]{1,2}[A-Z]{1,2}$`)

// Geocoder resolves a postcode to a point.
type Geocoder interface {
	Postcode(ctx context.Context, postcode string) (dataapi.Location, error)
}

// NormalizePostcode strips all whitespace and upper-cases the input, then
// checks it has the shape of a postcode.
func NormalizePostcode(raw string) (string, error) {
	pc := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, raw)
	if !postcodePattern.MatchString(pc) {
		return "", &InvalidPostcodeError{Input: raw}
	}
	return pc, nil
}

// LocationSearchController turns a postcode into a marker and a camera move.
type LocationSearchController struct {
	geocoder Geocoder
	last     *PostcodeResult
}

// NewLocationSearchController wires the geocoding collaborator.
func NewLocationSearchController(g Geocoder) *LocationSearchController {
	return &LocationSearchController{geocoder: g}
}

// Resolve validates raw and looks it up. Invalid input fails before any
// network call. It does not touch the map.
func (c *LocationSearchController) Resolve(ctx context.Context, raw string) (PostcodeResult, error) {
	pc, err := NormalizePostcode(raw)
	if err != nil {
		return PostcodeResult{}, err
	}
	if c.geocoder == nil {
		return PostcodeResult{}, fmt.Errorf("postcode lookup not configured")
	}
	loc, err := c.geocoder.Postcode(ctx, pc)
	if err != nil {
		return PostcodeResult{}, fmt.Errorf("looking up %s: %w", pc, err)
	}
	return PostcodeResult{Postcode: pc, Coordinates: loc.Point, Raw: loc.Raw}, nil
}

// Place puts the single location marker on res and flies the camera there.
func (c *LocationSearchController) Place(s Surface, res PostcodeResult) {
	s.SetMarker(res.Coordinates)
	s.FlyTo(res.Coordinates, FlyToZoom)
	c.last = &res
}

// Last returns the most recent placed result, if any.
func (c *LocationSearchController) Last() (PostcodeResult, bool) {
	if c.last == nil {
		return PostcodeResult{}, false
	}
	return *c.last, true
}
