package surface

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

type mapIndex map[string][]*geojson.Feature

func (m mapIndex) Features(url string) ([]*geojson.Feature, bool) {
	fs, ok := m[url]
	return fs, ok
}

func TestLayerNeedsSource(t *testing.T) {
	s := New(nil)
	err := s.AddLayer(LayerSpec{ID: "utla", Type: "line", Source: "geo-utla"}, "")
	if !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("err = %v", err)
	}
	if err := s.AddSource("geo-utla", SourceSpec{Type: "geojson", Data: "u"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSource("geo-utla", SourceSpec{Type: "geojson", Data: "u"}); !errors.Is(err, ErrDuplicateSource) {
		t.Errorf("duplicate source err = %v", err)
	}
	if err := s.AddLayer(LayerSpec{ID: "utla", Type: "line", Source: "geo-utla"}, "building"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddLayer(LayerSpec{ID: "utla", Type: "line", Source: "geo-utla"}, ""); !errors.Is(err, ErrDuplicateLayer) {
		t.Errorf("duplicate layer err = %v", err)
	}
	if !s.HasLayer("utla") || s.HasLayer("ltla") {
		t.Error("HasLayer wrong")
	}
	cmds := s.Drain()
	if len(cmds) != 2 || cmds[1].Op != OpAddLayer || cmds[1].Before != "building" {
		t.Errorf("commands = %+v", cmds)
	}
	if len(s.Drain()) != 0 {
		t.Error("drain did not clear the queue")
	}
}

func TestFilterAndFeatureState(t *testing.T) {
	s := New(nil)
	if err := s.SetFilter("choropleth-utla", []any{"==", "date", "2020-11-20"}); !errors.Is(err, ErrUnknownLayer) {
		t.Errorf("err = %v", err)
	}
	if err := s.SetFeatureState(FeatureRef{Source: "geo-utla", ID: 1}, map[string]any{"hover": true}); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("err = %v", err)
	}

	_ = s.AddSource("timeSeries-utla", SourceSpec{Type: "geojson"})
	_ = s.AddSource("geo-utla", SourceSpec{Type: "geojson"})
	_ = s.AddLayer(LayerSpec{ID: "choropleth-utla", Type: "fill", Source: "timeSeries-utla"}, "")

	if err := s.SetFilter("choropleth-utla", []any{"==", "date", "2020-11-20"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetFilter("choropleth-utla", []any{"==", "date", "2020-11-21"}); err != nil {
		t.Fatal(err)
	}
	if got := s.Filter("choropleth-utla"); got[2] != "2020-11-21" {
		t.Errorf("filter = %v", got)
	}

	a, b := FeatureRef{Source: "geo-utla", ID: 1}, FeatureRef{Source: "geo-utla", ID: 2}
	_ = s.SetFeatureState(a, map[string]any{"hover": true})
	_ = s.SetFeatureState(b, map[string]any{"hover": true})
	_ = s.SetFeatureState(a, map[string]any{"hover": false})
	lit := s.FeaturesWithState("hover")
	if len(lit) != 1 || lit[0] != b {
		t.Errorf("lit = %v", lit)
	}
	if st := s.FeatureState(a); st["hover"] != false {
		t.Errorf("state = %v", st)
	}
}

func TestRenderedFeatureIDs(t *testing.T) {
	withID := geojson.NewFeature(orb.Point{0, 0})
	withID.ID = float64(12)
	withID.Properties["code"] = "A"
	noID := geojson.NewFeature(orb.Point{1, 1})
	noID.Properties["code"] = "B"

	s := New(mapIndex{"https://example.test/utla.geojson": {withID, noID}})
	_ = s.AddSource("geo-utla", SourceSpec{Type: "geojson", Data: "https://example.test/utla.geojson"})
	_ = s.AddLayer(LayerSpec{ID: "utla", Type: "line", Source: "geo-utla"}, "")

	got := s.RenderedFeatures("utla")
	if len(got) != 2 || got[0].ID != 12 || got[1].ID != 1 {
		t.Fatalf("rendered = %+v", got)
	}
	if got[1].Properties["code"] != "B" {
		t.Errorf("properties = %v", got[1].Properties)
	}
	if s.RenderedFeatures("missing") != nil {
		t.Error("unknown layer rendered features")
	}
}

func TestCameraCommands(t *testing.T) {
	s := New(nil)
	s.FitBounds(orb.Bound{Min: orb.Point{-1, 50}, Max: orb.Point{1, 52}}, FitOptions{Padding: 20, MaxZoom: 8, MinZoom: 7.5})
	s.FlyTo(orb.Point{-0.14, 51.5}, 10.8)
	s.SetMarker(orb.Point{-0.14, 51.5})
	s.ExportImage("cases_2020-11-20.png")

	select {
	case <-s.Notify():
	default:
		t.Fatal("no notification")
	}
	cmds := s.Drain()
	if len(cmds) != 4 {
		t.Fatalf("commands = %+v", cmds)
	}
	if b := cmds[0].Bounds; b[0] != -1 || b[1] != 50 || b[2] != 1 || b[3] != 52 {
		t.Errorf("bounds = %v", b)
	}
	if cmds[1].Zoom != 10.8 || cmds[2].Anchor != "bottom" || cmds[3].Filename != "cases_2020-11-20.png" {
		t.Errorf("commands = %+v", cmds)
	}
}
