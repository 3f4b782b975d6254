package mapview

import (
	"testing"

	"github.com/joeblew999/plat-choropleth/internal/logger"
	"github.com/joeblew999/plat-choropleth/internal/surface"
	"github.com/joeblew999/plat-choropleth/internal/tier"
)

func TestNormalizeDate(t *testing.T) {
	for in, want := range map[string]string{
		"2020-11-20":               "2020-11-20",
		"2020-11-20T00:00:00.000Z": "2020-11-20",
	} {
		if got, err := NormalizeDate(in); err != nil || got != want {
			t.Errorf("NormalizeDate(%q) = %q, %v", in, got, err)
		}
	}
	for _, in := range []string{"", "2020-13-01", "yesterday"} {
		if _, err := NormalizeDate(in); err == nil {
			t.Errorf("NormalizeDate(%q) accepted", in)
		}
	}
}

func TestFilterSkipsUnregisteredLayer(t *testing.T) {
	tiers := tier.Default()
	s := surface.New(nil)
	// Only the broadest tier is registered so far.
	utla := tiers.At(0)
	if err := s.AddSource(utla.TimeSeriesSource(), surface.SourceSpec{Type: "geojson"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddLayer(surface.LayerSpec{ID: utla.ChoroplethLayer(), Type: "fill", Source: utla.TimeSeriesSource()}, ""); err != nil {
		t.Fatal(err)
	}
	s.Drain()

	f := NewFilterController(tiers, logger.Discard())
	if err := f.Apply("2020-11-20"); err != nil {
		t.Fatal(err)
	}
	f.StyleReady(s)
	if got := countOps(s.Drain(), surface.OpSetFilter); got != 1 {
		t.Fatalf("setFilter = %d, want 1", got)
	}

	ltla := tiers.At(1)
	if err := s.AddSource(ltla.TimeSeriesSource(), surface.SourceSpec{Type: "geojson"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddLayer(surface.LayerSpec{ID: ltla.ChoroplethLayer(), Type: "fill", Source: ltla.TimeSeriesSource()}, ""); err != nil {
		t.Fatal(err)
	}
	s.Drain()

	// The next ready pass picks up the late layer only.
	f.StyleReady(s)
	cmds := s.Drain()
	if len(cmds) != 1 || cmds[0].ID != ltla.ChoroplethLayer() {
		t.Errorf("commands = %+v", cmds)
	}
	if f.Current().Date != "2020-11-20" {
		t.Errorf("current = %+v", f.Current())
	}
}
