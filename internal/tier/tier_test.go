package tier

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func testDefs() []Definition {
	buckets := []Bucket{{0, "#a"}, {100, "#b"}, {200, "#c"}, {300, "#d"}}
	return []Definition{
		{ID: "utla", DisplayName: "UTLA", ZoomMin: 1, ZoomMax: 7, Buckets: buckets},
		{ID: "ltla", DisplayName: "LTLA", ZoomMin: 7, ZoomMax: 8.5, Buckets: buckets},
		{ID: "msoa", DisplayName: "MSOA", ZoomMin: 8.5, ZoomMax: 15.5, Buckets: buckets},
	}
}

func mustRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(testDefs())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestResolveScenarios(t *testing.T) {
	r := mustRegistry(t)
	for _, tc := range []struct {
		zoom float64
		want string
	}{
		{5.0, "utla"},
		{7.5, "ltla"},
		{9.0, "msoa"},
		{0.5, "utla"},
		{7, "ltla"},
		{8.5, "msoa"},
		{22, "msoa"},
	} {
		def, err := r.ResolveTier(tc.zoom)
		if err != nil {
			t.Fatalf("zoom %v: %v", tc.zoom, err)
		}
		if def.ID != tc.want {
			t.Errorf("zoom %v: got %q, want %q", tc.zoom, def.ID, tc.want)
		}
	}
}

func TestResolveMonotone(t *testing.T) {
	r := mustRegistry(t)
	prev := -1
	for z := 0.0; z <= 16; z += 0.01 {
		i, err := r.Resolve(z)
		if err != nil {
			t.Fatalf("zoom %v: %v", z, err)
		}
		if i < prev {
			t.Fatalf("zoom %v resolved to %d after %d", z, i, prev)
		}
		if i < 0 || i >= r.Len() {
			t.Fatalf("zoom %v resolved out of range: %d", z, i)
		}
		prev = i
	}
	if prev != r.Len()-1 {
		t.Fatalf("highest zoom resolved to %d, want finest tier", prev)
	}
}

func TestResolveInvalid(t *testing.T) {
	r := mustRegistry(t)
	for _, z := range []float64{math.NaN(), -1, math.Inf(1), math.Inf(-1)} {
		_, err := r.Resolve(z)
		var ve *InvalidViewportError
		if !errors.As(err, &ve) {
			t.Errorf("zoom %v: got %v, want InvalidViewportError", z, err)
		}
	}
}

func TestNewRegistryRejectsGapAndOverlap(t *testing.T) {
	gap := testDefs()
	gap[1].ZoomMin = 7.2
	if _, err := NewRegistry(gap); err == nil || !strings.Contains(err.Error(), "gap") {
		t.Errorf("gap: got %v", err)
	}

	overlap := testDefs()
	overlap[2].ZoomMin = 8
	if _, err := NewRegistry(overlap); err == nil || !strings.Contains(err.Error(), "overlap") {
		t.Errorf("overlap: got %v", err)
	}

	if _, err := NewRegistry(nil); !errors.Is(err, ErrEmptyRegistry) {
		t.Errorf("empty: got %v", err)
	}
}

func TestNewRegistrySortsByZoom(t *testing.T) {
	defs := testDefs()
	defs[0], defs[2] = defs[2], defs[0]
	r, err := NewRegistry(defs)
	if err != nil {
		t.Fatal(err)
	}
	if r.At(0).ID != "utla" || r.Finest().ID != "msoa" {
		t.Fatalf("order = %s..%s", r.At(0).ID, r.Finest().ID)
	}
}

func TestParseBuckets(t *testing.T) {
	b, err := ParseBuckets([]any{"#a", 100, "#b", 200.0, "#c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 3 || b[1].LowerBound != 100 || b[2].Color != "#c" {
		t.Fatalf("buckets = %+v", b)
	}

	for name, flat := range map[string][]any{
		"even":       {"#a", 100},
		"decreasing": {"#a", 200, "#b", 100, "#c"},
		"not color":  {"#a", 100, 5},
		"zero":       {"#a", 0, "#b"},
	} {
		if _, err := ParseBuckets(flat); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := Default()
	if r.Len() != 3 {
		t.Fatalf("len = %d", r.Len())
	}
	msoa, ok := r.Get("msoa")
	if !ok || msoa.Foreground != "ltla" || msoa.ZoomMax != 15.5 {
		t.Fatalf("msoa = %+v", msoa)
	}
	if got := msoa.Step(); len(got) != 7 || got[1] != 100.0 {
		t.Fatalf("step = %v", got)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := Default().Marshal()
	if err != nil {
		t.Fatal(err)
	}
	r, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse(Marshal()): %v", err)
	}
	if r.At(1).ID != "ltla" || len(r.At(1).Buckets) != 4 {
		t.Fatalf("tier 1 = %+v", r.At(1))
	}
}
