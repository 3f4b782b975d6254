package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-choropleth/internal/logger"
	"github.com/joeblew999/plat-choropleth/internal/tier"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := New(Config{Host: "localhost", Port: "0", Logger: logger.Discard(), IdleTimeout: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.sessions.Close)
	return srv, httptest.NewServer(srv)
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(b)
}

func TestRoutes(t *testing.T) {
	_, hs := newTestServer(t)
	defer hs.Close()

	resp, body := get(t, hs.URL+"/")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "plat-choropleth") {
		t.Errorf("root %d %s", resp.StatusCode, body)
	}
	if len(resp.Header.Values("Link")) == 0 {
		t.Error("root has no links")
	}

	for _, path := range []string{"/health", "/api/v1/tiers", "/api/v1/tiers/ltla/legend", "/openapi.json"} {
		if resp, body := get(t, hs.URL+path); resp.StatusCode != http.StatusOK {
			t.Errorf("%s: %d %s", path, resp.StatusCode, body)
		}
	}

	if resp, _ := get(t, hs.URL+"/nope"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path status = %d", resp.StatusCode)
	}
}

func TestMetricsCountSessions(t *testing.T) {
	_, hs := newTestServer(t)
	defer hs.Close()

	resp, err := http.Post(hs.URL+"/api/v1/sessions", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}

	_, body := get(t, hs.URL+"/metrics")
	if !strings.Contains(body, "choropleth_sessions_active") {
		t.Error("sessions gauge not exported")
	}
}

func TestWarmIngestsSeries(t *testing.T) {
	boundary := geojson.NewFeatureCollection()
	series := geojson.NewFeatureCollection()
	f := geojson.NewFeature(orb.Polygon{{{0, 51}, {1, 51}, {1, 52}, {0, 51}}})
	f.Properties["code"] = "E09000001"
	boundary.Append(f)
	v := geojson.NewFeature(orb.Polygon{{{0, 51}, {1, 51}, {1, 52}, {0, 51}}})
	v.Properties["code"] = "E09000001"
	v.Properties["date"] = "2020-11-20"
	v.Properties["value"] = 120.0
	series.Append(v)

	docs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fc := boundary
		if strings.Contains(r.URL.Path, "series") {
			fc = series
		}
		b, _ := fc.MarshalJSON()
		w.Write(b)
	}))
	defer docs.Close()

	tiers, err := tier.NewRegistry([]tier.Definition{{
		ID: "utla", DisplayName: "UTLA",
		BoundaryURL: docs.URL + "/utla-ref", TimeSeriesURL: docs.URL + "/utla-series",
		ZoomMin: 0, ZoomMax: 22,
		Buckets: []tier.Bucket{{LowerBound: 0, Color: "#e0e543"}, {LowerBound: 100, Color: "#74bb68"}},
	}})
	if err != nil {
		t.Fatal(err)
	}

	srv, hs := newTestServer(t)
	defer hs.Close()
	srv.tiers = tiers
	if err := srv.Warm(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := srv.store.Features(docs.URL + "/utla-ref"); !ok {
		t.Error("boundary not held")
	}
	d, err := srv.catalogue.LatestDate(context.Background())
	if err != nil || d != "2020-11-20" {
		t.Errorf("latest = %q, %v", d, err)
	}
}
