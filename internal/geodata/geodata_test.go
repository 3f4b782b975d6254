package geodata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-choropleth/internal/db"
	"github.com/joeblew999/plat-choropleth/internal/logger"
	"github.com/joeblew999/plat-choropleth/internal/tier"
)

const boundaryDoc = `{"type":"FeatureCollection","features":[
{"type":"Feature","id":3,"properties":{"code":"E09000001"},"geometry":{"type":"Polygon","coordinates":[[[-0.1,51.5],[0,51.5],[0,51.6],[-0.1,51.5]]]}},
{"type":"Feature","properties":{"code":"E09000002"},"geometry":{"type":"Polygon","coordinates":[[[0.1,51.5],[0.2,51.5],[0.2,51.6],[0.1,51.5]]]}}
]}`

const seriesDoc = `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{"code":"E09000001","date":"2020-11-13","value":120.5},"geometry":null},
{"type":"Feature","properties":{"code":"E09000001","date":"2020-11-20T00:00:00Z","value":98},"geometry":null},
{"type":"Feature","properties":{"code":"E09000002","date":"2020-11-20","value":null},"geometry":null},
{"type":"Feature","properties":{"date":"2020-11-20","value":1},"geometry":null}
]}`

func serve(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "_data_latest.geojson"):
			w.Write([]byte(seriesDoc))
		case strings.HasSuffix(r.URL.Path, ".geojson"):
			w.Write([]byte(boundaryDoc))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newSeries(t *testing.T) *SeriesStore {
	t.Helper()
	conn, err := db.Open(db.Config{})
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })
	s, err := NewSeriesStore(context.Background(), conn)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestStoreFetch(t *testing.T) {
	var hits atomic.Int32
	srv := serve(t, &hits)
	s, err := NewStore(0, srv.Client(), logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	url := srv.URL + "/utla.geojson"
	if _, ok := s.Features(url); ok {
		t.Fatal("features before fetch")
	}
	if err := s.FetchAll(context.Background(), []string{url}); err != nil {
		t.Fatal(err)
	}
	fs, ok := s.Features(url)
	if !ok || len(fs) != 2 {
		t.Fatalf("features = %d, %v", len(fs), ok)
	}
	if fs[0].Properties.MustString("code", "") != "E09000001" {
		t.Errorf("first feature = %v", fs[0].Properties)
	}
	// Loaded documents are not fetched again.
	if err := s.FetchAll(context.Background(), []string{url}); err != nil {
		t.Fatal(err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("hits = %d", got)
	}
}

func TestStoreFetchErrors(t *testing.T) {
	srv := serve(t, nil)
	s, _ := NewStore(2, srv.Client(), logger.Discard())
	if _, err := s.Fetch(context.Background(), srv.URL+"/missing"); err == nil {
		t.Error("404 accepted")
	}
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer bad.Close()
	if _, err := s.Fetch(context.Background(), bad.URL+"/x.geojson"); err == nil {
		t.Error("bad json accepted")
	}

	ok := srv.URL + "/ltla.geojson"
	if err := s.FetchAll(context.Background(), []string{srv.URL + "/missing", ok}); err == nil {
		t.Error("missing document not reported")
	}
	if _, held := s.Features(ok); !held {
		t.Error("one failure stopped the other fetches")
	}
}

func TestStoreEvictsOldest(t *testing.T) {
	s, _ := NewStore(2, nil, logger.Discard())
	fc := geojson.NewFeatureCollection()
	s.Put("a", fc)
	s.Put("b", fc)
	s.Put("c", fc)
	if _, ok := s.Features("a"); ok {
		t.Error("oldest document kept")
	}
	if s.Len() != 2 {
		t.Errorf("len = %d", s.Len())
	}
}

func TestSeriesIngestAndDates(t *testing.T) {
	ctx := context.Background()
	s := newSeries(t)
	if _, err := s.LatestDate(ctx); !errors.Is(err, ErrNoDates) {
		t.Fatalf("empty latest err = %v", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection([]byte(seriesDoc))
	if err != nil {
		t.Fatal(err)
	}
	n, err := s.Ingest(ctx, "utla", fc)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("ingested %d rows, want 3", n)
	}

	dates, err := s.Dates(ctx, "utla")
	if err != nil {
		t.Fatal(err)
	}
	if len(dates) != 2 || dates[0] != "2020-11-13" || dates[1] != "2020-11-20" {
		t.Errorf("dates = %v", dates)
	}
	latest, err := s.LatestDate(ctx)
	if err != nil || latest != "2020-11-20" {
		t.Errorf("latest = %q, %v", latest, err)
	}

	v, ok, err := s.Value(ctx, "utla", "E09000001", "2020-11-20")
	if err != nil || !ok || v != 98 {
		t.Errorf("value = %v %v %v", v, ok, err)
	}
	if _, ok, _ := s.Value(ctx, "utla", "E09000002", "2020-11-20"); ok {
		t.Error("null value reported as present")
	}

	// Re-ingesting replaces rather than appends.
	if _, err := s.Ingest(ctx, "utla", fc); err != nil {
		t.Fatal(err)
	}
	if c, _ := s.Count(ctx, "utla"); c != 3 {
		t.Errorf("count after reingest = %d", c)
	}
}

func TestLoaderFillsStores(t *testing.T) {
	srv := serve(t, nil)
	defs := []tier.Definition{
		{ID: "utla", DisplayName: "Upper tier", BoundaryURL: srv.URL + "/utla.geojson", TimeSeriesURL: srv.URL + "/utla_data_latest.geojson", ZoomMin: 1, ZoomMax: 7, Buckets: []tier.Bucket{{Color: "#fff"}}},
		{ID: "ltla", DisplayName: "Lower tier", BoundaryURL: srv.URL + "/ltla.geojson", TimeSeriesURL: srv.URL + "/ltla_data_latest.geojson", ZoomMin: 7, ZoomMax: 9, Buckets: []tier.Bucket{{Color: "#fff"}}},
	}
	reg, err := tier.NewRegistry(defs)
	if err != nil {
		t.Fatal(err)
	}
	store, _ := NewStore(0, srv.Client(), logger.Discard())
	series := newSeries(t)
	retired, err := geojson.UnmarshalFeatureCollection([]byte(seriesDoc))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := series.Ingest(context.Background(), "nation", retired); err != nil {
		t.Fatal(err)
	}
	l := &Loader{Tiers: reg, Store: store, Series: series, Log: logger.Discard()}
	if err := l.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 4 {
		t.Errorf("documents = %d", store.Len())
	}
	for _, id := range []string{"utla", "ltla"} {
		if c, _ := series.Count(context.Background(), id); c != 3 {
			t.Errorf("%s rows = %d", id, c)
		}
	}
	if c, _ := series.Count(context.Background(), "nation"); c != 0 {
		t.Errorf("rows of a tier outside the registry survived: %d", c)
	}
}
