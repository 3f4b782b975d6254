package viewer

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-choropleth/internal/dataapi"
	"github.com/joeblew999/plat-choropleth/internal/logger"
	"github.com/joeblew999/plat-choropleth/internal/service"
	"github.com/joeblew999/plat-choropleth/internal/surface"
	"github.com/joeblew999/plat-choropleth/internal/templates"
	"github.com/joeblew999/plat-choropleth/internal/tier"
)

type fixedGeocoder map[string]orb.Point

func (g fixedGeocoder) Postcode(_ context.Context, pc string) (dataapi.Location, error) {
	p, ok := g[pc]
	if !ok {
		return dataapi.Location{}, &dataapi.LookupNotFoundError{Kind: "postcode", Key: pc}
	}
	return dataapi.Location{Point: p}, nil
}

type staticDates []string

func (d staticDates) Dates(context.Context, string) ([]string, error) { return d, nil }
func (d staticDates) LatestDate(context.Context) (string, error)     { return d[len(d)-1], nil }

type fixture struct {
	srv      *httptest.Server
	sessions *service.SessionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dates := service.NewCatalogueService(staticDates{"2020-11-13", "2020-11-20"}, time.Minute)
	sessions := service.NewSessionService(service.SessionDeps{
		Tiers:    tier.Default(),
		Geocoder: fixedGeocoder{"SW1A1AA": {-0.1416, 51.501}},
		Dates:    dates,
		Bus:      service.NewEventBus(),
		Logger:   logger.Discard(),
	})
	r, err := templates.NewEmbedded()
	if err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	api := humago.New(mux, huma.DefaultConfig("viewer test", "1.0.0"))
	NewHandler(sessions, dates, r, logger.Discard()).RegisterRoutes(api)

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		sessions.Close()
		srv.Close()
	})
	return &fixture{srv: srv, sessions: sessions}
}

func (f *fixture) post(t *testing.T, path, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

// waitFor reads stream lines until one contains want.
func waitFor(t *testing.T, lines <-chan string, want string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream ended before %q", want)
			}
			if strings.Contains(line, want) {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestStreamPushesStateAndCommands(t *testing.T) {
	f := newFixture(t)
	sess, err := f.sessions.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(f.srv.URL + "/api/v1/viewer/" + sess.ID + "/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	lines := make(chan string, 256)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	waitFor(t, lines, `"date":"2020-11-20"`)
	waitFor(t, lines, `id="legend"`)

	if err := f.sessions.Dispatch(sess.ID, service.EventInput{Type: "load"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, lines, ApplyFunc+`([{"op":"addSource"`)

	if err := f.sessions.Delete(sess.ID); err != nil {
		t.Fatal(err)
	}
	waitFor(t, lines, `"closed":true`)
}

func TestStreamIsExclusive(t *testing.T) {
	f := newFixture(t)
	sess, err := f.sessions.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	url := f.srv.URL + "/api/v1/viewer/" + sess.ID + "/stream"

	first, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first stream status = %d", first.StatusCode)
	}

	second, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	second.Body.Close()
	if second.StatusCode != http.StatusConflict {
		t.Errorf("second stream status = %d", second.StatusCode)
	}
}

func TestStreamUnknownSession(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/api/v1/viewer/nope/stream")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	sess, _ := f.sessions.Create(context.Background())
	path := "/api/v1/viewer/" + sess.ID + "/search"

	code, body := f.post(t, path, `{"postcode":"sw1a 1aa"}`)
	if code != http.StatusOK || !strings.Contains(body, `"postcode":"SW1A1AA"`) {
		t.Fatalf("%d %s", code, body)
	}
	cmds := sess.Surface.Drain()
	if len(cmds) != 2 || cmds[0].Op != surface.OpSetMarker || cmds[1].Op != surface.OpFlyTo {
		t.Errorf("commands = %+v", cmds)
	}

	_, body = f.post(t, path, `{"postcode":"not a postcode"}`)
	if !strings.Contains(body, "Enter a full UK postcode") {
		t.Errorf("invalid body = %s", body)
	}
	_, body = f.post(t, path, `{"postcode":"EC1A 1BB"}`)
	if !strings.Contains(body, "Postcode not found.") {
		t.Errorf("not found body = %s", body)
	}
	if cmds := sess.Surface.Drain(); len(cmds) != 0 {
		t.Errorf("failed searches moved the map: %+v", cmds)
	}
}

func TestSetDate(t *testing.T) {
	f := newFixture(t)
	sess, _ := f.sessions.Create(context.Background())
	path := "/api/v1/viewer/" + sess.ID + "/date"

	code, body := f.post(t, path, `{"date":"2020-11-13T00:00:00Z"}`)
	if code != http.StatusOK || !strings.Contains(body, `"date":"2020-11-13"`) {
		t.Fatalf("%d %s", code, body)
	}
	if sess.Engine.Date() != "2020-11-13" {
		t.Errorf("engine date = %s", sess.Engine.Date())
	}
	if code, _ := f.post(t, path, `{"date":"last week"}`); code != http.StatusBadRequest {
		t.Errorf("bad date status = %d", code)
	}
}

func TestDismissAndExport(t *testing.T) {
	f := newFixture(t)
	sess, _ := f.sessions.Create(context.Background())
	base := "/api/v1/viewer/" + sess.ID

	code, body := f.post(t, base+"/dismiss", "")
	if code != http.StatusOK || !strings.Contains(body, `id="info-card"`) {
		t.Errorf("dismiss %d %s", code, body)
	}

	code, body = f.post(t, base+"/export", "")
	if code != http.StatusOK || !strings.Contains(body, "cases_2020-11-20.png") {
		t.Errorf("export %d %s", code, body)
	}
	cmds := sess.Surface.Drain()
	if len(cmds) != 1 || cmds[0].Filename != "cases_2020-11-20.png" {
		t.Errorf("commands = %+v", cmds)
	}
}

func TestCommandScript(t *testing.T) {
	js, err := CommandScript([]surface.Command{{Op: surface.OpFlyTo, Center: []float64{1, 2}, Zoom: 10.8}})
	if err != nil {
		t.Fatal(err)
	}
	want := ApplyFunc + `([{"op":"flyTo","center":[1,2],"zoom":10.8}])`
	if js != want {
		t.Errorf("got %s", js)
	}
}
