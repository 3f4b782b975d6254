package humastar

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"

	"github.com/joeblew999/plat-choropleth/internal/templates"
)

func TestPaginate(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}

	p := Paginate(items, 2, 2)
	if p.Total != 5 || !slices.Equal(p.Data, []string{"c", "d"}) {
		t.Errorf("page = %+v", p)
	}
	if p := Paginate(items, 9, 2); len(p.Data) != 0 || p.Data == nil {
		t.Errorf("past end = %+v", p)
	}
	if p := Paginate(items, 0, 0); p.Limit != DefaultLimit || len(p.Data) != 5 {
		t.Errorf("default limit = %+v", p)
	}
}

func TestPaginationLinks(t *testing.T) {
	links := Paginate(make([]int, 5), 2, 2).PaginationLinks("/d")
	want := []string{
		`</d?offset=0&limit=2>; rel="first"`,
		`</d?offset=0&limit=2>; rel="prev"`,
		`</d?offset=4&limit=2>; rel="next"`,
		`</d?offset=4&limit=2>; rel="last"`,
	}
	if !slices.Equal(links, want) {
		t.Errorf("links = %q", links)
	}

	links = Paginate([]int{}, 0, 10).PaginationLinks("/d")
	if len(links) != 2 || !strings.Contains(links[1], "offset=0") {
		t.Errorf("empty links = %q", links)
	}
}

func TestActionsFor(t *testing.T) {
	defs := []ActionDef{
		{Rel: "delete", Pattern: "/s/%s", Method: "DELETE", Title: "Close"},
		{Rel: "click", Pattern: "/s/%s/events", Method: "POST", When: func(s string) bool { return s == "ready" }},
	}
	if got := ActionsFor("x", "created", defs); len(got) != 1 || got[0].Href != "/s/x" {
		t.Errorf("created = %+v", got)
	}
	got := ActionsFor("x", "ready", defs)
	if len(got) != 2 {
		t.Fatalf("ready = %+v", got)
	}
	if h := got[0].LinkHeader(); h != `</s/x>; rel="delete"; method="DELETE"; title="Close"` {
		t.Errorf("header = %s", h)
	}
}

func TestSignals(t *testing.T) {
	in := SignalsInput{RawBody: []byte(`{"postcode":"SW1A 1AA","zoom":7.5,"open":true}`)}
	s, err := in.MustParse()
	if err != nil {
		t.Fatal(err)
	}
	if s.String("postcode") != "SW1A 1AA" || s.Float("zoom") != 7.5 || !s.Bool("open") || s.Int("zoom") != 7 {
		t.Errorf("signals = %v", s)
	}
	if s.Has("date") || s.String("date") != "" {
		t.Error("missing signal reported")
	}

	bad := SignalsInput{RawBody: []byte(`{`)}
	if _, err := bad.MustParse(); err == nil {
		t.Error("bad body parsed")
	}
}

func TestRenderSelect(t *testing.T) {
	r, err := templates.NewEmbedded()
	if err != nil {
		t.Fatal(err)
	}
	out := RenderSelect(r, "Choose a date", []SelectOptionData{
		{Value: "2020-11-13", Label: "13 Nov"},
		{Value: "2020-11-20", Label: "20 Nov", Selected: true},
	})
	if strings.Count(out, "<option") != 3 {
		t.Errorf("options = %s", out)
	}
	if !strings.Contains(out, `<option value="2020-11-20" selected>`) {
		t.Errorf("selected option missing: %s", out)
	}
}

type itemBody struct {
	ID string `json:"id"`
}

func TestAutoLinks(t *testing.T) {
	_, api := humatest.New(t, huma.DefaultConfig("test", "1.0.0"))
	noop := func(ctx context.Context, in *struct{}) (*struct{}, error) { return nil, nil }
	item := func(ctx context.Context, in *struct {
		ID string `path:"id"`
	}) (*struct{ Body itemBody }, error) {
		return &struct{ Body itemBody }{Body: itemBody{ID: in.ID}}, nil
	}
	huma.Get(api, "/health", noop, huma.OperationTags("health"))
	huma.Get(api, "/api/v1/tiers", noop, huma.OperationTags("tiers"))
	huma.Get(api, "/api/v1/tiers/{id}", item, huma.OperationTags("tiers"))
	huma.Get(api, "/api/v1/tiers/{id}/legend", item, huma.OperationTags("tiers"))
	huma.Get(api, "/api/v1/viewer/{id}/stream", item, huma.OperationTags(StreamTag))

	AutoLinks(api)

	if !slices.Contains(Links("/health"), `</api/v1/tiers>; rel="tiers"`) {
		t.Errorf("entry links = %q", Links("/health"))
	}
	if !slices.Contains(Links("/api/v1/tiers"), `</api/v1/tiers/{id}>; rel="item"`) {
		t.Errorf("collection links = %q", Links("/api/v1/tiers"))
	}
	if !slices.Contains(Links("/api/v1/tiers/{id}/legend"), `</api/v1/tiers/{id}>; rel="up"`) {
		t.Errorf("nested links = %q", Links("/api/v1/tiers/{id}/legend"))
	}
	if len(Links("/api/v1/viewer/{id}/stream")) != 0 {
		t.Error("stream endpoint got links")
	}
}

func TestParseLinkHeader(t *testing.T) {
	rel, href := parseLinkHeader(`</api/v1/tiers>; rel="tiers"`)
	if rel != "tiers" || href != "/api/v1/tiers" {
		t.Errorf("got %q %q", rel, href)
	}
	if rel, _ := parseLinkHeader("garbage"); rel != "" {
		t.Errorf("garbage rel = %q", rel)
	}
}
