package dataapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/time/rate"
)

// Defaults for the public service.
const (
	DefaultAPIBase     = "https://api.coronavirus.data.gov.uk"
	DefaultPostcodeURL = "https://coronavirus.data.gov.uk/api/v1/postcode"
)

// Config holds client settings.
type Config struct {
	APIBase     string
	PostcodeURL string
	Timeout     time.Duration
	RateLimit   float64 // requests per second, 0 for unlimited
	Burst       int
	Cache       Cache // optional; only region aggregates are cached
	Logger      *slog.Logger
	HTTPClient  *http.Client
}

// Client wraps the remote data service.
type Client struct {
	apiBase     string
	postcodeURL string
	http        *http.Client
	limiter     *rate.Limiter
	cache       Cache
	log         *slog.Logger
}

// NewClient creates a client, filling unset fields with defaults.
func NewClient(cfg Config) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.PostcodeURL == "" {
		cfg.PostcodeURL = DefaultPostcodeURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &Client{
		apiBase:     strings.TrimRight(cfg.APIBase, "/"),
		postcodeURL: cfg.PostcodeURL,
		http:        cfg.HTTPClient,
		limiter:     limiter,
		cache:       cfg.Cache,
		log:         cfg.Logger,
	}
}

// Postcode resolves a normalised postcode to a point.
func (c *Client) Postcode(ctx context.Context, postcode string) (Location, error) {
	body, err := c.get(ctx, "postcode", c.postcodeQuery("postcode", postcode))
	if err != nil {
		return Location{}, err
	}
	var resp postcodeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Location{}, fmt.Errorf("decoding postcode response: %w", err)
	}
	if resp.Geometry == nil || len(resp.Geometry.Coordinates) < 2 {
		LookupsTotal.WithLabelValues("postcode", "not_found").Inc()
		return Location{}, &LookupNotFoundError{Kind: "postcode", Key: postcode}
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return Location{}, fmt.Errorf("decoding postcode response: %w", err)
	}
	return Location{
		Point: orb.Point{resp.Geometry.Coordinates[0], resp.Geometry.Coordinates[1]},
		Raw:   raw,
	}, nil
}

// AreaName reverse-looks-up the display name of a finest-tier area.
func (c *Client) AreaName(ctx context.Context, areaCode string) (string, error) {
	body, err := c.get(ctx, "area-name", c.postcodeQuery("msoa", areaCode))
	if err != nil {
		return "", err
	}
	var resp postcodeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decoding area name response: %w", err)
	}
	if resp.MsoaName == "" {
		LookupsTotal.WithLabelValues("area-name", "not_found").Inc()
		return "", &LookupNotFoundError{Kind: "area-name", Key: areaCode}
	}
	return resp.MsoaName, nil
}

// RegionWeekly fetches the weekly aggregate for one area, tier and date.
func (c *Client) RegionWeekly(ctx context.Context, areaType, areaCode, date string) (WeeklyRecord, error) {
	q := url.Values{}
	q.Set("filters", fmt.Sprintf("areaCode=%s;areaType=%s;date=%s", areaCode, areaType, date))
	q.Set("structure", regionStructure)
	u := c.apiBase + "/v1/data?" + q.Encode()
	key := "region:" + areaType + ":" + areaCode + ":" + date

	var body []byte
	cached := false
	if c.cache != nil {
		if b, ok := c.cache.Get(ctx, key); ok {
			CacheHitsTotal.WithLabelValues("region").Inc()
			body, cached = b, true
		} else {
			CacheMissesTotal.WithLabelValues("region").Inc()
		}
	}
	if !cached {
		b, err := c.get(ctx, "region", u)
		if err != nil {
			return WeeklyRecord{}, err
		}
		body = b
	}

	var resp regionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return WeeklyRecord{}, fmt.Errorf("decoding region response: %w", err)
	}
	if c.cache != nil && !cached {
		c.cache.Set(ctx, key, body)
	}
	if len(resp.Data) == 0 {
		LookupsTotal.WithLabelValues("region", "not_found").Inc()
		return WeeklyRecord{}, &LookupNotFoundError{Kind: "region", Key: areaCode + "@" + date}
	}
	r := resp.Data[0]
	return WeeklyRecord{
		Date:             r.Date,
		AreaName:         r.Name,
		AreaType:         r.Type,
		NewCases:         r.Value,
		RollingRate:      r.RollingRate,
		RollingSum:       r.RollingSum,
		Change:           r.Change,
		Direction:        r.Direction,
		ChangePercentage: r.Percentage,
	}, nil
}

// NeighbourhoodSeries fetches the full rolling series for a finest-tier area.
// The per-date endpoint is not addressable for this tier; callers pick the
// record they need.
func (c *Client) NeighbourhoodSeries(ctx context.Context, areaType, areaCode string) ([]WeeklyRecord, error) {
	q := url.Values{}
	q.Set("filters", fmt.Sprintf("areaType=%s;areaCode=%s", areaType, areaCode))
	q.Set("structure", soaStructure)
	body, err := c.get(ctx, "series", c.apiBase+"/v1/soa?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var resp soaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding series response: %w", err)
	}
	out := make([]WeeklyRecord, 0, len(resp.NewCasesBySpecimenDate))
	for _, r := range resp.NewCasesBySpecimenDate {
		out = append(out, WeeklyRecord{
			Date:             r.Date,
			AreaType:         areaType,
			RollingRate:      r.RollingRate,
			RollingSum:       r.RollingSum,
			Change:           r.Change,
			Direction:        r.Direction,
			ChangePercentage: r.ChangePercentage,
		})
	}
	return out, nil
}

func (c *Client) postcodeQuery(category, search string) string {
	q := url.Values{}
	q.Set("category", category)
	q.Set("search", search)
	sep := "?"
	if strings.Contains(c.postcodeURL, "?") {
		sep = "&"
	}
	return c.postcodeURL + sep + q.Encode()
}

// get performs a rate-limited GET. 404 and 204 become LookupNotFoundError.
func (c *Client) get(ctx context.Context, kind, u string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s lookup: %w", kind, err)
	}

	start := time.Now()
	defer func() {
		LookupDurationMs.WithLabelValues(kind).Observe(float64(time.Since(start).Milliseconds()))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", kind, err)
	}
	req.Header.Set("Accept", "application/json")

	c.log.Debug("lookup", "kind", kind, "url", u)
	resp, err := c.http.Do(req)
	if err != nil {
		LookupsTotal.WithLabelValues(kind, "error").Inc()
		return nil, fmt.Errorf("%s request: %w", kind, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		LookupsTotal.WithLabelValues(kind, "not_found").Inc()
		return nil, &LookupNotFoundError{Kind: kind, Key: u}
	case resp.StatusCode != http.StatusOK:
		LookupsTotal.WithLabelValues(kind, "error").Inc()
		return nil, fmt.Errorf("%s lookup returned HTTP %d", kind, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		LookupsTotal.WithLabelValues(kind, "error").Inc()
		return nil, fmt.Errorf("reading %s response: %w", kind, err)
	}
	LookupsTotal.WithLabelValues(kind, "ok").Inc()
	c.log.Debug("lookup done", "kind", kind, "status", resp.StatusCode, "duration", time.Since(start))
	return body, nil
}
