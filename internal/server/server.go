package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joeblew999/plat-choropleth/internal/api"
	"github.com/joeblew999/plat-choropleth/internal/api/viewer"
	"github.com/joeblew999/plat-choropleth/internal/dataapi"
	"github.com/joeblew999/plat-choropleth/internal/db"
	"github.com/joeblew999/plat-choropleth/internal/geodata"
	"github.com/joeblew999/plat-choropleth/internal/humastar"
	"github.com/joeblew999/plat-choropleth/internal/service"
	"github.com/joeblew999/plat-choropleth/internal/templates"
	"github.com/joeblew999/plat-choropleth/internal/tier"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string // DuckDB location; empty keeps the series in memory
	WebDir  string // optional web/ directory for static files and fragment overrides

	TiersFile   string // tier registry YAML; the built-in registry when empty
	APIBase     string
	PostcodeURL string
	RedisAddr   string // lookup cache; in-memory LRU when empty
	CacheTTL    time.Duration
	RateLimit   float64

	MaxSessions int
	IdleTimeout time.Duration

	Logger *slog.Logger
}

// Server is the choropleth HTTP server.
type Server struct {
	config    Config
	log       *slog.Logger
	mux       *http.ServeMux
	humaAPI   huma.API
	db        *sql.DB
	tiers     *tier.Registry
	store     *geodata.Store
	series    *geodata.SeriesStore
	catalogue *service.CatalogueService
	sessions  *service.SessionService
	services  *api.Services
	renderer  *templates.Renderer
	started   time.Time
}

// New creates a new choropleth server.
func New(cfg Config) (*Server, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	tiers := tier.Default()
	if cfg.TiersFile != "" {
		r, err := tier.Load(cfg.TiersFile)
		if err != nil {
			return nil, err
		}
		tiers = r
	}

	store, err := geodata.NewStore(geodata.DefaultDocuments, nil, log)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:  cfg,
		log:     log,
		mux:     http.NewServeMux(),
		tiers:   tiers,
		store:   store,
		started: time.Now(),
	}

	// Without DuckDB the map still works; dates and series endpoints do not.
	conn, err := db.Get(db.Config{DataDir: cfg.DataDir, DBName: "choropleth"})
	if err == nil {
		s.db = conn
		s.series, err = geodata.NewSeriesStore(context.Background(), conn)
		if err != nil {
			log.Warn("series store unavailable", "err", err)
		}
	} else {
		log.Warn("database unavailable", "err", err)
	}
	if s.series != nil {
		s.catalogue = service.NewCatalogueService(s.series, cfg.CacheTTL)
	}

	var cache dataapi.Cache = dataapi.NewMemoryCache(1024, cfg.CacheTTL)
	if cfg.RedisAddr != "" {
		cache = dataapi.NewRedisCache(dataapi.OpenRedis(cfg.RedisAddr, "", 0), "choropleth:", cfg.CacheTTL)
	}
	client := dataapi.NewClient(dataapi.Config{
		APIBase:     cfg.APIBase,
		PostcodeURL: cfg.PostcodeURL,
		RateLimit:   cfg.RateLimit,
		Burst:       int(cfg.RateLimit) + 1,
		Cache:       cache,
		Logger:      log,
	})

	deps := service.SessionDeps{
		Tiers:       tiers,
		Index:       store,
		Boundaries:  store,
		Geocoder:    client,
		Aggregates:  client,
		Bus:         service.DefaultBus,
		Logger:      log,
		MaxSessions: cfg.MaxSessions,
		IdleTimeout: cfg.IdleTimeout,
	}
	if s.catalogue != nil {
		deps.Dates = s.catalogue
	}
	s.sessions = service.NewSessionService(deps)

	s.services = &api.Services{
		Tiers:     tiers,
		Sessions:  s.sessions,
		Catalogue: s.catalogue,
		Geocoder:  client,
	}
	if s.series != nil {
		s.services.Series = s.series
	}

	// Fragment templates: web/templates/fragments overrides the built-in set.
	s.renderer, err = templates.NewEmbedded()
	if err != nil {
		return nil, err
	}
	if cfg.WebDir != "" {
		fragmentsDir := filepath.Join(cfg.WebDir, "templates", "fragments")
		if r, err := templates.New(fragmentsDir); err == nil {
			s.renderer = r
			log.Info("loaded fragment templates", "dir", fragmentsDir)
		}
	}

	humaConfig := huma.DefaultConfig("plat-choropleth API", "1.0.0")
	humaConfig.Info.Description = "Multi-resolution choropleth map engine: tiers, legends, dates and viewer sessions."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, humastar.LinkTransformer())
	s.humaAPI = humago.New(s.mux, humaConfig)

	s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Tiers returns the tier registry in use.
func (s *Server) Tiers() *tier.Registry { return s.tiers }

// Warm fetches every tier's documents and ingests the time series.
func (s *Server) Warm(ctx context.Context) error {
	l := geodata.Loader{Tiers: s.tiers, Store: s.store, Series: s.series, Log: s.log}
	err := l.Load(ctx)
	if s.catalogue != nil {
		s.catalogue.Invalidate()
	}
	return err
}

// Run expires idle sessions until ctx is done.
func (s *Server) Run(ctx context.Context) {
	s.sessions.Run(ctx)
}

// Close closes server resources.
func (s *Server) Close() error {
	s.sessions.Close()
	return db.Close()
}

func (s *Server) routes() {
	api.RegisterRoutes(s.humaAPI, s.services, s.started)
	viewer.NewHandler(s.sessions, s.catalogue, s.renderer, s.log).RegisterRoutes(s.humaAPI)
	humastar.AutoLinks(s.humaAPI)

	s.mux.Handle("/metrics", promhttp.Handler())

	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
		s.mux.HandleFunc("/viewer", s.handleViewer)
	}
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	for _, link := range humastar.Links("/health") {
		w.Header().Add("Link", link)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "plat-choropleth",
		"status":  "running",
	})
}

func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	templatePath := filepath.Join(s.config.WebDir, "templates", "viewer.html")
	http.ServeFile(w, r, templatePath)
}
