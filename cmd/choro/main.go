package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-choropleth/internal/logger"
	"github.com/joeblew999/plat-choropleth/internal/server"
	"github.com/joeblew999/plat-choropleth/internal/tier"
)

// Options defines all CLI flags and env vars for the choropleth server.
// Flags: --host, --port, --data-dir, --tiers, ...
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_TIERS, ...
type Options struct {
	Host        string `doc:"Host to bind to" default:"0.0.0.0"`
	Port        int    `doc:"Port to listen on" short:"p" default:"8087"`
	DataDir     string `doc:"Directory for a DuckDB file; empty keeps the series in memory" default:""`
	WebDir      string `doc:"Path to web/ directory (static files, fragment overrides)" default:""`
	Tiers       string `doc:"Tier registry YAML file; built-in tiers when empty" default:""`
	APIBase     string `doc:"Base URL of the case data API" default:"https://api.coronavirus.data.gov.uk"`
	PostcodeURL string `doc:"Postcode lookup endpoint" default:"https://coronavirus.data.gov.uk/api/v1/postcode"`
	RedisAddr   string `doc:"Redis address for the lookup cache; in-memory when empty" default:""`
	CacheTTL    int    `doc:"Lookup cache lifetime in seconds" default:"300"`
	RateLimit   int    `doc:"Remote requests per second; 0 for unlimited" default:"10"`
	MaxSessions int    `doc:"Maximum concurrent viewer sessions; 0 for no cap" default:"1000"`
	IdleMinutes int    `doc:"Close viewer sessions idle this many minutes; 0 keeps them" default:"30"`
	Preload     bool   `doc:"Fetch tier documents and ingest time series at startup" default:"true"`
	LogLevel    string `doc:"Log level: debug, info, warn, error" default:"info"`
	LogFormat   string `doc:"Log format: text or json" default:"text"`
}

func newServer(opts *Options) (*server.Server, error) {
	return server.New(server.Config{
		Host:        opts.Host,
		Port:        fmt.Sprintf("%d", opts.Port),
		DataDir:     opts.DataDir,
		WebDir:      opts.WebDir,
		TiersFile:   opts.Tiers,
		APIBase:     opts.APIBase,
		PostcodeURL: opts.PostcodeURL,
		RedisAddr:   opts.RedisAddr,
		CacheTTL:    time.Duration(opts.CacheTTL) * time.Second,
		RateLimit:   float64(opts.RateLimit),
		MaxSessions: opts.MaxSessions,
		IdleTimeout: time.Duration(opts.IdleMinutes) * time.Minute,
		Logger:      logger.SetupWriter(os.Stderr, opts.LogLevel, opts.LogFormat),
	})
}

func mustServer(opts *Options) *server.Server {
	srv, err := newServer(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return srv
}

func loadTiers(opts *Options) (*tier.Registry, error) {
	if opts.Tiers == "" {
		return tier.Default(), nil
	}
	return tier.Load(opts.Tiers)
}

func main() {
	_ = godotenv.Load()

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var httpServer *http.Server
		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			srv := mustServer(opts)
			defer srv.Close()
			log := logger.L()

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-choropleth server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			dataDir := opts.DataDir
			if dataDir == "" {
				dataDir = "(in memory)"
			}
			fmt.Printf("  Data:    %s\n", dataDir)
			fmt.Printf("  Tiers:   %d\n", srv.Tiers().Len())
			fmt.Println()
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics: %s/metrics\n", baseURL)
			fmt.Println()

			if opts.Preload {
				go func() {
					start := time.Now()
					if err := srv.Warm(ctx); err != nil {
						log.Warn("preload incomplete", "err", err)
						return
					}
					log.Info("preload done", "took", time.Since(start).Round(time.Millisecond))
				}()
			}
			go srv.Run(ctx)

			httpServer = &http.Server{Addr: addr, Handler: srv}
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("server error", "err", err)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			cancel()
			if httpServer == nil {
				return
			}
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			httpServer.Shutdown(shutdownCtx)
		})
	})

	cli.Root().Use = "choro"
	cli.Root().Short = "Multi-resolution choropleth map server"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			opts.DataDir = ""
			srv := mustServer(opts)
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// tiers subcommand: print the effective tier registry
	cli.Root().AddCommand(&cobra.Command{
		Use:   "tiers",
		Short: "Print the tier registry as YAML",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			reg, err := loadTiers(opts)
			if err != nil {
				log.Fatalf("Error loading tiers: %v", err)
			}
			out, err := reg.Marshal()
			if err != nil {
				log.Fatalf("Error marshaling tiers: %v", err)
			}
			fmt.Print(string(out))
		}),
	})

	// legend subcommand: print a tier's legend
	cli.Root().AddCommand(&cobra.Command{
		Use:   "legend <tier>",
		Short: "Print the legend of a tier",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			reg, err := loadTiers(opts)
			if err != nil {
				log.Fatalf("Error loading tiers: %v", err)
			}
			i := reg.Index(args[0])
			if i < 0 {
				log.Fatalf("Unknown tier %q", args[0])
			}
			legend := reg.Legend(i)
			fmt.Println(legend.Title)
			for _, row := range legend.Rows {
				fmt.Printf("  %-8s %s\n", row.Color, row.Label)
			}
		}),
	})

	cli.Run()
}
