package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/sudorandom/noc-stream/internal/logging"
	"github.com/sudorandom/noc-stream/internal/observability"
	"github.com/sudorandom/noc-stream/pkg/server"
	"github.com/sudorandom/noc-stream/pkg/simengine"
	"github.com/sudorandom/noc-stream/pkg/sources"
	"github.com/sudorandom/noc-stream/pkg/utils"
)

type Globals struct {
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info" env:"LOG_LEVEL"`
	LogFormat string `help:"Log format (text or json)." default:"text" env:"LOG_FORMAT" enum:"text,json"`
	Seed      int64  `help:"Seed for the synthetic data generator." default:"42" env:"NOC_SEED"`
	Speed     int    `help:"Simulation speed (1 or 2)." default:"1"`
}

func (g *Globals) logger() logging.Logger {
	return logging.New(logging.Config{Level: g.LogLevel, Format: g.LogFormat})
}

func (g *Globals) config() simengine.Config {
	cfg := simengine.DefaultConfig()
	cfg.Seed = g.Seed
	cfg.Speed = g.Speed
	return cfg
}

type CLI struct {
	Globals

	Serve  ServeCmd  `cmd:"" default:"withargs" help:"Run the simulation and serve the dashboard API."`
	Replay ReplayCmd `cmd:"" help:"Run a headless deterministic replay and print a summary."`
}

type ServeCmd struct {
	Listen          string        `help:"HTTP listen address." default:":8080" env:"NOC_LISTEN"`
	CableURL        string        `help:"Cable GeoJSON endpoint." default:"${cable_url}" env:"NOC_CABLE_URL"`
	CacheDir        string        `help:"Directory for the on-disk cable cache; in-memory when empty." env:"NOC_CACHE_DIR"`
	CacheTTL        time.Duration `help:"How long cached cable geometry stays valid." default:"24h"`
	NoCables        bool          `help:"Skip the cable overlay fetch."`
	Tracing         bool          `help:"Enable OpenTelemetry tracing." env:"NOC_TRACING_ENABLED"`
	TracingExporter string        `help:"Tracing exporter (stdout or otlp)." default:"stdout" env:"NOC_TRACING_EXPORTER"`
	OTLPEndpoint    string        `help:"OTLP gRPC collector endpoint." env:"NOC_OTLP_ENDPOINT"`
}

func (c *ServeCmd) Run(g *Globals) error {
	log := g.logger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     c.Tracing,
		ServiceName: "noc-viewer",
		Exporter:    c.TracingExporter,
		Endpoint:    c.OTLPEndpoint,
		SampleRatio: 1,
	}, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewSimCollector(nil)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	opts := []simengine.Option{
		simengine.WithLogger(log.With(logging.String("component", "store"))),
		simengine.WithMetrics(collector),
	}
	if !c.NoCables {
		cache, err := openCache(c.CacheDir)
		if err != nil {
			return fmt.Errorf("open cache: %w", err)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				log.Warn(context.Background(), "closing cache", logging.Err(err))
			}
		}()
		fetcher := &utils.CachedFetcher{
			Client: &http.Client{Timeout: 30 * time.Second},
			Cache:  cache,
			TTL:    c.CacheTTL,
			Log:    log.With(logging.String("component", "fetcher")),
		}
		opts = append(opts, simengine.WithCableSource(sources.NewCableFetcher(c.CableURL, fetcher)))
	}

	store, err := simengine.NewStore(g.config(), opts...)
	if err != nil {
		return err
	}
	defer store.Close()
	store.Initialize(ctx)

	srv := server.New(store,
		server.WithLogger(log.With(logging.String("component", "server"))),
		server.WithMetricsHandler(collector.Handler()),
		server.WithClientRecorder(collector),
	)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              c.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "listening", logging.String("addr", c.Listen))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info(context.Background(), "shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store.StopUpdateLoop()
	store.StopCableHighlightLoop()
	return httpServer.Shutdown(shutdownCtx)
}

func openCache(dir string) (*utils.DiskCache, error) {
	if dir == "" {
		return utils.OpenMemoryCache()
	}
	return utils.OpenDiskCache(dir)
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("noc-viewer"),
		kong.Description("Synthetic network operations centre simulation."),
		kong.UsageOnError(),
		kong.Vars{"cable_url": sources.CableGeoURL},
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}
