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

	"github.com/Avi18971911/Swarmtrace/internal/cache"
	"github.com/Avi18971911/Swarmtrace/internal/config"
	"github.com/Avi18971911/Swarmtrace/internal/db/elasticsearch/bootstrapper"
	"github.com/Avi18971911/Swarmtrace/internal/db/elasticsearch/client"
	"github.com/Avi18971911/Swarmtrace/internal/db/log_sink"
	"github.com/Avi18971911/Swarmtrace/internal/event_bus"
	"github.com/Avi18971911/Swarmtrace/internal/graph/render"
	"github.com/Avi18971911/Swarmtrace/internal/graph/service"
	"github.com/Avi18971911/Swarmtrace/internal/otlp_forwarder"
	"github.com/Avi18971911/Swarmtrace/internal/query_server/router"
	"github.com/Avi18971911/Swarmtrace/internal/query_server/service/peer_events"
	"github.com/Avi18971911/Swarmtrace/internal/tracer_server/server"
	"github.com/Avi18971911/Swarmtrace/internal/tracer_server/session"
	"github.com/Avi18971911/Swarmtrace/internal/transport"
	"github.com/Avi18971911/Swarmtrace/pkg/trace/model"
	"github.com/asaskevich/EventBus"
	"github.com/benbjohnson/clock"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeOut = 10 * time.Second

var (
	serveConfig        string
	serveFolder        string
	serveKeyFile       string
	serveListen        string
	serveQueryListen   string
	serveRender        bool
	serveOutputDir     string
	serveElasticsearch []string
	serveOtlpEndpoint  string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Path to the YAML config")
	serveCmd.Flags().StringVar(&serveFolder, "folder", "", "Directory receiving one <peerId>.log file per peer")
	serveCmd.Flags().StringVar(&serveKeyFile, "key-file", "", "Key pair file, created on first start")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Address of the tracer websocket endpoint")
	serveCmd.Flags().StringVar(&serveQueryListen, "query-listen", "", "Address of the query HTTP server")
	serveCmd.Flags().BoolVar(&serveRender, "render", false, "Render a diagram image after every graph change")
	serveCmd.Flags().StringVar(&serveOutputDir, "output-dir", "", "Directory receiving rendered diagrams")
	serveCmd.Flags().StringSliceVar(&serveElasticsearch, "elasticsearch", nil, "Elasticsearch addresses to mirror log entries to")
	serveCmd.Flags().StringVar(&serveOtlpEndpoint, "otlp-endpoint", "", "OTLP/gRPC collector to forward log entries to")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept tracer connections",
	Long:  "Accepts authenticated tracer connections, persists every event per peer, detects gaps\nin the event stream and keeps the connection graph of the swarm.",
	RunE:  runServe,
}

func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(serveConfig)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("folder") {
		cfg.Server.Folder = serveFolder
	}
	if flags.Changed("key-file") {
		cfg.Server.KeyFile = serveKeyFile
	}
	if flags.Changed("listen") {
		cfg.Server.Listen = serveListen
	}
	if flags.Changed("query-listen") {
		cfg.Server.QueryListen = serveQueryListen
	}
	if flags.Changed("render") {
		cfg.Render.Enabled = serveRender
	}
	if flags.Changed("output-dir") {
		cfg.Render.OutputDir = serveOutputDir
	}
	if flags.Changed("elasticsearch") {
		cfg.Elasticsearch.Addresses = serveElasticsearch
	}
	if flags.Changed("otlp-endpoint") {
		cfg.Otlp.Endpoint = serveOtlpEndpoint
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	clk := clock.New()

	keyPair, err := transport.LoadOrCreateKeyPair(cfg.Server.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load key pair: %w", err)
	}
	logger.Info("Tracer server identity", zap.String("public_key", keyPair.PublicKeyHex()))

	sink, tc, err := buildSinks(ctx, g, cfg, clk, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Error("Failed to close log sinks", zap.Error(err))
		}
	}()

	bus := EventBus.New()
	entries := event_bus.NewTraceEventBus[model.LogEntry](bus, logger)
	restarts := event_bus.NewTraceEventBus[string](bus, logger)

	var redrawer service.Redrawer
	if cfg.Render.Enabled {
		if err := os.MkdirAll(cfg.Render.OutputDir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		renderer := render.NewMermaidRenderer(cfg.Render.Command, cfg.Render.ExtraArgs...)
		renderQueue := render.NewRenderQueueImpl(renderer, cfg.Render.OutputDir, logger)
		defer renderQueue.Wait()
		redrawer = renderQueue
	}
	engine := service.NewGraphEngineImpl(redrawer, clk, logger)
	if err := service.SubscribeGraphEngine(engine, entries, restarts); err != nil {
		return err
	}

	rc, err := cache.NewRistrettoCache(cfg.Cache.MaxEntries)
	if err != nil {
		return err
	}
	defer rc.Close()
	recent := cache.NewRecentEventsCacheImpl[model.LogEntry](rc, cfg.Cache.Window)
	pes := peer_events.NewPeerEventsService(recent, tc, logger)
	if err := pes.Subscribe(entries); err != nil {
		return err
	}

	sessions := session.NewSessionStoreImpl()
	ts := server.NewTracerServerImpl(sessions, sink, entries, restarts, clk, logger)
	listener, err := transport.ListenWebsocket(cfg.Server.Listen, keyPair, logger)
	if err != nil {
		return err
	}
	logger.Info("Listening for tracers", zap.String("address", listener.Addr().String()))

	queryServer := &http.Server{
		Addr:              cfg.Server.QueryListen,
		Handler:           router.CreateRouter(ctx, engine, sessions, pes, clk, logger),
		ReadHeaderTimeout: shutdownTimeOut,
	}

	g.Go(func() error {
		return ts.Serve(ctx, listener)
	})
	g.Go(func() error {
		logger.Info("Starting query server", zap.String("address", cfg.Server.QueryListen))
		if err := queryServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("query server stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down tracer server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeOut)
		defer cancel()
		if err := listener.Close(); err != nil {
			logger.Warn("Failed to close tracer listener", zap.Error(err))
		}
		if err := ts.Close(); err != nil {
			logger.Warn("Failed to close tracer connections", zap.Error(err))
		}
		return queryServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildSinks always persists to the log folder and mirrors to Elasticsearch and OTLP when configured.
// The returned trace client is nil without Elasticsearch.
func buildSinks(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	clk clock.Clock,
	logger *zap.Logger,
) (*log_sink.MultiSink, client.TraceClient, error) {
	fileSink, err := log_sink.NewFileSink(cfg.Server.Folder, cfg.Server.MaxOpenFiles, logger)
	if err != nil {
		return nil, nil, err
	}
	sinks := []log_sink.NamedSink{{Name: "file", Sink: fileSink}}

	var tc client.TraceClient
	if len(cfg.Elasticsearch.Addresses) > 0 {
		es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: cfg.Elasticsearch.Addresses})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
		}
		bs := bootstrapper.NewBootstrapper(es, clk, logger)
		if err := bs.BootstrapElasticsearch(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to bootstrap elasticsearch: %w", err)
		}
		tc = client.NewTraceClientImpl(es, client.Async)
		esSink := log_sink.NewElasticsearchSink(
			tc,
			bootstrapper.TraceEventIndexName,
			cfg.Elasticsearch.QueueSize,
			clk,
			logger,
		)
		g.Go(func() error {
			esSink.Run(ctx, cfg.Elasticsearch.FlushInterval)
			return nil
		})
		sinks = append(sinks, log_sink.NamedSink{Name: "elasticsearch", Sink: esSink})
	}

	if cfg.Otlp.Endpoint != "" {
		conn, err := otlp_forwarder.Dial(cfg.Otlp.Endpoint)
		if err != nil {
			return nil, nil, err
		}
		forwarder := otlp_forwarder.NewLogForwarder(conn, cfg.Otlp.ServiceName, cfg.Otlp.QueueSize, clk, logger)
		g.Go(func() error {
			forwarder.Run(ctx, cfg.Otlp.FlushInterval)
			return nil
		})
		sinks = append(sinks, log_sink.NamedSink{Name: "otlp", Sink: forwarder})
	}
	return log_sink.NewMultiSink(sinks...), tc, nil
}
