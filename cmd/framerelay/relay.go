package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/framerelay/broadcast"
	"github.com/c360/framerelay/component"
	"github.com/c360/framerelay/config"
	"github.com/c360/framerelay/diagnostic"
	gatewayhttp "github.com/c360/framerelay/gateway/http"
	"github.com/c360/framerelay/input/process"
	"github.com/c360/framerelay/metric"
	"github.com/c360/framerelay/natsclient"
	"github.com/c360/framerelay/output/file"
	"github.com/c360/framerelay/output/natspub"
	wsout "github.com/c360/framerelay/output/websocket"
	"github.com/c360/framerelay/pipeline"
	"github.com/c360/framerelay/pkg/tlsutil"
	"github.com/c360/framerelay/processor/schema"
)

// natsConnectTimeout bounds the initial NATS connection at startup.
const natsConnectTimeout = 10 * time.Second

// relay wires every component of a running framerelay process.
type relay struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	hub      *broadcast.Hub
	recent   *diagnostic.RecentSink
	nats     *natsclient.Client
	manager  *component.Manager

	supervisor *process.Supervisor
	websocket  *wsout.Output
	gateway    *gatewayhttp.Gateway
}

// newRelay builds the components in dependency order. Only the NATS
// connection is established here; everything else starts in start.
func newRelay(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *relay, err error) {
	r := &relay{
		cfg:      cfg,
		logger:   logger,
		registry: metric.NewMetricsRegistry(),
		recent:   diagnostic.NewRecentSink(cfg.Diagnostics.RecentCapacity),
		manager:  component.NewManager(logger),
	}
	defer func() {
		if err != nil && r.nats != nil {
			_ = r.nats.Close(context.Background())
		}
	}()

	sinks := []diagnostic.Sink{diagnostic.NewSlogSink(logger), r.recent}

	if cfg.NATS.Enabled {
		if r.nats, err = connectNATS(ctx, cfg.NATS, logger, r.registry.CoreMetrics()); err != nil {
			return nil, err
		}
		if cfg.NATS.PublishDiagnostics {
			natsDiag, err := natspub.NewDiagnosticSink(natsPubConfig(cfg.NATS), r.nats, logger)
			if err != nil {
				return nil, fmt.Errorf("create NATS diagnostics sink: %w", err)
			}
			sinks = append(sinks, natsDiag)
		}
	}
	diag := diagnostic.Multi(sinks...)

	deps := component.Dependencies{
		MetricsRegistry: r.registry,
		Diagnostics:     diag,
		Logger:          logger,
	}

	r.hub = broadcast.NewHub(cfg.Broadcast,
		broadcast.WithLogger(logger),
		broadcast.WithDiagnostics(diag),
		broadcast.WithMetrics(r.registry.CoreMetrics()),
	)

	// Registration order is start order; subscribers come up before the
	// worker and the worker stops first.
	if r.nats != nil {
		pub, err := natspub.NewPublisher(natsPubConfig(cfg.NATS), r.nats, r.hub, deps)
		if err != nil {
			return nil, fmt.Errorf("create NATS publisher: %w", err)
		}
		if err := r.manager.Register("natspub", pub); err != nil {
			return nil, err
		}
	}

	if cfg.Record.Enabled {
		rec, err := file.NewRecorder(file.Config{
			Directory:     cfg.Record.Directory,
			FilePrefix:    cfg.Record.FilePrefix,
			Format:        cfg.Record.Format,
			Append:        cfg.Record.Append,
			BufferSize:    cfg.Record.BufferSize,
			FlushInterval: cfg.Record.FlushInterval,
		}, r.hub, deps)
		if err != nil {
			return nil, fmt.Errorf("create event recorder: %w", err)
		}
		if err := r.manager.Register("recorder", rec); err != nil {
			return nil, err
		}
	}

	wsCfg := wsout.DefaultConfig()
	if cfg.Broadcast.DeliverTimeout > 0 {
		wsCfg.WriteTimeout = cfg.Broadcast.DeliverTimeout
	}
	if r.websocket, err = wsout.NewOutput(wsCfg, r.hub, deps); err != nil {
		return nil, fmt.Errorf("create websocket output: %w", err)
	}
	if err := r.manager.Register("websocket", r.websocket); err != nil {
		return nil, err
	}

	driverOpts := []pipeline.Option{pipeline.WithSource(diagnostic.SourceWorker)}
	if cfg.Schema.Path != "" {
		validator, err := schema.Load(cfg.Schema.Path)
		if err != nil {
			return nil, fmt.Errorf("load schema: %w", err)
		}
		logger.Info("Schema validation enabled", "schema", validator.Source())
		driverOpts = append(driverOpts, pipeline.WithValidator(validator))
	}

	r.supervisor, err = process.NewSupervisor(process.Config{
		Command:     cfg.Worker.Command,
		Args:        cfg.Worker.Args,
		Dir:         cfg.Worker.Dir,
		Env:         cfg.Worker.Env,
		Restart:     cfg.Worker.Restart,
		Backoff:     cfg.Worker.RestartBackoff,
		StopTimeout: cfg.Worker.StopTimeout,
		Pipeline: pipeline.Config{
			Marker:       cfg.Stream.Marker,
			Terminator:   cfg.Stream.TerminatorByte(),
			ChunkSize:    cfg.Stream.ChunkSize,
			FlushOnClose: cfg.Stream.FlushOnClose,
		},
	}, r.hub, deps, driverOpts...)
	if err != nil {
		return nil, fmt.Errorf("create worker supervisor: %w", err)
	}

	r.gateway, err = gatewayhttp.NewGateway(cfg.HTTP, gatewayhttp.Routes{
		WebSocket:   r.websocket,
		Health:      relayHealth{manager: r.manager, supervisor: r.supervisor, hub: r.hub, nats: r.nats},
		Diagnostics: r.recent,
	}, deps)
	if err != nil {
		return nil, fmt.Errorf("create HTTP gateway: %w", err)
	}
	if err := r.manager.Register("http", r.gateway); err != nil {
		return nil, err
	}
	if err := r.manager.Register("worker", r.supervisor); err != nil {
		return nil, err
	}

	return r, nil
}

func natsPubConfig(cfg config.NATSConfig) natspub.Config {
	return natspub.Config{SubjectPrefix: cfg.SubjectPrefix, Codec: cfg.Codec}
}

// connectNATS establishes the NATS connection and waits for it to be ready
func connectNATS(ctx context.Context, cfg config.NATSConfig, logger *slog.Logger, m *metric.Metrics) (*natsclient.Client, error) {
	opts := []natsclient.Option{
		natsclient.WithName(appName),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(m),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.ReconnectWait))
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}
	tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("load NATS TLS config: %w", err)
	}
	if tlsConfig != nil {
		opts = append(opts, natsclient.WithTLS(tlsConfig))
	}

	client, err := natsclient.NewClient(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	logger.Info("Connecting to NATS", "url", cfg.URL)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, natsConnectTimeout)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	return client, nil
}

func (r *relay) start(ctx context.Context) error {
	if err := r.manager.Start(ctx); err != nil {
		return fmt.Errorf("start components: %w", err)
	}
	r.logger.Info("framerelay started",
		"http_addr", r.gateway.Addr(),
		"scheme", r.gateway.Scheme(),
		"websocket_path", r.cfg.HTTP.WebSocketPath,
		"worker", r.cfg.Worker.Command,
		"topic", r.hub.Topic())
	return nil
}

// stop stops components in reverse order, then drains the hub and closes
// NATS, all within timeout.
func (r *relay) stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := r.manager.Stop(timeout); err != nil {
		errs = append(errs, err)
	}
	if err := r.hub.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close hub: %w", err))
	}
	if r.nats != nil {
		if err := r.nats.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close NATS: %w", err))
		}
	}
	return stderrors.Join(errs...)
}
