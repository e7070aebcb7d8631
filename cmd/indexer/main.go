package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ghostethereum/ghostethereum/internal/alert"
	"github.com/ghostethereum/ghostethereum/internal/chain/ethereum"
	"github.com/ghostethereum/ghostethereum/internal/config"
	"github.com/ghostethereum/ghostethereum/internal/membership"
	"github.com/ghostethereum/ghostethereum/internal/pipeline"
	"github.com/ghostethereum/ghostethereum/internal/pipeline/reconciler"
	"github.com/ghostethereum/ghostethereum/internal/pipeline/retry"
	"github.com/ghostethereum/ghostethereum/internal/store"
	"github.com/ghostethereum/ghostethereum/internal/store/postgres"
	"github.com/ghostethereum/ghostethereum/internal/token"
	"github.com/ghostethereum/ghostethereum/internal/tracing"
)

const (
	initialReconnectDelay = time.Second
	maxReconnectDelay     = time.Minute

	// streamStableAfter is how long a subscription must survive before a
	// reconnect counts as a recovery rather than part of the same outage.
	streamStableAfter = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting subscription indexer",
		"contract", cfg.Ethereum.ContractAddress,
		"start_block", cfg.Ethereum.StartBlock,
		"supported_tokens", len(cfg.Ethereum.SupportedTokens),
		"quiet_period", cfg.Pipeline.QuietPeriod.String(),
	)

	shutdownTracing, err := tracing.Init(context.Background(), tracing.Config{
		ServiceName: "subscription-indexer",
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Endpoint != "" {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	db, err := postgres.New(postgres.Config{
		URL:             cfg.DB.URL,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	if err := db.RunMigrations(cfg.DB.MigrationsDir); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	subscriptions := postgres.NewSubscriptionRepo(db)
	settlements := postgres.NewSettlementRepo(db)
	owners := store.NewCachedOwnerProfiles(postgres.NewOwnerProfileRepo(db))
	checkpoints := postgres.NewCheckpointRepo(db)

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 30*time.Second)
	client, err := ethereum.Dial(dialCtx, cfg.Ethereum.WSURL, logger,
		ethereum.WithRateLimit(cfg.Ethereum.RPCRateLimit, cfg.Ethereum.RPCRateBurst))
	dialCancel()
	if err != nil {
		logger.Error("failed to connect to ethereum node", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	source, err := ethereum.NewSource(client, cfg.Ethereum.ContractAddress, logger)
	if err != nil {
		logger.Error("failed to create event source", "error", err)
		os.Exit(1)
	}

	tokenCaller, err := ethereum.NewTokenCaller(client)
	if err != nil {
		logger.Error("failed to create token caller", "error", err)
		os.Exit(1)
	}

	loadCtx, loadCancel := context.WithTimeout(context.Background(), time.Minute)
	registry, err := token.Load(loadCtx, tokenCaller, cfg.Ethereum.SupportedTokens, logger)
	loadCancel()
	if err != nil {
		logger.Error("failed to load supported tokens", "error", err)
		os.Exit(1)
	}

	alerter := buildAlerter(cfg, logger)

	ghost := membership.NewClient(logger)
	notifier := membership.NewNotifier(ghost, logger)

	rec := reconciler.New(subscriptions, settlements, owners, checkpoints, notifier, registry, alerter, cfg.Ethereum.ContractAddress, logger)

	health := pipeline.NewHealth(cfg.Ethereum.ContractAddress)
	queue := pipeline.NewIngestQueue(rec, logger,
		pipeline.WithQuietPeriod(cfg.Pipeline.QuietPeriod),
		pipeline.WithHealth(health),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHealthServer(gCtx, cfg.Server.HealthPort, health, logger)
	})

	g.Go(func() error {
		err := queue.Run(gCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return runEventStream(gCtx, source, queue, checkpoints, health, alerter, cfg, logger)
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("indexer exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("indexer shut down gracefully")
}

func buildAlerter(cfg *config.Config, logger *slog.Logger) alert.Alerter {
	var channels []alert.Alerter
	if cfg.Alert.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.Alert.SlackWebhookURL))
	}
	if cfg.Alert.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.Alert.WebhookURL))
	}
	if len(channels) == 0 {
		return &alert.NoopAlerter{}
	}
	return alert.NewMultiAlerter(cfg.Alert.Cooldown, logger, channels...)
}

// runEventStream keeps the log subscription alive, replaying from the last
// checkpoint on every (re)connect. Overlap between replay and the stored
// state is harmless: every write downstream is an idempotent upsert.
func runEventStream(
	ctx context.Context,
	source *ethereum.Source,
	queue *pipeline.IngestQueue,
	checkpoints *postgres.CheckpointRepo,
	health *pipeline.Health,
	alerter alert.Alerter,
	cfg *config.Config,
	logger *slog.Logger,
) error {
	delay := initialReconnectDelay

	for {
		fromBlock := cfg.Ethereum.StartBlock
		if cp, err := checkpoints.Get(ctx, cfg.Ethereum.ContractAddress); err != nil {
			logger.Warn("failed to read checkpoint, using configured start block", "error", err)
		} else if cp > fromBlock {
			fromBlock = cp
		}

		logger.Info("subscribing to contract events",
			"contract", cfg.Ethereum.ContractAddress,
			"from_block", fromBlock)

		started := time.Now()
		err := source.Subscribe(ctx, fromBlock, queue.Enqueue)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if time.Since(started) > streamStableAfter {
			delay = initialReconnectDelay
			if health.RecordRecovery() {
				sendAlert(ctx, alerter, alert.Alert{
					Type:     alert.AlertTypeRecovery,
					Contract: cfg.Ethereum.ContractAddress,
					Title:    "Event stream recovered",
					Message:  "subscription re-established after failures",
				}, logger)
			}
		}

		decision := retry.Classify(err)
		if !decision.IsTransient() {
			sendAlert(ctx, alerter, alert.Alert{
				Type:     alert.AlertTypeStreamError,
				Contract: cfg.Ethereum.ContractAddress,
				Title:    "Event stream failed",
				Message:  err.Error(),
				Fields:   map[string]string{"classification": decision.Reason},
			}, logger)
			return fmt.Errorf("event stream: %w", err)
		}

		if health.RecordFailure() {
			sendAlert(ctx, alerter, alert.Alert{
				Type:     alert.AlertTypeUnhealthy,
				Contract: cfg.Ethereum.ContractAddress,
				Title:    "Event stream unhealthy",
				Message:  "subscription keeps failing",
				Fields: map[string]string{
					"error":  err.Error(),
					"reason": decision.Reason,
				},
			}, logger)
		}

		logger.Warn("event stream interrupted, reconnecting",
			"error", err,
			"classification", decision.Reason,
			"retry_in", delay.String())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func sendAlert(ctx context.Context, alerter alert.Alerter, a alert.Alert, logger *slog.Logger) {
	if err := alerter.Send(ctx, a); err != nil {
		logger.Warn("failed to send alert", "type", a.Type, "error", err)
	}
}

func runHealthServer(ctx context.Context, port int, health *pipeline.Health, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snap := health.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		if snap.Status == string(pipeline.StatusUnhealthy) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()

	logger.Info("health server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
