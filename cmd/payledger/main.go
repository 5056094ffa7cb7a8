// Command payledger replays a stream of client transactions and prints the
// resulting account table.
//
//	payledger transactions.csv > accounts.csv
//
// Without a file argument events are consumed from NATS JetStream when
// PAYLEDGER_NATS_URL is set.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PayLedger/internal/config"
	"PayLedger/internal/core"
	"PayLedger/internal/event"
	"PayLedger/internal/ingestion"
	"PayLedger/internal/observability"
	"PayLedger/internal/persistence"
	"PayLedger/internal/query"
	"PayLedger/internal/report"
	"PayLedger/internal/server"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const usage = "usage: payledger <transactions.csv>\n" +
	"  with no file, events are read from JetStream when PAYLEDGER_NATS_URL is set\n"

// errUsage means neither a file nor a NATS URL was given.
var errUsage = errors.New("no event source")

// source feeds the engine's stream channel until end of stream.
type source interface {
	Run(ctx context.Context, out chan<- event.StreamMessage) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run is main without the process globals. It returns the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "payledger: %v\n", err)
		return 1
	}

	logger := observability.NewLoggerTo(stderr, "payledger", observability.ParseLogLevel(cfg.LogLevel))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)
	healthChecker := observability.NewHealthChecker()

	// --- NATS (source and/or account sink) ---
	var js jetstream.JetStream
	if cfg.NATSURL != "" {
		var nc *nats.Conn
		nc, js, err = ingestion.ConnectNATS(cfg.NATSURL, logger)
		if err != nil {
			logger.Error().Err(err).Msg("nats connect failed")
			return 1
		}
		defer nc.Drain()

		if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
			logger.Error().Err(err).Msg("ensure streams failed")
			return 1
		}
		healthChecker.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats status %s", nc.Status())
			}
			return nil
		})
	}

	src, err := pickSource(args, js, logger)
	if err != nil {
		fmt.Fprint(stderr, usage)
		return 1
	}

	// --- Postgres (optional account sink) ---
	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = openDB(ctx, cfg, logger)
		if err != nil {
			logger.Error().Err(err).Msg("postgres setup failed")
			return 1
		}
		defer db.Close()
		healthChecker.AddCheck("postgres", db.PingContext)
	}

	// --- Engine ---
	engine := core.New(cfg.Engine(),
		core.WithLogger(logger),
		core.WithMetrics(metrics),
	)
	if err := engine.StartWorkers(); err != nil {
		logger.Error().Err(err).Msg("start workers failed")
		return 1
	}

	// --- Servers ---
	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()
	var servers errgroup.Group

	serving := cfg.HTTPAddr != "" || cfg.GRPCAddr != ""
	if serving {
		srv := server.New(cfg.GRPCAddr, cfg.HTTPAddr, server.Deps{
			Query:    query.NewQueryService(engine.Chart(), engine.Ledger()),
			Health:   healthChecker,
			Metrics:  metrics,
			Gatherer: reg,
			Logger:   logger,
		})
		if cfg.GRPCAddr != "" {
			servers.Go(func() error { return srv.StartGRPC(serveCtx) })
		}
		if cfg.HTTPAddr != "" {
			servers.Go(func() error { return srv.StartHTTPGateway(serveCtx) })
		}
		srv.SetServing(true)
	}
	if cfg.MetricsAddr != "" {
		servers.Go(func() error { return serveMetrics(serveCtx, cfg.MetricsAddr, reg, logger) })
	}

	// --- Process the stream ---
	msgs := make(chan event.StreamMessage, cfg.QueueCapacity)
	var pipeline errgroup.Group
	var srcErr error
	pipeline.Go(func() error {
		defer close(msgs)
		srcErr = src.Run(ctx, msgs)
		return nil
	})
	pipeline.Go(func() error { return engine.Run(ctx, msgs) })

	start := time.Now()
	runErr := pipeline.Wait()
	if runErr != nil {
		logger.Error().Err(runErr).Msg("engine did not finish")
		return 1
	}
	if srcErr != nil {
		logger.Error().Err(srcErr).Msg("event source failed")
		return 1
	}

	accounts := engine.Accounts()
	digest := engine.Digest()
	logger.Info().
		Int("accounts", len(accounts)).
		Hex("digest", digest[:]).
		Dur("elapsed", time.Since(start)).
		Msg("stream processed")

	if err := report.Write(stdout, cfg.OutputFormat, accounts); err != nil {
		logger.Error().Err(err).Msg("write report failed")
		return 1
	}

	// --- Sinks ---
	code := 0
	if db != nil {
		w := persistence.NewAccountWriter(db, 0, metrics)
		if err := w.WriteAccounts(ctx, engine.RunID(), accounts); err != nil {
			logger.Error().Err(err).Msg("persist accounts failed")
			code = 1
		} else {
			logger.Info().Int("accounts", len(accounts)).Msg("accounts persisted")
		}
	}
	if js != nil {
		pub := ingestion.NewAccountPublisher(js, engine.RunID().String(), logger)
		if err := pub.Publish(ctx, accounts); err != nil {
			metrics.PublishErrors.Inc()
			code = 1
		}
	}

	if serving {
		logger.Info().Msg("serving queries until interrupted")
		<-ctx.Done()
	}
	stopServe()
	if err := servers.Wait(); err != nil {
		logger.Error().Err(err).Msg("server failed")
		code = 1
	}
	return code
}

// pickSource chooses the CSV file argument first, then JetStream.
func pickSource(args []string, js jetstream.JetStream, logger zerolog.Logger) (source, error) {
	switch {
	case len(args) > 0:
		return ingestion.NewCSVSource(args[0], logger), nil
	case js != nil:
		return ingestion.NewNATSSource(js, "", logger), nil
	default:
		return nil, errUsage
	}
}

func openDB(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	if _, err := persistence.NewMigrator(db, cfg.MigrationsDir, logger).Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
