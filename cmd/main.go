// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Shivanand-hulikatti/campus-events/internal/broadcast"
	"github.com/Shivanand-hulikatti/campus-events/internal/config"
	"github.com/Shivanand-hulikatti/campus-events/internal/database"
	"github.com/Shivanand-hulikatti/campus-events/internal/handler"
	"github.com/Shivanand-hulikatti/campus-events/internal/metrics"
	"github.com/Shivanand-hulikatti/campus-events/internal/repository"
	"github.com/Shivanand-hulikatti/campus-events/internal/service"
)

// stores is the persistence backend the services run on.
type stores struct {
	events     service.EventStore
	ledger     service.LedgerStore
	sessions   service.SessionStore
	attendance service.AttendanceStore
	close      func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Storage ────────────────────────────────────────────────────────
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	// ── 2. Metrics ────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// ── 3. Broadcast channel ──────────────────────────────────────────────
	hub := broadcast.NewHub(
		broadcast.WithBufferSize(cfg.SubscriberBuffer),
		broadcast.WithLogger(logger),
		broadcast.WithMetrics(m),
	)
	var publisher service.Publisher = hub

	g, ctx := errgroup.WithContext(ctx)

	rdb, err := database.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if rdb != nil {
		defer rdb.Close()
		relay := broadcast.NewRelay(rdb, hub,
			broadcast.WithRelayLogger(logger),
			broadcast.WithRelayMetrics(m),
		)
		publisher = relay
		g.Go(func() error { return relay.Run(ctx) })
		logger.Info("broadcast relay enabled", "channel", broadcast.DefaultRelayChannel)
	}

	// ── 4. Wire up layers ─────────────────────────────────────────────────
	opts := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(m),
		service.WithThreshold(cfg.CertificateThreshold),
		service.WithLocation(cfg.Timezone),
	}
	ledger := service.NewLedger(st.events, st.ledger, publisher, opts...)
	h := handler.New(handler.Services{
		Events:     service.NewEventService(st.events, publisher, append(opts, service.WithWaitlist(ledger))...),
		Ledger:     ledger,
		Sessions:   service.NewSessionService(st.events, st.sessions, opts...),
		Attendance: service.NewAttendance(st.events, st.sessions, st.attendance, publisher, opts...),
		Hub:        hub,
	}, logger, cfg.RequestTimeout)

	// ── 5. Build the router ───────────────────────────────────────────────
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(handler.Logger(logger))  // structured access log
	r.Use(handler.CORS)

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	h.Routes(r)

	// Static HTML, when the web/ directory ships alongside the binary.
	if info, err := os.Stat(cfg.WebDir); err == nil && info.IsDir() {
		r.Handle("/*", http.FileServer(http.Dir(cfg.WebDir)))
	}

	// ── 6. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		logger.Info("server listening", "addr", srv.Addr, "store", cfg.Store, "timezone", cfg.Timezone.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (stores, error) {
	if cfg.Store == config.StoreMemory {
		mem := repository.NewMemory()
		logger.Warn("using in-memory store; data is lost on restart")
		return stores{
			events:     mem.Events(),
			ledger:     mem.Registrations(),
			sessions:   mem.Sessions(),
			attendance: mem.Attendance(),
			close:      func() {},
		}, nil
	}

	pool, err := database.NewPool(ctx, cfg.DB, logger)
	if err != nil {
		return stores{}, fmt.Errorf("database: %w", err)
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return stores{}, fmt.Errorf("migrate: %w", err)
	}
	return stores{
		events:     repository.NewEventRepository(pool),
		ledger:     repository.NewRegistrationRepository(pool),
		sessions:   repository.NewSessionRepository(pool),
		attendance: repository.NewAttendanceRepository(pool),
		close:      pool.Close,
	}, nil
}
