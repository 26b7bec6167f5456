package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/MrJamesThe3rd/immotrack/internal/config"
	"github.com/MrJamesThe3rd/immotrack/internal/database"
	"github.com/MrJamesThe3rd/immotrack/internal/export"
	"github.com/MrJamesThe3rd/immotrack/internal/funds"
	immoHttp "github.com/MrJamesThe3rd/immotrack/internal/http"
	"github.com/MrJamesThe3rd/immotrack/internal/http/auth"
	saleHandler "github.com/MrJamesThe3rd/immotrack/internal/http/sale"
	scheduleHandler "github.com/MrJamesThe3rd/immotrack/internal/http/schedule"
	"github.com/MrJamesThe3rd/immotrack/internal/importer"
	"github.com/MrJamesThe3rd/immotrack/internal/ledger"
	ledgerStore "github.com/MrJamesThe3rd/immotrack/internal/ledger/store"
	"github.com/MrJamesThe3rd/immotrack/internal/memstore"
	"github.com/MrJamesThe3rd/immotrack/internal/money"
	"github.com/MrJamesThe3rd/immotrack/internal/registry"
	"github.com/MrJamesThe3rd/immotrack/internal/sale"
	saleStore "github.com/MrJamesThe3rd/immotrack/internal/sale/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	saleRepo, ledgerRepo, closeDB, err := repositories(ctx, cfg)
	if err != nil {
		slog.Error("failed to set up storage", "error", err)
		os.Exit(1)
	}
	defer closeDB()

	units, fundsSvc := collaborators(cfg)

	revision, err := ledger.ParseRevisionMode(cfg.Ledger.AmountRevision)
	if err != nil {
		slog.Error("invalid ledger config", "error", err)
		os.Exit(1)
	}

	required := make([]sale.DocumentKind, 0, len(cfg.Sale.RequiredDocuments))
	for _, k := range cfg.Sale.RequiredDocuments {
		required = append(required, sale.DocumentKind(k))
	}

	var (
		ledgerService = ledger.NewService(ledgerRepo, units, fundsSvc, ledger.WithRevisionMode(revision))
		saleService   = sale.NewService(saleRepo, units, fundsSvc,
			sale.WithRequiredDocuments(required...), sale.WithScheduleCloser(ledgerService))
		importService = importer.NewService()
		exportService = export.NewService(ledgerService)
	)

	sweep, err := startLateSweep(ctx, cfg.Ledger.LateSweep, ledgerService)
	if err != nil {
		slog.Error("failed to schedule late sweep", "error", err)
		os.Exit(1)
	}
	defer sweep.Stop()

	router := immoHttp.New(
		auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		cfg.CORS.AllowedOrigins,
		saleHandler.NewHandler(saleService, ledgerService),
		scheduleHandler.NewHandler(ledgerService, importService, exportService),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           http.TimeoutHandler(router, cfg.Server.Timeout, `{"code":"TIMEOUT","message":"request timed out"}`),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.Timeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown failed", "error", err)
		}
	}()

	slog.Info("starting server", "app", cfg.App.Name, "port", cfg.App.Port, "db", cfg.DB.Driver)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func repositories(ctx context.Context, cfg *config.Config) (sale.Repository, ledger.Repository, func(), error) {
	if cfg.DB.Driver == "memory" {
		store := memstore.New()
		return store.Sales(), store.Ledger(), func() {}, nil
	}

	db, err := database.New(cfg.ConnectionString())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	return saleStore.New(db), ledgerStore.New(db), func() { db.Close() }, nil
}

func collaborators(cfg *config.Config) (sale.UnitRegistry, sale.Funds) {
	var (
		units    sale.UnitRegistry = registry.NewMemory()
		fundsSvc sale.Funds        = funds.NewMemory()
	)

	if cfg.Registry.URL != "" {
		units = registry.NewClient(cfg.Registry.URL, cfg.Registry.Token)
	}

	if cfg.Funds.URL != "" {
		fundsSvc = funds.NewClient(cfg.Funds.URL, cfg.Funds.Token)
	}

	return units, fundsSvc
}

// startLateSweep logs the in-progress schedules with overdue installments on
// the configured cron spec. Lateness is derived, so nothing is written.
func startLateSweep(ctx context.Context, spec string, svc *ledger.Service) (*cron.Cron, error) {
	c := cron.New()

	_, err := c.AddFunc(spec, func() {
		report, err := svc.LateReport(ctx)
		if err != nil {
			slog.Error("late sweep failed", "error", err)
			return
		}

		for _, ls := range report {
			slog.Warn("schedule has late installments",
				"schedule_id", ls.Schedule.ID,
				"sale_id", ls.Schedule.SaleID,
				"late", len(ls.Late),
				"overdue", money.Format(ls.Overdue))
		}

		slog.Info("late sweep done", "schedules", len(report))
	})
	if err != nil {
		return nil, fmt.Errorf("parsing late sweep spec %q: %w", spec, err)
	}

	c.Start()

	return c, nil
}
