package main

import (
	"bytes"
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"flexmarket/internal/baseline"
	ledger "flexmarket/internal/ledger/domain"
	ledgermem "flexmarket/internal/ledger/infrastructure/memory"
	ledgerpg "flexmarket/internal/ledger/infrastructure/postgres"
	"flexmarket/internal/observability/metrics"
	"flexmarket/internal/platform"
	"flexmarket/internal/report"
	"flexmarket/internal/sim"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, err := sim.LoadConfig()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	metrics.Init(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var repo ledger.Repository
	if cfg.LedgerDSN != "" {
		db, err := sql.Open("pgx", cfg.LedgerDSN)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
		pgRepo := ledgerpg.NewRepository(db, ledgerpg.WithCurrency(cfg.Currency))
		if err := pgRepo.EnsureSchema(ctx); err != nil {
			logger.Fatalf("ledger schema error: %v", err)
		}
		repo = pgRepo
	} else {
		logger.Printf("no ledger dsn configured, using in-memory ledger")
		repo = ledgermem.NewRepository()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	go func() {
		logger.Printf("http listening on %s", cfg.ListenAddr)
		if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
			logger.Printf("http server error: %v", err)
		}
	}()

	runner, err := sim.NewRunner(cfg, repo, logger)
	if err != nil {
		logger.Fatalf("runner error: %v", err)
	}

	if client := buildPlatformClient(logger); client != nil {
		syncBaselines(ctx, client, runner, logger)
	}

	started := time.Now()
	if err := runner.Run(ctx); err != nil {
		logger.Fatalf("simulation error: %v", err)
	}
	logger.Printf("simulation finished: %d slots in %s", cfg.Slots, time.Since(started))

	if err := exportReports(cfg.ReportDir, runner, logger); err != nil {
		logger.Fatalf("report export error: %v", err)
	}
}

func exportReports(dir string, runner *sim.Runner, logger *log.Logger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	history := runner.Operator().History()

	xlsx, err := report.BuildClearingXLSX(history)
	if err != nil {
		return err
	}
	xlsxPath := filepath.Join(dir, "clearing.xlsx")
	if err := os.WriteFile(xlsxPath, xlsx, 0o644); err != nil {
		return err
	}
	logger.Printf("wrote %s", xlsxPath)

	pdf, err := report.BuildClearingPDF(history)
	if err != nil {
		return err
	}
	pdfPath := filepath.Join(dir, "clearing.pdf")
	if err := os.WriteFile(pdfPath, pdf, 0o644); err != nil {
		return err
	}
	logger.Printf("wrote %s", pdfPath)
	return nil
}

// buildPlatformClient returns a trading platform client when the platform
// endpoints are configured, nil otherwise.
func buildPlatformClient(logger *log.Logger) *platform.Client {
	mainEndpoint := os.Getenv("FLEXMARKET_PLATFORM_ENDPOINT")
	tokenEndpoint := os.Getenv("FLEXMARKET_PLATFORM_TOKEN_ENDPOINT")
	if mainEndpoint == "" || tokenEndpoint == "" {
		return nil
	}
	client, err := platform.NewClient(platform.Config{
		MainEndpoint:   mainEndpoint,
		TokenEndpoint:  tokenEndpoint,
		ClientID:       os.Getenv("FLEXMARKET_PLATFORM_CLIENT_ID"),
		ClientSecret:   os.Getenv("FLEXMARKET_PLATFORM_CLIENT_SECRET"),
		Scope:          os.Getenv("FLEXMARKET_PLATFORM_SCOPE"),
		TokenCachePath: os.Getenv("FLEXMARKET_PLATFORM_TOKEN_CACHE"),
	}, logger)
	if err != nil {
		logger.Printf("platform client error: %v", err)
		return nil
	}
	return client
}

// syncBaselines uploads each bidder's baseline series to the trading
// platform, one file per metering point in the bidder's portfolio with the
// baseline split evenly across them. Upload failures are logged, not fatal:
// the simulation runs on local baselines either way.
func syncBaselines(ctx context.Context, client *platform.Client, runner *sim.Runner, logger *log.Logger) {
	version, err := client.APIVersion(ctx)
	if err != nil {
		logger.Printf("platform version check failed: %v", err)
		return
	}
	logger.Printf("connected to trading platform api %s", version.Version)

	baselines := runner.BidderBaselines()
	for bidderID, p := range runner.Portfolios() {
		series, ok := baselines[bidderID]
		if !ok {
			continue
		}
		mpids := p.AssetMPIDs()
		perAsset := series.Scale(1.0 / float64(len(mpids)))
		for _, mpid := range mpids {
			var buf bytes.Buffer
			if err := baseline.WriteCSV(&buf, perAsset); err != nil {
				logger.Printf("baseline csv for %s: %v", mpid, err)
				continue
			}
			if err := client.ImportBaselineCSV(ctx, mpid+"-baseline.csv", &buf); err != nil {
				logger.Printf("baseline upload for %s: %v", mpid, err)
			}
		}
	}
}
