package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"pb-watcher/config"
	"pb-watcher/internal/enrich"
	"pb-watcher/internal/extractor"
	"pb-watcher/internal/fetch"
	"pb-watcher/internal/logger"
	"pb-watcher/internal/models"
	"pb-watcher/internal/monitor"
	"pb-watcher/internal/notifier"
	"pb-watcher/internal/store"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// No logger yet: config failures go to stderr.
		os.Stderr.WriteString("startup failure: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(cfg.Debug)
	err = run(cfg, log)
	log.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// run carries the whole process lifecycle so deferred teardown is never
// skipped by an exit path.
func run(cfg *config.Config, log *zap.Logger) error {
	db, err := store.New(cfg.DatabasePath, cfg.AppID)
	if err != nil {
		log.Error("startup failure: store", zap.Error(err))
		return err
	}
	defer db.Close()
	log.Info("store opened", zap.String("path", cfg.DatabasePath), zap.String("app_id", cfg.AppID))

	push, err := notifier.New(cfg.TelegramBotToken, log)
	if err != nil {
		log.Error("startup failure: notifier", zap.Error(err))
		return err
	}

	fetcher := fetch.New(cfg.FetchTimeout, cfg.FetchProfile, cfg.FetchRetries)

	var enricher monitor.Enricher
	if cfg.EnrichEndpoint != "" {
		client := enrich.New(cfg.EnrichEndpoint, cfg.EnrichAPIKey, &http.Client{Timeout: cfg.FetchTimeout})
		enricher = &enricherAdapter{client: client}
		log.Info("enrichment enabled", zap.String("endpoint", cfg.EnrichEndpoint))
	}

	mon := monitor.New(db, db, fetcher, extractor.Extract, push, enricher, monitor.Config{
		ItemDelayMin:  cfg.ItemDelayMin,
		ItemDelayMax:  cfg.ItemDelayMax,
		CycleDelayMin: cfg.CycleDelayMin,
		CycleDelayMax: cfg.CycleDelayMax,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	push.AnnounceStartup(cfg.OperatorChatID)

	if err := mon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("monitor stopped", zap.Error(err))
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// enricherAdapter narrows the enrichment client to the comment string the
// monitor folds into notifications.
type enricherAdapter struct {
	client *enrich.Client
}

func (a *enricherAdapter) Analyze(ctx context.Context, snap models.ProductSnapshot) (string, error) {
	analysis, err := a.client.Analyze(ctx, snap)
	if err != nil {
		return "", err
	}
	return analysis.Comment, nil
}
