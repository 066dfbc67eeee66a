package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/foodbank/fuelsupport/internal/config"
	"github.com/foodbank/fuelsupport/internal/db"
	"github.com/foodbank/fuelsupport/internal/handlers"
	"github.com/foodbank/fuelsupport/internal/housekeeping"
	"github.com/foodbank/fuelsupport/internal/links"
	"github.com/foodbank/fuelsupport/internal/logger"
	"github.com/foodbank/fuelsupport/internal/messaging"
	"github.com/foodbank/fuelsupport/internal/services"
	"github.com/foodbank/fuelsupport/internal/storage"
	"github.com/foodbank/fuelsupport/internal/storage/local"
	"github.com/foodbank/fuelsupport/internal/storage/s3"
	"github.com/foodbank/fuelsupport/internal/uploads"
	"github.com/foodbank/fuelsupport/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(cfg, zl)
	if err != nil {
		zl.Fatal("db init", zap.Error(err))
	}

	files, err := openStorage(ctx, cfg)
	if err != nil {
		zl.Fatal("storage init", zap.Error(err))
	}

	sender := messaging.FromConfig(cfg, zl)
	linkStore := links.NewStore(conn)
	issuer := links.NewIssuer(conn, linkStore, cfg.LinkTTL, zl)
	clients := services.NewClients(conn, files, cfg.DefaultCountryCode, zl)
	intake := uploads.NewIntake(conn, linkStore, files,
		messaging.NewSMSNotifier(sender, cfg.StaffNotifyNumber, cfg.BaseURL, zl),
		uploads.Limits{
			MaxFileBytes:    cfg.MaxFileBytes,
			MaxRequestBytes: cfg.MaxRequestBytes,
			MaxStorageBytes: cfg.MaxStorageBytes,
		}, zl)

	tmpl, pages := web.Templates(web.DisplayLocation(), time.Now)
	app := handlers.New(handlers.Deps{
		Cfg:      cfg,
		Log:      zl,
		DB:       conn,
		Links:    linkStore,
		Intake:   intake,
		Clients:  clients,
		Dispatch: services.NewDispatcher(conn, issuer, linkStore, sender, cfg, zl),
		Reports:  services.NewReports(conn),
		Files:    files,
		Sender:   sender,
	}, tmpl, pages)

	hk := &housekeeping.Loop{Links: linkStore, Clients: clients, RetentionDays: cfg.RetentionDays, Log: zl.With(zap.String("component", "housekeeping"))}
	hk.Start(ctx, cfg.HousekeepingInterval)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           web.Router(app, zl),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute, // slow mobile uploads
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		zl.Info("fuel support desk listening",
			zap.String("addr", cfg.Addr),
			zap.String("base_url", cfg.BaseURL),
			zap.String("sms_mode", sender.Mode()),
			zap.String("storage", cfg.Storage))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("shutdown", zap.Error(err))
	}
}

func openStorage(ctx context.Context, cfg config.Config) (storage.Store, error) {
	if cfg.Storage == config.StorageS3 {
		return s3.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix)
	}
	return local.New(cfg.UploadDir)
}
