package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/app"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/archive"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/authpw"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/config"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/email"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/experiment"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/export"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/gitrepo"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/logging"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/search"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/session"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/stimuli"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/store"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", zap.Strings("versions", applied))
	}

	def, err := config.LoadExperiment(cfg.ExperimentFile)
	if err != nil {
		return err
	}
	stimulusRepo := gitrepo.New(cfg.StimuliDir)
	if err := stimulusRepo.Ensure("pcibex"); err != nil {
		return fmt.Errorf("stimulus repository: %w", err)
	}
	practice, mainRows, err := loadTables(cfg.StimuliDir, def)
	if err != nil {
		return err
	}
	exp, err := def.Build(practice, mainRows)
	if err != nil {
		return fmt.Errorf("compile experiment %s: %w", def.Name, err)
	}

	sessions, err := session.NewRedisStore(cfg.RedisURL, cfg.SessionTTL)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer sessions.Close()

	dataStore := store.NewPostgresStore(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(db), logger)

	deps := app.Deps{
		Store:    dataStore,
		Sessions: sessions,
		Stimuli:  stimulusRepo,
		Search:   searchService,
		Exporter: export.NewService(dataStore, cfg.ExportTimeout),
		Logger:   logger,
	}
	archiveCfg := archive.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	}
	if archiveCfg.IsConfigured() {
		results, err := archive.New(archiveCfg)
		if err != nil {
			return err
		}
		if err := results.EnsureBucket(ctx); err != nil {
			logger.Warn("results archive unavailable", zap.String("bucket", results.Bucket()), zap.Error(err))
		} else {
			deps.Archive = results
		}
	}
	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		deps.Mailer = mailer
	}

	created, err := authpw.NewService(dataStore).Bootstrap(ctx, cfg.AdminEmail, cfg.AdminPassword)
	if err != nil {
		logger.Warn("bootstrap admin account", zap.Error(err))
	} else if created {
		logger.Info("admin account created", zap.String("email", cfg.AdminEmail))
	}

	service := app.New(cfg, def, exp, deps)
	version := ""
	if head, err := stimulusRepo.Head(); err == nil {
		version = head.Hash
	}
	if err := service.SyncStimulusIndex(ctx, version, practice, mainRows); err != nil {
		logger.Warn("sync stimulus index", zap.Error(err))
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.ExportTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("pcibex api listening", zap.String("addr", cfg.Addr), zap.String("experiment", def.Name),
			zap.Int("practice_rows", len(practice)), zap.Int("main_rows", len(mainRows)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
		return nil
	})
	err = group.Wait()

	service.Wait()
	searchService.Wait()
	logger.Info("pcibex api stopped")
	return err
}

func loadTables(dir string, def config.Experiment) ([]experiment.Row, []experiment.Row, error) {
	practice, err := stimuli.ReadFile(filepath.Join(dir, def.PracticeFile), experiment.KindPractice)
	if err != nil {
		return nil, nil, fmt.Errorf("practice stimuli: %w", err)
	}
	mainRows, err := stimuli.ReadFile(filepath.Join(dir, def.MainFile), experiment.KindMain)
	if err != nil {
		return nil, nil, fmt.Errorf("main stimuli: %w", err)
	}
	return practice, mainRows, nil
}
