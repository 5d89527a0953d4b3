package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eddynotadi/mosquito-hunter/internal/api"
	"github.com/eddynotadi/mosquito-hunter/internal/app/fingerprint"
	"github.com/eddynotadi/mosquito-hunter/internal/app/service"
	"github.com/eddynotadi/mosquito-hunter/internal/app/verify"
	"github.com/eddynotadi/mosquito-hunter/internal/app/worker"
	"github.com/eddynotadi/mosquito-hunter/internal/common/security"
	"github.com/eddynotadi/mosquito-hunter/internal/domain/repository"
	"github.com/eddynotadi/mosquito-hunter/internal/platform/config"
	"github.com/eddynotadi/mosquito-hunter/internal/platform/database"
	"github.com/eddynotadi/mosquito-hunter/internal/platform/metrics"
	"github.com/eddynotadi/mosquito-hunter/internal/platform/queue"
	"github.com/eddynotadi/mosquito-hunter/internal/platform/storage"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const (
	fingerprintPrefix = "fingerprints:"
	lockKeyPrefix     = "lock:"
	memoryQueueSize   = 1024
)

var serveFlags = struct {
	skipMigrate bool
}{}

func serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and verification worker",
		Run:   serveRun,
	}
	cmd.Flags().BoolVar(&serveFlags.skipMigrate, "skip-migrate", false, "do not apply migrations on startup")
	return cmd
}

func serveRun(cmd *cobra.Command, _ []string) {
	// 1. Load Configuration
	cfg := commonRun()
	slog.Info("Configuration loaded", "store", cfg.StoreBackend, "image_store", cfg.ImageStore)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg); err != nil {
		slog.Error("Server exited with error", "err", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	// 2. Initialize JWT
	tokens := security.NewTokenManager(cfg.JWTKey, cfg.JWTExp)

	// 3. Initialize Repositories
	var (
		userRepo repository.UserRepository
		ledger   repository.LedgerRepository
	)
	switch cfg.StoreBackend {
	case config.StorePostgres:
		db, err := openDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer database.Close(db)
		userRepo = repository.NewPgUserRepository(db)
		ledger = repository.NewPgLedgerRepository(db)
	default:
		store := repository.NewMemoryStore()
		userRepo, ledger = store, store
		slog.Warn("Using in-memory store; data is lost on restart")
	}

	// 4. Initialize Redis, when configured
	var (
		jobs   queue.JobQueue
		locker queue.Locker
		index  fingerprint.Index
	)
	if cfg.RedisAddr != "" {
		rdb, err := queue.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer queue.Close(rdb)
		jobs, locker, index = redisBackends(rdb, cfg)
	} else {
		jobs = queue.NewMemoryQueue(memoryQueueSize)
		locker = queue.NewMemoryLocker()
		index = fingerprint.NewMemoryIndex()
	}

	// 5. Initialize Image Storage
	images, uploadDir, err := openImageStore(ctx, cfg)
	if err != nil {
		return err
	}

	// 6. Fingerprinting and verification
	var hasher fingerprint.Hasher = fingerprint.NewAverageHasher(cfg.FingerprintThreshold)
	if cfg.FingerprintStrategy == config.FingerprintSHA256 {
		hasher = fingerprint.SHA256Hasher{}
	}
	known, err := ledger.ListFingerprints(ctx, hasher.Kind())
	if err != nil {
		return err
	}
	added, err := fingerprint.Warm(ctx, index, hasher.Kind(), known)
	if err != nil {
		return err
	}
	slog.Info("Fingerprint index ready", "kind", hasher.Kind(), "loaded", added)

	verifier, err := verify.New(cfg)
	if err != nil {
		return err
	}
	m := metrics.New()

	// 7. Initialize Services
	authService := service.NewAuthService(userRepo, ledger, tokens)
	ledgerService := service.NewLedgerService(ledger)
	submissionService := service.NewSubmissionService(ledger, images, index, hasher, verifier, jobs, m,
		service.SubmissionConfig{
			AllowedExtensions: cfg.AllowedExtensions,
			MaxUploadBytes:    cfg.MaxUploadBytes,
		})

	// 8. Initialize Verification Worker and Sweeper
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	verificationWorker := worker.NewVerificationWorker(jobs, locker, ledger, images, submissionService, m,
		worker.Options{LockTTL: cfg.VerificationLockTTL})
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		verificationWorker.Start(workerCtx)
	}()

	sweeper, err := worker.NewSweeper(ledger, jobs, cfg.SweepInterval, cfg.SweepStaleAfter)
	if err != nil {
		return err
	}
	if err := sweeper.Start(workerCtx); err != nil {
		return err
	}

	// 9. Initialize Router & HTTP Server
	router := api.NewRouter(authService, submissionService, ledgerService, tokens, m, api.Options{
		CORSOrigins: cfg.CORSOrigins,
		UploadDir:   uploadDir,
	})

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Server starting", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// 10. Graceful Shutdown
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}
	slog.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "err", err)
	}

	workerCancel() // Signal worker to stop
	if err := sweeper.Stop(); err != nil {
		slog.Error("Sweeper shutdown failed", "err", err)
	}
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		slog.Warn("Verification worker did not stop in time")
	}

	slog.Info("Server and worker stopped gracefully")
	return nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Connect(ctx, cfg.DBConnStr)
	if err != nil {
		return nil, err
	}
	if !serveFlags.skipMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

func redisBackends(rdb *redis.Client, cfg *config.Config) (queue.JobQueue, queue.Locker, fingerprint.Index) {
	return queue.NewRedisQueue(rdb, cfg.VerificationQueueName),
		queue.NewRedisLocker(rdb, lockKeyPrefix),
		fingerprint.NewRedisIndex(rdb, fingerprintPrefix)
}

// openImageStore returns the configured store and, for the local backend,
// the directory to serve under /uploads.
func openImageStore(ctx context.Context, cfg *config.Config) (storage.ImageStore, string, error) {
	if cfg.ImageStore == config.ImageStoreS3 {
		client, err := storage.NewS3Client(ctx, storage.S3Options{
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			BaseEndpoint:    cfg.S3BaseEndpoint,
		})
		if err != nil {
			return nil, "", err
		}
		slog.Info("Storing images in S3", "bucket", cfg.S3Bucket)
		return storage.NewS3Store(client, cfg.S3Bucket, cfg.S3Region, cfg.S3PublicBaseURL), "", nil
	}

	local, err := storage.NewLocalStore(cfg.UploadDir, "/uploads")
	if err != nil {
		return nil, "", err
	}
	slog.Info("Storing images on disk", "dir", local.Dir())
	return local, local.Dir(), nil
}
