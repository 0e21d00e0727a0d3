package main

import (
	"context"
	"fmt"
	"os"

	"workrecord/api/internal/app"
	"workrecord/api/internal/attachment"
	"workrecord/api/internal/audit"
	"workrecord/api/internal/auth"
	"workrecord/api/internal/authpw"
	"workrecord/api/internal/config"
	"workrecord/api/internal/contribution"
	"workrecord/api/internal/logger"
	"workrecord/api/internal/metrics"
	"workrecord/api/internal/search"
	"workrecord/api/internal/session"
	"workrecord/api/internal/store"
)

// portal is the assembled process: HTTP server plus what must be closed on exit.
type portal struct {
	http    *app.HTTPServer
	search  *search.Service
	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (p *portal) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

func buildPortal(ctx context.Context, cfg config.Config, log *logger.Logger) (*portal, error) {
	p := &portal{}
	fail := func(err error) (*portal, error) {
		p.Close()
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fail(fmt.Errorf("create data dir: %w", err))
	}
	files := store.NewFileStore(cfg.DataDir)
	m := metrics.New()
	checks := map[string]app.Check{}

	sinks := []audit.Sink{}
	auditLog := audit.NewFileSink(cfg.AuditDir)
	sinks = append(sinks, auditLog)
	if cfg.DatabaseURL != "" {
		db, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return fail(fmt.Errorf("database connection failed: %w", err))
		}
		p.closers = append(p.closers, func() { _ = db.Close() })
		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			return fail(fmt.Errorf("migrations failed: %w", err))
		}
		if len(applied) > 0 {
			log.Info("applied migrations", "versions", applied)
		}
		sinks = append(sinks, audit.NewPostgresSink(db))
		checks["database"] = db.PingContext
	}
	dispatcher := audit.NewDispatcher(log.With("component", "audit"), sinks...)
	p.closers = append(p.closers, dispatcher.Close)

	var sessions session.Store = session.NewMemoryStore()
	if cfg.RedisURL != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("redis connection failed: %w", err))
		}
		p.closers = append(p.closers, func() { _ = redisStore.Close() })
		sessions = redisStore
		checks["redis"] = redisStore.Ping
		log.Info("using redis for token revocation")
	}

	var blobs attachment.BlobStore = attachment.NewLocalBlobs(cfg.DataDir)
	if cfg.MinIO.Enabled() {
		minioBlobs, err := attachment.NewMinioBlobs(cfg.MinIO)
		if err != nil {
			return fail(fmt.Errorf("minio client: %w", err))
		}
		if err := minioBlobs.EnsureBucket(ctx); err != nil {
			return fail(fmt.Errorf("minio bucket: %w", err))
		}
		blobs = minioBlobs
		log.Info("storing media in minio", "endpoint", cfg.MinIO.Endpoint, "bucket", cfg.MinIO.Bucket)
	}
	attachments := attachment.NewManager(blobs, files, log.With("component", "attachment"),
		attachment.WithCleanupFailures(m.CleanupFailures()))

	contributions := contribution.NewRepository(files, attachments, dispatcher, log.With("component", "contribution"),
		contribution.WithRecorder(m.ContributionMutation))

	var engine search.Engine
	if cfg.MeiliURL != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log.With("component", "meilisearch"))
		p.closers = append(p.closers, meili.Close)
		engine = meili
	}
	local := search.NewLocalIndex(files, files.SearchIndexPath(), log.With("component", "search"))
	p.search = search.NewService(engine, local, log.With("component", "search"))

	passwords, err := authpw.NewService(cfg.AdminPassword, cfg.AdminPasswordHash)
	if err != nil {
		return fail(fmt.Errorf("admin password: %w", err))
	}

	service := app.New(app.Dependencies{
		Files:         files,
		Contributions: contributions,
		Attachments:   attachments,
		Search:        p.search,
		Audit:         dispatcher,
		AuditLog:      auditLog,
		Tokens:        auth.NewIssuer(cfg.TokenSecret, cfg.AccessTTL),
		Passwords:     passwords,
		Sessions:      sessions,
		Checks:        checks,
		Logger:        log,
	})
	p.http = app.NewHTTPServer(service, log.With("component", "http"), app.HTTPOptions{
		CORSOrigin:     cfg.CORSOrigin,
		MaxUploadBytes: cfg.MaxUploadMB << 20,
		Metrics:        m,
		MetricsHandler: m.Handler(),
	})
	return p, nil
}
