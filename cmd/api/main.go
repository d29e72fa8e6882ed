package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"

	"inkwell/api/internal/app"
	"inkwell/api/internal/audit"
	"inkwell/api/internal/authpw"
	"inkwell/api/internal/config"
	"inkwell/api/internal/item"
	"inkwell/api/internal/search"
	"inkwell/api/internal/session"
	"inkwell/api/internal/sharing"
	"inkwell/api/internal/users"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("failed to create data dir: %v", err)
	}

	userStore := users.NewStore(cfg.DataDir)
	itemStore := item.NewFileStore(cfg.DataDir)
	grantStore := sharing.NewFileStore(cfg.DataDir)

	// Audit trail: always on the process log; also into Postgres when
	// DATABASE_URL is set.
	var sink audit.Sink = audit.LogSink{}
	var auditDB *audit.PostgresSink
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := audit.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()
		auditDB = audit.NewPostgresSink(db)
		if err := auditDB.EnsureSchema(ctx); err != nil {
			log.Fatalf("audit schema failed: %v", err)
		}
		sink = audit.Fanout{audit.LogSink{}, auditDB}
		log.Printf("Audit events persisted to Postgres")
	}

	engine := sharing.New(itemStore, grantStore, sink)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, itemStore)
	searchService.ReindexAll()

	// Refresh tokens live in Redis. Without REDIS_URL an embedded
	// miniredis keeps single-process dev setups working; sessions are
	// lost on restart.
	redisURL := strings.TrimSpace(cfg.RedisURL)
	if redisURL == "" {
		mini, err := miniredis.Run()
		if err != nil {
			log.Fatalf("embedded redis failed: %v", err)
		}
		defer mini.Close()
		redisURL = "redis://" + mini.Addr()
		log.Printf("REDIS_URL not set, using embedded in-memory redis (sessions will not survive restarts)")
	}
	sessions, err := session.NewRedisStore(redisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer sessions.Close()

	service := app.New(cfg, userStore, itemStore, engine, authpw.NewService(userStore), sessions, searchService)
	if auditDB != nil {
		service.SetAuditLog(auditDB)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Inkwell API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
