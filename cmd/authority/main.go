package main

import (
    "context"
    "errors"
    "log"
    "net/http"
    "os/signal"
    "syscall"
    "time"

    "github.com/maxxNcode/MP-2048/internal/authority"
    appcfg "github.com/maxxNcode/MP-2048/internal/config"
    "github.com/maxxNcode/MP-2048/internal/obslog"
    "github.com/maxxNcode/MP-2048/internal/remote"
    "github.com/valyala/fasthttp"
    "go.uber.org/zap"
)

func main() {
    cfg, err := appcfg.Load()
    if err != nil {
        log.Fatalf("config error: %v", err)
    }
    if err := cfg.ValidateAuthority(); err != nil {
        log.Fatalf("config error: %v", err)
    }
    if err := obslog.InitFromEnv("authority"); err != nil {
        log.Fatalf("logger init error: %v", err)
    }
    logger := obslog.Named("authority")
    defer func() { _ = obslog.L().Sync() }()

    auth, err := authority.NewRedisAuthority(cfg.RedisURL,
        authority.WithRoomTTL(cfg.RoomTTL),
        authority.WithTurnTimeout(cfg.TurnTimeout),
        authority.WithLogger(obslog.Named("rooms")),
    )
    if err != nil {
        log.Fatalf("redis init error: %v", err)
    }
    defer func() { _ = auth.Close() }()

    // Results are optional; without DATABASE_URL finished matches only live in redis until TTL.
    if cfg.DatabaseURL != "" {
        repo, err := authority.NewRepository(cfg.DatabaseURL)
        if err != nil {
            log.Fatalf("postgres init error: %v", err)
        }
        defer func() { _ = repo.Close() }()
        sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
        err = repo.EnsureSchema(sctx)
        cancel()
        if err != nil {
            log.Fatalf("schema error: %v", err)
        }
        auth.AttachRepository(repo)
    }

    srv := remote.NewServer(auth, auth, obslog.Named("http"))
    rpc := &fasthttp.Server{
        Handler:      srv.Handler(),
        Name:         "mp2048-authority",
        ReadTimeout:  10 * time.Second,
        WriteTimeout: 10 * time.Second,
    }
    ws := &http.Server{
        Addr:              cfg.WSListenAddr,
        Handler:           srv.WSRouter(),
        ReadHeaderTimeout: 5 * time.Second,
    }

    go func() {
        logger.Info("rpc_listen", zap.String("addr", cfg.ListenAddr))
        if err := rpc.ListenAndServe(cfg.ListenAddr); err != nil {
            logger.Error("rpc_serve_error", zap.Error(err))
        }
    }()
    go func() {
        logger.Info("ws_listen", zap.String("addr", cfg.WSListenAddr))
        if err := ws.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            logger.Error("ws_serve_error", zap.Error(err))
        }
    }()

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()
    <-ctx.Done()

    shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    if err := ws.Shutdown(shutdownCtx); err != nil {
        logger.Warn("ws_shutdown_error", zap.Error(err))
    }
    if err := rpc.ShutdownWithContext(shutdownCtx); err != nil {
        logger.Warn("rpc_shutdown_error", zap.Error(err))
    }
    logger.Info("shutdown")
}
