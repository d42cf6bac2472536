package main

import (
	"context"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"uploadq/internal/api"
	"uploadq/internal/config"
	"uploadq/internal/engine"
	"uploadq/internal/gateway"
	"uploadq/internal/kvstore"
	"uploadq/internal/logger"
	"uploadq/internal/persist"
	"uploadq/internal/store"

	"github.com/joho/godotenv"
)

const (
	shutdownTimeout = 30 * time.Second
	apiBasePath     = "/api"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	logger.SetupDefault(cfg.Logger)

	slog.Debug("server config", "cfg", cfg)

	kv, err := kvstore.Open(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("open storage failed: %v", err)
	}
	defer kv.Close()

	var gw gateway.Gateway
	if cfg.Gateway.Disabled {
		gw = gateway.Unavailable{}
	} else {
		gw = gateway.NewSession(newHTTPClient(), kv, cfg.Gateway.RequestTimeout)
	}

	eng := engine.New(engine.Config{
		UploadURL: cfg.Upload.URL,
		Platform:  cfg.Upload.Platform,
	}, gw, store.New(), persist.NewQueue(kv))

	eng.Restore(context.Background())

	hub := api.NewHub()
	hub.Run()
	defer eng.Subscribe(hub.Publish)()

	// Стартовый пасс реконсиляции: дочитать исходы передач,
	// события о которых были потеряны при прошлом завершении процесса.
	if err := eng.Reconcile(context.Background()); err != nil {
		slog.Warn("startup reconcile failed", "error", err)
	}

	handler := logger.HTTPLogging(slog.Default(), api.New(eng, hub, apiBasePath))
	server := newServer(cfg.Server.Addr, handler)

	done := make(chan int)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

		for s := range c {
			// SIGHUP — аналог возврата "на передний план": внеочередной пасс
			if s == syscall.SIGHUP {
				slog.Info("reconcile by signal", "signal", s.String())
				go func() {
					if err := eng.Reconcile(context.Background()); err != nil {
						slog.Warn("reconcile failed", "error", err)
					}
				}()
				continue
			}

			slog.Info("shutdown by signal", "signal", s.String())

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := server.Shutdown(ctx); err != nil {
				slog.Error("shutdown failed", "error", err)
			}

			close(done)
			return
		}
	}()

	slog.Info("server startup", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	os.Exit(<-done)
}

// newHTTPClient создает клиент для передач. Общий таймаут запроса не задаем:
// им управляет сессия шлюза, тут только таймауты уровня соединения.
func newHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 0, // ответ приходит только после полной загрузки тела
			ExpectContinueTimeout: 1 * time.Second,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

func newServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:    addr,
		Handler: handler,

		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      0, // websocket-соединения живут часами
		IdleTimeout:       1 * time.Minute,

		MaxHeaderBytes: 8192, // 8 KB
	}
}
