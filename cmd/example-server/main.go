package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"permit-gateway/middleware/ratelimit"
	"permit-gateway/middleware/ratelimit/infra"

	"go.uber.org/zap"
)

func main() {
	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	// Exemplo: injetando o middleware diretamente no seu webserver (sem proxy).
	// 5 permits/s por chave, até 10 guardados; esperas de até 2s viram pacing.
	store, err := infra.NewStore(5, 10, infra.WithStoreLogger(log))
	if err != nil {
		log.Fatal("store", zap.Error(err))
	}
	stats := infra.NewMemoryStatsStore(infra.WithTrackKeys(true))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	store.StartJanitor(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/admin/rate", ratelimit.AdminHandler(store, log))

	h := ratelimit.Middleware(ratelimit.Options{
		Store:               store,
		Stats:               stats,
		KeyHeader:           "X-Api-Key", // ou vazio para usar IP
		TrustXForwardedFor:  true,
		MaxWait:             2 * time.Second,
		AddRateLimitHeaders: true,
		Logger:              log,
	})(mux)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		t := stats.Total()
		log.Info("stats", zap.Int64("allowed", t.Allowed), zap.Int64("denied", t.Denied), zap.Duration("waited", t.Waited))
	}()

	log.Info("example server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server error", zap.Error(err))
	}
}
