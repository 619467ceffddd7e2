package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/app"
	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-examredi-go/pkg/config"
	"github.com/ovaphlow/pitchfork/service-examredi-go/pkg/utilities"
)

func main() {
	// best-effort: real environment wins, a missing .env is fine
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	lg, err := utilities.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Infow("starting examredi api", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, sugar)
	if err != nil {
		sugar.Fatalf("wire app: %v", err)
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.RegisterRoutes(sugar, a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Errorw("http server failed", "err", err)
			stop()
		}
	}()

	sugar.Info("service is running; press Ctrl+C to stop")
	<-ctx.Done()
	sugar.Info("shutting down")

	// in-flight AI calls may take a while; ledger writes already started finish regardless
	doneCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnw("http server shutdown failed", "err", err)
	}

	sugar.Info("goodbye")
}
