package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"

	"parcelwatch/internal/app"
	"parcelwatch/internal/config"
	"parcelwatch/internal/poller"
	"parcelwatch/internal/telemetry"
)

func main() {
	log.SetPrefix("[parcelwatch] ")
	log.SetFlags(log.LstdFlags | log.LUTC)

	cfg, err := config.ParseFlags(flag.NewFlagSet("api", flag.ExitOnError), os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownTracing, err := telemetry.Setup(ctx, "parcelwatch", cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Printf("otel shutdown: %v", err)
		}
	}()

	rt, err := app.NewRuntime(cfg)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.Close(sctx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	// Connection problems and a failed first poll are retried; rejected
	// credentials are not.
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		err := rt.Setup(ctx)
		var sv *poller.SetupValidationError
		if errors.As(err, &sv) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Printf("setup retry in %v code=%s", d.Round(time.Second), poller.SetupErrorCode(err))
		}),
	)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}
