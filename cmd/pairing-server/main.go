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

	"github.com/attelo-iot/device-pairing-agent/api/pairing"
	"github.com/attelo-iot/device-pairing-agent/cmd/flags"
	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/urfave/cli/v2"
)

var serverFlags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8443",
		Usage: "address to listen on for the pairing API",
	},
	&cli.StringFlag{
		Name:     "realm",
		Required: true,
		Usage:    "realm to serve",
	},
	&cli.StringFlag{
		Name:     "credentials-secret",
		Required: true,
		Usage:    "credentials secret devices must present",
		EnvVars:  []string{"PAIRING_CREDENTIALS_SECRET"},
	},
	&cli.StringFlag{
		Name:     "broker-url",
		Required: true,
		Usage:    "broker endpoint returned to every device",
	},
	&cli.StringFlag{
		Name:  "protocol",
		Value: "",
		Usage: "protocol name devices may request credentials for",
	},
	&cli.Int64Flag{
		Name:  "cert-validity-days",
		Value: 365,
		Usage: "validity of issued client certificates in days",
	},
}

func main() {
	app := &cli.App{
		Name:   "pairing-server",
		Usage:  "Serve the device pairing API with an in-process CA",
		Flags:  append(serverFlags, flags.CommonFlags...),
		Action: runServer,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	handler, err := pairing.NewHandler(pairing.HandlerConfig{
		Realm:        cCtx.String("realm"),
		Secret:       cCtx.String("credentials-secret"),
		BrokerURL:    cCtx.String("broker-url"),
		Protocol:     cCtx.String("protocol"),
		CertValidity: time.Duration(cCtx.Int64("cert-validity-days")) * 24 * time.Hour,
		Log:          logger,
	})
	if err != nil {
		logger.Error("Failed to create pairing handler", "err", err)
		return err
	}

	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Use(func(next http.Handler) http.Handler {
		return httplogger.LoggingMiddlewareSlog(logger, next)
	})
	handler.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         cCtx.String("listen-addr"),
		Handler:      mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("Pairing server starting", "listenAddr", srv.Addr, "realm", cCtx.String("realm"))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server stopped", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Graceful shutdown failed", "err", err)
		return err
	}
	return nil
}
