package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/attelo-iot/device-pairing-agent/api/pairing"
	"github.com/attelo-iot/device-pairing-agent/cmd/flags"
	"github.com/attelo-iot/device-pairing-agent/credstore"
	"github.com/attelo-iot/device-pairing-agent/cryptoutils"
	"github.com/attelo-iot/device-pairing-agent/httpserver"
	"github.com/attelo-iot/device-pairing-agent/provisioning"
	"github.com/urfave/cli/v2"
)

var agentFlags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:     "pairing-url",
		Required: true,
		Usage:    "base URL of the pairing service",
	},
	&cli.StringFlag{
		Name:     "realm",
		Required: true,
		Usage:    "realm the device is registered in",
	},
	&cli.StringFlag{
		Name:     "device-id",
		Required: true,
		Usage:    "device identifier (16 bytes, URL-safe base64 without padding)",
	},
	&cli.StringFlag{
		Name:     "credentials-secret",
		Required: true,
		Usage:    "credentials secret issued at device registration",
		EnvVars:  []string{"PAIRING_CREDENTIALS_SECRET"},
	},
	&cli.StringFlag{
		Name:  "credential-store",
		Value: "file://./device-credentials",
		Usage: "credential store location URI (mem://, file://, vault://, s3://)",
	},
	&cli.StringFlag{
		Name:  "key-algorithm",
		Value: string(cryptoutils.KeyRSA4096),
		Usage: "device key algorithm: rsa4096, rsa2048, or ecdsa-p256",
	},
	&cli.StringFlag{
		Name:  "protocol",
		Value: "",
		Usage: "transport protocol to request connection info for",
	},
	&cli.Int64Flag{
		Name:  "keypair-retry-seconds",
		Value: 5,
		Usage: "delay before retrying key generation and local saves",
	},
	&cli.Int64Flag{
		Name:  "remote-retry-seconds",
		Value: 30,
		Usage: "delay before retrying pairing service calls",
	},
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to serve status and health endpoints on",
	},
}

func main() {
	app := &cli.App{
		Name:   "agent",
		Usage:  "Provision a device identity and discover its broker endpoint",
		Flags:  append(agentFlags, flags.CommonFlags...),
		Action: runAgent,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAgent(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	storeURI := cCtx.String("credential-store")
	store, handle, err := credstore.NewFactory(logger).CredentialStoreFor(storeURI)
	if err != nil {
		logger.Error("Failed to initialize credential store", "err", err, "uri", storeURI)
		return err
	}

	pairingClient := &pairing.Client{
		BaseURL:  cCtx.String("pairing-url"),
		Realm:    cCtx.String("realm"),
		Secret:   cCtx.String("credentials-secret"),
		Protocol: cCtx.String("protocol"),
	}

	session, err := provisioning.NewSession(provisioning.Config{
		PairingURL:        cCtx.String("pairing-url"),
		Realm:             cCtx.String("realm"),
		DeviceID:          cCtx.String("device-id"),
		CredentialsSecret: cCtx.String("credentials-secret"),
		Protocol:          cCtx.String("protocol"),
		KeyOptions: cryptoutils.KeyOptions{
			Algorithm: cryptoutils.KeyAlgorithm(cCtx.String("key-algorithm")),
		},
		Retry: provisioning.FixedDelays{
			Keypair:     time.Duration(cCtx.Int64("keypair-retry-seconds")) * time.Second,
			Credentials: time.Duration(cCtx.Int64("remote-retry-seconds")) * time.Second,
			Info:        time.Duration(cCtx.Int64("remote-retry-seconds")) * time.Second,
		},
		Store:   store,
		Handle:  handle,
		Pairing: pairingClient,
		Log:     logger,
	})
	if err != nil {
		logger.Error("Failed to create provisioning session", "err", err)
		return err
	}

	srv := httpserver.New(flags.ConfigureServer(cCtx, logger, cCtx.String("listen-addr")), session)
	srv.RunInBackground()
	defer srv.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-session.Ready()
		brokerURL, _ := session.BrokerURL()
		logger.Info("Provisioning complete", "brokerURL", brokerURL)
	}()

	if err := session.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	logger.Info("Shutting down")
	return nil
}
