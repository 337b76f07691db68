package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/proactiveitadmin/gym-integrator/internal/app"
	"github.com/proactiveitadmin/gym-integrator/internal/config"
	"github.com/proactiveitadmin/gym-integrator/internal/logging"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel)

	awsCfg, err := app.LoadAWS(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	a, err := app.New(cfg, awsCfg)
	if err != nil {
		slog.Error("failed to build ticket worker", "err", err)
		os.Exit(1)
	}

	lambda.Start(a.Tickets.Handle)
}
