package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"wa-bot/internal/app"
	"wa-bot/internal/config"
	"wa-bot/internal/repository"
)

type sweepResult struct {
	Deleted int `json:"deleted"`
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	app.SetupLogging(cfg)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}
	states, err := repository.NewStateStore(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable, repository.WithStateTTL(cfg.StateTTL))
	if err != nil {
		slog.Error("failed to create state store", "err", err)
		os.Exit(1)
	}
	lambda.Start(func(ctx context.Context, ev events.CloudWatchEvent) (sweepResult, error) {
		deleted, err := states.SweepExpired(ctx)
		if err != nil {
			slog.Error("sweep failed", "event_id", ev.ID, "deleted", deleted, "err", err)
			return sweepResult{Deleted: deleted}, err
		}
		slog.Info("expired states swept", "event_id", ev.ID, "deleted", deleted)
		return sweepResult{Deleted: deleted}, nil
	})
}
