// Package app wires the AWS clients, stores and use cases into the HTTP
// handler shared by the Lambda and the dev server.
package app

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"

	"wa-bot/handler"
	"wa-bot/internal/config"
	"wa-bot/internal/integrations/graph"
	"wa-bot/internal/integrations/mediastore"
	"wa-bot/internal/integrations/paramstore"
	"wa-bot/internal/metrics"
	"wa-bot/internal/repository"
	"wa-bot/internal/usecase"
)

// SetupLogging installs a JSON slog handler at the configured level.
func SetupLogging(cfg *config.Config) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
}

// NewHandler builds the webhook and flow handler. Metrics are registered on
// reg; a nil reg disables them.
func NewHandler(cfg *config.Config, awsCfg aws.Config, reg prometheus.Registerer) (*handler.Handler, error) {
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("create SSM client: %w", err)
	}
	secrets, err := usecase.NewSecretLoader(params, cfg.ParamPrefix)
	if err != nil {
		return nil, fmt.Errorf("create secret loader: %w", err)
	}

	dynamoClient := awsdynamodb.NewFromConfig(awsCfg)
	states, err := repository.NewStateStore(dynamoClient, cfg.StateTable, repository.WithStateTTL(cfg.StateTTL))
	if err != nil {
		return nil, fmt.Errorf("create state store: %w", err)
	}
	messages, err := repository.NewMessageStore(dynamoClient, cfg.StateTable)
	if err != nil {
		return nil, fmt.Errorf("create message store: %w", err)
	}
	tenants, err := repository.NewTenantStore(dynamoClient, cfg.StateTable)
	if err != nil {
		return nil, fmt.Errorf("create tenant store: %w", err)
	}

	graphClient := graph.NewClient(graph.WithBaseURL(cfg.GraphBaseURL), graph.WithTimeout(cfg.GraphTimeout))
	var opts []usecase.DispatcherOption
	if reg != nil {
		opts = append(opts, usecase.WithMetrics(metrics.New(reg)))
	}
	if cfg.MediaBucket != "" {
		archive, err := mediastore.New(awss3.NewFromConfig(awsCfg), cfg.MediaBucket)
		if err != nil {
			return nil, fmt.Errorf("create media archive: %w", err)
		}
		opts = append(opts, usecase.WithMediaArchive(archive))
	}

	dispatcher, err := usecase.NewDispatcher(secrets, states, messages, tenants, graphClient, opts...)
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}
	flows, err := usecase.NewFlowExchange(secrets)
	if err != nil {
		return nil, fmt.Errorf("create flow exchange: %w", err)
	}
	return handler.NewHandler(dispatcher, flows)
}
