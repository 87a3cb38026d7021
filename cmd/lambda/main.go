package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"stratsync-chat/handler"
	"stratsync-chat/internal/config"
	"stratsync-chat/internal/integrations/paramstore"
	"stratsync-chat/internal/integrations/queryapi"
	"stratsync-chat/internal/logging"
	"stratsync-chat/internal/repository"
	"stratsync-chat/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, "json", os.Stdout)
	slog.SetDefault(logger)

	if cfg.StateTable == "" {
		slog.Error("required environment variable is not set", "key", "STATE_TABLE")
		os.Exit(1)
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	if err := cfg.ApplyParams(ctx, ssmClient); err != nil {
		slog.Error("failed to read parameters", "err", err)
		os.Exit(1)
	}

	stateClient, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable, repository.WithTTL(cfg.SessionTTL))
	if err != nil {
		slog.Error("failed to create state client", "err", err)
		os.Exit(1)
	}

	apiOpts := []queryapi.Option{queryapi.WithHTTPClient(&http.Client{Timeout: cfg.QueryAPITimeout})}
	if name := cfg.TokenParameter(); name != "" {
		apiOpts = append(apiOpts, queryapi.WithToken(ssmClient, name))
	}
	apiClient, err := queryapi.NewClient(cfg.QueryAPIBaseURL, apiOpts...)
	if err != nil {
		slog.Error("failed to create query API client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	// Summaries are returned in responses; nothing is written to local disk.
	chatService, err := usecase.NewChatService(apiClient, stateClient, nil, cfg.MaxQueryLength, logger)
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(chatService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
