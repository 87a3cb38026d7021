package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	tea "github.com/charmbracelet/bubbletea"

	"stratsync-chat/internal/artifact"
	"stratsync-chat/internal/config"
	"stratsync-chat/internal/integrations/paramstore"
	"stratsync-chat/internal/integrations/queryapi"
	"stratsync-chat/internal/logging"
	"stratsync-chat/internal/repository"
	"stratsync-chat/internal/tui"
	"stratsync-chat/internal/usecase"
)

const logFileName = "stratsync-chat.log"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// The terminal belongs to the UI, so logs go to a file.
	if err := os.MkdirAll(cfg.ExportDir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(cfg.ExportDir, logFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, logFile)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apiOpts := []queryapi.Option{queryapi.WithHTTPClient(&http.Client{Timeout: cfg.QueryAPITimeout})}
	if cfg.ParamPrefix != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return fmt.Errorf("create SSM client: %w", err)
		}
		if err := cfg.ApplyParams(ctx, ssmClient); err != nil {
			return err
		}
		apiOpts = append(apiOpts, queryapi.WithToken(ssmClient, cfg.TokenParameter()))
	}

	apiClient, err := queryapi.NewClient(cfg.QueryAPIBaseURL, apiOpts...)
	if err != nil {
		return err
	}
	svc, err := usecase.NewChatService(apiClient, repository.NewMemory(), artifact.NewFileSink(""), cfg.MaxQueryLength, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("failed to release summary files", "err", err)
		}
	}()

	logger.Info("chat started", "query_api", cfg.QueryAPIBaseURL)
	model := tui.NewModel(ctx, svc, tui.Options{
		ExportDir: cfg.ExportDir,
		Opener:    artifact.NewSystemOpener(),
	})
	_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
	cancel()
	if err != nil {
		return fmt.Errorf("run UI: %w", err)
	}
	return nil
}
