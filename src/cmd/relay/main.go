package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"snapsight/src/analyzer"
	"snapsight/src/config"
	"snapsight/src/logutil"
	"snapsight/src/relay"
)

type relayOptions struct {
	port       int
	host       string
	envFile    string
	apiKeyPath string
	logLevel   string
}

func main() {
	if err := newRootCmd(&relayOptions{}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(opts *relayOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "snapsight-relay",
		Short:         "Serve POST /analyze-image backed by Gemini",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *opts)
		},
	}

	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "Listen port (default from PORT or 3000)")
	cmd.Flags().StringVar(&opts.host, "host", "", "Listen host")
	cmd.Flags().StringVar(&opts.envFile, "env", "", "Path to .env file")
	cmd.Flags().StringVar(&opts.apiKeyPath, "api-key-path", "", "Path to API key file (highest precedence)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level (default from LOG_LEVEL)")
	return cmd
}

func serve(ctx context.Context, opts relayOptions) error {
	cfg, err := config.LoadWithOptions(config.LoadOptions{
		EnvFileOverride:    opts.envFile,
		APIKeyPathOverride: opts.apiKeyPath,
		PortOverride:       opts.port,
	})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	level := cfg.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logger, err := logutil.New(logutil.Options{Level: level, EnableFileLogging: cfg.EnableFileLogging})
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.APIKey == "" {
		return fmt.Errorf("%s not found. Checked key file %s and %s env var",
			config.APIKeyEnvVar, cfg.APIKeyPath, config.APIKeyEnvVar)
	}
	logger.Info("configuration loaded",
		zap.String("model", cfg.Model),
		zap.String("api_key", logutil.RedactKey(cfg.APIKey)),
		zap.Strings("cors_origins", cfg.CORSOrigins))

	gemini, err := analyzer.NewGemini(ctx, analyzer.Config{APIKey: cfg.APIKey, Model: cfg.Model}, logger)
	if err != nil {
		return err
	}

	handler, err := relay.NewHandler(relay.Options{
		Analyzer:     gemini,
		Logger:       logger,
		MaxBodyBytes: cfg.MaxBodyBytes,
		CORSOrigins:  cfg.CORSOrigins,
	})
	if err != nil {
		return err
	}

	m := relay.NewManager(handler, relay.DefaultServerConfig(listenAddr(opts.host, cfg.Port)), logger)
	if err := m.Start(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-m.Errors():
		logger.Error("server exited unexpectedly", zap.Error(err))
		_ = m.Shutdown(context.Background())
		return err
	}
	return m.Shutdown(context.Background())
}

func listenAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
