package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"snapsight/src/browser"
	"snapsight/src/clipboard"
	"snapsight/src/config"
	"snapsight/src/coordinator"
	"snapsight/src/desktop"
	"snapsight/src/eventloop"
	"snapsight/src/imagedata"
	"snapsight/src/logutil"
	"snapsight/src/messages"
	"snapsight/src/panel"
	"snapsight/src/relayclient"
	"snapsight/src/router"
	"snapsight/src/store"
)

const (
	backendBrowser = "browser"
	backendDesktop = "desktop"
)

type captureOptions struct {
	backend    string
	url        string
	controlURL string
	relayURL   string
	statePath  string
	envFile    string
	timeout    time.Duration
	jsonOutput bool
	verbose    bool
	copy       bool
	reset      bool
}

func main() {
	if err := newRootCmd(&captureOptions{}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(opts *captureOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "snapsight-capture",
		Short:         "Select a region, relay it for analysis and print the result",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCapture(ctx, *opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.backend, "backend", "b", backendBrowser, "Page host: browser or desktop")
	cmd.Flags().StringVar(&opts.url, "url", "", "Page to open before selecting (browser backend)")
	cmd.Flags().StringVar(&opts.controlURL, "control-url", "", "DevTools WebSocket of a running Chrome (default from BROWSER_CONTROL_URL)")
	cmd.Flags().StringVar(&opts.relayURL, "relay", "", "Relay endpoint (default from RELAY_URL)")
	cmd.Flags().StringVar(&opts.statePath, "state", "", "SQLite file for the injection flag (default from STATE_DB, else in memory)")
	cmd.Flags().StringVar(&opts.envFile, "env", "", "Path to .env file")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "How long to wait for a selection and its analysis")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the result as JSON")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log to stderr")
	cmd.Flags().BoolVar(&opts.copy, "clipboard", false, "Copy the analysis text to the clipboard")
	cmd.Flags().BoolVar(&opts.reset, "reset", false, "Clear the injection flag before capturing")
	return cmd
}

func (o captureOptions) validate() error {
	switch o.backend {
	case backendBrowser:
	case backendDesktop:
		if o.url != "" || o.controlURL != "" {
			return errors.New("--url and --control-url only apply to the browser backend")
		}
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", o.backend, backendBrowser, backendDesktop)
	}
	if o.timeout <= 0 {
		return errors.New("--timeout must be positive")
	}
	return nil
}

type captureResult struct {
	Analysis   string  `json:"analysis"`
	Text       string  `json:"text"`
	Backend    string  `json:"backend"`
	ImageBytes int     `json:"image_bytes"`
	Timestamp  string  `json:"timestamp"`
	Duration   float64 `json:"duration_seconds"`
}

func runCapture(ctx context.Context, opts captureOptions, stdout io.Writer) error {
	cfg, err := config.LoadWithOptions(config.LoadOptions{
		EnvFileOverride:  opts.envFile,
		RelayURLOverride: opts.relayURL,
	})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logutil.New(logutil.Options{
		Level:             cfg.LogLevel,
		EnableFileLogging: cfg.EnableFileLogging,
		Quiet:             !opts.verbose,
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	flags, closeFlags, err := openFlags(ctx, statePath(opts, cfg))
	if err != nil {
		return err
	}
	defer closeFlags()

	bus := router.NewRouter(logger)
	defer bus.Shutdown()
	bus.SetMessageLogging(opts.verbose)
	registry := eventloop.NewRegistry(bus, logger)
	defer registry.Close()

	host, closeHost, err := openHost(ctx, opts, cfg, registry, logger)
	if err != nil {
		return err
	}
	defer closeHost()

	coord, err := coordinator.New(coordinator.Options{Host: host, Flags: flags, Bus: bus, Logger: logger})
	if err != nil {
		return err
	}

	var displays panel.Displays
	if !opts.jsonOutput {
		displays = append(displays, panel.NewWriterDisplay(stdout))
	}
	if opts.copy {
		displays = append(displays, panel.NewClipboardDisplay(clipboard.WriteText))
	}

	if err := coord.Reconcile(ctx, registry.Attached); err != nil {
		return err
	}

	relay := relayclient.New(cfg.RelayURL, nil, logger)
	logger.Info("relay endpoint", zap.String("url", relay.Endpoint()))

	results := make(chan panel.Result, 1)
	p, err := panel.New(panel.Options{
		Bus:     bus,
		Flags:   flags,
		Relay:   relay,
		Display: displays,
		Logger:  logger,
		OnResult: func(r panel.Result) {
			select {
			case results <- r:
			default:
			}
		},
	})
	if err != nil {
		return err
	}

	bgInbox, err := bus.Register(messages.AddressBackground, 8)
	if err != nil {
		return err
	}
	panelInbox, err := bus.Register(messages.AddressSidePanel, 8)
	if err != nil {
		return err
	}

	if opts.reset {
		if err := p.Reset(ctx); err != nil {
			return err
		}
		coord.ClearImage()
	}

	start := time.Now()
	var result panel.Result

	g, gctx := errgroup.WithContext(ctx)
	loopCtx, stopLoops := context.WithCancel(gctx)
	g.Go(func() error { return ignoreCanceled(coord.Serve(loopCtx, bgInbox)) })
	g.Go(func() error { return ignoreCanceled(p.Run(loopCtx, panelInbox)) })
	g.Go(func() error {
		defer stopLoops()
		if err := p.TakeScreenshot(gctx); err != nil {
			return err
		}
		if opts.verbose {
			fmt.Fprintln(os.Stderr, "[verbose] drag to select a region")
		}
		select {
		case result = <-results:
			return nil
		case <-gctx.Done():
			return fmt.Errorf("waiting for capture: %w", gctx.Err())
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if result.Err != nil {
		return fmt.Errorf("%s: %w", panel.FailureMessage, result.Err)
	}

	if !opts.jsonOutput {
		return nil
	}
	_, image, _ := imagedata.Decode(result.ImageURI)
	return writeJSON(stdout, captureResult{
		Analysis:   result.HTML,
		Text:       panel.PlainText(result.HTML),
		Backend:    opts.backend,
		ImageBytes: len(image),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Duration:   time.Since(start).Seconds(),
	})
}

// statePath prefers --state over STATE_DB. Empty keeps the flag in memory.
func statePath(opts captureOptions, cfg *config.Config) string {
	if opts.statePath != "" {
		return opts.statePath
	}
	return cfg.StatePath
}

func openFlags(ctx context.Context, path string) (store.Flags, func(), error) {
	if path == "" {
		return store.NewMemory(), func() {}, nil
	}
	db, err := store.OpenSQLite(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = db.Close() }, nil
}

func openHost(ctx context.Context, opts captureOptions, cfg *config.Config, registry *eventloop.Registry, logger *zap.Logger) (coordinator.PageHost, func(), error) {
	if opts.backend == backendDesktop {
		h, err := desktop.NewHost(registry, logger)
		if err != nil {
			return nil, nil, err
		}
		return h, h.Close, nil
	}

	controlURL := opts.controlURL
	if controlURL == "" {
		controlURL = cfg.BrowserControlURL
	}
	h, err := browser.Connect(ctx, browser.Config{ControlURL: controlURL, Registry: registry, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	closeHost := func() { _ = h.Close() }
	if opts.url != "" {
		if _, err := h.Open(ctx, opts.url); err != nil {
			closeHost()
			return nil, nil, err
		}
	}
	return h, closeHost, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	return nil
}
