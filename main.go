package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/kardianos/service"
	"go.uber.org/zap"

	"devoid_client/core"
	"devoid_client/logging"
)

func main() {
	os.Exit(realMain(os.Args[1:], os.Stdout, os.Stderr))
}

func realMain(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("devoid-client", flag.ContinueOnError)
	fs.SetOutput(stderr)
	envPath := fs.String("env", ".env", "environment file to load before reading configuration")
	requestsPath := fs.String("requests", "", "YAML batch of generation requests to submit after connecting")
	showVersion := fs.Bool("version", false, "print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: devoid-client [flags]\n")
		fmt.Fprintf(stderr, "       devoid-client [flags] service <install|uninstall|start|stop|restart|status>\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return core.ExitCodeSuccess
		}
		return core.ExitCodeConfig
	}

	if *showVersion {
		fmt.Fprintln(stdout, "devoid-client", core.GetVersionInfo())
		return core.ExitCodeSuccess
	}

	switch fs.Arg(0) {
	case "":
	case "service":
		svcArgs, err := serviceArgs(*envPath, *requestsPath)
		if err == nil {
			err = controlService(fs.Arg(1), svcArgs, stdout)
		}
		if err != nil {
			printError(stderr, err)
			return core.ExitCodeError
		}
		return core.ExitCodeSuccess
	default:
		printError(stderr, fmt.Errorf("unknown command %q", fs.Arg(0)))
		fs.Usage()
		return core.ExitCodeConfig
	}

	if err := core.LoadEnvFile(*envPath); err != nil {
		printError(stderr, err)
		return core.ExitCodeConfig
	}
	cfg, err := core.LoadConfig()
	if err != nil {
		printError(stderr, err)
		return core.ExitCodeConfig
	}

	logger, _, err := logging.New(logging.Options{
		Level:       cfg.LogLevel,
		Development: cfg.DevMode,
		FilePath:    cfg.LogFile,
	})
	if err != nil {
		printError(stderr, fmt.Errorf("failed to initialize logger: %w", err))
		return core.ExitCodeError
	}

	var batch []batchRequest
	if *requestsPath != "" {
		batch, err = loadBatch(*requestsPath, cfg.DefaultQueueSize)
		if err != nil {
			logger.Error("Invalid request batch", zap.String("path", *requestsPath), zap.Error(err))
			_ = logging.Sync(logger)
			return core.ExitCodeConfig
		}
	}

	logger.Info("Configuration loaded",
		zap.String("version", core.GetVersionInfo()),
		zap.String("endpoint", cfg.Endpoint),
		zap.String("service", cfg.Service),
		zap.Duration("retry_delay", cfg.RetryDelay),
		zap.Duration("reconnect_cooldown", cfg.ReconnectCooldown),
		zap.Int("handler_concurrency", cfg.HandlerConcurrency),
		zap.Int("default_queue_size", cfg.DefaultQueueSize),
		zap.Bool("download_results", cfg.DownloadResults),
		zap.String("journal", cfg.JournalPath),
		zap.String("metrics_addr", cfg.MetricsAddr),
		zap.Bool("dev_mode", cfg.DevMode),
	)

	a := &app{
		cfg:    cfg,
		logger: logger,
		batch:  batch,
		out:    stdout,
	}

	if !service.Interactive() {
		code, err := runAsService(a)
		if err != nil {
			logger.Error("Service failed", zap.Error(err))
			_ = logging.Sync(logger)
		}
		return code
	}

	a.handleSignals = true
	return a.run(context.Background())
}

func printError(w io.Writer, err error) {
	color.New(color.FgRed, color.Bold).Fprint(w, "error: ")
	if code := core.GetErrorCode(err); code != "" {
		fmt.Fprintf(w, "[%s] ", code)
	}
	fmt.Fprintln(w, err)
}
