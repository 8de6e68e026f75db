// The daemon runs a cipherwatt ledger and serves its HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v2"

	cipherwatt "github.com/cipherwatt/cipherwatt"
	"github.com/cipherwatt/cipherwatt/apiServer"
)

const (
	logKeyListenAddr = "listenAddr"
	logKeyDataPath   = "dataPath"
	logKeySystemKey  = "systemKey"
	logKeySignal     = "signal"
	logKeyError      = "error"
)

// daemonConfig holds the merged file and flag configuration.
type daemonConfig struct {
	DataPath      string `yaml:"dataPath"`
	ListenAddr    string `yaml:"listenAddr"`
	SystemKey     string `yaml:"systemKey"`
	MinimumFreeGB uint   `yaml:"minimumFreeGB"`
	Debug         bool   `yaml:"debug"`
}

func parseConfig() (daemonConfig, error) {
	cfg := daemonConfig{
		DataPath:      "./cipherwatt-data",
		ListenAddr:    ":8532",
		SystemKey:     cipherwatt.DefaultSystemKey,
		MinimumFreeGB: 1,
	}

	configFile := flag.String("config", "", "path to a yaml config file")
	dataPath := flag.String("data", "", "data directory (overrides config file)")
	listenAddr := flag.String("listen", "", "HTTP listen address (overrides config file)")
	systemKey := flag.String("system-key", "", "accumulator key fed by reveals (overrides config file)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *configFile != "" {
		raw, err := os.ReadFile(*configFile)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if *dataPath != "" {
		cfg.DataPath = *dataPath
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *systemKey != "" {
		cfg.SystemKey = *systemKey
	}
	if *debug {
		cfg.Debug = true
	}
	return cfg, nil
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	logger.Info("starting cipherwatt daemon",
		logKeyListenAddr, cfg.ListenAddr,
		logKeyDataPath, cfg.DataPath,
		logKeySystemKey, cfg.SystemKey)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", logKeySignal, sig.String())
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("daemon error", logKeyError, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg daemonConfig, logger *slog.Logger) error {
	ledger, err := cipherwatt.New(cipherwatt.Config{
		Paths:         []string{cfg.DataPath},
		MinimumFreeGB: cfg.MinimumFreeGB,
		Logger:        logger,
		SystemKey:     cfg.SystemKey,
	})
	if err != nil {
		return fmt.Errorf("creating ledger: %w", err)
	}
	if err := ledger.Start(ctx); err != nil {
		return fmt.Errorf("starting ledger: %w", err)
	}
	defer ledger.Close()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: apiServer.New(ledger, apiServer.WithLogger(logger)),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
