package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pigrew/vxi11d/internal/logger"
	"github.com/pigrew/vxi11d/pkg/config"
	"github.com/pigrew/vxi11d/pkg/vxi11server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the VXI-11 server",
	Long: `Start the VXI-11 server with the specified configuration.

Examples:
  vxi11d start
  vxi11d start --config /etc/vxi11d/config.yaml
  VXI11D_LOGGING_LEVEL=DEBUG vxi11d start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return &ConfigError{Err: err}
	}

	if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: "stdout"}); err != nil {
		return &ConfigError{Err: err}
	}

	srv, err := vxi11server.New(cfg)
	if err != nil {
		return &ConfigError{Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received, stopping")
		cancel()
	}()

	logger.Info("vxi11d starting", logger.Adapter(""))
	err = srv.Run(ctx)
	signal.Stop(sigCh)
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, vxi11server.ErrListen):
		return &ListenError{Err: err}
	case errors.Is(err, vxi11server.ErrPortmap):
		return &PortmapError{Err: err}
	default:
		return err
	}
}
