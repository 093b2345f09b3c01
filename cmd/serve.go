package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"gpt-relay/internal/catalog"
	"gpt-relay/internal/config"
	"gpt-relay/internal/logging"
	providerfactory "gpt-relay/internal/provider/factory"
	"gpt-relay/internal/router"
	"gpt-relay/internal/server"
)

const serveUsage = `Usage:
  gpt-relay serve [--config <path>] [--port <port>]

Flags:
  --config string   Path to YAML configuration file (optional; defaults and environment are used otherwise)
  --port   int      Override server port from configuration`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	logger, logCloser, err := logging.Init(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialise logging: %w", err)
	}
	defer logCloser.Close()

	cat, err := catalog.New(cfg.Models)
	if err != nil {
		return fmt.Errorf("build model catalog: %w", err)
	}

	upstream, err := providerfactory.NewProvider(cfg.Upstream)
	if err != nil {
		return err
	}

	rt, err := router.New(upstream, cat, router.Options{
		Timeout:           cfg.Upstream.Timeout,
		ImageModel:        cfg.Models.ImageDefault,
		SearchContextSize: cfg.Models.SearchContextSize,
		FallbackLocation:  cfg.Models.FallbackLocation,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, rt, logger)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
