package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/manpreetbhatti/synclink/internal/accounts"
	"github.com/manpreetbhatti/synclink/internal/api"
	"github.com/manpreetbhatti/synclink/internal/cluster"
	"github.com/manpreetbhatti/synclink/internal/config"
	"github.com/manpreetbhatti/synclink/internal/judge"
	"github.com/manpreetbhatti/synclink/internal/logging"
	"github.com/manpreetbhatti/synclink/internal/metrics"
	"github.com/manpreetbhatti/synclink/internal/persist"
	"github.com/manpreetbhatti/synclink/internal/store"
	"github.com/manpreetbhatti/synclink/internal/ws"
)

var version = "dev"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "synclink",
		Short:         "Realtime collaboration server for shared documents and calls",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(buildServeCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Synclink server",
		Example: `  synclink serve
  synclink serve --config /etc/synclink/synclink.yaml
  SYNCLINK_STORE_DRIVER=mongo synclink serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if debug {
				cfg.Log.Development = true
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (default ./synclink.yaml if present)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable development logging")

	return cmd
}

func runServe(parent context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	logger, err := logging.New(cfg.Log.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	m := metrics.New()

	docs, err := store.Open(ctx, store.Options{
		Driver:     cfg.Store.Driver,
		SQLitePath: cfg.Store.SQLitePath,
		Mongo: store.MongoConfig{
			URI:        cfg.Store.MongoURI,
			Database:   cfg.Store.MongoDatabase,
			Collection: cfg.Store.MongoCollection,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	defer docs.Close()

	scheduler := persist.New(docs, persist.Config{
		Workers:      cfg.Persist.Workers,
		WriteTimeout: cfg.Persist.WriteTimeout,
	}, logger, m)
	scheduler.Start()
	defer scheduler.Stop()

	hub := ws.NewHub(logger, m)

	if cfg.Cluster.RedisAddr != "" {
		bridge, err := cluster.NewRedisBridge(ctx, cfg.Cluster.RedisAddr, cfg.Cluster.Channel, logger, m)
		if err != nil {
			return fmt.Errorf("connect cluster bridge: %w", err)
		}
		defer bridge.Close()
		hub.SetRelay(bridge)
		go bridge.Run(ctx, hub.Deliver)
		logger.Info("cluster bridge enabled",
			zap.String("redis", cfg.Cluster.RedisAddr),
			zap.String("instance", bridge.InstanceID()))
	}

	go hub.Run(ctx)

	gateway := ws.NewGateway(hub, docs, scheduler, ws.Config{
		MessagesPerSecond:    cfg.WS.MessagesPerSecond,
		MessageBurst:         cfg.WS.MessageBurst,
		AllowedOrigins:       cfg.Server.AllowedOrigins,
		ConnectionsPerSecond: cfg.WS.ConnectionsPerSecond,
		ConnectionBurst:      cfg.WS.ConnectionBurst,
	}, logger, m)
	defer gateway.Close()

	opts := api.Options{
		Hub:        hub,
		Store:      docs,
		Backlog:    scheduler,
		ICEServers: api.ICEServers(cfg.WebRTC.STUNURLs, cfg.WebRTC.TURNURL, cfg.WebRTC.TURNUsername, cfg.WebRTC.TURNPassword),
		Logger:     logger,
	}

	if cfg.Accounts.DSN != "" {
		users, err := accounts.Open(cfg.Accounts.DSN)
		if err != nil {
			return err
		}
		defer users.Close()
		opts.Users = users
	}

	if cfg.Judge.Secret != "" {
		client, err := judge.New(judge.Config{
			SubmitURL: cfg.Judge.SubmitURL,
			Secret:    cfg.Judge.Secret,
			Timeout:   cfg.Judge.Timeout,
		}, logger)
		if err != nil {
			return err
		}
		opts.Judge = client
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.New(opts).Router(gateway, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("synclink server starting",
			zap.String("addr", server.Addr),
			zap.String("store", cfg.Store.Driver),
			zap.Bool("accounts", opts.Users != nil),
			zap.Bool("judge", opts.Judge != nil))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case err := <-serveErr:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	// Stopping the hub closes every socket; then flush what is still pending
	cancel()
	<-hub.Done()
	scheduler.Stop()
	logger.Info("server stopped", zap.Int("unsaved", scheduler.Pending()))
	return nil
}
