package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/revolutionized-iot2/riot2-orchestrator/config"
	"github.com/revolutionized-iot2/riot2-orchestrator/engine"
	"github.com/revolutionized-iot2/riot2-orchestrator/messaging"
	"github.com/revolutionized-iot2/riot2-orchestrator/state"
	"github.com/revolutionized-iot2/riot2-orchestrator/store"
	"github.com/revolutionized-iot2/riot2-orchestrator/www"
)

type serveOptions struct {
	debug bool
	port  int
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(root.configPath, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "log every event")
	cmd.Flags().IntVar(&opts.port, "port", 0, "override web.port")
	return cmd
}

func serve(configPath string, opts *serveOptions) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.port > 0 {
		cfg.Web.Port = opts.port
	}

	// Object store
	backend, err := store.Open(&cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	objects := store.New(backend, nil)
	defer objects.Close()
	log.Printf("riot2orch: store open (%s)", cfg.Store.Backend)

	// Redis state mirror
	var mirror state.Mirror
	if cfg.Redis.Address != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Printf("riot2orch: redis not available (%v), running without state mirror", err)
		} else {
			log.Printf("riot2orch: redis connected (%s)", cfg.Redis.Address)
			mirror = state.NewRedisMirror(redisClient)
		}
		cancel()
		defer redisClient.Close()
	}

	// Kafka telemetry export
	var exporter *messaging.Exporter
	if cfg.Export.Enabled {
		exporter = messaging.NewExporter(cfg.Export, cfg.Orchestrator.ID)
		log.Printf("riot2orch: exporting telemetry to %s on %v", cfg.Export.Topic, cfg.Export.Brokers)
	}

	msgClient := messaging.NewClient(&cfg.Messaging, cfg.ClientID())

	eng := engine.New(engine.Config{
		AppConfig: cfg,
		Store:     objects,
		MsgClient: msgClient,
		Exporter:  exporter,
		Mirror:    mirror,
		Debug:     opts.debug,
	})
	if err := eng.Start(); err != nil {
		eng.Stop()
		return err
	}
	defer eng.Stop()

	// Web server
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: www.NewRouter(eng),
	}
	go func() {
		log.Printf("riot2orch: web server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("web server: %v", err)
		}
	}()

	log.Printf("riot2orch: ready")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("riot2orch: shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	return nil
}
