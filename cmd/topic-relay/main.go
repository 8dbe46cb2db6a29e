// Copyright 2024-2026 Aiku AI

// Command topic-relay is a Telegram feedback relay bot. It maps each
// private-chat user to a dedicated forum topic in one shared supergroup,
// forwards their messages into that topic, and copies operator replies
// back to the user without exposing the operator's identity.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aiku/topic-relay/pkg/relay"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "topic-relay",
		Short:         "Telegram forum-topic feedback relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the webhook server",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "set-webhook <url>",
			Short: "Register the webhook URL with Telegram",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSetWebhook(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print build information",
			Run: func(_ *cobra.Command, _ []string) {
				fmt.Printf("topic-relay %s (%s) built %s\n", Tag, Commit, BuildTime)
			},
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if v := os.Getenv("TOPIC_RELAY_LOG_LEVEL"); v != "" {
		if parsed, err := zerolog.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}

func runServe(ctx context.Context) error {
	log := newLogger()

	cfg, err := relay.LoadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := relay.NewRedisStore(cfg.Redis)
	if err != nil {
		return err
	}
	defer store.Close()

	gateway, err := relay.NewTelegramGateway(cfg.Telegram, log)
	if err != nil {
		return err
	}

	registry := relay.NewThreadRegistry(store, log)
	albums := relay.NewAlbumAggregator(store, gateway, cfg.Relay.AlbumQuiet(), cfg.Relay.AlbumTTL(), log)
	admin := relay.NewAdminCommandProcessor(gateway, registry, cfg.Telegram.SupergroupID, log)
	engine := relay.NewRelayEngine(gateway, registry, albums, admin, cfg.Telegram.SupergroupID, cfg.Relay.RequireUsername, log)
	dispatcher := relay.NewDispatcher(engine, cfg.Telegram.SupergroupID, log)

	log.Info().
		Str("version", Tag).
		Int64("supergroup_id", cfg.Telegram.SupergroupID).
		Str("listen_addr", cfg.ListenAddr).
		Msg("Starting topic-relay")

	return relay.NewServer(cfg, dispatcher, albums, log).Run(ctx)
}

func runSetWebhook(ctx context.Context, url string) error {
	log := newLogger()

	cfg, err := relay.LoadConfig(configPath)
	if err != nil {
		return err
	}
	gateway, err := relay.NewTelegramGateway(cfg.Telegram, log)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := gateway.SetWebhook(callCtx, url); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	log.Info().Str("url", url).Msg("Webhook registered")
	return nil
}
