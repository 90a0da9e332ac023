package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/keshon/lavaplay/internal/audio"
	"github.com/keshon/lavaplay/internal/config"
	"github.com/keshon/lavaplay/internal/discord"
	"github.com/keshon/lavaplay/internal/lavalink/node"
	"github.com/keshon/lavaplay/internal/storage"
	"github.com/keshon/lavaplay/internal/tracking"
	"github.com/rs/zerolog"
)

const (
	appName         = "lavaplay"
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ERR]", err)
		os.Exit(1)
	}

	logger, closer, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ERR] invalid log level:", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("exited with error")
		closer.Close()
		os.Exit(1)
	}
	logger.Info().Msg("exited cleanly")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().Msgf("starting %s", appName)

	store, err := storage.New(cfg.StoragePath, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	gateway := discord.NewGateway(dg, logger)
	defer gateway.Close()

	queueOpts := cfg.QueueOptions()
	svc, err := audio.New(gateway, audio.Config{
		Node:     cfg.Node(),
		Player:   cfg.PlayerOptions(),
		Queue:    &queueOpts,
		Tracking: cfg.TrackingOptions(),
		Store:    store,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	watch(svc, logger)

	if err := svc.Start(); err != nil {
		return err
	}
	if err := dg.Open(); err != nil {
		closeService(svc, logger)
		return fmt.Errorf("failed to open Discord session: %w", err)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received, cleaning up")
	case <-svc.Done():
		runErr = fmt.Errorf("lavalink link stopped: %w", svc.Err())
	}

	closeService(svc, logger)
	if err := dg.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close Discord session")
	}
	return runErr
}

func closeService(svc *audio.Service, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.Close(ctx); err != nil {
		logger.Warn().Err(err).Msg("audio service did not close cleanly")
	}
}

// watch logs the node and tracking events.
func watch(svc *audio.Service, logger zerolog.Logger) {
	events := svc.Link().Events()
	events.TrackStarted.Add(func(_ context.Context, e node.TrackStarted) error {
		logger.Info().Str("guild_id", e.GuildID.String()).Str("track", e.Track.Info.Title).Msg("now playing")
		return nil
	})
	events.TrackException.Add(func(_ context.Context, e node.TrackException) error {
		logger.Warn().Str("guild_id", e.GuildID.String()).Str("track", e.Track.Info.Title).Str("cause", e.Exception.Cause).Msg("track failed")
		return nil
	})
	events.StatisticsUpdated.Add(func(_ context.Context, e node.StatisticsUpdated) error {
		logger.Debug().Str("label", e.Label).Int("players", e.Statistics.Players).Int("playing", e.Statistics.PlayingPlayers).Msg("node statistics")
		return nil
	})

	if t := svc.Tracking(); t != nil {
		t.StatusUpdated.Add(func(_ context.Context, e tracking.StatusUpdated) error {
			logger.Debug().Str("guild_id", e.GuildID.String()).Str("status", e.Status.String()).Msg("inactivity status")
			return nil
		})
	}
}
