// Package config loads the process configuration from the environment and
// an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/keshon/lavaplay/internal/audio"
	"github.com/keshon/lavaplay/internal/music/player"
	"github.com/keshon/lavaplay/internal/music/queue"
	"github.com/keshon/lavaplay/internal/tracking"
)

type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN,required"`
	StoragePath  string `env:"STORAGE_PATH" envDefault:"datastore.json"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile      string `env:"LOG_FILE"`

	Lavalink   Lavalink   `envPrefix:"LAVALINK_"`
	Player     Player     `envPrefix:"PLAYER_"`
	Queue      Queue      `envPrefix:"QUEUE_"`
	Inactivity Inactivity `envPrefix:"INACTIVITY_"`
}

type Lavalink struct {
	URL               string        `env:"URL" envDefault:"http://localhost:2333"`
	Passphrase        string        `env:"PASSPHRASE" envDefault:"youshallnotpass"`
	Label             string        `env:"LABEL"`
	ReadyTimeout      time.Duration `env:"READY_TIMEOUT" envDefault:"10s"`
	ResumeTimeout     time.Duration `env:"RESUME_TIMEOUT" envDefault:"60s"`
	RequestsPerSecond float64       `env:"REQUESTS_PER_SECOND" envDefault:"20"`
}

type Player struct {
	DisconnectOnStop    bool `env:"DISCONNECT_ON_STOP" envDefault:"false"`
	DisconnectOnDestroy bool `env:"DISCONNECT_ON_DESTROY" envDefault:"true"`
	SelfDeaf            bool `env:"SELF_DEAF" envDefault:"true"`
	InitialVolume       *int `env:"INITIAL_VOLUME"`
}

type Queue struct {
	HistoryCapacity     int              `env:"HISTORY_CAPACITY" envDefault:"8"`
	ClearOnStop         bool             `env:"CLEAR_ON_STOP" envDefault:"true"`
	ClearHistoryOnStop  bool             `env:"CLEAR_HISTORY_ON_STOP" envDefault:"false"`
	ResetRepeatOnStop   bool             `env:"RESET_REPEAT_ON_STOP" envDefault:"true"`
	ResetShuffleOnStop  bool             `env:"RESET_SHUFFLE_ON_STOP" envDefault:"true"`
	RespectRepeatOnSkip bool             `env:"RESPECT_REPEAT_ON_SKIP" envDefault:"true"`
	DefaultRepeatMode   queue.RepeatMode `env:"DEFAULT_REPEAT_MODE" envDefault:"none"`
}

type Inactivity struct {
	Enabled         bool          `env:"ENABLED" envDefault:"true"`
	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	DelayFirstPoll  bool          `env:"DELAY_FIRST_POLL" envDefault:"false"`
	DisconnectDelay time.Duration `env:"DISCONNECT_DELAY" envDefault:"30s"`
	UsersThreshold  int           `env:"USERS_THRESHOLD" envDefault:"1"`
}

// Load reads .env, if present, and parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return parse(env.Options{})
}

// LoadFrom parses vars instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if v := cfg.Player.InitialVolume; v != nil && (*v < 0 || *v > 1000) {
		return nil, fmt.Errorf("parse config: %w", player.ErrInvalidVolume)
	}
	return &cfg, nil
}

func (c *Config) Node() audio.NodeConfig {
	return audio.NodeConfig{
		Label:             c.Lavalink.Label,
		URL:               c.Lavalink.URL,
		Passphrase:        c.Lavalink.Passphrase,
		ReadyTimeout:      c.Lavalink.ReadyTimeout,
		ResumeTimeout:     c.Lavalink.ResumeTimeout,
		RequestsPerSecond: c.Lavalink.RequestsPerSecond,
	}
}

func (c *Config) PlayerOptions() player.Options {
	return player.Options{
		DisconnectOnStop:    c.Player.DisconnectOnStop,
		DisconnectOnDestroy: c.Player.DisconnectOnDestroy,
		SelfDeaf:            c.Player.SelfDeaf,
		InitialVolume:       c.Player.InitialVolume,
	}
}

func (c *Config) QueueOptions() queue.Options {
	return queue.Options{
		HistoryCapacity:     c.Queue.HistoryCapacity,
		ClearQueueOnStop:    c.Queue.ClearOnStop,
		ClearHistoryOnStop:  c.Queue.ClearHistoryOnStop,
		ResetRepeatOnStop:   c.Queue.ResetRepeatOnStop,
		ResetShuffleOnStop:  c.Queue.ResetShuffleOnStop,
		RespectRepeatOnSkip: c.Queue.RespectRepeatOnSkip,
		DefaultRepeatMode:   c.Queue.DefaultRepeatMode,
	}
}

// TrackingOptions returns nil when inactivity tracking is disabled.
func (c *Config) TrackingOptions() *tracking.Options {
	if !c.Inactivity.Enabled {
		return nil
	}
	opts := tracking.DefaultOptions()
	opts.PollInterval = c.Inactivity.PollInterval
	opts.DelayFirstPoll = c.Inactivity.DelayFirstPoll
	opts.DisconnectDelay = c.Inactivity.DisconnectDelay
	opts.Trackers = tracking.DefaultTrackers(tracking.UsersOptions{
		Threshold:   c.Inactivity.UsersThreshold,
		ExcludeBots: true,
	})
	return &opts
}
