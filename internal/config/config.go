// Package config loads client and relay settings from YAML, .env and the
// environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hersh/duotris/internal/game"
	"github.com/hersh/duotris/internal/match"
)

const envPrefix = "DUOTRIS_"

type Config struct {
	Game  GameConfig  `yaml:"game"`
	Net   NetConfig   `yaml:"net"`
	Match MatchConfig `yaml:"match"`
	Relay RelayConfig `yaml:"relay"`
	Log   LogConfig   `yaml:"log"`
}

type GameConfig struct {
	Allow180    bool          `yaml:"allow180"`
	Preview     int           `yaml:"preview"`
	DAS         time.Duration `yaml:"das"`
	ARR         time.Duration `yaml:"arr"`
	SoftDrop    time.Duration `yaml:"softDrop"`
	LockDelay   time.Duration `yaml:"lockDelay"`
	LockHardCap time.Duration `yaml:"lockHardCap"`
	CancelDelay time.Duration `yaml:"cancelDelay"`
}

type NetConfig struct {
	RelayURL         string        `yaml:"relayUrl"`
	Codec            string        `yaml:"codec"`
	ICEServers       []string      `yaml:"iceServers"`
	ConnectTimeout   time.Duration `yaml:"connectTimeout"`
	ResendInterval   time.Duration `yaml:"resendInterval"`
	ResendLimit      int           `yaml:"resendLimit"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
	FallbackGap      time.Duration `yaml:"fallbackGap"`
	Frame            time.Duration `yaml:"frame"`
}

type MatchConfig struct {
	Name             string        `yaml:"name"`
	Rating           int           `yaml:"rating"`
	BestOf           int           `yaml:"bestOf"`
	AnnounceInterval time.Duration `yaml:"announceInterval"`
	Countdown        int           `yaml:"countdown"`
	AFKTimeout       time.Duration `yaml:"afkTimeout"`
	HeartbeatGrace   time.Duration `yaml:"heartbeatGrace"`
	ReconnectWindow  time.Duration `yaml:"reconnectWindow"`
	AutoExit         time.Duration `yaml:"autoExit"`
}

type RelayConfig struct {
	Addr          string        `yaml:"addr"`
	NextGameDelay time.Duration `yaml:"nextGameDelay"`
	StaleAfter    time.Duration `yaml:"staleAfter"`
	MaxMessage    int64         `yaml:"maxMessage"`
	// Rate and Burst bound messages per connection per second.
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	File        string `yaml:"file"`
}

func Default() Config {
	g := game.DefaultConfig()
	return Config{
		Game: GameConfig{
			Allow180:    g.Allow180,
			Preview:     g.Preview,
			DAS:         g.DAS,
			ARR:         g.ARR,
			SoftDrop:    g.SoftDrop,
			LockDelay:   g.LockDelay,
			LockHardCap: g.LockHardCap,
			CancelDelay: g.CancelDelay,
		},
		Net: NetConfig{
			RelayURL:         "ws://localhost:8080/ws",
			Codec:            "json",
			ICEServers:       []string{"stun:stun.l.google.com:19302"},
			ConnectTimeout:   10 * time.Second,
			ResendInterval:   200 * time.Millisecond,
			ResendLimit:      3,
			SnapshotInterval: 500 * time.Millisecond,
			FallbackGap:      100 * time.Millisecond,
			Frame:            16 * time.Millisecond,
		},
		Match: MatchConfig{
			Name:             "player",
			Rating:           1000,
			BestOf:           3,
			AnnounceInterval: 2 * time.Second,
			Countdown:        3,
			AFKTimeout:       300 * time.Second,
			HeartbeatGrace:   5 * time.Second,
			ReconnectWindow:  5 * time.Second,
			AutoExit:         60 * time.Second,
		},
		Relay: RelayConfig{
			Addr:          ":8080",
			NextGameDelay: 3 * time.Second,
			StaleAfter:    6 * time.Second,
			MaxMessage:    64 << 10,
			Rate:          120,
			Burst:         60,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path (if set), then .env, then DUOTRIS_* variables, and
// normalizes the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("config: .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	cfg.Normalize()
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
		}
		*dst = n
		return nil
	}

	str("RELAY_URL", &c.Net.RelayURL)
	str("CODEC", &c.Net.Codec)
	str("NAME", &c.Match.Name)
	str("RELAY_ADDR", &c.Relay.Addr)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)
	if err := num("RATING", &c.Match.Rating); err != nil {
		return err
	}
	return num("BEST_OF", &c.Match.BestOf)
}

// Normalize fixes values that would break the game rather than rejecting
// them. An even best-of becomes the next odd number.
func (c *Config) Normalize() {
	d := Default()
	c.Match.BestOf = match.NormalizeBestOf(c.Match.BestOf)
	if c.Game.Preview < 1 {
		c.Game.Preview = d.Game.Preview
	}
	if c.Net.ResendLimit < 1 {
		c.Net.ResendLimit = d.Net.ResendLimit
	}
	if c.Net.ResendInterval <= 0 {
		c.Net.ResendInterval = d.Net.ResendInterval
	}
	if c.Net.Frame <= 0 {
		c.Net.Frame = d.Net.Frame
	}
	if c.Match.Countdown < 0 {
		c.Match.Countdown = 0
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// EngineConfig converts the game section for the simulation.
func (g GameConfig) EngineConfig() game.Config {
	cfg := game.DefaultConfig()
	cfg.Allow180 = g.Allow180
	cfg.Preview = g.Preview
	cfg.DAS = g.DAS
	cfg.ARR = g.ARR
	cfg.SoftDrop = g.SoftDrop
	cfg.LockDelay = g.LockDelay
	cfg.LockHardCap = g.LockHardCap
	cfg.CancelDelay = g.CancelDelay
	return cfg
}
