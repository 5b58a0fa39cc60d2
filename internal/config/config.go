// Package config loads the process configuration from YAML or HJSON files
// and applies environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hjson/hjson-go/v4"
	"gopkg.in/yaml.v3"

	"crowdnav/internal/crowd"
	"crowdnav/internal/jobs"
	"crowdnav/internal/locate"
	"crowdnav/internal/spatial"
	"crowdnav/internal/steer"
	"crowdnav/internal/telemetry"
	"crowdnav/logging"
)

// Environment variables read by ApplyEnv.
const (
	EnvTickRate = "CROWDNAV_TICK_RATE"
	EnvWorkers  = "CROWDNAV_WORKERS"
	EnvAddr     = "CROWDNAV_ADDR"
	EnvStoreDSN = "CROWDNAV_STORE_DSN"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `json:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`
	// BroadcastEvery sends one websocket frame every N ticks.
	BroadcastEvery int `json:"broadcastEvery" yaml:"broadcastEvery"`
}

// CrowdConfig holds the world settings that are not owned by a
// sub-package.
type CrowdConfig struct {
	Workers             int     `json:"workers" yaml:"workers"`
	BatchSize           int     `json:"batchSize" yaml:"batchSize"`
	CommandCapacity     int     `json:"commandCapacity" yaml:"commandCapacity"`
	PerAgentLimit       int     `json:"perAgentLimit" yaml:"perAgentLimit"`
	RepathCooldownTicks int     `json:"repathCooldownTicks" yaml:"repathCooldownTicks"`
	NeighborRadius      float64 `json:"neighborRadius" yaml:"neighborRadius"`
}

// StoreConfig selects the bake store and the scene served at startup.
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
	// SceneID is loaded from the store when BakeFile is empty.
	SceneID  uint32 `json:"sceneId" yaml:"sceneId"`
	BakeFile string `json:"bakeFile" yaml:"bakeFile"`
}

// Config is the complete process configuration.
type Config struct {
	Server  ServerConfig     `json:"server" yaml:"server"`
	Loop    crowd.LoopConfig `json:"loop" yaml:"loop"`
	Crowd   CrowdConfig      `json:"crowd" yaml:"crowd"`
	Grid    spatial.Config   `json:"grid" yaml:"grid"`
	Locate  locate.Config    `json:"locate" yaml:"locate"`
	Steer   steer.Config     `json:"steer" yaml:"steer"`
	Agent   steer.Settings   `json:"agent" yaml:"agent"`
	Logging logging.Config   `json:"logging" yaml:"logging"`
	Store   StoreConfig      `json:"store" yaml:"store"`
}

// Default returns the stock configuration.
func Default() Config {
	world := crowd.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
			BroadcastEvery:  1,
		},
		Loop: crowd.DefaultLoopConfig(),
		Crowd: CrowdConfig{
			Workers:             world.Jobs.Workers,
			BatchSize:           world.Jobs.BatchSize,
			CommandCapacity:     world.CommandCapacity,
			PerAgentLimit:       world.PerAgentLimit,
			RepathCooldownTicks: world.RepathCooldownTicks,
			NeighborRadius:      world.NeighborRadius,
		},
		Grid:    world.Grid,
		Locate:  world.Locate,
		Steer:   world.Steer,
		Agent:   steer.DefaultSettings(),
		Logging: logging.DefaultConfig(),
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "crowdnav.db",
		},
	}
}

func (cfg Config) normalized() Config {
	def := Default()
	normalized := cfg
	if strings.TrimSpace(normalized.Server.Addr) == "" {
		normalized.Server.Addr = def.Server.Addr
	}
	if normalized.Server.ShutdownTimeout <= 0 {
		normalized.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if normalized.Server.BroadcastEvery <= 0 {
		normalized.Server.BroadcastEvery = def.Server.BroadcastEvery
	}
	if normalized.Loop.TickRate <= 0 {
		normalized.Loop.TickRate = def.Loop.TickRate
	}
	if normalized.Loop.CatchupMaxTicks < 1 {
		normalized.Loop.CatchupMaxTicks = 1
	}
	if normalized.Logging.BufferSize <= 0 {
		normalized.Logging.BufferSize = def.Logging.BufferSize
	}
	normalized.Agent = normalized.Agent.Normalized()
	normalized.Store.Driver = strings.ToLower(strings.TrimSpace(normalized.Store.Driver))
	if normalized.Store.Driver == "" {
		normalized.Store.Driver = def.Store.Driver
	}
	return normalized
}

// World assembles the crowd configuration.
func (cfg Config) World() crowd.Config {
	world := crowd.DefaultConfig()
	world.Jobs = jobs.Config{Workers: cfg.Crowd.Workers, BatchSize: cfg.Crowd.BatchSize}
	world.Grid = cfg.Grid
	world.Locate = cfg.Locate
	world.Steer = cfg.Steer
	world.CommandCapacity = cfg.Crowd.CommandCapacity
	world.PerAgentLimit = cfg.Crowd.PerAgentLimit
	world.RepathCooldownTicks = cfg.Crowd.RepathCooldownTicks
	world.NeighborRadius = cfg.Crowd.NeighborRadius
	return world
}

// Load reads path over the defaults. YAML files are recognised by their
// extension; everything else is parsed as HJSON, which accepts plain JSON
// too. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = hjson.Unmarshal(data, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", filepath.Base(path), err)
	}
	return cfg.normalized(), nil
}

// ApplyEnv overrides cfg from the environment. Invalid values are logged
// and ignored.
func ApplyEnv(cfg Config, getenv func(string) string, logger telemetry.Logger) Config {
	if getenv == nil {
		getenv = os.Getenv
	}
	if raw := getenv(EnvTickRate); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.Loop.TickRate = value
		} else if logger != nil {
			logger.Printf("invalid %s=%q", EnvTickRate, raw)
		}
	}
	if raw := getenv(EnvWorkers); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.Crowd.Workers = value
		} else if logger != nil {
			logger.Printf("invalid %s=%q", EnvWorkers, raw)
		}
	}
	if raw := getenv(EnvAddr); raw != "" {
		cfg.Server.Addr = raw
	}
	if raw := getenv(EnvStoreDSN); raw != "" {
		cfg.Store.DSN = raw
	}
	return cfg.normalized()
}
