package util

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration of the calibration service.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Deribit     DeribitConfig     `yaml:"deribit"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Store       StoreConfig       `yaml:"store"`
	Server      ServerConfig      `yaml:"server"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"console" validate:"oneof=console json"`
	Output string `yaml:"output" default:"stderr" validate:"required"`
}

type DeribitConfig struct {
	BaseURL           string  `yaml:"base_url" default:"https://www.deribit.com/api/v2/public/" validate:"url"`
	Currency          string  `yaml:"currency" default:"BTC" validate:"oneof=BTC ETH"`
	RequestsPerSecond float64 `yaml:"requests_per_second" default:"10" validate:"gt=0"`
	Burst             int     `yaml:"burst" default:"5" validate:"gte=1"`
	TimeoutSeconds    int     `yaml:"timeout_seconds" default:"10" validate:"gte=1"`
	ClientID          string  `yaml:"client_id"`
	ClientSecret      string  `yaml:"client_secret"`
}

type CalibrationConfig struct {
	DeltaThreshold  float64         `yaml:"delta_threshold" default:"0.1" validate:"gte=0,lte=1"`
	MinObservations int             `yaml:"min_observations" default:"3" validate:"gte=3"`
	Workers         int             `yaml:"workers" default:"4" validate:"gte=1"`
	Optimizer       OptimizerConfig `yaml:"optimizer"`
}

type OptimizerConfig struct {
	MaxIterations   int     `yaml:"max_iterations" default:"10000" validate:"gte=1"`
	Tolerance       float64 `yaml:"tolerance" default:"1e-22" validate:"gte=0"`
	StallIterations int     `yaml:"stall_iterations" default:"100" validate:"gte=1"`
	Restarts        int     `yaml:"restarts" default:"1" validate:"gte=0"`
	InitialScale    float64 `yaml:"initial_scale" default:"0.1" validate:"gtfield=MinScale"`
	InitialCenter   float64 `yaml:"initial_center" default:"0"`
	MinScale        float64 `yaml:"min_scale" default:"0.001" validate:"gt=0"`
	SimplexSize     float64 `yaml:"simplex_size" default:"0.05" validate:"gt=0"`
}

type StoreConfig struct {
	Dir               string  `yaml:"dir" default:"." validate:"required"`
	MaturityTolerance float64 `yaml:"maturity_tolerance" default:"1e-8" validate:"gt=0"`
	DatabaseURL       string  `yaml:"database_url"`
}

type ServerConfig struct {
	Address           string  `yaml:"address" default:":8080" validate:"required"`
	APIKeyHash        string  `yaml:"api_key_hash"`
	RequestsPerSecond float64 `yaml:"requests_per_second" default:"20" validate:"gt=0"`
	Burst             int     `yaml:"burst" default:"40" validate:"gte=1"`
	// MaxClients caps the per-key limiter table; idle keys go first.
	MaxClients        int     `yaml:"max_clients" default:"10000" validate:"gte=1"`
	ClientIdleSeconds int     `yaml:"client_idle_seconds" default:"600" validate:"gte=1"`
}

var validate = validator.New()

// DefaultConfig returns a configuration holding only struct-tag defaults.
func DefaultConfig() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	return &c, nil
}

// LoadConfig reads a YAML configuration file, fills defaults, applies
// environment overrides and validates the result. An empty path yields the
// defaults.
func LoadConfig(path string) (*Config, error) {
	c, err := DefaultConfig()
	if err != nil {
		return nil, err
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// a missing .env is fine; secrets may come from the process environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	c.applyEnv()

	if err := validate.StructCtx(context.Background(), c); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DERIBIT_CLIENT_ID"); v != "" {
		c.Deribit.ClientID = v
	}
	if v := os.Getenv("DERIBIT_CLIENT_SECRET"); v != "" {
		c.Deribit.ClientSecret = v
	}
	if v := os.Getenv("SVI_API_KEY_HASH"); v != "" {
		c.Server.APIKeyHash = v
	}
	if v := os.Getenv("SVI_DATABASE_URL"); v != "" {
		c.Store.DatabaseURL = v
	}
}
