// Package config loads the optional JSON analysis settings shared by the commands.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/BIwashi/canseries/pkg/calculus"
	"github.com/BIwashi/canseries/pkg/can"
	"github.com/BIwashi/canseries/pkg/dbc"
	"github.com/BIwashi/canseries/pkg/resample"
	"github.com/BIwashi/canseries/pkg/session"
)

// Defaults applied by the getters when a field is absent.
const (
	DefaultRateHz         = 10.0
	DefaultChunkThreshold = 1.0
)

const maxFileSize = 1 << 20

// Config holds analysis settings. Every field is optional.
type Config struct {
	RateHz             *float64 `json:"rate_hz,omitempty"`
	Interpolation      *string  `json:"interpolation,omitempty"`
	ChunkThreshold     *float64 `json:"chunk_threshold,omitempty"`
	QueueSize          *int     `json:"queue_size,omitempty"`
	KeepOpaque         *bool    `json:"keep_opaque,omitempty"`
	Buses              []uint8  `json:"buses,omitempty"`
	DerivativeStrategy *string  `json:"derivative_strategy,omitempty"`
	// Topics maps names like "speed" or "yaw_rate" to <message>.<signal> paths so
	// commands can refer to the same quantity on differently described vehicles.
	Topics map[string]string `json:"topics,omitempty"`
}

// Load reads and validates a JSON config. Fields left out of the file fall back
// to the getter defaults.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, errors.Newf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "stat config file")
	}
	if info.Size() > maxFileSize {
		return nil, errors.Newf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config JSON")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// Validate checks the fields that are set.
func (c *Config) Validate() error {
	if c.RateHz != nil && *c.RateHz <= 0 {
		return errors.Newf("rate_hz must be positive, got %g", *c.RateHz)
	}
	if c.Interpolation != nil {
		if _, err := resample.ParseKind(*c.Interpolation); err != nil {
			return errors.Wrap(err, "interpolation")
		}
	}
	if c.ChunkThreshold != nil && *c.ChunkThreshold <= 0 {
		return errors.Newf("chunk_threshold must be positive, got %g", *c.ChunkThreshold)
	}
	if c.QueueSize != nil && *c.QueueSize < 1 {
		return errors.Newf("queue_size must be at least 1, got %d", *c.QueueSize)
	}
	if c.DerivativeStrategy != nil {
		if _, err := calculus.ParseStrategy(*c.DerivativeStrategy); err != nil {
			return errors.Wrap(err, "derivative_strategy")
		}
	}
	for name, path := range c.Topics {
		if name == "" || strings.Contains(name, ".") {
			return errors.Newf("topic name %q must be non-empty and contain no dot", name)
		}
		if _, _, err := dbc.ParsePath(path); err != nil {
			return errors.Wrapf(err, "topic %s", name)
		}
	}
	return nil
}

// GetRateHz returns the resampling rate or the default.
func (c *Config) GetRateHz() float64 {
	if c.RateHz == nil {
		return DefaultRateHz
	}
	return *c.RateHz
}

// GetInterpolation returns the interpolation kind or cubic.
func (c *Config) GetInterpolation() resample.Kind {
	if c.Interpolation == nil {
		return resample.Cubic
	}
	k, err := resample.ParseKind(*c.Interpolation)
	if err != nil {
		return resample.Cubic
	}
	return k
}

// GetChunkThreshold returns the gap that splits a series into chunks, in seconds.
func (c *Config) GetChunkThreshold() float64 {
	if c.ChunkThreshold == nil {
		return DefaultChunkThreshold
	}
	return *c.ChunkThreshold
}

// GetDerivativeStrategy returns the differentiation strategy or Spline.
func (c *Config) GetDerivativeStrategy() calculus.Strategy {
	if c.DerivativeStrategy == nil {
		return calculus.Spline
	}
	s, err := calculus.ParseStrategy(*c.DerivativeStrategy)
	if err != nil {
		return calculus.Spline
	}
	return s
}

// SessionOptions maps the ingestion settings onto session options.
func (c *Config) SessionOptions() session.Options {
	opts := session.Options{}
	if c.QueueSize != nil {
		opts.QueueSize = *c.QueueSize
	}
	if c.KeepOpaque != nil {
		opts.KeepOpaque = *c.KeepOpaque
	}
	if len(c.Buses) > 0 {
		opts.Filter = can.ByBus(c.Buses...)
	}
	if len(c.Topics) > 0 {
		opts.Topics = make(map[string]string, len(c.Topics))
		for name, path := range c.Topics {
			opts.Topics[name] = path
		}
	}
	return opts
}
