package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/notifyhub/server/logger"
)

// Config holds settings for both the serve and listen modes.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	DevMode  bool   `env:"DEV_MODE"`
	DataDir  string `env:"DATA_DIR"`
	WatchDir string `env:"WATCH_DIR"`
	ShowQR   bool   `env:"SHOW_QR" envDefault:"true"`

	// Endpoint is the hub URL dialed in listen mode.
	Endpoint string `env:"ENDPOINT" envDefault:"ws://localhost:8080/notifications"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	LogFile   string `env:"LOG_FILE"`
}

// Load reads an optional .env file from the working directory, then parses
// the environment. Variables already set take precedence over .env.
func Load() (Config, error) {
	// The .env file is optional.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func (c Config) Logger() logger.Config {
	return logger.Config{
		DataDir: c.DataDir,
		DevMode: c.DevMode,
		Level:   c.LogLevel,
		Format:  c.LogFormat,
		File:    c.LogFile,
	}
}
