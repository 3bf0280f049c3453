package config

import (
	"time"

	"github.com/slurmgate/slurmgate/internal/logger"
)

const VERSION = "0.3.0"

// Config holds global application settings
type Config struct {
	Debug          bool
	Version        string
	ClustersConfig string // explicit cluster document path, empty to search
	DefaultCluster string // overrides the document's default_cluster
	Output         string // table, json or yaml
	Log            logger.Config
	Server         ServerConfig
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenAddr    string
	SweepInterval time.Duration
}

// Global holds the resolved settings for the running command.
var Global Config

// LoadDefaults resets Global to built-in defaults.
func LoadDefaults() {
	Global = Config{
		Debug:   false,
		Version: VERSION,
		Output:  "table",
		Log: logger.Config{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Server: ServerConfig{
			ListenAddr:    "127.0.0.1:8642",
			SweepInterval: 5 * time.Minute,
		},
	}
}
