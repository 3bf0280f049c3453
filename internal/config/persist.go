package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/slurmgate/slurmgate/internal/utils"
	"github.com/spf13/viper"
)

// ConfigFilename is the name of the settings file
const ConfigFilename = "config"

// ConfigType is the type of settings file (yaml, json, toml)
const ConfigType = "yaml"

// EnvPrefix prefixes every environment override (SLURMGATE_LOG_LEVEL, ...).
const EnvPrefix = "SLURMGATE"

// InitViper initializes Viper with proper search paths and defaults
// Priority (highest to lowest):
// 1. Command-line flags (handled by cobra)
// 2. Environment variables (SLURMGATE_*)
// 3. User config file (~/.config/slurmgate/config.yaml)
// 4. System config file (/etc/slurmgate/config.yaml)
// 5. Defaults
func InitViper(explicitPath string) error {
	if explicitPath != "" {
		viper.SetConfigFile(utils.ExpandHome(explicitPath))
	} else {
		viper.SetConfigName(ConfigFilename)
		viper.SetConfigType(ConfigType)

		if userConfigDir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(filepath.Join(userConfigDir, "slurmgate"))
		}
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".slurmgate"))
		}
		viper.AddConfigPath("/etc/slurmgate")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// setDefaults sets default values for all config keys
func setDefaults() {
	viper.SetDefault("clusters_config", "")
	viper.SetDefault("default_cluster", "")
	viper.SetDefault("output", "table")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.output", "stderr")

	viper.SetDefault("server.listen_addr", "127.0.0.1:8642")
	viper.SetDefault("server.sweep_interval", "5m")
}

// GetUserConfigPath returns the path to the user config file
func GetUserConfigPath() (string, error) {
	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".slurmgate", ConfigFilename+"."+ConfigType), nil
	}

	return filepath.Join(userConfigDir, "slurmgate", ConfigFilename+"."+ConfigType), nil
}

// SaveConfig saves current Viper config to user config file
func SaveConfig() (string, error) {
	configPath, err := GetUserConfigPath()
	if err != nil {
		return "", fmt.Errorf("failed to get config path: %w", err)
	}

	if err := utils.EnsureDir(filepath.Dir(configPath)); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := viper.WriteConfigAs(configPath); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	return configPath, nil
}

// LoadFromViper loads config from Viper into Global struct
func LoadFromViper() {
	if p := viper.GetString("clusters_config"); p != "" {
		Global.ClustersConfig = p
	}
	if name := viper.GetString("default_cluster"); name != "" {
		Global.DefaultCluster = name
	}
	if out := viper.GetString("output"); out != "" {
		Global.Output = out
	}

	if level := viper.GetString("log.level"); level != "" {
		Global.Log.Level = level
	}
	if format := viper.GetString("log.format"); format != "" {
		Global.Log.Format = format
	}
	if output := viper.GetString("log.output"); output != "" {
		Global.Log.Output = output
	}

	if addr := viper.GetString("server.listen_addr"); addr != "" {
		Global.Server.ListenAddr = addr
	}
	if interval := viper.GetString("server.sweep_interval"); interval != "" {
		if dur, err := utils.ParseDuration(interval); err == nil && dur > 0 {
			Global.Server.SweepInterval = dur
		}
	}
}

// Settings returns the effective settings as a nested map, for display.
func Settings() map[string]interface{} {
	return viper.AllSettings()
}

// UsedConfigFile returns the settings file Viper loaded, if any.
func UsedConfigFile() string {
	return viper.ConfigFileUsed()
}
