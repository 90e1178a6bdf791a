package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// Config represents the CLI configuration stored in ~/.zenj/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
}

// ConfigDefault holds the server address and the identity requests are sent as.
type ConfigDefault struct {
	BaseURL string `toml:"base_url"`
	UserID  string `toml:"user_id"`
}

const defaultBaseURL = "http://localhost:8083"

// configDir returns the path to ~/.zenj, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".zenj")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.user_id").
func setConfigValue(cfg *Config, key, value string) error {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.user_id)")
	}
	if section != "default" {
		return fmt.Errorf("unknown config section %q (valid: default)", section)
	}
	switch field {
	case "base_url":
		cfg.Default.BaseURL = strings.TrimRight(value, "/")
	case "user_id":
		cfg.Default.UserID = value
	default:
		return fmt.Errorf("unknown field %q in section [default]", field)
	}
	return nil
}

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:          "zenjctl",
	Short:        "zenj command-line client",
	Long:         "Command-line client for the zenj conversation service.\nManage contacts and groups, send messages and watch conversations.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON responses")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
