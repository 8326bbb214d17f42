package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// GlobalConfig holds client defaults stored in config.json
type GlobalConfig struct {
	ServerURL string `json:"server_url,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

var (
	getConfigDirFunc  = defaultGetConfigDir
	getConfigPathFunc = defaultGetConfigPath
)

func defaultGetConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configDir, "lexrag"), nil
}

func defaultGetConfigPath() (string, error) {
	configDir, err := getConfigDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.json"), nil
}

// GetConfigDir returns the platform-specific configuration directory
func GetConfigDir() (string, error) {
	return getConfigDirFunc()
}

// GetConfigPath returns the full path to the config.json file
func GetConfigPath() (string, error) {
	return getConfigPathFunc()
}

// LoadGlobalConfig returns the stored defaults, or nil when none were saved.
func LoadGlobalConfig() (*GlobalConfig, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg GlobalConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveGlobalConfig replaces config.json atomically. The file is private to
// the user.
func SaveGlobalConfig(cfg *GlobalConfig) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}

	dir, err := GetConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	path, err := GetConfigPath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.json")
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// defaultUserID returns the configured user id, or "cli" when none is set.
func defaultUserID() string {
	config, err := LoadGlobalConfig()
	if err == nil && config != nil && config.UserID != "" {
		return config.UserID
	}
	return "cli"
}

// ConfigCmd creates the config command.
func ConfigCmd() *cobra.Command {
	var serverURL, userID string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or update client defaults",
		Long:  "Without flags, prints the stored defaults. With --set-server or --set-user, updates them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cmd.OutOrStdout(), serverURL, userID)
		},
	}

	cmd.Flags().StringVar(&serverURL, "set-server", "", "Default server URL")
	cmd.Flags().StringVar(&userID, "set-user", "", "Default user id")

	return cmd
}

func runConfig(out io.Writer, serverURL, userID string) error {
	config, err := LoadGlobalConfig()
	if err != nil {
		return err
	}
	if config == nil {
		config = &GlobalConfig{}
	}

	if serverURL != "" || userID != "" {
		if serverURL != "" {
			config.ServerURL = serverURL
		}
		if userID != "" {
			config.UserID = userID
		}
		if err := SaveGlobalConfig(config); err != nil {
			return err
		}
	}

	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "config: %s\n", path)
	fmt.Fprintf(out, "server: %s\n", valueOr(config.ServerURL, defaultServerURL+" (default)"))
	fmt.Fprintf(out, "user:   %s\n", valueOr(config.UserID, "cli (default)"))
	return nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
