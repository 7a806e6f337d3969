package config

import (
	"fmt"
	"strconv"
	"time"
)

// Process defaults
const (
	DefaultConfigDir    = "./configs"
	DefaultDBPath       = "./homebase42.db"
	DefaultAPIPort      = 8081
	DefaultScanInterval = 5 * time.Minute
)

// Env is the process configuration read from environment variables
type Env struct {
	HAURL        string
	HAToken      string
	HARESTURL    string
	ReadOnly     bool
	ConfigDir    string
	DBPath       string
	APIPort      int
	ScanInterval time.Duration
}

// LoadEnv builds the process configuration from getenv (usually os.Getenv)
func LoadEnv(getenv func(string) string) (*Env, error) {
	env := &Env{
		HAURL:        getenv("HA_URL"),
		HAToken:      getenv("HA_TOKEN"),
		HARESTURL:    getenv("HA_REST_URL"),
		ReadOnly:     getenv("READ_ONLY") == "true",
		ConfigDir:    DefaultConfigDir,
		DBPath:       DefaultDBPath,
		APIPort:      DefaultAPIPort,
		ScanInterval: DefaultScanInterval,
	}

	if env.HAURL == "" || env.HAToken == "" {
		return nil, fmt.Errorf("HA_URL and HA_TOKEN must be set")
	}

	if v := getenv("CONFIG_DIR"); v != "" {
		env.ConfigDir = v
	}
	if v := getenv("DB_PATH"); v != "" {
		env.DBPath = v
	}

	if v := getenv("API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid API_PORT %q", v)
		}
		env.APIPort = port
	}

	if v := getenv("SCAN_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SCAN_INTERVAL %q: %w", v, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("invalid SCAN_INTERVAL %q: must be positive", v)
		}
		env.ScanInterval = d
	}

	return env, nil
}
