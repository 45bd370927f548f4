package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds settings for the CLI and the HTTP server.
type Config struct {
	StateDir string        `yaml:"stateDir"`
	Cache    CacheConfig   `yaml:"cache"`
	Server   ServerConfig  `yaml:"server"`
	Machine  MachineConfig `yaml:"machine"`
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Path    string        `yaml:"path"`
	TTL     time.Duration `yaml:"ttl"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"writeTimeout"` // seconds
}

// MachineConfig holds default caps used when a request or flag omits them.
type MachineConfig struct {
	CPUs   int `yaml:"cpus"`
	Memory int `yaml:"memory"`
}

// Default configuration values
const (
	DefaultStateDir           = ".pipesched"
	DefaultCachePath          = ".pipesched/cache"
	DefaultCacheTTL           = 24 * time.Hour
	DefaultServerPort         = "8080"
	DefaultServerReadTimeout  = 30
	DefaultServerWriteTimeout = 30
	DefaultMachineCPUs        = 4
	DefaultMachineMemory      = 16
)

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		StateDir: DefaultStateDir,
		Cache: CacheConfig{
			Enabled: true,
			Path:    DefaultCachePath,
			TTL:     DefaultCacheTTL,
		},
		Server: ServerConfig{
			Port:         DefaultServerPort,
			ReadTimeout:  DefaultServerReadTimeout,
			WriteTimeout: DefaultServerWriteTimeout,
		},
		Machine: MachineConfig{
			CPUs:   DefaultMachineCPUs,
			Memory: DefaultMachineMemory,
		},
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// Load reads configPath (if it exists) over the defaults, then applies
// PIPESCHED_* environment overrides. An empty path skips the file.
func Load(configPath string) (*Config, error) {
	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// defaults only
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	config.StateDir = getEnv("PIPESCHED_STATE_DIR", config.StateDir)
	config.Cache.Enabled = getEnvBool("PIPESCHED_CACHE_ENABLED", config.Cache.Enabled)
	config.Cache.Path = getEnv("PIPESCHED_CACHE_PATH", config.Cache.Path)
	config.Cache.TTL = getEnvDuration("PIPESCHED_CACHE_TTL", config.Cache.TTL)
	config.Server.Port = getEnv("PIPESCHED_SERVER_PORT", config.Server.Port)
	config.Server.ReadTimeout = getEnvInt("PIPESCHED_SERVER_READ_TIMEOUT", config.Server.ReadTimeout)
	config.Server.WriteTimeout = getEnvInt("PIPESCHED_SERVER_WRITE_TIMEOUT", config.Server.WriteTimeout)
	config.Machine.CPUs = getEnvInt("PIPESCHED_MACHINE_CPUS", config.Machine.CPUs)
	config.Machine.Memory = getEnvInt("PIPESCHED_MACHINE_MEMORY", config.Machine.Memory)

	if config.Cache.TTL <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive, got %s", config.Cache.TTL)
	}

	return config, nil
}
