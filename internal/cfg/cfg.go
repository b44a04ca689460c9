package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"churn-api/internal/common"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	ModelPath          string
	PythonPath         string
	InferenceTimeout   time.Duration
	Host               string
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	CacheSize          int
	DataPath           string
	LogLevel           string
	LogFormat          string
	CORSOrigins        []string
	RateLimitPerMinute int
}

type ConfigFile struct {
	Model struct {
		Path             string `yaml:"path"`
		PythonPath       string `yaml:"pythonPath"`
		InferenceTimeout string `yaml:"inferenceTimeout"`
	} `yaml:"model"`

	Server struct {
		Host               string   `yaml:"host"`
		Port               int      `yaml:"port"`
		ReadTimeout        string   `yaml:"readTimeout"`
		WriteTimeout       string   `yaml:"writeTimeout"`
		CORSOrigins        []string `yaml:"corsOrigins"`
		RateLimitPerMinute int      `yaml:"rateLimitPerMinute"`
	} `yaml:"server"`

	Cache struct {
		Size int `yaml:"size"`
	} `yaml:"cache"`

	System struct {
		DataPath  string `yaml:"dataPath"`
		LogLevel  string `yaml:"logLevel"`
		LogFormat string `yaml:"logFormat"`
	} `yaml:"system"`
}

// Load reads an optional .env file, then either the YAML file named by
// CONFIG_FILE (with environment overrides) or the environment alone.
func Load() (Settings, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to read .env file")
	}

	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	inferenceTimeout := parseDurationOr(config.Model.InferenceTimeout, 5*time.Second)
	readTimeout := parseDurationOr(config.Server.ReadTimeout, 10*time.Second)
	writeTimeout := parseDurationOr(config.Server.WriteTimeout, 30*time.Second)

	settings := Settings{
		ModelPath:          getEnvOrDefault(common.EnvModelPath, orString(config.Model.Path, common.DefaultModelPath)),
		PythonPath:         getEnvOrDefault(common.EnvPythonPath, config.Model.PythonPath),
		InferenceTimeout:   getDurationOrDefault(common.EnvInferenceTimeout, inferenceTimeout),
		Host:               getEnvOrDefault(common.EnvHost, orString(config.Server.Host, common.DefaultHost)),
		Port:               getIntFromEnvOrConfig(common.EnvPort, config.Server.Port, common.DefaultPort),
		ReadTimeout:        getDurationOrDefault(common.EnvReadTimeout, readTimeout),
		WriteTimeout:       getDurationOrDefault(common.EnvWriteTimeout, writeTimeout),
		CacheSize:          getIntFromEnvOrConfig(common.EnvCacheSize, config.Cache.Size, common.DefaultCacheSize),
		DataPath:           getEnvOrDefault(common.EnvDataPath, config.System.DataPath),
		LogLevel:           getEnvOrDefault(common.EnvLogLevel, orString(config.System.LogLevel, common.DefaultLogLevel)),
		LogFormat:          getEnvOrDefault(common.EnvLogFormat, orString(config.System.LogFormat, common.DefaultLogFormat)),
		CORSOrigins:        getOriginsFromEnvOrConfig(config.Server.CORSOrigins),
		RateLimitPerMinute: getIntFromEnvOrConfig(common.EnvRateLimitPerMinute, config.Server.RateLimitPerMinute, common.DefaultRateLimitPerMinute),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		ModelPath:          getEnvOrDefault(common.EnvModelPath, common.DefaultModelPath),
		PythonPath:         os.Getenv(common.EnvPythonPath), // optional, autodetected
		InferenceTimeout:   getDurationOrDefault(common.EnvInferenceTimeout, 5*time.Second),
		Host:               getEnvOrDefault(common.EnvHost, common.DefaultHost),
		Port:               getIntOrDefault(common.EnvPort, common.DefaultPort),
		ReadTimeout:        getDurationOrDefault(common.EnvReadTimeout, 10*time.Second),
		WriteTimeout:       getDurationOrDefault(common.EnvWriteTimeout, 30*time.Second),
		CacheSize:          getIntOrDefault(common.EnvCacheSize, common.DefaultCacheSize),
		DataPath:           os.Getenv(common.EnvDataPath), // optional
		LogLevel:           getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		LogFormat:          getEnvOrDefault(common.EnvLogFormat, common.DefaultLogFormat),
		CORSOrigins:        splitOrDefault(os.Getenv(common.EnvCORSOrigins), []string{"*"}),
		RateLimitPerMinute: getIntOrDefault(common.EnvRateLimitPerMinute, common.DefaultRateLimitPerMinute),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// Addr returns the listen address for the HTTP server.
func (s *Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseDurationOr(v string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return defaultValue
}

func orString(v, defaultValue string) string {
	if v != "" {
		return v
	}
	return defaultValue
}

func splitOrDefault(v string, def []string) []string {
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getOriginsFromEnvOrConfig(configOrigins []string) []string {
	if env := os.Getenv(common.EnvCORSOrigins); env != "" {
		return splitOrDefault(env, nil)
	}
	if len(configOrigins) > 0 {
		return configOrigins
	}
	return []string{"*"}
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

// validateSettings performs range validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.ModelPath == "" {
		return fmt.Errorf("model path cannot be empty")
	}

	if settings.Port < common.MinPort || settings.Port > common.MaxPort {
		return fmt.Errorf("port must be between %d and %d, got %d", common.MinPort, common.MaxPort, settings.Port)
	}

	if settings.CacheSize < common.MinCacheSize || settings.CacheSize > common.MaxCacheSize {
		return fmt.Errorf("cache size must be between %d and %d, got %d", common.MinCacheSize, common.MaxCacheSize, settings.CacheSize)
	}

	if settings.InferenceTimeout < 100*time.Millisecond || settings.InferenceTimeout > time.Minute {
		return fmt.Errorf("inference timeout must be between 100ms and 1m, got %v", settings.InferenceTimeout)
	}
	if settings.ReadTimeout < time.Second || settings.ReadTimeout > 5*time.Minute {
		return fmt.Errorf("read timeout must be between 1s and 5m, got %v", settings.ReadTimeout)
	}
	if settings.WriteTimeout < time.Second || settings.WriteTimeout > 5*time.Minute {
		return fmt.Errorf("write timeout must be between 1s and 5m, got %v", settings.WriteTimeout)
	}

	if settings.RateLimitPerMinute < 0 || settings.RateLimitPerMinute > common.MaxRateLimit {
		return fmt.Errorf("rate limit must be between 0 and %d requests per minute, got %d", common.MaxRateLimit, settings.RateLimitPerMinute)
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(settings.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", settings.LogLevel, err)
	}

	switch strings.ToLower(settings.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("log format must be console or json, got %q", settings.LogFormat)
	}

	if len(settings.CORSOrigins) == 0 {
		return fmt.Errorf("at least one CORS origin must be specified")
	}

	return nil
}
