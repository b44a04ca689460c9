package common

// Service identity reported by the root endpoint
const (
	ServiceName    = "Bank Churn Prediction API"
	ServiceVersion = "1.0.0"
	DocsPath       = "/docs"
)

// Environment variable keys
const (
	EnvConfigFile         = "CONFIG_FILE"
	EnvModelPath          = "MODEL_PATH"
	EnvHost               = "HOST"
	EnvPort               = "PORT"
	EnvCacheSize          = "CACHE_SIZE"
	EnvLogLevel           = "LOG_LEVEL"
	EnvLogFormat          = "LOG_FORMAT"
	EnvDataPath           = "DATA_PATH"
	EnvPythonPath         = "PYTHON_PATH"
	EnvInferenceTimeout   = "INFERENCE_TIMEOUT"
	EnvCORSOrigins        = "CORS_ORIGINS"
	EnvRateLimitPerMinute = "RATE_LIMIT_PER_MINUTE"
	EnvReadTimeout        = "READ_TIMEOUT"
	EnvWriteTimeout       = "WRITE_TIMEOUT"
)

// Configuration defaults
const (
	DefaultModelPath          = "model/churn_model.json"
	DefaultHost               = "0.0.0.0"
	DefaultPort               = 8000
	DefaultCacheSize          = 1000
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "console"
	DefaultRateLimitPerMinute = 0
)

// Validation constants
const (
	MinPort         = 1
	MaxPort         = 65535
	MinCacheSize    = 1
	MaxCacheSize    = 1_000_000
	MaxRateLimit    = 100_000
	DefaultHistory  = 50
	MaxHistoryLimit = 500
)

// Decision thresholds on the churn probability
const (
	ChurnThreshold      = 0.5
	MediumRiskThreshold = 0.3
	HighRiskThreshold   = 0.7
)
