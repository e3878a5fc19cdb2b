package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Store
	StoreDriver string
	DatabaseURL string
	SQLitePath  string

	// Redis (optional; enables the shared task queue and event fan-out)
	RedisURL string

	// JWT
	JWTSecret string

	// Providers
	TranscriptionProvider     string
	GenerationProvider        string
	ProviderRequestsPerMinute int
	OpenAIAPIKey              string
	OpenAIModel               string
	WhisperModel              string
	GeminiAPIKey              string
	GeminiModel               string
	CaptionLanguages          []string

	// Storage
	StorageType string
	StoragePath string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3PathStyle bool

	// Pipeline
	TranscriptionWindowSeconds  float64
	TranscriptionOverlapSeconds float64
	GenerationTokenBudget       int
	TaskMaxAttempts             int
	TaskAttemptTimeout          time.Duration
	TaskBaseBackoff             time.Duration
	ChunkLease                  time.Duration
	PollInterval                time.Duration
	WorkerCount                 int

	// Logging
	LogDir   string
	LogLevel string

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		Env:         getEnvOrDefault("ENV", "development"),
		StoreDriver: strings.ToLower(getEnvOrDefault("STORE_DRIVER", "postgres")),
		DatabaseURL: getEnvOrDefault("DATABASE_URL", ""),
		SQLitePath:  getEnvOrDefault("SQLITE_PATH", "./vidread.db"),
		RedisURL:    getEnvOrDefault("REDIS_URL", ""),
		JWTSecret:   mustGetEnv("JWT_SECRET"),

		TranscriptionProvider:     strings.ToLower(getEnvOrDefault("TRANSCRIPTION_PROVIDER", "whisper")),
		GenerationProvider:        strings.ToLower(getEnvOrDefault("GENERATION_PROVIDER", "openai")),
		ProviderRequestsPerMinute: getEnvAsIntOrDefault("PROVIDER_REQUESTS_PER_MINUTE", 60),
		OpenAIAPIKey:              getEnvOrDefault("OPENAI_API_KEY", ""),
		OpenAIModel:               getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		WhisperModel:              getEnvOrDefault("WHISPER_MODEL", "whisper-1"),
		GeminiAPIKey:              getEnvOrDefault("GEMINI_API_KEY", ""),
		GeminiModel:               getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		CaptionLanguages:          getEnvAsListOrDefault("CAPTION_LANGUAGES", []string{"en"}),

		StorageType: strings.ToLower(getEnvOrDefault("STORAGE_TYPE", "local")),
		StoragePath: getEnvOrDefault("STORAGE_PATH", "./uploads"),
		S3Bucket:    getEnvOrDefault("S3_BUCKET", ""),
		S3Region:    getEnvOrDefault("S3_REGION", "us-east-1"),
		S3Endpoint:  getEnvOrDefault("S3_ENDPOINT", ""),
		S3AccessKey: getEnvOrDefault("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnvOrDefault("S3_SECRET_KEY", ""),
		S3PathStyle: getEnvAsBoolOrDefault("S3_PATH_STYLE", false),

		TranscriptionWindowSeconds:  getEnvAsFloatOrDefault("TRANSCRIPTION_WINDOW_SECONDS", 600),
		TranscriptionOverlapSeconds: getEnvAsFloatOrDefault("TRANSCRIPTION_OVERLAP_SECONDS", 5),
		GenerationTokenBudget:       getEnvAsIntOrDefault("GENERATION_TOKEN_BUDGET", 3000),
		TaskMaxAttempts:             getEnvAsIntOrDefault("TASK_MAX_ATTEMPTS", 3),
		TaskAttemptTimeout:          getEnvAsDurationOrDefault("TASK_ATTEMPT_TIMEOUT", 5*time.Minute),
		TaskBaseBackoff:             getEnvAsDurationOrDefault("TASK_BASE_BACKOFF", 2*time.Second),
		ChunkLease:                  getEnvAsDurationOrDefault("CHUNK_LEASE", 15*time.Minute),
		PollInterval:                getEnvAsDurationOrDefault("POLL_INTERVAL", 30*time.Second),
		WorkerCount:                 getEnvAsIntOrDefault("WORKER_COUNT", 4),

		LogDir:   getEnvOrDefault("LOG_DIR", ""),
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),

		FrontendURL: getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

// Validate checks the combinations Load cannot check key by key.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.StorageType {
	case "local":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_TYPE=s3")
		}
	default:
		return fmt.Errorf("unknown STORAGE_TYPE %q", c.StorageType)
	}

	switch c.TranscriptionProvider {
	case "whisper":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for whisper transcription")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for gemini transcription")
		}
	case "captions":
	default:
		return fmt.Errorf("unknown TRANSCRIPTION_PROVIDER %q", c.TranscriptionProvider)
	}

	switch c.GenerationProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for openai generation")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for gemini generation")
		}
	default:
		return fmt.Errorf("unknown GENERATION_PROVIDER %q", c.GenerationProvider)
	}

	if c.TranscriptionOverlapSeconds < 0 || c.TranscriptionOverlapSeconds >= c.TranscriptionWindowSeconds {
		return fmt.Errorf("TRANSCRIPTION_OVERLAP_SECONDS must be in [0, TRANSCRIPTION_WINDOW_SECONDS)")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsFloatOrDefault(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

// getEnvAsDurationOrDefault accepts Go durations ("90s") or plain seconds.
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}

func getEnvAsListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
