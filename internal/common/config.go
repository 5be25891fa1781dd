package common

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/expense-extractor/constants"
)

// Config holds all application configuration
type Config struct {
	Database    DatabaseConfig
	Server      ServerConfig
	Storage     StorageConfig
	OCR         OCRConfig
	LLM         LLMConfig
	Strategy    StrategyConfig
	Queue       QueueConfig
	InternalAPI InternalAPIConfig
	Inbox       InboxConfig
	LogLevel    string
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // "sqlite" | "postgres"
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr string
	GRPCAddr string
}

// StorageConfig holds artifact store configuration
type StorageConfig struct {
	ArtifactDir string
	Prefix      string
}

// OCRConfig holds OCR and rasterization configuration
type OCRConfig struct {
	Tesseract     string
	TesseractLang string
	TessdataDir   string
	Pdftoppm      string
	Pdftotext     string
	DPI           int
	MaxPages      int
	MaxImageSide  int
	HeicConverter string
}

// LLMConfig holds configuration of the OpenAI-compatible model endpoint
type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Temperature float32
	Timeout     time.Duration
	JSONMode    bool
}

// StrategyConfig holds evaluator and selection policy configuration
type StrategyConfig struct {
	OCREngines           []string
	TextModels           []string
	VisionModels         []string
	Concurrency          int
	CallTimeout          time.Duration
	AutoApproveThreshold float64
	FlagPenalty          float64
}

// QueueConfig holds job queue configuration
type QueueConfig struct {
	Kind           string // "memory" | "jetstream"
	Workers        int
	Size           int
	ProcessTimeout time.Duration
	NATSURL        string
}

// InternalAPIConfig holds the ERP file API client configuration
type InternalAPIConfig struct {
	BaseURL    string
	FilePath   string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// InboxConfig holds the drop-folder watcher configuration
type InboxConfig struct {
	Dir      string
	Debounce time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:           getEnv("DB_DRIVER", "sqlite"),
			DSN:              getEnv("DB_URL", "file:extractor.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr: getEnv("HTTP_ADDR", ":8081"),
			GRPCAddr: getEnv("GRPC_ADDR", ":8080"),
		},
		Storage: StorageConfig{
			ArtifactDir: getEnv("ARTIFACT_DIR", "./artifacts"),
			Prefix:      getEnv("ARTIFACT_PREFIX", constants.DefaultArtifactPrefix),
		},
		OCR: OCRConfig{
			Tesseract:     getEnv("TESSERACT", "tesseract"),
			TesseractLang: getEnv("TESSERACT_LANG", "tur+eng"),
			TessdataDir:   getEnv("TESSDATA_PREFIX", ""),
			Pdftoppm:      getEnv("PDFTOPPM", "pdftoppm"),
			Pdftotext:     getEnv("PDFTOTEXT", "pdftotext"),
			DPI:           getEnvAsInt("DPI", 200),
			MaxPages:      getEnvAsInt("MAX_PAGES", 0),
			MaxImageSide:  getEnvAsInt("MAX_IMAGE_SIDE", 2000),
			HeicConverter: getEnv("HEIC_CONVERTER", "magick"),
		},
		LLM: LLMConfig{
			BaseURL:     getEnv("VLLM_BASE_URL", "http://localhost:11434/v1"),
			APIKey:      getEnv("VLLM_API_KEY", ""),
			Temperature: getEnvAsFloat32("LLM_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("LLM_TIMEOUT", 120*time.Second),
			JSONMode:    getEnv("LLM_JSON_MODE", "false") == "true",
		},
		Strategy: StrategyConfig{
			OCREngines:           getEnvAsList("OCR_ENGINES", []string{"tesseract"}),
			TextModels:           getEnvAsList("TEXT_MODELS", []string{"mixtral:8x7b-instruct", "llama3.1:70b-instruct"}),
			VisionModels:         getEnvAsList("VISION_MODELS", []string{"qwen2.5vl:7b"}),
			Concurrency:          getEnvAsInt("STRATEGY_CONCURRENCY", 4),
			CallTimeout:          getEnvAsDuration("STRATEGY_CALL_TIMEOUT", 120*time.Second),
			AutoApproveThreshold: getEnvAsFloat("CONF_THRESHOLD", constants.DefaultAutoApproveThreshold),
			FlagPenalty:          getEnvAsFloat("FLAG_PENALTY", constants.DefaultFlagPenalty),
		},
		Queue: QueueConfig{
			Kind:           getEnv("QUEUE_KIND", "memory"),
			Workers:        getEnvAsInt("QUEUE_WORKERS", 1),
			Size:           getEnvAsInt("QUEUE_SIZE", 256),
			ProcessTimeout: getEnvAsDuration("PROCESS_TIMEOUT", 15*time.Minute),
			NATSURL:        getEnv("NATS_URL", ""),
		},
		InternalAPI: InternalAPIConfig{
			BaseURL:    getEnv("INTERNAL_API_BASE", ""),
			FilePath:   getEnv("INTERNAL_API_FILE_PATH", "/expenses/file"),
			Token:      getEnv("INTERNAL_API_TOKEN", ""),
			Timeout:    getEnvAsDuration("INTERNAL_API_TIMEOUT", 30*time.Second),
			MaxRetries: getEnvAsInt("INTERNAL_API_MAX_RETRIES", 3),
			Backoff:    time.Duration(getEnvAsInt("INTERNAL_API_BACKOFF_MS", 250)) * time.Millisecond,
		},
		Inbox: InboxConfig{
			Dir:      getEnv("INBOX_DIR", ""),
			Debounce: getEnvAsDuration("INBOX_DEBOUNCE", 500*time.Millisecond),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return SplitCSV(value)
}

// SplitCSV splits a comma separated list, trimming items and dropping blanks.
func SplitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be sqlite or postgres", ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if len(c.Strategy.TextModels) == 0 && len(c.Strategy.VisionModels) == 0 {
		return NewAppError("CONFIG_ERROR", "at least one of TEXT_MODELS or VISION_MODELS is required", ErrInvalidInput)
	}
	if c.Strategy.AutoApproveThreshold < 0 || c.Strategy.AutoApproveThreshold > 1 {
		return NewAppError("CONFIG_ERROR", "CONF_THRESHOLD must be within [0,1]", ErrInvalidInput)
	}
	if c.Strategy.FlagPenalty < 0 {
		return NewAppError("CONFIG_ERROR", "FLAG_PENALTY must not be negative", ErrInvalidInput)
	}
	switch c.Queue.Kind {
	case "memory":
	case "jetstream":
		if c.Queue.NATSURL == "" {
			return NewAppError("CONFIG_ERROR", "NATS_URL is required for QUEUE_KIND=jetstream", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "QUEUE_KIND must be memory or jetstream", ErrInvalidInput)
	}
	return nil
}
