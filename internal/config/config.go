package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mr1hm/go-relief-fitness/internal/ingestion"
	"github.com/mr1hm/go-relief-fitness/internal/pipeline"
	"github.com/mr1hm/go-relief-fitness/internal/predictor"
)

type Config struct {
	Server   ServerConfig
	GRPC     GRPCConfig
	Worker   WorkerConfig
	Inputs   InputsConfig
	Output   OutputConfig
	Model    ModelConfig
	Pipeline PipelineConfig
	DB       DatabaseConfig
	Logging  LoggingConfig
	Tracing  TracingConfig
}

type GRPCConfig struct {
	Port int
}

type ServerConfig struct {
	Host         string
	Port         int
	RateLimitRPS int
}

type WorkerConfig struct {
	Count      int
	BufferSize int
}

type InputsConfig struct {
	DamagePath         string
	PopulationPath     string
	CapabilitiesPath   string
	CapabilitiesFormat ingestion.Format
	Binarize           bool
}

type OutputConfig struct {
	Dir       string
	ModelPath string
}

type ModelConfig struct {
	Trees        int
	Seed         uint64
	TestFraction float64
	MinLeaf      int
	MaxDepth     int
}

type PipelineConfig struct {
	OnStart  bool
	Interval time.Duration // 0 disables periodic runs
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level string
}

type TracingConfig struct {
	Enabled  bool
	Endpoint string
}

func Load() (*Config, error) {
	format, err := ingestion.ParseFormat(getEnv("CAPABILITIES_FORMAT", "wide"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "localhost"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			RateLimitRPS: getEnvInt("RATE_LIMIT_RPS", 20),
		},
		GRPC: GRPCConfig{
			Port: getEnvInt("GRPC_PORT", 50051),
		},
		Worker: WorkerConfig{
			Count:      getEnvInt("WORKER_COUNT", 4),
			BufferSize: getEnvInt("WORKER_BUFFER_SIZE", 20),
		},
		Inputs: InputsConfig{
			DamagePath:         getEnv("DAMAGE_CSV", "./data/district_damage.csv"),
			PopulationPath:     getEnv("POPULATION_CSV", "./data/population_density.csv"),
			CapabilitiesPath:   getEnv("CAPABILITIES_CSV", "./data/ngo_capabilities.csv"),
			CapabilitiesFormat: format,
			Binarize:           getEnvBool("CAPABILITIES_BINARIZE", false),
		},
		Output: OutputConfig{
			Dir:       getEnv("OUTPUT_DIR", "./data/out"),
			ModelPath: getEnv("MODEL_PATH", ""),
		},
		Model: ModelConfig{
			Trees:        getEnvInt("MODEL_TREES", 300),
			Seed:         uint64(getEnvInt("MODEL_SEED", 42)),
			TestFraction: getEnvFloat("MODEL_TEST_FRACTION", 0.2),
			MinLeaf:      getEnvInt("MODEL_MIN_LEAF", 1),
			MaxDepth:     getEnvInt("MODEL_MAX_DEPTH", 0),
		},
		Pipeline: PipelineConfig{
			OnStart:  getEnvBool("PIPELINE_ON_START", false),
			Interval: getEnvDuration("PIPELINE_INTERVAL", 0),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/relief-fitness.db"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Tracing: TracingConfig{
			Enabled:  getEnvBool("TRACING_ENABLED", false),
			Endpoint: getEnv("TRACING_ENDPOINT", "localhost:4317"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.GRPC.Port < 1 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}
	if c.Server.RateLimitRPS < 1 {
		return fmt.Errorf("rate limit must be at least 1 request per second")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Worker.Count < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}
	if c.Worker.BufferSize < 0 {
		return fmt.Errorf("worker buffer size must not be negative")
	}

	if c.Model.Trees < 1 {
		return fmt.Errorf("model trees must be at least 1")
	}
	if c.Model.TestFraction <= 0 || c.Model.TestFraction >= 1 {
		return fmt.Errorf("model test fraction must be in (0,1), got %v", c.Model.TestFraction)
	}
	if c.Model.MinLeaf < 1 {
		return fmt.Errorf("model min leaf must be at least 1")
	}
	if c.Model.MaxDepth < 0 {
		return fmt.Errorf("model max depth must not be negative")
	}

	if c.Pipeline.Interval != 0 && c.Pipeline.Interval < time.Minute {
		return fmt.Errorf("pipeline interval must be at least 1 minute")
	}

	return nil
}

// PipelineOptions maps the input, output, model and worker settings onto
// pipeline options.
func (c *Config) PipelineOptions() pipeline.Options {
	train := predictor.DefaultOptions()
	train.Trees = c.Model.Trees
	train.Seed = c.Model.Seed
	train.TestFraction = c.Model.TestFraction
	train.MinLeaf = c.Model.MinLeaf
	train.MaxDepth = c.Model.MaxDepth

	return pipeline.Options{
		Sources: ingestion.Sources{
			DamagePath:       c.Inputs.DamagePath,
			PopulationPath:   c.Inputs.PopulationPath,
			CapabilitiesPath: c.Inputs.CapabilitiesPath,
			Format:           c.Inputs.CapabilitiesFormat,
			Binarize:         c.Inputs.Binarize,
		},
		OutputDir:  c.Output.Dir,
		ModelPath:  c.Output.ModelPath,
		Train:      train,
		Workers:    c.Worker.Count,
		BufferSize: c.Worker.BufferSize,
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
