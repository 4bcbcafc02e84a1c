package params

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Server struct {
	Addr        string
	CORSOrigins []string
	LogFile     string // empty logs to stdout only
	LogLevel    string
}

// Sim holds the defaults every new backtest starts from. Requests may override them.
type Sim struct {
	Symbols      []string
	Ticks        int
	Frequency    time.Duration
	Start        time.Time
	Seed         int64
	NumericMode  string // "exact" or "float64"
	MarketPolicy string // "queue" or "immediate"
	Kind         string // "engine", "synced" or "actor"
	PlayInterval time.Duration
}

type Storage struct {
	DataDir     string
	Enabled     bool   // pebble datasets and run archive under DataDir/pebble
	JournalFile string // empty disables the command journal
}

type Kafka struct {
	Brokers []string // empty disables the kafka publisher
	Topic   string
}

type Redis struct {
	Addr     string // empty disables the redis publisher
	Password string
	DB       int
	Prefix   string
}

type Config struct {
	Server  Server
	Sim     Sim
	Storage Storage
	Kafka   Kafka
	Redis   Redis
}

func Default() Config {
	return Config{
		Server: Server{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
			LogLevel:    "info",
		},
		Sim: Sim{
			Symbols:      []string{"ABC", "BCD"},
			Ticks:        1000,
			Frequency:    time.Second,
			Start:        time.Unix(1_600_000_000, 0).UTC(),
			Seed:         1,
			NumericMode:  "exact",
			MarketPolicy: "queue",
			Kind:         "synced",
			PlayInterval: 100 * time.Millisecond,
		},
		Storage: Storage{
			DataDir: "data",
			Enabled: true,
		},
		Kafka: Kafka{
			Topic: "tickex.ticks",
		},
		Redis: Redis{
			Prefix: "tickex",
		},
	}
}

// PebbleDir is where the store lives under DataDir
func (s Storage) PebbleDir() string { return filepath.Join(s.DataDir, "pebble") }

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Server.Addr = getEnv("API_ADDR", cfg.Server.Addr)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.Server.CORSOrigins = splitList(origins)
	}
	cfg.Server.LogFile = getEnv("LOG_FILE", cfg.Server.LogFile)
	cfg.Server.LogLevel = getEnv("LOG_LEVEL", cfg.Server.LogLevel)

	if symbols := os.Getenv("SIM_SYMBOLS"); symbols != "" {
		cfg.Sim.Symbols = splitList(symbols)
	}
	if ticks := os.Getenv("SIM_TICKS"); ticks != "" {
		if n, err := strconv.Atoi(ticks); err == nil && n > 0 {
			cfg.Sim.Ticks = n
		}
	}
	if freq := os.Getenv("SIM_FREQUENCY_SEC"); freq != "" {
		if sec, err := strconv.Atoi(freq); err == nil && sec > 0 {
			cfg.Sim.Frequency = time.Duration(sec) * time.Second
		}
	}
	if start := os.Getenv("SIM_START_UNIX"); start != "" {
		if sec, err := strconv.ParseInt(start, 10, 64); err == nil {
			cfg.Sim.Start = time.Unix(sec, 0).UTC()
		}
	}
	if seed := os.Getenv("SIM_SEED"); seed != "" {
		if n, err := strconv.ParseInt(seed, 10, 64); err == nil {
			cfg.Sim.Seed = n
		}
	}
	if interval := os.Getenv("SIM_PLAY_INTERVAL_MS"); interval != "" {
		if ms, err := strconv.Atoi(interval); err == nil && ms > 0 {
			cfg.Sim.PlayInterval = time.Duration(ms) * time.Millisecond
		}
	}
	cfg.Sim.NumericMode = getEnv("SIM_NUMERIC_MODE", cfg.Sim.NumericMode)
	cfg.Sim.MarketPolicy = getEnv("SIM_MARKET_POLICY", cfg.Sim.MarketPolicy)
	cfg.Sim.Kind = getEnv("EXCHANGE_KIND", cfg.Sim.Kind)

	cfg.Storage.DataDir = getEnv("DATA_DIR", cfg.Storage.DataDir)
	if enabled := os.Getenv("STORE_ENABLED"); enabled != "" {
		cfg.Storage.Enabled = enabled == "true"
	}
	cfg.Storage.JournalFile = getEnv("JOURNAL_FILE", cfg.Storage.JournalFile)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	if db := os.Getenv("REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			cfg.Redis.DB = n
		}
	}
	cfg.Redis.Prefix = getEnv("REDIS_PREFIX", cfg.Redis.Prefix)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList splits a comma-separated list, dropping blanks
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
