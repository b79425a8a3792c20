package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePebble = "pebble"
	StoreMemory = "memory"

	QuoteSourceMock = "mock"
	QuoteSourceRPC  = "rpc"

	BusLocal = "local"
	BusP2P   = "p2p"
)

type API struct {
	Addr           string
	AllowedOrigins []string
}

type Storage struct {
	Backend string
	DataDir string
}

type Worker struct {
	// Concurrency caps the number of jobs executing at once. Jobs beyond the
	// cap stay in the queue.
	Concurrency int
}

type Queue struct {
	Attempts    int
	BackoffBase time.Duration
}

type Quotes struct {
	Source       string
	Timeout      time.Duration
	RPCURL       string
	RPCRateLimit int
	// MockMinDelay/MockMaxDelay bound the simulated venue latency.
	MockMinDelay time.Duration
	MockMaxDelay time.Duration
}

type Bus struct {
	Backend    string
	ListenAddr string
	Bootstrap  []string
}

type Settlement struct {
	BuildDelay   time.Duration
	ConfirmDelay time.Duration
	FailureRate  float64
}

type Config struct {
	API        API
	Storage    Storage
	Worker     Worker
	Queue      Queue
	Quotes     Quotes
	Bus        Bus
	Settlement Settlement
	LogFile    string
}

func Default() Config {
	return Config{
		API: API{
			Addr:           ":3000",
			AllowedOrigins: []string{"*"},
		},
		Storage: Storage{
			Backend: StorePebble,
			DataDir: "data",
		},
		Worker: Worker{Concurrency: 10},
		Queue: Queue{
			Attempts:    3,
			BackoffBase: time.Second,
		},
		Quotes: Quotes{
			Source:       QuoteSourceMock,
			Timeout:      5 * time.Second,
			RPCURL:       "https://api.devnet.solana.com",
			RPCRateLimit: 10,
			MockMinDelay: 2 * time.Second,
			MockMaxDelay: 3 * time.Second,
		},
		Bus: Bus{Backend: BusLocal},
		Settlement: Settlement{
			BuildDelay:   500 * time.Millisecond,
			ConfirmDelay: time.Second,
		},
		LogFile: "data/hyperflash.log",
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	cfg.API.AllowedOrigins = getList("CORS_ORIGINS", cfg.API.AllowedOrigins)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)

	cfg.Storage.Backend = getEnv("STORE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.DataDir = getEnv("DATA_DIR", cfg.Storage.DataDir)

	cfg.Quotes.Source = getEnv("QUOTE_SOURCE", cfg.Quotes.Source)
	cfg.Quotes.RPCURL = getEnv("SOLANA_RPC_URL", cfg.Quotes.RPCURL)

	cfg.Bus.Backend = getEnv("BUS_BACKEND", cfg.Bus.Backend)
	cfg.Bus.ListenAddr = getEnv("P2P_LISTEN", cfg.Bus.ListenAddr)
	cfg.Bus.Bootstrap = getList("P2P_BOOTSTRAP", cfg.Bus.Bootstrap)

	var err error
	if cfg.Worker.Concurrency, err = getInt("WORKER_CONCURRENCY", cfg.Worker.Concurrency); err != nil {
		return cfg, err
	}
	if cfg.Queue.Attempts, err = getInt("QUEUE_ATTEMPTS", cfg.Queue.Attempts); err != nil {
		return cfg, err
	}
	if cfg.Queue.BackoffBase, err = getMillis("QUEUE_BACKOFF_MS", cfg.Queue.BackoffBase); err != nil {
		return cfg, err
	}
	if cfg.Quotes.Timeout, err = getMillis("QUOTE_TIMEOUT_MS", cfg.Quotes.Timeout); err != nil {
		return cfg, err
	}
	if cfg.Quotes.RPCRateLimit, err = getInt("RPC_RATE_LIMIT", cfg.Quotes.RPCRateLimit); err != nil {
		return cfg, err
	}
	if cfg.Settlement.BuildDelay, err = getMillis("BUILD_DELAY_MS", cfg.Settlement.BuildDelay); err != nil {
		return cfg, err
	}
	if cfg.Settlement.ConfirmDelay, err = getMillis("CONFIRM_DELAY_MS", cfg.Settlement.ConfirmDelay); err != nil {
		return cfg, err
	}
	if v := os.Getenv("SETTLEMENT_FAILURE_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("SETTLEMENT_FAILURE_RATE: %w", err)
		}
		cfg.Settlement.FailureRate = rate
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be positive")
	}
	if c.Queue.Attempts <= 0 {
		return fmt.Errorf("queue attempts must be positive")
	}
	if c.Queue.BackoffBase < 0 {
		return fmt.Errorf("queue backoff must not be negative")
	}
	switch c.Storage.Backend {
	case StorePebble:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("missing data dir for pebble store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Storage.Backend)
	}
	switch c.Quotes.Source {
	case QuoteSourceMock:
		if c.Quotes.MockMaxDelay < c.Quotes.MockMinDelay {
			return fmt.Errorf("mock quote max delay below min delay")
		}
	case QuoteSourceRPC:
		if c.Quotes.RPCURL == "" {
			return fmt.Errorf("missing rpc url for rpc quote source")
		}
		if c.Quotes.RPCRateLimit <= 0 {
			return fmt.Errorf("rpc rate limit must be positive")
		}
	default:
		return fmt.Errorf("unknown quote source %q", c.Quotes.Source)
	}
	switch c.Bus.Backend {
	case BusLocal, BusP2P:
	default:
		return fmt.Errorf("unknown bus backend %q", c.Bus.Backend)
	}
	if c.Settlement.FailureRate < 0 || c.Settlement.FailureRate > 1 {
		return fmt.Errorf("settlement failure rate must be within [0, 1]")
	}
	return nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getMillis(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// getList splits a comma-separated variable, e.g. "a,b,c".
func getList(key string, defaultValue []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
