// Package config loads relay and CLI settings from an optional YAML file,
// a .env file and the environment, in increasing order of precedence.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sweepstack/batchrelay/mechanisms/evm"
)

// Config holds every setting the binary reads.
type Config struct {
	RPCURL          string        `yaml:"rpc_url"`
	ChainID         int64         `yaml:"chain_id"`
	RelayPrivateKey string        `yaml:"relay_private_key"`
	RelayAddr       string        `yaml:"relay_addr"`
	RelayURL        string        `yaml:"relay_url"`
	ExecutorAddress string        `yaml:"executor_address"`
	RedisAddr       string        `yaml:"redis_addr"`
	RateLimit       float64       `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
	GasBufferPct    uint64        `yaml:"gas_buffer_percent"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	DedupeTTL       time.Duration `yaml:"dedupe_ttl"`
	LogLevel        string        `yaml:"log_level"`
	LogJSON         bool          `yaml:"log_json"`
	QuoteAPIURL     string        `yaml:"quote_api_url"`
	QuoteAPIKey     string        `yaml:"quote_api_key"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		ChainID:         evm.ChainIDBase.Int64(),
		RelayAddr:       "0.0.0.0:8080",
		RelayURL:        "http://localhost:8080",
		ExecutorAddress: evm.DefaultBatchExecutorAddress.Hex(),
		RateLimit:       2,
		RateBurst:       5,
		GasBufferPct:    20,
		RequestTimeout:  30 * time.Second,
		DedupeTTL:       10 * time.Minute,
		LogLevel:        "info",
		CORSOrigins:     []string{"http://localhost:3000"},
	}
}

// Load reads path (when non-empty) over the defaults, then any .env file in
// the working directory, then the process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	//nolint:errcheck // .env is optional
	godotenv.Load()

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("RPC_URL", &c.RPCURL)
	str("RELAY_PRIVATE_KEY", &c.RelayPrivateKey)
	str("RELAY_ADDR", &c.RelayAddr)
	str("RELAY_URL", &c.RelayURL)
	str("EXECUTOR_ADDRESS", &c.ExecutorAddress)
	str("REDIS_ADDR", &c.RedisAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("QUOTE_API_URL", &c.QuoteAPIURL)
	str("QUOTE_API_KEY", &c.QuoteAPIKey)

	if v, ok := lookup("CORS_ALLOWED_ORIGINS"); ok && v != "" {
		origins := strings.Split(v, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		c.CORSOrigins = origins
	}

	if v, ok := lookup("CHAIN_ID"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CHAIN_ID: %w", err)
		}
		c.ChainID = n
	}
	if v, ok := lookup("RELAY_RATE_LIMIT"); ok && v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RELAY_RATE_LIMIT: %w", err)
		}
		c.RateLimit = n
	}
	if v, ok := lookup("RELAY_RATE_BURST"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RELAY_RATE_BURST: %w", err)
		}
		c.RateBurst = n
	}
	if v, ok := lookup("GAS_BUFFER_PERCENT"); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("GAS_BUFFER_PERCENT: %w", err)
		}
		c.GasBufferPct = n
	}
	if v, ok := lookup("RELAY_REQUEST_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RELAY_REQUEST_TIMEOUT: %w", err)
		}
		c.RequestTimeout = d
	}
	if v, ok := lookup("DEDUPE_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("DEDUPE_TTL: %w", err)
		}
		c.DedupeTTL = d
	}
	if v, ok := lookup("LOG_JSON"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOG_JSON: %w", err)
		}
		c.LogJSON = b
	}
	return nil
}

// Validate checks the settings the relay server needs.
func (c Config) Validate() error {
	var problems []string
	if c.RPCURL == "" {
		problems = append(problems, "RPC_URL is required")
	}
	if c.RelayPrivateKey == "" {
		problems = append(problems, "RELAY_PRIVATE_KEY is required")
	}
	if c.ChainID <= 0 {
		problems = append(problems, "CHAIN_ID must be positive")
	}
	if c.ExecutorAddress != "" && !common.IsHexAddress(c.ExecutorAddress) {
		problems = append(problems, "EXECUTOR_ADDRESS is not an address")
	}
	for _, origin := range c.CORSOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			problems = append(problems, fmt.Sprintf("CORS origin %q must start with http:// or https://", origin))
		}
	}
	if c.RateLimit < 0 {
		problems = append(problems, "RELAY_RATE_LIMIT must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ChainIDBig returns ChainID as a big integer.
func (c Config) ChainIDBig() *big.Int {
	return big.NewInt(c.ChainID)
}

// Executor returns the configured executor, or the zero address to allow any.
func (c Config) Executor() common.Address {
	if c.ExecutorAddress == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.ExecutorAddress)
}
