package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config collects every environment-driven setting the validator reads.
// LoadConfig fails fast on the handful of values that have no sane default.
type Config struct {
	Netuid           int
	SubtensorNetwork string
	SubtensorAddress string
	WalletSecretSeed string
	WalletName       string
	WalletHotkey     string
	ConfigServerURL  string
	ValidatorToken   string
	ValidatorHotkey  string

	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	DgraphAddr string

	AllocationStrategy        string // "stake" or "equal"
	MinValidatorStakeDTAO     float64
	CheckNodeActive           bool
	CheckMaxBlocks            bool
	ScoringPeriodTime         int
	CapacityToScoreMultiplier float64
	VersionKey                uint64
	MaxConcurrentTasks        int
	LocalDevelopment          bool
	ReplaceWithLocalhost      bool
	LogLevel                  string
}

// LoadConfig reads the environment into a Config.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Netuid:                    envInt("NETUID", 19),
		SubtensorNetwork:          envStr("SUBTENSOR_NETWORK", "finney"),
		SubtensorAddress:          envStr("SUBTENSOR_ADDRESS", ""),
		WalletSecretSeed:          os.Getenv("WALLET_SECRET_SEED"),
		WalletName:                envStr("BT_WALLET_NAME", "default"),
		WalletHotkey:              envStr("BT_WALLET_HOTKEY", "default"),
		ConfigServerURL:           os.Getenv("CONFIG_SERVER_URL"),
		ValidatorToken:            os.Getenv("VALIDATOR_TOKEN"),
		ValidatorHotkey:           os.Getenv("VALIDATOR_HOTKEY"),
		RedisHost:                 envStr("REDIS_HOST", "localhost"),
		RedisPort:                 envInt("REDIS_PORT", 6379),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		RedisDB:                   envInt("REDIS_DB", 0),
		DgraphAddr:                os.Getenv("DGRAPH_ADDR"),
		AllocationStrategy:        envStr("ALLOCATION_STRATEGY", "stake"),
		MinValidatorStakeDTAO:     envFloat("MIN_VALIDATOR_STAKE_DTAO", 1000),
		CheckNodeActive:           envBool("CHECK_NODE_ACTIVE"),
		CheckMaxBlocks:            envBool("CHECK_MAX_BLOCKS"),
		ScoringPeriodTime:         envInt("SCORING_PERIOD_TIME", 1800),
		CapacityToScoreMultiplier: envFloat("CAPACITY_TO_SCORE_MULTIPLIER", 1.0),
		VersionKey:                uint64(envInt("VERSION_KEY", 68200)),
		MaxConcurrentTasks:        envInt("MAX_CONCURRENT_TASKS", 1),
		LocalDevelopment:          envBool("LOCAL_DEVELOPMENT"),
		ReplaceWithLocalhost:      envBool("REPLACE_WITH_LOCALHOST"),
		LogLevel:                  envStr("LOG_LEVEL", "info"),
	}

	if cfg.ConfigServerURL == "" {
		return nil, fmt.Errorf("CONFIG_SERVER_URL is required")
	}
	if cfg.ValidatorToken == "" {
		return nil, fmt.Errorf("VALIDATOR_TOKEN is required")
	}
	if cfg.WalletSecretSeed == "" && cfg.ValidatorHotkey == "" {
		return nil, fmt.Errorf("either WALLET_SECRET_SEED or VALIDATOR_HOTKEY must be set")
	}
	if s := cfg.AllocationStrategy; s != "stake" && s != "equal" {
		return nil, fmt.Errorf("invalid ALLOCATION_STRATEGY %q: want stake or equal", s)
	}
	return cfg, nil
}

// ValidatorID is the stable identity under which state is checkpointed.
func (c *Config) ValidatorID() string {
	return fmt.Sprintf("%s_%s_%d", c.WalletName, c.WalletHotkey, c.Netuid)
}

// RedisAddr returns host:port for the Redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
