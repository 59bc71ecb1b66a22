package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Wallet
	WalletRPCURL string
	ChainID      int64
	AppOrigin    string

	// Indexer
	IndexerBaseURL string
	IndexerAPIKey  string
	GraphQLURL     string
	FeedPageSize   int

	// Sub-account
	FundingAmountETH string
	BalancePollEvery time.Duration

	// Spend permission
	AllowanceETH         string
	PermissionPeriodDays int

	// HTTP API
	HTTPPort int

	// Database
	DBPath string

	// Telegram notifications (optional)
	BotToken   string
	NotifyChat int64
}

func Load() *Config {
	return &Config{
		// Wallet
		WalletRPCURL: getEnv("WALLET_RPC_URL", ""),
		ChainID:      int64(getEnvInt("CHAIN_ID", 8453)),
		AppOrigin:    getEnv("APP_ORIGIN", "https://instazora.app"),

		// Indexer
		IndexerBaseURL: strings.TrimSuffix(getEnv("INDEXER_BASE_URL", "https://api.zora.co/v2"), "/"),
		IndexerAPIKey:  getEnv("INDEXER_API_KEY", ""),
		GraphQLURL:     getEnv("GRAPHQL_URL", "https://api.zora.co/graphql"),
		FeedPageSize:   getEnvInt("FEED_PAGE_SIZE", 20),

		// Sub-account
		FundingAmountETH: getEnv("FUNDING_AMOUNT_ETH", "0.01"),
		BalancePollEvery: getEnvDuration("BALANCE_POLL_EVERY", 15*time.Second),

		// Spend permission
		AllowanceETH:         getEnv("ALLOWANCE_ETH", "0.1"),
		PermissionPeriodDays: getEnvInt("PERMISSION_PERIOD_DAYS", 30),

		// HTTP API
		HTTPPort: getEnvInt("HTTP_PORT", 8080),

		// Database
		DBPath: getEnv("DB_PATH", "./creatorcoins.db"),

		// Telegram
		BotToken:   getEnv("BOT_TOKEN", ""),
		NotifyChat: getEnvInt64("NOTIFY_CHAT_ID", 0),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
