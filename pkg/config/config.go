package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Stellar    StellarConfig    `mapstructure:"stellar"`
	Ethereum   EVMConfig        `mapstructure:"ethereum"`
	Luniverse  EVMConfig        `mapstructure:"luniverse"`
	Filecoin   FilecoinConfig   `mapstructure:"filecoin"`
	Signer     SignerConfig     `mapstructure:"signer"`
	Anchor     AnchorConfig     `mapstructure:"anchor"`
	Task       TaskConfig       `mapstructure:"task"`
	Tokens     []TokenConfig    `mapstructure:"tokens"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Shutdown   ShutdownConfig   `mapstructure:"shutdown"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// StellarConfig contains the primary ledger settings
type StellarConfig struct {
	HorizonURLs       []string      `mapstructure:"horizon_urls"`
	NetworkPassphrase string        `mapstructure:"network_passphrase"`
	PollingInterval   time.Duration `mapstructure:"polling_interval"`
	PageLimit         int           `mapstructure:"page_limit"`
	BaseFee           int64         `mapstructure:"base_fee"`
	TxTimeout         time.Duration `mapstructure:"tx_timeout"`

	ChannelAccount      string `mapstructure:"channel_account"`
	IssuerAccount       string `mapstructure:"issuer_account"`
	FeeHolderAccount    string `mapstructure:"fee_holder_account"`
	FeeCollectorAccount string `mapstructure:"fee_collector_account"`
	DeanchorFeeAccount  string `mapstructure:"deanchor_fee_account"`

	// PivotAssetCode is the quote asset used for fee pricing.
	PivotAssetCode string `mapstructure:"pivot_asset_code"`
}

// EVMConfig contains settings for one EVM-compatible chain
// (Ethereum mainnet or Luniverse)
type EVMConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	RPCURL             string        `mapstructure:"rpc_url"`
	ChainID            int64         `mapstructure:"chain_id"`
	ConfirmationBlocks int64         `mapstructure:"confirmation_blocks"`
	GasLimit           uint64        `mapstructure:"gas_limit"`
	MaxGasPrice        string        `mapstructure:"max_gas_price"`
	PollingInterval    time.Duration `mapstructure:"polling_interval"`
	StartBlock         int64         `mapstructure:"start_block"`
	BlockBatchSize     int64         `mapstructure:"block_batch_size"`
	HolderAddress      string        `mapstructure:"holder_address"`
}

// FilecoinConfig contains Lotus node settings
type FilecoinConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	RPCURL             string        `mapstructure:"rpc_url"`
	AuthToken          string        `mapstructure:"auth_token"`
	ConfirmationBlocks int64         `mapstructure:"confirmation_blocks"`
	PollingInterval    time.Duration `mapstructure:"polling_interval"`
	StartEpoch         int64         `mapstructure:"start_epoch"`
	HolderAddress      string        `mapstructure:"holder_address"`
}

// SignerConfig contains the remote signing service settings
type SignerConfig struct {
	URL            string        `mapstructure:"url"`
	AppName        string        `mapstructure:"app_name"`
	AppKey         string        `mapstructure:"app_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AnchorConfig contains the external anchor service settings
type AnchorConfig struct {
	URL            string        `mapstructure:"url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// TaskConfig contains task id generation and worker retry settings
type TaskConfig struct {
	// IDAlphabet overrides the base-62 symbol table used by task ids.
	// Leave empty for the default.
	IDAlphabet string `mapstructure:"id_alphabet"`

	RefundMaxRetries    int           `mapstructure:"refund_max_retries"`
	RefundRetryInterval time.Duration `mapstructure:"refund_retry_interval"`
	TxCatchMaxRetries   int           `mapstructure:"tx_catch_max_retries"`
	WorkerTickInterval  time.Duration `mapstructure:"worker_tick_interval"`

	// FeeRateBuy/FeeRateSell are decimal strings, e.g. "0.001".
	FeeRateBuy  string `mapstructure:"fee_rate_buy"`
	FeeRateSell string `mapstructure:"fee_rate_sell"`
}

// TokenConfig describes one bridge-managed asset: where it lives, who
// issues it on the primary ledger, and the bridge-controlled accounts.
type TokenConfig struct {
	AssetCode       string `mapstructure:"asset_code"`
	Platform        string `mapstructure:"platform"`
	IssuerAddress   string `mapstructure:"issuer_address"`
	BaseAddress     string `mapstructure:"base_address"`
	HolderAddress   string `mapstructure:"holder_address"`
	ContractAddress string `mapstructure:"contract_address"`
	Decimals        int32  `mapstructure:"decimals"`
}

// AuthConfig contains JWT settings for the API surface
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTIssuer string        `mapstructure:"jwt_issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// ShutdownConfig contains graceful shutdown settings
type ShutdownConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.database", "dex_bridge")

	// Stellar defaults
	viper.SetDefault("stellar.polling_interval", "4s")
	viper.SetDefault("stellar.page_limit", 100)
	viper.SetDefault("stellar.base_fee", 100)
	viper.SetDefault("stellar.tx_timeout", "30s")
	viper.SetDefault("stellar.pivot_asset_code", "TALK")

	// EVM chain defaults
	viper.SetDefault("ethereum.enabled", false)
	viper.SetDefault("ethereum.confirmation_blocks", 12)
	viper.SetDefault("ethereum.gas_limit", 300000)
	viper.SetDefault("ethereum.polling_interval", "15s")
	viper.SetDefault("ethereum.block_batch_size", 100)
	viper.SetDefault("luniverse.enabled", false)
	viper.SetDefault("luniverse.confirmation_blocks", 3)
	viper.SetDefault("luniverse.gas_limit", 300000)
	viper.SetDefault("luniverse.polling_interval", "5s")
	viper.SetDefault("luniverse.block_batch_size", 200)

	// Filecoin defaults
	viper.SetDefault("filecoin.enabled", false)
	viper.SetDefault("filecoin.confirmation_blocks", 5)
	viper.SetDefault("filecoin.polling_interval", "30s")

	// Signer defaults
	viper.SetDefault("signer.request_timeout", "10s")

	// Anchor defaults
	viper.SetDefault("anchor.request_timeout", "30s")

	// Task defaults
	viper.SetDefault("task.refund_max_retries", 5)
	viper.SetDefault("task.refund_retry_interval", "1m")
	viper.SetDefault("task.tx_catch_max_retries", 10)
	viper.SetDefault("task.worker_tick_interval", "15s")
	viper.SetDefault("task.fee_rate_buy", "0.001")
	viper.SetDefault("task.fee_rate_sell", "0.001")

	// Auth defaults
	viper.SetDefault("auth.jwt_issuer", "dex-middleware")
	viper.SetDefault("auth.token_ttl", "24h")

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.metrics_port", 9090)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "stdout")

	// Shutdown defaults
	viper.SetDefault("shutdown.timeout", "30s")
}

func validate(config *Config) error {
	if config.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if len(config.Stellar.HorizonURLs) == 0 {
		return fmt.Errorf("stellar.horizon_urls is required")
	}
	if config.Stellar.NetworkPassphrase == "" {
		return fmt.Errorf("stellar.network_passphrase is required")
	}
	if config.Stellar.ChannelAccount == "" {
		return fmt.Errorf("stellar.channel_account is required")
	}
	if config.Signer.URL == "" {
		return fmt.Errorf("signer.url is required")
	}
	if config.Ethereum.Enabled && config.Ethereum.RPCURL == "" {
		return fmt.Errorf("ethereum.rpc_url is required when ethereum is enabled")
	}
	if config.Luniverse.Enabled && config.Luniverse.RPCURL == "" {
		return fmt.Errorf("luniverse.rpc_url is required when luniverse is enabled")
	}
	if config.Filecoin.Enabled && config.Filecoin.RPCURL == "" {
		return fmt.Errorf("filecoin.rpc_url is required when filecoin is enabled")
	}
	return nil
}

// GetConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
