package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store backends
const (
	BackendSQL    = "sql"
	BackendDynamo = "dynamodb"
)

type Config struct {
	Env   string `mapstructure:"env"`
	Port  string `mapstructure:"port"`
	Debug bool   `mapstructure:"debug"`

	Steam     SteamConfig     `mapstructure:"steam"`
	Products  ProductsConfig  `mapstructure:"products"`
	Order     OrderConfig     `mapstructure:"order"`
	Report    ReportConfig    `mapstructure:"report"`
	Agreement AgreementConfig `mapstructure:"agreement"`
	DB        DBConfig        `mapstructure:"db"`
	Store     StoreConfig     `mapstructure:"store"`
	DynamoDB  DynamoDBConfig  `mapstructure:"dynamodb"`
	AWS       AWSConfig       `mapstructure:"aws"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	API       APIConfig       `mapstructure:"api"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

type SteamConfig struct {
	WebKey      string        `mapstructure:"webkey"`
	AppID       string        `mapstructure:"app_id"`
	Sandbox     bool          `mapstructure:"sandbox"`
	Mock        bool          `mapstructure:"mock"` // in-process platform, no network
	Currency    string        `mapstructure:"currency"`
	ItemLocale  string        `mapstructure:"item_locale"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

type ProductsConfig struct {
	File string `mapstructure:"file"`
}

type OrderConfig struct {
	Shard int64 `mapstructure:"shard"`
}

type ReportConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	SafetyMargin time.Duration `mapstructure:"safety_margin"`
	MaxResults   int           `mapstructure:"max_results"`
}

type AgreementConfig struct {
	StatusPolicy string `mapstructure:"status_policy"`
}

type DBConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

type DynamoDBConfig struct {
	Table    string `mapstructure:"table"`
	Endpoint string `mapstructure:"endpoint"`
}

type AWSConfig struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type APIConfig struct {
	Key    string `mapstructure:"key"`
	Secret string `mapstructure:"secret"`
}

// RateLimitConfig is requests per minute; 0 disables the limit
type RateLimitConfig struct {
	Auth     float64 `mapstructure:"auth"`
	Purchase float64 `mapstructure:"purchase"`
	Default  float64 `mapstructure:"default"`
}

type CORSConfig struct {
	Origins []string `mapstructure:"origins"`
}

var defaults = map[string]interface{}{
	"env":   "development",
	"port":  "8080",
	"debug": false,

	"steam.webkey":       "",
	"steam.app_id":       "480",
	"steam.sandbox":      false,
	"steam.mock":         false,
	"steam.currency":     "USD",
	"steam.item_locale":  "en",
	"steam.http_timeout": "10s",

	"products.file": "products.json",
	"order.shard":   420,

	"report.interval":      "5m",
	"report.safety_margin": "5s",
	"report.max_results":   10000,

	"agreement.status_policy": "",

	"db.driver":     "sqlite",
	"db.dsn":        "billing.db",
	"store.backend": BackendSQL,

	"dynamodb.table":    "transactions",
	"dynamodb.endpoint": "",

	"aws.region":            "us-east-1",
	"aws.access_key_id":     "",
	"aws.secret_access_key": "",

	"jwt.secret": "",
	"jwt.ttl":    "24h",

	"api.key":    "",
	"api.secret": "",

	"rate_limit.auth":     10,
	"rate_limit.purchase": 100,
	"rate_limit.default":  0,

	"cors.origins": []string{},
}

// Load reads .env files (when present), an optional YAML file named by
// CONFIG_FILE and the environment, in increasing precedence. Keys map to
// environment variables by upper-casing and replacing dots with
// underscores, e.g. steam.app_id is STEAM_APP_ID.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Production reports whether the service runs in production
func (c *Config) Production() bool {
	return c.Env == "production"
}

// Validate rejects configurations the service cannot start with
func (c *Config) Validate() error {
	if !c.Steam.Mock && c.Steam.WebKey == "" {
		return errors.New("STEAM_WEBKEY is required unless STEAM_MOCK is set")
	}
	if c.Steam.AppID == "" {
		return errors.New("STEAM_APP_ID is required")
	}
	if c.Steam.Currency == "" {
		return errors.New("STEAM_CURRENCY is required")
	}
	if c.Order.Shard < 0 {
		return fmt.Errorf("ORDER_SHARD must not be negative, got %d", c.Order.Shard)
	}
	if c.Report.Interval <= 0 {
		return errors.New("REPORT_INTERVAL must be positive")
	}
	// ticks must overlap or jitter leaves gaps no later window covers
	if c.Report.SafetyMargin <= 0 {
		return errors.New("REPORT_SAFETY_MARGIN must be positive")
	}
	if c.Production() && c.JWT.Secret == "" {
		return errors.New("JWT_SECRET is required in production")
	}
	switch c.Store.Backend {
	case BackendSQL, BackendDynamo:
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.Store.Backend)
	}
	return nil
}
