package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongodb"
)

type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	Storage   StorageConfig   `yaml:"storage"`
	HTTP      HTTPConfig      `yaml:"http"`
	Grpc      GRPCConfig      `yaml:"grpc"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Transform TransformConfig `yaml:"transform"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
}

type StorageConfig struct {
	Driver      string      `yaml:"driver" env:"STORAGE_DRIVER" env-default:"sqlite"`
	SQLitePath  string      `yaml:"sqlite_path" env:"STORAGE_SQLITE_PATH" env-default:"./storage/quill.db"`
	PostgresDSN string      `yaml:"postgres_dsn" env:"STORAGE_POSTGRES_DSN"`
	Mongo       MongoConfig `yaml:"mongo"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" env:"MONGO_URI"`
	Database string `yaml:"database" env:"MONGO_DATABASE" env-default:"quill"`
}

type HTTPConfig struct {
	Address      string        `yaml:"address" env:"HTTP_ADDRESS" env-default:"localhost:8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env-default:"5s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env-default:"10s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

type GRPCConfig struct {
	Port    int           `yaml:"port" env:"GRPC_PORT" env-default:"44044"`
	Timeout time.Duration `yaml:"timeout" env-default:"5s"`
	// HealthInterval is how often dependencies are pinged for the gRPC
	// health status.
	HealthInterval time.Duration `yaml:"health_interval" env-default:"10s"`
}

type AuthConfig struct {
	AccessSecret  string        `yaml:"access_secret" env:"AUTH_ACCESS_SECRET" env-required:"true"`
	RefreshSecret string        `yaml:"refresh_secret" env:"AUTH_REFRESH_SECRET" env-required:"true"`
	AccessTTL     time.Duration `yaml:"access_ttl" env-default:"30m"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl" env-default:"168h"`
	BcryptCost    int           `yaml:"bcrypt_cost" env:"AUTH_BCRYPT_COST" env-default:"10"`
}

type RateLimitConfig struct {
	Window    time.Duration `yaml:"window" env-default:"1m"`
	FreeLimit int           `yaml:"free_limit" env-default:"10"`
	ProLimit  int           `yaml:"pro_limit" env-default:"60"`
	// RedisAddr switches the limiter to a shared Redis counter. Empty keeps
	// counters in process memory.
	RedisAddr     string `yaml:"redis_addr" env:"RATE_LIMIT_REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"RATE_LIMIT_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env-default:"0"`
}

type TransformConfig struct {
	MaxTextLength int `yaml:"max_text_length" env-default:"10000"`
}

type SweeperConfig struct {
	// Interval of 0 disables the expired session sweeper.
	Interval time.Duration `yaml:"interval" env-default:"1h"`
}

// SecureCookies reports whether cookies must carry the Secure attribute.
func (c *Config) SecureCookies() bool {
	return c.Env == EnvProd
}

// MustLoad loads the config from the -config flag or CONFIG_PATH and panics on failure.
func MustLoad() *Config {
	path := fetchConfigPath()
	if path == "" {
		panic("config path is empty")
	}

	return LoadConfig(path)
}

func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err.Error())
	}

	return cfg
}

func Load(path string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return fmt.Errorf("unknown env %q", c.Env)
	}

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required")
		}
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required")
		}
	case DriverMongo:
		if c.Storage.Mongo.URI == "" {
			return errors.New("storage.mongo.uri is required")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Auth.AccessSecret == c.Auth.RefreshSecret {
		return errors.New("auth.access_secret and auth.refresh_secret must differ")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		return errors.New("auth token ttl must be positive")
	}

	return nil
}

// fetchConfigPath reads the config path from the -config flag, falling back
// to the CONFIG_PATH environment variable.
func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
