package config

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	_ "github.com/spf13/viper/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	config       = viper.New()
	backend      = "consul"
	backendAddr  = "127.0.0.1:8500"
	backendPath  = "development" // e.g., app/<env>/<service_name>
	configType   = "yaml"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
	NodeID     int64  `mapstructure:"NODE_ID"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"`
		Insecure bool   `mapstructure:"INSECURE"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr       string        `mapstructure:"ADDR"`
		UploadRate time.Duration `mapstructure:"UPLOAD_RATE"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
		// APIKeys guards the /v1 routes when non empty.
		APIKeys []string `mapstructure:"API_KEYS"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string        `mapstructure:"TYPE"`
		Host           string        `mapstructure:"HOST"`
		Port           string        `mapstructure:"PORT"`
		DBNAME         string        `mapstructure:"DBNAME"`
		User           string        `mapstructure:"USER"`
		Password       string        `mapstructure:"PASSWORD"`
		SSLMode        string        `mapstructure:"SSLMODE"`
		Timezone       string        `mapstructure:"TIMEZONE"`
		AutoMigrate    bool          `mapstructure:"AUTO_MIGRATE"`
		SlowThreshold  time.Duration `mapstructure:"SLOW_THRESHOLD"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	Consul struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"CONSUL"`
	Settlement Settlement `mapstructure:"SETTLEMENT"`
	// PartnerSync is the Dobble Tap webhook sink.
	PartnerSync    PartnerSync    `mapstructure:"PARTNER_SYNC"`
	MetricsScraper MetricsScraper `mapstructure:"METRICS_PROVIDER"`
}

type Settlement struct {
	ServiceFeeRate   float64 `mapstructure:"SERVICE_FEE_RATE"`
	MinContestBudget float64 `mapstructure:"MIN_CONTEST_BUDGET"`
	ReconcileBatch   int     `mapstructure:"RECONCILE_BATCH"`
}

type PartnerSync struct {
	BaseURL       string        `mapstructure:"BASE_URL"`
	APIKey        string        `mapstructure:"API_KEY"`
	MaxRetries    int           `mapstructure:"MAX_RETRIES"`
	BaseDelay     time.Duration `mapstructure:"BASE_DELAY"`
	MaxDelay      time.Duration `mapstructure:"MAX_DELAY"`
	Timeout       time.Duration `mapstructure:"TIMEOUT"`
	QueueBackoff  time.Duration `mapstructure:"QUEUE_BACKOFF"`
	QueueMaxRetry int           `mapstructure:"QUEUE_MAX_RETRY"`
	DrainBatch    int           `mapstructure:"DRAIN_BATCH"`
}

type MetricsScraper struct {
	BaseURL       string        `mapstructure:"BASE_URL"`
	APIKey        string        `mapstructure:"API_KEY"`
	MaxRetries    int           `mapstructure:"MAX_RETRIES"`
	Timeout       time.Duration `mapstructure:"TIMEOUT"`
	Concurrency   int           `mapstructure:"CONCURRENCY"`
	RatePerSecond float64       `mapstructure:"RATE_PER_SECOND"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))
var RemoteModule = fx.Module("remote.config", fx.Provide(LoadRemote))

// Source picks RemoteModule when REMOTE_CONFIG_PROVIDER is set and the local
// config.yaml loader otherwise.
func Source() fx.Option {
	if _, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		return RemoteModule
	}
	return Module
}

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "activations")
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PYROSCOPE.UPLOAD_RATE", 15*time.Second)
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 90*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.SLOW_THRESHOLD", 200*time.Millisecond)
	v.SetDefault("OTEL.PROTOCOL", "http")
	v.SetDefault("OTEL.INSECURE", true)
	v.SetDefault("SETTLEMENT.SERVICE_FEE_RATE", 0.10)
	v.SetDefault("SETTLEMENT.MIN_CONTEST_BUDGET", 2000)
	v.SetDefault("SETTLEMENT.RECONCILE_BATCH", 50)
	v.SetDefault("PARTNER_SYNC.MAX_RETRIES", 3)
	v.SetDefault("PARTNER_SYNC.BASE_DELAY", time.Second)
	v.SetDefault("PARTNER_SYNC.MAX_DELAY", 30*time.Second)
	v.SetDefault("PARTNER_SYNC.TIMEOUT", 60*time.Second)
	v.SetDefault("PARTNER_SYNC.QUEUE_BACKOFF", 5*time.Minute)
	v.SetDefault("PARTNER_SYNC.QUEUE_MAX_RETRY", 5)
	v.SetDefault("PARTNER_SYNC.DRAIN_BATCH", 50)
	v.SetDefault("METRICS_PROVIDER.MAX_RETRIES", 2)
	v.SetDefault("METRICS_PROVIDER.TIMEOUT", 20*time.Second)
	v.SetDefault("METRICS_PROVIDER.CONCURRENCY", 4)
	v.SetDefault("METRICS_PROVIDER.RATE_PER_SECOND", 10)
}

func LoadConfig(p Params) *Config {

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()
	setDefaults(config)

	if err := config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			zap.L().Error("failed to read config file", zap.Error(err))
			os.Exit(1)
		}
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	if p.Vault != nil {
		if err := applySecrets(&cfg, p.Vault); err != nil {
			os.Exit(1)
		}
	}

	return &cfg
}

func LoadRemote(p Params) *Config {
	if v, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		backend = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_ADDR"); ok {
		backendAddr = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PATH"); ok {
		backendPath = v
	}

	config.SetConfigType(configType)
	setDefaults(config)
	if err := config.AddRemoteProvider(backend, backendAddr, backendPath); err != nil {
		zap.L().Error("failed to add remote config provider", zap.String("backend", backend), zap.Error(err))
		os.Exit(1)
	}

	if err := config.ReadRemoteConfig(); err != nil {
		zap.L().Error("failed to read remote config", zap.String("addr", backendAddr), zap.Error(err))
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal remote config", zap.Error(err))
		os.Exit(1)
	}

	if p.Vault != nil {
		if err := applySecrets(&cfg, p.Vault); err != nil {
			os.Exit(1)
		}
	}

	return &cfg
}

func applySecrets(cfg *Config, client *vault.Client) error {
	ctx := context.Background()

	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
	if err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		return err
	}
	zap.L().Info("Success Get Secret")

	get := func(key, fallback string) string {
		if val, ok := secret.Data.Data[key].(string); ok && val != "" {
			return val
		}
		return fallback
	}

	cfg.Database.User = get("postgres_user", cfg.Database.User)
	cfg.Database.Password = get("postgres_password", cfg.Database.Password)
	cfg.Redis.Password = get("redis_password", cfg.Redis.Password)
	cfg.Flagsmith.ApiKey = get("flagsmith_api_key", cfg.Flagsmith.ApiKey)
	cfg.PartnerSync.APIKey = get("partner_sync_api_key", cfg.PartnerSync.APIKey)
	cfg.MetricsScraper.APIKey = get("metrics_provider_api_key", cfg.MetricsScraper.APIKey)

	return nil
}
