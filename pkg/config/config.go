package config

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	_ "github.com/spf13/viper/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	config       = viper.New()
	configHolder atomic.Value
	backend      = "consul"
	backendAddr  = "127.0.0.1:8500"
	backendPath  = "promohive/development"
	configType   = "yaml"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		AutoMigrate    bool   `mapstructure:"AUTO_MIGRATE"`
		Metrics        bool   `mapstructure:"METRICS"`
		ConnectionPool struct {
			MaxIdleConns    int           `mapstructure:"MAX_IDLE_CONNS"`
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
	Kafka struct {
		Brokers []string `mapstructure:"BROKERS"`
		Topic   string   `mapstructure:"TOPIC"`
	} `mapstructure:"KAFKA"`
	AccessControl struct {
		Model  string `mapstructure:"MODEL"`
		Policy string `mapstructure:"POLICY"`
	} `mapstructure:"ACCESS_CONTROL"`
	RateLimit struct {
		Requests int64         `mapstructure:"REQUESTS"`
		Window   time.Duration `mapstructure:"WINDOW"`
	} `mapstructure:"RATE_LIMIT"`
	Minio struct {
		Endpoint     string        `mapstructure:"ENDPOINT"`
		AccessKey    string        `mapstructure:"ACCESS_KEY"`
		SecretKey    string        `mapstructure:"SECRET_KEY"`
		Secure       bool          `mapstructure:"SECURE"`
		BucketName   string        `mapstructure:"BUCKET_NAME"`
		UploadExpiry time.Duration `mapstructure:"UPLOAD_EXPIRY"`
	} `mapstructure:"MINIO"`
	Offerwall struct {
		Secret          string `mapstructure:"SECRET"`
		MaxSharePercent int64  `mapstructure:"MAX_SHARE_PERCENT"`
	} `mapstructure:"OFFERWALL"`
	Snowflake struct {
		Node int64 `mapstructure:"NODE"`
	} `mapstructure:"SNOWFLAKE"`
	Telemetry struct {
		Exporter    string  `mapstructure:"EXPORTER"`
		Endpoint    string  `mapstructure:"ENDPOINT"`
		Insecure    bool    `mapstructure:"INSECURE"`
		SampleRatio float64 `mapstructure:"SAMPLE_RATIO"`
	} `mapstructure:"TELEMETRY"`
	Profiling struct {
		Addr       string `mapstructure:"ADDR"`
		Contention bool   `mapstructure:"CONTENTION"`
	} `mapstructure:"PROFILING"`
	Registration struct {
		VerifyEmailDomain bool     `mapstructure:"VERIFY_EMAIL_DOMAIN"`
		Resolvers         []string `mapstructure:"RESOLVERS"`
	} `mapstructure:"REGISTRATION"`
	Flagsmith struct {
		ApiKey string `mapstructure:"API_KEY"`
		Addr   string `mapstructure:"ADDR"`
	} `mapstructure:"FLAGSMITH"`
	Reconcile struct {
		Schedule  string `mapstructure:"SCHEDULE"`
		BatchSize int    `mapstructure:"BATCH_SIZE"`
	} `mapstructure:"RECONCILE"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))
var RemoteModule = fx.Module("remote.config", fx.Provide(LoadRemote))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "promohive")
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 5*time.Second)
	v.SetDefault("KAFKA.TOPIC", "ledger.entries")
	v.SetDefault("RATE_LIMIT.REQUESTS", 100)
	v.SetDefault("RATE_LIMIT.WINDOW", time.Minute)
	v.SetDefault("MINIO.UPLOAD_EXPIRY", 15*time.Minute)
	v.SetDefault("OFFERWALL.MAX_SHARE_PERCENT", 70)
	v.SetDefault("SNOWFLAKE.NODE", 1)
	v.SetDefault("TELEMETRY.SAMPLE_RATIO", 1.0)
	v.SetDefault("FLAGSMITH.ADDR", "https://edge.api.flagsmith.com/api/v1/")
	v.SetDefault("RECONCILE.SCHEDULE", "@daily")
	v.SetDefault("RECONCILE.BATCH_SIZE", 200)
}

func LoadConfig(p Params) *Config {
	setDefaults(config)

	config.SetConfigName("config")
	config.SetConfigType(configType)
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	if err := config.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			zap.L().Error("failed to read config file", zap.Error(err))
			os.Exit(1)
		}
		zap.L().Warn("config.yaml not found, relying on environment")
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	if p.Vault != nil {
		if err := applySecrets(context.Background(), p.Vault, &cfg); err != nil {
			zap.L().Error("failed get secret from vault", zap.Error(err))
			os.Exit(1)
		}
	}

	return &cfg
}

// applySecrets overlays credentials stored under secret/<APP_ENV>.
func applySecrets(ctx context.Context, client *vault.Client, cfg *Config) error {
	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
	if err != nil {
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
	cfg.Minio.AccessKey = get("minio_access_key", cfg.Minio.AccessKey)
	cfg.Minio.SecretKey = get("minio_secret_key", cfg.Minio.SecretKey)
	cfg.Offerwall.Secret = get("offerwall_secret", cfg.Offerwall.Secret)
	cfg.Flagsmith.ApiKey = get("flagsmith_api_key", cfg.Flagsmith.ApiKey)
	return nil
}

// Current returns the most recent remotely loaded config, or nil when the
// remote module is not in use.
func Current() *Config {
	cfg, _ := configHolder.Load().(*Config)
	return cfg
}

func LoadRemote(p Params) *Config {
	if p.Vault == nil {
		zap.L().Error("vault can't provide")
		os.Exit(1)
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		backend = v
	}
	if v, ok := os.LookupEnv("REMOTE_CONFIG_ADDR"); ok {
		backendAddr = v
	}
	if v, ok := os.LookupEnv("REMOTE_CONFIG_PATH"); ok {
		backendPath = v
	}

	setDefaults(config)
	config.SetConfigType(configType)
	if err := config.AddRemoteProvider(backend, backendAddr, backendPath); err != nil {
		zap.L().Error("failed to add remote config provider", zap.Error(err))
		os.Exit(1)
	}

	if err := config.ReadRemoteConfig(); err != nil {
		zap.L().Error("failed to read remote config", zap.Error(err))
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		os.Exit(1)
	}

	if err := applySecrets(context.Background(), p.Vault, &cfg); err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		os.Exit(1)
	}
	configHolder.Store(&cfg)

	go func() {
		for {
			time.Sleep(5 * time.Second)

			if err := config.WatchRemoteConfig(); err != nil {
				zap.L().Error("unable to read remote config", zap.Error(err))
				continue
			}

			var next Config
			if err := config.Unmarshal(&next); err != nil {
				zap.L().Error("unable to unmarshal remote config", zap.Error(err))
				continue
			}
			// secrets are not part of the remote document
			next.Database.User, next.Database.Password = cfg.Database.User, cfg.Database.Password
			next.Redis.Password = cfg.Redis.Password
			next.Minio.AccessKey, next.Minio.SecretKey = cfg.Minio.AccessKey, cfg.Minio.SecretKey
			next.Offerwall.Secret = cfg.Offerwall.Secret
			configHolder.Store(&next)
		}
	}()

	return &cfg
}
