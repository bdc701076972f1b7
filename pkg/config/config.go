package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
)

type Config struct {
	AppEnv       string `mapstructure:"APP_ENV"`
	AppName      string `mapstructure:"APP_NAME"`
	AppVersion   string `mapstructure:"APP_VERSION"`
	AppNamespace string `mapstructure:"APP_NAMESPACE"`
	TLS          struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr string `mapstructure:"ADDR"`
		// http or grpc
		Protocol    string  `mapstructure:"PROTOCOL"`
		Insecure    bool    `mapstructure:"INSECURE"`
		SampleRatio float64 `mapstructure:"SAMPLE_RATIO"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Snowflake struct {
		NodeID int64 `mapstructure:"NODE_ID"`
	} `mapstructure:"SNOWFLAKE"`
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
	AccessControl struct {
		Model  string `mapstructure:"MODEL"`
		Policy string `mapstructure:"POLICY"`
	} `mapstructure:"ACCESS_CONTROL"`
	Minio struct {
		Endpoint   string `mapstructure:"ENDPOINT"`
		AccessKey  string `mapstructure:"ACCESS_KEY"`
		SecretKey  string `mapstructure:"SECRET_KEY"`
		Secure     bool   `mapstructure:"SECURE"`
		BucketName string `mapstructure:"BUCKET_NAME"`
		PublicURL  string `mapstructure:"PUBLIC_URL"`
	} `mapstructure:"MINIO"`
	Review struct {
		OperationTimeout time.Duration `mapstructure:"OPERATION_TIMEOUT"`
		SessionTTL       time.Duration `mapstructure:"SESSION_TTL"`
		// memory or redis
		Guard         string `mapstructure:"GUARD"`
		EnqueueEvents bool   `mapstructure:"ENQUEUE_EVENTS"`
	} `mapstructure:"REVIEW"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "reviewhub")
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 45*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.PORT", "5432")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("OTEL.PROTOCOL", "http")
	v.SetDefault("OTEL.INSECURE", true)
	v.SetDefault("OTEL.SAMPLE_RATIO", 1.0)
	v.SetDefault("SNOWFLAKE.NODE_ID", 1)
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 4*time.Second)
	v.SetDefault("MINIO.BUCKET_NAME", "review-proofs")
	v.SetDefault("REVIEW.OPERATION_TIMEOUT", 30*time.Second)
	v.SetDefault("REVIEW.SESSION_TTL", 30*time.Minute)
	v.SetDefault("REVIEW.GUARD", "memory")
	v.SetDefault("REVIEW.ENQUEUE_EVENTS", true)

	// viper only resolves env overrides for keys it already knows about.
	for _, key := range []string{
		"APP_VERSION", "APP_NAMESPACE", "TLS.ENABLE", "TLS.CERT_PATH", "TLS.KEY_PATH",
		"OTEL.ADDR", "PYROSCOPE.ADDR", "DATABASE.HOST", "DATABASE.DBNAME", "DATABASE.USER",
		"DATABASE.PASSWORD", "DATABASE.AUTO_MIGRATE", "DATABASE.METRICS", "REDIS.PASSWORD",
		"REDIS.DB", "ACCESS_CONTROL.MODEL", "ACCESS_CONTROL.POLICY", "MINIO.ENDPOINT",
		"MINIO.ACCESS_KEY", "MINIO.SECRET_KEY", "MINIO.SECURE", "MINIO.PUBLIC_URL",
	} {
		_ = v.BindEnv(key)
	}
}

// LoadConfig reads config.yaml from the working directory when present and lets
// environment variables override any key (DATABASE.HOST -> DATABASE_HOST).
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.TLS.Enable && (cfg.TLS.CertPath == "" || cfg.TLS.KeyPath == "") {
		return nil, errors.New("tls enabled but TLS.CERT_PATH or TLS.KEY_PATH not provided")
	}

	return &cfg, nil
}
