package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Clinic    ClinicConfig    `mapstructure:"clinic"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type ClinicConfig struct {
	// Timezone sets where the clinic's calendar day begins and ends.
	Timezone string `mapstructure:"timezone"`
}

type SessionsConfig struct {
	BlockDoctorWhenClinicWide bool `mapstructure:"block_doctor_when_clinic_wide"`
}

type RateLimitConfig struct {
	PerMinute       int `mapstructure:"per_minute"`
	Burst           int `mapstructure:"burst"`
	TenantPerMinute int `mapstructure:"tenant_per_minute"`
	TenantBurst     int `mapstructure:"tenant_burst"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type RelayConfig struct {
	Sink      string        `mapstructure:"sink"`
	Name      string        `mapstructure:"name"`
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type TelemetryConfig struct {
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Insecure     bool   `mapstructure:"insecure"`
}

// legacyEnv maps keys to unprefixed variable names still set by older deployments.
var legacyEnv = map[string]string{
	"server.port":                 "PORT",
	"database.dsn":                "DB_DSN",
	"auth.jwt_secret":             "JWT_SECRET",
	"ratelimit.per_minute":        "RATE_LIMIT_PER_MIN",
	"ratelimit.burst":             "RATE_LIMIT_BURST",
	"ratelimit.tenant_per_minute": "TENANT_RATE_LIMIT_PER_MIN",
	"ratelimit.tenant_burst":      "TENANT_RATE_LIMIT_BURST",
	"telemetry.otlp_endpoint":     "OTEL_EXPORTER_OTLP_ENDPOINT",
	"telemetry.insecure":          "OTEL_EXPORTER_OTLP_INSECURE",
}

// Load reads defaults, an optional config file and the environment, in that
// order of precedence from lowest to highest. An empty path searches
// ./configs for config.yaml.
func Load(path string) (Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CLINIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := "CLINIC_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return Config{}, err
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "clinic-reception")
	v.SetDefault("auth.token_ttl", 12*time.Hour)

	v.SetDefault("clinic.timezone", "UTC")
	v.SetDefault("sessions.block_doctor_when_clinic_wide", false)

	v.SetDefault("ratelimit.per_minute", 120)
	v.SetDefault("ratelimit.burst", 30)
	v.SetDefault("ratelimit.tenant_per_minute", 600)
	v.SetDefault("ratelimit.tenant_burst", 120)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.output", "stdout")

	v.SetDefault("relay.sink", "redis")
	v.SetDefault("relay.name", "default")
	v.SetDefault("relay.interval", 2*time.Second)
	v.SetDefault("relay.batch_size", 100)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "clinic.events")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "clinic.events")

	v.SetDefault("telemetry.service_name", "reception-service")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.insecure", false)
}

// Location resolves the clinic timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Clinic.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Clinic.Timezone)
	if err != nil {
		return nil, fmt.Errorf("clinic timezone %q: %w", c.Clinic.Timezone, err)
	}
	return loc, nil
}

// Validate checks what the HTTP server needs to start.
func (c Config) Validate() error {
	var errs []error
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
