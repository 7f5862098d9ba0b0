package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const minJWTSecretLength = 32

// DefaultRateLimits are the scoped throttle rates used when no rate file overrides them.
var DefaultRateLimits = map[string]string{
	"check_phone": "5/10m",
	"register":    "10/10m",
	"login":       "5/10m",
}

// SMSConfig configures the SMS delivery provider.
type SMSConfig struct {
	APIKey   string        `env:"API_KEY"`
	Template string        `env:"TEMPLATE"  envDefault:"login"`
	BaseURL  string        `env:"BASE_URL"  envDefault:"https://api.kavenegar.com"`
	DryRun   bool          `env:"DRY_RUN"`
	Timeout  time.Duration `env:"TIMEOUT"   envDefault:"10s"`
}

// Config holds the application configuration
type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	Port        string `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS"     envDefault:"25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS"     envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME"  envDefault:"5m"`
	DBConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"10m"`

	JWTSecret       string        `env:"JWT_SECRET,required"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL"  envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	WorkFlowTTL     time.Duration `env:"WORK_FLOW_TTL"     envDefault:"10m"`
	OTPTTL          time.Duration `env:"OTP_TTL"           envDefault:"2m"`

	SMS SMSConfig `envPrefix:"SMS_"`

	// NumProxies is the number of reverse proxies in front of the service; the client
	// address is taken from X-Forwarded-For accordingly. Zero ignores the header, so
	// deployments behind a proxy must set it.
	NumProxies int `env:"NUM_PROXIES" envDefault:"0"`

	// Per-IP token bucket applied to every /account route.
	EdgeRatePerSecond float64 `env:"EDGE_RATE_PER_SECOND" envDefault:"10"`
	EdgeBurst         int     `env:"EDGE_BURST"           envDefault:"20"`

	RateLimitsFile string            `env:"RATE_LIMITS_FILE"`
	RateLimits     map[string]string `env:"-"`
}

// rateFile is the layout of RATE_LIMITS_FILE:
//
//	rates:
//	  check_phone: 5/10m
//	  login: 5/min
type rateFile struct {
	Rates map[string]string `yaml:"rates"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if len(cfg.JWTSecret) < minJWTSecretLength {
		return nil, fmt.Errorf("JWT_SECRET must be at least %d characters", minJWTSecretLength)
	}
	for name, ttl := range map[string]time.Duration{
		"ACCESS_TOKEN_TTL":  cfg.AccessTokenTTL,
		"REFRESH_TOKEN_TTL": cfg.RefreshTokenTTL,
		"WORK_FLOW_TTL":     cfg.WorkFlowTTL,
		"OTP_TTL":           cfg.OTPTTL,
	} {
		if ttl <= 0 {
			return nil, fmt.Errorf("%s must be positive", name)
		}
	}
	if !cfg.SMS.DryRun && cfg.SMS.APIKey == "" {
		return nil, fmt.Errorf("SMS_API_KEY is required unless SMS_DRY_RUN=true")
	}
	if cfg.NumProxies < 0 {
		return nil, fmt.Errorf("NUM_PROXIES must not be negative")
	}

	cfg.RateLimits = make(map[string]string, len(DefaultRateLimits))
	for scope, rate := range DefaultRateLimits {
		cfg.RateLimits[scope] = rate
	}
	if cfg.RateLimitsFile != "" {
		overrides, err := loadRateFile(cfg.RateLimitsFile)
		if err != nil {
			return nil, err
		}
		for scope, rate := range overrides {
			cfg.RateLimits[scope] = rate
		}
	}

	return &cfg, nil
}

func loadRateFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rate limits file: %w", err)
	}
	defer f.Close()

	var rf rateFile
	if err := yaml.NewDecoder(f).Decode(&rf); err != nil {
		return nil, fmt.Errorf("parse rate limits file %s: %w", path, err)
	}
	return rf.Rates, nil
}
