package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/segyhp/payment-risk-engine/internal/domain"
	"github.com/segyhp/payment-risk-engine/internal/engine"
	"github.com/segyhp/payment-risk-engine/internal/forecast"
	"github.com/segyhp/payment-risk-engine/internal/recommend"
	"github.com/segyhp/payment-risk-engine/internal/retry"
	"github.com/segyhp/payment-risk-engine/internal/scoring"
)

// Config holds all configuration for our application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Logging   LoggingConfig
	Cache     CacheConfig
	Engine    EngineConfig
	Health    HealthConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	URL             string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type SchedulerConfig struct {
	// Spec is a cron expression with a leading seconds field.
	Spec     string
	Timezone string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type CacheConfig struct {
	TTL time.Duration
}

// EngineConfig mirrors engine.Settings in flat, env-friendly form.
type EngineConfig struct {
	DecayHalfLifeDays   int
	SafetyMargin        float64
	RetryLookaheadDays  int
	DefaultRetryHour    int
	WeightSeverity      float64
	WeightFailureRate   float64
	WeightVolatility    float64
	ChurnThreshold      float64
	ForecastHorizonDays int
	RecentAttemptWindow int
	RenewalLeadDays     int
	UpsellMaxRisk       int
	UpsellMinCycles     int
	UpsellUplift        float64
	PartnerRates        string
	Workers             int
}

type HealthConfig struct {
	Timeout time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("ENV", "development")
	v.SetDefault("SERVER_READ_TIMEOUT", "15s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "60s")

	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", "5432")
	v.SetDefault("DATABASE_NAME", "payment_risk")
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 25)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "5m")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("SCHEDULER_SPEC", "0 0 2 * * *")
	v.SetDefault("SCHEDULER_TIMEZONE", "UTC")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("CACHE_TTL", "15m")
	v.SetDefault("HEALTH_CHECK_TIMEOUT", "5s")

	v.SetDefault("DECAY_HALF_LIFE_DAYS", 90)
	v.SetDefault("SAFETY_MARGIN", 0.10)
	v.SetDefault("RETRY_LOOKAHEAD_DAYS", 14)
	v.SetDefault("DEFAULT_RETRY_HOUR", 9)
	v.SetDefault("RISK_WEIGHT_SEVERITY", 0.50)
	v.SetDefault("RISK_WEIGHT_FAILURE_RATE", 0.35)
	v.SetDefault("RISK_WEIGHT_VOLATILITY", 0.15)
	v.SetDefault("CHURN_THRESHOLD", 0.70)
	v.SetDefault("FORECAST_HORIZON_DAYS", 45)
	v.SetDefault("RECENT_ATTEMPT_WINDOW", 6)
	v.SetDefault("RENEWAL_LEAD_DAYS", 30)
	v.SetDefault("UPSELL_MAX_RISK", 15)
	v.SetDefault("UPSELL_MIN_CYCLES", 12)
	v.SetDefault("UPSELL_UPLIFT", 0.10)
	v.SetDefault("PARTNER_RATES", "Internet:0.20:ISP partnership,Mobile:0.10:Carrier bundle")
	v.SetDefault("ENGINE_WORKERS", 0)
}

// Load reads configuration from environment variables and an optional .env file
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Read from environment variables
	v.AutomaticEnv()

	// Don't fail if .env file doesn't exist
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./deployments")
	_ = v.ReadInConfig()

	config := &Config{
		Server: ServerConfig{
			Port:         v.GetString("SERVER_PORT"),
			Host:         v.GetString("SERVER_HOST"),
			Env:          v.GetString("ENV"),
			ReadTimeout:  v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("SERVER_WRITE_TIMEOUT"),
		},
		Database: DatabaseConfig{
			URL:             v.GetString("DATABASE_URL"),
			Host:            v.GetString("DATABASE_HOST"),
			Port:            v.GetString("DATABASE_PORT"),
			Name:            v.GetString("DATABASE_NAME"),
			User:            v.GetString("DATABASE_USER"),
			Password:        v.GetString("DATABASE_PASSWORD"),
			SSLMode:         v.GetString("DATABASE_SSLMODE"),
			MaxOpenConns:    v.GetInt("DATABASE_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DATABASE_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DATABASE_CONN_MAX_LIFETIME"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Scheduler: SchedulerConfig{
			Spec:     v.GetString("SCHEDULER_SPEC"),
			Timezone: v.GetString("SCHEDULER_TIMEZONE"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Cache: CacheConfig{
			TTL: v.GetDuration("CACHE_TTL"),
		},
		Engine: EngineConfig{
			DecayHalfLifeDays:   v.GetInt("DECAY_HALF_LIFE_DAYS"),
			SafetyMargin:        v.GetFloat64("SAFETY_MARGIN"),
			RetryLookaheadDays:  v.GetInt("RETRY_LOOKAHEAD_DAYS"),
			DefaultRetryHour:    v.GetInt("DEFAULT_RETRY_HOUR"),
			WeightSeverity:      v.GetFloat64("RISK_WEIGHT_SEVERITY"),
			WeightFailureRate:   v.GetFloat64("RISK_WEIGHT_FAILURE_RATE"),
			WeightVolatility:    v.GetFloat64("RISK_WEIGHT_VOLATILITY"),
			ChurnThreshold:      v.GetFloat64("CHURN_THRESHOLD"),
			ForecastHorizonDays: v.GetInt("FORECAST_HORIZON_DAYS"),
			RecentAttemptWindow: v.GetInt("RECENT_ATTEMPT_WINDOW"),
			RenewalLeadDays:     v.GetInt("RENEWAL_LEAD_DAYS"),
			UpsellMaxRisk:       v.GetInt("UPSELL_MAX_RISK"),
			UpsellMinCycles:     v.GetInt("UPSELL_MIN_CYCLES"),
			UpsellUplift:        v.GetFloat64("UPSELL_UPLIFT"),
			PartnerRates:        v.GetString("PARTNER_RATES"),
			Workers:             v.GetInt("ENGINE_WORKERS"),
		},
		Health: HealthConfig{
			Timeout: v.GetDuration("HEALTH_CHECK_TIMEOUT"),
		},
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	if c.Database.URL == "" && c.Database.Host == "" {
		return fmt.Errorf("DATABASE_URL or DATABASE_HOST is required")
	}

	if _, err := CronParser().Parse(c.Scheduler.Spec); err != nil {
		return fmt.Errorf("SCHEDULER_SPEC must be a valid cron expression: %w", err)
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("SCHEDULER_TIMEZONE must be a valid IANA zone: %w", err)
	}

	e := c.Engine
	if e.DecayHalfLifeDays <= 0 {
		return fmt.Errorf("DECAY_HALF_LIFE_DAYS must be greater than 0")
	}
	if e.SafetyMargin < 0 {
		return fmt.Errorf("SAFETY_MARGIN must not be negative")
	}
	if e.DefaultRetryHour < 0 || e.DefaultRetryHour > 23 {
		return fmt.Errorf("DEFAULT_RETRY_HOUR must be within [0,23]")
	}
	if e.WeightSeverity < 0 || e.WeightFailureRate < 0 || e.WeightVolatility < 0 ||
		e.WeightSeverity+e.WeightFailureRate+e.WeightVolatility <= 0 {
		return fmt.Errorf("RISK_WEIGHT_* must be non-negative with a positive sum")
	}
	if e.ChurnThreshold <= 0 || e.ChurnThreshold > 1 {
		return fmt.Errorf("CHURN_THRESHOLD must be within (0,1]")
	}
	if _, err := ParsePartnerRates(e.PartnerRates); err != nil {
		return fmt.Errorf("PARTNER_RATES: %w", err)
	}

	return nil
}

// cronFields accepts the six-field form used by the scheduler.
const cronFields = cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor

// CronParser returns the parser matching SCHEDULER_SPEC.
func CronParser() cron.Parser {
	return cron.NewParser(cronFields)
}

// ParsePartnerRates reads "Category:discount:Partner name" entries separated by commas.
func ParsePartnerRates(s string) (map[domain.MandateCategory]recommend.PartnerRate, error) {
	rates := make(map[domain.MandateCategory]recommend.PartnerRate)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("entry %q must be Category:discount:Partner", entry)
		}
		category := domain.MandateCategory(strings.TrimSpace(parts[0]))
		discount, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil || discount <= 0 || discount >= 1 {
			return nil, fmt.Errorf("entry %q: discount must be a fraction in (0,1)", entry)
		}
		rates[category] = recommend.PartnerRate{
			Partner:  strings.TrimSpace(parts[2]),
			Discount: discount,
		}
	}
	return rates, nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development" || c.Server.Env == "dev"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production" || c.Server.Env == "prod"
}

// DSN returns the postgres connection string
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	// lib/pq reads "password= dbname=x" as a password of "dbname=x"
	if d.Password == "" {
		return fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Name, d.SSLMode)
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// Addr returns host:port of the redis server
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

// Location returns the scheduler time zone, UTC when it cannot be loaded
func (s SchedulerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// EngineSettings converts the flat configuration into engine settings
func (c *Config) EngineSettings() engine.Settings {
	e := c.Engine
	rates, _ := ParsePartnerRates(e.PartnerRates)

	settings := engine.DefaultSettings()
	settings.Scoring = scoring.Settings{
		HalfLife: time.Duration(e.DecayHalfLifeDays) * 24 * time.Hour,
		Weights: scoring.Weights{
			Severity:    e.WeightSeverity,
			FailureRate: e.WeightFailureRate,
			Volatility:  e.WeightVolatility,
		},
		RecentWindow: e.RecentAttemptWindow,
	}
	settings.Forecast = forecast.Settings{HorizonDays: e.ForecastHorizonDays}
	settings.Retry = retry.Settings{
		LookaheadDays: e.RetryLookaheadDays,
		SafetyMargin:  e.SafetyMargin,
		DefaultHour:   e.DefaultRetryHour,
	}
	settings.Recommend.ChurnThreshold = e.ChurnThreshold
	settings.Recommend.RenewalLeadDays = e.RenewalLeadDays
	settings.Recommend.RecentWindow = e.RecentAttemptWindow
	settings.Recommend.UpsellMaxRisk = e.UpsellMaxRisk
	settings.Recommend.UpsellMinCycles = e.UpsellMinCycles
	settings.Recommend.UpsellUplift = e.UpsellUplift
	settings.Recommend.PartnerRates = rates
	settings.Workers = e.Workers
	return settings
}
