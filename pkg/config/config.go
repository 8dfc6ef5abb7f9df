package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Cache     CacheConfig
	Grading   GradingConfig
	Recompute RecomputeConfig
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CacheConfig governs the Redis backed evaluation cache.
type CacheConfig struct {
	Enabled       bool
	EvaluationTTL time.Duration
}

// LetterBand is one (lower-bound fraction, label) entry of the letter scale.
type LetterBand struct {
	LowerBound float64
	Label      string
}

// GradingConfig carries the externally supplied grade policy table.
type GradingConfig struct {
	LetterScale        []LetterBand
	FailLabel          string
	TheoreticalWeights map[string]float64
	PracticalWeights   map[string]float64
	RequireVersion     bool
}

// RecomputeConfig sizes the background course recompute queue.
type RecomputeConfig struct {
	Workers    int
	Retries    int
	RetryDelay time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:            v.GetString("DB_HOST"),
		Port:            v.GetInt("DB_PORT"),
		User:            v.GetString("DB_USER"),
		Password:        v.GetString("DB_PASSWORD"),
		Name:            v.GetString("DB_NAME"),
		SSLMode:         v.GetString("DB_SSL_MODE"),
		MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
		ConnMaxLifetime: parseDuration(v.GetString("DB_CONN_MAX_LIFETIME"), time.Hour),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		PoolSize: v.GetInt("REDIS_POOL_SIZE"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Cache = CacheConfig{
		Enabled:       v.GetBool("ENABLE_CACHE"),
		EvaluationTTL: parseDuration(v.GetString("EVALUATION_CACHE_TTL"), 5*time.Minute),
	}

	scale, err := ParseLetterScale(v.GetString("GRADING_LETTER_SCALE"))
	if err != nil {
		return nil, err
	}
	theoretical, err := ParseWeights(v.GetString("GRADING_THEORETICAL_WEIGHTS"))
	if err != nil {
		return nil, fmt.Errorf("theoretical weights: %w", err)
	}
	practical, err := ParseWeights(v.GetString("GRADING_PRACTICAL_WEIGHTS"))
	if err != nil {
		return nil, fmt.Errorf("practical weights: %w", err)
	}
	cfg.Grading = GradingConfig{
		LetterScale:        scale,
		FailLabel:          v.GetString("GRADING_FAIL_LABEL"),
		TheoreticalWeights: theoretical,
		PracticalWeights:   practical,
		RequireVersion:     v.GetBool("GRADING_REQUIRE_VERSION"),
	}

	cfg.Recompute = RecomputeConfig{
		Workers:    v.GetInt("RECOMPUTE_WORKERS"),
		Retries:    v.GetInt("RECOMPUTE_RETRIES"),
		RetryDelay: parseDuration(v.GetString("RECOMPUTE_RETRY_DELAY"), time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "university_records")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "1h")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 10)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_CACHE", false)
	v.SetDefault("EVALUATION_CACHE_TTL", "5m")

	v.SetDefault("GRADING_LETTER_SCALE", "0.85:Excellent,0.75:Very Good,0.60:Good,0.50:Pass")
	v.SetDefault("GRADING_FAIL_LABEL", "Fail")
	v.SetDefault("GRADING_THEORETICAL_WEIGHTS", "assignment1=1,assignment2=1,coursework=1,final_exam=1")
	v.SetDefault("GRADING_PRACTICAL_WEIGHTS", "assignment1=1,assignment2=1,coursework=1,final_exam=1,experience=1")
	v.SetDefault("GRADING_REQUIRE_VERSION", true)

	v.SetDefault("RECOMPUTE_WORKERS", 1)
	v.SetDefault("RECOMPUTE_RETRIES", 3)
	v.SetDefault("RECOMPUTE_RETRY_DELAY", "1s")
}

// ParseLetterScale parses "0.85:Excellent,0.75:Very Good" into bands in declaration order.
func ParseLetterScale(raw string) ([]LetterBand, error) {
	parts := splitAndTrim(raw)
	bands := make([]LetterBand, 0, len(parts))
	for _, part := range parts {
		bound, label, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("letter scale entry %q: expected bound:label", part)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(bound), 64)
		if err != nil {
			return nil, fmt.Errorf("letter scale entry %q: %w", part, err)
		}
		label = strings.TrimSpace(label)
		if label == "" {
			return nil, fmt.Errorf("letter scale entry %q: empty label", part)
		}
		bands = append(bands, LetterBand{LowerBound: value, Label: label})
	}
	return bands, nil
}

// ParseWeights parses "assignment1=1,final_exam=0.5" into a component weight map.
func ParseWeights(raw string) (map[string]float64, error) {
	weights := make(map[string]float64)
	for _, part := range splitAndTrim(raw) {
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("weight entry %q: expected component=weight", part)
		}
		weight, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("weight entry %q: %w", part, err)
		}
		weights[strings.ToLower(strings.TrimSpace(name))] = weight
	}
	return weights, nil
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
