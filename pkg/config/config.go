package config

import (
	"errors"
	"io/fs"
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
	Scheduler SchedulerConfig
	Exports   ExportsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
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

// SchedulerConfig carries the timetable engine defaults. Requests may override
// policy, budget, penalties and engine within the limits set here.
type SchedulerConfig struct {
	Engine        string
	Policy        string
	TimeBudget    time.Duration
	MaxTimeBudget time.Duration
	// OffHoursPenalty is charged per off-window placement under the flexible policy. At or
	// above WeightElective an elective is worth less than the penalty, so it stays unplaced
	// instead of running off-window.
	OffHoursPenalty int
	OrderingPenalty int
	WeightFixed     int
	WeightMandatory int
	WeightElective  int
	MaxSessionSlots int
	RequireFixed    bool

	DayStart    string
	DayEnd      string
	LunchStart  string
	LunchEnd    string
	WindowStart string
	WindowEnd   string

	// Workers bounds concurrent background runs; CandidateWorkers bounds
	// the per-run candidate enumeration fan-out.
	Workers          int
	CandidateWorkers int
	JobRetries       int
	ResultTTL        time.Duration
}

// ExportsConfig controls rendered timetable files and their download links.
type ExportsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
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

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
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

	cfg.Scheduler = SchedulerConfig{
		Engine:           strings.ToLower(v.GetString("SCHEDULER_ENGINE")),
		Policy:           strings.ToLower(v.GetString("SCHEDULER_POLICY")),
		TimeBudget:       parseDuration(v.GetString("SCHEDULER_TIME_BUDGET"), 60*time.Second),
		MaxTimeBudget:    parseDuration(v.GetString("SCHEDULER_MAX_TIME_BUDGET"), 300*time.Second),
		OffHoursPenalty:  v.GetInt("SCHEDULER_OFF_HOURS_PENALTY"),
		OrderingPenalty:  v.GetInt("SCHEDULER_ORDERING_PENALTY"),
		WeightFixed:      v.GetInt("SCHEDULER_WEIGHT_FIXED"),
		WeightMandatory:  v.GetInt("SCHEDULER_WEIGHT_MANDATORY"),
		WeightElective:   v.GetInt("SCHEDULER_WEIGHT_ELECTIVE"),
		MaxSessionSlots:  v.GetInt("SCHEDULER_MAX_SESSION_SLOTS"),
		RequireFixed:     v.GetBool("SCHEDULER_REQUIRE_FIXED"),
		DayStart:         v.GetString("SCHEDULER_DAY_START"),
		DayEnd:           v.GetString("SCHEDULER_DAY_END"),
		LunchStart:       v.GetString("SCHEDULER_LUNCH_START"),
		LunchEnd:         v.GetString("SCHEDULER_LUNCH_END"),
		WindowStart:      v.GetString("SCHEDULER_WINDOW_START"),
		WindowEnd:        v.GetString("SCHEDULER_WINDOW_END"),
		Workers:          v.GetInt("SCHEDULER_WORKERS"),
		CandidateWorkers: v.GetInt("SCHEDULER_CANDIDATE_WORKERS"),
		JobRetries:       v.GetInt("SCHEDULER_JOB_RETRIES"),
		ResultTTL:        parseDuration(v.GetString("SCHEDULER_RESULT_TTL"), 30*time.Minute),
	}
	if cfg.Scheduler.MaxTimeBudget < cfg.Scheduler.TimeBudget {
		cfg.Scheduler.MaxTimeBudget = cfg.Scheduler.TimeBudget
	}

	cfg.Exports = ExportsConfig{
		StorageDir:      v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 24*time.Hour),
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
	v.SetDefault("DB_NAME", "timetable")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SCHEDULER_ENGINE", "sat")
	v.SetDefault("SCHEDULER_POLICY", "flexible")
	v.SetDefault("SCHEDULER_TIME_BUDGET", "60s")
	v.SetDefault("SCHEDULER_MAX_TIME_BUDGET", "300s")
	// Keep below SCHEDULER_WEIGHT_ELECTIVE or electives are dropped rather than placed off-window.
	v.SetDefault("SCHEDULER_OFF_HOURS_PENALTY", 1)
	v.SetDefault("SCHEDULER_ORDERING_PENALTY", 1)
	v.SetDefault("SCHEDULER_WEIGHT_FIXED", 100000)
	v.SetDefault("SCHEDULER_WEIGHT_MANDATORY", 1000)
	v.SetDefault("SCHEDULER_WEIGHT_ELECTIVE", 100)
	v.SetDefault("SCHEDULER_MAX_SESSION_SLOTS", 6)
	v.SetDefault("SCHEDULER_REQUIRE_FIXED", true)
	v.SetDefault("SCHEDULER_DAY_START", "08:30")
	v.SetDefault("SCHEDULER_DAY_END", "19:00")
	v.SetDefault("SCHEDULER_LUNCH_START", "12:30")
	v.SetDefault("SCHEDULER_LUNCH_END", "13:00")
	v.SetDefault("SCHEDULER_WINDOW_START", "09:00")
	v.SetDefault("SCHEDULER_WINDOW_END", "16:00")
	v.SetDefault("SCHEDULER_WORKERS", 2)
	v.SetDefault("SCHEDULER_CANDIDATE_WORKERS", 4)
	v.SetDefault("SCHEDULER_JOB_RETRIES", 0)
	v.SetDefault("SCHEDULER_RESULT_TTL", "30m")

	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "24h")
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
