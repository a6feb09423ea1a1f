package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

type Config struct {
	Port                    string
	AllowedOrigin           string
	StoreBackend            string
	DatabaseURL             string
	MongoURI                string
	MongoDatabase           string
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	AuthSecret              string
	AccessTokenTTLMinutes   int
	StoreTimezone           string
	SettingsCacheTTLSeconds int
	PubSubProjectID         string
	PubSubCredentialsJSON   string
	EventsSubscription      string
	NotificationsTopic      string
	PushToken               string
	JobsRunAt               string
	LogLevel                string
	LogFormat               string
}

// Load reads configuration from the environment, with an optional .env file
// in the working directory filling in anything unset.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("STORE_BACKEND", BackendMemory)
	v.SetDefault("MONGO_DATABASE", "fourcash")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("STORE_TIMEZONE", "Asia/Ho_Chi_Minh")
	v.SetDefault("SETTINGS_CACHE_TTL_SECONDS", 300)
	v.SetDefault("JOBS_RUN_AT", "09:00")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	tokenTTL := v.GetInt("ACCESS_TOKEN_TTL_MINUTES")
	if tokenTTL < 1 {
		tokenTTL = 480
	}
	cacheTTL := v.GetInt("SETTINGS_CACHE_TTL_SECONDS")
	if cacheTTL < 0 {
		cacheTTL = 0
	}

	backend := strings.ToLower(strings.TrimSpace(v.GetString("STORE_BACKEND")))
	if backend == "" {
		backend = BackendMemory
	}

	return Config{
		Port:                    v.GetString("PORT"),
		AllowedOrigin:           v.GetString("ALLOWED_ORIGIN"),
		StoreBackend:            backend,
		DatabaseURL:             v.GetString("DATABASE_URL"),
		MongoURI:                v.GetString("MONGO_URI"),
		MongoDatabase:           v.GetString("MONGO_DATABASE"),
		RedisAddr:               v.GetString("REDIS_ADDR"),
		RedisPassword:           v.GetString("REDIS_PASSWORD"),
		RedisDB:                 v.GetInt("REDIS_DB"),
		AuthSecret:              strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes:   tokenTTL,
		StoreTimezone:           v.GetString("STORE_TIMEZONE"),
		SettingsCacheTTLSeconds: cacheTTL,
		PubSubProjectID:         v.GetString("PUBSUB_PROJECT_ID"),
		PubSubCredentialsJSON:   v.GetString("PUBSUB_CREDENTIALS_JSON"),
		EventsSubscription:      v.GetString("EVENTS_SUBSCRIPTION"),
		NotificationsTopic:      v.GetString("NOTIFICATIONS_TOPIC"),
		PushToken:               strings.TrimSpace(v.GetString("PUSH_TOKEN")),
		JobsRunAt:               v.GetString("JOBS_RUN_AT"),
		LogLevel:                v.GetString("LOG_LEVEL"),
		LogFormat:               v.GetString("LOG_FORMAT"),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.StoreTimezone)
}

func (c Config) SettingsCacheTTL() time.Duration {
	return time.Duration(c.SettingsCacheTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

// RunAt parses JOBS_RUN_AT as HH:MM.
func (c Config) RunAt() (hour int, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(c.JobsRunAt))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid JOBS_RUN_AT %q: %w", c.JobsRunAt, err)
	}
	return t.Hour(), t.Minute(), nil
}
