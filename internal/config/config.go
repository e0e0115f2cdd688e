package config

import (
	"log"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"development"`
	APIAddr       string `env:"API_ADDR" envDefault:":8080"`
	PostgresDSN   string `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr     string `env:"REDIS_ADDR,notEmpty"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	ExtractionURL    string `env:"EXTRACTION_URL,notEmpty"`
	ExtractionAPIKey string `env:"EXTRACTION_API_KEY"`

	DailyCostLimitUsd    float64  `env:"DAILY_COST_LIMIT_USD" envDefault:"50"`
	EstimatedCostPerCall float64  `env:"ESTIMATED_COST_PER_CALL_USD" envDefault:"0.01"`
	BatchSize            int      `env:"BATCH_SIZE" envDefault:"50"`
	MaxAttempts          int      `env:"MAX_ATTEMPTS" envDefault:"3"`
	RateLimitCooldownSec int      `env:"RATE_LIMIT_COOLDOWN_SEC" envDefault:"45"`
	WorkerConcurrency    int      `env:"WORKER_CONCURRENCY" envDefault:"3"`
	CycleIntervalSec     int      `env:"CYCLE_INTERVAL_SEC" envDefault:"300"`
	FetchMaxBytes        int64    `env:"FETCH_MAX_BYTES" envDefault:"262144"`
	FetchTimeoutSec      int      `env:"FETCH_TIMEOUT_SEC" envDefault:"30"`
	LeaseTermMonths      int      `env:"LEASE_TERM_MONTHS_DEFAULT" envDefault:"12"`
	LuxuryAmenities      []string `env:"LUXURY_AMENITIES" envDefault:"pool,gym,concierge,doorman,rooftop"`

	// Sources whose success rate stays below the floor over at least
	// MinAttempts completed attempts get soft-deactivated.
	DeactivateRateFloor   float64 `env:"DEACTIVATE_RATE_FLOOR" envDefault:"0.05"`
	DeactivateMinAttempts int     `env:"DEACTIVATE_MIN_ATTEMPTS" envDefault:"10"`
}

func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file, using process env")
	}
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	return c
}
