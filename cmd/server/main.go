package main

import (
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"podcast-service/internal/config"
	"podcast-service/internal/db"
	"podcast-service/internal/handlers"
	"podcast-service/internal/jobs"
	"podcast-service/internal/media"
	"podcast-service/internal/progress"
)

// CommitSHA is set at build time via ldflags
var CommitSHA = "unknown"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Error loading .env file")
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("could not load config: %v", err)
	}

	store, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("could not connect to database: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer client.Close()

	h := handlers.New(
		store,
		progress.New(rdb, cfg.ProgressTTL, cfg.ProgressChannel),
		jobs.New(rdb, cfg.JobRegistryTTL),
		client,
		media.NewDownloader(cfg.YtDlpBin, cfg.CookiesPath, cfg.ProxyURL),
		cfg,
	)

	log.Printf("Starting server on :%s (commit: %s)", cfg.Port, CommitSHA)
	if err := http.ListenAndServe(":"+cfg.Port, h.Router()); err != nil {
		log.Fatal(err)
	}
}
