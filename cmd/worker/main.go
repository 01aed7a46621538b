package main

import (
	"context"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"podcast-service/internal/config"
	"podcast-service/internal/db"
	"podcast-service/internal/jobs"
	"podcast-service/internal/media"
	"podcast-service/internal/progress"
	"podcast-service/internal/storage"
	"podcast-service/internal/worker"
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

	s3Client, err := storage.New(context.Background(), storage.Config{
		EndpointURL:     cfg.S3.EndpointURL,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		Region:          cfg.S3.Region,
		Bucket:          cfg.S3.Bucket,
	})
	if err != nil {
		log.Fatalf("could not create storage client: %v", err)
	}

	handler := worker.NewTaskHandler(worker.Deps{
		Store:      store,
		Progress:   progress.New(rdb, cfg.ProgressTTL, cfg.ProgressChannel),
		Registry:   jobs.New(rdb, cfg.JobRegistryTTL),
		Storage:    s3Client,
		Downloader: media.NewDownloader(cfg.YtDlpBin, cfg.CookiesPath, cfg.ProxyURL),
		Transcoder: media.NewTranscoder(cfg.FFMpegBin, cfg.TmpAudioDir, cfg.FFMpegTimeout, cfg.FFMpegExtraArgs),
		Config:     cfg,
	})

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		asynq.Config{
			// One concurrent media job keeps ffmpeg and the external
			// platforms from being hammered from a single box.
			Concurrency: 1,
			Queues: map[string]int{
				"high":    2,
				"default": 1,
			},
			// Custom retry delay function for exponential backoff
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := 5 * time.Minute
				maxDelay := 24 * time.Hour

				// Exponential backoff: 5min, 10min, 20min, 40min, 80min, etc.
				for i := 0; i < n; i++ {
					delay *= 2
					if delay > maxDelay {
						delay = maxDelay
						break
					}
				}

				log.Printf("Task %s failed %d times, retrying in %v", task.Type(), n+1, delay)
				return delay
			},
		},
	)

	mux := asynq.NewServeMux()
	handler.Register(mux)

	log.Printf("Worker starting (commit: %s)", CommitSHA)
	if err := srv.Run(mux); err != nil {
		log.Fatalf("could not run server: %v", err)
	}
}
