package main

import (
	"log"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"podcast-service/internal/config"
	"podcast-service/pkg/tasks"
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

	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		&asynq.SchedulerOpts{},
	)

	// Periodic full regeneration catches feeds that missed an update, for
	// example when a publish succeeded but its feed upload failed.
	task, opts, err := tasks.NewGenerateRSSTask()
	if err != nil {
		log.Fatalf("could not create task: %v", err)
	}
	if _, err := scheduler.Register("@every 12h", task, opts...); err != nil {
		log.Fatalf("could not register task: %v", err)
	}

	log.Printf("Scheduler starting (commit: %s)", CommitSHA)
	if err := scheduler.Run(); err != nil {
		log.Fatalf("could not run scheduler: %v", err)
	}
}
