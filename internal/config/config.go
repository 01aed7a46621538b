// Package config assembles process configuration from the environment.
// The structs are built once at each process's composition root and handed
// to components explicitly; nothing reads the environment after startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/shlex"
)

type S3 struct {
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	AudioPath       string
	RSSPath         string
}

type Config struct {
	DatabaseURL string
	RedisAddr   string
	Port        string

	S3 S3

	TmpAudioDir string
	TmpRSSDir   string

	YtDlpBin    string
	CookiesPath string
	ProxyURL    string

	FFMpegBin       string
	FFMpegTimeout   time.Duration
	FFMpegExtraArgs []string

	MediaBaseURL string

	ProgressTTL     time.Duration
	ProgressChannel string
	JobRegistryTTL  time.Duration
}

// FromEnv reads the configuration with sensible defaults for local runs.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   envDefault("REDIS_ADDR", "127.0.0.1:6379"),
		Port:        envDefault("PORT", "8080"),
		S3: S3{
			EndpointURL:     os.Getenv("S3_STORAGE_URL"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			Region:          envDefault("S3_REGION", "us-east-1"),
			Bucket:          os.Getenv("S3_BUCKET_NAME"),
			AudioPath:       envDefault("S3_BUCKET_AUDIO_PATH", "audio"),
			RSSPath:         envDefault("S3_BUCKET_RSS_PATH", "rss"),
		},
		TmpAudioDir:     envDefault("TMP_AUDIO_DIR", os.TempDir()),
		TmpRSSDir:       envDefault("TMP_RSS_DIR", os.TempDir()),
		YtDlpBin:        envDefault("YT_DLP_BIN", "yt-dlp"),
		CookiesPath:     os.Getenv("YT_DLP_COOKIES"),
		ProxyURL:        os.Getenv("YT_DLP_PROXY"),
		FFMpegBin:       envDefault("FFMPEG_BIN", "ffmpeg"),
		MediaBaseURL:    envDefault("MEDIA_BASE_URL", "http://localhost:8080"),
		ProgressChannel: envDefault("PROGRESS_PUBSUB_CHANNEL", "progress:updates"),
	}

	var err error
	if cfg.FFMpegTimeout, err = envDuration("FFMPEG_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ProgressTTL, err = envDuration("PROGRESS_TTL", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.JobRegistryTTL, err = envDuration("JOB_REGISTRY_TTL", 6*time.Hour); err != nil {
		return nil, err
	}

	if extra := os.Getenv("FFMPEG_EXTRA_ARGS"); extra != "" {
		cfg.FFMpegExtraArgs, err = shlex.Split(extra)
		if err != nil {
			return nil, fmt.Errorf("invalid FFMPEG_EXTRA_ARGS: %w", err)
		}
	}

	return cfg, nil
}

func envDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
