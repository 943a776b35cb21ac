package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"tandem/activity"
	"tandem/storage"
)

func main() {
	_ = godotenv.Load()
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}
	queue, err := storage.NewActivityQueue(connStr, getEnv("ACTIVITY_QUEUE", "board-events"))
	if err != nil {
		log.Fatalf("queue: %v", err)
	}
	table, err := storage.NewActivityLog(connStr, getEnv("ACTIVITY_TABLE", "activity"))
	if err != nil {
		log.Fatalf("table: %v", err)
	}

	batch := int32(16)
	if v, err := strconv.Atoi(os.Getenv("ACTIVITY_BATCH")); err == nil {
		batch = int32(v)
	}
	visibility := getEnvDuration("ACTIVITY_VISIBILITY", 30*time.Second)
	idle := getEnvDuration("ACTIVITY_IDLE", time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("activity worker started")
	err = activity.NewWorker(queue, table, batch, visibility, idle).Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("worker: %v", err)
	}
	log.Info("activity worker stopped")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return def
}
