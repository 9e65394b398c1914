// seed schedules a handful of webhook-call tasks against a local dev
// MongoDB, exercising the happy path, failure, and timeout behaviors.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nullcrew/taskforge/config"
	"github.com/nullcrew/taskforge/task"
	"github.com/nullcrew/taskforge/task/mongostore"
)

type taskSpec struct {
	key     string
	url     string
	method  string
	retries int
	timeout time.Duration
}

var specs = []taskSpec{
	// Happy path — 2xx from httpbin, should complete.
	{"seed-001", "https://httpbin.org/post", "POST", 3, 30 * time.Second},
	{"seed-002", "https://httpbin.org/get", "GET", 3, 30 * time.Second},
	{"seed-003", "https://httpbin.org/post", "POST", 3, 30 * time.Second},

	// Fails — server returns 500/503; a failed task is not retried.
	{"seed-004", "https://httpbin.org/status/500", "POST", 3, 30 * time.Second},
	{"seed-005", "https://httpbin.org/status/503", "POST", 2, 30 * time.Second},

	// Not found — fails without retry benefit, still worth observing.
	{"seed-006", "https://httpbin.org/status/404", "GET", 1, 30 * time.Second},

	// Times out — httpbin delay exceeds the task's own timeout.
	{"seed-007", "https://httpbin.org/delay/35", "GET", 1, 10 * time.Second},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("mongo: %v", err)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	coll := client.Database(cfg.MongoDB).Collection("tasks")
	if err := mongostore.EnsureIndexes(ctx, coll); err != nil {
		log.Fatalf("mongo indexes: %v", err)
	}

	store := mongostore.New(coll)
	scheduler := task.NewScheduler(store, task.NewRegistry())

	scheduledAt := time.Now().Add(1 * time.Minute)
	var ids []string
	for _, spec := range specs {
		params := map[string]any{
			"url":    spec.url,
			"method": spec.method,
		}
		t, err := scheduler.Schedule(ctx, "webhook.call", scheduledAt, params,
			task.WithTimeout(spec.timeout),
			task.WithRetryOnTimeoutCount(spec.retries),
		)
		if err != nil {
			log.Fatalf("schedule %s: %v", spec.key, err)
		}
		ids = append(ids, t.ID)
	}

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  Tasks created: %d\n", len(ids))
	fmt.Printf("  Scheduled at:  %s (~1 minute from now)\n", scheduledAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("  Task IDs:")
	for _, id := range ids {
		fmt.Printf("    %s\n", id)
	}
	fmt.Println()
	fmt.Println("How to test:")
	fmt.Println()
	fmt.Println("  Start the worker, wait ~1 minute, then inspect a task:")
	fmt.Println()
	fmt.Println("    curl -s http://localhost:8080/tasks/TASK_ID")
	fmt.Println()
	fmt.Println("  What to expect:")
	fmt.Println("    seed-001..003  ->  succeeded (2xx from httpbin)")
	fmt.Println("    seed-004..005  ->  failed (5xx)")
	fmt.Println("    seed-006       ->  failed (404, no retry benefit)")
	fmt.Println("    seed-007       ->  failed, \"Task timed out after 10000 ms\" (35s delay > 10s timeout)")
}
