// queue-inspect dumps a persisted delivery queue for debugging: how many
// batch records are waiting, at which priorities and retry counts, and how
// large the serialized form is.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/olakai/olakai-go/queue"
	"github.com/olakai/olakai-go/storage"
)

func main() {
	var (
		storageType = flag.String("type", "file", "storage type: memory|file|localstore|postgres")
		cacheDir    = flag.String("dir", "", "cache directory (default: ~/.olakai)")
		databaseURL = flag.String("database-url", os.Getenv("OLAKAI_DATABASE_URL"), "database URL for -type postgres")
		key         = flag.String("key", queue.DefaultStorageKey, "storage key holding the queue")
		verbose     = flag.Bool("v", false, "print each record")
	)
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync() //nolint:errcheck

	store := storage.New(context.Background(), storage.Options{
		Type:        storage.Type(*storageType),
		CacheDir:    *cacheDir,
		DatabaseURL: *databaseURL,
		Logger:      logger,
	})

	raw, ok := store.Get(*key)
	if !ok {
		fmt.Printf("no persisted queue under key %q\n", *key)
		return
	}

	var items []queue.Item
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		fmt.Fprintf(os.Stderr, "persisted queue is not valid JSON: %v\n", err)
		os.Exit(1)
	}

	payloads := 0
	byPriority := map[queue.Priority]int{}
	byRetries := map[int]int{}
	for _, it := range items {
		payloads += len(it.Payload)
		byPriority[it.Priority]++
		byRetries[it.Retries]++
	}

	fmt.Printf("key:        %s\n", *key)
	fmt.Printf("records:    %d\n", len(items))
	fmt.Printf("payloads:   %d\n", payloads)
	fmt.Printf("serialized: %d bytes\n", len(raw))
	for _, p := range []queue.Priority{queue.PriorityHigh, queue.PriorityNormal, queue.PriorityLow} {
		if n := byPriority[p]; n > 0 {
			fmt.Printf("  %-6s %d\n", p, n)
		}
	}
	for retries, n := range byRetries {
		fmt.Printf("  retries=%d: %d record(s)\n", retries, n)
	}

	if *verbose {
		for _, it := range items {
			fmt.Printf("%s  priority=%s retries=%d payloads=%d\n",
				it.ID, it.Priority, it.Retries, len(it.Payload))
		}
	}
}
