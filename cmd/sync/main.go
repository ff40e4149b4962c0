// Command sync runs a full sync, or syncs single posts, from the terminal
// without going through the HTTP trigger surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/meghashyamc/presssync/config"
	"github.com/meghashyamc/presssync/content"
	"github.com/meghashyamc/presssync/db/contentdb"
	"github.com/meghashyamc/presssync/db/kvdb"
	"github.com/meghashyamc/presssync/db/searchdb"
	"github.com/meghashyamc/presssync/logger"
	"github.com/meghashyamc/presssync/metrics"
	"github.com/meghashyamc/presssync/services/document"
	"github.com/meghashyamc/presssync/services/index"
)

func main() {
	godotenv.Load()

	env := flag.String("env", os.Getenv("ENV"), "config environment to load")
	batchSize := flag.Int("batch-size", 0, "posts per bulk request, overrides sync.batch_size")
	postID := flag.Int64("post", 0, "sync only this post")
	deleteID := flag.Int64("delete", 0, "remove only this post from the index")
	recreate := flag.Bool("recreate", false, "delete and recreate the index before syncing")
	flag.Parse()

	cfg, err := config.Load(*env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %s\n", err)
		os.Exit(1)
	}
	if *batchSize > 0 {
		cfg.Set("sync.batch_size", *batchSize)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, cfg, *postID, *deleteID, *recreate); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, postID int64, deleteID int64, recreate bool) error {
	log := logger.New(cfg.GetLogLevel())
	m := metrics.New()

	kv, err := kvdb.New(log, cfg)
	if err != nil {
		return err
	}
	defer kv.Close()

	engine, err := searchdb.New(log, cfg, m)
	if err != nil {
		return err
	}

	store, err := contentdb.New(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	registry, err := content.LoadRegistry(cfg.GetRegistryPath())
	if err != nil {
		return err
	}
	policy, err := document.NewPolicy(cfg.GetIndexFilter())
	if err != nil {
		return err
	}
	mapper := document.New(log, store, registry, document.NewConfigAllowList(cfg.GetMetaFields()), policy, document.OptionsFromConfig(cfg))

	// a terminal sync does not hand batches to a scheduler, so its progress
	// stays out of the server's persisted state
	service := index.New(log, store, mapper, engine, index.NewMemoryStateStore(), kvdb.NewSettings(kv), m, cfg.GetBatchSize())

	switch {
	case deleteID > 0:
		if err := service.DeletePost(ctx, deleteID); err != nil {
			return err
		}
		fmt.Printf("post %d removed from %s\n", deleteID, engine.Index())
		return nil
	case postID > 0:
		if err := service.IndexPost(ctx, postID); err != nil {
			return err
		}
		fmt.Printf("post %d synced to %s\n", postID, engine.Index())
		return nil
	}

	if recreate {
		log.Info("recreating index", "index", engine.Index())
		if err := engine.DeleteIndex(searchdb.Background(ctx)); err != nil {
			return fmt.Errorf("failed to delete index: %w", err)
		}
	}
	if err := service.PrepareIndex(searchdb.Background(ctx)); err != nil {
		return err
	}

	state, err := service.RunToCompletion(ctx)
	if state != nil {
		for severity, messages := range state.Messages {
			for _, message := range messages {
				fmt.Printf("[%s] %s\n", severity, message)
			}
		}
	}
	if err != nil {
		return err
	}
	fmt.Println(state.Summary())
	return nil
}
