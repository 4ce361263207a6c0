// Command demo pushes a few sample tasks through an in-process orchestrator
// backed by the memory store and the local providers, and prints each result.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"task-orchestrator/internal/config"
	"task-orchestrator/internal/domain/model"
	"task-orchestrator/internal/infra/adapters/capability"
	"task-orchestrator/internal/infra/db/memory"
	"task-orchestrator/internal/infra/logging"
	"task-orchestrator/internal/infra/worker"
	"task-orchestrator/internal/usecase"
)

var samples = []string{
	"create company plan for an AI bookkeeping startup",
	"design a logo for my bakery",
	"generate a product video",
	"run the deploy command",
	"the weather is nice today",
}

func main() {
	dryRun := flag.Bool("dry-run", false, "plan only, call no capability")
	mediaURL := flag.String("media-url", "http://127.0.0.1:8000", "local media service")
	verbose := flag.Bool("v", false, "log pipeline events")
	flag.Parse()

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger := logging.New(config.LogConfig{Level: level, Format: "console"}, true)

	media := capability.NewLocalMediaProvider(*mediaURL, 30*time.Second)
	registry := capability.NewRegistry().
		Register(model.CapabilityPlan, capability.LocalPlanProvider{}).
		Register(model.CapabilitySearch, capability.NewWikipediaSearchProvider("https://en.wikipedia.org/w/api.php", 10*time.Second)).
		Register(model.CapabilityImage, media).
		Register(model.CapabilityVideo, media).
		Register(model.CapabilityCommand, capability.CommandProvider{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := worker.NewJobQueue(memory.NewJobRepo(), registry, worker.NewPool(2, 16, logger), nil, worker.JobQueueConfig{}, logger)
	if err := queue.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "queue: %v\n", err)
		os.Exit(1)
	}
	defer queue.Stop()

	store := usecase.NewRunStore(memory.NewTaskRunRepo(), nil, logger)
	exec := usecase.NewExecutor(store, registry, queue, nil, usecase.ExecutorConfig{}, logger)
	tasks := usecase.NewTaskUseCase(usecase.NewIntentResolver(), usecase.NewPlanner(), exec, store, nil, usecase.TaskConfig{DefaultWait: 2 * time.Minute}, logger)
	defer tasks.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, task := range samples {
		res, err := tasks.Submit(ctx, usecase.SubmitRequest{Task: task, DryRun: *dryRun})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%q: %v\n", task, err)
			continue
		}
		fmt.Printf("== %s -> %s\n", task, res.Run.Status())
		_ = enc.Encode(res.Run)
	}
}
