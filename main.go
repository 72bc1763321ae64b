package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/cloudai/taskmaster/internal/admincli"
	"github.com/cloudai/taskmaster/internal/app"
	"github.com/cloudai/taskmaster/internal/communicator"
	"github.com/cloudai/taskmaster/internal/config"
	"github.com/cloudai/taskmaster/internal/launcher"
	"github.com/cloudai/taskmaster/internal/localpool"
	"github.com/cloudai/taskmaster/internal/umbilical"
)

func main() {
	cfg := config.LoadConfig()

	applicationAttemptId := fmt.Sprintf("app_%s_000001", uuid.NewString())
	driver := app.NewDriver(applicationAttemptId, umbilical.Credentials{Token: []byte("bootstrap-credentials")})
	log.Printf("✓ application driver initialized (%s)", applicationAttemptId)

	comm := communicator.NewService(cfg, driver)
	if err := comm.Start(); err != nil {
		log.Fatalf("failed to start task communicator: %v", err)
	}
	log.Printf("✓ task communicator listening at %s", comm.GetAddress())

	pool := localpool.New(cfg.InlineExecutorMaxTasks)
	log.Printf("✓ local worker pool started (%d workers)", cfg.InlineExecutorMaxTasks)

	broadcaster := launcher.NewBroadcaster()
	eventsAddr, stopEventsFeed, err := broadcaster.Serve(cfg.EventsAddr)
	if err != nil {
		log.Fatalf("failed to start live event feed: %v", err)
	}
	log.Printf("✓ live event feed listening at ws://%s/events", eventsAddr)

	launch := launcher.New(pool, broadcaster, simulatedPayloadFactory).WithApplicationAttemptId(applicationAttemptId)
	launch.Run()
	log.Println("✓ local container launcher event loop started")

	console := admincli.New(comm, launch, driver)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	consoleDone := make(chan error, 1)
	go func() { consoleDone <- console.Run() }()

	select {
	case <-shutdown:
		log.Println("shutting down task-dispatch subsystem...")
	case err := <-consoleDone:
		if err != nil {
			log.Printf("admin console exited with error: %v", err)
		}
		log.Println("admin console closed, shutting down...")
	}

	launch.Stop()
	pool.Stop()
	comm.Stop()
	stopEventsFeed()
	log.Println("shutdown complete")
}

// simulatedPayloadFactory builds an in-process stand-in for a real task
// attempt payload. The actual payload (what a worker container runs) is
// outside this subsystem's scope; this exists so the launcher and local
// worker pool have something real to exercise end to end.
func simulatedPayloadFactory(id umbilical.ContainerId, lc launcher.LaunchContext) (localpool.TaskRunner, error) {
	return func(ctx context.Context) localpool.ExecutionResult {
		work := time.Duration(200+rand.Intn(800)) * time.Millisecond
		log.Printf("[container %s] running simulated payload for %s", id, work)

		select {
		case <-time.After(work):
			return localpool.ExecutionResult{ExitStatus: localpool.ExitSuccess}
		case <-ctx.Done():
			return localpool.ExecutionResult{ExitStatus: localpool.ExitAskedToDie}
		}
	}, nil
}
