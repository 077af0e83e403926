package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agoraetl/internal/metrics/datadog"

	// register all manifest backends with the storage factory.
	_ "agoraetl/internal/storage/all"
)

// main wires real dependencies and exits with the command's code.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(deps{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		BackendFactory: func(ctx context.Context, jobName string, tags []string) (backendCloser, error) {
			return datadog.NewBackend(ctx, datadog.Options{
				JobName:    jobName,
				Tags:       tags,
				FlushEvery: 60 * time.Second,
			})
		},
	})
	if err := cmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
