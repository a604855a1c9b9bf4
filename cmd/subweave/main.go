package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/subweave/subweave/internal/buildinfo"
	"github.com/subweave/subweave/internal/config"
)

func main() {
	mode := "run"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch mode {
	case "run":
		if envCfg.RunSchedule != "" {
			err = runDaemon(ctx, envCfg)
		} else {
			err = runOnce(ctx, envCfg)
		}
	case "report":
		err = runReport(ctx, envCfg)
	case "version":
		fmt.Printf("subweave %s (%s, built %s)\n",
			buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime)
	default:
		fmt.Fprintf(os.Stderr, "usage: subweave [run|report|version]\n")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// runDaemon executes the pipeline once at startup and then on the configured
// cron schedule until a termination signal arrives. A failed run keeps the
// daemon alive; persistent problems surface in the logs and the run report.
func runDaemon(ctx context.Context, cfg *config.EnvConfig) error {
	if err := runOnce(ctx, cfg); err != nil {
		if ctx.Err() != nil {
			return err
		}
		log.Printf("[daemon] run failed: %v", err)
	}

	c := cron.New()
	_, err := c.AddFunc(cfg.RunSchedule, skipOverlapping(func() {
		if err := runOnce(ctx, cfg); err != nil {
			log.Printf("[daemon] run failed: %v", err)
		}
	}))
	if err != nil {
		return fmt.Errorf("daemon: schedule %q: %w", cfg.RunSchedule, err)
	}
	c.Start()
	log.Printf("[daemon] scheduled runs with %q", cfg.RunSchedule)

	<-ctx.Done()
	log.Printf("[daemon] shutting down")
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return nil
}

// skipOverlapping drops job invocations that arrive while a previous one is
// still running. The store is single-writer; two concurrent runs over the
// same state directory must never happen.
func skipOverlapping(job func()) func() {
	var mu sync.Mutex
	return func() {
		if !mu.TryLock() {
			log.Printf("[daemon] previous run still in progress, skipping")
			return
		}
		defer mu.Unlock()
		job()
	}
}
