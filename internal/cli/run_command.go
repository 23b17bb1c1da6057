package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"scrape-batch-manager/internal/config"
	"scrape-batch-manager/internal/launcher"
	"scrape-batch-manager/internal/provision"
	"scrape-batch-manager/internal/runstore"
	"scrape-batch-manager/internal/s3sync"
)

func runLaunch(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	start := fs.Int("start", -1, "override BATCH_START")
	end := fs.Int("end", -1, "override BATCH_END")
	maxScrapers := fs.Int("max", -1, "override MAX_SCRAPERS")
	echo := fs.Bool("echo", false, "echo worker output to stdout")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Load()
	if *start >= 0 {
		cfg.BatchStart = *start
	}
	if *end >= 0 {
		cfg.BatchEnd = *end
	}
	if *maxScrapers > 0 {
		cfg.MaxConcurrency = *maxScrapers
	}
	if err := cfg.ValidateRun(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return launchBatch(ctx, cfg, *echo, *jsonOut)
}

func launchBatch(ctx context.Context, cfg config.Config, echo, jsonOut bool) error {
	summary, err := launcher.Run(ctx, launcher.Options{
		BatchStart:     cfg.BatchStart,
		BatchEnd:       cfg.BatchEnd,
		MaxConcurrency: cfg.MaxConcurrency,
		LaunchDelay:    cfg.LaunchDelay,
		PollInterval:   cfg.PollInterval,
		ShutdownGrace:  cfg.ShutdownGrace,
		RunsDir:        cfg.RunsDir,
		WorkerPath:     cfg.WorkerPath,
		VenvPath:       cfg.VenvPath,
		InputPathFor:   cfg.InputPath,
		EchoOutput:     echo,
	})
	if err != nil && !errors.Is(err, launcher.ErrInterrupted) {
		return err
	}

	if jsonOut {
		if printErr := printJSON(summary); printErr != nil {
			return printErr
		}
	} else {
		printSummary(summary)
	}

	// Individual job failures are reported, not fatal; interruption is.
	return err
}

func printSummary(s launcher.Summary) {
	fmt.Printf("run_id: %s\n", s.RunID)
	fmt.Printf("run_dir: %s\n", s.RunDir)
	fmt.Printf("total: %d\n", s.Total)
	fmt.Printf("attempted: %d\n", s.Attempted)
	fmt.Printf("skipped_missing: %d\n", s.SkippedMissing)
	fmt.Printf("succeeded: %d\n", s.Succeeded)
	fmt.Printf("failed: %d\n", s.Failed)
	if s.Interrupted {
		fmt.Println("interrupted: true")
	}
	fmt.Printf("details: %s, %s\n", s.MissingRecordPath, s.FailedRecordPath)
}

func runFull(args []string) error {
	fs := flag.NewFlagSet("full", flag.ContinueOnError)
	skipProvision := fs.Bool("skip-provision", false, "skip host provisioning")
	dryRunProvision := fs.Bool("provision-dry-run", false, "print provisioning commands without executing")
	echo := fs.Bool("echo", false, "echo worker output to stdout")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !*skipProvision {
		if _, err := provision.Run(ctx, provision.Options{
			RepoURL:  cfg.RepoURL,
			RepoDir:  cfg.RepoDir,
			VenvPath: cfg.VenvPath,
			DryRun:   *dryRunProvision,
		}); err != nil {
			return err
		}
	}

	syncConfigured := cfg.ValidateSync() == nil
	if syncConfigured {
		if err := s3sync.Pull(ctx, s3sync.Options{
			Bucket:      cfg.Bucket,
			InputPrefix: cfg.S3InputPrefix,
			InputDir:    cfg.InputDir,
		}); err != nil {
			return err
		}
	} else {
		fmt.Println("sync skipped: AWS_BUCKET not set")
	}

	if err := cfg.ValidateRun(); err != nil {
		return err
	}
	if err := launchBatch(ctx, cfg, *echo, *jsonOut); err != nil {
		return err
	}

	if syncConfigured {
		latest, err := runstore.LatestRunDir(cfg.RunsDir)
		if err != nil {
			return err
		}
		if err := s3sync.Push(ctx, s3sync.Options{
			Bucket:       cfg.Bucket,
			OutputPrefix: cfg.S3OutputPrefix,
			OutputDir:    latest,
		}); err != nil {
			return err
		}
	}
	return nil
}
