package cli

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"scrape-batch-manager/internal/config"
	"scrape-batch-manager/internal/runstore"
	"scrape-batch-manager/internal/s3sync"
)

func runSyncCmd(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	pull := fs.Bool("pull", false, "only pull batch inputs from S3")
	push := fs.Bool("push", false, "only push run artifacts to S3")
	runDir := fs.String("run-dir", "", "run directory to push (default: latest)")
	dryRun := fs.Bool("dry-run", false, "show transfers without executing them")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pull && *push {
		return errors.New("--pull and --push are mutually exclusive (omit both to do both)")
	}

	cfg := config.Load()
	if err := cfg.ValidateSync(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	doPull := !*push
	doPush := !*pull

	if doPull {
		if err := s3sync.Pull(ctx, s3sync.Options{
			Bucket:      cfg.Bucket,
			InputPrefix: cfg.S3InputPrefix,
			InputDir:    cfg.InputDir,
			DryRun:      *dryRun,
		}); err != nil {
			return err
		}
	}

	if doPush {
		target := *runDir
		if target == "" {
			latest, err := runstore.LatestRunDir(cfg.RunsDir)
			if err != nil {
				// Nothing to push is not an error for the combined sync.
				if *push {
					return err
				}
				return nil
			}
			target = latest
		}
		if err := s3sync.Push(ctx, s3sync.Options{
			Bucket:       cfg.Bucket,
			OutputPrefix: cfg.S3OutputPrefix,
			OutputDir:    target,
			DryRun:       *dryRun,
		}); err != nil {
			return err
		}
	}
	return nil
}
