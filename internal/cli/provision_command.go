package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"scrape-batch-manager/internal/config"
	"scrape-batch-manager/internal/provision"
)

func runProvision(args []string) error {
	fs := flag.NewFlagSet("provision", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "print provisioning commands without executing")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := provision.Run(ctx, provision.Options{
		RepoURL:  cfg.RepoURL,
		RepoDir:  cfg.RepoDir,
		VenvPath: cfg.VenvPath,
		DryRun:   *dryRun,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(result)
	}
	for _, s := range result.Skipped {
		fmt.Println("skipped:", s)
	}
	fmt.Println("provisioning complete")
	return nil
}

func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Load()
	result := provision.Doctor(provision.DoctorOptions{
		WorkerPath: cfg.WorkerPath,
		VenvPath:   cfg.VenvPath,
		InputDir:   cfg.InputDir,
		RunsDir:    cfg.RunsDir,
	})
	if *jsonOut {
		return printJSON(result)
	}
	for _, c := range result.Checks {
		mark := "ok"
		if !c.OK {
			mark = "FAIL"
		}
		fmt.Printf("%-4s %-24s %s\n", mark, c.Name, c.Message)
	}
	if !result.OK {
		return fmt.Errorf("doctor found problems")
	}
	return nil
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	envPath := fs.String("env", ".env", "path for the starter .env file")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Load()
	result, err := provision.InitWorkspace(provision.InitWorkspaceOptions{
		InputDir: cfg.InputDir,
		RunsDir:  cfg.RunsDir,
		EnvPath:  *envPath,
		Doctor: provision.DoctorOptions{
			WorkerPath: cfg.WorkerPath,
			VenvPath:   cfg.VenvPath,
			InputDir:   cfg.InputDir,
			RunsDir:    cfg.RunsDir,
		},
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(result)
	}
	fmt.Printf("input_dir: %s\n", result.InputDir)
	fmt.Printf("runs_dir: %s\n", result.RunsDir)
	if result.CreatedEnv {
		fmt.Printf("created %s: fill in SCRAPER_PATH and AWS_BUCKET\n", result.EnvPath)
	}
	for _, c := range result.DoctorResult.Checks {
		if !c.OK {
			fmt.Printf("warn: %s: %s\n", c.Name, c.Message)
		}
	}
	return nil
}
