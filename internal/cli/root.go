package cli

import (
	"fmt"
	"os"
)

// Run dispatches the subcommand. With no arguments the full pipeline runs:
// provision, pull inputs, launch the batch, push results.
func Run(args []string) error {
	if len(args) == 0 {
		return runFull(nil)
	}

	switch args[0] {
	case "provision":
		return runProvision(args[1:])
	case "sync":
		return runSyncCmd(args[1:])
	case "run":
		return runLaunch(args[1:])
	case "full":
		return runFull(args[1:])
	case "status":
		return runStatus(args[1:])
	case "doctor":
		return runDoctor(args[1:])
	case "init":
		return runInit(args[1:])
	case "help", "-h", "--help":
		printRootUsage(os.Stdout)
		return nil
	default:
		printRootUsage(os.Stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage(w *os.File) {
	fmt.Fprintln(w, "scrape-batch-manager: provision a scraping host and launch bounded batches of scraper workers")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  scrape-batch-manager [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  full       provision, pull inputs from S3, run the batch, push results (default)")
	fmt.Fprintln(w, "  provision  install host packages, clone/update the scraper repo, build the venv")
	fmt.Fprintln(w, "  sync       sync batch inputs and run artifacts with S3")
	fmt.Fprintln(w, "  run        launch workers for the configured batch range")
	fmt.Fprintln(w, "  status     summary for the latest (or a named) run; --watch for a live view")
	fmt.Fprintln(w, "  doctor     run dependency and filesystem preflight checks")
	fmt.Fprintln(w, "  init       create workspace directories and a starter .env")
	fmt.Fprintln(w, "  help       show this help")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration comes from the environment (optionally via .env); see init.")
	fmt.Fprintln(w, "Use --json on commands for machine-readable output.")
}
