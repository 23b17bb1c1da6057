package cli

import (
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"scrape-batch-manager/internal/config"
	"scrape-batch-manager/internal/model"
	"scrape-batch-manager/internal/runstore"
)

var (
	statusTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	statusMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	statusFailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	statusPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id from runs/<run_id> (default: latest)")
	runsDir := fs.String("runs-dir", "", "runs directory override")
	jsonOut := fs.Bool("json", false, "print JSON output")
	watch := fs.Bool("watch", false, "live view; refreshes until quit with q")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Load()
	baseRuns := strings.TrimSpace(*runsDir)
	if baseRuns == "" {
		baseRuns = cfg.RunsDir
	}

	runDir := ""
	if strings.TrimSpace(*runID) != "" {
		runDir = filepath.Join(baseRuns, strings.TrimSpace(*runID))
	} else {
		latest, err := runstore.LatestRunDir(baseRuns)
		if err != nil {
			return err
		}
		runDir = latest
	}

	if *watch {
		if !stdoutIsTTY() {
			return errors.New("status --watch requires an interactive terminal (TTY)")
		}
		return runWatch(runDir)
	}

	var mf model.RunManifest
	if err := runstore.ReadJSON(filepath.Join(runDir, "manifest.jobs.json"), &mf); err != nil {
		return err
	}

	if *jsonOut {
		return printJSON(mf)
	}
	fmt.Println(renderStatus(runDir, mf, launcherActive(runDir)))
	return nil
}

func launcherActive(runDir string) bool {
	return runstore.RunLockHeld(runDir)
}

func renderStatus(runDir string, mf model.RunManifest, active bool) string {
	var b strings.Builder
	b.WriteString(statusTitleStyle.Render("run "+mf.RunID) + "\n")
	b.WriteString(statusMutedStyle.Render(runDir) + "\n")

	state := statusMutedStyle.Render("idle")
	if active {
		state = statusOKStyle.Render("launcher active")
	} else if mf.Pending == 0 && mf.Launched == 0 {
		state = statusMutedStyle.Render("finished")
	}

	counts := fmt.Sprintf(
		"range [%d, %d]  total %d\npending %d  live %d  skipped %d  %s %d  %s %d",
		mf.BatchStart, mf.BatchEnd, mf.Total,
		mf.Pending, mf.Launched, mf.SkippedMissing,
		statusOKStyle.Render("succeeded"), mf.Succeeded,
		statusFailStyle.Render("failed"), mf.Failed,
	)
	b.WriteString(statusPanelStyle.Render(counts+"\n"+state) + "\n")

	failed := make([]model.Job, 0, 4)
	for _, j := range mf.Jobs {
		if j.Status == model.StatusFailed || j.Status == model.StatusKilled {
			failed = append(failed, j)
		}
	}
	if len(failed) > 0 {
		b.WriteString(statusFailStyle.Render("failed jobs:") + "\n")
		shown := failed
		if len(shown) > 8 {
			shown = shown[len(shown)-8:]
		}
		for _, j := range shown {
			line := fmt.Sprintf("  %03d exit=%d %s", j.Index, j.ExitCode, j.Reason)
			if j.LogPath != "" {
				line += "  " + statusMutedStyle.Render(j.LogPath)
			}
			b.WriteString(line + "\n")
		}
		if len(failed) > len(shown) {
			b.WriteString(statusMutedStyle.Render(fmt.Sprintf("  ... and %d more", len(failed)-len(shown))) + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
