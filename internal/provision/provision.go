package provision

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Step is one provisioning command. Steps run sequentially; a failure stops
// the remainder because later steps depend on earlier ones.
type Step struct {
	Name    string   `json:"name"`
	Command []string `json:"command"`
}

type Options struct {
	RepoURL     string
	RepoDir     string
	VenvPath    string
	AptPackages []string
	DryRun      bool
	Output      io.Writer
}

type StepResult struct {
	Name    string `json:"name"`
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type Result struct {
	OK      bool         `json:"ok"`
	DryRun  bool         `json:"dry_run"`
	Steps   []StepResult `json:"steps"`
	Skipped []string     `json:"skipped,omitempty"`
}

// DefaultAptPackages covers the scraping host baseline: the Python runtime
// for the workers, git for the scraper repo, and the AWS CLI for S3 sync.
var DefaultAptPackages = []string{
	"python3",
	"python3-venv",
	"python3-pip",
	"git",
	"awscli",
	"jq",
}

// Plan resolves the step list for the current host state. Clone vs pull and
// venv creation are decided by what is already on disk, so re-provisioning
// an existing host is safe.
func Plan(opts Options) ([]Step, []string) {
	pkgs := opts.AptPackages
	if len(pkgs) == 0 {
		pkgs = DefaultAptPackages
	}

	steps := []Step{
		{Name: "apt update", Command: []string{"apt-get", "update", "-y"}},
		{Name: "apt install", Command: append([]string{"apt-get", "install", "-y"}, pkgs...)},
	}
	skipped := []string{}

	repoDir := strings.TrimSpace(opts.RepoDir)
	repoURL := strings.TrimSpace(opts.RepoURL)
	switch {
	case repoDir == "" || repoURL == "":
		skipped = append(skipped, "repo: REPO_URL/REPO_DIR not configured")
	case dirExists(filepath.Join(repoDir, ".git")):
		steps = append(steps, Step{Name: "repo update", Command: []string{"git", "-C", repoDir, "pull", "--ff-only"}})
	default:
		steps = append(steps, Step{Name: "repo clone", Command: []string{"git", "clone", repoURL, repoDir}})
	}

	venv := strings.TrimSpace(opts.VenvPath)
	switch {
	case venv == "":
		skipped = append(skipped, "venv: VENV_PATH not configured")
	case dirExists(venv):
		skipped = append(skipped, "venv: already present at "+venv)
	default:
		steps = append(steps, Step{Name: "venv create", Command: []string{"python3", "-m", "venv", venv}})
	}

	if venv != "" && repoDir != "" {
		req := filepath.Join(repoDir, "requirements.txt")
		if fileExists(req) || !opts.DryRun {
			steps = append(steps, Step{
				Name:    "pip install",
				Command: []string{filepath.Join(venv, "bin", "pip"), "install", "-r", req},
			})
		}
	}

	return steps, skipped
}

// Run executes the provisioning plan. Output from each step is streamed to
// opts.Output. The first failing step aborts the run.
func Run(ctx context.Context, opts Options) (Result, error) {
	steps, skipped := Plan(opts)
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	result := Result{OK: true, DryRun: opts.DryRun, Skipped: skipped}
	for _, step := range steps {
		cmdLine := strings.Join(step.Command, " ")
		if opts.DryRun {
			result.Steps = append(result.Steps, StepResult{Name: step.Name, Command: cmdLine, OK: true, Message: "dry-run"})
			fmt.Fprintf(out, "[dry-run] %s: %s\n", step.Name, cmdLine)
			continue
		}

		fmt.Fprintf(out, "==> %s: %s\n", step.Name, cmdLine)
		cmd := exec.CommandContext(ctx, step.Command[0], step.Command[1:]...)
		cmd.Stdout = out
		cmd.Stderr = out
		if err := cmd.Run(); err != nil {
			result.OK = false
			result.Steps = append(result.Steps, StepResult{Name: step.Name, Command: cmdLine, OK: false, Message: err.Error()})
			return result, fmt.Errorf("provision step %q: %w", step.Name, err)
		}
		result.Steps = append(result.Steps, StepResult{Name: step.Name, Command: cmdLine, OK: true})
	}
	return result, nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
