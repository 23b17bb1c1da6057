package provision

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"scrape-batch-manager/internal/runstore"
	"scrape-batch-manager/internal/scraper"
)

type DoctorOptions struct {
	WorkerPath string
	VenvPath   string
	InputDir   string
	RunsDir    string
}

type DoctorResult struct {
	OK     bool          `json:"ok"`
	Checks []DoctorCheck `json:"checks"`
}

type DoctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type InitWorkspaceOptions struct {
	InputDir string
	RunsDir  string
	EnvPath  string
	Doctor   DoctorOptions
}

type InitWorkspaceResult struct {
	InputDir     string       `json:"input_dir"`
	RunsDir      string       `json:"runs_dir"`
	EnvPath      string       `json:"env_path"`
	CreatedDirs  bool         `json:"created_dirs"`
	CreatedEnv   bool         `json:"created_env"`
	DoctorResult DoctorResult `json:"doctor"`
}

// Doctor runs the preflight checks the run subcommand depends on.
func Doctor(opts DoctorOptions) DoctorResult {
	checks := make([]DoctorCheck, 0, 5)

	dep := scraper.DependencyStatus(opts.WorkerPath, opts.VenvPath)
	checks = append(checks, DoctorCheck{
		Name:    "dependency:worker",
		OK:      dep.WorkerFound,
		Message: dependencyMessage(dep.WorkerFound, dep.WorkerPath, "scraper worker script"),
	})
	checks = append(checks, DoctorCheck{
		Name:    "dependency:interpreter",
		OK:      dep.InterpreterFound,
		Message: dependencyMessage(dep.InterpreterFound, dep.InterpreterPath, "python interpreter"),
	})
	checks = append(checks, DoctorCheck{
		Name:    "dependency:aws-cli",
		OK:      dep.AWSCLIFound,
		Message: dependencyMessage(dep.AWSCLIFound, dep.AWSCLIPath, "aws"),
	})

	inputOK, inputMessage := ensureWritableDir(opts.InputDir)
	checks = append(checks, DoctorCheck{
		Name:    "directory:input",
		OK:      inputOK,
		Message: inputMessage,
	})

	runsOK, runsMessage := ensureWritableDir(opts.RunsDir)
	checks = append(checks, DoctorCheck{
		Name:    "directory:runs",
		OK:      runsOK,
		Message: runsMessage,
	})

	ok := true
	for _, c := range checks {
		if !c.OK {
			ok = false
			break
		}
	}
	return DoctorResult{OK: ok, Checks: checks}
}

// InitWorkspace creates the working directories and a starter .env, then
// reports doctor status. Existing files are never overwritten.
func InitWorkspace(opts InitWorkspaceOptions) (InitWorkspaceResult, error) {
	res := InitWorkspaceResult{
		InputDir: opts.InputDir,
		RunsDir:  opts.RunsDir,
		EnvPath:  opts.EnvPath,
	}

	for _, dir := range []string{opts.InputDir, opts.RunsDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := runstore.Mkdir(dir); err != nil {
				return res, err
			}
			res.CreatedDirs = true
		}
	}

	envPath := strings.TrimSpace(opts.EnvPath)
	if envPath != "" {
		if _, err := os.Stat(envPath); os.IsNotExist(err) {
			if err := os.WriteFile(envPath, []byte(envTemplate), 0o644); err != nil {
				return res, fmt.Errorf("write env template %s: %w", envPath, err)
			}
			res.CreatedEnv = true
		}
	}

	res.DoctorResult = Doctor(opts.Doctor)
	return res, nil
}

const envTemplate = `# scrape-batch-manager configuration
BATCH_START=1
BATCH_END=100
MAX_SCRAPERS=5
LAUNCH_DELAY=2s
POLL_INTERVAL=5s
SHUTDOWN_GRACE=10s
INPUT_DIR=to_process
INPUT_PREFIX=lawyers
RUNS_DIR=runs
SCRAPER_PATH=
VENV_PATH=
AWS_BUCKET=
S3_INPUT_PREFIX=to_process
S3_OUTPUT_PREFIX=processed
REPO_URL=
REPO_DIR=
`

func dependencyMessage(found bool, path, name string) string {
	if found {
		return "found at " + path
	}
	return name + " not found"
}

func ensureWritableDir(dir string) (bool, string) {
	d := strings.TrimSpace(dir)
	if d == "" {
		return false, "directory not configured"
	}
	info, err := os.Stat(d)
	if err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Sprintf("%s does not exist (run init)", d)
		}
		return false, fmt.Sprintf("stat %s: %v", d, err)
	}
	if !info.IsDir() {
		return false, fmt.Sprintf("%s is not a directory", d)
	}
	probe := filepath.Join(d, ".write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return false, fmt.Sprintf("%s is not writable: %v", d, err)
	}
	_ = os.Remove(probe)
	return true, fmt.Sprintf("%s is writable", d)
}
