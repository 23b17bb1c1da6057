package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
	"unicode/utf8"

	"scrape-batch-manager/internal/model"
	"scrape-batch-manager/internal/runstore"
)

type harness struct {
	dir      string
	inputDir string
	runsDir  string
	worker   string
}

func newHarness(t *testing.T, workerScript string) harness {
	t.Helper()
	dir := t.TempDir()
	h := harness{
		dir:      dir,
		inputDir: filepath.Join(dir, "to_process"),
		runsDir:  filepath.Join(dir, "runs"),
		worker:   filepath.Join(dir, "worker.sh"),
	}
	if err := os.MkdirAll(h.inputDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(h.worker, []byte(workerScript), 0o755); err != nil {
		t.Fatal(err)
	}
	return h
}

func (h harness) inputPath(index int) string {
	return filepath.Join(h.inputDir, fmt.Sprintf("lawyers_%03d.json", index))
}

func (h harness) writeInput(t *testing.T, index int, content string) {
	t.Helper()
	if err := os.WriteFile(h.inputPath(index), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (h harness) options(start, end, max int) Options {
	return Options{
		BatchStart:     start,
		BatchEnd:       end,
		MaxConcurrency: max,
		LaunchDelay:    10 * time.Millisecond,
		PollInterval:   time.Second,
		ShutdownGrace:  3 * time.Second,
		RunsDir:        h.runsDir,
		WorkerPath:     h.worker,
		InputPathFor:   h.inputPath,
	}
}

func loadManifest(t *testing.T, path string) model.RunManifest {
	t.Helper()
	var mf model.RunManifest
	if err := runstore.ReadJSON(path, &mf); err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	return mf
}

func TestRun_SkipsMissingInputsAndCompletesRest(t *testing.T) {
	h := newHarness(t, `#!/usr/bin/env bash
echo "processing $1"
exit 0
`)
	h.writeInput(t, 1, "{}")
	h.writeInput(t, 2, "{}")
	h.writeInput(t, 4, "{}")

	summary, err := Run(context.Background(), h.options(1, 5, 2))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if summary.Total != 5 {
		t.Fatalf("expected total=5, got %d", summary.Total)
	}
	if summary.Attempted != 3 {
		t.Fatalf("expected attempted=3, got %d", summary.Attempted)
	}
	if summary.SkippedMissing != 2 {
		t.Fatalf("expected skipped_missing=2, got %d", summary.SkippedMissing)
	}
	if summary.Succeeded != 3 {
		t.Fatalf("expected succeeded=3, got %d", summary.Succeeded)
	}
	if summary.Failed != 0 {
		t.Fatalf("expected failed=0, got %d", summary.Failed)
	}
	if summary.Interrupted {
		t.Fatalf("run reported interrupted")
	}

	mf := loadManifest(t, summary.ManifestPath)
	wantStatus := map[int]string{
		1: model.StatusSucceeded,
		2: model.StatusSucceeded,
		3: model.StatusSkippedInput,
		4: model.StatusSucceeded,
		5: model.StatusSkippedInput,
	}
	for i, j := range mf.Jobs {
		if j.Index != i+1 {
			t.Fatalf("jobs not in ascending index order: %v", mf.Jobs)
		}
		if j.Status != wantStatus[j.Index] {
			t.Fatalf("job %d: status %q, want %q", j.Index, j.Status, wantStatus[j.Index])
		}
	}

	missing, err := os.ReadFile(summary.MissingRecordPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, idx := range []int{3, 5} {
		line := fmt.Sprintf("%03d %s", idx, h.inputPath(idx))
		if !strings.Contains(string(missing), line) {
			t.Fatalf("missing record lacks %q:\n%s", line, missing)
		}
	}

	for _, idx := range []int{1, 2, 4} {
		j := mf.Jobs[idx-1]
		if j.LogPath == "" {
			t.Fatalf("job %d has no log path", idx)
		}
		data, err := os.ReadFile(j.LogPath)
		if err != nil {
			t.Fatalf("job %d log: %v", idx, err)
		}
		if !strings.Contains(string(data), "processing "+h.inputPath(idx)) {
			t.Fatalf("job %d log missing worker output:\n%s", idx, data)
		}
	}
}

func TestRun_HoldsConcurrencyAtCap(t *testing.T) {
	h := newHarness(t, `#!/usr/bin/env bash
live="$LIVE_DIR/live"
mkdir -p "$live/$$"
ls -1 "$live" | wc -l >> "$LIVE_DIR/samples"
sleep 0.2
rmdir "$live/$$"
exit 0
`)
	liveDir := filepath.Join(h.dir, "live-tracking")
	if err := os.MkdirAll(liveDir, 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LIVE_DIR", liveDir)

	const max = 2
	for i := 1; i <= 6; i++ {
		h.writeInput(t, i, "{}")
	}

	summary, err := Run(context.Background(), h.options(1, 6, max))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if summary.Succeeded != 6 {
		t.Fatalf("expected succeeded=6, got %d", summary.Succeeded)
	}

	data, err := os.ReadFile(filepath.Join(liveDir, "samples"))
	if err != nil {
		t.Fatal(err)
	}
	samples := []int{}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		n, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			t.Fatalf("bad sample line %q", line)
		}
		samples = append(samples, n)
	}
	if len(samples) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(samples))
	}
	sort.Ints(samples)
	if samples[len(samples)-1] > max {
		t.Fatalf("concurrency exceeded cap: samples=%v", samples)
	}
}

func TestRun_RecordsFailedJobsWithoutAborting(t *testing.T) {
	h := newHarness(t, `#!/usr/bin/env bash
if grep -q fail "$1"; then
  echo "scrape error: blocked" >&2
  exit 2
fi
exit 0
`)
	h.writeInput(t, 1, "{}")
	h.writeInput(t, 2, `{"mode":"fail"}`)
	h.writeInput(t, 3, "{}")

	summary, err := Run(context.Background(), h.options(1, 3, 3))
	if err != nil {
		t.Fatalf("job failures must not fail the run: %v", err)
	}
	if summary.Succeeded != 2 || summary.Failed != 1 {
		t.Fatalf("unexpected counts: succeeded=%d failed=%d", summary.Succeeded, summary.Failed)
	}

	mf := loadManifest(t, summary.ManifestPath)
	j := mf.Jobs[1]
	if j.Status != model.StatusFailed {
		t.Fatalf("expected job 2 failed, got %s", j.Status)
	}
	if j.ExitCode != 2 {
		t.Fatalf("expected exit_code=2, got %d", j.ExitCode)
	}
	if j.Reason != "nonzero_exit" {
		t.Fatalf("unexpected reason: %q", j.Reason)
	}
	if !strings.Contains(j.LastError, "blocked") {
		t.Fatalf("last_error missing stderr tail: %q", j.LastError)
	}

	failed, err := os.ReadFile(summary.FailedRecordPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(failed), "002 exit=2") {
		t.Fatalf("failed record lacks job line:\n%s", failed)
	}
}

func TestRun_CancellationStopsAdmissionAndKillsWorkers(t *testing.T) {
	h := newHarness(t, `#!/usr/bin/env bash
exec sleep 30
`)
	for i := 1; i <= 4; i++ {
		h.writeInput(t, i, "{}")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(400 * time.Millisecond)
		cancel()
	}()

	opts := h.options(1, 4, 2)
	opts.ShutdownGrace = 2 * time.Second

	start := time.Now()
	summary, err := Run(ctx, opts)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
	if !summary.Interrupted {
		t.Fatalf("summary did not report interruption")
	}
	if summary.Attempted == 0 {
		t.Fatalf("expected at least one launched worker before cancel")
	}
	// SIGTERM reaches the workers directly, so teardown must finish well
	// before the grace period would force a SIGKILL.
	if elapsed > opts.ShutdownGrace+2*time.Second {
		t.Fatalf("shutdown took too long: %s", elapsed)
	}

	mf := loadManifest(t, summary.ManifestPath)
	launchedSeen := 0
	for _, j := range mf.Jobs {
		switch j.Status {
		case model.StatusKilled:
			launchedSeen++
			if j.Reason != "interrupted_shutdown" {
				t.Fatalf("job %d: unexpected reason %q", j.Index, j.Reason)
			}
		case model.StatusPending:
		default:
			t.Fatalf("job %d: unexpected status %q after cancel", j.Index, j.Status)
		}
	}
	if launchedSeen != summary.Attempted {
		t.Fatalf("killed jobs (%d) != attempted (%d)", launchedSeen, summary.Attempted)
	}
}

func TestRun_ForcedKillAfterGracePeriod(t *testing.T) {
	h := newHarness(t, `#!/usr/bin/env bash
echo "$$" > "$PID_DIR/worker.pid"
trap '' TERM
while true; do sleep 0.1; done
`)
	pidDir := filepath.Join(h.dir, "pids")
	if err := os.MkdirAll(pidDir, 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PID_DIR", pidDir)
	h.writeInput(t, 1, "{}")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	opts := h.options(1, 1, 1)
	opts.ShutdownGrace = time.Second

	start := time.Now()
	summary, err := Run(ctx, opts)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
	// The worker ignores SIGTERM, so the run can only end once the grace
	// period expires and the forced kill lands.
	if elapsed < opts.ShutdownGrace {
		t.Fatalf("run ended before the grace period: %s", elapsed)
	}
	if elapsed > opts.ShutdownGrace+4*time.Second {
		t.Fatalf("forced kill took too long: %s", elapsed)
	}

	mf := loadManifest(t, summary.ManifestPath)
	if mf.Jobs[0].Status != model.StatusKilled {
		t.Fatalf("expected killed status, got %s", mf.Jobs[0].Status)
	}

	data, err := os.ReadFile(filepath.Join(pidDir, "worker.pid"))
	if err != nil {
		t.Fatal(err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("bad pid file %q", data)
	}
	if err := syscall.Kill(pid, 0); err == nil {
		t.Fatalf("worker pid %d still alive after forced kill", pid)
	}
}

func TestRun_RerunLeavesPriorArtifactsIntact(t *testing.T) {
	h := newHarness(t, `#!/usr/bin/env bash
echo "processed $1"
exit 0
`)
	h.writeInput(t, 1, "{}")
	h.writeInput(t, 2, "{}")

	first, err := Run(context.Background(), h.options(1, 3, 2))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	snapshot := map[string][]byte{}
	err = filepath.WalkDir(first.RunDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return walkErr
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		snapshot[path] = data
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	second, err := Run(context.Background(), h.options(1, 3, 2))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.RunDir == first.RunDir {
		t.Fatalf("second run reused run dir %s", first.RunDir)
	}
	if second.Attempted != first.Attempted || second.SkippedMissing != first.SkippedMissing {
		t.Fatalf("second run evaluated different work: first=%+v second=%+v", first, second)
	}

	dirs, err := runstore.ListRunDirs(h.runsDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 2 {
		t.Fatalf("expected 2 run dirs, got %v", dirs)
	}

	for path, want := range snapshot {
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("first-run artifact vanished: %s: %v", path, err)
		}
		if string(got) != string(want) {
			t.Fatalf("first-run artifact changed: %s", path)
		}
	}
}

func TestTruncate_KeepsRuneBoundaries(t *testing.T) {
	s := strings.Repeat("é", 8)
	got := truncate(s, 5)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate split a rune: %q", got)
	}
	if got != "éé" {
		t.Fatalf("unexpected cut: %q", got)
	}
	if truncate("plain", 10) != "plain" {
		t.Fatalf("short strings must pass through")
	}
}

func TestRun_FailsFastWhenWorkerMissing(t *testing.T) {
	h := newHarness(t, "#!/usr/bin/env bash\nexit 0\n")
	opts := h.options(1, 3, 1)
	opts.WorkerPath = filepath.Join(h.dir, "no-such-worker.sh")

	if _, err := Run(context.Background(), opts); err == nil {
		t.Fatalf("expected dependency error")
	}
	if _, err := os.Stat(h.runsDir); !os.IsNotExist(err) {
		t.Fatalf("runs directory should not be created on preflight failure")
	}
}

func TestRun_WritesRunMetaAlongsideManifest(t *testing.T) {
	h := newHarness(t, "#!/usr/bin/env bash\nexit 0\n")
	h.writeInput(t, 1, "{}")
	h.writeInput(t, 2, "{}")

	summary, err := Run(context.Background(), h.options(1, 2, 1))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	meta, err := runstore.LoadRunMeta(summary.RunDir)
	if err != nil {
		t.Fatalf("load run meta: %v", err)
	}
	if meta.RunID != summary.RunID {
		t.Fatalf("meta run id %q != summary %q", meta.RunID, summary.RunID)
	}
	if meta.Attempted != 2 || meta.Succeeded != 2 {
		t.Fatalf("unexpected meta counts: %+v", meta)
	}

	latest, err := runstore.LatestRunDir(h.runsDir)
	if err != nil {
		t.Fatal(err)
	}
	if latest != summary.RunDir {
		t.Fatalf("latest run dir %q != summary run dir %q", latest, summary.RunDir)
	}
	if runstore.RunLockHeld(summary.RunDir) {
		t.Fatalf("run lock not released after completion")
	}
}
