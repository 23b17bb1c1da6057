package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"scrape-batch-manager/internal/logging"
	"scrape-batch-manager/internal/model"
	"scrape-batch-manager/internal/runstore"
	"scrape-batch-manager/internal/scraper"
)

// ErrInterrupted is returned when the run was cut short by cancellation.
// The summary still reflects everything that happened before shutdown.
var ErrInterrupted = errors.New("run interrupted")

type Options struct {
	BatchStart     int
	BatchEnd       int
	MaxConcurrency int
	LaunchDelay    time.Duration
	PollInterval   time.Duration
	ShutdownGrace  time.Duration

	RunsDir    string
	WorkerPath string
	VenvPath   string

	// InputPathFor maps a job index to its input artifact path.
	InputPathFor func(index int) string

	EchoOutput bool
}

type Summary struct {
	RunID             string `json:"run_id"`
	RunDir            string `json:"run_dir"`
	Total             int    `json:"total"`
	Attempted         int    `json:"attempted"`
	SkippedMissing    int    `json:"skipped_missing"`
	Succeeded         int    `json:"succeeded"`
	Failed            int    `json:"failed"`
	Interrupted       bool   `json:"interrupted"`
	ManifestPath      string `json:"manifest_path"`
	MasterLogPath     string `json:"master_log_path"`
	MissingRecordPath string `json:"missing_record_path"`
	FailedRecordPath  string `json:"failed_record_path"`
}

type completion struct {
	exitCode int
	waitErr  error
	tail     string
}

// Run launches one worker per batch input in ascending index order, holding
// live workers at MaxConcurrency via a slot semaphore that is released only
// by worker termination. Worker failures are recorded and never abort the
// run; cancellation stops admission and tears down live workers gracefully,
// then forcefully after the grace period.
func Run(ctx context.Context, opts Options) (Summary, error) {
	if opts.InputPathFor == nil {
		return Summary{}, fmt.Errorf("input path mapping is required")
	}
	if opts.MaxConcurrency < 1 {
		return Summary{}, fmt.Errorf("max concurrency must be at least 1, got %d", opts.MaxConcurrency)
	}
	if opts.BatchStart > opts.BatchEnd {
		return Summary{}, fmt.Errorf("invalid batch range [%d, %d]", opts.BatchStart, opts.BatchEnd)
	}
	if err := scraper.CheckDependencies(opts.WorkerPath, opts.VenvPath); err != nil {
		return Summary{}, err
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 10 * time.Second
	}

	now := time.Now().UTC()
	runID := fmt.Sprintf("%s_%s", now.Format("20060102T150405Z"), uuid.NewString()[:8])
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = "runs"
	}
	runDir := filepath.Join(runsDir, runID)
	if err := runstore.Mkdir(runDir); err != nil {
		return Summary{}, err
	}
	runLock, err := runstore.AcquireRunLock(runDir)
	if err != nil {
		return Summary{}, err
	}
	defer func() {
		_ = runLock.Release()
	}()

	logsDir := filepath.Join(runDir, "logs")
	if err := runstore.Mkdir(logsDir); err != nil {
		return Summary{}, err
	}

	masterLogPath := filepath.Join(runDir, "launcher.log")
	logger, closeLog, err := logging.NewRunLogger(masterLogPath)
	if err != nil {
		return Summary{}, err
	}
	defer func() {
		_ = closeLog()
	}()

	missingRec, err := runstore.OpenRecord(filepath.Join(runDir, "missing_inputs.log"))
	if err != nil {
		return Summary{}, err
	}
	defer func() {
		_ = missingRec.Close()
	}()
	failedRec, err := runstore.OpenRecord(filepath.Join(runDir, "failed_jobs.log"))
	if err != nil {
		return Summary{}, err
	}
	defer func() {
		_ = failedRec.Close()
	}()

	mf := model.RunManifest{
		SchemaVersion:  1,
		GeneratedAt:    now.Format(time.RFC3339),
		RunID:          runID,
		BatchStart:     opts.BatchStart,
		BatchEnd:       opts.BatchEnd,
		InputDir:       filepath.Dir(opts.InputPathFor(opts.BatchStart)),
		WorkerPath:     opts.WorkerPath,
		MaxConcurrency: opts.MaxConcurrency,
	}
	for i := opts.BatchStart; i <= opts.BatchEnd; i++ {
		mf.Jobs = append(mf.Jobs, model.Job{
			JobID:     uuid.NewString(),
			Index:     i,
			InputPath: opts.InputPathFor(i),
			Status:    model.StatusPending,
		})
	}
	manifestPath := filepath.Join(runDir, "manifest.jobs.json")
	recomputeCounts(&mf)
	if err := runstore.WriteJSON(manifestPath, mf); err != nil {
		return Summary{}, err
	}

	logger.Info("run started",
		"run_id", runID,
		"batch_start", opts.BatchStart,
		"batch_end", opts.BatchEnd,
		"max_concurrency", opts.MaxConcurrency,
		"worker", opts.WorkerPath,
	)

	var (
		stateMu     sync.Mutex
		wg          sync.WaitGroup
		attempted   atomic.Int64
		interrupted atomic.Bool
		stopAdmit   atomic.Bool
		fatalErr    atomic.Value
	)
	slots := make(chan struct{}, opts.MaxConcurrency)
	live := make(map[int]*scraper.Process, opts.MaxConcurrency)
	var liveMu sync.Mutex

	setFatal := func(err error) {
		if err == nil {
			return
		}
		if fatalErr.Load() == nil {
			fatalErr.Store(err.Error())
		}
		stopAdmit.Store(true)
	}

	persist := func() {
		recomputeCounts(&mf)
		if err := runstore.WriteJSON(manifestPath, mf); err != nil {
			setFatal(fmt.Errorf("persist jobs manifest: %w", err))
		}
	}

	// Periodic running summary; poll interval doubles as the report cadence
	// since admission itself is event driven.
	summaryDone := make(chan struct{})
	go func() {
		t := time.NewTicker(opts.PollInterval)
		defer t.Stop()
		for {
			select {
			case <-summaryDone:
				return
			case <-t.C:
				stateMu.Lock()
				logger.Info("progress",
					"pending", mf.Pending,
					"live", mf.Launched,
					"skipped", mf.SkippedMissing,
					"succeeded", mf.Succeeded,
					"failed", mf.Failed,
				)
				stateMu.Unlock()
			}
		}
	}()

	finishJob := func(idx int, c completion) {
		stateMu.Lock()
		defer stateMu.Unlock()
		j := jobByIndex(&mf, idx)
		if j == nil {
			setFatal(fmt.Errorf("completion for unknown job index %d", idx))
			return
		}
		j.FinishedAt = time.Now().UTC().Format(time.RFC3339)
		switch {
		case c.waitErr != nil:
			j.ExitCode = c.exitCode
			j.LastError = truncate(c.waitErr.Error(), 1200)
			if err := model.TransitionJobStatus(j, model.StatusFailed, "wait_error"); err != nil {
				setFatal(err)
				return
			}
		case c.exitCode == 0:
			j.ExitCode = 0
			j.LastError = ""
			if err := model.TransitionJobStatus(j, model.StatusSucceeded, ""); err != nil {
				setFatal(err)
				return
			}
		default:
			j.ExitCode = c.exitCode
			j.LastError = truncate(c.tail, 1200)
			toStatus := model.StatusFailed
			reason := "nonzero_exit"
			if interrupted.Load() {
				toStatus = model.StatusKilled
				reason = "interrupted_shutdown"
			}
			if err := model.TransitionJobStatus(j, toStatus, reason); err != nil {
				setFatal(err)
				return
			}
		}
		if j.Status != model.StatusSucceeded {
			if err := failedRec.AppendLine(fmt.Sprintf("%03d exit=%d", idx, c.exitCode)); err != nil {
				setFatal(err)
			}
			logger.Warn("job finished", "index", idx, "status", j.Status, "exit_code", c.exitCode)
		} else {
			logger.Info("job finished", "index", idx, "status", j.Status)
		}
		persist()
	}

	launchStamp := now.Format("20060102T150405Z")

admission:
	for i := range mf.Jobs {
		if stopAdmit.Load() {
			break
		}
		select {
		case <-ctx.Done():
			interrupted.Store(true)
			break admission
		default:
		}

		stateMu.Lock()
		job := &mf.Jobs[i]
		idx := job.Index
		inputPath := job.InputPath
		stateMu.Unlock()

		if _, err := os.Stat(inputPath); err != nil {
			stateMu.Lock()
			if trErr := model.TransitionJobStatus(job, model.StatusSkippedInput, "missing_input"); trErr != nil {
				stateMu.Unlock()
				setFatal(trErr)
				continue
			}
			persist()
			stateMu.Unlock()
			if err := missingRec.AppendLine(fmt.Sprintf("%03d %s", idx, inputPath)); err != nil {
				setFatal(err)
			}
			logger.Info("job skipped", "index", idx, "reason", "missing_input", "input", inputPath)
			continue
		}

		// Admission slot: released only when a worker terminates.
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			interrupted.Store(true)
			break admission
		}

		logPath := filepath.Join(logsDir, fmt.Sprintf("%03d_%s.log", idx, launchStamp))
		logFile, err := os.Create(logPath)
		if err != nil {
			<-slots
			stateMu.Lock()
			job.LastError = err.Error()
			if trErr := model.TransitionJobStatus(job, model.StatusFailed, "log_file_error"); trErr != nil {
				setFatal(trErr)
			}
			persist()
			stateMu.Unlock()
			logger.Error("job log file", "index", idx, "error", err)
			continue
		}

		proc, err := scraper.Start(scraper.InvokeOptions{
			WorkerPath: opts.WorkerPath,
			VenvPath:   opts.VenvPath,
			InputPath:  inputPath,
			LogWriter:  logFile,
			EchoOutput: opts.EchoOutput,
			EchoTo:     os.Stdout,
		})
		if err != nil {
			<-slots
			_ = logFile.Close()
			stateMu.Lock()
			job.LastError = truncate(err.Error(), 1200)
			if trErr := model.TransitionJobStatus(job, model.StatusFailed, "launch_error"); trErr != nil {
				setFatal(trErr)
			}
			persist()
			stateMu.Unlock()
			if recErr := failedRec.AppendLine(fmt.Sprintf("%03d launch_error", idx)); recErr != nil {
				setFatal(recErr)
			}
			logger.Error("job launch failed", "index", idx, "error", err)
			continue
		}

		stateMu.Lock()
		job.LogPath = logPath
		job.LaunchedAt = time.Now().UTC().Format(time.RFC3339)
		if trErr := model.TransitionJobStatus(job, model.StatusLaunched, ""); trErr != nil {
			stateMu.Unlock()
			setFatal(trErr)
			proc.Kill()
			continue
		}
		persist()
		stateMu.Unlock()
		attempted.Add(1)
		logger.Info("job launched", "index", idx, "pid", proc.PID(), "log", logPath)

		liveMu.Lock()
		live[idx] = proc
		liveMu.Unlock()

		wg.Add(1)
		go func(idx int, proc *scraper.Process, logFile *os.File) {
			defer wg.Done()
			code, waitErr := proc.Wait()
			tail := proc.Tail()
			_ = logFile.Close()

			liveMu.Lock()
			delete(live, idx)
			liveMu.Unlock()
			<-slots

			finishJob(idx, completion{exitCode: code, waitErr: waitErr, tail: tail})
		}(idx, proc, logFile)

		// Stagger process starts so a full slot refill does not slam the
		// proxy pool all at once.
		if opts.LaunchDelay > 0 && i < len(mf.Jobs)-1 {
			select {
			case <-time.After(opts.LaunchDelay):
			case <-ctx.Done():
				interrupted.Store(true)
				break admission
			}
		}
	}

	// Drain: all jobs considered (or admission stopped); wait for the
	// outstanding workers, watching for late cancellation.
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()

	if interrupted.Load() {
		shutdownWorkers(logger, live, &liveMu, waitDone, opts.ShutdownGrace)
	} else {
		select {
		case <-waitDone:
		case <-ctx.Done():
			interrupted.Store(true)
			shutdownWorkers(logger, live, &liveMu, waitDone, opts.ShutdownGrace)
		}
	}
	<-waitDone
	close(summaryDone)

	stateMu.Lock()
	persist()
	summary := Summary{
		RunID:             runID,
		RunDir:            runDir,
		Total:             mf.Total,
		Attempted:         int(attempted.Load()),
		SkippedMissing:    mf.SkippedMissing,
		Succeeded:         mf.Succeeded,
		Failed:            mf.Failed,
		Interrupted:       interrupted.Load(),
		ManifestPath:      manifestPath,
		MasterLogPath:     masterLogPath,
		MissingRecordPath: missingRec.Path(),
		FailedRecordPath:  failedRec.Path(),
	}
	meta := runstore.RunMeta{
		RunID:          runID,
		CreatedAt:      now.Format(time.RFC3339),
		UpdatedAt:      time.Now().UTC().Format(time.RFC3339),
		BatchStart:     opts.BatchStart,
		BatchEnd:       opts.BatchEnd,
		InputDir:       mf.InputDir,
		WorkerPath:     opts.WorkerPath,
		MaxConcurrency: opts.MaxConcurrency,
		ManifestPath:   manifestPath,
		MasterLogPath:  masterLogPath,
		Attempted:      summary.Attempted,
		SkippedMissing: summary.SkippedMissing,
		Succeeded:      summary.Succeeded,
		Failed:         summary.Failed,
	}
	stateMu.Unlock()
	if err := runstore.SaveRunMeta(runDir, meta); err != nil {
		return summary, err
	}

	logger.Info("run complete",
		"attempted", summary.Attempted,
		"skipped_missing", summary.SkippedMissing,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"interrupted", summary.Interrupted,
	)

	if msg := fatalErr.Load(); msg != nil {
		return summary, fmt.Errorf("%s", msg.(string))
	}
	if summary.Interrupted {
		return summary, ErrInterrupted
	}
	return summary, nil
}

// shutdownWorkers delivers SIGTERM to every live worker, waits out the grace
// period, then SIGKILLs survivors. Waiter goroutines observe the exits, so
// no tracked process is left orphaned.
func shutdownWorkers(logger *slog.Logger, live map[int]*scraper.Process, liveMu *sync.Mutex, waitDone <-chan struct{}, grace time.Duration) {
	liveMu.Lock()
	n := len(live)
	for idx, proc := range live {
		logger.Warn("terminating worker", "index", idx, "pid", proc.PID())
		proc.Terminate()
	}
	liveMu.Unlock()
	if n == 0 {
		return
	}
	logger.Warn("shutdown started", "live_workers", n, "grace", grace.String())

	select {
	case <-waitDone:
		return
	case <-time.After(grace):
	}

	liveMu.Lock()
	for idx, proc := range live {
		logger.Warn("killing worker", "index", idx, "pid", proc.PID())
		proc.Kill()
	}
	liveMu.Unlock()
}

func jobByIndex(mf *model.RunManifest, index int) *model.Job {
	offset := index - mf.BatchStart
	if offset < 0 || offset >= len(mf.Jobs) {
		return nil
	}
	return &mf.Jobs[offset]
}

func recomputeCounts(mf *model.RunManifest) {
	pending := 0
	launched := 0
	skipped := 0
	succeeded := 0
	failed := 0

	for _, j := range mf.Jobs {
		switch j.Status {
		case model.StatusPending:
			pending++
		case model.StatusLaunched:
			launched++
		case model.StatusSkippedInput:
			skipped++
		case model.StatusSucceeded:
			succeeded++
		case model.StatusFailed, model.StatusKilled:
			failed++
		}
	}

	mf.Total = len(mf.Jobs)
	mf.Pending = pending
	mf.Launched = launched
	mf.SkippedMissing = skipped
	mf.Succeeded = succeeded
	mf.Failed = failed
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// back off to a rune boundary so the cut never splits a multibyte rune
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
