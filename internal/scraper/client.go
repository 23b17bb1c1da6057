package scraper

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
)

type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
)

// InvokeOptions describes one worker launch. The worker is opaque: it gets
// the input artifact path as its sole positional argument and its combined
// output is captured to LogWriter.
type InvokeOptions struct {
	WorkerPath string
	VenvPath   string
	InputPath  string
	LogWriter  io.Writer
	EchoOutput bool
	EchoTo     io.Writer
	OnLine     func(stream OutputStream, line string)
}

type DependencyReport struct {
	WorkerFound      bool   `json:"worker_found"`
	WorkerPath       string `json:"worker_path,omitempty"`
	InterpreterFound bool   `json:"interpreter_found"`
	InterpreterPath  string `json:"interpreter_path,omitempty"`
	AWSCLIFound      bool   `json:"aws_cli_found"`
	AWSCLIPath       string `json:"aws_cli_path,omitempty"`
}

func DependencyStatus(workerPath, venvPath string) DependencyReport {
	report := DependencyReport{}
	if p := strings.TrimSpace(workerPath); p != "" {
		if _, err := os.Stat(p); err == nil {
			report.WorkerFound = true
			report.WorkerPath = p
		}
	}
	if interp, err := resolveInterpreter(workerPath, venvPath); err == nil {
		report.InterpreterFound = true
		report.InterpreterPath = interp
	}
	if path, err := exec.LookPath("aws"); err == nil {
		report.AWSCLIFound = true
		report.AWSCLIPath = path
	}
	return report
}

// CheckDependencies verifies the worker can be launched at all. It runs once
// before the first job, so a broken setup fails fast instead of producing a
// run full of identical failures.
func CheckDependencies(workerPath, venvPath string) error {
	p := strings.TrimSpace(workerPath)
	if p == "" {
		return fmt.Errorf("worker path is required")
	}
	if _, err := os.Stat(p); err != nil {
		return fmt.Errorf("worker script %s: %w", p, err)
	}
	if _, err := resolveInterpreter(workerPath, venvPath); err != nil {
		return err
	}
	return nil
}

// BuildInvocation resolves the binary, arguments, and environment for one
// worker launch. When a venv is configured the worker runs under the venv
// interpreter with VIRTUAL_ENV and PATH set, matching a pre-activated shell.
func BuildInvocation(workerPath, venvPath, inputPath string) (string, []string, []string, error) {
	worker := strings.TrimSpace(workerPath)
	if worker == "" {
		return "", nil, nil, fmt.Errorf("worker path is required")
	}
	input := strings.TrimSpace(inputPath)
	if input == "" {
		return "", nil, nil, fmt.Errorf("input path is required")
	}

	env := os.Environ()
	venv := strings.TrimSpace(venvPath)
	if venv != "" {
		abs, err := filepath.Abs(venv)
		if err != nil {
			return "", nil, nil, fmt.Errorf("resolve venv path %s: %w", venv, err)
		}
		bin := filepath.Join(abs, "bin", "python3")
		env = append(env,
			"VIRTUAL_ENV="+abs,
			"PATH="+filepath.Join(abs, "bin")+string(os.PathListSeparator)+os.Getenv("PATH"),
		)
		return bin, []string{worker, input}, env, nil
	}

	if strings.HasSuffix(strings.ToLower(worker), ".py") {
		interp, err := exec.LookPath("python3")
		if err != nil {
			return "", nil, nil, fmt.Errorf("python3 not found on PATH: %w", err)
		}
		return interp, []string{worker, input}, env, nil
	}
	return worker, []string{input}, env, nil
}

func resolveInterpreter(workerPath, venvPath string) (string, error) {
	venv := strings.TrimSpace(venvPath)
	if venv != "" {
		bin := filepath.Join(venv, "bin", "python3")
		if _, err := os.Stat(bin); err != nil {
			return "", fmt.Errorf("venv interpreter %s: %w", bin, err)
		}
		return bin, nil
	}
	if strings.HasSuffix(strings.ToLower(strings.TrimSpace(workerPath)), ".py") {
		interp, err := exec.LookPath("python3")
		if err != nil {
			return "", fmt.Errorf("python3 not found on PATH: %w", err)
		}
		return interp, nil
	}
	return strings.TrimSpace(workerPath), nil
}

// Process is a launched worker. The launcher keeps the handle so it can
// deliver graceful and forced termination during shutdown.
type Process struct {
	cmd      *exec.Cmd
	copyDone *sync.WaitGroup
	tailMu   *sync.Mutex
	outTail  *strings.Builder
	errTail  *strings.Builder
}

// Start launches the worker detached into its own process group, so terminal
// signals hit the launcher only and child termination stays under the
// launcher's explicit control.
func Start(opts InvokeOptions) (*Process, error) {
	bin, args, env, err := BuildInvocation(opts.WorkerPath, opts.VenvPath, opts.InputPath)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(bin, args...)
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("setup stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker for %s: %w", opts.InputPath, err)
	}

	p := &Process{
		cmd:      cmd,
		copyDone: &sync.WaitGroup{},
		tailMu:   &sync.Mutex{},
		outTail:  &strings.Builder{},
		errTail:  &strings.Builder{},
	}

	read := func(stream OutputStream, r io.Reader) {
		defer p.copyDone.Done()
		scanner := bufio.NewScanner(r)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()
			p.tailMu.Lock()
			appendLimited(p.outTail, p.errTail, stream, line)
			if opts.LogWriter != nil {
				_, _ = io.WriteString(opts.LogWriter, line+"\n")
			}
			p.tailMu.Unlock()

			if opts.EchoOutput && opts.EchoTo != nil {
				_, _ = io.WriteString(opts.EchoTo, line+"\n")
			}
			if opts.OnLine != nil {
				opts.OnLine(stream, line)
			}
		}
	}

	p.copyDone.Add(2)
	go read(StreamStdout, stdoutPipe)
	go read(StreamStderr, stderrPipe)

	return p, nil
}

func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Terminate asks the worker to stop. Errors from already-exited processes
// are not interesting to callers.
func (p *Process) Terminate() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	}
}

// Kill force-stops the worker and anything left in its process group.
// Once the process has been reaped its pid may belong to someone else, so
// a finished worker is left alone.
func (p *Process) Kill() {
	if p.cmd.Process == nil || p.cmd.ProcessState != nil {
		return
	}
	_ = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
	_ = p.cmd.Process.Kill()
}

// Wait blocks until the worker exits and returns its exit code. A negative
// code with a non-nil error means the wait itself failed; a nonzero code
// with nil error is an ordinary worker failure.
func (p *Process) Wait() (int, error) {
	p.copyDone.Wait()
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("wait for worker: %w", err)
}

// Tail returns the bounded captured output, for error reporting.
func (p *Process) Tail() string {
	p.tailMu.Lock()
	defer p.tailMu.Unlock()
	out := strings.TrimSpace(p.errTail.String())
	if out == "" {
		out = strings.TrimSpace(p.outTail.String())
	}
	return out
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func appendLimited(outBuf, errBuf *strings.Builder, stream OutputStream, line string) {
	const maxKeep = 8192
	b := outBuf
	if stream == StreamStderr {
		b = errBuf
	}
	if b.Len() >= maxKeep {
		return
	}
	toWrite := line + "\n"
	remain := maxKeep - b.Len()
	if len(toWrite) > remain {
		toWrite = toWrite[:remain]
	}
	b.WriteString(toWrite)
}
