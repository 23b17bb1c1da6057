package s3sync

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Options configures S3 transfer of batch inputs and run artifacts. The
// transfer itself is delegated to the aws CLI, which already handles
// credentials, retries, and incremental sync.
type Options struct {
	Bucket       string
	InputPrefix  string
	OutputPrefix string
	InputDir     string
	OutputDir    string
	DryRun       bool
	Output       io.Writer
}

// PullCommand builds the command that fetches pending batch inputs.
func PullCommand(opts Options) []string {
	cmd := []string{"aws", "s3", "sync", remoteURL(opts.Bucket, opts.InputPrefix), opts.InputDir}
	if opts.DryRun {
		cmd = append(cmd, "--dryrun")
	}
	return cmd
}

// PushCommand builds the command that uploads processed results and logs.
func PushCommand(opts Options) []string {
	cmd := []string{"aws", "s3", "sync", opts.OutputDir, remoteURL(opts.Bucket, opts.OutputPrefix)}
	if opts.DryRun {
		cmd = append(cmd, "--dryrun")
	}
	return cmd
}

func Pull(ctx context.Context, opts Options) error {
	if err := validate(opts, opts.InputDir, "input directory"); err != nil {
		return err
	}
	return run(ctx, PullCommand(opts), opts.Output)
}

func Push(ctx context.Context, opts Options) error {
	if err := validate(opts, opts.OutputDir, "output directory"); err != nil {
		return err
	}
	return run(ctx, PushCommand(opts), opts.Output)
}

func validate(opts Options, localDir, what string) error {
	if strings.TrimSpace(opts.Bucket) == "" {
		return fmt.Errorf("S3 bucket is required")
	}
	if strings.TrimSpace(localDir) == "" {
		return fmt.Errorf("%s is required", what)
	}
	return nil
}

func run(ctx context.Context, argv []string, out io.Writer) error {
	if _, err := exec.LookPath(argv[0]); err != nil {
		return fmt.Errorf("missing dependency: aws CLI is not installed or not on PATH")
	}
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintf(out, "==> %s\n", strings.Join(argv, " "))
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("aws s3 sync failed: %w", err)
	}
	return nil
}

func remoteURL(bucket, prefix string) string {
	b := strings.TrimSpace(bucket)
	p := strings.Trim(strings.TrimSpace(prefix), "/")
	if p == "" {
		return "s3://" + b
	}
	return "s3://" + b + "/" + p
}
