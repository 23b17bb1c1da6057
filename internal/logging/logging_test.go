package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRunLogger_AppendsToMasterLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "launcher.log")

	logger, closeLog, err := NewRunLogger(path)
	if err != nil {
		t.Fatalf("new run logger: %v", err)
	}
	logger.Info("run started", "run_id", "r1")
	if err := closeLog(); err != nil {
		t.Fatal(err)
	}

	logger2, closeLog2, err := NewRunLogger(path)
	if err != nil {
		t.Fatalf("reopen run logger: %v", err)
	}
	logger2.Info("run complete")
	if err := closeLog2(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, "run started") || !strings.Contains(out, "run_id=r1") {
		t.Fatalf("master log missing first event:\n%s", out)
	}
	if !strings.Contains(out, "run complete") {
		t.Fatalf("master log lost earlier events on reopen:\n%s", out)
	}
}
