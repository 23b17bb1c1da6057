package model

// RunManifest is the canonical per-run job state file.
type RunManifest struct {
	SchemaVersion  int    `json:"schema_version"`
	GeneratedAt    string `json:"generated_at"`
	RunID          string `json:"run_id"`
	BatchStart     int    `json:"batch_start"`
	BatchEnd       int    `json:"batch_end"`
	InputDir       string `json:"input_dir"`
	WorkerPath     string `json:"worker_path"`
	MaxConcurrency int    `json:"max_concurrency"`
	Total          int    `json:"total"`
	Pending        int    `json:"pending"`
	Launched       int    `json:"launched"`
	SkippedMissing int    `json:"skipped_missing"`
	Succeeded      int    `json:"succeeded"`
	Failed         int    `json:"failed"`
	Jobs           []Job  `json:"jobs"`
}

type Job struct {
	JobID      string `json:"job_id"`
	Index      int    `json:"index"`
	InputPath  string `json:"input_path"`
	LogPath    string `json:"log_path,omitempty"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	ExitCode   int    `json:"exit_code,omitempty"`
	LastError  string `json:"last_error,omitempty"`
	LaunchedAt string `json:"launched_at,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
}
