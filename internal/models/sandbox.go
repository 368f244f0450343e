package models

import "time"

// WorkerState is the lifecycle state of a SandboxWorker inside the pool.
type WorkerState string

const (
	WorkerIdle      WorkerState = "idle"
	WorkerLeased    WorkerState = "leased"
	WorkerCondemned WorkerState = "condemned"
)

// SandboxWorker is one pool-managed container together with the
// read-only scratch directory bind-mounted into it at /host_tmpfs.
type SandboxWorker struct {
	ID         string
	State      WorkerState
	ScratchDir string
	LeasedAt   time.Time
}

// Lease represents a worker checked out of the pool by a caller. The
// caller must call Release exactly once, regardless of outcome.
type Lease struct {
	Worker    *SandboxWorker
	AcquiredAt time.Time
}

// StagedInputs names the three files a Scratch Stager writes before a
// Sandbox Runtime invocation: the verbatim user code, the serialized
// price frame, and the float-valued strategy configuration.
type StagedInputs struct {
	CodePath   string // code.py
	DataPath   string // data.pkl
	ConfigPath string // config.txt
}

// Job is one unit of work drained from the execution backend by a
// Dispatcher worker.
type Job struct {
	TaskID    string
	Request   BacktestRequest
	Attempts  int
	MaxAttempts int
	EnqueuedAt time.Time
}
