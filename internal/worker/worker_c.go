// Package worker runs map extraction, parsing and rendering in a child
// process and collects its results.
package worker

import (
	"context"
	"time"

	"scmap/internal/mapdata"
)

type Worker interface {
	Parse(ctx context.Context, req Request) (*Result, error)
}

// Request is one map to process. DataPath enables rendering when set.
type Request struct {
	Path      string
	Extension string
	DataPath  string
}

type Result struct {
	Metadata *mapdata.Metadata
	// Images holds one JPEG per mapdata.ImageSizes entry, or nil when
	// rendering was disabled.
	Images [][]byte
}

type Status string

const (
	StatusSpawned      Status = "Spawned"
	StatusHandshaking  Status = "Handshaking"
	StatusRunning      Status = "Running"
	StatusCompleted    Status = "Completed"
	StatusFailed       Status = "Failed"
	StatusTimedOut     Status = "TimedOut"
	StatusProcessError Status = "ProcessError"
)

// Options are fixed deployment inputs for spawning map workers.
type Options struct {
	// Command is the worker executable.
	Command string
	// ArgsPrefix is placed before the positional request arguments.
	ArgsPrefix []string
	// Env is appended to the parent environment.
	Env []string
	// Timeout is the watchdog window. It runs from spawn and restarts on
	// every message from the child.
	Timeout      time.Duration
	InitInterval time.Duration
	Now          func() time.Time
}

const (
	DefaultTimeout      = 60 * time.Second
	DefaultInitInterval = 50 * time.Millisecond
)
