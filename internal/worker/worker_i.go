package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"scmap/internal/log"
	"scmap/internal/mapdata"
	"scmap/internal/metrics"
)

type WorkerI struct {
	opts      Options
	logger    *zap.SugaredLogger
	childLogs *zap.SugaredLogger
	seq       atomic.Int64
}

var _ Worker = (*WorkerI)(nil)

func NewWorkerI(opts Options) (*WorkerI, error) {
	if opts.Command == "" {
		return nil, errors.New("worker options: command must be set")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.InitInterval <= 0 {
		opts.InitInterval = DefaultInitInterval
	}
	if opts.Now == nil {
		opts.Now = Now
	}
	return &WorkerI{
		opts:      opts,
		logger:    log.Component("worker"),
		childLogs: log.Component("mapworker"),
	}, nil
}

// invocation is the state of one child process.
type invocation struct {
	id     int64
	status Status
	logger *zap.SugaredLogger
}

func (inv *invocation) setStatus(to Status) error {
	if !canTransit(inv.status, to) {
		return fmt.Errorf("invalid status transition: %s -> %s", inv.status, to)
	}
	inv.logger.Debugf("invocation=%d status: %s -> %s", inv.id, inv.status, to)
	inv.status = to
	return nil
}

// Parse runs one child process to completion. ctx is only checked before
// spawning; once the child runs, the watchdog is the only way to stop it.
func (w *WorkerI) Parse(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inv := &invocation{id: w.seq.Add(1), status: StatusSpawned, logger: w.logger}
	started := w.opts.Now()

	res, err := w.run(inv, req)
	metrics.RecordWorker(outcomeLabel(inv.status), w.opts.Now().Sub(started))
	if err != nil {
		w.logger.Warnf("invocation=%d path=%s ended %s: %v", inv.id, req.Path, inv.status, err)
		return nil, err
	}
	return res, nil
}

func (w *WorkerI) run(inv *invocation, req Request) (*Result, error) {
	fail := func(to Status, err error) (*Result, error) {
		_ = inv.setStatus(to)
		return nil, err
	}

	parentSock, childSock, err := socketPair()
	if err != nil {
		return fail(StatusProcessError, mapdata.Wrap(mapdata.KindProcess, "create message socket", err))
	}
	imgR, imgW, err := imagePipes()
	if err != nil {
		parentSock.Close()
		childSock.Close()
		return fail(StatusProcessError, mapdata.Wrap(mapdata.KindProcess, "create image pipes", err))
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeFiles(append(imgR, append(imgW, parentSock, childSock)...))
		return fail(StatusProcessError, mapdata.Wrap(mapdata.KindProcess, "create stderr pipe", err))
	}

	args := append(append([]string{}, w.opts.ArgsPrefix...), req.Path, req.Extension, req.DataPath)
	cmd := exec.Command(w.opts.Command, args...)
	cmd.Env = append(os.Environ(), w.opts.Env...)
	cmd.Stderr = stderrW
	cmd.ExtraFiles = append([]*os.File{childSock}, imgW...)

	startErr := cmd.Start()
	// The child holds its own copies now; ours must go so EOF propagates.
	closeFiles(append(imgW, childSock, stderrW))
	if startErr != nil {
		closeFiles(append(imgR, parentSock, stderrR))
		return fail(StatusProcessError, mapdata.Wrap(mapdata.KindProcess, "spawn worker", startErr))
	}
	pid := cmd.Process.Pid

	var relayDone sync.WaitGroup
	relayDone.Add(1)
	go func() {
		defer relayDone.Done()
		defer stderrR.Close()
		log.Relay(stderrR, w.childLogs.With("pid", pid))
	}()

	// Image pipes are drained from the start so early writes never block
	// the child or get lost.
	readers := make([]io.ReadCloser, len(imgR))
	for i, r := range imgR {
		readers[i] = r
	}
	imagesDone := drainImages(readers)

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	conn, err := fileConn(parentSock)
	if err != nil {
		_ = cmd.Process.Kill()
		<-exited
		imagesDone.Wait()
		relayDone.Wait()
		return fail(StatusProcessError, mapdata.Wrap(mapdata.KindProcess, "open message socket", err))
	}
	defer conn.Close()
	msgs := make(chan Message)
	go readMessages(conn, msgs)
	writer := newMessageWriter(conn)

	_ = inv.setStatus(StatusHandshaking)
	w.logger.Debugf("invocation=%d spawned pid=%d path=%s", inv.id, pid, req.Path)

	ticker := time.NewTicker(w.opts.InitInterval)
	defer ticker.Stop()
	tick := ticker.C
	watchdog := time.NewTimer(w.opts.Timeout)
	defer watchdog.Stop()

	_ = writer.send(Message{Type: MessageInit})

	var (
		result   *Message
		exitErr  error
		exitSeen bool
		timedOut bool
	)
	for msgs != nil || !exitSeen {
		select {
		case <-tick:
			// Write errors mean the child is gone; the exit branch reports it.
			_ = writer.send(Message{Type: MessageInit})

		case m, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			if timedOut {
				continue
			}
			resetTimer(watchdog, w.opts.Timeout)
			switch m.Type {
			case MessageInit:
				if inv.status == StatusHandshaking {
					ticker.Stop()
					tick = nil
					_ = inv.setStatus(StatusRunning)
				}
			case MessageResult:
				if result == nil {
					msg := m
					result = &msg
				}
			}

		case err := <-exited:
			exitSeen = true
			exitErr = err
			exited = nil

		case <-watchdog.C:
			if !timedOut {
				timedOut = true
				w.logger.Warnf("invocation=%d pid=%d watchdog expired after %s, killing", inv.id, pid, w.opts.Timeout)
				_ = cmd.Process.Kill()
				conn.Close()
			}
		}
	}
	imagesDone.Wait()
	relayDone.Wait()

	switch {
	case timedOut:
		return fail(StatusTimedOut, mapdata.Errorf(mapdata.KindTimeout, "worker made no progress for %s", w.opts.Timeout))
	case result != nil && result.Error != "":
		kind := result.Kind
		if kind == "" {
			kind = mapdata.KindProcess
		}
		return fail(StatusFailed, &mapdata.Error{Kind: kind, Msg: result.Error})
	case exitErr != nil:
		return fail(StatusProcessError, mapdata.Wrap(mapdata.KindProcess, "worker exited", exitErr))
	case result == nil || result.Metadata == nil:
		return fail(StatusProcessError, mapdata.Errorf(mapdata.KindProcess, "worker exited without a result"))
	}

	out := &Result{Metadata: result.Metadata}
	if req.DataPath != "" {
		images, err := imagesDone.result()
		if err != nil {
			return fail(StatusProcessError, err)
		}
		out.Images = images
	}
	if err := inv.setStatus(StatusCompleted); err != nil {
		return nil, mapdata.Wrap(mapdata.KindProcess, "complete invocation", err)
	}
	return out, nil
}

func canTransit(from, to Status) bool {
	allowed := map[Status]map[Status]bool{
		StatusSpawned:      {StatusHandshaking: true, StatusProcessError: true},
		StatusHandshaking:  {StatusRunning: true, StatusTimedOut: true, StatusProcessError: true},
		StatusRunning:      {StatusCompleted: true, StatusFailed: true, StatusTimedOut: true, StatusProcessError: true},
		StatusCompleted:    {},
		StatusFailed:       {},
		StatusTimedOut:     {},
		StatusProcessError: {},
	}
	if next, ok := allowed[from]; ok {
		return next[to]
	}
	return false
}

func outcomeLabel(s Status) string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "process_error"
	}
}

// imageSet drains one pipe per image size concurrently.
type imageSet struct {
	wg   sync.WaitGroup
	data [][]byte
	errs []error
}

func drainImages(readers []io.ReadCloser) *imageSet {
	s := &imageSet{data: make([][]byte, len(readers)), errs: make([]error, len(readers))}
	for i, r := range readers {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer r.Close()
			s.data[i], s.errs[i] = io.ReadAll(r)
		}()
	}
	return s
}

func (s *imageSet) Wait() { s.wg.Wait() }

// result reports the first channel that failed to read or stayed empty.
// Call it after Wait.
func (s *imageSet) result() ([][]byte, error) {
	for i, img := range s.data {
		size := mapdata.ImageSizes[i]
		if s.errs[i] != nil {
			return nil, mapdata.Wrap(mapdata.KindProcess, fmt.Sprintf("read %dpx image", size), s.errs[i])
		}
		if len(img) == 0 {
			return nil, mapdata.Errorf(mapdata.KindProcess, "worker sent no %dpx image", size)
		}
	}
	return s.data, nil
}

func imagePipes() (readers, writers []*os.File, err error) {
	for range mapdata.ImageSizes {
		r, w, err := os.Pipe()
		if err != nil {
			closeFiles(append(readers, writers...))
			return nil, nil, err
		}
		readers = append(readers, r)
		writers = append(writers, w)
	}
	return readers, writers, nil
}

func closeFiles(files []*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func Now() time.Time {
	return time.Now()
}
