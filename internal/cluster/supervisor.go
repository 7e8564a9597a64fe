// Package cluster ties the leader and its worker processes together.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"

	clusterv1 "github.com/yndnr/relaymesh-go/api/cluster/v1"
	"github.com/yndnr/relaymesh-go/internal/rpc"
)

// WorkerIDEnv carries the worker id to a spawned worker process.
const WorkerIDEnv = "RELAYMESH_WORKER_ID"

// ErrWorkerRegistered is returned when a worker id registers twice.
var ErrWorkerRegistered = errors.New("cluster: worker already registered")

// killGrace is how long Stop waits for killed workers to be reaped.
const killGrace = 2 * time.Second

// Process is a running worker process.
type Process interface {
	Pid() int
	Wait() error
	Signal(sig os.Signal) error
}

// Spawner starts worker processes.
type Spawner interface {
	Spawn(ctx context.Context, workerID string) (Process, error)
}

// ExecSpawner re-executes a binary as a worker.
type ExecSpawner struct {
	// Path is the binary to run. Defaults to the current executable.
	Path string

	// Args are passed to the binary, typically the worker subcommand.
	Args []string

	// Env is appended to the current environment.
	Env []string

	Stdout io.Writer
	Stderr io.Writer
}

// Spawn implements Spawner.
func (s ExecSpawner) Spawn(_ context.Context, workerID string) (Process, error) {
	path := s.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		path = exe
	}

	cmd := exec.Command(path, s.Args...)
	cmd.Env = append(append(os.Environ(), s.Env...), WorkerIDEnv+"="+workerID)
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", workerID, err)
	}
	return execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p execProcess) Pid() int                   { return p.cmd.Process.Pid }
func (p execProcess) Wait() error                { return p.cmd.Wait() }
func (p execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }

type workerEntry struct {
	id       string
	pid      int
	proc     Process
	spawning bool
	peer     *rpc.Peer
	started  time.Time
}

// WorkerInfo describes one worker known to the supervisor.
type WorkerInfo struct {
	ID       string
	PID      int
	Attached bool
	Started  time.Time
}

// Supervisor spawns worker processes and tracks their links.
type Supervisor struct {
	spawner Spawner
	logger  *slog.Logger

	mu      sync.RWMutex
	workers map[string]*workerEntry
	wg      sync.WaitGroup
}

// NewSupervisor creates a supervisor. A nil spawner re-executes the current
// binary with the "worker" command.
func NewSupervisor(spawner Spawner, logger *slog.Logger) *Supervisor {
	if spawner == nil {
		spawner = ExecSpawner{Args: []string{"worker"}}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		spawner: spawner,
		logger:  logger,
		workers: make(map[string]*workerEntry),
	}
}

// Start spawns n workers with ids "1" to "n".
func (s *Supervisor) Start(ctx context.Context, n int) error {
	for i := 1; i <= n; i++ {
		if err := s.Spawn(ctx, strconv.Itoa(i)); err != nil {
			return err
		}
	}
	return nil
}

// Spawn starts one worker and watches it until it exits. The id is
// reserved before the process starts.
func (s *Supervisor) Spawn(ctx context.Context, workerID string) error {
	s.mu.Lock()
	if _, exists := s.workers[workerID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorkerRegistered, workerID)
	}
	entry := &workerEntry{id: workerID, spawning: true, started: time.Now()}
	s.workers[workerID] = entry
	s.mu.Unlock()

	proc, err := s.spawner.Spawn(ctx, workerID)

	s.mu.Lock()
	entry.spawning = false
	if err != nil {
		if entry.peer == nil {
			delete(s.workers, workerID)
		}
		s.mu.Unlock()
		return err
	}
	entry.proc = proc
	entry.pid = proc.Pid()
	s.mu.Unlock()

	s.logger.Info("worker spawned",
		"worker_id", workerID,
		"pid", entry.pid)

	s.wg.Add(1)
	go s.watch(entry)
	return nil
}

func (s *Supervisor) watch(entry *workerEntry) {
	defer s.wg.Done()

	err := entry.proc.Wait()
	code, signal := exitDetails(err)
	s.logger.Warn("worker exited",
		"worker_id", entry.id,
		"pid", entry.pid,
		"exit_code", code,
		"signal", signal)

	var peer *rpc.Peer
	s.mu.Lock()
	if current, ok := s.workers[entry.id]; ok && current == entry {
		delete(s.workers, entry.id)
		peer = entry.peer
	}
	s.mu.Unlock()

	if peer != nil {
		peer.Close()
	}
}

func exitDetails(err error) (int, string) {
	if err == nil {
		return 0, ""
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return -1, ws.Signal().String()
		}
		return exitErr.ExitCode(), ""
	}
	return -1, err.Error()
}

// Attach binds a registered worker link to its entry. Workers the supervisor
// did not spawn are accepted too. The entry's link is cleared when peer
// closes.
func (s *Supervisor) Attach(workerID string, pid int, peer *rpc.Peer) error {
	s.mu.Lock()
	entry, ok := s.workers[workerID]
	if ok && entry.peer != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorkerRegistered, workerID)
	}
	if !ok {
		entry = &workerEntry{id: workerID, pid: pid, started: time.Now()}
		s.workers[workerID] = entry
	}
	entry.peer = peer
	if entry.pid == 0 {
		entry.pid = pid
	}
	s.mu.Unlock()

	s.logger.Info("worker registered",
		"worker_id", workerID,
		"pid", pid)

	go func() {
		<-peer.Done()
		s.detach(workerID, peer)
	}()
	return nil
}

func (s *Supervisor) detach(workerID string, peer *rpc.Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.workers[workerID]
	if !ok || entry.peer != peer {
		return
	}
	entry.peer = nil
	if entry.proc == nil && !entry.spawning {
		delete(s.workers, workerID)
	}
	s.logger.Info("worker link closed", "worker_id", workerID)
}

// Workers returns every known worker, sorted by id.
func (s *Supervisor) Workers() []WorkerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]WorkerInfo, 0, len(s.workers))
	for _, e := range s.workers {
		out = append(out, WorkerInfo{
			ID:       e.id,
			PID:      e.pid,
			Attached: e.peer != nil,
			Started:  e.started,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type livePeer struct {
	id   string
	peer *rpc.Peer
}

func (s *Supervisor) livePeers() []livePeer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make([]livePeer, 0, len(s.workers))
	for _, e := range s.workers {
		if e.peer != nil {
			peers = append(peers, livePeer{id: e.id, peer: e.peer})
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].id < peers[j].id })
	return peers
}

// FanOut calls method on every attached worker concurrently and returns one
// result per worker, in worker id order. A worker that fails carries its
// error in the result; FanOut itself does not fail.
func (s *Supervisor) FanOut(ctx context.Context, method string, params any) []clusterv1.FanOutResult {
	peers := s.livePeers()
	results := make([]clusterv1.FanOutResult, len(peers))

	var g errgroup.Group
	for i, lp := range peers {
		g.Go(func() error {
			var raw msgpack.RawMessage
			res := clusterv1.FanOutResult{WorkerID: lp.id}
			if err := lp.peer.Call(ctx, method, params, &raw); err != nil {
				res.Error = err.Error()
				s.logger.Warn("fan-out call failed",
					"worker_id", lp.id,
					"method", method,
					"error", err)
			} else {
				res.Result = raw
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Stop sends SIGTERM to every spawned worker and waits for them to exit.
// Workers still running when ctx ends are killed, and Stop waits up to
// killGrace for them to be reaped.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.RLock()
	procs := make([]Process, 0, len(s.workers))
	for _, e := range s.workers {
		if e.proc != nil {
			procs = append(procs, e.proc)
		}
	}
	s.mu.RUnlock()

	for _, p := range procs {
		if err := p.Signal(syscall.SIGTERM); err != nil {
			s.logger.Debug("failed to signal worker", "pid", p.Pid(), "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	for _, p := range procs {
		_ = p.Signal(syscall.SIGKILL)
	}
	select {
	case <-done:
	case <-time.After(killGrace):
		s.logger.Warn("workers not reaped after kill", "grace", killGrace)
	}
	return ctx.Err()
}
