// Package tasks manages long-running background subprocesses: start them
// detached from the turn, poll their output incrementally, stop them with
// SIGTERM. Each task keeps a bounded ring of its most recent output lines.
package tasks

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// maxRingLines bounds the per-task output ring.
const maxRingLines = 1000

// Status is a task lifecycle state.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusFailed   Status = "failed"
)

// Task is one background subprocess. ID, Command, Workspace, CreatedAt and
// PID are fixed after Start returns; the mutable state is read through
// accessors because the reader goroutine updates it.
type Task struct {
	ID        string
	Command   string
	Workspace string
	PID       int
	CreatedAt time.Time

	mu       sync.Mutex
	status   Status
	exitCode *int
	ring     []string
	total    int // absolute index of the next line
	proc     *os.Process
	explicit bool // Stop was called

	done chan struct{}
}

// State returns the current lifecycle status.
func (t *Task) State() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// ExitCode returns the process exit code, or nil while the process is alive.
func (t *Task) ExitCode() *int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode
}

// Terminal reports whether the task reached a final state.
func (t *Task) Terminal() bool {
	s := t.State()
	return s == StatusStopped || s == StatusFailed
}

// Done returns a channel closed when the process has exited and its final
// state is recorded.
func (t *Task) Done() <-chan struct{} { return t.done }

// Lines returns the buffered output lines at absolute indexes [since, next)
// and the next index to poll from. Lines that fell out of the ring are gone;
// a since older than the ring start yields the whole ring.
func (t *Task) Lines(since int) ([]string, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	start := t.total - len(t.ring)
	if since < start {
		since = start
	}
	if since >= t.total {
		return nil, t.total
	}
	out := make([]string, t.total-since)
	copy(out, t.ring[since-start:])
	return out, t.total
}

// push appends one line to the ring, evicting the oldest when full.
func (t *Task) push(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.ring) == maxRingLines {
		copy(t.ring, t.ring[1:])
		t.ring[len(t.ring)-1] = line
	} else {
		t.ring = append(t.ring, line)
	}
	t.total++
}

// Manager starts, tracks and reaps background tasks. Lifecycle callbacks run
// on the reader goroutine; a panicking callback is swallowed.
type Manager struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	logger *slog.Logger

	OnStarted   func(*Task)
	OnCompleted func(*Task)
	OnFailed    func(*Task)
}

// NewManager returns an empty manager. logger may be nil.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{tasks: make(map[string]*Task), logger: logger}
}

// Start launches command under the shell in workspace and begins collecting
// its combined output. It returns once the process is running.
func (m *Manager) Start(command, workspace string) (*Task, error) {
	if command == "" {
		return nil, fmt.Errorf("empty command")
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create output pipe: %w", err)
	}

	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Dir = workspace
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	t := &Task{
		ID:        uuid.NewString()[:8],
		Command:   command,
		Workspace: workspace,
		CreatedAt: time.Now(),
		status:    StatusStarting,
		done:      make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("start task: %w", err)
	}
	w.Close()

	t.PID = cmd.Process.Pid
	t.mu.Lock()
	t.status = StatusRunning
	t.proc = cmd.Process
	t.mu.Unlock()

	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()

	m.logger.Info("task started", "task", t.ID, "pid", t.PID, "command", command)
	m.fire(m.OnStarted, t)

	go m.read(t, cmd, r)
	return t, nil
}

// read drains the combined output into the ring, then reaps the process and
// records the final state.
func (m *Manager) read(t *Task, cmd *exec.Cmd, r *os.File) {
	defer close(t.done)
	defer r.Close()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		t.push(sc.Text())
	}

	err := cmd.Wait()
	code := exitCode(err)

	t.mu.Lock()
	t.exitCode = &code
	explicit := t.explicit
	if explicit || err == nil {
		t.status = StatusStopped
	} else {
		t.status = StatusFailed
	}
	status := t.status
	t.mu.Unlock()

	m.logger.Info("task exited", "task", t.ID, "status", string(status), "exit_code", code)
	switch {
	case explicit:
		// Stop already reported the transition.
	case err == nil:
		m.fire(m.OnCompleted, t)
	default:
		m.fire(m.OnFailed, t)
	}
}

// Stop sends SIGTERM to the task's process group. It returns false when the
// task does not exist or already finished. The status flips to stopped
// immediately; the reader records the exit code when the process dies.
func (m *Manager) Stop(id string) bool {
	t := m.Get(id)
	if t == nil {
		return false
	}

	t.mu.Lock()
	if t.status != StatusRunning && t.status != StatusStarting {
		t.mu.Unlock()
		return false
	}
	t.explicit = true
	t.status = StatusStopped
	proc := t.proc
	t.mu.Unlock()

	if proc != nil {
		// Negative pid targets the process group set at start.
		if err := syscall.Kill(-proc.Pid, syscall.SIGTERM); err != nil {
			_ = proc.Signal(syscall.SIGTERM)
		}
	}
	m.logger.Info("task stopped", "task", id)
	return true
}

// Get returns a task by id; nil if unknown.
func (m *Manager) Get(id string) *Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[id]
}

// List returns the tracked tasks, oldest first.
func (m *Manager) List() []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Output returns the task's buffered lines from the given absolute index.
// An unknown id yields no lines and next = since.
func (m *Manager) Output(id string, since int) ([]string, int) {
	t := m.Get(id)
	if t == nil {
		return nil, since
	}
	return t.Lines(since)
}

// Cleanup removes a terminal task from tracking. Running tasks are kept.
func (m *Manager) Cleanup(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[id]
	if t == nil || !t.Terminal() {
		return false
	}
	delete(m.tasks, id)
	return true
}

// CleanupStopped removes every terminal task and returns how many.
func (m *Manager) CleanupStopped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, t := range m.tasks {
		if t.Terminal() {
			delete(m.tasks, id)
			n++
		}
	}
	return n
}

// StopAll stops every live task, for process shutdown.
func (m *Manager) StopAll() {
	for _, t := range m.List() {
		m.Stop(t.ID)
	}
}

// fire invokes a lifecycle callback, swallowing panics.
func (m *Manager) fire(fn func(*Task), t *Task) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("task callback panicked", "task", t.ID, "panic", r)
		}
	}()
	fn(t)
}

// exitCode maps a Wait error to a numeric exit code: 0 for clean exit, the
// process code when available, -1 otherwise.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}
