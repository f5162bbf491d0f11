// Package tasks runs cancellable, progress-reporting background work and
// tracks its lifecycle in memory. Persistent job history is the scheduler's
// concern; this registry only answers "what is running right now and how far
// along is it".
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a task id is unknown or already pruned.
var ErrNotFound = errors.New("task not found")

// DefaultMaxTasks bounds how many finished tasks are kept before the oldest
// are pruned.
const DefaultMaxTasks = 200

// Manager registers, runs and tracks background tasks. Each submitted task
// runs on its own goroutine; the manager itself only guards a small in-memory
// map and never performs I/O under its lock.
type Manager struct {
	mu       sync.RWMutex
	tasks    map[string]*task
	order    []string // submission order, oldest first
	maxTasks int
	onUpdate func(Snapshot)
	wg       sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxTasks overrides the retained-task cap.
func WithMaxTasks(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxTasks = n
		}
	}
}

// WithUpdateHook registers a callback invoked with a fresh snapshot on every
// observable state change. The callback runs outside the manager lock and
// must not block for long.
func WithUpdateHook(fn func(Snapshot)) Option {
	return func(m *Manager) { m.onUpdate = fn }
}

// NewManager creates an empty task manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		tasks:    make(map[string]*task),
		maxTasks: DefaultMaxTasks,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit registers a new task and starts it asynchronously. It returns the
// task id immediately and never blocks on the work itself.
func (m *Manager) Submit(kind Kind, work WorkFunc) string {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	t := &task{
		snap: Snapshot{
			ID:        id,
			Kind:      kind,
			Status:    StatusPending,
			Message:   "waiting to start",
			CreatedAt: time.Now(),
		},
		cancel: cancel,
	}

	m.mu.Lock()
	m.tasks[id] = t
	m.order = append(m.order, id)
	m.pruneLocked()
	m.mu.Unlock()

	m.notify(t.snap)
	log.Printf("task %s (%s) submitted", id, kind)

	m.wg.Add(1)
	go m.run(ctx, id, work)
	return id
}

// Get returns an immutable copy of the task's current state.
func (m *Manager) Get(id string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return t.snap, nil
}

// List returns snapshots most-recent-first, optionally filtered by status.
// A non-positive limit returns everything.
func (m *Manager) List(status Status, limit int) []Snapshot {
	m.mu.RLock()
	snaps := make([]Snapshot, 0, len(m.tasks))
	for _, t := range m.tasks {
		if status != "" && t.snap.Status != status {
			continue
		}
		snaps = append(snaps, t.snap)
	}
	m.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[:limit]
	}
	return snaps
}

// Cancel requests cooperative cancellation of a task. Cancelling a task that
// already reached a terminal status is a no-op returning nil; an unknown id
// returns ErrNotFound.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if t.snap.Status.Terminal() {
		m.mu.Unlock()
		return nil
	}
	t.snap.CancelRequested = true
	snap := t.snap
	m.mu.Unlock()

	t.cancel()
	m.notify(snap)
	log.Printf("task %s cancellation requested", id)
	return nil
}

// Wait blocks until all submitted tasks have finished. Used on shutdown.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// run executes the task body on its own goroutine and drives the status
// transitions. A panic inside the body is recovered and recorded as a
// failure without affecting other tasks.
func (m *Manager) run(ctx context.Context, id string, work WorkFunc) {
	defer m.wg.Done()

	m.update(id, func(s *Snapshot) {
		now := time.Now()
		s.Status = StatusRunning
		s.StartedAt = &now
		s.Message = "running"
	})

	progress := func(percent float64, message string) {
		if percent < 0 {
			percent = 0
		} else if percent > 100 {
			percent = 100
		}
		m.update(id, func(s *Snapshot) {
			if s.Status.Terminal() {
				return
			}
			s.Progress = percent
			if message != "" {
				s.Message = message
			}
		})
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				log.Printf("task %s panicked: %v\n%s", id, r, debug.Stack())
			}
		}()
		err = work(ctx, progress)
	}()

	now := time.Now()
	m.update(id, func(s *Snapshot) {
		s.CompletedAt = &now
		switch {
		case err == nil:
			s.Status = StatusCompleted
			s.Progress = 100
			if s.Message == "running" {
				s.Message = "completed"
			}
		case errors.Is(err, context.Canceled):
			s.Status = StatusCancelled
			s.Message = "cancelled"
		default:
			s.Status = StatusFailed
			s.Error = err.Error()
			s.Message = "failed: " + err.Error()
		}
	})

	snap, _ := m.Get(id)
	log.Printf("task %s finished with status %s", id, snap.Status)
}

// update applies fn to the task's snapshot under the lock, then notifies.
func (m *Manager) update(id string, fn func(*Snapshot)) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	fn(&t.snap)
	snap := t.snap
	m.mu.Unlock()
	m.notify(snap)
}

func (m *Manager) notify(snap Snapshot) {
	if m.onUpdate != nil {
		m.onUpdate(snap)
	}
}

// pruneLocked drops the oldest terminal tasks when the registry exceeds its
// cap. Running and pending tasks are never pruned. Caller holds m.mu.
func (m *Manager) pruneLocked() {
	excess := len(m.order) - m.maxTasks
	if excess <= 0 {
		return
	}
	kept := m.order[:0]
	for _, id := range m.order {
		t := m.tasks[id]
		if excess > 0 && t != nil && t.snap.Status.Terminal() {
			delete(m.tasks, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

// CleanupFinished removes terminal tasks that completed before the given
// retention window. Returns the number of tasks removed.
func (m *Manager) CleanupFinished(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	kept := m.order[:0]
	for _, id := range m.order {
		t := m.tasks[id]
		if t != nil && t.snap.Status.Terminal() &&
			t.snap.CompletedAt != nil && t.snap.CompletedAt.Before(cutoff) {
			delete(m.tasks, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept

	if removed > 0 {
		log.Printf("pruned %d finished tasks", removed)
	}
	return removed
}
