// Package thread schedules long-lived tasks in named serialization lanes.
//
// Tasks sharing a thread key run one at a time in priority order (higher
// first, FIFO within a priority). Across lanes at most MaxParallelThreads tasks
// are in flight, and each lane holds at most MaxQueueDepthPerThread queued
// tasks; further enqueues fail with ErrQueueFull instead of blocking.
package thread

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultThread receives tasks persisted without a thread key.
const DefaultThread = "default"

// Defaults of Config.
const (
	DefaultMaxParallelThreads     = 2
	DefaultMaxQueueDepthPerThread = 10
)

var (
	// ErrQueueFull is returned by Enqueue when the lane backlog is at its limit.
	ErrQueueFull = errors.New("thread queue is full")
	// ErrUnknownTask is returned by Complete for a task that is not running.
	ErrUnknownTask = errors.New("task is not running")
)

// Status of a task.
type Status string

// Task statuses.
const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Task is a unit of work bound to a thread.
type Task struct {
	ID        string         `json:"id"`
	ThreadKey string         `json:"thread_key"`
	Priority  int            `json:"priority"`
	Payload   map[string]any `json:"payload,omitempty"`
	Status    Status         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`

	seq int64
}

// Config bounds the scheduler.
type Config struct {
	MaxParallelThreads     int `json:"max_parallel_threads"       mapstructure:"max_parallel_threads"`
	MaxQueueDepthPerThread int `json:"max_queue_depth_per_thread" mapstructure:"max_queue_depth_per_thread"`
}

// WithDefaults fills unset limits.
func (c Config) WithDefaults() Config {
	if c.MaxParallelThreads <= 0 {
		c.MaxParallelThreads = DefaultMaxParallelThreads
	}
	if c.MaxQueueDepthPerThread <= 0 {
		c.MaxQueueDepthPerThread = DefaultMaxQueueDepthPerThread
	}
	return c
}

// Store persists tasks. Pending returns queued and running tasks in creation
// order.
type Store interface {
	Insert(ctx context.Context, t Task) error
	SetStatus(ctx context.Context, id string, status Status) error
	Pending(ctx context.Context) ([]Task, error)
}

// Lane is a snapshot of one thread.
type Lane struct {
	Key     string `json:"key"`
	Current *Task  `json:"current,omitempty"`
	Queued  []Task `json:"queued"`
}

type lane struct {
	key     string
	current *Task
	queue   []Task
}

// Scheduler hands out tasks while honoring per-lane serialization and the
// global parallelism limit. It is safe for concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	cfg     Config
	store   Store
	lanes   map[string]*lane
	running int
	seq     int64
	adopted bool
	now     func() time.Time
}

// New creates a scheduler. store may be nil for a purely in-memory scheduler.
func New(cfg Config, store Store) *Scheduler {
	return &Scheduler{
		cfg:   cfg.WithDefaults(),
		store: store,
		lanes: map[string]*lane{},
		now:   time.Now,
	}
}

// Enqueue adds a task to the lane of threadKey.
func (s *Scheduler) Enqueue(ctx context.Context, threadKey string, priority int, payload map[string]any) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.adopt(ctx); err != nil {
		return Task{}, err
	}

	key := normalizeKey(threadKey)
	l := s.lane(key)
	if len(l.queue) >= s.cfg.MaxQueueDepthPerThread {
		return Task{}, fmt.Errorf("%w: %s has %d queued tasks", ErrQueueFull, key, len(l.queue))
	}

	t := Task{
		ID:        uuid.NewString(),
		ThreadKey: key,
		Priority:  priority,
		Payload:   payload,
		Status:    StatusQueued,
		CreatedAt: s.now().UTC(),
	}
	if s.store != nil {
		if err := s.store.Insert(ctx, t); err != nil {
			return Task{}, err
		}
	}
	s.push(l, t)
	log.Debug().Str("thread", key).Str("task", t.ID).Int("priority", priority).Msg("task enqueued")
	return t, nil
}

// NextForThread starts the next task of threadKey. It returns false while
// the lane already has a running task or the global limit is reached.
func (s *Scheduler) NextForThread(ctx context.Context, threadKey string) (Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.adopt(ctx); err != nil {
		return Task{}, false, err
	}

	l, ok := s.lanes[normalizeKey(threadKey)]
	if !ok || !s.ready(l) {
		return Task{}, false, nil
	}
	return s.start(ctx, l)
}

// Next starts the best task across all idle lanes: highest priority first,
// then oldest.
func (s *Scheduler) Next(ctx context.Context) (Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.adopt(ctx); err != nil {
		return Task{}, false, err
	}

	var best *lane
	for _, l := range s.lanes {
		if !s.ready(l) {
			continue
		}
		if best == nil || before(l.queue[0], best.queue[0]) {
			best = l
		}
	}
	if best == nil {
		return Task{}, false, nil
	}
	return s.start(ctx, best)
}

// Complete finishes the running task id and frees its lane.
func (s *Scheduler) Complete(ctx context.Context, id string, ok bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.adopt(ctx); err != nil {
		return err
	}

	for _, l := range s.lanes {
		if l.current == nil || l.current.ID != id {
			continue
		}
		status := StatusDone
		if !ok {
			status = StatusFailed
		}
		if s.store != nil {
			if err := s.store.SetStatus(ctx, id, status); err != nil {
				return err
			}
		}
		l.current = nil
		s.running--
		log.Debug().Str("thread", l.key).Str("task", id).Str("status", string(status)).Msg("task completed")
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownTask, id)
}

// Snapshot returns every non-empty lane ordered by key.
func (s *Scheduler) Snapshot(ctx context.Context) ([]Lane, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.adopt(ctx); err != nil {
		return nil, err
	}

	out := make([]Lane, 0, len(s.lanes))
	for _, l := range s.lanes {
		if l.current == nil && len(l.queue) == 0 {
			continue
		}
		snap := Lane{Key: l.key, Queued: append([]Task{}, l.queue...)}
		if l.current != nil {
			cur := *l.current
			snap.Current = &cur
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Running returns the number of tasks in flight.
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// adopt loads persisted work once. Queued tasks without a key join the
// default thread; running tasks keep occupying their lane.
func (s *Scheduler) adopt(ctx context.Context) error {
	if s.adopted || s.store == nil {
		s.adopted = true
		return nil
	}
	pending, err := s.store.Pending(ctx)
	if err != nil {
		return fmt.Errorf("adopt persisted tasks: %w", err)
	}
	adopted := 0
	for _, t := range pending {
		t.ThreadKey = normalizeKey(t.ThreadKey)
		l := s.lane(t.ThreadKey)
		switch {
		case t.Status == StatusRunning && l.current == nil:
			s.seq++
			t.seq = s.seq
			l.current = &t
			s.running++
		default:
			t.Status = StatusQueued
			s.push(l, t)
		}
		adopted++
	}
	s.adopted = true
	if adopted > 0 {
		log.Info().Int("tasks", adopted).Msg("adopted persisted thread tasks")
	}
	return nil
}

func (s *Scheduler) ready(l *lane) bool {
	return l.current == nil && len(l.queue) > 0 && s.running < s.cfg.MaxParallelThreads
}

func (s *Scheduler) start(ctx context.Context, l *lane) (Task, bool, error) {
	t := l.queue[0]
	if s.store != nil {
		if err := s.store.SetStatus(ctx, t.ID, StatusRunning); err != nil {
			return Task{}, false, err
		}
	}
	l.queue = l.queue[1:]
	t.Status = StatusRunning
	l.current = &t
	s.running++
	return t, true, nil
}

func (s *Scheduler) lane(key string) *lane {
	l, ok := s.lanes[key]
	if !ok {
		l = &lane{key: key}
		s.lanes[key] = l
	}
	return l
}

// push inserts t keeping the queue ordered by priority then arrival.
func (s *Scheduler) push(l *lane, t Task) {
	s.seq++
	t.seq = s.seq
	i := sort.Search(len(l.queue), func(i int) bool { return before(t, l.queue[i]) })
	l.queue = append(l.queue, Task{})
	copy(l.queue[i+1:], l.queue[i:])
	l.queue[i] = t
}

func before(a, b Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.seq < b.seq
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return DefaultThread
	}
	return key
}
