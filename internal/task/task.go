// Package task is a small at-least-once task queue. Named tasks resolve
// to handler functions, each task is bound to a named queue, and every
// queue gets its own worker pool. Arguments cross the broker as JSON, so
// only primitives travel; handlers look entities up again by id and are
// responsible for their own idempotency. Handler errors are recorded on
// the owning job row, not retried.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Queue names. Imports run single file to serialize provider traffic.
const (
	QueueImports = "imports"
	QueueDefault = "default"
)

// dequeueWait bounds each broker poll so workers notice shutdown.
const dequeueWait = 2 * time.Second

// Envelope is the broker wire format for one task invocation.
type Envelope struct {
	ID         string          `json:"id"`
	Task       string          `json:"task"`
	Args       json.RawMessage `json:"args"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Handler executes one task invocation.
type Handler func(ctx context.Context, args json.RawMessage) error

// Broker is the FIFO transport behind the queues.
type Broker interface {
	// Enqueue pushes a payload onto the named queue.
	Enqueue(ctx context.Context, queue string, payload []byte) error
	// Dequeue pops the oldest payload, waiting up to timeout. A quiet
	// timeout returns (nil, nil).
	Dequeue(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)
}

type registration struct {
	queue   string
	handler Handler
}

// Runtime dispatches registered tasks over a Broker.
type Runtime struct {
	broker Broker
	log    *logrus.Entry

	mu          sync.RWMutex
	tasks       map[string]registration
	concurrency map[string]int

	wg sync.WaitGroup
}

// NewRuntime builds a runtime over the given broker.
func NewRuntime(broker Broker) *Runtime {
	return &Runtime{
		broker:      broker,
		log:         logrus.WithField("component", "tasks"),
		tasks:       make(map[string]registration),
		concurrency: map[string]int{QueueImports: 1, QueueDefault: 2},
	}
}

// SetConcurrency sets the worker count for a queue. Must be called
// before Run.
func (r *Runtime) SetConcurrency(queue string, n int) {
	if n < 1 {
		n = 1
	}
	r.mu.Lock()
	r.concurrency[queue] = n
	r.mu.Unlock()
}

// Register binds a task name to a queue and handler. Registering the
// same name twice is a programming error.
func (r *Runtime) Register(name, queue string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tasks[name]; dup {
		panic("task: duplicate registration of " + name)
	}
	r.tasks[name] = registration{queue: queue, handler: h}
	if _, ok := r.concurrency[queue]; !ok {
		r.concurrency[queue] = 1
	}
}

// Submit serializes args and enqueues one invocation of the named task,
// returning the generated task id.
func (r *Runtime) Submit(ctx context.Context, name string, args any) (string, error) {
	r.mu.RLock()
	reg, ok := r.tasks[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("task %q is not registered", name)
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode args for %s: %w", name, err)
	}
	env := Envelope{
		ID:         uuid.NewString(),
		Task:       name,
		Args:       raw,
		EnqueuedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	if err := r.broker.Enqueue(ctx, reg.queue, payload); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", name, err)
	}
	tasksSubmitted.WithLabelValues(name).Inc()
	return env.ID, nil
}

// Run starts the worker pools and blocks until ctx is cancelled and all
// in-flight handlers have returned.
func (r *Runtime) Run(ctx context.Context) {
	r.mu.RLock()
	for queue, n := range r.concurrency {
		for i := 0; i < n; i++ {
			r.wg.Add(1)
			go r.worker(ctx, queue, i)
		}
	}
	r.mu.RUnlock()
	r.wg.Wait()
}

func (r *Runtime) worker(ctx context.Context, queue string, id int) {
	defer r.wg.Done()
	log := r.log.WithFields(logrus.Fields{"queue": queue, "worker": id})
	log.Info("worker started")

	for {
		if ctx.Err() != nil {
			log.Info("worker stopping")
			return
		}
		payload, err := r.broker.Dequeue(ctx, queue, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		if payload == nil {
			continue
		}
		r.dispatch(ctx, log, payload)
	}
}

func (r *Runtime) dispatch(ctx context.Context, log *logrus.Entry, payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.WithError(err).Error("undecodable task payload dropped")
		return
	}

	r.mu.RLock()
	reg, ok := r.tasks[env.Task]
	r.mu.RUnlock()
	if !ok {
		log.WithField("task", env.Task).Error("unknown task dropped")
		return
	}

	tlog := log.WithFields(logrus.Fields{"task": env.Task, "task_id": env.ID})
	start := time.Now()

	err := r.run(ctx, reg.handler, env.Args)
	elapsed := time.Since(start)
	taskDuration.WithLabelValues(env.Task).Observe(elapsed.Seconds())

	if err != nil {
		tasksProcessed.WithLabelValues(env.Task, "error").Inc()
		tlog.WithError(err).WithField("elapsed", elapsed).Error("task failed")
		return
	}
	tasksProcessed.WithLabelValues(env.Task, "ok").Inc()
	tlog.WithField("elapsed", elapsed).Info("task done")
}

// run isolates handler panics so one bad payload cannot take the worker
// down.
func (r *Runtime) run(ctx context.Context, h Handler, args json.RawMessage) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panic: %v", p)
		}
	}()
	return h(ctx, args)
}
