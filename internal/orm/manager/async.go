package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultAsyncWorkers = 4
	defaultAsyncQueue   = 100
)

// asyncTask is a unit of work for the executor. run never returns an error:
// results travel through the task's future.
type asyncTask struct {
	name string
	run  func()
}

// AsyncExecutor runs tasks on a fixed pool of workers fed by a bounded queue.
type AsyncExecutor struct {
	tasks       chan asyncTask
	workerCount int
	wg          sync.WaitGroup
	logger      *zap.Logger
	started     bool
	shutdown    bool
	mu          sync.Mutex
}

// NewAsyncExecutor creates an executor with the given worker count and queue
// size. Non-positive values select the defaults.
func NewAsyncExecutor(workerCount, queueSize int, logger *zap.Logger) *AsyncExecutor {
	if workerCount <= 0 {
		workerCount = defaultAsyncWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultAsyncQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsyncExecutor{
		tasks:       make(chan asyncTask, queueSize),
		workerCount: workerCount,
		logger:      logger,
	}
}

// Start starts the workers. It is a no-op after the first call.
func (e *AsyncExecutor) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started || e.shutdown {
		return
	}
	for i := 0; i < e.workerCount; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
	e.started = true
}

func (e *AsyncExecutor) worker(id int) {
	defer e.wg.Done()

	for task := range e.tasks {
		func() {
			defer func() {
				// Tasks recover their own panics, this only guards the pool
				if r := recover(); r != nil {
					e.logger.Error("async worker panic",
						zap.Int("worker", id), zap.String("task", task.name), zap.Any("panic", r))
				}
			}()
			task.run()
		}()
	}
}

// Submit queues a task. It blocks while the queue is full.
func (e *AsyncExecutor) Submit(ctx context.Context, name string, run func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.shutdown {
		return ErrClosed
	}
	if !e.started {
		return fmt.Errorf("async executor not started")
	}

	select {
	case e.tasks <- asyncTask{name: name, run: run}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks and waits for the queued ones to finish.
func (e *AsyncExecutor) Shutdown() {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return
	}
	e.shutdown = true
	started := e.started
	e.mu.Unlock()

	close(e.tasks)
	if started {
		e.wg.Wait()
	}
}

// Awaiter is implemented by every Future.
type Awaiter interface {
	Await(ctx context.Context) error
}

// Future is the result of an asynchronous operation.
type Future[T any] struct {
	id    string
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{id: uuid.NewString(), done: make(chan struct{})}
}

// ID identifies the operation in logs.
func (f *Future[T]) ID() string {
	return f.id
}

// Done is closed once the operation finished.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the operation finished or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Await is Wait without the value.
func (f *Future[T]) Await(ctx context.Context) error {
	_, err := f.Wait(ctx)
	return err
}

func (f *Future[T]) complete(v T, err error) {
	f.value, f.err = v, err
	close(f.done)
}

// WaitAll waits for every future and returns the first error.
func WaitAll(ctx context.Context, futures ...Awaiter) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range futures {
		f := f
		g.Go(func() error {
			return f.Await(gctx)
		})
	}
	return g.Wait()
}
