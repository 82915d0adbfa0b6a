package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/vechain/dposcore/config"
	"github.com/vechain/dposcore/types"
)

// Sink receives the points produced by handlers.
type Sink interface {
	WritePoints(ctx context.Context, points []*write.Point) error
}

// Task represents a handler run for one event
type Task struct {
	EventType string
	Handler   Handler
	Event     *types.Event
}

// WorkerPool runs handlers concurrently and writes their points to a sink
type WorkerPool struct {
	workers    int
	taskQueue  chan Task
	sink       Sink
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.RWMutex
	isShutdown bool
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(workers int, queueSize int, sink Sink) *WorkerPool {
	if workers <= 0 {
		workers = config.DefaultWorkerPoolSize
	}
	if queueSize <= 0 {
		queueSize = config.DefaultTaskQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &WorkerPool{
		workers:   workers,
		taskQueue: make(chan Task, queueSize),
		sink:      sink,
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	slog.Info("Worker pool started", "workers", workers, "queue_size", queueSize)
	return pool
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	slog.Debug("Worker started", "worker_id", id)

	// drain the queue on shutdown so accepted events are still written
	for task := range wp.taskQueue {
		wp.processTask(task, id)
	}
	slog.Debug("Task queue closed, worker shutting down", "worker_id", id)
}

// processTask executes a single task with panic recovery
func (wp *WorkerPool) processTask(task Task, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 1024)
			for {
				n := runtime.Stack(buf, false)
				if n < len(buf) {
					buf = buf[:n]
					break
				}
				buf = make([]byte, 2*len(buf))
			}
			slog.Error("Worker panic recovered",
				"worker_id", workerID,
				"event_type", task.EventType,
				"height", task.Event.Height,
				"panic", r)

			// fmt so \n and \t are interpreted correctly
			fmt.Printf("Stack trace:\n%s\n", string(buf))
		}
	}()

	start := time.Now()
	points := task.Handler(task.Event)
	if len(points) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DefaultTimeout)
	defer cancel()
	if err := wp.sink.WritePoints(ctx, points); err != nil {
		slog.Error("Failed to write points",
			"worker_id", workerID,
			"event_type", task.EventType,
			"kind", task.Event.Kind,
			"error", err,
			"height", task.Event.Height)
		return
	}
	slog.Debug("Task completed successfully",
		"worker_id", workerID,
		"event_type", task.EventType,
		"points", len(points),
		"duration", time.Since(start),
		"height", task.Event.Height)
}

// SubmitBatch submits multiple tasks to the worker pool
func (wp *WorkerPool) SubmitBatch(tasks []Task) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.isShutdown {
		return errors.New(config.ErrWorkerPoolShutdown)
	}

	for _, task := range tasks {
		select {
		case wp.taskQueue <- task:
		case <-wp.ctx.Done():
			return errors.New(config.ErrWorkerPoolShutdown)
		}
	}
	return nil
}

// Shutdown stops accepting tasks and waits for queued ones to finish
func (wp *WorkerPool) Shutdown() {
	wp.mu.Lock()
	if !wp.isShutdown {
		wp.cancel()
		close(wp.taskQueue)
		wp.isShutdown = true
	}
	wp.mu.Unlock()

	slog.Info("Worker pool shutdown initiated, waiting for workers to complete")
	wp.wg.Wait()
	slog.Info("Worker pool shutdown completed")
}
