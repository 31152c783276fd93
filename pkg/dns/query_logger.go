package dns

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pablodns/pkg/logging"
	"pablodns/pkg/storage"
)

// defaultLogTimeout bounds a single storage write during log processing.
const defaultLogTimeout = time.Second

// QueryLogger manages a worker pool for asynchronous query logging so the
// query path never spawns a goroutine per request.
type QueryLogger struct {
	logCh     chan *storage.QueryLog
	workers   int
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	storage   storage.Storage
	logger    *logging.Logger
	dropped   atomic.Uint64
	buffered  atomic.Uint64
	closeOnce sync.Once
}

// NewQueryLogger creates a new query logger with a fixed worker pool
func NewQueryLogger(stor storage.Storage, logger *logging.Logger, bufferSize, workers int) *QueryLogger {
	ctx, cancel := context.WithCancel(context.Background())

	ql := &QueryLogger{
		logCh:   make(chan *storage.QueryLog, bufferSize),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
		storage: stor,
		logger:  logger,
	}

	for i := 0; i < workers; i++ {
		ql.wg.Add(1)
		go ql.worker(i)
	}

	if logger != nil {
		logger.Info("Query logger worker pool started",
			"workers", workers,
			"buffer_size", bufferSize)
	}

	return ql
}

// worker processes query log entries from the channel
func (ql *QueryLogger) worker(id int) {
	defer ql.wg.Done()

	for {
		select {
		case <-ql.ctx.Done():
			ql.drainChannel()
			return

		case entry, ok := <-ql.logCh:
			if !ok {
				return
			}

			ql.buffered.Add(^uint64(0)) // atomic decrement

			logCtx, cancel := context.WithTimeout(ql.ctx, defaultLogTimeout)

			if err := ql.storage.LogQuery(logCtx, entry); err != nil {
				if ql.logger != nil {
					ql.logger.Error("Failed to log query",
						"worker", id,
						"domain", entry.Domain,
						"client_ip", entry.ClientIP,
						"error", err)
				}
			}

			cancel()
		}
	}
}

// drainChannel processes remaining entries during shutdown.
func (ql *QueryLogger) drainChannel() {
	for {
		select {
		case entry, ok := <-ql.logCh:
			if !ok {
				return
			}

			ql.buffered.Add(^uint64(0))

			// Main context is canceled at this point.
			logCtx, cancel := context.WithTimeout(context.Background(), defaultLogTimeout)

			if err := ql.storage.LogQuery(logCtx, entry); err != nil {
				if ql.logger != nil {
					ql.logger.Error("Failed to log query during shutdown",
						"domain", entry.Domain,
						"error", err)
				}
			}

			cancel()

		default:
			return
		}
	}
}

// LogAsync queues a query log entry for async processing.
// Returns ErrBufferFull if the buffer is full (non-blocking).
func (ql *QueryLogger) LogAsync(entry *storage.QueryLog) error {
	select {
	case ql.logCh <- entry:
		ql.buffered.Add(1)
		return nil
	default:
		ql.dropped.Add(1)

		if ql.logger != nil {
			ql.logger.Warn("Query log buffer full, dropping entry",
				"domain", entry.Domain,
				"client_ip", entry.ClientIP,
				"dropped_total", ql.dropped.Load())
		}

		return storage.ErrBufferFull
	}
}

// Close shuts down the worker pool, waiting for workers to finish any
// remaining entries. Safe to call multiple times.
func (ql *QueryLogger) Close() error {
	ql.closeOnce.Do(func() {
		if ql.logger != nil {
			ql.logger.Info("Shutting down query logger",
				"buffered_entries", ql.buffered.Load(),
				"dropped_total", ql.dropped.Load())
		}

		ql.cancel()
		ql.wg.Wait()
		close(ql.logCh)

		if ql.logger != nil {
			ql.logger.Info("Query logger shutdown complete")
		}
	})

	return nil
}

// Stats returns query logger statistics
func (ql *QueryLogger) Stats() (buffered, dropped uint64) {
	return ql.buffered.Load(), ql.dropped.Load()
}
