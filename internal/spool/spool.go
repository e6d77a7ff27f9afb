// Package spool decouples high-frequency log producers from the
// store's per-request cost: producers hand lines to a bounded queue,
// a single consumer batches them and flushes by size or by time.
package spool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ehrlich-b/shiplog/internal/report"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("spool closed")

// Sink receives flushed batches. One flush is exactly one BulkWrite.
type Sink interface {
	BulkWrite(ctx context.Context, lines []report.LogLine) error
}

// Spooler is an asynchronous buffered writer for log lines. Any number
// of producers may Enqueue concurrently; one background consumer owns
// the accumulation buffer and flushes it when it reaches capacity or
// when the oldest buffered line turns interval old.
//
// Bounded memory (capacity lines) and bounded latency (interval) are
// bought at the price of losing up to capacity-1 buffered lines on a
// hard crash. Orderly shutdown via Close never loses a line.
type Spooler struct {
	sink     Sink
	capacity int
	interval time.Duration
	log      *slog.Logger

	lines  chan report.LogLine
	closed chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup

	mu       sync.Mutex
	drainErr error
}

// New starts a spooler with one background consumer. capacity bounds
// both the hand-off queue and the size of a flush batch; interval caps
// how long an underfull batch may wait.
func New(sink Sink, capacity int, interval time.Duration, logger *slog.Logger) *Spooler {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity < 1 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	s := &Spooler{
		sink:     sink,
		capacity: capacity,
		interval: interval,
		log:      logger,
		lines:    make(chan report.LogLine, capacity),
		closed:   make(chan struct{}),
	}

	s.wg.Add(1)
	go s.consume()

	return s
}

// Enqueue hands one line to the consumer. It blocks only while the
// hand-off queue is momentarily full. After Close it returns ErrClosed;
// a line is never silently dropped.
func (s *Spooler) Enqueue(line report.LogLine) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	select {
	case s.lines <- line:
		return nil
	case <-s.closed:
		return ErrClosed
	}
}

// Close signals that producers are done, drains every buffered line
// and waits for the consumer to exit. Idempotent. The returned error
// is the first flush failure during the drain, if any; a caller that
// sees it knows the stored log is incomplete.
func (s *Spooler) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drainErr
}

// consume is the single owner of the accumulation buffer. The timer
// measures the age of the current buffer: it restarts on every flush
// and when a line lands in an empty buffer.
func (s *Spooler) consume() {
	defer s.wg.Done()

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	acc := make([]report.LogLine, 0, s.capacity)

	for {
		select {
		case <-s.closed:
			s.drain(acc)
			return

		case line := <-s.lines:
			acc = append(acc, line)
			if len(acc) >= s.capacity {
				s.flush(acc)
				acc = make([]report.LogLine, 0, s.capacity)
				timer.Reset(s.interval)
			} else if len(acc) == 1 {
				timer.Reset(s.interval)
			}

		case <-timer.C:
			if len(acc) > 0 {
				s.flush(acc)
				acc = make([]report.LogLine, 0, s.capacity)
			}
			timer.Reset(s.interval)
		}
	}
}

// drain empties the hand-off queue after Close, still flushing in
// batches of at most capacity, then sends the final underfull batch.
func (s *Spooler) drain(acc []report.LogLine) {
	for {
		select {
		case line := <-s.lines:
			acc = append(acc, line)
			if len(acc) >= s.capacity {
				s.recordDrainErr(s.flush(acc))
				acc = make([]report.LogLine, 0, s.capacity)
			}
		default:
			if len(acc) > 0 {
				s.recordDrainErr(s.flush(acc))
			}
			return
		}
	}
}

// flush sends one batch. A failed mid-run flush is logged and the
// consumer keeps going: a lost log batch does not fail the build.
func (s *Spooler) flush(lines []report.LogLine) error {
	err := s.sink.BulkWrite(context.Background(), lines)
	if err != nil {
		s.log.Warn("log flush failed", "lines", len(lines), "error", err)
		return err
	}
	s.log.Debug("flushed log batch", "lines", len(lines))
	return nil
}

func (s *Spooler) recordDrainErr(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.drainErr == nil {
		s.drainErr = err
	}
	s.mu.Unlock()
}
