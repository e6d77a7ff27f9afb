package spool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ehrlich-b/shiplog/internal/report"
)

// testSink captures flushed batches. failNext makes the next N calls
// fail; gate, when set, blocks every call until the channel is closed.
type testSink struct {
	mu       sync.Mutex
	batches  [][]report.LogLine
	calls    int
	failNext int
	gate     chan struct{}
}

func (c *testSink) BulkWrite(ctx context.Context, lines []report.LogLine) error {
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.failNext > 0 {
		c.failNext--
		return errors.New("store down")
	}
	batch := make([]report.LogLine, len(lines))
	copy(batch, lines)
	c.batches = append(c.batches, batch)
	return nil
}

func (c *testSink) snapshot() [][]report.LogLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]report.LogLine, len(c.batches))
	copy(out, c.batches)
	return out
}

func line(i int) report.LogLine {
	return report.NewLogLine("b1", report.StreamStdout, fmt.Sprintf("line %d", i), int64(i), int64(i))
}

func TestCapacityFlush(t *testing.T) {
	sink := &testSink{}
	s := New(sink, 3, 10*time.Second, nil)

	for i := 1; i <= 7; i++ {
		if err := s.Enqueue(line(i)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// 7 lines at capacity 3: ceil(7/3) = 3 flushes, none larger than 3
	batches := sink.snapshot()
	if len(batches) != 3 {
		t.Fatalf("flushes = %d, want 3", len(batches))
	}
	total := 0
	for i, b := range batches {
		if len(b) > 3 {
			t.Errorf("batch %d has %d lines, want <= 3", i, len(b))
		}
		total += len(b)
	}
	if total != 7 {
		t.Errorf("total lines = %d, want 7", total)
	}
	if len(batches[2]) != 1 {
		t.Errorf("final batch = %d lines, want 1", len(batches[2]))
	}
}

func TestTimerFlush(t *testing.T) {
	sink := &testSink{}
	s := New(sink, 100, 50*time.Millisecond, nil)
	defer s.Close()

	if err := s.Enqueue(line(1)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := s.Enqueue(line(2)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	batches := sink.snapshot()
	if len(batches) != 1 {
		t.Fatalf("flushes = %d, want 1", len(batches))
	}
	if len(batches[0]) != 2 {
		t.Errorf("batch = %d lines, want 2", len(batches[0]))
	}

	// An idle spool never flushes empty batches
	time.Sleep(150 * time.Millisecond)
	if got := len(sink.snapshot()); got != 1 {
		t.Errorf("flushes after idle = %d, want still 1", got)
	}
}

func TestNoFlushWhenIdle(t *testing.T) {
	sink := &testSink{}
	s := New(sink, 5, 20*time.Millisecond, nil)

	time.Sleep(100 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := len(sink.snapshot()); got != 0 {
		t.Errorf("flushes = %d, want 0", got)
	}
}

func TestCloseDrainsUnderfullBatch(t *testing.T) {
	sink := &testSink{}
	s := New(sink, 10, 10*time.Second, nil)

	for i := 1; i <= 4; i++ {
		if err := s.Enqueue(line(i)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	batches := sink.snapshot()
	if len(batches) != 1 {
		t.Fatalf("flushes = %d, want exactly 1", len(batches))
	}
	if len(batches[0]) != 4 {
		t.Fatalf("batch = %d lines, want 4", len(batches[0]))
	}
	// Single-producer lines flush in enqueue order
	for i, l := range batches[0] {
		want := fmt.Sprintf("line %d", i+1)
		if l.Log != want {
			t.Errorf("batch[0][%d].Log = %q, want %q", i, l.Log, want)
		}
	}

	// Second Close is a no-op
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
	if got := len(sink.snapshot()); got != 1 {
		t.Errorf("flushes after second Close = %d, want 1", got)
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	s := New(&testSink{}, 3, time.Second, nil)
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Enqueue(line(1)); err != ErrClosed {
		t.Errorf("Enqueue after Close = %v, want ErrClosed", err)
	}
}

func TestCapacityThenTimerScenario(t *testing.T) {
	// capacity 3, interval 500ms: three quick lines flush immediately
	// on the third; a late fourth line flushes one interval after it
	// was buffered, not on the old schedule.
	sink := &testSink{}
	s := New(sink, 3, 500*time.Millisecond, nil)
	defer s.Close()

	for i := 1; i <= 3; i++ {
		if err := s.Enqueue(line(i)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	time.Sleep(100 * time.Millisecond)
	if got := len(sink.snapshot()); got != 1 {
		t.Fatalf("flushes after capacity fill = %d, want 1", got)
	}

	// Let more than one interval pass while empty: still no flush
	time.Sleep(600 * time.Millisecond)
	if got := len(sink.snapshot()); got != 1 {
		t.Fatalf("flushes while idle = %d, want 1", got)
	}

	if err := s.Enqueue(line(4)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// Well before the fourth line's interval expires: not flushed yet
	time.Sleep(200 * time.Millisecond)
	if got := len(sink.snapshot()); got != 1 {
		t.Errorf("flushes before interval = %d, want 1", got)
	}

	// After it expires: flushed alone
	time.Sleep(600 * time.Millisecond)
	batches := sink.snapshot()
	if len(batches) != 2 {
		t.Fatalf("flushes = %d, want 2", len(batches))
	}
	if len(batches[1]) != 1 || batches[1][0].Log != "line 4" {
		t.Errorf("second batch = %+v, want [line 4]", batches[1])
	}
}

func TestFlushErrorDoesNotStopConsumer(t *testing.T) {
	sink := &testSink{failNext: 1}
	s := New(sink, 2, 10*time.Second, nil)

	// First pair hits the failing flush
	if err := s.Enqueue(line(1)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := s.Enqueue(line(2)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	// Second pair must still go through
	if err := s.Enqueue(line(3)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := s.Enqueue(line(4)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close = %v, want nil (mid-run errors are not drain errors)", err)
	}

	sink.mu.Lock()
	calls := sink.calls
	sink.mu.Unlock()
	if calls != 2 {
		t.Errorf("sink calls = %d, want 2", calls)
	}
	batches := sink.snapshot()
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("recorded batches = %+v, want one batch of 2", batches)
	}
	if batches[0][0].Log != "line 3" {
		t.Errorf("surviving batch starts with %q, want %q", batches[0][0].Log, "line 3")
	}
}

func TestDrainErrorReturnedFromClose(t *testing.T) {
	sink := &testSink{failNext: 1}
	s := New(sink, 10, 10*time.Second, nil)

	if err := s.Enqueue(line(1)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	err := s.Close()
	if err == nil {
		t.Fatal("Close should report the drain flush failure")
	}
	// Idempotent, and it keeps reporting the same failure
	if err2 := s.Close(); err2 != err {
		t.Errorf("second Close = %v, want %v", err2, err)
	}
}

func TestEnqueueBackpressure(t *testing.T) {
	release := make(chan struct{})
	sink := &testSink{gate: release}
	s := New(sink, 2, 10*time.Second, nil)

	// Two lines reach the consumer and jam it inside a gated flush,
	// two more fill the hand-off queue.
	for i := 1; i <= 4; i++ {
		if err := s.Enqueue(line(i)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	// The fifth producer must suspend
	unblocked := make(chan struct{})
	go func() {
		if err := s.Enqueue(line(5)); err != nil {
			t.Errorf("Enqueue failed: %v", err)
		}
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatal("Enqueue returned while the queue was full")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)

	select {
	case <-unblocked:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue still blocked after the consumer resumed")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	total := 0
	for _, b := range sink.snapshot() {
		if len(b) > 2 {
			t.Errorf("batch of %d lines exceeds capacity 2", len(b))
		}
		total += len(b)
	}
	if total != 5 {
		t.Errorf("total lines = %d, want 5", total)
	}
}
