package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type perfRecorder struct {
	mu      sync.Mutex
	elapsed []time.Duration
	slow    []bool
}

func (p *perfRecorder) EmitPerformance(elapsed time.Duration, slow bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elapsed = append(p.elapsed, elapsed)
	p.slow = append(p.slow, slow)
	return nil
}

type warnRecorder struct {
	mu    sync.Mutex
	codes []string
}

func (w *warnRecorder) EmitStreamWarning(code, message string, elapsed time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.codes = append(w.codes, code)
	return nil
}

func (w *warnRecorder) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.codes)
}

func TestEndTimer_FastResponseNotSlow(t *testing.T) {
	m := NewMonitor(MonitorConfig{SlowThreshold: 5 * time.Second}, nil)
	now := time.Unix(1000, 0)
	m.SetNow(func() time.Time { return now })

	m.StartTimer("u1")
	now = now.Add(800 * time.Millisecond)

	rec := &perfRecorder{}
	elapsed := m.EndTimer("u1", rec)
	if elapsed != 800*time.Millisecond {
		t.Fatalf("elapsed=%v", elapsed)
	}
	if len(rec.slow) != 1 || rec.slow[0] {
		t.Fatalf("slow=%v, want [false]", rec.slow)
	}
}

func TestEndTimer_SlowResponseFlagged(t *testing.T) {
	m := NewMonitor(MonitorConfig{SlowThreshold: 5 * time.Second}, nil)
	now := time.Unix(1000, 0)
	m.SetNow(func() time.Time { return now })

	m.StartTimer("u1")
	now = now.Add(7 * time.Second)

	rec := &perfRecorder{}
	if m.EndTimer("u1", rec); len(rec.slow) != 1 || !rec.slow[0] {
		t.Fatalf("slow=%v, want [true]", rec.slow)
	}
}

func TestEndTimer_WithoutStart(t *testing.T) {
	m := NewMonitor(MonitorConfig{}, nil)
	rec := &perfRecorder{}
	if elapsed := m.EndTimer("ghost", rec); elapsed != 0 {
		t.Fatalf("elapsed=%v, want 0", elapsed)
	}
	if len(rec.elapsed) != 0 {
		t.Fatalf("unexpected emission for unstarted timer")
	}
}

func TestMonitorStream_SingleWarningPastThreshold(t *testing.T) {
	m := NewMonitor(MonitorConfig{
		WarnAfter:     30 * time.Millisecond,
		CheckInterval: 10 * time.Millisecond,
	}, nil)
	rec := &warnRecorder{}

	ctx, cancel := context.WithCancel(context.Background())
	go m.MonitorStream(ctx, rec, time.Now())

	waitFor(t, func() bool { return rec.count() >= 1 })
	// More checks elapse; the warning must not repeat.
	time.Sleep(50 * time.Millisecond)
	cancel()
	if n := rec.count(); n != 1 {
		t.Fatalf("warnings=%d, want exactly 1", n)
	}
	if rec.codes[0] != "stream_slow" {
		t.Fatalf("code=%q", rec.codes[0])
	}
}

func TestMonitorStream_NoWarningBeforeThreshold(t *testing.T) {
	m := NewMonitor(MonitorConfig{
		WarnAfter:     time.Hour,
		CheckInterval: 5 * time.Millisecond,
	}, nil)
	rec := &warnRecorder{}

	ctx, cancel := context.WithCancel(context.Background())
	go m.MonitorStream(ctx, rec, time.Now())
	time.Sleep(40 * time.Millisecond)
	cancel()

	if n := rec.count(); n != 0 {
		t.Fatalf("warnings=%d, want 0", n)
	}
}

type fakePinger struct {
	err error
}

func (p fakePinger) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return p.err
}

func TestCheckConnection(t *testing.T) {
	m := NewMonitor(MonitorConfig{}, nil)
	if !m.CheckConnection(fakePinger{}) {
		t.Fatalf("healthy probe reported unhealthy")
	}
	if m.CheckConnection(fakePinger{err: errors.New("broken pipe")}) {
		t.Fatalf("failed probe reported healthy")
	}
	if m.CheckConnection(nil) {
		t.Fatalf("nil connection reported healthy")
	}
}
