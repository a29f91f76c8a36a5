package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// PerformanceEmitter receives per-request timing observations.
type PerformanceEmitter interface {
	EmitPerformance(elapsed time.Duration, slow bool) error
}

// WarningEmitter receives long-stream warnings.
type WarningEmitter interface {
	EmitStreamWarning(code, message string, elapsed time.Duration) error
}

// Pinger is the slice of a websocket connection the liveness probe needs.
type Pinger interface {
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

type MonitorConfig struct {
	SlowThreshold time.Duration // per-request latency above which a response is flagged slow
	WarnAfter     time.Duration // open-stream duration above which a warning is emitted
	CheckInterval time.Duration // cadence of open-stream checks
	ProbeTimeout  time.Duration
}

// Monitor measures per-request latency and watches open streams. Everything
// here is advisory: a monitor failure annotates the request path, it never
// blocks it.
type Monitor struct {
	cfg    MonitorConfig
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	starts map[string]time.Time
}

func NewMonitor(cfg MonitorConfig, logger *slog.Logger) *Monitor {
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = 5 * time.Second
	}
	if cfg.WarnAfter <= 0 {
		cfg.WarnAfter = 30 * time.Second
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 5 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		starts: make(map[string]time.Time),
	}
}

// SetNow overrides the clock. Test hook.
func (m *Monitor) SetNow(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

func (m *Monitor) StartTimer(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts[userID] = m.now()
}

// EndTimer reports the elapsed time since StartTimer and emits a
// performance_metrics observation, flagging responses above the slow
// threshold. Returns zero if no timer was started.
func (m *Monitor) EndTimer(userID string, em PerformanceEmitter) time.Duration {
	m.mu.Lock()
	start, ok := m.starts[userID]
	delete(m.starts, userID)
	m.mu.Unlock()
	if !ok {
		return 0
	}

	elapsed := m.now().Sub(start)
	slow := elapsed > m.cfg.SlowThreshold
	if slow {
		m.logger.Warn("slow response", "user_id", userID, "elapsed_ms", elapsed.Milliseconds())
	}
	if em != nil {
		if err := em.EmitPerformance(elapsed, slow); err != nil {
			m.logger.Debug("performance emit failed", "error", err)
		}
	}
	return elapsed
}

// MonitorStream watches an open stream on a fixed cadence and emits a single
// stream_warning once it has run longer than the threshold without completing.
// Blocks until ctx is canceled; run it in its own goroutine scoped to the
// stream's lifetime.
func (m *Monitor) MonitorStream(ctx context.Context, em WarningEmitter, start time.Time) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	warned := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := m.now().Sub(start)
			if warned || elapsed <= m.cfg.WarnAfter {
				continue
			}
			warned = true
			if em != nil {
				if err := em.EmitStreamWarning("stream_slow", "response is taking longer than expected", elapsed); err != nil {
					m.logger.Debug("stream warning emit failed", "error", err)
				}
			}
		}
	}
}

// CheckConnection probes transport liveness before committing to expensive
// work. A failed probe means the peer is unlikely to receive a response.
func (m *Monitor) CheckConnection(conn Pinger) bool {
	if conn == nil {
		return false
	}
	deadline := m.now().Add(m.cfg.ProbeTimeout)
	if err := conn.WriteControl(websocket.PingMessage, []byte("hc"), deadline); err != nil {
		m.logger.Debug("connection probe failed", "error", err)
		return false
	}
	return true
}
