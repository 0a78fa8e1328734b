package mcpsdk

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type HeartbeatConfig struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger
}

func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		PingInterval: 30 * time.Second,
		PingTimeout:  10 * time.Second,
		Clock:        clock.New(),
		Logger:       slog.Default(),
	}
}

// Heartbeat passively monitors inbound traffic and flags stalled sessions.
// Keepalive frames themselves are the transport's native ping/pong; the
// monitor only observes activity and warns. It never closes the transport:
// reconnect decisions belong to the connection engine alone.
type Heartbeat struct {
	cfg    HeartbeatConfig
	clk    clock.Clock
	logger *slog.Logger

	mu           sync.Mutex
	lastActivity time.Time
	running      bool
	stop         chan struct{}
}

func NewHeartbeat(cfg HeartbeatConfig) *Heartbeat {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Heartbeat{
		cfg:    cfg,
		clk:    cfg.Clock,
		logger: cfg.Logger,
	}
}

func (h *Heartbeat) Start() {
	h.mu.Lock()

	if h.running {
		h.mu.Unlock()
		return
	}

	h.running = true
	h.lastActivity = h.clk.Now()
	h.stop = make(chan struct{})
	stop := h.stop

	h.mu.Unlock()

	go h.monitor(stop)

	h.logger.Info("heartbeat monitor started",
		slog.Duration("ping_interval", h.cfg.PingInterval),
		slog.Duration("ping_timeout", h.cfg.PingTimeout),
	)
}

func (h *Heartbeat) Stop() {
	h.mu.Lock()

	if !h.running {
		h.mu.Unlock()
		return
	}

	h.running = false
	close(h.stop)

	h.mu.Unlock()

	h.logger.Info("heartbeat monitor stopped")
}

// MarkOffline stops monitoring permanently for this session. Used on
// kickout; a new session binds a fresh start.
func (h *Heartbeat) MarkOffline() {
	h.logger.Warn("service marked as offline")
	h.Stop()
}

// NotifyActivity records inbound traffic. Called for every successfully
// received frame, not only pongs.
func (h *Heartbeat) NotifyActivity() {
	h.mu.Lock()
	h.lastActivity = h.clk.Now()
	h.mu.Unlock()
}

func (h *Heartbeat) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.running
}

// Stalled reports whether the gap since the last observed activity exceeds
// twice the expected ping round-trip window.
func (h *Heartbeat) Stalled() bool {
	h.mu.Lock()
	last := h.lastActivity
	h.mu.Unlock()

	if last.IsZero() {
		return false
	}

	return h.clk.Since(last) > h.stallThreshold()
}

func (h *Heartbeat) stallThreshold() time.Duration {
	return 2 * (h.cfg.PingInterval + h.cfg.PingTimeout)
}

func (h *Heartbeat) monitor(stop chan struct{}) {
	ticker := h.clk.Ticker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if h.Stalled() {
				h.mu.Lock()
				idle := h.clk.Since(h.lastActivity)
				h.mu.Unlock()

				h.logger.Warn("no activity on session", slog.Duration("idle", idle))
			}
		}
	}
}
