// Package stream keeps market data websocket connections alive.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/solsol/solsol/internal/logger"
	"github.com/solsol/solsol/internal/retry"
)

// State is the connection state of a Streamer.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config configures reconnection.
type Config struct {
	URL            string
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	MaxRetries     int // consecutive failed dials before giving up, 0 = never
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
}

// DefaultConfig returns 2s, 4s, 8s, 16s backoff with unbounded retries.
func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		InitialDelay:   2 * time.Second,
		MaxDelay:       16 * time.Second,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    10 * time.Second,
	}
}

// Streamer reads one websocket endpoint and reconnects on failure.
type Streamer struct {
	name      string
	cfg       Config
	onMessage func([]byte)
	logger    *logger.Logger

	state  atomic.Int32
	connMu sync.Mutex
	conn   *websocket.Conn

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// New creates a streamer. onMessage runs on the streamer's read goroutine.
func New(name string, cfg Config, onMessage func([]byte), log *logger.Logger) *Streamer {
	def := DefaultConfig(cfg.URL)
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if log == nil {
		log = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Streamer{
		name:      name,
		cfg:       cfg,
		onMessage: onMessage,
		logger:    log.With(logger.Field{Key: "stream", Value: name}),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Name returns the stream name.
func (s *Streamer) Name() string {
	return s.name
}

// State returns the current connection state.
func (s *Streamer) State() State {
	return State(s.state.Load())
}

// Start connects in the background.
func (s *Streamer) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Close stops reconnecting, closes the connection and waits for the read loop.
// It is idempotent and safe before Start.
func (s *Streamer) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.state.Store(int32(StateClosed))

		s.connMu.Lock()
		if s.conn != nil {
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = s.conn.Close()
		}
		s.connMu.Unlock()

		started := true
		s.startOnce.Do(func() { started = false })
		if started {
			<-s.done
		}
		s.logger.Info("stream closed")
	})
}

func (s *Streamer) run() {
	defer close(s.done)

	failures := 0
	for {
		connected, err := s.session()
		if s.ctx.Err() != nil {
			return
		}
		if connected {
			failures = 0
		} else {
			failures++
		}
		if s.cfg.MaxRetries > 0 && failures >= s.cfg.MaxRetries {
			s.state.Store(int32(StateDisconnected))
			s.logger.Error("stream gave up", err, logger.Field{Key: "attempts", Value: failures})
			return
		}

		delay := retry.Backoff(failures, s.cfg.InitialDelay, s.cfg.MaxDelay)
		s.state.Store(int32(StateReconnecting))
		s.logger.Warn("stream disconnected, reconnecting",
			logger.Field{Key: "error", Value: err.Error()},
			logger.Field{Key: "delay", Value: delay})

		timer := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session dials and reads until the connection breaks.
// connected reports whether the dial succeeded.
func (s *Streamer) session() (connected bool, err error) {
	s.state.Store(int32(StateConnecting))

	dialCtx, cancel := context.WithTimeout(s.ctx, s.cfg.ConnectTimeout)
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(dialCtx, s.cfg.URL, nil)
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	if s.ctx.Err() != nil {
		s.connMu.Unlock()
		_ = conn.Close()
		return true, s.ctx.Err()
	}
	s.conn = conn
	s.connMu.Unlock()

	s.state.Store(int32(StateConnected))
	s.logger.Info("stream connected", logger.Field{Key: "url", Value: s.cfg.URL})

	readTimeout := s.cfg.PingInterval + s.cfg.PongTimeout
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.ping(conn, pingDone)

	defer func() {
		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && s.ctx.Err() != nil {
				return true, nil
			}
			return true, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if s.onMessage != nil {
			s.onMessage(msg)
		}
	}
}

func (s *Streamer) ping(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.PongTimeout))
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				s.logger.Debug("ping failed", logger.Field{Key: "error", Value: err.Error()})
				return
			}
		}
	}
}
