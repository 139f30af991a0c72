// Package timeservice implements FinDAG Time: a monotonic logical clock
// derived from the local wall clock plus a clamped median of peer offsets
// measured via a ping-pong protocol.
//
// The service is singleton-friendly but fully injectable: both the wall
// clock and the peer set are interfaces, so tests drive it
// deterministically.
package timeservice

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/findag-network/findag-core/internal/hashtimer"
)

// defaultHistory is the number of retained peer offsets.
const defaultHistory = 100

// Peer measures one round of the ping-pong protocol against a remote node
// and reports the four timestamps t0..t3 in microseconds. The transport
// that carries the ping/pong bytes lives outside this module.
type Peer interface {
	// Ping sends a ping and blocks until the pong (or ctx expiry). t0 is
	// the local send time, t3 the local receive time; t1/t2 are the
	// remote's receive/send times echoed back in the pong.
	Ping(ctx context.Context) (t0, t1, t2, t3 int64, err error)
}

// Clock abstracts the local wall clock so tests can inject deterministic
// time.
type Clock interface {
	NowMicro() int64
}

type systemClock struct{}

func (systemClock) NowMicro() int64 { return time.Now().UnixMicro() }

// Config controls clamp window and cadence.
type Config struct {
	MaxPeerOffsetUS int64         // clamp window, default 5000
	PingInterval    time.Duration // base cadence, default 4s
	PingJitter      time.Duration // +/- jitter, default 500ms
	PingTimeout     time.Duration // default 100ms
}

func (c Config) withDefaults() Config {
	if c.MaxPeerOffsetUS == 0 {
		c.MaxPeerOffsetUS = 5000
	}
	if c.PingInterval == 0 {
		c.PingInterval = 4 * time.Second
	}
	if c.PingJitter == 0 {
		c.PingJitter = 500 * time.Millisecond
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = 100 * time.Millisecond
	}
	return c
}

// Service maintains the bounded-history offset queue and produces FinDAG
// Time readings.
type Service struct {
	cfg    Config
	clock  Clock
	logger *logrus.Logger

	mu      sync.RWMutex
	offsets []int64 // microseconds, most recent last
}

// New constructs a Service. A nil logger falls back to a discarding
// logger.
func New(cfg Config, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(nilWriter{})
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		clock:  systemClock{},
		logger: logger,
	}
}

// WithClock overrides the local clock; used by tests.
func (s *Service) WithClock(c Clock) *Service {
	s.clock = c
	return s
}

type nilWriter struct{}

func (nilWriter) Write(p []byte) (int, error) { return len(p), nil }

// recordOffset appends a freshly measured offset, dropping the oldest once
// the bounded history is full.
func (s *Service) recordOffset(off int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets = append(s.offsets, off)
	if len(s.offsets) > defaultHistory {
		s.offsets = s.offsets[len(s.offsets)-defaultHistory:]
	}
}

// medianOffset returns the median of retained offsets, or 0 if none have
// been observed (graceful degradation to local-clock-only).
func (s *Service) medianOffset() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.offsets) == 0 {
		return 0
	}
	cp := make([]int64, len(s.offsets))
	copy(cp, s.offsets)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
	mid := len(cp) / 2
	if len(cp)%2 == 1 {
		return cp[mid]
	}
	return (cp[mid-1] + cp[mid]) / 2
}

func clamp(v, limit int64) int64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

// FinDAGTime reads the local wall clock, applies the clamped median peer
// offset, and encodes the result into the 40/24-bit layout.
// Within a single goroutine calling this repeatedly, the result is
// non-decreasing provided the wall clock is non-decreasing, since the only
// adjustment applied (the clamped offset) only changes across successive
// Measure calls, not within one.
func (s *Service) FinDAGTime() hashtimer.FinDAGTime {
	offset := clamp(s.medianOffset(), s.cfg.MaxPeerOffsetUS)
	micros := s.clock.NowMicro() + offset
	seconds := uint64(micros / 1_000_000)
	withinSecondMicros := micros % 1_000_000
	if withinSecondMicros < 0 {
		withinSecondMicros += 1_000_000
		seconds--
	}
	slot := uint32(withinSecondMicros * 10) // 1us = 10 slots of 100ns
	return hashtimer.NewFinDAGTime(seconds, slot)
}

// Measure runs one ping-pong round against peer and records the resulting
// offset:
//
//	rtt    = t3 - t0
//	offset = ((t1 + t2) / 2) - ((t0 + t3) / 2)
func (s *Service) Measure(ctx context.Context, peer Peer) (rtt int64, offset int64, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PingTimeout)
	defer cancel()

	t0, t1, t2, t3, err := peer.Ping(ctx)
	if err != nil {
		return 0, 0, err
	}
	rtt = t3 - t0
	offset = (t1+t2)/2 - (t0+t3)/2
	s.recordOffset(offset)
	return rtt, offset, nil
}

// Run starts the cooperative ping loop against peers, firing every
// PingInterval +/- PingJitter until ctx is cancelled. The returned channel
// closes once the loop goroutine has exited.
func (s *Service) Run(ctx context.Context, peers func() []Peer) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			interval := s.cfg.PingInterval + jitter(s.cfg.PingJitter)
			select {
			case <-ctx.Done():
				s.logger.Info("time service: stopped")
				return
			case <-time.After(interval):
			}
			for _, p := range peers() {
				if _, _, err := s.Measure(ctx, p); err != nil {
					s.logger.WithError(err).Debug("time service: peer ping failed")
				}
			}
		}
	}()
	return done
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	d := time.Duration(rand.Int63n(int64(max)*2)) - max
	return d
}
