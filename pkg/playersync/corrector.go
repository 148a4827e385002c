// Package playersync keeps a locally rendered player in agreement with
// the rest of a room. It predicts where playback should be from
// wall-clock time and the last known rate, measures the player's actual
// position once per tick, and emits a corrective pause intent through
// the room's relay when the two diverge past a tolerance.
package playersync

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultTickInterval = time.Second
	// DefaultTolerance is the drift, in seconds, beyond which a
	// correction is emitted.
	DefaultTolerance = 2.0
	// DefaultSeekGrace is added when applying a remote correction,
	// compensating for relay and buffering latency.
	DefaultSeekGrace = 0.5
)

// Player is the locally rendered playback surface the corrector
// measures and steers.
type Player interface {
	// Position returns the actually rendered position in seconds.
	Position() float64
	SeekTo(position float64)
	SetPlaying(playing bool)
	SetRate(rate float64)
}

// IntentSink receives corrective intents destined for the room relay.
type IntentSink interface {
	Pause(position float64) error
}

type correctorState int

const (
	// following: expected progress is advanced every tick and compared
	// against the rendered position.
	following correctorState = iota
	// correcting: a correction is in flight (emitted locally or applied
	// from a remote pause); measurement is suspended until an explicit
	// play relay arrives.
	correcting
)

type Config struct {
	Clock        clockwork.Clock
	TickInterval time.Duration
	Tolerance    float64
	SeekGrace    float64
	Logger       *slog.Logger
}

type Corrector struct {
	player   Player
	sink     IntentSink
	clock    clockwork.Clock
	interval time.Duration
	tol      float64
	grace    float64
	logger   *slog.Logger

	mu       sync.Mutex
	state    correctorState
	playing  bool
	expected float64
	rate     float64
	lastTick time.Time
}

func NewCorrector(player Player, sink IntentSink, cfg *Config) *Corrector {
	if cfg == nil {
		cfg = &Config{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	tol := cfg.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	grace := cfg.SeekGrace
	if grace <= 0 {
		grace = DefaultSeekGrace
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Corrector{
		player:   player,
		sink:     sink,
		clock:    clock,
		interval: interval,
		tol:      tol,
		grace:    grace,
		logger:   logger,
		state:    following,
		rate:     1,
		lastTick: clock.Now(),
	}
}

// Run drives the measurement loop until ctx is cancelled.
func (c *Corrector) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.tick()
		}
	}
}

func (c *Corrector) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	elapsed := now.Sub(c.lastTick).Seconds()
	c.lastTick = now

	if c.state != following || !c.playing {
		return
	}

	c.expected += elapsed * c.rate
	rendered := c.player.Position()

	drift := math.Abs(rendered - c.expected)
	if drift <= c.tol {
		return
	}

	c.logger.Debug("drift exceeded tolerance, pausing",
		"rendered", rendered,
		"expected", c.expected,
		"drift", drift,
	)

	c.state = correcting
	c.expected = rendered
	if err := c.sink.Pause(rendered); err != nil {
		c.logger.Warn("failed to emit corrective pause", "error", err)
	}
}

// OnPauseRelay applies a pause relayed from the room: seek to the
// carried position plus the grace offset and hold until a play relay.
func (c *Corrector) OnPauseRelay(position float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := position + c.grace
	c.player.SeekTo(target)
	c.player.SetPlaying(false)
	c.playing = false
	c.expected = target
	c.state = correcting
}

// OnPlayRelay resumes playback and re-enters measurement.
func (c *Corrector) OnPlayRelay() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.player.SetPlaying(true)
	c.playing = true
	c.state = following
	c.lastTick = c.clock.Now()
}

// Resume re-enters measurement after a locally initiated play. A local
// resume is never echoed back through the relay, so it must count as
// the explicit resumption that ends a correction.
func (c *Corrector) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.playing = true
	c.state = following
	c.lastTick = c.clock.Now()
}

// OnRateRelay updates the expected rate without touching position.
func (c *Corrector) OnRateRelay(rate float64) {
	if rate <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.rate = rate
	c.player.SetRate(rate)
}

// Reset re-anchors expected progress at position, e.g. after the
// late-join state snapshot or a video change.
func (c *Corrector) Reset(position float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expected = position
	c.lastTick = c.clock.Now()
	c.state = following
}

// SetLocalPlaying tracks play/pause originated by the local user.
func (c *Corrector) SetLocalPlaying(playing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.playing = playing
	if playing {
		c.lastTick = c.clock.Now()
	}
}
