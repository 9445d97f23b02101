package engine

import (
	"context"
	"time"

	xlog "go.bryk.io/shovel/log"
)

// idleYield bounds the cooperative sleep used when the Source reports
// Idle, so the step loop never busy-spins.
const idleYield = 20 * time.Millisecond

// Stats summarizes a completed run, emitted at shutdown when configured.
type Stats struct {
	Received uint64
	Sent     uint64
	Dropped  uint64
	Acked    uint64
}

// StopConditions bounds how long the Controller runs.
type StopConditions struct {
	// Count stops the run once Acked reaches this many messages. Zero
	// means unbounded.
	Count uint64

	// Duration stops the run once this much wall-clock time has elapsed
	// since Start. Zero means unbounded.
	Duration time.Duration

	// TimeoutInactivity stops the run once this much time has elapsed
	// since the last successful receipt. Zero means unbounded.
	TimeoutInactivity time.Duration
}

// Config bundles the tunables the Controller needs beyond its four
// collaborators.
type Config struct {
	Stop StopConditions

	// TimeoutConnect bounds Source.Start and Sink.Start.
	TimeoutConnect time.Duration

	// TimeoutLinger bounds the shutdown drain-and-flush sequence.
	TimeoutLinger time.Duration

	// Lazy defers Sink.Start until just before the first Send.
	Lazy bool

	// Statistics, when set, makes Run log a Stats summary at shutdown.
	Statistics bool

	// Quit is polled at the top of every step; returning true requests
	// graceful termination (external quit, e.g. a PID file sentinel).
	Quit func() bool

	// TransformData is passed to Transform.Start once, before the loop
	// begins.
	TransformData []string

	Logger xlog.Logger
}

// pendingSend tracks an in-flight Sink Token alongside the Window sequence it
// resolves.
type pendingSend struct {
	seq   uint64
	token Token
	tag   DeliveryTag
}

// stopReason names why the step loop exited, for logging and exit-code
// purposes.
type stopReason uint8

const (
	stopNone stopReason = iota
	stopCount
	stopDuration
	stopInactivity
	stopExhausted
	stopExternalQuit
	stopFatal
)

func (r stopReason) String() string {
	switch r {
	case stopCount:
		return "count"
	case stopDuration:
		return "duration"
	case stopInactivity:
		return "timeout-inactivity"
	case stopExhausted:
		return "source-exhausted"
	case stopExternalQuit:
		return "external-quit"
	case stopFatal:
		return "fatal-error"
	default:
		return "none"
	}
}

// Controller drives the single-threaded cooperative step loop described
// by the system design: it owns the Source, Sink, Transform and Window,
// and is the only component aware of stop conditions and shutdown.
type Controller struct {
	source    Source
	sink      Sink
	transform Transform
	window    *Window
	cfg       Config
	log       xlog.Logger

	started       time.Time
	lastActivity  time.Time
	exhausted     bool
	fatal         error
	pending       []pendingSend
	sinkStarted   bool
	retried       bool
	stats         Stats
}

// NewController wires the four collaborators together. A nil transform
// defaults to Identity.
func NewController(source Source, sink Sink, transform Transform, window *Window, cfg Config) *Controller {
	if transform == nil {
		transform = Identity()
	}
	log := cfg.Logger
	if log == nil {
		log = xlog.Discard()
	}
	return &Controller{
		source:    source,
		sink:      sink,
		transform: transform,
		window:    window,
		cfg:       cfg,
		log:       log,
	}
}

// Run starts the pipeline, drives the step loop until a stop condition
// fires, executes the shutdown sequence, and returns the run's Stats along
// with any fatal error encountered.
func (c *Controller) Run(ctx context.Context) (Stats, error) {
	connectCtx := ctx
	var cancel context.CancelFunc
	if c.cfg.TimeoutConnect > 0 {
		connectCtx, cancel = context.WithTimeout(ctx, c.cfg.TimeoutConnect)
	}
	if err := c.source.Start(connectCtx); err != nil {
		if cancel != nil {
			cancel()
		}
		return c.stats, err
	}
	if cancel != nil {
		cancel()
	}

	if !c.cfg.Lazy {
		if err := c.startSink(ctx); err != nil {
			_ = c.source.Stop()
			return c.stats, err
		}
	}

	if err := c.transform.Start(c.cfg.TransformData); err != nil {
		_ = c.source.Stop()
		if c.sinkStarted {
			_ = c.sink.Stop()
		}
		return c.stats, err
	}

	c.started = time.Now()
	c.lastActivity = c.started

	reason := c.loop(ctx)
	c.log.WithFields(xlog.Fields{"reason": reason.String()}).Info("shutting down")

	c.shutdown(ctx)

	if c.cfg.Statistics {
		c.log.WithFields(xlog.Fields{
			"received": c.stats.Received,
			"sent":     c.stats.Sent,
			"dropped":  c.stats.Dropped,
			"acked":    c.stats.Acked,
		}).Info("run statistics")
	}

	if reason == stopFatal {
		return c.stats, c.fatal
	}
	return c.stats, nil
}

func (c *Controller) startSink(ctx context.Context) error {
	if c.sinkStarted {
		return nil
	}
	sinkCtx := ctx
	var cancel context.CancelFunc
	if c.cfg.TimeoutConnect > 0 {
		sinkCtx, cancel = context.WithTimeout(ctx, c.cfg.TimeoutConnect)
		defer cancel()
	}
	if err := c.sink.Start(sinkCtx); err != nil {
		return err
	}
	c.sinkStarted = true
	return nil
}

// loop runs the step body until a stop condition fires.
func (c *Controller) loop(ctx context.Context) stopReason {
	for {
		if reason := c.checkStop(); reason != stopNone {
			return reason
		}
		c.step(ctx)
	}
}

// checkStop evaluates every stop condition in the order listed in the
// system design.
func (c *Controller) checkStop() stopReason {
	if c.cfg.Stop.Count > 0 && c.stats.Acked >= c.cfg.Stop.Count {
		return stopCount
	}
	if c.cfg.Stop.Duration > 0 && time.Since(c.started) >= c.cfg.Stop.Duration {
		return stopDuration
	}
	if c.cfg.Stop.TimeoutInactivity > 0 && time.Since(c.lastActivity) >= c.cfg.Stop.TimeoutInactivity {
		return stopInactivity
	}
	if c.exhausted {
		return stopExhausted
	}
	if c.cfg.Quit != nil && c.cfg.Quit() {
		return stopExternalQuit
	}
	if c.fatal != nil {
		return stopFatal
	}
	return stopNone
}

// step runs one iteration of the body in §4.5: admit a new receipt if the
// window has room, poll outstanding tokens, and drain resolved entries.
func (c *Controller) step(ctx context.Context) {
	if !c.window.Full() {
		c.receive(ctx)
	}
	c.pollTokens()
	c.drain()
}

func (c *Controller) receive(ctx context.Context) {
	rcpt, result, err := c.source.Step(ctx)
	switch result {
	case StepMessage:
		c.lastActivity = time.Now()
		c.stats.Received++
		seq, admitErr := c.window.Admit(rcpt.Tag)
		if admitErr != nil {
			// step only receives when the Window is not Full, so Admit
			// does not fail here; if it did, the receipt would be left
			// unacked and not sent.
			return
		}
		out, reason := c.transform.Check(rcpt.Message)
		if reason != "" {
			c.log.WithFields(xlog.Fields{"reason": reason}).Info("message dropped by transform")
			c.window.Complete(seq, false)
			c.stats.Dropped++
			return
		}
		if err := c.startSink(ctx); err != nil {
			c.fail(err)
			return
		}
		token, sendErr := c.sink.Send(ctx, out)
		if sendErr != nil {
			c.fail(sendErr)
			return
		}
		c.pending = append(c.pending, pendingSend{seq: seq, token: token, tag: rcpt.Tag})
	case StepIdle:
		c.transform.Idle()
		time.Sleep(idleYield)
	case StepExhausted:
		c.exhausted = true
	}
	if err != nil {
		c.classifyStepError(err)
	}
}

// classifyStepError applies the failure policy in §4.1/§7: a KindStorage
// error skips the offending entry, a KindProtocol error is always fatal
// (the broker violated the AMQP contract; there is nothing to retry), and
// every other kind is fatal unless this is the very first receipt attempt
// of the run, in which case it is swallowed once and retried on the next
// step.
func (c *Controller) classifyStepError(err error) {
	kind, _ := KindOf(err)
	if kind == KindStorage {
		c.log.WithFields(xlog.Fields{"error": err.Error()}).Warning("queue entry skipped")
		return
	}
	if kind == KindProtocol {
		c.fail(err)
		return
	}
	if c.stats.Received == 0 && !c.retried {
		c.retried = true
		c.log.WithFields(xlog.Fields{"error": err.Error()}).Warning("retrying initial receive")
		return
	}
	c.fail(err)
}

// pollTokens checks every outstanding Token without blocking and
// completes the Window entries that have resolved.
func (c *Controller) pollTokens() {
	remaining := c.pending[:0]
	for _, p := range c.pending {
		select {
		case <-p.token.Done():
			if err := p.token.Err(); err != nil {
				c.log.WithFields(xlog.Fields{"error": err.Error()}).Error("send failed")
				c.window.Complete(p.seq, false)
				c.stats.Dropped++
				if kind, ok := KindOf(err); ok && kind == KindStorage {
					c.fail(err)
				}
			} else {
				c.window.Complete(p.seq, true)
				c.stats.Sent++
			}
		default:
			remaining = append(remaining, p)
		}
	}
	c.pending = remaining
}

// drain acks every resolved entry at the head of the Window, in receipt
// order.
func (c *Controller) drain() {
	tags := c.window.Drain()
	for _, tag := range tags {
		if err := c.source.Ack(tag); err != nil {
			c.log.WithFields(xlog.Fields{"error": err.Error()}).Error("ack failed")
			continue
		}
		c.stats.Acked++
	}
}

func (c *Controller) fail(err error) {
	if c.fatal == nil {
		c.fatal = FatalError(err)
	}
}

// shutdown implements the §4.5 sequence: stop admitting, drain the
// window within the linger budget, flush the sink, then tear down
// transform and sink.
func (c *Controller) shutdown(ctx context.Context) {
	_ = c.source.Stop()

	deadline := time.Now().Add(c.cfg.TimeoutLinger)
	for !c.window.Empty() && time.Now().Before(deadline) {
		c.pollTokens()
		c.drain()
		if !c.window.Empty() {
			time.Sleep(idleYield)
		}
	}

	if c.sinkStarted {
		flushCtx := ctx
		var cancel context.CancelFunc
		if c.cfg.TimeoutLinger > 0 {
			remaining := time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
			flushCtx, cancel = context.WithTimeout(ctx, remaining)
		}
		if err := c.sink.Flush(flushCtx); err != nil {
			c.log.WithFields(xlog.Fields{"error": err.Error()}).Warning("flush incomplete")
		}
		if cancel != nil {
			cancel()
		}
	}

	if err := c.transform.Stop(); err != nil {
		c.log.WithFields(xlog.Fields{"error": err.Error()}).Warning("transform stop failed")
	}
	if c.sinkStarted {
		if err := c.sink.Stop(); err != nil {
			c.log.WithFields(xlog.Fields{"error": err.Error()}).Warning("sink stop failed")
		}
	}
}
