package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ImageHandler processes one dequeued ImageRequest (the image
// workflow, §4.G). A returned error that satisfies IsTransient lets
// the message become visible again for redelivery; any other error is
// treated as permanent and the coordinator acks the message itself
// (Open Question 2 decision, see DESIGN.md).
type ImageHandler func(ctx context.Context, msg *Message) error

// RegionHandler processes one dequeued RegionRequest (the region
// workflow, §4.F), with the same error-classification contract as
// ImageHandler.
type RegionHandler func(ctx context.Context, msg *Message) error

// DeadLetterHandler marks the ledger record a dead-lettered message
// refers to as FAILED/ERROR (spec §4.I: "after configured max-receive-
// count the message is dead-lettered and the corresponding JobRecord/
// RegionRecord is marked FAILED"). It runs before the message is
// removed from the queue; a failure here is logged and does not stop
// the dead-letter from proceeding, since the message must not be
// redelivered forever either way.
type DeadLetterHandler func(ctx context.Context, msg *Message) error

// TransientError marks a handler failure as retriable via queue
// redelivery rather than a permanent ledger FAILED/ERROR write.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or anything it wraps) is a
// TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// Coordinator runs the long-poll loop described in spec §4.I: pull
// from the image and region queues in proportion to Weights,
// heartbeat visibility while a handler runs, ack on success, and
// dead-letter after MaxReceiveCount redeliveries.
type Coordinator struct {
	Client            Client
	Weights           Weights
	MaxReceiveCount   int
	HeartbeatInterval time.Duration
	VisibilityTimeout time.Duration
	OnImage           ImageHandler
	OnRegion          RegionHandler
	OnDeadLetter      DeadLetterHandler
	Logger            *slog.Logger
}

// NewCoordinator returns a Coordinator with spec §4.I/§4.F defaults:
// MaxReceiveCount=5 and a heartbeat interval of half the visibility
// timeout, per §4.F's heartbeat rule.
func NewCoordinator(client Client, visibilityTimeout time.Duration, onImage ImageHandler, onRegion RegionHandler, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		Client:            client,
		Weights:           DefaultWeights(),
		MaxReceiveCount:   MaxReceiveCount,
		HeartbeatInterval: visibilityTimeout / 2,
		VisibilityTimeout: visibilityTimeout,
		OnImage:           onImage,
		OnRegion:          onRegion,
		Logger:            logger,
	}
}

// Run polls and dispatches until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	cycle := c.buildCycle()
	i := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		kind := cycle[i%len(cycle)]
		i++

		if err := c.pollOnce(ctx, kind); err != nil && ctx.Err() == nil {
			c.Logger.Error("poll cycle failed", "kind", kind, "error", err)
		}
	}
}

// buildCycle expands Weights into a round-robin schedule, e.g.
// {Image:1, Region:3} -> [Image, Region, Region, Region] interleaved
// so neither queue starves.
func (c *Coordinator) buildCycle() []MessageKind {
	w := c.Weights
	if w.Image <= 0 {
		w.Image = 1
	}
	if w.Region <= 0 {
		w.Region = 1
	}
	var cycle []MessageKind
	for i, r := 0, 0; i < w.Image || r < w.Region; {
		if i < w.Image {
			cycle = append(cycle, KindImage)
			i++
		}
		if r < w.Region {
			cycle = append(cycle, KindRegion)
			r++
		}
	}
	return cycle
}

func (c *Coordinator) pollOnce(ctx context.Context, kind MessageKind) error {
	var (
		msg *Message
		err error
	)
	switch kind {
	case KindImage:
		msg, err = c.Client.ReceiveImage(ctx)
	case KindRegion:
		msg, err = c.Client.ReceiveRegion(ctx)
	}
	if err != nil {
		return err
	}
	if msg == nil {
		return nil // empty poll
	}

	if msg.ReceiveCount > c.MaxReceiveCount {
		c.Logger.Warn("dead-lettering message after max receive count", "kind", kind, "receive_count", msg.ReceiveCount)
		if c.OnDeadLetter != nil {
			if err := c.OnDeadLetter(ctx, msg); err != nil {
				c.Logger.Error("failed marking ledger record for dead-lettered message", "kind", kind, "error", err)
			}
		}
		return c.Client.DeadLetter(ctx, msg)
	}

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go c.heartbeat(heartbeatCtx, msg)

	var handleErr error
	switch kind {
	case KindImage:
		handleErr = c.OnImage(ctx, msg)
	case KindRegion:
		handleErr = c.OnRegion(ctx, msg)
	}
	cancelHeartbeat()

	if handleErr == nil {
		return c.Client.Ack(ctx, msg)
	}
	if IsTransient(handleErr) {
		c.Logger.Warn("transient failure, leaving message for redelivery", "kind", kind, "error", handleErr)
		return nil
	}
	c.Logger.Error("permanent failure, acking message", "kind", kind, "error", handleErr)
	return c.Client.Ack(ctx, msg)
}

// heartbeat extends msg's visibility timeout on HeartbeatInterval
// until ctx is cancelled (handler finished or the coordinator is
// shutting down). If an extend call fails, the heartbeat simply stops
// and the region is abandoned for another worker to reclaim after
// expiry, per spec §4.F.
func (c *Coordinator) heartbeat(ctx context.Context, msg *Message) {
	ticker := time.NewTicker(c.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Client.ExtendVisibility(ctx, msg, c.VisibilityTimeout); err != nil {
				c.Logger.Warn("heartbeat failed, abandoning visibility extension", "error", err)
				return
			}
		}
	}
}
