// Package queue implements the work-queue coordinator from spec §4.I:
// a long-poll loop over two queues (image, region) with configurable
// weights, visibility-timeout heartbeats, and dead-letter-after-max-
// receive-count handling.
package queue

import (
	"context"
	"time"

	"github.com/mumuon/geovision-runner/internal/model"
)

// MessageKind distinguishes which queue a Message came from.
type MessageKind int

const (
	KindImage MessageKind = iota
	KindRegion
)

// Message wraps one dequeued ImageRequest or RegionRequest with the
// receipt handle needed to extend visibility, ack, or dead-letter it.
type Message struct {
	Kind          MessageKind
	ReceiptHandle string
	ReceiveCount  int
	Image         *model.ImageRequest
	Region        *model.RegionRequest
}

// Client is the narrow contract component I needs from the underlying
// queue transport (itself an out-of-scope external collaborator per
// spec §1 — only the transport's wire protocol is external; the
// coordinator logic built on top of this interface is in scope).
type Client interface {
	// ReceiveImage long-polls the image queue for up to one message,
	// blocking up to the implementation's configured wait time or
	// until ctx is cancelled. Returns nil, nil on an empty poll.
	ReceiveImage(ctx context.Context) (*Message, error)
	// ReceiveRegion is the region-queue analog of ReceiveImage.
	ReceiveRegion(ctx context.Context) (*Message, error)
	// EnqueueRegion publishes a RegionRequest for any worker to pick up.
	EnqueueRegion(ctx context.Context, req model.RegionRequest) error
	// ExtendVisibility pushes out msg's visibility timeout by d, the
	// primitive the heartbeat goroutine calls on an interval.
	ExtendVisibility(ctx context.Context, msg *Message, d time.Duration) error
	// Ack deletes msg from its queue after successful processing.
	Ack(ctx context.Context, msg *Message) error
	// DeadLetter removes msg from its queue after MaxReceiveCount
	// deliveries so it is not delivered again (SQSClient deletes it;
	// MemoryClient records it).
	DeadLetter(ctx context.Context, msg *Message) error
}

// Weights configures the dual-queue long-poll split spec §4.I names
// ("long-polls two queues with configurable weights").
type Weights struct {
	Image  int
	Region int
}

// DefaultWeights favors draining regions over images, since an
// in-flight image job already has all its regions enqueued and
// finishing them unblocks job finalization sooner than admitting new
// images would.
func DefaultWeights() Weights {
	return Weights{Image: 1, Region: 3}
}

// MaxReceiveCount is the default redelivery budget before a message
// is dead-lettered and its ledger record marked FAILED/ERROR (spec
// §4.I, §9 Open Question 2 decision in DESIGN.md).
const MaxReceiveCount = 5
