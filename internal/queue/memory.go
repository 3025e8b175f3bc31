package queue

import (
	"context"
	"sync"
	"time"

	"github.com/mumuon/geovision-runner/internal/model"
)

// MemoryClient is an in-process Client used by coordinator tests, the
// same role internal/ledger.Memory plays for the ledger.
type MemoryClient struct {
	mu           sync.Mutex
	images       []*Message
	regions      []*Message
	acked        []*Message
	deadLettered []*Message
	extended     int
}

// NewMemoryClient returns an empty MemoryClient.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{}
}

// PushImage enqueues an ImageRequest for ReceiveImage to return.
func (m *MemoryClient) PushImage(req model.ImageRequest, receiveCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images = append(m.images, &Message{Kind: KindImage, Image: &req, ReceiveCount: receiveCount, ReceiptHandle: req.JobID})
}

// PushRegion enqueues a RegionRequest for ReceiveRegion to return.
func (m *MemoryClient) PushRegion(req model.RegionRequest, receiveCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regions = append(m.regions, &Message{Kind: KindRegion, Region: &req, ReceiveCount: receiveCount, ReceiptHandle: req.RegionID})
}

func (m *MemoryClient) ReceiveImage(ctx context.Context) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.images) == 0 {
		return nil, nil
	}
	msg := m.images[0]
	m.images = m.images[1:]
	return msg, nil
}

func (m *MemoryClient) ReceiveRegion(ctx context.Context) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.regions) == 0 {
		return nil, nil
	}
	msg := m.regions[0]
	m.regions = m.regions[1:]
	return msg, nil
}

func (m *MemoryClient) EnqueueRegion(ctx context.Context, req model.RegionRequest) error {
	m.PushRegion(req, 1)
	return nil
}

func (m *MemoryClient) ExtendVisibility(ctx context.Context, msg *Message, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extended++
	return nil
}

func (m *MemoryClient) Ack(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, msg)
	return nil
}

func (m *MemoryClient) DeadLetter(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLettered = append(m.deadLettered, msg)
	return nil
}

// AckedCount and DeadLetteredCount let tests assert on terminal
// message handling without reaching into unexported fields directly.
func (m *MemoryClient) AckedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.acked)
}

func (m *MemoryClient) DeadLetteredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deadLettered)
}
