package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"

	"github.com/mumuon/geovision-runner/internal/model"
)

// SQSClient implements Client against two Amazon SQS queues. It is
// the natural same-vendor-family extension of the teacher's AWS SDK
// v2 usage for S3 (config, credentials, smithy-go error handling
// already wired there).
type SQSClient struct {
	api           *sqs.Client
	imageQueueURL string
	regionQueueURL string
	waitTime      int32 // long-poll wait seconds
}

// NewSQSClient constructs a client against the given queue URLs using
// the provided already-configured SQS API client (built from
// aws-sdk-go-v2/config.LoadDefaultConfig the same way the teacher's
// s3.go builds its S3 client).
func NewSQSClient(api *sqs.Client, imageQueueURL, regionQueueURL string) *SQSClient {
	return &SQSClient{api: api, imageQueueURL: imageQueueURL, regionQueueURL: regionQueueURL, waitTime: 20}
}

func (c *SQSClient) ReceiveImage(ctx context.Context) (*Message, error) {
	return c.receive(ctx, c.imageQueueURL, KindImage)
}

func (c *SQSClient) ReceiveRegion(ctx context.Context) (*Message, error) {
	return c.receive(ctx, c.regionQueueURL, KindRegion)
}

func (c *SQSClient) receive(ctx context.Context, queueURL string, kind MessageKind) (*Message, error) {
	out, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     c.waitTime,
		AttributeNames:      []types.QueueAttributeName{types.QueueAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		if isRetryable(err) {
			return nil, &TransientError{Err: err}
		}
		return nil, fmt.Errorf("receive from %s: %w", queueURL, err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	raw := out.Messages[0]
	receiveCount := 1
	if v, ok := raw.Attributes[string(types.QueueAttributeNameApproximateReceiveCount)]; ok {
		fmt.Sscanf(v, "%d", &receiveCount)
	}

	msg := &Message{Kind: kind, ReceiptHandle: aws.ToString(raw.ReceiptHandle), ReceiveCount: receiveCount}
	body := []byte(aws.ToString(raw.Body))
	switch kind {
	case KindImage:
		var req model.ImageRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("decode image request: %w", err)
		}
		msg.Image = &req
	case KindRegion:
		var req model.RegionRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("decode region request: %w", err)
		}
		msg.Region = &req
	}
	return msg, nil
}

func (c *SQSClient) EnqueueRegion(ctx context.Context, req model.RegionRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal region request: %w", err)
	}
	_, err = c.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.regionQueueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		if isRetryable(err) {
			return &TransientError{Err: err}
		}
		return fmt.Errorf("enqueue region %s: %w", req.RegionID, err)
	}
	return nil
}

func (c *SQSClient) ExtendVisibility(ctx context.Context, msg *Message, d time.Duration) error {
	_, err := c.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURLFor(msg.Kind)),
		ReceiptHandle:     aws.String(msg.ReceiptHandle),
		VisibilityTimeout: int32(d.Seconds()),
	})
	return err
}

func (c *SQSClient) Ack(ctx context.Context, msg *Message) error {
	_, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURLFor(msg.Kind)),
		ReceiptHandle: aws.String(msg.ReceiptHandle),
	})
	return err
}

func (c *SQSClient) DeadLetter(ctx context.Context, msg *Message) error {
	// The redrive policy configured on the SQS queue itself moves the
	// message to its DLQ after MaxReceiveCount native receives; this
	// coordinator only needs to stop returning the message to
	// in-process retry, which deleting it here accomplishes (the
	// ledger-side FAILED/ERROR write is the coordinator's caller's
	// responsibility, not the queue transport's).
	return c.Ack(ctx, msg)
}

func (c *SQSClient) queueURLFor(kind MessageKind) string {
	if kind == KindImage {
		return c.imageQueueURL
	}
	return c.regionQueueURL
}

// isRetryable classifies SQS/smithy errors the same way the teacher's
// s3.go classifies S3 errors via errors.As against smithy.APIError.
func isRetryable(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "RequestThrottled", "ServiceUnavailable", "InternalError":
			return true
		}
		return false
	}
	return true // network-level errors are assumed transient
}
