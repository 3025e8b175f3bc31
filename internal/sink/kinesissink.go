package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/google/uuid"

	"github.com/mumuon/geovision-runner/internal/model"
)

// KinesisSink streams batches of Features to a Kinesis data stream,
// configurable batch size per spec §6. The batching loop is grounded
// on the teacher's s3.go bounded-worker-pool-over-channel pattern
// (UploadTilesWithFilter), adapted here to batch PutRecords calls
// instead of per-file uploads.
type KinesisSink struct {
	api        *kinesis.Client
	streamName string
	batchSize  int
}

// NewKinesisSink wires a client against the given stream. batchSize
// defaults to 500, the Kinesis PutRecords API's own per-call limit.
func NewKinesisSink(api *kinesis.Client, streamName string, batchSize int) *KinesisSink {
	if batchSize <= 0 || batchSize > 500 {
		batchSize = 500
	}
	return &KinesisSink{api: api, streamName: streamName, batchSize: batchSize}
}

func (k *KinesisSink) WriteJobDocument(ctx context.Context, jobID string, features []*model.Feature) error {
	return k.WriteFeatureBatch(ctx, jobID, features)
}

func (k *KinesisSink) WriteFeatureBatch(ctx context.Context, jobID string, features []*model.Feature) error {
	for start := 0; start < len(features); start += k.batchSize {
		end := start + k.batchSize
		if end > len(features) {
			end = len(features)
		}
		if err := k.putBatch(ctx, jobID, features[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (k *KinesisSink) putBatch(ctx context.Context, jobID string, batch []*model.Feature) error {
	entries := make([]types.PutRecordsRequestEntry, 0, len(batch))
	for _, f := range batch {
		data, err := json.Marshal(f.ToGeoJSONFeature())
		if err != nil {
			return fmt.Errorf("marshal feature for job %s: %w", jobID, err)
		}
		entries = append(entries, types.PutRecordsRequestEntry{
			Data:         data,
			PartitionKey: aws.String(partitionKey(jobID, f)),
		})
	}

	out, err := k.api.PutRecords(ctx, &kinesis.PutRecordsInput{
		StreamName: aws.String(k.streamName),
		Records:    entries,
	})
	if err != nil {
		return fmt.Errorf("put records for job %s: %w", jobID, err)
	}
	if out.FailedRecordCount != nil && *out.FailedRecordCount > 0 {
		return fmt.Errorf("job %s: %d of %d records failed to put", jobID, *out.FailedRecordCount, len(entries))
	}
	return nil
}

// partitionKey keys on the feature's own ID when present so retries
// of the same feature land on the same shard; falls back to a
// deterministic UUID derived from the job so empty-ID features still
// partition consistently rather than randomly.
func partitionKey(jobID string, f *model.Feature) string {
	if f.ID != "" {
		return f.ID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(jobID)).String()
}
