package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/mumuon/geovision-runner/internal/model"
)

// S3Sink writes one GeoJSON FeatureCollection document per job to an
// S3-compatible object store, adapted from the teacher's s3.go
// (custom endpoint resolver, tuned transport, manager.Uploader) onto
// job-document uploads instead of tile-directory uploads.
type S3Sink struct {
	uploader *manager.Uploader
	bucket   string
	keyFn    func(jobID string) string
}

// NewS3Sink builds a client with the same connection tuning the
// teacher's S3Client uses (bounded idle connections matching expected
// concurrent upload count) and an injectable endpoint resolver so the
// same code targets AWS S3 or an S3-compatible store.
func NewS3Sink(ctx context.Context, bucket string, endpointResolver s3.EndpointResolverV2, opts ...func(*s3.Options)) (*S3Sink, error) {
	transport := &http.Transport{MaxIdleConnsPerHost: 16}
	httpClient := &http.Client{Transport: transport, Timeout: 60 * time.Second}

	clientOpts := append([]func(*s3.Options){
		func(o *s3.Options) {
			o.HTTPClient = httpClient
			if endpointResolver != nil {
				o.EndpointResolverV2 = endpointResolver
			}
		},
	}, opts...)

	client := s3.New(s3.Options{}, clientOpts...)
	uploader := manager.NewUploader(client)

	return &S3Sink{
		uploader: uploader,
		bucket:   bucket,
		keyFn:    func(jobID string) string { return fmt.Sprintf("jobs/%s/features.geojson", jobID) },
	}, nil
}

func (s *S3Sink) WriteJobDocument(ctx context.Context, jobID string, features []*model.Feature) error {
	body, err := model.FeatureCollectionJSON(features)
	if err != nil {
		return fmt.Errorf("encode job %s feature collection: %w", jobID, err)
	}

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.keyFn(jobID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/geo+json"),
	})
	if err != nil {
		return fmt.Errorf("upload job %s document: %w", jobID, classifyS3Error(err))
	}
	return nil
}

// WriteFeatureBatch is not part of the object-store sink's contract
// per spec §6 ("one GeoJSON document per job"); S3Sink only
// implements the job-document write.
func (s *S3Sink) WriteFeatureBatch(ctx context.Context, jobID string, features []*model.Feature) error {
	return fmt.Errorf("S3Sink does not support incremental batches; use WriteJobDocument")
}

// classifyS3Error labels the underlying error the way the teacher's
// s3.go does for HeadObject, via errors.As against smithy.APIError.
func classifyS3Error(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return err
}
