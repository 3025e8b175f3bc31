package imagestore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3 implements Source against an S3-compatible object store, reading
// byte ranges with the HTTP Range header the way the teacher's own
// S3Client tunes its transport for bounded concurrent downloads
// rather than materializing whole objects in memory.
type S3 struct {
	api *s3.Client
}

// NewS3 wraps an already-configured S3 client. The same from-scratch
// s3.New(s3.Options{}, opts...) construction sink.NewS3Sink uses
// builds this client in cmd/worker, so both share one region/
// credentials/endpoint configuration.
func NewS3(api *s3.Client) *S3 {
	return &S3{api: api}
}

// ReadRange fetches uri's [offset, offset+length) byte range. uri must
// be an "s3://bucket/key" URI, the scheme the teacher's own tile
// uploader paths use.
func (s *S3) ReadRange(ctx context.Context, uri string, offset, length int64) ([]byte, error) {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return nil, err
	}
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)),
	})
	if err != nil {
		return nil, fmt.Errorf("get object range %s [%d,%d): %w", uri, offset, offset+length, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object range %s: %w", uri, err)
	}
	return data, nil
}

// Size returns uri's total byte length via a HEAD request.
func (s *S3) Size(ctx context.Context, uri string) (int64, error) {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return 0, err
	}
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return 0, fmt.Errorf("head object %s: %w", uri, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

func parseS3URI(uri string) (bucket, key string, err error) {
	const scheme = "s3://"
	if !strings.HasPrefix(uri, scheme) {
		return "", "", fmt.Errorf("imagestore: %q is not an s3:// uri", uri)
	}
	rest := strings.TrimPrefix(uri, scheme)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("imagestore: %q is missing a bucket or key", uri)
	}
	return parts[0], parts[1], nil
}
