package staging

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

type objectPutter interface {
	PutObjectWithContext(aws.Context, *s3.PutObjectInput, ...request.Option) (*s3.PutObjectOutput, error)
}

// S3Replicator copies published outputs into a bucket under the same
// relative key as the served output tree.
type S3Replicator struct {
	bucket string
	api    objectPutter
}

// NewS3Replicator builds a replicator for the bucket. Credentials come
// from the usual SDK chain; region falls back to it when empty.
func NewS3Replicator(bucket, region string) (*S3Replicator, error) {
	cfg := aws.NewConfig()
	if region != "" {
		cfg = cfg.WithRegion(region)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("s3 session: %w", err)
	}
	return &S3Replicator{bucket: bucket, api: s3.New(sess)}, nil
}

// Replicate uploads the local file under key
func (r *S3Replicator) Replicate(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = r.api.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("replicate %s to s3://%s/%s: %w", localPath, r.bucket, key, err)
	}
	return nil
}
