package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/prn-tf/lumen-sync/internal/config"
	"github.com/prn-tf/lumen-sync/internal/domain"
)

// S3URLSource presigns PUT URLs locally against a self-hosted S3-compatible
// store, bypassing the catalog service's URL endpoint. Useful for
// direct-to-bucket deployments where the catalog only records metadata.
type S3URLSource struct {
	presigner *s3.PresignClient
	bucket    string
	expiry    time.Duration
}

// NewS3URLSource builds a presigning source from direct-S3 configuration.
func NewS3URLSource(ctx context.Context, cfg config.DirectS3Config) (*S3URLSource, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}

	return &S3URLSource{
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		expiry:    expiry,
	}, nil
}

// objectKey generates a collision-free key, partitioned by day so bucket
// listings stay manageable.
func objectKey() string {
	d := time.Now().UTC()
	return fmt.Sprintf("blobs/%d/%02d/%02d/%s", d.Year(), d.Month(), d.Day(), uuid.New())
}

// FetchUploadURLs presigns count PUT URLs against the configured bucket.
func (s *S3URLSource) FetchUploadURLs(ctx context.Context, count int) ([]domain.UploadURL, error) {
	urls := make([]domain.UploadURL, 0, count)
	for i := 0; i < count; i++ {
		key := objectKey()
		req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(s.expiry))
		if err != nil {
			return nil, fmt.Errorf("failed to presign put for %s: %w", key, err)
		}
		urls = append(urls, domain.UploadURL{ObjectKey: key, URL: req.URL})
	}
	return urls, nil
}

// Ensure S3URLSource implements URLSource.
var _ URLSource = (*S3URLSource)(nil)
