package cache

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3 is the S3-compatible object-store backend.
//
// Last-Modified is read off GetObjectOutput.LastModified and
// ListObjectsV2's Contents[].LastModified, both already parsed to
// time.Time by the SDK, so there's no hand-rolled date parsing here and
// the RFC2822-vs-RFC3339 question the wire format raises upstream never
// reaches this code.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Config holds the connection parameters for an S3-compatible endpoint.
type S3Config struct {
	Host           string
	Region         string
	Bucket         string
	Prefix         string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

// NewS3 builds an S3 store from cfg. When AccessKey/SecretKey are empty,
// the default AWS credential chain is used instead.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errStorage("loading aws config", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Host != "" {
			o.BaseEndpoint = aws.String(cfg.Host)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &S3{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3) key(logicalPath string) string {
	if s.prefix == "" {
		return logicalPath
	}
	return strings.TrimSuffix(s.prefix, "/") + "/" + logicalPath
}

// Init creates the bucket if it doesn't already exist. Idempotent against
// "already own it" races.
func (s *S3) Init(ctx context.Context) error {
	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	var owned *types.BucketAlreadyOwnedByYou
	var exists *types.BucketAlreadyExists
	if errors.As(err, &owned) || errors.As(err, &exists) {
		return nil
	}
	return errStorage("creating bucket "+s.bucket, err)
}

func (s *S3) Read(ctx context.Context, logicalPath string, maxAge time.Duration) (*ReadStream, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(logicalPath)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, errNotFound(logicalPath, err)
		}
		return nil, errStorage("getting "+logicalPath, err)
	}

	if out.LastModified != nil && time.Since(*out.LastModified) > maxAge {
		out.Body.Close()
		return nil, errTooOld(logicalPath)
	}

	length := int64(0)
	if out.ContentLength != nil {
		length = *out.ContentLength
	}
	return &ReadStream{Length: length, Body: out.Body}, nil
}

func (s *S3) Write(ctx context.Context, logicalPath string, body io.Reader, expectedLength int64) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(logicalPath)),
		Body:   body,
	}
	if expectedLength >= 0 {
		input.ContentLength = aws.Int64(expectedLength)
	}

	_, err := s.client.PutObject(ctx, input)
	if err != nil {
		if _, delErr := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(logicalPath)),
		}); delErr != nil {
			logger().Warn("cleanup after failed put failed", "path", logicalPath, "error", delErr)
		}
		return errStorage("putting "+logicalPath, err)
	}
	return nil
}

func (s *S3) Delete(ctx context.Context, logicalPath string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(logicalPath)),
	})
	if err != nil {
		return errStorage("deleting "+logicalPath, err)
	}
	return nil
}

func (s *S3) DeleteOld(ctx context.Context, prefix string, olderThan time.Time) (int, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key(prefix)),
	})

	count := 0
	first := true
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			var respErr *smithyhttp.ResponseError
			if first && errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
				return 0, nil
			}
			if !first {
				logger().Warn("sweep list page error", "prefix", prefix, "error", err)
				break
			}
			return count, errStorage("listing "+prefix, err)
		}
		first = false

		for _, obj := range page.Contents {
			if obj.LastModified == nil || obj.Key == nil {
				continue
			}
			if obj.LastModified.Before(olderThan) {
				_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
					Bucket: aws.String(s.bucket),
					Key:    obj.Key,
				})
				if err != nil {
					logger().Warn("sweep delete error", "key", *obj.Key, "error", err)
					continue
				}
				count++
			}
		}
	}
	return count, nil
}
