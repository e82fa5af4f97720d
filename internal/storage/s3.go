package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"aperture/internal/aperture"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Options configures an S3 client for S3Store.
type S3Options struct {
	Region    string
	Endpoint  string // for S3-compatible services; enables path-style addressing
	AccessKey string
	SecretKey string
}

// NewS3Client builds an S3 client from the default AWS configuration chain,
// overridden by any static settings in opts.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Store keeps objects in an S3 bucket under an optional key prefix.
// Locations have the form s3://<bucket>/<key>. Uploads go through the
// multipart upload manager, so bodies are streamed in parts.
type S3Store struct {
	client   S3API
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Store creates a store over client. partSize below the S3 minimum uses the manager default.
func NewS3Store(client S3API, bucket, prefix string, partSize int64) *S3Store {
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if partSize >= manager.MinUploadPartSize {
			u.PartSize = partSize
		}
	})
	return &S3Store{
		client:   client,
		uploader: uploader,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}
}

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader) (*aperture.ObjectInfo, error) {
	objectKey := path.Join(s.prefix, key)
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
		Body:   r,
	})
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", objectKey, err)
	}
	return s.Stat(ctx, s.location(objectKey))
}

func (s *S3Store) Open(ctx context.Context, location string) (io.ReadCloser, *aperture.ObjectInfo, error) {
	key, err := s.parseLocation(location)
	if err != nil {
		return nil, nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return nil, nil, fmt.Errorf("%s: %w", location, aperture.ErrObjectNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("getting %s: %w", key, err)
	}

	modified := aws.ToTime(out.LastModified)
	return out.Body, &aperture.ObjectInfo{
		Location:   location,
		Size:       aws.ToInt64(out.ContentLength),
		ModifiedAt: modified,
		AccessedAt: modified,
	}, nil
}

func (s *S3Store) Stat(ctx context.Context, location string) (*aperture.ObjectInfo, error) {
	key, err := s.parseLocation(location)
	if err != nil {
		return nil, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("%s: %w", location, aperture.ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("heading %s: %w", key, err)
	}

	modified := aws.ToTime(out.LastModified)
	return &aperture.ObjectInfo{
		Location:   location,
		Size:       aws.ToInt64(out.ContentLength),
		ModifiedAt: modified,
		AccessedAt: modified,
	}, nil
}

func (s *S3Store) location(key string) string {
	return "s3://" + s.bucket + "/" + key
}

func (s *S3Store) parseLocation(location string) (string, error) {
	prefix := "s3://" + s.bucket + "/"
	key, ok := strings.CutPrefix(location, prefix)
	if !ok || key == "" {
		return "", fmt.Errorf("location %q is not in bucket %s", location, s.bucket)
	}
	return key, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

var _ aperture.ContentStore = (*S3Store)(nil)
