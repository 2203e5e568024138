package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	nethttp "net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config selects a bucket and prefix for snapshots. Empty credentials fall
// back to the default AWS chain.
type S3Config struct {
	Bucket          string `koanf:"bucket"`
	Region          string `koanf:"region"`
	Prefix          string `koanf:"prefix"`
	Endpoint        string `koanf:"endpoint"`
	UsePathStyle    bool   `koanf:"use_path_style"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
}

// s3API is the subset of *s3.Client used here.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// NewS3Sink builds an S3 client on httpClient and wraps it as a sink.
func NewS3Sink(ctx context.Context, cfg S3Config, httpClient *nethttp.Client) (*ObjectSink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if httpClient != nil {
		opts = append(opts, config.WithHTTPClient(httpClient))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return newObjectSink("s3", &s3Objects{api: client, bucket: cfg.Bucket}, cfg.Prefix), nil
}

type s3Objects struct {
	api    s3API
	bucket string
}

func (o *s3Objects) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	_, err := o.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(o.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/gzip"),
		Metadata:    metadata,
	})
	return err
}

func (o *s3Objects) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := o.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// List pages through the prefix and reads each object's metadata with HEAD.
func (o *s3Objects) List(ctx context.Context, prefix string) ([]objectEntry, error) {
	var entries []objectEntry
	paginator := s3.NewListObjectsV2Paginator(o.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(o.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", o.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			entry := objectEntry{Key: aws.ToString(obj.Key), LastModified: aws.ToTime(obj.LastModified)}
			head, err := o.api.HeadObject(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(o.bucket),
				Key:    obj.Key,
			})
			if err == nil {
				entry.Metadata = head.Metadata
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (o *s3Objects) Location(key string) string {
	return fmt.Sprintf("s3://%s/%s", o.bucket, key)
}
