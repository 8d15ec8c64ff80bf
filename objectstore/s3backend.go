package objectstore

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/thymos-ai/thymos/errs"
	"github.com/thymos-ai/thymos/internal/tlog"
)

// S3Config configures an S3-compatible backend for off-box object
// replication (deployments where the repository root is ephemeral, e.g. a
// container worktree).
type S3Config struct {
	Region          string
	Bucket          string
	Prefix          string // optional key prefix, e.g. "objects/"
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // for S3-compatible services (MinIO, etc.)
}

// S3Backend implements Backend against an S3-compatible object store.
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Backend constructs an S3Backend from cfg.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	var awsCfg aws.Config
	var err error

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, errs.E("objectstore.NewS3Backend", errs.Resource, "load AWS config", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, opts...)
	tlog.InfoLog.Printf("objectstore: s3 backend initialized for bucket %s", cfg.Bucket)

	return &S3Backend{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (b *S3Backend) key(k string) string { return b.prefix + k }

func (b *S3Backend) Type() string { return "s3" }

func (b *S3Backend) IsAvailable(ctx context.Context) bool {
	_, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		MaxKeys: aws.Int32(1),
	})
	return err == nil
}

func (b *S3Backend) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, errs.E("objectstore.S3Backend.Get", errs.NotFound, "object "+key+" not found")
		}
		return nil, errs.E("objectstore.S3Backend.Get", errs.Transport, "get object "+key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errs.E("objectstore.S3Backend.Get", errs.Transport, "read object body", err)
	}
	return data, nil
}

func (b *S3Backend) Put(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return errs.E("objectstore.S3Backend.Put", errs.Transport, "put object "+key, err)
	}
	return nil
}

func (b *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		return errs.E("objectstore.S3Backend.Delete", errs.Transport, "delete object "+key, err)
	}
	return nil
}

func (b *S3Backend) Has(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, errs.E("objectstore.S3Backend.Has", errs.Transport, "head object "+key, err)
	}
	return true, nil
}

func (b *S3Backend) List(ctx context.Context) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errs.E("objectstore.S3Backend.List", errs.Transport, "list objects", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), b.prefix))
		}
	}
	return keys, nil
}

func isS3NotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "NotFound") || strings.Contains(msg, "404")
}

var _ Backend = (*S3Backend)(nil)
