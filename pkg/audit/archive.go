package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectPutter is the subset of the S3 API the archiver uses
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures the archive client
type S3Config struct {
	Region       string
	Endpoint     string // For MinIO or other S3-compatible stores
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// NewS3Client builds an S3 client. Without static keys the default credential
// chain is used.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// ArchiveResult describes one uploaded archive
type ArchiveResult struct {
	Bucket   string
	Key      string
	Entries  int
	Size     int
	Checksum string
}

// Archiver copies activity entries to object storage as NDJSON. Archiving
// never removes rows from the activity log.
type Archiver struct {
	reader Reader
	client ObjectPutter
	bucket string
	prefix string
	now    func() time.Time
}

// NewArchiver creates an archiver reading from r
func NewArchiver(r Reader, client ObjectPutter, bucket, prefix string) (*Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	return &Archiver{
		reader: r,
		client: client,
		bucket: bucket,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Archive exports the entries matching filter and uploads them
func (a *Archiver) Archive(ctx context.Context, filter Filter) (*ArchiveResult, error) {
	entries, err := a.reader.Search(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to read activity logs: %w", err)
	}

	data, err := Export(entries, ExportFormatNDJSON)
	if err != nil {
		return nil, err
	}

	hash := sha256.Sum256(data)
	checksum := hex.EncodeToString(hash[:])
	key := path.Join(a.prefix, fmt.Sprintf("activity-%s.ndjson", a.now().Format("20060102T150405Z")))

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String("application/x-ndjson"),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata: map[string]string{
			"sha256":  checksum,
			"entries": fmt.Sprintf("%d", len(entries)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload archive %s: %w", key, err)
	}

	return &ArchiveResult{
		Bucket:   a.bucket,
		Key:      key,
		Entries:  len(entries),
		Size:     len(data),
		Checksum: checksum,
	}, nil
}
