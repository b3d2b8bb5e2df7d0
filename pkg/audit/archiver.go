package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var archiveTracer = otel.Tracer("github.com/bulkheadio/bulkhead/pkg/audit")

// EventArchiver persists a batch of events outside the primary store.
// Implemented by Archiver; the retention sweep depends on the interface so
// tests can swap in a recorder.
type EventArchiver interface {
	Archive(ctx context.Context, events []*Event) (string, error)
}

// ArchiverConfig configures the S3 archive destination
type ArchiverConfig struct {
	Bucket       string
	Prefix       string // Key prefix; defaults to "audit"
	Region       string
	Endpoint     string // Custom endpoint for MinIO or localstack
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// Archiver writes batches of expired audit events to object storage as
// newline-delimited JSON, so retention can prune the database without
// losing the trail.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ EventArchiver = (*Archiver)(nil)

// NewArchiver creates an S3-backed archiver
func NewArchiver(ctx context.Context, cfg ArchiverConfig) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	var awsConfig aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		// Static credentials (MinIO or AWS with explicit keys)
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey,
				cfg.SecretKey,
				"",
			)),
		)
	} else {
		// Default credential chain (IAM roles, env vars, etc.)
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
		)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "audit"
	}

	return &Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

// Archive uploads a batch and returns the object key. Keys shard by day so
// consecutive retention runs land next to each other; the first event id
// keeps same-second batches apart.
func (a *Archiver) Archive(ctx context.Context, events []*Event) (string, error) {
	ctx, span := archiveTracer.Start(ctx, "Audit.Archive",
		trace.WithAttributes(
			attribute.String("s3.bucket", a.bucket),
			attribute.Int("events.count", len(events)),
		),
	)
	defer span.End()

	if len(events) == 0 {
		return "", nil
	}

	data, err := exportNDJSON(events)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to encode batch")
		return "", fmt.Errorf("failed to encode archive batch: %w", err)
	}

	hash := sha256.Sum256(data)
	checksum := hex.EncodeToString(hash[:])

	now := time.Now().UTC()
	key := fmt.Sprintf("%s/%s/audit-%s-%d.ndjson", a.prefix, now.Format("2006/01/02"), now.Format("150405"), events[0].ID)
	span.SetAttributes(attribute.String("s3.key", key))

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
		Metadata: map[string]string{
			"checksum-sha256": checksum,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload archive batch")
		return "", fmt.Errorf("failed to upload archive batch: %w", err)
	}

	span.SetStatus(codes.Ok, "archive batch uploaded")
	return key, nil
}

// HealthCheck verifies the archive bucket is reachable
func (a *Archiver) HealthCheck(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.bucket),
	})

	if err != nil {
		return fmt.Errorf("archive health check failed: %w", err)
	}

	return nil
}
