package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ArchiveSink uploads a signed checkpoint (and, optionally, the audit log
// it anchors) to an S3-compatible bucket for disaster recovery: operators
// who lose the local "<name>.integrity.json"/"<name>.audit.jsonl" pair
// can still re-anchor the chain from the last archived checkpoint.
// This is purely an operational convenience; nothing in the core reads
// from a sink, and VerifyCheckpoint never requires one to be configured.
type ArchiveSink struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewArchiveSink builds a sink from the default AWS config chain (env
// vars, shared config/credentials files, instance/task role). bucket is
// required; prefix is prepended to every object key and may be empty.
func NewArchiveSink(ctx context.Context, bucket, prefix string) (*ArchiveSink, error) {
	if bucket == "" {
		return nil, fmt.Errorf("audit: archive sink requires a bucket")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: load aws config: %w", err)
	}
	return &ArchiveSink{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

func (s *ArchiveSink) key(name string, suffix string) string {
	return ObjectKey(s.prefix, name, suffix)
}

// ObjectKey computes the S3 object key an ArchiveSink would use, without
// requiring a live client — useful for operators who want to predict or
// script against the archive layout.
func ObjectKey(prefix, name, suffix string) string {
	if prefix == "" {
		return fmt.Sprintf("%s%s", name, suffix)
	}
	return fmt.Sprintf("%s/%s%s", prefix, name, suffix)
}

// ArchiveCheckpoint uploads cp as indented JSON to
// "<prefix>/<name>.integrity.json".
func (s *ArchiveSink) ArchiveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", " ")
	if err != nil {
		return fmt.Errorf("audit: marshal checkpoint for archive: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key: aws.String(s.key(cp.Name, ".integrity.json")),
		Body: bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("audit: upload checkpoint to s3: %w", err)
	}
	return nil
}

// ArchiveLog uploads the full contents of the audit log file at logPath
// to "<prefix>/<name>.audit.jsonl".
func (s *ArchiveSink) ArchiveLog(ctx context.Context, name, logPath string) error {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return fmt.Errorf("audit: read log for archive: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key: aws.String(s.key(name, ".audit.jsonl")),
		Body: bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("audit: upload log to s3: %w", err)
	}
	return nil
}
