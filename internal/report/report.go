// Package report publishes run reports to stdout, a local file or S3.
//
// Sink specs:
//
//	stdout              pretty JSON on standard output
//	none                discard
//	file:<path>         write (and replace) <path>
//	s3://bucket/prefix  PutObject of <prefix>/<run id>.json
package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Sink publishes one report body.
type Sink interface {
	Publish(ctx context.Context, runID string, body []byte) error
}

type Writer struct{ W io.Writer }

func (s Writer) Publish(_ context.Context, _ string, body []byte) error {
	if _, err := fmt.Fprintf(s.W, "%s\n", bytes.TrimRight(body, "\n")); err != nil {
		return fmt.Errorf("report: write: %w", err)
	}
	return nil
}

type Discard struct{}

func (Discard) Publish(context.Context, string, []byte) error { return nil }

// File writes each report to Path, creating parent directories.
type File struct{ Path string }

func (f File) Publish(_ context.Context, _ string, body []byte) error {
	if dir := filepath.Dir(f.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("report: mkdir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(f.Path, body, 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", f.Path, err)
	}
	return nil
}

// PutObjectAPI is the subset of *s3.Client used by S3.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 stores each report as <Prefix>/<run id>.json in Bucket.
type S3 struct {
	Client PutObjectAPI
	Bucket string
	Prefix string
}

// Key is the object key of runID's report.
func (s S3) Key(runID string) string {
	name := runID + ".json"
	if p := strings.Trim(s.Prefix, "/"); p != "" {
		return path.Join(p, name)
	}
	return name
}

func (s S3) Publish(ctx context.Context, runID string, body []byte) error {
	key := s.Key(runID)
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("report: put s3://%s/%s: %w", s.Bucket, key, err)
	}
	return nil
}

// ParseS3 splits "s3://bucket/prefix" into bucket and prefix.
func ParseS3(spec string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(spec, "s3://")
	if !ok {
		return "", "", fmt.Errorf("report: %q is not an s3:// url", spec)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("report: %q has no bucket", spec)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// newS3Client is a seam for tests.
var newS3Client = func(ctx context.Context, region string) (PutObjectAPI, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("report: load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// Open builds the Sink named by spec. stdout is used for "stdout" and "".
func Open(ctx context.Context, spec, region string, stdout io.Writer) (Sink, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "" || spec == "stdout":
		return Writer{W: stdout}, nil
	case spec == "none":
		return Discard{}, nil
	case strings.HasPrefix(spec, "file:"):
		p := strings.TrimPrefix(spec, "file:")
		if p == "" {
			return nil, fmt.Errorf("report: file sink needs a path")
		}
		return File{Path: p}, nil
	case strings.HasPrefix(spec, "s3://"):
		bucket, prefix, err := ParseS3(spec)
		if err != nil {
			return nil, err
		}
		client, err := newS3Client(ctx, region)
		if err != nil {
			return nil, err
		}
		return S3{Client: client, Bucket: bucket, Prefix: prefix}, nil
	default:
		return nil, fmt.Errorf("report: unknown sink %q (want stdout|none|file:<path>|s3://bucket/prefix)", spec)
	}
}
