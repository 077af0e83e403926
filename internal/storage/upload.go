package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// ObjectUploader is the slice of s3manager.Uploader used for publishing.
type ObjectUploader interface {
	UploadWithContext(ctx aws.Context, in *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

// S3Publisher uploads staged artifacts under Bucket/Prefix.
type S3Publisher struct {
	Bucket   string
	Prefix   string
	Uploader ObjectUploader
}

// NewS3Publisher builds a publisher backed by an s3manager.Uploader.
func NewS3Publisher(region, bucket, prefix string) (*S3Publisher, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return &S3Publisher{Bucket: bucket, Prefix: prefix, Uploader: s3manager.NewUploader(sess)}, nil
}

// ObjectKey joins prefix and the file's base name with "/".
func ObjectKey(prefix, file string) string {
	base := filepath.Base(file)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return base
	}
	return path.Join(prefix, base)
}

// Publish uploads a.Path and returns a with URI set.
func (p *S3Publisher) Publish(ctx context.Context, a Artifact) (Artifact, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return a, fmt.Errorf("open %s: %w", a.Path, err)
	}
	defer f.Close()

	key := ObjectKey(p.Prefix, a.Path)
	_, err = p.Uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(p.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(a.Format)),
		Metadata: map[string]*string{
			"dataset": aws.String(a.Dataset),
			"version": aws.String(a.Version),
		},
	})
	if err != nil {
		return a, fmt.Errorf("upload s3://%s/%s: %w", p.Bucket, key, err)
	}
	a.URI = "s3://" + p.Bucket + "/" + key
	return a, nil
}

func contentType(format string) string {
	switch format {
	case "json":
		return "application/json"
	case "csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
