// Package archive periodically ships sealed snapshots to S3-compatible
// cold storage. It never participates in the read/append hot path; it
// only archives what CreateSnapshot has already folded and compressed.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alejandrodnm/tradeflow/internal/ports"
)

// Shipper uploads snapshots to an S3 bucket on a periodic cycle.
type Shipper struct {
	client   *s3.Client
	bucket   string
	prefix   string
	interval time.Duration
}

// New builds a Shipper over an already-configured S3 client.
func New(client *s3.Client, bucket, prefix string, interval time.Duration) *Shipper {
	return &Shipper{client: client, bucket: bucket, prefix: prefix, interval: interval}
}

// NewClient builds the S3 client a Shipper uploads through. Credentials
// are read from S3_ACCESS_KEY / S3_SECRET_KEY at request time so rotated
// keys take effect without a restart. endpoint selects an S3-compatible
// store (MinIO and friends need path-style addressing); empty means AWS.
func NewClient(region, endpoint string) *s3.Client {
	creds := aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY"),
			SecretAccessKey: os.Getenv("S3_SECRET_KEY"),
		}, nil
	})
	opts := s3.Options{Region: region, Credentials: creds}
	if endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

// Run builds a snapshot with nextSnapshot and ships it once every
// interval (the first after one full interval, none at start) until ctx is
// canceled. It returns nil on cancellation and stops with an error on the
// first build or upload failure.
func (s *Shipper) Run(ctx context.Context, nextSnapshot func(context.Context) (ports.Snapshot, error)) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap, err := nextSnapshot(ctx)
			if err != nil {
				return fmt.Errorf("archive.Shipper.Run: build snapshot: %w", err)
			}
			if err := s.Ship(ctx, snap); err != nil {
				return fmt.Errorf("archive.Shipper.Run: ship snapshot %s: %w", snap.ID, err)
			}
		}
	}
}

// Ship uploads one snapshot's compressed state blob, keyed by timestamp and
// id so objects sort chronologically under the configured prefix.
func (s *Shipper) Ship(ctx context.Context, snap ports.Snapshot) error {
	key := fmt.Sprintf("%s/%d-%s.zst", s.prefix, snap.Ts, snap.ID)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(snap.State),
	})
	if err != nil {
		return fmt.Errorf("archive.Shipper.Ship: put %s: %w", key, err)
	}
	return nil
}
