// Package archive uploads monthly reconciliation exports to S3.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/donationledger/internal/event"
	"github.com/gyaneshwarpardhi/donationledger/internal/projection"
)

// PutObjectAPI is the part of the S3 client the archiver needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver writes one CSV object per month.
type Archiver struct {
	client PutObjectAPI
	bucket string
	prefix string
	logger *slog.Logger
}

// Result describes an uploaded export.
type Result struct {
	Bucket  string
	Key     string
	RunID   string
	Rows    int
	Summary projection.MonthlyRow
}

// New creates an Archiver around an existing client.
func New(client PutObjectAPI, bucket, prefix string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{client: client, bucket: bucket, prefix: prefix, logger: logger.With("component", "archive")}
}

// NewS3 loads the default AWS credential chain for region.
func NewS3(ctx context.Context, bucket, prefix, region string, logger *slog.Logger) (*Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return New(s3.NewFromConfig(cfg), bucket, prefix, logger), nil
}

// Key returns the object key for month. Re-archiving a month overwrites it.
func (a *Archiver) Key(month string) string {
	return path.Join(a.prefix, month, "donations.csv")
}

// ArchiveMonth exports the rows created in month (YYYY-MM) and uploads them.
func (a *Archiver) ArchiveMonth(ctx context.Context, month string, rows []event.DonationEvent) (Result, error) {
	if _, err := projection.ParseMonth(month); err != nil {
		return Result{}, err
	}
	lines := projection.InMonth(rows, month)

	var buf bytes.Buffer
	if err := projection.WriteCSV(&buf, projection.DonationColumns, projection.DonationLines(lines)); err != nil {
		return Result{}, err
	}

	res := Result{Bucket: a.bucket, Key: a.Key(month), RunID: uuid.NewString(), Rows: len(lines)}
	if s := projection.MonthlyReconciliation(lines); len(s) == 1 {
		res.Summary = s[0]
	} else {
		res.Summary = projection.MonthlyRow{Month: month}
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(res.Key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("text/csv"),
		Metadata: map[string]string{
			"run-id":      res.RunID,
			"rows":        strconv.Itoa(res.Rows),
			"gross-pence": strconv.FormatInt(res.Summary.GrossPence, 10),
			"net-pence":   strconv.FormatInt(res.Summary.NetToMembersPence, 10),
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to upload to S3: %w", err)
	}
	a.logger.Info("monthly export archived", "bucket", a.bucket, "key", res.Key, "rows", res.Rows, "run_id", res.RunID)
	return res, nil
}
