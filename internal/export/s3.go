// Package export uploads cache snapshots to S3-compatible object storage.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/google/uuid"
	"github.com/sdko-org/analytics-dashboard/internal/fetch"
	"github.com/sdko-org/analytics-dashboard/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrNoData is returned when a snapshot has no successful data to export.
var ErrNoData = errors.New("export: snapshot has no data")

type Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// MetadataSaver persists a record of each export.
type MetadataSaver interface {
	SaveExport(ctx context.Context, export *models.SnapshotExport) error
}

// Snapshot is the data handed to the exporter.
type Snapshot struct {
	Endpoint      string
	CacheKey      string
	Records       []fetch.Record
	LastFetchedAt time.Time
}

type document struct {
	Endpoint      string         `json:"endpoint"`
	CacheKey      string         `json:"cache_key"`
	LastFetchedAt time.Time      `json:"last_fetched_at"`
	ExportedAt    time.Time      `json:"exported_at"`
	Rows          []fetch.Record `json:"rows"`
}

type S3Exporter struct {
	uploader s3manageriface.UploaderAPI
	bucket   string
	saver    MetadataSaver
	log      *logrus.Entry
	now      func() time.Time
}

func NewS3Exporter(logger *logrus.Logger, cfg Config, saver MetadataSaver) (*S3Exporter, error) {
	awsConfig := &aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(true),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("creating aws session: %w", err)
	}

	return NewWithUploader(logger, s3manager.NewUploader(sess), cfg.Bucket, saver), nil
}

// NewWithUploader builds an exporter on an existing uploader. saver may be
// nil.
func NewWithUploader(logger *logrus.Logger, uploader s3manageriface.UploaderAPI, bucket string, saver MetadataSaver) *S3Exporter {
	return &S3Exporter{
		uploader: uploader,
		bucket:   bucket,
		saver:    saver,
		log:      logger.WithField("component", "s3_exporter"),
		now:      time.Now,
	}
}

// Export uploads snap as a JSON document under
// snapshots/<endpoint>/<timestamp>.json and records the upload.
func (e *S3Exporter) Export(ctx context.Context, snap Snapshot) (*models.SnapshotExport, error) {
	if snap.Records == nil {
		return nil, ErrNoData
	}

	exportedAt := e.now().UTC()
	body, err := json.Marshal(document{
		Endpoint:      snap.Endpoint,
		CacheKey:      snap.CacheKey,
		LastFetchedAt: snap.LastFetchedAt,
		ExportedAt:    exportedAt,
		Rows:          snap.Records,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}

	key := ObjectKey(snap.Endpoint, exportedAt)
	out, err := e.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]*string{
			"Cache-Key": aws.String(snap.CacheKey),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("s3 upload failed: %w", err)
	}

	record := &models.SnapshotExport{
		ID:            uuid.NewString(),
		Endpoint:      snap.Endpoint,
		CacheKey:      snap.CacheKey,
		Bucket:        e.bucket,
		ObjectKey:     key,
		RowCount:      len(snap.Records),
		SizeBytes:     int64(len(body)),
		LastFetchedAt: snap.LastFetchedAt,
		ExportedAt:    exportedAt,
	}
	if out != nil {
		record.Location = out.Location
	}

	log := e.log.WithFields(logrus.Fields{
		"endpoint":   snap.Endpoint,
		"object_key": key,
		"rows":       record.RowCount,
	})

	if e.saver != nil {
		if err := e.saver.SaveExport(ctx, record); err != nil {
			log.WithError(err).Error("Failed to save export metadata")
			return record, err
		}
	}

	log.Info("Snapshot exported")
	return record, nil
}

func ObjectKey(endpoint string, at time.Time) string {
	return fmt.Sprintf("snapshots/%s/%s.json", endpoint, at.UTC().Format("20060102T150405.000Z"))
}
