package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	appconfig "market-pulse/internal/config"
	"market-pulse/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
)

// ObjectPutter is the part of *s3.Client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads every formatted structure as a zstd-compressed JSON object.
type S3Archiver struct {
	client  ObjectPutter
	bucket  string
	prefix  string
	encoder *zstd.Encoder
	now     func() time.Time
	logger  *logrus.Logger
}

// NewS3Client builds an S3 client from the default AWS credential chain.
func NewS3Client(ctx context.Context, cfg appconfig.ArchiveConfig) (*s3.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func NewS3Archiver(client ObjectPutter, bucket, prefix string, logger *logrus.Logger) (*S3Archiver, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return &S3Archiver{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		encoder: encoder,
		now:     time.Now,
		logger:  logger,
	}, nil
}

// ObjectKey returns where a structure refreshed at ts is stored, partitioned
// by timeframe and UTC date.
func (a *S3Archiver) ObjectKey(tf string, ts time.Time) string {
	ts = ts.UTC()
	return path.Join(
		a.prefix,
		"timeframe="+tf,
		"date="+ts.Format("2006-01-02"),
		fmt.Sprintf("%s_%s_%s.json.zst", tf, ts.Format("20060102150405"), uuid.NewString()),
	)
}

// Archive uploads fs and returns the object key
func (a *S3Archiver) Archive(ctx context.Context, fs models.FinalStructure) (string, error) {
	raw, err := json.Marshal(fs)
	if err != nil {
		return "", fmt.Errorf("failed to marshal structure: %w", err)
	}
	body := a.encoder.EncodeAll(raw, nil)
	key := a.ObjectKey(fs.Timeframe, a.now())

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("zstd"),
		Metadata: map[string]string{
			"timeframe":   fs.Timeframe,
			"instruments": fmt.Sprint(len(fs.Data)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s snapshot: %w", fs.Timeframe, err)
	}

	a.logger.WithFields(logrus.Fields{
		"bucket": a.bucket,
		"key":    key,
		"bytes":  len(body),
	}).Info("Archived snapshot")
	return key, nil
}
