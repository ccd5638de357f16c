package rsm

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"

	"github.com/quorumfs/quorumfs/pkg/metrics"
)

// ExporterConfig configures off-cluster snapshot export to S3-compatible
// storage.
type ExporterConfig struct {
	Enabled bool

	// Bucket must already exist; the exporter does not create it.
	Bucket string

	// Prefix is prepended to every object key.
	Prefix string

	Region string

	// Endpoint overrides the AWS endpoint for S3-compatible services
	// (MinIO, Localstack). Path-style addressing is used when set.
	Endpoint string

	// AccessKeyID and SecretAccessKey select static credentials; when empty
	// the default AWS credential chain applies.
	AccessKeyID     string
	SecretAccessKey string

	// Interval is how often to check for a new snapshot to export.
	Interval time.Duration
}

// Exporter periodically copies the newest raft snapshot archive into an S3
// bucket. It is a disaster-recovery measure, not part of replication: losing
// the bucket never affects cluster correctness.
type Exporter struct {
	client   *s3.Client
	snaps    raft.SnapshotStore
	cfg      ExporterConfig
	log      zerolog.Logger
	lastID   string
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewExporter builds the exporter and its S3 client. Returns (nil, nil) when
// export is disabled so the caller can treat it as absent.
func NewExporter(ctx context.Context, cfg ExporterConfig, snaps raft.SnapshotStore, logger zerolog.Logger) (*Exporter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("snapshot export: bucket is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("snapshot export: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Exporter{
		client: client,
		snaps:  snaps,
		cfg:    cfg,
		log:    logger.With().Str("component", "exporter").Logger(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start launches the background export loop. Safe to call on a nil exporter.
func (e *Exporter) Start() {
	if e == nil {
		return
	}
	e.log.Info().Str("bucket", e.cfg.Bucket).Dur("interval", e.cfg.Interval).
		Msg("snapshot exporter started")
	go e.worker()
}

// Stop halts the loop and waits for any in-flight export, bounded by ctx.
func (e *Exporter) Stop(ctx context.Context) error {
	if e == nil {
		return nil
	}
	close(e.stopCh)
	select {
	case <-e.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Exporter) worker() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			if err := e.ExportLatest(ctx); err != nil {
				e.log.Error().Err(err).Msg("snapshot export failed")
			}
			cancel()
		case <-e.stopCh:
			return
		}
	}
}

// ExportLatest uploads the most recent snapshot archive unless it was already
// exported. Object keys embed term and index so uploads never collide.
func (e *Exporter) ExportLatest(ctx context.Context) error {
	list, err := e.snaps.List()
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	if len(list) == 0 {
		return nil
	}

	// List is sorted newest first.
	meta := list[0]
	if meta.ID == e.lastID {
		return nil
	}

	_, rc, err := e.snaps.Open(meta.ID)
	if err != nil {
		return fmt.Errorf("open snapshot %s: %w", meta.ID, err)
	}
	defer func() { _ = rc.Close() }()

	key := fmt.Sprintf("%ssnapshot-%d-%d.tar.gz", e.cfg.Prefix, meta.Term, meta.Index)
	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(e.cfg.Bucket),
		Key:    aws.String(key),
		Body:   rc,
	})
	if err != nil {
		return fmt.Errorf("upload snapshot %s: %w", meta.ID, err)
	}

	e.lastID = meta.ID
	metrics.SnapshotExportsTotal.Inc()
	e.log.Info().Str("id", meta.ID).Str("key", key).Int64("size", meta.Size).
		Msg("snapshot exported")
	return nil
}
