package audit

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/relay/internal/clock"
	"github.com/aristath/relay/internal/domain"
	"github.com/aristath/relay/internal/errs"
)

// Uploader is the slice of the S3 upload manager the archiver needs.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// ArchiveConfig configures the S3 archiver.
type ArchiveConfig struct {
	Bucket string
	Prefix string // key prefix, e.g. "relay"
	Region string
}

// Archive mirrors audit rows to S3 as gzipped msgpack blobs, one object per
// flush. A companion to the SQLite trail for long-term retention; local
// persistence never depends on it.
type Archive struct {
	cfg      ArchiveConfig
	uploader Uploader
	clk      clock.Clock
	log      zerolog.Logger
}

// NewArchive builds an archiver over an injected uploader. Use Connect for
// the production S3 client.
func NewArchive(cfg ArchiveConfig, uploader Uploader, clk clock.Clock, log zerolog.Logger) *Archive {
	if cfg.Prefix == "" {
		cfg.Prefix = "relay"
	}
	return &Archive{
		cfg:      cfg,
		uploader: uploader,
		clk:      clk,
		log:      log.With().Str("component", "audit_archive").Logger(),
	}
}

// Connect builds an archiver backed by the real S3 upload manager using the
// ambient AWS credential chain.
func Connect(ctx context.Context, cfg ArchiveConfig, clk clock.Clock, log zerolog.Logger) (*Archive, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, errs.Configuration("failed to load AWS config", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return NewArchive(cfg, manager.NewUploader(client), clk, log), nil
}

// AppendExecutionRow archives one terminal execution.
func (a *Archive) AppendExecutionRow(ctx context.Context, rec *domain.SignalExecution) error {
	key := a.key("executions", rec.ID)
	return a.put(ctx, key, rec)
}

// AppendFillRow archives one fill.
func (a *Archive) AppendFillRow(ctx context.Context, fill *domain.Fill) error {
	key := a.key("fills", fill.ExecID)
	return a.put(ctx, key, fill)
}

// AppendMetricsSnapshot archives a metric flush as one object.
func (a *Archive) AppendMetricsSnapshot(ctx context.Context, rows []domain.MetricRow) error {
	if len(rows) == 0 {
		return nil
	}
	now := a.clk.Now().UTC()
	key := fmt.Sprintf("%s/metrics/%s/metrics-%d.msgpack.gz",
		a.cfg.Prefix, now.Format("2006/01/02"), now.UnixNano())
	if err := a.put(ctx, key, rows); err != nil {
		return err
	}
	a.log.Debug().Int("rows", len(rows)).Str("key", key).Msg("metrics archived")
	return nil
}

func (a *Archive) key(kind, id string) string {
	now := a.clk.Now().UTC()
	return fmt.Sprintf("%s/%s/%s/%s.msgpack.gz", a.cfg.Prefix, kind, now.Format("2006/01/02"), id)
}

// put encodes v as msgpack, gzips it, and uploads it.
func (a *Archive) put(ctx context.Context, key string, v interface{}) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return errs.Data("failed to encode archive payload", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return errs.Data("failed to compress archive payload", err)
	}
	if err := gz.Close(); err != nil {
		return errs.Data("failed to finalize archive payload", err)
	}

	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.cfg.Bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/msgpack"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return errs.Connection("failed to upload archive object", err)
	}
	return nil
}

var _ domain.BlobSink = (*Archive)(nil)
