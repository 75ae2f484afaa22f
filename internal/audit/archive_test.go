package audit

import (
	"compress/gzip"
	"context"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/relay/internal/clock"
	"github.com/aristath/relay/internal/domain"
)

type fakeUploader struct {
	inputs []*s3.PutObjectInput
	err    error
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, input)
	return &manager.UploadOutput{}, nil
}

func newTestArchive(t *testing.T) (*Archive, *fakeUploader) {
	t.Helper()
	up := &fakeUploader{}
	clk := clock.NewFake(time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC))
	a := NewArchive(ArchiveConfig{Bucket: "relay-audit", Prefix: "relay"}, up, clk, zerolog.Nop())
	return a, up
}

func TestArchiveMetricsSnapshot(t *testing.T) {
	a, up := newTestArchive(t)
	rows := []domain.MetricRow{
		{Timestamp: time.Now().UTC(), Type: "execution", Name: "latency_ms", Value: 42},
		{Timestamp: time.Now().UTC(), Type: "pnl", Name: "signal_pnl", Value: -15.5},
	}

	require.NoError(t, a.AppendMetricsSnapshot(context.Background(), rows))

	require.Len(t, up.inputs, 1)
	input := up.inputs[0]
	assert.Equal(t, "relay-audit", *input.Bucket)
	assert.Contains(t, *input.Key, "relay/metrics/2025/06/02/")
	assert.Equal(t, "gzip", *input.ContentEncoding)

	gz, err := gzip.NewReader(input.Body)
	require.NoError(t, err)
	payload, err := io.ReadAll(gz)
	require.NoError(t, err)

	var decoded []domain.MetricRow
	require.NoError(t, msgpack.Unmarshal(payload, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "latency_ms", decoded[0].Name)
	assert.Equal(t, -15.5, decoded[1].Value)
}

func TestArchiveEmptySnapshotSkipsUpload(t *testing.T) {
	a, up := newTestArchive(t)

	require.NoError(t, a.AppendMetricsSnapshot(context.Background(), nil))

	assert.Empty(t, up.inputs)
}

func TestArchiveExecutionKeyLayout(t *testing.T) {
	a, up := newTestArchive(t)
	exec := testExecution("E1")

	require.NoError(t, a.AppendExecutionRow(context.Background(), exec))

	require.Len(t, up.inputs, 1)
	assert.Equal(t, "relay/executions/2025/06/02/E1.msgpack.gz", *up.inputs[0].Key)
}
