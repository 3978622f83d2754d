package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arena-agent/internal/config"
	"github.com/aristath/arena-agent/internal/domain"
	"github.com/aristath/arena-agent/internal/pipeline"
)

type fakeUploader struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, input)
	f.bodies = append(f.bodies, body)
	return &manager.UploadOutput{}, nil
}

func report() *pipeline.Report {
	return &pipeline.Report{
		RunID:    "run-1",
		AgentID:  "agent-1",
		Strategy: "research",
		State:    pipeline.StateSubmitted,
		Snapshot: &domain.Snapshot{Clock: domain.Clock{
			CurrentInterval: domain.Interval{ID: "iv-1", StartTime: "2026-03-01T12:00:00Z"},
		}},
		Decision: domain.NewDecision(nil, "Hold.", domain.Metadata{CommitSHA: "local"}),
	}
}

func TestArchive_Record(t *testing.T) {
	up := &fakeUploader{}
	a := New(up, "agent-runs", "runs", zerolog.Nop())

	require.NoError(t, a.Record(context.Background(), report()))
	require.Len(t, up.inputs, 1)

	in := up.inputs[0]
	assert.Equal(t, "agent-runs", *in.Bucket)
	assert.Equal(t, "runs/agent-1/2026-03-01T12:00:00Z/run-1.json", *in.Key)
	assert.Equal(t, "application/json", *in.ContentType)
	assert.Equal(t, "submitted", in.Metadata["state"])

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(up.bodies[0], &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.Equal(t, "submitted", decoded["state"])
}

func TestArchive_KeyWithoutSnapshot(t *testing.T) {
	a := New(&fakeUploader{}, "b", "runs", zerolog.Nop())
	r := report()
	r.Snapshot = nil

	assert.Equal(t, "runs/agent-1/no-interval/run-1.json", a.Key(r))
}

func TestArchive_UploadError(t *testing.T) {
	a := New(&fakeUploader{err: errors.New("access denied")}, "b", "runs", zerolog.Nop())

	err := a.Record(context.Background(), report())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestNewUploader(t *testing.T) {
	up, err := NewUploader(context.Background(), config.ArchiveConfig{
		Bucket:          "b",
		Endpoint:        "https://account.r2.cloudflarestorage.com",
		Region:          "auto",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)
	assert.NotNil(t, up)
}
