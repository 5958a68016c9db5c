package workers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stocklens/countd/internal/core/domain"
	"github.com/stocklens/countd/internal/core/services"
	"github.com/stocklens/countd/test/mocks"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func markVerifiedTask(t *testing.T, payload services.MarkVerifiedPayload) *asynq.Task {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(services.TypeMarkVerified, body)
}

func TestVerifyProcessor_ProcessMarkVerified(t *testing.T) {
	details := domain.VerificationDetails{
		SessionID:  "sess-1",
		LineID:     uuid.New(),
		CountedBy:  "op-1",
		VerifiedAt: time.Now(),
	}

	tests := []struct {
		name        string
		repoErr     error
		wantErr     bool
		wantNoRetry bool
	}{
		{
			name: "marks_item_verified",
		},
		{
			name:    "network_failure_retries",
			repoErr: domain.ErrNetwork,
			wantErr: true,
		},
		{
			name:        "missing_item_skips_retry",
			repoErr:     domain.ErrNotFound,
			wantErr:     true,
			wantNoRetry: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			lines := mocks.NewMockCountLineRepository(ctrl)
			lines.EXPECT().
				MarkItemVerified(gomock.Any(), "ITM-1", gomock.Any()).
				Return(tt.repoErr)

			p := NewVerifyProcessor(lines, testLogger())
			task := markVerifiedTask(t, services.MarkVerifiedPayload{
				ItemCode: "ITM-1",
				Details:  details,
			})

			err := p.ProcessMarkVerified(context.Background(), task)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantNoRetry, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestVerifyProcessor_RejectsMalformedPayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	lines := mocks.NewMockCountLineRepository(ctrl)

	p := NewVerifyProcessor(lines, testLogger())
	task := asynq.NewTask(services.TypeMarkVerified, []byte("{not json"))

	err := p.ProcessMarkVerified(context.Background(), task)
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestSweepProcessor_RejectsMalformedPayload(t *testing.T) {
	p := NewSweepProcessor(nil, nil, testLogger())

	err := p.ProcessSweepPhotoOrphans(context.Background(),
		asynq.NewTask(services.TypeSweepPhotoOrphan, []byte("{not json")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = p.ProcessSweepPhotoOrphans(context.Background(),
		asynq.NewTask(services.TypeSweepPhotoOrphan, []byte(`{"session_id":""}`)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestOrphanKeys(t *testing.T) {
	tests := []struct {
		name       string
		referenced []string
		stored     []string
		want       []string
	}{
		{
			name:       "everything_referenced",
			referenced: []string{"proofs/s1/d1/a", "proofs/s1/d1/b"},
			stored:     []string{"proofs/s1/d1/a", "proofs/s1/d1/b"},
			want:       nil,
		},
		{
			name:       "abandoned_draft_objects",
			referenced: []string{"proofs/s1/d1/a"},
			stored:     []string{"proofs/s1/d1/a", "proofs/s1/d2/x", "proofs/s1/d2/y"},
			want:       []string{"proofs/s1/d2/x", "proofs/s1/d2/y"},
		},
		{
			name:   "nothing_stored",
			stored: nil,
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, orphanKeys(tt.referenced, tt.stored))
		})
	}
}
