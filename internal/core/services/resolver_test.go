// internal/core/services/resolver_test.go
package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stocklens/countd/internal/core/domain"
	"github.com/stocklens/countd/internal/core/ports"
	"github.com/stocklens/countd/test/mocks"
)

type resolverMocks struct {
	catalog *mocks.MockCatalogRepository
	lines   *mocks.MockCountLineRepository
	cache   *mocks.MockCacheRepository
}

func newTestResolver(t *testing.T) (*ItemResolver, resolverMocks) {
	t.Helper()
	ctrl := gomock.NewController(t)
	m := resolverMocks{
		catalog: mocks.NewMockCatalogRepository(ctrl),
		lines:   mocks.NewMockCountLineRepository(ctrl),
		cache:   mocks.NewMockCacheRepository(ctrl),
	}
	r := NewItemResolver(m.catalog, m.lines, m.cache, 2*time.Second,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return r, m
}

func TestNormalizeIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{name: "plain barcode", raw: "8901030865278", want: "8901030865278"},
		{name: "trims whitespace", raw: "  ABC-99  ", want: "ABC-99"},
		{name: "short numeric zero-padded", raw: "42", want: "000042"},
		{name: "five digits padded", raw: "12345", want: "012345"},
		{name: "six digits untouched", raw: "123456", want: "123456"},
		{name: "short alphanumeric untouched", raw: "A42", want: "A42"},
		{name: "empty", raw: "   ", wantErr: domain.ErrAmbiguousInput},
		{name: "control characters", raw: "AB\x00CD", wantErr: domain.ErrAmbiguousInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeIdentifier(tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestItemResolver_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("normalizes before lookup", func(t *testing.T) {
		r, m := newTestResolver(t)
		m.catalog.EXPECT().
			LookupByBarcode(gomock.Any(), "000042").
			Return(&domain.Item{Code: "ITM-42"}, nil)

		item, err := r.Resolve(ctx, " 42 ")
		require.NoError(t, err)
		assert.Equal(t, "ITM-42", item.Code)
	})

	t.Run("malformed input never reaches the backend", func(t *testing.T) {
		r, _ := newTestResolver(t)

		_, err := r.Resolve(ctx, "  ")
		assert.ErrorIs(t, err, domain.ErrAmbiguousInput)
	})

	t.Run("propagates not found", func(t *testing.T) {
		r, m := newTestResolver(t)
		m.catalog.EXPECT().
			LookupByBarcode(gomock.Any(), "NOPE-1").
			Return(nil, domain.ErrNotFound)

		_, err := r.Resolve(ctx, "NOPE-1")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestItemResolver_Search(t *testing.T) {
	ctx := context.Background()

	t.Run("blank query short-circuits", func(t *testing.T) {
		r, _ := newTestResolver(t)

		results, err := r.Search(ctx, "   ")
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("passes query through", func(t *testing.T) {
		r, m := newTestResolver(t)
		m.catalog.EXPECT().
			Search(gomock.Any(), "blue widget").
			Return([]domain.ItemSummary{{Code: "ITM-7", Name: "Blue Widget"}}, nil)

		results, err := r.Search(ctx, "blue widget")
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "ITM-7", results[0].Code)
	})
}

func TestItemResolver_CheckPriorCount(t *testing.T) {
	r, m := newTestResolver(t)
	m.lines.EXPECT().
		CheckAlreadyCounted(gomock.Any(), "sess-1", "ITM-7").
		Return(&ports.PriorCount{AlreadyCounted: true}, nil)

	prior, err := r.CheckPriorCount(context.Background(), "sess-1", "ITM-7")
	require.NoError(t, err)
	assert.True(t, prior.AlreadyCounted)
}

func TestItemResolver_RecordRecent(t *testing.T) {
	ctx := context.Background()

	t.Run("prepends and dedupes", func(t *testing.T) {
		r, m := newTestResolver(t)
		m.cache.EXPECT().
			Get(gomock.Any(), "session:recent:sess-1", gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, dest interface{}) error {
				*dest.(*[]string) = []string{"ITM-2", "ITM-7", "ITM-3"}
				return nil
			})
		m.cache.EXPECT().
			SetWithTTL(gomock.Any(), "session:recent:sess-1",
				[]string{"ITM-7", "ITM-2", "ITM-3"}, recentScanTTL).
			Return(nil)

		r.RecordRecent(ctx, "sess-1", "ITM-7")
	})

	t.Run("caps the list", func(t *testing.T) {
		r, m := newTestResolver(t)
		old := make([]string, recentScanLimit+5)
		for i := range old {
			old[i] = "OLD"
		}
		m.cache.EXPECT().
			Get(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, dest interface{}) error {
				*dest.(*[]string) = old
				return nil
			})
		m.cache.EXPECT().
			SetWithTTL(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, value interface{}, _ time.Duration) error {
				assert.Len(t, value, recentScanLimit)
				return nil
			})

		r.RecordRecent(ctx, "sess-1", "ITM-NEW")
	})

	t.Run("write failure is swallowed", func(t *testing.T) {
		r, m := newTestResolver(t)
		m.cache.EXPECT().Get(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("miss"))
		m.cache.EXPECT().
			SetWithTTL(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(errors.New("redis down"))

		r.RecordRecent(ctx, "sess-1", "ITM-7") // must not panic or error
	})
}

func TestItemResolver_AllowRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("first retry allowed", func(t *testing.T) {
		r, m := newTestResolver(t)
		m.cache.EXPECT().
			SetNX(gomock.Any(), "lookup:cooldown:BC-1", gomock.Any(), 2*time.Second).
			Return(true, nil)

		ok, remaining, err := r.AllowRetry(ctx, "BC-1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Zero(t, remaining)
	})

	t.Run("cool-down holds later retries", func(t *testing.T) {
		r, m := newTestResolver(t)
		m.cache.EXPECT().
			SetNX(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(false, nil)
		m.cache.EXPECT().
			TTL(gomock.Any(), "lookup:cooldown:BC-1").
			Return(1200*time.Millisecond, nil)

		ok, remaining, err := r.AllowRetry(ctx, "BC-1")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 1200*time.Millisecond, remaining)
	})

	t.Run("broken cache fails open", func(t *testing.T) {
		r, m := newTestResolver(t)
		m.cache.EXPECT().
			SetNX(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(false, errors.New("redis down"))

		ok, _, err := r.AllowRetry(ctx, "BC-1")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
