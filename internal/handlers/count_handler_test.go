package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stocklens/countd/internal/core/domain"
	"github.com/stocklens/countd/internal/core/ports"
	"github.com/stocklens/countd/internal/core/services"
	"github.com/stocklens/countd/internal/handlers"
	"github.com/stocklens/countd/test/mocks"
)

type nopEnqueuer struct{}

func (nopEnqueuer) EnqueueMarkVerified(context.Context, string, domain.VerificationDetails) error {
	return nil
}

func (nopEnqueuer) EnqueueSweepPhotoOrphans(context.Context, string) error {
	return nil
}

type handlerFixture struct {
	mux     *http.ServeMux
	catalog *mocks.MockCatalogRepository
	lines   *mocks.MockCountLineRepository
	cache   *mocks.MockCacheRepository
	photos  *mocks.MockPhotoStore
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	f := &handlerFixture{
		catalog: mocks.NewMockCatalogRepository(ctrl),
		lines:   mocks.NewMockCountLineRepository(ctrl),
		cache:   mocks.NewMockCacheRepository(ctrl),
		photos:  mocks.NewMockPhotoStore(ctrl),
	}

	// The recently-scanned list is maintained from a fire-and-forget goroutine.
	f.cache.EXPECT().Get(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.New("miss")).AnyTimes()
	f.cache.EXPECT().SetWithTTL(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := services.WorkflowConfig{
		ScanWindow:     15 * time.Second,
		ScanLimit:      3,
		ScanDebounce:   time.Millisecond,
		SearchDebounce: 10 * time.Millisecond,
		LookupCooldown: 2 * time.Second,
		SubmitRetries:  3,
		SubmitBackoff:  time.Millisecond,
		PhotoCapture:   true,
	}

	factory := func(session domain.Session) *services.Workflow {
		resolver := services.NewItemResolver(f.catalog, f.lines, f.cache, cfg.LookupCooldown, logger)
		return services.NewWorkflow(
			session,
			cfg,
			resolver,
			services.NewMRPNormalizer(logger),
			services.NewSubmissionGate(cfg.PhotoCapture, logger),
			f.lines, f.photos, f.cache, nopEnqueuer{},
			logger,
		)
	}

	registry := services.NewSessionRegistry(factory, 12*time.Hour, logger)
	handler := handlers.NewCountHandler(registry, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sessions", handler.OpenSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}", handler.GetProjection)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", handler.CloseSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/scan", handler.Scan)
	mux.HandleFunc("POST /api/v1/sessions/{id}/search", handler.Search)
	mux.HandleFunc("POST /api/v1/sessions/{id}/select", handler.SelectResult)
	mux.HandleFunc("POST /api/v1/sessions/{id}/scan-pause/ack", handler.AcknowledgePause)
	mux.HandleFunc("POST /api/v1/sessions/{id}/duplicate", handler.ResolveDuplicate)
	mux.HandleFunc("PATCH /api/v1/sessions/{id}/draft", handler.UpdateDraft)
	mux.HandleFunc("POST /api/v1/sessions/{id}/photos", handler.CapturePhoto)
	mux.HandleFunc("GET /api/v1/sessions/{id}/photos/{photoID}", handler.GetPhoto)
	mux.HandleFunc("POST /api/v1/sessions/{id}/submit", handler.Submit)
	mux.HandleFunc("POST /api/v1/sessions/{id}/cancel", handler.Cancel)
	f.mux = mux

	return f
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func (f *handlerFixture) openSession(t *testing.T, id string) {
	t.Helper()
	w := f.do(t, "POST", "/api/v1/sessions", handlers.OpenSessionRequest{
		ID:        id,
		Location:  domain.Location{Warehouse: "WH-A", Rack: "R-12"},
		CountedBy: "op-1",
	})
	require.Equal(t, http.StatusCreated, w.Code)
}

func (f *handlerFixture) projection(t *testing.T, sessionID string) map[string]any {
	t.Helper()
	w := f.do(t, "GET", "/api/v1/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var p map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p
}

func (f *handlerFixture) waitForStep(t *testing.T, sessionID, step string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.projection(t, sessionID)["step"] == step
	}, 2*time.Second, 10*time.Millisecond, "session never reached step %s", step)
}

func catalogItem() *domain.Item {
	return &domain.Item{
		Code:         "ITM-1",
		Name:         "Cordless Drill 18V",
		Barcode:      "4006381333931",
		Price:        decimal.NewNullDecimal(decimal.NewFromInt(100)),
		StockQty:     5,
		SerialPolicy: domain.SerialNone,
	}
}

func TestCountHandler_OpenSession(t *testing.T) {
	tests := []struct {
		name           string
		body           any
		rawBody        string
		expectedStatus int
	}{
		{
			name: "opens_session",
			body: handlers.OpenSessionRequest{
				ID:        "sess-open",
				Location:  domain.Location{Warehouse: "WH-A"},
				CountedBy: "op-1",
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "rejects_missing_counted_by",
			body: handlers.OpenSessionRequest{
				ID:       "sess-anon",
				Location: domain.Location{Warehouse: "WH-A"},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "rejects_invalid_body",
			rawBody:        "{not json",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "rejects_missing_session_id",
			body: handlers.OpenSessionRequest{
				CountedBy: "op-1",
			},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t)

			var w *httptest.ResponseRecorder
			if tt.rawBody != "" {
				req := httptest.NewRequest("POST", "/api/v1/sessions", bytes.NewBufferString(tt.rawBody))
				w = httptest.NewRecorder()
				f.mux.ServeHTTP(w, req)
			} else {
				w = f.do(t, "POST", "/api/v1/sessions", tt.body)
			}

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusCreated {
				var p map[string]any
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
				assert.Equal(t, "idle", p["step"])
			}
		})
	}
}

func TestCountHandler_UnknownSessionReturns404(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, "GET", "/api/v1/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, "POST", "/api/v1/sessions/nope/scan", handlers.ScanRequest{Code: "BC-1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCountHandler_ScanResolvesIntoCapture(t *testing.T) {
	f := newHandlerFixture(t)
	f.openSession(t, "sess-scan")

	f.catalog.EXPECT().LookupByBarcode(gomock.Any(), "4006381333931").
		Return(catalogItem(), nil)
	f.lines.EXPECT().CheckAlreadyCounted(gomock.Any(), "sess-scan", "ITM-1").
		Return(&ports.PriorCount{AlreadyCounted: false}, nil)

	w := f.do(t, "POST", "/api/v1/sessions/sess-scan/scan", handlers.ScanRequest{Code: "4006381333931"})
	require.Equal(t, http.StatusAccepted, w.Code)

	f.waitForStep(t, "sess-scan", "capturing")

	p := f.projection(t, "sess-scan")
	draft, ok := p["draft"].(map[string]any)
	require.True(t, ok, "projection carries a draft")
	item := draft["item"].(map[string]any)
	assert.Equal(t, "ITM-1", item["code"])
}

func TestCountHandler_FailedLookupCarriesStateBack(t *testing.T) {
	f := newHandlerFixture(t)
	f.openSession(t, "sess-miss")

	f.catalog.EXPECT().LookupByBarcode(gomock.Any(), "UNKNOWN-CODE").
		Return(nil, domain.ErrNotFound)

	w := f.do(t, "POST", "/api/v1/sessions/sess-miss/scan", handlers.ScanRequest{Code: "UNKNOWN-CODE"})
	require.Equal(t, http.StatusAccepted, w.Code)

	f.waitForStep(t, "sess-miss", "idle")

	p := f.projection(t, "sess-miss")
	assert.Equal(t, "UNKNOWN-CODE", p["failed_lookup"])
	assert.NotEmpty(t, p["last_error"])
}

func TestCountHandler_ScanRatePause(t *testing.T) {
	f := newHandlerFixture(t)
	f.openSession(t, "sess-fast")

	f.catalog.EXPECT().LookupByBarcode(gomock.Any(), gomock.Any()).
		Return(catalogItem(), nil).AnyTimes()
	f.lines.EXPECT().CheckAlreadyCounted(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&ports.PriorCount{AlreadyCounted: false}, nil).AnyTimes()

	// Distinct codes so the debounce never swallows one.
	var last *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		last = f.do(t, "POST", "/api/v1/sessions/sess-fast/scan",
			handlers.ScanRequest{Code: fmt.Sprintf("CODE-%d", i)})
		if last.Code == http.StatusTooManyRequests {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.Equal(t, http.StatusTooManyRequests, last.Code)

	// The rejection carries the projection so the client can render the pause.
	var body map[string]any
	require.NoError(t, json.Unmarshal(last.Body.Bytes(), &body))
	projection := body["projection"].(map[string]any)
	assert.Equal(t, true, projection["scan_paused"])
	assert.NotEmpty(t, projection["notice"])

	// Acknowledging clears the pause.
	w := f.do(t, "POST", "/api/v1/sessions/sess-fast/scan-pause/ack", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cleared map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cleared))
	assert.Equal(t, false, cleared["scan_paused"])
}

func TestCountHandler_DuplicateAddQuantity(t *testing.T) {
	f := newHandlerFixture(t)
	f.openSession(t, "sess-dup")

	priorLineID := uuid.New()
	f.catalog.EXPECT().LookupByBarcode(gomock.Any(), "4006381333931").
		Return(catalogItem(), nil)
	f.lines.EXPECT().CheckAlreadyCounted(gomock.Any(), "sess-dup", "ITM-1").
		Return(&ports.PriorCount{
			AlreadyCounted: true,
			Lines: []ports.PriorCountLine{
				{ID: priorLineID, CountedQty: 3, CountedAt: time.Now()},
			},
		}, nil)
	f.lines.EXPECT().AddQuantityToLine(gomock.Any(), priorLineID, 2).
		Return(&domain.CountLine{
			ID:         priorLineID,
			SessionID:  "sess-dup",
			ItemCode:   "ITM-1",
			CountedQty: 5,
		}, nil)

	w := f.do(t, "POST", "/api/v1/sessions/sess-dup/scan", handlers.ScanRequest{Code: "4006381333931"})
	require.Equal(t, http.StatusAccepted, w.Code)

	f.waitForStep(t, "sess-dup", "duplicate_decision")

	w = f.do(t, "POST", "/api/v1/sessions/sess-dup/duplicate", handlers.ResolveDuplicateRequest{
		Choice:        "add_quantity",
		AdditionalQty: 2,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var p map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, "idle", p["step"])
	assert.NotEmpty(t, p["notice"])
}

func TestCountHandler_DuplicateRejectsUnknownChoice(t *testing.T) {
	f := newHandlerFixture(t)
	f.openSession(t, "sess-dup2")

	f.catalog.EXPECT().LookupByBarcode(gomock.Any(), "4006381333931").
		Return(catalogItem(), nil)
	f.lines.EXPECT().CheckAlreadyCounted(gomock.Any(), "sess-dup2", "ITM-1").
		Return(&ports.PriorCount{
			AlreadyCounted: true,
			Lines:          []ports.PriorCountLine{{ID: uuid.New(), CountedQty: 1}},
		}, nil)

	w := f.do(t, "POST", "/api/v1/sessions/sess-dup2/scan", handlers.ScanRequest{Code: "4006381333931"})
	require.Equal(t, http.StatusAccepted, w.Code)
	f.waitForStep(t, "sess-dup2", "duplicate_decision")

	w = f.do(t, "POST", "/api/v1/sessions/sess-dup2/duplicate", handlers.ResolveDuplicateRequest{
		Choice: "shrug",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCountHandler_SubmitBlockedReturns422(t *testing.T) {
	f := newHandlerFixture(t)
	f.openSession(t, "sess-block")

	f.catalog.EXPECT().LookupByBarcode(gomock.Any(), "4006381333931").
		Return(catalogItem(), nil)
	f.lines.EXPECT().CheckAlreadyCounted(gomock.Any(), "sess-block", "ITM-1").
		Return(&ports.PriorCount{AlreadyCounted: false}, nil)

	w := f.do(t, "POST", "/api/v1/sessions/sess-block/scan", handlers.ScanRequest{Code: "4006381333931"})
	require.Equal(t, http.StatusAccepted, w.Code)
	f.waitForStep(t, "sess-block", "capturing")

	// No quantity entered yet, so the gate blocks.
	w = f.do(t, "POST", "/api/v1/sessions/sess-block/submit", nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	evaluation := resp["evaluation"].(map[string]any)
	assert.Equal(t, false, evaluation["can_submit"])
	blocks := evaluation["blocks"].([]any)
	require.NotEmpty(t, blocks)
	first := blocks[0].(map[string]any)
	assert.Equal(t, "quantity_missing", first["code"])
}

func TestCountHandler_DraftEditAndSubmit(t *testing.T) {
	f := newHandlerFixture(t)
	f.openSession(t, "sess-submit")

	f.catalog.EXPECT().LookupByBarcode(gomock.Any(), "4006381333931").
		Return(catalogItem(), nil)
	f.lines.EXPECT().CheckAlreadyCounted(gomock.Any(), "sess-submit", "ITM-1").
		Return(&ports.PriorCount{AlreadyCounted: false}, nil)
	f.lines.EXPECT().CreateCountLine(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p *domain.CountLinePayload) (*domain.CountLine, error) {
			assert.Equal(t, "sess-submit", p.SessionID)
			assert.Equal(t, "ITM-1", p.ItemCode)
			assert.Equal(t, 5, p.CountedQty)
			assert.Equal(t, "op-1", p.CountedBy)
			return &domain.CountLine{
				ID:         uuid.New(),
				SessionID:  p.SessionID,
				ItemCode:   p.ItemCode,
				CountedQty: p.CountedQty,
				CreatedAt:  time.Now(),
			}, nil
		})

	w := f.do(t, "POST", "/api/v1/sessions/sess-submit/scan", handlers.ScanRequest{Code: "4006381333931"})
	require.Equal(t, http.StatusAccepted, w.Code)
	f.waitForStep(t, "sess-submit", "capturing")

	// Counted quantity equals stock, so no variance reason is needed.
	qty := "5"
	w = f.do(t, "PATCH", "/api/v1/sessions/sess-submit/draft", handlers.UpdateDraftRequest{
		Quantity: &qty,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "POST", "/api/v1/sessions/sess-submit/submit", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	evaluation := resp["evaluation"].(map[string]any)
	assert.Equal(t, true, evaluation["can_submit"])
	projection := resp["projection"].(map[string]any)
	assert.Equal(t, "idle", projection["step"])
	assert.NotEmpty(t, projection["notice"])
}

func TestCountHandler_PhotoUploadAndDownload(t *testing.T) {
	f := newHandlerFixture(t)
	f.openSession(t, "sess-photo")

	f.catalog.EXPECT().LookupByBarcode(gomock.Any(), "4006381333931").
		Return(catalogItem(), nil)
	f.lines.EXPECT().CheckAlreadyCounted(gomock.Any(), "sess-photo", "ITM-1").
		Return(&ports.PriorCount{AlreadyCounted: false}, nil)

	w := f.do(t, "POST", "/api/v1/sessions/sess-photo/scan", handlers.ScanRequest{Code: "4006381333931"})
	require.Equal(t, http.StatusAccepted, w.Code)
	f.waitForStep(t, "sess-photo", "capturing")

	image := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	f.photos.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any(), "image/jpeg").
		Return("proofs/sess-photo/obj", nil)
	f.photos.EXPECT().Download(gomock.Any(), "proofs/sess-photo/obj").
		Return(image, nil)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="photo"; filename="shelf.jpg"`},
		"Content-Type":        {"image/jpeg"},
	})
	require.NoError(t, err)
	_, err = part.Write(image)
	require.NoError(t, err)
	require.NoError(t, form.WriteField("kind", "ITEM"))
	require.NoError(t, form.Close())

	req := httptest.NewRequest("POST", "/api/v1/sessions/sess-photo/photos", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var proof domain.PhotoProof
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &proof))

	w = f.do(t, "GET", "/api/v1/sessions/sess-photo/photos/"+proof.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, image, w.Body.Bytes())

	w = f.do(t, "GET", "/api/v1/sessions/sess-photo/photos/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCountHandler_CancelReturnsToIdle(t *testing.T) {
	f := newHandlerFixture(t)
	f.openSession(t, "sess-cancel")

	f.catalog.EXPECT().LookupByBarcode(gomock.Any(), "4006381333931").
		Return(catalogItem(), nil)
	f.lines.EXPECT().CheckAlreadyCounted(gomock.Any(), "sess-cancel", "ITM-1").
		Return(&ports.PriorCount{AlreadyCounted: false}, nil)

	w := f.do(t, "POST", "/api/v1/sessions/sess-cancel/scan", handlers.ScanRequest{Code: "4006381333931"})
	require.Equal(t, http.StatusAccepted, w.Code)
	f.waitForStep(t, "sess-cancel", "capturing")

	w = f.do(t, "POST", "/api/v1/sessions/sess-cancel/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var p map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, "idle", p["step"])
	assert.Nil(t, p["draft"])
}

func TestCountHandler_CloseSessionEvictsWorkflow(t *testing.T) {
	f := newHandlerFixture(t)
	f.openSession(t, "sess-close")

	w := f.do(t, "DELETE", "/api/v1/sessions/sess-close", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "GET", "/api/v1/sessions/sess-close", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
