// internal/handlers/count.go
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/stocklens/countd/internal/core/domain"
	"github.com/stocklens/countd/internal/core/services"
)

// maxPhotoBytes caps a single photo-proof upload.
const maxPhotoBytes = 10 << 20

// CountHandler exposes the count-capture workflow over HTTP. Each session gets
// its own workflow from the registry; every endpoint below /sessions/{id}
// translates one operator intent.
type CountHandler struct {
	registry *services.SessionRegistry
	logger   *slog.Logger
}

// NewCountHandler creates a new count handler
func NewCountHandler(registry *services.SessionRegistry, logger *slog.Logger) *CountHandler {
	return &CountHandler{
		registry: registry,
		logger:   logger.With(slog.String("handler", "count")),
	}
}

// OpenSessionRequest is the request body for opening a counting session
type OpenSessionRequest struct {
	ID        string          `json:"id"`
	Location  domain.Location `json:"location"`
	CountedBy string          `json:"counted_by"`
}

// OpenSession handles POST /api/v1/sessions
func (h *CountHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.CountedBy == "" {
		h.respondError(w, http.StatusBadRequest, "counted_by is required")
		return
	}

	wf, err := h.registry.Open(domain.Session{
		ID:        req.ID,
		Location:  req.Location,
		CountedBy: req.CountedBy,
	})
	if err != nil {
		h.respondDomainError(r, w, err, "failed to open session")
		return
	}

	h.logger.InfoContext(r.Context(), "session opened",
		slog.String("session_id", req.ID),
		slog.String("warehouse", req.Location.Warehouse))

	h.respondJSON(w, http.StatusCreated, wf.Projection())
}

// CloseSession handles DELETE /api/v1/sessions/{id}
func (h *CountHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if wf, err := h.registry.Get(sessionID); err == nil {
		wf.Cancel(r.Context())
	}
	h.registry.Close(sessionID)

	h.respondJSON(w, http.StatusOK, map[string]string{
		"message":    "Session closed",
		"session_id": sessionID,
	})
}

// GetProjection handles GET /api/v1/sessions/{id}
func (h *CountHandler) GetProjection(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.workflow(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, wf.Projection())
}

// ScanRequest carries one scanned barcode
type ScanRequest struct {
	Code string `json:"code"`
}

// Scan handles POST /api/v1/sessions/{id}/scan
func (h *CountHandler) Scan(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.workflow(w, r)
	if !ok {
		return
	}

	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := wf.Scan(r.Context(), req.Code); err != nil {
		// The projection carries the operator-facing notice alongside the
		// error, so the client renders both from one response.
		h.respondDomainErrorWithState(r, w, wf, err, "scan rejected")
		return
	}

	h.respondJSON(w, http.StatusAccepted, wf.Projection())
}

// SearchRequest carries a free-text catalog query
type SearchRequest struct {
	Query string `json:"query"`
}

// Search handles POST /api/v1/sessions/{id}/search
func (h *CountHandler) Search(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.workflow(w, r)
	if !ok {
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Debounced; results land in the projection once the query settles.
	wf.Search(r.Context(), req.Query)
	h.respondJSON(w, http.StatusAccepted, wf.Projection())
}

// SelectResultRequest picks an item from the search results
type SelectResultRequest struct {
	ItemCode string `json:"item_code"`
}

// SelectResult handles POST /api/v1/sessions/{id}/select
func (h *CountHandler) SelectResult(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.workflow(w, r)
	if !ok {
		return
	}

	var req SelectResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := wf.SelectSearchResult(r.Context(), req.ItemCode); err != nil {
		h.respondDomainError(r, w, err, "failed to select search result")
		return
	}
	h.respondJSON(w, http.StatusAccepted, wf.Projection())
}

// RetryLookupRequest retries a failed identifier lookup
type RetryLookupRequest struct {
	Identifier string `json:"identifier"`
}

// RetryLookup handles POST /api/v1/sessions/{id}/retry-lookup
func (h *CountHandler) RetryLookup(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.workflow(w, r)
	if !ok {
		return
	}

	var req RetryLookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := wf.RetryLookup(r.Context(), req.Identifier); err != nil {
		h.respondDomainErrorWithState(r, w, wf, err, "lookup retry rejected")
		return
	}
	h.respondJSON(w, http.StatusAccepted, wf.Projection())
}

// AcknowledgePause handles POST /api/v1/sessions/{id}/scan-pause/ack
func (h *CountHandler) AcknowledgePause(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.workflow(w, r)
	if !ok {
		return
	}
	wf.AcknowledgeRatePause()
	h.respondJSON(w, http.StatusOK, wf.Projection())
}

// ResolveDuplicateRequest is the operator's answer to an already-counted item
type ResolveDuplicateRequest struct {
	Choice        string `json:"choice"`
	AdditionalQty int    `json:"additional_qty,omitempty"`
}

// ResolveDuplicate handles POST /api/v1/sessions/{id}/duplicate
func (h *CountHandler) ResolveDuplicate(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.workflow(w, r)
	if !ok {
		return
	}

	var req ResolveDuplicateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := wf.ResolveDuplicate(r.Context(), services.DuplicateResolution(req.Choice), req.AdditionalQty)
	if err != nil {
		h.respondDomainError(r, w, err, "failed to resolve duplicate")
		return
	}
	h.respondJSON(w, http.StatusOK, wf.Projection())
}

// UpdateDraftRequest carries partial draft edits. Nil fields are untouched.
type UpdateDraftRequest struct {
	Quantity               *string `json:"quantity,omitempty"`
	ReturnableDamageQty    *int    `json:"returnable_damage_qty,omitempty"`
	NonReturnableDamageQty *int    `json:"non_returnable_damage_qty,omitempty"`
	Price                  *string `json:"price,omitempty"`
	Condition              *string `json:"condition,omitempty"`
	ReasonCode             *string `json:"reason_code,omitempty"`
	Note                   *string `json:"note,omitempty"`
	Remark                 *string `json:"remark,omitempty"`
}

// UpdateDraft handles PATCH /api/v1/sessions/{id}/draft
func (h *CountHandler) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.workflow(w, r)
	if !ok {
		return
	}

	var req UpdateDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.applyDraftEdits(r, wf, &req); err != nil {
		h.respondDomainError(r, w, err, "failed to update draft")
		return
	}
	h.respondJSON(w, http.StatusOK, wf.Projection())
}

func (h *CountHandler) applyDraftEdits(r *http.Request, wf *services.Workflow, req *UpdateDraftRequest) error {
	if req.Quantity != nil {
		if err := wf.SetQuantity(*req.Quantity); err != nil {
			return err
		}
	}
	if req.ReturnableDamageQty != nil || req.NonReturnableDamageQty != nil {
		draft := wf.Projection().Draft
		if draft == nil {
			return domain.ErrValidation
		}
		returnable := draft.ReturnableDamageQty
		nonReturnable := draft.NonReturnableDamageQty
		if req.ReturnableDamageQty != nil {
			returnable = *req.ReturnableDamageQty
		}
		if req.NonReturnableDamageQty != nil {
			nonReturnable = *req.NonReturnableDamageQty
		}
		if err := wf.SetDamage(returnable, nonReturnable); err != nil {
			return err
		}
	}
	if req.Price != nil {
		if err := wf.SetPrice(*req.Price); err != nil {
			return err
		}
	}
	if req.Condition != nil {
		if err := wf.SetCondition(*req.Condition); err != nil {
			return err
		}
	}
	if req.ReasonCode != nil {
		if err := wf.SetReason(r.Context(), *req.ReasonCode); err != nil {
			return err
		}
	}
	if req.Note != nil {
		if err := wf.SetNote(*req.Note); err != nil {
			return err
		}
	}
	if req.Remark != nil {
		if err := wf.SetRemark(*req.Remark); err != nil {
			return err
		}
	}
	return nil
}

// SerialCaptureRequest toggles serial capture for optional-policy items
type SerialCaptureRequest struct {
	Enabled bool `json:"enabled"`
}

// ToggleSerialCapture handles POST /api/v1/sessions/{id}/serial-capture
func (h *CountHandler) ToggleSerialCapture(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.workflow(w, r)
	if !ok {
		return
	}

	var req SerialCaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := wf.ToggleSerialCapture(req.Enabled); err != nil {
		h.respondDomainError(r, w, err, "failed to toggle serial capture")
		return
	}
	h.respondJSON(w, http.StatusOK, wf.Projection())
}

// AddSerialSlot handles POST /api/v1/sessions/{id}/serials
func (h *CountHandler) AddSerialSlot(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.workflow(w, r)
	if !ok {
		return
	}

	slot, err := wf.AddSerialSlot()
	if err != nil {
		h.respondDomainError(r, w, err, "failed to add serial slot")
		return
	}
	h.respondJSON(w, http.StatusCreated, slot)
}

// RemoveSerialSlot handles DELETE /api/v1/sessions/{id}/serials/{slotID}
func (h *CountHandler) RemoveSerialSlot(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.workflow(w, r)
	if !ok {
		return
	}

	slotID, err := uuid.Parse(r.PathValue("slotID"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid slot ID format")
		return
	}

	if err := wf.RemoveSerialSlot(slotID); err != nil {
		h.respondDomainError(r, w, err, "failed to remove serial slot")
		return
	}
	h.respondJSON(w, http.StatusOK, wf.Projection())
}

// SetSerialValueRequest types a serial into a slot
type SetSerialValueRequest struct {
	Value string `json:"value"`
}

// SetSerialValue handles PUT /api/v1/sessions/{id}/serials/{slotID}
func (h *CountHandler) SetSerialValue(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.workflow(w, r)
	if !ok {
		return
	}

	slotID, err := uuid.Parse(r.PathValue("slotID"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid slot ID format")
		return
	}

	var req SetSerialValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := wf.SetSerialValue(slotID, req.Value); err != nil {
		h.respondDomainError(r, w, err, "failed to set serial value")
		return
	}
	h.respondJSON(w, http.StatusOK, wf.Projection())
}

// SetScanTarget handles POST /api/v1/sessions/{id}/serials/{slotID}/target
func (h *CountHandler) SetScanTarget(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.workflow(w, r)
	if !ok {
		return
	}

	slotID, err := uuid.Parse(r.PathValue("slotID"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid slot ID format")
		return
	}

	if err := wf.SetScanTarget(slotID); err != nil {
		h.respondDomainError(r, w, err, "failed to set scan target")
		return
	}
	h.respondJSON(w, http.StatusOK, wf.Projection())
}

// CapturePhoto handles POST /api/v1/sessions/{id}/photos (multipart)
func (h *CountHandler) CapturePhoto(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.workflow(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxPhotoBytes); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("photo")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "photo file is required")
		return
	}
	defer file.Close()

	kind := domain.PhotoKind(r.FormValue("kind"))
	switch kind {
	case domain.PhotoItem, domain.PhotoShelf, domain.PhotoSerial, domain.PhotoDamage:
	default:
		h.respondError(w, http.StatusBadRequest, "Invalid photo kind")
		return
	}

	proof, err := wf.CapturePhoto(r.Context(), kind, file,
		header.Header.Get("Content-Type"), int(header.Size))
	if err != nil {
		h.respondDomainError(r, w, err, "failed to capture photo")
		return
	}

	h.respondJSON(w, http.StatusCreated, proof)
}

// GetPhoto handles GET /api/v1/sessions/{id}/photos/{photoID}, streaming the
// stored image bytes back for review.
func (h *CountHandler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.workflow(w, r)
	if !ok {
		return
	}

	photoID, err := uuid.Parse(r.PathValue("photoID"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid photo ID format")
		return
	}

	data, contentType, err := wf.PhotoContents(r.Context(), photoID)
	if err != nil {
		h.respondDomainError(r, w, err, "failed to fetch photo")
		return
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		h.logger.WarnContext(r.Context(), "failed to write photo response",
			slog.String("error", err.Error()))
	}
}

// RemovePhoto handles DELETE /api/v1/sessions/{id}/photos/{photoID}
func (h *CountHandler) RemovePhoto(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.workflow(w, r)
	if !ok {
		return
	}

	photoID, err := uuid.Parse(r.PathValue("photoID"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid photo ID format")
		return
	}

	if err := wf.RemovePhoto(r.Context(), photoID); err != nil {
		h.respondDomainError(r, w, err, "failed to remove photo")
		return
	}
	h.respondJSON(w, http.StatusOK, wf.Projection())
}

// RefreshItem handles POST /api/v1/sessions/{id}/refresh
func (h *CountHandler) RefreshItem(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.workflow(w, r)
	if !ok {
		return
	}

	if err := wf.RefreshItem(r.Context()); err != nil {
		h.respondDomainError(r, w, err, "failed to refresh item")
		return
	}
	h.respondJSON(w, http.StatusOK, wf.Projection())
}

// SubmitResponse pairs the gate evaluation with the resulting projection
type SubmitResponse struct {
	Evaluation services.Evaluation `json:"evaluation"`
	Projection services.Projection `json:"projection"`
}

// Submit handles POST /api/v1/sessions/{id}/submit
func (h *CountHandler) Submit(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.workflow(w, r)
	if !ok {
		return
	}

	ev, err := wf.Submit(r.Context())
	if err != nil {
		h.respondDomainErrorWithState(r, w, wf, err, "submission failed")
		return
	}

	status := http.StatusOK
	if !ev.CanSubmit {
		// Gate blocks are not errors; the client renders them inline.
		status = http.StatusUnprocessableEntity
	}
	h.respondJSON(w, status, SubmitResponse{
		Evaluation: ev,
		Projection: wf.Projection(),
	})
}

// Cancel handles POST /api/v1/sessions/{id}/cancel
func (h *CountHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.workflow(w, r)
	if !ok {
		return
	}
	wf.Cancel(r.Context())
	h.respondJSON(w, http.StatusOK, wf.Projection())
}

// ListReasons handles GET /api/v1/sessions/{id}/reasons
func (h *CountHandler) ListReasons(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.workflow(w, r)
	if !ok {
		return
	}

	reasons, err := wf.Reasons(r.Context())
	if err != nil {
		h.respondDomainError(r, w, err, "failed to load variance reasons")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"reasons": reasons})
}

// RecentScans handles GET /api/v1/sessions/{id}/recent
func (h *CountHandler) RecentScans(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.workflow(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"item_codes": wf.RecentScans(r.Context()),
	})
}

// Helper methods

// workflow resolves the session's workflow or writes a 404.
func (h *CountHandler) workflow(w http.ResponseWriter, r *http.Request) (*services.Workflow, bool) {
	wf, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		h.respondError(w, http.StatusNotFound, "Session not open")
		return nil, false
	}
	return wf, true
}

// respondDomainError maps domain sentinel errors onto HTTP statuses.
func (h *CountHandler) respondDomainError(r *http.Request, w http.ResponseWriter, err error, msg string) {
	h.logger.WarnContext(r.Context(), msg,
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()))

	h.respondJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// respondDomainErrorWithState is respondDomainError plus the current
// projection, for intents whose rejection carries operator-facing state
// (rate pauses, retry cool-downs, failed lookups).
func (h *CountHandler) respondDomainErrorWithState(r *http.Request, w http.ResponseWriter, wf *services.Workflow, err error, msg string) {
	h.logger.WarnContext(r.Context(), msg,
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()))

	h.respondJSON(w, statusFor(err), map[string]interface{}{
		"error":      err.Error(),
		"projection": wf.Projection(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrDuplicateValue),
		errors.Is(err, domain.ErrMinimumRequired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrAmbiguousInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *CountHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response",
			slog.String("error", err.Error()))
	}
}

func (h *CountHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
