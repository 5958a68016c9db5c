// internal/core/services/workflow.go
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stocklens/countd/internal/core/domain"
	"github.com/stocklens/countd/internal/core/ports"
)

// Step is the workflow's current state.
type Step string

// Workflow steps
const (
	StepIdle              Step = "idle"
	StepResolving         Step = "resolving"
	StepDuplicateDecision Step = "duplicate_decision"
	StepCapturing         Step = "capturing"
	StepSubmitting        Step = "submitting"
)

// DuplicateResolution is the operator's answer to "this item was already
// counted in this session".
type DuplicateResolution string

// Duplicate resolutions
const (
	DuplicateCancel      DuplicateResolution = "cancel"
	DuplicateAddQuantity DuplicateResolution = "add_quantity"
	DuplicateNewLine     DuplicateResolution = "new_line"
)

// backendTimeout bounds catalog and count-line calls launched from intents
// whose HTTP request has already returned.
const backendTimeout = 10 * time.Second

// WorkflowConfig carries the tunable timing knobs of the capture loop.
type WorkflowConfig struct {
	ScanWindow     time.Duration
	ScanLimit      int
	ScanDebounce   time.Duration
	SearchDebounce time.Duration
	LookupCooldown time.Duration
	SubmitRetries  int
	SubmitBackoff  time.Duration
	PhotoCapture   bool
}

// DefaultWorkflowConfig returns the production timing defaults.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		ScanWindow:     15 * time.Second,
		ScanLimit:      5,
		ScanDebounce:   1500 * time.Millisecond,
		SearchDebounce: 400 * time.Millisecond,
		LookupCooldown: 2 * time.Second,
		SubmitRetries:  3,
		SubmitBackoff:  250 * time.Millisecond,
		PhotoCapture:   true,
	}
}

// Projection is a read-only snapshot of workflow state for rendering. It
// never aliases mutable internals.
type Projection struct {
	Step          Step                    `json:"step"`
	Draft         *domain.CountDraft      `json:"draft,omitempty"`
	Evaluation    Evaluation              `json:"evaluation"`
	ActiveSlotID  uuid.UUID               `json:"active_slot_id,omitempty"`
	PriorLines    []ports.PriorCountLine  `json:"prior_lines,omitempty"`
	SearchResults []domain.ItemSummary    `json:"search_results,omitempty"`
	Reasons       []domain.VarianceReason `json:"reasons,omitempty"`
	Notice        string                  `json:"notice,omitempty"`
	ScanPaused    bool                    `json:"scan_paused"`
	LastError     string                  `json:"last_error,omitempty"`
	SubmittedLine *domain.CountLine       `json:"submitted_line,omitempty"`
	FailedLookup  string                  `json:"failed_lookup,omitempty"`
}

// Workflow is the per-session count-capture state machine. All intents take
// the workflow lock; slow backend calls run outside it and re-validate a
// monotonic token before applying their result, so stale responses are
// discarded instead of clobbering newer state.
type Workflow struct {
	mu  sync.Mutex
	cfg WorkflowConfig

	session  domain.Session
	guard    *ScanGuard
	mrp      *MRPNormalizer
	resolver *ItemResolver
	gate     *SubmissionGate
	lines    ports.CountLineRepository
	photos   ports.PhotoStore
	cache    ports.CacheRepository
	tasks    TaskEnqueuer
	logger   *slog.Logger

	step    Step
	draft   *domain.CountDraft
	serials *SerialSlotManager

	resolveToken uint64
	searchToken  uint64
	searchTimer  *time.Timer

	pendingItem   *domain.Item
	priorLines    []ports.PriorCountLine
	searchResults []domain.ItemSummary
	reasons       []domain.VarianceReason

	notice       string
	lastError    string
	failedLookup string
	scanPaused   bool
	submitted    *domain.CountLine

	lastActivity time.Time
}

// NewWorkflow wires a workflow for one counting session.
func NewWorkflow(
	session domain.Session,
	cfg WorkflowConfig,
	resolver *ItemResolver,
	mrp *MRPNormalizer,
	gate *SubmissionGate,
	lines ports.CountLineRepository,
	photos ports.PhotoStore,
	cache ports.CacheRepository,
	tasks TaskEnqueuer,
	logger *slog.Logger,
) *Workflow {
	return &Workflow{
		cfg:      cfg,
		session:  session,
		guard:    NewScanGuard(cfg.ScanWindow, cfg.ScanDebounce, cfg.ScanLimit, logger),
		mrp:      mrp,
		resolver: resolver,
		gate:     gate,
		lines:    lines,
		photos:   photos,
		cache:    cache,
		tasks:    tasks,
		logger: logger.With(
			slog.String("service", "count_workflow"),
			slog.String("session_id", session.ID)),
		step:         StepIdle,
		lastActivity: time.Now(),
	}
}

// Session returns the counting session this workflow belongs to.
func (w *Workflow) Session() domain.Session { return w.session }

// IdleSince returns the time of the last operator intent.
func (w *Workflow) IdleSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActivity
}

// Scan handles a barcode from the scanner or camera. While a serial slot is
// targeted the value goes into the slot; otherwise it starts item
// resolution. Debounced repeats are dropped silently, and crossing the
// frequency limit pauses continuous scanning.
func (w *Workflow) Scan(ctx context.Context, code string) error {
	if w.guard.Debounced(code) {
		return nil
	}
	if w.guard.Register(code) {
		w.mu.Lock()
		w.scanPaused = true
		w.notice = "Scanning too fast. Pausing to catch up."
		w.touch()
		w.mu.Unlock()
		return domain.ErrRateLimited
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.touch()

	if w.scanPaused {
		return domain.ErrRateLimited
	}

	if w.step == StepCapturing && w.serials != nil && w.serials.ActiveTarget() != uuid.Nil {
		slotID, err := w.serials.RouteScan(code)
		if err != nil {
			if errors.Is(err, domain.ErrDuplicateValue) {
				w.notice = fmt.Sprintf("Serial %q is already recorded.", domain.NormalizeSerial(code))
			}
			return err
		}
		w.logger.Debug("scan routed to serial slot", slog.String("slot_id", slotID.String()))
		w.syncSlots()
		return nil
	}

	return w.beginResolveLocked(code)
}

// SelectSearchResult loads an item chosen from the search list. Bypasses the
// scan guard since it is an explicit tap, not scanner input.
func (w *Workflow) SelectSearchResult(ctx context.Context, itemCode string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.touch()
	w.searchToken++
	w.searchResults = nil
	return w.beginResolveLocked(itemCode)
}

// RetryLookup re-runs a failed lookup, rate-limited by a short cool-down per
// identifier so a dead backend is not hammered.
func (w *Workflow) RetryLookup(ctx context.Context, identifier string) error {
	ok, remaining, err := w.resolver.AllowRetry(ctx, identifier)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.touch()
	if !ok {
		w.notice = fmt.Sprintf("Retry available in %.1fs.", remaining.Seconds())
		return domain.ErrRateLimited
	}
	return w.beginResolveLocked(identifier)
}

// AcknowledgeRatePause clears the scan-frequency pause.
func (w *Workflow) AcknowledgeRatePause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.touch()
	w.scanPaused = false
	w.notice = ""
	w.guard.Reset()
}

// beginResolveLocked starts async item resolution. Caller holds the lock.
func (w *Workflow) beginResolveLocked(raw string) error {
	identifier, err := NormalizeIdentifier(raw)
	if err != nil {
		w.lastError = "Unreadable code. Scan again or search by name."
		return err
	}

	w.step = StepResolving
	w.notice = ""
	w.lastError = ""
	w.failedLookup = ""
	// A scan during a pending duplicate decision abandons that decision.
	w.pendingItem = nil
	w.priorLines = nil
	w.resolveToken++
	token := w.resolveToken

	go w.resolve(token, identifier)
	return nil
}

// resolve runs outside the lock, then applies its result only if no newer
// intent superseded it.
func (w *Workflow) resolve(token uint64, identifier string) {
	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()

	item, err := w.resolver.Resolve(ctx, identifier)
	var prior *ports.PriorCount
	if err == nil {
		prior, err = w.resolver.CheckPriorCount(ctx, w.session.ID, item.Code)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if token != w.resolveToken || w.step != StepResolving {
		return
	}

	if err != nil {
		w.step = StepIdle
		w.failedLookup = identifier
		switch {
		case errors.Is(err, domain.ErrNotFound):
			w.lastError = fmt.Sprintf("No item matches %q.", identifier)
		case errors.Is(err, domain.ErrNetwork):
			w.lastError = "Lookup failed. Check connectivity and retry."
		default:
			w.lastError = "Lookup failed."
		}
		w.logger.Warn("item resolution failed",
			slog.String("identifier", identifier),
			slog.String("error", err.Error()))
		return
	}

	if prior != nil && prior.AlreadyCounted {
		w.step = StepDuplicateDecision
		w.pendingItem = item
		w.priorLines = prior.Lines
		return
	}

	w.startDraftLocked(item)
}

// ResolveDuplicate applies the operator's three-way choice for an
// already-counted item.
func (w *Workflow) ResolveDuplicate(ctx context.Context, choice DuplicateResolution, additionalQty int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.touch()
	if w.step != StepDuplicateDecision {
		return fmt.Errorf("no duplicate decision pending: %w", domain.ErrValidation)
	}

	switch choice {
	case DuplicateCancel:
		w.resetToIdleLocked()
		return nil

	case DuplicateNewLine:
		item := w.pendingItem
		w.startDraftLocked(item)
		return nil

	case DuplicateAddQuantity:
		if additionalQty <= 0 {
			return fmt.Errorf("additional quantity must be positive: %w", domain.ErrValidation)
		}
		if len(w.priorLines) == 0 {
			return fmt.Errorf("no prior line to add to: %w", domain.ErrConflict)
		}
		lineID := w.priorLines[0].ID
		line, err := w.lines.AddQuantityToLine(ctx, lineID, additionalQty)
		if err != nil {
			return fmt.Errorf("add quantity to line %s: %w", lineID, err)
		}
		w.submitted = line
		w.resetToIdleLocked()
		w.notice = fmt.Sprintf("Added %d to the earlier count.", additionalQty)
		return nil

	default:
		return fmt.Errorf("unknown duplicate resolution %q: %w", choice, domain.ErrValidation)
	}
}

// startDraftLocked opens a capture draft for a freshly resolved item. Caller
// holds the lock.
func (w *Workflow) startDraftLocked(item *domain.Item) {
	w.draft = domain.NewCountDraft(w.session, item)
	w.serials = NewSerialSlotManager(item.SerialPolicy, w.logger)
	w.serials.SetRequiredCount(w.draft.ExpectedSerialCount())
	w.syncSlots()

	if def := w.mrp.DefaultPriceFor(item); def != "" {
		if p, err := domain.ParsePrice(def); err == nil {
			w.draft.Price = p
		}
	}
	w.rematchPriceLocked()

	w.pendingItem = nil
	w.priorLines = nil
	w.searchResults = nil
	w.step = StepCapturing
	w.notice = ""
	w.lastError = ""

	go w.resolver.RecordRecent(context.Background(), w.session.ID, item.Code)
}

// Search schedules a debounced catalog search. Only the last query inside
// the debounce window runs, and a stale response never overwrites a newer
// one.
func (w *Workflow) Search(ctx context.Context, query string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.touch()

	w.searchToken++
	token := w.searchToken
	if w.searchTimer != nil {
		w.searchTimer.Stop()
	}
	if len(query) == 0 {
		w.searchResults = nil
		return
	}

	w.searchTimer = time.AfterFunc(w.cfg.SearchDebounce, func() {
		sctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
		defer cancel()

		results, err := w.resolver.Search(sctx, query)

		w.mu.Lock()
		defer w.mu.Unlock()
		if token != w.searchToken {
			return
		}
		if err != nil {
			w.logger.Warn("search failed", slog.String("error", err.Error()))
			w.searchResults = nil
			return
		}
		w.searchResults = results
	})
}

// SetQuantity applies raw quantity input and realigns the serial slots.
func (w *Workflow) SetQuantity(raw string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireDraftLocked(); err != nil {
		return err
	}
	w.draft.CountedQty = domain.ParseQuantity(raw)
	w.serials.SetRequiredCount(w.draft.ExpectedSerialCount())
	w.syncSlots()
	return nil
}

// SetDamage records returnable and non-returnable damaged quantities.
func (w *Workflow) SetDamage(returnable, nonReturnable int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireDraftLocked(); err != nil {
		return err
	}
	if returnable < 0 || nonReturnable < 0 {
		return fmt.Errorf("damage quantities cannot be negative: %w", domain.ErrValidation)
	}
	w.draft.ReturnableDamageQty = returnable
	w.draft.NonReturnableDamageQty = nonReturnable
	return nil
}

// SetPrice applies raw price input and re-runs variant matching.
func (w *Workflow) SetPrice(raw string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireDraftLocked(); err != nil {
		return err
	}
	p, err := domain.ParsePrice(raw)
	if err != nil {
		return fmt.Errorf("price %q: %w", raw, err)
	}
	w.draft.Price = p
	w.rematchPriceLocked()
	return nil
}

// SetCondition records an operator condition override. Variant matching will
// no longer touch the condition for this draft.
func (w *Workflow) SetCondition(tag string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireDraftLocked(); err != nil {
		return err
	}
	w.draft.ConditionTag = tag
	w.draft.ConditionManual = true
	return nil
}

// SetReason selects a variance reason by code.
func (w *Workflow) SetReason(ctx context.Context, code string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireDraftLocked(); err != nil {
		return err
	}
	if code == "" {
		w.draft.Reason = nil
		return nil
	}
	reasons, err := w.reasonsLocked(ctx)
	if err != nil {
		return err
	}
	for _, r := range reasons {
		if r.Code == code {
			reason := r
			w.draft.Reason = &reason
			return nil
		}
	}
	return fmt.Errorf("unknown variance reason %q: %w", code, domain.ErrValidation)
}

// SetNote sets the free-text note.
func (w *Workflow) SetNote(note string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireDraftLocked(); err != nil {
		return err
	}
	w.draft.Note = note
	return nil
}

// SetRemark sets the free-text remark.
func (w *Workflow) SetRemark(remark string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireDraftLocked(); err != nil {
		return err
	}
	w.draft.Remark = remark
	return nil
}

// ToggleSerialCapture enables or disables serial capture for optional-policy
// items.
func (w *Workflow) ToggleSerialCapture(on bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireDraftLocked(); err != nil {
		return err
	}
	if err := w.serials.SetEnabled(on); err != nil {
		return err
	}
	w.draft.SerialCapture = w.serials.Enabled()
	w.serials.SetRequiredCount(w.draft.ExpectedSerialCount())
	w.syncSlots()
	return nil
}

// AddSerialSlot appends one serial slot beyond the expected count.
func (w *Workflow) AddSerialSlot() (domain.SerialSlot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireDraftLocked(); err != nil {
		return domain.SerialSlot{}, err
	}
	slot, err := w.serials.AddSlot()
	if err != nil {
		return domain.SerialSlot{}, err
	}
	w.syncSlots()
	return slot, nil
}

// RemoveSerialSlot removes a slot, guarded by the required minimum.
func (w *Workflow) RemoveSerialSlot(id uuid.UUID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireDraftLocked(); err != nil {
		return err
	}
	if err := w.serials.RemoveSlot(id); err != nil {
		return err
	}
	w.syncSlots()
	return nil
}

// SetSerialValue types a serial into a specific slot.
func (w *Workflow) SetSerialValue(id uuid.UUID, raw string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireDraftLocked(); err != nil {
		return err
	}
	if err := w.serials.SetValue(id, raw); err != nil {
		return err
	}
	w.syncSlots()
	return nil
}

// SetScanTarget marks the slot that receives the next scan.
func (w *Workflow) SetScanTarget(id uuid.UUID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireDraftLocked(); err != nil {
		return err
	}
	return w.serials.SetScanTarget(id)
}

// CapturePhoto stores a photo proof and attaches it to the draft.
func (w *Workflow) CapturePhoto(ctx context.Context, kind domain.PhotoKind, data io.Reader, contentType string, size int) (domain.PhotoProof, error) {
	w.mu.Lock()
	if err := w.requireDraftLocked(); err != nil {
		w.mu.Unlock()
		return domain.PhotoProof{}, err
	}
	if !w.cfg.PhotoCapture {
		w.mu.Unlock()
		return domain.PhotoProof{}, fmt.Errorf("photo capture not supported here: %w", domain.ErrValidation)
	}
	id := uuid.New()
	key := fmt.Sprintf("proofs/%s/%s/%s", w.session.ID, w.draft.ID, id)
	w.mu.Unlock()

	objectKey, err := w.photos.Upload(ctx, key, data, contentType)
	if err != nil {
		return domain.PhotoProof{}, fmt.Errorf("upload photo: %w", err)
	}

	proof := domain.PhotoProof{
		ID:          id,
		Kind:        kind,
		CapturedAt:  time.Now(),
		ObjectKey:   objectKey,
		ContentType: contentType,
		SizeBytes:   size,
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.draft == nil {
		// Draft went away while uploading; leave the orphan for the sweeper.
		return domain.PhotoProof{}, fmt.Errorf("draft no longer active: %w", domain.ErrConflict)
	}
	w.draft.Photos = append(w.draft.Photos, proof)
	w.touch()
	return proof, nil
}

// RemovePhoto detaches a photo proof and deletes the stored object.
// Object deletion is best-effort; the sweeper catches leftovers.
func (w *Workflow) RemovePhoto(ctx context.Context, id uuid.UUID) error {
	w.mu.Lock()
	if err := w.requireDraftLocked(); err != nil {
		w.mu.Unlock()
		return err
	}
	var key string
	idx := -1
	for i, p := range w.draft.Photos {
		if p.ID == id {
			idx, key = i, p.ObjectKey
			break
		}
	}
	if idx < 0 {
		w.mu.Unlock()
		return fmt.Errorf("photo %s: %w", id, domain.ErrNotFound)
	}
	w.draft.Photos = append(w.draft.Photos[:idx], w.draft.Photos[idx+1:]...)
	w.mu.Unlock()

	if err := w.photos.Delete(ctx, key); err != nil {
		w.logger.Warn("failed to delete photo object",
			slog.String("object_key", key),
			slog.String("error", err.Error()))
	}
	return nil
}

// PhotoContents fetches the stored bytes for an attached photo proof, so the
// operator can review a shot before submitting.
func (w *Workflow) PhotoContents(ctx context.Context, id uuid.UUID) ([]byte, string, error) {
	w.mu.Lock()
	if err := w.requireDraftLocked(); err != nil {
		w.mu.Unlock()
		return nil, "", err
	}
	var key, contentType string
	for _, p := range w.draft.Photos {
		if p.ID == id {
			key, contentType = p.ObjectKey, p.ContentType
			break
		}
	}
	w.mu.Unlock()
	if key == "" {
		return nil, "", fmt.Errorf("photo %s: %w", id, domain.ErrNotFound)
	}

	data, err := w.photos.Download(ctx, key)
	if err != nil {
		return nil, "", fmt.Errorf("download photo: %w", err)
	}
	return data, contentType, nil
}

// RefreshItem re-reads the draft's item from the catalog and re-runs variant
// matching against the fresh record.
func (w *Workflow) RefreshItem(ctx context.Context) error {
	w.mu.Lock()
	if err := w.requireDraftLocked(); err != nil {
		w.mu.Unlock()
		return err
	}
	code := w.draft.Item.Code
	w.mu.Unlock()

	item, err := w.resolver.Refresh(ctx, code)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.draft == nil || w.draft.Item == nil || w.draft.Item.Code != code {
		return nil
	}
	w.draft.Item = item
	w.serials.SetRequiredCount(w.draft.ExpectedSerialCount())
	w.syncSlots()
	w.rematchPriceLocked()
	return nil
}

// Submit runs the gate and, when the draft passes, sends the count line with
// bounded retries on network failures. A successful submission clears the
// draft and queues the best-effort verification flag.
func (w *Workflow) Submit(ctx context.Context) (Evaluation, error) {
	w.mu.Lock()
	w.touch()
	if w.step != StepCapturing || w.draft == nil {
		w.mu.Unlock()
		return Evaluation{}, fmt.Errorf("nothing to submit: %w", domain.ErrValidation)
	}

	ev := w.gate.Evaluate(w.draft)
	if !ev.CanSubmit {
		w.mu.Unlock()
		return ev, nil
	}

	payload, err := w.gate.BuildPayload(w.draft, w.session, time.Now())
	if err != nil {
		w.mu.Unlock()
		return ev, err
	}
	if verify := w.gate.VerifyPayload(payload); !verify.CanSubmit {
		w.mu.Unlock()
		w.logger.Error("assembled payload failed verification",
			slog.String("item_code", payload.ItemCode),
			slog.Any("blocks", verify.Blocks))
		return verify, fmt.Errorf("payload verification: %w", domain.ErrValidation)
	}
	w.step = StepSubmitting
	w.mu.Unlock()

	line, err := w.sendWithRetry(ctx, payload)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.step = StepCapturing
		w.lastError = "Submission failed. The draft is untouched."
		return ev, err
	}

	w.submitted = line
	details := domain.VerificationDetails{
		SessionID:  w.session.ID,
		LineID:     line.ID,
		CountedBy:  w.session.CountedBy,
		VerifiedAt: time.Now(),
	}
	if w.tasks != nil {
		// Verification is a side effect; its failure never dents the count.
		if err := w.tasks.EnqueueMarkVerified(ctx, payload.ItemCode, details); err != nil {
			w.logger.Warn("mark-verified enqueue failed",
				slog.String("item_code", payload.ItemCode),
				slog.String("error", err.Error()))
		}
	}

	w.resetToIdleLocked()
	w.notice = fmt.Sprintf("Counted %d x %s.", payload.CountedQty, payload.ItemCode)
	return ev, nil
}

// sendWithRetry attempts the count-line write up to the configured number of
// tries, backing off between attempts. Only network failures retry;
// validation rejections surface immediately.
func (w *Workflow) sendWithRetry(ctx context.Context, payload *domain.CountLinePayload) (*domain.CountLine, error) {
	attempts := w.cfg.SubmitRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		line, err := w.lines.CreateCountLine(ctx, payload)
		if err == nil {
			return line, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrNetwork) {
			return nil, fmt.Errorf("create count line: %w", err)
		}
		w.logger.Warn("count line submission failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.String("error", err.Error()))
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(w.cfg.SubmitBackoff * time.Duration(attempt)):
			}
		}
	}
	return nil, fmt.Errorf("create count line after %d attempts: %w", attempts, lastErr)
}

// Cancel abandons whatever is in flight and returns to idle. In-flight
// resolutions and searches are invalidated, not awaited.
func (w *Workflow) Cancel(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.touch()

	hadPhotos := w.draft != nil && len(w.draft.Photos) > 0
	w.resetToIdleLocked()

	if hadPhotos && w.tasks != nil {
		if err := w.tasks.EnqueueSweepPhotoOrphans(ctx, w.session.ID); err != nil {
			w.logger.Warn("photo sweep enqueue failed", slog.String("error", err.Error()))
		}
	}
}

// Reasons returns the variance reason list, loading and caching it on first
// use.
func (w *Workflow) Reasons(ctx context.Context) ([]domain.VarianceReason, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reasonsLocked(ctx)
}

// RecentScans returns the session's recently counted item codes.
func (w *Workflow) RecentScans(ctx context.Context) []string {
	return w.resolver.RecentScans(ctx, w.session.ID)
}

// Projection snapshots the workflow for rendering.
func (w *Workflow) Projection() Projection {
	w.mu.Lock()
	defer w.mu.Unlock()

	p := Projection{
		Step:          w.step,
		Notice:        w.notice,
		LastError:     w.lastError,
		FailedLookup:  w.failedLookup,
		ScanPaused:    w.scanPaused,
		SubmittedLine: w.submitted,
	}
	if w.draft != nil {
		draft := *w.draft
		draft.Slots = w.serials.Slots()
		p.Draft = &draft
		p.Evaluation = w.gate.Evaluate(&draft)
		p.ActiveSlotID = w.serials.ActiveTarget()
	}
	p.PriorLines = append(p.PriorLines, w.priorLines...)
	p.SearchResults = append(p.SearchResults, w.searchResults...)
	p.Reasons = append(p.Reasons, w.reasons...)
	return p
}

func (w *Workflow) reasonsLocked(ctx context.Context) ([]domain.VarianceReason, error) {
	if w.reasons != nil {
		return w.reasons, nil
	}
	var reasons []domain.VarianceReason
	err := w.cache.GetOrSet(ctx, "variance:reasons", &reasons, func() (interface{}, error) {
		return w.lines.ListVarianceReasons(ctx)
	}, time.Hour)
	if err != nil {
		return nil, fmt.Errorf("load variance reasons: %w", err)
	}
	w.reasons = reasons
	return reasons, nil
}

func (w *Workflow) rematchPriceLocked() {
	if w.draft == nil || w.draft.Item == nil {
		return
	}
	if !w.draft.Price.Valid {
		w.draft.MatchedVariant = nil
		return
	}
	variants := w.mrp.Normalize(w.draft.Item)
	match := w.mrp.Match(variants, w.draft.Price.Decimal)
	w.draft.MatchedVariant = match
	if match != nil && match.ConditionTag != "" && !w.draft.ConditionManual {
		w.draft.ConditionTag = match.ConditionTag
	}
}

func (w *Workflow) requireDraftLocked() error {
	w.touch()
	if w.step != StepCapturing || w.draft == nil {
		return fmt.Errorf("no capture in progress: %w", domain.ErrValidation)
	}
	return nil
}

func (w *Workflow) syncSlots() {
	if w.draft == nil || w.serials == nil {
		return
	}
	w.draft.Slots = w.serials.Slots()
	w.draft.SerialCapture = w.serials.Enabled()
}

func (w *Workflow) resetToIdleLocked() {
	w.resolveToken++
	w.searchToken++
	if w.searchTimer != nil {
		w.searchTimer.Stop()
	}
	w.step = StepIdle
	w.draft = nil
	w.serials = nil
	w.pendingItem = nil
	w.priorLines = nil
	w.searchResults = nil
	w.notice = ""
	w.lastError = ""
	w.failedLookup = ""
}

func (w *Workflow) touch() {
	w.lastActivity = time.Now()
}
