package editor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkrasov/fieldmark/cache"
	"github.com/dkrasov/fieldmark/lock"
	"github.com/dkrasov/fieldmark/models"
)

const DefaultAutosaveDelay = 2 * time.Second

var (
	ErrNotEditable   = errors.New("session is not editable (lock not held)")
	ErrSessionClosed = errors.New("session is closed")
	ErrDirtyClose    = errors.New("unsaved changes require close confirmation")
	ErrNoRenderer    = errors.New("no renderer configured")
)

// AnnotationService is the slice of the service layer a session drives:
// load the current version, append new versions, and fetch historical
// content for revert.
type AnnotationService interface {
	LoadCurrentAnnotation(ctx context.Context, photoId string) (*models.MediaAnnotation, error)
	SaveAnnotation(ctx context.Context, photoId string, doc models.AnnotationDocument, user models.User) (models.MediaAnnotation, error)
	GetAnnotationVersion(ctx context.Context, photoId string, version int) (models.MediaAnnotation, error)
}

// Renderer is the external capability used for exportRendered. The
// session drives it; painting shapes is not this package's concern.
type Renderer interface {
	Render(ctx context.Context, doc models.AnnotationDocument) (data []byte, contentType string, err error)
}

// SessionEvents surface asynchronous outcomes (timer-driven saves, lock
// transitions) to the transport layer. Callbacks run on timer goroutines.
type SessionEvents struct {
	OnLockDenied   func(holderName string)
	OnLockLost     func(holderName string)
	OnLockExpiring func(expiresAt time.Time)
	OnAutosaved    func(version int)
	OnSaveFailed   func(err error)
}

type Config struct {
	PhotoId       string
	User          models.User
	CanvasWidth   float64
	CanvasHeight  float64
	ReadOnly      bool
	Service       AnnotationService
	Cache         cache.FieldmarkCache
	Renderer      Renderer
	LockTTL       time.Duration
	LockHeartbeat time.Duration
	AutosaveDelay time.Duration
	Events        SessionEvents
}

// Session owns one photo's editing state: the in-memory document, the
// history stack, the active tool, the edit lock, and the autosave timer.
// All state is single-writer behind mu; timers and the ws read pump are
// the only entry points.
type Session struct {
	photoId  string
	user     models.User
	svc      AnnotationService
	renderer Renderer
	events   SessionEvents
	lock     *lock.Client

	mu            sync.Mutex
	doc           models.AnnotationDocument
	history       *History
	selection     map[string]struct{}
	style         Style
	activeToolId  ToolId
	activeTool    Tool
	textTool      *textTool
	dirty         bool
	readOnly      bool
	closed        bool
	autosave      *time.Timer
	autosaveDelay time.Duration
}

// Open loads the current version (or seeds an empty default document),
// seeds history with that single snapshot, and attempts to acquire the
// edit lock unless the session is read-only. A lock denial is not an
// error: the session opens but refuses mutating input.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	s := &Session{
		photoId:       cfg.PhotoId,
		user:          cfg.User,
		svc:           cfg.Service,
		renderer:      cfg.Renderer,
		events:        cfg.Events,
		selection:     make(map[string]struct{}),
		readOnly:      cfg.ReadOnly,
		autosaveDelay: cfg.AutosaveDelay,
		style: Style{
			Color:         "#ff0000",
			StrokeWidth:   3,
			FontSize:      16,
			FontFamily:    "sans-serif",
			Unit:          "px",
			PixelsPerUnit: 1,
		},
	}
	if s.autosaveDelay <= 0 {
		s.autosaveDelay = DefaultAutosaveDelay
	}

	current, err := cfg.Service.LoadCurrentAnnotation(ctx, cfg.PhotoId)
	if err != nil {
		return nil, err
	}
	if current != nil {
		s.doc = current.Document.Clone()
		s.doc.Version = current.Version
	} else {
		s.doc = models.NewDocument(cfg.CanvasWidth, cfg.CanvasHeight)
	}
	s.history = NewHistory(s.doc)

	if !cfg.ReadOnly {
		s.lock = lock.NewClient(cfg.Cache, cfg.PhotoId, cfg.User.Id, cfg.User.Username, cfg.LockTTL, cfg.LockHeartbeat, lock.Events{
			OnDenied: cfg.Events.OnLockDenied,
			OnLost: func(holderName string) {
				s.cancelAutosave()
				if cfg.Events.OnLockLost != nil {
					cfg.Events.OnLockLost(holderName)
				}
			},
			OnExpiryWarning: cfg.Events.OnLockExpiring,
		})
		if _, err := s.lock.Acquire(ctx); err != nil {
			return nil, err
		}
	}

	s.setTool(ToolSelect)
	return s, nil
}

func (s *Session) PhotoId() string { return s.photoId }

// Editable reports whether mutating input is accepted right now.
func (s *Session) Editable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editableLocked()
}

func (s *Session) editableLocked() bool {
	return !s.closed && !s.readOnly && s.lock != nil && s.lock.Editable()
}

func (s *Session) LockState() lock.State {
	if s.lock == nil {
		return lock.Unlocked
	}
	return s.lock.State()
}

func (s *Session) LockHolderName() string {
	if s.lock == nil {
		return ""
	}
	return s.lock.HolderName()
}

// TryAcquireLock re-attempts acquisition, e.g. after the lock watcher
// reports a remote release.
func (s *Session) TryAcquireLock(ctx context.Context) (lock.State, error) {
	s.mu.Lock()
	if s.closed || s.readOnly || s.lock == nil {
		s.mu.Unlock()
		return lock.Unlocked, ErrNotEditable
	}
	s.mu.Unlock()
	return s.lock.Acquire(ctx)
}

// Document returns a snapshot of the current document.
func (s *Session) Document() models.AnnotationDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *Session) SelectedIds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.selection))
	for _, obj := range s.doc.Objects {
		if _, ok := s.selection[obj.Id]; ok {
			ids = append(ids, obj.Id)
		}
	}
	return ids
}

func (s *Session) ActiveTool() ToolId {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeToolId
}

// SetTool switches the active tool. A pending inline text edit is
// committed first so its buffer is not silently lost.
func (s *Session) SetTool(id ToolId) error {
	if !ValidToolId(id) {
		return errors.New("unknown tool: " + string(id))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.textTool != nil && s.textTool.Editing() {
		s.textTool.Commit()
	}
	s.setTool(id)
	return nil
}

func (s *Session) setTool(id ToolId) {
	s.activeToolId = id
	s.textTool = nil
	switch id {
	case ToolSelect:
		s.activeTool = &selectTool{view: s}
	case ToolArrow:
		s.activeTool = &arrowTool{style: s.style, onComplete: s.applyObject}
	case ToolLine:
		s.activeTool = &lineTool{style: s.style, onComplete: s.applyObject}
	case ToolRect:
		s.activeTool = &rectTool{style: s.style, onComplete: s.applyObject}
	case ToolCircle:
		s.activeTool = &circleTool{style: s.style, onComplete: s.applyObject}
	case ToolFreehand:
		s.activeTool = &freehandTool{style: s.style, onComplete: s.applyObject}
	case ToolMeasurement:
		s.activeTool = &measurementTool{style: s.style, onComplete: s.applyObject}
	case ToolText:
		t := &textTool{style: s.style, onComplete: s.applyObject}
		s.textTool = t
		s.activeTool = t
	}
}

// SetStyle applies stroke settings to subsequently drawn objects.
func (s *Session) SetStyle(style Style) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.style = style
	s.setTool(s.activeToolId)
}

// Pointer events are routed to the active tool only while the lock is
// held; in held-by-other and unlocked states input is dropped.
func (s *Session) PointerDown(p Point, mods Modifiers) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.editableLocked() {
		return
	}
	s.activeTool.PointerDown(p, mods)
}

func (s *Session) PointerMove(p Point, mods Modifiers) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.editableLocked() {
		return
	}
	s.activeTool.PointerMove(p, mods)
}

func (s *Session) PointerUp(p Point, mods Modifiers) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.editableLocked() {
		return
	}
	s.activeTool.PointerUp(p, mods)
}

func (s *Session) TextInput(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.editableLocked() || s.textTool == nil {
		return
	}
	s.textTool.Input(text)
}

func (s *Session) TextCommit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.editableLocked() || s.textTool == nil {
		return
	}
	s.textTool.Commit()
}

func (s *Session) TextCancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.textTool != nil {
		s.textTool.Cancel()
	}
}

// applyObject merges a finished tool object into the document as one
// undo step. Runs with mu held (tools are only invoked under it).
func (s *Session) applyObject(obj models.AnnotationObject) {
	s.doc.Objects = append(s.doc.Objects, obj)
	s.pushHistoryLocked()
	s.markDirtyLocked()
}

func (s *Session) Undo() (models.AnnotationDocument, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.editableLocked() {
		return models.AnnotationDocument{}, false
	}
	doc, ok := s.history.Undo()
	if !ok {
		return models.AnnotationDocument{}, false
	}
	s.doc = doc
	s.selection = make(map[string]struct{})
	s.markDirtyLocked()
	return s.doc.Clone(), true
}

func (s *Session) Redo() (models.AnnotationDocument, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.editableLocked() {
		return models.AnnotationDocument{}, false
	}
	doc, ok := s.history.Redo()
	if !ok {
		return models.AnnotationDocument{}, false
	}
	s.doc = doc
	s.selection = make(map[string]struct{})
	s.markDirtyLocked()
	return s.doc.Clone(), true
}

func (s *Session) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.editableLocked() || len(s.doc.Objects) == 0 {
		return
	}
	s.doc.Objects = []models.AnnotationObject{}
	s.pushHistoryLocked()
	s.markDirtyLocked()
}

func (s *Session) DeleteSelected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.editableLocked() || len(s.selection) == 0 {
		return
	}
	kept := s.doc.Objects[:0]
	for _, obj := range s.doc.Objects {
		if _, ok := s.selection[obj.Id]; !ok {
			kept = append(kept, obj)
		}
	}
	s.doc.Objects = kept
	s.pushHistoryLocked()
	s.markDirtyLocked()
}

// Save appends the current document as a new version. A pending autosave
// is coalesced into this call. On backend failure the document stays
// dirty and untouched so the user can retry.
func (s *Session) Save(ctx context.Context) (models.MediaAnnotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx)
}

func (s *Session) saveLocked(ctx context.Context) (models.MediaAnnotation, error) {
	if s.closed {
		return models.MediaAnnotation{}, ErrSessionClosed
	}
	if !s.editableLocked() {
		return models.MediaAnnotation{}, ErrNotEditable
	}
	s.cancelAutosaveLocked()

	rec, err := s.svc.SaveAnnotation(ctx, s.photoId, s.doc.Clone(), s.user)
	if err != nil {
		return models.MediaAnnotation{}, err
	}

	s.doc.Version = rec.Version
	s.dirty = false
	return rec, nil
}

// RevertToVersion fetches a historical version and saves its content as
// a brand-new version. Nothing is overwritten or deleted.
func (s *Session) RevertToVersion(ctx context.Context, version int) (models.MediaAnnotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.editableLocked() {
		return models.MediaAnnotation{}, ErrNotEditable
	}

	old, err := s.svc.GetAnnotationVersion(ctx, s.photoId, version)
	if err != nil {
		return models.MediaAnnotation{}, err
	}

	s.doc = old.Document.Clone()
	s.pushHistoryLocked()
	s.markDirtyLocked()
	return s.saveLocked(ctx)
}

// Export drives the configured renderer over a document snapshot.
func (s *Session) Export(ctx context.Context) ([]byte, string, error) {
	if s.renderer == nil {
		return nil, "", ErrNoRenderer
	}
	return s.renderer.Render(ctx, s.Document())
}

// Close ends the session. With unsaved changes and no confirmation it
// refuses with ErrDirtyClose so the transport can ask the user; the lock
// is always released once closing proceeds.
func (s *Session) Close(confirmed bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if s.dirty && !s.readOnly && !confirmed {
		s.mu.Unlock()
		return ErrDirtyClose
	}
	s.closed = true
	s.cancelAutosaveLocked()
	s.mu.Unlock()

	if s.lock != nil {
		s.lock.Release()
	}
	return nil
}

// ForceClose is the deletion-watcher path: the photo is gone, so the
// session ends regardless of dirty state.
func (s *Session) ForceClose() {
	s.mu.Lock()
	s.closed = true
	s.cancelAutosaveLocked()
	s.mu.Unlock()

	if s.lock != nil {
		s.lock.Release()
	}
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// markDirtyLocked flags unsaved changes and restarts the autosave
// debounce. Caller holds mu.
func (s *Session) markDirtyLocked() {
	s.dirty = true
	if !s.editableLocked() {
		return
	}
	s.cancelAutosaveLocked()
	s.autosave = time.AfterFunc(s.autosaveDelay, s.autosaveTick)
}

func (s *Session) autosaveTick() {
	s.mu.Lock()
	if s.closed || !s.dirty || !s.editableLocked() {
		s.mu.Unlock()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	rec, err := s.saveLocked(ctx)
	cancel()
	s.mu.Unlock()

	if err != nil {
		if s.events.OnSaveFailed != nil {
			s.events.OnSaveFailed(err)
		}
		return
	}
	if s.events.OnAutosaved != nil {
		s.events.OnAutosaved(rec.Version)
	}
}

func (s *Session) cancelAutosave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelAutosaveLocked()
}

func (s *Session) cancelAutosaveLocked() {
	if s.autosave != nil {
		s.autosave.Stop()
		s.autosave = nil
	}
}

// pushHistoryLocked records the current document and clears the
// selection: selection is view state, not document state, and undo does
// not restore it.
func (s *Session) pushHistoryLocked() {
	s.history.Push(s.doc)
	s.selection = make(map[string]struct{})
}

// documentView implementation for the select tool. These run with mu
// already held: tools are only invoked from session methods.

func (s *Session) docObjects() []models.AnnotationObject { return s.doc.Objects }

func (s *Session) isSelected(id string) bool {
	_, ok := s.selection[id]
	return ok
}

func (s *Session) setSelection(ids []string) {
	s.selection = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s.selection[id] = struct{}{}
	}
}

func (s *Session) toggleSelection(id string) {
	if _, ok := s.selection[id]; ok {
		delete(s.selection, id)
	} else {
		s.selection[id] = struct{}{}
	}
}

func (s *Session) clearSelection() {
	s.selection = make(map[string]struct{})
}

func (s *Session) moveSelectionBy(dx, dy float64) {
	for i := range s.doc.Objects {
		if _, ok := s.selection[s.doc.Objects[i].Id]; ok {
			s.doc.Objects[i].X += dx
			s.doc.Objects[i].Y += dy
		}
	}
}

// endDrag records the drag's net effect as a single undo step.
func (s *Session) endDrag(moved bool) {
	if moved {
		s.pushHistoryLocked()
		s.markDirtyLocked()
	}
}
