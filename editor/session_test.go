package editor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkrasov/fieldmark/cache"
	"github.com/dkrasov/fieldmark/lock"
	"github.com/dkrasov/fieldmark/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	mu       sync.Mutex
	versions []models.MediaAnnotation
	failSave bool
}

func (s *stubService) LoadCurrentAnnotation(ctx context.Context, photoId string) (*models.MediaAnnotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.versions) == 0 {
		return nil, nil
	}
	rec := s.versions[len(s.versions)-1]
	return &rec, nil
}

func (s *stubService) SaveAnnotation(ctx context.Context, photoId string, doc models.AnnotationDocument, user models.User) (models.MediaAnnotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return models.MediaAnnotation{}, errors.New("backend unavailable")
	}
	rec := models.MediaAnnotation{
		JobMediaId:  photoId,
		Version:     len(s.versions) + 1,
		Document:    doc.Clone(),
		CreatedBy:   user.Id,
		CreatedAt:   time.Now().UTC(),
		ObjectCount: len(doc.Objects),
		IsCurrent:   true,
	}
	s.versions = append(s.versions, rec)
	return rec, nil
}

func (s *stubService) GetAnnotationVersion(ctx context.Context, photoId string, version int) (models.MediaAnnotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.versions {
		if rec.Version == version {
			return rec, nil
		}
	}
	return models.MediaAnnotation{}, errors.New("version not found")
}

// stubCache grants or denies the edit lock without a backing store.
type stubCache struct {
	mu       sync.Mutex
	deny     bool
	holder   string
	released int
}

func (c *stubCache) Publish(ctx context.Context, channel string, message []byte) error { return nil }

func (c *stubCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	return nil
}

func (c *stubCache) AcquireLock(ctx context.Context, photoId, userId, userName string, ttl time.Duration) (cache.LockResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deny {
		return cache.LockResult{Granted: false, HolderId: "other", HolderName: c.holder}, nil
	}
	return cache.LockResult{Granted: true, HolderId: userId, HolderName: userName, ExpiresAt: time.Now().Add(ttl)}, nil
}

func (c *stubCache) ReleaseLock(ctx context.Context, photoId, userId string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released++
	return nil
}

func (c *stubCache) GetLock(ctx context.Context, photoId string) (*models.EditLock, error) {
	return nil, nil
}

func (c *stubCache) ExpiredLocks(ctx context.Context, now time.Time) ([]string, error) {
	return nil, nil
}

func (c *stubCache) RemoveLockEntry(ctx context.Context, photoId string) error { return nil }

func (c *stubCache) IncrementUserSaveCount(ctx context.Context, userId string) (int64, error) {
	return 0, nil
}

func (c *stubCache) SeedUserSaveCount(ctx context.Context, userId string, count int) error {
	return nil
}

func (c *stubCache) GetUserSaveCount(ctx context.Context, userId string) (int, error) { return 0, nil }

func openTestSession(t *testing.T, svc *stubService, c *stubCache, events SessionEvents) *Session {
	t.Helper()
	s, err := Open(context.Background(), Config{
		PhotoId:      "photo-1",
		User:         models.User{Id: "user-1", Username: "inspector"},
		CanvasWidth:  800,
		CanvasHeight: 600,
		Service:      svc,
		Cache:        c,
		Events:       events,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.ForceClose() })
	return s
}

func drawArrow(s *Session, from, to Point) {
	s.SetTool(ToolArrow)
	s.PointerDown(from, Modifiers{})
	s.PointerUp(to, Modifiers{})
}

func TestSession_OpenSeedsEmptyDocument(t *testing.T) {
	s := openTestSession(t, &stubService{}, &stubCache{}, SessionEvents{})

	doc := s.Document()
	assert.Empty(t, doc.Objects)
	assert.Equal(t, 0, doc.Version)
	assert.Equal(t, 800.0, doc.Canvas.Width)
	assert.Equal(t, 600.0, doc.Canvas.Height)
	assert.True(t, s.Editable())
	assert.Equal(t, ToolSelect, s.ActiveTool())
	assert.False(t, s.Dirty())
}

func TestSession_OpenLoadsCurrentVersion(t *testing.T) {
	svc := &stubService{}
	doc := models.NewDocument(800, 600)
	doc.Objects = append(doc.Objects, models.AnnotationObject{
		Id:    "existing",
		Shape: models.Rect{Width: 40, Height: 40},
	})
	_, err := svc.SaveAnnotation(context.Background(), "photo-1", doc, models.User{Id: "user-1"})
	require.NoError(t, err)

	s := openTestSession(t, svc, &stubCache{}, SessionEvents{})

	loaded := s.Document()
	require.Len(t, loaded.Objects, 1)
	assert.Equal(t, "existing", loaded.Objects[0].Id)
	assert.Equal(t, 1, loaded.Version)
}

func TestSession_DrawSaveUndoRedo(t *testing.T) {
	svc := &stubService{}
	s := openTestSession(t, svc, &stubCache{}, SessionEvents{})

	drawArrow(s, Point{10, 10}, Point{100, 100})

	doc := s.Document()
	require.Len(t, doc.Objects, 1)
	assert.Equal(t, []float64{10, 10, 100, 100}, doc.Objects[0].Shape.(models.Arrow).Points)
	assert.True(t, s.Dirty())

	rec, err := s.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)
	assert.False(t, s.Dirty())
	assert.Equal(t, 1, s.Document().Version)

	undone, ok := s.Undo()
	require.True(t, ok)
	assert.Empty(t, undone.Objects)
	assert.True(t, s.Dirty(), "undo past the saved state leaves unsaved changes")

	redone, ok := s.Redo()
	require.True(t, ok)
	require.Len(t, redone.Objects, 1)
	assert.Equal(t, []float64{10, 10, 100, 100}, redone.Objects[0].Shape.(models.Arrow).Points)
}

func TestSession_UndoAtFloorFails(t *testing.T) {
	s := openTestSession(t, &stubService{}, &stubCache{}, SessionEvents{})

	_, ok := s.Undo()
	assert.False(t, ok)
	_, ok = s.Redo()
	assert.False(t, ok)
}

func TestSession_LockDeniedDropsInput(t *testing.T) {
	denied := make(chan string, 1)
	c := &stubCache{deny: true, holder: "Marge"}
	s := openTestSession(t, &stubService{}, c, SessionEvents{
		OnLockDenied: func(holderName string) { denied <- holderName },
	})

	select {
	case name := <-denied:
		assert.Equal(t, "Marge", name)
	case <-time.After(time.Second):
		t.Fatal("expected lock denial callback")
	}

	assert.False(t, s.Editable())
	assert.Equal(t, lock.HeldByOther, s.LockState())

	drawArrow(s, Point{10, 10}, Point{100, 100})
	assert.Empty(t, s.Document().Objects, "input is dropped without the lock")

	_, err := s.Save(context.Background())
	assert.ErrorIs(t, err, ErrNotEditable)
}

func TestSession_LockReacquiredAfterRemoteRelease(t *testing.T) {
	c := &stubCache{deny: true, holder: "Marge"}
	s := openTestSession(t, &stubService{}, c, SessionEvents{})
	require.False(t, s.Editable())

	c.mu.Lock()
	c.deny = false
	c.mu.Unlock()

	state, err := s.TryAcquireLock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lock.HeldBySelf, state)
	assert.True(t, s.Editable())
}

func TestSession_ReadOnlyNeverEditable(t *testing.T) {
	s, err := Open(context.Background(), Config{
		PhotoId:  "photo-1",
		User:     models.User{Id: "user-1"},
		ReadOnly: true,
		Service:  &stubService{},
		Cache:    &stubCache{},
	})
	require.NoError(t, err)
	defer s.ForceClose()

	assert.False(t, s.Editable())
	assert.Equal(t, lock.Unlocked, s.LockState())

	drawArrow(s, Point{10, 10}, Point{100, 100})
	assert.Empty(t, s.Document().Objects)
}

func TestSession_SaveFailureKeepsDocumentDirty(t *testing.T) {
	svc := &stubService{failSave: true}
	s := openTestSession(t, svc, &stubCache{}, SessionEvents{})

	drawArrow(s, Point{10, 10}, Point{100, 100})

	_, err := s.Save(context.Background())
	require.Error(t, err)
	assert.True(t, s.Dirty())
	assert.Len(t, s.Document().Objects, 1, "failed save leaves the document untouched")
}

func TestSession_DirtyCloseRequiresConfirmation(t *testing.T) {
	c := &stubCache{}
	s := openTestSession(t, &stubService{}, c, SessionEvents{})

	drawArrow(s, Point{10, 10}, Point{100, 100})

	err := s.Close(false)
	assert.ErrorIs(t, err, ErrDirtyClose)
	assert.False(t, s.Closed())

	require.NoError(t, s.Close(true))
	assert.True(t, s.Closed())

	c.mu.Lock()
	released := c.released
	c.mu.Unlock()
	assert.Equal(t, 1, released, "close releases the edit lock")

	_, err = s.Save(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_CleanCloseNeedsNoConfirmation(t *testing.T) {
	s := openTestSession(t, &stubService{}, &stubCache{}, SessionEvents{})

	drawArrow(s, Point{10, 10}, Point{100, 100})
	_, err := s.Save(context.Background())
	require.NoError(t, err)

	assert.NoError(t, s.Close(false))
}

func TestSession_RevertCreatesNewVersion(t *testing.T) {
	svc := &stubService{}
	s := openTestSession(t, svc, &stubCache{}, SessionEvents{})

	drawArrow(s, Point{10, 10}, Point{100, 100})
	_, err := s.Save(context.Background())
	require.NoError(t, err)

	s.ClearAll()
	rec, err := s.Save(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, rec.Version)

	reverted, err := s.RevertToVersion(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, reverted.Version, "revert appends, it never rewrites history")
	require.Len(t, s.Document().Objects, 1)

	// The pre-revert content is still one undo step away.
	undone, ok := s.Undo()
	require.True(t, ok)
	assert.Empty(t, undone.Objects)
}

func TestSession_DeleteSelected(t *testing.T) {
	s := openTestSession(t, &stubService{}, &stubCache{}, SessionEvents{})

	s.SetTool(ToolRect)
	s.PointerDown(Point{0, 0}, Modifiers{})
	s.PointerUp(Point{40, 40}, Modifiers{})
	s.PointerDown(Point{100, 100}, Modifiers{})
	s.PointerUp(Point{140, 140}, Modifiers{})
	require.Len(t, s.Document().Objects, 2)

	s.SetTool(ToolSelect)
	s.PointerDown(Point{120, 120}, Modifiers{})
	s.PointerUp(Point{120, 120}, Modifiers{})
	require.Len(t, s.SelectedIds(), 1)

	s.DeleteSelected()
	doc := s.Document()
	require.Len(t, doc.Objects, 1)
	assert.Equal(t, 0.0, doc.Objects[0].X)
	assert.Empty(t, s.SelectedIds())
}

func TestSession_ClearAllIsOneUndoStep(t *testing.T) {
	s := openTestSession(t, &stubService{}, &stubCache{}, SessionEvents{})

	drawArrow(s, Point{10, 10}, Point{100, 100})
	drawArrow(s, Point{200, 10}, Point{300, 100})
	require.Len(t, s.Document().Objects, 2)

	s.ClearAll()
	assert.Empty(t, s.Document().Objects)

	undone, ok := s.Undo()
	require.True(t, ok)
	assert.Len(t, undone.Objects, 2)
}

func TestSession_DragIsOneUndoStep(t *testing.T) {
	s := openTestSession(t, &stubService{}, &stubCache{}, SessionEvents{})

	s.SetTool(ToolRect)
	s.PointerDown(Point{0, 0}, Modifiers{})
	s.PointerUp(Point{40, 40}, Modifiers{})

	s.SetTool(ToolSelect)
	s.PointerDown(Point{20, 20}, Modifiers{})
	s.PointerMove(Point{30, 20}, Modifiers{})
	s.PointerMove(Point{50, 30}, Modifiers{})
	s.PointerUp(Point{50, 30}, Modifiers{})

	doc := s.Document()
	require.Len(t, doc.Objects, 1)
	assert.Equal(t, 30.0, doc.Objects[0].X)
	assert.Equal(t, 10.0, doc.Objects[0].Y)

	// One undo returns to the pre-drag position, not an intermediate one.
	undone, ok := s.Undo()
	require.True(t, ok)
	assert.Equal(t, 0.0, undone.Objects[0].X)
}

func TestSession_SetToolCommitsPendingText(t *testing.T) {
	s := openTestSession(t, &stubService{}, &stubCache{}, SessionEvents{})

	require.NoError(t, s.SetTool(ToolText))
	s.PointerDown(Point{10, 20}, Modifiers{})
	s.TextInput("panel B")

	require.NoError(t, s.SetTool(ToolSelect))

	doc := s.Document()
	require.Len(t, doc.Objects, 1)
	assert.Equal(t, "panel B", doc.Objects[0].Shape.(models.Text).Text)
}

func TestSession_TextCancelLeavesNoObject(t *testing.T) {
	s := openTestSession(t, &stubService{}, &stubCache{}, SessionEvents{})

	require.NoError(t, s.SetTool(ToolText))
	s.PointerDown(Point{10, 20}, Modifiers{})
	s.TextInput("never mind")
	s.TextCancel()

	assert.Empty(t, s.Document().Objects)
	assert.False(t, s.Dirty())
}

func TestSession_RejectsUnknownTool(t *testing.T) {
	s := openTestSession(t, &stubService{}, &stubCache{}, SessionEvents{})
	assert.Error(t, s.SetTool(ToolId("lasso")))
}

func TestSession_AutosaveFiresAfterDelay(t *testing.T) {
	saved := make(chan int, 1)
	svc := &stubService{}
	s, err := Open(context.Background(), Config{
		PhotoId:       "photo-1",
		User:          models.User{Id: "user-1", Username: "inspector"},
		CanvasWidth:   800,
		CanvasHeight:  600,
		Service:       svc,
		Cache:         &stubCache{},
		AutosaveDelay: 20 * time.Millisecond,
		Events: SessionEvents{
			OnAutosaved: func(version int) { saved <- version },
		},
	})
	require.NoError(t, err)
	defer s.ForceClose()

	drawArrow(s, Point{10, 10}, Point{100, 100})

	select {
	case version := <-saved:
		assert.Equal(t, 1, version)
	case <-time.After(2 * time.Second):
		t.Fatal("expected autosave to fire")
	}
	assert.False(t, s.Dirty())
}

func TestSession_ManualSaveCancelsPendingAutosave(t *testing.T) {
	saved := make(chan int, 4)
	svc := &stubService{}
	s, err := Open(context.Background(), Config{
		PhotoId:       "photo-1",
		User:          models.User{Id: "user-1", Username: "inspector"},
		CanvasWidth:   800,
		CanvasHeight:  600,
		Service:       svc,
		Cache:         &stubCache{},
		AutosaveDelay: 50 * time.Millisecond,
		Events: SessionEvents{
			OnAutosaved: func(version int) { saved <- version },
		},
	})
	require.NoError(t, err)
	defer s.ForceClose()

	drawArrow(s, Point{10, 10}, Point{100, 100})
	rec, err := s.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)

	select {
	case <-saved:
		t.Fatal("manual save should have cancelled the pending autosave")
	case <-time.After(200 * time.Millisecond):
	}

	svc.mu.Lock()
	total := len(svc.versions)
	svc.mu.Unlock()
	assert.Equal(t, 1, total)
}

func TestSession_ExportWithoutRenderer(t *testing.T) {
	s := openTestSession(t, &stubService{}, &stubCache{}, SessionEvents{})
	_, _, err := s.Export(context.Background())
	assert.ErrorIs(t, err, ErrNoRenderer)
}
