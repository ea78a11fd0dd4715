package editor

import "github.com/dkrasov/fieldmark/models"

// MaxUndoSteps bounds the per-session history stack. Oldest snapshots are
// evicted once the bound is exceeded.
const MaxUndoSteps = 50

// History is a bounded linear undo/redo stack of whole-document
// snapshots. The snapshot at the cursor is always the currently
// displayed document.
type History struct {
	snapshots []models.AnnotationDocument
	cursor    int
}

// NewHistory seeds the stack with the loaded document as its single
// entry, so the loaded state can be returned to but never undone past.
func NewHistory(initial models.AnnotationDocument) *History {
	return &History{
		snapshots: []models.AnnotationDocument{initial.Clone()},
		cursor:    0,
	}
}

// Push records a new snapshot. Any redo branch beyond the cursor is
// discarded, and the oldest entry is evicted once the stack exceeds
// MaxUndoSteps.
func (h *History) Push(doc models.AnnotationDocument) {
	h.snapshots = append(h.snapshots[:h.cursor+1], doc.Clone())
	h.cursor = len(h.snapshots) - 1

	if len(h.snapshots) > MaxUndoSteps {
		h.snapshots = h.snapshots[1:]
		h.cursor--
	}
}

// Undo steps the cursor back and returns that snapshot. Returns false at
// the oldest entry.
func (h *History) Undo() (models.AnnotationDocument, bool) {
	if h.cursor == 0 {
		return models.AnnotationDocument{}, false
	}
	h.cursor--
	return h.snapshots[h.cursor].Clone(), true
}

// Redo steps the cursor forward and returns that snapshot. Returns false
// at the newest entry.
func (h *History) Redo() (models.AnnotationDocument, bool) {
	if h.cursor >= len(h.snapshots)-1 {
		return models.AnnotationDocument{}, false
	}
	h.cursor++
	return h.snapshots[h.cursor].Clone(), true
}

func (h *History) Len() int { return len(h.snapshots) }

func (h *History) CanUndo() bool { return h.cursor > 0 }

func (h *History) CanRedo() bool { return h.cursor < len(h.snapshots)-1 }
