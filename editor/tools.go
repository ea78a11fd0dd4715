package editor

import (
	"strings"
	"unicode"

	"github.com/dkrasov/fieldmark/models"
	"github.com/gofrs/uuid/v5"
)

type ToolId string

const (
	ToolSelect      ToolId = "select"
	ToolArrow       ToolId = "arrow"
	ToolLine        ToolId = "line"
	ToolRect        ToolId = "rect"
	ToolCircle      ToolId = "circle"
	ToolFreehand    ToolId = "freehand"
	ToolText        ToolId = "text"
	ToolMeasurement ToolId = "measurement"
)

func ValidToolId(id ToolId) bool {
	switch id {
	case ToolSelect, ToolArrow, ToolLine, ToolRect, ToolCircle, ToolFreehand, ToolText, ToolMeasurement:
		return true
	}
	return false
}

type Modifiers struct {
	Shift bool `json:"shift"`
	Alt   bool `json:"alt"`
}

// Style carries the stroke settings applied to objects the tools produce.
type Style struct {
	Color         string
	StrokeWidth   float64
	Fill          string
	FontSize      float64
	FontFamily    string
	Unit          string
	PixelsPerUnit float64
}

// Tool converts pointer events (already normalized to document
// coordinates) into finished annotation objects. Tools never mutate the
// document; finished objects flow through the completion callback.
type Tool interface {
	PointerDown(p Point, mods Modifiers)
	PointerMove(p Point, mods Modifiers)
	PointerUp(p Point, mods Modifiers)
}

type completeFunc func(models.AnnotationObject)

// Finalize thresholds. Shapes smaller than these are discarded silently:
// an accidental tap should not leave a degenerate object behind.
const (
	minArrowLength       = 10.0
	minLineLength        = 5.0
	minRectSize          = 5.0
	minCircleRadius      = 5.0
	minMeasurementLength = 0.1
	maxFreehandPoints    = 10000
	freehandEpsilon      = 2.0
)

func newObjectId() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the entropy source does; fall back to v4.
		return uuid.Must(uuid.NewV4()).String()
	}
	return id.String()
}

type arrowTool struct {
	style      Style
	onComplete completeFunc
	drawing    bool
	start      Point
	end        Point
}

func (t *arrowTool) PointerDown(p Point, mods Modifiers) {
	t.drawing = true
	t.start = p
	t.end = p
}

func (t *arrowTool) PointerMove(p Point, mods Modifiers) {
	if t.drawing {
		t.end = p
	}
}

func (t *arrowTool) PointerUp(p Point, mods Modifiers) {
	if !t.drawing {
		return
	}
	t.drawing = false
	t.end = p
	if dist(t.start, t.end) <= minArrowLength {
		return
	}
	t.onComplete(models.AnnotationObject{
		Id:          newObjectId(),
		Color:       t.style.Color,
		StrokeWidth: t.style.StrokeWidth,
		Shape:       models.Arrow{Points: []float64{t.start.X, t.start.Y, t.end.X, t.end.Y}},
	})
}

type lineTool struct {
	style      Style
	onComplete completeFunc
	drawing    bool
	start      Point
	end        Point
}

func (t *lineTool) PointerDown(p Point, mods Modifiers) {
	t.drawing = true
	t.start = p
	t.end = p
}

func (t *lineTool) PointerMove(p Point, mods Modifiers) {
	if !t.drawing {
		return
	}
	if mods.Shift {
		p = snapAngle(t.start, p)
	}
	t.end = p
}

func (t *lineTool) PointerUp(p Point, mods Modifiers) {
	if !t.drawing {
		return
	}
	t.drawing = false
	if mods.Shift {
		p = snapAngle(t.start, p)
	}
	t.end = p
	if dist(t.start, t.end) <= minLineLength {
		return
	}
	t.onComplete(models.AnnotationObject{
		Id:          newObjectId(),
		Color:       t.style.Color,
		StrokeWidth: t.style.StrokeWidth,
		Shape:       models.Line{Points: []float64{t.start.X, t.start.Y, t.end.X, t.end.Y}},
	})
}

type rectTool struct {
	style      Style
	onComplete completeFunc
	drawing    bool
	anchor     Point
	width      float64
	height     float64
}

func (t *rectTool) PointerDown(p Point, mods Modifiers) {
	t.drawing = true
	t.anchor = p
	t.width = 0
	t.height = 0
}

func (t *rectTool) PointerMove(p Point, mods Modifiers) {
	if !t.drawing {
		return
	}
	t.track(p, mods)
}

// track updates the signed extents; the shift modifier forces a square
// while preserving drag direction.
func (t *rectTool) track(p Point, mods Modifiers) {
	t.width = p.X - t.anchor.X
	t.height = p.Y - t.anchor.Y
	if mods.Shift {
		size := t.width
		if abs(t.height) > abs(t.width) {
			size = t.height
		}
		t.width = copySign(abs(size), t.width)
		t.height = copySign(abs(size), t.height)
	}
}

func (t *rectTool) PointerUp(p Point, mods Modifiers) {
	if !t.drawing {
		return
	}
	t.drawing = false
	t.track(p, mods)

	origin, w, h := normalizeRect(t.anchor, t.width, t.height)
	if w <= minRectSize || h <= minRectSize {
		return
	}
	t.onComplete(models.AnnotationObject{
		Id:          newObjectId(),
		X:           origin.X,
		Y:           origin.Y,
		Color:       t.style.Color,
		StrokeWidth: t.style.StrokeWidth,
		Shape:       models.Rect{Width: w, Height: h, Fill: t.style.Fill},
	})
}

type circleTool struct {
	style      Style
	onComplete completeFunc
	drawing    bool
	center     Point
	radius     float64
}

func (t *circleTool) PointerDown(p Point, mods Modifiers) {
	t.drawing = true
	t.center = p
	t.radius = 0
}

func (t *circleTool) PointerMove(p Point, mods Modifiers) {
	if t.drawing {
		t.radius = dist(t.center, p)
	}
}

func (t *circleTool) PointerUp(p Point, mods Modifiers) {
	if !t.drawing {
		return
	}
	t.drawing = false
	t.radius = dist(t.center, p)
	if t.radius <= minCircleRadius {
		return
	}
	t.onComplete(models.AnnotationObject{
		Id:          newObjectId(),
		X:           t.center.X,
		Y:           t.center.Y,
		Color:       t.style.Color,
		StrokeWidth: t.style.StrokeWidth,
		Shape:       models.Circle{Radius: t.radius, Fill: t.style.Fill},
	})
}

type freehandTool struct {
	style      Style
	onComplete completeFunc
	drawing    bool
	points     []float64
}

func (t *freehandTool) PointerDown(p Point, mods Modifiers) {
	t.drawing = true
	t.points = []float64{p.X, p.Y}
}

func (t *freehandTool) PointerMove(p Point, mods Modifiers) {
	if !t.drawing {
		return
	}
	// Cap the accumulator to bound memory on very long drags.
	if len(t.points)/2 >= maxFreehandPoints {
		return
	}
	t.points = append(t.points, p.X, p.Y)
}

func (t *freehandTool) PointerUp(p Point, mods Modifiers) {
	if !t.drawing {
		return
	}
	t.drawing = false
	if len(t.points) < 4 {
		t.points = nil
		return
	}

	simplified := simplifyPoints(t.points, freehandEpsilon)
	t.points = nil
	t.onComplete(models.AnnotationObject{
		Id:          newObjectId(),
		Color:       t.style.Color,
		StrokeWidth: t.style.StrokeWidth,
		Shape:       models.Freehand{Points: simplified},
	})
}

type measurementTool struct {
	style      Style
	onComplete completeFunc
	drawing    bool
	start      Point
	end        Point
}

func (t *measurementTool) PointerDown(p Point, mods Modifiers) {
	t.drawing = true
	t.start = p
	t.end = p
}

func (t *measurementTool) PointerMove(p Point, mods Modifiers) {
	if t.drawing {
		t.end = p
	}
}

func (t *measurementTool) PointerUp(p Point, mods Modifiers) {
	if !t.drawing {
		return
	}
	t.drawing = false
	t.end = p

	ppu := t.style.PixelsPerUnit
	if ppu <= 0 {
		ppu = 1
	}
	length := dist(t.start, t.end) / ppu
	if length <= minMeasurementLength {
		return
	}
	t.onComplete(models.AnnotationObject{
		Id:          newObjectId(),
		Color:       t.style.Color,
		StrokeWidth: t.style.StrokeWidth,
		Shape: models.Measurement{
			Points:        []float64{t.start.X, t.start.Y, t.end.X, t.end.Y},
			Length:        length,
			Unit:          t.style.Unit,
			PixelsPerUnit: ppu,
			ShowLabel:     true,
		},
	})
}

// textTool runs an inline edit at the pointer-down position. A second
// pointer-down while editing commits the buffer and returns to idle; it
// does not open a new edit at the clicked position.
type textTool struct {
	style      Style
	onComplete completeFunc
	editing    bool
	pos        Point
	buffer     string
}

func (t *textTool) PointerDown(p Point, mods Modifiers) {
	if t.editing {
		t.Commit()
		return
	}
	t.editing = true
	t.pos = p
	t.buffer = ""
}

func (t *textTool) PointerMove(p Point, mods Modifiers) {}
func (t *textTool) PointerUp(p Point, mods Modifiers)   {}

func (t *textTool) Editing() bool { return t.editing }

// Input replaces the edit buffer with the client's current text.
func (t *textTool) Input(text string) {
	if t.editing {
		t.buffer = text
	}
}

// Commit finalizes the edit; an empty buffer after trim produces nothing.
func (t *textTool) Commit() {
	if !t.editing {
		return
	}
	text := cleanText(t.buffer)
	t.editing = false
	t.buffer = ""
	if text == "" {
		return
	}
	t.onComplete(models.AnnotationObject{
		Id:          newObjectId(),
		X:           t.pos.X,
		Y:           t.pos.Y,
		Color:       t.style.Color,
		StrokeWidth: t.style.StrokeWidth,
		Shape: models.Text{
			Text:       text,
			FontSize:   t.style.FontSize,
			FontFamily: t.style.FontFamily,
			Fill:       t.style.Color,
		},
	})
}

// Cancel discards the buffer without committing.
func (t *textTool) Cancel() {
	t.editing = false
	t.buffer = ""
}

// cleanText trims and strips control characters, keeping newlines.
func cleanText(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// documentView is the narrow surface the select tool needs from the
// session: read objects, manage the selection set, and move the
// selection. EndDrag lets the session record the drag's net effect as a
// single undo step.
type documentView interface {
	docObjects() []models.AnnotationObject
	isSelected(id string) bool
	setSelection(ids []string)
	toggleSelection(id string)
	clearSelection()
	moveSelectionBy(dx, dy float64)
	endDrag(moved bool)
}

type selectTool struct {
	view     documentView
	dragging bool
	last     Point
	moved    bool
}

func (t *selectTool) PointerDown(p Point, mods Modifiers) {
	// Hit-test in reverse paint order so the top-most object wins.
	objects := t.view.docObjects()
	var hitId string
	for i := len(objects) - 1; i >= 0; i-- {
		if hitTest(objects[i], p) {
			hitId = objects[i].Id
			break
		}
	}

	if hitId == "" {
		if !mods.Shift {
			t.view.clearSelection()
		}
		return
	}

	if mods.Shift {
		t.view.toggleSelection(hitId)
		return
	}

	if !t.view.isSelected(hitId) {
		t.view.setSelection([]string{hitId})
	}
	t.dragging = true
	t.last = p
	t.moved = false
}

func (t *selectTool) PointerMove(p Point, mods Modifiers) {
	if !t.dragging {
		return
	}
	d := p.Sub(t.last)
	if d.X == 0 && d.Y == 0 {
		return
	}
	t.view.moveSelectionBy(d.X, d.Y)
	t.last = p
	t.moved = true
}

func (t *selectTool) PointerUp(p Point, mods Modifiers) {
	if !t.dragging {
		return
	}
	t.dragging = false
	t.view.endDrag(t.moved)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func copySign(mag, sign float64) float64 {
	if sign < 0 {
		return -mag
	}
	return mag
}
