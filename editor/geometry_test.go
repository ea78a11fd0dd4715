package editor

import (
	"math"
	"testing"

	"github.com/dkrasov/fieldmark/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimplifyPoints_ReducesCollinearRuns(t *testing.T) {
	// A straight line sampled densely collapses to its endpoints.
	flat := []float64{}
	for i := 0; i <= 100; i++ {
		flat = append(flat, float64(i), float64(i))
	}

	simplified := simplifyPoints(flat, 2)
	assert.Equal(t, []float64{0, 0, 100, 100}, simplified)
}

func TestSimplifyPoints_Idempotent(t *testing.T) {
	flat := []float64{0, 0, 10, 1, 20, 15, 30, 2, 40, 40, 50, 3, 60, 0}

	once := simplifyPoints(flat, 2)
	twice := simplifyPoints(once, 2)
	assert.Equal(t, once, twice)
}

func TestSimplifyPoints_KeepsSharpCorners(t *testing.T) {
	flat := []float64{0, 0, 50, 0, 50, 50}

	simplified := simplifyPoints(flat, 2)
	assert.Equal(t, flat, simplified, "a right angle is not reducible at this tolerance")
}

func TestSnapAngle(t *testing.T) {
	start := Point{0, 0}

	// 40 degrees snaps to 45, preserving length.
	end := Point{math.Cos(40*math.Pi/180) * 100, math.Sin(40*math.Pi/180) * 100}
	snapped := snapAngle(start, end)
	assert.InDelta(t, 100/math.Sqrt2, snapped.X, 1e-9)
	assert.InDelta(t, 100/math.Sqrt2, snapped.Y, 1e-9)

	// 10 degrees snaps to horizontal.
	end = Point{math.Cos(10*math.Pi/180) * 50, math.Sin(10*math.Pi/180) * 50}
	snapped = snapAngle(start, end)
	assert.InDelta(t, 50, snapped.X, 1e-9)
	assert.InDelta(t, 0, snapped.Y, 1e-9)
}

func TestNormalizeRect(t *testing.T) {
	origin, w, h := normalizeRect(Point{100, 100}, -30, -40)
	assert.Equal(t, Point{70, 60}, origin)
	assert.Equal(t, 30.0, w)
	assert.Equal(t, 40.0, h)

	origin, w, h = normalizeRect(Point{10, 10}, 20, 30)
	assert.Equal(t, Point{10, 10}, origin)
	assert.Equal(t, 20.0, w)
	assert.Equal(t, 30.0, h)
}

func TestPointSegmentDist(t *testing.T) {
	a, b := Point{0, 0}, Point{10, 0}

	assert.InDelta(t, 5, pointSegmentDist(Point{5, 5}, a, b), 1e-9)
	// Beyond the endpoint the distance is to the endpoint, not the line.
	assert.InDelta(t, math.Hypot(5, 5), pointSegmentDist(Point{15, 5}, a, b), 1e-9)
}

func TestHitTest_PerVariant(t *testing.T) {
	rect := models.AnnotationObject{Id: "r", X: 10, Y: 10, Shape: models.Rect{Width: 20, Height: 20}}
	assert.True(t, hitTest(rect, Point{15, 15}))
	assert.True(t, hitTest(rect, Point{33, 15}), "padding extends the hit area")
	assert.False(t, hitTest(rect, Point{50, 50}))

	circle := models.AnnotationObject{Id: "c", X: 50, Y: 50, Shape: models.Circle{Radius: 10}}
	assert.True(t, hitTest(circle, Point{55, 50}))
	assert.False(t, hitTest(circle, Point{70, 50}))

	line := models.AnnotationObject{Id: "l", StrokeWidth: 2, Shape: models.Line{Points: []float64{0, 0, 100, 0}}}
	assert.True(t, hitTest(line, Point{50, 4}))
	assert.False(t, hitTest(line, Point{50, 20}))

	text := models.AnnotationObject{Id: "t", X: 0, Y: 0, Shape: models.Text{Text: "hello", FontSize: 16}}
	assert.True(t, hitTest(text, Point{20, 8}))
	assert.False(t, hitTest(text, Point{200, 8}))
}

func TestHitTest_TopMostWinsInReverseOrder(t *testing.T) {
	bottom := models.AnnotationObject{Id: "bottom", X: 0, Y: 0, Shape: models.Rect{Width: 100, Height: 100}}
	top := models.AnnotationObject{Id: "top", X: 40, Y: 40, Shape: models.Rect{Width: 20, Height: 20}}
	objects := []models.AnnotationObject{bottom, top}

	var hitId string
	for i := len(objects) - 1; i >= 0; i-- {
		if hitTest(objects[i], Point{50, 50}) {
			hitId = objects[i].Id
			break
		}
	}
	require.Equal(t, "top", hitId)
}

func TestFormatLength(t *testing.T) {
	assert.Equal(t, "42 px", FormatLength(41.7, "px"))
	assert.Equal(t, "3.50\"", FormatLength(3.5, "in"))
	assert.Equal(t, "2.5 cm", FormatLength(2.49, "cm"))
	assert.Equal(t, "1.25'", FormatLength(1.25, "ft"))
	assert.Equal(t, "0.80 m", FormatLength(0.8, "m"))
}
