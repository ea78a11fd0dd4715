// Package editor implements the photo annotation editing core: the
// per-tool pointer state machines, the undo/redo history, and the
// document session controller that ties them to the version store and
// the edit lock.
package editor

import (
	"math"

	"github.com/dkrasov/fieldmark/models"
)

type Point struct {
	X float64
	Y float64
}

func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// snapAngle projects end onto the nearest 45-degree ray from start,
// preserving the segment length.
func snapAngle(start, end Point) Point {
	d := dist(start, end)
	if d == 0 {
		return end
	}
	angle := math.Atan2(end.Y-start.Y, end.X-start.X)
	snapped := math.Round(angle/(math.Pi/4)) * (math.Pi / 4)
	return Point{
		X: start.X + d*math.Cos(snapped),
		Y: start.Y + d*math.Sin(snapped),
	}
}

// normalizeRect maps an anchor plus signed extents to a top-left origin
// with positive width and height.
func normalizeRect(origin Point, width, height float64) (Point, float64, float64) {
	if width < 0 {
		origin.X += width
		width = -width
	}
	if height < 0 {
		origin.Y += height
		height = -height
	}
	return origin, width, height
}

// pointSegmentDist returns the distance from p to the segment a-b.
func pointSegmentDist(p, a, b Point) float64 {
	dx := b.X - a.X
	dy := b.Y - a.Y
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return dist(p, a)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	return dist(p, Point{a.X + t*dx, a.Y + t*dy})
}

// perpendicularDist returns the distance from p to the infinite line
// through a and b. Used by the simplifier, which always keeps segment
// endpoints.
func perpendicularDist(p, a, b Point) float64 {
	dx := b.X - a.X
	dy := b.Y - a.Y
	norm := math.Hypot(dx, dy)
	if norm == 0 {
		return dist(p, a)
	}
	return math.Abs(dy*p.X-dx*p.Y+b.X*a.Y-b.Y*a.X) / norm
}

// simplifyPoints reduces a flat [x0,y0,x1,y1,...] polyline with
// Ramer-Douglas-Peucker at the given tolerance. Endpoints are always
// retained, so simplifying an already-simplified sequence with the same
// tolerance is a no-op.
func simplifyPoints(flat []float64, epsilon float64) []float64 {
	if len(flat) <= 4 {
		return flat
	}
	pts := make([]Point, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		pts = append(pts, Point{flat[i], flat[i+1]})
	}

	kept := rdp(pts, epsilon)

	out := make([]float64, 0, len(kept)*2)
	for _, p := range kept {
		out = append(out, p.X, p.Y)
	}
	return out
}

func rdp(pts []Point, epsilon float64) []Point {
	if len(pts) < 3 {
		return pts
	}

	maxDist := 0.0
	maxIdx := 0
	first, last := pts[0], pts[len(pts)-1]
	for i := 1; i < len(pts)-1; i++ {
		d := perpendicularDist(pts[i], first, last)
		if d > maxDist {
			maxDist = d
			maxIdx = i
		}
	}

	if maxDist <= epsilon {
		return []Point{first, last}
	}

	left := rdp(pts[:maxIdx+1], epsilon)
	right := rdp(pts[maxIdx:], epsilon)

	out := make([]Point, 0, len(left)+len(right)-1)
	out = append(out, left[:len(left)-1]...)
	out = append(out, right...)
	return out
}

const hitPadding = 5.0

// hitTest reports whether p falls on obj, using per-variant geometry.
func hitTest(obj models.AnnotationObject, p Point) bool {
	anchor := Point{obj.X, obj.Y}
	switch s := obj.Shape.(type) {
	case models.Arrow:
		return hitPolyline(p, anchor, s.Points, obj.StrokeWidth)
	case models.Line:
		return hitPolyline(p, anchor, s.Points, obj.StrokeWidth)
	case models.Freehand:
		return hitPolyline(p, anchor, s.Points, obj.StrokeWidth)
	case models.Measurement:
		return hitPolyline(p, anchor, s.Points, obj.StrokeWidth)
	case models.Rect:
		return p.X >= obj.X-hitPadding && p.X <= obj.X+s.Width+hitPadding &&
			p.Y >= obj.Y-hitPadding && p.Y <= obj.Y+s.Height+hitPadding
	case models.Circle:
		return dist(p, anchor) <= s.Radius+hitPadding
	case models.Ellipse:
		rx := s.RadiusX + hitPadding
		ry := s.RadiusY + hitPadding
		if rx <= 0 || ry <= 0 {
			return false
		}
		nx := (p.X - obj.X) / rx
		ny := (p.Y - obj.Y) / ry
		return nx*nx+ny*ny <= 1
	case models.Text:
		// Bounding-box estimate: average glyph advance of 0.6em.
		w := float64(len(s.Text)) * s.FontSize * 0.6
		h := s.FontSize * 1.2
		return p.X >= obj.X-hitPadding && p.X <= obj.X+w+hitPadding &&
			p.Y >= obj.Y-hitPadding && p.Y <= obj.Y+h+hitPadding
	default:
		return false
	}
}

func hitPolyline(p, anchor Point, flat []float64, strokeWidth float64) bool {
	tolerance := hitPadding + strokeWidth/2
	for i := 0; i+3 < len(flat); i += 2 {
		a := Point{anchor.X + flat[i], anchor.Y + flat[i+1]}
		b := Point{anchor.X + flat[i+2], anchor.Y + flat[i+3]}
		if pointSegmentDist(p, a, b) <= tolerance {
			return true
		}
	}
	return false
}
