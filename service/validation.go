package service

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dkrasov/fieldmark/models"
)

var hexColorRegex = regexp.MustCompile(`^#(?:[0-9A-Fa-f]{6}|[0-9A-Fa-f]{8})$`)

const (
	maxCanvasDim   = 20000
	maxObjects     = 1000
	maxPoints      = 10000
	minStrokeWidth = 1
	maxStrokeWidth = 50
	maxTextLength  = 2000
	maxFontSize    = 200
)

// ValidationError aggregates every problem found in a document so the
// client can report them all at once instead of fixing one per round trip.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid annotation document: " + strings.Join(e.Problems, "; ")
}

// SanitizeDocument normalizes client-supplied values that are safe to fix
// silently: stroke widths are clamped, text is trimmed of control
// characters and truncated. Structural problems are left for
// ValidateDocument to reject.
func SanitizeDocument(doc models.AnnotationDocument) models.AnnotationDocument {
	doc = doc.Clone()

	for i := range doc.Objects {
		obj := &doc.Objects[i]
		if obj.StrokeWidth < minStrokeWidth {
			obj.StrokeWidth = minStrokeWidth
		}
		if obj.StrokeWidth > maxStrokeWidth {
			obj.StrokeWidth = maxStrokeWidth
		}

		if text, ok := obj.Shape.(models.Text); ok {
			text.Text = truncateText(cleanAnnotationText(text.Text), maxTextLength)
			obj.Shape = text
		}
	}

	return doc
}

func cleanAnnotationText(s string) string {
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

// truncateText cuts on a rune boundary. A byte-index slice can split a
// multi-byte rune and the mangled tail would not survive a JSON
// round-trip.
func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// ValidateDocument checks the structural invariants a document must hold
// before it is appended as a version. Returns a *ValidationError listing
// every violation, or nil.
func ValidateDocument(doc models.AnnotationDocument) error {
	var problems []string

	if doc.Canvas.Width <= 0 || doc.Canvas.Width > maxCanvasDim ||
		doc.Canvas.Height <= 0 || doc.Canvas.Height > maxCanvasDim {
		problems = append(problems, "canvas dimensions out of range")
	}

	if len(doc.Objects) > maxObjects {
		problems = append(problems, fmt.Sprintf("too many objects (%d, max %d)", len(doc.Objects), maxObjects))
	}

	seen := make(map[string]struct{}, len(doc.Objects))
	for i, obj := range doc.Objects {
		if obj.Id == "" {
			problems = append(problems, fmt.Sprintf("object %d: missing id", i))
		} else if _, dup := seen[obj.Id]; dup {
			problems = append(problems, fmt.Sprintf("object %d: duplicate id %s", i, obj.Id))
		} else {
			seen[obj.Id] = struct{}{}
		}

		if obj.Color != "" && !hexColorRegex.MatchString(obj.Color) {
			problems = append(problems, fmt.Sprintf("object %d: invalid color", i))
		}

		switch shape := obj.Shape.(type) {
		case models.Arrow:
			problems = append(problems, validatePoints(i, shape.Points)...)
		case models.Line:
			problems = append(problems, validatePoints(i, shape.Points)...)
		case models.Freehand:
			problems = append(problems, validatePoints(i, shape.Points)...)
		case models.Measurement:
			problems = append(problems, validatePoints(i, shape.Points)...)
			if shape.PixelsPerUnit <= 0 {
				problems = append(problems, fmt.Sprintf("object %d: pixelsPerUnit must be positive", i))
			}
			if shape.Length < 0 {
				problems = append(problems, fmt.Sprintf("object %d: negative length", i))
			}
		case models.Rect:
			if shape.Width <= 0 || shape.Height <= 0 {
				problems = append(problems, fmt.Sprintf("object %d: non-positive rect size", i))
			}
		case models.Circle:
			if shape.Radius <= 0 {
				problems = append(problems, fmt.Sprintf("object %d: non-positive radius", i))
			}
		case models.Ellipse:
			if shape.RadiusX <= 0 || shape.RadiusY <= 0 {
				problems = append(problems, fmt.Sprintf("object %d: non-positive radius", i))
			}
		case models.Text:
			if shape.Text == "" {
				problems = append(problems, fmt.Sprintf("object %d: empty text", i))
			}
			if shape.FontSize <= 0 || shape.FontSize > maxFontSize {
				problems = append(problems, fmt.Sprintf("object %d: font size out of range", i))
			}
		case nil:
			problems = append(problems, fmt.Sprintf("object %d: missing shape", i))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// validatePoints enforces the flat [x0, y0, x1, y1, ...] layout: pairs
// only, at least two of them, bounded length.
func validatePoints(index int, points []float64) []string {
	var problems []string
	if len(points)%2 != 0 {
		problems = append(problems, fmt.Sprintf("object %d: odd point count", index))
	}
	if len(points) < 4 {
		problems = append(problems, fmt.Sprintf("object %d: fewer than two points", index))
	}
	if len(points) > maxPoints*2 {
		problems = append(problems, fmt.Sprintf("object %d: too many points", index))
	}
	return problems
}
