package models

import (
	"encoding/json"
	"fmt"
)

type ObjectKind string

const (
	KindArrow       ObjectKind = "arrow"
	KindLine        ObjectKind = "line"
	KindRect        ObjectKind = "rect"
	KindCircle      ObjectKind = "circle"
	KindEllipse     ObjectKind = "ellipse"
	KindText        ObjectKind = "text"
	KindFreehand    ObjectKind = "freehand"
	KindMeasurement ObjectKind = "measurement"
)

// Shape is the closed set of per-variant payloads. Hit-testing and
// rendering switch exhaustively on the concrete type.
type Shape interface {
	Kind() ObjectKind
	cloneShape() Shape
}

// AnnotationObject is one drawn element. X,Y anchor the shape; for rect the
// anchor is always the top-left corner, for circle/ellipse the center, for
// line-like shapes the first point with Points holding offsets from it.
type AnnotationObject struct {
	Id          string
	X           float64
	Y           float64
	Color       string
	StrokeWidth float64
	Rotation    float64
	Shape       Shape
}

func (o AnnotationObject) Kind() ObjectKind { return o.Shape.Kind() }

func (o AnnotationObject) Clone() AnnotationObject {
	o.Shape = o.Shape.cloneShape()
	return o
}

type Arrow struct {
	Points []float64
}

type Line struct {
	Points []float64
}

type Freehand struct {
	Points []float64
}

type Rect struct {
	Width        float64
	Height       float64
	CornerRadius float64
	Fill         string
}

type Circle struct {
	Radius float64
	Fill   string
}

type Ellipse struct {
	RadiusX float64
	RadiusY float64
	Fill    string
}

type Text struct {
	Text       string
	FontSize   float64
	FontFamily string
	Fill       string
}

type Measurement struct {
	Points        []float64
	Length        float64
	Unit          string
	PixelsPerUnit float64
	ShowLabel     bool
}

func (Arrow) Kind() ObjectKind       { return KindArrow }
func (Line) Kind() ObjectKind        { return KindLine }
func (Freehand) Kind() ObjectKind    { return KindFreehand }
func (Rect) Kind() ObjectKind        { return KindRect }
func (Circle) Kind() ObjectKind      { return KindCircle }
func (Ellipse) Kind() ObjectKind     { return KindEllipse }
func (Text) Kind() ObjectKind        { return KindText }
func (Measurement) Kind() ObjectKind { return KindMeasurement }

func (s Arrow) cloneShape() Shape       { s.Points = clonePoints(s.Points); return s }
func (s Line) cloneShape() Shape        { s.Points = clonePoints(s.Points); return s }
func (s Freehand) cloneShape() Shape    { s.Points = clonePoints(s.Points); return s }
func (s Rect) cloneShape() Shape        { return s }
func (s Circle) cloneShape() Shape      { return s }
func (s Ellipse) cloneShape() Shape     { return s }
func (s Text) cloneShape() Shape        { return s }
func (s Measurement) cloneShape() Shape { s.Points = clonePoints(s.Points); return s }

func clonePoints(pts []float64) []float64 {
	if pts == nil {
		return nil
	}
	out := make([]float64, len(pts))
	copy(out, pts)
	return out
}

// objectWire is the flat JSON form: common fields plus the union of all
// variant fields, discriminated by "kind". Pointer fields keep zero values
// round-trippable.
type objectWire struct {
	Id          string     `json:"id"`
	Kind        ObjectKind `json:"kind"`
	X           float64    `json:"x"`
	Y           float64    `json:"y"`
	Color       string     `json:"color"`
	StrokeWidth float64    `json:"strokeWidth"`
	Rotation    float64    `json:"rotation"`

	Points        []float64 `json:"points,omitempty"`
	Width         *float64  `json:"width,omitempty"`
	Height        *float64  `json:"height,omitempty"`
	CornerRadius  *float64  `json:"cornerRadius,omitempty"`
	Radius        *float64  `json:"radius,omitempty"`
	RadiusX       *float64  `json:"radiusX,omitempty"`
	RadiusY       *float64  `json:"radiusY,omitempty"`
	Fill          string    `json:"fill,omitempty"`
	Text          *string   `json:"text,omitempty"`
	FontSize      *float64  `json:"fontSize,omitempty"`
	FontFamily    string    `json:"fontFamily,omitempty"`
	Length        *float64  `json:"length,omitempty"`
	Unit          string    `json:"unit,omitempty"`
	PixelsPerUnit *float64  `json:"pixelsPerUnit,omitempty"`
	ShowLabel     *bool     `json:"showLabel,omitempty"`
}

func f64(v float64) *float64 { return &v }

func (o AnnotationObject) MarshalJSON() ([]byte, error) {
	if o.Shape == nil {
		return nil, fmt.Errorf("annotation object %q has no shape", o.Id)
	}

	w := objectWire{
		Id:          o.Id,
		Kind:        o.Shape.Kind(),
		X:           o.X,
		Y:           o.Y,
		Color:       o.Color,
		StrokeWidth: o.StrokeWidth,
		Rotation:    o.Rotation,
	}

	switch s := o.Shape.(type) {
	case Arrow:
		w.Points = s.Points
	case Line:
		w.Points = s.Points
	case Freehand:
		w.Points = s.Points
	case Rect:
		w.Width = f64(s.Width)
		w.Height = f64(s.Height)
		w.CornerRadius = f64(s.CornerRadius)
		w.Fill = s.Fill
	case Circle:
		w.Radius = f64(s.Radius)
		w.Fill = s.Fill
	case Ellipse:
		w.RadiusX = f64(s.RadiusX)
		w.RadiusY = f64(s.RadiusY)
		w.Fill = s.Fill
	case Text:
		text := s.Text
		w.Text = &text
		w.FontSize = f64(s.FontSize)
		w.FontFamily = s.FontFamily
		w.Fill = s.Fill
	case Measurement:
		w.Points = s.Points
		w.Length = f64(s.Length)
		w.Unit = s.Unit
		w.PixelsPerUnit = f64(s.PixelsPerUnit)
		show := s.ShowLabel
		w.ShowLabel = &show
	default:
		return nil, fmt.Errorf("unknown shape type %T", o.Shape)
	}

	return json.Marshal(w)
}

func (o *AnnotationObject) UnmarshalJSON(data []byte) error {
	var w objectWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	o.Id = w.Id
	o.X = w.X
	o.Y = w.Y
	o.Color = w.Color
	o.StrokeWidth = w.StrokeWidth
	o.Rotation = w.Rotation

	deref := func(p *float64) float64 {
		if p == nil {
			return 0
		}
		return *p
	}

	switch w.Kind {
	case KindArrow:
		o.Shape = Arrow{Points: w.Points}
	case KindLine:
		o.Shape = Line{Points: w.Points}
	case KindFreehand:
		o.Shape = Freehand{Points: w.Points}
	case KindRect:
		o.Shape = Rect{Width: deref(w.Width), Height: deref(w.Height), CornerRadius: deref(w.CornerRadius), Fill: w.Fill}
	case KindCircle:
		o.Shape = Circle{Radius: deref(w.Radius), Fill: w.Fill}
	case KindEllipse:
		o.Shape = Ellipse{RadiusX: deref(w.RadiusX), RadiusY: deref(w.RadiusY), Fill: w.Fill}
	case KindText:
		var text string
		if w.Text != nil {
			text = *w.Text
		}
		o.Shape = Text{Text: text, FontSize: deref(w.FontSize), FontFamily: w.FontFamily, Fill: w.Fill}
	case KindMeasurement:
		show := false
		if w.ShowLabel != nil {
			show = *w.ShowLabel
		}
		o.Shape = Measurement{Points: w.Points, Length: deref(w.Length), Unit: w.Unit, PixelsPerUnit: deref(w.PixelsPerUnit), ShowLabel: show}
	default:
		return fmt.Errorf("unknown object kind %q", w.Kind)
	}

	return nil
}
