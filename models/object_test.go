package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnotationObject_JSONRoundTrip(t *testing.T) {
	objects := []AnnotationObject{
		{Id: "a1", X: 10, Y: 10, Color: "#ff0000", StrokeWidth: 3, Shape: Arrow{Points: []float64{0, 0, 90, 90}}},
		{Id: "l1", X: 5, Y: 5, Color: "#00ff00", StrokeWidth: 2, Rotation: 45, Shape: Line{Points: []float64{0, 0, 20, 0}}},
		{Id: "r1", X: 1, Y: 2, Color: "#0000ff", StrokeWidth: 1, Shape: Rect{Width: 30, Height: 40, CornerRadius: 4, Fill: "#ffffff"}},
		{Id: "c1", X: 50, Y: 50, Color: "#000000", StrokeWidth: 2, Shape: Circle{Radius: 12}},
		{Id: "e1", X: 50, Y: 50, Color: "#000000", StrokeWidth: 2, Shape: Ellipse{RadiusX: 10, RadiusY: 6, Fill: "#cccccc"}},
		{Id: "t1", X: 8, Y: 9, Color: "#222222", StrokeWidth: 1, Shape: Text{Text: "leak near valve", FontSize: 16, FontFamily: "sans-serif", Fill: "#222222"}},
		{Id: "f1", X: 0, Y: 0, Color: "#333333", StrokeWidth: 4, Shape: Freehand{Points: []float64{0, 0, 1, 1, 2, 0}}},
		{Id: "m1", X: 10, Y: 10, Color: "#444444", StrokeWidth: 2, Shape: Measurement{Points: []float64{0, 0, 96, 0}, Length: 1, Unit: "in", PixelsPerUnit: 96, ShowLabel: true}},
	}

	for _, obj := range objects {
		data, err := json.Marshal(obj)
		require.NoError(t, err, "marshal %s", obj.Id)

		var back AnnotationObject
		require.NoError(t, json.Unmarshal(data, &back), "unmarshal %s", obj.Id)
		assert.Equal(t, obj, back)
	}
}

func TestAnnotationObject_UnknownKindRejected(t *testing.T) {
	var obj AnnotationObject
	err := json.Unmarshal([]byte(`{"id":"x","kind":"scribble","x":0,"y":0}`), &obj)
	assert.Error(t, err)
}

func TestDocumentClone_DoesNotAliasPoints(t *testing.T) {
	doc := NewDocument(800, 600)
	doc.Objects = append(doc.Objects, AnnotationObject{
		Id: "a1", Shape: Arrow{Points: []float64{0, 0, 10, 10}},
	})

	clone := doc.Clone()
	clone.Objects[0].Shape.(Arrow).Points[2] = 99

	assert.Equal(t, 10.0, doc.Objects[0].Shape.(Arrow).Points[2])
}
