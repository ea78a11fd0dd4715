package models

import "time"

type User struct {
	Id         string
	Username   string
	Provider   string
	ProviderId string
	Created    int64
	SaveCount  int
}

// Canvas holds the pixel dimensions of the source photo and the render
// scale the client was using when the document was produced.
type Canvas struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Scale  float64 `json:"scale"`
}

// AnnotationDocument is the editable unit for one photo. Objects are kept
// in insertion order; later objects paint on top of earlier ones.
type AnnotationDocument struct {
	Canvas  Canvas             `json:"canvas"`
	Objects []AnnotationObject `json:"objects"`
	Version int                `json:"version"`
}

// NewDocument returns an empty document for a photo with the given dimensions.
func NewDocument(width, height float64) AnnotationDocument {
	return AnnotationDocument{
		Canvas:  Canvas{Width: width, Height: height, Scale: 1},
		Objects: []AnnotationObject{},
	}
}

// Clone deep-copies the document so history snapshots cannot alias the
// live object slices.
func (d AnnotationDocument) Clone() AnnotationDocument {
	out := d
	out.Objects = make([]AnnotationObject, len(d.Objects))
	for i, obj := range d.Objects {
		out.Objects[i] = obj.Clone()
	}
	return out
}

// MediaAnnotation is one immutable version row for a photo's annotations.
// Rows are append-only: nothing ever rewrites Document, and reverting to an
// old version appends a new row that copies its content.
type MediaAnnotation struct {
	Id              string
	JobMediaId      string
	Version         int
	Document        AnnotationDocument
	CreatedBy       string
	CreatedAt       time.Time
	ObjectCount     int
	HasArrows       bool
	HasText         bool
	HasShapes       bool
	HasMeasurements bool
	IsCurrent       bool
	DeletedAt       *time.Time
}

// EditLock is the advisory claim one user holds to edit one photo. A lock
// past ExpiresAt is treated as absent by every reader.
type EditLock struct {
	JobMediaId   string
	LockedBy     string
	LockedByName string
	ExpiresAt    time.Time
}
