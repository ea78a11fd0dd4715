package dynamo

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dkrasov/fieldmark/models"
)

type dynamoUser struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	Id         string `dynamodbav:"Id"`
	Provider   string `dynamodbav:"Provider"`
	ProviderId string `dynamodbav:"ProviderId"`
	Username   string `dynamodbav:"Username"`
	Created    int64  `dynamodbav:"Created"`
	SaveCount  int    `dynamodbav:"SaveCount"`
}

// Map domain User -> Dynamo
func userToDynamo(u models.User) dynamoUser {
	return dynamoUser{
		PK:         "USER#" + u.Provider + "#" + u.ProviderId,
		SK:         "PROFILE",
		Id:         u.Id,
		Provider:   u.Provider,
		ProviderId: u.ProviderId,
		Username:   u.Username,
		Created:    u.Created,
		SaveCount:  u.SaveCount,
	}
}

// Map Dynamo -> domain User
func userFromDynamo(du dynamoUser) models.User {
	return models.User{
		Id:         du.Id,
		Username:   du.Username,
		Provider:   du.Provider,
		ProviderId: du.ProviderId,
		Created:    du.Created,
		SaveCount:  du.SaveCount,
	}
}

// One row per saved version, plus a META row holding the current-version
// pointer. The zero-padded sort key keeps versions in lexicographic order
// so a reverse query returns newest first.
type dynamoAnnotation struct {
	PK              string `dynamodbav:"PK"`
	SK              string `dynamodbav:"SK"`
	Id              string `dynamodbav:"Id"`
	Version         int    `dynamodbav:"Version"`
	Document        []byte `dynamodbav:"Document"`
	CreatedBy       string `dynamodbav:"CreatedBy"`
	CreatedAt       int64  `dynamodbav:"CreatedAt"`
	ObjectCount     int    `dynamodbav:"ObjectCount"`
	HasArrows       bool   `dynamodbav:"HasArrows"`
	HasText         bool   `dynamodbav:"HasText"`
	HasShapes       bool   `dynamodbav:"HasShapes"`
	HasMeasurements bool   `dynamodbav:"HasMeasurements"`
	DeletedAt       int64  `dynamodbav:"DeletedAt"`
}

type dynamoAnnotationMeta struct {
	PK             string `dynamodbav:"PK"`
	SK             string `dynamodbav:"SK"`
	CurrentVersion int    `dynamodbav:"CurrentVersion"`
	DeletedAt      int64  `dynamodbav:"DeletedAt"`
}

const metaSK = "META"

func photoPK(photoId string) string {
	return "PHOTO#" + photoId
}

func versionSK(version int) string {
	return fmt.Sprintf("V#%010d", version)
}

// Map domain MediaAnnotation -> Dynamo
func annotationToDynamo(rec models.MediaAnnotation) (dynamoAnnotation, error) {
	docBytes, err := json.Marshal(rec.Document)
	if err != nil {
		return dynamoAnnotation{}, fmt.Errorf("marshal document: %w", err)
	}

	da := dynamoAnnotation{
		PK:              photoPK(rec.JobMediaId),
		SK:              versionSK(rec.Version),
		Id:              rec.Id,
		Version:         rec.Version,
		Document:        docBytes,
		CreatedBy:       rec.CreatedBy,
		CreatedAt:       rec.CreatedAt.Unix(),
		ObjectCount:     rec.ObjectCount,
		HasArrows:       rec.HasArrows,
		HasText:         rec.HasText,
		HasShapes:       rec.HasShapes,
		HasMeasurements: rec.HasMeasurements,
	}
	if rec.DeletedAt != nil {
		da.DeletedAt = rec.DeletedAt.Unix()
	}
	return da, nil
}

// Map Dynamo -> domain MediaAnnotation
func annotationFromDynamo(da dynamoAnnotation) (models.MediaAnnotation, error) {
	var doc models.AnnotationDocument
	if len(da.Document) > 0 {
		if err := json.Unmarshal(da.Document, &doc); err != nil {
			return models.MediaAnnotation{}, fmt.Errorf("unmarshal document: %w", err)
		}
	}

	rec := models.MediaAnnotation{
		Id:              da.Id,
		JobMediaId:      strings.TrimPrefix(da.PK, "PHOTO#"),
		Version:         da.Version,
		Document:        doc,
		CreatedBy:       da.CreatedBy,
		CreatedAt:       time.Unix(da.CreatedAt, 0).UTC(),
		ObjectCount:     da.ObjectCount,
		HasArrows:       da.HasArrows,
		HasText:         da.HasText,
		HasShapes:       da.HasShapes,
		HasMeasurements: da.HasMeasurements,
	}
	if da.DeletedAt > 0 {
		t := time.Unix(da.DeletedAt, 0).UTC()
		rec.DeletedAt = &t
	}
	return rec, nil
}
