package api

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/catalog"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/models"
)

// RatingRequest is the body of PUT /areas/{areaID}/ratings.
type RatingRequest struct {
	DimensionID       string            `json:"dimensionId" example:"technology"`
	SubDimensionID    string            `json:"subDimensionId,omitempty" example:"infrastructure"`
	AspectID          string            `json:"aspectId" example:"hostingModel"`
	CurrentLevel      int               `json:"currentLevel" example:"3"`
	TargetLevel       *int              `json:"targetLevel,omitempty" example:"4"`
	QuestionResponses []models.Response `json:"questionResponses"`
	EvidenceResponses []models.Response `json:"evidenceResponses"`
	Notes             string            `json:"notes"`
	Barriers          string            `json:"barriers"`
	Plans             string            `json:"plans"`
	AttachmentIDs     []string          `json:"attachmentIds,omitempty"`
}

// Validate checks shape only; catalog membership is checked by the service.
func (r RatingRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.DimensionID, validation.Required),
		validation.Field(&r.AspectID, validation.Required),
		validation.Field(&r.CurrentLevel, validation.Min(models.LevelNotApplicable), validation.Max(models.LevelMax)),
		validation.Field(&r.TargetLevel, validation.NilOrNotEmpty, validation.Min(models.LevelMin), validation.Max(models.LevelMax)),
		validation.Field(&r.Notes, validation.Length(0, 10000)),
		validation.Field(&r.Barriers, validation.Length(0, 10000)),
		validation.Field(&r.Plans, validation.Length(0, 10000)),
	)
}

func (r RatingRequest) rating() models.Rating {
	return models.Rating{
		DimensionID:       r.DimensionID,
		SubDimensionID:    r.SubDimensionID,
		AspectID:          r.AspectID,
		CurrentLevel:      r.CurrentLevel,
		TargetLevel:       r.TargetLevel,
		QuestionResponses: nonNil(r.QuestionResponses),
		EvidenceResponses: nonNil(r.EvidenceResponses),
		Notes:             r.Notes,
		Barriers:          r.Barriers,
		Plans:             r.Plans,
		AttachmentIDs:     r.AttachmentIDs,
	}
}

// TagsRequest is the body of PUT /areas/{areaID}/tags.
type TagsRequest struct {
	Tags []string `json:"tags" example:"baseline,q1"`
}

// Validate implements validation.Validatable.
func (r TagsRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Tags, validation.Length(0, 50), validation.Each(validation.Length(1, 64),
			validation.By(func(v any) error {
				if s, _ := v.(string); strings.TrimSpace(s) == "" {
					return validation.NewError("validation_tag_blank", "must not be blank")
				}
				return nil
			}))),
	)
}

// RestoreRequest is the body of POST /backups/restore.
type RestoreRequest struct {
	Key string `json:"key" example:"backups/mitasat-20240601T120000.000Z.zip"`
}

// Validate implements validation.Validatable.
func (r RestoreRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Key, validation.Required),
	)
}

// CatalogResponse is the body of GET /catalog.
type CatalogResponse struct {
	Version      string              `json:"version"`
	TotalAspects int                 `json:"totalAspects"`
	Dimensions   []catalog.Dimension `json:"dimensions"`
	Domains      []catalog.Domain    `json:"domains"`
}

// BackupInfo describes a stored backup.
type BackupInfo struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
