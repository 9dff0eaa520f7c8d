// Package models defines the domain types shared by the catalog, scoring,
// merge, and storage layers. JSON field names are the import/export contract.
package models

import "time"

// Status is the lifecycle state of a capability assessment.
type Status string

// Assessment statuses.
const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusFinalized  Status = "finalized"
)

// Rating levels outside the 1..5 maturity scale.
const (
	LevelNotApplicable = -1
	LevelUnrated       = 0
	LevelMin           = 1
	LevelMax           = 5
)

// CapabilityAssessment is the single current assessment of one capability area.
type CapabilityAssessment struct {
	ID                 string     `json:"id"`
	CapabilityAreaID   string     `json:"capabilityAreaId"`
	CapabilityDomainID string     `json:"capabilityDomainId"`
	Status             Status     `json:"status"`
	Tags               []string   `json:"tags"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	FinalizedAt        *time.Time `json:"finalizedAt,omitempty"`
	OverallScore       *float64   `json:"overallScore,omitempty"`
}

// Recency returns the timestamp used to order two versions of the same
// assessment: the later of UpdatedAt and FinalizedAt.
func (a *CapabilityAssessment) Recency() time.Time {
	if a.FinalizedAt != nil && a.FinalizedAt.After(a.UpdatedAt) {
		return *a.FinalizedAt
	}
	return a.UpdatedAt
}

// Rating is one aspect's rating within an assessment.
type Rating struct {
	ID                string     `json:"id"`
	AssessmentID      string     `json:"assessmentId"`
	DimensionID       string     `json:"dimensionId"`
	SubDimensionID    string     `json:"subDimensionId,omitempty"`
	AspectID          string     `json:"aspectId"`
	CurrentLevel      int        `json:"currentLevel"`
	TargetLevel       *int       `json:"targetLevel,omitempty"`
	QuestionResponses []Response `json:"questionResponses"`
	EvidenceResponses []Response `json:"evidenceResponses"`
	Notes             string     `json:"notes"`
	Barriers          string     `json:"barriers"`
	Plans             string     `json:"plans"`
	AttachmentIDs     []string   `json:"attachmentIds,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Key identifies a rating within its assessment.
func (r *Rating) Key() RatingKey {
	return RatingKey{DimensionID: r.DimensionID, SubDimensionID: r.SubDimensionID, AspectID: r.AspectID}
}

// IsAssessed reports whether the rating counts toward completion.
func (r *Rating) IsAssessed() bool { return r.CurrentLevel != LevelUnrated }

// IsScored reports whether the rating contributes to numeric averages.
func (r *Rating) IsScored() bool { return r.CurrentLevel >= LevelMin }

// RatingKey is the natural key of a rating inside one assessment.
type RatingKey struct {
	DimensionID    string
	SubDimensionID string
	AspectID       string
}

// Response is an answer to a guiding question or an evidence prompt.
type Response struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

// HistoricalRating is a frozen copy of a rating inside a history snapshot.
type HistoricalRating struct {
	RatingID          string     `json:"ratingId,omitempty"`
	DimensionID       string     `json:"dimensionId"`
	SubDimensionID    string     `json:"subDimensionId,omitempty"`
	AspectID          string     `json:"aspectId"`
	CurrentLevel      int        `json:"currentLevel"`
	TargetLevel       *int       `json:"targetLevel,omitempty"`
	QuestionResponses []Response `json:"questionResponses"`
	EvidenceResponses []Response `json:"evidenceResponses"`
	Notes             string     `json:"notes"`
	Barriers          string     `json:"barriers"`
	Plans             string     `json:"plans"`
	AttachmentIDs     []string   `json:"attachmentIds,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// AssessmentHistory is an immutable point-in-time snapshot of an assessment.
type AssessmentHistory struct {
	ID                     string              `json:"id"`
	CapabilityAssessmentID string              `json:"capabilityAssessmentId"`
	CapabilityAreaID       string              `json:"capabilityAreaId"`
	CapabilityDomainID     string              `json:"capabilityDomainId,omitempty"`
	SnapshotDate           time.Time           `json:"snapshotDate"`
	CreatedAt              *time.Time          `json:"createdAt,omitempty"`
	FinalizedAt            *time.Time          `json:"finalizedAt,omitempty"`
	Status                 Status              `json:"status,omitempty"`
	Tags                   []string            `json:"tags"`
	OverallScore           *float64            `json:"overallScore,omitempty"`
	DimensionScores        map[string]*float64 `json:"dimensionScores"`
	Ratings                []HistoricalRating  `json:"ratings"`
	Fingerprint            string              `json:"fingerprint,omitempty"`
}

// Tag is derived bookkeeping over the tag sets of current assessments.
type Tag struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	UsageCount int       `json:"usageCount"`
	LastUsed   time.Time `json:"lastUsed"`
}

// FreezeRating copies a live rating into its historical form. Slices are
// cloned so later edits of the live rating cannot reach the snapshot.
func FreezeRating(r Rating) HistoricalRating {
	h := HistoricalRating{
		RatingID:          r.ID,
		DimensionID:       r.DimensionID,
		SubDimensionID:    r.SubDimensionID,
		AspectID:          r.AspectID,
		CurrentLevel:      r.CurrentLevel,
		QuestionResponses: append([]Response(nil), r.QuestionResponses...),
		EvidenceResponses: append([]Response(nil), r.EvidenceResponses...),
		Notes:             r.Notes,
		Barriers:          r.Barriers,
		Plans:             r.Plans,
		AttachmentIDs:     append([]string(nil), r.AttachmentIDs...),
		UpdatedAt:         r.UpdatedAt,
	}
	if r.TargetLevel != nil {
		t := *r.TargetLevel
		h.TargetLevel = &t
	}
	return h
}

// ThawRating turns a historical rating back into a live-shaped rating so the
// aggregator can score a snapshot.
func ThawRating(assessmentID string, h HistoricalRating) Rating {
	return Rating{
		ID:                h.RatingID,
		AssessmentID:      assessmentID,
		DimensionID:       h.DimensionID,
		SubDimensionID:    h.SubDimensionID,
		AspectID:          h.AspectID,
		CurrentLevel:      h.CurrentLevel,
		TargetLevel:       h.TargetLevel,
		QuestionResponses: h.QuestionResponses,
		EvidenceResponses: h.EvidenceResponses,
		Notes:             h.Notes,
		Barriers:          h.Barriers,
		Plans:             h.Plans,
		AttachmentIDs:     h.AttachmentIDs,
		UpdatedAt:         h.UpdatedAt,
	}
}

// Attachment describes an evidence file. Its bytes live in blob storage under
// the attachment ID; bundles carry them outside the JSON body.
type Attachment struct {
	ID       string `json:"id"`
	RatingID string `json:"ratingId,omitempty"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size"`
}
