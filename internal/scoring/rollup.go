package scoring

import (
	"fmt"

	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/apperr"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/models"
)

// AssessedArea pairs a current assessment with its ratings.
type AssessedArea struct {
	Assessment models.CapabilityAssessment
	Ratings    []models.Rating
}

// AreaScore is one capability area's line in a rollup.
type AreaScore struct {
	AreaID       string        `json:"areaId"`
	AreaName     string        `json:"areaName"`
	DomainID     string        `json:"domainId"`
	AssessmentID string        `json:"assessmentId,omitempty"`
	Status       models.Status `json:"status"`
	Overall      *float64      `json:"overallScore"`
	Completion   int           `json:"completionPercentage"`
}

// DomainScore summarizes a capability domain. Score averages finalized
// assessments only.
type DomainScore struct {
	DomainID       string      `json:"domainId"`
	Name           string      `json:"name"`
	Score          *float64    `json:"score"`
	FinalizedCount int         `json:"finalizedCount"`
	Areas          []AreaScore `json:"areas"`
}

// Rollup is the score summary across every domain in the catalog.
type Rollup struct {
	Domains []DomainScore `json:"domains"`
	Overall *float64      `json:"overallScore"`
}

// DomainAverage returns the rounded mean overall score of the finalized
// areas, or nil when no finalized area has a score.
func DomainAverage(areas []AreaScore) *float64 {
	scores := make([]*float64, 0, len(areas))
	for _, a := range areas {
		if a.Status != models.StatusFinalized {
			continue
		}
		scores = append(scores, a.Overall)
	}
	return meanOf(scores)
}

// Rollup recomputes every assessment's score and aggregates them per domain.
// Areas without an assessment are listed as not started.
func (a *Aggregator) Rollup(items []AssessedArea) (*Rollup, error) {
	byArea := make(map[string]AreaScore, len(items))
	for _, it := range items {
		area, ok := a.cat.Area(it.Assessment.CapabilityAreaID)
		if !ok {
			return nil, fmt.Errorf("scoring: rollup: area %q: %w", it.Assessment.CapabilityAreaID, apperr.ErrUnknownArea)
		}
		s, err := a.Score(it.Ratings)
		if err != nil {
			return nil, fmt.Errorf("scoring: rollup: area %q: %w", area.ID, err)
		}
		byArea[area.ID] = AreaScore{
			AreaID:       area.ID,
			AreaName:     area.Name,
			DomainID:     area.DomainID,
			AssessmentID: it.Assessment.ID,
			Status:       it.Assessment.Status,
			Overall:      s.Overall,
			Completion:   s.Completion,
		}
	}

	out := &Rollup{}
	domainScores := make([]*float64, 0, len(a.cat.Domains()))
	for _, d := range a.cat.Domains() {
		ds := DomainScore{DomainID: d.ID, Name: d.Name}
		for _, area := range d.Areas {
			as, ok := byArea[area.ID]
			if !ok {
				as = AreaScore{AreaID: area.ID, AreaName: area.Name, DomainID: d.ID, Status: models.StatusNotStarted}
			}
			if as.Status == models.StatusFinalized {
				ds.FinalizedCount++
			}
			ds.Areas = append(ds.Areas, as)
		}
		ds.Score = DomainAverage(ds.Areas)
		out.Domains = append(out.Domains, ds)
		domainScores = append(domainScores, ds.Score)
	}
	out.Overall = meanOf(domainScores)
	return out, nil
}
