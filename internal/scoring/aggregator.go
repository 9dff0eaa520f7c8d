// Package scoring turns flat per-aspect ratings into the multi-level maturity
// score tree: aspect, sub-dimension, dimension, capability area, domain, and
// overall.
//
// Averages are published to one decimal (half-up) and every parent level is
// computed from its children's published values, so a sub-score and its
// parent never disagree. Missing ratings mean "not yet assessed" and surface
// as nil averages; a rating that contradicts the catalog is an error.
package scoring

import (
	"fmt"

	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/apperr"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/catalog"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/models"
)

// AspectScore is the rating of a single aspect as seen by the aggregator.
type AspectScore struct {
	AspectID      string `json:"aspectId"`
	Name          string `json:"name"`
	Level         int    `json:"level"`
	TargetLevel   *int   `json:"targetLevel,omitempty"`
	NotApplicable bool   `json:"notApplicable,omitempty"`
}

// GroupScore is the score of a leaf group of aspects: a plain dimension or a
// technology sub-dimension.
type GroupScore struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	AspectCount   int           `json:"aspectCount"`
	AssessedCount int           `json:"assessedCount"`
	Average       *float64      `json:"average"`
	Aspects       []AspectScore `json:"aspects,omitempty"`
}

// DimensionScore is a dimension's score. For the technology dimension the
// average is the mean of its sub-dimension averages.
type DimensionScore struct {
	GroupScore
	Required      bool         `json:"required"`
	SubDimensions []GroupScore `json:"subDimensions,omitempty"`
}

// AssessmentScore is the full score tree for one assessment.
type AssessmentScore struct {
	Dimensions    []DimensionScore `json:"dimensions"`
	Overall       *float64         `json:"overallScore"`
	AssessedCount int              `json:"assessedCount"`
	TotalAspects  int              `json:"totalAspects"`
	Completion    int              `json:"completionPercentage"`
}

// DimensionAverages maps each dimension ID to its published average.
func (s *AssessmentScore) DimensionAverages() map[string]*float64 {
	out := make(map[string]*float64, len(s.Dimensions))
	for _, d := range s.Dimensions {
		out[d.ID] = d.Average
	}
	return out
}

// Dimension returns the score of one dimension.
func (s *AssessmentScore) Dimension(id string) (DimensionScore, bool) {
	for _, d := range s.Dimensions {
		if d.ID == id {
			return d, true
		}
	}
	return DimensionScore{}, false
}

// Aggregator computes scores against a catalog. It holds no mutable state and
// is safe for concurrent use.
type Aggregator struct {
	cat *catalog.Catalog
}

// New creates an Aggregator over the given catalog.
func New(cat *catalog.Catalog) *Aggregator {
	return &Aggregator{cat: cat}
}

// Catalog returns the catalog the aggregator scores against.
func (a *Aggregator) Catalog() *catalog.Catalog { return a.cat }

// Validate checks a single rating against the catalog and returns it with the
// sub-dimension filled in from the catalog when the rating omitted it.
func (a *Aggregator) Validate(r models.Rating) (models.Rating, error) {
	loc, ok := a.cat.Locate(r.AspectID)
	if !ok {
		return r, fmt.Errorf("scoring: aspect %q: %w", r.AspectID, apperr.ErrUnknownAspect)
	}
	if r.DimensionID != loc.DimensionID {
		return r, fmt.Errorf("scoring: aspect %q belongs to dimension %q, rating says %q: %w",
			r.AspectID, loc.DimensionID, r.DimensionID, apperr.ErrIntegrity)
	}
	switch {
	case r.SubDimensionID == "":
		r.SubDimensionID = loc.SubDimensionID
	case r.SubDimensionID != loc.SubDimensionID:
		return r, fmt.Errorf("scoring: aspect %q belongs to sub-dimension %q, rating says %q: %w",
			r.AspectID, loc.SubDimensionID, r.SubDimensionID, apperr.ErrIntegrity)
	}
	if r.CurrentLevel < models.LevelNotApplicable || r.CurrentLevel > models.LevelMax {
		return r, fmt.Errorf("scoring: aspect %q: level %d out of range: %w",
			r.AspectID, r.CurrentLevel, apperr.ErrIntegrity)
	}
	if t := r.TargetLevel; t != nil && (*t < models.LevelMin || *t > models.LevelMax) {
		return r, fmt.Errorf("scoring: aspect %q: target level %d out of range: %w",
			r.AspectID, *t, apperr.ErrIntegrity)
	}
	return r, nil
}

// Score builds the score tree for one assessment's ratings. When the same
// aspect is rated more than once the most recently updated rating wins.
func (a *Aggregator) Score(ratings []models.Rating) (*AssessmentScore, error) {
	byAspect := make(map[string]models.Rating, len(ratings))
	for _, r := range ratings {
		v, err := a.Validate(r)
		if err != nil {
			return nil, err
		}
		if prev, ok := byAspect[v.AspectID]; ok && prev.UpdatedAt.After(v.UpdatedAt) {
			continue
		}
		byAspect[v.AspectID] = v
	}

	out := &AssessmentScore{TotalAspects: a.cat.TotalAspectCount()}
	dimAverages := make([]*float64, 0, len(a.cat.Dimensions()))

	for _, d := range a.cat.Dimensions() {
		ds := DimensionScore{
			GroupScore: GroupScore{ID: d.ID, Name: d.Name},
			Required:   d.Required,
		}
		if d.HasSubDimensions() {
			subAverages := make([]*float64, 0, len(d.SubDimensions))
			for _, s := range d.SubDimensions {
				g := scoreGroup(s.ID, s.Name, s.Aspects, byAspect)
				ds.SubDimensions = append(ds.SubDimensions, g)
				ds.AspectCount += g.AspectCount
				ds.AssessedCount += g.AssessedCount
				subAverages = append(subAverages, g.Average)
			}
			ds.Average = meanOf(subAverages)
		} else {
			ds.GroupScore = scoreGroup(d.ID, d.Name, d.Aspects, byAspect)
		}
		out.AssessedCount += ds.AssessedCount
		out.Dimensions = append(out.Dimensions, ds)
		dimAverages = append(dimAverages, ds.Average)
	}

	out.Overall = meanOf(dimAverages)
	out.Completion = RoundPercent(out.AssessedCount, out.TotalAspects)
	return out, nil
}

func scoreGroup(id, name string, aspects []catalog.Aspect, byAspect map[string]models.Rating) GroupScore {
	g := GroupScore{ID: id, Name: name, AspectCount: len(aspects)}
	sum, scored := 0, 0
	for _, asp := range aspects {
		as := AspectScore{AspectID: asp.ID, Name: asp.Name}
		if r, ok := byAspect[asp.ID]; ok {
			as.Level = r.CurrentLevel
			as.TargetLevel = r.TargetLevel
			as.NotApplicable = r.CurrentLevel == models.LevelNotApplicable
			if r.IsAssessed() {
				g.AssessedCount++
			}
			if r.IsScored() {
				sum += r.CurrentLevel
				scored++
			}
		}
		g.Aspects = append(g.Aspects, as)
	}
	if scored > 0 {
		avg := Round1(float64(sum) / float64(scored))
		g.Average = &avg
	}
	return g
}
