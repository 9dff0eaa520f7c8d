// Package merge reconciles a candidate assessment dataset (typically from an
// import) with the resident dataset already stored for the same capability
// area.
//
// Merging is additive-only. A Plan can create history entries and replace
// which record is current, but it has no way to express a deletion, and a
// resident that stops being current is always preserved in history first.
// The engine performs no I/O; callers read the resident state, call Merge,
// and apply the returned Plan inside one transaction per area.
package merge

import (
	"fmt"
	"sort"

	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/catalog"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/models"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/scoring"
)

// Disposition is how a candidate was resolved against the resident data.
type Disposition string

// Dispositions.
const (
	ImportedCurrent Disposition = "imported_current"
	ImportedHistory Disposition = "imported_history"
	Skipped         Disposition = "skipped"
	Error           Disposition = "error"
)

// Candidate is the incoming data for one capability area. Assessment may be
// nil when the source only carries history for the area.
type Candidate struct {
	AreaID     string
	Assessment *models.CapabilityAssessment
	Ratings    []models.Rating
	History    []models.AssessmentHistory
}

// Resident is the stored data for one capability area. Assessment is nil
// when the area has never been assessed.
type Resident struct {
	Assessment *models.CapabilityAssessment
	Ratings    []models.Rating
	History    []models.AssessmentHistory
}

// CurrentWrite makes Assessment the area's current record with exactly Ratings.
type CurrentWrite struct {
	Assessment models.CapabilityAssessment
	Ratings    []models.Rating
}

// Plan is the set of writes realizing a merge decision.
type Plan struct {
	History []models.AssessmentHistory
	Current *CurrentWrite
}

// Empty reports whether the plan writes nothing.
func (p Plan) Empty() bool { return len(p.History) == 0 && p.Current == nil }

// Result is the outcome of merging one area.
type Result struct {
	AreaID       string      `json:"areaId"`
	AreaName     string      `json:"areaName"`
	Disposition  Disposition `json:"action"`
	Reason       string      `json:"reason"`
	HistoryAdded int         `json:"historyAdded"`
	Plan         Plan        `json:"-"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDGenerator overrides how new record IDs are minted.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// Engine decides merge dispositions. It is stateless apart from its
// configuration and safe for concurrent use if its ID generator is.
type Engine struct {
	agg   *scoring.Aggregator
	cat   *catalog.Catalog
	newID func() string
}

// New creates an Engine that validates and scores through agg.
func New(agg *scoring.Aggregator, opts ...Option) *Engine {
	e := &Engine{agg: agg, cat: agg.Catalog(), newID: defaultID}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Merge decides what happens to candidate c given the resident state r.
// Problems with the candidate are reported through an Error disposition with
// an empty plan; Merge never panics or returns an error for bad input.
func (e *Engine) Merge(c Candidate, r Resident) Result {
	area, ok := e.cat.Area(c.AreaID)
	if !ok {
		return Result{
			AreaID:      c.AreaID,
			AreaName:    c.AreaID,
			Disposition: Error,
			Reason:      fmt.Sprintf("capability area %q is not part of the maturity model", c.AreaID),
		}
	}
	res := Result{AreaID: area.ID, AreaName: area.Name}
	fail := func(format string, args ...any) Result {
		res.Disposition = Error
		res.Reason = fmt.Sprintf(format, args...)
		res.Plan = Plan{}
		res.HistoryAdded = 0
		return res
	}

	known := make(map[string]struct{}, len(r.History))
	usedIDs := make(map[string]struct{}, len(r.History))
	for _, h := range r.History {
		known[Fingerprint(h.Tags, h.Ratings)] = struct{}{}
		usedIDs[h.ID] = struct{}{}
	}
	remember := func(h models.AssessmentHistory) {
		known[h.Fingerprint] = struct{}{}
		usedIDs[h.ID] = struct{}{}
		res.Plan.History = append(res.Plan.History, h)
	}

	if c.Assessment != nil {
		cand, ratings, err := e.prepare(area, *c.Assessment, c.Ratings)
		if err != nil {
			return fail("candidate ratings rejected: %v", err)
		}
		candFP := Fingerprint(cand.Tags, freezeAll(ratings))

		var residentFP string
		if r.Assessment != nil {
			residentFP = Fingerprint(r.Assessment.Tags, freezeAll(r.Ratings))
		}
		_, inHistory := known[candFP]

		switch {
		case r.Assessment != nil && candFP == residentFP:
			res.Disposition = Skipped
			res.Reason = "identical to the current assessment"
		case inHistory:
			res.Disposition = Skipped
			res.Reason = "identical to an existing history snapshot"
		case r.Assessment == nil:
			res.Plan.Current = &CurrentWrite{Assessment: cand, Ratings: ratings}
			res.Disposition = ImportedCurrent
			res.Reason = "no existing assessment for this area"
		case cand.Recency().After(r.Assessment.Recency()):
			if _, preserved := known[residentFP]; !preserved {
				remember(e.Snapshot(*r.Assessment, r.Ratings, r.Assessment.Recency()))
			}
			res.Plan.Current = &CurrentWrite{Assessment: cand, Ratings: ratings}
			res.Disposition = ImportedCurrent
			res.Reason = fmt.Sprintf("newer than the current assessment (%s); previous assessment moved to history",
				r.Assessment.Recency().UTC().Format("2006-01-02"))
		default:
			remember(e.Snapshot(cand, ratings, cand.Recency()))
			res.Disposition = ImportedHistory
			res.Reason = fmt.Sprintf("not newer than the current assessment (%s); filed as history",
				r.Assessment.Recency().UTC().Format("2006-01-02"))
		}
	}

	for _, h := range c.History {
		h.CapabilityAreaID = area.ID
		h.CapabilityDomainID = area.DomainID
		scored, err := e.Rescore(h)
		if err != nil {
			return fail("history snapshot %q rejected: %v", h.ID, err)
		}
		if _, dup := known[scored.Fingerprint]; dup {
			continue
		}
		if _, taken := usedIDs[scored.ID]; taken || scored.ID == "" {
			scored.ID = e.newID()
		}
		remember(scored)
		res.HistoryAdded++
	}

	if c.Assessment == nil {
		if res.HistoryAdded > 0 {
			res.Disposition = ImportedHistory
			res.Reason = "history snapshots added"
		} else {
			res.Disposition = Skipped
			res.Reason = "all history snapshots already present"
		}
	}
	return res
}

// prepare validates the candidate's ratings, binds them to the assessment,
// and recomputes the overall score rather than trusting the stored one.
// Several ratings for one aspect collapse to the latest by UpdatedAt; on a
// tie the later entry wins.
func (e *Engine) prepare(area catalog.Area, a models.CapabilityAssessment, ratings []models.Rating) (models.CapabilityAssessment, []models.Rating, error) {
	if a.ID == "" {
		a.ID = e.newID()
	}
	a.CapabilityAreaID = area.ID
	a.CapabilityDomainID = area.DomainID
	a.Tags = NormalizeTags(a.Tags)

	out := make([]models.Rating, 0, len(ratings))
	slot := make(map[models.RatingKey]int, len(ratings))
	for _, r := range ratings {
		v, err := e.agg.Validate(r)
		if err != nil {
			return a, nil, err
		}
		v.AssessmentID = a.ID
		key := v.Key()
		if i, dup := slot[key]; dup {
			if out[i].UpdatedAt.After(v.UpdatedAt) {
				continue
			}
			if v.ID == "" {
				v.ID = out[i].ID
			}
			out[i] = v
			continue
		}
		if v.ID == "" {
			v.ID = e.newID()
		}
		slot[key] = len(out)
		out = append(out, v)
	}
	s, err := e.agg.Score(out)
	if err != nil {
		return a, nil, err
	}
	a.OverallScore = s.Overall
	if a.Status == "" {
		a.Status = models.StatusInProgress
		if s.AssessedCount == 0 {
			a.Status = models.StatusNotStarted
		}
	}
	return a, out, nil
}

// GroupCandidates splits flat export records into one candidate per area.
// When a source carries several assessments for one area, the most recent
// becomes the candidate and the others are frozen into its history. Ratings
// whose assessment is absent are returned as orphans.
func (e *Engine) GroupCandidates(assessments []models.CapabilityAssessment, ratings []models.Rating, history []models.AssessmentHistory) ([]Candidate, []models.Rating) {
	ratingsOf := make(map[string][]models.Rating, len(assessments))
	for _, r := range ratings {
		ratingsOf[r.AssessmentID] = append(ratingsOf[r.AssessmentID], r)
	}

	byArea := make(map[string]*Candidate)
	order := []string{}
	get := func(areaID string) *Candidate {
		c, ok := byArea[areaID]
		if !ok {
			c = &Candidate{AreaID: areaID}
			byArea[areaID] = c
			order = append(order, areaID)
		}
		return c
	}

	claimed := make(map[string]struct{}, len(assessments))
	for i := range assessments {
		a := assessments[i]
		claimed[a.ID] = struct{}{}
		c := get(a.CapabilityAreaID)
		if c.Assessment == nil {
			c.Assessment = &a
			c.Ratings = ratingsOf[a.ID]
			continue
		}
		older, olderRatings := a, ratingsOf[a.ID]
		if a.Recency().After(c.Assessment.Recency()) {
			older, olderRatings = *c.Assessment, c.Ratings
			c.Assessment = &a
			c.Ratings = ratingsOf[a.ID]
		}
		c.History = append(c.History, e.Snapshot(older, olderRatings, older.Recency()))
	}
	for _, h := range history {
		c := get(h.CapabilityAreaID)
		c.History = append(c.History, h)
	}

	var orphans []models.Rating
	for _, r := range ratings {
		if _, ok := claimed[r.AssessmentID]; !ok {
			orphans = append(orphans, r)
		}
	}

	sort.Strings(order)
	out := make([]Candidate, 0, len(order))
	for _, id := range order {
		out = append(out, *byArea[id])
	}
	return out, orphans
}
