package merge

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/checksum"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/models"
)

type fingerprintDoc struct {
	Tags    []string                  `json:"tags"`
	Ratings []models.HistoricalRating `json:"ratings"`
}

// Fingerprint digests the content of an assessment version: its tag set and
// its ratings, attachment links included. IDs and timestamps are excluded.
// Scores are derived from the ratings and therefore covered by them.
func Fingerprint(tags []string, ratings []models.HistoricalRating) string {
	doc := fingerprintDoc{Tags: NormalizeTags(tags), Ratings: make([]models.HistoricalRating, len(ratings))}
	for i, r := range ratings {
		r.RatingID = ""
		r.UpdatedAt = time.Time{}
		r.AttachmentIDs = append([]string{}, r.AttachmentIDs...)
		sort.Strings(r.AttachmentIDs)
		if r.QuestionResponses == nil {
			r.QuestionResponses = []models.Response{}
		}
		if r.EvidenceResponses == nil {
			r.EvidenceResponses = []models.Response{}
		}
		doc.Ratings[i] = r
	}
	sortHistorical(doc.Ratings)
	sum, err := checksum.SumJSON(doc)
	if err != nil {
		// HistoricalRating holds only plain data; encoding cannot fail.
		panic(err)
	}
	return sum
}

// NormalizeTags trims, drops empties, de-duplicates, and sorts a tag set.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func sortHistorical(rs []models.HistoricalRating) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.DimensionID != b.DimensionID {
			return a.DimensionID < b.DimensionID
		}
		if a.SubDimensionID != b.SubDimensionID {
			return a.SubDimensionID < b.SubDimensionID
		}
		return a.AspectID < b.AspectID
	})
}

func freezeAll(ratings []models.Rating) []models.HistoricalRating {
	out := make([]models.HistoricalRating, len(ratings))
	for i, r := range ratings {
		out[i] = models.FreezeRating(r)
	}
	sortHistorical(out)
	return out
}

func thawAll(assessmentID string, hs []models.HistoricalRating) []models.Rating {
	out := make([]models.Rating, len(hs))
	for i, h := range hs {
		out[i] = models.ThawRating(assessmentID, h)
	}
	return out
}

// Snapshot freezes an assessment and its ratings into a history entry dated
// at. Scores are recomputed from the ratings; when the ratings no longer
// score cleanly the stored overall score is kept so the snapshot still
// preserves the data verbatim.
func (e *Engine) Snapshot(a models.CapabilityAssessment, ratings []models.Rating, at time.Time) models.AssessmentHistory {
	frozen := freezeAll(ratings)
	tags := NormalizeTags(a.Tags)
	h := models.AssessmentHistory{
		ID:                     e.newID(),
		CapabilityAssessmentID: a.ID,
		CapabilityAreaID:       a.CapabilityAreaID,
		CapabilityDomainID:     a.CapabilityDomainID,
		SnapshotDate:           at,
		FinalizedAt:            a.FinalizedAt,
		Status:                 a.Status,
		Tags:                   tags,
		OverallScore:           a.OverallScore,
		Ratings:                frozen,
		Fingerprint:            Fingerprint(tags, frozen),
	}
	if !a.CreatedAt.IsZero() {
		created := a.CreatedAt
		h.CreatedAt = &created
	}
	if s, err := e.agg.Score(ratings); err == nil {
		h.OverallScore = s.Overall
		h.DimensionScores = s.DimensionAverages()
	}
	return h
}

// Rescore recomputes a history entry's scores from its frozen ratings and
// stamps its fingerprint. It fails when the ratings contradict the catalog.
func (e *Engine) Rescore(h models.AssessmentHistory) (models.AssessmentHistory, error) {
	s, err := e.agg.Score(thawAll(h.CapabilityAssessmentID, h.Ratings))
	if err != nil {
		return h, err
	}
	h.Tags = NormalizeTags(h.Tags)
	h.Ratings = append([]models.HistoricalRating(nil), h.Ratings...)
	sortHistorical(h.Ratings)
	h.OverallScore = s.Overall
	h.DimensionScores = s.DimensionAverages()
	h.Fingerprint = Fingerprint(h.Tags, h.Ratings)
	return h, nil
}

func defaultID() string { return uuid.NewString() }
