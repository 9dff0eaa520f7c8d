package assessment

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/apperr"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/merge"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/models"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/store"
)

// SaveRating records one aspect rating for an area. The area's assessment is
// created on first use, a finalized assessment returns to in progress, and
// the overall score is recomputed.
func (s *Service) SaveRating(ctx context.Context, areaID string, r models.Rating) (*AreaScores, error) {
	area, err := s.area(areaID)
	if err != nil {
		return nil, err
	}
	r, err = s.agg.Validate(r)
	if err != nil {
		return nil, fmt.Errorf("assessment: save rating: %w", err)
	}
	now := s.now()

	err = s.store.WithinArea(ctx, areaID, func(tx store.Tx) error {
		a, ratings, err := s.current(ctx, tx, areaID)
		if err != nil {
			return err
		}
		if a == nil {
			a = &models.CapabilityAssessment{
				ID:                 s.newID(),
				CapabilityAreaID:   area.ID,
				CapabilityDomainID: area.DomainID,
				Tags:               []string{},
				CreatedAt:          now,
			}
		}
		r.AssessmentID = a.ID
		r.UpdatedAt = now

		replaced := false
		for i := range ratings {
			if ratings[i].Key() != r.Key() {
				continue
			}
			if r.ID == "" {
				r.ID = ratings[i].ID
			}
			ratings[i] = r
			replaced = true
			break
		}
		if !replaced {
			if r.ID == "" {
				r.ID = s.newID()
			}
			ratings = append(ratings, r)
		}

		score, err := s.agg.Score(ratings)
		if err != nil {
			return err
		}
		a.OverallScore = score.Overall
		a.Status = models.StatusInProgress
		a.UpdatedAt = now

		if err := tx.PutAssessment(ctx, *a); err != nil {
			return err
		}
		if err := tx.PutRatings(ctx, a.ID, ratings); err != nil {
			return err
		}
		return s.refreshTags(ctx, tx)
	})
	if err != nil {
		return nil, fmt.Errorf("assessment: save rating for %q: %w", areaID, err)
	}
	if s.rec != nil {
		s.rec.ObserveRatingSaved()
	}
	s.publish(EventUpdated, areaID)
	return s.Scores(ctx, areaID)
}

// SetTags replaces the tag set of an area's current assessment.
func (s *Service) SetTags(ctx context.Context, areaID string, tags []string) (*models.CapabilityAssessment, error) {
	if _, err := s.area(areaID); err != nil {
		return nil, err
	}
	var out *models.CapabilityAssessment
	err := s.store.WithinArea(ctx, areaID, func(tx store.Tx) error {
		a, err := tx.GetAssessment(ctx, areaID)
		if err != nil {
			return err
		}
		a.Tags = merge.NormalizeTags(tags)
		a.UpdatedAt = s.now()
		if err := tx.PutAssessment(ctx, *a); err != nil {
			return err
		}
		out = a
		return s.refreshTags(ctx, tx)
	})
	if err != nil {
		return nil, fmt.Errorf("assessment: set tags for %q: %w", areaID, err)
	}
	s.publish(EventUpdated, areaID)
	return out, nil
}

// FinalizeResult is the outcome of Finalize. Snapshot is nil when an
// identical snapshot was already on file.
type FinalizeResult struct {
	Assessment models.CapabilityAssessment `json:"assessment"`
	Snapshot   *models.AssessmentHistory   `json:"snapshot"`
}

// Finalize marks an area's assessment finalized and freezes its ratings into
// a history snapshot.
func (s *Service) Finalize(ctx context.Context, areaID string) (*FinalizeResult, error) {
	if _, err := s.area(areaID); err != nil {
		return nil, err
	}
	now := s.now()
	var out FinalizeResult

	err := s.store.WithinArea(ctx, areaID, func(tx store.Tx) error {
		a, ratings, err := s.current(ctx, tx, areaID)
		if err != nil {
			return err
		}
		if a == nil {
			return fmt.Errorf("no assessment for area: %w", apperr.ErrNotFound)
		}
		score, err := s.agg.Score(ratings)
		if err != nil {
			return err
		}
		if score.AssessedCount == 0 {
			return fmt.Errorf("no assessed aspects to finalize: %w", apperr.ErrConflict)
		}

		a.Status = models.StatusFinalized
		a.FinalizedAt = &now
		a.UpdatedAt = now
		a.OverallScore = score.Overall

		snap := s.engine.Snapshot(*a, ratings, now)
		existing, err := tx.ListHistory(ctx, areaID)
		if err != nil {
			return err
		}
		if !containsFingerprint(existing, snap.Fingerprint) {
			if err := tx.PutHistory(ctx, snap); err != nil {
				return err
			}
			out.Snapshot = &snap
		}
		if err := tx.PutAssessment(ctx, *a); err != nil {
			return err
		}
		out.Assessment = *a
		return s.refreshTags(ctx, tx)
	})
	if err != nil {
		return nil, fmt.Errorf("assessment: finalize %q: %w", areaID, err)
	}
	s.publish(EventFinalized, areaID)
	return &out, nil
}

func containsFingerprint(hs []models.AssessmentHistory, fp string) bool {
	for _, h := range hs {
		if merge.Fingerprint(h.Tags, h.Ratings) == fp {
			return true
		}
	}
	return false
}

// refreshTags recomputes tag usage from the current assessments.
func (s *Service) refreshTags(ctx context.Context, tx store.Tx) error {
	assessments, err := tx.ListAssessments(ctx)
	if err != nil {
		return err
	}
	type usage struct {
		count int
		last  time.Time
	}
	byName := map[string]*usage{}
	for _, a := range assessments {
		for _, name := range merge.NormalizeTags(a.Tags) {
			u, ok := byName[name]
			if !ok {
				u = &usage{}
				byName[name] = u
			}
			u.count++
			if a.UpdatedAt.After(u.last) {
				u.last = a.UpdatedAt
			}
		}
	}
	tags := make([]models.Tag, 0, len(byName))
	for name, u := range byName {
		tags = append(tags, models.Tag{ID: s.newID(), Name: name, UsageCount: u.count, LastUsed: u.last})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
	return tx.ReplaceTags(ctx, tags)
}
