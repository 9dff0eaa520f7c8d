package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/apperr"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type repo struct {
	q querier
}

var _ Tx = (*repo)(nil)

const assessmentCols = `id, capability_area_id, capability_domain_id, status, tags,
	created_at, updated_at, finalized_at, overall_score`

const ratingCols = `id, assessment_id, dimension_id, sub_dimension_id, aspect_id,
	current_level, target_level, question_responses, evidence_responses,
	notes, barriers, plans, attachment_ids, updated_at`

const historyCols = `id, capability_assessment_id, capability_area_id, capability_domain_id,
	snapshot_date, created_at, finalized_at, status, tags, overall_score,
	dimension_scores, ratings, fingerprint`

type scanner interface {
	Scan(dest ...any) error
}

func (r *repo) GetAssessment(ctx context.Context, areaID string) (*models.CapabilityAssessment, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+assessmentCols+` FROM assessments WHERE capability_area_id = ?`, areaID)
	a, err := scanAssessment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: assessment for area %q: %w", areaID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get assessment: %w", err)
	}
	return a, nil
}

func (r *repo) ListAssessments(ctx context.Context) ([]models.CapabilityAssessment, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+assessmentCols+` FROM assessments ORDER BY capability_area_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list assessments: %w", err)
	}
	defer rows.Close()

	var out []models.CapabilityAssessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list assessments: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *repo) PutAssessment(ctx context.Context, a models.CapabilityAssessment) error {
	var owner string
	err := r.q.QueryRowContext(ctx, `SELECT capability_area_id FROM assessments WHERE id = ?`, a.ID).Scan(&owner)
	switch {
	case err == nil && owner != a.CapabilityAreaID:
		return fmt.Errorf("store: assessment %q already belongs to area %q: %w", a.ID, owner, apperr.ErrConflict)
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("store: put assessment: %w", err)
	}

	tags, err := json.Marshal(nonNil(a.Tags))
	if err != nil {
		return fmt.Errorf("store: put assessment: encode tags: %w", err)
	}
	args := []any{a.ID, a.CapabilityDomainID, string(a.Status), string(tags),
		a.CreatedAt.UTC(), a.UpdatedAt.UTC(), nullTime(a.FinalizedAt), nullFloat(a.OverallScore), a.CapabilityAreaID}

	var previous string
	err = r.q.QueryRowContext(ctx, `SELECT id FROM assessments WHERE capability_area_id = ?`, a.CapabilityAreaID).Scan(&previous)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = r.q.ExecContext(ctx, `
			INSERT INTO assessments (id, capability_domain_id, status, tags,
				created_at, updated_at, finalized_at, overall_score, capability_area_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	case err != nil:
		return fmt.Errorf("store: put assessment: %w", err)
	default:
		if previous != a.ID {
			if _, err := r.q.ExecContext(ctx, `DELETE FROM ratings WHERE assessment_id = ?`, previous); err != nil {
				return fmt.Errorf("store: put assessment: drop superseded ratings: %w", err)
			}
		}
		_, err = r.q.ExecContext(ctx, `
			UPDATE assessments SET
				id                   = ?,
				capability_domain_id = ?,
				status               = ?,
				tags                 = ?,
				created_at           = ?,
				updated_at           = ?,
				finalized_at         = ?,
				overall_score        = ?
			WHERE capability_area_id = ?`, args...)
	}
	if err != nil {
		return fmt.Errorf("store: put assessment: %w", classify(err))
	}
	return nil
}

func (r *repo) GetRatings(ctx context.Context, assessmentID string) ([]models.Rating, error) {
	return r.queryRatings(ctx, `SELECT `+ratingCols+` FROM ratings WHERE assessment_id = ?
		ORDER BY dimension_id, sub_dimension_id, aspect_id`, assessmentID)
}

func (r *repo) AllRatings(ctx context.Context) ([]models.Rating, error) {
	return r.queryRatings(ctx, `SELECT `+ratingCols+` FROM ratings
		ORDER BY assessment_id, dimension_id, sub_dimension_id, aspect_id`)
}

func (r *repo) queryRatings(ctx context.Context, query string, args ...any) ([]models.Rating, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query ratings: %w", err)
	}
	defer rows.Close()

	var out []models.Rating
	for rows.Next() {
		rt, err := scanRating(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan rating: %w", err)
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

func (r *repo) PutRatings(ctx context.Context, assessmentID string, ratings []models.Rating) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM ratings WHERE assessment_id = ?`, assessmentID); err != nil {
		return fmt.Errorf("store: put ratings: clear: %w", err)
	}
	for _, rt := range ratings {
		questions, _ := json.Marshal(nonNil(rt.QuestionResponses))
		evidence, _ := json.Marshal(nonNil(rt.EvidenceResponses))
		attachments, _ := json.Marshal(nonNil(rt.AttachmentIDs))
		var target any
		if rt.TargetLevel != nil {
			target = *rt.TargetLevel
		}
		_, err := r.q.ExecContext(ctx, `INSERT INTO ratings (`+ratingCols+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rt.ID, assessmentID, rt.DimensionID, rt.SubDimensionID, rt.AspectID,
			rt.CurrentLevel, target, string(questions), string(evidence),
			rt.Notes, rt.Barriers, rt.Plans, string(attachments), rt.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("store: put rating %q: %w", rt.ID, classify(err))
		}
	}
	return nil
}

func (r *repo) ListHistory(ctx context.Context, areaID string) ([]models.AssessmentHistory, error) {
	return r.queryHistory(ctx, `SELECT `+historyCols+` FROM history WHERE capability_area_id = ?
		ORDER BY snapshot_date DESC, id`, areaID)
}

func (r *repo) AllHistory(ctx context.Context) ([]models.AssessmentHistory, error) {
	return r.queryHistory(ctx, `SELECT `+historyCols+` FROM history
		ORDER BY capability_area_id, snapshot_date DESC, id`)
}

func (r *repo) queryHistory(ctx context.Context, query string, args ...any) ([]models.AssessmentHistory, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query history: %w", err)
	}
	defer rows.Close()

	var out []models.AssessmentHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *repo) PutHistory(ctx context.Context, h models.AssessmentHistory) error {
	tags, _ := json.Marshal(nonNil(h.Tags))
	dims := h.DimensionScores
	if dims == nil {
		dims = map[string]*float64{}
	}
	dimJSON, err := json.Marshal(dims)
	if err != nil {
		return fmt.Errorf("store: put history: encode scores: %w", err)
	}
	ratingsJSON, err := json.Marshal(nonNil(h.Ratings))
	if err != nil {
		return fmt.Errorf("store: put history: encode ratings: %w", err)
	}
	_, err = r.q.ExecContext(ctx, `INSERT INTO history (`+historyCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.CapabilityAssessmentID, h.CapabilityAreaID, h.CapabilityDomainID,
		h.SnapshotDate.UTC(), nullTime(h.CreatedAt), nullTime(h.FinalizedAt),
		string(h.Status), string(tags), nullFloat(h.OverallScore),
		string(dimJSON), string(ratingsJSON), h.Fingerprint)
	if err != nil {
		return fmt.Errorf("store: put history %q: %w", h.ID, classify(err))
	}
	return nil
}

func (r *repo) ListTags(ctx context.Context) ([]models.Tag, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, name, usage_count, last_used FROM tags ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: list tags: %w", err)
	}
	defer rows.Close()

	var out []models.Tag
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.UsageCount, &t.LastUsed); err != nil {
			return nil, fmt.Errorf("store: scan tag: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ReplaceTags swaps the derived tag table for tags, keeping the IDs of names
// that survive.
func (r *repo) ReplaceTags(ctx context.Context, tags []models.Tag) error {
	existing, err := r.ListTags(ctx)
	if err != nil {
		return err
	}
	ids := make(map[string]string, len(existing))
	for _, t := range existing {
		ids[t.Name] = t.ID
	}
	if _, err := r.q.ExecContext(ctx, `DELETE FROM tags`); err != nil {
		return fmt.Errorf("store: replace tags: %w", err)
	}
	for _, t := range tags {
		if id, ok := ids[t.Name]; ok {
			t.ID = id
		}
		_, err := r.q.ExecContext(ctx, `INSERT INTO tags (id, name, usage_count, last_used) VALUES (?, ?, ?, ?)`,
			t.ID, t.Name, t.UsageCount, t.LastUsed.UTC())
		if err != nil {
			return fmt.Errorf("store: insert tag %q: %w", t.Name, classify(err))
		}
	}
	return nil
}

func scanAssessment(s scanner) (*models.CapabilityAssessment, error) {
	var (
		a         models.CapabilityAssessment
		status    string
		tags      string
		finalized sql.NullTime
		overall   sql.NullFloat64
	)
	if err := s.Scan(&a.ID, &a.CapabilityAreaID, &a.CapabilityDomainID, &status, &tags,
		&a.CreatedAt, &a.UpdatedAt, &finalized, &overall); err != nil {
		return nil, err
	}
	a.Status = models.Status(status)
	if err := json.Unmarshal([]byte(tags), &a.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	a.FinalizedAt = timePtr(finalized)
	a.OverallScore = floatPtr(overall)
	return &a, nil
}

func scanRating(s scanner) (models.Rating, error) {
	var (
		rt                          models.Rating
		target                      sql.NullInt64
		questions, evidence, attach string
	)
	if err := s.Scan(&rt.ID, &rt.AssessmentID, &rt.DimensionID, &rt.SubDimensionID, &rt.AspectID,
		&rt.CurrentLevel, &target, &questions, &evidence,
		&rt.Notes, &rt.Barriers, &rt.Plans, &attach, &rt.UpdatedAt); err != nil {
		return rt, err
	}
	if target.Valid {
		v := int(target.Int64)
		rt.TargetLevel = &v
	}
	if err := json.Unmarshal([]byte(questions), &rt.QuestionResponses); err != nil {
		return rt, err
	}
	if err := json.Unmarshal([]byte(evidence), &rt.EvidenceResponses); err != nil {
		return rt, err
	}
	if err := json.Unmarshal([]byte(attach), &rt.AttachmentIDs); err != nil {
		return rt, err
	}
	if len(rt.AttachmentIDs) == 0 {
		rt.AttachmentIDs = nil
	}
	return rt, nil
}

func scanHistory(s scanner) (models.AssessmentHistory, error) {
	var (
		h                    models.AssessmentHistory
		status, tags         string
		created, finalized   sql.NullTime
		overall              sql.NullFloat64
		dimJSON, ratingsJSON string
	)
	if err := s.Scan(&h.ID, &h.CapabilityAssessmentID, &h.CapabilityAreaID, &h.CapabilityDomainID,
		&h.SnapshotDate, &created, &finalized, &status, &tags, &overall, &dimJSON, &ratingsJSON, &h.Fingerprint); err != nil {
		return h, err
	}
	h.Status = models.Status(status)
	h.CreatedAt = timePtr(created)
	h.FinalizedAt = timePtr(finalized)
	h.OverallScore = floatPtr(overall)
	if err := json.Unmarshal([]byte(tags), &h.Tags); err != nil {
		return h, err
	}
	if err := json.Unmarshal([]byte(dimJSON), &h.DimensionScores); err != nil {
		return h, err
	}
	if err := json.Unmarshal([]byte(ratingsJSON), &h.Ratings); err != nil {
		return h, err
	}
	return h, nil
}

// classify maps SQLite constraint violations to apperr.ErrAlreadyExists.
func classify(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %v", apperr.ErrAlreadyExists, err)
	}
	return err
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	v := n.Time
	return &v
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
