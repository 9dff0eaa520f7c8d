package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/apperr"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/models"
)

// Tx is the view of the store inside one area transaction.
type Tx interface {
	GetAssessment(ctx context.Context, areaID string) (*models.CapabilityAssessment, error)
	GetRatings(ctx context.Context, assessmentID string) ([]models.Rating, error)
	ListHistory(ctx context.Context, areaID string) ([]models.AssessmentHistory, error)
	ListAssessments(ctx context.Context) ([]models.CapabilityAssessment, error)

	// PutAssessment upserts the area's current assessment. When it replaces
	// an assessment with a different ID, the old assessment's ratings are
	// removed with it.
	PutAssessment(ctx context.Context, a models.CapabilityAssessment) error
	// PutRatings replaces the full rating set of one assessment.
	PutRatings(ctx context.Context, assessmentID string, ratings []models.Rating) error
	// PutHistory inserts a snapshot. Existing snapshots are never overwritten.
	PutHistory(ctx context.Context, h models.AssessmentHistory) error
	ReplaceTags(ctx context.Context, tags []models.Tag) error
}

// Store defines persistence operations. Consumers should depend on this
// interface rather than *DB.
type Store interface {
	GetAssessment(ctx context.Context, areaID string) (*models.CapabilityAssessment, error)
	GetRatings(ctx context.Context, assessmentID string) ([]models.Rating, error)
	ListHistory(ctx context.Context, areaID string) ([]models.AssessmentHistory, error)
	ListAssessments(ctx context.Context) ([]models.CapabilityAssessment, error)
	AllRatings(ctx context.Context) ([]models.Rating, error)
	AllHistory(ctx context.Context) ([]models.AssessmentHistory, error)
	ListTags(ctx context.Context) ([]models.Tag, error)

	// PutAttachment records attachment metadata. Re-recording an existing ID
	// is a no-op.
	PutAttachment(ctx context.Context, a models.Attachment) error
	GetAttachment(ctx context.Context, id string) (*models.Attachment, error)
	ListAttachments(ctx context.Context) ([]models.Attachment, error)

	// WithinArea runs fn in one immediate transaction. fn's writes are
	// committed together when it returns nil and rolled back otherwise.
	WithinArea(ctx context.Context, areaID string, fn func(Tx) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)

// GetAssessment returns the current assessment of an area or apperr.ErrNotFound.
func (db *DB) GetAssessment(ctx context.Context, areaID string) (*models.CapabilityAssessment, error) {
	return db.r.GetAssessment(ctx, areaID)
}

// GetRatings returns an assessment's ratings in catalog key order.
func (db *DB) GetRatings(ctx context.Context, assessmentID string) ([]models.Rating, error) {
	return db.r.GetRatings(ctx, assessmentID)
}

// ListHistory returns an area's snapshots, newest first.
func (db *DB) ListHistory(ctx context.Context, areaID string) ([]models.AssessmentHistory, error) {
	return db.r.ListHistory(ctx, areaID)
}

// ListAssessments returns every current assessment.
func (db *DB) ListAssessments(ctx context.Context) ([]models.CapabilityAssessment, error) {
	return db.r.ListAssessments(ctx)
}

// AllRatings returns the ratings of every current assessment.
func (db *DB) AllRatings(ctx context.Context) ([]models.Rating, error) {
	return db.r.AllRatings(ctx)
}

// AllHistory returns every snapshot across all areas.
func (db *DB) AllHistory(ctx context.Context) ([]models.AssessmentHistory, error) {
	return db.r.AllHistory(ctx)
}

// ListTags returns the tag bookkeeping rows ordered by name.
func (db *DB) ListTags(ctx context.Context) ([]models.Tag, error) {
	return db.r.ListTags(ctx)
}

// PutAttachment implements Store.
func (db *DB) PutAttachment(ctx context.Context, a models.Attachment) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO attachments (id, rating_id, file_name, mime_type, size)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, a.ID, a.RatingID, a.FileName, a.MimeType, a.Size)
	if err != nil {
		return fmt.Errorf("store: put attachment: %w", err)
	}
	return nil
}

// GetAttachment returns attachment metadata or apperr.ErrNotFound.
func (db *DB) GetAttachment(ctx context.Context, id string) (*models.Attachment, error) {
	var a models.Attachment
	err := db.conn.QueryRowContext(ctx, `SELECT id, rating_id, file_name, mime_type, size FROM attachments WHERE id = ?`, id).
		Scan(&a.ID, &a.RatingID, &a.FileName, &a.MimeType, &a.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: attachment %q: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get attachment: %w", err)
	}
	return &a, nil
}

// ListAttachments returns all attachment metadata ordered by ID.
func (db *DB) ListAttachments(ctx context.Context) ([]models.Attachment, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, rating_id, file_name, mime_type, size FROM attachments ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list attachments: %w", err)
	}
	defer rows.Close()

	var out []models.Attachment
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(&a.ID, &a.RatingID, &a.FileName, &a.MimeType, &a.Size); err != nil {
			return nil, fmt.Errorf("store: scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// WithinArea implements Store.
func (db *DB) WithinArea(ctx context.Context, areaID string, fn func(Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: area %q: begin tx: %w", areaID, err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if err := fn(&repo{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: area %q: commit: %w", areaID, err)
	}
	return nil
}
