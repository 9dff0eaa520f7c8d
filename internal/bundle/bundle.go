// Package bundle encodes and decodes export bundles: a JSON document of
// assessments, ratings, history, and tags, optionally packed into a zip
// archive together with attachment bytes.
package bundle

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/apperr"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/models"
)

// Version is the bundle format written by Encode. Decode accepts any 1.x.
const Version = "1.0"

// Metadata carries record counts. Decode checks them against the body.
type Metadata struct {
	AssessmentCount int `json:"assessmentCount"`
	RatingCount     int `json:"ratingCount"`
	HistoryCount    int `json:"historyCount"`
	TagCount        int `json:"tagCount"`
	AttachmentCount int `json:"attachmentCount"`
}

// Bundle is one exported dataset.
type Bundle struct {
	Version     string                        `json:"version"`
	ExportedAt  time.Time                     `json:"exportedAt"`
	Metadata    Metadata                      `json:"metadata"`
	Assessments []models.CapabilityAssessment `json:"assessments"`
	Ratings     []models.Rating               `json:"ratings"`
	History     []models.AssessmentHistory    `json:"history"`
	Tags        []models.Tag                  `json:"tags"`
	Attachments []models.Attachment           `json:"attachments,omitempty"`
}

// New assembles a bundle and fills its metadata counts.
func New(at time.Time, assessments []models.CapabilityAssessment, ratings []models.Rating,
	history []models.AssessmentHistory, tags []models.Tag, attachments []models.Attachment) *Bundle {
	b := &Bundle{
		Version:     Version,
		ExportedAt:  at.UTC(),
		Assessments: nonNil(assessments),
		Ratings:     nonNil(ratings),
		History:     nonNil(history),
		Tags:        nonNil(tags),
		Attachments: attachments,
	}
	b.Metadata = b.counts()
	return b
}

func (b *Bundle) counts() Metadata {
	return Metadata{
		AssessmentCount: len(b.Assessments),
		RatingCount:     len(b.Ratings),
		HistoryCount:    len(b.History),
		TagCount:        len(b.Tags),
		AttachmentCount: len(b.Attachments),
	}
}

// Validate checks the version and that metadata counts match the body.
func (b *Bundle) Validate() error {
	if b.Version == "" {
		return fmt.Errorf("bundle: missing version: %w", apperr.ErrInvalidBundle)
	}
	if major, _, _ := strings.Cut(b.Version, "."); major != "1" {
		return fmt.Errorf("bundle: unsupported version %q: %w", b.Version, apperr.ErrInvalidBundle)
	}
	if got := b.counts(); got != b.Metadata {
		return fmt.Errorf("bundle: metadata %+v does not match contents %+v: %w", b.Metadata, got, apperr.ErrInvalidBundle)
	}
	seen := make(map[string]struct{}, len(b.Attachments))
	for _, a := range b.Attachments {
		if a.ID == "" || strings.ContainsAny(a.ID, `/\`) || a.ID == "." || a.ID == ".." {
			return fmt.Errorf("bundle: invalid attachment id %q: %w", a.ID, apperr.ErrInvalidBundle)
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("bundle: duplicate attachment id %q: %w", a.ID, apperr.ErrInvalidBundle)
		}
		seen[a.ID] = struct{}{}
	}
	return nil
}

// Decode reads and validates a JSON bundle.
func Decode(r io.Reader) (*Bundle, error) {
	var b Bundle
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("bundle: decode: %v: %w", err, apperr.ErrInvalidBundle)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Encode writes b as indented JSON.
func Encode(w io.Writer, b *Bundle) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("bundle: encode: %w", err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
