// Package assessment coordinates the store, the score aggregator, and the
// merge engine: live rating edits, finalization, score queries, and
// import/export of bundles.
package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/apperr"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/catalog"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/merge"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/models"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/scoring"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/storage"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/store"
)

// Area event kinds passed to a Publisher.
const (
	EventUpdated   = "updated"
	EventFinalized = "finalized"
	EventImported  = "imported"
)

// Publisher is told when an area's stored data changes.
type Publisher interface {
	PublishAreaEvent(kind, areaID string)
}

// Recorder receives operational counters. *metrics.Metrics implements it.
type Recorder interface {
	ObserveMerge(disposition string)
	ObserveImport(elapsed time.Duration, err error)
	ObserveRatingSaved()
}

// Service is the application layer over one store.
type Service struct {
	store       store.Store
	cat         *catalog.Catalog
	agg         *scoring.Aggregator
	engine      *merge.Engine
	blobs       storage.Provider
	pub         Publisher
	rec         Recorder
	log         *slog.Logger
	concurrency int
	backupFirst bool
	now         func() time.Time
	newID       func() string
}

// Option configures a Service.
type Option func(*Service)

// WithBlobs sets where attachment bytes and backups are kept.
func WithBlobs(p storage.Provider) Option { return func(s *Service) { s.blobs = p } }

// WithPublisher sets the receiver of area change events.
func WithPublisher(p Publisher) Option { return func(s *Service) { s.pub = p } }

// WithRecorder sets the metrics receiver.
func WithRecorder(r Recorder) Option { return func(s *Service) { s.rec = r } }

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// WithConcurrency bounds how many areas an import merges at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithBackupBeforeImport writes a backup archive to the blob store before
// every import.
func WithBackupBeforeImport(on bool) Option { return func(s *Service) { s.backupFirst = on } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithIDGenerator overrides how record IDs are minted.
func WithIDGenerator(fn func() string) Option { return func(s *Service) { s.newID = fn } }

// NewService creates a Service scoring against cat.
func NewService(st store.Store, cat *catalog.Catalog, opts ...Option) *Service {
	s := &Service{
		store:       st,
		cat:         cat,
		log:         slog.Default(),
		concurrency: 4,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.agg = scoring.New(cat)
	s.engine = merge.New(s.agg, merge.WithIDGenerator(s.newID))
	return s
}

// Catalog returns the maturity model the service scores against.
func (s *Service) Catalog() *catalog.Catalog { return s.cat }

// Ready reports whether the store is reachable.
func (s *Service) Ready(ctx context.Context) error { return s.store.Ping(ctx) }

// AreaScores is the score view of one capability area.
type AreaScores struct {
	AreaID     string                       `json:"areaId"`
	AreaName   string                       `json:"areaName"`
	DomainID   string                       `json:"domainId"`
	Assessment *models.CapabilityAssessment `json:"assessment"`
	Score      *scoring.AssessmentScore     `json:"score"`
}

// Scores recomputes the score tree of an area's current assessment. An area
// that was never assessed yields an empty tree.
func (s *Service) Scores(ctx context.Context, areaID string) (*AreaScores, error) {
	area, err := s.area(areaID)
	if err != nil {
		return nil, err
	}
	a, ratings, err := s.current(ctx, s.store, areaID)
	if err != nil {
		return nil, err
	}
	score, err := s.agg.Score(ratings)
	if err != nil {
		return nil, fmt.Errorf("assessment: score %q: %w", areaID, err)
	}
	return &AreaScores{AreaID: area.ID, AreaName: area.Name, DomainID: area.DomainID, Assessment: a, Score: score}, nil
}

// Rollup scores every current assessment and aggregates per domain.
func (s *Service) Rollup(ctx context.Context) (*scoring.Rollup, error) {
	assessments, err := s.store.ListAssessments(ctx)
	if err != nil {
		return nil, err
	}
	ratings, err := s.store.AllRatings(ctx)
	if err != nil {
		return nil, err
	}
	byAssessment := make(map[string][]models.Rating, len(assessments))
	for _, r := range ratings {
		byAssessment[r.AssessmentID] = append(byAssessment[r.AssessmentID], r)
	}
	items := make([]scoring.AssessedArea, 0, len(assessments))
	for _, a := range assessments {
		items = append(items, scoring.AssessedArea{Assessment: a, Ratings: byAssessment[a.ID]})
	}
	return s.agg.Rollup(items)
}

// History returns an area's snapshots, newest first.
func (s *Service) History(ctx context.Context, areaID string) ([]models.AssessmentHistory, error) {
	if _, err := s.area(areaID); err != nil {
		return nil, err
	}
	hs, err := s.store.ListHistory(ctx, areaID)
	if err != nil {
		return nil, err
	}
	return nonNil(hs), nil
}

// Tags returns the derived tag bookkeeping.
func (s *Service) Tags(ctx context.Context) ([]models.Tag, error) {
	tags, err := s.store.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	return nonNil(tags), nil
}

// Attachment returns an attachment's metadata and bytes.
func (s *Service) Attachment(ctx context.Context, id string) (*models.Attachment, []byte, error) {
	meta, err := s.store.GetAttachment(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if s.blobs == nil {
		return nil, nil, fmt.Errorf("assessment: attachment %q: no blob storage: %w", id, apperr.ErrNotFound)
	}
	data, err := s.blobs.Get(ctx, attachmentKey(id))
	if err != nil {
		return nil, nil, err
	}
	return meta, data, nil
}

// AddAttachment stores evidence content and its metadata under a new ID.
func (s *Service) AddAttachment(ctx context.Context, ratingID, fileName, mimeType string, data []byte) (*models.Attachment, error) {
	if s.blobs == nil {
		return nil, ErrNoBlobStorage
	}
	a := models.Attachment{
		ID:       s.newID(),
		RatingID: ratingID,
		FileName: fileName,
		MimeType: mimeType,
		Size:     int64(len(data)),
	}
	if err := s.blobs.Put(ctx, attachmentKey(a.ID), data); err != nil {
		return nil, fmt.Errorf("assessment: store attachment: %w", err)
	}
	if err := s.store.PutAttachment(ctx, a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Service) area(areaID string) (catalog.Area, error) {
	area, ok := s.cat.Area(areaID)
	if !ok {
		return area, fmt.Errorf("assessment: area %q: %w", areaID, apperr.ErrUnknownArea)
	}
	return area, nil
}

// reader is the read surface shared by store.Store and store.Tx.
type reader interface {
	GetAssessment(ctx context.Context, areaID string) (*models.CapabilityAssessment, error)
	GetRatings(ctx context.Context, assessmentID string) ([]models.Rating, error)
}

// current loads an area's assessment and ratings; both are empty when the
// area has no assessment yet.
func (s *Service) current(ctx context.Context, r reader, areaID string) (*models.CapabilityAssessment, []models.Rating, error) {
	a, err := r.GetAssessment(ctx, areaID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	ratings, err := r.GetRatings(ctx, a.ID)
	if err != nil {
		return nil, nil, err
	}
	return a, ratings, nil
}

func (s *Service) publish(kind, areaID string) {
	if s.pub != nil {
		s.pub.PublishAreaEvent(kind, areaID)
	}
}

func attachmentKey(id string) string { return "attachments/" + id }

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
