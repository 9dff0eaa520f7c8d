package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/apperr"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/bundle"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/merge"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/models"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/store"
)

// Progress is a coarse import progress report.
type Progress struct {
	Percent int    `json:"percent"`
	Status  string `json:"status"`
}

// ProgressFunc receives progress updates. Calls are serialized.
type ProgressFunc func(Progress)

// Report summarizes an import or preview.
type Report struct {
	DryRun              bool           `json:"dryRun"`
	Items               []merge.Result `json:"items"`
	Summary             merge.Counts   `json:"summary"`
	HistoryAdded        int            `json:"historyAdded"`
	AttachmentsImported int            `json:"attachmentsImported"`
	AttachmentsSkipped  int            `json:"attachmentsSkipped"`
	Backup              string         `json:"backup,omitempty"`
}

// Import merges an archive into the store. Each area is merged and written
// in its own transaction, so one area's failure is reported as an error item
// without touching the others. When ctx is cancelled, areas not yet started
// are left alone and the partial report is returned with ctx's error.
func (s *Service) Import(ctx context.Context, src *bundle.Archive, progress ProgressFunc) (*Report, error) {
	start := time.Now()
	report, err := s.runImport(ctx, src, progress)
	if s.rec != nil {
		s.rec.ObserveImport(time.Since(start), err)
	}
	return report, err
}

func (s *Service) runImport(ctx context.Context, src *bundle.Archive, progress ProgressFunc) (*Report, error) {
	emit := serialize(progress)
	emit(Progress{Percent: 0, Status: "Validating bundle"})

	if src == nil || src.Bundle == nil {
		return nil, fmt.Errorf("assessment: import: empty source: %w", apperr.ErrInvalidBundle)
	}
	b := src.Bundle
	if err := b.Validate(); err != nil {
		return nil, err
	}

	report := &Report{}
	if s.backupFirst && s.blobs != nil {
		emit(Progress{Percent: 2, Status: "Backing up current data"})
		obj, err := s.Backup(ctx)
		if err != nil {
			return nil, fmt.Errorf("assessment: import: backup: %w", err)
		}
		report.Backup = obj.Key
	}

	cands, orphans := s.engine.GroupCandidates(b.Assessments, b.Ratings, b.History)

	emit(Progress{Percent: 5, Status: "Storing attachments"})
	imported, skipped, err := s.importAttachments(ctx, src)
	if err != nil {
		return nil, err
	}
	report.AttachmentsImported, report.AttachmentsSkipped = imported, skipped

	results := make([]merge.Result, len(cands))
	started := make([]bool, len(cands))
	var (
		mu   sync.Mutex
		done int
	)
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, c := range cands {
		if ctx.Err() != nil {
			break
		}
		started[i] = true
		g.Go(func() error {
			res := s.mergeArea(ctx, c)
			results[i] = res

			mu.Lock()
			defer mu.Unlock()
			done++
			emit(Progress{Percent: 10 + 85*done/len(cands), Status: fmt.Sprintf("Merged %s", res.AreaName)})
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range results {
		if started[i] {
			report.Items = append(report.Items, res)
		}
	}
	report.Items = append(report.Items, orphanResults(orphans)...)
	s.summarize(report)

	for _, res := range report.Items {
		if s.rec != nil {
			s.rec.ObserveMerge(string(res.Disposition))
		}
		if res.Disposition != merge.Error && !res.Plan.Empty() {
			s.publish(EventImported, res.AreaID)
		}
	}

	if err := ctx.Err(); err != nil {
		emit(Progress{Percent: 100, Status: "Import cancelled"})
		s.log.Warn("import cancelled", slog.Int("merged", len(report.Items)), slog.Int("areas", len(cands)))
		return report, err
	}
	emit(Progress{Percent: 100, Status: "Import complete"})
	s.log.Info("import finished",
		slog.Int("current", report.Summary.ImportedAsCurrent),
		slog.Int("history", report.Summary.ImportedAsHistory),
		slog.Int("skipped", report.Summary.Skipped),
		slog.Int("errors", report.Summary.Errors),
		slog.Int("attachments", report.AttachmentsImported),
	)
	return report, nil
}

// Preview reports what Import would do without writing anything.
func (s *Service) Preview(ctx context.Context, src *bundle.Archive) (*Report, error) {
	if src == nil || src.Bundle == nil {
		return nil, fmt.Errorf("assessment: preview: empty source: %w", apperr.ErrInvalidBundle)
	}
	b := src.Bundle
	if err := b.Validate(); err != nil {
		return nil, err
	}
	cands, orphans := s.engine.GroupCandidates(b.Assessments, b.Ratings, b.History)
	results, _ := s.engine.MergeBatch(cands, func(areaID string) (merge.Resident, error) {
		return s.resident(ctx, s.store, areaID)
	})

	report := &Report{DryRun: true, Items: append(results, orphanResults(orphans)...)}
	for _, ref := range b.Attachments {
		if _, ok := src.Attachments[ref.ID]; ok && s.blobs != nil {
			report.AttachmentsImported++
		} else {
			report.AttachmentsSkipped++
		}
	}
	s.summarize(report)
	return report, nil
}

// mergeArea merges one candidate and applies the plan in a single
// transaction. Any store failure turns the whole area into an error item.
func (s *Service) mergeArea(ctx context.Context, c merge.Candidate) merge.Result {
	var res merge.Result
	err := s.store.WithinArea(ctx, c.AreaID, func(tx store.Tx) error {
		resident, err := s.resident(ctx, tx, c.AreaID)
		if err != nil {
			return err
		}
		res = s.engine.Merge(c, resident)
		if res.Disposition == merge.Error || res.Plan.Empty() {
			return nil
		}
		if err := applyPlan(ctx, tx, res.Plan); err != nil {
			return err
		}
		return s.refreshTags(ctx, tx)
	})
	if err != nil {
		name := c.AreaID
		if area, ok := s.cat.Area(c.AreaID); ok {
			name = area.Name
		}
		s.log.Warn("area import failed", slog.String("area", c.AreaID), slog.String("error", err.Error()))
		return merge.Result{AreaID: c.AreaID, AreaName: name, Disposition: merge.Error, Reason: err.Error()}
	}
	return res
}

// applyPlan writes history before the current record so a superseded
// resident is never dropped without its snapshot.
func applyPlan(ctx context.Context, tx store.Tx, p merge.Plan) error {
	for _, h := range p.History {
		if err := tx.PutHistory(ctx, h); err != nil {
			return err
		}
	}
	if p.Current == nil {
		return nil
	}
	if err := tx.PutAssessment(ctx, p.Current.Assessment); err != nil {
		return err
	}
	return tx.PutRatings(ctx, p.Current.Assessment.ID, p.Current.Ratings)
}

type residentReader interface {
	reader
	ListHistory(ctx context.Context, areaID string) ([]models.AssessmentHistory, error)
}

func (s *Service) resident(ctx context.Context, r residentReader, areaID string) (merge.Resident, error) {
	a, ratings, err := s.current(ctx, r, areaID)
	if err != nil {
		return merge.Resident{}, err
	}
	hs, err := r.ListHistory(ctx, areaID)
	if err != nil {
		return merge.Resident{}, err
	}
	return merge.Resident{Assessment: a, Ratings: ratings, History: hs}, nil
}

// importAttachments stores attachment bytes and metadata. An attachment
// already on file is left untouched.
func (s *Service) importAttachments(ctx context.Context, src *bundle.Archive) (imported, skipped int, err error) {
	for _, ref := range src.Bundle.Attachments {
		data, ok := src.Attachments[ref.ID]
		if !ok || s.blobs == nil {
			skipped++
			continue
		}
		if _, err := s.store.GetAttachment(ctx, ref.ID); err == nil {
			skipped++
			continue
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return imported, skipped, err
		}
		if err := s.blobs.Put(ctx, attachmentKey(ref.ID), data); err != nil {
			return imported, skipped, fmt.Errorf("assessment: store attachment %q: %w", ref.ID, err)
		}
		ref.Size = int64(len(data))
		if err := s.store.PutAttachment(ctx, ref); err != nil {
			return imported, skipped, err
		}
		imported++
	}
	return imported, skipped, nil
}

// orphanResults reports ratings whose assessment is missing from the
// bundle, one item per missing assessment.
func orphanResults(orphans []models.Rating) []merge.Result {
	count := map[string]int{}
	var ids []string
	for _, r := range orphans {
		if _, ok := count[r.AssessmentID]; !ok {
			ids = append(ids, r.AssessmentID)
		}
		count[r.AssessmentID]++
	}
	out := make([]merge.Result, 0, len(ids))
	for _, id := range ids {
		out = append(out, merge.Result{
			AreaName:    "(unknown)",
			Disposition: merge.Error,
			Reason:      fmt.Sprintf("%d rating(s) reference assessment %q which is not in the bundle", count[id], id),
		})
	}
	return out
}

func (s *Service) summarize(r *Report) {
	sort.SliceStable(r.Items, func(i, j int) bool {
		if r.Items[i].AreaName != r.Items[j].AreaName {
			return r.Items[i].AreaName < r.Items[j].AreaName
		}
		return r.Items[i].AreaID < r.Items[j].AreaID
	})
	r.Summary = merge.Counts{}
	r.HistoryAdded = 0
	for _, res := range r.Items {
		r.Summary.Add(res)
		r.HistoryAdded += res.HistoryAdded
	}
	if r.Items == nil {
		r.Items = []merge.Result{}
	}
}

func serialize(fn ProgressFunc) ProgressFunc {
	if fn == nil {
		return func(Progress) {}
	}
	var mu sync.Mutex
	return func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		fn(p)
	}
}
