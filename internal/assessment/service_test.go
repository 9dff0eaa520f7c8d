package assessment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/apperr"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/assessment"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/models"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/testutil"
)

const area = "providerEnrollment"

func rate(aspect string, level int) models.Rating {
	return models.Rating{DimensionID: "businessArchitecture", AspectID: aspect, CurrentLevel: level}
}

type events struct {
	mu   sync.Mutex
	seen []string
}

func (e *events) PublishAreaEvent(kind, areaID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen = append(e.seen, kind+":"+areaID)
}

func (e *events) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.seen...)
}

func TestSaveRating_CreatesAssessment(t *testing.T) {
	ev := &events{}
	svc, _, _ := testutil.TestService(t, assessment.WithPublisher(ev))
	ctx := context.Background()

	got, err := svc.SaveRating(ctx, area, rate("businessProcess", 3))
	if err != nil {
		t.Fatalf("SaveRating: %v", err)
	}
	if got.Assessment == nil || got.Assessment.Status != models.StatusInProgress {
		t.Fatalf("assessment = %+v", got.Assessment)
	}
	if got.DomainID != "providerManagement" || got.AreaName != "Provider Enrollment" {
		t.Errorf("area = %s / %s", got.DomainID, got.AreaName)
	}
	if got.Score.AssessedCount != 1 || got.Score.Overall == nil || *got.Score.Overall != 3 {
		t.Errorf("score = %+v", got.Score)
	}
	if got.Assessment.OverallScore == nil || *got.Assessment.OverallScore != 3 {
		t.Errorf("stored overall = %v", got.Assessment.OverallScore)
	}
	if ev := ev.list(); len(ev) != 1 || ev[0] != "updated:"+area {
		t.Errorf("events = %v", ev)
	}
}

func TestSaveRating_ReplacesSameAspect(t *testing.T) {
	svc, db, _ := testutil.TestService(t)
	ctx := context.Background()

	if _, err := svc.SaveRating(ctx, area, rate("businessProcess", 2)); err != nil {
		t.Fatal(err)
	}
	got, err := svc.SaveRating(ctx, area, rate("businessProcess", 4))
	if err != nil {
		t.Fatal(err)
	}
	if got.Score.AssessedCount != 1 || *got.Score.Overall != 4 {
		t.Errorf("score = %+v", got.Score)
	}
	rs, _ := db.GetRatings(ctx, got.Assessment.ID)
	if len(rs) != 1 {
		t.Errorf("ratings stored = %d, want 1", len(rs))
	}
}

func TestSaveRating_Rejects(t *testing.T) {
	svc, _, _ := testutil.TestService(t)
	ctx := context.Background()

	if _, err := svc.SaveRating(ctx, "nowhere", rate("businessProcess", 2)); !errors.Is(err, apperr.ErrUnknownArea) {
		t.Errorf("unknown area err = %v", err)
	}
	if _, err := svc.SaveRating(ctx, area, rate("businessProcess", 9)); err == nil {
		t.Error("level 9 accepted")
	}
	if _, err := svc.SaveRating(ctx, area, rate("noSuchAspect", 2)); err == nil {
		t.Error("unknown aspect accepted")
	}
}

func TestFinalize(t *testing.T) {
	svc, _, clock := testutil.TestService(t)
	ctx := context.Background()

	if _, err := svc.Finalize(ctx, area); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("finalize without assessment err = %v", err)
	}
	if _, err := svc.SaveRating(ctx, area, rate("businessProcess", 3)); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Hour)

	res, err := svc.Finalize(ctx, area)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if res.Assessment.Status != models.StatusFinalized || res.Assessment.FinalizedAt == nil {
		t.Errorf("assessment = %+v", res.Assessment)
	}
	if res.Snapshot == nil || len(res.Snapshot.Ratings) != 1 || res.Snapshot.Fingerprint == "" {
		t.Fatalf("snapshot = %+v", res.Snapshot)
	}

	again, err := svc.Finalize(ctx, area)
	if err != nil {
		t.Fatal(err)
	}
	if again.Snapshot != nil {
		t.Error("identical finalize wrote a second snapshot")
	}
	hs, _ := svc.History(ctx, area)
	if len(hs) != 1 {
		t.Errorf("history = %d, want 1", len(hs))
	}

	got, err := svc.SaveRating(ctx, area, rate("businessRules", 2))
	if err != nil {
		t.Fatal(err)
	}
	if got.Assessment.Status != models.StatusInProgress {
		t.Errorf("status after edit = %s", got.Assessment.Status)
	}
}

func TestFinalize_NothingAssessed(t *testing.T) {
	svc, _, _ := testutil.TestService(t)
	ctx := context.Background()
	if _, err := svc.SaveRating(ctx, area, rate("businessProcess", 0)); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Finalize(ctx, area); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestSetTags(t *testing.T) {
	svc, _, _ := testutil.TestService(t)
	ctx := context.Background()

	if _, err := svc.SetTags(ctx, area, []string{"q1"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("tags without assessment err = %v", err)
	}
	if _, err := svc.SaveRating(ctx, area, rate("businessProcess", 3)); err != nil {
		t.Fatal(err)
	}
	a, err := svc.SetTags(ctx, area, []string{" q1 ", "q1", "baseline", ""})
	if err != nil {
		t.Fatalf("SetTags: %v", err)
	}
	if len(a.Tags) != 2 || a.Tags[0] != "baseline" || a.Tags[1] != "q1" {
		t.Errorf("tags = %q", a.Tags)
	}
	tags, err := svc.Tags(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 2 || tags[0].Name != "baseline" || tags[0].UsageCount != 1 {
		t.Errorf("tag bookkeeping = %+v", tags)
	}

	if _, err := svc.SetTags(ctx, area, nil); err != nil {
		t.Fatal(err)
	}
	if tags, _ := svc.Tags(ctx); len(tags) != 0 {
		t.Errorf("unused tags kept: %+v", tags)
	}
}

func TestRollup(t *testing.T) {
	svc, _, _ := testutil.TestService(t)
	ctx := context.Background()

	if _, err := svc.SaveRating(ctx, area, rate("businessProcess", 3)); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Finalize(ctx, area); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SaveRating(ctx, "claimsPayment", rate("businessProcess", 5)); err != nil {
		t.Fatal(err)
	}

	r, err := svc.Rollup(ctx)
	if err != nil {
		t.Fatalf("Rollup: %v", err)
	}
	for _, d := range r.Domains {
		switch d.DomainID {
		case "providerManagement":
			if d.Score == nil || *d.Score != 3 || d.FinalizedCount != 1 {
				t.Errorf("providerManagement = %+v", d)
			}
		case "financialManagement":
			if d.Score != nil {
				t.Errorf("in-progress area counted in domain score: %v", *d.Score)
			}
		}
	}
}

func TestAttachment(t *testing.T) {
	svc, _, _ := testutil.TestService(t)
	ctx := context.Background()

	meta, err := svc.AddAttachment(ctx, "r1", "evidence.txt", "text/plain", []byte("proof"))
	if err != nil {
		t.Fatalf("AddAttachment: %v", err)
	}
	got, data, err := svc.Attachment(ctx, meta.ID)
	if err != nil {
		t.Fatalf("Attachment: %v", err)
	}
	if got.FileName != "evidence.txt" || got.Size != 5 || string(data) != "proof" {
		t.Errorf("attachment = %+v %q", got, data)
	}
	if _, _, err := svc.Attachment(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
