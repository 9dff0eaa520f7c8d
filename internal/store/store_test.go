package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/apperr"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/models"
)

var ts = time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "mitasat-store-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleAssessment(id, area string) models.CapabilityAssessment {
	score := 3.3
	return models.CapabilityAssessment{
		ID:                 id,
		CapabilityAreaID:   area,
		CapabilityDomainID: "providerManagement",
		Status:             models.StatusInProgress,
		Tags:               []string{"q1"},
		CreatedAt:          ts,
		UpdatedAt:          ts,
		OverallScore:       &score,
	}
}

func sampleRating(id, assessmentID, aspect string, level int) models.Rating {
	return models.Rating{
		ID:                id,
		AssessmentID:      assessmentID,
		DimensionID:       "businessArchitecture",
		AspectID:          aspect,
		CurrentLevel:      level,
		QuestionResponses: []models.Response{{QuestionID: "q1", Answer: "yes"}},
		Notes:             "note",
		UpdatedAt:         ts,
	}
}

func put(t *testing.T, db *DB, fn func(ctx context.Context, tx Tx) error) {
	t.Helper()
	ctx := context.Background()
	if err := db.WithinArea(ctx, "test", func(tx Tx) error { return fn(ctx, tx) }); err != nil {
		t.Fatalf("WithinArea: %v", err)
	}
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"assessments", "ratings", "history", "tags"} {
		var count int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestAssessmentRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a := sampleAssessment("a1", "providerEnrollment")
	fin := ts.Add(time.Hour)
	a.FinalizedAt = &fin
	target := 4
	r := sampleRating("r1", "a1", "businessProcess", 3)
	r.TargetLevel = &target

	put(t, db, func(ctx context.Context, tx Tx) error {
		if err := tx.PutAssessment(ctx, a); err != nil {
			return err
		}
		return tx.PutRatings(ctx, "a1", []models.Rating{r})
	})

	got, err := db.GetAssessment(ctx, "providerEnrollment")
	if err != nil {
		t.Fatalf("GetAssessment: %v", err)
	}
	if got.ID != "a1" || got.Status != models.StatusInProgress || len(got.Tags) != 1 {
		t.Errorf("assessment = %+v", got)
	}
	if !got.UpdatedAt.Equal(ts) || got.FinalizedAt == nil || !got.FinalizedAt.Equal(fin) {
		t.Errorf("timestamps = %v / %v", got.UpdatedAt, got.FinalizedAt)
	}
	if got.OverallScore == nil || *got.OverallScore != 3.3 {
		t.Errorf("overall = %v", got.OverallScore)
	}

	rs, err := db.GetRatings(ctx, "a1")
	if err != nil {
		t.Fatalf("GetRatings: %v", err)
	}
	if len(rs) != 1 {
		t.Fatalf("ratings = %d, want 1", len(rs))
	}
	if rs[0].TargetLevel == nil || *rs[0].TargetLevel != 4 || rs[0].QuestionResponses[0].Answer != "yes" {
		t.Errorf("rating = %+v", rs[0])
	}
}

func TestGetAssessment_NotFound(t *testing.T) {
	db := testDB(t)
	_, err := db.GetAssessment(context.Background(), "nowhere")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPutAssessment_ReplacesCurrentForArea(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	put(t, db, func(ctx context.Context, tx Tx) error {
		if err := tx.PutAssessment(ctx, sampleAssessment("old", "providerEnrollment")); err != nil {
			return err
		}
		return tx.PutRatings(ctx, "old", []models.Rating{sampleRating("r-old", "old", "businessProcess", 1)})
	})
	put(t, db, func(ctx context.Context, tx Tx) error {
		if err := tx.PutAssessment(ctx, sampleAssessment("new", "providerEnrollment")); err != nil {
			return err
		}
		return tx.PutRatings(ctx, "new", []models.Rating{sampleRating("r-new", "new", "businessProcess", 5)})
	})

	all, _ := db.ListAssessments(ctx)
	if len(all) != 1 || all[0].ID != "new" {
		t.Fatalf("assessments = %+v", all)
	}
	rs, _ := db.AllRatings(ctx)
	if len(rs) != 1 || rs[0].ID != "r-new" {
		t.Errorf("ratings = %+v", rs)
	}
}

func TestPutAssessment_IDOwnedByOtherArea(t *testing.T) {
	db := testDB(t)
	put(t, db, func(ctx context.Context, tx Tx) error {
		return tx.PutAssessment(ctx, sampleAssessment("a1", "providerEnrollment"))
	})
	err := db.WithinArea(context.Background(), "claimsPayment", func(tx Tx) error {
		return tx.PutAssessment(context.Background(), sampleAssessment("a1", "claimsPayment"))
	})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestWithinArea_RollsBackOnError(t *testing.T) {
	db := testDB(t)
	boom := errors.New("boom")
	err := db.WithinArea(context.Background(), "providerEnrollment", func(tx Tx) error {
		if err := tx.PutAssessment(context.Background(), sampleAssessment("a1", "providerEnrollment")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if _, err := db.GetAssessment(context.Background(), "providerEnrollment"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("write survived rollback: %v", err)
	}
}

func TestHistory_InsertOnly(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	score := 2.0
	h := models.AssessmentHistory{
		ID:                     "h1",
		CapabilityAssessmentID: "a1",
		CapabilityAreaID:       "providerEnrollment",
		SnapshotDate:           ts,
		Tags:                   []string{"baseline"},
		OverallScore:           &score,
		DimensionScores:        map[string]*float64{"businessArchitecture": &score, "roles": nil},
		Ratings:                []models.HistoricalRating{{DimensionID: "businessArchitecture", AspectID: "businessProcess", CurrentLevel: 2}},
		Fingerprint:            "fp1",
	}
	later := h
	later.ID = "h2"
	later.SnapshotDate = ts.Add(24 * time.Hour)

	put(t, db, func(ctx context.Context, tx Tx) error {
		if err := tx.PutHistory(ctx, h); err != nil {
			return err
		}
		return tx.PutHistory(ctx, later)
	})

	changed := h
	changed.Fingerprint = "tampered"
	err := db.WithinArea(ctx, "providerEnrollment", func(tx Tx) error { return tx.PutHistory(ctx, changed) })
	if !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}

	hs, err := db.ListHistory(ctx, "providerEnrollment")
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(hs) != 2 || hs[0].ID != "h2" {
		t.Fatalf("history = %+v, want newest first", hs)
	}
	if hs[1].Fingerprint != "fp1" {
		t.Error("existing snapshot was overwritten")
	}
	if d := hs[1].DimensionScores["businessArchitecture"]; d == nil || *d != 2.0 {
		t.Errorf("dimension scores = %v", hs[1].DimensionScores)
	}
	if _, ok := hs[1].DimensionScores["roles"]; !ok {
		t.Error("nil dimension score should round-trip as a present key")
	}
}

func TestHistory_CarriesLifecycleAndAttachments(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	finalized := ts.Add(2 * time.Hour)
	created := ts.Add(-48 * time.Hour)
	h := models.AssessmentHistory{
		ID:                     "h1",
		CapabilityAssessmentID: "a1",
		CapabilityAreaID:       "providerEnrollment",
		SnapshotDate:           finalized,
		CreatedAt:              &created,
		FinalizedAt:            &finalized,
		Status:                 models.StatusFinalized,
		Ratings: []models.HistoricalRating{{
			RatingID:      "r1",
			DimensionID:   "businessArchitecture",
			AspectID:      "businessProcess",
			CurrentLevel:  3,
			AttachmentIDs: []string{"att-1"},
		}},
	}
	bare := models.AssessmentHistory{ID: "h0", CapabilityAreaID: "providerEnrollment", SnapshotDate: ts}

	put(t, db, func(ctx context.Context, tx Tx) error {
		if err := tx.PutHistory(ctx, h); err != nil {
			return err
		}
		return tx.PutHistory(ctx, bare)
	})

	hs, err := db.ListHistory(ctx, "providerEnrollment")
	if err != nil || len(hs) != 2 {
		t.Fatalf("ListHistory = %d, %v", len(hs), err)
	}
	got := hs[0]
	if got.CreatedAt == nil || !got.CreatedAt.Equal(created) {
		t.Errorf("created at = %v, want %v", got.CreatedAt, created)
	}
	if got.FinalizedAt == nil || !got.FinalizedAt.Equal(finalized) {
		t.Errorf("finalized at = %v, want %v", got.FinalizedAt, finalized)
	}
	r := got.Ratings[0]
	if r.RatingID != "r1" || len(r.AttachmentIDs) != 1 || r.AttachmentIDs[0] != "att-1" {
		t.Errorf("rating = %+v", r)
	}
	if hs[1].CreatedAt != nil || hs[1].FinalizedAt != nil {
		t.Errorf("bare snapshot = %v / %v, want nil", hs[1].CreatedAt, hs[1].FinalizedAt)
	}
}

func TestReplaceTags_KeepsIDs(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	put(t, db, func(ctx context.Context, tx Tx) error {
		return tx.ReplaceTags(ctx, []models.Tag{
			{ID: "t1", Name: "baseline", UsageCount: 2, LastUsed: ts},
			{ID: "t2", Name: "q1", UsageCount: 1, LastUsed: ts},
		})
	})
	put(t, db, func(ctx context.Context, tx Tx) error {
		return tx.ReplaceTags(ctx, []models.Tag{{ID: "fresh", Name: "baseline", UsageCount: 3, LastUsed: ts}})
	})

	tags, err := db.ListTags(ctx)
	if err != nil {
		t.Fatalf("ListTags: %v", err)
	}
	if len(tags) != 1 || tags[0].ID != "t1" || tags[0].UsageCount != 3 {
		t.Errorf("tags = %+v", tags)
	}
}

func TestAttachments(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a := models.Attachment{ID: "att-1", RatingID: "r1", FileName: "evidence.pdf", MimeType: "application/pdf", Size: 42}
	if err := db.PutAttachment(ctx, a); err != nil {
		t.Fatalf("PutAttachment: %v", err)
	}
	renamed := a
	renamed.FileName = "other.pdf"
	if err := db.PutAttachment(ctx, renamed); err != nil {
		t.Fatalf("second PutAttachment: %v", err)
	}
	got, err := db.GetAttachment(ctx, "att-1")
	if err != nil {
		t.Fatalf("GetAttachment: %v", err)
	}
	if got.FileName != "evidence.pdf" || got.Size != 42 {
		t.Errorf("attachment = %+v", got)
	}
	if _, err := db.GetAttachment(ctx, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	all, _ := db.ListAttachments(ctx)
	if len(all) != 1 {
		t.Errorf("attachments = %d", len(all))
	}
}
