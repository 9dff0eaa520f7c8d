package bundle

import (
	"archive/zip"
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/apperr"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/models"
)

var exportedAt = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func sampleBundle() *Bundle {
	return New(exportedAt,
		[]models.CapabilityAssessment{{ID: "a1", CapabilityAreaID: "providerEnrollment", Status: models.StatusFinalized, UpdatedAt: exportedAt}},
		[]models.Rating{{ID: "r1", AssessmentID: "a1", DimensionID: "roles", AspectID: "roleDefinition", CurrentLevel: 3, AttachmentIDs: []string{"att-1"}}},
		nil,
		[]models.Tag{{ID: "t1", Name: "baseline", UsageCount: 1, LastUsed: exportedAt}},
		[]models.Attachment{{ID: "att-1", RatingID: "r1", FileName: "evidence.pdf", Size: 5}},
	)
}

func TestNew_FillsMetadata(t *testing.T) {
	b := sampleBundle()
	want := Metadata{AssessmentCount: 1, RatingCount: 1, HistoryCount: 0, TagCount: 1, AttachmentCount: 1}
	if b.Metadata != want {
		t.Errorf("metadata = %+v, want %+v", b.Metadata, want)
	}
	if b.History == nil {
		t.Error("nil slices should encode as empty arrays")
	}
}

func TestEncodeDecode(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, sampleBundle()); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(buf.String(), `"history": []`) {
		t.Errorf("empty history not encoded as array:\n%s", buf.String())
	}
	b, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if b.Ratings[0].AttachmentIDs[0] != "att-1" || !b.ExportedAt.Equal(exportedAt) {
		t.Errorf("decoded = %+v", b)
	}
}

func TestDecode_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":        `{"version":`,
		"no version":      `{"metadata":{}}`,
		"future version":  `{"version":"2.0","metadata":{}}`,
		"count mismatch":  `{"version":"1.0","metadata":{"assessmentCount":2},"assessments":[{"id":"a"}]}`,
		"attachment path": `{"version":"1.0","metadata":{"attachmentCount":1},"attachments":[{"id":"../x"}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(strings.NewReader(doc)); !errors.Is(err, apperr.ErrInvalidBundle) {
				t.Errorf("err = %v, want ErrInvalidBundle", err)
			}
		})
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteArchive(&buf, sampleBundle(), map[string][]byte{"att-1": []byte("%PDF-")}); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}
	a, err := ReadArchive(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("ReadArchive: %v", err)
	}
	if a.Bundle.Metadata.AssessmentCount != 1 {
		t.Errorf("metadata = %+v", a.Bundle.Metadata)
	}
	if string(a.Attachments["att-1"]) != "%PDF-" {
		t.Errorf("attachment = %q", a.Attachments["att-1"])
	}
}

func TestWriteArchive_MissingContent(t *testing.T) {
	if err := WriteArchive(&bytes.Buffer{}, sampleBundle(), nil); err == nil {
		t.Error("expected error for attachment without content")
	}
}

func TestReadArchive_MissingPieces(t *testing.T) {
	t.Run("no data.json", func(t *testing.T) {
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		w, _ := zw.Create("readme.txt")
		_, _ = w.Write([]byte("hi"))
		_ = zw.Close()
		if _, err := ReadArchive(bytes.NewReader(buf.Bytes()), int64(buf.Len())); !errors.Is(err, apperr.ErrInvalidBundle) {
			t.Errorf("err = %v", err)
		}
	})
	t.Run("missing attachment", func(t *testing.T) {
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		w, _ := zw.Create(DataFile)
		_ = Encode(w, sampleBundle())
		_ = zw.Close()
		if _, err := ReadArchive(bytes.NewReader(buf.Bytes()), int64(buf.Len())); !errors.Is(err, apperr.ErrInvalidBundle) {
			t.Errorf("err = %v", err)
		}
	})
	t.Run("not a zip", func(t *testing.T) {
		data := []byte("plain text")
		if _, err := ReadArchive(bytes.NewReader(data), int64(len(data))); !errors.Is(err, apperr.ErrInvalidBundle) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestRead_SniffsFormat(t *testing.T) {
	var js bytes.Buffer
	_ = Encode(&js, sampleBundle())
	a, err := Read(js.Bytes())
	if err != nil {
		t.Fatalf("Read json: %v", err)
	}
	if len(a.Attachments) != 0 || a.Bundle.Metadata.RatingCount != 1 {
		t.Errorf("json archive = %+v", a)
	}

	var zb bytes.Buffer
	_ = WriteArchive(&zb, sampleBundle(), map[string][]byte{"att-1": []byte("x")})
	a, err = Read(zb.Bytes())
	if err != nil {
		t.Fatalf("Read zip: %v", err)
	}
	if string(a.Attachments["att-1"]) != "x" {
		t.Errorf("zip attachments = %v", a.Attachments)
	}
}

func TestWriteFile_PicksFormatByExtension(t *testing.T) {
	dir := t.TempDir()
	att := map[string][]byte{"att-1": []byte("x")}
	for _, name := range []string{"out.json", "out.ZIP"} {
		p := filepath.Join(dir, name)
		if err := WriteFile(p, sampleBundle(), att); err != nil {
			t.Fatalf("WriteFile(%s): %v", name, err)
		}
		a, err := ReadFile(p)
		if err != nil {
			t.Fatalf("ReadFile(%s): %v", name, err)
		}
		wantAtt := 0
		if name == "out.ZIP" {
			wantAtt = 1
		}
		if len(a.Attachments) != wantAtt {
			t.Errorf("%s: attachments = %d, want %d", name, len(a.Attachments), wantAtt)
		}
	}
}
