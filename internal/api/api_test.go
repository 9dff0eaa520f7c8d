package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/assessment"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/testutil"
)

const area = "providerEnrollment"

type progressSink struct {
	mu    sync.Mutex
	calls []int
}

func (p *progressSink) PublishProgress(percent int, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, percent)
}

// testEnv builds a service over temp storage and a router with auth
// disabled unless token is non-empty.
func testEnv(t *testing.T, token string, opts ...assessment.Option) (*assessment.Service, http.Handler, *progressSink) {
	t.Helper()
	svc, _, _ := testutil.TestService(t, opts...)
	sink := &progressSink{}
	return svc, NewRouter(svc, token != "", token, nil, sink), sink
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		rd = bytes.NewReader(b)
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func rating(aspect string, level int) map[string]any {
	return map[string]any{"dimensionId": "businessArchitecture", "aspectId": aspect, "currentLevel": level}
}

func TestAuthMiddleware(t *testing.T) {
	_, router, _ := testEnv(t, "s3cret")

	if w := do(t, router, http.MethodGet, "/catalog", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/catalog", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/catalog", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token status = %d", w.Code)
	}
}

func TestCatalog(t *testing.T) {
	_, router, _ := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/catalog", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	got := decode[CatalogResponse](t, w)
	if got.TotalAspects != 27 || len(got.Dimensions) != 5 || len(got.Domains) == 0 {
		t.Errorf("catalog = %d aspects, %d dimensions, %d domains", got.TotalAspects, len(got.Dimensions), len(got.Domains))
	}
}

func TestSaveRatingAndScores(t *testing.T) {
	_, router, _ := testEnv(t, "")

	w := do(t, router, http.MethodPut, "/areas/"+area+"/ratings", rating("businessProcess", 4))
	if w.Code != http.StatusOK {
		t.Fatalf("save status = %d, body = %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodGet, "/areas/"+area+"/scores", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("scores status = %d", w.Code)
	}
	got := decode[assessment.AreaScores](t, w)
	if got.Score.AssessedCount != 1 || got.Score.Completion != 4 || *got.Score.Overall != 4 {
		t.Errorf("score = %+v", got.Score)
	}
}

func TestSaveRating_Rejects(t *testing.T) {
	_, router, _ := testEnv(t, "")
	cases := []struct {
		name string
		path string
		body any
		want int
	}{
		{"bad json", "/areas/" + area + "/ratings", "{", http.StatusBadRequest},
		{"missing aspect", "/areas/" + area + "/ratings", map[string]any{"dimensionId": "roles", "currentLevel": 2}, http.StatusBadRequest},
		{"level out of range", "/areas/" + area + "/ratings", rating("businessProcess", 7), http.StatusBadRequest},
		{"unknown aspect", "/areas/" + area + "/ratings", rating("teleportation", 2), http.StatusBadRequest},
		{"wrong dimension", "/areas/" + area + "/ratings", map[string]any{"dimensionId": "roles", "aspectId": "businessProcess", "currentLevel": 2}, http.StatusBadRequest},
		{"unknown area", "/areas/atlantis/ratings", rating("businessProcess", 2), http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, router, http.MethodPut, tc.path, tc.body)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestFinalizeAndHistory(t *testing.T) {
	_, router, _ := testEnv(t, "")

	if w := do(t, router, http.MethodPost, "/areas/"+area+"/finalize", nil); w.Code != http.StatusNotFound {
		t.Errorf("finalize before rating status = %d", w.Code)
	}
	do(t, router, http.MethodPut, "/areas/"+area+"/ratings", rating("businessProcess", 3))

	w := do(t, router, http.MethodPost, "/areas/"+area+"/finalize", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("finalize status = %d, body = %s", w.Code, w.Body.String())
	}
	res := decode[assessment.FinalizeResult](t, w)
	if res.Snapshot == nil || res.Assessment.Status != "finalized" {
		t.Errorf("finalize = %+v", res)
	}

	w = do(t, router, http.MethodGet, "/areas/"+area+"/history", nil)
	var body struct {
		History []json.RawMessage `json:"history"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.History) != 1 {
		t.Errorf("history = %d entries", len(body.History))
	}
}

func TestRollup(t *testing.T) {
	_, router, _ := testEnv(t, "")
	do(t, router, http.MethodPut, "/areas/"+area+"/ratings", rating("businessProcess", 2))
	do(t, router, http.MethodPost, "/areas/"+area+"/finalize", nil)

	w := do(t, router, http.MethodGet, "/rollup", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"domainId":"providerManagement"`) {
		t.Errorf("rollup = %s", w.Body.String())
	}
}

func TestTags(t *testing.T) {
	_, router, _ := testEnv(t, "")
	do(t, router, http.MethodPut, "/areas/"+area+"/ratings", rating("businessProcess", 2))

	if w := do(t, router, http.MethodPut, "/areas/"+area+"/tags", map[string]any{"tags": []string{"  "}}); w.Code != http.StatusBadRequest {
		t.Errorf("blank tag status = %d", w.Code)
	}
	if w := do(t, router, http.MethodPut, "/areas/"+area+"/tags", map[string]any{"tags": []string{"q1", "baseline"}}); w.Code != http.StatusOK {
		t.Fatalf("set tags status = %d, body = %s", w.Code, w.Body.String())
	}
	w := do(t, router, http.MethodGet, "/tags", nil)
	if !strings.Contains(w.Body.String(), `"name":"baseline"`) {
		t.Errorf("tags = %s", w.Body.String())
	}
}

func TestExportImport(t *testing.T) {
	_, src, _ := testEnv(t, "")
	do(t, src, http.MethodPut, "/areas/"+area+"/ratings", rating("businessProcess", 3))
	do(t, src, http.MethodPut, "/areas/"+area+"/ratings", rating("businessRules", 3))
	do(t, src, http.MethodPut, "/areas/"+area+"/ratings", rating("businessCapabilityModel", 4))

	for _, format := range []string{"json", "zip"} {
		t.Run(format, func(t *testing.T) {
			exp := do(t, src, http.MethodGet, "/export?format="+format, nil)
			if exp.Code != http.StatusOK {
				t.Fatalf("export status = %d", exp.Code)
			}
			if cd := exp.Header().Get("Content-Disposition"); !strings.Contains(cd, "."+format) {
				t.Errorf("content disposition = %q", cd)
			}
			payload := exp.Body.Bytes()

			_, dst, sink := testEnv(t, "")
			preview := decode[assessment.Report](t, do(t, dst, http.MethodPost, "/import?dryRun=true", payload))
			if !preview.DryRun || preview.Summary.ImportedAsCurrent != 1 {
				t.Errorf("preview = %+v", preview)
			}

			w := do(t, dst, http.MethodPost, "/import", payload)
			if w.Code != http.StatusOK {
				t.Fatalf("import status = %d, body = %s", w.Code, w.Body.String())
			}
			report := decode[assessment.Report](t, w)
			if report.Summary.ImportedAsCurrent != 1 || len(report.Items) != 1 || report.Items[0].Disposition != "imported_current" {
				t.Errorf("report = %+v", report)
			}
			if len(sink.calls) == 0 || sink.calls[len(sink.calls)-1] != 100 {
				t.Errorf("progress = %v", sink.calls)
			}

			scores := decode[assessment.AreaScores](t, do(t, dst, http.MethodGet, "/areas/"+area+"/scores", nil))
			if scores.Score.Overall == nil || *scores.Score.Overall != 3.3 {
				t.Errorf("imported overall = %v", scores.Score.Overall)
			}

			again := decode[assessment.Report](t, do(t, dst, http.MethodPost, "/import", payload))
			if again.Summary.Skipped != 1 {
				t.Errorf("second import = %+v", again.Summary)
			}
		})
	}
}

func TestExport_BadFormat(t *testing.T) {
	_, router, _ := testEnv(t, "")
	if w := do(t, router, http.MethodGet, "/export?format=xml", nil); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestImport_InvalidBody(t *testing.T) {
	_, router, _ := testEnv(t, "")
	for _, body := range []string{"not json", `{"version":"2.0","metadata":{}}`, "PK\x03\x04garbage"} {
		if w := do(t, router, http.MethodPost, "/import", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %q status = %d", body, w.Code)
		}
	}
}

func TestBackups(t *testing.T) {
	_, router, _ := testEnv(t, "")
	do(t, router, http.MethodPut, "/areas/"+area+"/ratings", rating("businessProcess", 3))

	w := do(t, router, http.MethodPost, "/backups", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	info := decode[BackupInfo](t, w)

	w = do(t, router, http.MethodGet, "/backups", nil)
	if !strings.Contains(w.Body.String(), info.Key) {
		t.Errorf("list = %s", w.Body.String())
	}

	w = do(t, router, http.MethodPost, "/backups/restore", RestoreRequest{Key: info.Key})
	if w.Code != http.StatusOK {
		t.Fatalf("restore status = %d, body = %s", w.Code, w.Body.String())
	}
	if r := decode[assessment.Report](t, w); r.Summary.Skipped != 1 {
		t.Errorf("restore = %+v", r.Summary)
	}

	if w := do(t, router, http.MethodPost, "/backups/restore", RestoreRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty key status = %d", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/backups/restore", RestoreRequest{Key: "backups/nope.zip"}); w.Code != http.StatusNotFound {
		t.Errorf("missing backup status = %d", w.Code)
	}
}

func TestAttachments(t *testing.T) {
	_, router, _ := testEnv(t, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("ratingId", "r1")
	fw, _ := mw.CreateFormFile("file", "evidence.txt")
	fw.Write([]byte("signed policy"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", w.Code, w.Body.String())
	}
	var meta struct {
		ID       string `json:"id"`
		FileName string `json:"fileName"`
		Size     int64  `json:"size"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &meta); err != nil {
		t.Fatal(err)
	}
	if meta.FileName != "evidence.txt" || meta.Size != 13 {
		t.Errorf("meta = %+v", meta)
	}

	w = do(t, router, http.MethodGet, "/attachments/"+meta.ID, nil)
	if w.Code != http.StatusOK || w.Body.String() != "signed policy" {
		t.Errorf("download = %d %q", w.Code, w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "evidence.txt") {
		t.Errorf("content disposition = %q", cd)
	}

	if w := do(t, router, http.MethodGet, "/attachments/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/attachments", "nope"); w.Code != http.StatusBadRequest {
		t.Errorf("non-multipart status = %d", w.Code)
	}
}
